package dto

import (
	"encoding/json"
	"time"
)

type SessionResponse struct {
	ID           string          `json:"id"`
	DeviceInfo   json.RawMessage `json:"device_info"`
	UserAgent    string          `json:"user_agent"`
	IP           string          `json:"ip"`
	CreatedAt    time.Time       `json:"created_at"`
	LastActiveAt time.Time       `json:"last_active_at"`
	Current      bool            `json:"current"`
}

type SessionListResponse struct {
	Sessions []SessionResponse `json:"sessions"`
}

type RevokeResponse struct {
	Message  string `json:"message"`
	Sessions int64  `json:"sessions"`
}

type MeResponse struct {
	AccountID  string  `json:"account_id"`
	ProfileID  string  `json:"profile_id"`
	Email      string  `json:"email"`
	Username   *string `json:"username"`
	AuthMethod string  `json:"auth_method"`
}

type UpdateProfileRequest struct {
	Username *string `json:"username"`
}
