package dto

import "time"

type RegisterRequest struct {
	Email    string            `json:"email"`
	Password string            `json:"password"`
	Device   map[string]string `json:"device,omitempty"`
}

type LoginRequest struct {
	Email    string            `json:"email"`
	Password string            `json:"password"`
	Device   map[string]string `json:"device,omitempty"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type AppleSignInRequest struct {
	IdentityToken string            `json:"identity_token"`
	AuthCode      string            `json:"authorization_code"`
	Email         string            `json:"email,omitempty"`
	Device        map[string]string `json:"device,omitempty"`
}

type TokenResponse struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
	SessionID        string    `json:"session_id"`
}

type AuthResponse struct {
	TokenResponse
	User UserResponse `json:"user"`
}

type UserResponse struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

type ErrorResponse struct {
	Error   bool   `json:"error"`
	Message string `json:"message"`
}

type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	DB        string `json:"db"`
}
