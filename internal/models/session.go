package models

import (
	"time"

	"gorm.io/datatypes"
)

// Session is one continuous login. Rotation moves CurrentTokenID forward
// in place.
type Session struct {
	ID             string         `gorm:"size:36;primaryKey" json:"id"`
	UserID         string         `gorm:"size:36;not null;index" json:"user_id"`
	CurrentTokenID string         `gorm:"size:36;not null" json:"-"`
	FamilyID       string         `gorm:"size:36;not null;uniqueIndex" json:"-"`
	DeviceInfo     datatypes.JSON `gorm:"type:jsonb;default:'{}'" json:"device_info"`
	UserAgent      string         `gorm:"size:512" json:"user_agent"`
	IP             string         `gorm:"size:64" json:"ip"`
	CreatedAt      time.Time      `json:"created_at"`
	LastActiveAt   time.Time      `gorm:"index" json:"last_active_at"`
}

func (Session) TableName() string {
	return "auth_sessions"
}
