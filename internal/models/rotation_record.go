package models

import "time"

// RotationRecord is one node of a refresh-token family. ChildID is set
// exactly once, when the token is redeemed.
type RotationRecord struct {
	TokenID   string    `gorm:"size:36;primaryKey" json:"token_id"`
	UserID    string    `gorm:"size:36;not null;index" json:"user_id"`
	FamilyID  string    `gorm:"size:36;not null;index" json:"family_id"`
	ParentID  *string   `gorm:"size:36;uniqueIndex" json:"parent_id"`
	ChildID   *string   `gorm:"size:36" json:"child_id"`
	ExpiresAt time.Time `gorm:"not null;index" json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

func (RotationRecord) TableName() string {
	return "rotation_records"
}
