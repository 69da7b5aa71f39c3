package models

import "time"

// RevokedToken is a blacklist entry. ExpiresAt mirrors the token's own
// expiry; the row is prunable after that.
type RevokedToken struct {
	TokenID   string    `gorm:"size:36;primaryKey" json:"token_id"`
	UserID    string    `gorm:"size:36;not null;index" json:"user_id"`
	Kind      string    `gorm:"size:10;not null" json:"kind"`
	Reason    string    `gorm:"size:50;not null" json:"reason"`
	ExpiresAt time.Time `gorm:"not null;index" json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

func (RevokedToken) TableName() string {
	return "revoked_tokens"
}

// SubjectRevocation is the per-account revocation watermark. Tokens minted
// with a generation lower than Generation are revoked.
type SubjectRevocation struct {
	UserID     string    `gorm:"size:36;primaryKey" json:"user_id"`
	Generation int       `gorm:"not null;default:0" json:"generation"`
	RevokedAt  time.Time `json:"revoked_at"`
}

func (SubjectRevocation) TableName() string {
	return "subject_revocations"
}
