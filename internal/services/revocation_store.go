package services

import (
	"context"
	"time"

	"github.com/ahmetcoskunkizilkaya/powder-backend/internal/clock"
	"github.com/ahmetcoskunkizilkaya/powder-backend/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Revocation reasons recorded on blacklist entries.
const (
	ReasonRotated       = "rotated"
	ReasonLogout        = "logout"
	ReasonReuseDetected = "reuse-detected"
	ReasonRevokeAll     = "revoke-all"
	ReasonAdmin         = "admin"
)

// RevocationStore is the durable token blacklist plus the per-subject
// revocation watermark.
type RevocationStore interface {
	// Add is idempotent: re-adding a token id is not an error.
	Add(ctx context.Context, entry models.RevokedToken) error
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
	// RevokeAllForSubject bumps the subject generation and blacklists every
	// outstanding refresh token of the subject. Returns the number of
	// refresh tokens newly blacklisted.
	RevokeAllForSubject(ctx context.Context, subject, reason string) (int64, error)
	Generation(ctx context.Context, subject string) (int, error)
	Prune(ctx context.Context) (int64, error)
}

type GormRevocationStore struct {
	db    *gorm.DB
	clock clock.Clock
}

func NewGormRevocationStore(db *gorm.DB, clk clock.Clock) *GormRevocationStore {
	return &GormRevocationStore{db: db, clock: clk}
}

func (s *GormRevocationStore) Add(ctx context.Context, entry models.RevokedToken) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.clock.Now()
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&entry).Error
	if err != nil {
		return upstream("revocation add", err)
	}
	return nil
}

func (s *GormRevocationStore) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).
		Model(&models.RevokedToken{}).
		Where("token_id = ?", tokenID).
		Count(&n).Error
	if err != nil {
		return false, upstream("revocation lookup", err)
	}
	return n > 0, nil
}

func (s *GormRevocationStore) RevokeAllForSubject(ctx context.Context, subject, reason string) (int64, error) {
	now := s.clock.Now()
	var revoked int64

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		watermark := models.SubjectRevocation{UserID: subject, Generation: 1, RevokedAt: now}
		err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"generation": gorm.Expr("subject_revocations.generation + 1"),
				"revoked_at": now,
			}),
		}).Create(&watermark).Error
		if err != nil {
			return err
		}

		var outstanding []models.RotationRecord
		if err := tx.Where("user_id = ? AND child_id IS NULL AND expires_at > ?", subject, now).
			Find(&outstanding).Error; err != nil {
			return err
		}
		if len(outstanding) == 0 {
			return nil
		}

		entries := make([]models.RevokedToken, 0, len(outstanding))
		for _, rec := range outstanding {
			entries = append(entries, models.RevokedToken{
				TokenID:   rec.TokenID,
				UserID:    subject,
				Kind:      string(TokenKindRefresh),
				Reason:    reason,
				ExpiresAt: rec.ExpiresAt,
				CreatedAt: now,
			})
		}
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&entries)
		if res.Error != nil {
			return res.Error
		}
		revoked = res.RowsAffected
		return nil
	})
	if err != nil {
		return 0, upstream("revoke all for subject", err)
	}
	return revoked, nil
}

func (s *GormRevocationStore) Generation(ctx context.Context, subject string) (int, error) {
	var gens []int
	err := s.db.WithContext(ctx).
		Model(&models.SubjectRevocation{}).
		Where("user_id = ?", subject).
		Limit(1).
		Pluck("generation", &gens).Error
	if err != nil {
		return 0, upstream("revocation generation", err)
	}
	if len(gens) == 0 {
		return 0, nil
	}
	return gens[0], nil
}

// Prune deletes entries whose token would have expired anyway.
func (s *GormRevocationStore) Prune(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("expires_at <= ?", s.clock.Now()).
		Delete(&models.RevokedToken{})
	if res.Error != nil {
		return 0, upstream("revocation prune", res.Error)
	}
	return res.RowsAffected, nil
}

// revokedFor reports whether claims were invalidated either individually or
// by a subject-wide revocation issued after they were minted.
func revokedFor(ctx context.Context, store RevocationStore, claims *Claims) (bool, string, error) {
	revoked, err := store.IsRevoked(ctx, claims.TokenID())
	if err != nil {
		return false, "", err
	}
	if revoked {
		return true, "blacklisted", nil
	}
	gen, err := store.Generation(ctx, claims.Subject)
	if err != nil {
		return false, "", err
	}
	if claims.Generation < gen {
		return true, "subject-revoked", nil
	}
	return false, "", nil
}

func revocationEntry(claims *Claims, reason string, now time.Time) models.RevokedToken {
	return models.RevokedToken{
		TokenID:   claims.TokenID(),
		UserID:    claims.Subject,
		Kind:      string(claims.Kind),
		Reason:    reason,
		ExpiresAt: claims.ExpiresAtTime(),
		CreatedAt: now,
	}
}
