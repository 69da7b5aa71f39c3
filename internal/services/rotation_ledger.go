package services

import (
	"context"
	"errors"
	"time"

	"github.com/ahmetcoskunkizilkaya/powder-backend/internal/clock"
	"github.com/ahmetcoskunkizilkaya/powder-backend/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Rotation describes one redemption: TokenID is consumed and ChildID takes
// its place in the same family.
type Rotation struct {
	TokenID        string
	Subject        string
	FamilyID       string
	ParentID       *string
	ChildID        string
	ExpiresAt      time.Time
	ChildExpiresAt time.Time
}

// RotationLedger records refresh-token families as flat rows keyed by
// token id.
type RotationLedger interface {
	RecordIssued(ctx context.Context, rec models.RotationRecord) error
	// RecordRotation claims TokenID for exactly one child. A second claim
	// fails with ErrAlreadyRotated.
	RecordRotation(ctx context.Context, r Rotation) error
	WasUsed(ctx context.Context, tokenID string) (bool, error)
	// FamilyOf returns "" for an unknown token.
	FamilyOf(ctx context.Context, tokenID string) (string, error)
	Prune(ctx context.Context) (int64, error)
}

type GormRotationLedger struct {
	db    *gorm.DB
	clock clock.Clock
}

func NewGormRotationLedger(db *gorm.DB, clk clock.Clock) *GormRotationLedger {
	return &GormRotationLedger{db: db, clock: clk}
}

func (l *GormRotationLedger) RecordIssued(ctx context.Context, rec models.RotationRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = l.clock.Now()
	}
	if err := l.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return upstream("ledger record issued", err)
	}
	return nil
}

func (l *GormRotationLedger) RecordRotation(ctx context.Context, r Rotation) error {
	now := l.clock.Now()
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.RotationRecord{}).
			Where("token_id = ? AND child_id IS NULL", r.TokenID).
			Update("child_id", r.ChildID)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// Either already redeemed or never recorded. Insert-if-absent
			// decides which.
			child := r.ChildID
			res = tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&models.RotationRecord{
				TokenID:   r.TokenID,
				UserID:    r.Subject,
				FamilyID:  r.FamilyID,
				ParentID:  r.ParentID,
				ChildID:   &child,
				ExpiresAt: r.ExpiresAt,
				CreatedAt: now,
			})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return ErrAlreadyRotated
			}
		}

		parent := r.TokenID
		return tx.Create(&models.RotationRecord{
			TokenID:   r.ChildID,
			UserID:    r.Subject,
			FamilyID:  r.FamilyID,
			ParentID:  &parent,
			ExpiresAt: r.ChildExpiresAt,
			CreatedAt: now,
		}).Error
	})
	if err != nil {
		if errors.Is(err, ErrAlreadyRotated) || errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrAlreadyRotated
		}
		return upstream("ledger record rotation", err)
	}
	return nil
}

func (l *GormRotationLedger) WasUsed(ctx context.Context, tokenID string) (bool, error) {
	var n int64
	err := l.db.WithContext(ctx).
		Model(&models.RotationRecord{}).
		Where("token_id = ? AND child_id IS NOT NULL", tokenID).
		Count(&n).Error
	if err != nil {
		return false, upstream("ledger was used", err)
	}
	return n > 0, nil
}

func (l *GormRotationLedger) FamilyOf(ctx context.Context, tokenID string) (string, error) {
	var rec models.RotationRecord
	err := l.db.WithContext(ctx).
		Select("family_id").
		Where("token_id = ?", tokenID).
		Take(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", nil
		}
		return "", upstream("ledger family of", err)
	}
	return rec.FamilyID, nil
}

func (l *GormRotationLedger) Prune(ctx context.Context) (int64, error) {
	res := l.db.WithContext(ctx).
		Where("expires_at <= ?", l.clock.Now()).
		Delete(&models.RotationRecord{})
	if res.Error != nil {
		return 0, upstream("ledger prune", res.Error)
	}
	return res.RowsAffected, nil
}
