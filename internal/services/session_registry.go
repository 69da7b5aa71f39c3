package services

import (
	"context"
	"errors"

	"github.com/ahmetcoskunkizilkaya/powder-backend/internal/clock"
	"github.com/ahmetcoskunkizilkaya/powder-backend/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type SessionRegistry interface {
	Create(ctx context.Context, s *models.Session) error
	Get(ctx context.Context, sessionID string) (*models.Session, error)
	// UpdateCurrentToken moves the session pointer from previous to next.
	// Returns ErrSessionNotFound if the session is gone or already moved on.
	UpdateCurrentToken(ctx context.Context, sessionID, previous, next string) error
	ListForSubject(ctx context.Context, subject string) ([]models.Session, error)
	// End deletes one session and returns it.
	End(ctx context.Context, sessionID string) (*models.Session, error)
	RevokeAllForSubject(ctx context.Context, subject string) (int64, error)
	Touch(ctx context.Context, sessionID string) error
}

type GormSessionRegistry struct {
	db    *gorm.DB
	clock clock.Clock
}

func NewGormSessionRegistry(db *gorm.DB, clk clock.Clock) *GormSessionRegistry {
	return &GormSessionRegistry{db: db, clock: clk}
}

func (r *GormSessionRegistry) Create(ctx context.Context, s *models.Session) error {
	now := r.clock.Now()
	s.CreatedAt = now
	s.LastActiveAt = now
	if len(s.DeviceInfo) == 0 {
		s.DeviceInfo = []byte("{}")
	}
	if err := r.db.WithContext(ctx).Create(s).Error; err != nil {
		return upstream("session create", err)
	}
	return nil
}

func (r *GormSessionRegistry) Get(ctx context.Context, sessionID string) (*models.Session, error) {
	var s models.Session
	if err := r.db.WithContext(ctx).Where("id = ?", sessionID).Take(&s).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, upstream("session get", err)
	}
	return &s, nil
}

func (r *GormSessionRegistry) UpdateCurrentToken(ctx context.Context, sessionID, previous, next string) error {
	res := r.db.WithContext(ctx).
		Model(&models.Session{}).
		Where("id = ? AND current_token_id = ?", sessionID, previous).
		Updates(map[string]interface{}{
			"current_token_id": next,
			"last_active_at":   r.clock.Now(),
		})
	if res.Error != nil {
		return upstream("session update token", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func (r *GormSessionRegistry) ListForSubject(ctx context.Context, subject string) ([]models.Session, error) {
	var sessions []models.Session
	err := r.db.WithContext(ctx).
		Where("user_id = ?", subject).
		Order("last_active_at DESC").
		Find(&sessions).Error
	if err != nil {
		return nil, upstream("session list", err)
	}
	return sessions, nil
}

func (r *GormSessionRegistry) End(ctx context.Context, sessionID string) (*models.Session, error) {
	var ended []models.Session
	res := r.db.WithContext(ctx).
		Clauses(clause.Returning{}).
		Where("id = ?", sessionID).
		Delete(&ended)
	if res.Error != nil {
		return nil, upstream("session end", res.Error)
	}
	if len(ended) == 0 {
		return nil, ErrSessionNotFound
	}
	return &ended[0], nil
}

func (r *GormSessionRegistry) RevokeAllForSubject(ctx context.Context, subject string) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("user_id = ?", subject).
		Delete(&models.Session{})
	if res.Error != nil {
		return 0, upstream("session revoke all", res.Error)
	}
	return res.RowsAffected, nil
}

func (r *GormSessionRegistry) Touch(ctx context.Context, sessionID string) error {
	err := r.db.WithContext(ctx).
		Model(&models.Session{}).
		Where("id = ?", sessionID).
		UpdateColumn("last_active_at", r.clock.Now()).Error
	if err != nil {
		return upstream("session touch", err)
	}
	return nil
}
