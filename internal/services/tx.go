package services

import (
	"context"

	"github.com/ahmetcoskunkizilkaya/powder-backend/internal/clock"
	"gorm.io/gorm"
)

// AuthStores groups the durable stores the lifecycle service writes to.
type AuthStores struct {
	Revocations RevocationStore
	Rotations   RotationLedger
	Sessions    SessionRegistry
}

// TxRunner hides transaction begin/commit/rollback from the service. The
// stores passed to fn are bound to the transaction.
type TxRunner interface {
	WithinTx(ctx context.Context, fn func(stores AuthStores) error) error
}

func NewGormAuthStores(db *gorm.DB, clk clock.Clock) AuthStores {
	return AuthStores{
		Revocations: NewGormRevocationStore(db, clk),
		Rotations:   NewGormRotationLedger(db, clk),
		Sessions:    NewGormSessionRegistry(db, clk),
	}
}

type GormTxRunner struct {
	db    *gorm.DB
	clock clock.Clock
}

func NewGormTxRunner(db *gorm.DB, clk clock.Clock) *GormTxRunner {
	return &GormTxRunner{db: db, clock: clk}
}

func (r *GormTxRunner) WithinTx(ctx context.Context, fn func(stores AuthStores) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(NewGormAuthStores(tx, r.clock))
	})
}
