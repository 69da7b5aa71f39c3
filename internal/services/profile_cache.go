package services

import (
	"fmt"
	"time"

	"github.com/ahmetcoskunkizilkaya/powder-backend/internal/clock"
	"github.com/dgraph-io/ristretto/v2"
)

type profileEntry struct {
	ref      ProfileRef
	cachedAt time.Time
}

// ProfileCache maps account id to profile id for a bounded time. Safe for
// concurrent use.
type ProfileCache struct {
	entries *ristretto.Cache[string, profileEntry]
	ttl     time.Duration
	clock   clock.Clock
}

func NewProfileCache(maxEntries int64, ttl time.Duration, clk clock.Clock) (*ProfileCache, error) {
	if maxEntries <= 0 {
		maxEntries = 10000
	}
	entries, err := ristretto.NewCache(&ristretto.Config[string, profileEntry]{
		NumCounters:        maxEntries * 10,
		MaxCost:            maxEntries,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize profile cache: %w", err)
	}
	return &ProfileCache{entries: entries, ttl: ttl, clock: clk}, nil
}

// Get returns false on a miss or when the entry is older than the TTL.
func (c *ProfileCache) Get(accountID string) (*ProfileRef, bool) {
	entry, ok := c.entries.Get(accountID)
	if !ok {
		return nil, false
	}
	if c.clock.Now().Sub(entry.cachedAt) >= c.ttl {
		return nil, false
	}
	ref := entry.ref
	return &ref, true
}

func (c *ProfileCache) Put(accountID string, ref ProfileRef) {
	// Physical TTL is a little longer than the logical one so the clock
	// check above decides freshness.
	c.entries.SetWithTTL(accountID, profileEntry{ref: ref, cachedAt: c.clock.Now()}, 1, 2*c.ttl)
	c.entries.Wait()
}

func (c *ProfileCache) Invalidate(accountID string) {
	c.entries.Del(accountID)
}

func (c *ProfileCache) Close() {
	c.entries.Close()
}
