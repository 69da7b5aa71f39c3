package services

import (
	"testing"
	"time"

	"github.com/ahmetcoskunkizilkaya/powder-backend/internal/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProfileCache_LogicalTTL(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC))
	cache, err := NewProfileCache(100, time.Minute, clk)
	require.NoError(t, err)
	defer cache.Close()

	name := "shredder"
	cache.Put("acct-1", ProfileRef{ProfileID: "prof-1", Username: &name})

	ref, ok := cache.Get("acct-1")
	require.True(t, ok)
	assert.Equal(t, "prof-1", ref.ProfileID)
	require.NotNil(t, ref.Username)
	assert.Equal(t, "shredder", *ref.Username)

	clk.Advance(59 * time.Second)
	_, ok = cache.Get("acct-1")
	assert.True(t, ok)

	clk.Advance(time.Second)
	_, ok = cache.Get("acct-1")
	assert.False(t, ok)
}

func TestProfileCache_InvalidateAndMiss(t *testing.T) {
	cache, err := NewProfileCache(0, time.Minute, clock.Real())
	require.NoError(t, err)
	defer cache.Close()

	_, ok := cache.Get("unknown")
	assert.False(t, ok)

	cache.Put("acct-1", ProfileRef{ProfileID: "prof-1"})
	cache.Invalidate("acct-1")
	_, ok = cache.Get("acct-1")
	assert.False(t, ok)
}

func TestProfileCache_ReturnsCopy(t *testing.T) {
	cache, err := NewProfileCache(10, time.Minute, clock.Real())
	require.NoError(t, err)
	defer cache.Close()

	cache.Put("acct-1", ProfileRef{ProfileID: "prof-1"})
	ref, ok := cache.Get("acct-1")
	require.True(t, ok)
	ref.ProfileID = "tampered"

	again, ok := cache.Get("acct-1")
	require.True(t, ok)
	assert.Equal(t, "prof-1", again.ProfileID)
}
