package services

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(t *testing.T, limit int) (*RedisLoginLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisLoginLimiter(client, limit, 15*time.Minute), mr
}

func TestRedisLoginLimiter_AllowsUpToLimit(t *testing.T) {
	limiter, mr := newTestLimiter(t, 3)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		allowed, err := limiter.Allow(ctx, "rider@powder.app")
		require.NoError(t, err)
		assert.True(t, allowed, "attempt %d", i+1)
	}
	allowed, err := limiter.Allow(ctx, "rider@powder.app")
	require.NoError(t, err)
	assert.False(t, allowed)

	// Other keys are counted separately.
	allowed, err = limiter.Allow(ctx, "other@powder.app")
	require.NoError(t, err)
	assert.True(t, allowed)

	assert.Equal(t, 15*time.Minute, mr.TTL("login:attempts:rider@powder.app"))
}

func TestRedisLoginLimiter_WindowDoesNotSlide(t *testing.T) {
	limiter, mr := newTestLimiter(t, 5)
	ctx := context.Background()

	_, err := limiter.Allow(ctx, "k")
	require.NoError(t, err)
	mr.FastForward(10 * time.Minute)
	_, err = limiter.Allow(ctx, "k")
	require.NoError(t, err)

	assert.Equal(t, 5*time.Minute, mr.TTL("login:attempts:k"))

	mr.FastForward(5 * time.Minute)
	assert.False(t, mr.Exists("login:attempts:k"))
}

func TestRedisLoginLimiter_Reset(t *testing.T) {
	limiter, mr := newTestLimiter(t, 1)
	ctx := context.Background()

	_, err := limiter.Allow(ctx, "k")
	require.NoError(t, err)
	require.NoError(t, limiter.Reset(ctx, "k"))
	assert.False(t, mr.Exists("login:attempts:k"))

	allowed, err := limiter.Allow(ctx, "k")
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestRedisLoginLimiter_FailsOpen(t *testing.T) {
	limiter, mr := newTestLimiter(t, 1)
	mr.Close()

	allowed, err := limiter.Allow(context.Background(), "k")
	assert.Error(t, err)
	assert.True(t, allowed)
}
