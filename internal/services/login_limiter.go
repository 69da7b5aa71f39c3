package services

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// AttemptLimiter counts login attempts per key.
type AttemptLimiter interface {
	// Allow records one attempt and reports whether it is within the limit.
	Allow(ctx context.Context, key string) (bool, error)
	Reset(ctx context.Context, key string) error
}

type RedisLoginLimiter struct {
	client *redis.Client
	limit  int
	window time.Duration
}

func NewRedisLoginLimiter(client *redis.Client, limit int, window time.Duration) *RedisLoginLimiter {
	return &RedisLoginLimiter{client: client, limit: limit, window: window}
}

func loginAttemptKey(key string) string {
	return "login:attempts:" + key
}

func (l *RedisLoginLimiter) Allow(ctx context.Context, key string) (bool, error) {
	k := loginAttemptKey(key)

	pipe := l.client.TxPipeline()
	incr := pipe.Incr(ctx, k)
	pipe.ExpireNX(ctx, k, l.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return true, fmt.Errorf("login limiter: %w", err)
	}
	return incr.Val() <= int64(l.limit), nil
}

func (l *RedisLoginLimiter) Reset(ctx context.Context, key string) error {
	return l.client.Del(ctx, loginAttemptKey(key)).Err()
}
