// Package throttle limits repeated login attempts per account across all
// service instances.
package throttle

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisLimiter counts attempts per key in a fixed window stored in Redis.
// Every attempt pushes the window's expiry forward, so a client that keeps
// failing stays locked out.
type RedisLimiter struct {
	client      *redis.Client
	prefix      string
	maxAttempts int
	window      time.Duration
}

// NewRedisLimiter returns a limiter allowing maxAttempts per window for each key.
func NewRedisLimiter(client *redis.Client, prefix string, maxAttempts int, window time.Duration) *RedisLimiter {
	if prefix == "" {
		prefix = "throttle"
	}
	return &RedisLimiter{client: client, prefix: prefix, maxAttempts: maxAttempts, window: window}
}

// NewClient parses a redis:// URL and returns a connected client.
func NewClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

func (l *RedisLimiter) key(k string) string {
	return l.prefix + ":" + strings.ToLower(k)
}

// Allow records one attempt for key and reports whether it is within the
// limit. On Redis errors it allows the attempt and returns the error so the
// caller can log it.
func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	k := l.key(key)
	pipe := l.client.Pipeline()
	incr := pipe.Incr(ctx, k)
	pipe.Expire(ctx, k, l.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return true, fmt.Errorf("redis error: %w", err)
	}
	return incr.Val() <= int64(l.maxAttempts), nil
}

// Reset clears the counter for key, e.g. after a successful login.
func (l *RedisLimiter) Reset(ctx context.Context, key string) error {
	return l.client.Del(ctx, l.key(key)).Err()
}
