package app

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisPinger is the part of a Redis client readiness needs.
type RedisPinger interface {
	Ping(ctx context.Context) *redis.StatusCmd
}

// NewRedisClient parses a redis:// or rediss:// URL. An empty URL means
// Redis is not configured and yields a nil client.
func NewRedisClient(url string) (*redis.Client, error) {
	if url == "" {
		return nil, nil
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("op=app.NewRedisClient: %w", err)
	}
	return redis.NewClient(opts), nil
}

// BuildRedisCheck returns the readiness probe for rdb, or nil when Redis is
// not configured so /readyz skips it.
func BuildRedisCheck(rdb RedisPinger) func(ctx context.Context) error {
	if rdb == nil {
		return nil
	}
	return func(ctx context.Context) error {
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}
		return nil
	}
}
