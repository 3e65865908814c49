// Package ratelimiter provides a Redis-backed token bucket shared by every
// process that talks to the same Redis.
package ratelimiter

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Limiter decides whether a unit of work under key may run now.
type Limiter interface {
	Allow(ctx context.Context, key string, cost int64) (allowed bool, retryAfter time.Duration, err error)
}

// BucketConfig describes one token bucket. A zero value disables limiting.
type BucketConfig struct {
	Capacity   int64
	RefillRate float64 // tokens per second
}

// Enabled reports whether the bucket limits anything.
func (c BucketConfig) Enabled() bool {
	return c.Capacity > 0 && c.RefillRate > 0
}

// NewBucketConfigFromPerMinute builds a bucket allowing perMinute calls with
// a burst of the same size.
func NewBucketConfigFromPerMinute(perMinute int) BucketConfig {
	if perMinute <= 0 {
		return BucketConfig{}
	}
	return BucketConfig{
		Capacity:   int64(perMinute),
		RefillRate: float64(perMinute) / 60.0,
	}
}

const keyPrefix = "rate:"

// RedisLuaLimiter runs the bucket arithmetic atomically inside Redis.
// Keys without an explicit bucket use the default bucket.
type RedisLuaLimiter struct {
	redis         *redis.Client
	script        *redis.Script
	mu            sync.RWMutex
	buckets       map[string]BucketConfig
	defaultBucket BucketConfig
	now           func() time.Time
}

var _ Limiter = (*RedisLuaLimiter)(nil)

// NewRedisLuaLimiter returns nil when rdb is nil; a nil limiter allows everything.
func NewRedisLuaLimiter(rdb *redis.Client, defaultBucket BucketConfig) *RedisLuaLimiter {
	if rdb == nil {
		return nil
	}
	return &RedisLuaLimiter{
		redis:         rdb,
		script:        redis.NewScript(luaTokenBucketScript),
		buckets:       map[string]BucketConfig{},
		defaultBucket: defaultBucket,
		now:           time.Now,
	}
}

// Returns {allowed, remaining_tokens, retry_after_ms}. Redis truncates Lua
// numbers to integers, so the wait is reported in milliseconds.
const luaTokenBucketScript = `
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local refill_rate = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local cost = tonumber(ARGV[4])

local tokens = capacity
local last_refill = now

local data = redis.call("HMGET", key, "tokens", "last_refill")
if data[1] then
  tokens = tonumber(data[1])
end
if data[2] then
  last_refill = tonumber(data[2])
end

local delta = now - last_refill
if delta < 0 then
  delta = 0
end
tokens = math.min(capacity, tokens + delta * refill_rate)

local allowed = 0
local retry_after_ms = 0
if tokens >= cost then
  tokens = tokens - cost
  allowed = 1
else
  retry_after_ms = math.ceil((cost - tokens) / refill_rate * 1000)
end

redis.call("HSET", key, "tokens", tostring(tokens), "last_refill", tostring(now))
redis.call("EXPIRE", key, math.ceil(capacity / refill_rate) + 60)

return { allowed, math.floor(tokens), retry_after_ms }
`

// Allow takes cost tokens from key's bucket. Redis errors fail open and are
// returned so callers can log them.
func (l *RedisLuaLimiter) Allow(ctx context.Context, key string, cost int64) (bool, time.Duration, error) {
	if l == nil || l.redis == nil {
		return true, 0, nil
	}
	cfg := l.bucketFor(key)
	if !cfg.Enabled() {
		return true, 0, nil
	}
	if cost <= 0 {
		cost = 1
	}

	nowSec := float64(l.now().UnixNano()) / 1e9
	res, err := l.script.Run(ctx, l.redis, []string{keyPrefix + key}, cfg.Capacity, cfg.RefillRate, nowSec, cost).Result()
	if err != nil {
		slog.Error("redis rate limiter script error", slog.String("key", key), slog.Any("error", err))
		return true, 0, err
	}

	vals, ok := res.([]interface{})
	if !ok || len(vals) < 3 {
		slog.Error("redis rate limiter unexpected script result", slog.String("key", key), slog.Any("result", res))
		return true, 0, nil
	}
	allowed := toInt64(vals[0]) == 1
	retryAfter := time.Duration(toInt64(vals[2])) * time.Millisecond
	if !allowed {
		slog.Debug("rate limited",
			slog.String("key", key),
			slog.Int64("remaining", toInt64(vals[1])),
			slog.Duration("retry_after", retryAfter))
	}
	return allowed, retryAfter, nil
}

func (l *RedisLuaLimiter) bucketFor(key string) BucketConfig {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if cfg, ok := l.buckets[key]; ok {
		return cfg
	}
	return l.defaultBucket
}

// SetBucketConfig overrides the bucket for one key. Safe for concurrent use.
func (l *RedisLuaLimiter) SetBucketConfig(key string, cfg BucketConfig) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buckets[key] = cfg
}

func toInt64(v interface{}) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	case float64:
		return int64(t)
	default:
		return 0
	}
}
