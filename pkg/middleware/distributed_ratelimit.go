package middleware

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// DistributedRateLimiter implements a fixed-window limiter on Redis so that
// limits are shared across instances.
type DistributedRateLimiter struct {
	redis  *redis.Client
	config *RateLimitConfig
	prefix string
}

// NewDistributedRateLimiter creates a new Redis-backed rate limiter
func NewDistributedRateLimiter(redisClient *redis.Client, config *RateLimitConfig, prefix string) *DistributedRateLimiter {
	if config == nil {
		config = DefaultLoginRateLimitConfig()
	}
	if prefix == "" {
		prefix = "ratelimit"
	}

	return &DistributedRateLimiter{
		redis:  redisClient,
		config: config,
		prefix: prefix,
	}
}

func (rl *DistributedRateLimiter) key(key string) string {
	return fmt.Sprintf("%s:%s", rl.prefix, key)
}

// Allow counts the request in the current window.
func (rl *DistributedRateLimiter) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	redisKey := rl.key(key)

	// SETNX opens the window with its expiry; INCR keeps the TTL.
	pipe := rl.redis.TxPipeline()
	pipe.SetNX(ctx, redisKey, 0, rl.config.WindowDuration)
	incr := pipe.Incr(ctx, redisKey)
	ttl := pipe.PTTL(ctx, redisKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return true, 0, fmt.Errorf("redis error: %w", err)
	}

	limit := int64(rl.config.RequestsPerWindow + rl.config.BurstSize)
	if incr.Val() <= limit {
		return true, 0, nil
	}

	retry := ttl.Val()
	if retry <= 0 {
		retry = rl.config.WindowDuration
	}
	return false, retry, nil
}

// Remaining returns the number of remaining requests in the window
func (rl *DistributedRateLimiter) Remaining(ctx context.Context, key string) (int, error) {
	limit := rl.config.RequestsPerWindow + rl.config.BurstSize

	count, err := rl.redis.Get(ctx, rl.key(key)).Int()
	if err == redis.Nil {
		return limit, nil
	} else if err != nil {
		return 0, err
	}

	if remaining := limit - count; remaining > 0 {
		return remaining, nil
	}
	return 0, nil
}
