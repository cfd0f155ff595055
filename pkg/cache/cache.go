// Package cache provides the cache-aside layer used for derived reads such as
// user profiles. Redis is used when configured, otherwise an in-process
// expiring LRU.
package cache

import (
	"context"
	"strconv"
	"time"
)

// Cache stores opaque values by key.
type Cache interface {
	// Get returns the value and whether it was found.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	// DeletePattern removes every key matching a glob pattern such as "user:42:*".
	DeletePattern(ctx context.Context, pattern string) error
	Ping(ctx context.Context) error
}

// ProfileKey is the cache key of a user's public profile.
func ProfileKey(userID int64) string {
	return "user:" + strconv.FormatInt(userID, 10) + ":profile"
}

// UserPattern matches every cached entry of a user.
func UserPattern(userID int64) string {
	return "user:" + strconv.FormatInt(userID, 10) + ":*"
}

// ProfilePattern matches the cached profile of every user.
func ProfilePattern() string { return "user:*:profile" }
