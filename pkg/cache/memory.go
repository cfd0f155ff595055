package cache

import (
	"context"
	"path"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

// MemoryCache implements Cache with an expiring LRU. All entries share the
// TTL given at construction; the per-call ttl is ignored.
type MemoryCache struct {
	cache *lru.LRU[string, []byte]
}

// NewMemoryCache creates an in-process cache holding at most size entries.
func NewMemoryCache(size int, ttl time.Duration) *MemoryCache {
	if size < 10 {
		size = 10 // Minimum 10 entries
	}
	return &MemoryCache{cache: lru.NewLRU[string, []byte](size, nil, ttl)}
}

func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := c.cache.Get(key)
	return v, ok, nil
}

func (c *MemoryCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.cache.Add(key, value)
	return nil
}

func (c *MemoryCache) Delete(_ context.Context, keys ...string) error {
	for _, k := range keys {
		c.cache.Remove(k)
	}
	return nil
}

func (c *MemoryCache) DeletePattern(_ context.Context, pattern string) error {
	for _, k := range c.cache.Keys() {
		if ok, err := path.Match(pattern, k); err != nil {
			return err
		} else if ok {
			c.cache.Remove(k)
		}
	}
	return nil
}

func (c *MemoryCache) Ping(context.Context) error { return nil }

// Len returns the number of live entries.
func (c *MemoryCache) Len() int { return c.cache.Len() }
