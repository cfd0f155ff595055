package cache

import (
	"context"
	"encoding/json"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/platinummonkey/hrauth/pkg/observability"
)

// Aside implements cache-aside reads over a Cache. Concurrent misses for the
// same key share a single load. Cache failures are logged and never fail the
// read; the loader is the source of truth.
type Aside struct {
	cache   Cache
	group   singleflight.Group
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewAside creates a cache-aside helper. A nil logger falls back to stdout.
func NewAside(c Cache, logger *observability.Logger, metrics *observability.Metrics) *Aside {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &Aside{cache: c, logger: logger.WithField("component", "cache"), metrics: metrics}
}

// Invalidate removes keys, logging failures.
func (a *Aside) Invalidate(ctx context.Context, keys ...string) {
	if err := a.cache.Delete(ctx, keys...); err != nil {
		a.logger.WithError(err).Warn("cache invalidation failed")
	}
}

// InvalidatePattern removes every key matching pattern, logging failures.
func (a *Aside) InvalidatePattern(ctx context.Context, pattern string) {
	if err := a.cache.DeletePattern(ctx, pattern); err != nil {
		a.logger.WithError(err).WithField("pattern", pattern).Warn("cache pattern invalidation failed")
	}
}

// Ping checks the underlying cache.
func (a *Aside) Ping(ctx context.Context) error { return a.cache.Ping(ctx) }

// GetOrLoad returns the cached value under key, or calls load, caches its
// result for ttl and returns it. Loader errors are returned and not cached.
func GetOrLoad[T any](ctx context.Context, a *Aside, key string, ttl time.Duration, load func(context.Context) (T, error)) (T, error) {
	var zero T

	if data, ok, err := a.cache.Get(ctx, key); err != nil {
		a.metrics.RecordCache("error")
		a.logger.WithError(err).WithField("key", key).Warn("cache read failed")
	} else if ok {
		var v T
		if err := json.Unmarshal(data, &v); err == nil {
			a.metrics.RecordCache("hit")
			return v, nil
		}
		a.Invalidate(ctx, key)
	} else {
		a.metrics.RecordCache("miss")
	}

	v, err, _ := a.group.Do(key, func() (interface{}, error) {
		loaded, err := load(ctx)
		if err != nil {
			return nil, err
		}
		if data, err := json.Marshal(loaded); err != nil {
			a.logger.WithError(err).WithField("key", key).Warn("cache encode failed")
		} else if err := a.cache.Set(ctx, key, data, ttl); err != nil {
			a.logger.WithError(err).WithField("key", key).Warn("cache write failed")
		}
		return loaded, nil
	})
	if err != nil {
		return zero, err
	}
	return v.(T), nil
}
