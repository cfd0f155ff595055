package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/platinummonkey/hrauth/pkg/auth"
	"github.com/platinummonkey/hrauth/pkg/httputil"
	"github.com/platinummonkey/hrauth/pkg/observability"
)

// RateLimitConfig defines rate limiting configuration
type RateLimitConfig struct {
	// RequestsPerWindow is the max requests allowed in the time window
	RequestsPerWindow int
	// WindowDuration is the time window for rate limiting
	WindowDuration time.Duration
	// BurstSize allows temporary bursts above the rate
	BurstSize int
}

// DefaultLoginRateLimitConfig limits credential endpoints per client address.
func DefaultLoginRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		RequestsPerWindow: 10,
		WindowDuration:    time.Minute,
		BurstSize:         5,
	}
}

// Limiter decides whether a request identified by key may proceed. When it
// may not, retryAfter estimates when it could.
type Limiter interface {
	Allow(ctx context.Context, key string) (allowed bool, retryAfter time.Duration, err error)
	// Remaining reports how many more requests key may make right now.
	Remaining(ctx context.Context, key string) (int, error)
}

// RemainingHeader carries the requests left in the caller's bucket.
const RemainingHeader = "X-RateLimit-Remaining"

// RateLimiter implements rate limiting using token bucket algorithm
type RateLimiter struct {
	config  *RateLimitConfig
	buckets map[string]*bucket
	mu      sync.RWMutex
	now     func() time.Time
}

type bucket struct {
	tokens     int
	lastUpdate time.Time
	mu         sync.Mutex
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(config *RateLimitConfig) *RateLimiter {
	if config == nil {
		config = DefaultLoginRateLimitConfig()
	}

	return &RateLimiter{
		config:  config,
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

func (rl *RateLimiter) capacity() int {
	return rl.config.RequestsPerWindow + rl.config.BurstSize
}

// Allow checks if a request is allowed for the given key
func (rl *RateLimiter) Allow(_ context.Context, key string) (bool, time.Duration, error) {
	rl.mu.Lock()
	b, exists := rl.buckets[key]
	if !exists {
		b = &bucket{tokens: rl.capacity(), lastUpdate: rl.now()}
		rl.buckets[key] = b
	}
	rl.mu.Unlock()

	b.mu.Lock()
	defer b.mu.Unlock()

	now := rl.now()
	perToken := rl.config.WindowDuration / time.Duration(rl.config.RequestsPerWindow)

	// Refill tokens based on elapsed time
	if refill := int(now.Sub(b.lastUpdate) / perToken); refill > 0 {
		b.tokens += refill
		if b.tokens > rl.capacity() {
			b.tokens = rl.capacity()
		}
		b.lastUpdate = b.lastUpdate.Add(time.Duration(refill) * perToken)
	}

	if b.tokens > 0 {
		b.tokens--
		return true, 0, nil
	}
	return false, perToken - now.Sub(b.lastUpdate), nil
}

// Remaining returns the tokens left for a key as of its last Allow.
func (rl *RateLimiter) Remaining(_ context.Context, key string) (int, error) {
	rl.mu.RLock()
	b, exists := rl.buckets[key]
	rl.mu.RUnlock()

	if !exists {
		return rl.capacity(), nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tokens, nil
}

// Cleanup removes idle buckets.
func (rl *RateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for key, b := range rl.buckets {
		b.mu.Lock()
		if now.Sub(b.lastUpdate) > rl.config.WindowDuration*2 {
			delete(rl.buckets, key)
		}
		b.mu.Unlock()
	}
}

// StartCleanup starts a background goroutine to cleanup old buckets
func (rl *RateLimiter) StartCleanup(ctx context.Context) {
	ticker := time.NewTicker(rl.config.WindowDuration)
	go func() {
		defer observability.RecoverPanic(observability.FromContext(ctx), "ratelimit cleanup")
		for {
			select {
			case <-ticker.C:
				rl.Cleanup()
			case <-ctx.Done():
				ticker.Stop()
				return
			}
		}
	}()
}

// RateLimit throttles requests per client address. Limiter errors fail open
// and are logged.
func RateLimit(limiter Limiter, scope string, metrics *observability.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := fmt.Sprintf("%s:ip:%s", scope, auth.ClientIP(r))

			allowed, retryAfter, err := limiter.Allow(r.Context(), key)
			if err != nil {
				observability.FromContext(r.Context()).
					WithError(err).
					WithField("scope", scope).
					Warn("rate limiter unavailable, allowing request")
				next.ServeHTTP(w, r)
				return
			}

			if !allowed {
				w.Header().Set(RemainingHeader, "0")
				metrics.RecordRateLimited(scope)
				observability.FromContext(r.Context()).
					WithFields(map[string]interface{}{
						"action": auth.ActionRateLimitExceeded,
						"scope":  scope,
						"client": auth.ClientIP(r),
					}).
					Warn("rate limit exceeded")
				httputil.WriteTooManyRequests(w, retryAfter)
				return
			}

			if n, err := limiter.Remaining(r.Context(), key); err == nil {
				w.Header().Set(RemainingHeader, strconv.Itoa(n))
			}
			next.ServeHTTP(w, r)
		})
	}
}
