// Package middleware resolves who is calling and how often.
//
// Gateway turns an incoming request into an *auth.Identity. It looks at
// `Authorization: Bearer <jwt>` first and at the API key header
// (X-API-Key by default) second:
//
//	gw := middleware.NewGateway(service, "X-API-Key", logger)
//	router.Use(gw.Authenticate)
//
//	ident, ok := middleware.FromContext(r.Context())
//
// Only access tokens are accepted on the bearer channel. Permissions on the
// identity come from the user's live role set, never from token claims.
//
// RateLimit throttles credential endpoints per client address, either with
// the in-process token bucket (RateLimiter) or with a Redis fixed window
// shared across instances (DistributedRateLimiter).
package middleware
