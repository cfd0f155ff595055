// Package contextkeys holds the request context keys shared between the
// gateway, the logger and the API handlers.
//
//	ctx = contextkeys.WithIdentity(ctx, ident)
//	ident, ok := contextkeys.Lookup[*auth.Identity](ctx, contextkeys.IdentityKey)
package contextkeys

import "context"

// Key is the type of every context key in this package.
type Key string

const (
	// IdentityKey holds the *auth.Identity resolved by middleware.Gateway.
	IdentityKey Key = "identity"
	// RequestIDKey holds the request id assigned by observability.RequestMiddleware.
	RequestIDKey Key = "request_id"
	// UserIDKey holds the authenticated user id in decimal.
	UserIDKey Key = "user_id"
	// LoggerKey holds the request-scoped *observability.Logger.
	LoggerKey Key = "logger"
	// ClientIPKey holds the client address resolved by middleware.ClientAddress.
	ClientIPKey Key = "client_ip"
)

// Lookup returns the value stored under key when it has type T.
func Lookup[T any](ctx context.Context, key Key) (T, bool) {
	v, ok := ctx.Value(key).(T)
	return v, ok
}

func WithIdentity(ctx context.Context, identity any) context.Context {
	return context.WithValue(ctx, IdentityKey, identity)
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, ClientIPKey, ip)
}

// GetRequestID returns the request id, or "" outside a request.
func GetRequestID(ctx context.Context) string {
	id, _ := Lookup[string](ctx, RequestIDKey)
	return id
}

// GetUserID returns the authenticated user id, or "" for anonymous requests.
func GetUserID(ctx context.Context) string {
	id, _ := Lookup[string](ctx, UserIDKey)
	return id
}
