package middleware

import (
	"net/http"

	"github.com/platinummonkey/hrauth/pkg/auth"
	"github.com/platinummonkey/hrauth/pkg/contextkeys"
)

// ClientAddress resolves the client address once per request so that rate
// limiting and audit records agree on it. A nil trusted set ignores
// forwarding headers.
func ClientAddress(trusted *auth.TrustedProxies) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := contextkeys.WithClientIP(r.Context(), trusted.Resolve(r))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
