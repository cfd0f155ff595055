package middleware

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/platinummonkey/hrauth/pkg/auth"
	"github.com/platinummonkey/hrauth/pkg/contextkeys"
	"github.com/platinummonkey/hrauth/pkg/httputil"
	"github.com/platinummonkey/hrauth/pkg/observability"
)

// DefaultAPIKeyHeader carries API keys when no other header is configured.
const DefaultAPIKeyHeader = "X-API-Key"

// Authenticator resolves raw credentials into identities. *auth.Service
// satisfies it.
type Authenticator interface {
	AuthenticateAccessToken(ctx context.Context, token string) (*auth.Identity, error)
	AuthenticateAPIKeyIdentity(ctx context.Context, rawKey string) (*auth.Identity, error)
}

// Gateway resolves the caller of every request from either a bearer token or
// an API key. A bearer token wins when both are present.
type Gateway struct {
	authn        Authenticator
	apiKeyHeader string
	logger       *observability.Logger
}

// NewGateway creates a gateway. An empty apiKeyHeader selects
// DefaultAPIKeyHeader.
func NewGateway(authn Authenticator, apiKeyHeader string, logger *observability.Logger) *Gateway {
	if apiKeyHeader == "" {
		apiKeyHeader = DefaultAPIKeyHeader
	}
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &Gateway{
		authn:        authn,
		apiKeyHeader: apiKeyHeader,
		logger:       logger.WithField("component", "gateway"),
	}
}

// APIKeyHeader returns the header inspected for API keys.
func (g *Gateway) APIKeyHeader() string { return g.apiKeyHeader }

// errNoCredentials marks a request that presented neither channel.
var errNoCredentials = errors.New("no credentials presented")

// Resolve authenticates r. It returns auth.ErrUnauthenticated when no
// credential is present.
func (g *Gateway) Resolve(r *http.Request) (*auth.Identity, error) {
	ident, err := g.resolve(r)
	if errors.Is(err, errNoCredentials) {
		return nil, auth.ErrUnauthenticated
	}
	return ident, err
}

func (g *Gateway) resolve(r *http.Request) (*auth.Identity, error) {
	ctx := r.Context()

	if header := r.Header.Get("Authorization"); header != "" {
		token, ok := bearerToken(header)
		if !ok {
			return nil, auth.ErrTokenInvalid
		}
		ident, err := g.authn.AuthenticateAccessToken(ctx, token)
		if errors.Is(err, auth.ErrWrongTokenType) {
			// The gateway always asks for access tokens, so a mismatch here
			// is the client presenting its refresh token.
			g.log(ctx).
				WithField("reason", "client_wrong_kind").
				Warn("refresh token presented as bearer credential")
		}
		return ident, err
	}

	if key := strings.TrimSpace(r.Header.Get(g.apiKeyHeader)); key != "" {
		return g.authn.AuthenticateAPIKeyIdentity(ctx, key)
	}

	return nil, errNoCredentials
}

// log prefers the request-scoped logger installed by the server.
func (g *Gateway) log(ctx context.Context) *observability.Logger {
	if _, ok := contextkeys.Lookup[*observability.Logger](ctx, contextkeys.LoggerKey); ok {
		return observability.FromContext(ctx)
	}
	if requestID := observability.GetRequestID(ctx); requestID != "" {
		return g.logger.WithField("request_id", requestID)
	}
	return g.logger
}

func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// Authenticate requires a valid credential. Failures are answered with the
// status of the underlying error and the wrapped handler is not run.
func (g *Gateway) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ident, err := g.Resolve(r)
		if err != nil {
			g.reject(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(withIdentity(r.Context(), ident)))
	})
}

// Optional attaches an identity when credentials are present. A request
// without credentials proceeds anonymously; invalid credentials are still
// rejected.
func (g *Gateway) Optional(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ident, err := g.resolve(r)
		switch {
		case errors.Is(err, errNoCredentials):
			next.ServeHTTP(w, r)
		case err != nil:
			g.reject(w, r, err)
		default:
			next.ServeHTTP(w, r.WithContext(withIdentity(r.Context(), ident)))
		}
	})
}

func (g *Gateway) reject(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, auth.ErrStoreUnavailable) {
		g.log(r.Context()).WithError(err).Error("credential store unavailable during authentication")
	} else {
		g.log(r.Context()).
			WithField("reason", auth.ErrorKind(err)).
			Debug("request authentication failed")
	}
	if auth.HTTPStatus(err) == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer realm="hrauth"`)
	}
	httputil.WriteError(w, err)
}

func withIdentity(ctx context.Context, ident *auth.Identity) context.Context {
	ctx = contextkeys.WithIdentity(ctx, ident)
	ctx = contextkeys.WithUserID(ctx, strconv.FormatInt(ident.UserID, 10))
	return ctx
}

// WithIdentity stores ident in ctx the same way the gateway does.
func WithIdentity(ctx context.Context, ident *auth.Identity) context.Context {
	return withIdentity(ctx, ident)
}

// FromContext returns the identity attached by the gateway.
func FromContext(ctx context.Context) (*auth.Identity, bool) {
	ident, ok := contextkeys.Lookup[*auth.Identity](ctx, contextkeys.IdentityKey)
	return ident, ok && ident != nil
}
