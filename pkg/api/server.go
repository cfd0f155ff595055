package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/hrauth/pkg/auth"
	"github.com/platinummonkey/hrauth/pkg/httputil"
	"github.com/platinummonkey/hrauth/pkg/middleware"
	"github.com/platinummonkey/hrauth/pkg/observability"
	"github.com/platinummonkey/hrauth/pkg/rbac"
)

// defaultMaxBodyBytes caps request bodies when Options leaves it unset.
const defaultMaxBodyBytes = 1 << 20

// Options configures a Server.
type Options struct {
	Service *auth.Service
	Gateway *middleware.Gateway
	Guard   *rbac.Guard

	// LoginLimiter throttles register, login and refresh. Nil disables it.
	LoginLimiter middleware.Limiter

	Logger       *observability.Logger
	Metrics      *observability.Metrics
	CORSOrigins  []string
	MaxBodyBytes int64

	// Proxies whose forwarding headers identify the client. Nil trusts none.
	Proxies *auth.TrustedProxies
}

// Server represents our API server
type Server struct {
	svc     *auth.Service
	gateway *middleware.Gateway
	guard   *rbac.Guard
	limiter middleware.Limiter
	logger  *observability.Logger
	metrics *observability.Metrics
	router  *mux.Router
	handler http.Handler
}

// NewServer creates a new API server
func NewServer(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	if opts.Guard == nil {
		opts.Guard = rbac.NewGuard(auth.NewAuditLogger(opts.Logger), opts.Metrics)
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaultMaxBodyBytes
	}

	s := &Server{
		svc:     opts.Service,
		gateway: opts.Gateway,
		guard:   opts.Guard,
		limiter: opts.LoginLimiter,
		logger:  opts.Logger,
		metrics: opts.Metrics,
		router:  mux.NewRouter(),
	}

	// Outer middleware runs for every request, matched or not.
	s.handler = httputil.Chain(
		middleware.ClientAddress(opts.Proxies),
		observability.RequestMiddleware(s.logger),
		httputil.RecoveryMiddleware,
		httputil.CORSMiddleware(opts.CORSOrigins, s.gateway.APIKeyHeader()),
		httputil.ContentTypeMiddleware,
		httputil.MaxBytesMiddleware(opts.MaxBodyBytes),
	)(s.router)
	if s.metrics != nil {
		s.router.Use(observability.HTTPMetricsMiddleware(s.metrics))
	}
	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteErrorMessage(w, http.StatusNotFound, "not_found", "route not found")
	})
	s.router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteErrorMessage(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	})

	s.setupRoutes()
	return s
}

// setupRoutes configures all the API routes
func (s *Server) setupRoutes() {
	base := s.router.PathPrefix("/api/v1/auth").Subrouter()

	// Credential exchange, throttled per client address
	base.Handle("/register", s.throttle("register", s.register)).Methods(http.MethodPost)
	base.Handle("/login", s.throttle("login", s.login)).Methods(http.MethodPost)
	base.Handle("/refresh", s.throttle("refresh", s.refresh)).Methods(http.MethodPost)

	// Everything else requires a credential. Guarded subrouters run their
	// guard after the gateway has resolved the identity.
	authed := base.NewRoute().Subrouter()
	authed.Use(s.gateway.Authenticate)

	roleReaders := authed.NewRoute().Subrouter()
	roleReaders.Use(s.guard.RequireAnyPermission(rbac.PermRolesRead, rbac.PermRolesAdmin))
	roleReaders.HandleFunc("/roles", s.listRoles).Methods(http.MethodGet)

	roles := authed.NewRoute().Subrouter()
	roles.Use(s.guard.RequirePermission(rbac.PermRolesAdmin))
	roles.HandleFunc("/roles", s.createRole).Methods(http.MethodPost)
	roles.HandleFunc("/roles/{role}/users", s.listRoleUsers).Methods(http.MethodGet)
	roles.HandleFunc("/roles/{role}/permissions/{perm}", s.addRolePermission).Methods(http.MethodPost)
	roles.HandleFunc("/roles/{role}/permissions/{perm}", s.removeRolePermission).Methods(http.MethodDelete)
	roles.HandleFunc("/roles/{role}/active", s.setRoleActive).Methods(http.MethodPut)
	roles.HandleFunc("/users/{id}/roles/{role}", s.assignRole).Methods(http.MethodPost)
	roles.HandleFunc("/users/{id}/roles/{role}", s.revokeRole).Methods(http.MethodDelete)

	userReaders := authed.NewRoute().Subrouter()
	userReaders.Use(s.guard.RequireAnyPermission(rbac.PermUsersRead, rbac.PermUsersAdmin))
	userReaders.HandleFunc("/users/locked", s.listLocked).Methods(http.MethodGet)

	users := authed.NewRoute().Subrouter()
	users.Use(s.guard.RequirePermission(rbac.PermUsersAdmin))
	users.HandleFunc("/users/{id}/unlock", s.unlockUser).Methods(http.MethodPost)
	users.HandleFunc("/users/{id}/active", s.setActive).Methods(http.MethodPut)

	// Caller's own account
	authed.HandleFunc("/logout", s.logout).Methods(http.MethodPost)
	authed.HandleFunc("/me", s.getMe).Methods(http.MethodGet)
	authed.HandleFunc("/me", s.updateMe).Methods(http.MethodPut)
	authed.HandleFunc("/me/permissions", s.getMyPermissions).Methods(http.MethodGet)
	authed.HandleFunc("/me/permissions/{perm}", s.checkMyPermission).Methods(http.MethodGet)
	authed.HandleFunc("/change-password", s.changePassword).Methods(http.MethodPost)
	authed.HandleFunc("/api-keys", s.listAPIKeys).Methods(http.MethodGet)
	authed.HandleFunc("/api-keys", s.createAPIKey).Methods(http.MethodPost)
	authed.HandleFunc("/api-keys/{id}", s.revokeAPIKey).Methods(http.MethodDelete)
}

// throttle wraps h with the login limiter when one is configured.
func (s *Server) throttle(scope string, h http.HandlerFunc) http.Handler {
	if s.limiter == nil {
		return h
	}
	return middleware.RateLimit(s.limiter, scope, s.metrics)(h)
}

// Router exposes the mux router for callers that mount extra routes.
func (s *Server) Router() *mux.Router { return s.router }

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// identity returns the authenticated caller. The gateway guarantees one is
// present on every authenticated route.
func identity(w http.ResponseWriter, r *http.Request) (*auth.Identity, bool) {
	ident, ok := middleware.FromContext(r.Context())
	if !ok {
		httputil.WriteError(w, auth.ErrUnauthenticated)
	}
	return ident, ok
}
