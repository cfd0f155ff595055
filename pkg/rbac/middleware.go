package rbac

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/platinummonkey/hrauth/pkg/auth"
	"github.com/platinummonkey/hrauth/pkg/httputil"
	"github.com/platinummonkey/hrauth/pkg/middleware"
	"github.com/platinummonkey/hrauth/pkg/observability"
)

// Guard builds authorization middleware over the identity attached by
// middleware.Gateway. Every guard fails closed: a missing identity is
// answered 401, a denial or a panic while deciding is answered 403 and the
// wrapped handler never runs.
type Guard struct {
	audit   *auth.AuditLogger
	metrics *observability.Metrics
}

// NewGuard creates a guard. Both arguments may be nil.
func NewGuard(audit *auth.AuditLogger, metrics *observability.Metrics) *Guard {
	if audit == nil {
		audit = auth.NewAuditLogger(nil)
	}
	return &Guard{audit: audit, metrics: metrics}
}

// RequirePermission requires perm. API keys must also be scoped for it.
func (g *Guard) RequirePermission(perm string) func(http.Handler) http.Handler {
	return g.wrap("permission:"+perm, func(id *auth.Identity) bool {
		return Authorize(id, perm).Allowed
	})
}

// RequireAnyPermission requires at least one of perms.
func (g *Guard) RequireAnyPermission(perms ...string) func(http.Handler) http.Handler {
	return g.wrap("any_permission:"+strings.Join(perms, ","), func(id *auth.Identity) bool {
		for _, p := range perms {
			if Authorize(id, p).Allowed {
				return true
			}
		}
		return false
	})
}

// RequireAllPermissions requires every one of perms.
func (g *Guard) RequireAllPermissions(perms ...string) func(http.Handler) http.Handler {
	return g.wrap("all_permissions:"+strings.Join(perms, ","), func(id *auth.Identity) bool {
		for _, p := range perms {
			if !id.HasScope(p) {
				return false
			}
		}
		return HasAllPermissions(id, perms...)
	})
}

// RequireRole requires the named role.
func (g *Guard) RequireRole(name string) func(http.Handler) http.Handler {
	return g.wrap("role:"+name, func(id *auth.Identity) bool {
		return HasRole(id, name)
	})
}

// RequireAnyRole requires at least one of the named roles.
func (g *Guard) RequireAnyRole(names ...string) func(http.Handler) http.Handler {
	return g.wrap("any_role:"+strings.Join(names, ","), func(id *auth.Identity) bool {
		return HasAnyRole(id, names...)
	})
}

// RequireSuperuser requires the superuser flag. A scoped API key only
// passes when it carries the wildcard scope.
func (g *Guard) RequireSuperuser() func(http.Handler) http.Handler {
	return g.wrap("superuser", func(id *auth.Identity) bool {
		return id.Superuser() && id.HasScope(auth.WildcardPermission)
	})
}

func (g *Guard) wrap(name string, decide func(*auth.Identity) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ident, ok := middleware.FromContext(r.Context())
			if !ok {
				httputil.WriteError(w, auth.ErrUnauthenticated)
				return
			}

			allowed := g.evaluate(r, name, ident, decide)
			g.metrics.RecordAuthz(name, allowed)
			if !allowed {
				_ = g.audit.LogFromRequest(r, auth.ActionAccessDenied, "route", r.Method+" "+r.URL.Path,
					auth.StatusDenied, fmt.Errorf("%w: %s", auth.ErrForbidden, name))
				httputil.WriteError(w, auth.ErrForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func (g *Guard) evaluate(r *http.Request, name string, ident *auth.Identity, decide func(*auth.Identity) bool) (allowed bool) {
	defer func() {
		if rec := recover(); rec != nil {
			observability.FromContext(r.Context()).
				WithField("guard", name).
				WithError(fmt.Errorf("panic: %v", rec)).
				Error("authorization check panicked, denying")
			allowed = false
		}
	}()
	return decide(ident)
}
