// Package rbac provides role-based access control for hrauth.
//
// # Overview
//
// A permission is a "resource:action" string such as "employees:write". A
// role is a named bundle of permissions; the wildcard "*" grants every
// permission. Users hold zero or more roles and only active roles count.
// A superuser passes every check regardless of roles.
//
// Resources and actions:
//
//	ResourceUsers, ResourceRoles, ResourceEmployees, ResourceDepartments,
//	ResourceSalaries, ResourceStatistics, ResourceProfile
//	ActionRead, ActionWrite, ActionDelete, ActionAdmin
//
//	rbac.Perm(rbac.ResourceSalaries, rbac.ActionRead) // "salaries:read"
//
// # Resolution
//
// The resolver functions are pure and work on any Subject, which
// *auth.Identity implements:
//
//	rbac.HasPermission(ident, "employees:write")
//	rbac.HasRole(ident, rbac.RoleHRManager)
//	rbac.HasAllPermissions(ident, "salaries:read", "salaries:write")
//	rbac.HasAnyRole(ident, rbac.RoleAdmin, rbac.RoleAuditor)
//
// Check returns a Decision naming the roles that granted a permission.
//
// # Guards
//
// Guard wraps handlers that run behind middleware.Gateway:
//
//	guard := rbac.NewGuard(auditLogger, metrics)
//	router.Handle("/salaries", guard.RequirePermission("salaries:read")(h))
//
// A request without an identity gets 401. A denial gets 403 and an
// authz.denied audit event. A panic raised while deciding is recovered and
// treated as a denial. API key identities must also carry a matching scope.
//
// # Seeding
//
// BuiltInRoles defines user, hr_manager, auditor and admin. Further roles
// can be loaded from YAML with LoadSeedFile and created with
// InitializeRoles, which skips names that already exist.
package rbac
