package api

import (
	"fmt"
	"net/http"

	"github.com/platinummonkey/hrauth/pkg/auth"
	"github.com/platinummonkey/hrauth/pkg/httputil"
	"github.com/platinummonkey/hrauth/pkg/rbac"
)

// listRoles handles GET /api/v1/auth/roles
func (s *Server) listRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := s.svc.ListRoles(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if roles == nil {
		roles = []auth.Role{}
	}
	_ = httputil.WriteSuccess(w, roleList{Roles: roles})
}

// createRole handles POST /api/v1/auth/roles
func (s *Server) createRole(w http.ResponseWriter, r *http.Request) {
	var req createRoleRequest
	if !httputil.DecodeAndValidate(w, r, &req) {
		return
	}

	def := rbac.RoleDefinition{Name: req.Name, Description: req.Description, Permissions: req.Permissions}
	if err := def.Validate(); err != nil {
		httputil.WriteError(w, fmt.Errorf("%w: %v", auth.ErrInvalidInput, err))
		return
	}

	role, err := s.svc.CreateRole(r.Context(), def.Name, def.Description, def.Permissions)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	_ = httputil.WriteCreated(w, role)
}

// listRoleUsers handles GET /api/v1/auth/roles/{role}/users
func (s *Server) listRoleUsers(w http.ResponseWriter, r *http.Request) {
	name := httputil.PathString(r, "role")
	limit, offset := auth.Page(httputil.QueryInt(r, "limit", 0), httputil.QueryInt(r, "offset", 0))

	users, err := s.svc.ListUsersByRole(r.Context(), name, limit, offset)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	_ = httputil.WriteSuccess(w, roleUserList{Role: name, Users: users, Limit: limit, Offset: offset})
}

// addRolePermission handles POST /api/v1/auth/roles/{role}/permissions/{perm}
func (s *Server) addRolePermission(w http.ResponseWriter, r *http.Request) {
	name, perm := httputil.PathString(r, "role"), httputil.PathString(r, "perm")

	def := rbac.RoleDefinition{Name: name, Permissions: []string{perm}}
	if err := def.Validate(); err != nil {
		httputil.WriteError(w, fmt.Errorf("%w: %v", auth.ErrInvalidInput, err))
		return
	}

	role, err := s.svc.AddRolePermission(r.Context(), name, perm)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	_ = httputil.WriteSuccess(w, role)
}

// removeRolePermission handles DELETE /api/v1/auth/roles/{role}/permissions/{perm}
func (s *Server) removeRolePermission(w http.ResponseWriter, r *http.Request) {
	role, err := s.svc.RemoveRolePermission(r.Context(), httputil.PathString(r, "role"), httputil.PathString(r, "perm"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	_ = httputil.WriteSuccess(w, role)
}

// setRoleActive handles PUT /api/v1/auth/roles/{role}/active
func (s *Server) setRoleActive(w http.ResponseWriter, r *http.Request) {
	var req setActiveRequest
	if !httputil.DecodeAndValidate(w, r, &req) {
		return
	}

	if err := s.svc.SetRoleActive(r.Context(), httputil.PathString(r, "role"), *req.Active); err != nil {
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteNoContent(w)
}

// assignRole handles POST /api/v1/auth/users/{id}/roles/{role}
func (s *Server) assignRole(w http.ResponseWriter, r *http.Request) {
	ident, ok := identity(w, r)
	if !ok {
		return
	}
	userID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	grantedBy := ident.UserID
	if err := s.svc.AssignRole(r.Context(), userID, httputil.PathString(r, "role"), &grantedBy); err != nil {
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteNoContent(w)
}

// revokeRole handles DELETE /api/v1/auth/users/{id}/roles/{role}
func (s *Server) revokeRole(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	if err := s.svc.RevokeRole(r.Context(), userID, httputil.PathString(r, "role")); err != nil {
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteNoContent(w)
}

// listLocked handles GET /api/v1/auth/users/locked
func (s *Server) listLocked(w http.ResponseWriter, r *http.Request) {
	users, err := s.svc.ListLockedUsers(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	_ = httputil.WriteSuccess(w, userList{Users: users})
}

// unlockUser handles POST /api/v1/auth/users/{id}/unlock
func (s *Server) unlockUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	if err := s.svc.UnlockAccount(r.Context(), userID); err != nil {
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteNoContent(w)
}

// setActive handles PUT /api/v1/auth/users/{id}/active
func (s *Server) setActive(w http.ResponseWriter, r *http.Request) {
	ident, ok := identity(w, r)
	if !ok {
		return
	}
	userID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	var req setActiveRequest
	if !httputil.DecodeAndValidate(w, r, &req) {
		return
	}
	if !*req.Active && userID == ident.UserID {
		httputil.WriteValidationError(w, "cannot deactivate your own account")
		return
	}

	if err := s.svc.SetActive(r.Context(), userID, *req.Active); err != nil {
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteNoContent(w)
}
