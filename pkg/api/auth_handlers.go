package api

import (
	"net/http"
	"time"

	"github.com/platinummonkey/hrauth/pkg/auth"
	"github.com/platinummonkey/hrauth/pkg/httputil"
	"github.com/platinummonkey/hrauth/pkg/rbac"
)

// register handles POST /api/v1/auth/register
func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !httputil.DecodeAndValidate(w, r, &req) {
		return
	}

	user, err := s.svc.Register(r.Context(), req.Username, req.Email, req.Password, auth.Profile{
		FirstName: req.FirstName,
		LastName:  req.LastName,
	})
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	_ = httputil.WriteCreated(w, user)
}

// login handles POST /api/v1/auth/login
func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !httputil.DecodeAndValidate(w, r, &req) {
		return
	}

	res, err := s.svc.Authenticate(r.Context(), req.Username, req.Password)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	_ = httputil.WriteSuccess(w, res)
}

// refresh handles POST /api/v1/auth/refresh
func (s *Server) refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !httputil.DecodeAndValidate(w, r, &req) {
		return
	}

	pair, err := s.svc.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	_ = httputil.WriteSuccess(w, pair)
}

// logout handles POST /api/v1/auth/logout. Tokens stay valid until they
// expire; only cached state is dropped.
func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	ident, ok := identity(w, r)
	if !ok {
		return
	}
	s.svc.Logout(r.Context(), ident.UserID)
	httputil.WriteNoContent(w)
}

// getMe handles GET /api/v1/auth/me
func (s *Server) getMe(w http.ResponseWriter, r *http.Request) {
	ident, ok := identity(w, r)
	if !ok {
		return
	}

	user, err := s.svc.GetProfile(r.Context(), ident.UserID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	_ = httputil.WriteSuccess(w, user)
}

// getMyPermissions handles GET /api/v1/auth/me/permissions
func (s *Server) getMyPermissions(w http.ResponseWriter, r *http.Request) {
	ident, ok := identity(w, r)
	if !ok {
		return
	}

	out := callerPermissions{
		IsSuperuser: ident.IsSuperuser,
		Roles:       ident.RoleNames(),
		Permissions: ident.PermissionList(),
	}
	if ident.Restricted() {
		out.Scopes = ident.Scopes
	}
	_ = httputil.WriteSuccess(w, out)
}

// checkMyPermission handles GET /api/v1/auth/me/permissions/{perm}
func (s *Server) checkMyPermission(w http.ResponseWriter, r *http.Request) {
	ident, ok := identity(w, r)
	if !ok {
		return
	}

	perm := httputil.PathString(r, "perm")
	_ = httputil.WriteSuccess(w, permissionCheck{Permission: perm, Decision: rbac.Authorize(ident, perm)})
}

// updateMe handles PUT /api/v1/auth/me
func (s *Server) updateMe(w http.ResponseWriter, r *http.Request) {
	ident, ok := identity(w, r)
	if !ok {
		return
	}

	var req updateProfileRequest
	if !httputil.DecodeAndValidate(w, r, &req) {
		return
	}

	user, err := s.svc.UpdateProfile(r.Context(), ident.UserID, auth.ProfileUpdate{
		Email:     req.Email,
		FirstName: req.FirstName,
		LastName:  req.LastName,
	})
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	_ = httputil.WriteSuccess(w, user)
}

// changePassword handles POST /api/v1/auth/change-password
func (s *Server) changePassword(w http.ResponseWriter, r *http.Request) {
	ident, ok := identity(w, r)
	if !ok {
		return
	}

	var req changePasswordRequest
	if !httputil.DecodeAndValidate(w, r, &req) {
		return
	}

	if err := s.svc.ChangePassword(r.Context(), ident.UserID, req.OldPassword, req.NewPassword); err != nil {
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteNoContent(w)
}

// listAPIKeys handles GET /api/v1/auth/api-keys
func (s *Server) listAPIKeys(w http.ResponseWriter, r *http.Request) {
	ident, ok := identity(w, r)
	if !ok {
		return
	}

	keys, err := s.svc.ListAPIKeys(r.Context(), ident.UserID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if keys == nil {
		keys = []auth.APIKey{}
	}

	_ = httputil.WriteSuccess(w, apiKeyList{APIKeys: keys})
}

// createAPIKey handles POST /api/v1/auth/api-keys. The plaintext key is only
// ever present in this response.
func (s *Server) createAPIKey(w http.ResponseWriter, r *http.Request) {
	ident, ok := identity(w, r)
	if !ok {
		return
	}

	var req createAPIKeyRequest
	if !httputil.DecodeAndValidate(w, r, &req) {
		return
	}

	var expiresIn *time.Duration
	if req.ExpiresInDays != nil {
		d := time.Duration(*req.ExpiresInDays) * 24 * time.Hour
		expiresIn = &d
	}

	created, err := s.svc.CreateAPIKeyAs(r.Context(), ident, req.Name, req.Scopes, expiresIn)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	_ = httputil.WriteCreated(w, created)
}

// revokeAPIKey handles DELETE /api/v1/auth/api-keys/{id}
func (s *Server) revokeAPIKey(w http.ResponseWriter, r *http.Request) {
	ident, ok := identity(w, r)
	if !ok {
		return
	}

	keyID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	if err := s.svc.RevokeAPIKeyAs(r.Context(), ident, keyID); err != nil {
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteNoContent(w)
}
