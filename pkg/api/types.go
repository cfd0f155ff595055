package api

import (
	"github.com/platinummonkey/hrauth/pkg/auth"
	"github.com/platinummonkey/hrauth/pkg/rbac"
)

type registerRequest struct {
	Username  string `json:"username" validate:"required,min=3,max=150"`
	Email     string `json:"email" validate:"required,email,max=254"`
	Password  string `json:"password" validate:"required,max=128"`
	FirstName string `json:"first_name" validate:"max=150"`
	LastName  string `json:"last_name" validate:"max=150"`
}

// loginRequest accepts either a username or an email as login.
type loginRequest struct {
	Username string `json:"username" validate:"required,max=254"`
	Password string `json:"password" validate:"required,max=128"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

type updateProfileRequest struct {
	Email     *string `json:"email" validate:"omitempty,email,max=254"`
	FirstName *string `json:"first_name" validate:"omitempty,max=150"`
	LastName  *string `json:"last_name" validate:"omitempty,max=150"`
}

type changePasswordRequest struct {
	OldPassword string `json:"old_password" validate:"required,max=128"`
	NewPassword string `json:"new_password" validate:"required,max=128"`
}

type createAPIKeyRequest struct {
	Name          string   `json:"name" validate:"required,max=100"`
	Scopes        []string `json:"scopes" validate:"omitempty,dive,required"`
	ExpiresInDays *int     `json:"expires_in_days" validate:"omitempty,min=1,max=3650"`
}

type createRoleRequest struct {
	Name        string   `json:"name" validate:"required,max=80"`
	Description string   `json:"description" validate:"max=500"`
	Permissions []string `json:"permissions" validate:"omitempty,dive,required"`
}

type setActiveRequest struct {
	Active *bool `json:"active" validate:"required"`
}

type apiKeyList struct {
	APIKeys []auth.APIKey `json:"api_keys"`
}

type roleList struct {
	Roles []auth.Role `json:"roles"`
}

type userList struct {
	Users []auth.PublicUser `json:"users"`
}

type roleUserList struct {
	Role   string            `json:"role"`
	Users  []auth.PublicUser `json:"users"`
	Limit  int               `json:"limit"`
	Offset int               `json:"offset"`
}

// callerPermissions is the resolved authorization state of the caller.
type callerPermissions struct {
	IsSuperuser bool     `json:"is_superuser"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
	// Scopes is set for scoped API keys only.
	Scopes []string `json:"scopes,omitempty"`
}

type permissionCheck struct {
	Permission string `json:"permission"`
	rbac.Decision
}
