package auth

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// WildcardPermission grants every permission when present in a role.
const WildcardPermission = "*"

// Timestamps are shared by every persisted record.
type Timestamps struct {
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// User represents an account that can authenticate against the core.
type User struct {
	ID           int64     `json:"id"`
	UUID         uuid.UUID `json:"uuid"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"` // Never expose hash
	FirstName    string    `json:"first_name,omitempty"`
	LastName     string    `json:"last_name,omitempty"`
	IsActive     bool      `json:"is_active"`
	IsSuperuser  bool      `json:"is_superuser"`

	FailedLoginAttempts int        `json:"-"`
	LockedUntil         *time.Time `json:"-"`
	LastLoginAt         *time.Time `json:"last_login_at,omitempty"`

	Timestamps
}

// FullName joins first and last name, skipping empty parts.
func (u *User) FullName() string {
	switch {
	case u.FirstName == "":
		return u.LastName
	case u.LastName == "":
		return u.FirstName
	default:
		return u.FirstName + " " + u.LastName
	}
}

// Lockout returns the user's lockout counters.
func (u *User) Lockout() LockoutState {
	return LockoutState{FailedAttempts: u.FailedLoginAttempts, LockedUntil: u.LockedUntil}
}

// Profile holds the optional fields supplied at registration or profile update.
type Profile struct {
	FirstName string
	LastName  string
}

// PublicUser is the projection of a User that is safe to return to callers.
type PublicUser struct {
	ID          int64      `json:"id"`
	UUID        uuid.UUID  `json:"uuid"`
	Username    string     `json:"username"`
	Email       string     `json:"email"`
	FirstName   string     `json:"first_name,omitempty"`
	LastName    string     `json:"last_name,omitempty"`
	FullName    string     `json:"full_name,omitempty"`
	IsActive    bool       `json:"is_active"`
	IsSuperuser bool       `json:"is_superuser"`
	IsLocked    bool       `json:"is_locked"`
	LastLoginAt *time.Time `json:"last_login_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	Roles       []string   `json:"roles"`
}

// NewPublicUser projects u and the names of its active roles.
func NewPublicUser(u *User, roles []Role, now time.Time) PublicUser {
	return PublicUser{
		ID:          u.ID,
		UUID:        u.UUID,
		Username:    u.Username,
		Email:       u.Email,
		FirstName:   u.FirstName,
		LastName:    u.LastName,
		FullName:    u.FullName(),
		IsActive:    u.IsActive,
		IsSuperuser: u.IsSuperuser,
		IsLocked:    u.Lockout().LockedAt(now),
		LastLoginAt: u.LastLoginAt,
		CreatedAt:   u.CreatedAt,
		Roles:       ActiveRoleNames(roles),
	}
}

// Role is a named bundle of permission strings.
type Role struct {
	ID          int64    `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Permissions []string `json:"permissions"`
	IsActive    bool     `json:"is_active"`

	Timestamps
}

// Grants reports whether the role carries perm or the wildcard.
func (r Role) Grants(perm string) bool {
	for _, p := range r.Permissions {
		if p == WildcardPermission || p == perm {
			return true
		}
	}
	return false
}

// ActiveRoleNames returns the sorted names of the active roles.
func ActiveRoleNames(roles []Role) []string {
	names := make([]string, 0, len(roles))
	for _, r := range roles {
		if r.IsActive {
			names = append(names, r.Name)
		}
	}
	sort.Strings(names)
	return names
}

// UserRole is the join between a user and a role.
type UserRole struct {
	UserID    int64     `json:"user_id"`
	RoleID    int64     `json:"role_id"`
	GrantedAt time.Time `json:"granted_at"`
	GrantedBy *int64    `json:"granted_by,omitempty"`
}

// APIKey is a machine credential owned by a user. Only the hash of the key
// material is stored.
type APIKey struct {
	ID         int64      `json:"id"`
	UserID     int64      `json:"user_id"`
	KeyHash    string     `json:"-"` // Never expose hash
	KeyPrefix  string     `json:"key_prefix"`
	Name       string     `json:"name"`
	Scopes     []string   `json:"scopes"`
	IsActive   bool       `json:"is_active"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Expired reports whether the key's expiry has passed at now.
func (k *APIKey) Expired(now time.Time) bool {
	return k.ExpiresAt != nil && !now.Before(*k.ExpiresAt)
}

// CreatedAPIKey is returned exactly once, when a key is created. Key is the
// plaintext material and cannot be recovered afterwards.
type CreatedAPIKey struct {
	APIKey
	Key string `json:"key"`
}

// Channel names the credential that authenticated a request.
type Channel string

const (
	ChannelToken  Channel = "token"
	ChannelAPIKey Channel = "api_key"
)

// Identity is the canonical authenticated caller, regardless of which
// credential channel was used.
type Identity struct {
	UserID      int64
	Username    string
	Email       string
	IsSuperuser bool
	Roles       []Role
	Permissions map[string]struct{}
	Channel     Channel
	APIKeyID    int64
	Scopes      []string
}

// NewIdentity builds an identity from a user and its live role set. Inactive
// roles contribute nothing.
func NewIdentity(u *User, roles []Role, channel Channel) *Identity {
	id := &Identity{
		UserID:      u.ID,
		Username:    u.Username,
		Email:       u.Email,
		IsSuperuser: u.IsSuperuser,
		Permissions: make(map[string]struct{}),
		Channel:     channel,
	}
	for _, r := range roles {
		if !r.IsActive {
			continue
		}
		id.Roles = append(id.Roles, r)
		for _, p := range r.Permissions {
			id.Permissions[p] = struct{}{}
		}
	}
	return id
}

// Superuser implements rbac.Subject.
func (i *Identity) Superuser() bool { return i != nil && i.IsSuperuser }

// AssignedRoles implements rbac.Subject.
func (i *Identity) AssignedRoles() []Role {
	if i == nil {
		return nil
	}
	return i.Roles
}

// RoleNames returns the sorted names of the identity's roles.
func (i *Identity) RoleNames() []string { return ActiveRoleNames(i.Roles) }

// PermissionList returns the resolved permission set in sorted order.
func (i *Identity) PermissionList() []string {
	out := make([]string, 0, len(i.Permissions))
	for p := range i.Permissions {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Restricted reports whether the identity is an API key limited to a set of
// scopes.
func (i *Identity) Restricted() bool {
	return i != nil && i.Channel == ChannelAPIKey && len(i.Scopes) > 0
}

// CanDelegate reports whether the identity may hand scopes to another API
// key. A restricted key may only pass on a non-empty subset of its own
// scopes, since a key without scopes is unrestricted.
func (i *Identity) CanDelegate(scopes []string) bool {
	if i == nil {
		return false
	}
	if !i.Restricted() {
		return true
	}
	if len(scopes) == 0 {
		return false
	}
	for _, s := range scopes {
		if !i.HasScope(s) {
			return false
		}
	}
	return true
}

// HasScope checks an API key scope. Token-authenticated identities and keys
// created without scopes carry no restriction.
func (i *Identity) HasScope(scope string) bool {
	if i.Channel != ChannelAPIKey || len(i.Scopes) == 0 {
		return true
	}
	for _, s := range i.Scopes {
		if s == WildcardPermission || s == scope {
			return true
		}
	}
	return false
}
