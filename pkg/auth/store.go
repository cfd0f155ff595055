package auth

import (
	"context"
	"time"
)

// LockoutFunc computes the next lockout state from the current one. It runs
// while the store holds the user row exclusively; returning an error aborts
// the update and leaves the row unchanged.
type LockoutFunc func(current LockoutState) (LockoutState, error)

// PermissionsFunc computes a role's next permission set from the current one
// while the store holds the role row exclusively.
type PermissionsFunc func(current []string) []string

// CredentialStore persists users, roles, role grants and API keys.
//
// Lookups of missing records return ErrUserNotFound, ErrRoleNotFound or
// ErrAPIKeyNotFound. Unique violations return ErrDuplicateUsername,
// ErrDuplicateEmail or ErrDuplicateRole. Infrastructure failures, including
// context deadlines, are wrapped with StoreError and match ErrStoreUnavailable.
type CredentialStore interface {
	CreateUser(ctx context.Context, u *User) error
	GetUserByID(ctx context.Context, id int64) (*User, error)
	GetUserByUsername(ctx context.Context, username string) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	// UpdateProfile persists email, first and last name.
	UpdateProfile(ctx context.Context, u *User) error
	UpdatePassword(ctx context.Context, userID int64, hash string) error
	SetUserActive(ctx context.Context, userID int64, active bool) error
	RecordLogin(ctx context.Context, userID int64, at time.Time) error
	// DeleteUser removes the user together with its API keys and role grants.
	DeleteUser(ctx context.Context, userID int64) error

	// UpdateLockout applies fn to the user's lockout state as a single
	// atomic read-modify-write and returns the state that was persisted.
	UpdateLockout(ctx context.Context, userID int64, fn LockoutFunc) (LockoutState, error)
	ListLockedUsers(ctx context.Context, now time.Time) ([]*User, error)
	// ClearLapsedLocks resets every lock whose time has passed.
	ClearLapsedLocks(ctx context.Context, now time.Time) (int64, error)

	CreateRole(ctx context.Context, r *Role) error
	GetRoleByName(ctx context.Context, name string) (*Role, error)
	ListRoles(ctx context.Context) ([]Role, error)
	// UpdateRolePermissions applies fn to the role's permissions as a single
	// atomic read-modify-write and returns the updated role.
	UpdateRolePermissions(ctx context.Context, roleID int64, fn PermissionsFunc) (*Role, error)
	SetRoleActive(ctx context.Context, name string, active bool) error
	// ListUsersByRole pages through the active users granted the role,
	// ordered by id.
	ListUsersByRole(ctx context.Context, roleID int64, limit, offset int) ([]*User, error)
	// GetUserRoles returns every role granted to the user, active or not.
	GetUserRoles(ctx context.Context, userID int64) ([]Role, error)
	// AssignRole inserts the grant unless it exists. It reports whether a
	// new grant was created.
	AssignRole(ctx context.Context, grant UserRole) (bool, error)
	RevokeRole(ctx context.Context, userID, roleID int64) error

	CreateAPIKey(ctx context.Context, k *APIKey) error
	ListAPIKeys(ctx context.Context, userID int64) ([]APIKey, error)
	// FindAPIKeysByPrefix returns the keys, active or not, whose display
	// prefix equals prefix. An empty prefix returns every key.
	FindAPIKeysByPrefix(ctx context.Context, prefix string) ([]APIKey, error)
	TouchAPIKey(ctx context.Context, keyID int64, at time.Time) error
	DeactivateAPIKey(ctx context.Context, userID, keyID int64) error
	DeactivateExpiredAPIKeys(ctx context.Context, now time.Time) (int64, error)

	Ping(ctx context.Context) error
}
