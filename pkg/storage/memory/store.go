// Package memory provides an in-process CredentialStore for development and
// tests. All state lives behind one mutex, which also serializes lockout
// updates.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/platinummonkey/hrauth/pkg/auth"
)

// Store implements auth.CredentialStore in memory.
type Store struct {
	mu sync.Mutex

	users  map[int64]*auth.User
	roles  map[int64]*auth.Role
	grants map[int64]map[int64]auth.UserRole // user id -> role id -> grant
	keys   map[int64]*auth.APIKey

	nextUserID int64
	nextRoleID int64
	nextKeyID  int64

	// failNext, when set, is returned by the next call instead of running it.
	failNext error
}

var _ auth.CredentialStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		users:  make(map[int64]*auth.User),
		roles:  make(map[int64]*auth.Role),
		grants: make(map[int64]map[int64]auth.UserRole),
		keys:   make(map[int64]*auth.APIKey),
	}
}

// FailNext makes the next store call return err wrapped as a store failure.
func (s *Store) FailNext(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = err
}

// begin takes the lock and checks for cancellation or an injected failure.
// The returned unlock must be called even when err is non-nil.
func (s *Store) begin(ctx context.Context, op string) (unlock func(), err error) {
	s.mu.Lock()
	if err := ctx.Err(); err != nil {
		return s.mu.Unlock, auth.StoreError(op, err)
	}
	if err := s.failNext; err != nil {
		s.failNext = nil
		return s.mu.Unlock, auth.StoreError(op, err)
	}
	return s.mu.Unlock, nil
}

func copyUser(u *auth.User) *auth.User {
	cp := *u
	if u.LockedUntil != nil {
		t := *u.LockedUntil
		cp.LockedUntil = &t
	}
	if u.LastLoginAt != nil {
		t := *u.LastLoginAt
		cp.LastLoginAt = &t
	}
	return &cp
}

func copyRole(r *auth.Role) auth.Role {
	cp := *r
	cp.Permissions = append([]string(nil), r.Permissions...)
	return cp
}

func copyKey(k *auth.APIKey) auth.APIKey {
	cp := *k
	cp.Scopes = append([]string(nil), k.Scopes...)
	if k.ExpiresAt != nil {
		t := *k.ExpiresAt
		cp.ExpiresAt = &t
	}
	if k.LastUsedAt != nil {
		t := *k.LastUsedAt
		cp.LastUsedAt = &t
	}
	return cp
}

func (s *Store) CreateUser(ctx context.Context, u *auth.User) error {
	unlock, err := s.begin(ctx, "create user")
	defer unlock()
	if err != nil {
		return err
	}

	for _, existing := range s.users {
		if existing.Username == u.Username {
			return auth.ErrDuplicateUsername
		}
		if existing.Email == u.Email {
			return auth.ErrDuplicateEmail
		}
	}

	s.nextUserID++
	u.ID = s.nextUserID
	s.users[u.ID] = copyUser(u)
	return nil
}

func (s *Store) findUser(match func(*auth.User) bool) (*auth.User, error) {
	for _, u := range s.users {
		if match(u) {
			return copyUser(u), nil
		}
	}
	return nil, auth.ErrUserNotFound
}

func (s *Store) GetUserByID(ctx context.Context, id int64) (*auth.User, error) {
	unlock, err := s.begin(ctx, "get user")
	defer unlock()
	if err != nil {
		return nil, err
	}

	u, ok := s.users[id]
	if !ok {
		return nil, auth.ErrUserNotFound
	}
	return copyUser(u), nil
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*auth.User, error) {
	unlock, err := s.begin(ctx, "get user by username")
	defer unlock()
	if err != nil {
		return nil, err
	}
	return s.findUser(func(u *auth.User) bool { return u.Username == username })
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*auth.User, error) {
	unlock, err := s.begin(ctx, "get user by email")
	defer unlock()
	if err != nil {
		return nil, err
	}
	return s.findUser(func(u *auth.User) bool { return u.Email == email })
}

// mutateUser applies fn to the stored user under the lock.
func (s *Store) mutateUser(ctx context.Context, op string, id int64, fn func(u *auth.User) error) error {
	unlock, err := s.begin(ctx, op)
	defer unlock()
	if err != nil {
		return err
	}

	u, ok := s.users[id]
	if !ok {
		return auth.ErrUserNotFound
	}
	return fn(u)
}

func (s *Store) UpdateProfile(ctx context.Context, in *auth.User) error {
	return s.mutateUser(ctx, "update profile", in.ID, func(u *auth.User) error {
		for _, other := range s.users {
			if other.ID != u.ID && other.Email == in.Email {
				return auth.ErrDuplicateEmail
			}
		}
		u.Email = in.Email
		u.FirstName = in.FirstName
		u.LastName = in.LastName
		u.UpdatedAt = in.UpdatedAt
		return nil
	})
}

func (s *Store) UpdatePassword(ctx context.Context, userID int64, hash string) error {
	return s.mutateUser(ctx, "update password", userID, func(u *auth.User) error {
		u.PasswordHash = hash
		u.UpdatedAt = time.Now()
		return nil
	})
}

func (s *Store) SetUserActive(ctx context.Context, userID int64, active bool) error {
	return s.mutateUser(ctx, "set user active", userID, func(u *auth.User) error {
		u.IsActive = active
		u.UpdatedAt = time.Now()
		return nil
	})
}

func (s *Store) RecordLogin(ctx context.Context, userID int64, at time.Time) error {
	return s.mutateUser(ctx, "record login", userID, func(u *auth.User) error {
		u.LastLoginAt = &at
		return nil
	})
}

// SetSuperuser is a test and bootstrap helper; the service never grants
// superuser.
func (s *Store) SetSuperuser(ctx context.Context, userID int64, superuser bool) error {
	return s.mutateUser(ctx, "set superuser", userID, func(u *auth.User) error {
		u.IsSuperuser = superuser
		return nil
	})
}

func (s *Store) DeleteUser(ctx context.Context, userID int64) error {
	unlock, err := s.begin(ctx, "delete user")
	defer unlock()
	if err != nil {
		return err
	}

	if _, ok := s.users[userID]; !ok {
		return auth.ErrUserNotFound
	}
	delete(s.users, userID)
	delete(s.grants, userID)
	for id, k := range s.keys {
		if k.UserID == userID {
			delete(s.keys, id)
		}
	}
	return nil
}

func (s *Store) UpdateLockout(ctx context.Context, userID int64, fn auth.LockoutFunc) (auth.LockoutState, error) {
	var out auth.LockoutState
	err := s.mutateUser(ctx, "update lockout", userID, func(u *auth.User) error {
		next, err := fn(u.Lockout())
		if err != nil {
			return err
		}
		u.FailedLoginAttempts = next.FailedAttempts
		u.LockedUntil = nil
		if next.LockedUntil != nil {
			t := *next.LockedUntil
			u.LockedUntil = &t
		}
		out = u.Lockout()
		return nil
	})
	return out, err
}

func (s *Store) ListLockedUsers(ctx context.Context, now time.Time) ([]*auth.User, error) {
	unlock, err := s.begin(ctx, "list locked users")
	defer unlock()
	if err != nil {
		return nil, err
	}

	var out []*auth.User
	for _, u := range s.users {
		if u.Lockout().LockedAt(now) {
			out = append(out, copyUser(u))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) ClearLapsedLocks(ctx context.Context, now time.Time) (int64, error) {
	unlock, err := s.begin(ctx, "clear lapsed locks")
	defer unlock()
	if err != nil {
		return 0, err
	}

	var n int64
	for _, u := range s.users {
		if u.LockedUntil != nil && !now.Before(*u.LockedUntil) {
			u.LockedUntil = nil
			u.FailedLoginAttempts = 0
			n++
		}
	}
	return n, nil
}

func (s *Store) CreateRole(ctx context.Context, r *auth.Role) error {
	unlock, err := s.begin(ctx, "create role")
	defer unlock()
	if err != nil {
		return err
	}

	for _, existing := range s.roles {
		if existing.Name == r.Name {
			return auth.ErrDuplicateRole
		}
	}
	s.nextRoleID++
	r.ID = s.nextRoleID
	cp := copyRole(r)
	s.roles[r.ID] = &cp
	return nil
}

func (s *Store) SetRoleActive(ctx context.Context, name string, active bool) error {
	unlock, err := s.begin(ctx, "set role active")
	defer unlock()
	if err != nil {
		return err
	}

	for _, r := range s.roles {
		if r.Name == name {
			r.IsActive = active
			r.UpdatedAt = time.Now().UTC()
			return nil
		}
	}
	return auth.ErrRoleNotFound
}

func (s *Store) UpdateRolePermissions(ctx context.Context, roleID int64, fn auth.PermissionsFunc) (*auth.Role, error) {
	unlock, err := s.begin(ctx, "update role permissions")
	defer unlock()
	if err != nil {
		return nil, err
	}

	r, ok := s.roles[roleID]
	if !ok {
		return nil, auth.ErrRoleNotFound
	}
	r.Permissions = append([]string(nil), fn(append([]string(nil), r.Permissions...))...)
	r.UpdatedAt = time.Now().UTC()
	cp := copyRole(r)
	return &cp, nil
}

func (s *Store) ListUsersByRole(ctx context.Context, roleID int64, limit, offset int) ([]*auth.User, error) {
	unlock, err := s.begin(ctx, "list users by role")
	defer unlock()
	if err != nil {
		return nil, err
	}

	var holders []*auth.User
	for userID, grants := range s.grants {
		if _, ok := grants[roleID]; !ok {
			continue
		}
		if u, ok := s.users[userID]; ok && u.IsActive {
			holders = append(holders, u)
		}
	}
	sort.Slice(holders, func(i, j int) bool { return holders[i].ID < holders[j].ID })

	out := []*auth.User{}
	for i := max(offset, 0); i < len(holders) && len(out) < limit; i++ {
		out = append(out, copyUser(holders[i]))
	}
	return out, nil
}

func (s *Store) GetRoleByName(ctx context.Context, name string) (*auth.Role, error) {
	unlock, err := s.begin(ctx, "get role")
	defer unlock()
	if err != nil {
		return nil, err
	}

	for _, r := range s.roles {
		if r.Name == name {
			cp := copyRole(r)
			return &cp, nil
		}
	}
	return nil, auth.ErrRoleNotFound
}

func (s *Store) ListRoles(ctx context.Context) ([]auth.Role, error) {
	unlock, err := s.begin(ctx, "list roles")
	defer unlock()
	if err != nil {
		return nil, err
	}

	out := make([]auth.Role, 0, len(s.roles))
	for _, r := range s.roles {
		out = append(out, copyRole(r))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) GetUserRoles(ctx context.Context, userID int64) ([]auth.Role, error) {
	unlock, err := s.begin(ctx, "get user roles")
	defer unlock()
	if err != nil {
		return nil, err
	}

	out := make([]auth.Role, 0, len(s.grants[userID]))
	for roleID := range s.grants[userID] {
		if r, ok := s.roles[roleID]; ok {
			out = append(out, copyRole(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// GrantCount returns the number of grants held by a user.
func (s *Store) GrantCount(userID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.grants[userID])
}

func (s *Store) AssignRole(ctx context.Context, grant auth.UserRole) (bool, error) {
	unlock, err := s.begin(ctx, "assign role")
	defer unlock()
	if err != nil {
		return false, err
	}

	if _, ok := s.users[grant.UserID]; !ok {
		return false, auth.ErrUserNotFound
	}
	if _, ok := s.roles[grant.RoleID]; !ok {
		return false, auth.ErrRoleNotFound
	}
	if s.grants[grant.UserID] == nil {
		s.grants[grant.UserID] = make(map[int64]auth.UserRole)
	}
	if _, exists := s.grants[grant.UserID][grant.RoleID]; exists {
		return false, nil
	}
	s.grants[grant.UserID][grant.RoleID] = grant
	return true, nil
}

func (s *Store) RevokeRole(ctx context.Context, userID, roleID int64) error {
	unlock, err := s.begin(ctx, "revoke role")
	defer unlock()
	if err != nil {
		return err
	}

	delete(s.grants[userID], roleID)
	return nil
}

func (s *Store) CreateAPIKey(ctx context.Context, k *auth.APIKey) error {
	unlock, err := s.begin(ctx, "create api key")
	defer unlock()
	if err != nil {
		return err
	}

	if _, ok := s.users[k.UserID]; !ok {
		return auth.ErrUserNotFound
	}
	s.nextKeyID++
	k.ID = s.nextKeyID
	cp := copyKey(k)
	s.keys[k.ID] = &cp
	return nil
}

func (s *Store) ListAPIKeys(ctx context.Context, userID int64) ([]auth.APIKey, error) {
	unlock, err := s.begin(ctx, "list api keys")
	defer unlock()
	if err != nil {
		return nil, err
	}

	var out []auth.APIKey
	for _, k := range s.keys {
		if k.UserID == userID {
			out = append(out, copyKey(k))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) FindAPIKeysByPrefix(ctx context.Context, prefix string) ([]auth.APIKey, error) {
	unlock, err := s.begin(ctx, "find api keys")
	defer unlock()
	if err != nil {
		return nil, err
	}

	var out []auth.APIKey
	for _, k := range s.keys {
		if prefix != "" && k.KeyPrefix != prefix {
			continue
		}
		out = append(out, copyKey(k))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) TouchAPIKey(ctx context.Context, keyID int64, at time.Time) error {
	unlock, err := s.begin(ctx, "touch api key")
	defer unlock()
	if err != nil {
		return err
	}

	k, ok := s.keys[keyID]
	if !ok {
		return auth.ErrAPIKeyNotFound
	}
	k.LastUsedAt = &at
	return nil
}

func (s *Store) DeactivateAPIKey(ctx context.Context, userID, keyID int64) error {
	unlock, err := s.begin(ctx, "deactivate api key")
	defer unlock()
	if err != nil {
		return err
	}

	k, ok := s.keys[keyID]
	if !ok || k.UserID != userID {
		return auth.ErrAPIKeyNotFound
	}
	k.IsActive = false
	return nil
}

func (s *Store) DeactivateExpiredAPIKeys(ctx context.Context, now time.Time) (int64, error) {
	unlock, err := s.begin(ctx, "deactivate expired api keys")
	defer unlock()
	if err != nil {
		return 0, err
	}

	var n int64
	for _, k := range s.keys {
		if k.IsActive && k.Expired(now) {
			k.IsActive = false
			n++
		}
	}
	return n, nil
}

func (s *Store) Ping(ctx context.Context) error {
	unlock, err := s.begin(ctx, "ping")
	unlock()
	return err
}
