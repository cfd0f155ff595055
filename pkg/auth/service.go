package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/platinummonkey/hrauth/pkg/cache"
	"github.com/platinummonkey/hrauth/pkg/observability"
)

// ServiceConfig holds the tunable rules of the Service.
type ServiceConfig struct {
	Lockout  LockoutPolicy
	Password PasswordPolicy
	// DefaultRole is granted at registration when a role of that name exists.
	DefaultRole string
	// StoreTimeout bounds every CredentialStore call.
	StoreTimeout time.Duration
	ProfileTTL   time.Duration
}

// DefaultServiceConfig returns the stock policies.
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		Lockout:      DefaultLockoutPolicy(),
		Password:     DefaultPasswordPolicy(),
		DefaultRole:  "user",
		StoreTimeout: 5 * time.Second,
		ProfileTTL:   5 * time.Minute,
	}
}

// LoginResult is returned by a successful Authenticate.
type LoginResult struct {
	TokenPair
	User PublicUser `json:"user"`
}

// ProfileUpdate carries the optional fields of a profile update. Nil fields
// are left unchanged.
type ProfileUpdate struct {
	Email     *string
	FirstName *string
	LastName  *string
}

// Service orchestrates the hasher, token codec, lockout policy and
// credential store into the authentication use cases. It keeps no mutable
// state of its own and is safe for concurrent use.
type Service struct {
	store   CredentialStore
	hasher  Hasher
	tokens  *TokenCodec
	keys    *APIKeyGenerator
	cfg     ServiceConfig
	cache   *cache.Aside
	audit   *AuditLogger
	metrics *observability.Metrics
	logger  *observability.Logger
	now     func() time.Time

	dummyOnce sync.Once
	dummyHash string
}

// Option configures a Service.
type Option func(*Service)

// WithCache enables cache-aside profile reads.
func WithCache(a *cache.Aside) Option {
	return func(s *Service) { s.cache = a }
}

// WithLogger sets the service logger.
func WithLogger(l *observability.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithMetrics enables Prometheus instrumentation.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithClock replaces the time source of the service and its token codec.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates the authentication service.
func NewService(store CredentialStore, hasher Hasher, tokens *TokenCodec, cfg ServiceConfig, opts ...Option) *Service {
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 5 * time.Second
	}
	if cfg.ProfileTTL <= 0 {
		cfg.ProfileTTL = 5 * time.Minute
	}

	s := &Service{
		store:  store,
		hasher: hasher,
		tokens: tokens,
		keys:   NewAPIKeyGenerator(hasher),
		cfg:    cfg,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.logger == nil {
		s.logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	s.logger = s.logger.WithField("component", "auth")
	s.audit = NewAuditLogger(s.logger)
	s.audit.now = s.now
	s.tokens = s.tokens.WithClock(s.now)
	return s
}

// Tokens exposes the codec used by the service.
func (s *Service) Tokens() *TokenCodec { return s.tokens }

// storeCall runs fn with the store timeout and maps deadline or cancellation
// failures to ErrStoreUnavailable.
func storeCall[T any](ctx context.Context, s *Service, op string, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()

	start := time.Now()
	v, err := fn(ctx)
	if err != nil && !errors.Is(err, ErrStoreUnavailable) &&
		(errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)) {
		err = StoreError(op, err)
	}
	s.metrics.ObserveStore(op, start, errors.Is(err, ErrStoreUnavailable))
	return v, err
}

func storeExec(ctx context.Context, s *Service, op string, fn func(context.Context) error) error {
	_, err := storeCall(ctx, s, op, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

func (s *Service) getUser(ctx context.Context, id int64) (*User, error) {
	return storeCall(ctx, s, "get_user", func(ctx context.Context) (*User, error) {
		return s.store.GetUserByID(ctx, id)
	})
}

func (s *Service) userRoles(ctx context.Context, id int64) ([]Role, error) {
	return storeCall(ctx, s, "get_user_roles", func(ctx context.Context) ([]Role, error) {
		return s.store.GetUserRoles(ctx, id)
	})
}

// Register creates a new active, non-superuser account. Username and email
// are compared exactly as given.
func (s *Service) Register(ctx context.Context, username, email, password string, profile Profile) (*PublicUser, error) {
	ctx, span := observability.StartSpan(ctx, "auth.register")
	pub, err := s.register(ctx, username, email, password, profile)
	observability.EndSpan(span, err)
	return pub, err
}

func (s *Service) register(ctx context.Context, username, email, password string, profile Profile) (*PublicUser, error) {
	if strings.TrimSpace(username) == "" || strings.TrimSpace(email) == "" {
		return nil, fmt.Errorf("%w: username and email are required", ErrInvalidInput)
	}

	switch _, err := storeCall(ctx, s, "get_user_by_username", func(ctx context.Context) (*User, error) {
		return s.store.GetUserByUsername(ctx, username)
	}); {
	case err == nil:
		return nil, ErrDuplicateUsername
	case !errors.Is(err, ErrUserNotFound):
		return nil, err
	}

	switch _, err := storeCall(ctx, s, "get_user_by_email", func(ctx context.Context) (*User, error) {
		return s.store.GetUserByEmail(ctx, email)
	}); {
	case err == nil:
		return nil, ErrDuplicateEmail
	case !errors.Is(err, ErrUserNotFound):
		return nil, err
	}

	if err := s.cfg.Password.Validate(password); err != nil {
		return nil, err
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, err
	}

	now := s.now()
	u := &User{
		UUID:         uuid.New(),
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		FirstName:    profile.FirstName,
		LastName:     profile.LastName,
		IsActive:     true,
		Timestamps:   Timestamps{CreatedAt: now, UpdatedAt: now},
	}
	if err := storeExec(ctx, s, "create_user", func(ctx context.Context) error {
		return s.store.CreateUser(ctx, u)
	}); err != nil {
		return nil, err
	}

	var roles []Role
	if s.cfg.DefaultRole != "" {
		roles, err = s.grantDefaultRole(ctx, u)
		if err != nil {
			return nil, err
		}
	}

	s.audit.Record(ctx, ActionRegister, StatusSuccess, u.ID, u.Username, nil)
	pub := NewPublicUser(u, roles, now)
	return &pub, nil
}

func (s *Service) grantDefaultRole(ctx context.Context, u *User) ([]Role, error) {
	role, err := storeCall(ctx, s, "get_role", func(ctx context.Context) (*Role, error) {
		return s.store.GetRoleByName(ctx, s.cfg.DefaultRole)
	})
	if errors.Is(err, ErrRoleNotFound) {
		s.logger.WithField("role", s.cfg.DefaultRole).Debug("default role not found, skipping assignment")
		return nil, nil
	} else if err != nil {
		return nil, err
	}

	grant := UserRole{UserID: u.ID, RoleID: role.ID, GrantedAt: s.now()}
	if _, err := storeCall(ctx, s, "assign_role", func(ctx context.Context) (bool, error) {
		return s.store.AssignRole(ctx, grant)
	}); err != nil {
		return nil, err
	}
	return []Role{*role}, nil
}

// lookupLogin resolves by username first, then by email.
func (s *Service) lookupLogin(ctx context.Context, login string) (*User, error) {
	u, err := storeCall(ctx, s, "get_user_by_username", func(ctx context.Context) (*User, error) {
		return s.store.GetUserByUsername(ctx, login)
	})
	if !errors.Is(err, ErrUserNotFound) {
		return u, err
	}
	return storeCall(ctx, s, "get_user_by_email", func(ctx context.Context) (*User, error) {
		return s.store.GetUserByEmail(ctx, login)
	})
}

// burnVerify spends a verification cycle against a fixed digest so unknown
// logins take as long as wrong passwords.
func (s *Service) burnVerify(password string) {
	s.dummyOnce.Do(func() {
		s.dummyHash, _ = s.hasher.Hash("hrauth-timing-equalizer")
	})
	s.hasher.Verify(password, s.dummyHash)
}

// Authenticate verifies a username (or email) and password and issues a
// token pair. Locked accounts are rejected before the password is looked at.
func (s *Service) Authenticate(ctx context.Context, login, password string) (*LoginResult, error) {
	ctx, span := observability.StartSpan(ctx, "auth.authenticate")
	res, err := s.authenticate(ctx, login, password)
	if res != nil {
		span.SetAttributes(attribute.Int64("user.id", res.User.ID))
	}
	observability.EndSpan(span, err)

	s.metrics.RecordLogin(loginOutcome(err))
	return res, err
}

func loginOutcome(err error) string {
	if err == nil {
		return "success"
	}
	return ErrorKind(err)
}

func (s *Service) authenticate(ctx context.Context, login, password string) (*LoginResult, error) {
	u, err := s.lookupLogin(ctx, login)
	if errors.Is(err, ErrUserNotFound) {
		s.burnVerify(password)
		s.audit.Record(ctx, ActionLoginFailed, StatusFailure, 0, login, ErrInvalidCredentials)
		return nil, ErrInvalidCredentials
	} else if err != nil {
		return nil, err
	}

	now := s.now()
	policy := s.cfg.Lockout

	if state := u.Lockout(); policy.IsLocked(state, now) {
		s.audit.Record(ctx, ActionLoginFailed, StatusDenied, u.ID, u.Username, ErrAccountLocked)
		return nil, &LockedError{Until: *state.LockedUntil}
	}
	if !u.IsActive {
		s.audit.Record(ctx, ActionLoginFailed, StatusDenied, u.ID, u.Username, ErrAccountInactive)
		return nil, ErrAccountInactive
	}

	if !s.hasher.Verify(password, u.PasswordHash) {
		return nil, s.recordFailure(ctx, u, now)
	}

	// A concurrent failure may have locked the account since it was read;
	// the success transition only applies to an unlocked row.
	if _, err := storeCall(ctx, s, "update_lockout", func(ctx context.Context) (LockoutState, error) {
		return s.store.UpdateLockout(ctx, u.ID, func(cur LockoutState) (LockoutState, error) {
			if policy.IsLocked(cur, now) {
				return cur, &LockedError{Until: *cur.LockedUntil}
			}
			return policy.OnSuccess(), nil
		})
	}); err != nil {
		return nil, err
	}

	if err := storeExec(ctx, s, "record_login", func(ctx context.Context) error {
		return s.store.RecordLogin(ctx, u.ID, now)
	}); err != nil {
		return nil, err
	}
	u.FailedLoginAttempts, u.LockedUntil, u.LastLoginAt = 0, nil, &now

	roles, err := s.userRoles(ctx, u.ID)
	if err != nil {
		return nil, err
	}

	pair, err := s.issuePair(u, roles)
	if err != nil {
		return nil, err
	}

	s.audit.Record(ctx, ActionLoginSuccess, StatusSuccess, u.ID, u.Username, nil)
	return &LoginResult{TokenPair: *pair, User: NewPublicUser(u, roles, now)}, nil
}

// recordFailure applies the failure transition atomically and returns the
// error the caller should see.
func (s *Service) recordFailure(ctx context.Context, u *User, now time.Time) error {
	policy := s.cfg.Lockout
	crossed := false

	state, err := storeCall(ctx, s, "update_lockout", func(ctx context.Context) (LockoutState, error) {
		return s.store.UpdateLockout(ctx, u.ID, func(cur LockoutState) (LockoutState, error) {
			next := policy.OnFailure(cur, now)
			crossed = !policy.IsLocked(cur, now) && policy.IsLocked(next, now)
			return next, nil
		})
	})
	if err != nil {
		return err
	}

	if policy.IsLocked(state, now) {
		if crossed {
			s.invalidateUser(ctx, u.ID)
			s.metrics.RecordLockout()
			s.audit.Record(ctx, ActionAccountLocked, StatusDenied, u.ID, u.Username, nil)
			s.logger.WithFields(map[string]interface{}{
				"user_id":      u.ID,
				"locked_until": state.LockedUntil.UTC(),
			}).Warn("account locked after repeated failed logins")
		}
		return &LockedError{Until: *state.LockedUntil}
	}

	s.audit.Record(ctx, ActionLoginFailed, StatusFailure, u.ID, u.Username, ErrInvalidCredentials)
	return ErrInvalidCredentials
}

func (s *Service) issuePair(u *User, roles []Role) (*TokenPair, error) {
	subject := strconv.FormatInt(u.ID, 10)

	access, exp, err := s.tokens.IssueAccess(subject, Claims{
		Username:    u.Username,
		Email:       u.Email,
		IsSuperuser: u.IsSuperuser,
		Roles:       ActiveRoleNames(roles),
	})
	if err != nil {
		return nil, err
	}
	refresh, _, err := s.tokens.IssueRefresh(subject)
	if err != nil {
		return nil, err
	}
	s.metrics.RecordTokenIssued(string(TokenAccess))
	s.metrics.RecordTokenIssued(string(TokenRefresh))

	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "bearer",
		ExpiresIn:    int64(s.tokens.AccessTTL().Seconds()),
		ExpiresAt:    exp,
	}, nil
}

// Refresh exchanges a refresh token for a new pair. The owning user must
// still exist and be active. The presented token is not revoked.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	ctx, span := observability.StartSpan(ctx, "auth.refresh")
	pair, err := s.refresh(ctx, refreshToken)
	observability.EndSpan(span, err)
	return pair, err
}

func (s *Service) refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	claims, err := s.tokens.DecodeKind(refreshToken, TokenRefresh)
	if err != nil {
		s.metrics.RecordTokenRejected(ErrorKind(err))
		return nil, err
	}

	id, err := claims.UserID()
	if err != nil {
		s.metrics.RecordTokenRejected(ErrorKind(err))
		return nil, err
	}

	u, err := s.getUser(ctx, id)
	if errors.Is(err, ErrUserNotFound) {
		return nil, fmt.Errorf("%w: subject no longer exists", ErrTokenInvalid)
	} else if err != nil {
		return nil, err
	}
	if !u.IsActive {
		return nil, ErrAccountInactive
	}

	roles, err := s.userRoles(ctx, u.ID)
	if err != nil {
		return nil, err
	}

	pair, err := s.issuePair(u, roles)
	if err != nil {
		return nil, err
	}
	s.audit.Record(ctx, ActionTokenRefreshed, StatusSuccess, u.ID, u.Username, nil)
	return pair, nil
}

// ChangePassword replaces the password after verifying the current one.
// Outstanding refresh tokens remain valid until they expire.
func (s *Service) ChangePassword(ctx context.Context, userID int64, oldPassword, newPassword string) error {
	u, err := s.getUser(ctx, userID)
	if err != nil {
		return err
	}

	if !s.hasher.Verify(oldPassword, u.PasswordHash) {
		s.audit.Record(ctx, ActionPasswordChanged, StatusFailure, u.ID, u.Username, ErrInvalidCredentials)
		return ErrInvalidCredentials
	}
	if err := s.cfg.Password.Validate(newPassword); err != nil {
		return err
	}
	if newPassword == oldPassword {
		return ErrPasswordUnchanged
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return err
	}
	if err := storeExec(ctx, s, "update_password", func(ctx context.Context) error {
		return s.store.UpdatePassword(ctx, u.ID, hash)
	}); err != nil {
		return err
	}

	s.invalidateUser(ctx, u.ID)
	s.audit.Record(ctx, ActionPasswordChanged, StatusSuccess, u.ID, u.Username, nil)
	return nil
}

// AssignRole grants roleName to the user. Granting an already held role
// succeeds without creating a second grant.
func (s *Service) AssignRole(ctx context.Context, userID int64, roleName string, grantedBy *int64) error {
	u, err := s.getUser(ctx, userID)
	if err != nil {
		return err
	}
	role, err := storeCall(ctx, s, "get_role", func(ctx context.Context) (*Role, error) {
		return s.store.GetRoleByName(ctx, roleName)
	})
	if err != nil {
		return err
	}

	grant := UserRole{UserID: u.ID, RoleID: role.ID, GrantedAt: s.now(), GrantedBy: grantedBy}
	created, err := storeCall(ctx, s, "assign_role", func(ctx context.Context) (bool, error) {
		return s.store.AssignRole(ctx, grant)
	})
	if err != nil {
		return err
	}

	if created {
		s.invalidateUser(ctx, u.ID)
		s.audit.Record(ctx, ActionRoleAssigned, StatusSuccess, u.ID, u.Username, nil)
	}
	return nil
}

// RevokeRole removes roleName from the user. Revoking a role the user does
// not hold is not an error.
func (s *Service) RevokeRole(ctx context.Context, userID int64, roleName string) error {
	u, err := s.getUser(ctx, userID)
	if err != nil {
		return err
	}
	role, err := storeCall(ctx, s, "get_role", func(ctx context.Context) (*Role, error) {
		return s.store.GetRoleByName(ctx, roleName)
	})
	if err != nil {
		return err
	}

	if err := storeExec(ctx, s, "revoke_role", func(ctx context.Context) error {
		return s.store.RevokeRole(ctx, u.ID, role.ID)
	}); err != nil {
		return err
	}

	s.invalidateUser(ctx, u.ID)
	s.audit.Record(ctx, ActionRoleRevoked, StatusSuccess, u.ID, u.Username, nil)
	return nil
}

// UnlockAccount clears the lock and the failure counter.
func (s *Service) UnlockAccount(ctx context.Context, userID int64) error {
	if _, err := storeCall(ctx, s, "update_lockout", func(ctx context.Context) (LockoutState, error) {
		return s.store.UpdateLockout(ctx, userID, func(LockoutState) (LockoutState, error) {
			return s.cfg.Lockout.Unlock(), nil
		})
	}); err != nil {
		return err
	}

	s.invalidateUser(ctx, userID)
	s.audit.Record(ctx, ActionAccountUnlocked, StatusSuccess, userID, "", nil)
	return nil
}

// ListLockedUsers returns the accounts whose lock has not yet lapsed.
func (s *Service) ListLockedUsers(ctx context.Context) ([]PublicUser, error) {
	now := s.now()
	users, err := storeCall(ctx, s, "list_locked_users", func(ctx context.Context) ([]*User, error) {
		return s.store.ListLockedUsers(ctx, now)
	})
	if err != nil {
		return nil, err
	}

	out := make([]PublicUser, 0, len(users))
	for _, u := range users {
		out = append(out, NewPublicUser(u, nil, now))
	}
	return out, nil
}

// ClearLapsedLocks resets accounts whose lock has expired.
func (s *Service) ClearLapsedLocks(ctx context.Context) (int64, error) {
	now := s.now()
	return storeCall(ctx, s, "clear_lapsed_locks", func(ctx context.Context) (int64, error) {
		return s.store.ClearLapsedLocks(ctx, now)
	})
}

// SetActive activates or deactivates an account. Deactivation immediately
// stops token and API key authentication for the user.
func (s *Service) SetActive(ctx context.Context, userID int64, active bool) error {
	if err := storeExec(ctx, s, "set_user_active", func(ctx context.Context) error {
		return s.store.SetUserActive(ctx, userID, active)
	}); err != nil {
		return err
	}

	s.invalidateUser(ctx, userID)
	action := ActionUserDeactivated
	if active {
		action = ActionUserActivated
	}
	s.audit.Record(ctx, action, StatusSuccess, userID, "", nil)
	return nil
}

// GetProfile returns the public projection of a user, served from the cache
// when one is configured.
func (s *Service) GetProfile(ctx context.Context, userID int64) (*PublicUser, error) {
	load := func(ctx context.Context) (PublicUser, error) {
		u, err := s.getUser(ctx, userID)
		if err != nil {
			return PublicUser{}, err
		}
		roles, err := s.userRoles(ctx, userID)
		if err != nil {
			return PublicUser{}, err
		}
		return NewPublicUser(u, roles, s.now()), nil
	}

	if s.cache == nil {
		pub, err := load(ctx)
		if err != nil {
			return nil, err
		}
		return &pub, nil
	}

	pub, err := cache.GetOrLoad(ctx, s.cache, cache.ProfileKey(userID), s.cfg.ProfileTTL, load)
	if err != nil {
		return nil, err
	}
	return &pub, nil
}

// UpdateProfile changes email and name fields. The new email must not
// belong to another user.
func (s *Service) UpdateProfile(ctx context.Context, userID int64, upd ProfileUpdate) (*PublicUser, error) {
	u, err := s.getUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	if upd.Email != nil && *upd.Email != u.Email {
		other, err := storeCall(ctx, s, "get_user_by_email", func(ctx context.Context) (*User, error) {
			return s.store.GetUserByEmail(ctx, *upd.Email)
		})
		switch {
		case err == nil && other.ID != u.ID:
			return nil, ErrDuplicateEmail
		case err != nil && !errors.Is(err, ErrUserNotFound):
			return nil, err
		}
		u.Email = *upd.Email
	}
	if upd.FirstName != nil {
		u.FirstName = *upd.FirstName
	}
	if upd.LastName != nil {
		u.LastName = *upd.LastName
	}
	u.UpdatedAt = s.now()

	if err := storeExec(ctx, s, "update_profile", func(ctx context.Context) error {
		return s.store.UpdateProfile(ctx, u)
	}); err != nil {
		return nil, err
	}
	s.invalidateUser(ctx, u.ID)
	s.audit.Record(ctx, ActionProfileUpdated, StatusSuccess, u.ID, u.Username, nil)

	roles, err := s.userRoles(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	pub := NewPublicUser(u, roles, s.now())
	return &pub, nil
}

// Logout drops cached state for the user. Tokens are discarded by the
// client; nothing is revoked server side.
func (s *Service) Logout(ctx context.Context, userID int64) {
	s.invalidateUser(ctx, userID)
	s.audit.Record(ctx, ActionLogout, StatusSuccess, userID, "", nil)
}

func (s *Service) invalidateUser(ctx context.Context, userID int64) {
	if s.cache != nil {
		s.cache.InvalidatePattern(ctx, cache.UserPattern(userID))
	}
}

// CreateRole defines a new role.
func (s *Service) CreateRole(ctx context.Context, name, description string, permissions []string) (*Role, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("%w: role name is required", ErrInvalidInput)
	}

	now := s.now()
	r := &Role{
		Name:        name,
		Description: description,
		Permissions: dedupe(permissions),
		IsActive:    true,
		Timestamps:  Timestamps{CreatedAt: now, UpdatedAt: now},
	}
	if err := storeExec(ctx, s, "create_role", func(ctx context.Context) error {
		return s.store.CreateRole(ctx, r)
	}); err != nil {
		return nil, err
	}

	s.audit.Record(ctx, ActionRoleCreated, StatusSuccess, 0, "", nil)
	return r, nil
}

// ListRoles returns every role.
func (s *Service) ListRoles(ctx context.Context) ([]Role, error) {
	return storeCall(ctx, s, "list_roles", func(ctx context.Context) ([]Role, error) {
		return s.store.ListRoles(ctx)
	})
}

// Identity loads the user and its live roles. Missing users yield
// ErrUserNotFound, deactivated ones ErrAccountInactive.
func (s *Service) Identity(ctx context.Context, userID int64, channel Channel) (*Identity, error) {
	u, err := s.getUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !u.IsActive {
		return nil, ErrAccountInactive
	}
	roles, err := s.userRoles(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	return NewIdentity(u, roles, channel), nil
}

// AuthenticateAccessToken resolves a bearer token into an identity. Only
// access tokens are accepted; permissions come from live role state, not
// from the token claims.
func (s *Service) AuthenticateAccessToken(ctx context.Context, token string) (*Identity, error) {
	claims, err := s.tokens.DecodeKind(token, TokenAccess)
	if err != nil {
		s.metrics.RecordTokenRejected(ErrorKind(err))
		return nil, err
	}
	id, err := claims.UserID()
	if err != nil {
		s.metrics.RecordTokenRejected(ErrorKind(err))
		return nil, err
	}

	ident, err := s.Identity(ctx, id, ChannelToken)
	if errors.Is(err, ErrUserNotFound) {
		return nil, fmt.Errorf("%w: subject no longer exists", ErrUnauthenticated)
	}
	return ident, err
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
