package auth_test

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/platinummonkey/hrauth/pkg/auth"
	"github.com/platinummonkey/hrauth/pkg/cache"
	"github.com/platinummonkey/hrauth/pkg/observability"
	"github.com/platinummonkey/hrauth/pkg/storage/memory"
)

const alicePassword = "Secret123!"

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	svc     *auth.Service
	store   *memory.Store
	clock   *fakeClock
	metrics *observability.Metrics
	ctx     context.Context
}

func newFixture(t *testing.T, opts ...auth.Option) *fixture {
	t.Helper()

	store := memory.New()
	clock := newFakeClock()
	metrics := observability.NewMetrics(prometheus.NewRegistry())

	tokens, err := auth.NewTokenCodec(auth.TokenConfig{
		Secret:     []byte("service-test-secret"),
		Issuer:     "hrauth-test",
		AccessTTL:  time.Hour,
		RefreshTTL: 7 * 24 * time.Hour,
	})
	require.NoError(t, err)

	base := []auth.Option{
		auth.WithClock(clock.Now),
		auth.WithMetrics(metrics),
		auth.WithLogger(observability.NewLogger(observability.ErrorLevel, &bytes.Buffer{})),
	}
	svc := auth.NewService(store, auth.NewBcryptHasher(bcrypt.MinCost), tokens, auth.DefaultServiceConfig(), append(base, opts...)...)

	return &fixture{svc: svc, store: store, clock: clock, metrics: metrics, ctx: context.Background()}
}

func (f *fixture) register(t *testing.T, username, email string) *auth.PublicUser {
	t.Helper()
	u, err := f.svc.Register(f.ctx, username, email, alicePassword, auth.Profile{})
	require.NoError(t, err)
	return u
}

func TestService_RegisterAndLogin(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.CreateRole(f.ctx, "user", "default role", []string{"profile:read"})
	require.NoError(t, err)

	u, err := f.svc.Register(f.ctx, "alice", "alice@x.com", alicePassword, auth.Profile{FirstName: "Alice"})
	require.NoError(t, err)
	assert.True(t, u.IsActive)
	assert.False(t, u.IsSuperuser)
	assert.Equal(t, []string{"user"}, u.Roles)
	assert.Equal(t, "Alice", u.FullName)

	res, err := f.svc.Authenticate(f.ctx, "alice", alicePassword)
	require.NoError(t, err)
	assert.Equal(t, "bearer", res.TokenType)
	assert.Equal(t, int64(3600), res.ExpiresIn)
	assert.NotEmpty(t, res.AccessToken)
	assert.NotEmpty(t, res.RefreshToken)
	assert.Equal(t, "alice", res.User.Username)
	require.NotNil(t, res.User.LastLoginAt)
	assert.Equal(t, f.clock.Now(), *res.User.LastLoginAt)

	claims, err := f.svc.Tokens().DecodeKind(res.AccessToken, auth.TokenAccess)
	require.NoError(t, err)
	assert.Equal(t, []string{"user"}, claims.Roles)

	// Login by email resolves the same account.
	_, err = f.svc.Authenticate(f.ctx, "alice@x.com", alicePassword)
	assert.NoError(t, err)

	assert.Equal(t, float64(2), testutil.ToFloat64(f.metrics.LoginAttemptsTotal.WithLabelValues("success")))
}

func TestService_RegisterValidation(t *testing.T) {
	f := newFixture(t)
	f.register(t, "alice", "alice@x.com")

	_, err := f.svc.Register(f.ctx, "alice", "other@x.com", alicePassword, auth.Profile{})
	assert.ErrorIs(t, err, auth.ErrDuplicateUsername)

	_, err = f.svc.Register(f.ctx, "alice2", "alice@x.com", alicePassword, auth.Profile{})
	assert.ErrorIs(t, err, auth.ErrDuplicateEmail)

	_, err = f.svc.Register(f.ctx, "bob", "bob@x.com", "short", auth.Profile{})
	assert.ErrorIs(t, err, auth.ErrWeakPassword)

	_, err = f.svc.Register(f.ctx, "", "nobody@x.com", alicePassword, auth.Profile{})
	assert.ErrorIs(t, err, auth.ErrInvalidInput)

	// Without a "user" role the account is created with no roles.
	u := f.register(t, "bob", "bob@x.com")
	assert.Empty(t, u.Roles)
}

func TestService_UniquenessIsCaseSensitive(t *testing.T) {
	f := newFixture(t)
	lower := f.register(t, "alice", "alice@x.com")

	upper, err := f.svc.Register(f.ctx, "Alice", "Alice@x.com", "Other123!", auth.Profile{})
	require.NoError(t, err, "usernames and emails differing only in case are distinct")
	assert.NotEqual(t, lower.ID, upper.ID)

	res, err := f.svc.Authenticate(f.ctx, "Alice", "Other123!")
	require.NoError(t, err)
	assert.Equal(t, upper.ID, res.User.ID)

	res, err = f.svc.Authenticate(f.ctx, "alice@x.com", alicePassword)
	require.NoError(t, err)
	assert.Equal(t, lower.ID, res.User.ID)

	_, err = f.svc.Authenticate(f.ctx, "ALICE", alicePassword)
	assert.ErrorIs(t, err, auth.ErrInvalidCredentials)

	_, err = f.svc.Register(f.ctx, "Alice", "third@x.com", alicePassword, auth.Profile{})
	assert.ErrorIs(t, err, auth.ErrDuplicateUsername)
	_, err = f.svc.Register(f.ctx, "alicia", "Alice@x.com", alicePassword, auth.Profile{})
	assert.ErrorIs(t, err, auth.ErrDuplicateEmail)
}

func TestService_LoginUnknownUser(t *testing.T) {
	f := newFixture(t)
	f.register(t, "alice", "alice@x.com")

	_, unknownErr := f.svc.Authenticate(f.ctx, "ghost", alicePassword)
	_, wrongErr := f.svc.Authenticate(f.ctx, "alice", "Wrong123!")

	assert.ErrorIs(t, unknownErr, auth.ErrInvalidCredentials)
	assert.ErrorIs(t, wrongErr, auth.ErrInvalidCredentials)
	assert.Equal(t, unknownErr.Error(), wrongErr.Error())
}

func TestService_LockoutLifecycle(t *testing.T) {
	f := newFixture(t)
	u := f.register(t, "alice", "alice@x.com")

	for i := 1; i <= 4; i++ {
		_, err := f.svc.Authenticate(f.ctx, "alice", "Wrong123!")
		require.ErrorIs(t, err, auth.ErrInvalidCredentials, "attempt %d", i)
	}
	stored, err := f.store.GetUserByID(f.ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, stored.FailedLoginAttempts)
	assert.Nil(t, stored.LockedUntil)

	_, err = f.svc.Authenticate(f.ctx, "alice", "Wrong123!")
	require.ErrorIs(t, err, auth.ErrAccountLocked)
	var locked *auth.LockedError
	require.True(t, errors.As(err, &locked))
	assert.Equal(t, f.clock.Now().Add(30*time.Minute), locked.Until)
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.AccountLockoutsTotal))

	// The correct password is refused while locked, and nothing changes.
	f.clock.Advance(10 * time.Minute)
	_, err = f.svc.Authenticate(f.ctx, "alice", alicePassword)
	require.ErrorIs(t, err, auth.ErrAccountLocked)
	stored, err = f.store.GetUserByID(f.ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, stored.FailedLoginAttempts)

	lockedUsers, err := f.svc.ListLockedUsers(f.ctx)
	require.NoError(t, err)
	require.Len(t, lockedUsers, 1)
	assert.True(t, lockedUsers[0].IsLocked)

	// After the lock lapses a wrong password counts from zero.
	f.clock.Advance(21 * time.Minute)
	_, err = f.svc.Authenticate(f.ctx, "alice", "Wrong123!")
	require.ErrorIs(t, err, auth.ErrInvalidCredentials)
	stored, err = f.store.GetUserByID(f.ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.FailedLoginAttempts)
	assert.Nil(t, stored.LockedUntil)

	// Success resets the counter.
	_, err = f.svc.Authenticate(f.ctx, "alice", alicePassword)
	require.NoError(t, err)
	stored, err = f.store.GetUserByID(f.ctx, u.ID)
	require.NoError(t, err)
	assert.Zero(t, stored.FailedLoginAttempts)
}

func TestService_LockoutEndToEnd(t *testing.T) {
	f := newFixture(t)
	u := f.register(t, "alice", "alice@x.com")

	var err error
	for i := 1; i <= 5; i++ {
		_, err = f.svc.Authenticate(f.ctx, "alice", "wrong")
	}
	require.ErrorIs(t, err, auth.ErrAccountLocked)

	_, err = f.svc.Authenticate(f.ctx, "alice", alicePassword)
	require.ErrorIs(t, err, auth.ErrAccountLocked)

	f.clock.Advance(auth.DefaultLockoutDuration + time.Second)
	res, err := f.svc.Authenticate(f.ctx, "alice", alicePassword)
	require.NoError(t, err)
	assert.NotEmpty(t, res.AccessToken)
	assert.NotEmpty(t, res.RefreshToken)

	stored, err := f.store.GetUserByID(f.ctx, u.ID)
	require.NoError(t, err)
	assert.Zero(t, stored.FailedLoginAttempts)
	assert.Nil(t, stored.LockedUntil)
}

func TestService_UnlockAccount(t *testing.T) {
	f := newFixture(t)
	u := f.register(t, "alice", "alice@x.com")

	for i := 0; i < 5; i++ {
		_, _ = f.svc.Authenticate(f.ctx, "alice", "Wrong123!")
	}
	_, err := f.svc.Authenticate(f.ctx, "alice", alicePassword)
	require.ErrorIs(t, err, auth.ErrAccountLocked)

	require.NoError(t, f.svc.UnlockAccount(f.ctx, u.ID))

	_, err = f.svc.Authenticate(f.ctx, "alice", alicePassword)
	assert.NoError(t, err)

	assert.ErrorIs(t, f.svc.UnlockAccount(f.ctx, 999), auth.ErrUserNotFound)
}

func TestService_ConcurrentFailuresAreCountedExactly(t *testing.T) {
	f := newFixture(t)
	u := f.register(t, "alice", "alice@x.com")

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = f.svc.Authenticate(f.ctx, "alice", "Wrong123!")
		}()
	}
	wg.Wait()

	stored, err := f.store.GetUserByID(f.ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, stored.FailedLoginAttempts)
}

func TestService_ConcurrentFailuresLockOnce(t *testing.T) {
	f := newFixture(t)
	f.register(t, "alice", "alice@x.com")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = f.svc.Authenticate(f.ctx, "alice", "Wrong123!")
		}()
	}
	wg.Wait()

	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.AccountLockoutsTotal))
}

func TestService_InactiveAccount(t *testing.T) {
	f := newFixture(t)
	u := f.register(t, "alice", "alice@x.com")

	res, err := f.svc.Authenticate(f.ctx, "alice", alicePassword)
	require.NoError(t, err)

	require.NoError(t, f.svc.SetActive(f.ctx, u.ID, false))

	_, err = f.svc.Authenticate(f.ctx, "alice", alicePassword)
	assert.ErrorIs(t, err, auth.ErrAccountInactive)

	_, err = f.svc.Refresh(f.ctx, res.RefreshToken)
	assert.ErrorIs(t, err, auth.ErrAccountInactive)

	_, err = f.svc.AuthenticateAccessToken(f.ctx, res.AccessToken)
	assert.ErrorIs(t, err, auth.ErrAccountInactive)

	require.NoError(t, f.svc.SetActive(f.ctx, u.ID, true))
	_, err = f.svc.Refresh(f.ctx, res.RefreshToken)
	assert.NoError(t, err)
}

func TestService_Refresh(t *testing.T) {
	f := newFixture(t)
	f.register(t, "alice", "alice@x.com")

	res, err := f.svc.Authenticate(f.ctx, "alice", alicePassword)
	require.NoError(t, err)

	f.clock.Advance(2 * time.Hour)
	_, err = f.svc.AuthenticateAccessToken(f.ctx, res.AccessToken)
	require.ErrorIs(t, err, auth.ErrTokenExpired)

	pair, err := f.svc.Refresh(f.ctx, res.RefreshToken)
	require.NoError(t, err)

	ident, err := f.svc.AuthenticateAccessToken(f.ctx, pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "alice", ident.Username)
	assert.Equal(t, auth.ChannelToken, ident.Channel)

	// The presented refresh token is not revoked.
	_, err = f.svc.Refresh(f.ctx, res.RefreshToken)
	assert.NoError(t, err)

	// Kinds are not interchangeable.
	_, err = f.svc.Refresh(f.ctx, pair.AccessToken)
	assert.ErrorIs(t, err, auth.ErrWrongTokenType)
	_, err = f.svc.AuthenticateAccessToken(f.ctx, pair.RefreshToken)
	assert.ErrorIs(t, err, auth.ErrWrongTokenType)

	f.clock.Advance(8 * 24 * time.Hour)
	_, err = f.svc.Refresh(f.ctx, res.RefreshToken)
	assert.ErrorIs(t, err, auth.ErrTokenExpired)
}

func TestService_RefreshDeletedUser(t *testing.T) {
	f := newFixture(t)
	u := f.register(t, "alice", "alice@x.com")

	res, err := f.svc.Authenticate(f.ctx, "alice", alicePassword)
	require.NoError(t, err)
	require.NoError(t, f.store.DeleteUser(f.ctx, u.ID))

	_, err = f.svc.Refresh(f.ctx, res.RefreshToken)
	assert.ErrorIs(t, err, auth.ErrTokenInvalid)

	_, err = f.svc.AuthenticateAccessToken(f.ctx, res.AccessToken)
	assert.ErrorIs(t, err, auth.ErrUnauthenticated)
}

func TestService_ChangePassword(t *testing.T) {
	f := newFixture(t)
	u := f.register(t, "alice", "alice@x.com")

	assert.ErrorIs(t, f.svc.ChangePassword(f.ctx, u.ID, "Wrong123!", "NewSecret456!"), auth.ErrInvalidCredentials)
	assert.ErrorIs(t, f.svc.ChangePassword(f.ctx, u.ID, alicePassword, "weak"), auth.ErrWeakPassword)
	assert.ErrorIs(t, f.svc.ChangePassword(f.ctx, u.ID, alicePassword, alicePassword), auth.ErrPasswordUnchanged)

	require.NoError(t, f.svc.ChangePassword(f.ctx, u.ID, alicePassword, "NewSecret456!"))

	_, err := f.svc.Authenticate(f.ctx, "alice", alicePassword)
	assert.ErrorIs(t, err, auth.ErrInvalidCredentials)
	_, err = f.svc.Authenticate(f.ctx, "alice", "NewSecret456!")
	assert.NoError(t, err)
}

func TestService_Roles(t *testing.T) {
	f := newFixture(t)
	u := f.register(t, "alice", "alice@x.com")

	_, err := f.svc.CreateRole(f.ctx, "hr_manager", "", []string{"employee:read", "employee:read", "employee:write"})
	require.NoError(t, err)
	_, err = f.svc.CreateRole(f.ctx, "hr_manager", "", nil)
	assert.ErrorIs(t, err, auth.ErrDuplicateRole)
	_, err = f.svc.CreateRole(f.ctx, " ", "", nil)
	assert.ErrorIs(t, err, auth.ErrInvalidInput)

	require.NoError(t, f.svc.AssignRole(f.ctx, u.ID, "hr_manager", nil))
	require.NoError(t, f.svc.AssignRole(f.ctx, u.ID, "hr_manager", nil))
	assert.Equal(t, 1, f.store.GrantCount(u.ID))

	assert.ErrorIs(t, f.svc.AssignRole(f.ctx, u.ID, "nope", nil), auth.ErrRoleNotFound)
	assert.ErrorIs(t, f.svc.AssignRole(f.ctx, 999, "hr_manager", nil), auth.ErrUserNotFound)

	ident, err := f.svc.Identity(f.ctx, u.ID, auth.ChannelToken)
	require.NoError(t, err)
	assert.Equal(t, []string{"employee:read", "employee:write"}, ident.PermissionList())

	// Deactivating a role removes its permissions from live identities.
	require.NoError(t, f.store.SetRoleActive(f.ctx, "hr_manager", false))
	ident, err = f.svc.Identity(f.ctx, u.ID, auth.ChannelToken)
	require.NoError(t, err)
	assert.Empty(t, ident.PermissionList())

	require.NoError(t, f.svc.RevokeRole(f.ctx, u.ID, "hr_manager"))
	assert.Zero(t, f.store.GrantCount(u.ID))
	require.NoError(t, f.svc.RevokeRole(f.ctx, u.ID, "hr_manager"))

	roles, err := f.svc.ListRoles(f.ctx)
	require.NoError(t, err)
	assert.Len(t, roles, 1)
}

func TestService_APIKeys(t *testing.T) {
	f := newFixture(t)
	u := f.register(t, "alice", "alice@x.com")

	created, err := f.svc.CreateAPIKey(f.ctx, u.ID, "ci", []string{"reports:read"}, nil)
	require.NoError(t, err)
	require.NotEmpty(t, created.Key)
	assert.NoError(t, auth.ValidateAPIKeyFormat(created.Key))

	listed, err := f.svc.ListAPIKeys(f.ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, created.KeyPrefix, listed[0].KeyPrefix)
	assert.NotEqual(t, created.Key, listed[0].KeyHash)

	ident, err := f.svc.AuthenticateAPIKeyIdentity(f.ctx, created.Key)
	require.NoError(t, err)
	assert.Equal(t, auth.ChannelAPIKey, ident.Channel)
	assert.Equal(t, created.ID, ident.APIKeyID)
	assert.True(t, ident.HasScope("reports:read"))
	assert.False(t, ident.HasScope("reports:write"))

	listed, err = f.svc.ListAPIKeys(f.ctx, u.ID)
	require.NoError(t, err)
	require.NotNil(t, listed[0].LastUsedAt)

	_, _, err = f.svc.AuthenticateAPIKey(f.ctx, created.Key+"x")
	assert.ErrorIs(t, err, auth.ErrInvalidCredentials)
	_, _, err = f.svc.AuthenticateAPIKey(f.ctx, "garbage")
	assert.ErrorIs(t, err, auth.ErrInvalidCredentials)

	require.NoError(t, f.svc.RevokeAPIKey(f.ctx, u.ID, created.ID))
	_, _, err = f.svc.AuthenticateAPIKey(f.ctx, created.Key)
	assert.ErrorIs(t, err, auth.ErrInvalidCredentials)

	assert.ErrorIs(t, f.svc.RevokeAPIKey(f.ctx, u.ID, 999), auth.ErrAPIKeyNotFound)
}

func TestService_APIKeyExpiry(t *testing.T) {
	f := newFixture(t)
	u := f.register(t, "alice", "alice@x.com")

	ttl := time.Hour
	created, err := f.svc.CreateAPIKey(f.ctx, u.ID, "temp", nil, &ttl)
	require.NoError(t, err)

	_, _, err = f.svc.AuthenticateAPIKey(f.ctx, created.Key)
	require.NoError(t, err)

	f.clock.Advance(time.Hour)
	_, _, err = f.svc.AuthenticateAPIKey(f.ctx, created.Key)
	assert.ErrorIs(t, err, auth.ErrAPIKeyExpired)

	n, err := f.svc.DeactivateExpiredAPIKeys(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	// The sweep deactivates the key but it still reports its expiry.
	_, _, err = f.svc.AuthenticateAPIKey(f.ctx, created.Key)
	assert.ErrorIs(t, err, auth.ErrAPIKeyExpired)
	listed, err := f.svc.ListAPIKeys(f.ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.False(t, listed[0].IsActive)

	zero := time.Duration(0)
	_, err = f.svc.CreateAPIKey(f.ctx, u.ID, "bad", nil, &zero)
	assert.ErrorIs(t, err, auth.ErrInvalidInput)
}

func TestService_APIKeyInactiveOwner(t *testing.T) {
	f := newFixture(t)
	u := f.register(t, "alice", "alice@x.com")

	created, err := f.svc.CreateAPIKey(f.ctx, u.ID, "ci", nil, nil)
	require.NoError(t, err)
	require.NoError(t, f.svc.SetActive(f.ctx, u.ID, false))

	_, _, err = f.svc.AuthenticateAPIKey(f.ctx, created.Key)
	assert.ErrorIs(t, err, auth.ErrAccountInactive)

	_, err = f.svc.CreateAPIKey(f.ctx, u.ID, "another", nil, nil)
	assert.ErrorIs(t, err, auth.ErrAccountInactive)
}

func TestService_APIKeyDelegation(t *testing.T) {
	f := newFixture(t)
	u := f.register(t, "alice", "alice@x.com")

	full, err := f.svc.CreateAPIKey(f.ctx, u.ID, "full", nil, nil)
	require.NoError(t, err)
	scoped, err := f.svc.CreateAPIKey(f.ctx, u.ID, "reader", []string{"employees:read"}, nil)
	require.NoError(t, err)

	caller, err := f.svc.AuthenticateAPIKeyIdentity(f.ctx, scoped.Key)
	require.NoError(t, err)

	_, err = f.svc.CreateAPIKeyAs(f.ctx, caller, "escalate", nil, nil)
	assert.ErrorIs(t, err, auth.ErrForbidden)
	_, err = f.svc.CreateAPIKeyAs(f.ctx, caller, "escalate", []string{" "}, nil)
	assert.ErrorIs(t, err, auth.ErrForbidden)
	_, err = f.svc.CreateAPIKeyAs(f.ctx, caller, "escalate", []string{"employees:read", "roles:admin"}, nil)
	assert.ErrorIs(t, err, auth.ErrForbidden)

	narrow, err := f.svc.CreateAPIKeyAs(f.ctx, caller, "narrow", []string{"employees:read"}, nil)
	require.NoError(t, err)

	assert.ErrorIs(t, f.svc.RevokeAPIKeyAs(f.ctx, caller, full.ID), auth.ErrForbidden)
	assert.ErrorIs(t, f.svc.RevokeAPIKeyAs(f.ctx, caller, 999), auth.ErrAPIKeyNotFound)
	require.NoError(t, f.svc.RevokeAPIKeyAs(f.ctx, caller, narrow.ID))

	_, _, err = f.svc.AuthenticateAPIKey(f.ctx, full.Key)
	assert.NoError(t, err, "the unscoped key survives")

	// Token callers are not restricted.
	tokenCaller, err := f.svc.Identity(f.ctx, u.ID, auth.ChannelToken)
	require.NoError(t, err)
	_, err = f.svc.CreateAPIKeyAs(f.ctx, tokenCaller, "another-full", nil, nil)
	require.NoError(t, err)
	require.NoError(t, f.svc.RevokeAPIKeyAs(f.ctx, tokenCaller, full.ID))
}

func TestService_StoreUnavailable(t *testing.T) {
	f := newFixture(t)
	f.register(t, "alice", "alice@x.com")

	f.store.FailNext(errors.New("connection reset"))
	_, err := f.svc.Authenticate(f.ctx, "alice", alicePassword)
	assert.ErrorIs(t, err, auth.ErrStoreUnavailable)
	assert.NotErrorIs(t, err, auth.ErrInvalidCredentials)

	ctx, cancel := context.WithCancel(f.ctx)
	cancel()
	_, err = f.svc.Authenticate(ctx, "alice", alicePassword)
	assert.ErrorIs(t, err, auth.ErrStoreUnavailable)
}

func TestService_ProfileCache(t *testing.T) {
	mc := cache.NewMemoryCache(100, time.Minute)
	aside := cache.NewAside(mc, nil, nil)
	f := newFixture(t, auth.WithCache(aside))
	u := f.register(t, "alice", "alice@x.com")

	p, err := f.svc.GetProfile(f.ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice@x.com", p.Email)
	assert.Equal(t, 1, mc.Len())

	email := "alice@corp.com"
	first := "Alice"
	updated, err := f.svc.UpdateProfile(f.ctx, u.ID, auth.ProfileUpdate{Email: &email, FirstName: &first})
	require.NoError(t, err)
	assert.Equal(t, email, updated.Email)
	assert.Zero(t, mc.Len(), "profile update invalidates the cache")

	p, err = f.svc.GetProfile(f.ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, email, p.Email)
	assert.Equal(t, "Alice", p.FirstName)

	f.svc.Logout(f.ctx, u.ID)
	assert.Zero(t, mc.Len())

	_, err = f.svc.GetProfile(f.ctx, 999)
	assert.ErrorIs(t, err, auth.ErrUserNotFound)
}

func TestService_LockoutInvalidatesCachedProfile(t *testing.T) {
	mc := cache.NewMemoryCache(100, time.Minute)
	f := newFixture(t, auth.WithCache(cache.NewAside(mc, nil, nil)))
	u := f.register(t, "alice", "alice@x.com")

	p, err := f.svc.GetProfile(f.ctx, u.ID)
	require.NoError(t, err)
	require.False(t, p.IsLocked)

	for i := 0; i < 4; i++ {
		_, _ = f.svc.Authenticate(f.ctx, "alice", "Wrong123!")
	}
	assert.Equal(t, 1, mc.Len(), "failures below the threshold keep the cached profile")

	_, err = f.svc.Authenticate(f.ctx, "alice", "Wrong123!")
	require.ErrorIs(t, err, auth.ErrAccountLocked)
	assert.Zero(t, mc.Len())

	p, err = f.svc.GetProfile(f.ctx, u.ID)
	require.NoError(t, err)
	assert.True(t, p.IsLocked)
}

func TestService_UpdateProfileDuplicateEmail(t *testing.T) {
	f := newFixture(t)
	alice := f.register(t, "alice", "alice@x.com")
	f.register(t, "bob", "bob@x.com")

	taken := "bob@x.com"
	_, err := f.svc.UpdateProfile(f.ctx, alice.ID, auth.ProfileUpdate{Email: &taken})
	assert.ErrorIs(t, err, auth.ErrDuplicateEmail)

	same := "alice@x.com"
	_, err = f.svc.UpdateProfile(f.ctx, alice.ID, auth.ProfileUpdate{Email: &same})
	assert.NoError(t, err)
}

func TestService_ClearLapsedLocks(t *testing.T) {
	f := newFixture(t)
	u := f.register(t, "alice", "alice@x.com")
	for i := 0; i < 5; i++ {
		_, _ = f.svc.Authenticate(f.ctx, "alice", "Wrong123!")
	}

	n, err := f.svc.ClearLapsedLocks(f.ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	f.clock.Advance(31 * time.Minute)
	n, err = f.svc.ClearLapsedLocks(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	stored, err := f.store.GetUserByID(f.ctx, u.ID)
	require.NoError(t, err)
	assert.Zero(t, stored.FailedLoginAttempts)
	assert.Nil(t, stored.LockedUntil)
}
