package maintenance

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
	"github.com/platinummonkey/hrauth/pkg/observability"
	"github.com/platinummonkey/hrauth/pkg/storage/memory"
)

type stubTasks struct {
	mu      sync.Mutex
	calls   int
	expired int64
	cleared int64
	locked  int
	keysErr error
}

func (s *stubTasks) DeactivateExpiredAPIKeys(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.expired, s.keysErr
}

func (s *stubTasks) ClearLapsedLocks(context.Context) (int64, error) {
	return s.cleared, nil
}

func (s *stubTasks) ListLockedUsers(context.Context) ([]auth.PublicUser, error) {
	return make([]auth.PublicUser, s.locked), nil
}

func (s *stubTasks) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func quietLogger(buf *bytes.Buffer) *observability.Logger {
	return observability.NewLogger(observability.DebugLevel, buf)
}

func TestRunOnce_UpdatesMetrics(t *testing.T) {
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	tasks := &stubTasks{expired: 3, cleared: 2, locked: 4}
	s := NewScheduler(tasks, quietLogger(&bytes.Buffer{}), metrics, time.Second)

	res, err := s.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(3), res.ExpiredKeys)
	assert.Equal(t, int64(2), res.ClearedLocks)
	assert.Equal(t, 4, res.LockedNow)
	assert.Equal(t, res, s.Last())
	assert.Equal(t, float64(3), testutil.ToFloat64(metrics.ExpiredKeysPurged))
	assert.Equal(t, float64(4), testutil.ToFloat64(metrics.LockedAccounts))
}

func TestRunOnce_ContinuesAfterFailure(t *testing.T) {
	var buf bytes.Buffer
	tasks := &stubTasks{cleared: 1, keysErr: auth.StoreError("deactivate_expired_api_keys", errors.New("db down"))}
	s := NewScheduler(tasks, quietLogger(&buf), nil, time.Second)

	res, err := s.RunOnce(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, auth.ErrStoreUnavailable)
	assert.Equal(t, int64(1), res.ClearedLocks)
	assert.Contains(t, buf.String(), "maintenance completed with errors")
}

func TestStart_RejectsBadSchedule(t *testing.T) {
	s := NewScheduler(&stubTasks{}, quietLogger(&bytes.Buffer{}), nil, time.Second)
	assert.Error(t, s.Start("not a schedule"))
}

func TestStart_RunsOnSchedule(t *testing.T) {
	tasks := &stubTasks{}
	s := NewScheduler(tasks, quietLogger(&bytes.Buffer{}), nil, time.Second)
	require.NoError(t, s.Start("@every 1s"))

	assert.Eventually(t, func() bool { return tasks.Calls() > 0 }, 3*time.Second, 50*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)
}

func TestRunOnce_WithService(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	advance := func(d time.Duration) {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(d)
	}

	tokens, err := auth.NewTokenCodec(auth.TokenConfig{Secret: []byte("maintenance-test-secret")})
	require.NoError(t, err)
	store := memory.New()
	svc := auth.NewService(store, auth.NewBcryptHasher(bcrypt.MinCost), tokens, auth.DefaultServiceConfig(),
		auth.WithClock(clock),
		auth.WithLogger(observability.NewLogger(observability.ErrorLevel, &bytes.Buffer{})),
	)

	alice, err := svc.Register(ctx, "alice", "alice@example.com", "Secret123!", auth.Profile{})
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		_, _ = svc.Authenticate(ctx, "alice", "wrong")
	}

	ttl := time.Hour
	key, err := svc.CreateAPIKey(ctx, alice.ID, "ci", nil, &ttl)
	require.NoError(t, err)

	metrics := observability.NewMetrics(prometheus.NewRegistry())
	s := NewScheduler(svc, quietLogger(&bytes.Buffer{}), metrics, time.Second)

	res, err := s.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, Result{LockedNow: 1, Duration: res.Duration}, res)

	advance(2 * time.Hour)

	res, err = s.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.ExpiredKeys)
	assert.Equal(t, int64(1), res.ClearedLocks)
	assert.Equal(t, 0, res.LockedNow)
	assert.Equal(t, float64(0), testutil.ToFloat64(metrics.LockedAccounts))

	keys, err := svc.ListAPIKeys(ctx, alice.ID)
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.False(t, keys[0].IsActive)
	_, _, err = svc.AuthenticateAPIKey(ctx, key.Key)
	assert.ErrorIs(t, err, auth.ErrAPIKeyExpired, "swept keys still report expiry")

	_, err = svc.Authenticate(ctx, "alice", "Secret123!")
	assert.NoError(t, err)
}
