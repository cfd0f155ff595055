// Package maintenance runs periodic housekeeping against the credential
// store: expired API keys are deactivated and lapsed account locks cleared.
package maintenance

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/hrauth/pkg/auth"
	"github.com/platinummonkey/hrauth/pkg/observability"
)

// Tasks is the part of the auth service the scheduler drives.
type Tasks interface {
	DeactivateExpiredAPIKeys(ctx context.Context) (int64, error)
	ClearLapsedLocks(ctx context.Context) (int64, error)
	ListLockedUsers(ctx context.Context) ([]auth.PublicUser, error)
}

// Result summarises one maintenance run.
type Result struct {
	ExpiredKeys  int64
	ClearedLocks int64
	LockedNow    int
	Duration     time.Duration
}

// Scheduler runs maintenance on a cron schedule.
type Scheduler struct {
	tasks   Tasks
	logger  *observability.Logger
	metrics *observability.Metrics
	timeout time.Duration

	cron *cron.Cron

	mu   sync.Mutex
	last Result
}

// NewScheduler creates a scheduler. Each run is bounded by timeout.
func NewScheduler(tasks Tasks, logger *observability.Logger, metrics *observability.Metrics, timeout time.Duration) *Scheduler {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	if timeout <= 0 {
		timeout = time.Minute
	}
	logger = logger.WithField("component", "maintenance")
	return &Scheduler{
		tasks:   tasks,
		logger:  logger,
		metrics: metrics,
		timeout: timeout,
		cron: cron.New(cron.WithChain(
			cron.Recover(cronLogger{logger}),
			cron.SkipIfStillRunning(cronLogger{logger}),
		)),
	}
}

// Start schedules the maintenance job and starts the cron loop.
func (s *Scheduler) Start(schedule string) error {
	if _, err := s.cron.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		if _, err := s.RunOnce(ctx); err != nil {
			s.logger.WithError(err).Error("maintenance run failed")
		}
	}); err != nil {
		return fmt.Errorf("failed to schedule maintenance %q: %w", schedule, err)
	}

	s.cron.Start()
	s.logger.WithField("schedule", schedule).Info("maintenance scheduler started")
	return nil
}

// Stop halts the scheduler and waits for a running job until ctx ends.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		s.logger.Warn("maintenance job still running at shutdown")
	}
}

// RunOnce performs a single maintenance pass. Every step runs even if an
// earlier one fails; the first error is returned.
func (s *Scheduler) RunOnce(ctx context.Context) (Result, error) {
	start := time.Now()
	var res Result
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	n, err := s.tasks.DeactivateExpiredAPIKeys(ctx)
	keep(err)
	res.ExpiredKeys = n
	if err == nil && n > 0 && s.metrics != nil {
		s.metrics.ExpiredKeysPurged.Add(float64(n))
	}

	n, err = s.tasks.ClearLapsedLocks(ctx)
	keep(err)
	res.ClearedLocks = n

	locked, err := s.tasks.ListLockedUsers(ctx)
	keep(err)
	if err == nil {
		res.LockedNow = len(locked)
		if s.metrics != nil {
			s.metrics.LockedAccounts.Set(float64(len(locked)))
		}
	}

	res.Duration = time.Since(start)

	s.mu.Lock()
	s.last = res
	s.mu.Unlock()

	entry := s.logger.WithFields(map[string]interface{}{
		"expired_keys":  res.ExpiredKeys,
		"cleared_locks": res.ClearedLocks,
		"locked_now":    res.LockedNow,
		"duration_ms":   res.Duration.Milliseconds(),
	})
	if firstErr != nil {
		entry.WithError(firstErr).Warn("maintenance completed with errors")
	} else {
		entry.Debug("maintenance completed")
	}
	return res, firstErr
}

// Last returns the result of the most recent run.
func (s *Scheduler) Last() Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// cronLogger adapts Logger to cron's logging interface.
type cronLogger struct {
	l *observability.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.WithFields(kv(keysAndValues)).Debug(msg)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.WithFields(kv(keysAndValues)).WithError(err).Error(msg)
}

func kv(pairs []interface{}) map[string]interface{} {
	fields := make(map[string]interface{}, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		fields[fmt.Sprint(pairs[i])] = pairs[i+1]
	}
	return fields
}
