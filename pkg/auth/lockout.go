package auth

import "time"

// Lockout defaults.
const (
	DefaultMaxFailedAttempts = 5
	DefaultLockoutDuration   = 30 * time.Minute
)

// LockoutState is the persisted pair (failed_login_attempts, locked_until).
// The account is Locked iff LockedUntil is set and in the future; otherwise it
// is Unlocked(FailedAttempts).
type LockoutState struct {
	FailedAttempts int
	LockedUntil    *time.Time
}

// LockedAt reports whether the state denies authentication at now.
func (s LockoutState) LockedAt(now time.Time) bool {
	return s.LockedUntil != nil && now.Before(*s.LockedUntil)
}

// Equal compares two states, treating lock times by instant.
func (s LockoutState) Equal(o LockoutState) bool {
	if s.FailedAttempts != o.FailedAttempts {
		return false
	}
	if s.LockedUntil == nil || o.LockedUntil == nil {
		return s.LockedUntil == nil && o.LockedUntil == nil
	}
	return s.LockedUntil.Equal(*o.LockedUntil)
}

// LockoutPolicy holds the transition rules for brute-force protection. It
// has no state of its own.
type LockoutPolicy struct {
	MaxAttempts int
	Duration    time.Duration
}

// DefaultLockoutPolicy returns 5 attempts / 30 minutes.
func DefaultLockoutPolicy() LockoutPolicy {
	return LockoutPolicy{MaxAttempts: DefaultMaxFailedAttempts, Duration: DefaultLockoutDuration}
}

// IsLocked reports whether s denies authentication at now.
func (p LockoutPolicy) IsLocked(s LockoutState, now time.Time) bool {
	return s.LockedAt(now)
}

// Normalize turns a lapsed lock into Unlocked(0). Active locks and unlocked
// states are returned unchanged.
func (p LockoutPolicy) Normalize(s LockoutState, now time.Time) LockoutState {
	if s.LockedUntil != nil && !now.Before(*s.LockedUntil) {
		return LockoutState{}
	}
	return s
}

// OnSuccess clears both counters.
func (p LockoutPolicy) OnSuccess() LockoutState {
	return LockoutState{}
}

// OnFailure applies a failed password verification. An active lock is left
// untouched; a lapsed lock counts from zero.
func (p LockoutPolicy) OnFailure(s LockoutState, now time.Time) LockoutState {
	if s.LockedAt(now) {
		return s
	}
	s = p.Normalize(s, now)

	attempts := s.FailedAttempts + 1
	if attempts >= p.maxAttempts() {
		until := now.Add(p.duration())
		return LockoutState{FailedAttempts: attempts, LockedUntil: &until}
	}
	return LockoutState{FailedAttempts: attempts}
}

// Unlock is the administrative reset.
func (p LockoutPolicy) Unlock() LockoutState {
	return LockoutState{}
}

func (p LockoutPolicy) maxAttempts() int {
	if p.MaxAttempts <= 0 {
		return DefaultMaxFailedAttempts
	}
	return p.MaxAttempts
}

func (p LockoutPolicy) duration() time.Duration {
	if p.Duration <= 0 {
		return DefaultLockoutDuration
	}
	return p.Duration
}
