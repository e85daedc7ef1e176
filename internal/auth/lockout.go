package auth

import (
	"context"
	"errors"
	"time"
)

const (
	defaultLockoutThreshold = 10
	defaultLockoutDuration  = time.Hour
)

// LockoutTracker accumulates failed logins per account and computes lock
// windows. The transition rules live in the store's atomic
// RecordLoginFailure primitive; the tracker only carries policy.
//
// State machine per account: Unlocked(count) increments on failure until
// count reaches the threshold, which sets Locked(now+duration). While locked,
// every attempt is rejected before the password is checked. Once the lock
// expires, the next failure restarts the count at 1 and a success resets it
// to 0.
type LockoutTracker struct {
	store     Store
	threshold int
	lockFor   time.Duration
	now       func() time.Time
}

// LockoutOption configures LockoutTracker behavior.
type LockoutOption func(*LockoutTracker)

// WithLockoutPolicy overrides the failure threshold and lock duration.
func WithLockoutPolicy(threshold int, lockFor time.Duration) LockoutOption {
	return func(t *LockoutTracker) {
		if threshold > 0 {
			t.threshold = threshold
		}
		if lockFor > 0 {
			t.lockFor = lockFor
		}
	}
}

// WithLockoutClock overrides the time source (useful for tests).
func WithLockoutClock(fn func() time.Time) LockoutOption {
	return func(t *LockoutTracker) {
		if fn != nil {
			t.now = fn
		}
	}
}

// NewLockoutTracker constructs a LockoutTracker.
func NewLockoutTracker(store Store, opts ...LockoutOption) (*LockoutTracker, error) {
	if store == nil {
		return nil, errors.New("auth: store is required")
	}
	t := &LockoutTracker{
		store:     store,
		threshold: defaultLockoutThreshold,
		lockFor:   defaultLockoutDuration,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Threshold returns the configured failure threshold.
func (t *LockoutTracker) Threshold() int { return t.threshold }

// Locked reports whether the account is under an active lock right now, and
// until when.
func (t *LockoutTracker) Locked(account *Account) (time.Time, bool) {
	now := t.now().UTC()
	if account.LockedAt(now) {
		return *account.LockedUntil, true
	}
	return time.Time{}, false
}

// RecordFailure registers one failed attempt and reports whether the account
// is now locked.
func (t *LockoutTracker) RecordFailure(ctx context.Context, accountID string) (int, *time.Time, error) {
	return t.store.Accounts(ctx).RecordLoginFailure(ctx, accountID, t.threshold, t.lockFor, t.now().UTC())
}

// Reset clears the failure counter and any lock after a successful login.
func (t *LockoutTracker) Reset(ctx context.Context, accountID string) error {
	return t.store.Accounts(ctx).ResetLoginFailures(ctx, accountID)
}
