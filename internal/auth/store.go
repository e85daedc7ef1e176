package auth

import (
	"context"
	"time"
)

// Store describes persistence operations required by the auth subsystem.
// Implementations must guarantee that the increment operations below are
// atomic: two concurrent calls for the same account must never under-count
// or race past a threshold.
type Store interface {
	Accounts(ctx context.Context) AccountStore
	Events(ctx context.Context) EventStore
}

// AccountStore manages account records. Emails are unique, case-insensitive.
type AccountStore interface {
	Create(ctx context.Context, a *Account) error
	Find(ctx context.Context, id string) (*Account, error)
	FindByEmail(ctx context.Context, email string) (*Account, error)
	FindByAPIKeyHash(ctx context.Context, hash string) (*Account, error)
	List(ctx context.Context, limit int) ([]*Account, error)
	UpdatePassword(ctx context.Context, id, passwordHash string) error
	SetVerified(ctx context.Context, id string) error
	SetActive(ctx context.Context, id string, active bool) error
	SetRole(ctx context.Context, id string, role Role) error

	// RecordLoginFailure applies one failed-attempt transition atomically:
	// an expired lock restarts the counter at 1; reaching the threshold sets
	// the lock to at+lockFor; otherwise the counter increments. Returns the
	// resulting count and lock expiry, if any.
	RecordLoginFailure(ctx context.Context, id string, threshold int, lockFor time.Duration, at time.Time) (int, *time.Time, error)
	// ResetLoginFailures zeroes the counter and clears any lock.
	ResetLoginFailures(ctx context.Context, id string) error

	// SetAPIKey overwrites the stored key hash and expiry and resets the
	// usage counter. Overwriting implicitly invalidates the previous key.
	SetAPIKey(ctx context.Context, id, hash string, expiresAt time.Time) error
	ClearAPIKey(ctx context.Context, id string) error
	// TouchAPIKeyUsage atomically increments the usage counter and stamps
	// last-used.
	TouchAPIKeyUsage(ctx context.Context, id string, at time.Time) error
}

// EventStore appends immutable security events.
type EventStore interface {
	Append(ctx context.Context, e *SecurityEvent) error
	List(ctx context.Context, limit int) ([]*SecurityEvent, error)
}
