package auth

import (
	"context"
	"time"
)

// Account is a user record. Accounts are soft-deactivated, never deleted.
type Account struct {
	ID             string
	Email          string
	PasswordHash   string
	Role           Role
	Verified       bool
	Active         bool
	FailedLogins   int
	LockedUntil    *time.Time
	APIKeyHash     string
	APIKeyExpires  *time.Time
	APIKeyUsage    int64
	APIKeyLastUsed *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// LockedAt reports whether the account is under an active login lock.
func (a *Account) LockedAt(now time.Time) bool {
	return a.LockedUntil != nil && now.Before(*a.LockedUntil)
}

// Clone returns a deep copy so store implementations never hand out shared
// pointers.
func (a *Account) Clone() *Account {
	cp := *a
	if a.LockedUntil != nil {
		t := *a.LockedUntil
		cp.LockedUntil = &t
	}
	if a.APIKeyExpires != nil {
		t := *a.APIKeyExpires
		cp.APIKeyExpires = &t
	}
	if a.APIKeyLastUsed != nil {
		t := *a.APIKeyLastUsed
		cp.APIKeyLastUsed = &t
	}
	return &cp
}

// Identity is the authenticated caller attached to request context by the
// HTTP layer and consumed by authorization checks.
type Identity struct {
	ID    string
	Email string
	Role  Role
}

// SecurityEvent is one append-only entry in the security log.
type SecurityEvent struct {
	ID         string
	OccurredAt time.Time
	Kind       string
	AccountID  string
	Email      string
	IP         string
	UserAgent  string
	Fields     map[string]string
}

// EventRecorder receives security-relevant events. Recording must never block
// or fail the operation that produced the event.
type EventRecorder interface {
	Record(ctx context.Context, event *SecurityEvent)
}
