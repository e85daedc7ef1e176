package auth

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore implements Store in process memory. Used for development runs
// without a database and throughout the test suite. All mutations happen
// under a single mutex, which gives the atomicity the Store contract
// requires.
type MemoryStore struct {
	mu       sync.Mutex
	accounts map[string]*Account
	byEmail  map[string]string
	events   []*SecurityEvent
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: make(map[string]*Account),
		byEmail:  make(map[string]string),
	}
}

func (s *MemoryStore) Accounts(context.Context) AccountStore { return (*memoryAccounts)(s) }
func (s *MemoryStore) Events(context.Context) EventStore     { return (*memoryEvents)(s) }

type memoryAccounts MemoryStore

func (s *memoryAccounts) Create(_ context.Context, a *Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	email := strings.ToLower(a.Email)
	if _, exists := s.byEmail[email]; exists {
		return ErrAlreadyExists
	}
	now := time.Now().UTC()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = a.CreatedAt
	s.accounts[a.ID] = a.Clone()
	s.byEmail[email] = a.ID
	return nil
}

func (s *memoryAccounts) Find(_ context.Context, id string) (*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return a.Clone(), nil
}

func (s *memoryAccounts) FindByEmail(_ context.Context, email string) (*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byEmail[strings.ToLower(email)]
	if !ok {
		return nil, ErrNotFound
	}
	return s.accounts[id].Clone(), nil
}

func (s *memoryAccounts) FindByAPIKeyHash(_ context.Context, hash string) (*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if hash == "" {
		return nil, ErrNotFound
	}
	for _, a := range s.accounts {
		if a.APIKeyHash == hash {
			return a.Clone(), nil
		}
	}
	return nil, ErrNotFound
}

func (s *memoryAccounts) List(_ context.Context, limit int) ([]*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		out = append(out, a.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memoryAccounts) UpdatePassword(_ context.Context, id, passwordHash string) error {
	return s.update(id, func(a *Account) {
		a.PasswordHash = passwordHash
	})
}

func (s *memoryAccounts) SetVerified(_ context.Context, id string) error {
	return s.update(id, func(a *Account) {
		a.Verified = true
	})
}

func (s *memoryAccounts) SetActive(_ context.Context, id string, active bool) error {
	return s.update(id, func(a *Account) {
		a.Active = active
	})
}

func (s *memoryAccounts) SetRole(_ context.Context, id string, role Role) error {
	return s.update(id, func(a *Account) {
		a.Role = role
	})
}

func (s *memoryAccounts) RecordLoginFailure(_ context.Context, id string, threshold int, lockFor time.Duration, at time.Time) (int, *time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return 0, nil, ErrNotFound
	}
	switch {
	case a.LockedUntil != nil && at.Before(*a.LockedUntil):
		// Active lock: failures never extend it.
	case a.LockedUntil != nil:
		// Lock expired: fresh count.
		a.FailedLogins = 1
		a.LockedUntil = nil
	case a.FailedLogins+1 >= threshold:
		until := at.Add(lockFor)
		a.FailedLogins = threshold
		a.LockedUntil = &until
	default:
		a.FailedLogins++
	}
	a.UpdatedAt = at
	count := a.FailedLogins
	var until *time.Time
	if a.LockedUntil != nil {
		t := *a.LockedUntil
		until = &t
	}
	return count, until, nil
}

func (s *memoryAccounts) ResetLoginFailures(_ context.Context, id string) error {
	return s.update(id, func(a *Account) {
		a.FailedLogins = 0
		a.LockedUntil = nil
	})
}

func (s *memoryAccounts) SetAPIKey(_ context.Context, id, hash string, expiresAt time.Time) error {
	return s.update(id, func(a *Account) {
		a.APIKeyHash = hash
		a.APIKeyExpires = &expiresAt
		a.APIKeyUsage = 0
		a.APIKeyLastUsed = nil
	})
}

func (s *memoryAccounts) ClearAPIKey(_ context.Context, id string) error {
	return s.update(id, func(a *Account) {
		a.APIKeyHash = ""
		a.APIKeyExpires = nil
		a.APIKeyUsage = 0
		a.APIKeyLastUsed = nil
	})
}

func (s *memoryAccounts) TouchAPIKeyUsage(_ context.Context, id string, at time.Time) error {
	return s.update(id, func(a *Account) {
		a.APIKeyUsage++
		t := at
		a.APIKeyLastUsed = &t
	})
}

func (s *memoryAccounts) update(id string, fn func(*Account)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return ErrNotFound
	}
	fn(a)
	a.UpdatedAt = time.Now().UTC()
	return nil
}

type memoryEvents MemoryStore

func (s *memoryEvents) Append(_ context.Context, e *SecurityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

func (s *memoryEvents) List(_ context.Context, limit int) ([]*SecurityEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*SecurityEvent, 0, len(s.events))
	// Newest first, matching the Postgres implementation.
	for i := len(s.events) - 1; i >= 0; i-- {
		out = append(out, s.events[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}
