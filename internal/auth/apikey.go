package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	apiKeyPrefix = "og_"
	apiKeyBytes  = 32

	defaultAPIKeyTTL = 30 * 24 * time.Hour
)

// APIKeyManager handles the lifecycle of long-lived opaque keys. Only the
// sha256 hash of a key is ever stored; the plaintext is returned exactly once
// from Generate. An account holds at most one active key; generating a new
// one overwrites, and thereby invalidates, the previous key.
type APIKeyManager struct {
	store Store
	ttl   time.Duration
	now   func() time.Time
}

// APIKeyOption configures APIKeyManager behavior.
type APIKeyOption func(*APIKeyManager)

// WithAPIKeyTTL overrides the default key lifetime.
func WithAPIKeyTTL(ttl time.Duration) APIKeyOption {
	return func(m *APIKeyManager) {
		if ttl > 0 {
			m.ttl = ttl
		}
	}
}

// WithAPIKeyClock overrides the time source (useful for tests).
func WithAPIKeyClock(fn func() time.Time) APIKeyOption {
	return func(m *APIKeyManager) {
		if fn != nil {
			m.now = fn
		}
	}
}

// NewAPIKeyManager constructs an APIKeyManager.
func NewAPIKeyManager(store Store, opts ...APIKeyOption) (*APIKeyManager, error) {
	if store == nil {
		return nil, errors.New("auth: store is required")
	}
	m := &APIKeyManager{
		store: store,
		ttl:   defaultAPIKeyTTL,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// HashAPIKey computes the sha256 hex digest used for storage and lookup.
func HashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// Generate creates a fresh key for the account and returns the plaintext.
// The stored expiry is reset to now+TTL and the usage counter to zero.
func (m *APIKeyManager) Generate(ctx context.Context, accountID string) (string, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return "", fmt.Errorf("%w: account id is required", ErrInvalidInput)
	}
	account, err := m.store.Accounts(ctx).Find(ctx, accountID)
	if err != nil {
		return "", err
	}
	if !account.Active {
		return "", ErrAccountInactive
	}

	raw := make([]byte, apiKeyBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate api key: %w", err)
	}
	key := apiKeyPrefix + base64.RawURLEncoding.EncodeToString(raw)

	expiresAt := m.now().UTC().Add(m.ttl)
	if err := m.store.Accounts(ctx).SetAPIKey(ctx, accountID, HashAPIKey(key), expiresAt); err != nil {
		return "", err
	}
	return key, nil
}

// Verify resolves a plaintext key to its owning account. Lookup is always by
// hash. Not-found, expired and inactive-owner all collapse into the same
// ErrAPIKeyInvalid so callers cannot enumerate keys. Successful verification
// increments the usage counter and stamps last-used.
func (m *APIKeyManager) Verify(ctx context.Context, key string) (*Account, error) {
	key = strings.TrimSpace(key)
	if key == "" || !strings.HasPrefix(key, apiKeyPrefix) {
		return nil, ErrAPIKeyInvalid
	}
	account, err := m.store.Accounts(ctx).FindByAPIKeyHash(ctx, HashAPIKey(key))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrAPIKeyInvalid
		}
		return nil, err
	}
	now := m.now().UTC()
	if account.APIKeyExpires == nil || !now.Before(*account.APIKeyExpires) {
		return nil, ErrAPIKeyInvalid
	}
	if !account.Active {
		return nil, ErrAPIKeyInvalid
	}
	if err := m.store.Accounts(ctx).TouchAPIKeyUsage(ctx, account.ID, now); err != nil {
		return nil, err
	}
	account.APIKeyUsage++
	account.APIKeyLastUsed = &now
	return account, nil
}

// Revoke removes the account's key, if any.
func (m *APIKeyManager) Revoke(ctx context.Context, accountID string) error {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return fmt.Errorf("%w: account id is required", ErrInvalidInput)
	}
	return m.store.Accounts(ctx).ClearAPIKey(ctx, accountID)
}
