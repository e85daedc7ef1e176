package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"opsgate.io/internal/ids"
	"opsgate.io/internal/obs"
)

const minPasswordLength = 8

// Service composes the credential store, password hasher, token issuer,
// lockout tracker and API key manager into the login/registration flows.
type Service struct {
	store    Store
	issuer   *TokenIssuer
	lockout  *LockoutTracker
	keys     *APIKeyManager
	recorder EventRecorder
	log      obs.Logger
	now      func() time.Time

	lockoutOpts []LockoutOption
	keyOpts     []APIKeyOption
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service)

// WithClock overrides the service time source (useful for tests). It does not
// affect the lockout tracker or key manager clocks; pass the matching
// WithLockout/WithAPIKeys options for those.
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// WithRecorder sets the security event sink.
func WithRecorder(r EventRecorder) ServiceOption {
	return func(s *Service) {
		s.recorder = r
	}
}

// WithLogger sets the injected logger.
func WithLogger(l obs.Logger) ServiceOption {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

// WithLockout forwards options to the embedded lockout tracker.
func WithLockout(opts ...LockoutOption) ServiceOption {
	return func(s *Service) {
		s.lockoutOpts = append(s.lockoutOpts, opts...)
	}
}

// WithAPIKeys forwards options to the embedded API key manager.
func WithAPIKeys(opts ...APIKeyOption) ServiceOption {
	return func(s *Service) {
		s.keyOpts = append(s.keyOpts, opts...)
	}
}

// NewService constructs the auth service.
func NewService(store Store, issuer *TokenIssuer, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("auth: store is required")
	}
	if issuer == nil {
		return nil, errors.New("auth: token issuer is required")
	}
	s := &Service{
		store:  store,
		issuer: issuer,
		log:    obs.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	var err error
	if s.lockout, err = NewLockoutTracker(store, s.lockoutOpts...); err != nil {
		return nil, err
	}
	if s.keys, err = NewAPIKeyManager(store, s.keyOpts...); err != nil {
		return nil, err
	}
	return s, nil
}

// LoginInput carries one credential attempt plus its origin for the audit
// trail.
type LoginInput struct {
	Email     string
	Password  string
	IP        string
	UserAgent string
}

// Register creates a new, unverified account with the least privileged role.
func (s *Service) Register(ctx context.Context, email, password, ip, userAgent string) (*Account, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, fmt.Errorf("%w: valid email is required", ErrInvalidInput)
	}
	if len(password) < minPasswordLength {
		return nil, fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, minPasswordLength)
	}
	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}
	account := &Account{
		ID:           ids.New(),
		Email:        email,
		PasswordHash: hash,
		Role:         RoleUser,
		Active:       true,
	}
	if err := s.store.Accounts(ctx).Create(ctx, account); err != nil {
		return nil, err
	}
	s.emit(ctx, &SecurityEvent{
		Kind:      "account.registered",
		AccountID: account.ID,
		Email:     account.Email,
		IP:        ip,
		UserAgent: userAgent,
	})
	return account, nil
}

// Login verifies credentials and mints a token pair. The lock state is
// checked before the password so a locked account gets a uniform rejection
// without wasting a bcrypt comparison, regardless of credential correctness.
func (s *Service) Login(ctx context.Context, in LoginInput) (TokenPair, *Account, error) {
	email := strings.TrimSpace(strings.ToLower(in.Email))
	if email == "" || in.Password == "" {
		obs.ObserveLogin("invalid_credentials")
		return TokenPair{}, nil, ErrInvalidCredentials
	}

	account, err := s.store.Accounts(ctx).FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			obs.ObserveLogin("invalid_credentials")
			s.emit(ctx, &SecurityEvent{
				Kind:      "login.failed",
				Email:     email,
				IP:        in.IP,
				UserAgent: in.UserAgent,
				Fields:    map[string]string{"reason": "unknown_account"},
			})
			return TokenPair{}, nil, ErrInvalidCredentials
		}
		obs.ObserveLogin("error")
		return TokenPair{}, nil, err
	}

	if until, locked := s.lockout.Locked(account); locked {
		obs.ObserveLogin("locked")
		s.emit(ctx, &SecurityEvent{
			Kind:      "login.rejected_locked",
			AccountID: account.ID,
			Email:     account.Email,
			IP:        in.IP,
			UserAgent: in.UserAgent,
			Fields:    map[string]string{"locked_until": until.UTC().Format(time.RFC3339)},
		})
		return TokenPair{}, nil, ErrAccountLocked
	}

	if err := VerifyPassword(account.PasswordHash, in.Password); err != nil {
		count, until, ferr := s.lockout.RecordFailure(ctx, account.ID)
		if ferr != nil {
			obs.ObserveLogin("error")
			return TokenPair{}, nil, ferr
		}
		fields := map[string]string{
			"reason":        "wrong_password",
			"failed_logins": strconv.Itoa(count),
		}
		if until != nil {
			fields["locked_until"] = until.UTC().Format(time.RFC3339)
		}
		obs.ObserveLogin("invalid_credentials")
		s.emit(ctx, &SecurityEvent{
			Kind:      "login.failed",
			AccountID: account.ID,
			Email:     account.Email,
			IP:        in.IP,
			UserAgent: in.UserAgent,
			Fields:    fields,
		})
		return TokenPair{}, nil, ErrInvalidCredentials
	}

	if !account.Active {
		obs.ObserveLogin("inactive")
		s.emit(ctx, &SecurityEvent{
			Kind:      "login.rejected_inactive",
			AccountID: account.ID,
			Email:     account.Email,
			IP:        in.IP,
			UserAgent: in.UserAgent,
		})
		return TokenPair{}, nil, ErrAccountInactive
	}
	if !account.Verified {
		obs.ObserveLogin("unverified")
		s.emit(ctx, &SecurityEvent{
			Kind:      "login.rejected_unverified",
			AccountID: account.ID,
			Email:     account.Email,
			IP:        in.IP,
			UserAgent: in.UserAgent,
		})
		return TokenPair{}, nil, ErrAccountUnverified
	}

	if err := s.lockout.Reset(ctx, account.ID); err != nil {
		obs.ObserveLogin("error")
		return TokenPair{}, nil, err
	}
	account.FailedLogins = 0
	account.LockedUntil = nil

	pair, err := s.issuer.IssuePair(account.ID, account.Email, account.Role)
	if err != nil {
		obs.ObserveLogin("error")
		return TokenPair{}, nil, err
	}
	obs.ObserveLogin("success")
	s.emit(ctx, &SecurityEvent{
		Kind:      "login.succeeded",
		AccountID: account.ID,
		Email:     account.Email,
		IP:        in.IP,
		UserAgent: in.UserAgent,
	})
	return pair, account, nil
}

// Refresh validates a refresh token against the refresh secret only,
// re-reads the account and issues a brand-new pair. Role changes since the
// original issuance are reflected in the new tokens. The old refresh token is
// not revoked; the scheme is stateless.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (TokenPair, *Account, error) {
	claims, err := s.issuer.VerifyRefresh(refreshToken)
	if err != nil {
		return TokenPair{}, nil, err
	}
	account, err := s.store.Accounts(ctx).Find(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return TokenPair{}, nil, ErrTokenMalformed
		}
		return TokenPair{}, nil, err
	}
	if !account.Active {
		return TokenPair{}, nil, ErrAccountInactive
	}
	pair, err := s.issuer.IssuePair(account.ID, account.Email, account.Role)
	if err != nil {
		return TokenPair{}, nil, err
	}
	s.emit(ctx, &SecurityEvent{
		Kind:      "token.refreshed",
		AccountID: account.ID,
		Email:     account.Email,
	})
	return pair, account, nil
}

// Authenticate resolves a bearer access token to an identity. Verification
// is a pure signature check; no store access.
func (s *Service) Authenticate(_ context.Context, accessToken string) (Identity, error) {
	claims, err := s.issuer.VerifyAccess(accessToken)
	if err != nil {
		return Identity{}, err
	}
	return Identity{
		ID:    claims.Subject,
		Email: claims.Email,
		Role:  ParseRole(claims.Role),
	}, nil
}

// AuthenticateAPIKey resolves an X-API-Key value to an identity.
func (s *Service) AuthenticateAPIKey(ctx context.Context, key string) (Identity, error) {
	account, err := s.keys.Verify(ctx, key)
	if err != nil {
		if errors.Is(err, ErrAPIKeyInvalid) {
			obs.ObserveAPIKeyCheck("invalid")
		} else {
			obs.ObserveAPIKeyCheck("error")
		}
		return Identity{}, err
	}
	obs.ObserveAPIKeyCheck("ok")
	return Identity{ID: account.ID, Email: account.Email, Role: account.Role}, nil
}

// Authorize checks that the identity's role grants every required
// permission. A denial is recorded as a security event; recording never
// blocks the response.
func (s *Service) Authorize(ctx context.Context, id Identity, resource string, required ...string) error {
	granted := PermissionsFor(id.Role)
	if RequireAll(required, granted) {
		return nil
	}
	s.log.Warn("permission denied",
		zap.String("account_id", id.ID),
		zap.String("role", string(id.Role)),
		zap.String("resource", resource),
		zap.Strings("required", required),
	)
	s.emit(ctx, &SecurityEvent{
		Kind:      "authz.denied",
		AccountID: id.ID,
		Email:     id.Email,
		Fields: map[string]string{
			"resource": resource,
			"required": strings.Join(required, ","),
			"role":     string(id.Role),
		},
	})
	return ErrPermissionDenied
}

// GenerateAPIKey mints a new key for the account, invalidating any previous
// one, and returns the plaintext exactly once.
func (s *Service) GenerateAPIKey(ctx context.Context, accountID string) (string, error) {
	key, err := s.keys.Generate(ctx, accountID)
	if err != nil {
		return "", err
	}
	s.emit(ctx, &SecurityEvent{
		Kind:      "apikey.generated",
		AccountID: accountID,
	})
	return key, nil
}

// RevokeAPIKey removes the account's key.
func (s *Service) RevokeAPIKey(ctx context.Context, accountID string) error {
	if err := s.keys.Revoke(ctx, accountID); err != nil {
		return err
	}
	s.emit(ctx, &SecurityEvent{
		Kind:      "apikey.revoked",
		AccountID: accountID,
	})
	return nil
}

// VerifyEmail marks the account verified.
func (s *Service) VerifyEmail(ctx context.Context, accountID string) error {
	if err := s.store.Accounts(ctx).SetVerified(ctx, accountID); err != nil {
		return err
	}
	s.emit(ctx, &SecurityEvent{
		Kind:      "account.verified",
		AccountID: accountID,
	})
	return nil
}

// ChangePassword replaces the password after re-verifying the current one.
func (s *Service) ChangePassword(ctx context.Context, accountID, current, next string) error {
	if len(next) < minPasswordLength {
		return fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, minPasswordLength)
	}
	account, err := s.store.Accounts(ctx).Find(ctx, accountID)
	if err != nil {
		return err
	}
	if err := VerifyPassword(account.PasswordHash, current); err != nil {
		return ErrInvalidCredentials
	}
	hash, err := HashPassword(next)
	if err != nil {
		return err
	}
	if err := s.store.Accounts(ctx).UpdatePassword(ctx, accountID, hash); err != nil {
		return err
	}
	s.emit(ctx, &SecurityEvent{
		Kind:      "account.password_changed",
		AccountID: account.ID,
		Email:     account.Email,
	})
	return nil
}

// ChangeRole assigns a new role. Existing access tokens keep their old role
// until they expire or are refreshed.
func (s *Service) ChangeRole(ctx context.Context, accountID string, role Role) error {
	if !role.Valid() {
		return fmt.Errorf("%w: unknown role %q", ErrInvalidInput, role)
	}
	if err := s.store.Accounts(ctx).SetRole(ctx, accountID, role); err != nil {
		return err
	}
	s.emit(ctx, &SecurityEvent{
		Kind:      "account.role_changed",
		AccountID: accountID,
		Fields:    map[string]string{"role": string(role)},
	})
	return nil
}

// Deactivate soft-disables the account. Accounts are never hard-deleted.
func (s *Service) Deactivate(ctx context.Context, accountID string) error {
	if err := s.store.Accounts(ctx).SetActive(ctx, accountID, false); err != nil {
		return err
	}
	s.emit(ctx, &SecurityEvent{
		Kind:      "account.deactivated",
		AccountID: accountID,
	})
	return nil
}

// ListAccounts returns accounts for the admin surface.
func (s *Service) ListAccounts(ctx context.Context, limit int) ([]*Account, error) {
	return s.store.Accounts(ctx).List(ctx, limit)
}

// RecentEvents returns the newest security events for the logs UI.
func (s *Service) RecentEvents(ctx context.Context, limit int) ([]*SecurityEvent, error) {
	return s.store.Events(ctx).List(ctx, limit)
}

func (s *Service) emit(ctx context.Context, e *SecurityEvent) {
	if e.ID == "" {
		e.ID = ids.New()
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = s.now().UTC()
	}
	if s.recorder != nil {
		s.recorder.Record(ctx, e)
	}
}
