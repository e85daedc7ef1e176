package auth

import (
	"bytes"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	// TokenTypeAccess marks short-lived tokens that authorize resource access.
	TokenTypeAccess = "access"
	// TokenTypeRefresh marks long-lived tokens whose only authorized use is
	// minting a new pair.
	TokenTypeRefresh = "refresh"

	defaultAccessTTL  = time.Hour
	defaultRefreshTTL = 7 * 24 * time.Hour
)

// Claims are the JWT claims carried by both token kinds.
type Claims struct {
	Email     string `json:"email"`
	Role      string `json:"role"`
	TokenType string `json:"token_type"`
	jwt.RegisteredClaims
}

// TokenPair is the result of a login or refresh.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// TokenIssuer mints and verifies HS256-signed access and refresh tokens.
// The two kinds are signed with distinct secrets so compromise of one cannot
// forge the other. Verification is purely computational; no account state is
// touched.
type TokenIssuer struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
	issuer        string
	now           func() time.Time
}

// IssuerOption configures TokenIssuer behavior.
type IssuerOption func(*TokenIssuer)

// WithAccessTTL overrides the access token lifetime.
func WithAccessTTL(ttl time.Duration) IssuerOption {
	return func(i *TokenIssuer) {
		if ttl > 0 {
			i.accessTTL = ttl
		}
	}
}

// WithRefreshTTL overrides the refresh token lifetime.
func WithRefreshTTL(ttl time.Duration) IssuerOption {
	return func(i *TokenIssuer) {
		if ttl > 0 {
			i.refreshTTL = ttl
		}
	}
}

// WithIssuerName sets the iss claim.
func WithIssuerName(name string) IssuerOption {
	return func(i *TokenIssuer) {
		i.issuer = strings.TrimSpace(name)
	}
}

// WithIssuerClock overrides the time source (useful for tests).
func WithIssuerClock(fn func() time.Time) IssuerOption {
	return func(i *TokenIssuer) {
		if fn != nil {
			i.now = fn
		}
	}
}

// NewTokenIssuer constructs a TokenIssuer. Both secrets are required and must
// differ, otherwise the secret isolation guarantee is void.
func NewTokenIssuer(accessSecret, refreshSecret []byte, opts ...IssuerOption) (*TokenIssuer, error) {
	if len(accessSecret) == 0 || len(refreshSecret) == 0 {
		return nil, errors.New("auth: both access and refresh secrets are required")
	}
	if bytes.Equal(accessSecret, refreshSecret) {
		return nil, errors.New("auth: access and refresh secrets must differ")
	}
	issuer := &TokenIssuer{
		accessSecret:  accessSecret,
		refreshSecret: refreshSecret,
		accessTTL:     defaultAccessTTL,
		refreshTTL:    defaultRefreshTTL,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(issuer)
	}
	return issuer, nil
}

// AccessTTL returns the configured access token lifetime.
func (i *TokenIssuer) AccessTTL() time.Duration { return i.accessTTL }

// RefreshTTL returns the configured refresh token lifetime.
func (i *TokenIssuer) RefreshTTL() time.Duration { return i.refreshTTL }

// IssuePair mints a fresh access/refresh pair for the account. Issuance has
// no side effects beyond signing.
func (i *TokenIssuer) IssuePair(accountID, email string, role Role) (TokenPair, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return TokenPair{}, errors.New("auth: account id is required")
	}
	now := i.now().UTC()
	accessExp := now.Add(i.accessTTL)
	refreshExp := now.Add(i.refreshTTL)

	access, err := i.sign(accountID, email, role, TokenTypeAccess, now, accessExp, i.accessSecret)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := i.sign(accountID, email, role, TokenTypeRefresh, now, refreshExp, i.refreshSecret)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

// VerifyAccess validates an access token against the access secret.
func (i *TokenIssuer) VerifyAccess(token string) (*Claims, error) {
	return i.verify(token, i.accessSecret, TokenTypeAccess)
}

// VerifyRefresh validates a refresh token against the refresh secret.
func (i *TokenIssuer) VerifyRefresh(token string) (*Claims, error) {
	return i.verify(token, i.refreshSecret, TokenTypeRefresh)
}

func (i *TokenIssuer) sign(accountID, email string, role Role, kind string, now, exp time.Time, secret []byte) (string, error) {
	claims := Claims{
		Email:     email,
		Role:      string(role),
		TokenType: kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   accountID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

func (i *TokenIssuer) verify(token string, secret []byte, wantType string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrTokenMalformed
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		return secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenMalformed
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrTokenMalformed
	}
	if claims.TokenType != wantType {
		return nil, ErrTokenMalformed
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, ErrTokenMalformed
	}
	if i.issuer != "" && claims.Issuer != i.issuer {
		return nil, ErrTokenMalformed
	}
	return claims, nil
}
