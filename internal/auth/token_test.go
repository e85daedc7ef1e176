package auth

import (
	"errors"
	"testing"
	"time"
)

func newTestIssuer(t *testing.T, opts ...IssuerOption) *TokenIssuer {
	t.Helper()
	issuer, err := NewTokenIssuer([]byte("access-secret"), []byte("refresh-secret"), opts...)
	if err != nil {
		t.Fatalf("NewTokenIssuer: %v", err)
	}
	return issuer
}

func TestNewTokenIssuerRejectsBadSecrets(t *testing.T) {
	if _, err := NewTokenIssuer(nil, []byte("r")); err == nil {
		t.Fatal("expected error for empty access secret")
	}
	if _, err := NewTokenIssuer([]byte("a"), nil); err == nil {
		t.Fatal("expected error for empty refresh secret")
	}
	if _, err := NewTokenIssuer([]byte("same"), []byte("same")); err == nil {
		t.Fatal("expected error for identical secrets")
	}
}

func TestIssuePairRoundTrip(t *testing.T) {
	issuer := newTestIssuer(t, WithIssuerName("opsgate-api"))
	pair, err := issuer.IssuePair("acct-1", "dev@example.com", RoleAnalyst)
	if err != nil {
		t.Fatalf("IssuePair: %v", err)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatal("expected non-empty tokens")
	}
	if pair.AccessToken == pair.RefreshToken {
		t.Fatal("access and refresh tokens must differ")
	}

	claims, err := issuer.VerifyAccess(pair.AccessToken)
	if err != nil {
		t.Fatalf("VerifyAccess: %v", err)
	}
	if claims.Subject != "acct-1" {
		t.Fatalf("subject = %q, want acct-1", claims.Subject)
	}
	if claims.Email != "dev@example.com" {
		t.Fatalf("email = %q", claims.Email)
	}
	if claims.Role != string(RoleAnalyst) {
		t.Fatalf("role = %q", claims.Role)
	}
	if claims.TokenType != TokenTypeAccess {
		t.Fatalf("token_type = %q", claims.TokenType)
	}
	if claims.ID == "" {
		t.Fatal("expected a jti claim")
	}

	refresh, err := issuer.VerifyRefresh(pair.RefreshToken)
	if err != nil {
		t.Fatalf("VerifyRefresh: %v", err)
	}
	if refresh.TokenType != TokenTypeRefresh {
		t.Fatalf("token_type = %q", refresh.TokenType)
	}
}

func TestTokenSecretIsolation(t *testing.T) {
	issuer := newTestIssuer(t)
	pair, err := issuer.IssuePair("acct-1", "dev@example.com", RoleUser)
	if err != nil {
		t.Fatalf("IssuePair: %v", err)
	}
	// A refresh token must never pass as an access token and vice versa,
	// even though both are valid HS256 tokens from the same issuer.
	if _, err := issuer.VerifyAccess(pair.RefreshToken); !errors.Is(err, ErrTokenMalformed) {
		t.Fatalf("VerifyAccess(refresh) = %v, want ErrTokenMalformed", err)
	}
	if _, err := issuer.VerifyRefresh(pair.AccessToken); !errors.Is(err, ErrTokenMalformed) {
		t.Fatalf("VerifyRefresh(access) = %v, want ErrTokenMalformed", err)
	}
}

func TestTokenExpiry(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	issuer := newTestIssuer(t, WithIssuerClock(func() time.Time { return now }))

	pair, err := issuer.IssuePair("acct-1", "dev@example.com", RoleUser)
	if err != nil {
		t.Fatalf("IssuePair: %v", err)
	}
	if got := pair.AccessExpiresAt.Sub(now); got != time.Hour {
		t.Fatalf("access expiry offset = %v, want 1h", got)
	}
	if got := pair.RefreshExpiresAt.Sub(now); got != 7*24*time.Hour {
		t.Fatalf("refresh expiry offset = %v, want 168h", got)
	}

	// One second past the access expiry the token is rejected as expired,
	// while the refresh token is still fine.
	now = now.Add(time.Hour + time.Second)
	if _, err := issuer.VerifyAccess(pair.AccessToken); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("VerifyAccess after expiry = %v, want ErrTokenExpired", err)
	}
	if _, err := issuer.VerifyRefresh(pair.RefreshToken); err != nil {
		t.Fatalf("VerifyRefresh before its expiry: %v", err)
	}

	now = now.Add(7 * 24 * time.Hour)
	if _, err := issuer.VerifyRefresh(pair.RefreshToken); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("VerifyRefresh after expiry = %v, want ErrTokenExpired", err)
	}
}

func TestVerifyRejectsGarbage(t *testing.T) {
	issuer := newTestIssuer(t)
	for _, token := range []string{"", "   ", "not.a.jwt", "a.b"} {
		if _, err := issuer.VerifyAccess(token); !errors.Is(err, ErrTokenMalformed) {
			t.Fatalf("VerifyAccess(%q) = %v, want ErrTokenMalformed", token, err)
		}
	}
}

func TestVerifyChecksIssuer(t *testing.T) {
	minted := newTestIssuer(t, WithIssuerName("opsgate-api"))
	pair, err := minted.IssuePair("acct-1", "dev@example.com", RoleUser)
	if err != nil {
		t.Fatalf("IssuePair: %v", err)
	}
	other := newTestIssuer(t, WithIssuerName("someone-else"))
	if _, err := other.VerifyAccess(pair.AccessToken); !errors.Is(err, ErrTokenMalformed) {
		t.Fatalf("cross-issuer VerifyAccess = %v, want ErrTokenMalformed", err)
	}
}
