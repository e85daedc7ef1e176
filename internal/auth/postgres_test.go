package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
)

func newMockStore(t *testing.T) (*PGStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
		db.Close()
	})
	return NewPGStore(db), mock
}

func accountRows(a *Account) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{
		"id", "email", "password_hash", "role", "verified", "active",
		"failed_logins", "locked_until", "api_key_hash", "api_key_expires_at",
		"api_key_usage", "api_key_last_used", "created_at", "updated_at",
	})
	rows.AddRow(a.ID, a.Email, a.PasswordHash, string(a.Role), a.Verified, a.Active,
		a.FailedLogins, a.LockedUntil, nullableString(a.APIKeyHash), a.APIKeyExpires,
		a.APIKeyUsage, a.APIKeyLastUsed, a.CreatedAt, a.UpdatedAt)
	return rows
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func TestPGCreateMapsDuplicateEmail(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec("insert into accounts").
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "accounts_email_key"})

	err := store.Accounts(context.Background()).Create(context.Background(), &Account{
		ID: "a1", Email: "dev@example.com", PasswordHash: "h", Role: RoleUser, Active: true,
	})
	if !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("Create = %v, want ErrAlreadyExists", err)
	}
}

func TestPGFindByEmail(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()
	want := &Account{
		ID: "a1", Email: "dev@example.com", PasswordHash: "h", Role: RoleAnalyst,
		Verified: true, Active: true, CreatedAt: now, UpdatedAt: now,
	}
	mock.ExpectQuery("select .+ from accounts where email=lower").
		WithArgs("dev@example.com").
		WillReturnRows(accountRows(want))

	got, err := store.Accounts(context.Background()).FindByEmail(context.Background(), "dev@example.com")
	if err != nil {
		t.Fatalf("FindByEmail: %v", err)
	}
	if got.ID != want.ID || got.Role != RoleAnalyst || got.APIKeyHash != "" {
		t.Fatalf("got %+v", got)
	}
}

func TestPGFindNotFound(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("select .+ from accounts where id=").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := store.Accounts(context.Background()).Find(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Find = %v, want ErrNotFound", err)
	}
}

func TestPGRecordLoginFailure(t *testing.T) {
	store, mock := newMockStore(t)
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	until := at.Add(time.Hour)
	mock.ExpectQuery("update accounts set").
		WithArgs("a1", at, 10, until).
		WillReturnRows(sqlmock.NewRows([]string{"failed_logins", "locked_until"}).AddRow(10, until))

	count, lockedUntil, err := store.Accounts(context.Background()).
		RecordLoginFailure(context.Background(), "a1", 10, time.Hour, at)
	if err != nil {
		t.Fatalf("RecordLoginFailure: %v", err)
	}
	if count != 10 {
		t.Fatalf("count = %d, want 10", count)
	}
	if lockedUntil == nil || !lockedUntil.Equal(until) {
		t.Fatalf("locked until = %v, want %v", lockedUntil, until)
	}
}

func TestPGRecordLoginFailureKeepsActiveLock(t *testing.T) {
	store, mock := newMockStore(t)
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	until := at.Add(30 * time.Minute)
	// The statement guards on an active lock before any counter arithmetic.
	mock.ExpectQuery(`locked_until is not null and locked_until > \$2 then failed_logins`).
		WithArgs("a1", at, 10, at.Add(time.Hour)).
		WillReturnRows(sqlmock.NewRows([]string{"failed_logins", "locked_until"}).AddRow(10, until))

	count, lockedUntil, err := store.Accounts(context.Background()).
		RecordLoginFailure(context.Background(), "a1", 10, time.Hour, at)
	if err != nil {
		t.Fatalf("RecordLoginFailure: %v", err)
	}
	if count != 10 {
		t.Fatalf("count = %d, want 10", count)
	}
	if lockedUntil == nil || !lockedUntil.Equal(until) {
		t.Fatalf("locked until = %v, want %v", lockedUntil, until)
	}
}

func TestPGRecordLoginFailureUnknownAccount(t *testing.T) {
	store, mock := newMockStore(t)
	at := time.Now().UTC()
	mock.ExpectQuery("update accounts set").
		WillReturnRows(sqlmock.NewRows([]string{"failed_logins", "locked_until"}))

	_, _, err := store.Accounts(context.Background()).
		RecordLoginFailure(context.Background(), "missing", 10, time.Hour, at)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("RecordLoginFailure = %v, want ErrNotFound", err)
	}
}

func TestPGExecReportsMissingRow(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec("update accounts set failed_logins=0").
		WithArgs("missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.Accounts(context.Background()).ResetLoginFailures(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("ResetLoginFailures = %v, want ErrNotFound", err)
	}
}

func TestPGTouchAPIKeyUsage(t *testing.T) {
	store, mock := newMockStore(t)
	at := time.Now().UTC()
	mock.ExpectExec("update accounts set api_key_usage=api_key_usage\\+1").
		WithArgs("a1", at).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := store.Accounts(context.Background()).TouchAPIKeyUsage(context.Background(), "a1", at); err != nil {
		t.Fatalf("TouchAPIKeyUsage: %v", err)
	}
}

func TestPGEventsAppend(t *testing.T) {
	store, mock := newMockStore(t)
	at := time.Now().UTC()
	mock.ExpectExec("insert into security_events").
		WithArgs("e1", at, "login.failed", "a1", "dev@example.com", "10.0.0.1", "ua", []byte(`{"reason":"wrong_password"}`)).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := store.Events(context.Background()).Append(context.Background(), &SecurityEvent{
		ID: "e1", OccurredAt: at, Kind: "login.failed", AccountID: "a1",
		Email: "dev@example.com", IP: "10.0.0.1", UserAgent: "ua",
		Fields: map[string]string{"reason": "wrong_password"},
	})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
}
