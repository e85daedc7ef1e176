package auth

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"opsgate.io/internal/ids"
)

var _ Store = (*PGStore)(nil)

// PGStore implements Store using PostgreSQL. The failure-counter and
// usage-counter updates are single statements so they stay atomic under
// concurrent logins.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Accounts(context.Context) AccountStore { return &pgAccounts{db: s.db} }
func (s *PGStore) Events(context.Context) EventStore     { return &pgEvents{db: s.db} }

const accountColumns = `id, email, password_hash, role, verified, active,
	failed_logins, locked_until, api_key_hash, api_key_expires_at,
	api_key_usage, api_key_last_used, created_at, updated_at`

// Account store --------------------------------------------------------------
type pgAccounts struct{ db *sql.DB }

func (s *pgAccounts) Create(ctx context.Context, a *Account) error {
	if a.ID == "" {
		a.ID = ids.New()
	}
	_, err := s.db.ExecContext(ctx,
		`insert into accounts(id, email, password_hash, role, verified, active)
		 values($1, lower($2), $3, $4, $5, $6)`,
		a.ID, a.Email, a.PasswordHash, string(a.Role), a.Verified, a.Active,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrAlreadyExists
		}
		return err
	}
	return nil
}

func (s *pgAccounts) Find(ctx context.Context, id string) (*Account, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+accountColumns+` from accounts where id=$1`, id)
	return scanAccount(row)
}

func (s *pgAccounts) FindByEmail(ctx context.Context, email string) (*Account, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+accountColumns+` from accounts where email=lower($1)`, strings.TrimSpace(email))
	return scanAccount(row)
}

func (s *pgAccounts) FindByAPIKeyHash(ctx context.Context, hash string) (*Account, error) {
	if hash == "" {
		return nil, ErrNotFound
	}
	row := s.db.QueryRowContext(ctx,
		`select `+accountColumns+` from accounts where api_key_hash=$1`, hash)
	return scanAccount(row)
}

func (s *pgAccounts) List(ctx context.Context, limit int) ([]*Account, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`select `+accountColumns+` from accounts order by created_at asc limit $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []*Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

func (s *pgAccounts) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	return s.exec(ctx,
		`update accounts set password_hash=$2, updated_at=now() where id=$1`,
		id, passwordHash)
}

func (s *pgAccounts) SetVerified(ctx context.Context, id string) error {
	return s.exec(ctx,
		`update accounts set verified=true, updated_at=now() where id=$1`, id)
}

func (s *pgAccounts) SetActive(ctx context.Context, id string, active bool) error {
	return s.exec(ctx,
		`update accounts set active=$2, updated_at=now() where id=$1`, id, active)
}

func (s *pgAccounts) SetRole(ctx context.Context, id string, role Role) error {
	return s.exec(ctx,
		`update accounts set role=$2, updated_at=now() where id=$1`, id, string(role))
}

func (s *pgAccounts) RecordLoginFailure(ctx context.Context, id string, threshold int, lockFor time.Duration, at time.Time) (int, *time.Time, error) {
	row := s.db.QueryRowContext(ctx,
		`update accounts set
			failed_logins = case
				when locked_until is not null and locked_until > $2 then failed_logins
				when locked_until is not null then 1
				when failed_logins + 1 >= $3 then $3
				else failed_logins + 1 end,
			locked_until = case
				when locked_until is not null and locked_until > $2 then locked_until
				when locked_until is not null then null
				when failed_logins + 1 >= $3 then $4
				else locked_until end,
			updated_at = now()
		 where id=$1
		 returning failed_logins, locked_until`,
		id, at, threshold, at.Add(lockFor),
	)
	var (
		count int
		until sql.NullTime
	)
	if err := row.Scan(&count, &until); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil, ErrNotFound
		}
		return 0, nil, err
	}
	if until.Valid {
		t := until.Time
		return count, &t, nil
	}
	return count, nil, nil
}

func (s *pgAccounts) ResetLoginFailures(ctx context.Context, id string) error {
	return s.exec(ctx,
		`update accounts set failed_logins=0, locked_until=null, updated_at=now() where id=$1`, id)
}

func (s *pgAccounts) SetAPIKey(ctx context.Context, id, hash string, expiresAt time.Time) error {
	return s.exec(ctx,
		`update accounts set api_key_hash=$2, api_key_expires_at=$3,
			api_key_usage=0, api_key_last_used=null, updated_at=now()
		 where id=$1`,
		id, hash, expiresAt)
}

func (s *pgAccounts) ClearAPIKey(ctx context.Context, id string) error {
	return s.exec(ctx,
		`update accounts set api_key_hash=null, api_key_expires_at=null,
			api_key_usage=0, api_key_last_used=null, updated_at=now()
		 where id=$1`, id)
}

func (s *pgAccounts) TouchAPIKeyUsage(ctx context.Context, id string, at time.Time) error {
	return s.exec(ctx,
		`update accounts set api_key_usage=api_key_usage+1, api_key_last_used=$2,
			updated_at=now()
		 where id=$1`,
		id, at)
}

func (s *pgAccounts) exec(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*Account, error) {
	var (
		a        Account
		role     string
		hash     sql.NullString
		locked   sql.NullTime
		expires  sql.NullTime
		lastUsed sql.NullTime
	)
	err := row.Scan(
		&a.ID, &a.Email, &a.PasswordHash, &role, &a.Verified, &a.Active,
		&a.FailedLogins, &locked, &hash, &expires,
		&a.APIKeyUsage, &lastUsed, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	a.Role = ParseRole(role)
	if hash.Valid {
		a.APIKeyHash = hash.String
	}
	if locked.Valid {
		t := locked.Time
		a.LockedUntil = &t
	}
	if expires.Valid {
		t := expires.Time
		a.APIKeyExpires = &t
	}
	if lastUsed.Valid {
		t := lastUsed.Time
		a.APIKeyLastUsed = &t
	}
	return &a, nil
}

// Event store ----------------------------------------------------------------
type pgEvents struct{ db *sql.DB }

func (s *pgEvents) Append(ctx context.Context, e *SecurityEvent) error {
	if e.ID == "" {
		e.ID = ids.New()
	}
	fields, _ := json.Marshal(e.Fields)
	_, err := s.db.ExecContext(ctx,
		`insert into security_events(id, occurred_at, kind, account_id, email, ip, user_agent, fields)
		 values($1,$2,$3,$4,$5,$6,$7,$8)`,
		e.ID, e.OccurredAt, e.Kind, e.AccountID, e.Email, e.IP, e.UserAgent, fields,
	)
	return err
}

func (s *pgEvents) List(ctx context.Context, limit int) ([]*SecurityEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`select id, occurred_at, kind, account_id, email, ip, user_agent, fields
		 from security_events order by occurred_at desc limit $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*SecurityEvent
	for rows.Next() {
		var (
			e      SecurityEvent
			fields []byte
		)
		if err := rows.Scan(&e.ID, &e.OccurredAt, &e.Kind, &e.AccountID, &e.Email, &e.IP, &e.UserAgent, &fields); err != nil {
			return nil, err
		}
		_ = json.Unmarshal(fields, &e.Fields)
		events = append(events, &e)
	}
	return events, rows.Err()
}
