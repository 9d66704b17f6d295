package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"finsuite/internal/idempotency"
)

const defaultTable = "idempotency_records"

// Store implements idempotency.Store on Postgres.
// A reservation is an INSERT that only overwrites an expired row, so one statement decides the race.
type Store struct {
	db    *sql.DB
	table string
	now   func() time.Time
}

// Option configures the store.
type Option func(*Store)

// WithTable overrides the table name.
func WithTable(table string) Option {
	return func(s *Store) {
		if table != "" {
			s.table = table
		}
	}
}

// NewStore constructs a Postgres-backed store.
func NewStore(db *sql.DB, opts ...Option) (*Store, error) {
	if db == nil {
		return nil, errors.New("idempotency postgres: nil db")
	}
	s := &Store{db: db, table: defaultTable, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Reserve implements idempotency.Store.
func (s *Store) Reserve(ctx context.Context, scope, key string, lease time.Duration) (idempotency.Record, error) {
	if scope == "" || key == "" {
		return idempotency.Record{}, idempotency.ErrInvalidKey
	}
	now := s.now().UTC()
	token := idempotency.NewToken()
	reserve := fmt.Sprintf(`
INSERT INTO %s (scope, idem_key, state, token, result, created_at, expires_at)
VALUES ($1, $2, 'pending', $3, NULL, $4, $5)
ON CONFLICT (scope, idem_key)
DO UPDATE SET
	state = 'pending',
	token = EXCLUDED.token,
	result = NULL,
	created_at = EXCLUDED.created_at,
	expires_at = EXCLUDED.expires_at
WHERE %s.expires_at <= EXCLUDED.created_at
RETURNING token`, s.table, s.table)

	var granted string
	err := s.db.QueryRowContext(ctx, reserve, scope, key, token, now, now.Add(lease)).Scan(&granted)
	if err == nil {
		return idempotency.Record{
			Scope:     scope,
			Key:       key,
			State:     idempotency.StatePending,
			CreatedAt: now,
			ExpiresAt: now.Add(lease),
			Token:     granted,
		}, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return idempotency.Record{}, err
	}

	lookup := fmt.Sprintf(`
SELECT state, result, created_at, expires_at
FROM %s
WHERE scope = $1 AND idem_key = $2`, s.table)
	var (
		state  string
		result []byte
		record = idempotency.Record{Scope: scope, Key: key}
	)
	if err := s.db.QueryRowContext(ctx, lookup, scope, key).Scan(&state, &result, &record.CreatedAt, &record.ExpiresAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return idempotency.Record{}, idempotency.ErrInProgress
		}
		return idempotency.Record{}, err
	}
	if idempotency.State(state) != idempotency.StateCompleted {
		return idempotency.Record{}, idempotency.ErrInProgress
	}
	record.State = idempotency.StateCompleted
	record.Result = result
	return record, nil
}

// Complete implements idempotency.Store.
func (s *Store) Complete(ctx context.Context, reservation idempotency.Record, result []byte, ttl time.Duration) error {
	query := fmt.Sprintf(`
UPDATE %s
SET state = 'completed', token = NULL, result = $4, expires_at = $5
WHERE scope = $1 AND idem_key = $2 AND token = $3 AND state = 'pending'`, s.table)
	res, err := s.db.ExecContext(ctx, query, reservation.Scope, reservation.Key, reservation.Token, result, s.now().UTC().Add(ttl))
	if err != nil {
		return err
	}
	return expectOneRow(res)
}

// Release implements idempotency.Store.
func (s *Store) Release(ctx context.Context, reservation idempotency.Record) error {
	query := fmt.Sprintf(`
DELETE FROM %s
WHERE scope = $1 AND idem_key = $2 AND token = $3 AND state = 'pending'`, s.table)
	res, err := s.db.ExecContext(ctx, query, reservation.Scope, reservation.Key, reservation.Token)
	if err != nil {
		return err
	}
	return expectOneRow(res)
}

// PurgeExpired deletes expired records.
func (s *Store) PurgeExpired(ctx context.Context) (int64, error) {
	query := fmt.Sprintf(`DELETE FROM %s WHERE expires_at <= $1`, s.table)
	res, err := s.db.ExecContext(ctx, query, s.now().UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func expectOneRow(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return idempotency.ErrReservationLost
	}
	return nil
}
