package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"finsuite/internal/eventing"
)

const defaultDLQTable = "dead_letter_events"

// DLQStore keeps events that could not be delivered.
type DLQStore struct {
	db    *sql.DB
	table string
}

// DLQOption configures the DLQ store.
type DLQOption func(*DLQStore)

// WithDLQTable overrides the table name.
func WithDLQTable(table string) DLQOption {
	return func(store *DLQStore) {
		if table != "" {
			store.table = table
		}
	}
}

// NewDLQStore constructs a DLQ store.
func NewDLQStore(db *sql.DB, opts ...DLQOption) (*DLQStore, error) {
	if db == nil {
		return nil, errors.New("dlq store: nil db")
	}
	store := &DLQStore{db: db, table: defaultDLQTable}
	for _, opt := range opts {
		opt(store)
	}
	return store, nil
}

// RecordFailure inserts a record or bumps the attempt count of an existing one.
func (s *DLQStore) RecordFailure(ctx context.Context, env eventing.Envelope, cause error) error {
	if env.EventID == "" {
		return errors.New("dlq store: empty event id")
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}
	message := ""
	if cause != nil {
		message = cause.Error()
	}

	query := fmt.Sprintf(`
INSERT INTO %s (
	event_id,
	event_type,
	tenant_id,
	payload,
	error,
	first_seen_at,
	last_seen_at,
	attempts
) VALUES (
	$1, $2, $3, $4, $5, $6, $6, 1
)
ON CONFLICT (event_id)
DO UPDATE SET
	payload = EXCLUDED.payload,
	error = EXCLUDED.error,
	last_seen_at = EXCLUDED.last_seen_at,
	attempts = %s.attempts + 1`, s.table, s.table)

	_, err = s.db.ExecContext(ctx, query, env.EventID, env.EventType, env.TenantID, payload, message, time.Now().UTC())
	return err
}
