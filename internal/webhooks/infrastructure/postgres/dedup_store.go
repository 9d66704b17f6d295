package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const defaultDeliveriesTable = "webhook_deliveries"

// DedupStore is a Postgres implementation of webhooks.Deduplicator.
type DedupStore struct {
	db    *sql.DB
	table string
	now   func() time.Time
}

// DedupOption configures the dedup store.
type DedupOption func(*DedupStore)

// WithDeliveriesTable overrides table name.
func WithDeliveriesTable(table string) DedupOption {
	return func(store *DedupStore) {
		if table != "" {
			store.table = table
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) DedupOption {
	return func(store *DedupStore) {
		if now != nil {
			store.now = now
		}
	}
}

// NewDedupStore constructs a dedup store.
func NewDedupStore(db *sql.DB, opts ...DedupOption) (*DedupStore, error) {
	if db == nil {
		return nil, errors.New("webhook dedup store: nil db")
	}
	store := &DedupStore{db: db, table: defaultDeliveriesTable, now: time.Now}
	for _, opt := range opts {
		opt(store)
	}
	return store, nil
}

// IsDuplicate checks for an unexpired delivery record.
func (s *DedupStore) IsDuplicate(ctx context.Context, provider, eventID string) (bool, error) {
	if provider == "" || eventID == "" {
		return false, errors.New("webhook dedup store: invalid arguments")
	}
	query := fmt.Sprintf(`
SELECT EXISTS (
	SELECT 1 FROM %s WHERE provider = $1 AND event_id = $2 AND expires_at > $3
)`, s.table)
	var exists bool
	if err := s.db.QueryRowContext(ctx, query, provider, eventID, s.now().UTC()).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

// RecordProcessed inserts the delivery, taking over an expired row. It reports whether this call won.
func (s *DedupStore) RecordProcessed(ctx context.Context, provider, eventID string, ttl time.Duration) (bool, error) {
	if provider == "" || eventID == "" || ttl <= 0 {
		return false, errors.New("webhook dedup store: invalid arguments")
	}
	now := s.now().UTC()
	query := fmt.Sprintf(`
INSERT INTO %s (provider, event_id, processed_at, expires_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (provider, event_id)
DO UPDATE SET processed_at = EXCLUDED.processed_at, expires_at = EXCLUDED.expires_at
WHERE %s.expires_at <= EXCLUDED.processed_at
RETURNING provider`, s.table, s.table)
	var recorded string
	err := s.db.QueryRowContext(ctx, query, provider, eventID, now, now.Add(ttl)).Scan(&recorded)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Forget removes a delivery record.
func (s *DedupStore) Forget(ctx context.Context, provider, eventID string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE provider = $1 AND event_id = $2`, s.table)
	_, err := s.db.ExecContext(ctx, query, provider, eventID)
	return err
}

// PurgeExpired deletes records past their TTL and returns how many were removed.
func (s *DedupStore) PurgeExpired(ctx context.Context) (int64, error) {
	query := fmt.Sprintf(`DELETE FROM %s WHERE expires_at <= $1`, s.table)
	res, err := s.db.ExecContext(ctx, query, s.now().UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
