package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"finsuite/internal/eventing"
)

const (
	defaultOutboxTable  = "event_outbox"
	defaultClaimTimeout = 5 * time.Minute
)

// OutboxStore is a Postgres implementation for outbox records.
type OutboxStore struct {
	db           *sql.DB
	table        string
	claimTimeout time.Duration
}

// OutboxOption configures the outbox store.
type OutboxOption func(*OutboxStore)

// WithOutboxTable overrides the table name.
func WithOutboxTable(table string) OutboxOption {
	return func(store *OutboxStore) {
		if table != "" {
			store.table = table
		}
	}
}

// WithClaimTimeout sets how long a claimed record may stay undelivered before
// another dispatcher takes it over.
func WithClaimTimeout(d time.Duration) OutboxOption {
	return func(store *OutboxStore) {
		if d > 0 {
			store.claimTimeout = d
		}
	}
}

// NewOutboxStore constructs an outbox store.
func NewOutboxStore(db *sql.DB, opts ...OutboxOption) (*OutboxStore, error) {
	if db == nil {
		return nil, errors.New("outbox store: nil db")
	}
	store := &OutboxStore{db: db, table: defaultOutboxTable, claimTimeout: defaultClaimTimeout}
	for _, opt := range opts {
		opt(store)
	}
	return store, nil
}

// Insert writes an envelope to outbox. An event id already stored is kept as is.
func (s *OutboxStore) Insert(ctx context.Context, env eventing.Envelope) (string, error) {
	payload, err := json.Marshal(env)
	if err != nil {
		return "", err
	}
	outboxID := eventing.NewEventID()
	query := fmt.Sprintf(`
INSERT INTO %s (
	id,
	event_id,
	event_type,
	tenant_id,
	payload,
	status,
	attempts,
	created_at
) VALUES (
	$1, $2, $3, $4, $5, 'pending', 0, $6
)
ON CONFLICT (event_id)
DO NOTHING`, s.table)

	_, err = s.db.ExecContext(ctx, query, outboxID, env.EventID, env.EventType, env.TenantID, payload, time.Now().UTC())
	if err != nil {
		return "", err
	}
	return outboxID, nil
}

// ListPending claims up to limit pending records, oldest first. Claimed rows
// move to 'dispatching' so concurrent dispatchers skip them; a claim older
// than the claim timeout is taken over.
func (s *OutboxStore) ListPending(ctx context.Context, limit int) ([]eventing.OutboxRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	now := time.Now().UTC()
	query := fmt.Sprintf(`
UPDATE %s
SET status = 'dispatching', claimed_at = $2
WHERE id IN (
	SELECT id
	FROM %s
	WHERE status = 'pending' OR (status = 'dispatching' AND claimed_at < $3)
	ORDER BY created_at ASC
	LIMIT $1
	FOR UPDATE SKIP LOCKED
)
RETURNING id, payload, created_at`, s.table, s.table)

	rows, err := s.db.QueryContext(ctx, query, limit, now, now.Add(-s.claimTimeout))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	type claimed struct {
		record    eventing.OutboxRecord
		createdAt time.Time
	}
	var batch []claimed
	for rows.Next() {
		var (
			id        string
			payload   []byte
			createdAt time.Time
		)
		if err := rows.Scan(&id, &payload, &createdAt); err != nil {
			return nil, err
		}
		var env eventing.Envelope
		if err := json.Unmarshal(payload, &env); err != nil {
			return nil, fmt.Errorf("outbox store: decode %s: %w", id, err)
		}
		batch = append(batch, claimed{record: eventing.OutboxRecord{ID: id, Envelope: env}, createdAt: createdAt})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// RETURNING does not keep the subquery order.
	sort.SliceStable(batch, func(i, j int) bool { return batch[i].createdAt.Before(batch[j].createdAt) })
	result := make([]eventing.OutboxRecord, len(batch))
	for i, c := range batch {
		result[i] = c.record
	}
	return result, nil
}

// MarkSent marks outbox record as sent.
func (s *OutboxStore) MarkSent(ctx context.Context, id string) error {
	query := fmt.Sprintf(`
UPDATE %s
SET status = 'sent', sent_at = $1
WHERE id = $2`, s.table)
	_, err := s.db.ExecContext(ctx, query, time.Now().UTC(), id)
	return err
}

// MarkFailed marks outbox record as failed and increments attempts.
func (s *OutboxStore) MarkFailed(ctx context.Context, id string) error {
	query := fmt.Sprintf(`
UPDATE %s
SET status = 'failed', attempts = attempts + 1
WHERE id = $1`, s.table)
	_, err := s.db.ExecContext(ctx, query, id)
	return err
}

// Requeue moves failed records with fewer than maxAttempts back to pending and
// returns how many moved. Records at the limit stay failed; the DLQ keeps them.
func (s *OutboxStore) Requeue(ctx context.Context, maxAttempts int) (int64, error) {
	query := fmt.Sprintf(`
UPDATE %s
SET status = 'pending'
WHERE status = 'failed' AND attempts < $1`, s.table)
	res, err := s.db.ExecContext(ctx, query, maxAttempts)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
