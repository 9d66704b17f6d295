package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const defaultProcessedTable = "processed_events"

// ProcessedStore records which consumer handled which event.
type ProcessedStore struct {
	db    *sql.DB
	table string
}

// ProcessedOption configures the processed store.
type ProcessedOption func(*ProcessedStore)

// WithProcessedTable overrides table name.
func WithProcessedTable(table string) ProcessedOption {
	return func(store *ProcessedStore) {
		if table != "" {
			store.table = table
		}
	}
}

// NewProcessedStore constructs a processed store.
func NewProcessedStore(db *sql.DB, opts ...ProcessedOption) (*ProcessedStore, error) {
	if db == nil {
		return nil, errors.New("processed store: nil db")
	}
	store := &ProcessedStore{db: db, table: defaultProcessedTable}
	for _, opt := range opts {
		opt(store)
	}
	return store, nil
}

// HasProcessed checks if event was already processed by the consumer.
func (s *ProcessedStore) HasProcessed(ctx context.Context, eventID, consumerName string) (bool, error) {
	if eventID == "" || consumerName == "" {
		return false, errors.New("processed store: invalid arguments")
	}
	query := fmt.Sprintf(`
SELECT EXISTS (
	SELECT 1 FROM %s WHERE event_id = $1 AND consumer_name = $2
)`, s.table)
	var exists bool
	if err := s.db.QueryRowContext(ctx, query, eventID, consumerName).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

// MarkProcessed records an event as processed.
func (s *ProcessedStore) MarkProcessed(ctx context.Context, eventID, consumerName string) error {
	if eventID == "" || consumerName == "" {
		return errors.New("processed store: invalid arguments")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (event_id, consumer_name, processed_at)
VALUES ($1, $2, $3)
ON CONFLICT (event_id, consumer_name)
DO NOTHING`, s.table)
	_, err := s.db.ExecContext(ctx, query, eventID, consumerName, time.Now().UTC())
	return err
}
