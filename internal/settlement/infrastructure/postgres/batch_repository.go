package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	settlement "finsuite/internal/settlement/domain"
)

const (
	defaultBatchesTable  = "settlement_batches"
	defaultPaymentsTable = "settlement_batch_payments"

	uniqueViolation = "23505"
)

// BatchRepository persists settlement batches with optimistic concurrency on the version column.
type BatchRepository struct {
	db            *sql.DB
	batchesTable  string
	paymentsTable string
}

// Option configures the repository.
type Option func(*BatchRepository)

// WithTables overrides the table names.
func WithTables(batches, payments string) Option {
	return func(r *BatchRepository) {
		if batches != "" {
			r.batchesTable = batches
		}
		if payments != "" {
			r.paymentsTable = payments
		}
	}
}

// NewBatchRepository constructs a repository.
func NewBatchRepository(db *sql.DB, opts ...Option) (*BatchRepository, error) {
	if db == nil {
		return nil, errors.New("settlement repo: nil db")
	}
	r := &BatchRepository{db: db, batchesTable: defaultBatchesTable, paymentsTable: defaultPaymentsTable}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

func (r *BatchRepository) selectColumns() string {
	return fmt.Sprintf(`
SELECT id, tenant_id, provider, currency, status, gross, fee, net,
	expected_settlement, actual_settlement, external_reference, dispute_reason,
	created_at, closed_at, disputed_at, reconciled_at, version
FROM %s`, r.batchesTable)
}

// Get returns the batch or nil when unknown.
func (r *BatchRepository) Get(ctx context.Context, id string) (*settlement.Batch, error) {
	row := r.db.QueryRowContext(ctx, r.selectColumns()+`
WHERE id = $1`, id)
	state, err := scanBatch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return r.restore(ctx, state)
}

// FindOpen returns the open batch for tenant, provider and currency, or nil.
func (r *BatchRepository) FindOpen(ctx context.Context, tenantID, provider, currency string) (*settlement.Batch, error) {
	row := r.db.QueryRowContext(ctx, r.selectColumns()+`
WHERE tenant_id = $1 AND provider = $2 AND currency = $3 AND status = 'open'
LIMIT 1`, tenantID, provider, currency)
	state, err := scanBatch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return r.restore(ctx, state)
}

// List returns every batch of a tenant ordered by creation time, without payment ids.
func (r *BatchRepository) List(ctx context.Context, tenantID string) ([]settlement.BatchState, error) {
	rows, err := r.db.QueryContext(ctx, r.selectColumns()+`
WHERE tenant_id = $1
ORDER BY created_at ASC`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []settlement.BatchState
	for rows.Next() {
		state, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, state)
	}
	return out, rows.Err()
}

// Save inserts a new batch or updates a loaded one. A version that moved since load,
// or a second open batch for the same key, yields settlement.ErrConcurrentUpdate.
func (r *BatchRepository) Save(ctx context.Context, batch *settlement.Batch) error {
	if batch == nil {
		return settlement.ErrNilBatch
	}
	state := batch.State()
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if state.Version == 0 {
		err = r.insert(ctx, tx, state)
	} else {
		err = r.update(ctx, tx, state)
	}
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("%w: %s: %s", settlement.ErrConcurrentUpdate, state.ID, pgErr.ConstraintName)
		}
		return err
	}

	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE batch_id = $1`, r.paymentsTable), state.ID); err != nil {
		return err
	}
	insertPayment := fmt.Sprintf(`
INSERT INTO %s (batch_id, payment_id, position)
VALUES ($1, $2, $3)`, r.paymentsTable)
	for i, paymentID := range state.PaymentIDs {
		if _, err := tx.ExecContext(ctx, insertPayment, state.ID, paymentID, i); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	batch.MarkPersisted(state.Version + 1)
	return nil
}

func (r *BatchRepository) insert(ctx context.Context, tx *sql.Tx, state settlement.BatchState) error {
	_, err := tx.ExecContext(ctx, fmt.Sprintf(`
INSERT INTO %s (
	id, tenant_id, provider, currency, status, gross, fee, net,
	expected_settlement, actual_settlement, external_reference, dispute_reason,
	created_at, closed_at, disputed_at, reconciled_at, version, updated_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,1,$17
)`, r.batchesTable),
		state.ID, state.TenantID, state.Provider, state.Currency, string(state.Status),
		state.Gross, state.Fee, state.Net,
		nullDecimal(state.ExpectedSettlement), nullDecimal(state.ActualSettlement),
		state.ExternalReference, state.DisputeReason,
		state.CreatedAt, nullTime(state.ClosedAt), nullTime(state.DisputedAt), nullTime(state.ReconciledAt),
		time.Now().UTC(),
	)
	return err
}

func (r *BatchRepository) update(ctx context.Context, tx *sql.Tx, state settlement.BatchState) error {
	res, err := tx.ExecContext(ctx, fmt.Sprintf(`
UPDATE %s SET
	status = $3,
	gross = $4,
	fee = $5,
	net = $6,
	expected_settlement = $7,
	actual_settlement = $8,
	external_reference = $9,
	dispute_reason = $10,
	closed_at = $11,
	disputed_at = $12,
	reconciled_at = $13,
	version = version + 1,
	updated_at = $14
WHERE id = $1 AND version = $2`, r.batchesTable),
		state.ID, state.Version, string(state.Status),
		state.Gross, state.Fee, state.Net,
		nullDecimal(state.ExpectedSettlement), nullDecimal(state.ActualSettlement),
		state.ExternalReference, state.DisputeReason,
		nullTime(state.ClosedAt), nullTime(state.DisputedAt), nullTime(state.ReconciledAt),
		time.Now().UTC(),
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s at version %d", settlement.ErrConcurrentUpdate, state.ID, state.Version)
	}
	return nil
}

func (r *BatchRepository) restore(ctx context.Context, state settlement.BatchState) (*settlement.Batch, error) {
	rows, err := r.db.QueryContext(ctx, fmt.Sprintf(`
SELECT payment_id FROM %s
WHERE batch_id = $1
ORDER BY position ASC`, r.paymentsTable), state.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		state.PaymentIDs = append(state.PaymentIDs, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return settlement.RestoreBatch(state)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBatch(row rowScanner) (settlement.BatchState, error) {
	var (
		state                              settlement.BatchState
		status                             string
		expected, actual                   decimal.NullDecimal
		closedAt, disputedAt, reconciledAt sql.NullTime
	)
	err := row.Scan(
		&state.ID, &state.TenantID, &state.Provider, &state.Currency, &status,
		&state.Gross, &state.Fee, &state.Net,
		&expected, &actual, &state.ExternalReference, &state.DisputeReason,
		&state.CreatedAt, &closedAt, &disputedAt, &reconciledAt, &state.Version,
	)
	if err != nil {
		return settlement.BatchState{}, err
	}
	state.Status = settlement.BatchStatus(status)
	if expected.Valid {
		v := expected.Decimal
		state.ExpectedSettlement = &v
	}
	if actual.Valid {
		v := actual.Decimal
		state.ActualSettlement = &v
	}
	state.ClosedAt = closedAt.Time
	state.DisputedAt = disputedAt.Time
	state.ReconciledAt = reconciledAt.Time
	return state, nil
}

func nullDecimal(v *decimal.Decimal) decimal.NullDecimal {
	if v == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *v, Valid: true}
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}
