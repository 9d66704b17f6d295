package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	payments "finsuite/internal/payments/domain"
)

const (
	defaultTransactionsTable = "payment_transactions"

	uniqueViolation = "23505"
)

// TransactionRepository persists transactions with optimistic concurrency on the version column.
type TransactionRepository struct {
	db    *sql.DB
	table string
}

// Option configures the repository.
type Option func(*TransactionRepository)

// WithTable overrides the table name.
func WithTable(table string) Option {
	return func(r *TransactionRepository) {
		if table != "" {
			r.table = table
		}
	}
}

// NewTransactionRepository constructs a repository.
func NewTransactionRepository(db *sql.DB, opts ...Option) (*TransactionRepository, error) {
	if db == nil {
		return nil, errors.New("transaction repo: nil db")
	}
	r := &TransactionRepository{db: db, table: defaultTransactionsTable}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

func (r *TransactionRepository) selectColumns() string {
	return fmt.Sprintf(`
SELECT id, tenant_id, direction, provider, status, provider_transaction_id,
	original_amount, currency, settlement_currency, settlement_amount, exchange_rate,
	attempts, failure_code, failure_message, reversal_reason, metadata,
	created_at, processed_at, completed_at, failed_at, cancelled_at, reversed_at, version
FROM %s`, r.table)
}

// Get implements payments.TransactionRepository.
func (r *TransactionRepository) Get(ctx context.Context, id string) (*payments.Transaction, error) {
	row := r.db.QueryRowContext(ctx, r.selectColumns()+`
WHERE id = $1`, id)
	tx, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", payments.ErrTransactionNotFound, id)
	}
	return tx, err
}

// FindByProviderReference implements payments.TransactionRepository.
func (r *TransactionRepository) FindByProviderReference(ctx context.Context, provider, reference string) (*payments.Transaction, error) {
	row := r.db.QueryRowContext(ctx, r.selectColumns()+`
WHERE provider = $1 AND provider_transaction_id = $2
LIMIT 1`, provider, reference)
	tx, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s/%s", payments.ErrTransactionNotFound, provider, reference)
	}
	return tx, err
}

// Save implements payments.TransactionRepository.
func (r *TransactionRepository) Save(ctx context.Context, tx *payments.Transaction) error {
	state := tx.State()
	var settlementAmount decimal.NullDecimal
	if state.SettlementAmount != nil {
		settlementAmount = decimal.NullDecimal{Decimal: state.SettlementAmount.Amount, Valid: true}
	}
	var rate []byte
	if state.ExchangeRate != nil {
		encoded, err := json.Marshal(state.ExchangeRate)
		if err != nil {
			return err
		}
		rate = encoded
	}
	metadata, err := json.Marshal(state.Metadata)
	if err != nil {
		return err
	}
	now := time.Now().UTC()

	if state.Version == 0 {
		_, err = r.db.ExecContext(ctx, fmt.Sprintf(`
INSERT INTO %s (
	id, tenant_id, direction, provider, status, provider_transaction_id,
	original_amount, currency, settlement_currency, settlement_amount, exchange_rate,
	attempts, failure_code, failure_message, reversal_reason, metadata,
	created_at, processed_at, completed_at, failed_at, cancelled_at, reversed_at, version, updated_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,1,$23
)`, r.table),
			state.ID, state.TenantID, string(state.Direction), state.Provider, string(state.Status), state.ProviderTransactionID,
			state.OriginalAmount.Amount, state.OriginalAmount.Currency, state.SettlementCurrency, settlementAmount, rate,
			state.Attempts, state.FailureCode, state.FailureMessage, state.ReversalReason, metadata,
			state.CreatedAt, nullTime(state.ProcessedAt), nullTime(state.CompletedAt), nullTime(state.FailedAt),
			nullTime(state.CancelledAt), nullTime(state.ReversedAt), now,
		)
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("%w: %s already exists", payments.ErrConcurrentUpdate, state.ID)
		}
		if err != nil {
			return err
		}
		tx.MarkPersisted(1)
		return nil
	}

	res, err := r.db.ExecContext(ctx, fmt.Sprintf(`
UPDATE %s SET
	status = $3,
	provider_transaction_id = $4,
	settlement_amount = $5,
	exchange_rate = $6,
	attempts = $7,
	failure_code = $8,
	failure_message = $9,
	reversal_reason = $10,
	metadata = $11,
	processed_at = $12,
	completed_at = $13,
	failed_at = $14,
	cancelled_at = $15,
	reversed_at = $16,
	version = version + 1,
	updated_at = $17
WHERE id = $1 AND version = $2`, r.table),
		state.ID, state.Version, string(state.Status), state.ProviderTransactionID,
		settlementAmount, rate, state.Attempts, state.FailureCode, state.FailureMessage, state.ReversalReason, metadata,
		nullTime(state.ProcessedAt), nullTime(state.CompletedAt), nullTime(state.FailedAt),
		nullTime(state.CancelledAt), nullTime(state.ReversedAt), now,
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s at version %d", payments.ErrConcurrentUpdate, state.ID, state.Version)
	}
	tx.MarkPersisted(state.Version + 1)
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (*payments.Transaction, error) {
	var (
		state                                                     payments.TransactionState
		direction, status, currency                               string
		amount                                                    decimal.Decimal
		settlementAmount                                          decimal.NullDecimal
		rate, metadata                                            []byte
		processedAt, completedAt, failedAt, cancelledAt, reversed sql.NullTime
	)
	err := row.Scan(
		&state.ID, &state.TenantID, &direction, &state.Provider, &status, &state.ProviderTransactionID,
		&amount, &currency, &state.SettlementCurrency, &settlementAmount, &rate,
		&state.Attempts, &state.FailureCode, &state.FailureMessage, &state.ReversalReason, &metadata,
		&state.CreatedAt, &processedAt, &completedAt, &failedAt, &cancelledAt, &reversed, &state.Version,
	)
	if err != nil {
		return nil, err
	}
	state.Direction = payments.Direction(direction)
	state.Status = payments.TransactionStatus(status)
	state.OriginalAmount = payments.Money{Amount: amount, Currency: currency}
	if settlementAmount.Valid {
		state.SettlementAmount = &payments.Money{Amount: settlementAmount.Decimal, Currency: state.SettlementCurrency}
	}
	if len(rate) > 0 {
		var snapshot payments.ExchangeRateSnapshot
		if err := json.Unmarshal(rate, &snapshot); err != nil {
			return nil, fmt.Errorf("transaction repo: decode exchange rate: %w", err)
		}
		state.ExchangeRate = &snapshot
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &state.Metadata); err != nil {
			return nil, fmt.Errorf("transaction repo: decode metadata: %w", err)
		}
	}
	state.ProcessedAt = processedAt.Time
	state.CompletedAt = completedAt.Time
	state.FailedAt = failedAt.Time
	state.CancelledAt = cancelledAt.Time
	state.ReversedAt = reversed.Time
	return payments.RestoreTransaction(state)
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}
