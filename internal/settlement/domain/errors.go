package settlement

import "errors"

var (
	// ErrEmptyBatchID is returned when a batch id is empty.
	ErrEmptyBatchID = errors.New("settlement: empty batch id")
	// ErrEmptyTenantID is returned when a batch has no tenant.
	ErrEmptyTenantID = errors.New("settlement: empty tenant id")
	// ErrEmptyProvider is returned when a batch has no processor.
	ErrEmptyProvider = errors.New("settlement: empty provider")
	// ErrEmptyPaymentID is returned when a payment id is empty.
	ErrEmptyPaymentID = errors.New("settlement: empty payment id")
	// ErrCurrencyMismatch is returned when an amount is not in the batch currency.
	ErrCurrencyMismatch = errors.New("settlement: currency mismatch")
	// ErrNegativeValue is returned when a payment amount or fee is negative.
	ErrNegativeValue = errors.New("settlement: negative value")
	// ErrBatchNotOpen is returned when payments change after close.
	ErrBatchNotOpen = errors.New("settlement: batch is not open")
	// ErrInvalidBatchTransition is returned for a status change the batch does not allow.
	ErrInvalidBatchTransition = errors.New("settlement: invalid batch transition")
	// ErrBatchReconciled is returned when a reconciled batch is asked to change.
	ErrBatchReconciled = errors.New("settlement: batch already reconciled")
	// ErrReasonRequired is returned when a dispute has no reason.
	ErrReasonRequired = errors.New("settlement: reason required")
	// ErrNilBatch is returned when saving a nil batch.
	ErrNilBatch = errors.New("settlement: nil batch")
	// ErrBatchNotFound is returned when a batch is not found.
	ErrBatchNotFound = errors.New("settlement: batch not found")
	// ErrConcurrentUpdate is returned when a save loses an optimistic version check.
	ErrConcurrentUpdate = errors.New("settlement: concurrent update")
)
