package payments

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidStatusTransition is matched by every rejected state change.
	ErrInvalidStatusTransition = errors.New("payments: invalid status transition")
	// ErrCurrencyMismatch is returned when two amounts disagree on currency.
	ErrCurrencyMismatch = errors.New("payments: currency mismatch")
	// ErrExchangeRateMismatch is returned when a rate snapshot does not match the amounts it converts.
	ErrExchangeRateMismatch = errors.New("payments: exchange rate does not match currencies")
	// ErrEmptyID is returned when an entity id is empty.
	ErrEmptyID = errors.New("payments: empty id")
	// ErrEmptyTenantID is returned when a tenant id is empty.
	ErrEmptyTenantID = errors.New("payments: empty tenant id")
	// ErrInvalidAmount is returned for non-positive amounts.
	ErrInvalidAmount = errors.New("payments: amount must be positive")
	// ErrInvalidCurrency is returned for malformed currency codes.
	ErrInvalidCurrency = errors.New("payments: invalid currency")
	// ErrInvalidDirection is returned for unknown transaction directions.
	ErrInvalidDirection = errors.New("payments: invalid direction")
	// ErrFailureDetailsRequired is returned when a failure lacks code or message.
	ErrFailureDetailsRequired = errors.New("payments: failure code and message required")
	// ErrSettledAmountRequired is returned when completing without a settled amount.
	ErrSettledAmountRequired = errors.New("payments: settled amount required")
	// ErrEmptyRecipient is returned when a disbursement has no recipient.
	ErrEmptyRecipient = errors.New("payments: empty recipient")
	// ErrReasonRequired is returned when a rejection or reversal lacks a reason.
	ErrReasonRequired = errors.New("payments: reason required")
	// ErrApproverRequired is returned when approving without naming the approver.
	ErrApproverRequired = errors.New("payments: approver required")
	// ErrTerminalState is returned when a terminal entity is asked to change.
	ErrTerminalState = errors.New("payments: entity is in a terminal state")
	// ErrScheduleLocked is returned when rescheduling after processing started.
	ErrScheduleLocked = errors.New("payments: schedule can no longer change")
	// ErrTransactionNotFound is returned by repositories for unknown ids.
	ErrTransactionNotFound = errors.New("payments: transaction not found")
	// ErrConcurrentUpdate is returned when a save lost an optimistic version check.
	ErrConcurrentUpdate = errors.New("payments: concurrent update")
)

// InvalidStatusTransitionError names both sides of a rejected transition.
type InvalidStatusTransitionError struct {
	Entity string
	From   string
	To     string
}

func (e *InvalidStatusTransitionError) Error() string {
	return fmt.Sprintf("payments: %s cannot move from %q to %q", e.Entity, e.From, e.To)
}

// Is lets errors.Is match ErrInvalidStatusTransition.
func (e *InvalidStatusTransitionError) Is(target error) bool {
	return target == ErrInvalidStatusTransition
}
