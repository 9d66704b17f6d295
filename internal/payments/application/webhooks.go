package application

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	payments "finsuite/internal/payments/domain"
	"finsuite/internal/webhooks"
)

// paymentNotice is the data block of payment.succeeded and payment.failed notifications.
type paymentNotice struct {
	ID             string          `json:"id"`
	TransactionID  string          `json:"transaction_id"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	FailureCode    string          `json:"failure_code"`
	FailureMessage string          `json:"failure_message"`
}

// Routes registers the lifecycle's webhook handlers on router.
func (l *Lifecycle) Routes(router *webhooks.Router) *webhooks.Router {
	return router.
		On(webhooks.EventPaymentSucceeded, l.HandlePaymentSucceeded).
		On(webhooks.EventPaymentFailed, l.HandlePaymentFailed)
}

// HandlePaymentSucceeded completes the transaction a processor reports as paid.
func (l *Lifecycle) HandlePaymentSucceeded(ctx context.Context, payload webhooks.Payload) error {
	tx, notice, err := l.noticeTarget(ctx, payload)
	if err != nil || tx == nil {
		return err
	}
	if err := l.ensureProcessing(ctx, tx); err != nil {
		return err
	}
	if tx.ProviderTransactionID() == "" && notice.ID != "" {
		if err := tx.SetProviderTransactionID(notice.ID); err != nil {
			return err
		}
	}
	settled := tx.OriginalAmount()
	if notice.Amount.IsPositive() {
		currency := notice.Currency
		if currency == "" {
			currency = settled.Currency
		}
		if money, merr := payments.NewMoney(notice.Amount, currency); merr == nil {
			settled = money
		}
	}
	return l.complete(ctx, tx, settled)
}

// HandlePaymentFailed fails the transaction a processor reports as unpaid.
func (l *Lifecycle) HandlePaymentFailed(ctx context.Context, payload webhooks.Payload) error {
	tx, notice, err := l.noticeTarget(ctx, payload)
	if err != nil || tx == nil {
		return err
	}
	if err := l.ensureProcessing(ctx, tx); err != nil {
		return err
	}
	code := strings.TrimSpace(notice.FailureCode)
	if code == "" {
		code = "processor_failed"
	}
	message := strings.TrimSpace(notice.FailureMessage)
	if message == "" {
		message = "payment failed at " + payload.Provider
	}
	return l.transition(ctx, tx, func(t *payments.Transaction) error {
		return t.MarkFailed(code, message, l.now())
	})
}

// noticeTarget resolves the transaction a notification refers to.
// A nil transaction with a nil error means the notification needs no action.
func (l *Lifecycle) noticeTarget(ctx context.Context, payload webhooks.Payload) (*payments.Transaction, paymentNotice, error) {
	var notice paymentNotice
	if err := payload.Decode(&notice); err != nil {
		return nil, notice, fmt.Errorf("%w: %v", webhooks.ErrInvalidPayload, err)
	}
	var (
		tx  *payments.Transaction
		err error
	)
	switch {
	case notice.TransactionID != "":
		tx, err = l.repo.Get(ctx, notice.TransactionID)
	case notice.ID != "":
		tx, err = l.repo.FindByProviderReference(ctx, payload.Provider, notice.ID)
	default:
		return nil, notice, fmt.Errorf("%w: no transaction reference", webhooks.ErrInvalidPayload)
	}
	if err != nil {
		return nil, notice, err
	}
	switch tx.Status() {
	case payments.TransactionPending, payments.TransactionProcessing:
		return tx, notice, nil
	default:
		l.logger.Info("payment notification ignored",
			zap.String("tenant_id", tx.TenantID()),
			zap.String("transaction_id", tx.ID()),
			zap.String("status", string(tx.Status())),
			zap.String("event_id", payload.EventID),
			zap.String("event_type", string(payload.EventType)),
		)
		return nil, notice, nil
	}
}

func (l *Lifecycle) ensureProcessing(ctx context.Context, tx *payments.Transaction) error {
	if tx.Status() != payments.TransactionPending {
		return nil
	}
	err := l.transition(ctx, tx, func(t *payments.Transaction) error { return t.MarkProcessing(l.now()) })
	if errors.Is(err, payments.ErrConcurrentUpdate) {
		return fmt.Errorf("payments lifecycle: transaction %s changed concurrently: %w", tx.ID(), err)
	}
	return err
}
