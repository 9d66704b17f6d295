package application

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	payments "finsuite/internal/payments/domain"
	"finsuite/internal/webhooks"
)

type payoutNotice struct {
	ID            string          `json:"id"`
	BatchID       string          `json:"batch_id"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	FailureReason string          `json:"failure_message"`
}

// Routes registers the payout notification handlers on router.
func (s *Service) Routes(router *webhooks.Router) *webhooks.Router {
	return router.
		On(webhooks.EventPayoutPaid, s.HandlePayoutPaid).
		On(webhooks.EventPayoutFailed, s.HandlePayoutFailed)
}

// HandlePayoutPaid reconciles the batch a processor reports as paid out.
func (s *Service) HandlePayoutPaid(ctx context.Context, payload webhooks.Payload) error {
	notice, err := decodePayout(payload)
	if err != nil {
		return err
	}
	batch, err := s.Get(ctx, notice.BatchID)
	if err != nil {
		return err
	}
	currency := notice.Currency
	if currency == "" {
		currency = batch.Currency()
	}
	actual, err := payments.NewMoney(notice.Amount, currency)
	if err != nil {
		return fmt.Errorf("%w: %v", webhooks.ErrInvalidPayload, err)
	}
	reference := notice.ID
	if reference == "" {
		reference = payload.EventID
	}
	_, err = s.Reconcile(ctx, ReconcileCommand{BatchID: notice.BatchID, Actual: actual, Reference: reference})
	return err
}

// HandlePayoutFailed disputes the batch whose payout the processor could not make.
func (s *Service) HandlePayoutFailed(ctx context.Context, payload webhooks.Payload) error {
	notice, err := decodePayout(payload)
	if err != nil {
		return err
	}
	reason := strings.TrimSpace(notice.FailureReason)
	if reason == "" {
		reason = "payout failed at " + payload.Provider
	}
	_, err = s.Dispute(ctx, notice.BatchID, reason)
	return err
}

func decodePayout(payload webhooks.Payload) (payoutNotice, error) {
	var notice payoutNotice
	if err := payload.Decode(&notice); err != nil {
		return notice, fmt.Errorf("%w: %v", webhooks.ErrInvalidPayload, err)
	}
	if strings.TrimSpace(notice.BatchID) == "" {
		return notice, fmt.Errorf("%w: batch id required", webhooks.ErrInvalidPayload)
	}
	return notice, nil
}
