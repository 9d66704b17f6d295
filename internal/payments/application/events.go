package application

import (
	"time"

	payments "finsuite/internal/payments/domain"
)

// TransactionStatusChanged is emitted after every persisted status transition.
type TransactionStatusChanged struct {
	TenantID      string         `json:"tenant_id"`
	TransactionID string         `json:"transaction_id"`
	Provider      string         `json:"provider"`
	From          string         `json:"from"`
	To            string         `json:"to"`
	Amount        payments.Money `json:"amount"`
	FailureCode   string         `json:"failure_code,omitempty"`
	OccurredAt    time.Time      `json:"occurred_at"`
}
