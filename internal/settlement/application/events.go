package application

import (
	"time"

	payments "finsuite/internal/payments/domain"
)

// BatchClosed is emitted when a batch stops accepting payments.
type BatchClosed struct {
	TenantID     string         `json:"tenant_id"`
	BatchID      string         `json:"batch_id"`
	Provider     string         `json:"provider"`
	PaymentCount int            `json:"payment_count"`
	Gross        payments.Money `json:"gross"`
	Fee          payments.Money `json:"fee"`
	Expected     payments.Money `json:"expected"`
	OccurredAt   time.Time      `json:"occurred_at"`
}

// BatchReconciled is emitted when the processor payout has been matched to a batch.
type BatchReconciled struct {
	TenantID          string         `json:"tenant_id"`
	BatchID           string         `json:"batch_id"`
	Provider          string         `json:"provider"`
	Expected          payments.Money `json:"expected"`
	Actual            payments.Money `json:"actual"`
	Discrepancy       payments.Money `json:"discrepancy"`
	Severity          string         `json:"severity"`
	ExternalReference string         `json:"external_reference"`
	OccurredAt        time.Time      `json:"occurred_at"`
}

// BatchDisputed is emitted when a closed batch is put under dispute.
type BatchDisputed struct {
	TenantID   string    `json:"tenant_id"`
	BatchID    string    `json:"batch_id"`
	Provider   string    `json:"provider"`
	Reason     string    `json:"reason"`
	OccurredAt time.Time `json:"occurred_at"`
}
