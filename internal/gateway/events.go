package gateway

import (
	"context"
	"time"

	payments "finsuite/internal/payments/domain"
)

// EventPublisher receives gateway domain events.
type EventPublisher interface {
	Publish(ctx context.Context, event any) error
}

// TenantResolver returns the tenant of the current request.
type TenantResolver interface {
	TenantID(ctx context.Context) string
}

// Authorized is emitted after a successful authorization.
type Authorized struct {
	TenantID        string         `json:"tenant_id"`
	Provider        string         `json:"provider"`
	TransactionID   string         `json:"transaction_id"`
	AuthorizationID string         `json:"authorization_id"`
	Amount          payments.Money `json:"amount"`
	Captured        bool           `json:"captured"`
	OccurredAt      time.Time      `json:"occurred_at"`
}

// Captured is emitted after a successful capture.
type Captured struct {
	TenantID        string         `json:"tenant_id"`
	Provider        string         `json:"provider"`
	AuthorizationID string         `json:"authorization_id"`
	CaptureID       string         `json:"capture_id"`
	Amount          payments.Money `json:"amount"`
	Fee             payments.Money `json:"fee"`
	OccurredAt      time.Time      `json:"occurred_at"`
}

// Refunded is emitted after a successful refund.
type Refunded struct {
	TenantID   string         `json:"tenant_id"`
	Provider   string         `json:"provider"`
	CaptureID  string         `json:"capture_id"`
	RefundID   string         `json:"refund_id"`
	Amount     payments.Money `json:"amount"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// Voided is emitted after a successful void.
type Voided struct {
	TenantID        string    `json:"tenant_id"`
	Provider        string    `json:"provider"`
	AuthorizationID string    `json:"authorization_id"`
	OccurredAt      time.Time `json:"occurred_at"`
}

// EvidenceSubmitted is emitted after dispute evidence is accepted.
type EvidenceSubmitted struct {
	TenantID   string    `json:"tenant_id"`
	Provider   string    `json:"provider"`
	DisputeID  string    `json:"dispute_id"`
	Status     string    `json:"status"`
	OccurredAt time.Time `json:"occurred_at"`
}

// GatewayErrorOccurred is emitted for every failed orchestrated operation.
type GatewayErrorOccurred struct {
	TenantID   string    `json:"tenant_id"`
	Provider   string    `json:"provider"`
	Operation  string    `json:"operation"`
	Reference  string    `json:"reference"`
	Kind       string    `json:"kind"`
	Error      string    `json:"error"`
	OccurredAt time.Time `json:"occurred_at"`
}
