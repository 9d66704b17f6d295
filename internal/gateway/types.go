package gateway

import (
	"context"
	"fmt"
	"strings"

	payments "finsuite/internal/payments/domain"
)

// Operation names a gateway call for logs, events and idempotency scoping.
type Operation string

const (
	OperationAuthorize      Operation = "authorize"
	OperationCapture        Operation = "capture"
	OperationRefund         Operation = "refund"
	OperationVoid           Operation = "void"
	OperationSubmitEvidence Operation = "submit_evidence"
)

// Gateway is the uniform operation contract of one payment processor.
type Gateway interface {
	Authorize(ctx context.Context, req AuthorizeRequest) (AuthorizeResult, error)
	Capture(ctx context.Context, req CaptureRequest) (CaptureResult, error)
	Refund(ctx context.Context, req RefundRequest) (RefundResult, error)
	Void(ctx context.Context, req VoidRequest) (VoidResult, error)
	SubmitEvidence(ctx context.Context, req EvidenceRequest) (EvidenceResult, error)
}

// Call selects the provider and idempotency key for one orchestrated operation.
type Call struct {
	// Provider forces a gateway; empty defers to the selector and then the default.
	Provider string
	// IdempotencyKey deduplicates side effects per provider; empty disables it.
	IdempotencyKey string
}

const maxStatementDescriptor = 22

// AuthorizeOptions replaces the free-form option map of an authorization.
type AuthorizeOptions struct {
	Capture             bool              `json:"capture"`
	StatementDescriptor string            `json:"statement_descriptor,omitempty"`
	Metadata            map[string]string `json:"metadata,omitempty"`
}

// Validate checks option limits shared by the processors.
func (o AuthorizeOptions) Validate() error {
	if len(o.StatementDescriptor) > maxStatementDescriptor {
		return fmt.Errorf("%w: statement descriptor longer than %d characters", ErrInvalidRequest, maxStatementDescriptor)
	}
	if strings.ContainsAny(o.StatementDescriptor, `<>"'\`) {
		return fmt.Errorf("%w: statement descriptor contains reserved characters", ErrInvalidRequest)
	}
	if len(o.Metadata) > 50 {
		return fmt.Errorf("%w: too many metadata keys", ErrInvalidRequest)
	}
	for key := range o.Metadata {
		if key == "" || len(key) > 40 {
			return fmt.Errorf("%w: metadata key %q", ErrInvalidRequest, key)
		}
	}
	return nil
}

// AuthorizeRequest reserves funds on a payment method.
type AuthorizeRequest struct {
	TransactionID string           `json:"transaction_id"`
	Amount        payments.Money   `json:"amount"`
	PaymentMethod string           `json:"payment_method"`
	CustomerID    string           `json:"customer_id,omitempty"`
	Options       AuthorizeOptions `json:"options"`
}

func (r AuthorizeRequest) validate() error {
	if strings.TrimSpace(r.TransactionID) == "" {
		return fmt.Errorf("%w: transaction id required", ErrInvalidRequest)
	}
	if !r.Amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidRequest)
	}
	if strings.TrimSpace(r.PaymentMethod) == "" {
		return fmt.Errorf("%w: payment method required", ErrInvalidRequest)
	}
	return r.Options.Validate()
}

// AuthorizeResult is the processor answer to an authorization.
type AuthorizeResult struct {
	Success         bool           `json:"success"`
	AuthorizationID string         `json:"authorization_id"`
	Captured        bool           `json:"captured"`
	Amount          payments.Money `json:"amount"`
	DeclineCode     string         `json:"decline_code,omitempty"`
	Message         string         `json:"message,omitempty"`
}

// CaptureRequest settles a prior authorization. A nil Amount captures in full.
type CaptureRequest struct {
	AuthorizationID string          `json:"authorization_id"`
	Amount          *payments.Money `json:"amount,omitempty"`
}

func (r CaptureRequest) validate() error {
	if strings.TrimSpace(r.AuthorizationID) == "" {
		return fmt.Errorf("%w: authorization id required", ErrInvalidRequest)
	}
	if r.Amount != nil && !r.Amount.IsPositive() {
		return fmt.Errorf("%w: capture amount must be positive", ErrInvalidRequest)
	}
	return nil
}

// CaptureResult is the processor answer to a capture.
type CaptureResult struct {
	Success   bool           `json:"success"`
	CaptureID string         `json:"capture_id"`
	Amount    payments.Money `json:"amount"`
	Fee       payments.Money `json:"fee"`
	Message   string         `json:"message,omitempty"`
}

// RefundReason is the processor-neutral reason for a refund.
type RefundReason string

const (
	RefundRequestedByCustomer RefundReason = "requested_by_customer"
	RefundDuplicate           RefundReason = "duplicate"
	RefundFraudulent          RefundReason = "fraudulent"
)

// RefundRequest returns captured funds.
type RefundRequest struct {
	CaptureID string         `json:"capture_id"`
	Amount    payments.Money `json:"amount"`
	Reason    RefundReason   `json:"reason,omitempty"`
}

func (r RefundRequest) validate() error {
	if strings.TrimSpace(r.CaptureID) == "" {
		return fmt.Errorf("%w: capture id required", ErrInvalidRequest)
	}
	if !r.Amount.IsPositive() {
		return fmt.Errorf("%w: refund amount must be positive", ErrInvalidRequest)
	}
	switch r.Reason {
	case "", RefundRequestedByCustomer, RefundDuplicate, RefundFraudulent:
		return nil
	default:
		return fmt.Errorf("%w: unknown refund reason %q", ErrInvalidRequest, r.Reason)
	}
}

// RefundResult is the processor answer to a refund.
type RefundResult struct {
	Success  bool           `json:"success"`
	RefundID string         `json:"refund_id"`
	Amount   payments.Money `json:"amount"`
	Message  string         `json:"message,omitempty"`
}

// VoidRequest releases an uncaptured authorization.
type VoidRequest struct {
	AuthorizationID string `json:"authorization_id"`
	Reason          string `json:"reason,omitempty"`
}

func (r VoidRequest) validate() error {
	if strings.TrimSpace(r.AuthorizationID) == "" {
		return fmt.Errorf("%w: authorization id required", ErrInvalidRequest)
	}
	return nil
}

// VoidResult is the processor answer to a void.
type VoidResult struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// EvidenceDocument is one piece of dispute evidence.
type EvidenceDocument struct {
	Kind        string `json:"kind"`
	ContentType string `json:"content_type,omitempty"`
	Content     []byte `json:"content"`
}

// EvidenceRequest answers a dispute.
type EvidenceRequest struct {
	DisputeID   string             `json:"dispute_id"`
	Explanation string             `json:"explanation,omitempty"`
	Documents   []EvidenceDocument `json:"documents,omitempty"`
}

func (r EvidenceRequest) validate() error {
	if strings.TrimSpace(r.DisputeID) == "" {
		return fmt.Errorf("%w: dispute id required", ErrInvalidRequest)
	}
	if strings.TrimSpace(r.Explanation) == "" && len(r.Documents) == 0 {
		return fmt.Errorf("%w: evidence requires an explanation or documents", ErrInvalidRequest)
	}
	return nil
}

// EvidenceResult is the processor answer to an evidence submission.
type EvidenceResult struct {
	Success bool   `json:"success"`
	Status  string `json:"status,omitempty"`
	Message string `json:"message,omitempty"`
}
