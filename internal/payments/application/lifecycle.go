package application

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"finsuite/internal/auth"
	"finsuite/internal/gateway"
	payments "finsuite/internal/payments/domain"
)

const (
	metaCaptureID = "capture_id"
	metaRefunded  = "refunded_amount"
)

// Gateway is the orchestrator surface the lifecycle drives.
type Gateway interface {
	Authorize(ctx context.Context, call gateway.Call, req gateway.AuthorizeRequest) (gateway.AuthorizeResult, error)
	Capture(ctx context.Context, call gateway.Call, req gateway.CaptureRequest) (gateway.CaptureResult, error)
	Refund(ctx context.Context, call gateway.Call, req gateway.RefundRequest) (gateway.RefundResult, error)
	Void(ctx context.Context, call gateway.Call, req gateway.VoidRequest) (gateway.VoidResult, error)
	SubmitEvidence(ctx context.Context, provider string, req gateway.EvidenceRequest) (gateway.EvidenceResult, error)
}

// EventPublisher emits lifecycle events.
type EventPublisher interface {
	Publish(ctx context.Context, event any) error
}

// Lifecycle moves transactions through their state machine around gateway calls.
type Lifecycle struct {
	repo            payments.TransactionRepository
	gateway         Gateway
	publisher       EventPublisher
	tenants         gateway.TenantResolver
	logger          *zap.Logger
	defaultProvider string
	now             func() time.Time
	newID           func() string
}

// Option configures the lifecycle.
type Option func(*Lifecycle)

// WithDefaultProvider names the processor used when a charge does not pick one.
func WithDefaultProvider(provider string) Option {
	return func(l *Lifecycle) {
		l.defaultProvider = strings.ToLower(strings.TrimSpace(provider))
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Lifecycle) {
		if now != nil {
			l.now = now
		}
	}
}

// WithIDGenerator overrides transaction id generation.
func WithIDGenerator(newID func() string) Option {
	return func(l *Lifecycle) {
		if newID != nil {
			l.newID = newID
		}
	}
}

// NewLifecycle constructs the lifecycle service.
func NewLifecycle(repo payments.TransactionRepository, gw Gateway, publisher EventPublisher, tenants gateway.TenantResolver, logger *zap.Logger, opts ...Option) (*Lifecycle, error) {
	if repo == nil {
		return nil, errors.New("payments lifecycle: nil repository")
	}
	if gw == nil {
		return nil, errors.New("payments lifecycle: nil gateway")
	}
	if publisher == nil {
		return nil, errors.New("payments lifecycle: nil publisher")
	}
	if tenants == nil {
		return nil, errors.New("payments lifecycle: nil tenant resolver")
	}
	if logger == nil {
		return nil, errors.New("payments lifecycle: nil logger")
	}
	l := &Lifecycle{
		repo:      repo,
		gateway:   gw,
		publisher: publisher,
		tenants:   tenants,
		logger:    logger,
		now:       time.Now,
		newID:     func() string { return "txn-" + uuid.NewString() },
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// ChargeCommand starts an inbound payment.
type ChargeCommand struct {
	TransactionID       string
	Provider            string
	Amount              payments.Money
	PaymentMethod       string
	CustomerID          string
	Capture             bool
	StatementDescriptor string
	Metadata            map[string]string
	IdempotencyKey      string
}

// Charge creates a transaction, marks it processing and authorizes it.
// A declined or rejected call fails the transaction. A transport failure leaves it
// processing, since the processor may still have acted; its webhook settles the outcome.
func (l *Lifecycle) Charge(ctx context.Context, cmd ChargeCommand) (*payments.Transaction, error) {
	tenantID := l.tenants.TenantID(ctx)
	provider := strings.ToLower(strings.TrimSpace(cmd.Provider))
	if provider == "" {
		provider = l.defaultProvider
	}
	id := strings.TrimSpace(cmd.TransactionID)
	if id == "" {
		id = l.newID()
	}

	tx, err := l.resume(ctx, id)
	if err != nil {
		return nil, err
	}
	if tx == nil {
		tx, err = payments.NewTransaction(payments.NewTransactionParams{
			ID:        id,
			TenantID:  tenantID,
			Direction: payments.DirectionInbound,
			Provider:  provider,
			Amount:    cmd.Amount,
			Metadata:  cmd.Metadata,
			CreatedAt: l.now(),
		})
		if err != nil {
			return nil, err
		}
		if err := l.repo.Save(ctx, tx); err != nil {
			return nil, err
		}
	}
	if tx.Status() != payments.TransactionPending {
		return tx, nil
	}
	if err := l.transition(ctx, tx, func(t *payments.Transaction) error { return t.MarkProcessing(l.now()) }); err != nil {
		return nil, err
	}

	res, err := l.gateway.Authorize(ctx, gateway.Call{Provider: tx.Provider(), IdempotencyKey: cmd.IdempotencyKey}, gateway.AuthorizeRequest{
		TransactionID: tx.ID(),
		Amount:        tx.OriginalAmount(),
		PaymentMethod: cmd.PaymentMethod,
		CustomerID:    cmd.CustomerID,
		Options: gateway.AuthorizeOptions{
			Capture:             cmd.Capture,
			StatementDescriptor: cmd.StatementDescriptor,
			Metadata:            cmd.Metadata,
		},
	})
	if err != nil {
		return tx, l.settleFailure(ctx, tx, res.DeclineCode, err)
	}
	if err := l.apply(ctx, tx, func(t *payments.Transaction) error {
		return t.SetProviderTransactionID(res.AuthorizationID)
	}); err != nil {
		return tx, err
	}
	if res.Captured {
		if err := l.complete(ctx, tx, res.Amount); err != nil {
			return tx, err
		}
	}
	return tx, nil
}

// Capture settles the authorization of a processing transaction and completes it.
func (l *Lifecycle) Capture(ctx context.Context, transactionID string, amount *payments.Money, idempotencyKey string) (*payments.Transaction, error) {
	tx, err := l.load(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if tx.Status() == payments.TransactionCompleted {
		return tx, nil
	}
	if err := ensureTransition(tx, payments.TransactionCompleted); err != nil {
		return tx, err
	}
	res, err := l.gateway.Capture(ctx, gateway.Call{Provider: tx.Provider(), IdempotencyKey: idempotencyKey}, gateway.CaptureRequest{
		AuthorizationID: tx.ProviderTransactionID(),
		Amount:          amount,
	})
	if err != nil {
		return tx, l.settleFailure(ctx, tx, "", err)
	}
	if res.CaptureID != "" {
		if err := l.apply(ctx, tx, func(t *payments.Transaction) error {
			return t.SetMetadata(metaCaptureID, res.CaptureID)
		}); err != nil {
			return tx, err
		}
	}
	return tx, l.complete(ctx, tx, res.Amount)
}

// Void releases the authorization of a processing transaction and fails it.
func (l *Lifecycle) Void(ctx context.Context, transactionID, reason, idempotencyKey string) (*payments.Transaction, error) {
	tx, err := l.load(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if tx.Status() == payments.TransactionPending {
		return tx, l.transition(ctx, tx, func(t *payments.Transaction) error { return t.Cancel(l.now()) })
	}
	if err := ensureTransition(tx, payments.TransactionFailed); err != nil {
		return tx, err
	}
	if _, err := l.gateway.Void(ctx, gateway.Call{Provider: tx.Provider(), IdempotencyKey: idempotencyKey}, gateway.VoidRequest{
		AuthorizationID: tx.ProviderTransactionID(),
		Reason:          reason,
	}); err != nil {
		return tx, err
	}
	message := strings.TrimSpace(reason)
	if message == "" {
		message = "authorization voided"
	}
	return tx, l.transition(ctx, tx, func(t *payments.Transaction) error {
		return t.MarkFailed("voided", message, l.now())
	})
}

// Refund returns captured funds. A refund covering the settled amount reverses the transaction.
func (l *Lifecycle) Refund(ctx context.Context, transactionID string, amount *payments.Money, reason gateway.RefundReason, idempotencyKey string) (*payments.Transaction, error) {
	tx, err := l.load(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	state := tx.State()
	if state.Status != payments.TransactionCompleted || state.SettlementAmount == nil {
		return tx, &payments.InvalidStatusTransitionError{Entity: "transaction", From: string(state.Status), To: string(payments.TransactionReversed)}
	}
	refund := *state.SettlementAmount
	if amount != nil {
		refund = *amount
	}
	captureID := state.Metadata[metaCaptureID]
	if captureID == "" {
		captureID = state.ProviderTransactionID
	}
	res, err := l.gateway.Refund(ctx, gateway.Call{Provider: tx.Provider(), IdempotencyKey: idempotencyKey}, gateway.RefundRequest{
		CaptureID: captureID,
		Amount:    refund,
		Reason:    reason,
	})
	if err != nil {
		return tx, err
	}

	total := refund
	if previous, perr := decimal.NewFromString(state.Metadata[metaRefunded]); perr == nil {
		total.Amount = previous.Add(refund.Amount)
	}
	if err := l.apply(ctx, tx, func(t *payments.Transaction) error {
		return t.SetMetadata(metaRefunded, total.Amount.String())
	}); err != nil {
		return tx, err
	}
	l.logger.Info("refund accepted",
		zap.String("tenant_id", tx.TenantID()),
		zap.String("transaction_id", tx.ID()),
		zap.String("refund_id", res.RefundID),
		zap.String("refunded", total.String()),
	)
	if total.Amount.LessThan(state.SettlementAmount.Amount) {
		return tx, nil
	}
	why := string(reason)
	if why == "" {
		why = "refunded"
	}
	return tx, l.transition(ctx, tx, func(t *payments.Transaction) error { return t.Reverse(why, l.now()) })
}

// SubmitEvidence forwards dispute evidence for a transaction's processor.
func (l *Lifecycle) SubmitEvidence(ctx context.Context, transactionID string, req gateway.EvidenceRequest) (gateway.EvidenceResult, error) {
	tx, err := l.load(ctx, transactionID)
	if err != nil {
		return gateway.EvidenceResult{}, err
	}
	return l.gateway.SubmitEvidence(ctx, tx.Provider(), req)
}

// Get loads a transaction visible to the caller.
func (l *Lifecycle) Get(ctx context.Context, transactionID string) (*payments.Transaction, error) {
	return l.load(ctx, transactionID)
}

// settleFailure fails the transaction when the processor answered or was never reached,
// and leaves it processing when the outcome is unknown.
func (l *Lifecycle) settleFailure(ctx context.Context, tx *payments.Transaction, declineCode string, cause error) error {
	kind := gateway.KindOf(cause)
	if !definitive(kind, cause) {
		l.logger.Warn("gateway outcome unknown, transaction left processing",
			zap.String("tenant_id", tx.TenantID()),
			zap.String("transaction_id", tx.ID()),
			zap.String("kind", string(kind)),
			zap.Error(cause),
		)
		return cause
	}
	code := declineCode
	switch {
	case code != "":
	case errors.Is(cause, gateway.ErrCircuitOpen):
		code = "circuit_open"
	case kind == gateway.KindUnknown:
		code = string(gateway.KindInvalidRequest)
	default:
		code = string(kind)
	}
	if err := l.transition(ctx, tx, func(t *payments.Transaction) error {
		return t.MarkFailed(code, cause.Error(), l.now())
	}); err != nil {
		return errors.Join(cause, err)
	}
	return cause
}

func definitive(kind gateway.Kind, cause error) bool {
	switch kind {
	case gateway.KindDeclined, gateway.KindInvalidRequest, gateway.KindConfiguration:
		return true
	}
	return errors.Is(cause, gateway.ErrInvalidRequest) ||
		errors.Is(cause, gateway.ErrGatewayNotFound) ||
		errors.Is(cause, gateway.ErrCircuitOpen)
}

func (l *Lifecycle) complete(ctx context.Context, tx *payments.Transaction, settled payments.Money) error {
	if !settled.IsPositive() || settled.Currency != tx.State().SettlementCurrency {
		settled = tx.OriginalAmount()
	}
	return l.transition(ctx, tx, func(t *payments.Transaction) error { return t.MarkCompleted(settled, l.now()) })
}

// transition applies a status change, persists it and emits TransactionStatusChanged.
// ensureTransition rejects a processor call whose outcome the transaction could not record.
func ensureTransition(tx *payments.Transaction, to payments.TransactionStatus) error {
	from := tx.Status()
	if from.CanTransition(to) {
		return nil
	}
	return &payments.InvalidStatusTransitionError{Entity: "transaction", From: string(from), To: string(to)}
}

func (l *Lifecycle) transition(ctx context.Context, tx *payments.Transaction, change func(*payments.Transaction) error) error {
	from := tx.Status()
	if err := l.apply(ctx, tx, change); err != nil {
		return err
	}
	state := tx.State()
	event := TransactionStatusChanged{
		TenantID:      state.TenantID,
		TransactionID: state.ID,
		Provider:      state.Provider,
		From:          string(from),
		To:            string(state.Status),
		Amount:        state.OriginalAmount,
		FailureCode:   state.FailureCode,
		OccurredAt:    l.now().UTC(),
	}
	if err := l.publisher.Publish(ctx, event); err != nil {
		l.logger.Error("publish transaction event failed", zap.String("transaction_id", state.ID), zap.Error(err))
	}
	l.logger.Info("transaction status changed",
		zap.String("tenant_id", state.TenantID),
		zap.String("transaction_id", state.ID),
		zap.String("provider", state.Provider),
		zap.String("from", string(from)),
		zap.String("to", string(state.Status)),
	)
	return nil
}

func (l *Lifecycle) apply(ctx context.Context, tx *payments.Transaction, change func(*payments.Transaction) error) error {
	if err := change(tx); err != nil {
		return err
	}
	return l.repo.Save(ctx, tx)
}

func (l *Lifecycle) load(ctx context.Context, transactionID string) (*payments.Transaction, error) {
	if strings.TrimSpace(transactionID) == "" {
		return nil, payments.ErrEmptyID
	}
	tx, err := l.repo.Get(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if err := auth.EnsureTenant(ctx, tx.TenantID()); err != nil {
		return nil, err
	}
	return tx, nil
}

// resume returns an existing transaction for a caller-supplied id, or nil.
func (l *Lifecycle) resume(ctx context.Context, id string) (*payments.Transaction, error) {
	tx, err := l.load(ctx, id)
	if errors.Is(err, payments.ErrTransactionNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("payments lifecycle: %w", err)
	}
	return tx, nil
}
