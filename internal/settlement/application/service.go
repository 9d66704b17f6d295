package application

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"finsuite/internal/auth"
	"finsuite/internal/gateway"
	"finsuite/internal/observability/metrics"
	payments "finsuite/internal/payments/domain"
	settlement "finsuite/internal/settlement/domain"
)

const defaultSaveAttempts = 3

// EventPublisher emits settlement events.
type EventPublisher interface {
	Publish(ctx context.Context, event any) error
}

// Service runs settlement batch use cases.
type Service struct {
	repo         settlement.Repository
	publisher    EventPublisher
	logger       *zap.Logger
	now          func() time.Time
	newID        func() string
	saveAttempts int
}

// Option configures the service.
type Option func(*Service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithIDGenerator overrides batch id generation.
func WithIDGenerator(newID func() string) Option {
	return func(s *Service) {
		if newID != nil {
			s.newID = newID
		}
	}
}

// WithSaveAttempts bounds retries after an optimistic concurrency conflict.
func WithSaveAttempts(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.saveAttempts = n
		}
	}
}

// NewService constructs the settlement service.
func NewService(repo settlement.Repository, publisher EventPublisher, logger *zap.Logger, opts ...Option) (*Service, error) {
	if repo == nil {
		return nil, errors.New("settlement service: nil repository")
	}
	if publisher == nil {
		return nil, errors.New("settlement service: nil publisher")
	}
	if logger == nil {
		return nil, errors.New("settlement service: nil logger")
	}
	s := &Service{
		repo:         repo,
		publisher:    publisher,
		logger:       logger,
		now:          time.Now,
		newID:        func() string { return "batch-" + uuid.NewString() },
		saveAttempts: defaultSaveAttempts,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// AddPaymentCommand adds a captured payment to the open batch of its tenant, processor and currency.
type AddPaymentCommand struct {
	TenantID  string
	Provider  string
	PaymentID string
	Amount    payments.Money
	Fee       payments.Money
}

// AddPayment opens a batch when none is open and adds the payment to it.
func (s *Service) AddPayment(ctx context.Context, cmd AddPaymentCommand) (*settlement.Batch, error) {
	if cmd.TenantID == "" {
		return nil, settlement.ErrEmptyTenantID
	}
	if err := auth.EnsureTenant(ctx, cmd.TenantID); err != nil {
		return nil, err
	}
	currency, err := payments.NormalizeCurrency(cmd.Amount.Currency)
	if err != nil {
		return nil, fmt.Errorf("settlement service: %w", err)
	}
	fee := cmd.Fee
	if fee.Currency == "" {
		fee = payments.Zero(currency)
	}
	provider := strings.ToLower(strings.TrimSpace(cmd.Provider))

	var lastErr error
	for attempt := 1; attempt <= s.saveAttempts; attempt++ {
		batch, err := s.repo.FindOpen(ctx, cmd.TenantID, provider, currency)
		if err != nil {
			return nil, err
		}
		if batch == nil {
			batch, err = settlement.NewBatch(s.newID(), cmd.TenantID, provider, currency, s.now())
			if err != nil {
				return nil, err
			}
		}
		if batch.HasPayment(cmd.PaymentID) {
			return batch, nil
		}
		if err := batch.AddPayment(cmd.PaymentID, cmd.Amount, fee); err != nil {
			return nil, err
		}
		err = s.repo.Save(ctx, batch)
		if err == nil {
			s.logger.Info("payment added to batch",
				zap.String("tenant_id", cmd.TenantID),
				zap.String("batch_id", batch.ID()),
				zap.String("provider", provider),
				zap.String("payment_id", cmd.PaymentID),
				zap.Int("payment_count", batch.PaymentCount()),
			)
			return batch, nil
		}
		if !errors.Is(err, settlement.ErrConcurrentUpdate) {
			return nil, err
		}
		lastErr = err
		s.logger.Warn("batch save conflict",
			zap.String("tenant_id", cmd.TenantID),
			zap.String("batch_id", batch.ID()),
			zap.Int("attempt", attempt),
		)
	}
	return nil, lastErr
}

// RemovePayment takes a payment out of an open batch.
func (s *Service) RemovePayment(ctx context.Context, batchID, paymentID string, amount, fee payments.Money) (*settlement.Batch, error) {
	return s.update(ctx, batchID, func(b *settlement.Batch) error {
		if fee.Currency == "" {
			fee = payments.Zero(b.Currency())
		}
		return b.RemovePayment(paymentID, amount, fee)
	})
}

// Close stops a batch from accepting payments and fixes its expected payout.
func (s *Service) Close(ctx context.Context, batchID string) (*settlement.Batch, error) {
	batch, err := s.update(ctx, batchID, func(b *settlement.Batch) error {
		return b.Close(s.now())
	})
	if err != nil {
		return nil, err
	}
	expected, _ := batch.ExpectedSettlement()
	s.publish(ctx, batch, BatchClosed{
		TenantID:     batch.TenantID(),
		BatchID:      batch.ID(),
		Provider:     batch.Provider(),
		PaymentCount: batch.PaymentCount(),
		Gross:        batch.Gross(),
		Fee:          batch.Fee(),
		Expected:     expected,
		OccurredAt:   batch.State().ClosedAt,
	})
	s.logger.Info("batch closed",
		zap.String("tenant_id", batch.TenantID()),
		zap.String("batch_id", batch.ID()),
		zap.String("expected", expected.String()),
	)
	return batch, nil
}

// SetExpected overrides the expected payout of a batch that is not reconciled.
func (s *Service) SetExpected(ctx context.Context, batchID string, amount payments.Money) (*settlement.Batch, error) {
	return s.update(ctx, batchID, func(b *settlement.Batch) error {
		return b.SetExpectedSettlement(amount)
	})
}

// ReconcileCommand carries the payout reported by the processor.
type ReconcileCommand struct {
	BatchID   string
	Actual    payments.Money
	Reference string
}

// Reconcile records the reported payout and grades the discrepancy.
func (s *Service) Reconcile(ctx context.Context, cmd ReconcileCommand) (*settlement.Batch, error) {
	batch, err := s.update(ctx, cmd.BatchID, func(b *settlement.Batch) error {
		return b.Reconcile(cmd.Actual, cmd.Reference, s.now())
	})
	if err != nil {
		return nil, err
	}
	expected, _ := batch.ExpectedSettlement()
	actual, _ := batch.ActualSettlement()
	diff, _ := batch.Discrepancy()
	severity := batch.Severity()
	metrics.IncSettlementReconcile(string(severity))

	s.publish(ctx, batch, BatchReconciled{
		TenantID:          batch.TenantID(),
		BatchID:           batch.ID(),
		Provider:          batch.Provider(),
		Expected:          expected,
		Actual:            actual,
		Discrepancy:       diff,
		Severity:          string(severity),
		ExternalReference: cmd.Reference,
		OccurredAt:        batch.State().ReconciledAt,
	})
	fields := []zap.Field{
		zap.String("tenant_id", batch.TenantID()),
		zap.String("batch_id", batch.ID()),
		zap.String("reference", cmd.Reference),
		zap.String("discrepancy", diff.String()),
		zap.String("severity", string(severity)),
	}
	if batch.HasDiscrepancy() {
		s.logger.Warn("batch reconciled with discrepancy", fields...)
	} else {
		s.logger.Info("batch reconciled", fields...)
	}
	return batch, nil
}

// Dispute puts a closed batch under dispute.
func (s *Service) Dispute(ctx context.Context, batchID, reason string) (*settlement.Batch, error) {
	batch, err := s.update(ctx, batchID, func(b *settlement.Batch) error {
		return b.MarkDisputed(reason, s.now())
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, batch, BatchDisputed{
		TenantID:   batch.TenantID(),
		BatchID:    batch.ID(),
		Provider:   batch.Provider(),
		Reason:     reason,
		OccurredAt: batch.State().DisputedAt,
	})
	s.logger.Info("batch disputed",
		zap.String("tenant_id", batch.TenantID()),
		zap.String("batch_id", batch.ID()),
		zap.String("reason", reason),
	)
	return batch, nil
}

// Get loads a batch visible to the caller.
func (s *Service) Get(ctx context.Context, batchID string) (*settlement.Batch, error) {
	if strings.TrimSpace(batchID) == "" {
		return nil, settlement.ErrEmptyBatchID
	}
	batch, err := s.repo.Get(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if batch == nil {
		return nil, fmt.Errorf("%w: %s", settlement.ErrBatchNotFound, batchID)
	}
	if err := auth.EnsureTenant(ctx, batch.TenantID()); err != nil {
		return nil, err
	}
	return batch, nil
}

// List returns the batches of the caller's tenant.
func (s *Service) List(ctx context.Context, tenantID string) ([]settlement.BatchState, error) {
	if tenantID == "" {
		tenantID = auth.TenantIDFromContext(ctx)
	}
	if tenantID == "" {
		return nil, settlement.ErrEmptyTenantID
	}
	if err := auth.EnsureTenant(ctx, tenantID); err != nil {
		return nil, err
	}
	return s.repo.List(ctx, tenantID)
}

// HandleCaptured adds a successful capture to the settlement batch.
func (s *Service) HandleCaptured(ctx context.Context, event gateway.Captured) error {
	paymentID := event.CaptureID
	if paymentID == "" {
		paymentID = event.AuthorizationID
	}
	_, err := s.AddPayment(ctx, AddPaymentCommand{
		TenantID:  event.TenantID,
		Provider:  event.Provider,
		PaymentID: paymentID,
		Amount:    event.Amount,
		Fee:       event.Fee,
	})
	return err
}

// HandleAuthorized adds an authorization captured in the same call to the settlement batch.
func (s *Service) HandleAuthorized(ctx context.Context, event gateway.Authorized) error {
	if !event.Captured {
		return nil
	}
	_, err := s.AddPayment(ctx, AddPaymentCommand{
		TenantID:  event.TenantID,
		Provider:  event.Provider,
		PaymentID: event.AuthorizationID,
		Amount:    event.Amount,
	})
	return err
}

func (s *Service) update(ctx context.Context, batchID string, apply func(*settlement.Batch) error) (*settlement.Batch, error) {
	var lastErr error
	for attempt := 1; attempt <= s.saveAttempts; attempt++ {
		batch, err := s.Get(ctx, batchID)
		if err != nil {
			return nil, err
		}
		if err := apply(batch); err != nil {
			return nil, err
		}
		err = s.repo.Save(ctx, batch)
		if err == nil {
			return batch, nil
		}
		if !errors.Is(err, settlement.ErrConcurrentUpdate) {
			return nil, err
		}
		lastErr = err
		s.logger.Warn("batch save conflict", zap.String("batch_id", batchID), zap.Int("attempt", attempt))
	}
	return nil, lastErr
}

func (s *Service) publish(ctx context.Context, batch *settlement.Batch, event any) {
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Error("publish settlement event failed",
			zap.String("tenant_id", batch.TenantID()),
			zap.String("batch_id", batch.ID()),
			zap.Error(err),
		)
	}
}
