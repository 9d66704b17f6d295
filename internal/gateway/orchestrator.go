package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"finsuite/internal/idempotency"
	"finsuite/internal/observability/metrics"
)

// Orchestrator resolves a gateway, applies idempotency and runs operations through the Invoker.
type Orchestrator struct {
	registry        *Registry
	invoker         *Invoker
	store           idempotency.Store
	idempotency     idempotency.Options
	publisher       EventPublisher
	tenants         TenantResolver
	logger          *zap.Logger
	selector        ProviderSelector
	defaultProvider string
	now             func() time.Time
}

// OrchestratorOption customizes an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithDefaultProvider sets the provider used when neither caller nor selector names one.
func WithDefaultProvider(provider string) OrchestratorOption {
	return func(o *Orchestrator) {
		o.defaultProvider = normalizeProvider(provider)
	}
}

// WithSelector installs a provider selector.
func WithSelector(selector ProviderSelector) OrchestratorOption {
	return func(o *Orchestrator) {
		o.selector = selector
	}
}

// WithIdempotencyOptions overrides the record TTL and reservation lease.
func WithIdempotencyOptions(opts idempotency.Options) OrchestratorOption {
	return func(o *Orchestrator) {
		o.idempotency = opts
	}
}

// WithClock overrides the event timestamp source.
func WithClock(now func() time.Time) OrchestratorOption {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// NewOrchestrator wires the orchestrator. Every collaborator is required.
func NewOrchestrator(registry *Registry, invoker *Invoker, store idempotency.Store, publisher EventPublisher, tenants TenantResolver, logger *zap.Logger, opts ...OrchestratorOption) (*Orchestrator, error) {
	if registry == nil {
		return nil, errors.New("gateway: nil registry")
	}
	if invoker == nil {
		return nil, errors.New("gateway: nil invoker")
	}
	if store == nil {
		return nil, errors.New("gateway: nil idempotency store")
	}
	if publisher == nil {
		return nil, errors.New("gateway: nil event publisher")
	}
	if tenants == nil {
		return nil, errors.New("gateway: nil tenant resolver")
	}
	if logger == nil {
		return nil, errors.New("gateway: nil logger")
	}
	o := &Orchestrator{
		registry:    registry,
		invoker:     invoker,
		store:       store,
		idempotency: idempotency.DefaultOptions(),
		publisher:   publisher,
		tenants:     tenants,
		logger:      logger,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.defaultProvider != "" && !registry.Has(o.defaultProvider) {
		return nil, fmt.Errorf("%w: default provider %q", ErrGatewayNotFound, o.defaultProvider)
	}
	return o, nil
}

// Authorize reserves funds. A declined authorization returns ErrAuthorizationFailed.
func (o *Orchestrator) Authorize(ctx context.Context, call Call, req AuthorizeRequest) (AuthorizeResult, error) {
	sel := Selection{Operation: OperationAuthorize, Currency: req.Amount.Currency}
	res, out, err := execute(ctx, o, call, sel, req.TransactionID, req.validate,
		func(ctx context.Context, gw Gateway) (AuthorizeResult, error) { return gw.Authorize(ctx, req) },
		func(r AuthorizeResult) error {
			if r.Success {
				return nil
			}
			return fmt.Errorf("%w: %s", ErrAuthorizationFailed, declineDetail(r.DeclineCode, r.Message))
		},
	)
	if err != nil {
		return res, err
	}
	if !out.replayed {
		o.emit(ctx, out, Authorized{
			TenantID:        out.tenantID,
			Provider:        out.provider,
			TransactionID:   req.TransactionID,
			AuthorizationID: res.AuthorizationID,
			Amount:          req.Amount,
			Captured:        res.Captured,
			OccurredAt:      o.now().UTC(),
		})
	}
	return res, nil
}

// Capture settles an authorization. A refused capture returns ErrCaptureFailed.
func (o *Orchestrator) Capture(ctx context.Context, call Call, req CaptureRequest) (CaptureResult, error) {
	sel := Selection{Operation: OperationCapture}
	if req.Amount != nil {
		sel.Currency = req.Amount.Currency
	}
	res, out, err := execute(ctx, o, call, sel, req.AuthorizationID, req.validate,
		func(ctx context.Context, gw Gateway) (CaptureResult, error) { return gw.Capture(ctx, req) },
		func(r CaptureResult) error {
			if r.Success {
				return nil
			}
			return fmt.Errorf("%w: %s", ErrCaptureFailed, declineDetail("", r.Message))
		},
	)
	if err != nil {
		return res, err
	}
	if !out.replayed {
		o.emit(ctx, out, Captured{
			TenantID:        out.tenantID,
			Provider:        out.provider,
			AuthorizationID: req.AuthorizationID,
			CaptureID:       res.CaptureID,
			Amount:          res.Amount,
			Fee:             res.Fee,
			OccurredAt:      o.now().UTC(),
		})
	}
	return res, nil
}

// Refund returns captured funds. A refused refund returns ErrRefundFailed.
func (o *Orchestrator) Refund(ctx context.Context, call Call, req RefundRequest) (RefundResult, error) {
	sel := Selection{Operation: OperationRefund, Currency: req.Amount.Currency}
	res, out, err := execute(ctx, o, call, sel, req.CaptureID, req.validate,
		func(ctx context.Context, gw Gateway) (RefundResult, error) { return gw.Refund(ctx, req) },
		func(r RefundResult) error {
			if r.Success {
				return nil
			}
			return fmt.Errorf("%w: %s", ErrRefundFailed, declineDetail("", r.Message))
		},
	)
	if err != nil {
		return res, err
	}
	if !out.replayed {
		o.emit(ctx, out, Refunded{
			TenantID:   out.tenantID,
			Provider:   out.provider,
			CaptureID:  req.CaptureID,
			RefundID:   res.RefundID,
			Amount:     req.Amount,
			OccurredAt: o.now().UTC(),
		})
	}
	return res, nil
}

// Void releases an uncaptured authorization. A refused void returns ErrVoidFailed.
func (o *Orchestrator) Void(ctx context.Context, call Call, req VoidRequest) (VoidResult, error) {
	sel := Selection{Operation: OperationVoid}
	res, out, err := execute(ctx, o, call, sel, req.AuthorizationID, req.validate,
		func(ctx context.Context, gw Gateway) (VoidResult, error) { return gw.Void(ctx, req) },
		func(r VoidResult) error {
			if r.Success {
				return nil
			}
			return fmt.Errorf("%w: %s", ErrVoidFailed, declineDetail("", r.Message))
		},
	)
	if err != nil {
		return res, err
	}
	if !out.replayed {
		o.emit(ctx, out, Voided{
			TenantID:        out.tenantID,
			Provider:        out.provider,
			AuthorizationID: req.AuthorizationID,
			OccurredAt:      o.now().UTC(),
		})
	}
	return res, nil
}

// SubmitEvidence sends dispute evidence. It never uses an idempotency key.
func (o *Orchestrator) SubmitEvidence(ctx context.Context, provider string, req EvidenceRequest) (EvidenceResult, error) {
	sel := Selection{Operation: OperationSubmitEvidence}
	res, out, err := execute(ctx, o, Call{Provider: provider}, sel, req.DisputeID, req.validate,
		func(ctx context.Context, gw Gateway) (EvidenceResult, error) { return gw.SubmitEvidence(ctx, req) },
		func(r EvidenceResult) error {
			if r.Success {
				return nil
			}
			return fmt.Errorf("%w: %s", ErrEvidenceRejected, declineDetail(r.Status, r.Message))
		},
	)
	if err != nil {
		return res, err
	}
	o.emit(ctx, out, EvidenceSubmitted{
		TenantID:   out.tenantID,
		Provider:   out.provider,
		DisputeID:  req.DisputeID,
		Status:     res.Status,
		OccurredAt: o.now().UTC(),
	})
	return res, nil
}

type outcome struct {
	tenantID  string
	provider  string
	operation Operation
	reference string
	replayed  bool
}

func execute[R any](
	ctx context.Context,
	o *Orchestrator,
	call Call,
	sel Selection,
	reference string,
	validate func() error,
	run func(ctx context.Context, gw Gateway) (R, error),
	semantic func(R) error,
) (R, outcome, error) {
	var zero R
	started := time.Now()
	out := outcome{
		tenantID:  o.tenants.TenantID(ctx),
		operation: sel.Operation,
		reference: reference,
	}
	sel.TenantID = out.tenantID

	if err := validate(); err != nil {
		o.fail(ctx, out, err, started)
		return zero, out, err
	}
	provider, gw, err := o.resolve(ctx, call.Provider, sel)
	out.provider = provider
	if err != nil {
		o.fail(ctx, out, err, started)
		return zero, out, err
	}

	invoke := func(ctx context.Context) (R, error) {
		return Invoke(ctx, o.invoker, provider, func(ctx context.Context) (R, error) {
			return run(ctx, gw)
		})
	}

	var result R
	if call.IdempotencyKey != "" && sel.Operation != OperationSubmitEvidence {
		key := string(sel.Operation) + ":" + call.IdempotencyKey
		result, out.replayed, err = idempotency.Execute(ctx, o.store, provider, key, o.idempotency, invoke)
		if errors.Is(err, idempotency.ErrResultNotStored) {
			o.logger.Warn("idempotent result not stored",
				o.fields(out, zap.String("idempotency_key", call.IdempotencyKey), zap.Error(err))...)
			err = nil
		}
	} else {
		result, err = invoke(ctx)
	}
	if err == nil {
		if semErr := semantic(result); semErr != nil {
			err = &Error{Kind: KindDeclined, Provider: provider, Operation: string(sel.Operation), Reference: reference, Err: semErr}
		}
	}
	if err != nil {
		o.fail(ctx, out, err, started)
		return result, out, err
	}

	metrics.ObserveGatewayCall(provider, string(sel.Operation), metrics.ResultSuccess, time.Since(started))
	fields := o.fields(out, zap.Bool("replayed", out.replayed))
	if call.IdempotencyKey != "" {
		fields = append(fields, zap.String("idempotency_key", call.IdempotencyKey))
	}
	o.logger.Info("gateway operation succeeded", fields...)
	return result, out, nil
}

// resolve picks explicit provider, then selector, then default.
func (o *Orchestrator) resolve(ctx context.Context, explicit string, sel Selection) (string, Gateway, error) {
	provider := normalizeProvider(explicit)
	if provider == "" && o.selector != nil {
		provider = normalizeProvider(o.selector.SelectProvider(ctx, sel))
	}
	if provider == "" {
		provider = o.defaultProvider
	}
	if provider == "" {
		return "", nil, fmt.Errorf("%w: no provider for %s", ErrGatewayNotFound, sel.Operation)
	}
	gw, err := o.registry.Get(provider)
	if err != nil {
		return provider, nil, err
	}
	return provider, gw, nil
}

func (o *Orchestrator) fail(ctx context.Context, out outcome, err error, started time.Time) {
	metrics.ObserveGatewayCall(out.provider, string(out.operation), metrics.ResultError, time.Since(started))
	kind := KindOf(err)
	o.logger.Error("gateway operation failed",
		o.fields(out, zap.String("kind", string(kind)), zap.Error(err))...)
	event := GatewayErrorOccurred{
		TenantID:   out.tenantID,
		Provider:   out.provider,
		Operation:  string(out.operation),
		Reference:  out.reference,
		Kind:       string(kind),
		Error:      err.Error(),
		OccurredAt: o.now().UTC(),
	}
	if pubErr := o.publisher.Publish(ctx, event); pubErr != nil {
		o.logger.Error("publish gateway error event failed", o.fields(out, zap.Error(pubErr))...)
	}
}

func (o *Orchestrator) emit(ctx context.Context, out outcome, event any) {
	if err := o.publisher.Publish(ctx, event); err != nil {
		o.logger.Error("publish gateway event failed", o.fields(out, zap.Error(err))...)
	}
}

func (o *Orchestrator) fields(out outcome, extra ...zap.Field) []zap.Field {
	fields := []zap.Field{
		zap.String("tenant_id", out.tenantID),
		zap.String("provider", out.provider),
		zap.String("operation", string(out.operation)),
		zap.String("reference", out.reference),
	}
	return append(fields, extra...)
}

func declineDetail(code, message string) string {
	parts := make([]string, 0, 2)
	if code != "" {
		parts = append(parts, code)
	}
	if message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "declined by processor"
	}
	return strings.Join(parts, ": ")
}
