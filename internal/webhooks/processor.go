package webhooks

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"finsuite/internal/observability/metrics"
)

// EventPublisher receives webhook domain events.
type EventPublisher interface {
	Publish(ctx context.Context, event any) error
}

// WebhookReceived is emitted after a delivery was handled.
type WebhookReceived struct {
	Provider   string    `json:"provider"`
	EventID    string    `json:"event_id"`
	EventType  EventType `json:"event_type"`
	OccurredAt time.Time `json:"occurred_at"`
	ReceivedAt time.Time `json:"received_at"`
}

const defaultDedupTTL = 72 * time.Hour

// Processor verifies, parses, deduplicates and routes inbound notifications.
type Processor struct {
	registry       *Registry
	dedup          Deduplicator
	publisher      EventPublisher
	logger         *zap.Logger
	ttl            time.Duration
	releaseOnError bool
	now            func() time.Time
}

// ProcessorOption customizes a Processor.
type ProcessorOption func(*Processor)

// WithDedupTTL sets how long processed event ids are remembered.
func WithDedupTTL(ttl time.Duration) ProcessorOption {
	return func(p *Processor) {
		if ttl > 0 {
			p.ttl = ttl
		}
	}
}

// WithReleaseOnHandlerError forgets the dedup record when the handler fails,
// so the provider's next redelivery runs the handler again. Requires a Forgetter.
func WithReleaseOnHandlerError() ProcessorOption {
	return func(p *Processor) {
		p.releaseOnError = true
	}
}

// WithProcessorClock overrides the receive timestamp source.
func WithProcessorClock(now func() time.Time) ProcessorOption {
	return func(p *Processor) {
		if now != nil {
			p.now = now
		}
	}
}

// NewProcessor wires a processor. Every collaborator is required.
func NewProcessor(registry *Registry, dedup Deduplicator, publisher EventPublisher, logger *zap.Logger, opts ...ProcessorOption) (*Processor, error) {
	if registry == nil {
		return nil, errors.New("webhooks: nil registry")
	}
	if dedup == nil {
		return nil, errors.New("webhooks: nil deduplicator")
	}
	if publisher == nil {
		return nil, errors.New("webhooks: nil event publisher")
	}
	if logger == nil {
		return nil, errors.New("webhooks: nil logger")
	}
	p := &Processor{
		registry:  registry,
		dedup:     dedup,
		publisher: publisher,
		logger:    logger,
		ttl:       defaultDedupTTL,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.releaseOnError {
		if _, ok := dedup.(Forgetter); !ok {
			return nil, errors.New("webhooks: release on handler error needs a deduplicator that can forget")
		}
	}
	return p, nil
}

// Process handles one delivery. A duplicate returns the parsed payload without running the handler.
func (p *Processor) Process(ctx context.Context, providerName string, raw []byte, headers http.Header) (Payload, error) {
	name, prov, err := p.registry.lookup(providerName)
	if err != nil {
		metrics.IncWebhook("unknown", metrics.WebhookUnresolved)
		p.logger.Warn("webhook for unknown provider", zap.String("provider", providerName))
		return Payload{}, err
	}
	if prov.handler == nil {
		metrics.IncWebhook(name, metrics.WebhookUnresolved)
		p.logger.Error("webhook provider has no handler", zap.String("provider", name))
		return Payload{}, fmt.Errorf("%w: %s", ErrHandlerNotFound, name)
	}

	signature := prov.signature(headers)
	if !prov.handler.VerifySignature(raw, signature, prov.config.Secret) {
		metrics.IncWebhook(name, metrics.WebhookRejected)
		p.logger.Warn("webhook signature rejected",
			zap.String("provider", name),
			zap.Bool("signature_present", signature != ""),
		)
		return Payload{}, fmt.Errorf("%w: %s", ErrWebhookVerificationFailed, name)
	}

	payload, err := prov.handler.ParsePayload(raw)
	if err != nil {
		metrics.IncWebhook(name, metrics.WebhookRejected)
		p.logger.Warn("webhook payload rejected", zap.String("provider", name), zap.Error(err))
		if !errors.Is(err, ErrInvalidPayload) {
			err = fmt.Errorf("%w: %w", ErrInvalidPayload, err)
		}
		return Payload{}, err
	}
	payload.Provider = name
	payload.ReceivedAt = p.now().UTC()
	if payload.EventType == "" {
		payload.EventType = EventUnknown
	}
	fields := []zap.Field{
		zap.String("provider", name),
		zap.String("event_id", payload.EventID),
		zap.String("event_type", string(payload.EventType)),
	}

	duplicate, err := p.dedup.IsDuplicate(ctx, name, payload.EventID)
	if err != nil {
		p.logger.Error("webhook dedup lookup failed", append(fields, zap.Error(err))...)
		return Payload{}, fmt.Errorf("webhooks: dedup lookup: %w", err)
	}
	if duplicate {
		metrics.IncWebhook(name, metrics.WebhookDuplicate)
		p.logger.Info("webhook duplicate ignored", fields...)
		return payload, nil
	}

	won, err := p.dedup.RecordProcessed(ctx, name, payload.EventID, p.ttl)
	if err != nil {
		p.logger.Error("webhook dedup record failed", append(fields, zap.Error(err))...)
		return Payload{}, fmt.Errorf("webhooks: dedup record: %w", err)
	}
	if !won {
		metrics.IncWebhook(name, metrics.WebhookDuplicate)
		p.logger.Info("webhook duplicate lost record race", fields...)
		return payload, nil
	}

	if err := prov.handler.ProcessWebhook(ctx, payload); err != nil {
		metrics.IncWebhook(name, metrics.WebhookFailed)
		p.logger.Error("webhook handler failed", append(fields, zap.Error(err))...)
		if p.releaseOnError {
			if forgetErr := p.dedup.(Forgetter).Forget(context.WithoutCancel(ctx), name, payload.EventID); forgetErr != nil {
				p.logger.Error("webhook dedup release failed", append(fields, zap.Error(forgetErr))...)
			}
		}
		return payload, err
	}

	metrics.IncWebhook(name, metrics.WebhookProcessed)
	p.logger.Info("webhook processed", fields...)
	event := WebhookReceived{
		Provider:   name,
		EventID:    payload.EventID,
		EventType:  payload.EventType,
		OccurredAt: payload.OccurredAt,
		ReceivedAt: payload.ReceivedAt,
	}
	if err := p.publisher.Publish(ctx, event); err != nil {
		p.logger.Error("publish webhook event failed", append(fields, zap.Error(err))...)
	}
	return payload, nil
}
