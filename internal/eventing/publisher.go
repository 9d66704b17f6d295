package eventing

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"finsuite/internal/eventing/eventbus"
	"finsuite/internal/observability/metrics"
)

const slowPublish = 50 * time.Millisecond

// OutboxWriter inserts outbox records.
type OutboxWriter interface {
	Insert(ctx context.Context, env Envelope) (string, error)
}

// Subscriber registers handlers.
type Subscriber interface {
	Subscribe(eventType string, handler eventbus.EventHandler)
}

// Publisher writes events to the outbox; a Dispatcher delivers them later.
type Publisher struct {
	outbox   OutboxWriter
	tenantID string
	sub      Subscriber
	logger   *zap.Logger
}

// NewPublisher constructs a publisher. tenantID is the fallback when neither
// the context nor the event carries one.
func NewPublisher(outbox OutboxWriter, tenantID string, sub Subscriber, logger *zap.Logger) (*Publisher, error) {
	if outbox == nil {
		return nil, errors.New("eventing: nil outbox writer")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{outbox: outbox, tenantID: tenantID, sub: sub, logger: logger}, nil
}

// Publish writes the event to outbox.
func (p *Publisher) Publish(ctx context.Context, event any) error {
	start := time.Now()
	meta := MetaFromContext(ctx, "")
	env, err := BuildEnvelope(event, meta)
	if err != nil {
		metrics.ObserveOutboxPublish(metrics.ResultError, time.Since(start))
		return err
	}
	if env.TenantID == "" {
		env.TenantID = p.tenantID
	}
	if _, err := p.outbox.Insert(ctx, env); err != nil {
		metrics.ObserveOutboxPublish(metrics.ResultError, time.Since(start))
		return err
	}
	duration := time.Since(start)
	metrics.ObserveOutboxPublish(metrics.ResultSuccess, duration)
	if duration > slowPublish {
		p.logger.Warn("slow outbox publish",
			zap.Int64("duration_ms", duration.Milliseconds()),
			zap.String("event_type", env.EventType),
		)
	}
	return nil
}

// Subscribe delegates to the underlying subscriber when available.
func (p *Publisher) Subscribe(eventType string, handler eventbus.EventHandler) {
	if p == nil || p.sub == nil {
		return
	}
	p.sub.Subscribe(eventType, handler)
}
