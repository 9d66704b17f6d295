package eventing

import (
	"context"
	"time"

	"go.uber.org/zap"

	"finsuite/internal/observability/metrics"
)

// EventBus is the minimal publish interface.
type EventBus interface {
	Publish(ctx context.Context, event any) error
}

// OutboxStore provides access to outbox records.
type OutboxStore interface {
	ListPending(ctx context.Context, limit int) ([]OutboxRecord, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string) error
}

// DLQStore records failures.
type DLQStore interface {
	RecordFailure(ctx context.Context, env Envelope, err error) error
}

// OutboxRecord represents a pending outbox entry.
type OutboxRecord struct {
	ID       string
	Envelope Envelope
}

// DispatchResult captures the outcome of a dispatch run.
type DispatchResult struct {
	Requested int
	Claimed   int
	Sent      int
	Failed    int
	DLQ       int
}

const defaultDispatchLimit = 50

// Dispatcher sends outbox events to the in-process bus.
type Dispatcher struct {
	bus      EventBus
	outbox   OutboxStore
	registry *Registry
	dlq      DLQStore
	logger   *zap.Logger
}

// NewDispatcher constructs a dispatcher. The DLQ store is optional.
func NewDispatcher(bus EventBus, outbox OutboxStore, registry *Registry, dlq DLQStore, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{bus: bus, outbox: outbox, registry: registry, dlq: dlq, logger: logger}
}

// Dispatch pulls pending outbox messages and delivers them.
func (d *Dispatcher) Dispatch(ctx context.Context, limit int) (DispatchResult, error) {
	start := time.Now()
	if limit <= 0 {
		limit = defaultDispatchLimit
	}
	result := DispatchResult{Requested: limit}
	if d == nil || d.outbox == nil || d.bus == nil || d.registry == nil {
		metrics.ObserveOutboxDispatch(metrics.ResultError, time.Since(start), 0, 0, 0)
		return result, nil
	}
	records, err := d.outbox.ListPending(ctx, limit)
	if err != nil {
		metrics.ObserveOutboxDispatch(metrics.ResultError, time.Since(start), 0, 0, 0)
		return result, err
	}
	result.Claimed = len(records)
	var firstErr error

	for _, record := range records {
		env := record.Envelope
		deliverErr := d.deliver(ctx, env)
		if deliverErr == nil {
			if err := d.outbox.MarkSent(ctx, record.ID); err != nil {
				if firstErr == nil {
					firstErr = err
				}
				result.Failed++
				continue
			}
			result.Sent++
			continue
		}

		result.Failed++
		d.logger.Warn("outbox delivery failed",
			zap.String("event_id", env.EventID),
			zap.String("event_type", env.EventType),
			zap.Error(deliverErr),
		)
		if err := d.outbox.MarkFailed(ctx, record.ID); err != nil && firstErr == nil {
			firstErr = err
		}
		if d.dlq != nil {
			if err := d.dlq.RecordFailure(ctx, env, deliverErr); err != nil {
				d.logger.Error("dead letter write failed", zap.String("event_id", env.EventID), zap.Error(err))
			} else {
				result.DLQ++
			}
		}
	}

	dispatchResult := metrics.ResultSuccess
	if firstErr != nil || result.Failed > 0 {
		dispatchResult = metrics.ResultError
	}
	metrics.ObserveOutboxDispatch(dispatchResult, time.Since(start), result.Sent, result.Failed, result.DLQ)
	return result, firstErr
}

func (d *Dispatcher) deliver(ctx context.Context, env Envelope) error {
	payload, err := d.registry.DecodePayload(env)
	if err != nil {
		return err
	}
	return d.bus.Publish(WithEnvelope(ctx, env), payload)
}

// Run dispatches on every tick until ctx is done.
func (d *Dispatcher) Run(ctx context.Context, interval time.Duration, limit int) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := d.Dispatch(ctx, limit); err != nil {
				d.logger.Error("outbox dispatch failed", zap.Error(err))
			}
		}
	}
}
