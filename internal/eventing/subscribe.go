package eventing

import (
	"context"
	"time"

	"finsuite/internal/eventing/eventbus"
	"finsuite/internal/observability/metrics"
)

// ProcessedStore remembers which consumer already handled which event.
type ProcessedStore interface {
	HasProcessed(ctx context.Context, eventID, consumerName string) (bool, error)
	MarkProcessed(ctx context.Context, eventID, consumerName string) error
}

// Subscribe registers handler for eventType. With a store, each event id is
// handled at most once per consumer.
func Subscribe(bus eventbus.EventBus, eventType, consumerName string, handler eventbus.EventHandler, store ProcessedStore) {
	if store == nil {
		bus.Subscribe(eventType, handler)
		return
	}
	bus.Subscribe(eventType, WrapHandler(consumerName, handler, store))
}

// Consume subscribes a typed handler for T under consumerName.
func Consume[T any](bus eventbus.EventBus, consumerName string, store ProcessedStore, handler func(ctx context.Context, event T) error) {
	Subscribe(bus, eventbus.EventTypeOf[T](), consumerName, func(ctx context.Context, event any) error {
		switch typed := event.(type) {
		case T:
			return handler(ctx, typed)
		case *T:
			if typed != nil {
				return handler(ctx, *typed)
			}
		}
		return eventbus.ErrInvalidEventType
	}, store)
}

// WrapHandler skips events the consumer already processed and marks new ones
// after the handler succeeds. Events without an envelope id always run.
func WrapHandler(consumerName string, handler eventbus.EventHandler, store ProcessedStore) eventbus.EventHandler {
	return func(ctx context.Context, event any) error {
		env, ok := EnvelopeFromContext(ctx)
		if !ok || env.EventID == "" {
			return handler(ctx, event)
		}
		done, err := store.HasProcessed(ctx, env.EventID, consumerName)
		if err != nil || done {
			return err
		}
		observeConsumerLag(env, event, consumerName)
		if err := handler(ctx, event); err != nil {
			return err
		}
		return store.MarkProcessed(ctx, env.EventID, consumerName)
	}
}

func observeConsumerLag(env Envelope, event any, consumerName string) {
	occurredAt := env.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = extractTimeField(event, "OccurredAt")
	}
	if !occurredAt.IsZero() {
		metrics.ObserveConsumerLag(consumerName, time.Since(occurredAt))
	}
}
