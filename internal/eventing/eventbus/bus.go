package eventbus

import (
	"context"
	"errors"
	"reflect"
	"sync"
)

// EventHandler handles a published event.
type EventHandler func(ctx context.Context, event any) error

// EventBus delivers events to subscribed handlers.
type EventBus interface {
	Publish(ctx context.Context, event any) error
	Subscribe(eventType string, handler EventHandler)
}

// ErrNilEvent is returned when a nil event is published.
var ErrNilEvent = errors.New("eventbus: nil event")

// ErrInvalidEventType is returned when the event type cannot be determined.
var ErrInvalidEventType = errors.New("eventbus: invalid event type")

// InMemoryBus is a synchronous in-process bus. Wildcard subscribers receive every event.
type InMemoryBus struct {
	mu       sync.RWMutex
	handlers map[string][]EventHandler
	all      []EventHandler
}

// NewInMemoryBus constructs a new in-memory bus.
func NewInMemoryBus() *InMemoryBus {
	return &InMemoryBus{
		handlers: make(map[string][]EventHandler),
	}
}

// Publish runs every handler for the event type, then the wildcard handlers.
// All handlers run; the first error is returned.
func (b *InMemoryBus) Publish(ctx context.Context, event any) error {
	if event == nil {
		return ErrNilEvent
	}
	eventType := EventType(event)
	if eventType == "" {
		return ErrInvalidEventType
	}

	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.handlers[eventType]...)
	handlers = append(handlers, b.all...)
	b.mu.RUnlock()

	var firstErr error
	for _, handler := range handlers {
		if err := handler(ctx, event); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Subscribe registers a handler for an event type.
func (b *InMemoryBus) Subscribe(eventType string, handler EventHandler) {
	if eventType == "" || handler == nil {
		return
	}
	b.mu.Lock()
	b.handlers[eventType] = append(b.handlers[eventType], handler)
	b.mu.Unlock()
}

// SubscribeAll registers a handler for every event.
func (b *InMemoryBus) SubscribeAll(handler EventHandler) {
	if handler == nil {
		return
	}
	b.mu.Lock()
	b.all = append(b.all, handler)
	b.mu.Unlock()
}

// On subscribes a typed handler for T.
func On[T any](bus EventBus, handler func(ctx context.Context, event T) error) {
	bus.Subscribe(EventTypeOf[T](), func(ctx context.Context, event any) error {
		typed, ok := event.(T)
		if !ok {
			if ptr, isPtr := event.(*T); isPtr && ptr != nil {
				typed = *ptr
			} else {
				return ErrInvalidEventType
			}
		}
		return handler(ctx, typed)
	})
}

// EventType returns the fully-qualified type name for an event instance.
func EventType(event any) string {
	if event == nil {
		return ""
	}
	t := reflect.TypeOf(event)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.String()
}

// EventTypeOf returns the fully-qualified type name for a type parameter.
func EventTypeOf[T any]() string {
	return reflect.TypeOf((*T)(nil)).Elem().String()
}
