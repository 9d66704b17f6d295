package eventing

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
)

// ErrUnknownEventType is returned when decoding an envelope of an unregistered type.
var ErrUnknownEventType = errors.New("eventing: unknown event type")

// Registry maps event type names to constructors for decoding payloads.
// Populate it during startup; it is read-only afterwards.
type Registry struct {
	factories map[string]reflect.Type
}

// NewRegistry constructs a registry holding the given sample events (values or pointers).
func NewRegistry(samples ...any) *Registry {
	r := &Registry{factories: make(map[string]reflect.Type, len(samples))}
	for _, sample := range samples {
		r.Register(sample)
	}
	return r
}

// Register registers an event type.
func (r *Registry) Register(sample any) {
	if r == nil || sample == nil {
		return
	}
	t := reflect.TypeOf(sample)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	r.factories[t.String()] = t
}

// Types returns the registered type names.
func (r *Registry) Types() []string {
	out := make([]string, 0, len(r.factories))
	for name := range r.factories {
		out = append(out, name)
	}
	return out
}

// DecodePayload decodes envelope payload into a concrete event value.
func (r *Registry) DecodePayload(env Envelope) (any, error) {
	if r == nil {
		return nil, errors.New("eventing: nil registry")
	}
	t, ok := r.factories[env.EventType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEventType, env.EventType)
	}
	target := reflect.New(t)
	if err := json.Unmarshal(env.Payload, target.Interface()); err != nil {
		return nil, fmt.Errorf("eventing: decode %s: %w", env.EventType, err)
	}
	return target.Elem().Interface(), nil
}
