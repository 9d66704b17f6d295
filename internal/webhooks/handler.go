package webhooks

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Handler is the per-provider strategy behind the processor.
type Handler interface {
	VerifySignature(payload []byte, signature string, secret []byte) bool
	ParsePayload(payload []byte) (Payload, error)
	ProcessWebhook(ctx context.Context, payload Payload) error
}

// Verifier checks a signature over the raw body.
type Verifier interface {
	Verify(payload []byte, signature string, secret []byte) bool
}

// Parser turns a raw body into a Payload.
type Parser interface {
	Parse(payload []byte) (Payload, error)
}

// CompositeHandler assembles a Handler from a verifier, a parser and a processing function.
type CompositeHandler struct {
	Verifier Verifier
	Parser   Parser
	Process  func(ctx context.Context, payload Payload) error
}

func (h CompositeHandler) VerifySignature(payload []byte, signature string, secret []byte) bool {
	if h.Verifier == nil {
		return false
	}
	return h.Verifier.Verify(payload, signature, secret)
}

func (h CompositeHandler) ParsePayload(payload []byte) (Payload, error) {
	if h.Parser == nil {
		return Payload{}, fmt.Errorf("%w: no parser", ErrInvalidPayload)
	}
	return h.Parser.Parse(payload)
}

func (h CompositeHandler) ProcessWebhook(ctx context.Context, payload Payload) error {
	if h.Process == nil {
		return nil
	}
	return h.Process(ctx, payload)
}

// JSONParser reads the canonical fields from dotted paths in a JSON body.
type JSONParser struct {
	EventIDPath    string
	EventTypePath  string
	OccurredAtPath string
	DataPath       string
	// Types maps provider type names to canonical ones. Unmapped names fall back to ParseEventType.
	Types map[string]EventType
}

// Parse implements Parser.
func (p JSONParser) Parse(payload []byte) (Payload, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(payload, &doc); err != nil {
		return Payload{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	eventID, err := stringAt(doc, p.EventIDPath)
	if err != nil || strings.TrimSpace(eventID) == "" {
		return Payload{}, fmt.Errorf("%w: missing event id at %q", ErrInvalidPayload, p.EventIDPath)
	}
	rawType, _ := stringAt(doc, p.EventTypePath)
	eventType, ok := p.Types[rawType]
	if !ok {
		eventType = ParseEventType(rawType)
	}
	out := Payload{EventID: eventID, EventType: eventType, RawType: rawType}
	if p.OccurredAtPath != "" {
		if raw, ok := lookup(doc, p.OccurredAtPath); ok {
			out.OccurredAt = parseTime(raw)
		}
	}
	if p.DataPath == "" {
		out.Data = json.RawMessage(append([]byte(nil), payload...))
	} else if raw, ok := lookup(doc, p.DataPath); ok {
		out.Data = raw
	}
	return out, nil
}

func lookup(doc map[string]json.RawMessage, path string) (json.RawMessage, bool) {
	if path == "" {
		return nil, false
	}
	parts := strings.Split(path, ".")
	current := doc
	for i, part := range parts {
		raw, ok := current[part]
		if !ok {
			return nil, false
		}
		if i == len(parts)-1 {
			return raw, true
		}
		var next map[string]json.RawMessage
		if err := json.Unmarshal(raw, &next); err != nil {
			return nil, false
		}
		current = next
	}
	return nil, false
}

func stringAt(doc map[string]json.RawMessage, path string) (string, error) {
	raw, ok := lookup(doc, path)
	if !ok {
		return "", fmt.Errorf("%w: %s not found", ErrInvalidPayload, path)
	}
	var value string
	if err := json.Unmarshal(raw, &value); err != nil {
		return "", err
	}
	return value, nil
}

// parseTime accepts RFC 3339 strings and unix seconds.
func parseTime(raw json.RawMessage) time.Time {
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		if ts, err := time.Parse(time.RFC3339, text); err == nil {
			return ts.UTC()
		}
		if secs, err := strconv.ParseInt(text, 10, 64); err == nil {
			return time.Unix(secs, 0).UTC()
		}
		return time.Time{}
	}
	var secs int64
	if err := json.Unmarshal(raw, &secs); err == nil {
		return time.Unix(secs, 0).UTC()
	}
	return time.Time{}
}

// Router dispatches payloads by canonical event type.
type Router struct {
	routes map[EventType]func(ctx context.Context, payload Payload) error
}

// NewRouter returns an empty router.
func NewRouter() *Router {
	return &Router{routes: make(map[EventType]func(ctx context.Context, payload Payload) error)}
}

// On registers fn for an event type. Registration happens before traffic starts.
func (r *Router) On(eventType EventType, fn func(ctx context.Context, payload Payload) error) *Router {
	if fn != nil {
		r.routes[eventType] = fn
	}
	return r
}

// Route runs the function registered for the payload type. Unrouted types are accepted.
func (r *Router) Route(ctx context.Context, payload Payload) error {
	fn, ok := r.routes[payload.EventType]
	if !ok {
		return nil
	}
	return fn(ctx, payload)
}
