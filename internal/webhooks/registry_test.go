package webhooks

import (
	"context"
	"errors"
	"net/http"
	"testing"
)

func TestRegistryBuilderRejectsInvalidRegistrations(t *testing.T) {
	noop := CompositeHandler{Verifier: HMACVerifier{}, Parser: JSONParser{EventIDPath: "id"}}
	_, err := NewRegistryBuilder().
		RegisterProvider("acme", ProviderConfig{SignatureHeader: "X-Sig"}).
		RegisterProvider(" ACME ", ProviderConfig{SignatureHeader: "X-Sig"}).
		Build()
	if !errors.Is(err, ErrDuplicateProvider) {
		t.Fatalf("expected duplicate provider, got %v", err)
	}
	_, err = NewRegistryBuilder().RegisterHandler("ghost", noop).Build()
	if !errors.Is(err, ErrUnknownProvider) {
		t.Fatalf("expected unknown provider for orphan handler, got %v", err)
	}
	_, err = NewRegistryBuilder().RegisterProvider("acme", ProviderConfig{}).Build()
	if err == nil {
		t.Fatalf("expected error for empty signature header")
	}
}

func TestRegistryLookupIsCaseInsensitive(t *testing.T) {
	registry, err := NewRegistryBuilder().
		RegisterProvider("Acme", ProviderConfig{SignatureHeader: "X-Acme-Signature"}).
		Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if !registry.Known("ACME") {
		t.Fatalf("expected ACME to resolve")
	}
	if registry.Known("globex") {
		t.Fatalf("expected globex to be unknown")
	}
	_, p, _ := registry.lookup("acme")
	headers := http.Header{"x-acme-signature": []string{"abc"}}
	if got := p.signature(headers); got != "abc" {
		t.Fatalf("expected abc, got %q", got)
	}
}

func TestJSONParser(t *testing.T) {
	parser := JSONParser{
		EventIDPath:    "event.id",
		EventTypePath:  "event.kind",
		OccurredAtPath: "event.at",
		DataPath:       "event.object",
		Types:          map[string]EventType{"charge.paid": EventPaymentSucceeded},
	}
	payload, err := parser.Parse([]byte(`{"event":{"id":"evt_9","kind":"charge.paid","at":"2026-03-02T10:00:00Z","object":{"amount":"10.00"}}}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if payload.EventID != "evt_9" || payload.EventType != EventPaymentSucceeded || payload.RawType != "charge.paid" {
		t.Fatalf("unexpected payload %+v", payload)
	}
	var data struct {
		Amount string `json:"amount"`
	}
	if err := payload.Decode(&data); err != nil || data.Amount != "10.00" {
		t.Fatalf("expected amount 10.00, got %q (%v)", data.Amount, err)
	}

	payload, err = parser.Parse([]byte(`{"event":{"id":"evt_10","kind":"something.new"}}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if payload.EventType != EventUnknown {
		t.Fatalf("expected unknown event type, got %s", payload.EventType)
	}

	if _, err := parser.Parse([]byte(`not json`)); !errors.Is(err, ErrInvalidPayload) {
		t.Fatalf("expected invalid payload, got %v", err)
	}
}

func TestRouterDispatchesByType(t *testing.T) {
	var got []EventType
	router := NewRouter().
		On(EventPaymentFailed, func(_ context.Context, p Payload) error {
			got = append(got, p.EventType)
			return nil
		})
	for _, et := range []EventType{EventPaymentFailed, EventDisputeOpened} {
		if err := router.Route(context.Background(), Payload{EventType: et}); err != nil {
			t.Fatalf("route %s: %v", et, err)
		}
	}
	if len(got) != 1 || got[0] != EventPaymentFailed {
		t.Fatalf("expected only payment.failed routed, got %v", got)
	}
}
