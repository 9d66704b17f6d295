package gateway

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"finsuite/internal/idempotency"
	payments "finsuite/internal/payments/domain"
)

type stubGateway struct {
	mu             sync.Mutex
	authorizeCalls int
	authorize      func(req AuthorizeRequest) (AuthorizeResult, error)
	captureCalls   int
	evidenceCalls  int
}

func (g *stubGateway) Authorize(_ context.Context, req AuthorizeRequest) (AuthorizeResult, error) {
	g.mu.Lock()
	g.authorizeCalls++
	g.mu.Unlock()
	if g.authorize != nil {
		return g.authorize(req)
	}
	return AuthorizeResult{Success: true, AuthorizationID: "auth_" + req.TransactionID, Amount: req.Amount}, nil
}

func (g *stubGateway) Capture(_ context.Context, req CaptureRequest) (CaptureResult, error) {
	g.mu.Lock()
	g.captureCalls++
	g.mu.Unlock()
	return CaptureResult{Success: true, CaptureID: "cap_1", Amount: payments.MustMoney("100", "USD"), Fee: payments.MustMoney("3", "USD")}, nil
}

func (g *stubGateway) Refund(_ context.Context, req RefundRequest) (RefundResult, error) {
	return RefundResult{Success: false, Message: "charge already refunded"}, nil
}

func (g *stubGateway) Void(_ context.Context, req VoidRequest) (VoidResult, error) {
	return VoidResult{Success: true}, nil
}

func (g *stubGateway) SubmitEvidence(_ context.Context, req EvidenceRequest) (EvidenceResult, error) {
	g.mu.Lock()
	g.evidenceCalls++
	g.mu.Unlock()
	return EvidenceResult{Success: true, Status: "under_review"}, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []any
}

func (p *recordingPublisher) Publish(_ context.Context, event any) error {
	p.mu.Lock()
	p.events = append(p.events, event)
	p.mu.Unlock()
	return nil
}

type staticTenant string

func (s staticTenant) TenantID(context.Context) string { return string(s) }

func newTestOrchestrator(t *testing.T, gateways map[string]Gateway, opts ...OrchestratorOption) (*Orchestrator, *recordingPublisher) {
	t.Helper()
	builder := NewRegistryBuilder()
	for name, gw := range gateways {
		builder.Register(name, gw)
	}
	registry, err := builder.Build()
	if err != nil {
		t.Fatalf("build registry: %v", err)
	}
	inv := newTestInvoker(t, 3, NoopBreaker{})
	publisher := &recordingPublisher{}
	orch, err := NewOrchestrator(registry, inv, idempotency.NewMemoryStore(), publisher, staticTenant("tenant-a"), zap.NewNop(), opts...)
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}
	return orch, publisher
}

func authorizeRequest() AuthorizeRequest {
	return AuthorizeRequest{
		TransactionID: "tx-1",
		Amount:        payments.MustMoney("100", "USD"),
		PaymentMethod: "pm_card",
		Options:       AuthorizeOptions{StatementDescriptor: "FINSUITE*ORDER"},
	}
}

func TestOrchestrator_IdempotentAuthorize(t *testing.T) {
	gw := &stubGateway{}
	orch, publisher := newTestOrchestrator(t, map[string]Gateway{"acme": gw})
	call := Call{Provider: "acme", IdempotencyKey: "order-42"}

	first, err := orch.Authorize(context.Background(), call, authorizeRequest())
	if err != nil {
		t.Fatalf("first authorize: %v", err)
	}
	second, err := orch.Authorize(context.Background(), call, authorizeRequest())
	if err != nil {
		t.Fatalf("second authorize: %v", err)
	}
	if gw.authorizeCalls != 1 {
		t.Fatalf("expected 1 gateway call, got %d", gw.authorizeCalls)
	}
	if first.AuthorizationID != second.AuthorizationID || !first.Amount.Equal(second.Amount) {
		t.Fatalf("expected equal results, got %+v and %+v", first, second)
	}
	if len(publisher.events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(publisher.events))
	}
	event, ok := publisher.events[0].(Authorized)
	if !ok || event.TenantID != "tenant-a" || event.Provider != "acme" || event.AuthorizationID != "auth_tx-1" {
		t.Fatalf("unexpected event %#v", publisher.events[0])
	}
}

func TestOrchestrator_SameKeyDifferentOperationsAreIndependent(t *testing.T) {
	gw := &stubGateway{}
	orch, _ := newTestOrchestrator(t, map[string]Gateway{"acme": gw})
	call := Call{Provider: "acme", IdempotencyKey: "order-42"}
	if _, err := orch.Authorize(context.Background(), call, authorizeRequest()); err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if _, err := orch.Capture(context.Background(), call, CaptureRequest{AuthorizationID: "auth_tx-1"}); err != nil {
		t.Fatalf("capture: %v", err)
	}
	if gw.captureCalls != 1 {
		t.Fatalf("expected capture to run, got %d calls", gw.captureCalls)
	}
}

func TestOrchestrator_DeclineBecomesSemanticError(t *testing.T) {
	gw := &stubGateway{authorize: func(req AuthorizeRequest) (AuthorizeResult, error) {
		return AuthorizeResult{Success: false, DeclineCode: "insufficient_funds", Message: "card declined"}, nil
	}}
	orch, publisher := newTestOrchestrator(t, map[string]Gateway{"acme": gw})

	_, err := orch.Authorize(context.Background(), Call{Provider: "acme"}, authorizeRequest())
	if !errors.Is(err, ErrAuthorizationFailed) {
		t.Fatalf("expected authorization failed, got %v", err)
	}
	if Retryable(err) {
		t.Fatalf("decline must not be retryable")
	}
	if gw.authorizeCalls != 1 {
		t.Fatalf("expected 1 call, got %d", gw.authorizeCalls)
	}
	assertGatewayError(t, publisher, "acme", "authorize", "tx-1")
}

func TestOrchestrator_RefundFailure(t *testing.T) {
	orch, publisher := newTestOrchestrator(t, map[string]Gateway{"acme": &stubGateway{}})
	_, err := orch.Refund(context.Background(), Call{Provider: "acme"}, RefundRequest{CaptureID: "cap_1", Amount: payments.MustMoney("10", "USD")})
	if !errors.Is(err, ErrRefundFailed) {
		t.Fatalf("expected refund failed, got %v", err)
	}
	assertGatewayError(t, publisher, "acme", "refund", "cap_1")
}

func TestOrchestrator_TransportErrorReturnedUnchanged(t *testing.T) {
	transport := NetworkError("acme", "authorize", errors.New("connection refused"))
	gw := &stubGateway{authorize: func(req AuthorizeRequest) (AuthorizeResult, error) {
		return AuthorizeResult{}, transport
	}}
	orch, publisher := newTestOrchestrator(t, map[string]Gateway{"acme": gw})
	_, err := orch.Authorize(context.Background(), Call{Provider: "acme", IdempotencyKey: "k"}, authorizeRequest())
	if err != transport {
		t.Fatalf("expected original error, got %v", err)
	}
	if gw.authorizeCalls != 3 {
		t.Fatalf("expected 3 attempts, got %d", gw.authorizeCalls)
	}
	assertGatewayError(t, publisher, "acme", "authorize", "tx-1")
}

func TestOrchestrator_ProviderResolution(t *testing.T) {
	acme, globex := &stubGateway{}, &stubGateway{}
	selector := CurrencySelector{"EUR": "globex"}
	orch, _ := newTestOrchestrator(t, map[string]Gateway{"acme": acme, "globex": globex},
		WithSelector(selector), WithDefaultProvider("acme"))

	eur := authorizeRequest()
	eur.Amount = payments.MustMoney("5", "EUR")
	if _, err := orch.Authorize(context.Background(), Call{}, eur); err != nil {
		t.Fatalf("authorize eur: %v", err)
	}
	if _, err := orch.Authorize(context.Background(), Call{}, authorizeRequest()); err != nil {
		t.Fatalf("authorize usd: %v", err)
	}
	if _, err := orch.Authorize(context.Background(), Call{Provider: "GLOBEX"}, authorizeRequest()); err != nil {
		t.Fatalf("authorize explicit: %v", err)
	}
	if globex.authorizeCalls != 2 || acme.authorizeCalls != 1 {
		t.Fatalf("expected globex=2 acme=1, got globex=%d acme=%d", globex.authorizeCalls, acme.authorizeCalls)
	}
}

func TestOrchestrator_NoProviderResolves(t *testing.T) {
	orch, publisher := newTestOrchestrator(t, map[string]Gateway{"acme": &stubGateway{}})
	_, err := orch.Void(context.Background(), Call{}, VoidRequest{AuthorizationID: "auth_1"})
	if !errors.Is(err, ErrGatewayNotFound) {
		t.Fatalf("expected gateway not found, got %v", err)
	}
	_, err = orch.Void(context.Background(), Call{Provider: "initech"}, VoidRequest{AuthorizationID: "auth_1"})
	if !errors.Is(err, ErrGatewayNotFound) {
		t.Fatalf("expected gateway not found, got %v", err)
	}
	if len(publisher.events) != 2 {
		t.Fatalf("expected 2 error events, got %d", len(publisher.events))
	}
}

func TestOrchestrator_InvalidOptionsRejectedBeforeCall(t *testing.T) {
	gw := &stubGateway{}
	orch, _ := newTestOrchestrator(t, map[string]Gateway{"acme": gw})
	req := authorizeRequest()
	req.Options.StatementDescriptor = "THIS DESCRIPTOR IS FAR TOO LONG"
	if _, err := orch.Authorize(context.Background(), Call{Provider: "acme"}, req); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected invalid request, got %v", err)
	}
	if gw.authorizeCalls != 0 {
		t.Fatalf("expected no gateway call, got %d", gw.authorizeCalls)
	}
}

func TestOrchestrator_SubmitEvidenceBypassesIdempotency(t *testing.T) {
	gw := &stubGateway{}
	orch, publisher := newTestOrchestrator(t, map[string]Gateway{"acme": gw}, WithClock(func() time.Time {
		return time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	}))
	req := EvidenceRequest{DisputeID: "dp_1", Explanation: "delivered with signature"}
	for i := 0; i < 2; i++ {
		if _, err := orch.SubmitEvidence(context.Background(), "acme", req); err != nil {
			t.Fatalf("submit evidence: %v", err)
		}
	}
	if gw.evidenceCalls != 2 {
		t.Fatalf("expected 2 calls, got %d", gw.evidenceCalls)
	}
	event, ok := publisher.events[1].(EvidenceSubmitted)
	if !ok || event.DisputeID != "dp_1" || event.Status != "under_review" {
		t.Fatalf("unexpected event %#v", publisher.events[1])
	}
}

func TestNewOrchestrator_UnknownDefaultProvider(t *testing.T) {
	registry, _ := NewRegistryBuilder().Register("acme", &stubGateway{}).Build()
	inv := newTestInvoker(t, 1, NoopBreaker{})
	_, err := NewOrchestrator(registry, inv, idempotency.NewMemoryStore(), &recordingPublisher{}, staticTenant("t"), zap.NewNop(), WithDefaultProvider("initech"))
	if !errors.Is(err, ErrGatewayNotFound) {
		t.Fatalf("expected gateway not found, got %v", err)
	}
}

func assertGatewayError(t *testing.T, publisher *recordingPublisher, provider, operation, reference string) {
	t.Helper()
	if len(publisher.events) == 0 {
		t.Fatalf("expected a gateway error event")
	}
	event, ok := publisher.events[len(publisher.events)-1].(GatewayErrorOccurred)
	if !ok {
		t.Fatalf("expected GatewayErrorOccurred, got %#v", publisher.events[len(publisher.events)-1])
	}
	if event.Provider != provider || event.Operation != operation || event.Reference != reference || event.Error == "" {
		t.Fatalf("unexpected event %+v", event)
	}
}
