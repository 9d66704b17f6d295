package application

import (
	"context"
	"errors"
	"testing"

	"finsuite/internal/gateway"
	settlement "finsuite/internal/settlement/domain"
	"finsuite/internal/webhooks"
)

func TestServiceHandleAuthorized(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, nil)
	if err := svc.HandleAuthorized(ctx, gateway.Authorized{TenantID: "tenant-a", Provider: "acme", AuthorizationID: "auth_1", Amount: usd("15")}); err != nil {
		t.Fatalf("handle uncaptured: %v", err)
	}
	list, err := svc.List(ctx, "tenant-a")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("expected no batch for an uncaptured authorization, got %d", len(list))
	}

	if err := svc.HandleAuthorized(ctx, gateway.Authorized{TenantID: "tenant-a", Provider: "acme", AuthorizationID: "auth_2", Amount: usd("15"), Captured: true}); err != nil {
		t.Fatalf("handle captured: %v", err)
	}
	batch, err := svc.Get(ctx, "batch-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !batch.HasPayment("auth_2") || !batch.Net().Equal(usd("15")) {
		t.Fatalf("expected auth_2 with net 15 USD, got %+v", batch.State())
	}
}

func TestServicePayoutWebhooks(t *testing.T) {
	ctx := context.Background()
	svc, pub := newTestService(t, nil)
	for _, id := range []string{"p1", "p2"} {
		if _, err := svc.AddPayment(ctx, AddPaymentCommand{TenantID: "tenant-a", Provider: "acme", PaymentID: id, Amount: usd("50"), Fee: usd("1.5")}); err != nil {
			t.Fatalf("add payment: %v", err)
		}
	}
	if _, err := svc.Close(ctx, "batch-1"); err != nil {
		t.Fatalf("close: %v", err)
	}
	router := svc.Routes(webhooks.NewRouter())

	paid := webhooks.Payload{
		Provider:  "acme",
		EventID:   "evt_1",
		EventType: webhooks.EventPayoutPaid,
		Data:      []byte(`{"id":"po_1","batch_id":"batch-1","amount":"97.00"}`),
	}
	if err := router.Route(ctx, paid); err != nil {
		t.Fatalf("route payout.paid: %v", err)
	}
	batch, err := svc.Get(ctx, "batch-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	state := batch.State()
	if state.Status != settlement.BatchReconciled || state.ExternalReference != "po_1" {
		t.Fatalf("expected reconciled with po_1, got %s %q", state.Status, state.ExternalReference)
	}
	if _, ok := pub.last().(BatchReconciled); !ok {
		t.Fatalf("expected BatchReconciled, got %T", pub.last())
	}

	missing := webhooks.Payload{Provider: "acme", EventType: webhooks.EventPayoutFailed, Data: []byte(`{"amount":"1"}`)}
	if err := router.Route(ctx, missing); !errors.Is(err, webhooks.ErrInvalidPayload) {
		t.Fatalf("expected ErrInvalidPayload, got %v", err)
	}
}

func TestServicePayoutFailedDisputes(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, nil)
	if _, err := svc.AddPayment(ctx, AddPaymentCommand{TenantID: "tenant-a", Provider: "acme", PaymentID: "p1", Amount: usd("20")}); err != nil {
		t.Fatalf("add payment: %v", err)
	}
	if _, err := svc.Close(ctx, "batch-1"); err != nil {
		t.Fatalf("close: %v", err)
	}
	failed := webhooks.Payload{
		Provider:  "acme",
		EventType: webhooks.EventPayoutFailed,
		Data:      []byte(`{"batch_id":"batch-1","failure_message":"account closed"}`),
	}
	if err := svc.HandlePayoutFailed(ctx, failed); err != nil {
		t.Fatalf("payout failed: %v", err)
	}
	batch, err := svc.Get(ctx, "batch-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if batch.Status() != settlement.BatchDisputed || batch.State().DisputeReason != "account closed" {
		t.Fatalf("expected disputed with reason, got %s %q", batch.Status(), batch.State().DisputeReason)
	}
}
