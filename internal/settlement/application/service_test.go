package application

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"finsuite/internal/auth"
	"finsuite/internal/gateway"
	payments "finsuite/internal/payments/domain"
	settlement "finsuite/internal/settlement/domain"
	"finsuite/internal/settlement/infrastructure/memory"
)

var testNow = time.Date(2026, 3, 2, 18, 0, 0, 0, time.UTC)

func usd(v string) payments.Money { return payments.MustMoney(v, "USD") }

type recordingPublisher struct {
	mu     sync.Mutex
	events []any
}

func (p *recordingPublisher) Publish(_ context.Context, event any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) last() any {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.events) == 0 {
		return nil
	}
	return p.events[len(p.events)-1]
}

// conflictingRepo fails the first n saves as if another writer got there first.
type conflictingRepo struct {
	*memory.Repository
	failures int
	saves    int
}

func (r *conflictingRepo) Save(ctx context.Context, batch *settlement.Batch) error {
	r.saves++
	if r.failures > 0 {
		r.failures--
		return fmt.Errorf("%w: simulated", settlement.ErrConcurrentUpdate)
	}
	return r.Repository.Save(ctx, batch)
}

func newTestService(t *testing.T, repo settlement.Repository) (*Service, *recordingPublisher) {
	t.Helper()
	if repo == nil {
		repo = memory.NewRepository()
	}
	pub := &recordingPublisher{}
	seq := 0
	svc, err := NewService(repo, pub, zap.NewNop(),
		WithClock(func() time.Time { return testNow }),
		WithIDGenerator(func() string {
			seq++
			return fmt.Sprintf("batch-%d", seq)
		}),
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc, pub
}

func TestServiceAddCloseReconcile(t *testing.T) {
	ctx := context.Background()
	svc, pub := newTestService(t, nil)
	cmd := AddPaymentCommand{TenantID: "tenant-a", Provider: "Acme", PaymentID: "p1", Amount: usd("100"), Fee: usd("3")}
	for i := 0; i < 2; i++ {
		if _, err := svc.AddPayment(ctx, cmd); err != nil {
			t.Fatalf("add payment: %v", err)
		}
	}
	batch, err := svc.Get(ctx, "batch-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if batch.PaymentCount() != 1 || batch.Provider() != "acme" {
		t.Fatalf("expected one payment for acme, got %d for %s", batch.PaymentCount(), batch.Provider())
	}

	if _, err := svc.Close(ctx, "batch-1"); err != nil {
		t.Fatalf("close: %v", err)
	}
	closed, ok := pub.last().(BatchClosed)
	if !ok {
		t.Fatalf("expected BatchClosed, got %T", pub.last())
	}
	if !closed.Expected.Equal(usd("97")) || closed.PaymentCount != 1 {
		t.Fatalf("expected 97.00 USD over 1 payment, got %s over %d", closed.Expected, closed.PaymentCount)
	}

	if _, err := svc.Reconcile(ctx, ReconcileCommand{BatchID: "batch-1", Actual: usd("92"), Reference: "po_1"}); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	reconciled, ok := pub.last().(BatchReconciled)
	if !ok {
		t.Fatalf("expected BatchReconciled, got %T", pub.last())
	}
	if !reconciled.Discrepancy.Equal(usd("-5")) {
		t.Fatalf("expected -5.00 USD, got %s", reconciled.Discrepancy)
	}
	if reconciled.Severity != string(settlement.SeverityHigh) {
		t.Fatalf("expected high severity, got %s", reconciled.Severity)
	}
}

func TestServiceOpensNewBatchAfterClose(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, nil)
	if _, err := svc.AddPayment(ctx, AddPaymentCommand{TenantID: "tenant-a", Provider: "acme", PaymentID: "p1", Amount: usd("10")}); err != nil {
		t.Fatalf("add p1: %v", err)
	}
	if _, err := svc.Close(ctx, "batch-1"); err != nil {
		t.Fatalf("close: %v", err)
	}
	next, err := svc.AddPayment(ctx, AddPaymentCommand{TenantID: "tenant-a", Provider: "acme", PaymentID: "p2", Amount: usd("20")})
	if err != nil {
		t.Fatalf("add p2: %v", err)
	}
	if next.ID() != "batch-2" {
		t.Fatalf("expected batch-2, got %s", next.ID())
	}
	eur, err := svc.AddPayment(ctx, AddPaymentCommand{TenantID: "tenant-a", Provider: "acme", PaymentID: "p3", Amount: payments.MustMoney("5", "EUR")})
	if err != nil {
		t.Fatalf("add p3: %v", err)
	}
	if eur.ID() != "batch-3" || eur.Currency() != "EUR" {
		t.Fatalf("expected separate EUR batch, got %s in %s", eur.ID(), eur.Currency())
	}
	list, err := svc.List(ctx, "tenant-a")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("expected 3 batches, got %d", len(list))
	}
}

func TestServiceHandleCaptured(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, nil)
	event := gateway.Captured{
		TenantID:        "tenant-a",
		Provider:        "acme",
		AuthorizationID: "auth_1",
		CaptureID:       "cap_1",
		Amount:          usd("40"),
	}
	if err := svc.HandleCaptured(ctx, event); err != nil {
		t.Fatalf("handle captured: %v", err)
	}
	batch, err := svc.Get(ctx, "batch-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !batch.HasPayment("cap_1") {
		t.Fatalf("expected cap_1 in batch")
	}
	if !batch.Net().Equal(usd("40")) {
		t.Fatalf("expected net 40.00 USD, got %s", batch.Net())
	}
}

func TestServiceRetriesOnConflict(t *testing.T) {
	ctx := context.Background()
	repo := &conflictingRepo{Repository: memory.NewRepository(), failures: 2}
	svc, _ := newTestService(t, repo)
	if _, err := svc.AddPayment(ctx, AddPaymentCommand{TenantID: "tenant-a", Provider: "acme", PaymentID: "p1", Amount: usd("10")}); err != nil {
		t.Fatalf("add payment: %v", err)
	}
	if repo.saves != 3 {
		t.Fatalf("expected 3 saves, got %d", repo.saves)
	}

	repo.failures = 5
	_, err := svc.Close(ctx, "batch-3")
	if !errors.Is(err, settlement.ErrConcurrentUpdate) {
		t.Fatalf("expected concurrent update after exhausting attempts, got %v", err)
	}
}

func TestServiceTenantIsolation(t *testing.T) {
	svc, _ := newTestService(t, nil)
	owner := auth.WithIdentity(context.Background(), "tenant-a", auth.RoleOperator, "alice")
	if _, err := svc.AddPayment(owner, AddPaymentCommand{TenantID: "tenant-a", Provider: "acme", PaymentID: "p1", Amount: usd("10")}); err != nil {
		t.Fatalf("add payment: %v", err)
	}
	other := auth.WithIdentity(context.Background(), "tenant-b", auth.RoleAdmin, "mallory")
	if _, err := svc.Close(other, "batch-1"); !errors.Is(err, auth.ErrTenantMismatch) {
		t.Fatalf("expected tenant mismatch, got %v", err)
	}
	if _, err := svc.AddPayment(other, AddPaymentCommand{TenantID: "tenant-a", Provider: "acme", PaymentID: "p2", Amount: usd("10")}); !errors.Is(err, auth.ErrTenantMismatch) {
		t.Fatalf("expected tenant mismatch on add, got %v", err)
	}
}

func TestServiceDispute(t *testing.T) {
	ctx := context.Background()
	svc, pub := newTestService(t, nil)
	if _, err := svc.AddPayment(ctx, AddPaymentCommand{TenantID: "tenant-a", Provider: "acme", PaymentID: "p1", Amount: usd("10")}); err != nil {
		t.Fatalf("add payment: %v", err)
	}
	if _, err := svc.Dispute(ctx, "batch-1", "short payout"); !errors.Is(err, settlement.ErrInvalidBatchTransition) {
		t.Fatalf("expected open batch dispute to fail, got %v", err)
	}
	if _, err := svc.Close(ctx, "batch-1"); err != nil {
		t.Fatalf("close: %v", err)
	}
	batch, err := svc.Dispute(ctx, "batch-1", "short payout")
	if err != nil {
		t.Fatalf("dispute: %v", err)
	}
	if batch.Status() != settlement.BatchDisputed {
		t.Fatalf("expected disputed, got %s", batch.Status())
	}
	if ev, ok := pub.last().(BatchDisputed); !ok || ev.Reason != "short payout" {
		t.Fatalf("expected BatchDisputed with reason, got %#v", pub.last())
	}
}

func TestServiceGetUnknown(t *testing.T) {
	svc, _ := newTestService(t, nil)
	if _, err := svc.Get(context.Background(), "missing"); !errors.Is(err, settlement.ErrBatchNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestNewServiceRejectsNilDeps(t *testing.T) {
	if _, err := NewService(nil, &recordingPublisher{}, zap.NewNop()); err == nil {
		t.Fatalf("expected error for nil repository")
	}
	if _, err := NewService(memory.NewRepository(), nil, zap.NewNop()); err == nil {
		t.Fatalf("expected error for nil publisher")
	}
	if _, err := NewService(memory.NewRepository(), &recordingPublisher{}, nil); err == nil {
		t.Fatalf("expected error for nil logger")
	}
}
