package integration_test

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"testing"
	"time"

	"go.uber.org/zap"

	payments "finsuite/internal/payments/domain"
	settlementapp "finsuite/internal/settlement/application"
	settlement "finsuite/internal/settlement/domain"
	settlementrepo "finsuite/internal/settlement/infrastructure/postgres"

	_ "github.com/jackc/pgx/v5/stdlib"
)

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, any) error { return nil }

func openRepository(t *testing.T) *settlementrepo.BatchRepository {
	t.Helper()
	dsn := os.Getenv("PG_DSN")
	if dsn == "" {
		t.Skip("PG_DSN not set")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if !tableExists(db, "settlement_batches") || !tableExists(db, "settlement_batch_payments") {
		t.Skip("missing tables; run migrations")
	}
	ctx := context.Background()
	_, _ = db.ExecContext(ctx, "DELETE FROM settlement_batch_payments")
	_, _ = db.ExecContext(ctx, "DELETE FROM settlement_batches")

	repo, err := settlementrepo.NewBatchRepository(db)
	if err != nil {
		t.Fatalf("batch repo: %v", err)
	}
	return repo
}

func TestBatchRepository_RoundTripAndReconcile(t *testing.T) {
	repo := openRepository(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 18, 0, 0, 0, time.UTC)
	svc, err := settlementapp.NewService(repo, nopPublisher{}, zap.NewNop(),
		settlementapp.WithClock(func() time.Time { return now }),
		settlementapp.WithIDGenerator(func() string { return "batch-it-1" }),
	)
	if err != nil {
		t.Fatalf("service: %v", err)
	}

	for _, id := range []string{"p1", "p2", "p1"} {
		_, err := svc.AddPayment(ctx, settlementapp.AddPaymentCommand{
			TenantID:  "tenant-it",
			Provider:  "acme",
			PaymentID: id,
			Amount:    payments.MustMoney("100", "USD"),
			Fee:       payments.MustMoney("3", "USD"),
		})
		if err != nil {
			t.Fatalf("add %s: %v", id, err)
		}
	}

	loaded, err := repo.Get(ctx, "batch-it-1")
	if err != nil || loaded == nil {
		t.Fatalf("get: %v", err)
	}
	if loaded.PaymentCount() != 2 || !loaded.Net().Equal(payments.MustMoney("194", "USD")) {
		t.Fatalf("expected 2 payments netting 194, got %d / %s", loaded.PaymentCount(), loaded.Net())
	}
	if loaded.Version() != 2 {
		t.Fatalf("expected version 2, got %d", loaded.Version())
	}

	if _, err := svc.Close(ctx, "batch-it-1"); err != nil {
		t.Fatalf("close: %v", err)
	}
	reconciled, err := svc.Reconcile(ctx, settlementapp.ReconcileCommand{
		BatchID:   "batch-it-1",
		Actual:    payments.MustMoney("190", "USD"),
		Reference: "po_it",
	})
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	diff, ok := reconciled.Discrepancy()
	if !ok || !diff.Equal(payments.MustMoney("-4", "USD")) {
		t.Fatalf("expected -4.00 USD, got %s", diff)
	}

	stored, err := repo.Get(ctx, "batch-it-1")
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if stored.Status() != settlement.BatchReconciled || stored.State().ExternalReference != "po_it" {
		t.Fatalf("unexpected stored state %+v", stored.State())
	}
}

func TestBatchRepository_StaleVersionRejected(t *testing.T) {
	repo := openRepository(t)
	ctx := context.Background()
	batch, err := settlement.NewBatch("batch-it-2", "tenant-it", "acme", "USD", time.Now())
	if err != nil {
		t.Fatalf("new batch: %v", err)
	}
	if err := repo.Save(ctx, batch); err != nil {
		t.Fatalf("insert: %v", err)
	}

	first, _ := repo.Get(ctx, "batch-it-2")
	second, _ := repo.Get(ctx, "batch-it-2")
	if err := first.AddPayment("p1", payments.MustMoney("10", "USD"), payments.Zero("USD")); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := repo.Save(ctx, first); err != nil {
		t.Fatalf("save first: %v", err)
	}
	if err := second.AddPayment("p2", payments.MustMoney("10", "USD"), payments.Zero("USD")); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := repo.Save(ctx, second); !errors.Is(err, settlement.ErrConcurrentUpdate) {
		t.Fatalf("expected concurrent update, got %v", err)
	}

	dup, _ := settlement.NewBatch("batch-it-3", "tenant-it", "acme", "USD", time.Now())
	if err := repo.Save(ctx, dup); !errors.Is(err, settlement.ErrConcurrentUpdate) {
		t.Fatalf("expected second open batch to conflict, got %v", err)
	}
}

func tableExists(db *sql.DB, table string) bool {
	var exists bool
	err := db.QueryRow(`
SELECT EXISTS (
	SELECT 1
	FROM information_schema.tables
	WHERE table_schema = 'public' AND table_name = $1
)`, table).Scan(&exists)
	if err != nil {
		return false
	}
	return exists
}
