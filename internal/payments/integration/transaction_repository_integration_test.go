package integration_test

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"testing"
	"time"

	payments "finsuite/internal/payments/domain"
	paymentsrepo "finsuite/internal/payments/infrastructure/postgres"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func openRepository(t *testing.T) *paymentsrepo.TransactionRepository {
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
	if !tableExists(db, "payment_transactions") {
		t.Skip("missing tables; run migrations")
	}
	_, _ = db.ExecContext(context.Background(), "DELETE FROM payment_transactions")

	repo, err := paymentsrepo.NewTransactionRepository(db)
	if err != nil {
		t.Fatalf("transaction repo: %v", err)
	}
	return repo
}

func TestTransactionRepository_LifecycleRoundTrip(t *testing.T) {
	repo := openRepository(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 18, 0, 0, 0, time.UTC)

	tx, err := payments.NewTransaction(payments.NewTransactionParams{
		ID:        "txn-it-1",
		TenantID:  "tenant-it",
		Direction: payments.DirectionInbound,
		Provider:  "acme",
		Amount:    payments.MustMoney("125.50", "USD"),
		Metadata:  map[string]string{"order": "o-1"},
		CreatedAt: now,
	})
	if err != nil {
		t.Fatalf("new transaction: %v", err)
	}
	if err := repo.Save(ctx, tx); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := tx.MarkProcessing(now.Add(time.Second)); err != nil {
		t.Fatalf("processing: %v", err)
	}
	if err := tx.SetProviderTransactionID("ch_it_1"); err != nil {
		t.Fatalf("provider id: %v", err)
	}
	if err := tx.MarkCompleted(payments.MustMoney("125.50", "USD"), now.Add(2*time.Second)); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if err := repo.Save(ctx, tx); err != nil {
		t.Fatalf("update: %v", err)
	}

	loaded, err := repo.FindByProviderReference(ctx, "acme", "ch_it_1")
	if err != nil {
		t.Fatalf("find by reference: %v", err)
	}
	state := loaded.State()
	if state.Status != payments.TransactionCompleted {
		t.Fatalf("expected completed, got %s", state.Status)
	}
	if state.Version != 2 {
		t.Fatalf("expected version 2, got %d", state.Version)
	}
	if state.SettlementAmount == nil || state.SettlementAmount.Amount.StringFixed(2) != "125.50" {
		t.Fatalf("unexpected settlement amount %+v", state.SettlementAmount)
	}
	if state.Metadata["order"] != "o-1" {
		t.Fatalf("expected metadata to survive, got %+v", state.Metadata)
	}
}

func TestTransactionRepository_StaleVersionRejected(t *testing.T) {
	repo := openRepository(t)
	ctx := context.Background()

	tx, err := payments.NewTransaction(payments.NewTransactionParams{
		ID:        "txn-it-2",
		TenantID:  "tenant-it",
		Direction: payments.DirectionInbound,
		Provider:  "acme",
		Amount:    payments.MustMoney("10", "EUR"),
	})
	if err != nil {
		t.Fatalf("new transaction: %v", err)
	}
	if err := repo.Save(ctx, tx); err != nil {
		t.Fatalf("insert: %v", err)
	}
	first, err := repo.Get(ctx, "txn-it-2")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	second, err := repo.Get(ctx, "txn-it-2")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if err := first.MarkProcessing(time.Now()); err != nil {
		t.Fatalf("processing: %v", err)
	}
	if err := repo.Save(ctx, first); err != nil {
		t.Fatalf("save first: %v", err)
	}
	if err := second.Cancel(time.Now()); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if err := repo.Save(ctx, second); !errors.Is(err, payments.ErrConcurrentUpdate) {
		t.Fatalf("expected ErrConcurrentUpdate, got %v", err)
	}
	if _, err := repo.Get(ctx, "txn-missing"); !errors.Is(err, payments.ErrTransactionNotFound) {
		t.Fatalf("expected ErrTransactionNotFound, got %v", err)
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
