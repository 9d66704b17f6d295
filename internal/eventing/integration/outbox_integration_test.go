package integration_test

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"testing"
	"time"

	"go.uber.org/zap"

	"finsuite/internal/eventing"
	"finsuite/internal/eventing/eventbus"
	eventingrepo "finsuite/internal/eventing/infrastructure/postgres"

	_ "github.com/jackc/pgx/v5/stdlib"
)

type batchClosed struct {
	TenantID   string    `json:"tenant_id"`
	BatchID    string    `json:"batch_id"`
	OccurredAt time.Time `json:"occurred_at"`
}

type pipeline struct {
	outbox     *eventingrepo.OutboxStore
	bus        *eventbus.InMemoryBus
	processed  *eventingrepo.ProcessedStore
	dispatcher *eventing.Dispatcher
	publisher  *eventing.Publisher
}

func openPipeline(t *testing.T) (*sql.DB, pipeline) {
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
	if !tableExists(db, "event_outbox") ||
		!tableExists(db, "processed_events") ||
		!tableExists(db, "dead_letter_events") {
		t.Skip("missing tables; run migrations")
	}
	ctx := context.Background()
	_, _ = db.ExecContext(ctx, "DELETE FROM processed_events")
	_, _ = db.ExecContext(ctx, "DELETE FROM dead_letter_events")
	_, _ = db.ExecContext(ctx, "DELETE FROM event_outbox")

	outbox, err := eventingrepo.NewOutboxStore(db)
	if err != nil {
		t.Fatalf("outbox store: %v", err)
	}
	processed, err := eventingrepo.NewProcessedStore(db)
	if err != nil {
		t.Fatalf("processed store: %v", err)
	}
	dlq, err := eventingrepo.NewDLQStore(db)
	if err != nil {
		t.Fatalf("dlq store: %v", err)
	}
	bus := eventbus.NewInMemoryBus()
	dispatcher := eventing.NewDispatcher(bus, outbox, eventing.NewRegistry(batchClosed{}), dlq, zap.NewNop())
	publisher, err := eventing.NewPublisher(outbox, "tenant-test", bus, zap.NewNop())
	if err != nil {
		t.Fatalf("publisher: %v", err)
	}
	return db, pipeline{outbox: outbox, bus: bus, processed: processed, dispatcher: dispatcher, publisher: publisher}
}

func TestEventing_IdempotentConsumer(t *testing.T) {
	_, p := openPipeline(t)
	count := 0
	eventing.Subscribe(p.bus, eventbus.EventTypeOf[batchClosed](), "consumer-a", func(ctx context.Context, event any) error {
		count++
		return nil
	}, p.processed)

	ctx := eventing.WithEventID(context.Background(), "evt-dup-001")
	payload := batchClosed{TenantID: "tenant-test", BatchID: "batch-1", OccurredAt: time.Date(2026, 3, 2, 18, 0, 0, 0, time.UTC)}
	if err := p.publisher.Publish(ctx, payload); err != nil {
		t.Fatalf("publish event: %v", err)
	}
	if err := p.publisher.Publish(ctx, payload); err != nil {
		t.Fatalf("publish duplicate: %v", err)
	}
	if _, err := p.dispatcher.Dispatch(ctx, 10); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected handler once, got %d", count)
	}
}

func TestEventing_DLQOnFailure(t *testing.T) {
	db, p := openPipeline(t)
	eventing.Subscribe(p.bus, eventbus.EventTypeOf[batchClosed](), "consumer-fail", func(ctx context.Context, event any) error {
		return errors.New("boom")
	}, p.processed)

	ctx := context.Background()
	if err := p.publisher.Publish(ctx, batchClosed{BatchID: "batch-2"}); err != nil {
		t.Fatalf("publish event: %v", err)
	}
	if _, err := p.dispatcher.Dispatch(ctx, 10); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	var dlqCount int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM dead_letter_events").Scan(&dlqCount); err != nil {
		t.Fatalf("count dlq: %v", err)
	}
	if dlqCount != 1 {
		t.Fatalf("expected 1 dlq record, got %d", dlqCount)
	}

	moved, err := p.outbox.Requeue(ctx, 5)
	if err != nil {
		t.Fatalf("requeue: %v", err)
	}
	if moved != 1 {
		t.Fatalf("expected 1 requeued record, got %d", moved)
	}
	if moved, _ := p.outbox.Requeue(ctx, 1); moved != 0 {
		t.Fatalf("expected nothing left to requeue, got %d", moved)
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
