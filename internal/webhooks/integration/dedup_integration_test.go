package integration_test

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"finsuite/internal/webhooks"
	webhookspg "finsuite/internal/webhooks/infrastructure/postgres"
	webhooksredis "finsuite/internal/webhooks/infrastructure/redis"

	_ "github.com/jackc/pgx/v5/stdlib"
)

type dedupStore interface {
	webhooks.Deduplicator
	webhooks.Forgetter
}

func TestPostgresDedup(t *testing.T) {
	dsn := os.Getenv("PG_DSN")
	if dsn == "" {
		t.Skip("PG_DSN not set")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()
	if !tableExists(db, "webhook_deliveries") {
		t.Skip("missing tables; run migrations")
	}
	store, err := webhookspg.NewDedupStore(db)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	exerciseDedup(t, store)
}

func TestRedisDedup(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	client := goredis.NewClient(&goredis.Options{Addr: addr})
	defer client.Close()
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("redis not reachable: %v", err)
	}
	store, err := webhooksredis.NewDedupStore(client, webhooksredis.WithPrefix("paycore:test:webhook"))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	exerciseDedup(t, store)
}

func exerciseDedup(t *testing.T, store dedupStore) {
	t.Helper()
	ctx := context.Background()
	eventID := fmt.Sprintf("evt-%d", time.Now().UnixNano())

	dup, err := store.IsDuplicate(ctx, "acme", eventID)
	if err != nil || dup {
		t.Fatalf("expected fresh event, got dup=%v err=%v", dup, err)
	}
	won, err := store.RecordProcessed(ctx, "acme", eventID, time.Minute)
	if err != nil || !won {
		t.Fatalf("expected first record to win, got won=%v err=%v", won, err)
	}
	won, err = store.RecordProcessed(ctx, "acme", eventID, time.Minute)
	if err != nil || won {
		t.Fatalf("expected second record to lose, got won=%v err=%v", won, err)
	}
	dup, err = store.IsDuplicate(ctx, "acme", eventID)
	if err != nil || !dup {
		t.Fatalf("expected duplicate, got dup=%v err=%v", dup, err)
	}
	dup, err = store.IsDuplicate(ctx, "globex", eventID)
	if err != nil || dup {
		t.Fatalf("expected providers to be independent, got dup=%v err=%v", dup, err)
	}
	if err := store.Forget(ctx, "acme", eventID); err != nil {
		t.Fatalf("forget: %v", err)
	}
	dup, err = store.IsDuplicate(ctx, "acme", eventID)
	if err != nil || dup {
		t.Fatalf("expected forgotten event to be fresh, got dup=%v err=%v", dup, err)
	}
}

func tableExists(db *sql.DB, table string) bool {
	var exists bool
	err := db.QueryRow(`SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name = $1)`, table).Scan(&exists)
	return err == nil && exists
}
