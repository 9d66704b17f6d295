package integration_test

import (
	"context"
	"database/sql"
	"os"
	"testing"

	"finsuite/internal/audit"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func TestAuditRepository_AppendAndList(t *testing.T) {
	dsn := os.Getenv("PG_DSN")
	if dsn == "" {
		t.Skip("PG_DSN not set")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()
	if !tableExists(db, "audit_logs") {
		t.Skip("missing tables; run migrations")
	}
	ctx := context.Background()
	_, _ = db.ExecContext(ctx, "DELETE FROM audit_logs WHERE tenant_id = 'tenant-audit-it'")

	repo, err := audit.NewRepository(db)
	if err != nil {
		t.Fatalf("audit repo: %v", err)
	}
	for _, action := range []string{"settlement.batch.close", "settlement.batch.reconcile"} {
		err := repo.Log(ctx, audit.Entry{
			TenantID:     "tenant-audit-it",
			Actor:        "user-1",
			Role:         "admin",
			Action:       action,
			ResourceType: "settlement_batch",
			ResourceID:   "batch-it",
			Metadata:     audit.Metadata(map[string]string{"action": action}),
		})
		if err != nil {
			t.Fatalf("log %s: %v", action, err)
		}
	}
	entries, err := repo.ListByResource(ctx, "tenant-audit-it", "settlement_batch", "batch-it")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].ID == "" || entries[0].PayloadDigest == "" {
		t.Fatalf("expected id and digest filled, got %+v", entries[0])
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
