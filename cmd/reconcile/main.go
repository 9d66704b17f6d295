// Command reconcile applies a processor payout report to settlement batches
// and writes the graded discrepancies to a CSV file.
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"finsuite/internal/auth"
	"finsuite/internal/eventing"
	eventingrepo "finsuite/internal/eventing/infrastructure/postgres"
	settlementapp "finsuite/internal/settlement/application"
	settlementrepo "finsuite/internal/settlement/infrastructure/postgres"

	_ "github.com/jackc/pgx/v5/stdlib"
)

type config struct {
	dbURL      string
	tenantID   string
	payoutPath string
	outDir     string
}

func main() {
	cfg, err := parseFlags()
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(2)
	}
	if err := os.MkdirAll(cfg.outDir, 0o755); err != nil {
		fmt.Fprintln(os.Stderr, "create out dir:", err)
		os.Exit(2)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(2)
	}
	defer func() { _ = logger.Sync() }()

	db, err := sql.Open("pgx", cfg.dbURL)
	if err != nil {
		fmt.Fprintln(os.Stderr, "db open:", err)
		os.Exit(2)
	}
	defer db.Close()

	service, err := openService(db, cfg.tenantID, logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, "settlement service:", err)
		os.Exit(2)
	}

	payouts, err := loadPayouts(cfg.payoutPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load payouts:", err)
		os.Exit(2)
	}

	ctx := auth.WithIdentity(context.Background(), cfg.tenantID, auth.RoleOperator, "reconcile-cli")
	results := reconcileAll(ctx, service, payouts)

	path := filepath.Join(cfg.outDir, "discrepancy_report.csv")
	if err := writeReport(path, results); err != nil {
		fmt.Fprintln(os.Stderr, "write report:", err)
		os.Exit(2)
	}

	failed := 0
	for _, r := range results {
		if r.Err != "" {
			failed++
		}
	}
	fmt.Printf("Reconciled %d payouts (%d failed); report written to %s\n", len(results)-failed, failed, path)
	if failed > 0 {
		os.Exit(1)
	}
}

func parseFlags() (config, error) {
	var cfg config
	flag.StringVar(&cfg.dbURL, "db", getenvDefault("DATABASE_URL", getenvDefault("PG_DSN", "")), "Postgres DSN")
	flag.StringVar(&cfg.tenantID, "tenant", getenvDefault("TENANT_ID", ""), "tenant id")
	flag.StringVar(&cfg.payoutPath, "payouts", "", "processor payout CSV path")
	flag.StringVar(&cfg.outDir, "out", "./out", "output directory")
	flag.Parse()

	if cfg.dbURL == "" {
		return cfg, errors.New("missing --db or DATABASE_URL/PG_DSN")
	}
	if cfg.tenantID == "" {
		return cfg, errors.New("missing --tenant or TENANT_ID")
	}
	if cfg.payoutPath == "" {
		return cfg, errors.New("missing --payouts")
	}
	return cfg, nil
}

// openService builds a settlement service whose events land in the outbox
// for the server's dispatcher to deliver.
func openService(db *sql.DB, tenantID string, logger *zap.Logger) (*settlementapp.Service, error) {
	repo, err := settlementrepo.NewBatchRepository(db)
	if err != nil {
		return nil, err
	}
	outbox, err := eventingrepo.NewOutboxStore(db)
	if err != nil {
		return nil, err
	}
	publisher, err := eventing.NewPublisher(outbox, tenantID, nil, logger)
	if err != nil {
		return nil, err
	}
	return settlementapp.NewService(repo, publisher, logger)
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}
