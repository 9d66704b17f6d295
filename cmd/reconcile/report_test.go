package main

import (
	"bytes"
	"context"
	"encoding/csv"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	payments "finsuite/internal/payments/domain"
	settlementapp "finsuite/internal/settlement/application"
	"finsuite/internal/settlement/infrastructure/memory"
)

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, any) error { return nil }

func TestReadPayouts(t *testing.T) {
	input := "Batch_ID, amount, currency, payout_id\nbatch-1, 97.00, usd, po_1\nbatch-2,10,EUR,\n"
	rows, err := readPayouts(strings.NewReader(input))
	if err != nil {
		t.Fatalf("read payouts: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0].BatchID != "batch-1" || rows[0].Reference != "po_1" || !rows[0].Amount.Equal(payments.MustMoney("97", "USD")) {
		t.Fatalf("unexpected first row %+v", rows[0])
	}
	if rows[1].Line != 3 || rows[1].Reference != "" {
		t.Fatalf("unexpected second row %+v", rows[1])
	}
}

func TestReadPayoutsRejectsBadInput(t *testing.T) {
	cases := map[string]string{
		"missing header": "batch_id,amount\nb,1\n",
		"bad amount":     "batch_id,amount,currency\nb,ten,USD\n",
		"bad currency":   "batch_id,amount,currency\nb,10,dollars\n",
		"empty batch":    "batch_id,amount,currency\n,10,USD\n",
		"empty file":     "",
	}
	for name, input := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := readPayouts(strings.NewReader(input)); err == nil {
				t.Fatalf("expected error for %q", input)
			}
		})
	}
}

func TestReconcileAllWritesReport(t *testing.T) {
	ctx := context.Background()
	svc, err := settlementapp.NewService(memory.NewRepository(), nopPublisher{}, zap.NewNop(),
		settlementapp.WithClock(func() time.Time { return time.Date(2026, 3, 2, 18, 0, 0, 0, time.UTC) }),
		settlementapp.WithIDGenerator(func() string { return "batch-1" }),
	)
	if err != nil {
		t.Fatalf("service: %v", err)
	}
	if _, err := svc.AddPayment(ctx, settlementapp.AddPaymentCommand{
		TenantID:  "tenant-a",
		Provider:  "acme",
		PaymentID: "p1",
		Amount:    payments.MustMoney("100", "USD"),
		Fee:       payments.MustMoney("2", "USD"),
	}); err != nil {
		t.Fatalf("add payment: %v", err)
	}
	if _, err := svc.Close(ctx, "batch-1"); err != nil {
		t.Fatalf("close: %v", err)
	}

	results := reconcileAll(ctx, svc, []payout{
		{Line: 2, BatchID: "batch-1", Reference: "po_1", Amount: payments.MustMoney("97", "USD")},
		{Line: 3, BatchID: "batch-missing", Amount: payments.MustMoney("5", "USD")},
	})
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	first := results[0]
	if first.Err != "" {
		t.Fatalf("expected success, got %s", first.Err)
	}
	if first.Expected != "98.00 USD" || first.Discrepancy != "-1.00 USD" || first.Severity != "medium" || first.Status != "reconciled" {
		t.Fatalf("unexpected result %+v", first)
	}
	if results[1].Err == "" {
		t.Fatalf("expected error for missing batch")
	}

	var buf bytes.Buffer
	if err := writeResults(&buf, results); err != nil {
		t.Fatalf("write results: %v", err)
	}
	records, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if len(records) != 3 || records[0][0] != "batch_id" || records[1][4] != "-1.00 USD" {
		t.Fatalf("unexpected report %v", records)
	}
}
