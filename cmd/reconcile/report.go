package main

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/shopspring/decimal"

	payments "finsuite/internal/payments/domain"
	settlementapp "finsuite/internal/settlement/application"
	settlement "finsuite/internal/settlement/domain"
)

type payout struct {
	Line      int
	BatchID   string
	Reference string
	Amount    payments.Money
}

type reconciler interface {
	Reconcile(ctx context.Context, cmd settlementapp.ReconcileCommand) (*settlement.Batch, error)
}

type result struct {
	BatchID     string
	Reference   string
	Expected    string
	Actual      string
	Discrepancy string
	Severity    string
	Status      string
	Err         string
}

func loadPayouts(path string) ([]payout, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return readPayouts(file)
}

// readPayouts expects a header row naming batch_id, amount and currency;
// reference is optional.
func readPayouts(r io.Reader) ([]payout, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	records, err := reader.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) < 1 {
		return nil, errors.New("payout csv: empty")
	}
	header := make(map[string]int)
	for i, name := range records[0] {
		header[strings.ToLower(strings.TrimSpace(name))] = i
	}
	batchIdx := findHeader(header, "batch_id", "batch")
	amountIdx := findHeader(header, "amount", "net_amount", "payout_amount")
	currencyIdx := findHeader(header, "currency")
	refIdx := findHeader(header, "reference", "payout_id", "id")
	if batchIdx < 0 || amountIdx < 0 || currencyIdx < 0 {
		return nil, errors.New("payout csv requires headers: batch_id, amount, currency")
	}

	var out []payout
	for i, row := range records[1:] {
		line := i + 2
		if batchIdx >= len(row) || amountIdx >= len(row) || currencyIdx >= len(row) {
			return nil, fmt.Errorf("payout csv line %d: missing columns", line)
		}
		amount, err := decimal.NewFromString(strings.TrimSpace(row[amountIdx]))
		if err != nil {
			return nil, fmt.Errorf("payout csv line %d: amount: %w", line, err)
		}
		money, err := payments.NewMoney(amount, strings.TrimSpace(row[currencyIdx]))
		if err != nil {
			return nil, fmt.Errorf("payout csv line %d: %w", line, err)
		}
		p := payout{Line: line, BatchID: strings.TrimSpace(row[batchIdx]), Amount: money}
		if refIdx >= 0 && refIdx < len(row) {
			p.Reference = strings.TrimSpace(row[refIdx])
		}
		if p.BatchID == "" {
			return nil, fmt.Errorf("payout csv line %d: empty batch_id", line)
		}
		out = append(out, p)
	}
	return out, nil
}

// reconcileAll applies every payout and keeps going past individual failures.
func reconcileAll(ctx context.Context, svc reconciler, payouts []payout) []result {
	out := make([]result, 0, len(payouts))
	for _, p := range payouts {
		r := result{BatchID: p.BatchID, Reference: p.Reference, Actual: p.Amount.String()}
		batch, err := svc.Reconcile(ctx, settlementapp.ReconcileCommand{
			BatchID:   p.BatchID,
			Actual:    p.Amount,
			Reference: p.Reference,
		})
		if err != nil {
			r.Err = err.Error()
			out = append(out, r)
			continue
		}
		if expected, ok := batch.ExpectedSettlement(); ok {
			r.Expected = expected.String()
		}
		if diff, ok := batch.Discrepancy(); ok {
			r.Discrepancy = diff.String()
		}
		r.Severity = string(batch.Severity())
		r.Status = string(batch.Status())
		out = append(out, r)
	}
	return out
}

func writeReport(path string, results []result) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()
	return writeResults(file, results)
}

func writeResults(w io.Writer, results []result) error {
	writer := csv.NewWriter(w)
	if err := writer.Write([]string{
		"batch_id",
		"reference",
		"expected",
		"actual",
		"discrepancy",
		"severity",
		"status",
		"error",
	}); err != nil {
		return err
	}
	for _, r := range results {
		if err := writer.Write([]string{
			r.BatchID,
			r.Reference,
			r.Expected,
			r.Actual,
			r.Discrepancy,
			r.Severity,
			r.Status,
			r.Err,
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func findHeader(headers map[string]int, names ...string) int {
	for _, name := range names {
		if idx, ok := headers[strings.ToLower(name)]; ok {
			return idx
		}
	}
	return -1
}
