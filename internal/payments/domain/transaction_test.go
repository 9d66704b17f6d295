package payments

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

var testNow = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func newTestTransaction(t *testing.T) *Transaction {
	t.Helper()
	tx, err := NewTransaction(NewTransactionParams{
		ID:        "tx-1",
		TenantID:  "tenant-a",
		Direction: DirectionInbound,
		Provider:  "acme",
		Amount:    MustMoney("100.00", "usd"),
		CreatedAt: testNow,
	})
	if err != nil {
		t.Fatalf("new transaction: %v", err)
	}
	return tx
}

// driveTo walks a fresh transaction to the requested status through allowed transitions.
func driveTo(t *testing.T, status TransactionStatus) *Transaction {
	t.Helper()
	tx := newTestTransaction(t)
	steps := map[TransactionStatus][]func() error{
		TransactionPending:    nil,
		TransactionProcessing: {func() error { return tx.MarkProcessing(testNow) }},
		TransactionCompleted: {
			func() error { return tx.MarkProcessing(testNow) },
			func() error { return tx.MarkCompleted(MustMoney("100", "USD"), testNow) },
		},
		TransactionFailed: {
			func() error { return tx.MarkProcessing(testNow) },
			func() error { return tx.MarkFailed("card_declined", "declined", testNow) },
		},
		TransactionCancelled: {func() error { return tx.Cancel(testNow) }},
		TransactionReversed: {
			func() error { return tx.MarkProcessing(testNow) },
			func() error { return tx.MarkCompleted(MustMoney("100", "USD"), testNow) },
			func() error { return tx.Reverse("chargeback", testNow) },
		},
	}
	for _, step := range steps[status] {
		if err := step(); err != nil {
			t.Fatalf("drive to %s: %v", status, err)
		}
	}
	if tx.Status() != status {
		t.Fatalf("expected %s, got %s", status, tx.Status())
	}
	return tx
}

func attempt(tx *Transaction, to TransactionStatus) error {
	switch to {
	case TransactionProcessing:
		return tx.MarkProcessing(testNow)
	case TransactionCompleted:
		return tx.MarkCompleted(MustMoney("100", "USD"), testNow)
	case TransactionFailed:
		return tx.MarkFailed("code", "message", testNow)
	case TransactionCancelled:
		return tx.Cancel(testNow)
	case TransactionReversed:
		return tx.Reverse("reason", testNow)
	}
	return nil
}

func TestTransactionRejectedTransitionsLeaveStateUnchanged(t *testing.T) {
	statuses := []TransactionStatus{
		TransactionPending, TransactionProcessing, TransactionCompleted,
		TransactionFailed, TransactionCancelled, TransactionReversed,
	}
	targets := []TransactionStatus{
		TransactionProcessing, TransactionCompleted, TransactionFailed,
		TransactionCancelled, TransactionReversed,
	}
	for _, from := range statuses {
		for _, to := range targets {
			if from.CanTransition(to) {
				continue
			}
			tx := driveTo(t, from)
			before := tx.State()
			err := attempt(tx, to)
			if !errors.Is(err, ErrInvalidStatusTransition) {
				t.Fatalf("%s -> %s: expected invalid transition, got %v", from, to, err)
			}
			var transitionErr *InvalidStatusTransitionError
			if !errors.As(err, &transitionErr) || transitionErr.From != string(from) || transitionErr.To != string(to) {
				t.Fatalf("%s -> %s: expected both states in error, got %v", from, to, err)
			}
			if !reflect.DeepEqual(before, tx.State()) {
				t.Fatalf("%s -> %s: state mutated on rejection", from, to)
			}
		}
	}
}

func TestTransactionTerminalStatesRejectEverything(t *testing.T) {
	for _, status := range []TransactionStatus{TransactionFailed, TransactionCancelled, TransactionReversed} {
		if !status.IsTerminal() {
			t.Fatalf("expected %s to be terminal", status)
		}
		tx := driveTo(t, status)
		if err := tx.SetProviderTransactionID("ch_1"); !errors.Is(err, ErrTerminalState) {
			t.Fatalf("expected terminal state error, got %v", err)
		}
	}
}

func TestTransactionMarkProcessingCountsAttempts(t *testing.T) {
	tx := newTestTransaction(t)
	if err := tx.MarkProcessing(testNow); err != nil {
		t.Fatalf("mark processing: %v", err)
	}
	state := tx.State()
	if state.Attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", state.Attempts)
	}
	if !state.ProcessedAt.Equal(testNow) {
		t.Fatalf("expected processed at %v, got %v", testNow, state.ProcessedAt)
	}
}

func TestTransactionMarkFailedRequiresDetails(t *testing.T) {
	tx := driveTo(t, TransactionProcessing)
	before := tx.State()
	if err := tx.MarkFailed("", "message", testNow); !errors.Is(err, ErrFailureDetailsRequired) {
		t.Fatalf("expected failure details error, got %v", err)
	}
	if !reflect.DeepEqual(before, tx.State()) {
		t.Fatalf("state mutated on rejection")
	}
}

func TestTransactionMarkCompletedRequiresSettledAmount(t *testing.T) {
	tx := driveTo(t, TransactionProcessing)
	if err := tx.MarkCompleted(Zero("USD"), testNow); !errors.Is(err, ErrSettledAmountRequired) {
		t.Fatalf("expected settled amount error, got %v", err)
	}
	if tx.Status() != TransactionProcessing {
		t.Fatalf("expected processing, got %s", tx.Status())
	}
}

func TestTransactionCrossCurrencyNeedsMatchingRate(t *testing.T) {
	tx, err := NewTransaction(NewTransactionParams{
		ID:                 "tx-fx",
		TenantID:           "tenant-a",
		Direction:          DirectionInbound,
		Amount:             MustMoney("100", "USD"),
		SettlementCurrency: "EUR",
		CreatedAt:          testNow,
	})
	if err != nil {
		t.Fatalf("new transaction: %v", err)
	}
	if err := tx.MarkProcessing(testNow); err != nil {
		t.Fatalf("mark processing: %v", err)
	}
	if err := tx.MarkCompleted(MustMoney("92", "EUR"), testNow); !errors.Is(err, ErrExchangeRateMismatch) {
		t.Fatalf("expected exchange rate error without snapshot, got %v", err)
	}

	wrong := ExchangeRateSnapshot{Source: "USD", Target: "GBP", Rate: decimal.RequireFromString("0.8"), CapturedAt: testNow}
	if err := tx.SetExchangeRate(wrong); !errors.Is(err, ErrExchangeRateMismatch) {
		t.Fatalf("expected exchange rate error for wrong target, got %v", err)
	}
	if tx.State().ExchangeRate != nil {
		t.Fatalf("rejected snapshot was stored")
	}

	rate := ExchangeRateSnapshot{Source: "usd", Target: "eur", Rate: decimal.RequireFromString("0.92"), CapturedAt: testNow}
	if err := tx.SetExchangeRate(rate); err != nil {
		t.Fatalf("set exchange rate: %v", err)
	}
	if err := tx.MarkCompleted(MustMoney("92", "USD"), testNow); !errors.Is(err, ErrCurrencyMismatch) {
		t.Fatalf("expected currency mismatch for settled amount, got %v", err)
	}
	settled, err := tx.State().ExchangeRate.Convert(tx.OriginalAmount())
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if err := tx.MarkCompleted(settled, testNow); err != nil {
		t.Fatalf("mark completed: %v", err)
	}
	if got := tx.State().SettlementAmount; got == nil || !got.Equal(MustMoney("92", "EUR")) {
		t.Fatalf("expected 92.00 EUR, got %v", got)
	}
}

func TestTransactionStateIsDetached(t *testing.T) {
	tx := newTestTransaction(t)
	if err := tx.SetMetadata("order", "o-1"); err != nil {
		t.Fatalf("set metadata: %v", err)
	}
	state := tx.State()
	state.Metadata["order"] = "changed"
	if tx.State().Metadata["order"] != "o-1" {
		t.Fatalf("expected metadata to be copied")
	}
}

func TestNewTransactionValidates(t *testing.T) {
	_, err := NewTransaction(NewTransactionParams{ID: "tx", TenantID: "t", Direction: DirectionInbound, Amount: MustMoney("0", "USD")})
	if !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected invalid amount, got %v", err)
	}
	_, err = NewTransaction(NewTransactionParams{ID: "tx", TenantID: "t", Direction: "sideways", Amount: MustMoney("1", "USD")})
	if !errors.Is(err, ErrInvalidDirection) {
		t.Fatalf("expected invalid direction, got %v", err)
	}
	_, err = NewTransaction(NewTransactionParams{ID: "tx", TenantID: "t", Direction: DirectionInbound, Amount: Money{Amount: decimal.NewFromInt(1), Currency: "US"}})
	if !errors.Is(err, ErrInvalidCurrency) {
		t.Fatalf("expected invalid currency, got %v", err)
	}
}
