package idempotency

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type chargeResult struct {
	ChargeID string `json:"charge_id"`
	Amount   int64  `json:"amount"`
}

func TestExecute_RunsOnceForSameKey(t *testing.T) {
	store := NewMemoryStore()
	calls := 0
	op := func(ctx context.Context) (chargeResult, error) {
		calls++
		return chargeResult{ChargeID: "ch_1", Amount: int64(100 * calls)}, nil
	}

	first, replayed, err := Execute(context.Background(), store, "acme", "key-1", DefaultOptions(), op)
	if err != nil || replayed {
		t.Fatalf("first execute: replayed=%v err=%v", replayed, err)
	}
	second, replayed, err := Execute(context.Background(), store, "acme", "key-1", DefaultOptions(), op)
	if err != nil {
		t.Fatalf("second execute: %v", err)
	}
	if !replayed {
		t.Fatalf("expected replayed result")
	}
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
	if first != second {
		t.Fatalf("expected equal results, got %+v and %+v", first, second)
	}
}

func TestExecute_EmptyKeyAlwaysRuns(t *testing.T) {
	calls := 0
	op := func(ctx context.Context) (int, error) {
		calls++
		return calls, nil
	}
	for i := 0; i < 2; i++ {
		if _, _, err := Execute(context.Background(), nil, "acme", "", DefaultOptions(), op); err != nil {
			t.Fatalf("execute: %v", err)
		}
	}
	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
}

func TestExecute_ScopesAreIndependent(t *testing.T) {
	store := NewMemoryStore()
	calls := 0
	op := func(ctx context.Context) (int, error) {
		calls++
		return calls, nil
	}
	_, _, _ = Execute(context.Background(), store, "acme", "key-1", DefaultOptions(), op)
	_, _, _ = Execute(context.Background(), store, "globex", "key-1", DefaultOptions(), op)
	if calls != 2 {
		t.Fatalf("expected 2 calls across scopes, got %d", calls)
	}
}

func TestExecute_FailureReleasesReservation(t *testing.T) {
	store := NewMemoryStore()
	errBoom := errors.New("boom")
	calls := 0
	op := func(ctx context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", errBoom
		}
		return "ok", nil
	}
	if _, _, err := Execute(context.Background(), store, "acme", "key-1", DefaultOptions(), op); !errors.Is(err, errBoom) {
		t.Fatalf("expected boom, got %v", err)
	}
	got, replayed, err := Execute(context.Background(), store, "acme", "key-1", DefaultOptions(), op)
	if err != nil || replayed || got != "ok" {
		t.Fatalf("expected fresh execution, got %q replayed=%v err=%v", got, replayed, err)
	}
}

func TestExecute_ExpiredRecordRunsFresh(t *testing.T) {
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	store := NewMemoryStore(WithClock(func() time.Time { return now }))
	calls := 0
	op := func(ctx context.Context) (int, error) {
		calls++
		return calls, nil
	}
	opts := Options{TTL: time.Hour, Lease: time.Minute}
	_, _, _ = Execute(context.Background(), store, "acme", "key-1", opts, op)
	now = now.Add(2 * time.Hour)
	got, replayed, err := Execute(context.Background(), store, "acme", "key-1", opts, op)
	if err != nil || replayed || got != 2 {
		t.Fatalf("expected fresh execution after ttl, got %d replayed=%v err=%v", got, replayed, err)
	}
	if removed := store.Purge(); removed != 0 {
		t.Fatalf("expected live record to survive purge, removed %d", removed)
	}
}

func TestExecute_ConcurrentCallersShareOneSideEffect(t *testing.T) {
	store := NewMemoryStore()
	var calls int32
	release := make(chan struct{})
	op := func(ctx context.Context) (int32, error) {
		<-release
		return atomic.AddInt32(&calls, 1), nil
	}

	const callers = 8
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := Execute(context.Background(), store, "acme", "key-1", DefaultOptions(), op)
			errs <- err
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()
	close(errs)

	succeeded := 0
	for err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, ErrInProgress):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected 1 side effect, got %d", got)
	}
	if succeeded < 1 {
		t.Fatalf("expected at least one success")
	}
}

func TestMemoryStore_StaleTokenCannotComplete(t *testing.T) {
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	store := NewMemoryStore(WithClock(func() time.Time { return now }))
	first, err := store.Reserve(context.Background(), "acme", "key-1", time.Minute)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	now = now.Add(2 * time.Minute)
	if _, err := store.Reserve(context.Background(), "acme", "key-1", time.Minute); err != nil {
		t.Fatalf("takeover reserve: %v", err)
	}
	if err := store.Complete(context.Background(), first, []byte(`1`), time.Hour); !errors.Is(err, ErrReservationLost) {
		t.Fatalf("expected reservation lost, got %v", err)
	}
}
