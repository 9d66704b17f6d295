package gateway

import (
	"errors"
	"testing"
	"time"
)

func TestExponentialBackoff_DelayMonotoneAndCapped(t *testing.T) {
	cfg := BackoffConfig{MaxAttempts: 10, BaseDelay: 100 * time.Millisecond, Multiplier: 2, MaxDelay: 3 * time.Second}
	noJitter, err := NewExponentialBackoff(cfg, WithRandom(func() float64 { return 0 }))
	if err != nil {
		t.Fatalf("new backoff: %v", err)
	}
	fullJitter, err := NewExponentialBackoff(cfg, WithRandom(func() float64 { return 0.999 }))
	if err != nil {
		t.Fatalf("new backoff: %v", err)
	}

	var previous time.Duration
	for n := 1; n <= 64; n++ {
		d := noJitter.Delay(n)
		if d < previous {
			t.Fatalf("delay decreased at attempt %d: %v < %v", n, d, previous)
		}
		if d > cfg.MaxDelay {
			t.Fatalf("delay %v above max at attempt %d", d, n)
		}
		if j := fullJitter.Delay(n); j > cfg.MaxDelay {
			t.Fatalf("jittered delay %v above max at attempt %d", j, n)
		}
		previous = d
	}
	if got := noJitter.Delay(1); got != 100*time.Millisecond {
		t.Fatalf("expected 100ms, got %v", got)
	}
	if got := noJitter.Delay(3); got != 400*time.Millisecond {
		t.Fatalf("expected 400ms, got %v", got)
	}
}

func TestExponentialBackoff_JitterBounded(t *testing.T) {
	cfg := BackoffConfig{MaxAttempts: 3, BaseDelay: time.Second, Multiplier: 2, MaxDelay: time.Minute}
	b, err := NewExponentialBackoff(cfg, WithRandom(func() float64 { return 0.5 }))
	if err != nil {
		t.Fatalf("new backoff: %v", err)
	}
	if got := b.Delay(2); got != 2100*time.Millisecond {
		t.Fatalf("expected 2.1s, got %v", got)
	}
}

func TestExponentialBackoff_ShouldRetry(t *testing.T) {
	b, err := NewExponentialBackoff(BackoffConfig{MaxAttempts: 3, BaseDelay: time.Millisecond, Multiplier: 2, MaxDelay: time.Second})
	if err != nil {
		t.Fatalf("new backoff: %v", err)
	}
	transient := NetworkError("acme", "authorize", errors.New("connection reset"))
	cases := []struct {
		name    string
		attempt int
		err     error
		want    bool
	}{
		{"network first attempt", 1, transient, true},
		{"rate limited", 2, RateLimited("acme", "capture", errors.New("slow down")), true},
		{"timeout", 1, TimeoutError("acme", "refund", errors.New("deadline")), true},
		{"budget exhausted", 3, transient, false},
		{"declined", 1, Fatal(KindDeclined, "acme", "authorize", errors.New("card declined")), false},
		{"untagged timeout message", 1, errors.New("i/o timeout: connection refused"), false},
		{"fatal cannot be retryable", 1, Fatal(KindNetwork, "acme", "void", errors.New("x")), false},
	}
	for _, tc := range cases {
		if got := b.ShouldRetry(tc.attempt, tc.err); got != tc.want {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, got)
		}
	}
}

func TestNewExponentialBackoff_RejectsBadConfig(t *testing.T) {
	bad := []BackoffConfig{
		{MaxAttempts: 0, BaseDelay: time.Millisecond, Multiplier: 2, MaxDelay: time.Second},
		{MaxAttempts: 3, BaseDelay: time.Second, Multiplier: 2, MaxDelay: time.Millisecond},
		{MaxAttempts: 3, BaseDelay: time.Millisecond, Multiplier: 0.5, MaxDelay: time.Second},
	}
	for i, cfg := range bad {
		if _, err := NewExponentialBackoff(cfg); err == nil {
			t.Fatalf("case %d: expected error", i)
		}
	}
}

func TestNoRetry(t *testing.T) {
	if (NoRetry{}).ShouldRetry(1, NetworkError("acme", "authorize", errors.New("x"))) {
		t.Fatalf("expected no retry")
	}
}
