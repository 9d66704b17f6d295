package gateway

import (
	"errors"
	"math"
	"math/rand/v2"
	"time"
)

// RetryPolicy decides whether and how long to wait before another attempt.
type RetryPolicy interface {
	ShouldRetry(attempt int, err error) bool
	Delay(attempt int) time.Duration
}

// BackoffConfig configures ExponentialBackoff.
type BackoffConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
	MaxDelay    time.Duration
}

// DefaultBackoffConfig returns the policy used when a provider has no override.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		MaxAttempts: 3,
		BaseDelay:   200 * time.Millisecond,
		Multiplier:  2,
		MaxDelay:    5 * time.Second,
	}
}

// ExponentialBackoff retries tagged transient errors with capped exponential delay plus jitter.
type ExponentialBackoff struct {
	cfg    BackoffConfig
	random func() float64
}

// BackoffOption customizes ExponentialBackoff.
type BackoffOption func(*ExponentialBackoff)

// WithRandom overrides the jitter source. fn must return values in [0, 1).
func WithRandom(fn func() float64) BackoffOption {
	return func(b *ExponentialBackoff) {
		if fn != nil {
			b.random = fn
		}
	}
}

// NewExponentialBackoff validates cfg and builds the policy.
func NewExponentialBackoff(cfg BackoffConfig, opts ...BackoffOption) (*ExponentialBackoff, error) {
	if cfg.MaxAttempts < 1 {
		return nil, errors.New("gateway: max attempts must be at least 1")
	}
	if cfg.BaseDelay < 0 || cfg.MaxDelay < 0 {
		return nil, errors.New("gateway: delays must not be negative")
	}
	if cfg.Multiplier < 1 {
		return nil, errors.New("gateway: multiplier must be at least 1")
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		return nil, errors.New("gateway: max delay below base delay")
	}
	b := &ExponentialBackoff{cfg: cfg, random: rand.Float64}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// MaxAttempts returns the configured attempt budget.
func (b *ExponentialBackoff) MaxAttempts() int { return b.cfg.MaxAttempts }

// ShouldRetry is true for tagged transient errors while attempts remain.
func (b *ExponentialBackoff) ShouldRetry(attempt int, err error) bool {
	if attempt >= b.cfg.MaxAttempts {
		return false
	}
	return Retryable(err)
}

// Delay returns min(maxDelay, base*multiplier^(attempt-1) + jitter).
func (b *ExponentialBackoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	raw := float64(b.cfg.BaseDelay) * math.Pow(b.cfg.Multiplier, float64(attempt-1))
	maxDelay := float64(b.cfg.MaxDelay)
	if raw >= maxDelay || math.IsInf(raw, 0) {
		return b.cfg.MaxDelay
	}
	delay := raw + b.random()*0.1*raw
	if delay > maxDelay {
		return b.cfg.MaxDelay
	}
	return time.Duration(delay)
}

// NoRetry gives every operation exactly one attempt.
type NoRetry struct{}

func (NoRetry) ShouldRetry(int, error) bool { return false }

func (NoRetry) Delay(int) time.Duration { return 0 }
