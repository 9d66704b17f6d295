package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"finsuite/internal/observability/metrics"
)

// Invoker runs external calls under a circuit breaker and a retry policy.
type Invoker struct {
	policy   RetryPolicy
	policies map[string]RetryPolicy
	breaker  CircuitBreaker
	logger   *zap.Logger
	sleep    func(ctx context.Context, d time.Duration) error
}

// InvokerOption customizes an Invoker.
type InvokerOption func(*Invoker)

// WithDependencyPolicy overrides the retry policy for one dependency.
func WithDependencyPolicy(dependency string, policy RetryPolicy) InvokerOption {
	return func(inv *Invoker) {
		if policy != nil {
			inv.policies[dependency] = policy
		}
	}
}

// WithSleep replaces the backoff sleep. Used by tests to avoid real waits.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) InvokerOption {
	return func(inv *Invoker) {
		if fn != nil {
			inv.sleep = fn
		}
	}
}

// NewInvoker builds an invoker. Pass NoRetry and NoopBreaker explicitly to disable either concern.
func NewInvoker(policy RetryPolicy, breaker CircuitBreaker, logger *zap.Logger, opts ...InvokerOption) (*Invoker, error) {
	if policy == nil {
		return nil, errors.New("gateway: nil retry policy")
	}
	if breaker == nil {
		return nil, errors.New("gateway: nil circuit breaker")
	}
	if logger == nil {
		return nil, errors.New("gateway: nil logger")
	}
	inv := &Invoker{
		policy:   policy,
		policies: make(map[string]RetryPolicy),
		breaker:  breaker,
		logger:   logger,
		sleep:    sleepContext,
	}
	for _, opt := range opts {
		opt(inv)
	}
	return inv, nil
}

func (inv *Invoker) policyFor(dependency string) RetryPolicy {
	if policy, ok := inv.policies[dependency]; ok {
		return policy
	}
	return inv.policy
}

// Invoke calls op until it succeeds, the policy gives up, or ctx ends.
// An open circuit fails immediately without counting as an attempt.
func Invoke[T any](ctx context.Context, inv *Invoker, dependency string, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if inv == nil {
		return zero, errors.New("gateway: nil invoker")
	}
	if !inv.breaker.IsAvailable(dependency) {
		metrics.IncCircuitOpen(dependency)
		inv.logger.Warn("dependency unavailable", zap.String("dependency", dependency))
		return zero, fmt.Errorf("%w: %s", ErrCircuitOpen, dependency)
	}
	policy := inv.policyFor(dependency)
	for attempt := 1; ; attempt++ {
		result, err := op(ctx)
		if err == nil {
			inv.breaker.ReportSuccess(dependency)
			return result, nil
		}
		inv.breaker.ReportFailure(dependency)
		if !policy.ShouldRetry(attempt, err) {
			return zero, err
		}
		delay := policy.Delay(attempt)
		metrics.IncGatewayRetry(dependency)
		inv.logger.Warn("retrying dependency call",
			zap.String("dependency", dependency),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		if sleepErr := inv.sleep(ctx, delay); sleepErr != nil {
			return zero, fmt.Errorf("gateway: %s retry abandoned after attempt %d: %w (last error: %v)", dependency, attempt, sleepErr, err)
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
