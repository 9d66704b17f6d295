package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"finsuite/internal/observability/metrics"
)

var (
	// ErrInProgress is returned while another caller holds the reservation for a key.
	ErrInProgress = errors.New("idempotency: operation in progress")
	// ErrReservationLost is returned when completing or releasing a reservation that expired or was taken over.
	ErrReservationLost = errors.New("idempotency: reservation lost")
	// ErrResultNotStored accompanies a successful result that could not be persisted.
	ErrResultNotStored = errors.New("idempotency: result not stored")
	// ErrInvalidKey is returned for empty scopes or malformed keys.
	ErrInvalidKey = errors.New("idempotency: invalid scope or key")
)

// State is the lifecycle of a stored record.
type State string

const (
	StatePending   State = "pending"
	StateCompleted State = "completed"
)

// Record is one (scope, key) entry.
type Record struct {
	Scope     string    `json:"scope"`
	Key       string    `json:"key"`
	State     State     `json:"state"`
	Result    []byte    `json:"result,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	// Token identifies the holder of a pending reservation.
	Token string `json:"token,omitempty"`
}

// Store provides the atomic check-and-set behind Execute.
type Store interface {
	// Reserve returns a completed record for replay, a fresh pending record owned by the
	// caller, or ErrInProgress when another live reservation exists.
	Reserve(ctx context.Context, scope, key string, lease time.Duration) (Record, error)
	// Complete stores the result of a reservation and keeps it until ttl elapses.
	Complete(ctx context.Context, reservation Record, result []byte, ttl time.Duration) error
	// Release drops a reservation so the key may execute again.
	Release(ctx context.Context, reservation Record) error
}

// Options tune Execute.
type Options struct {
	// TTL keeps completed results replayable.
	TTL time.Duration
	// Lease bounds how long a pending reservation blocks other callers.
	Lease time.Duration
}

// DefaultOptions keeps results for a day with a five minute lease.
func DefaultOptions() Options {
	return Options{TTL: 24 * time.Hour, Lease: 5 * time.Minute}
}

// Execute runs op at most once per (scope, key) while the record lives.
// An empty key runs op unconditionally. The boolean reports a replayed result.
// A failed op releases the reservation. When a successful result cannot be stored the
// result is returned together with ErrResultNotStored.
func Execute[T any](ctx context.Context, store Store, scope, key string, opts Options, op func(ctx context.Context) (T, error)) (T, bool, error) {
	var zero T
	if strings.TrimSpace(key) == "" {
		result, err := op(ctx)
		return result, false, err
	}
	if store == nil {
		return zero, false, errors.New("idempotency: nil store")
	}
	if strings.TrimSpace(scope) == "" {
		return zero, false, ErrInvalidKey
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultOptions().TTL
	}
	if opts.Lease <= 0 {
		opts.Lease = DefaultOptions().Lease
	}

	record, err := store.Reserve(ctx, scope, key, opts.Lease)
	if err != nil {
		return zero, false, err
	}
	if record.State == StateCompleted {
		var replayed T
		if err := json.Unmarshal(record.Result, &replayed); err != nil {
			return zero, false, fmt.Errorf("idempotency: decode stored result: %w", err)
		}
		metrics.IncIdempotentReplay(scope)
		return replayed, true, nil
	}

	result, opErr := op(ctx)
	if opErr != nil {
		if releaseErr := store.Release(context.WithoutCancel(ctx), record); releaseErr != nil {
			return zero, false, errors.Join(opErr, releaseErr)
		}
		return zero, false, opErr
	}
	payload, err := json.Marshal(result)
	if err != nil {
		_ = store.Release(context.WithoutCancel(ctx), record)
		return zero, false, fmt.Errorf("idempotency: encode result: %w", err)
	}
	if err := store.Complete(context.WithoutCancel(ctx), record, payload, opts.TTL); err != nil {
		return result, false, fmt.Errorf("%w: %w", ErrResultNotStored, err)
	}
	return result, false, nil
}

// NewToken returns a reservation token.
func NewToken() string {
	return uuid.NewString()
}
