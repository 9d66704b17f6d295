package gateway

import (
	"errors"
	"fmt"
)

var (
	// ErrGatewayNotFound is returned when no gateway resolves for a request.
	ErrGatewayNotFound = errors.New("gateway: gateway not found")
	// ErrCircuitOpen is returned without an attempt when a dependency is unavailable.
	ErrCircuitOpen = errors.New("gateway: circuit open")
	// ErrAuthorizationFailed is returned when a processor declines an authorization.
	ErrAuthorizationFailed = errors.New("gateway: authorization failed")
	// ErrCaptureFailed is returned when a processor refuses a capture.
	ErrCaptureFailed = errors.New("gateway: capture failed")
	// ErrRefundFailed is returned when a processor refuses a refund.
	ErrRefundFailed = errors.New("gateway: refund failed")
	// ErrVoidFailed is returned when a processor refuses a void.
	ErrVoidFailed = errors.New("gateway: void failed")
	// ErrEvidenceRejected is returned when a processor refuses dispute evidence.
	ErrEvidenceRejected = errors.New("gateway: dispute evidence rejected")
	// ErrInvalidRequest is returned for requests rejected before reaching a processor.
	ErrInvalidRequest = errors.New("gateway: invalid request")
	// ErrDuplicateProvider is returned when a provider is registered twice.
	ErrDuplicateProvider = errors.New("gateway: duplicate provider")
)

// Kind classifies a gateway failure at the point it is raised.
type Kind string

const (
	KindNetwork        Kind = "network"
	KindTimeout        Kind = "timeout"
	KindRateLimited    Kind = "rate_limited"
	KindDeclined       Kind = "declined"
	KindInvalidRequest Kind = "invalid_request"
	KindConfiguration  Kind = "configuration"
	KindUnknown        Kind = "unknown"
)

// Retryable reports whether failures of this kind are transient.
func (k Kind) Retryable() bool {
	switch k {
	case KindNetwork, KindTimeout, KindRateLimited:
		return true
	default:
		return false
	}
}

// Error is a tagged gateway failure.
type Error struct {
	Kind      Kind
	Provider  string
	Operation string
	Reference string
	Err       error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("gateway: %s %s %s", e.Provider, e.Operation, e.Kind)
	if e.Reference != "" {
		msg += " ref=" + e.Reference
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether err carries a transient tag. Untagged errors are fatal.
func Retryable(err error) bool {
	var gwErr *Error
	if errors.As(err, &gwErr) {
		return gwErr.Kind.Retryable()
	}
	return false
}

// KindOf returns the tag carried by err, or KindUnknown.
func KindOf(err error) Kind {
	var gwErr *Error
	if errors.As(err, &gwErr) && gwErr.Kind != "" {
		return gwErr.Kind
	}
	return KindUnknown
}

// NetworkError tags a transport failure.
func NetworkError(provider, operation string, err error) error {
	return &Error{Kind: KindNetwork, Provider: provider, Operation: operation, Err: err}
}

// TimeoutError tags a call that exceeded its deadline.
func TimeoutError(provider, operation string, err error) error {
	return &Error{Kind: KindTimeout, Provider: provider, Operation: operation, Err: err}
}

// RateLimited tags a throttled call.
func RateLimited(provider, operation string, err error) error {
	return &Error{Kind: KindRateLimited, Provider: provider, Operation: operation, Err: err}
}

// Fatal tags a failure that must not be retried. Retryable kinds are downgraded to KindUnknown.
func Fatal(kind Kind, provider, operation string, err error) error {
	if kind == "" || kind.Retryable() {
		kind = KindUnknown
	}
	return &Error{Kind: kind, Provider: provider, Operation: operation, Err: err}
}
