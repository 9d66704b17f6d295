package webhooks

import "errors"

var (
	// ErrUnknownProvider is returned for provider names that were never registered.
	ErrUnknownProvider = errors.New("webhooks: unknown provider")
	// ErrHandlerNotFound is returned when a known provider has no handler.
	ErrHandlerNotFound = errors.New("webhooks: handler not found")
	// ErrWebhookVerificationFailed is returned when the signature does not match.
	ErrWebhookVerificationFailed = errors.New("webhooks: verification failed")
	// ErrInvalidPayload is returned when a verified payload cannot be parsed.
	ErrInvalidPayload = errors.New("webhooks: invalid payload")
	// ErrDuplicateProvider is returned when a provider or handler is registered twice.
	ErrDuplicateProvider = errors.New("webhooks: duplicate registration")
)
