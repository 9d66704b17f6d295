package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"finsuite/internal/webhooks"
)

const maxBodyBytes = 1 << 20

// Handler exposes POST /webhooks/{provider}.
type Handler struct {
	processor *webhooks.Processor
	logger    *zap.Logger
}

// NewHandler constructs a handler.
func NewHandler(processor *webhooks.Processor, logger *zap.Logger) (*Handler, error) {
	if processor == nil {
		return nil, errors.New("webhooks handler: nil processor")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{processor: processor, logger: logger}, nil
}

// Routes mounts the intake endpoint.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/webhooks/{provider}", h.handleDelivery)
}

func (h *Handler) handleDelivery(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		http.Error(w, "cannot read request body", http.StatusBadRequest)
		return
	}
	if len(body) > maxBodyBytes {
		http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)
		return
	}

	payload, err := h.processor.Process(r.Context(), provider, body, r.Header)
	if err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			h.logger.Error("webhook delivery failed", zap.String("provider", provider), zap.Error(err))
			http.Error(w, "processing failed", status)
			return
		}
		http.Error(w, err.Error(), status)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{
		"provider":   payload.Provider,
		"event_id":   payload.EventID,
		"event_type": string(payload.EventType),
	})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, webhooks.ErrUnknownProvider), errors.Is(err, webhooks.ErrHandlerNotFound):
		return http.StatusNotFound
	case errors.Is(err, webhooks.ErrWebhookVerificationFailed):
		return http.StatusUnauthorized
	case errors.Is(err, webhooks.ErrInvalidPayload):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
