package interfaces

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"finsuite/internal/audit"
	"finsuite/internal/auth"
	"finsuite/internal/gateway"
	"finsuite/internal/idempotency"
	paymentsapp "finsuite/internal/payments/application"
	payments "finsuite/internal/payments/domain"
)

const idempotencyHeader = "Idempotency-Key"

// TransactionHandler serves payment APIs under /api/v1/payments.
type TransactionHandler struct {
	lifecycle   *paymentsapp.Lifecycle
	auditLogger audit.Logger
	logger      *zap.Logger
}

// NewTransactionHandler constructs a handler. auditLogger may be nil.
func NewTransactionHandler(lifecycle *paymentsapp.Lifecycle, auditLogger audit.Logger, logger *zap.Logger) (*TransactionHandler, error) {
	if lifecycle == nil {
		return nil, errors.New("transaction handler: nil lifecycle")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TransactionHandler{lifecycle: lifecycle, auditLogger: auditLogger, logger: logger}, nil
}

// Routes mounts the payment endpoints.
func (h *TransactionHandler) Routes(r chi.Router) {
	r.Route("/api/v1/payments/transactions", func(r chi.Router) {
		r.Post("/", h.handleCharge)
		r.Get("/{id}", h.handleGet)
		r.Post("/{id}/capture", h.handleCapture)
		r.Post("/{id}/refund", h.handleRefund)
		r.Post("/{id}/void", h.handleVoid)
		r.Post("/{id}/evidence", h.handleEvidence)
	})
}

type transactionView struct {
	ID                    string            `json:"transaction_id"`
	TenantID              string            `json:"tenant_id"`
	Direction             string            `json:"direction"`
	Provider              string            `json:"provider"`
	Status                string            `json:"status"`
	Amount                string            `json:"amount"`
	Currency              string            `json:"currency"`
	SettlementCurrency    string            `json:"settlement_currency"`
	SettlementAmount      string            `json:"settlement_amount,omitempty"`
	ProviderTransactionID string            `json:"provider_transaction_id,omitempty"`
	FailureCode           string            `json:"failure_code,omitempty"`
	FailureMessage        string            `json:"failure_message,omitempty"`
	ReversalReason        string            `json:"reversal_reason,omitempty"`
	Attempts              int               `json:"attempts"`
	Metadata              map[string]string `json:"metadata,omitempty"`
	Version               int               `json:"version"`
}

func viewOf(state payments.TransactionState) transactionView {
	v := transactionView{
		ID:                    state.ID,
		TenantID:              state.TenantID,
		Direction:             string(state.Direction),
		Provider:              state.Provider,
		Status:                string(state.Status),
		Amount:                state.OriginalAmount.Amount.StringFixed(2),
		Currency:              state.OriginalAmount.Currency,
		SettlementCurrency:    state.SettlementCurrency,
		ProviderTransactionID: state.ProviderTransactionID,
		FailureCode:           state.FailureCode,
		FailureMessage:        state.FailureMessage,
		ReversalReason:        state.ReversalReason,
		Attempts:              state.Attempts,
		Metadata:              state.Metadata,
		Version:               state.Version,
	}
	if state.SettlementAmount != nil {
		v.SettlementAmount = state.SettlementAmount.Amount.StringFixed(2)
	}
	return v
}

type chargeRequest struct {
	TransactionID       string            `json:"transaction_id"`
	Provider            string            `json:"provider"`
	Amount              string            `json:"amount"`
	Currency            string            `json:"currency"`
	PaymentMethod       string            `json:"payment_method"`
	CustomerID          string            `json:"customer_id"`
	Capture             bool              `json:"capture"`
	StatementDescriptor string            `json:"statement_descriptor"`
	Metadata            map[string]string `json:"metadata"`
}

func (h *TransactionHandler) handleCharge(w http.ResponseWriter, r *http.Request) {
	var req chargeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	amount, ok := parseMoney(w, req.Amount, req.Currency)
	if !ok {
		return
	}
	tx, err := h.lifecycle.Charge(r.Context(), paymentsapp.ChargeCommand{
		TransactionID:       req.TransactionID,
		Provider:            req.Provider,
		Amount:              amount,
		PaymentMethod:       req.PaymentMethod,
		CustomerID:          req.CustomerID,
		Capture:             req.Capture,
		StatementDescriptor: req.StatementDescriptor,
		Metadata:            req.Metadata,
		IdempotencyKey:      r.Header.Get(idempotencyHeader),
	})
	if err != nil {
		h.respondResult(w, tx, err)
		return
	}
	writeJSON(w, http.StatusCreated, viewOf(tx.State()))
	h.logAudit(r, tx.ID(), "payments.transaction.charge", map[string]any{
		"amount":  amount.String(),
		"capture": req.Capture,
		"status":  string(tx.Status()),
	})
}

func (h *TransactionHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	tx, err := h.lifecycle.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(tx.State()))
}

type amountRequest struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
	Reason   string `json:"reason"`
}

func (h *TransactionHandler) handleCapture(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	amount, ok := h.optionalAmount(w, r, id)
	if !ok {
		return
	}
	tx, err := h.lifecycle.Capture(r.Context(), id, amount.money, r.Header.Get(idempotencyHeader))
	if err != nil {
		h.respondResult(w, tx, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(tx.State()))
	h.logAudit(r, id, "payments.transaction.capture", map[string]any{"status": string(tx.Status())})
}

func (h *TransactionHandler) handleRefund(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	amount, ok := h.optionalAmount(w, r, id)
	if !ok {
		return
	}
	tx, err := h.lifecycle.Refund(r.Context(), id, amount.money, gateway.RefundReason(amount.reason), r.Header.Get(idempotencyHeader))
	if err != nil {
		h.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(tx.State()))
	meta := map[string]any{"status": string(tx.Status()), "reason": amount.reason}
	if amount.money != nil {
		meta["amount"] = amount.money.String()
	}
	h.logAudit(r, id, "payments.transaction.refund", meta)
}

func (h *TransactionHandler) handleVoid(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req amountRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
	}
	tx, err := h.lifecycle.Void(r.Context(), id, req.Reason, r.Header.Get(idempotencyHeader))
	if err != nil {
		h.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(tx.State()))
	h.logAudit(r, id, "payments.transaction.void", map[string]any{"reason": req.Reason})
}

func (h *TransactionHandler) handleEvidence(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req gateway.EvidenceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	res, err := h.lifecycle.SubmitEvidence(r.Context(), id, req)
	if err != nil {
		h.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
	h.logAudit(r, id, "payments.transaction.evidence", map[string]any{
		"dispute_id": req.DisputeID,
		"documents":  len(req.Documents),
	})
}

type decodedAmount struct {
	money  *payments.Money
	reason string
}

// optionalAmount reads {amount, currency, reason}. An empty body or amount means the full amount;
// a missing currency defaults to the transaction currency.
func (h *TransactionHandler) optionalAmount(w http.ResponseWriter, r *http.Request, id string) (decodedAmount, bool) {
	var req amountRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return decodedAmount{}, false
		}
	}
	out := decodedAmount{reason: strings.TrimSpace(req.Reason)}
	if strings.TrimSpace(req.Amount) == "" {
		return out, true
	}
	currency := req.Currency
	if currency == "" {
		tx, err := h.lifecycle.Get(r.Context(), id)
		if err != nil {
			h.respondError(w, err)
			return decodedAmount{}, false
		}
		currency = tx.OriginalAmount().Currency
	}
	money, ok := parseMoney(w, req.Amount, currency)
	if !ok {
		return decodedAmount{}, false
	}
	out.money = &money
	return out, true
}

func parseMoney(w http.ResponseWriter, amount, currency string) (payments.Money, bool) {
	value, err := decimal.NewFromString(strings.TrimSpace(amount))
	if err != nil {
		http.Error(w, "invalid amount", http.StatusBadRequest)
		return payments.Money{}, false
	}
	money, err := payments.NewMoney(value, currency)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return payments.Money{}, false
	}
	return money, true
}

func (h *TransactionHandler) logAudit(r *http.Request, transactionID, action string, meta map[string]any) {
	if h.auditLogger == nil {
		return
	}
	tenantID := auth.TenantIDFromContext(r.Context())
	if tenantID == "" {
		return
	}
	entry := audit.FromRequest(r, "payment_transaction", transactionID, action, meta)
	entry.TenantID = tenantID
	entry.Actor = auth.SubjectFromContext(r.Context())
	entry.Role = string(auth.RoleFromContext(r.Context()))
	err := h.auditLogger.Log(r.Context(), entry)
	if err != nil {
		h.logger.Warn("audit log failed", zap.String("transaction_id", transactionID), zap.String("action", action), zap.Error(err))
	}
}

// respondResult answers a failed gateway operation. A declined transaction is still
// returned to the caller with 402 so the failure details travel with it.
func (h *TransactionHandler) respondResult(w http.ResponseWriter, tx *payments.Transaction, err error) {
	if tx != nil && gateway.KindOf(err) == gateway.KindDeclined {
		writeJSON(w, http.StatusPaymentRequired, viewOf(tx.State()))
		return
	}
	h.respondError(w, err)
}

func (h *TransactionHandler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, auth.ErrTenantMismatch):
		http.Error(w, "forbidden", http.StatusForbidden)
	case errors.Is(err, payments.ErrTransactionNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, payments.ErrInvalidStatusTransition),
		errors.Is(err, payments.ErrTerminalState),
		errors.Is(err, payments.ErrConcurrentUpdate),
		errors.Is(err, idempotency.ErrInProgress):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, gateway.ErrCircuitOpen):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	case errors.Is(err, gateway.ErrInvalidRequest),
		errors.Is(err, gateway.ErrGatewayNotFound),
		errors.Is(err, idempotency.ErrInvalidKey),
		errors.Is(err, payments.ErrEmptyID),
		errors.Is(err, payments.ErrEmptyTenantID),
		errors.Is(err, payments.ErrInvalidAmount),
		errors.Is(err, payments.ErrInvalidCurrency),
		errors.Is(err, payments.ErrCurrencyMismatch):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		switch gateway.KindOf(err) {
		case gateway.KindDeclined:
			http.Error(w, err.Error(), http.StatusPaymentRequired)
		case gateway.KindRateLimited:
			http.Error(w, err.Error(), http.StatusTooManyRequests)
		case gateway.KindTimeout:
			http.Error(w, err.Error(), http.StatusGatewayTimeout)
		case gateway.KindNetwork:
			http.Error(w, err.Error(), http.StatusBadGateway)
		default:
			h.logger.Error("payment request failed", zap.Error(err))
			http.Error(w, "internal error", http.StatusInternalServerError)
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
