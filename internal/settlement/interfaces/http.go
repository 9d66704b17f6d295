package interfaces

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"finsuite/internal/audit"
	"finsuite/internal/auth"
	"finsuite/internal/observability/metrics"
	payments "finsuite/internal/payments/domain"
	settlementapp "finsuite/internal/settlement/application"
	settlement "finsuite/internal/settlement/domain"
)

// BatchHandler serves settlement batch APIs under /api/v1/settlement/batches.
type BatchHandler struct {
	service     *settlementapp.Service
	auditLogger audit.Logger
	logger      *zap.Logger
}

// NewBatchHandler constructs a handler. auditLogger may be nil.
func NewBatchHandler(service *settlementapp.Service, auditLogger audit.Logger, logger *zap.Logger) (*BatchHandler, error) {
	if service == nil {
		return nil, errors.New("batch handler: nil service")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BatchHandler{service: service, auditLogger: auditLogger, logger: logger}, nil
}

// Routes mounts the batch endpoints.
func (h *BatchHandler) Routes(r chi.Router) {
	r.Route("/api/v1/settlement/batches", func(r chi.Router) {
		r.Get("/", h.handleList)
		r.Get("/{id}", h.handleGet)
		r.Post("/{id}/close", h.handleClose)
		r.Post("/{id}/expected", h.handleExpected)
		r.Post("/{id}/reconcile", h.handleReconcile)
		r.Post("/{id}/dispute", h.handleDispute)
		r.Get("/{id}/export.pdf", h.handleExport(formatPDF))
		r.Get("/{id}/export.xlsx", h.handleExport(formatXLSX))
	})
}

type batchView struct {
	ID                 string   `json:"batch_id"`
	TenantID           string   `json:"tenant_id"`
	Provider           string   `json:"provider"`
	Currency           string   `json:"currency"`
	Status             string   `json:"status"`
	PaymentIDs         []string `json:"payment_ids"`
	Gross              string   `json:"gross"`
	Fee                string   `json:"fee"`
	Net                string   `json:"net"`
	ExpectedSettlement string   `json:"expected_settlement,omitempty"`
	ActualSettlement   string   `json:"actual_settlement,omitempty"`
	Discrepancy        string   `json:"discrepancy,omitempty"`
	Severity           string   `json:"severity,omitempty"`
	ExternalReference  string   `json:"external_reference,omitempty"`
	DisputeReason      string   `json:"dispute_reason,omitempty"`
	Version            int      `json:"version"`
}

func viewOf(state settlement.BatchState) batchView {
	v := batchView{
		ID:                state.ID,
		TenantID:          state.TenantID,
		Provider:          state.Provider,
		Currency:          state.Currency,
		Status:            string(state.Status),
		PaymentIDs:        state.PaymentIDs,
		Gross:             state.Gross.StringFixed(2),
		Fee:               state.Fee.StringFixed(2),
		Net:               state.Net.StringFixed(2),
		ExternalReference: state.ExternalReference,
		DisputeReason:     state.DisputeReason,
		Version:           state.Version,
	}
	if v.PaymentIDs == nil {
		v.PaymentIDs = []string{}
	}
	if state.ExpectedSettlement != nil {
		v.ExpectedSettlement = state.ExpectedSettlement.StringFixed(2)
	}
	if state.ActualSettlement != nil {
		v.ActualSettlement = state.ActualSettlement.StringFixed(2)
	}
	if state.ExpectedSettlement != nil && state.ActualSettlement != nil {
		diff := state.ActualSettlement.Sub(*state.ExpectedSettlement)
		v.Discrepancy = diff.StringFixed(2)
		v.Severity = string(settlement.ClassifyDiscrepancy(*state.ExpectedSettlement, diff))
	}
	return v
}

func (h *BatchHandler) handleList(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.List(r.Context(), r.URL.Query().Get("tenant_id"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	views := make([]batchView, 0, len(list))
	for _, state := range list {
		views = append(views, viewOf(state))
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *BatchHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	batch, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(batch.State()))
}

func (h *BatchHandler) handleClose(w http.ResponseWriter, r *http.Request) {
	batch, err := h.service.Close(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(batch.State()))
	h.logAudit(r, batch.ID(), "settlement.batch.close", map[string]any{"net": batch.Net().String()})
}

type amountRequest struct {
	Amount    string `json:"amount"`
	Currency  string `json:"currency"`
	Reference string `json:"reference"`
}

func (h *BatchHandler) handleExpected(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	amount, ok := h.decodeAmount(w, r, id)
	if !ok {
		return
	}
	batch, err := h.service.SetExpected(r.Context(), id, amount.money)
	if err != nil {
		h.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(batch.State()))
	h.logAudit(r, batch.ID(), "settlement.batch.set_expected", map[string]any{"expected": amount.money.String()})
}

func (h *BatchHandler) handleReconcile(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	amount, ok := h.decodeAmount(w, r, id)
	if !ok {
		return
	}
	batch, err := h.service.Reconcile(r.Context(), settlementapp.ReconcileCommand{
		BatchID:   id,
		Actual:    amount.money,
		Reference: amount.reference,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	view := viewOf(batch.State())
	writeJSON(w, http.StatusOK, view)
	h.logAudit(r, batch.ID(), "settlement.batch.reconcile", map[string]any{
		"actual":      amount.money.String(),
		"reference":   amount.reference,
		"discrepancy": view.Discrepancy,
		"severity":    view.Severity,
	})
}

func (h *BatchHandler) handleDispute(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	batch, err := h.service.Dispute(r.Context(), chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		h.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(batch.State()))
	h.logAudit(r, batch.ID(), "settlement.batch.dispute", map[string]any{"reason": req.Reason})
}

func (h *BatchHandler) handleExport(format string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		result := metrics.ResultSuccess
		defer func() {
			metrics.ObserveBatchExport(format, result, time.Since(start))
		}()

		batch, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			result = metrics.ResultError
			h.respondError(w, err)
			return
		}
		var (
			data        []byte
			contentType string
		)
		switch format {
		case formatPDF:
			data, err = BuildBatchPDF(batch)
			contentType = "application/pdf"
		default:
			data, err = BuildBatchXLSX(batch)
			contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
		}
		if err != nil {
			result = metrics.ResultError
			h.logger.Error("batch export failed", zap.String("batch_id", batch.ID()), zap.String("format", format), zap.Error(err))
			http.Error(w, "export "+format+" error", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", contentType)
		w.Header().Set("Content-Disposition", `attachment; filename="`+batch.ID()+"."+format+`"`)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
		h.logAudit(r, batch.ID(), "settlement.batch.export", map[string]any{"format": format})
	}
}

type decodedAmount struct {
	money     payments.Money
	reference string
}

// decodeAmount reads {amount, currency, reference}; a missing currency defaults to the batch currency.
func (h *BatchHandler) decodeAmount(w http.ResponseWriter, r *http.Request, batchID string) (decodedAmount, bool) {
	var req amountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return decodedAmount{}, false
	}
	value, err := decimal.NewFromString(strings.TrimSpace(req.Amount))
	if err != nil {
		http.Error(w, "invalid amount", http.StatusBadRequest)
		return decodedAmount{}, false
	}
	currency := req.Currency
	if currency == "" {
		batch, err := h.service.Get(r.Context(), batchID)
		if err != nil {
			h.respondError(w, err)
			return decodedAmount{}, false
		}
		currency = batch.Currency()
	}
	money, err := payments.NewMoney(value, currency)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return decodedAmount{}, false
	}
	return decodedAmount{money: money, reference: req.Reference}, true
}

func (h *BatchHandler) logAudit(r *http.Request, batchID, action string, meta map[string]any) {
	if h.auditLogger == nil {
		return
	}
	tenantID := auth.TenantIDFromContext(r.Context())
	if tenantID == "" {
		return
	}
	entry := audit.FromRequest(r, "settlement_batch", batchID, action, meta)
	entry.TenantID = tenantID
	entry.Actor = auth.SubjectFromContext(r.Context())
	entry.Role = string(auth.RoleFromContext(r.Context()))
	err := h.auditLogger.Log(r.Context(), entry)
	if err != nil {
		h.logger.Warn("audit log failed", zap.String("batch_id", batchID), zap.String("action", action), zap.Error(err))
	}
}

func (h *BatchHandler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, auth.ErrTenantMismatch):
		http.Error(w, "forbidden", http.StatusForbidden)
	case errors.Is(err, settlement.ErrBatchNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, settlement.ErrInvalidBatchTransition),
		errors.Is(err, settlement.ErrBatchNotOpen),
		errors.Is(err, settlement.ErrBatchReconciled),
		errors.Is(err, settlement.ErrConcurrentUpdate):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, settlement.ErrCurrencyMismatch),
		errors.Is(err, settlement.ErrReasonRequired),
		errors.Is(err, settlement.ErrNegativeValue),
		errors.Is(err, settlement.ErrEmptyBatchID),
		errors.Is(err, settlement.ErrEmptyTenantID):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		h.logger.Error("settlement request failed", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
