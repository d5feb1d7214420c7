/*
handlers.go - HTTP API handlers for the household ledger

PURPOSE:
  Exposes the advance plan engine via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to advance.Engine.

ENDPOINTS:
  Advances:
    GET    /api/advances                        List advances
    POST   /api/advances                        Create or update an advance
    DELETE /api/advances                        Delete advances {"advances": [ids]}
    GET    /api/advances/periodicities          Supported periodicities
    GET    /api/advances/{id}                   Advance with its payment plan
    GET    /api/advances/{id}/payments          Payment plan
    GET    /api/advances/{id}/events            Plan event log
    POST   /api/advances/{id}/recalculate-pending  Pro-rata over pending payments
    POST   /api/advances/recalculate-payment-plan  Rebuild the plan from terms

  Payments:
    POST   /api/advances/payments               Create or update a payment
    POST   /api/advances/payments/{id}/status   Mark pending or paid
    DELETE /api/advances/payments/{id}          Delete (?redistribute=false to skip pro-rata)

  Scenarios:
    GET    /api/scenarios                       List demo scenarios
    GET    /api/scenarios/current               Currently loaded scenario
    POST   /api/scenarios/load                  Load a demo scenario
    POST   /api/scenarios/reset                 Clear all data

ARCHITECTURE:
  Handler struct holds all dependencies:
  - Engine: Atomic plan operations

REQUEST FLOW:
  1. Parse HTTP request
  2. Validate input (go-playground/validator)
  3. Call advance.Engine
  4. Serialize response
  5. Handle errors

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Advance or payment not found
  - 409: Plan cannot be reconciled, advance busy
  - 500: Internal errors

SECURITY NOTE:
  Currently NO authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/warp/household-ledger/advance"
	"github.com/warp/household-ledger/logging"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	Engine *advance.Engine

	validate *validator.Validate

	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a new handler.
func NewHandler(engine *advance.Engine) *Handler {
	return &Handler{
		Engine:   engine,
		validate: newValidator(),
	}
}

// =============================================================================
// ADVANCES
// =============================================================================

// ListAdvances returns all advances by start date.
func (h *Handler) ListAdvances(w http.ResponseWriter, r *http.Request) {
	advances, err := h.Engine.ListAdvances(r.Context())
	if err != nil {
		h.writeEngineError(w, r, "Failed to list advances", err)
		return
	}

	dtos := make([]AdvanceDTO, 0, len(advances))
	for _, a := range advances {
		dtos = append(dtos, toAdvanceDTO(a))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetAdvance returns one advance together with its payment plan.
func (h *Handler) GetAdvance(w http.ResponseWriter, r *http.Request) {
	id, ok := advanceIDParam(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	a, err := h.Engine.GetAdvance(ctx, id)
	if err != nil {
		h.writeEngineError(w, r, "Failed to get advance", err)
		return
	}
	payments, err := h.Engine.ListPayments(ctx, id)
	if err != nil {
		h.writeEngineError(w, r, "Failed to list payments", err)
		return
	}

	writeJSON(w, http.StatusOK, AdvanceDetailDTO{
		AdvanceDTO:   toAdvanceDTO(a),
		Payments:     toPaymentDTOs(payments),
		PendingTotal: advance.SumAmounts(advance.PendingOnly(payments)).String(),
	})
}

// SaveAdvance creates an advance (201) or updates one (200).
func (h *Handler) SaveAdvance(w http.ResponseWriter, r *http.Request) {
	var req SaveAdvanceRequest
	if err := h.decode(r, &req); err != nil {
		writeValidationError(w, err)
		return
	}
	in, err := req.toInput()
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid advance", err)
		return
	}

	saved, err := h.Engine.SaveAdvance(r.Context(), in)
	if err != nil {
		h.writeEngineError(w, r, "Failed to save advance", err)
		return
	}

	status := http.StatusOK
	if req.ID == 0 {
		status = http.StatusCreated
	}
	writeJSON(w, status, toAdvanceDTO(saved))
}

// DeleteAdvances removes advances with their payments and events.
func (h *Handler) DeleteAdvances(w http.ResponseWriter, r *http.Request) {
	var req DeleteAdvancesRequest
	if err := h.decode(r, &req); err != nil {
		writeValidationError(w, err)
		return
	}

	ids := make([]advance.AdvanceID, 0, len(req.Advances))
	for _, id := range req.Advances {
		ids = append(ids, advance.AdvanceID(id))
	}
	if err := h.Engine.DeleteAdvances(r.Context(), ids); err != nil {
		h.writeEngineError(w, r, "Failed to delete advances", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"status": "deleted", "count": len(ids)})
}

// ListPeriodicities returns the supported installment intervals.
func (h *Handler) ListPeriodicities(w http.ResponseWriter, r *http.Request) {
	periodicities := advance.Periodicities()
	dtos := make([]PeriodicityDTO, 0, len(periodicities))
	for _, p := range periodicities {
		dtos = append(dtos, PeriodicityDTO{ID: string(p), Months: p.Months()})
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ListPayments returns the payment plan of an advance by due date.
func (h *Handler) ListPayments(w http.ResponseWriter, r *http.Request) {
	id, ok := advanceIDParam(w, r)
	if !ok {
		return
	}

	payments, err := h.Engine.ListPayments(r.Context(), id)
	if err != nil {
		h.writeEngineError(w, r, "Failed to list payments", err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentDTOs(payments))
}

// ListEvents returns the plan event log of an advance.
func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	id, ok := advanceIDParam(w, r)
	if !ok {
		return
	}

	events, err := h.Engine.Events(r.Context(), id)
	if err != nil {
		h.writeEngineError(w, r, "Failed to list events", err)
		return
	}

	dtos := make([]PlanEventDTO, 0, len(events))
	for _, e := range events {
		dtos = append(dtos, toPlanEventDTO(e))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// RecalculatePending spreads the outstanding amount evenly over the
// pending payments and returns the resulting plan.
func (h *Handler) RecalculatePending(w http.ResponseWriter, r *http.Request) {
	id, ok := advanceIDParam(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	if err := h.Engine.RecalculatePendingPayments(ctx, id); err != nil {
		h.writeEngineError(w, r, "Failed to recalculate pending payments", err)
		return
	}
	h.writePayments(w, r, id)
}

// RecalculatePlan rebuilds the plan from the given (or stored) terms.
func (h *Handler) RecalculatePlan(w http.ResponseWriter, r *http.Request) {
	var req RecalculatePlanRequest
	if err := h.decode(r, &req); err != nil {
		writeValidationError(w, err)
		return
	}
	terms, err := req.toTerms()
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid plan terms", err)
		return
	}

	id := advance.AdvanceID(req.AdvanceID)
	if err := h.Engine.RecalculatePlan(r.Context(), id, terms); err != nil {
		h.writeEngineError(w, r, "Failed to recalculate payment plan", err)
		return
	}
	h.writePayments(w, r, id)
}

// =============================================================================
// PAYMENTS
// =============================================================================

// SavePayment creates a payment (201) or updates one (200).
func (h *Handler) SavePayment(w http.ResponseWriter, r *http.Request) {
	var req SavePaymentRequest
	if err := h.decode(r, &req); err != nil {
		writeValidationError(w, err)
		return
	}
	in, err := req.toInput()
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid payment", err)
		return
	}

	saved, err := h.Engine.SavePayment(r.Context(), in)
	if err != nil {
		h.writeEngineError(w, r, "Failed to save payment", err)
		return
	}

	status := http.StatusOK
	if req.ID == 0 {
		status = http.StatusCreated
	}
	writeJSON(w, status, toPaymentDTO(saved))
}

// SetPaymentStatus marks a payment pending or paid.
func (h *Handler) SetPaymentStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := paymentIDParam(w, r)
	if !ok {
		return
	}
	var req PaymentStatusRequest
	if err := h.decode(r, &req); err != nil {
		writeValidationError(w, err)
		return
	}

	saved, err := h.Engine.SetPaymentStatus(r.Context(), id, advance.PaymentStatus(req.Status))
	if err != nil {
		h.writeEngineError(w, r, "Failed to update payment status", err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentDTO(saved))
}

// DeletePayment removes a payment. Pending payments absorb the balance via
// pro-rata unless ?redistribute=false.
func (h *Handler) DeletePayment(w http.ResponseWriter, r *http.Request) {
	id, ok := paymentIDParam(w, r)
	if !ok {
		return
	}
	redistribute := true
	if v := r.URL.Query().Get("redistribute"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid redistribute flag", err)
			return
		}
		redistribute = b
	}

	result, err := h.Engine.DeletePayment(r.Context(), id, redistribute)
	if err != nil {
		h.writeEngineError(w, r, "Failed to delete payment", err)
		return
	}

	writeJSON(w, http.StatusOK, DeletionResultDTO{
		Deleted:          toPaymentDTO(result.Deleted),
		AdvanceID:        int64(result.AdvanceID),
		RemainingBalance: result.Outstanding.String(),
		Redistributed:    redistribute,
	})
}

// =============================================================================
// ADMIN
// =============================================================================

// ResetDatabase clears all data.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.Engine.Reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	h.setCurrentScenario("")

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Health reports whether the store is reachable.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.Engine.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "Database unavailable", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) writePayments(w http.ResponseWriter, r *http.Request, id advance.AdvanceID) {
	payments, err := h.Engine.ListPayments(r.Context(), id)
	if err != nil {
		h.writeEngineError(w, r, "Failed to list payments", err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentDTOs(payments))
}

func advanceIDParam(w http.ResponseWriter, r *http.Request) (advance.AdvanceID, bool) {
	id, ok := idParam(w, r, "advance")
	return advance.AdvanceID(id), ok
}

func paymentIDParam(w http.ResponseWriter, r *http.Request) (advance.PaymentID, bool) {
	id, ok := idParam(w, r, "payment")
	return advance.PaymentID(id), ok
}

func idParam(w http.ResponseWriter, r *http.Request, what string) (int64, bool) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "Invalid "+what+" id", nil)
		return 0, false
	}
	return id, true
}

// writeEngineError maps advance errors onto HTTP status codes. Server-side
// failures are logged with the request's logger.
func (h *Handler) writeEngineError(w http.ResponseWriter, r *http.Request, message string, err error) {
	switch {
	case advance.IsClientError(err):
		writeError(w, http.StatusBadRequest, message, err)
	case advance.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	case advance.IsConflict(err):
		writeError(w, http.StatusConflict, message, err)
	default:
		logging.FromContext(r.Context()).Error(message, zap.Error(err))
		writeError(w, http.StatusInternalServerError, message, err)
	}
}

func writeValidationError(w http.ResponseWriter, err error) {
	writeJSON(w, http.StatusBadRequest, ErrorResponse{
		Error:   "Invalid request",
		Details: err.Error(),
		Fields:  fieldErrors(err),
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

func (h *Handler) setCurrentScenario(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.currentScenario = id
}

func (h *Handler) scenario() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.currentScenario
}
