package api_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/household-ledger/advance"
	"github.com/warp/household-ledger/advance/store"
	"github.com/warp/household-ledger/api"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mem := store.NewTxMemory()
	h := api.NewHandler(advance.NewEngine(mem))
	srv := httptest.NewServer(api.NewRouter(h, api.RouterOptions{StaticDir: t.TempDir()}))
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, srv *httptest.Server, method, path string, body any, out any) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, srv.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func createCarLoan(t *testing.T, srv *httptest.Server) api.AdvanceDTO {
	t.Helper()
	var created api.AdvanceDTO
	status := doJSON(t, srv, http.MethodPost, "/api/advances", map[string]any{
		"concept":               "Car loan",
		"outstanding_amount":    1000,
		"suggested_installment": "300.00",
		"start_date":            "2025-01-01",
		"periodicity":           "mensual",
	}, &created)
	require.Equal(t, http.StatusCreated, status)
	return created
}

func listPayments(t *testing.T, srv *httptest.Server, id int64) []api.PaymentDTO {
	t.Helper()
	var ps []api.PaymentDTO
	require.Equal(t, http.StatusOK, doJSON(t, srv, http.MethodGet, fmt.Sprintf("/api/advances/%d/payments", id), nil, &ps))
	return ps
}

func amounts(ps []api.PaymentDTO) []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = p.Amount
	}
	return out
}

// =============================================================================
// ADVANCES
// =============================================================================

func TestCreateAdvance_GeneratesPlan(t *testing.T) {
	// GIVEN: A new car loan posted with a legacy periodicity name
	// WHEN: Fetching its detail
	// THEN: The advance carries the generated plan and its end date

	srv := newTestServer(t)
	created := createCarLoan(t, srv)
	assert.Equal(t, "1000.00", created.OutstandingAmount)
	assert.Equal(t, "monthly", created.Periodicity)
	assert.Equal(t, "active", created.Status)
	require.NotNil(t, created.ExpectedEndDate)
	assert.Equal(t, "2025-04-01", *created.ExpectedEndDate)

	var detail api.AdvanceDetailDTO
	status := doJSON(t, srv, http.MethodGet, fmt.Sprintf("/api/advances/%d", created.ID), nil, &detail)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, []string{"300.00", "300.00", "300.00", "100.00"}, amounts(detail.Payments))
	assert.Equal(t, "1000.00", detail.PendingTotal)

	var list []api.AdvanceDTO
	require.Equal(t, http.StatusOK, doJSON(t, srv, http.MethodGet, "/api/advances", nil, &list))
	assert.Len(t, list, 1)
}

func TestCreateAdvance_ValidationErrors(t *testing.T) {
	srv := newTestServer(t)

	var resp api.ErrorResponse
	status := doJSON(t, srv, http.MethodPost, "/api/advances", map[string]any{
		"outstanding_amount": -5,
		"start_date":         "2025-01-01",
	}, &resp)
	require.Equal(t, http.StatusBadRequest, status)

	fields := map[string]string{}
	for _, f := range resp.Fields {
		fields[f.Field] = f.Message
	}
	assert.Contains(t, fields, "concept")
	assert.Contains(t, fields, "outstanding_amount")
}

func TestCreateAdvance_DomainErrors(t *testing.T) {
	srv := newTestServer(t)

	for name, body := range map[string]map[string]any{
		"bad date":         {"concept": "x", "outstanding_amount": 10, "start_date": "01/01/2025"},
		"bad periodicity":  {"concept": "x", "outstanding_amount": 10, "start_date": "2025-01-01", "periodicity": "weekly"},
		"amount overflows": {"concept": "x", "outstanding_amount": "92233720368547758.08", "start_date": "2025-01-01"},
		"huge installment": {"concept": "x", "outstanding_amount": 10, "suggested_installment": 1e20, "start_date": "2025-01-01"},
	} {
		t.Run(name, func(t *testing.T) {
			var resp api.ErrorResponse
			status := doJSON(t, srv, http.MethodPost, "/api/advances", body, &resp)
			assert.Equal(t, http.StatusBadRequest, status)
			assert.NotEmpty(t, resp.Details)
		})
	}
}

func TestSavePayment_AmountOutOfRange(t *testing.T) {
	// GIVEN: An existing plan
	// WHEN: A payment amount too large for cents is posted
	// THEN: 400, and the advance balance is untouched

	srv := newTestServer(t)
	created := createCarLoan(t, srv)

	var resp api.ErrorResponse
	status := doJSON(t, srv, http.MethodPost, "/api/advances/payments", map[string]any{
		"advance_id": created.ID,
		"amount":     "100000000000000000000",
		"due_date":   "2025-06-01",
		"status":     "paid",
	}, &resp)
	require.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, resp.Details, "exceeds")

	var detail api.AdvanceDetailDTO
	require.Equal(t, http.StatusOK, doJSON(t, srv, http.MethodGet, fmt.Sprintf("/api/advances/%d", created.ID), nil, &detail))
	assert.Equal(t, "1000.00", detail.OutstandingAmount)
	assert.Len(t, detail.Payments, 4)
}

func TestGetAdvance_NotFoundAndBadID(t *testing.T) {
	srv := newTestServer(t)

	var resp api.ErrorResponse
	assert.Equal(t, http.StatusNotFound, doJSON(t, srv, http.MethodGet, "/api/advances/42", nil, &resp))
	assert.Equal(t, http.StatusBadRequest, doJSON(t, srv, http.MethodGet, "/api/advances/abc", nil, &resp))
}

func TestDeleteAdvances(t *testing.T) {
	srv := newTestServer(t)
	created := createCarLoan(t, srv)

	var resp map[string]any
	status := doJSON(t, srv, http.MethodDelete, "/api/advances", map[string]any{"advances": []int64{created.ID}}, &resp)
	require.Equal(t, http.StatusOK, status)

	var errResp api.ErrorResponse
	assert.Equal(t, http.StatusNotFound, doJSON(t, srv, http.MethodGet, fmt.Sprintf("/api/advances/%d", created.ID), nil, &errResp))
	assert.Equal(t, http.StatusBadRequest, doJSON(t, srv, http.MethodDelete, "/api/advances", map[string]any{"advances": []int64{}}, &errResp))
}

func TestListPeriodicities(t *testing.T) {
	srv := newTestServer(t)
	var ps []api.PeriodicityDTO
	require.Equal(t, http.StatusOK, doJSON(t, srv, http.MethodGet, "/api/advances/periodicities", nil, &ps))
	require.Len(t, ps, 4)
	assert.Equal(t, api.PeriodicityDTO{ID: "quarterly", Months: 3}, ps[2])
}

// =============================================================================
// PAYMENTS
// =============================================================================

func TestEditPayment_Redistributes(t *testing.T) {
	srv := newTestServer(t)
	created := createCarLoan(t, srv)
	feb := listPayments(t, srv, created.ID)[1]

	var saved api.PaymentDTO
	status := doJSON(t, srv, http.MethodPost, "/api/advances/payments", map[string]any{
		"id":       feb.ID,
		"amount":   "200",
		"due_date": feb.DueDate,
	}, &saved)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "200.00", saved.Amount)

	assert.Equal(t, []string{"300.00", "200.00", "300.00", "200.00"}, amounts(listPayments(t, srv, created.ID)))
}

func TestEditLastPayment_Conflict(t *testing.T) {
	srv := newTestServer(t)
	created := createCarLoan(t, srv)
	last := listPayments(t, srv, created.ID)[3]

	var resp api.ErrorResponse
	status := doJSON(t, srv, http.MethodPost, "/api/advances/payments", map[string]any{
		"id":       last.ID,
		"amount":   250,
		"due_date": last.DueDate,
	}, &resp)
	assert.Equal(t, http.StatusConflict, status)
	assert.Contains(t, resp.Details, "inconsistent payment plan")
}

func TestSavePayment_RequiresAdvanceOnCreate(t *testing.T) {
	srv := newTestServer(t)
	var resp api.ErrorResponse
	status := doJSON(t, srv, http.MethodPost, "/api/advances/payments", map[string]any{
		"amount":   10,
		"due_date": "2025-01-01",
	}, &resp)
	require.Equal(t, http.StatusBadRequest, status)
	require.NotEmpty(t, resp.Fields)
	assert.Equal(t, "advance_id", resp.Fields[0].Field)
}

func TestPaymentStatusAndDeletion(t *testing.T) {
	// GIVEN: The car loan with January paid
	// WHEN: January is deleted
	// THEN: The balance returns to 1000.00, prorated over three payments

	srv := newTestServer(t)
	created := createCarLoan(t, srv)
	jan := listPayments(t, srv, created.ID)[0]

	var paid api.PaymentDTO
	status := doJSON(t, srv, http.MethodPost, fmt.Sprintf("/api/advances/payments/%d/status", jan.ID),
		map[string]string{"status": "paid"}, &paid)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "paid", paid.Status)

	var detail api.AdvanceDetailDTO
	require.Equal(t, http.StatusOK, doJSON(t, srv, http.MethodGet, fmt.Sprintf("/api/advances/%d", created.ID), nil, &detail))
	assert.Equal(t, "700.00", detail.OutstandingAmount)

	var result api.DeletionResultDTO
	status = doJSON(t, srv, http.MethodDelete, fmt.Sprintf("/api/advances/payments/%d", jan.ID), nil, &result)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "1000.00", result.RemainingBalance)
	assert.True(t, result.Redistributed)
	assert.Equal(t, []string{"333.34", "333.33", "333.33"}, amounts(listPayments(t, srv, created.ID)))
}

func TestDeletePayment_OptOutOfRedistribution(t *testing.T) {
	srv := newTestServer(t)
	created := createCarLoan(t, srv)
	mar := listPayments(t, srv, created.ID)[2]

	var result api.DeletionResultDTO
	status := doJSON(t, srv, http.MethodDelete, fmt.Sprintf("/api/advances/payments/%d?redistribute=false", mar.ID), nil, &result)
	require.Equal(t, http.StatusOK, status)
	assert.False(t, result.Redistributed)
	assert.Equal(t, []string{"300.00", "300.00", "100.00"}, amounts(listPayments(t, srv, created.ID)))

	var resp api.ErrorResponse
	assert.Equal(t, http.StatusBadRequest,
		doJSON(t, srv, http.MethodDelete, fmt.Sprintf("/api/advances/payments/%d?redistribute=maybe", mar.ID), nil, &resp))
}

func TestSetPaymentStatus_InvalidStatus(t *testing.T) {
	srv := newTestServer(t)
	var resp api.ErrorResponse
	status := doJSON(t, srv, http.MethodPost, "/api/advances/payments/1/status", map[string]string{"status": "cancelled"}, &resp)
	assert.Equal(t, http.StatusBadRequest, status)
}

// =============================================================================
// RECALCULATION
// =============================================================================

func TestRecalculatePending(t *testing.T) {
	srv := newTestServer(t)
	var created api.AdvanceDTO
	require.Equal(t, http.StatusCreated, doJSON(t, srv, http.MethodPost, "/api/advances", map[string]any{
		"concept":               "Groceries",
		"outstanding_amount":    100,
		"suggested_installment": 40,
		"start_date":            "2025-01-01",
		"periodicity":           "monthly",
	}, &created))

	var ps []api.PaymentDTO
	status := doJSON(t, srv, http.MethodPost, fmt.Sprintf("/api/advances/%d/recalculate-pending", created.ID), nil, &ps)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, []string{"33.34", "33.33", "33.33"}, amounts(ps))
}

func TestRecalculatePaymentPlan_WithOverrides(t *testing.T) {
	srv := newTestServer(t)
	var created api.AdvanceDTO
	require.Equal(t, http.StatusCreated, doJSON(t, srv, http.MethodPost, "/api/advances", map[string]any{
		"concept":            "Loan",
		"outstanding_amount": 1000,
		"start_date":         "2025-01-01",
	}, &created))

	var ps []api.PaymentDTO
	status := doJSON(t, srv, http.MethodPost, "/api/advances/recalculate-payment-plan", map[string]any{
		"advance_id":            created.ID,
		"suggested_installment": 500,
		"periodicity":           "trimestral",
	}, &ps)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, []string{"500.00", "500.00"}, amounts(ps))
	assert.Equal(t, "2025-04-01", ps[1].DueDate)

	var resp api.ErrorResponse
	assert.Equal(t, http.StatusBadRequest, doJSON(t, srv, http.MethodPost, "/api/advances/recalculate-payment-plan",
		map[string]any{"advance_id": created.ID, "suggested_installment": 0}, &resp))
	assert.Equal(t, http.StatusNotFound, doJSON(t, srv, http.MethodPost, "/api/advances/recalculate-payment-plan",
		map[string]any{"advance_id": 999, "suggested_installment": 100, "periodicity": "monthly", "start_date": "2025-01-01"}, &resp))
}

func TestListEvents(t *testing.T) {
	srv := newTestServer(t)
	created := createCarLoan(t, srv)

	var events []api.PlanEventDTO
	require.Equal(t, http.StatusOK, doJSON(t, srv, http.MethodGet, fmt.Sprintf("/api/advances/%d/events", created.ID), nil, &events))
	require.Len(t, events, 2)
	assert.Equal(t, "advance_saved", events[0].Action)
	assert.Equal(t, "plan_generated", events[1].Action)
}

// =============================================================================
// ADMIN
// =============================================================================

func TestHealth(t *testing.T) {
	srv := newTestServer(t)
	var resp map[string]string
	assert.Equal(t, http.StatusOK, doJSON(t, srv, http.MethodGet, "/healthz", nil, &resp))
	assert.Equal(t, "ok", resp["status"])
}

func TestPlaceholderPageWithoutFrontend(t *testing.T) {
	srv := newTestServer(t)
	resp, err := http.Get(srv.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
