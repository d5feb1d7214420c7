/*
scenarios_test.go - Tests for the demo scenarios

PURPOSE:
	Loads every scenario against a SQLite store and checks the state it
	leaves behind: plan shape, balances and advance status. Every scenario
	must also leave sum(pending) equal to the outstanding amount.
*/
package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/household-ledger/advance"
	"github.com/warp/household-ledger/store/sqlite"
)

func setupTestHandler(t *testing.T) *Handler {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return NewHandler(advance.NewEngine(store))
}

// loadOnly loads scenario id and returns its single advance and payments.
func loadOnly(t *testing.T, h *Handler, id string) (advance.Advance, []advance.Payment) {
	t.Helper()
	ctx := context.Background()
	s, ok := findScenario(id)
	require.True(t, ok, id)
	require.NoError(t, h.Engine.Reset(ctx))
	require.NoError(t, s.load(ctx, h.Engine))

	advances, err := h.Engine.ListAdvances(ctx)
	require.NoError(t, err)
	require.Len(t, advances, 1)
	payments, err := h.Engine.ListPayments(ctx, advances[0].ID)
	require.NoError(t, err)

	pending := advance.SumAmounts(advance.PendingOnly(payments))
	require.Equal(t, advances[0].Outstanding, pending, "scenario %s is unbalanced", id)
	return advances[0], payments
}

func scenarioAmounts(ps []advance.Payment) []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = p.Amount.String()
	}
	return out
}

func TestScenario_CarRepair(t *testing.T) {
	h := setupTestHandler(t)
	a, ps := loadOnly(t, h, "car-repair")

	assert.Equal(t, []string{"300.00", "300.00", "300.00", "100.00"}, scenarioAmounts(ps))
	require.NotNil(t, a.ExpectedEndDate)
	assert.Equal(t, "2025-04-01", advance.FormatDate(*a.ExpectedEndDate))
}

func TestScenario_EditedInstallment(t *testing.T) {
	// GIVEN: The car repair plan
	// WHEN: February is lowered to 200.00
	// THEN: April absorbs the difference

	h := setupTestHandler(t)
	_, ps := loadOnly(t, h, "edited-installment")

	assert.Equal(t, []string{"300.00", "200.00", "300.00", "200.00"}, scenarioAmounts(ps))
	assert.Equal(t, "Tight month", ps[1].Description)
}

func TestScenario_PartialRepayment(t *testing.T) {
	h := setupTestHandler(t)
	a, ps := loadOnly(t, h, "partial-repayment")

	require.Len(t, ps, 12)
	for i, p := range ps {
		if i < 3 {
			assert.True(t, p.IsPaid(), "payment %d", i)
		} else {
			assert.True(t, p.IsPending(), "payment %d", i)
		}
	}
	assert.Equal(t, advance.MustParseMoney("1800"), a.Outstanding)
	assert.Equal(t, advance.StatusActive, a.Status)
}

func TestScenario_LumpSum(t *testing.T) {
	h := setupTestHandler(t)
	a, ps := loadOnly(t, h, "lump-sum")

	assert.Equal(t, advance.MustParseMoney("3800"), a.Outstanding)
	pending := advance.PendingOnly(ps)
	require.Len(t, pending, 8)
	assert.Equal(t, "300.00", pending[7].Amount.String())

	var extraordinary []advance.Payment
	for _, p := range ps {
		if p.Kind == advance.KindExtraordinary {
			extraordinary = append(extraordinary, p)
		}
	}
	require.Len(t, extraordinary, 1)
	assert.True(t, extraordinary[0].IsPaid())
}

func TestScenario_Settled(t *testing.T) {
	h := setupTestHandler(t)
	a, ps := loadOnly(t, h, "settled")

	assert.Len(t, ps, 2)
	assert.Empty(t, advance.PendingOnly(ps))
	assert.True(t, a.Outstanding.IsZero())
	assert.Equal(t, advance.StatusCompleted, a.Status)
}

func TestLoadScenario_ReplacesDataAndTracksCurrent(t *testing.T) {
	h := setupTestHandler(t)
	router := NewRouter(h, RouterOptions{StaticDir: t.TempDir()})

	load := func(id string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/scenarios/load", strings.NewReader(`{"scenario_id":"`+id+`"}`))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec.Code
	}

	require.Equal(t, http.StatusOK, load("car-repair"))
	require.Equal(t, http.StatusOK, load("settled"))
	assert.Equal(t, "settled", h.scenario())

	advances, err := h.Engine.ListAdvances(context.Background())
	require.NoError(t, err)
	require.Len(t, advances, 1, "loading a scenario resets previous data")
	assert.Equal(t, "Washing machine", advances[0].Concept)

	assert.Equal(t, http.StatusBadRequest, load("no-such-scenario"))

	req := httptest.NewRequest(http.MethodPost, "/api/scenarios/reset", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, h.scenario())
}
