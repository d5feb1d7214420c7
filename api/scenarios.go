/*
scenarios.go - Demo scenario loaders

PURPOSE:
  Pre-built household situations for trying the plan engine from the UI.
  Each scenario resets the database and replays a short history through
  advance.Engine, so every invariant the engine enforces holds for the
  seeded data too.

SCENARIOS:
  1. car-repair:         1000.00 at 300.00/month, plain generated plan
  2. edited-installment: same plan with February lowered to 200.00
  3. partial-repayment:  2400.00 at 200.00/month, first three paid
  4. lump-sum:           quarterly plan shortened by an extraordinary payment
  5. settled:            bimonthly plan fully paid, advance completed

SEE ALSO:
  - handlers.go: ResetDatabase
*/
package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/warp/household-ledger/advance"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

type scenario struct {
	ScenarioDTO
	load func(ctx context.Context, e *advance.Engine) error
}

var scenarios = []scenario{
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "car-repair",
			Name:        "Car Repair",
			Description: "1000.00 advanced, repaid at 300.00 per month from January",
		},
		load: loadCarRepair,
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "edited-installment",
			Name:        "Edited Installment",
			Description: "February lowered to 200.00; the difference moves to a later month",
		},
		load: loadEditedInstallment,
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "partial-repayment",
			Name:        "Partial Repayment",
			Description: "2400.00 at 200.00 per month with the first three installments paid",
		},
		load: loadPartialRepayment,
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "lump-sum",
			Name:        "Lump Sum",
			Description: "Quarterly plan shortened by a paid extraordinary payment",
		},
		load: loadLumpSum,
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "settled",
			Name:        "Settled Advance",
			Description: "Bimonthly plan paid in full; the advance is completed",
		},
		load: loadSettled,
	},
}

func findScenario(id string) (scenario, bool) {
	for _, s := range scenarios {
		if s.ID == id {
			return s, true
		}
	}
	return scenario{}, false
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	dtos := make([]ScenarioDTO, 0, len(scenarios))
	for _, s := range scenarios {
		dtos = append(dtos, s.ScenarioDTO)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	current := h.scenario()
	if current == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	if s, ok := findScenario(current); ok {
		writeJSON(w, http.StatusOK, s.ScenarioDTO)
		return
	}
	writeJSON(w, http.StatusOK, ScenarioDTO{ID: current, Name: current})
}

// LoadScenario resets the database and loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := h.decode(r, &req); err != nil {
		writeValidationError(w, err)
		return
	}
	s, ok := findScenario(req.ScenarioID)
	if !ok {
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}

	ctx := r.Context()

	// Reset first
	if err := h.Engine.Reset(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	h.setCurrentScenario("")

	if err := s.load(ctx, h.Engine); err != nil {
		h.writeEngineError(w, r, fmt.Sprintf("Failed to load scenario %s", s.ID), err)
		return
	}

	h.setCurrentScenario(s.ID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": s.ID})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func saveAdvance(ctx context.Context, e *advance.Engine, concept, outstanding, suggested string, start string, p advance.Periodicity) (advance.Advance, error) {
	startDate, err := advance.ParseDate(start)
	if err != nil {
		return advance.Advance{}, err
	}
	return e.SaveAdvance(ctx, advance.AdvanceInput{
		Concept:     concept,
		Outstanding: advance.MustParseMoney(outstanding),
		Suggested:   advance.MustParseMoney(suggested),
		StartDate:   startDate,
		Periodicity: p,
	})
}

func loadCarRepair(ctx context.Context, e *advance.Engine) error {
	_, err := saveAdvance(ctx, e, "Car repair", "1000.00", "300.00", "2025-01-01", advance.Monthly)
	return err
}

func loadEditedInstallment(ctx context.Context, e *advance.Engine) error {
	a, err := saveAdvance(ctx, e, "Dentist", "1000.00", "300.00", "2025-01-01", advance.Monthly)
	if err != nil {
		return err
	}
	payments, err := e.ListPayments(ctx, a.ID)
	if err != nil {
		return err
	}
	if len(payments) < 2 {
		return fmt.Errorf("expected a generated plan, got %d payments", len(payments))
	}

	feb := payments[1]
	_, err = e.SavePayment(ctx, advance.PaymentInput{
		ID:          feb.ID,
		Amount:      advance.MustParseMoney("200.00"),
		DueDate:     feb.DueDate,
		Kind:        feb.Kind,
		Status:      feb.Status,
		Description: "Tight month",
	})
	return err
}

func loadPartialRepayment(ctx context.Context, e *advance.Engine) error {
	a, err := saveAdvance(ctx, e, "New laptop", "2400.00", "200.00", "2025-01-01", advance.Monthly)
	if err != nil {
		return err
	}
	payments, err := e.ListPayments(ctx, a.ID)
	if err != nil {
		return err
	}
	for _, p := range payments[:min(3, len(payments))] {
		if _, err := e.SetPaymentStatus(ctx, p.ID, advance.PaymentPaid); err != nil {
			return err
		}
	}
	return nil
}

func loadLumpSum(ctx context.Context, e *advance.Engine) error {
	a, err := saveAdvance(ctx, e, "Home insulation", "5000.00", "500.00", "2025-01-01", advance.Quarterly)
	if err != nil {
		return err
	}
	due, err := advance.ParseDate("2025-02-15")
	if err != nil {
		return err
	}
	_, err = e.SavePayment(ctx, advance.PaymentInput{
		AdvanceID:   a.ID,
		Amount:      advance.MustParseMoney("1200.00"),
		DueDate:     due,
		Kind:        advance.KindExtraordinary,
		Status:      advance.PaymentPaid,
		Description: "Tax refund",
	})
	return err
}

func loadSettled(ctx context.Context, e *advance.Engine) error {
	a, err := saveAdvance(ctx, e, "Washing machine", "600.00", "300.00", "2024-09-01", advance.Bimonthly)
	if err != nil {
		return err
	}
	payments, err := e.ListPayments(ctx, a.ID)
	if err != nil {
		return err
	}
	for _, p := range payments {
		if _, err := e.SetPaymentStatus(ctx, p.ID, advance.PaymentPaid); err != nil {
			return err
		}
	}
	return nil
}
