/*
plan.go - Payment plan generation and recalculation

PURPOSE:
  Turns an advance's outstanding amount into a schedule of pending
  payments of at most the suggested installment, one per period.

NETTING POLICY:
  Only PENDING payments are netted from the outstanding amount. Paid
  payments were already debited from Outstanding when they were settled,
  so netting them again would count them twice.

DATE CURSOR:
  No payments yet:  the first due date is the start date.
  Payments exist:   the first due date is one period after the latest one.
  Due date k is anchor + k periods (AddMonths clamps to month end), so a
  plan anchored on Jan 31 stays on the last day of each month.

SURPLUS:
  When pending payments already exceed the outstanding amount (after an
  extraordinary payment or a downward correction), the recalculator trims
  the chronologically last pending regular payments, deleting those that
  reach zero.

SEE ALSO:
  - engine.go: GeneratePlan / RecalculatePlan entry points
*/
package advance

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// DefaultMaxInstallments bounds a single plan generation.
const DefaultMaxInstallments = 600

// planTerms are fully resolved recalculation inputs.
type planTerms struct {
	Outstanding Money
	Suggested   Money
	StartDate   time.Time
	Periodicity Periodicity
}

func (t planTerms) validate() error {
	if !t.Suggested.IsPositive() {
		return invalidArgument("suggested installment must be positive, got %s", t.Suggested)
	}
	if !t.Periodicity.Valid() {
		return invalidArgument("unknown periodicity %q", t.Periodicity)
	}
	if t.StartDate.IsZero() {
		return invalidArgument("start date is required")
	}
	return nil
}

// generatePlan is the Generator: strict preconditions, then extendPlan.
func (s *session) generatePlan(ctx context.Context, id AdvanceID, terms planTerms) error {
	if !terms.Outstanding.IsPositive() {
		return invalidArgument("outstanding amount must be positive, got %s", terms.Outstanding)
	}
	if err := terms.validate(); err != nil {
		return err
	}
	adv, err := s.store.GetAdvance(ctx, id)
	if err != nil {
		return err
	}
	created, err := s.extendPlan(ctx, adv, terms)
	if err != nil {
		return err
	}
	return s.event(ctx, id, EventPlanGenerated, "%d payments for %s", created, terms.Outstanding)
}

// recalculatePlan is the Recalculator: missing terms come from the stored
// advance, then the plan is extended or trimmed to match.
func (s *session) recalculatePlan(ctx context.Context, id AdvanceID, in PlanTerms) error {
	adv, err := s.store.GetAdvance(ctx, id)
	if err != nil {
		return err
	}
	terms := resolveTerms(adv, in)
	if err := terms.validate(); err != nil {
		return err
	}

	payments, err := s.store.ListPayments(ctx, id, nil)
	if err != nil {
		return err
	}
	remaining := terms.Outstanding - SumAmounts(PendingOnly(payments))

	var created int
	switch {
	case remaining.IsPositive():
		created, err = s.extendPlan(ctx, adv, terms)
	case remaining.IsNegative():
		err = s.trimPlan(ctx, id, terms.Outstanding, payments, -remaining)
	}
	if err != nil {
		return err
	}
	return s.event(ctx, id, EventPlanRecalculated, "remaining %s, %d payments created", remaining, created)
}

func resolveTerms(adv Advance, in PlanTerms) planTerms {
	t := planTerms{
		Outstanding: adv.Outstanding,
		Suggested:   adv.Suggested,
		StartDate:   adv.StartDate,
		Periodicity: adv.Periodicity,
	}
	if in.Outstanding != nil {
		t.Outstanding = *in.Outstanding
	}
	if in.Suggested != nil {
		t.Suggested = *in.Suggested
	}
	if in.StartDate != nil {
		t.StartDate = *in.StartDate
	}
	if in.Periodicity != nil {
		t.Periodicity = *in.Periodicity
	}
	return t
}

// extendPlan appends pending payments until the pending total reaches the
// outstanding amount. Returns the number of payments created.
func (s *session) extendPlan(ctx context.Context, adv Advance, terms planTerms) (int, error) {
	payments, err := s.store.ListPayments(ctx, adv.ID, nil)
	if err != nil {
		return 0, err
	}
	remaining := terms.Outstanding - SumAmounts(PendingOnly(payments))
	if !remaining.IsPositive() {
		return 0, nil
	}

	count := int((remaining + terms.Suggested - 1) / terms.Suggested)
	if count > s.maxInstallments {
		return 0, invalidArgument("plan of %s in installments of %s needs %d payments (max %d)",
			remaining, terms.Suggested, count, s.maxInstallments)
	}

	anchor, offset := terms.StartDate, 0
	if len(payments) > 0 {
		anchor, offset = payments[len(payments)-1].DueDate, 1
	}
	months := terms.Periodicity.Months()

	var last time.Time
	created := 0
	for remaining.IsPositive() {
		amount := MinMoney(remaining, terms.Suggested)
		due := AddMonths(anchor, (offset+created)*months)
		if _, err := s.store.InsertPayment(ctx, Payment{
			AdvanceID:            adv.ID,
			Amount:               amount,
			DueDate:              due,
			Kind:                 KindRegular,
			Status:               PaymentPending,
			DestinationAccountID: adv.SourceAccountID,
		}); err != nil {
			return created, fmt.Errorf("insert plan payment: %w", err)
		}
		remaining -= amount
		last = due
		created++
	}

	if err := s.store.PatchAdvance(ctx, adv.ID, AdvancePatch{ExpectedEndDate: &last}); err != nil {
		return created, err
	}
	s.log.Debug("plan extended",
		zap.Int64("advance_id", int64(adv.ID)),
		zap.Int("created", created),
		zap.String("expected_end_date", FormatDate(last)))
	return created, nil
}

// trimPlan removes surplus from the last pending regular payments.
func (s *session) trimPlan(ctx context.Context, id AdvanceID, outstanding Money, payments []Payment, surplus Money) error {
	for i := len(payments) - 1; i >= 0 && surplus.IsPositive(); i-- {
		p := payments[i]
		if !p.IsPending() || p.Kind != KindRegular {
			continue
		}
		if p.Amount <= surplus {
			if _, err := s.store.DeletePayment(ctx, p.ID); err != nil {
				return err
			}
			surplus -= p.Amount
			continue
		}
		if err := s.store.UpdatePaymentAmount(ctx, p.ID, p.Amount-surplus); err != nil {
			return err
		}
		surplus = 0
	}

	pending, err := s.pending(ctx, id)
	if err != nil {
		return err
	}
	if surplus.IsPositive() {
		return &InconsistentError{
			AdvanceID: id,
			Expected:  outstanding,
			Actual:    SumAmounts(pending),
			Reason:    "pending extraordinary payments exceed the outstanding amount",
		}
	}
	if len(pending) > 0 {
		last := pending[len(pending)-1].DueDate
		return s.store.PatchAdvance(ctx, id, AdvancePatch{ExpectedEndDate: &last})
	}
	return nil
}

func (s *session) pending(ctx context.Context, id AdvanceID) ([]Payment, error) {
	status := PaymentPending
	return s.store.ListPayments(ctx, id, &status)
}
