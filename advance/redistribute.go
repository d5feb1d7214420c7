/*
redistribute.go - Redistribution after a pending payment edit

PURPOSE:
  When a pending payment's amount changes from previous to next, the
  difference delta = previous - next is absorbed by the pending payments
  due strictly after the edited payment's previous due date.

CASE A (delta > 0, the edited payment shrank):
  1. Top up candidates below the suggested installment, smallest first.
  2. Spread what is left evenly over all candidates (EvenShares).

CASE B (delta < 0, the edited payment grew):
  1. Reduce candidates above the suggested installment, largest first,
     never below the suggested installment.
  2. Spread what is left evenly over the untouched candidates, flooring
     every amount at one cent.

CLOSING STEP:
  The pending total is compared with Outstanding and the last pending
  payment absorbs any difference (floored at one cent). A difference that
  survives that adjustment is an InconsistentError.

NO LATER PAYMENTS:
  delta > 0: a new pending payment for delta is scheduled one period after
             the latest payment.
  delta < 0: InconsistentError; there is nothing to claw back from.
*/
package advance

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"
)

// =============================================================================
// PURE DISTRIBUTION
// =============================================================================

// spreadSurplus returns the candidate amounts after absorbing surplus
// (Case A). The result always sums to sum(amounts) + surplus.
func spreadSurplus(amounts []Money, suggested, surplus Money) []Money {
	out := append([]Money(nil), amounts...)
	if len(out) == 0 || !surplus.IsPositive() {
		return out
	}

	for _, i := range orderBy(out, func(a, b Money) bool { return a < b }) {
		if !surplus.IsPositive() {
			break
		}
		if out[i] < suggested {
			add := MinMoney(surplus, suggested-out[i])
			out[i] += add
			surplus -= add
		}
	}

	if surplus.IsPositive() {
		for i, share := range EvenShares(surplus, len(out)) {
			out[i] += share
		}
	}
	return out
}

// spreadDeficit returns the candidate amounts after giving up deficit
// (Case B). Amounts never drop below one cent, so the result may sum to
// more than sum(amounts) - deficit when the candidates are too small.
func spreadDeficit(amounts []Money, suggested, deficit Money) []Money {
	out := append([]Money(nil), amounts...)
	if len(out) == 0 || !deficit.IsPositive() {
		return out
	}

	touched := make([]bool, len(out))
	for _, i := range orderBy(out, func(a, b Money) bool { return a > b }) {
		if !deficit.IsPositive() {
			break
		}
		if out[i] > suggested {
			cut := MinMoney(deficit, out[i]-suggested)
			out[i] -= cut
			deficit -= cut
			touched[i] = true
		}
	}
	if !deficit.IsPositive() {
		return out
	}

	var targets []int
	for i := range out {
		if !touched[i] {
			targets = append(targets, i)
		}
	}
	if len(targets) == 0 {
		for i := range out {
			targets = append(targets, i)
		}
	}
	for k, share := range EvenShares(deficit, len(targets)) {
		i := targets[k]
		out[i] = MaxMoney(out[i]-share, Cent)
	}
	return out
}

// orderBy returns the indices of amounts sorted by less, ties kept in
// chronological order.
func orderBy(amounts []Money, less func(a, b Money) bool) []int {
	idx := make([]int, len(amounts))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return less(amounts[idx[a]], amounts[idx[b]]) })
	return idx
}

// =============================================================================
// REDISTRIBUTOR
// =============================================================================

// redistributeAfterEdit absorbs previous - next into the pending payments
// due after previousDue. edited, when non-zero, is never a candidate.
func (s *session) redistributeAfterEdit(ctx context.Context, id AdvanceID, edited PaymentID, previous, next Money, previousDue time.Time) error {
	delta := previous - next
	if delta.Abs() < Cent {
		return nil
	}
	adv, err := s.store.GetAdvance(ctx, id)
	if err != nil {
		return err
	}
	pending, err := s.pending(ctx, id)
	if err != nil {
		return err
	}

	var candidates []Payment
	for _, p := range pending {
		if p.ID != edited && p.DueDate.After(previousDue) {
			candidates = append(candidates, p)
		}
	}

	if len(candidates) == 0 {
		if delta.IsNegative() {
			return &InconsistentError{
				AdvanceID: id,
				Expected:  adv.Outstanding,
				Actual:    SumAmounts(pending),
				Reason:    "no later pending payments to absorb the increase",
			}
		}
		if err := s.appendSurplus(ctx, adv, delta); err != nil {
			return err
		}
	} else {
		amounts := make([]Money, len(candidates))
		for i, p := range candidates {
			amounts[i] = p.Amount
		}
		if delta.IsPositive() {
			amounts = spreadSurplus(amounts, adv.Suggested, delta)
		} else {
			amounts = spreadDeficit(amounts, adv.Suggested, -delta)
		}
		for i, p := range candidates {
			if amounts[i] == p.Amount {
				continue
			}
			if err := s.store.UpdatePaymentAmount(ctx, p.ID, amounts[i]); err != nil {
				return err
			}
		}
	}

	if err := s.reconcile(ctx, id); err != nil {
		return err
	}
	s.log.Debug("payment edit redistributed",
		zap.Int64("advance_id", int64(id)),
		zap.String("delta", delta.String()),
		zap.Int("candidates", len(candidates)))
	return s.event(ctx, id, EventPaymentRedistributed, "%s over %d later payments", delta, len(candidates))
}

// appendSurplus schedules a pending payment for amount one period after
// the latest payment of the advance.
func (s *session) appendSurplus(ctx context.Context, adv Advance, amount Money) error {
	payments, err := s.store.ListPayments(ctx, adv.ID, nil)
	if err != nil {
		return err
	}
	due := adv.StartDate
	for _, p := range payments {
		if p.DueDate.After(due) {
			due = p.DueDate
		}
	}
	due = AddMonths(due, adv.Periodicity.Months())

	if _, err := s.store.InsertPayment(ctx, Payment{
		AdvanceID:            adv.ID,
		Amount:               amount,
		DueDate:              due,
		Kind:                 KindRegular,
		Status:               PaymentPending,
		DestinationAccountID: adv.SourceAccountID,
	}); err != nil {
		return err
	}
	return s.store.PatchAdvance(ctx, adv.ID, AdvancePatch{ExpectedEndDate: &due})
}

// reconcile forces sum(pending) == Outstanding by adjusting the last
// pending payment.
func (s *session) reconcile(ctx context.Context, id AdvanceID) error {
	adv, err := s.store.GetAdvance(ctx, id)
	if err != nil {
		return err
	}
	pending, err := s.pending(ctx, id)
	if err != nil {
		return err
	}
	total := SumAmounts(pending)
	diff := adv.Outstanding - total
	if diff.IsZero() {
		return nil
	}
	if len(pending) == 0 {
		return &InconsistentError{
			AdvanceID: id,
			Expected:  adv.Outstanding,
			Actual:    total,
			Reason:    "no pending payments left to reconcile against",
		}
	}

	last := pending[len(pending)-1]
	adjusted := MaxMoney(last.Amount+diff, Cent)
	if err := s.store.UpdatePaymentAmount(ctx, last.ID, adjusted); err != nil {
		return err
	}
	if total = total - last.Amount + adjusted; total != adv.Outstanding {
		return &InconsistentError{
			AdvanceID: id,
			Expected:  adv.Outstanding,
			Actual:    total,
			Reason:    "last pending payment cannot absorb the difference",
		}
	}
	s.log.Debug("plan reconciled",
		zap.Int64("advance_id", int64(id)),
		zap.Int64("payment_id", int64(last.ID)),
		zap.String("adjustment", diff.String()))
	return nil
}
