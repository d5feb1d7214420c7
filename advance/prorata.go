package advance

import (
	"context"

	"go.uber.org/zap"
)

// prorate divides the outstanding amount evenly over the pending payments.
// Each payment gets outstanding / n rounded to the cent; the residual
// outstanding - rounded*n is applied one cent at a time to the earliest
// payments. No pending payments is not an error.
func (s *session) prorate(ctx context.Context, id AdvanceID) error {
	adv, err := s.store.GetAdvance(ctx, id)
	if err != nil {
		return err
	}
	pending, err := s.pending(ctx, id)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		s.log.Info("no pending payments to prorate", zap.Int64("advance_id", int64(id)))
		return nil
	}

	amounts := prorataShares(adv.Outstanding, len(pending))
	if amounts == nil {
		return &InconsistentError{
			AdvanceID: id,
			Expected:  adv.Outstanding,
			Actual:    SumAmounts(pending),
			Reason:    "outstanding amount is too small to cover every pending payment",
		}
	}

	changed := 0
	for i, p := range pending {
		if p.Amount == amounts[i] {
			continue
		}
		if err := s.store.UpdatePaymentAmount(ctx, p.ID, amounts[i]); err != nil {
			return err
		}
		changed++
	}
	s.log.Debug("pending payments prorated",
		zap.Int64("advance_id", int64(id)),
		zap.Int("payments", len(pending)),
		zap.Int("changed", changed))
	return s.event(ctx, id, EventPendingProrated, "%s over %d payments", adv.Outstanding, len(pending))
}

// prorataShares returns nil when some share would be below one cent.
// 100.00/3 gives [33.34, 33.33, 33.33]; 200.00/3 gives [66.66, 66.67, 66.67].
func prorataShares(total Money, n int) []Money {
	if n <= 0 || total < Money(n) {
		return nil
	}
	count := Money(n)
	rounded := (2*total + count) / (2 * count)
	residual := total - rounded*count

	step := Cent
	if residual < 0 {
		step, residual = -Cent, -residual
	}
	shares := make([]Money, n)
	for i := range shares {
		shares[i] = rounded
		if Money(i) < residual {
			shares[i] += step
		}
	}
	return shares
}
