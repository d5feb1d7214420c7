/*
ledger.go - Balance effects of payments

PURPOSE:
  Keeps Advance.Outstanding in step with payment settlements. This is the
  Payment Status Transition Handler plus the payment upsert and deletion
  that drive it.

TRANSITIONS:
  pending -> paid:    debit the new amount
  paid    -> pending: credit the previous amount back
  same state:         no balance effect

  After every debit or credit the advance status is recomputed:
  completed iff Outstanding is exactly zero, active otherwise.

UPSERT EFFECTS:
  insert:  paid -> debit; extraordinary -> recalculate the plan
  update:  transition above; pending with a changed amount ->
           redistribute the difference over the later pending payments

SEE ALSO:
  - redistribute.go: redistributeAfterEdit
  - plan.go: recalculatePlan
*/
package advance

import (
	"context"

	"go.uber.org/zap"
)

// =============================================================================
// BALANCE
// =============================================================================

func statusFor(outstanding Money) AdvanceStatus {
	if outstanding.IsZero() {
		return StatusCompleted
	}
	return StatusActive
}

// debit settles amount against the advance.
func (s *session) debit(ctx context.Context, id AdvanceID, amount Money) error {
	return s.adjustOutstanding(ctx, id, -amount)
}

// credit reverts a settlement of amount.
func (s *session) credit(ctx context.Context, id AdvanceID, amount Money) error {
	return s.adjustOutstanding(ctx, id, amount)
}

func (s *session) adjustOutstanding(ctx context.Context, id AdvanceID, delta Money) error {
	adv, err := s.store.GetAdvance(ctx, id)
	if err != nil {
		return err
	}
	outstanding := adv.Outstanding + delta
	patch := AdvancePatch{Outstanding: &outstanding}
	if status := statusFor(outstanding); status != adv.Status {
		patch.Status = &status
		s.log.Info("advance status changed",
			zap.Int64("advance_id", int64(id)),
			zap.String("from", string(adv.Status)),
			zap.String("to", string(status)))
	}
	return s.store.PatchAdvance(ctx, id, patch)
}

// applyTransition applies the balance effect of a payment moving from one
// status to another.
func (s *session) applyTransition(ctx context.Context, id AdvanceID, from, to PaymentStatus, previous, next Money) error {
	switch {
	case from == PaymentPending && to == PaymentPaid:
		return s.debit(ctx, id, next)
	case from == PaymentPaid && to == PaymentPending:
		return s.credit(ctx, id, previous)
	}
	return nil
}

// =============================================================================
// PAYMENT UPSERT
// =============================================================================

// normalizePayment fills defaults and rejects malformed input.
func normalizePayment(in PaymentInput) (PaymentInput, error) {
	if in.Kind == "" {
		in.Kind = KindRegular
	}
	if in.Status == "" {
		in.Status = PaymentPending
	}
	switch {
	case in.ID == 0 && in.AdvanceID == 0:
		return in, invalidArgument("advance id is required")
	case !in.Amount.IsPositive():
		return in, invalidArgument("payment amount must be positive, got %s", in.Amount)
	case in.DueDate.IsZero():
		return in, invalidArgument("due date is required")
	case !in.Kind.Valid():
		return in, invalidArgument("unknown payment kind %q", in.Kind)
	case !in.Status.Valid():
		return in, invalidArgument("unknown payment status %q", in.Status)
	}
	in.DueDate = TruncateDay(in.DueDate)
	return in, nil
}

func (s *session) savePayment(ctx context.Context, in PaymentInput) (Payment, error) {
	if in.ID == 0 {
		return s.insertPayment(ctx, in)
	}
	return s.updatePayment(ctx, in)
}

func (s *session) insertPayment(ctx context.Context, in PaymentInput) (Payment, error) {
	adv, err := s.store.GetAdvance(ctx, in.AdvanceID)
	if err != nil {
		return Payment{}, err
	}
	p := Payment{
		AdvanceID:            in.AdvanceID,
		Amount:               in.Amount,
		DueDate:              in.DueDate,
		Kind:                 in.Kind,
		Status:               in.Status,
		DestinationAccountID: in.DestinationAccountID,
		Description:          in.Description,
	}
	if p.ID, err = s.store.InsertPayment(ctx, p); err != nil {
		return Payment{}, err
	}
	if err := s.event(ctx, p.AdvanceID, EventPaymentSaved, "payment %d of %s (%s, %s) added", p.ID, p.Amount, p.Kind, p.Status); err != nil {
		return Payment{}, err
	}

	if p.IsPaid() {
		if err := s.debit(ctx, p.AdvanceID, p.Amount); err != nil {
			return Payment{}, err
		}
	}
	if p.Kind == KindExtraordinary {
		if !adv.Suggested.IsPositive() || !adv.Periodicity.Valid() {
			s.log.Info("advance has no plan terms, skipping recalculation",
				zap.Int64("advance_id", int64(adv.ID)))
		} else if err := s.recalculatePlan(ctx, adv.ID, PlanTerms{}); err != nil {
			return Payment{}, err
		}
	}
	return s.store.GetPayment(ctx, p.ID)
}

func (s *session) updatePayment(ctx context.Context, in PaymentInput) (Payment, error) {
	existing, err := s.store.GetPayment(ctx, in.ID)
	if err != nil {
		return Payment{}, err
	}
	p := Payment{
		ID:                   existing.ID,
		AdvanceID:            existing.AdvanceID,
		Amount:               in.Amount,
		DueDate:              in.DueDate,
		Kind:                 in.Kind,
		Status:               in.Status,
		DestinationAccountID: in.DestinationAccountID,
		Description:          in.Description,
	}
	if p.Description == "" {
		p.Description = existing.Description
	}
	if err := s.store.UpdatePayment(ctx, p); err != nil {
		return Payment{}, err
	}
	if err := s.event(ctx, p.AdvanceID, EventPaymentSaved, "payment %d updated: %s -> %s, %s -> %s",
		p.ID, existing.Amount, p.Amount, existing.Status, p.Status); err != nil {
		return Payment{}, err
	}

	if err := s.applyTransition(ctx, p.AdvanceID, existing.Status, p.Status, existing.Amount, p.Amount); err != nil {
		return Payment{}, err
	}
	if p.IsPending() && p.Amount != existing.Amount {
		if err := s.redistributeAfterEdit(ctx, p.AdvanceID, p.ID, existing.Amount, p.Amount, existing.DueDate); err != nil {
			return Payment{}, err
		}
	}
	return s.store.GetPayment(ctx, p.ID)
}

func (s *session) setPaymentStatus(ctx context.Context, id PaymentID, status PaymentStatus) (Payment, error) {
	p, err := s.store.GetPayment(ctx, id)
	if err != nil {
		return Payment{}, err
	}
	if p.Status == status {
		return p, nil
	}
	if err := s.store.UpdatePaymentStatus(ctx, id, status); err != nil {
		return Payment{}, err
	}
	if err := s.applyTransition(ctx, p.AdvanceID, p.Status, status, p.Amount, p.Amount); err != nil {
		return Payment{}, err
	}
	if err := s.event(ctx, p.AdvanceID, EventPaymentStatusChanged, "payment %d %s -> %s", id, p.Status, status); err != nil {
		return Payment{}, err
	}
	p.Status = status
	return p, nil
}

// =============================================================================
// DELETION
// =============================================================================

func (s *session) deletePayment(ctx context.Context, id PaymentID, redistribute bool) (DeletionResult, error) {
	deleted, err := s.store.DeletePayment(ctx, id)
	if err != nil {
		return DeletionResult{}, err
	}
	if deleted.IsPaid() {
		if err := s.credit(ctx, deleted.AdvanceID, deleted.Amount); err != nil {
			return DeletionResult{}, err
		}
	}
	if err := s.event(ctx, deleted.AdvanceID, EventPaymentDeleted, "payment %d of %s (%s) deleted", id, deleted.Amount, deleted.Status); err != nil {
		return DeletionResult{}, err
	}
	if redistribute {
		if err := s.prorate(ctx, deleted.AdvanceID); err != nil {
			return DeletionResult{}, err
		}
	}

	adv, err := s.store.GetAdvance(ctx, deleted.AdvanceID)
	if err != nil {
		return DeletionResult{}, err
	}
	return DeletionResult{
		Deleted:     deleted,
		AdvanceID:   adv.ID,
		Outstanding: adv.Outstanding,
	}, nil
}
