/*
Package advance provides the payment-plan engine for advances (loans).

PURPOSE:
  An advance is an amount owed that is repaid through scheduled payments.
  This package keeps the advance's outstanding amount and its set of
  pending payments consistent while plans are generated, recalculated,
  edited, settled and deleted.

KEY CONCEPTS IN THIS FILE (types.go):
  - Advance: the loan row (outstanding amount, suggested installment, terms)
  - Payment: one scheduled or settled installment of an advance
  - Status / Kind enums for both

INVARIANTS:
  1. sum(pending payments) == Advance.Outstanding after every operation
     that ends with a reconciliation step
  2. No redistributed payment is below one cent
  3. Advance.Status is completed iff Outstanding is exactly zero

USAGE:
  engine := advance.NewEngine(store.NewTxMemory())
  adv, err := engine.SaveAdvance(ctx, advance.AdvanceInput{
      Concept:     "Car loan",
      Outstanding: advance.MustParseMoney("1000"),
      Suggested:   advance.MustParseMoney("300"),
      StartDate:   advance.Date(2025, time.January, 1),
      Periodicity: advance.Monthly,
  })

SEE ALSO:
  - money.go: integer-cent amounts
  - plan.go: plan generation and recalculation
  - redistribute.go: redistribution after a payment edit
  - ledger.go: balance effects of payment status changes
  - engine.go: atomic, per-advance serialized entry points
*/
package advance

import "time"

// =============================================================================
// IDENTIFIERS
// =============================================================================

type AdvanceID int64
type PaymentID int64
type AccountID int64

// =============================================================================
// ADVANCE
// =============================================================================

type AdvanceStatus string

const (
	StatusActive    AdvanceStatus = "active"
	StatusCompleted AdvanceStatus = "completed"
)

func (s AdvanceStatus) Valid() bool {
	return s == StatusActive || s == StatusCompleted
}

// Advance is a loan or cash advance repaid by installments.
// Outstanding is debited when a payment is settled and credited back when
// a settlement is reverted.
type Advance struct {
	ID              AdvanceID
	Concept         string
	Description     string
	Outstanding     Money
	Suggested       Money
	StartDate       time.Time
	ExpectedEndDate *time.Time
	Status          AdvanceStatus
	SourceAccountID *AccountID
	Periodicity     Periodicity
}

// =============================================================================
// PAYMENT
// =============================================================================

type PaymentKind string

const (
	KindRegular       PaymentKind = "regular"
	KindExtraordinary PaymentKind = "extraordinary"
)

func (k PaymentKind) Valid() bool {
	return k == KindRegular || k == KindExtraordinary
}

type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentPaid    PaymentStatus = "paid"
)

func (s PaymentStatus) Valid() bool {
	return s == PaymentPending || s == PaymentPaid
}

// Payment is one installment of an advance.
type Payment struct {
	ID                   PaymentID
	AdvanceID            AdvanceID
	Amount               Money
	DueDate              time.Time
	Kind                 PaymentKind
	Status               PaymentStatus
	DestinationAccountID *AccountID
	Description          string
}

func (p Payment) IsPending() bool { return p.Status == PaymentPending }
func (p Payment) IsPaid() bool    { return p.Status == PaymentPaid }

// SumAmounts totals the amounts of the given payments.
func SumAmounts(payments []Payment) Money {
	var total Money
	for _, p := range payments {
		total += p.Amount
	}
	return total
}

// PendingOnly filters payments down to the pending ones, keeping order.
func PendingOnly(payments []Payment) []Payment {
	var out []Payment
	for _, p := range payments {
		if p.IsPending() {
			out = append(out, p)
		}
	}
	return out
}

// =============================================================================
// INPUTS
// =============================================================================

// AdvanceInput creates (ID == 0) or updates an advance.
type AdvanceInput struct {
	ID              AdvanceID
	Concept         string
	Description     string
	Outstanding     Money
	Suggested       Money
	StartDate       time.Time
	ExpectedEndDate *time.Time
	Status          AdvanceStatus
	SourceAccountID *AccountID
	Periodicity     Periodicity
}

// PaymentInput creates (ID == 0) or updates a payment.
type PaymentInput struct {
	ID                   PaymentID
	AdvanceID            AdvanceID
	Amount               Money
	DueDate              time.Time
	Kind                 PaymentKind
	Status               PaymentStatus
	DestinationAccountID *AccountID
	Description          string
}

// PlanTerms are the inputs of a plan recalculation. Nil fields are read
// from the stored advance.
type PlanTerms struct {
	Outstanding *Money
	Suggested   *Money
	StartDate   *time.Time
	Periodicity *Periodicity
}

// DeletionResult reports the state of the advance after a payment deletion.
type DeletionResult struct {
	Deleted     Payment
	AdvanceID   AdvanceID
	Outstanding Money
}
