/*
store.go - Persistence interface for advances, payments and plan events

PURPOSE:
  Defines the contract between the plan engine and the ledger database.
  The engine never talks to a database directly; it receives a Store and,
  for atomic operations, a TxStore.

KEY INTERFACES:
  Store:   advance and payment rows, plan event log
  TxStore: Store plus WithTx for all-or-nothing operation sequences

ORDERING:
  ListPayments returns payments ascending by due date, ties broken by id.
  "The last pending payment" is therefore the final element of the
  pending list.

IMPLEMENTATIONS:
  - advance/store/memory.go: In-memory, snapshot rollback
  - store/sqlite/sqlite.go:  SQLite with database/sql transactions

SEE ALSO:
  - engine.go: wraps every operation in WithTx
*/
package advance

import (
	"context"
	"time"
)

// =============================================================================
// STORE - Ledger persistence
// =============================================================================

// AdvancePatch updates selected columns of an advance. Nil fields are left
// untouched.
type AdvancePatch struct {
	Outstanding     *Money
	Status          *AdvanceStatus
	ExpectedEndDate *time.Time
}

func (p AdvancePatch) IsEmpty() bool {
	return p.Outstanding == nil && p.Status == nil && p.ExpectedEndDate == nil
}

type Store interface {
	// GetAdvance returns ErrAdvanceNotFound when id does not exist.
	GetAdvance(ctx context.Context, id AdvanceID) (Advance, error)
	// ListAdvances returns all advances ordered by start date.
	ListAdvances(ctx context.Context) ([]Advance, error)
	InsertAdvance(ctx context.Context, a Advance) (AdvanceID, error)
	// UpdateAdvance overwrites every column of an existing advance.
	UpdateAdvance(ctx context.Context, a Advance) error
	PatchAdvance(ctx context.Context, id AdvanceID, patch AdvancePatch) error
	// DeleteAdvances removes the advances and all of their payments.
	DeleteAdvances(ctx context.Context, ids []AdvanceID) error

	// GetPayment returns ErrPaymentNotFound when id does not exist.
	GetPayment(ctx context.Context, id PaymentID) (Payment, error)
	// ListPayments returns the advance's payments by due date. A nil status
	// returns every payment.
	ListPayments(ctx context.Context, advanceID AdvanceID, status *PaymentStatus) ([]Payment, error)
	InsertPayment(ctx context.Context, p Payment) (PaymentID, error)
	// UpdatePayment overwrites every column of an existing payment.
	UpdatePayment(ctx context.Context, p Payment) error
	UpdatePaymentAmount(ctx context.Context, id PaymentID, amount Money) error
	UpdatePaymentStatus(ctx context.Context, id PaymentID, status PaymentStatus) error
	// DeletePayment removes the payment and returns the deleted row.
	DeletePayment(ctx context.Context, id PaymentID) (Payment, error)

	AppendEvent(ctx context.Context, e PlanEvent) error
	ListEvents(ctx context.Context, advanceID AdvanceID) ([]PlanEvent, error)
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// =============================================================================
// PLAN EVENTS - Audit trail of engine operations
// =============================================================================

type EventAction string

const (
	EventAdvanceSaved         EventAction = "advance_saved"
	EventPlanGenerated        EventAction = "plan_generated"
	EventPlanRecalculated     EventAction = "plan_recalculated"
	EventPaymentSaved         EventAction = "payment_saved"
	EventPaymentStatusChanged EventAction = "payment_status_changed"
	EventPaymentRedistributed EventAction = "payment_redistributed"
	EventPaymentDeleted       EventAction = "payment_deleted"
	EventPendingProrated      EventAction = "pending_prorated"
)

// PlanEvent records one engine operation on an advance. Events are written
// in the same transaction as the change they describe.
type PlanEvent struct {
	ID        string
	AdvanceID AdvanceID
	Action    EventAction
	Detail    string
	At        time.Time
}
