/*
engine.go - Atomic, per-advance serialized entry points

PURPOSE:
  The Engine is what the route layer talks to. Every mutating operation:
    1. takes the per-advance lock (Locker)
    2. opens a store transaction (TxStore.WithTx)
    3. runs the component logic against the transactional Store
    4. commits, or rolls back everything on the first error

  Operations on different advances hold different locks and proceed in
  parallel. Queries read the store directly without locking.

COMPONENTS (all run inside a session):
  plan.go:         generatePlan, recalculatePlan
  redistribute.go: redistributeAfterEdit
  ledger.go:       savePayment, setPaymentStatus, deletePayment
  prorata.go:      prorate

SEE ALSO:
  - lock.go: KeyedMutex, the default Locker
  - store/redislock: Locker shared across processes
*/
package advance

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// =============================================================================
// ENGINE
// =============================================================================

type Engine struct {
	store           TxStore
	locker          Locker
	log             *zap.Logger
	maxInstallments int
	lockTimeout     time.Duration
	now             func() time.Time

	// gate is held shared by every operation and exclusively by Reset.
	gate sync.RWMutex
}

type Option func(*Engine)

// WithLocker replaces the in-process KeyedMutex.
func WithLocker(l Locker) Option {
	return func(e *Engine) { e.locker = l }
}

func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.log = l }
}

func WithMaxInstallments(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxInstallments = n
		}
	}
}

// WithLockTimeout bounds how long an operation waits for its advance
// locks. Zero waits as long as the context allows.
func WithLockTimeout(d time.Duration) Option {
	return func(e *Engine) { e.lockTimeout = d }
}

// WithClock sets the time source used for plan event timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func NewEngine(store TxStore, opts ...Option) *Engine {
	e := &Engine{
		store:           store,
		locker:          NewKeyedMutex(),
		log:             zap.NewNop(),
		maxInstallments: DefaultMaxInstallments,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// session is one operation's view of the store. Inside Engine.run the
// store is transactional.
type session struct {
	store           Store
	log             *zap.Logger
	maxInstallments int
	now             func() time.Time
}

// run locks the given advances in id order, then executes fn in a
// transaction.
func (e *Engine) run(ctx context.Context, op string, ids []AdvanceID, fn func(*session) error) error {
	e.gate.RLock()
	defer e.gate.RUnlock()

	unlock, err := e.lockAll(ctx, ids)
	if err != nil {
		return err
	}
	defer unlock()

	log := e.log.With(zap.String("op", op))
	err = e.store.WithTx(ctx, func(tx Store) error {
		return fn(&session{
			store:           tx,
			log:             log,
			maxInstallments: e.maxInstallments,
			now:             e.now,
		})
	})
	if err != nil {
		log.Warn("operation rolled back", zap.Error(err))
		return err
	}
	return nil
}

func (e *Engine) lockAll(ctx context.Context, ids []AdvanceID) (func(), error) {
	if e.lockTimeout > 0 && len(ids) > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.lockTimeout)
		defer cancel()
	}

	sorted := append([]AdvanceID(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var unlocks []func()
	release := func() {
		for i := len(unlocks) - 1; i >= 0; i-- {
			unlocks[i]()
		}
	}
	for i, id := range sorted {
		if i > 0 && sorted[i-1] == id {
			continue
		}
		unlock, err := e.locker.Lock(ctx, LockKey(id))
		if err != nil {
			release()
			return nil, err
		}
		unlocks = append(unlocks, unlock)
	}
	return release, nil
}

// Resetter is implemented by stores that can drop all of their data.
type Resetter interface {
	Reset(ctx context.Context) error
}

type pinger interface {
	Ping(ctx context.Context) error
}

// Reset deletes every advance, payment and plan event. It waits for
// in-flight operations to finish and blocks new ones until it returns.
func (e *Engine) Reset(ctx context.Context) error {
	r, ok := e.store.(Resetter)
	if !ok {
		return errors.New("store does not support reset")
	}

	e.gate.Lock()
	defer e.gate.Unlock()

	if err := r.Reset(ctx); err != nil {
		return err
	}
	e.log.Info("store reset")
	return nil
}

// Ping checks the store connection when the store supports it.
func (e *Engine) Ping(ctx context.Context) error {
	if p, ok := e.store.(pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

// =============================================================================
// ADVANCES
// =============================================================================

// SaveAdvance creates (ID == 0) or updates an advance. When both the
// periodicity and the suggested installment are set, the payment plan is
// generated on create and recalculated on update.
func (e *Engine) SaveAdvance(ctx context.Context, in AdvanceInput) (Advance, error) {
	if err := validateAdvance(in); err != nil {
		return Advance{}, err
	}

	var ids []AdvanceID
	if in.ID != 0 {
		ids = []AdvanceID{in.ID}
	}
	var saved Advance
	err := e.run(ctx, "save_advance", ids, func(s *session) error {
		var err error
		saved, err = s.saveAdvance(ctx, in)
		return err
	})
	return saved, err
}

func validateAdvance(in AdvanceInput) error {
	switch {
	case in.Concept == "":
		return invalidArgument("concept is required")
	case in.Outstanding.IsNegative():
		return invalidArgument("outstanding amount must not be negative, got %s", in.Outstanding)
	case in.Suggested.IsNegative():
		return invalidArgument("suggested installment must not be negative, got %s", in.Suggested)
	case in.StartDate.IsZero():
		return invalidArgument("start date is required")
	case in.Periodicity != "" && !in.Periodicity.Valid():
		return invalidArgument("unknown periodicity %q", in.Periodicity)
	case in.Status != "" && !in.Status.Valid():
		return invalidArgument("unknown advance status %q", in.Status)
	}
	return nil
}

func (s *session) saveAdvance(ctx context.Context, in AdvanceInput) (Advance, error) {
	a := Advance{
		ID:              in.ID,
		Concept:         in.Concept,
		Description:     in.Description,
		Outstanding:     in.Outstanding,
		Suggested:       in.Suggested,
		StartDate:       TruncateDay(in.StartDate),
		ExpectedEndDate: in.ExpectedEndDate,
		SourceAccountID: in.SourceAccountID,
		Periodicity:     in.Periodicity,
	}
	// Status follows the balance whatever the caller sent.
	a.Status = statusFor(a.Outstanding)
	withPlan := a.Periodicity != "" && a.Suggested.IsPositive()

	if a.ID == 0 {
		id, err := s.store.InsertAdvance(ctx, a)
		if err != nil {
			return Advance{}, err
		}
		a.ID = id
		if err := s.event(ctx, id, EventAdvanceSaved, "created %q, outstanding %s", a.Concept, a.Outstanding); err != nil {
			return Advance{}, err
		}
		if withPlan && a.Outstanding.IsPositive() {
			if err := s.generatePlan(ctx, id, planTerms{
				Outstanding: a.Outstanding,
				Suggested:   a.Suggested,
				StartDate:   a.StartDate,
				Periodicity: a.Periodicity,
			}); err != nil {
				return Advance{}, err
			}
		}
		return s.store.GetAdvance(ctx, id)
	}

	existing, err := s.store.GetAdvance(ctx, a.ID)
	if err != nil {
		return Advance{}, err
	}
	if a.Description == "" {
		a.Description = existing.Description
	}
	if a.ExpectedEndDate == nil {
		a.ExpectedEndDate = existing.ExpectedEndDate
	}
	if err := s.store.UpdateAdvance(ctx, a); err != nil {
		return Advance{}, err
	}
	if err := s.event(ctx, a.ID, EventAdvanceSaved, "updated %q, outstanding %s", a.Concept, a.Outstanding); err != nil {
		return Advance{}, err
	}
	if withPlan {
		if err := s.recalculatePlan(ctx, a.ID, PlanTerms{}); err != nil {
			return Advance{}, err
		}
	}
	return s.store.GetAdvance(ctx, a.ID)
}

// DeleteAdvances removes the advances together with their payments and
// plan events. Unknown ids are ignored.
func (e *Engine) DeleteAdvances(ctx context.Context, ids []AdvanceID) error {
	if len(ids) == 0 {
		return invalidArgument("no advances to delete")
	}
	return e.run(ctx, "delete_advances", ids, func(s *session) error {
		if err := s.store.DeleteAdvances(ctx, ids); err != nil {
			return err
		}
		s.log.Info("advances deleted", zap.Int("count", len(ids)))
		return nil
	})
}

func (e *Engine) ListAdvances(ctx context.Context) ([]Advance, error) {
	return e.store.ListAdvances(ctx)
}

func (e *Engine) GetAdvance(ctx context.Context, id AdvanceID) (Advance, error) {
	return e.store.GetAdvance(ctx, id)
}

// ListPayments returns every payment of the advance by due date.
func (e *Engine) ListPayments(ctx context.Context, id AdvanceID) ([]Payment, error) {
	if _, err := e.store.GetAdvance(ctx, id); err != nil {
		return nil, err
	}
	return e.store.ListPayments(ctx, id, nil)
}

// Events returns the plan event log of the advance, oldest first.
func (e *Engine) Events(ctx context.Context, id AdvanceID) ([]PlanEvent, error) {
	if _, err := e.store.GetAdvance(ctx, id); err != nil {
		return nil, err
	}
	return e.store.ListEvents(ctx, id)
}

// =============================================================================
// PLANS
// =============================================================================

func (e *Engine) GeneratePlan(ctx context.Context, id AdvanceID, outstanding, suggested Money, start time.Time, periodicity Periodicity) error {
	return e.run(ctx, "generate_plan", []AdvanceID{id}, func(s *session) error {
		return s.generatePlan(ctx, id, planTerms{
			Outstanding: outstanding,
			Suggested:   suggested,
			StartDate:   TruncateDay(start),
			Periodicity: periodicity,
		})
	})
}

func (e *Engine) RecalculatePlan(ctx context.Context, id AdvanceID, terms PlanTerms) error {
	return e.run(ctx, "recalculate_plan", []AdvanceID{id}, func(s *session) error {
		return s.recalculatePlan(ctx, id, terms)
	})
}

func (e *Engine) RedistributeAfterEdit(ctx context.Context, id AdvanceID, previous, next Money, previousDue time.Time) error {
	return e.run(ctx, "redistribute", []AdvanceID{id}, func(s *session) error {
		return s.redistributeAfterEdit(ctx, id, 0, previous, next, TruncateDay(previousDue))
	})
}

// RecalculatePendingPayments spreads the outstanding amount evenly over
// the pending payments.
func (e *Engine) RecalculatePendingPayments(ctx context.Context, id AdvanceID) error {
	return e.run(ctx, "recalculate_pending", []AdvanceID{id}, func(s *session) error {
		return s.prorate(ctx, id)
	})
}

// =============================================================================
// PAYMENTS
// =============================================================================

// SavePayment creates (ID == 0) or updates a payment and applies its
// effects on the advance balance and plan.
func (e *Engine) SavePayment(ctx context.Context, in PaymentInput) (Payment, error) {
	in, err := normalizePayment(in)
	if err != nil {
		return Payment{}, err
	}
	advanceID := in.AdvanceID
	if in.ID != 0 {
		existing, err := e.store.GetPayment(ctx, in.ID)
		if err != nil {
			return Payment{}, err
		}
		if advanceID != 0 && advanceID != existing.AdvanceID {
			return Payment{}, invalidArgument("payment %d belongs to advance %d, not %d", in.ID, existing.AdvanceID, advanceID)
		}
		advanceID = existing.AdvanceID
	}

	var saved Payment
	err = e.run(ctx, "save_payment", []AdvanceID{advanceID}, func(s *session) error {
		var err error
		saved, err = s.savePayment(ctx, in)
		return err
	})
	return saved, err
}

// SetPaymentStatus flips a payment between pending and paid.
func (e *Engine) SetPaymentStatus(ctx context.Context, id PaymentID, status PaymentStatus) (Payment, error) {
	if !status.Valid() {
		return Payment{}, invalidArgument("unknown payment status %q", status)
	}
	p, err := e.store.GetPayment(ctx, id)
	if err != nil {
		return Payment{}, err
	}

	var saved Payment
	err = e.run(ctx, "set_payment_status", []AdvanceID{p.AdvanceID}, func(s *session) error {
		var err error
		saved, err = s.setPaymentStatus(ctx, id, status)
		return err
	})
	return saved, err
}

// DeletePayment removes a payment, credits it back when it was paid and,
// when redistribute is set, prorates the outstanding amount over the
// remaining pending payments.
func (e *Engine) DeletePayment(ctx context.Context, id PaymentID, redistribute bool) (DeletionResult, error) {
	p, err := e.store.GetPayment(ctx, id)
	if err != nil {
		return DeletionResult{}, err
	}

	var result DeletionResult
	err = e.run(ctx, "delete_payment", []AdvanceID{p.AdvanceID}, func(s *session) error {
		var err error
		result, err = s.deletePayment(ctx, id, redistribute)
		return err
	})
	return result, err
}
