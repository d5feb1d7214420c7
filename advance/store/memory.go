// Package store provides in-memory Store implementations.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/warp/household-ledger/advance"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu sync.RWMutex
	ledger
}

// ledger holds the rows. Its methods assume the caller holds the lock.
type ledger struct {
	advances    map[advance.AdvanceID]advance.Advance
	payments    map[advance.PaymentID]advance.Payment
	events      []advance.PlanEvent
	nextAdvance advance.AdvanceID
	nextPayment advance.PaymentID
}

func NewMemory() *Memory {
	return &Memory{ledger: newLedger()}
}

func newLedger() ledger {
	return ledger{
		advances: make(map[advance.AdvanceID]advance.Advance),
		payments: make(map[advance.PaymentID]advance.Payment),
	}
}

func (m *Memory) GetAdvance(_ context.Context, id advance.AdvanceID) (advance.Advance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getAdvance(id)
}

func (m *Memory) ListAdvances(_ context.Context) ([]advance.Advance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listAdvances(), nil
}

func (m *Memory) InsertAdvance(_ context.Context, a advance.Advance) (advance.AdvanceID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertAdvance(a), nil
}

func (m *Memory) UpdateAdvance(_ context.Context, a advance.Advance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateAdvance(a)
}

func (m *Memory) PatchAdvance(_ context.Context, id advance.AdvanceID, patch advance.AdvancePatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.patchAdvance(id, patch)
}

func (m *Memory) DeleteAdvances(_ context.Context, ids []advance.AdvanceID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteAdvances(ids)
	return nil
}

func (m *Memory) GetPayment(_ context.Context, id advance.PaymentID) (advance.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getPayment(id)
}

func (m *Memory) ListPayments(_ context.Context, id advance.AdvanceID, status *advance.PaymentStatus) ([]advance.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listPayments(id, status), nil
}

func (m *Memory) InsertPayment(_ context.Context, p advance.Payment) (advance.PaymentID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertPayment(p)
}

func (m *Memory) UpdatePayment(_ context.Context, p advance.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updatePayment(p)
}

func (m *Memory) UpdatePaymentAmount(_ context.Context, id advance.PaymentID, amount advance.Money) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.modifyPayment(id, func(p *advance.Payment) { p.Amount = amount })
}

func (m *Memory) UpdatePaymentStatus(_ context.Context, id advance.PaymentID, status advance.PaymentStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.modifyPayment(id, func(p *advance.Payment) { p.Status = status })
}

func (m *Memory) DeletePayment(_ context.Context, id advance.PaymentID) (advance.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deletePayment(id)
}

func (m *Memory) AppendEvent(_ context.Context, e advance.PlanEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return nil
}

func (m *Memory) ListEvents(_ context.Context, id advance.AdvanceID) ([]advance.PlanEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listEvents(id), nil
}

// Reset deletes every row and restarts the id sequences.
func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ledger = newLedger()
	return nil
}

// =============================================================================
// ROW OPERATIONS
// =============================================================================

func (l *ledger) getAdvance(id advance.AdvanceID) (advance.Advance, error) {
	a, ok := l.advances[id]
	if !ok {
		return advance.Advance{}, fmt.Errorf("%w: %d", advance.ErrAdvanceNotFound, id)
	}
	return cloneAdvance(a), nil
}

func (l *ledger) listAdvances() []advance.Advance {
	result := make([]advance.Advance, 0, len(l.advances))
	for _, a := range l.advances {
		result = append(result, cloneAdvance(a))
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].StartDate.Equal(result[j].StartDate) {
			return result[i].StartDate.Before(result[j].StartDate)
		}
		return result[i].ID < result[j].ID
	})
	return result
}

func (l *ledger) insertAdvance(a advance.Advance) advance.AdvanceID {
	l.nextAdvance++
	a.ID = l.nextAdvance
	l.advances[a.ID] = cloneAdvance(a)
	return a.ID
}

func (l *ledger) updateAdvance(a advance.Advance) error {
	if _, ok := l.advances[a.ID]; !ok {
		return fmt.Errorf("%w: %d", advance.ErrAdvanceNotFound, a.ID)
	}
	l.advances[a.ID] = cloneAdvance(a)
	return nil
}

func (l *ledger) patchAdvance(id advance.AdvanceID, patch advance.AdvancePatch) error {
	a, ok := l.advances[id]
	if !ok {
		return fmt.Errorf("%w: %d", advance.ErrAdvanceNotFound, id)
	}
	if patch.Outstanding != nil {
		a.Outstanding = *patch.Outstanding
	}
	if patch.Status != nil {
		a.Status = *patch.Status
	}
	if patch.ExpectedEndDate != nil {
		end := *patch.ExpectedEndDate
		a.ExpectedEndDate = &end
	}
	l.advances[id] = a
	return nil
}

func (l *ledger) deleteAdvances(ids []advance.AdvanceID) {
	drop := make(map[advance.AdvanceID]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
		delete(l.advances, id)
	}
	for id, p := range l.payments {
		if drop[p.AdvanceID] {
			delete(l.payments, id)
		}
	}
	kept := l.events[:0]
	for _, e := range l.events {
		if !drop[e.AdvanceID] {
			kept = append(kept, e)
		}
	}
	l.events = kept
}

func (l *ledger) getPayment(id advance.PaymentID) (advance.Payment, error) {
	p, ok := l.payments[id]
	if !ok {
		return advance.Payment{}, fmt.Errorf("%w: %d", advance.ErrPaymentNotFound, id)
	}
	return clonePayment(p), nil
}

// listPayments orders by due date, then id.
func (l *ledger) listPayments(id advance.AdvanceID, status *advance.PaymentStatus) []advance.Payment {
	var result []advance.Payment
	for _, p := range l.payments {
		if p.AdvanceID != id || (status != nil && p.Status != *status) {
			continue
		}
		result = append(result, clonePayment(p))
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].DueDate.Equal(result[j].DueDate) {
			return result[i].DueDate.Before(result[j].DueDate)
		}
		return result[i].ID < result[j].ID
	})
	return result
}

func (l *ledger) insertPayment(p advance.Payment) (advance.PaymentID, error) {
	if _, ok := l.advances[p.AdvanceID]; !ok {
		return 0, fmt.Errorf("%w: %d", advance.ErrAdvanceNotFound, p.AdvanceID)
	}
	l.nextPayment++
	p.ID = l.nextPayment
	l.payments[p.ID] = clonePayment(p)
	return p.ID, nil
}

func (l *ledger) updatePayment(p advance.Payment) error {
	if _, ok := l.payments[p.ID]; !ok {
		return fmt.Errorf("%w: %d", advance.ErrPaymentNotFound, p.ID)
	}
	l.payments[p.ID] = clonePayment(p)
	return nil
}

func (l *ledger) modifyPayment(id advance.PaymentID, fn func(*advance.Payment)) error {
	p, ok := l.payments[id]
	if !ok {
		return fmt.Errorf("%w: %d", advance.ErrPaymentNotFound, id)
	}
	fn(&p)
	l.payments[id] = p
	return nil
}

func (l *ledger) deletePayment(id advance.PaymentID) (advance.Payment, error) {
	p, ok := l.payments[id]
	if !ok {
		return advance.Payment{}, fmt.Errorf("%w: %d", advance.ErrPaymentNotFound, id)
	}
	delete(l.payments, id)
	return p, nil
}

func (l *ledger) listEvents(id advance.AdvanceID) []advance.PlanEvent {
	var result []advance.PlanEvent
	for _, e := range l.events {
		if e.AdvanceID == id {
			result = append(result, e)
		}
	}
	return result
}

func cloneAdvance(a advance.Advance) advance.Advance {
	if a.ExpectedEndDate != nil {
		end := *a.ExpectedEndDate
		a.ExpectedEndDate = &end
	}
	if a.SourceAccountID != nil {
		acc := *a.SourceAccountID
		a.SourceAccountID = &acc
	}
	return a
}

func clonePayment(p advance.Payment) advance.Payment {
	if p.DestinationAccountID != nil {
		acc := *p.DestinationAccountID
		p.DestinationAccountID = &acc
	}
	return p
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
// Transactions are serialized by the store mutex.
func (tm *TxMemory) WithTx(ctx context.Context, fn func(advance.Store) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	snapshot := tm.snapshot()
	if err := fn(&txMemoryView{l: &tm.ledger}); err != nil {
		tm.ledger = snapshot
		return err
	}
	return nil
}

func (tm *TxMemory) snapshot() ledger {
	s := ledger{
		advances:    make(map[advance.AdvanceID]advance.Advance, len(tm.advances)),
		payments:    make(map[advance.PaymentID]advance.Payment, len(tm.payments)),
		events:      append([]advance.PlanEvent(nil), tm.events...),
		nextAdvance: tm.nextAdvance,
		nextPayment: tm.nextPayment,
	}
	for k, v := range tm.advances {
		s.advances[k] = cloneAdvance(v)
	}
	for k, v := range tm.payments {
		s.payments[k] = clonePayment(v)
	}
	return s
}

// txMemoryView runs against the ledger while WithTx holds the lock.
type txMemoryView struct {
	l *ledger
}

func (tv *txMemoryView) GetAdvance(_ context.Context, id advance.AdvanceID) (advance.Advance, error) {
	return tv.l.getAdvance(id)
}

func (tv *txMemoryView) ListAdvances(_ context.Context) ([]advance.Advance, error) {
	return tv.l.listAdvances(), nil
}

func (tv *txMemoryView) InsertAdvance(_ context.Context, a advance.Advance) (advance.AdvanceID, error) {
	return tv.l.insertAdvance(a), nil
}

func (tv *txMemoryView) UpdateAdvance(_ context.Context, a advance.Advance) error {
	return tv.l.updateAdvance(a)
}

func (tv *txMemoryView) PatchAdvance(_ context.Context, id advance.AdvanceID, patch advance.AdvancePatch) error {
	return tv.l.patchAdvance(id, patch)
}

func (tv *txMemoryView) DeleteAdvances(_ context.Context, ids []advance.AdvanceID) error {
	tv.l.deleteAdvances(ids)
	return nil
}

func (tv *txMemoryView) GetPayment(_ context.Context, id advance.PaymentID) (advance.Payment, error) {
	return tv.l.getPayment(id)
}

func (tv *txMemoryView) ListPayments(_ context.Context, id advance.AdvanceID, status *advance.PaymentStatus) ([]advance.Payment, error) {
	return tv.l.listPayments(id, status), nil
}

func (tv *txMemoryView) InsertPayment(_ context.Context, p advance.Payment) (advance.PaymentID, error) {
	return tv.l.insertPayment(p)
}

func (tv *txMemoryView) UpdatePayment(_ context.Context, p advance.Payment) error {
	return tv.l.updatePayment(p)
}

func (tv *txMemoryView) UpdatePaymentAmount(_ context.Context, id advance.PaymentID, amount advance.Money) error {
	return tv.l.modifyPayment(id, func(p *advance.Payment) { p.Amount = amount })
}

func (tv *txMemoryView) UpdatePaymentStatus(_ context.Context, id advance.PaymentID, status advance.PaymentStatus) error {
	return tv.l.modifyPayment(id, func(p *advance.Payment) { p.Status = status })
}

func (tv *txMemoryView) DeletePayment(_ context.Context, id advance.PaymentID) (advance.Payment, error) {
	return tv.l.deletePayment(id)
}

func (tv *txMemoryView) AppendEvent(_ context.Context, e advance.PlanEvent) error {
	tv.l.events = append(tv.l.events, e)
	return nil
}

func (tv *txMemoryView) ListEvents(_ context.Context, id advance.AdvanceID) ([]advance.PlanEvent, error) {
	return tv.l.listEvents(id), nil
}
