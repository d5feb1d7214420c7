package advance

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cents(values ...int64) []Money {
	out := make([]Money, len(values))
	for i, v := range values {
		out[i] = Money(v)
	}
	return out
}

func total(amounts []Money) Money {
	var sum Money
	for _, a := range amounts {
		sum += a
	}
	return sum
}

// =============================================================================
// CASE A - SURPLUS
// =============================================================================

func TestSpreadSurplus_TopsUpSmallestFirst(t *testing.T) {
	// GIVEN: Later payments [300, 100] with a 300 suggested installment
	// WHEN: 100 is freed by an edit
	// THEN: The short payment is topped up, the full one is left alone

	got := spreadSurplus(cents(30000, 10000), 30000, 10000)
	assert.Equal(t, cents(30000, 20000), got)
}

func TestSpreadSurplus_SpreadsRemainderEvenly(t *testing.T) {
	// GIVEN: Top-ups cannot absorb the whole surplus
	// WHEN: 500 is freed over [300, 100]
	// THEN: 200 tops up the second payment, 300 is split 150/150

	got := spreadSurplus(cents(30000, 10000), 30000, 50000)
	assert.Equal(t, cents(45000, 45000), got)
	assert.Equal(t, Money(90000), total(got))
}

func TestSpreadSurplus_TiesInChronologicalOrder(t *testing.T) {
	got := spreadSurplus(cents(10000, 10000), 30000, 5000)
	assert.Equal(t, cents(15000, 10000), got)
}

func TestSpreadSurplus_DoesNotModifyInput(t *testing.T) {
	in := cents(10000, 20000)
	_ = spreadSurplus(in, 30000, 5000)
	assert.Equal(t, cents(10000, 20000), in)
}

// =============================================================================
// CASE B - DEFICIT
// =============================================================================

func TestSpreadDeficit_ReducesLargestDownToSuggested(t *testing.T) {
	// GIVEN: Later payments [400, 300, 300] with a 300 suggested installment
	// WHEN: 150 more is needed by an edit
	// THEN: 400 drops to 300, the remaining 50 comes from the untouched two

	got := spreadDeficit(cents(40000, 30000, 30000), 30000, 15000)
	assert.Equal(t, cents(30000, 27500, 27500), got)
	assert.Equal(t, Money(85000), total(got))
}

func TestSpreadDeficit_AllAtSuggestedSharesEvenly(t *testing.T) {
	got := spreadDeficit(cents(30000, 30000), 30000, 10000)
	assert.Equal(t, cents(25000, 25000), got)
}

func TestSpreadDeficit_FloorsAtOneCent(t *testing.T) {
	// GIVEN: Candidates too small to give up the deficit
	// WHEN: Spreading 5.00 over [1.00, 1.00]
	// THEN: No amount drops below one cent

	got := spreadDeficit(cents(100, 100), 30000, 500)
	assert.Equal(t, cents(1, 1), got)
}

func TestSpreadDeficit_EveryCandidateTouched(t *testing.T) {
	// Both reduced to suggested, the rest is spread over all of them
	got := spreadDeficit(cents(35000, 32000), 30000, 9000)
	assert.Equal(t, cents(29000, 29000), got)
}

// =============================================================================
// PRO-RATA
// =============================================================================

func TestProrataShares_ExtraCentToEarliest(t *testing.T) {
	assert.Equal(t, cents(3334, 3333, 3333), prorataShares(10000, 3))
	assert.Equal(t, cents(33334, 33333, 33333), prorataShares(100000, 3))
	assert.Equal(t, cents(50, 50), prorataShares(100, 2))
}

func TestProrataShares_OvershootTakenFromEarliest(t *testing.T) {
	// GIVEN: 200.00 over three payments, where 66.67 * 3 overshoots by a cent
	// WHEN: Splitting
	// THEN: The cent comes off the earliest payment

	assert.Equal(t, cents(6666, 6667, 6667), prorataShares(20000, 3))
	assert.Equal(t, cents(16666, 16666, 16667, 16667, 16667, 16667), prorataShares(100000, 6))
	for _, tc := range []struct {
		total Money
		n     int
	}{{20000, 3}, {100000, 6}, {101, 7}, {99999, 11}} {
		assert.Equal(t, tc.total, sumCents(prorataShares(tc.total, tc.n)))
	}
}

func TestProrataShares_BelowOneCent(t *testing.T) {
	assert.Nil(t, prorataShares(2, 3))
	assert.Nil(t, prorataShares(100, 0))
	assert.Equal(t, cents(1, 1, 1), prorataShares(3, 3))
}

// =============================================================================
// STATUS
// =============================================================================

func TestStatusFor_CompletedOnlyAtZero(t *testing.T) {
	assert.Equal(t, StatusCompleted, statusFor(0))
	assert.Equal(t, StatusActive, statusFor(Cent))
	assert.Equal(t, StatusActive, statusFor(-Cent))
}

// =============================================================================
// KEYED MUTEX
// =============================================================================

func TestKeyedMutex_SerializesSameKey(t *testing.T) {
	k := NewKeyedMutex()
	ctx := context.Background()

	var mu sync.Mutex
	active, maxActive := 0, 0
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := k.Lock(ctx, "advance:1")
			if !assert.NoError(t, err) {
				return
			}
			defer unlock()

			mu.Lock()
			active++
			maxActive = max(maxActive, active)
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			active--
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxActive)
	assert.Equal(t, 0, k.held(), "released keys are dropped")
}

func TestKeyedMutex_ContextTimeout(t *testing.T) {
	k := NewKeyedMutex()
	unlock, err := k.Lock(context.Background(), "advance:7")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = k.Lock(ctx, "advance:7")
	require.ErrorIs(t, err, ErrLockUnavailable)
	assert.True(t, IsConflict(err))

	unlock()
	unlock() // second call is a no-op
	assert.Equal(t, 0, k.held())
}

func TestKeyedMutex_DifferentKeysIndependent(t *testing.T) {
	k := NewKeyedMutex()
	u1, err := k.Lock(context.Background(), "advance:1")
	require.NoError(t, err)
	defer u1()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	u2, err := k.Lock(ctx, "advance:2")
	require.NoError(t, err)
	u2()
}

func sumCents(ms []Money) Money {
	var total Money
	for _, m := range ms {
		total += m
	}
	return total
}
