/*
errors.go - Centralized error types for the plan engine

ERROR CATEGORIES:
  1. Not found - referenced advance or payment does not exist
  2. Invalid argument - missing or out-of-range input
  3. Inconsistent - reconciliation could not restore
     sum(pending) == outstanding
  4. Lock - the advance is busy and the caller's context ran out

All errors surface to the caller; nothing is retried here.

SEE ALSO:
  - api/handlers.go: maps these to HTTP status codes
*/
package advance

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrAdvanceNotFound = errors.New("advance not found")
	ErrPaymentNotFound = errors.New("payment not found")

	// ErrInvalidArgument covers missing fields, non-positive amounts and
	// unknown periodicities, kinds or statuses.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrInconsistent is returned when a plan cannot be reconciled with the
	// advance's outstanding amount. The surrounding transaction rolls back.
	ErrInconsistent = errors.New("inconsistent payment plan")

	// ErrLockUnavailable is returned when the per-advance lock could not be
	// taken before the context expired.
	ErrLockUnavailable = errors.New("advance is busy")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// InconsistentError carries the amounts that failed to reconcile.
type InconsistentError struct {
	AdvanceID AdvanceID
	Expected  Money
	Actual    Money
	Reason    string
}

func (e *InconsistentError) Error() string {
	return fmt.Sprintf("inconsistent payment plan for advance %d: %s (outstanding %s, pending %s)",
		e.AdvanceID, e.Reason, e.Expected, e.Actual)
}

func (e *InconsistentError) Unwrap() error {
	return ErrInconsistent
}

func invalidArgument(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsNotFound returns true if the error indicates a missing advance or payment.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrAdvanceNotFound) || errors.Is(err, ErrPaymentNotFound)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidArgument)
}

// IsConflict returns true if the request was well formed but cannot be
// applied to the current state of the advance.
func IsConflict(err error) bool {
	return errors.Is(err, ErrInconsistent) || errors.Is(err, ErrLockUnavailable)
}
