/*
errors.go - Centralized error types for the scheduling engine

PURPOSE:
  All engine-level error values in one place. Callers in the billing and
  counterpart packages wrap these with entity context; the API layer maps
  them to HTTP status codes via the Is* helpers.

ERROR CATEGORIES:
  1. Validation errors - malformed policies, bad override values
  2. Not-found errors  - unknown service / schedule / counterpart
  3. Conflict errors   - double-pay, unlink-without-payment, RUT mismatch
  4. Dependency errors - indexation rate source or transaction feed down

USAGE:
  if errors.Is(err, schedule.ErrInvalidConfiguration) { ... }
  if schedule.IsConflict(err) { respond 409 }
*/
package schedule

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidConfiguration is returned for malformed policies or overrides:
	// bad emission day ranges, negative amounts, contradictory emission fields.
	ErrInvalidConfiguration = errors.New("invalid configuration")

	// ErrServiceNotFound is returned when a referenced service doesn't exist.
	ErrServiceNotFound = errors.New("service not found")

	// ErrScheduleNotFound is returned when a referenced schedule entry doesn't exist.
	ErrScheduleNotFound = errors.New("schedule entry not found")

	// ErrCounterpartNotFound is returned when a referenced counterpart doesn't exist.
	ErrCounterpartNotFound = errors.New("counterpart not found")

	// ErrAlreadyPaid is returned when registering a payment against an entry
	// that is already PAID or SKIPPED. The caller must unlink first.
	ErrAlreadyPaid = errors.New("schedule entry already settled")

	// ErrNothingToUnlink is returned when unlinking an entry that has no
	// registered payment.
	ErrNothingToUnlink = errors.New("no payment to unlink")

	// ErrRutConflict is returned when assigning accounts to a RUT that
	// disagrees with a previously-observed one.
	ErrRutConflict = errors.New("rut conflict")

	// ErrRateUnavailable is returned when the UF indexation rate source is
	// unreachable and no cached rate exists to fall back on.
	ErrRateUnavailable = errors.New("indexation rate unavailable")

	// ErrFeedUnavailable is returned when the external transaction feed
	// cannot be read.
	ErrFeedUnavailable = errors.New("transaction feed unavailable")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError reports a specific field rejected at the boundary,
// before any mutation happened.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrInvalidConfiguration }

// Invalidf builds a field-level ValidationError.
func Invalidf(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsValidation returns true if the error is due to invalid client input.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidConfiguration)
}

// IsNotFound returns true if the error indicates a missing entity.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrServiceNotFound) ||
		errors.Is(err, ErrScheduleNotFound) ||
		errors.Is(err, ErrCounterpartNotFound)
}

// IsConflict returns true if the error is a state conflict the caller can
// resolve (unlink first, force the assignment, pick another account).
func IsConflict(err error) bool {
	return errors.Is(err, ErrAlreadyPaid) ||
		errors.Is(err, ErrNothingToUnlink) ||
		errors.Is(err, ErrRutConflict)
}

// IsUnavailable returns true if an external collaborator is down.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrRateUnavailable) ||
		errors.Is(err, ErrFeedUnavailable)
}
