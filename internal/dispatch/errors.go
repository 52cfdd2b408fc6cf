package dispatch

import (
	"errors"
	"fmt"
)

// Error taxonomy of the engine. Callers branch with errors.Is; everything else
// coming out of a service is an internal failure.
var (
	// ErrNotFound: unknown drone/order/job id. Not retryable without new input.
	ErrNotFound = errors.New("not found")
	// ErrConflict: invalid state transition or precondition (terminal order,
	// in-flight drone removal, already-assigned job).
	ErrConflict = errors.New("conflict")
	// ErrValidation: geofence mismatch, out-of-service-area order, malformed
	// telemetry. The message tells the caller what to correct.
	ErrValidation = errors.New("validation failed")
	// ErrNoJobsAvailable: empty pending queue. A normal, retryable outcome,
	// never logged as an error.
	ErrNoJobsAvailable = errors.New("no jobs available")
)

func notFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

func conflictf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConflict, fmt.Sprintf(format, args...))
}

func validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
