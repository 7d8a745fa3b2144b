package types

import (
	"errors"
	"fmt"
)

// Error taxonomy for the pipeline. Callers branch with errors.Is; the
// HTTP layer maps each class to a status code. None of these are
// retried automatically: retrying a logically invalid operation cannot
// succeed. Upstream failures are retried by the campaign executor and
// surface here only after exhaustion, wrapping the last cause.
var (
	// ErrNotFound - unknown candidate, campaign, or strategy id.
	ErrNotFound = errors.New("not found")

	// ErrInvalidState - operation not legal for the record's current
	// lifecycle state (deciding twice, metering an unlaunched campaign).
	ErrInvalidState = errors.New("invalid state")

	// ErrValidation - malformed input, e.g. a negative view count.
	ErrValidation = errors.New("validation failed")

	// ErrUpstream - a collaborator (source or generator) failed after
	// the bounded retry policy was exhausted.
	ErrUpstream = errors.New("upstream failure")
)

// NotFoundf wraps ErrNotFound with a formatted detail message.
func NotFoundf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

// InvalidStatef wraps ErrInvalidState with a formatted detail message.
func InvalidStatef(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidState, fmt.Sprintf(format, args...))
}

// Validationf wraps ErrValidation with a formatted detail message.
func Validationf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Upstreamf wraps ErrUpstream around the last underlying cause so the
// failure reason survives into campaign records and API responses.
func Upstreamf(cause error, format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s: %v", ErrUpstream, fmt.Sprintf(format, args...), cause)
}

// AlreadyDecidedError reports the existing decision that blocks a
// second decide attempt. It matches errors.Is(err, ErrInvalidState).
type AlreadyDecidedError struct {
	Existing Decision
}

func (e *AlreadyDecidedError) Error() string {
	return fmt.Sprintf("invalid state: candidate %s already decided %s by %s at %s",
		e.Existing.CandidateID, e.Existing.Outcome, e.Existing.DecidedBy,
		e.Existing.DecidedAt.Format("2006-01-02T15:04:05Z07:00"))
}

// Unwrap lets errors.Is(err, ErrInvalidState) match.
func (e *AlreadyDecidedError) Unwrap() error {
	return ErrInvalidState
}
