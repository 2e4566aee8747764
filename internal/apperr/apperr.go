// Package apperr implements the error taxonomy of spec.md §7 as a small
// tagged-variant error type instead of leaking platform/DB-specific errors
// up through the service and API layers, the way the teacher's
// handlers wrap every error string with fiber.Map{"error": err.Error()}.
package apperr

import (
	"errors"
	"fmt"
	"time"
)

type Code int

const (
	Validation Code = iota
	NotFound
	Conflict
	SpacingConflict
	RateLimited
	Transient
	Terminal
)

func (c Code) String() string {
	switch c {
	case Validation:
		return "validation"
	case NotFound:
		return "not_found"
	case Conflict:
		return "conflict"
	case SpacingConflict:
		return "spacing_conflict"
	case RateLimited:
		return "rate_limited"
	case Transient:
		return "transient"
	case Terminal:
		return "terminal"
	default:
		return "unknown"
	}
}

// Error is the single error type that crosses service/API boundaries.
// Fields beyond Code/Message are populated only for the codes that need
// them (RetryAfter for RateLimited, Neighbors for SpacingConflict).
type Error struct {
	Code       Code
	Message    string
	RetryAfter time.Duration
	Neighbors  []time.Time
	cause      error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, cause: cause}
}

func RateLimitedErr(retryAfter time.Duration) *Error {
	return &Error{Code: RateLimited, Message: "rate limited", RetryAfter: retryAfter}
}

func SpacingConflictErr(neighbors []time.Time) *Error {
	return &Error{Code: SpacingConflict, Message: "spacing conflict", Neighbors: neighbors}
}

// As extracts an *Error from any error chain, the way the teacher's
// repositories compare against sql.ErrNoRows with ==, generalized to
// errors.As for wrapped chains.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// CodeOf returns the Code of err if it (or something it wraps) is an
// *Error, and Transient otherwise — unclassified errors are treated as
// retryable-by-default rather than silently swallowed.
func CodeOf(err error) Code {
	if e, ok := As(err); ok {
		return e.Code
	}
	return Transient
}
