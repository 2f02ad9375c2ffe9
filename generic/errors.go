/*
errors.go - Centralized error taxonomy for the HR ledger

PURPOSE:
  All error types in one place. Every core operation reports failures with
  one of these kinds so callers can decide whether to retry, re-render or
  ask a human to correct the input.

ERROR CATEGORIES:
  ValidationError          Malformed input. Caller's fault, not retried.
  AuthorizationError       Capability guard failed. Not retried.
  InvalidTransitionError   State machine violation.
  InsufficientBalanceError Business-rule rejection. Needs human correction.
  ConflictError            Overlap or concurrent modification. Retry after re-read.
  StorageError             Transient persistence failure. Retry with backoff.
  NotFoundError            Referenced aggregate does not exist.

REJECTIONS:
  A rejected transition is wrapped in a Rejection that carries the entity's
  current (unchanged) state, so the caller can re-render without re-fetching:

    var rej *generic.Rejection
    if errors.As(err, &rej) {
        render(rej.Current)
    }

SEE ALSO:
  - api/errors.go: HTTP status mapping
*/
package generic

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrValidation          = errors.New("validation failed")
	ErrAuthorization       = errors.New("not authorized")
	ErrInvalidTransition   = errors.New("invalid state transition")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrConflict            = errors.New("conflict")
	ErrStorage             = errors.New("storage failure")
	ErrNotFound            = errors.New("not found")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// Invalid is shorthand for a ValidationError.
func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

type AuthorizationError struct {
	ActorID string
	Role    Role
	Module  Module
	Action  Action
	Reason  string
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("not authorized: actor %q (role %q) cannot %s on %s: %s",
		e.ActorID, e.Role, e.Action, e.Module, e.Reason)
}

func (e *AuthorizationError) Unwrap() error { return ErrAuthorization }

type InvalidTransitionError struct {
	Entity string
	ID     string
	From   Status
	To     Status
	Reason string
}

func (e *InvalidTransitionError) Error() string {
	msg := fmt.Sprintf("invalid transition for %s %s: %s -> %s", e.Entity, e.ID, e.From, e.To)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *InvalidTransitionError) Unwrap() error { return ErrInvalidTransition }

// InsufficientBalanceError provides details about a balance shortage.
type InsufficientBalanceError struct {
	EmployeeID  string
	LeaveTypeID string
	Available   decimal.Decimal
	Requested   decimal.Decimal
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: available %s, requested %s, shortfall %s",
		e.Available.StringFixed(DayPrecision),
		e.Requested.StringFixed(DayPrecision),
		e.Requested.Sub(e.Available).StringFixed(DayPrecision))
}

func (e *InsufficientBalanceError) Unwrap() error { return ErrInsufficientBalance }

type ConflictError struct {
	Entity        string
	ID            string
	ConflictsWith string
	Reason        string
}

func (e *ConflictError) Error() string {
	if e.ConflictsWith != "" {
		return fmt.Sprintf("conflict: %s %s conflicts with %s: %s", e.Entity, e.ID, e.ConflictsWith, e.Reason)
	}
	return fmt.Sprintf("conflict: %s %s: %s", e.Entity, e.ID, e.Reason)
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("%s %s not found", e.Entity, e.ID) }

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// StorageError wraps a driver error. It matches ErrStorage and still exposes
// the driver error to errors.As.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string { return fmt.Sprintf("storage: %s: %v", e.Op, e.Err) }

func (e *StorageError) Unwrap() error { return e.Err }

func (e *StorageError) Is(target error) bool { return target == ErrStorage }

// Storage wraps err as a StorageError unless it already belongs to the
// taxonomy.
func Storage(op string, err error) error {
	if err == nil {
		return nil
	}
	if KindOf(err) != KindUnknown {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

// =============================================================================
// REJECTION - Error plus the entity's current state
// =============================================================================

type Rejection struct {
	Err     error
	Current any
}

func (r *Rejection) Error() string { return r.Err.Error() }

func (r *Rejection) Unwrap() error { return r.Err }

// Reject attaches the current state of the entity to err.
func Reject(err error, current any) error {
	if err == nil {
		return nil
	}
	var existing *Rejection
	if errors.As(err, &existing) {
		return err
	}
	return &Rejection{Err: err, Current: current}
}

// CurrentState extracts the state attached by Reject.
func CurrentState(err error) (any, bool) {
	var r *Rejection
	if errors.As(err, &r) {
		return r.Current, true
	}
	return nil, false
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

type Kind string

const (
	KindUnknown             Kind = ""
	KindValidation          Kind = "validation"
	KindAuthorization       Kind = "authorization"
	KindInvalidTransition   Kind = "invalid_transition"
	KindInsufficientBalance Kind = "insufficient_balance"
	KindConflict            Kind = "conflict"
	KindStorage             Kind = "storage"
	KindNotFound            Kind = "not_found"
)

// KindOf classifies err into the taxonomy.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrAuthorization):
		return KindAuthorization
	case errors.Is(err, ErrInvalidTransition):
		return KindInvalidTransition
	case errors.Is(err, ErrInsufficientBalance):
		return KindInsufficientBalance
	case errors.Is(err, ErrConflict):
		return KindConflict
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrStorage):
		return KindStorage
	default:
		return KindUnknown
	}
}

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	k := KindOf(err)
	return k == KindConflict || k == KindStorage
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	switch KindOf(err) {
	case KindValidation, KindAuthorization, KindInvalidTransition, KindInsufficientBalance, KindNotFound:
		return true
	}
	return false
}
