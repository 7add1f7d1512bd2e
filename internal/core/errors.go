package core

import (
	"errors"
	"fmt"
	"strings"
)

// Error kinds shared across the runtime. The per-step retry controller and
// the API layer both classify failures through these sentinels.
var (
	ErrPathEscape        = errors.New("path escapes sandbox")
	ErrSymlinkForbidden  = errors.New("symlink in path not allowed")
	ErrConsentRequired   = errors.New("consent token required")
	ErrConsentDenied     = errors.New("consent scope not granted")
	ErrUnknownCapability = errors.New("unknown capability")
	ErrToolFailed        = errors.New("tool failed")
	ErrTimeout           = errors.New("operation timed out")
	ErrBudgetExceeded    = errors.New("budget exceeded")
	ErrModelNotAllowed   = errors.New("model not allowed")
	ErrPlanNotFound      = errors.New("plan not found")
	ErrCycleDetected     = errors.New("dependency cycle detected")
	ErrStepNotFound      = errors.New("step not found")
	ErrPlanLocked        = errors.New("plan is locked by another run")
	ErrDeadlineExceeded  = errors.New("step deadline exceeded")
)

// Terminal reports whether the error kind must never be retried. Anything
// not in this set is treated as a retryable tool failure.
func Terminal(err error) bool {
	switch {
	case errors.Is(err, ErrPathEscape),
		errors.Is(err, ErrSymlinkForbidden),
		errors.Is(err, ErrConsentRequired),
		errors.Is(err, ErrConsentDenied),
		errors.Is(err, ErrUnknownCapability),
		errors.Is(err, ErrBudgetExceeded),
		errors.Is(err, ErrModelNotAllowed),
		errors.Is(err, ErrCycleDetected):
		return true
	}
	var verr *ValidationError
	return errors.As(err, &verr)
}

// ErrorList collects multiple errors, used when validating a submitted plan.
type ErrorList []error

// Error implements the error interface. It returns all the errors
// separated by a semicolon.
func (e ErrorList) Error() string {
	errStrings := make([]string, len(e))
	for i, err := range e {
		errStrings[i] = err.Error()
	}
	return strings.Join(errStrings, "; ")
}

// Unwrap returns a copy of the underlying error slice so errors.Is can
// check against each member.
func (e ErrorList) Unwrap() []error {
	if len(e) == 0 {
		return nil
	}
	errs := make([]error, len(e))
	copy(errs, e)
	return errs
}

// ValidationError represents a field-level failure while constructing or
// submitting a plan.
type ValidationError struct {
	Field string
	Value any
	Err   error
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Value != nil {
		return fmt.Sprintf("invalid value for field %q (%v): %v", e.Field, e.Value, e.Err)
	}
	return fmt.Sprintf("invalid value for field %q: %v", e.Field, e.Err)
}

// Unwrap returns the wrapped error.
func (e *ValidationError) Unwrap() error {
	return e.Err
}

// NewValidationError creates a ValidationError for the given field.
func NewValidationError(field string, value any, err error) *ValidationError {
	return &ValidationError{Field: field, Value: value, Err: err}
}
