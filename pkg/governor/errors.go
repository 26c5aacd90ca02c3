package governor

import (
	"errors"
	"fmt"
)

// Kind discriminates governed error classes. Callers match on Kind instead of
// concrete error types.
type Kind string

const (
	KindPolicyDenied      Kind = "policy_denied"
	KindPolicyUnavailable Kind = "policy_unavailable"
	KindRateLimited       Kind = "rate_limited"
	KindAuthFailed        Kind = "auth_failed"
	KindCircuitOpen       Kind = "circuit_open"
	KindExecutionFailed   Kind = "execution_failed"
	KindInterrupted       Kind = "interrupted"
	KindToolTimeout       Kind = "tool_timeout"
	KindToolFailed        Kind = "tool_failed"
)

// Error is the single typed error surface of the governance layer. Raw
// operation errors are always wrapped, never passed through.
type Error struct {
	Kind        Kind
	ExecutionID string
	Reason      string
	Err         error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

// Unwrap exposes the underlying operation error
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a governed error
func NewError(kind Kind, executionID, reason string, err error) *Error {
	return &Error{
		Kind:        kind,
		ExecutionID: executionID,
		Reason:      reason,
		Err:         err,
	}
}

// KindOf returns the Kind of a governed error, or empty when err is not one
func KindOf(err error) Kind {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Kind
	}
	return ""
}

// IsKind reports whether err is a governed error of the given kind
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
