package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the orchestration core.
type ErrorCode string

// Dependency error codes (Text-Completion, telemetry, execution collaborators).
const (
	ErrInvalidRequest      ErrorCode = "INVALID_REQUEST"
	ErrAuthentication      ErrorCode = "AUTHENTICATION"
	ErrUnauthorized        ErrorCode = "UNAUTHORIZED"
	ErrForbidden           ErrorCode = "FORBIDDEN"
	ErrRateLimited         ErrorCode = "RATE_LIMITED"
	ErrQuotaExceeded       ErrorCode = "QUOTA_EXCEEDED"
	ErrContentFiltered     ErrorCode = "CONTENT_FILTERED"
	ErrContextTooLong      ErrorCode = "CONTEXT_TOO_LONG"
	ErrTimeout             ErrorCode = "TIMEOUT"
	ErrUpstreamError       ErrorCode = "UPSTREAM_ERROR"
	ErrProviderUnavailable ErrorCode = "PROVIDER_UNAVAILABLE"
	ErrCircuitOpen         ErrorCode = "CIRCUIT_OPEN"
)

// Dispatch and execution error codes.
const (
	ErrNoSuitableAgent  ErrorCode = "NO_SUITABLE_AGENT"
	ErrDependencyFailed ErrorCode = "DEPENDENCY_FAILED"
	ErrExecutionFailed  ErrorCode = "EXECUTION_FAILED"
	ErrEmergencyStop    ErrorCode = "EMERGENCY_STOP"
	ErrApprovalDenied   ErrorCode = "APPROVAL_DENIED"
	ErrAgentNotFound    ErrorCode = "AGENT_NOT_FOUND"
	ErrNotFound         ErrorCode = "NOT_FOUND"
)

// ErrInvariantViolation marks a programming defect inside the core. Errors with
// this code are raised with panic, never returned as operational failures.
const ErrInvariantViolation ErrorCode = "INVARIANT_VIOLATION"

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
	Provider  string    `json:"provider,omitempty"`
	Cause     error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error carrying the same code, so that a
// wrapped error matches its package sentinel.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithCause returns a copy of the error with the cause attached. Copying keeps
// package-level sentinels immutable.
func (e *Error) WithCause(cause error) *Error {
	cp := *e
	cp.Cause = cause
	return &cp
}

// WithRetryable returns a copy marked as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	cp := *e
	cp.Retryable = retryable
	return &cp
}

// WithProvider returns a copy carrying the provider name.
func (e *Error) WithProvider(provider string) *Error {
	cp := *e
	cp.Provider = provider
	return &cp
}

// AsError extracts the first *Error in err's chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if e, ok := AsError(err); ok {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	if e, ok := AsError(err); ok {
		return e.Code
	}
	return ""
}

// IsErrorCode reports whether any error in err's chain carries code.
func IsErrorCode(err error, code ErrorCode) bool {
	return GetErrorCode(err) == code
}

// IsClientError reports whether err was caused by the caller rather than by
// the dependency, e.g. an invalid request. Client errors do not count toward
// circuit breaker failures.
func IsClientError(err error) bool {
	switch GetErrorCode(err) {
	case ErrInvalidRequest, ErrAuthentication, ErrUnauthorized, ErrForbidden,
		ErrQuotaExceeded, ErrContentFiltered, ErrContextTooLong:
		return true
	default:
		return false
	}
}

// Invariant panics with an ErrInvariantViolation error. Use it only for
// conditions that indicate a bug in the core itself.
func Invariant(format string, args ...any) {
	panic(NewError(ErrInvariantViolation, fmt.Sprintf(format, args...)))
}
