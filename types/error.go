package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across depflow.
type ErrorCode string

// Graph logic error codes. Deterministic and caller-correctable; never retried by the core.
const (
	ErrDuplicateTask              ErrorCode = "DUPLICATE_TASK"
	ErrTaskNotFound               ErrorCode = "TASK_NOT_FOUND"
	ErrSelfLoop                   ErrorCode = "SELF_LOOP"
	ErrCycleDetected              ErrorCode = "CYCLE_DETECTED"
	ErrDependencyNotFound         ErrorCode = "DEPENDENCY_NOT_FOUND"
	ErrDependencyExists           ErrorCode = "DEPENDENCY_EXISTS"
	ErrMaxRelatedProjectsExceeded ErrorCode = "MAX_RELATED_PROJECTS_EXCEEDED"
	ErrProjectConflict            ErrorCode = "PROJECT_CONFLICT"
	ErrProjectNotAssociated       ErrorCode = "PROJECT_NOT_ASSOCIATED"
	ErrTaskHasDependencies        ErrorCode = "TASK_HAS_DEPENDENCIES"
	ErrInvalidRequest             ErrorCode = "INVALID_REQUEST"
)

// Infrastructure error codes. Transient; callers may retry with backoff.
const (
	ErrStoreUnavailable ErrorCode = "STORE_UNAVAILABLE"
	ErrCircuitOpen      ErrorCode = "CIRCUIT_OPEN"
	ErrTimeout          ErrorCode = "TIMEOUT"
	ErrCorruptState     ErrorCode = "CORRUPT_STATE"
	ErrInternalError    ErrorCode = "INTERNAL_ERROR"
)

// Capacity error codes.
const (
	ErrCacheEntryTooLarge ErrorCode = "CACHE_ENTRY_TOO_LARGE"
)

// ErrorCategory groups error codes by how a caller should react to them.
type ErrorCategory string

const (
	CategoryLogic          ErrorCategory = "logic"
	CategoryInfrastructure ErrorCategory = "infrastructure"
	CategoryCapacity       ErrorCategory = "capacity"
)

// Category returns the category an error code belongs to.
func (c ErrorCode) Category() ErrorCategory {
	switch c {
	case ErrStoreUnavailable, ErrCircuitOpen, ErrTimeout, ErrCorruptState, ErrInternalError:
		return CategoryInfrastructure
	case ErrCacheEntryTooLarge:
		return CategoryCapacity
	default:
		return CategoryLogic
	}
}

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Retryable  bool      `json:"retryable"`
	Cause      error     `json:"-"`
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

// Is reports whether target is an *Error with the same code, so package-level
// sentinels match any error of their kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// NewError creates a new Error with the given code and message.
// Infrastructure errors are retryable by default.
func NewError(code ErrorCode, message string) *Error {
	return &Error{
		Code:      code,
		Message:   message,
		Retryable: code.Category() == CategoryInfrastructure && code != ErrCorruptState,
	}
}

// Errorf creates a new Error with a formatted message.
func Errorf(code ErrorCode, format string, args ...any) *Error {
	return NewError(code, fmt.Sprintf(format, args...))
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithHTTPStatus sets the HTTP status code.
func (e *Error) WithHTTPStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
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

// IsErrorCode reports whether err carries the given code anywhere in its chain.
func IsErrorCode(err error, code ErrorCode) bool {
	return GetErrorCode(err) == code
}
