package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the engine.
type ErrorCode string

// Graph construction error codes
const (
	ErrGraphCycle         ErrorCode = "GRAPH_CYCLE"
	ErrGraphUnknownNode   ErrorCode = "GRAPH_UNKNOWN_NODE"
	ErrGraphUnknownEdge   ErrorCode = "GRAPH_UNKNOWN_EDGE"
	ErrGraphDisconnected  ErrorCode = "GRAPH_DISCONNECTED"
	ErrGraphDuplicateNode ErrorCode = "GRAPH_DUPLICATE_NODE"
	ErrGraphFrozen        ErrorCode = "GRAPH_FROZEN"
	ErrGraphInvalid       ErrorCode = "GRAPH_INVALID"
)

// Agent invocation error codes
const (
	ErrAgentTimeout    ErrorCode = "AGENT_TIMEOUT"
	ErrProviderError   ErrorCode = "PROVIDER_ERROR"
	ErrInvalidResponse ErrorCode = "INVALID_RESPONSE"
	ErrCircuitOpen     ErrorCode = "CIRCUIT_OPEN"
)

// Cache error codes
const (
	ErrCache           ErrorCode = "CACHE_ERROR"
	ErrCacheCorruption ErrorCode = "CACHE_CORRUPTION"
	ErrCacheMiss       ErrorCode = "CACHE_MISS"
)

// Executor error codes
const (
	ErrRunAborted   ErrorCode = "RUN_ABORTED"
	ErrInvalidInput ErrorCode = "INVALID_INPUT"
)

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

// Is reports whether target is an *Error with the same code. This lets
// package level sentinels match errors created with a more specific message.
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

// Errorf creates a new Error with a formatted message.
func Errorf(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithProvider sets the provider name.
func (e *Error) WithProvider(provider string) *Error {
	e.Provider = provider
	return e
}

// AsError extracts an *Error from the chain.
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
