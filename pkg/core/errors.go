package core

import (
	"errors"
	"fmt"
)

// Error is the canonical error shape shared by the transcription client, the
// judges, and the HTTP surface.
type Error struct {
	Type        ErrorType `json:"type"`
	Message     string    `json:"message"`
	Param       string    `json:"param,omitempty"`
	Code        string    `json:"code,omitempty"`
	RequestID   string    `json:"request_id,omitempty"`
	Recoverable bool      `json:"recoverable"`
	RetryAfter  *int      `json:"retry_after,omitempty"`
	Cause       error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s (code: %s)", e.Type, e.Message, e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// ErrorType categorizes errors.
type ErrorType string

const (
	ErrConfiguration  ErrorType = "configuration_error"
	ErrConnection     ErrorType = "connection_error"
	ErrProtocol       ErrorType = "protocol_error"
	ErrJudgeFailure   ErrorType = "judge_failure"
	ErrInvalidRequest ErrorType = "invalid_request_error"
	ErrAuthentication ErrorType = "authentication_error"
	ErrNotFound       ErrorType = "not_found_error"
	ErrConflict       ErrorType = "conflict_error"
	ErrRateLimit      ErrorType = "rate_limit_error"
	ErrAPI            ErrorType = "api_error"
)

// NewConfigurationError reports missing or invalid configuration. It is never
// recoverable without operator action.
func NewConfigurationError(message string) *Error {
	return &Error{
		Type:    ErrConfiguration,
		Message: message,
	}
}

// NewConnectionError reports a transport failure.
func NewConnectionError(message string, recoverable bool, cause error) *Error {
	return &Error{
		Type:        ErrConnection,
		Message:     message,
		Recoverable: recoverable,
		Cause:       cause,
	}
}

// NewProtocolError reports a malformed remote message.
func NewProtocolError(message string, cause error) *Error {
	return &Error{
		Type:        ErrProtocol,
		Message:     message,
		Recoverable: true,
		Cause:       cause,
	}
}

// NewJudgeFailure reports a judge that could not produce a verdict.
func NewJudgeFailure(judge string, cause error) *Error {
	msg := judge + ": evaluation failed"
	if cause != nil {
		msg = fmt.Sprintf("%s: %v", judge, cause)
	}
	return &Error{
		Type:        ErrJudgeFailure,
		Message:     msg,
		Param:       judge,
		Recoverable: true,
		Cause:       cause,
	}
}

// NewInvalidRequestError creates an invalid request error.
func NewInvalidRequestError(message string) *Error {
	return &Error{
		Type:    ErrInvalidRequest,
		Message: message,
	}
}

// NewInvalidRequestErrorWithParam creates an invalid request error with a parameter.
func NewInvalidRequestErrorWithParam(message, param string) *Error {
	return &Error{
		Type:    ErrInvalidRequest,
		Message: message,
		Param:   param,
	}
}

// NewAuthenticationError creates an authentication error.
func NewAuthenticationError(message string) *Error {
	return &Error{
		Type:    ErrAuthentication,
		Message: message,
	}
}

// NewNotFoundError creates a not found error.
func NewNotFoundError(message string) *Error {
	return &Error{
		Type:    ErrNotFound,
		Message: message,
	}
}

// NewConflictError creates a conflict error.
func NewConflictError(message string) *Error {
	return &Error{
		Type:    ErrConflict,
		Message: message,
	}
}

// NewRateLimitError reports a throttled request. retryAfter is in seconds;
// zero omits the hint.
func NewRateLimitError(message string, retryAfter int) *Error {
	e := &Error{
		Type:    ErrRateLimit,
		Message: message,
	}
	if retryAfter > 0 {
		e.RetryAfter = &retryAfter
	}
	return e
}

// NewAPIError creates a generic API error.
func NewAPIError(message string) *Error {
	return &Error{
		Type:    ErrAPI,
		Message: message,
	}
}

// WithCode returns a copy of e carrying code.
func (e *Error) WithCode(code string) *Error {
	out := *e
	out.Code = code
	return &out
}

// IsRetryable returns true if the error is retryable.
func (e *Error) IsRetryable() bool {
	switch e.Type {
	case ErrConnection, ErrJudgeFailure, ErrProtocol:
		return e.Recoverable
	case ErrAPI, ErrRateLimit:
		return true
	default:
		return false
	}
}

// Unwrap returns the underlying error for error wrapping.
func (e *Error) Unwrap() error {
	return e.Cause
}

// AsError extracts a *Error from err's chain.
func AsError(err error) (*Error, bool) {
	var ce *Error
	if errors.As(err, &ce) && ce != nil {
		return ce, true
	}
	return nil, false
}

// IsType reports whether err's chain carries a *Error of type t.
func IsType(err error, t ErrorType) bool {
	ce, ok := AsError(err)
	return ok && ce.Type == t
}
