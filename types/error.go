package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the framework.
type ErrorCode string

// Handle-layer error codes. These are raised synchronously, before any DAG
// mutation takes place.
const (
	ErrInvalidUserArgument ErrorCode = "INVALID_USER_ARGUMENT"
	ErrInvalidUserAction   ErrorCode = "INVALID_USER_ACTION"
	ErrArtifactNotFound    ErrorCode = "ARTIFACT_NOT_FOUND"
)

// Operator run error codes, mirrored by types.FailureType.
const (
	ErrUserFatal    ErrorCode = "USER_FATAL"
	ErrUserNonFatal ErrorCode = "USER_NON_FATAL"
	ErrSystem       ErrorCode = "SYSTEM"
)

// Everything else.
const (
	ErrInternal      ErrorCode = "INTERNAL"
	ErrAPI           ErrorCode = "API_ERROR"
	ErrUnprocessable ErrorCode = "UNPROCESSABLE"
	ErrNotFound      ErrorCode = "NOT_FOUND"
)

// Error represents a structured error with code, message, and the tip/context
// pair carried by execution states and server responses.
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	Tip        string    `json:"tip,omitempty"`
	Context    string    `json:"context,omitempty"`
	HTTPStatus int       `json:"http_status,omitempty"`
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

// WithTip sets the user-facing tip.
func (e *Error) WithTip(tip string) *Error {
	e.Tip = tip
	return e
}

// WithContext sets the detailed context (stack trace, server message, ...).
func (e *Error) WithContext(context string) *Error {
	e.Context = context
	return e
}

// WithHTTPStatus sets the HTTP status code.
func (e *Error) WithHTTPStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}

// AsError extracts a *Error from an error chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// GetErrorCode extracts the error code from an error chain.
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

// InvalidUserArgument is shorthand for Errorf(ErrInvalidUserArgument, ...).
func InvalidUserArgument(format string, args ...any) *Error {
	return Errorf(ErrInvalidUserArgument, format, args...)
}

// InvalidUserAction is shorthand for Errorf(ErrInvalidUserAction, ...).
func InvalidUserAction(format string, args ...any) *Error {
	return Errorf(ErrInvalidUserAction, format, args...)
}

// ArtifactNotFound is shorthand for Errorf(ErrArtifactNotFound, ...).
func ArtifactNotFound(format string, args ...any) *Error {
	return Errorf(ErrArtifactNotFound, format, args...)
}

// Internal is shorthand for Errorf(ErrInternal, ...).
func Internal(format string, args ...any) *Error {
	return Errorf(ErrInternal, format, args...)
}
