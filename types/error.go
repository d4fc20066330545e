package types

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode represents a unified error code across the worker.
type ErrorCode string

// Input error codes
const (
	ErrInvalidInput  ErrorCode = "INVALID_INPUT"
	ErrMissingConfig ErrorCode = "MISSING_CONFIG"
	ErrNoImages      ErrorCode = "NO_IMAGES"
	ErrForbidden     ErrorCode = "FORBIDDEN"
)

// Remote error codes
const (
	ErrUpstreamError ErrorCode = "UPSTREAM_ERROR"
	ErrTimeout       ErrorCode = "TIMEOUT"
	ErrNotFound      ErrorCode = "NOT_FOUND"
)

// Transport error codes
const (
	ErrRateLimited ErrorCode = "RATE_LIMITED"
)

// Generation error codes
const (
	ErrGenerationFailed ErrorCode = "GENERATION_FAILED"
	ErrNoImageReturned  ErrorCode = "NO_IMAGE_RETURNED"
	ErrChunking         ErrorCode = "CHUNKING_FAILED"
	ErrInternalError    ErrorCode = "INTERNAL_ERROR"
)

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

// AsError 从错误链中提取 *Error
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

// IsErrorCode reports whether any error in the chain carries code.
func IsErrorCode(err error, code ErrorCode) bool {
	return GetErrorCode(err) == code
}

// WrapError 将任意错误包装为 *Error，已是 *Error 的原样返回
func WrapError(err error, code ErrorCode, message string) *Error {
	if err == nil {
		return nil
	}
	if e, ok := AsError(err); ok {
		return e
	}
	return NewError(code, message).WithCause(err)
}

// HTTPStatusFor maps an error code onto an HTTP status.
func HTTPStatusFor(code ErrorCode) int {
	switch code {
	case ErrInvalidInput, ErrMissingConfig, ErrNoImages, ErrChunking:
		return http.StatusBadRequest
	case ErrForbidden:
		return http.StatusForbidden
	case ErrNotFound:
		return http.StatusNotFound
	case ErrTimeout:
		return http.StatusGatewayTimeout
	case ErrRateLimited:
		return http.StatusTooManyRequests
	case ErrUpstreamError, ErrGenerationFailed, ErrNoImageReturned:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Common constructors.

// NewInvalidInputError returns a non-retryable validation error.
func NewInvalidInputError(format string, args ...any) *Error {
	return Errorf(ErrInvalidInput, format, args...).WithHTTPStatus(http.StatusBadRequest)
}

// NewMissingConfigError returns a non-retryable configuration error.
func NewMissingConfigError(what string) *Error {
	return Errorf(ErrMissingConfig, "missing %s", what).WithHTTPStatus(http.StatusBadRequest)
}

// NewUpstreamError returns an upstream failure, retryable when transient.
func NewUpstreamError(message string, status int, cause error) *Error {
	return NewError(ErrUpstreamError, message).
		WithHTTPStatus(status).
		WithCause(cause).
		WithRetryable(IsTransientStatus(status))
}

// IsTransientStatus reports whether an HTTP status is worth retrying.
// Status 0 means the request never got a response.
func IsTransientStatus(status int) bool {
	switch {
	case status == 0:
		return true
	case status == http.StatusRequestTimeout, status == http.StatusTooManyRequests:
		return true
	case status >= 500:
		return true
	default:
		return false
	}
}
