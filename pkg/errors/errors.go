package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// Error codes surfaced to the conversation view. All of them are
// recoverable notices; none terminates a conversation.
const (
	CodeEmptyMessage        = "EMPTY_MESSAGE"
	CodeNoReceiver          = "NO_RECEIVER"
	CodeSendRejected        = "SEND_REJECTED"
	CodeResolverExhausted   = "RESOLVER_EXHAUSTED"
	CodeChannelDisconnected = "CHANNEL_DISCONNECTED"
	CodeRateLimited         = "RATE_LIMITED"
	CodeUpstream            = "UPSTREAM_ERROR"
	CodeCircuitOpen         = "CIRCUIT_OPEN"
	CodeInternal            = "INTERNAL_ERROR"
)

// AppError represents an application error with HTTP status code and error code
type AppError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"code"`
	Message    string `json:"message"`
	Details    any    `json:"details,omitempty"`
	cause      error
}

// Error implements the error interface
func (e *AppError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap exposes the underlying cause, if any.
func (e *AppError) Unwrap() error {
	return e.cause
}

// Is reports whether target is an AppError carrying the same code, so that
// the standard library errors.Is works against the sentinels below.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	return ok && t.Code == e.Code
}

// WithDetails adds details to the error
func (e *AppError) WithDetails(details any) *AppError {
	e.Details = details
	return e
}

// Wrap records cause as the underlying error.
func (e *AppError) Wrap(cause error) *AppError {
	e.cause = cause
	return e
}

// NewError creates a new application error
func NewError(statusCode int, code string, message string) *AppError {
	return &AppError{
		StatusCode: statusCode,
		Code:       code,
		Message:    message,
	}
}

// Sentinels for errors.Is comparisons. Never mutate these; the
// constructors below return fresh values.
var (
	ErrEmptyMessage        = NewError(http.StatusBadRequest, CodeEmptyMessage, "message cannot be empty")
	ErrNoReceiver          = NewError(http.StatusConflict, CodeNoReceiver, "receiver not identified yet")
	ErrSendRejected        = NewError(http.StatusUnprocessableEntity, CodeSendRejected, "message rejected by server")
	ErrResolverExhausted   = NewError(http.StatusNotFound, CodeResolverExhausted, "conversation partner could not be determined")
	ErrChannelDisconnected = NewError(http.StatusServiceUnavailable, CodeChannelDisconnected, "realtime channel disconnected")
	ErrRateLimited         = NewError(http.StatusTooManyRequests, CodeRateLimited, "sending too fast")
	ErrCircuitOpen         = NewError(http.StatusServiceUnavailable, CodeCircuitOpen, "service temporarily unavailable")
)

// EmptyMessage reports a blank or whitespace-only body.
func EmptyMessage() *AppError {
	return NewError(http.StatusBadRequest, CodeEmptyMessage, ErrEmptyMessage.Message)
}

// NoReceiver reports a send attempted before the partner is known.
func NoReceiver() *AppError {
	return NewError(http.StatusConflict, CodeNoReceiver, ErrNoReceiver.Message)
}

// SendRejected wraps the reason string the server attached to send_failed.
func SendRejected(reason string) *AppError {
	if reason == "" {
		reason = ErrSendRejected.Message
	}
	return NewError(http.StatusUnprocessableEntity, CodeSendRejected, reason)
}

// ResolverExhausted reports that neither history nor trade requests named a partner.
func ResolverExhausted(requestID int64) *AppError {
	return NewError(http.StatusNotFound, CodeResolverExhausted, ErrResolverExhausted.Message).
		WithDetails(map[string]int64{"request_id": requestID})
}

// ChannelDisconnected reports a lost or never-established transport.
func ChannelDisconnected(cause error) *AppError {
	e := NewError(http.StatusServiceUnavailable, CodeChannelDisconnected, ErrChannelDisconnected.Message)
	if cause != nil {
		e.Message = fmt.Sprintf("%s: %v", e.Message, cause)
		e.cause = cause
	}
	return e
}

// RateLimited reports a client-side send throttle hit.
func RateLimited() *AppError {
	return NewError(http.StatusTooManyRequests, CodeRateLimited, ErrRateLimited.Message)
}

// CircuitOpen reports a short-circuited call to the named dependency.
func CircuitOpen(name string) *AppError {
	return NewError(http.StatusServiceUnavailable, CodeCircuitOpen, ErrCircuitOpen.Message).
		WithDetails(map[string]string{"breaker": name})
}

// Is checks whether err carries the same code as target.
func Is(err error, target *AppError) bool {
	var appErr *AppError
	if !stderrors.As(err, &appErr) {
		return false
	}
	return appErr.Code == target.Code
}
