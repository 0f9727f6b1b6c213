package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"
)

// Upstream converts a non-2xx response from the REST data service into an
// AppError. The body is trimmed into the message so it shows up in logs.
func Upstream(statusCode int, method, path string, body []byte) *AppError {
	msg := strings.TrimSpace(string(body))
	if len(msg) > 256 {
		msg = msg[:256]
	}
	if msg == "" {
		msg = http.StatusText(statusCode)
	}
	return NewError(statusCode, CodeUpstream, fmt.Sprintf("%s %s: %s", method, path, msg)).
		WithDetails(map[string]any{"status": statusCode, "path": path})
}

// BadRequest creates a 400 Bad Request error
func BadRequest(code string, message string) *AppError {
	return NewError(http.StatusBadRequest, code, message)
}

// Unauthorized creates a 401 Unauthorized error
func Unauthorized(code string, message string) *AppError {
	return NewError(http.StatusUnauthorized, code, message)
}

// NotFound creates a 404 Not Found error
func NotFound(code string, message string) *AppError {
	return NewError(http.StatusNotFound, code, message)
}

// FromError converts a standard error to an AppError
// If the error is already an AppError, it is returned as-is
// Otherwise, it is wrapped as an internal error
func FromError(err error) *AppError {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}

	return NewError(http.StatusInternalServerError, CodeInternal,
		fmt.Sprintf("An unexpected error occurred: %s", err.Error())).Wrap(err)
}

// GetStatusCode extracts the HTTP status code from an AppError, returns 500 if not an AppError
func GetStatusCode(err error) int {
	var appErr *AppError
	if stderrors.As(err, &appErr) && appErr.StatusCode != 0 {
		return appErr.StatusCode
	}
	return http.StatusInternalServerError
}

// GetErrorCode extracts the error code from an AppError, returns "UNKNOWN_ERROR" if not an AppError
func GetErrorCode(err error) string {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return "UNKNOWN_ERROR"
}

// GetErrorMessage extracts the error message, returns original error message if not an AppError
func GetErrorMessage(err error) string {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Message
	}
	return err.Error()
}
