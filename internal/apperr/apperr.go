// Package apperr defines the service error taxonomy: every kind carries a
// stable code and the HTTP status the intake surface renders it with.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Error is a classified service error.
type Error struct {
	Status  int      `json:"-"`
	Code    string   `json:"code"`
	Message string   `json:"message"`
	Errors  []string `json:"errors,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func newError(status int, code, defaultMsg, msg string) *Error {
	if msg == "" {
		msg = defaultMsg
	}
	return &Error{Status: status, Code: code, Message: msg}
}

func BadRequest(msg string) *Error {
	return newError(http.StatusBadRequest, "BAD_REQUEST", "Bad request", msg)
}

func AuthenticationFailed(msg string) *Error {
	return newError(http.StatusUnauthorized, "AUTHENTICATION_FAILED", "Authentication failed", msg)
}

func PermissionDenied(msg string) *Error {
	return newError(http.StatusForbidden, "PERMISSION_DENIED", "You do not have permission to perform this action", msg)
}

func NotFound(msg string) *Error {
	return newError(http.StatusNotFound, "NOT_FOUND", "Not found", msg)
}

func MethodNotAllowed(msg string) *Error {
	return newError(http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", msg)
}

func Timeout(msg string) *Error {
	return newError(http.StatusRequestTimeout, "TIMEOUT", "Request timeout", msg)
}

func Conflict(msg string) *Error {
	return newError(http.StatusConflict, "CONFLICT_ERROR", "Conflict error", msg)
}

// URLExists is the conflict raised when a URL is submitted twice.
func URLExists(url string) *Error {
	e := Conflict(fmt.Sprintf("URL %s already exists", url))
	e.Code = "URL_EXISTS"
	return e
}

func Validation(msg string, details ...string) *Error {
	e := newError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Validation error", msg)
	e.Errors = details
	return e
}

func Internal(msg string) *Error {
	return newError(http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "Internal server error", msg)
}

func BadGateway(msg string) *Error {
	return newError(http.StatusBadGateway, "BAD_GATEWAY", "Bad gateway", msg)
}

func ServiceUnavailable(msg string) *Error {
	return newError(http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "Service unavailable", msg)
}

// From classifies an arbitrary error; anything unrecognized becomes Internal.
func From(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Internal(err.Error())
}
