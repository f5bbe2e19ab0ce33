// Package errors defines the error vocabulary shared by the backend client,
// the session layer and the companion daemon. Each kind pairs a sentinel with
// the machine code and HTTP status it surfaces as.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrNotFound       = errors.New("resource not found")
	ErrInvalidInput   = errors.New("invalid input")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrConflict       = errors.New("conflict")
	ErrInternal       = errors.New("internal error")
	ErrServiceUnavail = errors.New("service unavailable")
	ErrRateLimited    = errors.New("rate limited")
)

type kind struct {
	sentinel error
	code     string
	status   int
}

// kinds is checked in order by HTTPStatus.
var kinds = []kind{
	{ErrNotFound, "NOT_FOUND", http.StatusNotFound},
	{ErrConflict, "CONFLICT", http.StatusConflict},
	{ErrInvalidInput, "INVALID_INPUT", http.StatusBadRequest},
	{ErrUnauthorized, "UNAUTHORIZED", http.StatusUnauthorized},
	{ErrForbidden, "FORBIDDEN", http.StatusForbidden},
	{ErrRateLimited, "RATE_LIMITED", http.StatusTooManyRequests},
	{ErrServiceUnavail, "SERVICE_UNAVAILABLE", http.StatusServiceUnavailable},
}

func kindOf(sentinel error) kind {
	for _, k := range kinds {
		if k.sentinel == sentinel {
			return k
		}
	}
	return kind{sentinel: ErrInternal, code: "INTERNAL_ERROR", status: http.StatusInternalServerError}
}

// AppError is a structured error carrying a machine code and an HTTP status.
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"-"`
	Err     error  `json:"-"`
}

func newAppError(sentinel error, message string) *AppError {
	k := kindOf(sentinel)
	return &AppError{Code: k.code, Message: message, Status: k.status, Err: sentinel}
}

func (e *AppError) Error() string {
	if e.Err == nil {
		return e.Code + ": " + e.Message
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
}

func (e *AppError) Unwrap() error { return e.Err }

// NotFound reports a missing resource, e.g. NotFound("surah", "115").
func NotFound(resource, id string) *AppError {
	if id == "" {
		return newAppError(ErrNotFound, resource+" not found")
	}
	return newAppError(ErrNotFound, fmt.Sprintf("%s %s not found", resource, id))
}

func InvalidInput(message string) *AppError { return newAppError(ErrInvalidInput, message) }

func Unauthorized(message string) *AppError { return newAppError(ErrUnauthorized, message) }

func Forbidden(message string) *AppError { return newAppError(ErrForbidden, message) }

func Conflict(message string) *AppError { return newAppError(ErrConflict, message) }

func RateLimited(message string) *AppError { return newAppError(ErrRateLimited, message) }

func ServiceUnavailable(message string) *AppError {
	return newAppError(ErrServiceUnavail, message)
}

// Internal hides cause behind a generic message; cause stays reachable
// through errors.Is and errors.As.
func Internal(cause error) *AppError {
	e := newAppError(ErrInternal, "an internal error occurred")
	e.Err = cause
	return e
}

// HTTPStatus maps err to a status: an AppError's own status first, then the
// first sentinel in its chain, then 500.
func HTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.Status != 0 {
		return appErr.Status
	}
	for _, k := range kinds {
		if errors.Is(err, k.sentinel) {
			return k.status
		}
	}
	return http.StatusInternalServerError
}
