// Package apperror defines the error taxonomy shared by every layer.
//
// Services and store adapters return these; only the HTTP layer turns them
// into status codes. Anything that is not an *AppError is treated as Internal.
package apperror

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrValidation   = errors.New("validation error")
	ErrForbidden    = errors.New("forbidden")
	ErrUnauthorized = errors.New("unauthorized")
	ErrUpstream     = errors.New("upstream error")
	ErrRateLimited  = errors.New("rate limited")
)

// Caller-facing codes carried by Unauthorized errors. The frontend branches on
// these: REFRESH_TOKEN means call /auth/refresh, SESSION_EXPIRED means log in again.
const (
	CodeRefreshToken   = "REFRESH_TOKEN"
	CodeSessionExpired = "SESSION_EXPIRED"
	CodeUnauthorized   = "UNAUTHORIZED"
)

type AppError struct {
	Err     error  // sentinel kind
	Code    string // machine-readable code, empty means derive from Err
	Message string // human-readable, safe to return to the client
	Field   string // optional: field causing the error
}

func (e *AppError) Error() string {
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func NotFound(resource string, id any) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: fmt.Sprintf("%s not found with id %v", resource, id),
	}
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   field,
	}
}

// Forbidden returns an AppError indicating the caller lacks permission.
// HTTP handlers map this to 403 Forbidden.
func Forbidden(message string) *AppError {
	return &AppError{
		Err:     ErrForbidden,
		Message: message,
	}
}

// Unauthorized returns an AppError with one of the Code* constants.
func Unauthorized(code, message string) *AppError {
	if code == "" {
		code = CodeUnauthorized
	}
	return &AppError{
		Err:     ErrUnauthorized,
		Code:    code,
		Message: message,
	}
}

// Upstream wraps a GitHub failure. The cause is kept for logging only;
// Message is what the client sees.
func Upstream(message string, cause error) *AppError {
	err := ErrUpstream
	if cause != nil {
		err = fmt.Errorf("%w: %w", ErrUpstream, cause)
	}
	return &AppError{
		Err:     err,
		Message: message,
	}
}

// RateLimited is returned when a client exceeds its request budget.
func RateLimited() *AppError {
	return &AppError{
		Err:     ErrRateLimited,
		Message: "too many requests, slow down",
	}
}
