package handler

// RESPONSE HELPERS:
// Every handler, the session guard, the rate limiter and the panic recovery
// middleware answer through WriteJSON and WriteError, so clients see one
// response shape no matter which layer rejected the request.
//
// CONSISTENT ERROR FORMAT:
//   {"statusCode": 401, "error": "unauthorized", "code": "REFRESH_TOKEN",
//    "message": "access token expired"}
//
// The frontend branches on "code" (REFRESH_TOKEN → call /auth/refresh,
// SESSION_EXPIRED → send the user to login); "message" is for humans.

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/sakif/repo-insights/internal/apperror"
	"github.com/sakif/repo-insights/internal/auth"
	"github.com/sakif/repo-insights/internal/middleware"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 1 << 20

// ErrorResponse is the error body returned by all API endpoints.
type ErrorResponse struct {
	StatusCode int    `json:"statusCode"`
	Error      string `json:"error"`
	Code       string `json:"code"`
	Message    string `json:"message"`
	// Field names the offending input field on validation errors.
	Field string `json:"field,omitempty"`
}

// MessageResponse is the body of endpoints that only confirm an action.
type MessageResponse struct {
	Message string `json:"message"`
}

// WriteJSON sends a JSON response with the given status code.
//
// HEADER ORDER MATTERS:
// Headers and status must be written before the body; once Encode writes,
// later header changes are silently ignored.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			// Headers are already sent; all we can do is log.
			slog.Error("failed to encode JSON response", slog.Any("error", err))
		}
	}
}

// WriteError maps a domain error to an HTTP status and sends the error body.
//
// ERROR MAPPING:
// errors.Is walks the whole chain, so a service error such as
//
//	fmt.Errorf("service/repos: loading selection: %w", apperror.Forbidden(...))
//
// still maps to 403. Anything that is not an *apperror.AppError is Internal:
// the real error is logged with the request id and the client gets a
// generic message.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	logger := middleware.LoggerFromContext(r.Context())

	var appErr *apperror.AppError
	if !errors.As(err, &appErr) {
		logger.Error("internal error", slog.Any("error", err))
		WriteJSON(w, http.StatusInternalServerError, ErrorResponse{
			StatusCode: http.StatusInternalServerError,
			Error:      "internal_error",
			Code:       "INTERNAL",
			Message:    "An internal error occurred",
		})
		return
	}

	status, kind, code := classify(err)
	if appErr.Code != "" {
		code = appErr.Code
	}

	switch status {
	case http.StatusBadGateway:
		logger.Warn("upstream error", slog.Any("error", err))
	case http.StatusUnauthorized:
		logger.Debug("request rejected",
			slog.String("code", code),
			slog.String("reason", auth.Reason(err)),
		)
	case http.StatusInternalServerError:
		logger.Error("internal error", slog.Any("error", err))
	}

	WriteJSON(w, status, ErrorResponse{
		StatusCode: status,
		Error:      kind,
		Code:       code,
		Message:    appErr.Message,
		Field:      appErr.Field,
	})
}

func classify(err error) (status int, kind, code string) {
	switch {
	case errors.Is(err, apperror.ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized", apperror.CodeUnauthorized
	case errors.Is(err, apperror.ErrValidation):
		return http.StatusBadRequest, "validation_error", "INVALID_INPUT"
	case errors.Is(err, apperror.ErrNotFound):
		return http.StatusNotFound, "not_found", "NOT_FOUND"
	case errors.Is(err, apperror.ErrForbidden):
		return http.StatusForbidden, "forbidden", "FORBIDDEN"
	case errors.Is(err, apperror.ErrRateLimited):
		return http.StatusTooManyRequests, "rate_limited", "RATE_LIMITED"
	case errors.Is(err, apperror.ErrUpstream):
		return http.StatusBadGateway, "upstream_error", "UPSTREAM"
	default:
		return http.StatusInternalServerError, "internal_error", "INTERNAL"
	}
}

// decodeJSON reads a bounded JSON body into dst. Malformed input is a
// validation error so the client gets a 400, not a 500.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return apperror.ValidationFailed("body", "request body is required")
		}
		return apperror.ValidationFailed("body", "request body is not valid JSON: "+err.Error())
	}
	return nil
}

// userID returns the authenticated GitHub user id. Routes using it sit
// behind auth.RequireAccess, so a miss is a wiring bug reported as 401.
func userID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, ok := auth.ExternalIDFromContext(r.Context())
	if !ok {
		WriteError(w, r, apperror.Unauthorized(apperror.CodeUnauthorized, "valid authentication required"))
		return 0, false
	}
	return id, true
}
