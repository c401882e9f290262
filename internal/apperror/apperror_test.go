package apperror

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorsIs(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		target    error
		wantMatch bool
	}{
		{
			name:      "NotFound wraps ErrNotFound",
			err:       NotFound("identity", int64(42)),
			target:    ErrNotFound,
			wantMatch: true,
		},
		{
			name:      "ValidationFailed wraps ErrValidation",
			err:       ValidationFailed("repoIds", "repoIds must not be empty"),
			target:    ErrValidation,
			wantMatch: true,
		},
		{
			name:      "Unauthorized wraps ErrUnauthorized",
			err:       Unauthorized(CodeRefreshToken, "access token expired"),
			target:    ErrUnauthorized,
			wantMatch: true,
		},
		{
			name:      "Upstream with cause still matches ErrUpstream",
			err:       Upstream("GitHub is unavailable", errors.New("dial tcp: timeout")),
			target:    ErrUpstream,
			wantMatch: true,
		},
		{
			name:      "wrapped Forbidden matches through fmt.Errorf",
			err:       fmt.Errorf("service/repos: deleting: %w", Forbidden("not your repository")),
			target:    ErrForbidden,
			wantMatch: true,
		},
		{
			name:      "RateLimited wraps ErrRateLimited",
			err:       RateLimited(),
			target:    ErrRateLimited,
			wantMatch: true,
		},
		{
			name:      "NotFound does NOT match ErrValidation",
			err:       NotFound("selection", int64(7)),
			target:    ErrValidation,
			wantMatch: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := errors.Is(tt.err, tt.target)
			if got != tt.wantMatch {
				t.Errorf("errors.Is(%v, %v) = %v, want %v", tt.err, tt.target, got, tt.wantMatch)
			}
		})
	}
}

func TestErrorMessages(t *testing.T) {
	tests := []struct {
		name        string
		err         *AppError
		wantMessage string
	}{
		{
			name:        "NotFound message includes resource and id",
			err:         NotFound("identity", int64(42)),
			wantMessage: "identity not found with id 42",
		},
		{
			name:        "Upstream hides the cause",
			err:         Upstream("GitHub request failed", errors.New("500 from api.github.com")),
			wantMessage: "GitHub request failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantMessage {
				t.Errorf("Error() = %q, want %q", got, tt.wantMessage)
			}
		})
	}
}

func TestUnauthorizedDefaultsCode(t *testing.T) {
	err := Unauthorized("", "missing token")
	if err.Code != CodeUnauthorized {
		t.Errorf("Code = %q, want %q", err.Code, CodeUnauthorized)
	}
}

func TestValidationFailedField(t *testing.T) {
	err := ValidationFailed("repoIds", "too many repositories")

	if err.Field != "repoIds" {
		t.Errorf("Field = %q, want %q", err.Field, "repoIds")
	}
}
