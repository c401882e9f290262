package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/sakif/repo-insights/internal/apperror"
)

// contextKey is an unexported type used for context keys in this package.
//
// WHY A CUSTOM TYPE FOR CONTEXT KEYS?
// context.WithValue uses any as the key type. A package-private type means
// only this package can create a key of type contextKey, so no other package
// can read or shadow the claims stored under it.
type contextKey string

const claimsKey contextKey = "claims"

// maxTokenBody bounds how much of a request body BodyField will read.
const maxTokenBody = 64 << 10

// TokenExtractor pulls a raw token from a request. It returns "" when the
// request carries none.
type TokenExtractor func(r *http.Request) string

// FailureFunc writes the rejection response. The server wires in the same
// JSON error writer the handlers use.
type FailureFunc func(w http.ResponseWriter, r *http.Request, err error)

// RequireToken is the session guard. It extracts a token, verifies it as
// kind, stores the claims in the request context and calls next. Any failure
// is turned into an Unauthorized error and handed to fail; next never runs.
//
// The guard does no I/O. In particular it never checks that the identity
// still exists; handlers that need the record look it up themselves.
//
// MIDDLEWARE PATTERN IN GO:
// Chi applies middlewares in a chain: req → M1 → M2 → Handler → M2 → M1 → resp
func RequireToken(tokens *TokenService, kind Kind, extract TokenExtractor, fail FailureFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// An absent token is verified as "" so it fails the same way as a bad one.
			claims, err := tokens.Verify(extract(r), kind)
			if err != nil {
				fail(w, r, unauthorizedFor(kind, err))
				return
			}
			ctx := context.WithValue(r.Context(), claimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAccess guards routes with a bearer access token.
func RequireAccess(tokens *TokenService, fail FailureFunc) func(http.Handler) http.Handler {
	return RequireToken(tokens, KindAccess, BearerToken, fail)
}

// RequireRefresh guards the refresh route: the refresh cookie first, then a
// "refreshToken" JSON body field for clients that cannot send cookies.
func RequireRefresh(tokens *TokenService, cookie CookiePolicy, fail FailureFunc) func(http.Handler) http.Handler {
	return RequireToken(tokens, KindRefresh, FirstOf(cookie.Read, BodyField("refreshToken")), fail)
}

// unauthorizedFor maps a verification failure to the caller-facing code.
//
//	access  + expired → REFRESH_TOKEN   (client should call /auth/refresh)
//	refresh + expired → SESSION_EXPIRED (client must log in again)
//	anything else     → UNAUTHORIZED
func unauthorizedFor(kind Kind, err error) error {
	var te *TokenError
	if errors.As(err, &te) && te.Expired() {
		if kind == KindRefresh {
			return &guardError{
				AppError: apperror.Unauthorized(apperror.CodeSessionExpired, "session expired, please sign in again"),
				cause:    err,
			}
		}
		return &guardError{
			AppError: apperror.Unauthorized(apperror.CodeRefreshToken, "access token expired"),
			cause:    err,
		}
	}
	return &guardError{
		AppError: apperror.Unauthorized(apperror.CodeUnauthorized, "valid authentication required"),
		cause:    err,
	}
}

// guardError keeps the verification reason reachable for logging while
// presenting the Unauthorized AppError to the error writer.
type guardError struct {
	*apperror.AppError
	cause error
}

func (e *guardError) Unwrap() []error { return []error{e.AppError, e.cause} }

// Reason returns the TokenError reason behind a guard rejection, or "".
func Reason(err error) string {
	var te *TokenError
	if errors.As(err, &te) {
		return te.Reason
	}
	return ""
}

// ClaimsFromContext returns the claims stored by RequireToken.
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(claimsKey).(*Claims)
	return c, ok && c != nil
}

// ExternalIDFromContext returns the authenticated GitHub user id.
//
// Usage in handlers:
//
//	userID, ok := auth.ExternalIDFromContext(r.Context())
//	if !ok {
//	    // route is not behind RequireAccess
//	}
func ExternalIDFromContext(ctx context.Context) (int64, bool) {
	c, ok := ClaimsFromContext(ctx)
	if !ok {
		return 0, false
	}
	return c.ExternalID, true
}

// WithClaims stores claims in ctx. Used by tests that bypass the guard.
func WithClaims(ctx context.Context, c *Claims) context.Context {
	return context.WithValue(ctx, claimsKey, c)
}

// BearerToken reads "Authorization: Bearer <token>".
func BearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// CookieToken reads the named cookie.
func CookieToken(name string) TokenExtractor {
	return func(r *http.Request) string {
		c, err := r.Cookie(name)
		if err != nil {
			return ""
		}
		return c.Value
	}
}

// BodyField reads a string field from a JSON request body. The body is
// restored afterwards so the handler can still decode it.
func BodyField(field string) TokenExtractor {
	return func(r *http.Request) string {
		if r.Body == nil || r.Body == http.NoBody {
			return ""
		}
		raw, err := io.ReadAll(io.LimitReader(r.Body, maxTokenBody))
		r.Body.Close()
		r.Body = io.NopCloser(bytes.NewReader(raw))
		if err != nil || len(raw) == 0 {
			return ""
		}

		var body map[string]json.RawMessage
		if err := json.Unmarshal(raw, &body); err != nil {
			return ""
		}
		var value string
		if err := json.Unmarshal(body[field], &value); err != nil {
			return ""
		}
		return value
	}
}

// FirstOf tries each extractor in order and returns the first non-empty token.
func FirstOf(extractors ...TokenExtractor) TokenExtractor {
	return func(r *http.Request) string {
		for _, extract := range extractors {
			if token := extract(r); token != "" {
				return token
			}
		}
		return ""
	}
}
