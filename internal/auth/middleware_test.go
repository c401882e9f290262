package auth

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/repo-insights/internal/apperror"
)

// recordFailure is a FailureFunc that writes the code so tests can assert on it.
func recordFailure(w http.ResponseWriter, _ *http.Request, err error) {
	var appErr *apperror.AppError
	code := "INTERNAL"
	if errors.As(err, &appErr) {
		code = appErr.Code
	}
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = io.WriteString(w, code)
}

// echoClaims is the protected handler: it writes the id it saw.
var echoClaims = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	id, ok := ExternalIDFromContext(r.Context())
	if !ok {
		http.Error(w, "no claims", http.StatusInternalServerError)
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]int64{"githubId": id})
})

func serve(h http.Handler, r *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	return rec
}

func TestRequireAccess(t *testing.T) {
	ts, clock := newTestTokenService(t)
	guard := RequireAccess(ts, recordFailure)(echoClaims)

	pair, err := ts.IssueTokenPair(77)
	require.NoError(t, err)

	t.Run("valid bearer token", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
		r.Header.Set("Authorization", "Bearer "+pair.AccessToken)

		rec := serve(guard, r)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"githubId":77}`, rec.Body.String())
	})

	t.Run("lowercase scheme", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
		r.Header.Set("Authorization", "bearer "+pair.AccessToken)

		assert.Equal(t, http.StatusOK, serve(guard, r).Code)
	})

	t.Run("missing header", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/auth/me", nil)

		rec := serve(guard, r)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, apperror.CodeUnauthorized, rec.Body.String())
	})

	t.Run("refresh token presented as access", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
		r.Header.Set("Authorization", "Bearer "+pair.RefreshToken)

		rec := serve(guard, r)
		assert.Equal(t, apperror.CodeUnauthorized, rec.Body.String())
	})

	t.Run("token in cookie is ignored", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
		r.AddCookie(&http.Cookie{Name: RefreshCookieName, Value: pair.AccessToken})

		assert.Equal(t, http.StatusUnauthorized, serve(guard, r).Code)
	})

	t.Run("expired access token asks for refresh", func(t *testing.T) {
		clock.Advance(DefaultAccessTTL + time.Second)
		defer clock.Advance(-(DefaultAccessTTL + time.Second))

		r := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
		r.Header.Set("Authorization", "Bearer "+pair.AccessToken)

		rec := serve(guard, r)
		assert.Equal(t, apperror.CodeRefreshToken, rec.Body.String())
	})
}

func TestRequireRefresh(t *testing.T) {
	ts, clock := newTestTokenService(t)
	cookie := NewCookiePolicy(RefreshCookieName, "", false)
	guard := RequireRefresh(ts, cookie, recordFailure)(echoClaims)

	pair, err := ts.IssueTokenPair(5)
	require.NoError(t, err)

	t.Run("cookie", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/auth/refresh", nil)
		r.AddCookie(&http.Cookie{Name: RefreshCookieName, Value: pair.RefreshToken})

		rec := serve(guard, r)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("body fallback", func(t *testing.T) {
		body := `{"refreshToken":"` + pair.RefreshToken + `"}`
		r := httptest.NewRequest(http.MethodPost, "/auth/refresh", strings.NewReader(body))

		rec := serve(guard, r)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("cookie wins over body", func(t *testing.T) {
		body := `{"refreshToken":"garbage"}`
		r := httptest.NewRequest(http.MethodPost, "/auth/refresh", strings.NewReader(body))
		r.AddCookie(&http.Cookie{Name: RefreshCookieName, Value: pair.RefreshToken})

		assert.Equal(t, http.StatusOK, serve(guard, r).Code)
	})

	t.Run("access token presented as refresh", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/auth/refresh", nil)
		r.AddCookie(&http.Cookie{Name: RefreshCookieName, Value: pair.AccessToken})

		rec := serve(guard, r)
		assert.Equal(t, apperror.CodeUnauthorized, rec.Body.String())
	})

	t.Run("missing", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/auth/refresh", nil)

		rec := serve(guard, r)
		assert.Equal(t, apperror.CodeUnauthorized, rec.Body.String())
	})

	t.Run("expired refresh token ends the session", func(t *testing.T) {
		clock.Advance(DefaultRefreshTTL + time.Second)
		defer clock.Advance(-(DefaultRefreshTTL + time.Second))

		r := httptest.NewRequest(http.MethodPost, "/auth/refresh", nil)
		r.AddCookie(&http.Cookie{Name: RefreshCookieName, Value: pair.RefreshToken})

		rec := serve(guard, r)
		assert.Equal(t, apperror.CodeSessionExpired, rec.Body.String())
	})
}

func TestBodyField_RestoresBody(t *testing.T) {
	body := `{"refreshToken":"abc","other":1}`
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))

	assert.Equal(t, "abc", BodyField("refreshToken")(r))

	rest, err := io.ReadAll(r.Body)
	require.NoError(t, err)
	assert.Equal(t, body, string(rest))
}

func TestBodyField_NonStringAndInvalid(t *testing.T) {
	for _, body := range []string{`{"refreshToken":123}`, `not json`, ``, `{}`} {
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
		assert.Empty(t, BodyField("refreshToken")(r), "body %q", body)
	}
}

func TestFirstOf(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.AddCookie(&http.Cookie{Name: "b", Value: "from-b"})

	extract := FirstOf(CookieToken("a"), CookieToken("b"))
	assert.Equal(t, "from-b", extract(r))
}

func TestReason(t *testing.T) {
	ts, _ := newTestTokenService(t)
	_, err := ts.Verify("", KindAccess)

	wrapped := unauthorizedFor(KindAccess, err)
	assert.Equal(t, ReasonMissing, Reason(wrapped))
	assert.ErrorIs(t, wrapped, apperror.ErrUnauthorized)
}
