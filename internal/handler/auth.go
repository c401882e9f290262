package handler

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/repo-insights/internal/apperror"
	"github.com/sakif/repo-insights/internal/auth"
	"github.com/sakif/repo-insights/internal/middleware"
	"github.com/sakif/repo-insights/internal/service"
)

// stateTTL is how long the user has to approve the app on GitHub.
const stateTTL = 10 * time.Minute

// OAuthProvider is the part of *auth.GitHubProvider the handler needs.
type OAuthProvider interface {
	AuthURL(state string) string
	Exchange(ctx context.Context, code string) (*auth.Assertion, error)
}

// AuthHandler manages the GitHub OAuth login flow and the session lifecycle.
//
// HANDLER RESPONSIBILITIES:
//   - HandleGitHubLogin    → redirect the browser to GitHub's authorization page
//   - HandleGitHubCallback → receive the code, upsert the identity, start a session
//   - HandleRefresh        → rotate the token pair from the refresh cookie
//   - HandleLogout         → clear the refresh cookie
//   - HandleMe             → echo the verified access token claims
type AuthHandler struct {
	provider      OAuthProvider
	auth          *service.AuthService
	refreshCookie auth.CookiePolicy
	stateCookie   auth.CookiePolicy
	frontendURL   string
}

// NewAuthHandler creates an AuthHandler. refreshCookie must be the same
// policy the refresh guard reads, so set and clear always match.
func NewAuthHandler(
	provider OAuthProvider,
	authService *service.AuthService,
	refreshCookie auth.CookiePolicy,
	stateCookie auth.CookiePolicy,
	frontendURL string,
) *AuthHandler {
	return &AuthHandler{
		provider:      provider,
		auth:          authService,
		refreshCookie: refreshCookie,
		stateCookie:   stateCookie,
		frontendURL:   strings.TrimRight(frontendURL, "/"),
	}
}

// LoginResponse is the callback body for clients that ask for JSON.
type LoginResponse struct {
	AccessToken          string    `json:"accessToken"`
	AccessTokenExpiresAt time.Time `json:"accessTokenExpiresAt"`
	IsNewUser            bool      `json:"isNewUser"`
}

// RefreshResponse is the body of POST /auth/refresh.
type RefreshResponse struct {
	AccessToken          string    `json:"accessToken"`
	AccessTokenExpiresAt time.Time `json:"accessTokenExpiresAt"`
}

// MeResponse echoes the verified claims of the access token.
type MeResponse struct {
	GitHubID  int64     `json:"githubId"`
	Type      auth.Kind `json:"type"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// HandleGitHubLogin redirects the user to GitHub's authorization page.
//
// HTTP: GET /auth/github
//
// CSRF PROTECTION VIA STATE:
// A random state value goes into a short-lived HttpOnly cookie and into the
// authorization URL. The callback only proceeds when both match.
func (h *AuthHandler) HandleGitHubLogin(w http.ResponseWriter, r *http.Request) {
	state := xid.New().String()
	h.stateCookie.Set(w, state, time.Now().Add(stateTTL))
	http.Redirect(w, r, h.provider.AuthURL(state), http.StatusTemporaryRedirect)
}

// HandleGitHubCallback completes the OAuth login flow.
//
// HTTP: GET /auth/github/callback?code=xxx&state=yyy
//
// FLOW:
//  1. Validate the state parameter (CSRF check), then drop the state cookie
//  2. Handle a denial reported by GitHub
//  3. Exchange the code for a token and the GitHub user id
//  4. Upsert the identity; tokens are minted only if that write succeeded
//  5. Set the refresh cookie, then answer with JSON or a redirect
func (h *AuthHandler) HandleGitHubCallback(w http.ResponseWriter, r *http.Request) {
	logger := middleware.LoggerFromContext(r.Context())
	query := r.URL.Query()

	// --- Step 1: CSRF state ---
	expected := h.stateCookie.Read(r)
	h.stateCookie.Clear(w)
	if expected == "" || query.Get("state") != expected {
		logger.Warn("auth callback: state mismatch", slog.Bool("cookiePresent", expected != ""))
		WriteError(w, r, apperror.ValidationFailed("state", "invalid OAuth state"))
		return
	}

	// --- Step 2: user denied authorization ---
	if errParam := query.Get("error"); errParam != "" {
		logger.Info("auth callback: authorization denied", slog.String("error", errParam))
		if wantsJSON(r) {
			WriteError(w, r, apperror.Unauthorized(apperror.CodeUnauthorized, "GitHub authorization was denied"))
			return
		}
		http.Redirect(w, r, h.frontendURL+"/?auth="+url.QueryEscape(errParam), http.StatusSeeOther)
		return
	}

	code := query.Get("code")
	if code == "" {
		WriteError(w, r, apperror.ValidationFailed("code", "missing OAuth code"))
		return
	}

	// --- Step 3: exchange ---
	assertion, err := h.provider.Exchange(r.Context(), code)
	if err != nil {
		WriteError(w, r, err)
		return
	}

	// --- Step 4: upsert + mint ---
	result, err := h.auth.CompleteLogin(r.Context(), assertion)
	if err != nil {
		WriteError(w, r, err)
		return
	}

	// --- Step 5: respond ---
	h.refreshCookie.Set(w, result.Tokens.RefreshToken, result.Tokens.RefreshExpiresAt)
	if wantsJSON(r) {
		WriteJSON(w, http.StatusOK, LoginResponse{
			AccessToken:          result.Tokens.AccessToken,
			AccessTokenExpiresAt: result.Tokens.AccessExpiresAt,
			IsNewUser:            result.IsNewUser,
		})
		return
	}
	http.Redirect(w, r, h.frontendURL+"/dashboard", http.StatusSeeOther)
}

// HandleRefresh issues a new token pair.
//
// HTTP: POST /auth/refresh (behind auth.RequireRefresh)
//
// The previous refresh token is not revoked; it stays usable until it expires.
func (h *AuthHandler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(w, r)
	if !ok {
		return
	}

	pair, err := h.auth.Refresh(r.Context(), id)
	if err != nil {
		WriteError(w, r, err)
		return
	}

	h.refreshCookie.Set(w, pair.RefreshToken, pair.RefreshExpiresAt)
	WriteJSON(w, http.StatusOK, RefreshResponse{
		AccessToken:          pair.AccessToken,
		AccessTokenExpiresAt: pair.AccessExpiresAt,
	})
}

// HandleLogout clears the refresh cookie.
//
// HTTP: POST /auth/logout
//
// No authentication is needed and the answer is the same whether or not a
// cookie was present, so repeated calls are harmless. Tokens already issued
// stay valid until they expire; nothing is stored server-side to revoke.
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	h.refreshCookie.Clear(w)
	WriteJSON(w, http.StatusOK, MessageResponse{Message: "logged out"})
}

// HandleMe returns the claims of the presented access token.
//
// HTTP: GET /auth/me (behind auth.RequireAccess)
func (h *AuthHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		WriteError(w, r, apperror.Unauthorized(apperror.CodeUnauthorized, "valid authentication required"))
		return
	}

	resp := MeResponse{GitHubID: claims.ExternalID, Type: claims.Type}
	if claims.ExpiresAt != nil {
		resp.ExpiresAt = claims.ExpiresAt.Time.UTC()
	}
	WriteJSON(w, http.StatusOK, resp)
}

// wantsJSON reports whether the client asked for a JSON answer instead of a
// browser redirect.
func wantsJSON(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}
