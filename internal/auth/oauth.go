package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"

	"github.com/sakif/repo-insights/internal/apperror"
)

// DefaultScopes are requested on every authorization.
//   - "read:user"  : profile (id, login, avatar)
//   - "user:email" : email addresses
//   - "repo"       : private repositories, needed to list and inspect them
var DefaultScopes = []string{"read:user", "user:email", "repo"}

// defaultExchangeTimeout bounds Exchange when no timeout is configured.
const defaultExchangeTimeout = 15 * time.Second

// Assertion is what a successful OAuth exchange proves: who the user is on
// GitHub and a token to act as them.
type Assertion struct {
	ExternalID  int64
	AccessToken string
	Login       string
}

// GitHubProvider wraps golang.org/x/oauth2 for the GitHub Authorization Code flow.
//
// OAUTH 2.0 AUTHORIZATION CODE FLOW:
//  1. Redirect the user to GitHub with our ClientID, scopes and a state value.
//  2. The user approves on GitHub.
//  3. GitHub redirects back to CallbackURL with a short-lived "code".
//  4. We exchange the code for an access token (server-to-server, uses ClientSecret).
//  5. We call GET /user with that token to learn the user's numeric id.
type GitHubProvider struct {
	config  *oauth2.Config
	apiURL  string
	timeout time.Duration
}

// NewGitHubProvider creates a GitHubProvider. callbackURL must match the
// "Authorization callback URL" registered for the OAuth App exactly.
// apiURL is normally https://api.github.com. timeout bounds the whole
// Exchange (token request plus /user lookup); zero means 15s.
func NewGitHubProvider(clientID, clientSecret, callbackURL, apiURL string, timeout time.Duration) *GitHubProvider {
	if apiURL == "" {
		apiURL = "https://api.github.com"
	}
	if timeout <= 0 {
		timeout = defaultExchangeTimeout
	}
	return &GitHubProvider{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  callbackURL,
			Scopes:       DefaultScopes,
			Endpoint:     github.Endpoint,
		},
		apiURL:  strings.TrimRight(apiURL, "/"),
		timeout: timeout,
	}
}

// AuthURL returns the URL to redirect the user to for authorization.
//
// STATE PARAMETER:
// state is random, stored in a cookie before redirecting, and compared when
// GitHub calls back. That stops an attacker from completing an OAuth flow
// for their own account in the victim's browser (login CSRF).
func (p *GitHubProvider) AuthURL(state string) string {
	return p.config.AuthCodeURL(state, oauth2.AccessTypeOnline)
}

// Exchange trades the authorization code for a token and resolves the user.
// Failures are Upstream errors: GitHub rejected the code, is unavailable, or
// did not answer within the provider timeout.
func (p *GitHubProvider) Exchange(ctx context.Context, code string) (*Assertion, error) {
	// The deadline covers both requests. Without a client in the context
	// oauth2 uses http.DefaultClient, which has no timeout.
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	ctx = context.WithValue(ctx, oauth2.HTTPClient, &http.Client{Timeout: p.timeout})

	token, err := p.config.Exchange(ctx, code)
	if err != nil {
		return nil, apperror.Upstream("GitHub authorization failed", fmt.Errorf("auth: exchanging OAuth code: %w", err))
	}

	// config.Client adds "Authorization: Bearer <token>" to every request.
	client := p.config.Client(ctx, token)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.apiURL+"/user", nil)
	if err != nil {
		return nil, fmt.Errorf("auth: building /user request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, apperror.Upstream("GitHub is unavailable", fmt.Errorf("auth: calling GitHub /user API: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apperror.Upstream("GitHub authorization failed", fmt.Errorf("auth: GitHub /user API returned status %d", resp.StatusCode))
	}

	var user struct {
		ID    int64  `json:"id"`
		Login string `json:"login"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return nil, apperror.Upstream("GitHub authorization failed", fmt.Errorf("auth: decoding GitHub /user response: %w", err))
	}
	if user.ID == 0 {
		return nil, apperror.Upstream("GitHub authorization failed", fmt.Errorf("auth: GitHub returned an invalid user (ID = 0)"))
	}

	return &Assertion{
		ExternalID:  user.ID,
		AccessToken: token.AccessToken,
		Login:       user.Login,
	}, nil
}
