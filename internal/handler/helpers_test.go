package handler_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/repo-insights/internal/auth"
	"github.com/sakif/repo-insights/internal/github"
	"github.com/sakif/repo-insights/internal/handler"
	"github.com/sakif/repo-insights/internal/repository/memory"
	"github.com/sakif/repo-insights/internal/service"
)

const frontendURL = "https://app.example.com"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// stubProvider stands in for the GitHub OAuth handshake.
type stubProvider struct {
	assertion *auth.Assertion
	err       error
	codes     []string
}

func (p *stubProvider) AuthURL(state string) string {
	return "https://github.com/login/oauth/authorize?state=" + state
}

func (p *stubProvider) Exchange(_ context.Context, code string) (*auth.Assertion, error) {
	p.codes = append(p.codes, code)
	return p.assertion, p.err
}

// stubGitHub serves a fixed repository list; every other read is empty.
type stubGitHub struct {
	repos  []github.Repo
	issues []github.Issue
	pulls  []github.PullRequest
	err    error

	lastCommitQ github.CommitQuery
	lastIssueQ  github.IssueQuery
}

func (g *stubGitHub) AuthenticatedUser(context.Context, string) (*github.User, error) {
	return &github.User{Login: "octocat", Name: "Mona"}, g.err
}

func (g *stubGitHub) ListOwnedRepos(context.Context, string) ([]github.Repo, error) {
	return g.repos, g.err
}

func (g *stubGitHub) Repo(_ context.Context, _, fullName string) (*github.Repo, error) {
	return &github.Repo{FullName: fullName}, g.err
}

func (g *stubGitHub) Languages(context.Context, string, string) (map[string]int64, error) {
	return map[string]int64{}, g.err
}

func (g *stubGitHub) Contributors(context.Context, string, string) (*github.Page[github.Contributor], error) {
	return &github.Page[github.Contributor]{Items: []github.Contributor{}}, g.err
}

func (g *stubGitHub) ContributorCount(context.Context, string, string) (int, error) {
	return 0, g.err
}

func (g *stubGitHub) Commits(_ context.Context, _, _ string, q github.CommitQuery) (*github.Page[github.Commit], error) {
	g.lastCommitQ = q
	return &github.Page[github.Commit]{Items: []github.Commit{}, Page: q.Page, PerPage: q.PerPage}, g.err
}

func (g *stubGitHub) Issues(_ context.Context, _, _ string, q github.IssueQuery) (*github.Page[github.Issue], error) {
	g.lastIssueQ = q
	items := g.issues
	if items == nil {
		items = []github.Issue{}
	}
	return &github.Page[github.Issue]{Items: items, Page: q.Page, PerPage: q.PerPage}, g.err
}

func (g *stubGitHub) PullRequests(_ context.Context, _, _ string, q github.PullQuery) (*github.Page[github.PullRequest], error) {
	items := g.pulls
	if items == nil {
		items = []github.PullRequest{}
	}
	return &github.Page[github.PullRequest]{Items: items, Page: q.Page, PerPage: q.PerPage}, g.err
}

func (g *stubGitHub) Branches(context.Context, string, string) ([]github.Branch, error) {
	return []github.Branch{}, g.err
}

func repo(id int64, name string) github.Repo {
	return github.Repo{ID: id, Name: name, FullName: "octocat/" + name, HTMLURL: "https://github.com/octocat/" + name}
}

// testEnv wires real services over the memory store.
type testEnv struct {
	store    *memory.Store
	tokens   *auth.TokenService
	provider *stubProvider
	github   *stubGitHub

	refreshCookie auth.CookiePolicy
	stateCookie   auth.CookiePolicy

	auth  *handler.AuthHandler
	users *handler.UserHandler
	repos *handler.RepoHandler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	tokens, err := auth.NewTokenService(auth.TokenConfig{AccessSecret: "handler-test-secret-0123456789"})
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}

	env := &testEnv{
		store:         memory.New(),
		tokens:        tokens,
		provider:      &stubProvider{},
		github:        &stubGitHub{},
		refreshCookie: auth.NewCookiePolicy(auth.RefreshCookieName, "", false),
		stateCookie:   auth.NewCookiePolicy(auth.StateCookieName, "", false),
	}
	logger := discardLogger()
	authSvc := service.NewAuthService(env.store, tokens, logger)
	accounts := service.NewAccountService(env.store, env.store, env.github, logger)
	sync := service.NewSyncEngine(env.store, env.github, logger)
	repos := service.NewRepoService(env.store, env.store, env.github, sync, logger)

	env.auth = handler.NewAuthHandler(env.provider, authSvc, env.refreshCookie, env.stateCookie, frontendURL)
	env.users = handler.NewUserHandler(accounts, env.refreshCookie)
	env.repos = handler.NewRepoHandler(repos)
	return env
}

// router mounts the repo routes without the guard; requests carry claims
// through asUser instead.
func (e *testEnv) router() http.Handler {
	r := chi.NewRouter()
	r.Get("/repos/github", e.repos.HandleAvailable)
	r.Get("/repos", e.repos.HandleSelected)
	r.Post("/repos/select", e.repos.HandleSelect)
	r.Route("/repos/{repoId}", func(r chi.Router) {
		r.Get("/", e.repos.HandleDetails)
		r.Delete("/", e.repos.HandleRemove)
		r.Get("/commits", e.repos.HandleCommits)
		r.Get("/commits/metadata", e.repos.HandleCommitsMetadata)
		r.Get("/issues", e.repos.HandleIssues)
		r.Get("/issues/metadata", e.repos.HandleIssuesMetadata)
		r.Get("/pull-requests", e.repos.HandlePullRequests)
		r.Get("/pull-requests/metadata", e.repos.HandlePullRequestsMetadata)
	})
	return r
}

// asUser attaches verified access claims for id to req.
func asUser(req *http.Request, id int64) *http.Request {
	claims := &auth.Claims{ExternalID: id, Type: auth.KindAccess}
	return req.WithContext(auth.WithClaims(req.Context(), claims))
}

func cookieNamed(resp *http.Response, name string) *http.Cookie {
	for _, c := range resp.Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

var testNow = time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
