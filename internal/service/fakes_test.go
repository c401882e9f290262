package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/sakif/repo-insights/internal/auth"
	"github.com/sakif/repo-insights/internal/github"
	"github.com/sakif/repo-insights/internal/model"
	"github.com/sakif/repo-insights/internal/repository/memory"
)

// =========================================================================
// FAKES AND HELPERS
// =========================================================================

// fakeGitHub serves canned data. Each call is counted by method name so
// tests can assert what was (not) fetched.
type fakeGitHub struct {
	mu sync.Mutex

	user         *github.User
	repos        []github.Repo
	languages    map[string]int64
	contributors []github.Contributor
	branches     []github.Branch
	commits      []github.Commit
	issues       []github.Issue
	pulls        []github.PullRequest

	// err, when set, is returned by every method.
	err error

	calls       map[string]int
	lastToken   string
	lastCommitQ github.CommitQuery
	lastIssueQ  github.IssueQuery
	lastPullQ   github.PullQuery
}

func newFakeGitHub(repos ...github.Repo) *fakeGitHub {
	return &fakeGitHub{repos: repos, calls: map[string]int{}}
}

func (f *fakeGitHub) record(name, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[name]++
	f.lastToken = token
	return f.err
}

func (f *fakeGitHub) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeGitHub) AuthenticatedUser(_ context.Context, token string) (*github.User, error) {
	if err := f.record("AuthenticatedUser", token); err != nil {
		return nil, err
	}
	return f.user, nil
}

func (f *fakeGitHub) ListOwnedRepos(_ context.Context, token string) ([]github.Repo, error) {
	if err := f.record("ListOwnedRepos", token); err != nil {
		return nil, err
	}
	return append([]github.Repo(nil), f.repos...), nil
}

func (f *fakeGitHub) Repo(_ context.Context, token, fullName string) (*github.Repo, error) {
	if err := f.record("Repo", token); err != nil {
		return nil, err
	}
	for _, r := range f.repos {
		if r.FullName == fullName {
			return &r, nil
		}
	}
	return &github.Repo{FullName: fullName}, nil
}

func (f *fakeGitHub) Languages(_ context.Context, token, _ string) (map[string]int64, error) {
	if err := f.record("Languages", token); err != nil {
		return nil, err
	}
	return f.languages, nil
}

func (f *fakeGitHub) Contributors(_ context.Context, token, _ string) (*github.Page[github.Contributor], error) {
	if err := f.record("Contributors", token); err != nil {
		return nil, err
	}
	return &github.Page[github.Contributor]{Items: f.contributors, Page: 1, PerPage: 100}, nil
}

func (f *fakeGitHub) ContributorCount(_ context.Context, token, _ string) (int, error) {
	if err := f.record("ContributorCount", token); err != nil {
		return 0, err
	}
	return len(f.contributors), nil
}

func (f *fakeGitHub) Commits(_ context.Context, token, _ string, q github.CommitQuery) (*github.Page[github.Commit], error) {
	if err := f.record("Commits", token); err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.lastCommitQ = q
	f.mu.Unlock()
	items := f.commits
	if q.PerPage > 0 && len(items) > q.PerPage {
		items = items[:q.PerPage]
	}
	return &github.Page[github.Commit]{Items: items, Page: q.Page, PerPage: q.PerPage}, nil
}

func (f *fakeGitHub) Issues(_ context.Context, token, _ string, q github.IssueQuery) (*github.Page[github.Issue], error) {
	if err := f.record("Issues", token); err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.lastIssueQ = q
	f.mu.Unlock()
	return &github.Page[github.Issue]{Items: f.issues, Page: q.Page, PerPage: q.PerPage}, nil
}

func (f *fakeGitHub) PullRequests(_ context.Context, token, _ string, q github.PullQuery) (*github.Page[github.PullRequest], error) {
	if err := f.record("PullRequests", token); err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.lastPullQ = q
	f.mu.Unlock()
	return &github.Page[github.PullRequest]{Items: f.pulls, Page: q.Page, PerPage: q.PerPage}, nil
}

func (f *fakeGitHub) Branches(_ context.Context, token, _ string) ([]github.Branch, error) {
	if err := f.record("Branches", token); err != nil {
		return nil, err
	}
	return f.branches, nil
}

// failingIdentities wraps the memory store and fails chosen writes, to
// simulate a storage outage.
type failingIdentities struct {
	*memory.Store
	createErr error
	updateErr error
}

func (f *failingIdentities) CreateIdentity(ctx context.Context, identity model.Identity) (*model.Identity, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	return f.Store.CreateIdentity(ctx, identity)
}

func (f *failingIdentities) UpdateIdentity(ctx context.Context, id int64, patch model.IdentityPatch) (*model.Identity, error) {
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	return f.Store.UpdateIdentity(ctx, id, patch)
}

// staleReads hides stored identities from FindByExternalID, as a read that
// lost the race with a concurrent login would.
type staleReads struct {
	*memory.Store
}

func (staleReads) FindByExternalID(context.Context, int64) (*model.Identity, error) {
	return nil, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testTokenService(t *testing.T) *auth.TokenService {
	t.Helper()
	ts, err := auth.NewTokenService(auth.TokenConfig{AccessSecret: "test-secret-at-least-16-chars!!"})
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}
	return ts
}

// ghRepo builds a live repository with enough fields set for sync to compare.
func ghRepo(id int64, name string) github.Repo {
	desc := "about " + name
	lang := "Go"
	pushed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return github.Repo{
		ID:              id,
		Name:            name,
		FullName:        "octocat/" + name,
		Description:     &desc,
		HTMLURL:         "https://github.com/octocat/" + name,
		Language:        &lang,
		StargazersCount: 3,
		ForksCount:      1,
		DefaultBranch:   "main",
		PushedAt:        &pushed,
	}
}

// seedIdentity creates an identity holding a cached GitHub token.
func seedIdentity(t *testing.T, store *memory.Store, id int64) {
	t.Helper()
	if _, err := store.CreateIdentity(context.Background(), model.Identity{ExternalID: id, CachedAccessToken: "gho_cached"}); err != nil {
		t.Fatalf("seed identity: %v", err)
	}
}

// seedSelection stores a selection built from r.
func seedSelection(t *testing.T, store *memory.Store, userID int64, r github.Repo, at time.Time) {
	t.Helper()
	if err := store.PutSelection(context.Background(), selectionFromRepo(userID, r, at, at, at)); err != nil {
		t.Fatalf("seed selection: %v", err)
	}
}
