// Package github is a small REST client for the GitHub endpoints this
// service reads. Every call acts as a user, authenticated with the delegated
// OAuth token cached on their identity record.
//
// Errors are already classified for the HTTP layer:
//   - 401 from GitHub           → apperror.Unauthorized(SESSION_EXPIRED); the
//     cached token was revoked, the user has to log in again
//   - 404                       → apperror.NotFound
//   - 409 on an empty repository → an empty result, not an error
//   - anything else / timeouts  → apperror.Upstream
package github

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/sakif/repo-insights/internal/apperror"
)

const (
	DefaultBaseURL = "https://api.github.com"
	DefaultTimeout = 15 * time.Second

	maxPerPage     = 100
	defaultPerPage = 30
	// maxPages stops a runaway pagination loop. 100 pages × 100 repos.
	maxPages = 100
)

// errEmptyRepository marks GitHub's 409 "Git Repository is empty".
var errEmptyRepository = errors.New("github: repository is empty")

// Client calls the GitHub REST API.
type Client struct {
	baseURL   string
	timeout   time.Duration
	transport http.RoundTripper
	logger    *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL points the client at another API root (GitHub Enterprise, tests).
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithTimeout bounds every request, including reading the body.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithTransport replaces the underlying transport.
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Client) { c.transport = rt }
}

// NewClient creates a Client with a 15s timeout against api.github.com.
func NewClient(logger *slog.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL:   DefaultBaseURL,
		timeout:   DefaultTimeout,
		transport: http.DefaultTransport,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// httpClient returns an *http.Client that sends token as a bearer credential.
func (c *Client) httpClient(token string) *http.Client {
	return &http.Client{
		Timeout: c.timeout,
		Transport: &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"}),
			Base:   c.transport,
		},
	}
}

// get performs GET path?query and decodes the JSON body into out.
// It returns the response header so callers can read the Link header.
func (c *Client) get(ctx context.Context, token, path string, query url.Values, out any) (http.Header, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("github: building request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")

	resp, err := c.httpClient(token).Do(req)
	if err != nil {
		msg := "GitHub is unavailable"
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			msg = "GitHub request timed out"
		}
		return nil, apperror.Upstream(msg, fmt.Errorf("github: GET %s: %w", path, err))
	}
	defer resp.Body.Close()

	if err := c.checkStatus(resp, path); err != nil {
		return resp.Header, err
	}

	if resp.StatusCode == http.StatusNoContent || out == nil {
		return resp.Header, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resp.Header, apperror.Upstream("GitHub returned an unexpected response", fmt.Errorf("github: decoding %s: %w", path, err))
	}
	return resp.Header, nil
}

func (c *Client) checkStatus(resp *http.Response, path string) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	// Raw provider bodies are logged, never returned.
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
	c.logger.Warn("github request failed",
		slog.String("path", path),
		slog.Int("status", resp.StatusCode),
		slog.String("body", string(body)),
	)

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return apperror.Unauthorized(apperror.CodeSessionExpired, "GitHub authorization expired, please sign in again")
	case resp.StatusCode == http.StatusNotFound:
		return apperror.NotFound("GitHub resource", path)
	case resp.StatusCode == http.StatusConflict && strings.Contains(string(body), "empty"):
		return errEmptyRepository
	case resp.StatusCode == http.StatusForbidden && resp.Header.Get("X-RateLimit-Remaining") == "0",
		resp.StatusCode == http.StatusTooManyRequests:
		return apperror.Upstream("GitHub rate limit exceeded, try again later", fmt.Errorf("github: GET %s: status %d", path, resp.StatusCode))
	default:
		return apperror.Upstream("GitHub request failed", fmt.Errorf("github: GET %s: status %d", path, resp.StatusCode))
	}
}

func isTimeout(err error) bool {
	var te interface{ Timeout() bool }
	return errors.As(err, &te) && te.Timeout()
}

// AuthenticatedUser returns the profile of the token's owner.
func (c *Client) AuthenticatedUser(ctx context.Context, token string) (*User, error) {
	var u User
	if _, err := c.get(ctx, token, "/user", nil, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// ListOwnedRepos returns every repository the token's owner owns, following
// pagination until GitHub reports no next page.
func (c *Client) ListOwnedRepos(ctx context.Context, token string) ([]Repo, error) {
	var all []Repo
	for page := 1; page <= maxPages; page++ {
		q := url.Values{
			"affiliation": {"owner"},
			"sort":        {"pushed"},
			"per_page":    {strconv.Itoa(maxPerPage)},
			"page":        {strconv.Itoa(page)},
		}
		var batch []Repo
		header, err := c.get(ctx, token, "/user/repos", q, &batch)
		if err != nil {
			return nil, err
		}
		all = append(all, batch...)

		if _, next := parseLink(header.Get("Link"))["next"]; !next || len(batch) == 0 {
			return all, nil
		}
	}
	return nil, apperror.Upstream("GitHub returned too many pages", fmt.Errorf("github: /user/repos exceeded %d pages", maxPages))
}

// Repo returns one repository by its "owner/name".
func (c *Client) Repo(ctx context.Context, token, fullName string) (*Repo, error) {
	var r Repo
	if _, err := c.get(ctx, token, repoPath(fullName, ""), nil, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// Languages returns bytes of code per language.
func (c *Client) Languages(ctx context.Context, token, fullName string) (map[string]int64, error) {
	langs := map[string]int64{}
	if _, err := c.get(ctx, token, repoPath(fullName, "/languages"), nil, &langs); err != nil {
		return nil, err
	}
	return langs, nil
}

// Contributors returns the first page of contributors (up to 100) together
// with the total contributor count when GitHub reports it.
func (c *Client) Contributors(ctx context.Context, token, fullName string) (*Page[Contributor], error) {
	q := url.Values{"per_page": {strconv.Itoa(maxPerPage)}, "page": {"1"}}

	var items []Contributor
	header, err := c.get(ctx, token, repoPath(fullName, "/contributors"), q, &items)
	if errors.Is(err, errEmptyRepository) {
		return emptyPage[Contributor](1, maxPerPage), nil
	}
	if err != nil {
		return nil, err
	}
	return newPage(items, header, 1, maxPerPage, len(items)), nil
}

// ContributorCount asks for one contributor per page and reads the count
// from the rel="last" page number.
func (c *Client) ContributorCount(ctx context.Context, token, fullName string) (int, error) {
	q := url.Values{"per_page": {"1"}, "page": {"1"}}

	var items []Contributor
	header, err := c.get(ctx, token, repoPath(fullName, "/contributors"), q, &items)
	if errors.Is(err, errEmptyRepository) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if last, ok := parseLink(header.Get("Link"))["last"]; ok {
		if n := pageParam(last); n > 0 {
			return n, nil
		}
	}
	return len(items), nil
}

// Commits returns one page of commits. An empty repository yields an empty page.
func (c *Client) Commits(ctx context.Context, token, fullName string, q CommitQuery) (*Page[Commit], error) {
	page, perPage := pageParams(q.Page, q.PerPage)
	v := url.Values{"page": {strconv.Itoa(page)}, "per_page": {strconv.Itoa(perPage)}}
	if q.Author != "" {
		v.Set("author", q.Author)
	}
	if q.Branch != "" {
		v.Set("sha", q.Branch)
	}
	if !q.Since.IsZero() {
		v.Set("since", q.Since.UTC().Format(time.RFC3339))
	}
	if !q.Until.IsZero() {
		v.Set("until", q.Until.UTC().Format(time.RFC3339))
	}

	var raw []Commit
	header, err := c.get(ctx, token, repoPath(fullName, "/commits"), v, &raw)
	if errors.Is(err, errEmptyRepository) {
		return emptyPage[Commit](page, perPage), nil
	}
	if err != nil {
		return nil, err
	}
	items := raw
	if search := strings.ToLower(strings.TrimSpace(q.Search)); search != "" {
		items = make([]Commit, 0, len(raw))
		for _, cm := range raw {
			if strings.Contains(strings.ToLower(cm.Commit.Message), search) {
				items = append(items, cm)
			}
		}
	}
	return newPage(items, header, page, perPage, len(raw)), nil
}

// Issues returns one page of issues, pull requests excluded. Because GitHub
// paginates issues and PRs together, a page may hold fewer than perPage items.
func (c *Client) Issues(ctx context.Context, token, fullName string, q IssueQuery) (*Page[Issue], error) {
	page, perPage := pageParams(q.Page, q.PerPage)
	v := url.Values{
		"state":    {stateOrDefault(q.State)},
		"page":     {strconv.Itoa(page)},
		"per_page": {strconv.Itoa(perPage)},
	}
	if q.Author != "" {
		v.Set("creator", q.Author)
	}

	var raw []Issue
	header, err := c.get(ctx, token, repoPath(fullName, "/issues"), v, &raw)
	if err != nil {
		return nil, err
	}
	items := make([]Issue, 0, len(raw))
	for _, is := range raw {
		if is.PullRequest == nil {
			items = append(items, is)
		}
	}
	return newPage(items, header, page, perPage, len(raw)), nil
}

// PullRequests returns one page of pull requests, optionally filtered by author.
func (c *Client) PullRequests(ctx context.Context, token, fullName string, q PullQuery) (*Page[PullRequest], error) {
	page, perPage := pageParams(q.Page, q.PerPage)
	v := url.Values{
		"state":    {stateOrDefault(q.State)},
		"page":     {strconv.Itoa(page)},
		"per_page": {strconv.Itoa(perPage)},
	}

	var raw []PullRequest
	header, err := c.get(ctx, token, repoPath(fullName, "/pulls"), v, &raw)
	if err != nil {
		return nil, err
	}
	items := raw
	if q.Author != "" {
		items = make([]PullRequest, 0, len(raw))
		for _, pr := range raw {
			if strings.EqualFold(pr.User.Login, q.Author) {
				items = append(items, pr)
			}
		}
	}
	return newPage(items, header, page, perPage, len(raw)), nil
}

// Branches returns every branch of the repository.
func (c *Client) Branches(ctx context.Context, token, fullName string) ([]Branch, error) {
	var all []Branch
	for page := 1; page <= maxPages; page++ {
		q := url.Values{"per_page": {strconv.Itoa(maxPerPage)}, "page": {strconv.Itoa(page)}}
		var batch []Branch
		header, err := c.get(ctx, token, repoPath(fullName, "/branches"), q, &batch)
		if err != nil {
			return nil, err
		}
		all = append(all, batch...)
		if _, next := parseLink(header.Get("Link"))["next"]; !next || len(batch) == 0 {
			return all, nil
		}
	}
	return all, nil
}

// repoPath builds /repos/{owner}/{name}{suffix}, escaping each segment.
func repoPath(fullName, suffix string) string {
	owner, name, _ := strings.Cut(fullName, "/")
	return "/repos/" + url.PathEscape(owner) + "/" + url.PathEscape(name) + suffix
}

func pageParams(page, perPage int) (int, int) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = defaultPerPage
	}
	return page, min(perPage, maxPerPage)
}

func stateOrDefault(state string) string {
	switch state {
	case "open", "closed", "all":
		return state
	default:
		return "open"
	}
}

// newPage builds a Page from items. fetched is how many items GitHub sent
// before any client-side filtering; only an empty response marks a page
// past the end.
func newPage[T any](items []T, header http.Header, page, perPage, fetched int) *Page[T] {
	if items == nil {
		items = []T{}
	}
	total, next := totalPages(header.Get("Link"), page, fetched == 0)
	return &Page[T]{Items: items, Page: page, PerPage: perPage, TotalPages: total, HasNext: next}
}

func emptyPage[T any](page, perPage int) *Page[T] {
	zero := 0
	return &Page[T]{Items: []T{}, Page: page, PerPage: perPage, TotalPages: &zero}
}
