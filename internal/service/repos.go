package service

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/sakif/repo-insights/internal/apperror"
	"github.com/sakif/repo-insights/internal/github"
	"github.com/sakif/repo-insights/internal/model"
	"github.com/sakif/repo-insights/internal/repository"
)

// RepoService manages the user's selected repositories and reads activity
// for them from GitHub.
type RepoService struct {
	identities repository.IdentityRepository
	selections repository.SelectionRepository
	github     GitHub
	sync       *SyncEngine
	logger     *slog.Logger
	now        func() time.Time
}

func NewRepoService(
	identities repository.IdentityRepository,
	selections repository.SelectionRepository,
	gh GitHub,
	sync *SyncEngine,
	logger *slog.Logger,
) *RepoService {
	return &RepoService{
		identities: identities,
		selections: selections,
		github:     gh,
		sync:       sync,
		logger:     logger,
		now:        time.Now,
	}
}

// RepoSummary is a live GitHub repository as the frontend lists it.
type RepoSummary struct {
	ID              int64      `json:"id"`
	Name            string     `json:"name"`
	FullName        string     `json:"fullName"`
	Description     string     `json:"description"`
	HTMLURL         string     `json:"htmlUrl"`
	Private         bool       `json:"private"`
	Fork            bool       `json:"fork"`
	Language        string     `json:"language"`
	StargazersCount int        `json:"stargazersCount"`
	ForksCount      int        `json:"forksCount"`
	DefaultBranch   string     `json:"defaultBranch"`
	PushedAt        *time.Time `json:"pushedAt"`
}

func summarize(r github.Repo) RepoSummary {
	return RepoSummary{
		ID:              r.ID,
		Name:            r.Name,
		FullName:        r.FullName,
		Description:     r.DescriptionText(),
		HTMLURL:         r.HTMLURL,
		Private:         r.Private,
		Fork:            r.Fork,
		Language:        r.LanguageName(),
		StargazersCount: r.StargazersCount,
		ForksCount:      r.ForksCount,
		DefaultBranch:   r.DefaultBranch,
		PushedAt:        r.PushedAt,
	}
}

// SelectedRepos is the GET /repos response.
type SelectedRepos struct {
	Repos                  []model.Selection `json:"repos"`
	ReposDeletedFromGitHub []string          `json:"reposDeletedFromGitHub"`
}

// Available lists the repositories the user owns and has not selected yet.
func (s *RepoService) Available(ctx context.Context, userID int64) ([]RepoSummary, error) {
	identity, err := identityWithToken(ctx, s.identities, userID)
	if err != nil {
		return nil, err
	}
	live, err := s.github.ListOwnedRepos(ctx, identity.CachedAccessToken)
	if err != nil {
		return nil, fmt.Errorf("service/repos: listing GitHub repos for %d: %w", userID, err)
	}
	stored, err := s.selections.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("service/repos: listing selections for %d: %w", userID, err)
	}

	selected := make(map[int64]bool, len(stored))
	for _, sel := range stored {
		selected[sel.RepoID] = true
	}
	out := make([]RepoSummary, 0, len(live))
	for _, r := range live {
		if !selected[r.ID] {
			out = append(out, summarize(r))
		}
	}
	return out, nil
}

// Selected syncs the user's selections with GitHub and returns what is left,
// together with the names of repositories that disappeared upstream.
func (s *RepoService) Selected(ctx context.Context, userID int64) (*SelectedRepos, error) {
	identity, err := identityWithToken(ctx, s.identities, userID)
	if err != nil {
		return nil, err
	}
	report, err := s.sync.Sync(ctx, userID, identity.CachedAccessToken)
	if err != nil {
		return nil, err
	}
	repos, err := s.selections.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("service/repos: listing selections for %d: %w", userID, err)
	}
	return &SelectedRepos{Repos: repos, ReposDeletedFromGitHub: report.Deleted}, nil
}

// Select adds repositories to the user's selection.
//
// VALIDATION ORDER:
//  1. the id list is non-empty, positive, and at most MaxSelectedRepos distinct ids
//  2. already selected + newly requested stays within MaxSelectedRepos
//  3. at least one id is a repository the user owns right now
//
// Ids the user does not own are skipped. Re-selecting an already selected
// repository refreshes its fields but keeps selectedAt and createdAt.
func (s *RepoService) Select(ctx context.Context, userID int64, repoIDs []int64) ([]model.Selection, error) {
	ids, err := distinctRepoIDs(repoIDs)
	if err != nil {
		return nil, err
	}

	stored, err := s.selections.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("service/repos: listing selections for %d: %w", userID, err)
	}
	existing := make(map[int64]model.Selection, len(stored))
	for _, sel := range stored {
		existing[sel.RepoID] = sel
	}
	added := 0
	for _, id := range ids {
		if _, ok := existing[id]; !ok {
			added++
		}
	}
	if len(existing)+added > model.MaxSelectedRepos {
		return nil, apperror.ValidationFailed("repoIds", fmt.Sprintf(
			"at most %d repositories can be selected; %d already selected, %d new requested",
			model.MaxSelectedRepos, len(existing), added))
	}

	identity, err := identityWithToken(ctx, s.identities, userID)
	if err != nil {
		return nil, err
	}
	live, err := s.github.ListOwnedRepos(ctx, identity.CachedAccessToken)
	if err != nil {
		return nil, fmt.Errorf("service/repos: listing GitHub repos for %d: %w", userID, err)
	}
	liveByID := make(map[int64]github.Repo, len(live))
	for _, r := range live {
		liveByID[r.ID] = r
	}

	now := s.now().UTC()
	var written []model.Selection
	for _, id := range ids {
		repo, ok := liveByID[id]
		if !ok {
			s.logger.Warn("select: repository not owned, skipping",
				slog.Int64("githubId", userID),
				slog.Int64("repoId", id),
			)
			continue
		}

		selectedAt, createdAt := now, now
		if prev, ok := existing[id]; ok {
			selectedAt, createdAt = prev.SelectedAt, prev.CreatedAt
		}
		sel := selectionFromRepo(userID, repo, selectedAt, createdAt, now)
		if err := s.selections.PutSelection(ctx, sel); err != nil {
			return nil, fmt.Errorf("service/repos: saving selection %d for %d: %w", id, userID, err)
		}
		written = append(written, sel)
	}

	if len(written) == 0 {
		return nil, apperror.NotFound("owned repository", ids)
	}
	s.logger.Info("repositories selected",
		slog.Int64("githubId", userID),
		slog.Int("count", len(written)),
	)
	return written, nil
}

// distinctRepoIDs validates and de-duplicates a requested id list, keeping
// first-seen order.
func distinctRepoIDs(repoIDs []int64) ([]int64, error) {
	if len(repoIDs) == 0 {
		return nil, apperror.ValidationFailed("repoIds", "repoIds must contain at least one repository id")
	}
	seen := make(map[int64]bool, len(repoIDs))
	ids := make([]int64, 0, len(repoIDs))
	for _, id := range repoIDs {
		if id <= 0 {
			return nil, apperror.ValidationFailed("repoIds", fmt.Sprintf("invalid repository id %d", id))
		}
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	if len(ids) > model.MaxSelectedRepos {
		return nil, apperror.ValidationFailed("repoIds", fmt.Sprintf("at most %d repositories can be selected", model.MaxSelectedRepos))
	}
	return ids, nil
}

// Authorize returns the user's selection for repoID, or Forbidden when the
// user has not selected that repository.
func (s *RepoService) Authorize(ctx context.Context, userID, repoID int64) (*model.Selection, error) {
	sel, err := s.selections.GetSelection(ctx, userID, repoID)
	if err != nil {
		return nil, fmt.Errorf("service/repos: loading selection %d for %d: %w", repoID, userID, err)
	}
	if sel == nil {
		return nil, apperror.Forbidden("this repository is not among your selected repositories")
	}
	return sel, nil
}

// Remove deletes one selection after the ownership check.
func (s *RepoService) Remove(ctx context.Context, userID, repoID int64) error {
	if _, err := s.Authorize(ctx, userID, repoID); err != nil {
		return err
	}
	if err := s.selections.DeleteSelection(ctx, userID, repoID); err != nil {
		return fmt.Errorf("service/repos: deleting selection %d for %d: %w", repoID, userID, err)
	}
	return nil
}

// scoped runs the ownership check and loads the token for a repository-level read.
func (s *RepoService) scoped(ctx context.Context, userID, repoID int64) (*model.Selection, string, error) {
	sel, err := s.Authorize(ctx, userID, repoID)
	if err != nil {
		return nil, "", err
	}
	identity, err := identityWithToken(ctx, s.identities, userID)
	if err != nil {
		return nil, "", err
	}
	return sel, identity.CachedAccessToken, nil
}

// Language is one entry of a repository's language breakdown.
type Language struct {
	Name       string  `json:"name"`
	Bytes      int64   `json:"bytes"`
	Percentage float64 `json:"percentage"`
}

// LastCommit is the newest commit on the default branch.
type LastCommit struct {
	SHA          string    `json:"sha"`
	Message      string    `json:"message"`
	Author       string    `json:"author"`
	AuthorAvatar string    `json:"authorAvatar"`
	Date         time.Time `json:"date"`
	URL          string    `json:"url"`
}

// RepoDetails is the repository overview card.
type RepoDetails struct {
	ID                int64       `json:"id"`
	Name              string      `json:"name"`
	FullName          string      `json:"fullName"`
	Description       string      `json:"description"`
	URL               string      `json:"url"`
	Private           bool        `json:"private"`
	IsFork            bool        `json:"isFork"`
	DefaultBranch     string      `json:"defaultBranch"`
	Languages         []Language  `json:"languages"`
	SizeMB            float64     `json:"sizeMb"`
	ContributorsCount int         `json:"contributorsCount"`
	StarsCount        int         `json:"starsCount"`
	ForksCount        int         `json:"forksCount"`
	OpenIssuesCount   int         `json:"openIssuesCount"`
	LastCommit        *LastCommit `json:"lastCommit"`
}

// Details assembles the overview from four GitHub calls.
func (s *RepoService) Details(ctx context.Context, userID, repoID int64) (*RepoDetails, error) {
	sel, token, err := s.scoped(ctx, userID, repoID)
	if err != nil {
		return nil, err
	}

	repo, err := s.github.Repo(ctx, token, sel.FullName)
	if err != nil {
		return nil, fmt.Errorf("service/repos: fetching %s: %w", sel.FullName, err)
	}
	langs, err := s.github.Languages(ctx, token, sel.FullName)
	if err != nil {
		return nil, fmt.Errorf("service/repos: fetching languages of %s: %w", sel.FullName, err)
	}
	contributors, err := s.github.ContributorCount(ctx, token, sel.FullName)
	if err != nil {
		return nil, fmt.Errorf("service/repos: counting contributors of %s: %w", sel.FullName, err)
	}
	commits, err := s.github.Commits(ctx, token, sel.FullName, github.CommitQuery{Page: 1, PerPage: 1})
	if err != nil {
		return nil, fmt.Errorf("service/repos: fetching last commit of %s: %w", sel.FullName, err)
	}

	details := &RepoDetails{
		ID:                repo.ID,
		Name:              repo.Name,
		FullName:          repo.FullName,
		Description:       repo.DescriptionText(),
		URL:               repo.HTMLURL,
		Private:           repo.Private,
		IsFork:            repo.Fork,
		DefaultBranch:     repo.DefaultBranch,
		Languages:         languageShares(langs),
		SizeMB:            math.Round(float64(repo.Size)/1024*100) / 100,
		ContributorsCount: contributors,
		StarsCount:        repo.StargazersCount,
		ForksCount:        repo.ForksCount,
		OpenIssuesCount:   repo.OpenIssuesCount,
	}
	if len(commits.Items) > 0 {
		details.LastCommit = lastCommit(commits.Items[0])
	}
	return details, nil
}

// languageShares converts byte counts into percentages rounded to one
// decimal, largest first.
func languageShares(langs map[string]int64) []Language {
	var total int64
	for _, b := range langs {
		total += b
	}
	out := make([]Language, 0, len(langs))
	if total == 0 {
		return out
	}
	for name, b := range langs {
		out = append(out, Language{
			Name:       name,
			Bytes:      b,
			Percentage: math.Round(float64(b)*1000/float64(total)) / 10,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Bytes != out[j].Bytes {
			return out[i].Bytes > out[j].Bytes
		}
		return out[i].Name < out[j].Name
	})
	return out
}

func lastCommit(c github.Commit) *LastCommit {
	lc := &LastCommit{
		SHA:     c.SHA,
		Message: c.Commit.Message,
		Author:  c.Commit.Author.Name,
		Date:    c.Commit.Author.Date,
		URL:     c.HTMLURL,
	}
	if c.Author != nil {
		lc.Author = c.Author.Login
		lc.AuthorAvatar = c.Author.AvatarURL
	}
	return lc
}

// Commits returns one page of commits for a selected repository.
func (s *RepoService) Commits(ctx context.Context, userID, repoID int64, q github.CommitQuery) (*github.Page[github.Commit], error) {
	sel, token, err := s.scoped(ctx, userID, repoID)
	if err != nil {
		return nil, err
	}
	page, err := s.github.Commits(ctx, token, sel.FullName, q)
	if err != nil {
		return nil, fmt.Errorf("service/repos: listing commits of %s: %w", sel.FullName, err)
	}
	return page, nil
}

// CommitAuthor is a contributor offered as a commit filter.
type CommitAuthor struct {
	Login         string `json:"login"`
	AvatarURL     string `json:"avatarUrl"`
	Contributions int    `json:"contributions"`
}

// CommitsMetadata lists the values the commit filters can take.
type CommitsMetadata struct {
	Authors       []CommitAuthor `json:"authors"`
	Branches      []string       `json:"branches"`
	DefaultBranch string         `json:"defaultBranch"`
}

// CommitsMetadata returns the distinct authors (top contributors) and the
// branches of a selected repository.
func (s *RepoService) CommitsMetadata(ctx context.Context, userID, repoID int64) (*CommitsMetadata, error) {
	sel, token, err := s.scoped(ctx, userID, repoID)
	if err != nil {
		return nil, err
	}

	contributors, err := s.github.Contributors(ctx, token, sel.FullName)
	if err != nil {
		return nil, fmt.Errorf("service/repos: listing contributors of %s: %w", sel.FullName, err)
	}
	branches, err := s.github.Branches(ctx, token, sel.FullName)
	if err != nil {
		return nil, fmt.Errorf("service/repos: listing branches of %s: %w", sel.FullName, err)
	}

	meta := &CommitsMetadata{
		Authors:       make([]CommitAuthor, 0, len(contributors.Items)),
		Branches:      make([]string, 0, len(branches)),
		DefaultBranch: sel.DefaultBranch,
	}
	seen := make(map[string]bool, len(contributors.Items))
	for _, c := range contributors.Items {
		// Anonymous contributors have no login and cannot be used as a filter.
		if c.Login == "" || seen[c.Login] {
			continue
		}
		seen[c.Login] = true
		meta.Authors = append(meta.Authors, CommitAuthor{Login: c.Login, AvatarURL: c.AvatarURL, Contributions: c.Contributions})
	}
	for _, b := range branches {
		meta.Branches = append(meta.Branches, b.Name)
	}
	sort.Strings(meta.Branches)
	return meta, nil
}

// Issues returns one page of issues for a selected repository.
func (s *RepoService) Issues(ctx context.Context, userID, repoID int64, q github.IssueQuery) (*github.Page[github.Issue], error) {
	sel, token, err := s.scoped(ctx, userID, repoID)
	if err != nil {
		return nil, err
	}
	page, err := s.github.Issues(ctx, token, sel.FullName, q)
	if err != nil {
		return nil, fmt.Errorf("service/repos: listing issues of %s: %w", sel.FullName, err)
	}
	return page, nil
}

// PullRequests returns one page of pull requests for a selected repository.
func (s *RepoService) PullRequests(ctx context.Context, userID, repoID int64, q github.PullQuery) (*github.Page[github.PullRequest], error) {
	sel, token, err := s.scoped(ctx, userID, repoID)
	if err != nil {
		return nil, err
	}
	page, err := s.github.PullRequests(ctx, token, sel.FullName, q)
	if err != nil {
		return nil, fmt.Errorf("service/repos: listing pull requests of %s: %w", sel.FullName, err)
	}
	return page, nil
}

// metadataSample is how many of the most recent issues or pull requests the
// author lists are built from.
const metadataSample = 100

// ActivityAuthor is someone who opened issues or pull requests.
type ActivityAuthor struct {
	Login     string `json:"login"`
	AvatarURL string `json:"avatarUrl"`
	Count     int    `json:"count"`
}

// AuthorsMetadata lists the values an author filter can take.
type AuthorsMetadata struct {
	Authors []ActivityAuthor `json:"authors"`
}

// IssuesMetadata returns the authors of the most recent issues, open or
// closed, busiest first.
func (s *RepoService) IssuesMetadata(ctx context.Context, userID, repoID int64) (*AuthorsMetadata, error) {
	sel, token, err := s.scoped(ctx, userID, repoID)
	if err != nil {
		return nil, err
	}
	page, err := s.github.Issues(ctx, token, sel.FullName, github.IssueQuery{Page: 1, PerPage: metadataSample, State: "all"})
	if err != nil {
		return nil, fmt.Errorf("service/repos: listing issues of %s: %w", sel.FullName, err)
	}
	accounts := make([]github.Account, 0, len(page.Items))
	for _, is := range page.Items {
		accounts = append(accounts, is.User)
	}
	return &AuthorsMetadata{Authors: countAuthors(accounts)}, nil
}

// PullRequestsMetadata returns the authors of the most recent pull requests,
// open or closed, busiest first.
func (s *RepoService) PullRequestsMetadata(ctx context.Context, userID, repoID int64) (*AuthorsMetadata, error) {
	sel, token, err := s.scoped(ctx, userID, repoID)
	if err != nil {
		return nil, err
	}
	page, err := s.github.PullRequests(ctx, token, sel.FullName, github.PullQuery{Page: 1, PerPage: metadataSample, State: "all"})
	if err != nil {
		return nil, fmt.Errorf("service/repos: listing pull requests of %s: %w", sel.FullName, err)
	}
	accounts := make([]github.Account, 0, len(page.Items))
	for _, pr := range page.Items {
		accounts = append(accounts, pr.User)
	}
	return &AuthorsMetadata{Authors: countAuthors(accounts)}, nil
}

// countAuthors tallies accounts by login, ordered by count then login.
// Ghost accounts without a login are dropped.
func countAuthors(accounts []github.Account) []ActivityAuthor {
	index := make(map[string]int)
	authors := make([]ActivityAuthor, 0)
	for _, a := range accounts {
		if a.Login == "" {
			continue
		}
		if i, ok := index[a.Login]; ok {
			authors[i].Count++
			continue
		}
		index[a.Login] = len(authors)
		authors = append(authors, ActivityAuthor{Login: a.Login, AvatarURL: a.AvatarURL, Count: 1})
	}
	sort.SliceStable(authors, func(i, j int) bool {
		if authors[i].Count != authors[j].Count {
			return authors[i].Count > authors[j].Count
		}
		return authors[i].Login < authors[j].Login
	})
	return authors
}
