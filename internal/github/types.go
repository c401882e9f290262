package github

import "time"

// Response schemas for the endpoints this service calls. Only the fields the
// service reads are declared; GitHub's objects are much larger.

// Account is the short user object embedded in commits, issues and PRs.
type Account struct {
	ID        int64  `json:"id"`
	Login     string `json:"login"`
	AvatarURL string `json:"avatar_url"`
	HTMLURL   string `json:"html_url"`
}

// User is GET /user.
type User struct {
	ID          int64     `json:"id"`
	Login       string    `json:"login"`
	Name        string    `json:"name"`
	Email       string    `json:"email"`
	AvatarURL   string    `json:"avatar_url"`
	HTMLURL     string    `json:"html_url"`
	Bio         string    `json:"bio"`
	PublicRepos int       `json:"public_repos"`
	Followers   int       `json:"followers"`
	Following   int       `json:"following"`
	CreatedAt   time.Time `json:"created_at"`
}

// Repo is an element of GET /user/repos and the body of GET /repos/{owner}/{repo}.
// Description and Language are null for many repositories.
type Repo struct {
	ID              int64      `json:"id"`
	Name            string     `json:"name"`
	FullName        string     `json:"full_name"`
	Description     *string    `json:"description"`
	HTMLURL         string     `json:"html_url"`
	Private         bool       `json:"private"`
	Fork            bool       `json:"fork"`
	Language        *string    `json:"language"`
	StargazersCount int        `json:"stargazers_count"`
	ForksCount      int        `json:"forks_count"`
	OpenIssuesCount int        `json:"open_issues_count"`
	Size            int        `json:"size"` // kilobytes
	DefaultBranch   string     `json:"default_branch"`
	PushedAt        *time.Time `json:"pushed_at"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	Owner           Account    `json:"owner"`
}

// DescriptionText returns the description or "".
func (r Repo) DescriptionText() string {
	if r.Description == nil {
		return ""
	}
	return *r.Description
}

// LanguageName returns the primary language or "".
func (r Repo) LanguageName() string {
	if r.Language == nil {
		return ""
	}
	return *r.Language
}

// PushedTime returns the last push time, zero if the repository was never pushed.
func (r Repo) PushedTime() time.Time {
	if r.PushedAt == nil {
		return time.Time{}
	}
	return r.PushedAt.UTC()
}

// Commit is an element of GET /repos/{owner}/{repo}/commits.
// Author is null when the commit email does not match a GitHub account.
type Commit struct {
	SHA     string `json:"sha"`
	HTMLURL string `json:"html_url"`
	Commit  struct {
		Message string `json:"message"`
		Author  struct {
			Name  string    `json:"name"`
			Email string    `json:"email"`
			Date  time.Time `json:"date"`
		} `json:"author"`
	} `json:"commit"`
	Author *Account `json:"author"`
}

// Label is an issue label.
type Label struct {
	Name  string `json:"name"`
	Color string `json:"color"`
}

// Issue is an element of GET /repos/{owner}/{repo}/issues. That endpoint also
// returns pull requests; those have a non-nil PullRequest.
type Issue struct {
	ID          int64      `json:"id"`
	Number      int        `json:"number"`
	Title       string     `json:"title"`
	State       string     `json:"state"`
	HTMLURL     string     `json:"html_url"`
	User        Account    `json:"user"`
	Labels      []Label    `json:"labels"`
	Comments    int        `json:"comments"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	ClosedAt    *time.Time `json:"closed_at"`
	PullRequest *struct {
		URL string `json:"url"`
	} `json:"pull_request,omitempty"`
}

// PullRequest is an element of GET /repos/{owner}/{repo}/pulls.
type PullRequest struct {
	ID        int64      `json:"id"`
	Number    int        `json:"number"`
	Title     string     `json:"title"`
	State     string     `json:"state"`
	HTMLURL   string     `json:"html_url"`
	Draft     bool       `json:"draft"`
	User      Account    `json:"user"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	ClosedAt  *time.Time `json:"closed_at"`
	MergedAt  *time.Time `json:"merged_at"`
	Head      struct {
		Ref string `json:"ref"`
	} `json:"head"`
	Base struct {
		Ref string `json:"ref"`
	} `json:"base"`
}

// Contributor is an element of GET /repos/{owner}/{repo}/contributors.
type Contributor struct {
	Account
	Contributions int `json:"contributions"`
}

// Branch is an element of GET /repos/{owner}/{repo}/branches.
type Branch struct {
	Name      string `json:"name"`
	Protected bool   `json:"protected"`
	Commit    struct {
		SHA string `json:"sha"`
	} `json:"commit"`
}

// Page is one page of a paginated listing.
//
// TotalPages comes from the Link header's rel="last" marker. When GitHub
// sends no "last" and no "next" the current page is the last one. Otherwise
// the total is unknown and TotalPages is nil.
type Page[T any] struct {
	Items      []T  `json:"items"`
	Page       int  `json:"page"`
	PerPage    int  `json:"perPage"`
	TotalPages *int `json:"totalPages"`
	HasNext    bool `json:"hasNext"`
}

// CommitQuery filters a commit listing.
type CommitQuery struct {
	Page    int
	PerPage int
	Author  string // GitHub login or email
	Branch  string // branch name or SHA; default branch when empty
	Since   time.Time
	Until   time.Time
	// Search keeps commits whose message contains it, case-insensitively.
	// Applied to the fetched page, so a page may hold fewer than PerPage items.
	Search string
}

// IssueQuery filters an issue listing.
type IssueQuery struct {
	Page    int
	PerPage int
	State   string // open, closed or all
	Author  string // login of the issue creator
}

// PullQuery filters a pull request listing.
type PullQuery struct {
	Page    int
	PerPage int
	State   string // open, closed or all
	Author  string // login; filtered client-side, the pulls endpoint has no author filter
}
