package model

import "time"

// MaxSelectedRepos caps how many repositories one user may track.
const MaxSelectedRepos = 25

// Selection records that a user chose to track a GitHub repository.
// The composite key is (UserID, RepoID); both come from GitHub and never change.
//
// The descriptive fields mirror GitHub and are refreshed by sync.
// SelectedAt and CreatedAt are written once; callers carry them forward on
// every later Put.
type Selection struct {
	RepoID          int64     `json:"repoId"`
	UserID          int64     `json:"userId"`
	Name            string    `json:"name"`
	FullName        string    `json:"fullName"`
	Description     string    `json:"description"`
	HTMLURL         string    `json:"htmlUrl"`
	Private         bool      `json:"private"`
	Language        string    `json:"language"`
	StargazersCount int       `json:"stargazersCount"`
	ForksCount      int       `json:"forksCount"`
	DefaultBranch   string    `json:"defaultBranch"`
	PushedAt        time.Time `json:"pushedAt"`
	SelectedAt      time.Time `json:"selectedAt"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// SameUpstream reports whether the fields sync compares are identical.
// Stars, forks and default branch are refreshed only when one of these differs.
func (s Selection) SameUpstream(o Selection) bool {
	return s.Name == o.Name &&
		s.FullName == o.FullName &&
		s.Description == o.Description &&
		s.Language == o.Language &&
		s.Private == o.Private &&
		s.HTMLURL == o.HTMLURL &&
		s.PushedAt.Equal(o.PushedAt)
}
