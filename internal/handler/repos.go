package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/repo-insights/internal/apperror"
	"github.com/sakif/repo-insights/internal/github"
	"github.com/sakif/repo-insights/internal/model"
	"github.com/sakif/repo-insights/internal/service"
)

// RepoHandler serves the repository endpoints. Every route sits behind
// auth.RequireAccess; the per-repository routes additionally go through the
// service's ownership check.
type RepoHandler struct {
	repos *service.RepoService
}

func NewRepoHandler(repos *service.RepoService) *RepoHandler {
	return &RepoHandler{repos: repos}
}

// AvailableResponse is the body of GET /repos/github.
type AvailableResponse struct {
	Repos []service.RepoSummary `json:"repos"`
}

// SelectRequest is the body of POST /repos/select.
type SelectRequest struct {
	RepoIDs []int64 `json:"repoIds"`
}

// SelectResponse lists the selections that were written.
type SelectResponse struct {
	Repos []model.Selection `json:"repos"`
}

// HandleAvailable lists owned repositories that are not selected yet.
//
// HTTP: GET /repos/github
func (h *RepoHandler) HandleAvailable(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(w, r)
	if !ok {
		return
	}

	repos, err := h.repos.Available(r.Context(), id)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, AvailableResponse{Repos: repos})
}

// HandleSelected syncs with GitHub and lists the selections that remain.
//
// HTTP: GET /repos
func (h *RepoHandler) HandleSelected(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(w, r)
	if !ok {
		return
	}

	selected, err := h.repos.Selected(r.Context(), id)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, selected)
}

// HandleSelect adds repositories to the selection.
//
// HTTP: POST /repos/select  {"repoIds": [1, 2, 3]}
//
// A body that is not JSON, or ids that are not numbers, fail decoding and
// come back as 400. The cap and ownership rules live in the service.
func (h *RepoHandler) HandleSelect(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(w, r)
	if !ok {
		return
	}

	var req SelectRequest
	if err := decodeJSON(w, r, &req); err != nil {
		WriteError(w, r, apperror.ValidationFailed("repoIds", "repoIds must be a list of numeric repository ids"))
		return
	}

	written, err := h.repos.Select(r.Context(), id, req.RepoIDs)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusCreated, SelectResponse{Repos: written})
}

// HandleRemove deletes one selection.
//
// HTTP: DELETE /repos/{repoId}
func (h *RepoHandler) HandleRemove(w http.ResponseWriter, r *http.Request) {
	id, repoID, ok := userAndRepo(w, r)
	if !ok {
		return
	}

	if err := h.repos.Remove(r.Context(), id, repoID); err != nil {
		WriteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleDetails returns the repository overview.
//
// HTTP: GET /repos/{repoId}
func (h *RepoHandler) HandleDetails(w http.ResponseWriter, r *http.Request) {
	id, repoID, ok := userAndRepo(w, r)
	if !ok {
		return
	}

	details, err := h.repos.Details(r.Context(), id, repoID)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, details)
}

// HandleCommits returns one page of commits.
//
// HTTP: GET /repos/{repoId}/commits?page&perPage&author&branch&since&until&search
func (h *RepoHandler) HandleCommits(w http.ResponseWriter, r *http.Request) {
	id, repoID, ok := userAndRepo(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	page, perPage, err := pagination(r)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	since, err := timeParam(r, "since")
	if err != nil {
		WriteError(w, r, err)
		return
	}
	until, err := timeParam(r, "until")
	if err != nil {
		WriteError(w, r, err)
		return
	}

	commits, err := h.repos.Commits(r.Context(), id, repoID, github.CommitQuery{
		Page:    page,
		PerPage: perPage,
		Author:  q.Get("author"),
		Branch:  q.Get("branch"),
		Since:   since,
		Until:   until,
		Search:  q.Get("search"),
	})
	if err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, commits)
}

// HandleCommitsMetadata lists the authors and branches usable as commit filters.
//
// HTTP: GET /repos/{repoId}/commits/metadata
func (h *RepoHandler) HandleCommitsMetadata(w http.ResponseWriter, r *http.Request) {
	id, repoID, ok := userAndRepo(w, r)
	if !ok {
		return
	}

	meta, err := h.repos.CommitsMetadata(r.Context(), id, repoID)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, meta)
}

// HandleIssues returns one page of issues, pull requests excluded.
//
// HTTP: GET /repos/{repoId}/issues?state&author&page&perPage
func (h *RepoHandler) HandleIssues(w http.ResponseWriter, r *http.Request) {
	id, repoID, ok := userAndRepo(w, r)
	if !ok {
		return
	}

	page, perPage, err := pagination(r)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	state, err := stateParam(r)
	if err != nil {
		WriteError(w, r, err)
		return
	}

	issues, err := h.repos.Issues(r.Context(), id, repoID, github.IssueQuery{
		Page:    page,
		PerPage: perPage,
		State:   state,
		Author:  r.URL.Query().Get("author"),
	})
	if err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, issues)
}

// HandleIssuesMetadata lists who opened the most recent issues.
//
// HTTP: GET /repos/{repoId}/issues/metadata
func (h *RepoHandler) HandleIssuesMetadata(w http.ResponseWriter, r *http.Request) {
	id, repoID, ok := userAndRepo(w, r)
	if !ok {
		return
	}

	meta, err := h.repos.IssuesMetadata(r.Context(), id, repoID)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, meta)
}

// HandlePullRequestsMetadata lists who opened the most recent pull requests.
//
// HTTP: GET /repos/{repoId}/pull-requests/metadata
func (h *RepoHandler) HandlePullRequestsMetadata(w http.ResponseWriter, r *http.Request) {
	id, repoID, ok := userAndRepo(w, r)
	if !ok {
		return
	}

	meta, err := h.repos.PullRequestsMetadata(r.Context(), id, repoID)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, meta)
}

// HandlePullRequests returns one page of pull requests.
//
// HTTP: GET /repos/{repoId}/pull-requests?state&author&page&perPage
func (h *RepoHandler) HandlePullRequests(w http.ResponseWriter, r *http.Request) {
	id, repoID, ok := userAndRepo(w, r)
	if !ok {
		return
	}

	page, perPage, err := pagination(r)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	state, err := stateParam(r)
	if err != nil {
		WriteError(w, r, err)
		return
	}

	pulls, err := h.repos.PullRequests(r.Context(), id, repoID, github.PullQuery{
		Page:    page,
		PerPage: perPage,
		State:   state,
		Author:  r.URL.Query().Get("author"),
	})
	if err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, pulls)
}

// =========================================================================
// PARAMETER PARSING
// =========================================================================

// userAndRepo resolves the caller and the {repoId} URL parameter.
func userAndRepo(w http.ResponseWriter, r *http.Request) (int64, int64, bool) {
	id, ok := userID(w, r)
	if !ok {
		return 0, 0, false
	}

	// chi.URLParam reads the named segment captured by the route pattern.
	raw := chi.URLParam(r, "repoId")
	repoID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || repoID <= 0 {
		WriteError(w, r, apperror.ValidationFailed("repoId", "repoId must be a positive integer"))
		return 0, 0, false
	}
	return id, repoID, true
}

// pagination reads page and perPage. Absent values are zero and the GitHub
// client applies its defaults; perPage above 100 is clamped there too.
func pagination(r *http.Request) (page, perPage int, err error) {
	if page, err = intParam(r, "page"); err != nil {
		return 0, 0, err
	}
	if perPage, err = intParam(r, "perPage"); err != nil {
		return 0, 0, err
	}
	return page, perPage, nil
}

func intParam(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, apperror.ValidationFailed(name, name+" must be a positive integer")
	}
	return n, nil
}

func timeParam(r *http.Request, name string) (time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, apperror.ValidationFailed(name, name+" must be an RFC 3339 timestamp")
	}
	return t, nil
}

func stateParam(r *http.Request) (string, error) {
	switch state := r.URL.Query().Get("state"); state {
	case "", "open", "closed", "all":
		return state, nil
	default:
		return "", apperror.ValidationFailed("state", "state must be one of open, closed, all")
	}
}
