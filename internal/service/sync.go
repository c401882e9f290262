package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sakif/repo-insights/internal/github"
	"github.com/sakif/repo-insights/internal/model"
	"github.com/sakif/repo-insights/internal/repository"
)

// SyncReport summarises one reconciliation run.
type SyncReport struct {
	// Deleted holds the names of evicted repositories, in stored order.
	Deleted []string `json:"deleted"`
	Updated int      `json:"updated"`
}

// SyncEngine reconciles a user's stored selections with what they own on GitHub.
type SyncEngine struct {
	selections repository.SelectionRepository
	github     GitHub
	logger     *slog.Logger
	now        func() time.Time
}

func NewSyncEngine(selections repository.SelectionRepository, gh GitHub, logger *slog.Logger) *SyncEngine {
	return &SyncEngine{selections: selections, github: gh, logger: logger, now: time.Now}
}

// Sync brings the stored selections in line with the live repository list.
//
// RULES:
//   - a stored selection whose repository is gone from the owned list is
//     evicted and its name reported
//   - a stored selection whose upstream fields changed (see
//     model.Selection.SameUpstream) is rewritten with live values, keeping
//     selectedAt and createdAt
//   - nothing is ever added
//
// A second run with no upstream change writes nothing and reports nothing.
// Any GitHub failure aborts before the first write.
func (e *SyncEngine) Sync(ctx context.Context, userID int64, token string) (*SyncReport, error) {
	live, err := e.github.ListOwnedRepos(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("service/sync: listing GitHub repos for %d: %w", userID, err)
	}
	stored, err := e.selections.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("service/sync: listing selections for %d: %w", userID, err)
	}

	liveByID := make(map[int64]github.Repo, len(live))
	for _, r := range live {
		liveByID[r.ID] = r
	}

	report := &SyncReport{Deleted: []string{}}
	var evict []int64
	var changed []model.Selection
	for _, sel := range stored {
		repo, ok := liveByID[sel.RepoID]
		if !ok {
			evict = append(evict, sel.RepoID)
			report.Deleted = append(report.Deleted, sel.Name)
			continue
		}
		fresh := selectionFromRepo(userID, repo, sel.SelectedAt, sel.CreatedAt, sel.UpdatedAt)
		if !sel.SameUpstream(fresh) {
			fresh.UpdatedAt = e.now().UTC()
			changed = append(changed, fresh)
		}
	}

	if len(evict) > 0 {
		if err := e.selections.BatchDeleteSelections(ctx, userID, evict); err != nil {
			return nil, fmt.Errorf("service/sync: evicting %d selections for %d: %w", len(evict), userID, err)
		}
	}
	for _, sel := range changed {
		if err := e.selections.PutSelection(ctx, sel); err != nil {
			return nil, fmt.Errorf("service/sync: updating selection %d for %d: %w", sel.RepoID, userID, err)
		}
		report.Updated++
	}

	if len(evict) > 0 || report.Updated > 0 {
		e.logger.Info("selections synced",
			slog.Int64("githubId", userID),
			slog.Int("evicted", len(evict)),
			slog.Int("updated", report.Updated),
		)
	}
	return report, nil
}

// selectionFromRepo builds a selection with every descriptive field taken
// from the live repository.
func selectionFromRepo(userID int64, r github.Repo, selectedAt, createdAt, updatedAt time.Time) model.Selection {
	return model.Selection{
		RepoID:          r.ID,
		UserID:          userID,
		Name:            r.Name,
		FullName:        r.FullName,
		Description:     r.DescriptionText(),
		HTMLURL:         r.HTMLURL,
		Private:         r.Private,
		Language:        r.LanguageName(),
		StargazersCount: r.StargazersCount,
		ForksCount:      r.ForksCount,
		DefaultBranch:   r.DefaultBranch,
		PushedAt:        r.PushedTime(),
		SelectedAt:      selectedAt,
		CreatedAt:       createdAt,
		UpdatedAt:       updatedAt,
	}
}
