package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/sakif/repo-insights/internal/model"
	"github.com/sakif/repo-insights/internal/repository"
)

// compile-time check that *DB implements repository.SelectionRepository
var _ repository.SelectionRepository = (*DB)(nil)

const selectionColumns = `user_id, repo_id, name, full_name, description, html_url, private,
	language, stargazers_count, forks_count, default_branch, pushed_at,
	selected_at, created_at, updated_at`

// ListByUser returns every selection of userID, most recently selected first.
func (db *DB) ListByUser(ctx context.Context, userID int64) ([]model.Selection, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+selectionColumns+` FROM selections
		 WHERE user_id = ?
		 ORDER BY selected_at DESC, repo_id`, userID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing selections for user %d: %w", userID, err)
	}
	// ALWAYS close rows: an open *sql.Rows holds the pool's only connection.
	defer rows.Close()

	selections := []model.Selection{}
	for rows.Next() {
		s, err := scanSelection(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning selection: %w", err)
		}
		selections = append(selections, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating selections: %w", err)
	}
	return selections, nil
}

// GetSelection returns one selection or (nil, nil).
func (db *DB) GetSelection(ctx context.Context, userID, repoID int64) (*model.Selection, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+selectionColumns+` FROM selections WHERE user_id = ? AND repo_id = ?`,
		userID, repoID)

	s, err := scanSelection(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: getting selection %d/%d: %w", userID, repoID, err)
	}
	return s, nil
}

// PutSelection creates or fully replaces the selection. Timestamps are written as
// given; the caller decides what selected_at and created_at are.
func (db *DB) PutSelection(ctx context.Context, s model.Selection) error {
	_, err := db.conn.ExecContext(ctx,
		`INSERT OR REPLACE INTO selections (`+selectionColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.UserID,
		s.RepoID,
		s.Name,
		s.FullName,
		s.Description,
		s.HTMLURL,
		s.Private,
		s.Language,
		s.StargazersCount,
		s.ForksCount,
		s.DefaultBranch,
		formatTime(s.PushedAt),
		formatTime(s.SelectedAt),
		formatTime(s.CreatedAt),
		formatTime(s.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("sqlite: putting selection %d/%d: %w", s.UserID, s.RepoID, err)
	}
	return nil
}

// DeleteSelection removes one selection. Missing rows are not an error.
func (db *DB) DeleteSelection(ctx context.Context, userID, repoID int64) error {
	if _, err := db.conn.ExecContext(ctx,
		`DELETE FROM selections WHERE user_id = ? AND repo_id = ?`, userID, repoID); err != nil {
		return fmt.Errorf("sqlite: deleting selection %d/%d: %w", userID, repoID, err)
	}
	return nil
}

// BatchDeleteSelections deletes repoIDs for userID, one statement per chunk of
// repository.MaxBatchSize ids. Chunks are independent: a failure leaves
// earlier chunks deleted.
func (db *DB) BatchDeleteSelections(ctx context.Context, userID int64, repoIDs []int64) error {
	for _, chunk := range repository.Chunk(repoIDs, repository.MaxBatchSize) {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(chunk)), ",")
		args := make([]any, 0, len(chunk)+1)
		args = append(args, userID)
		for _, id := range chunk {
			args = append(args, id)
		}

		_, err := db.conn.ExecContext(ctx,
			`DELETE FROM selections WHERE user_id = ? AND repo_id IN (`+placeholders+`)`, args...)
		if err != nil {
			return fmt.Errorf("sqlite: batch deleting %d selections for user %d: %w", len(chunk), userID, err)
		}
	}
	return nil
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanSelection(sc scanner) (*model.Selection, error) {
	var (
		s                                         model.Selection
		pushedAt, selectedAt, createdAt, updatedAt string
	)
	err := sc.Scan(
		&s.UserID,
		&s.RepoID,
		&s.Name,
		&s.FullName,
		&s.Description,
		&s.HTMLURL,
		&s.Private,
		&s.Language,
		&s.StargazersCount,
		&s.ForksCount,
		&s.DefaultBranch,
		&pushedAt,
		&selectedAt,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if s.PushedAt, err = parseTime(pushedAt); err != nil {
		return nil, err
	}
	if s.SelectedAt, err = parseTime(selectedAt); err != nil {
		return nil, err
	}
	if s.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if s.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &s, nil
}
