package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/sakif/repo-insights/internal/apperror"
	"github.com/sakif/repo-insights/internal/model"
	"github.com/sakif/repo-insights/internal/repository"
)

// compile-time check that *DB implements repository.IdentityRepository
var _ repository.IdentityRepository = (*DB)(nil)

const identityColumns = `external_id, cached_access_token, onboarding_complete, created_at, updated_at`

// FindByExternalID returns the identity or (nil, nil) when there is none.
func (db *DB) FindByExternalID(ctx context.Context, externalID int64) (*model.Identity, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+identityColumns+` FROM identities WHERE external_id = ?`, externalID)

	id, err := db.scanIdentity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: finding identity %d: %w", externalID, err)
	}
	return id, nil
}

// CreateIdentity inserts a new identity with onboarding incomplete.
// An existing row is left untouched and repository.ErrIdentityExists returned.
func (db *DB) CreateIdentity(ctx context.Context, identity model.Identity) (*model.Identity, error) {
	now := db.now().UTC()
	identity.OnboardingComplete = false
	identity.CreatedAt = now
	identity.UpdatedAt = now

	sealed, err := db.codec.Seal(identity.CachedAccessToken)
	if err != nil {
		return nil, fmt.Errorf("sqlite: sealing token for identity %d: %w", identity.ExternalID, err)
	}

	res, err := db.conn.ExecContext(ctx,
		`INSERT INTO identities (`+identityColumns+`) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (external_id) DO NOTHING`,
		identity.ExternalID,
		sealed,
		identity.OnboardingComplete,
		formatTime(identity.CreatedAt),
		formatTime(identity.UpdatedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: inserting identity %d: %w", identity.ExternalID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("sqlite: inserting identity %d: %w", identity.ExternalID, err)
	}
	if n == 0 {
		return nil, fmt.Errorf("sqlite: inserting identity %d: %w", identity.ExternalID, repository.ErrIdentityExists)
	}
	return &identity, nil
}

// UpdateIdentity merges patch into the stored identity and bumps updated_at.
//
// The read and the write run in one transaction so the returned record is
// exactly what was written.
func (db *DB) UpdateIdentity(ctx context.Context, externalID int64, patch model.IdentityPatch) (*model.Identity, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("sqlite: beginning identity update: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx,
		`SELECT `+identityColumns+` FROM identities WHERE external_id = ?`, externalID)
	current, err := db.scanIdentity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NotFound("identity", externalID)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: loading identity %d: %w", externalID, err)
	}

	patch.Apply(current)
	current.UpdatedAt = db.now().UTC()

	sealed, err := db.codec.Seal(current.CachedAccessToken)
	if err != nil {
		return nil, fmt.Errorf("sqlite: sealing token for identity %d: %w", externalID, err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE identities
		 SET cached_access_token = ?, onboarding_complete = ?, updated_at = ?
		 WHERE external_id = ?`,
		sealed,
		current.OnboardingComplete,
		formatTime(current.UpdatedAt),
		externalID,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: updating identity %d: %w", externalID, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("sqlite: committing identity update %d: %w", externalID, err)
	}
	return current, nil
}

// DeleteIdentity removes the identity. Deleting a missing identity is not an error.
func (db *DB) DeleteIdentity(ctx context.Context, externalID int64) error {
	if _, err := db.conn.ExecContext(ctx,
		`DELETE FROM identities WHERE external_id = ?`, externalID); err != nil {
		return fmt.Errorf("sqlite: deleting identity %d: %w", externalID, err)
	}
	return nil
}

// scanIdentity reads one row in identityColumns order and opens the token.
func (db *DB) scanIdentity(row *sql.Row) (*model.Identity, error) {
	var (
		id                   model.Identity
		sealed               string
		createdAt, updatedAt string
	)
	if err := row.Scan(&id.ExternalID, &sealed, &id.OnboardingComplete, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	var err error
	if id.CachedAccessToken, err = db.codec.Open(sealed); err != nil {
		return nil, fmt.Errorf("opening cached token: %w", err)
	}
	if id.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if id.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &id, nil
}
