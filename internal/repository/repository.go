// Package repository declares the storage contracts the services depend on.
//
// Three drivers implement them: sqlite (default), dynamo (DynamoDB, the
// production key-value backend) and memory (local development and tests).
// Each driver owns the translation between model types and its own format.
package repository

import (
	"context"
	"errors"

	"github.com/sakif/repo-insights/internal/model"
)

// ErrIdentityExists is returned by CreateIdentity when a record for the id is
// already stored, typically because a concurrent login created it first.
var ErrIdentityExists = errors.New("identity already exists")

// MaxBatchSize is the largest number of items one batch write may carry.
// DynamoDB's BatchWriteItem limit; the other drivers follow it too.
const MaxBatchSize = 25

// IdentityRepository stores one Identity per GitHub user.
//
// FindByExternalID returns (nil, nil) when no record exists; absence is not an error.
// CreateIdentity returns an error wrapping ErrIdentityExists when the id is taken.
// UpdateIdentity returns an apperror.ErrNotFound error when no record exists.
// DeleteIdentity is idempotent.
type IdentityRepository interface {
	FindByExternalID(ctx context.Context, externalID int64) (*model.Identity, error)
	CreateIdentity(ctx context.Context, identity model.Identity) (*model.Identity, error)
	UpdateIdentity(ctx context.Context, externalID int64, patch model.IdentityPatch) (*model.Identity, error)
	DeleteIdentity(ctx context.Context, externalID int64) error
}

// SelectionRepository stores Selection records keyed by (userID, repoID).
//
// GetSelection returns (nil, nil) when absent. PutSelection is a full overwrite.
// BatchDeleteSelections issues one batch call per MaxBatchSize chunk, in order.
type SelectionRepository interface {
	ListByUser(ctx context.Context, userID int64) ([]model.Selection, error)
	GetSelection(ctx context.Context, userID, repoID int64) (*model.Selection, error)
	PutSelection(ctx context.Context, selection model.Selection) error
	DeleteSelection(ctx context.Context, userID, repoID int64) error
	BatchDeleteSelections(ctx context.Context, userID int64, repoIDs []int64) error
}

// TokenCodec seals the cached GitHub token before it is written and opens it
// after it is read. Drivers call it at their read/write boundary.
type TokenCodec interface {
	Seal(plaintext string) (string, error)
	Open(sealed string) (string, error)
}

// Chunk splits ids into consecutive groups of at most size elements.
func Chunk(ids []int64, size int) [][]int64 {
	if size <= 0 {
		size = MaxBatchSize
	}
	var chunks [][]int64
	for start := 0; start < len(ids); start += size {
		end := min(start+size, len(ids))
		chunks = append(chunks, ids[start:end])
	}
	return chunks
}
