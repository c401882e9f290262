// Package memory is an in-process implementation of the repository
// interfaces. It backs STORE_DRIVER=memory for local runs and the service and
// handler tests. Data does not survive a restart.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sakif/repo-insights/internal/apperror"
	"github.com/sakif/repo-insights/internal/model"
	"github.com/sakif/repo-insights/internal/repository"
)

// Store holds identities and selections behind a single mutex.
type Store struct {
	mu         sync.RWMutex
	identities map[int64]model.Identity
	selections map[int64]map[int64]model.Selection

	// BatchCalls records the size of every BatchDeleteSelections chunk.
	BatchCalls []int

	now func() time.Time
}

var (
	_ repository.IdentityRepository  = (*Store)(nil)
	_ repository.SelectionRepository = (*Store)(nil)
)

func New() *Store {
	return &Store{
		identities: make(map[int64]model.Identity),
		selections: make(map[int64]map[int64]model.Selection),
		now:        time.Now,
	}
}

// SetClock replaces the time source used for createdAt/updatedAt.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *Store) FindByExternalID(_ context.Context, externalID int64) (*model.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	identity, ok := s.identities[externalID]
	if !ok {
		return nil, nil
	}
	return &identity, nil
}

func (s *Store) CreateIdentity(_ context.Context, identity model.Identity) (*model.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.identities[identity.ExternalID]; ok {
		return nil, fmt.Errorf("memory: creating identity %d: %w", identity.ExternalID, repository.ErrIdentityExists)
	}
	now := s.now().UTC()
	identity.OnboardingComplete = false
	identity.CreatedAt = now
	identity.UpdatedAt = now
	s.identities[identity.ExternalID] = identity
	return &identity, nil
}

func (s *Store) UpdateIdentity(_ context.Context, externalID int64, patch model.IdentityPatch) (*model.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	identity, ok := s.identities[externalID]
	if !ok {
		return nil, apperror.NotFound("identity", externalID)
	}
	patch.Apply(&identity)
	identity.UpdatedAt = s.now().UTC()
	s.identities[externalID] = identity
	return &identity, nil
}

func (s *Store) DeleteIdentity(_ context.Context, externalID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.identities, externalID)
	return nil
}

// ListByUser returns the user's selections, most recently selected first.
func (s *Store) ListByUser(_ context.Context, userID int64) ([]model.Selection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Selection, 0, len(s.selections[userID]))
	for _, sel := range s.selections[userID] {
		out = append(out, sel)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].SelectedAt.Equal(out[j].SelectedAt) {
			return out[i].SelectedAt.After(out[j].SelectedAt)
		}
		return out[i].RepoID < out[j].RepoID
	})
	return out, nil
}

func (s *Store) GetSelection(_ context.Context, userID, repoID int64) (*model.Selection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sel, ok := s.selections[userID][repoID]
	if !ok {
		return nil, nil
	}
	return &sel, nil
}

func (s *Store) PutSelection(_ context.Context, sel model.Selection) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	byRepo, ok := s.selections[sel.UserID]
	if !ok {
		byRepo = make(map[int64]model.Selection)
		s.selections[sel.UserID] = byRepo
	}
	byRepo[sel.RepoID] = sel
	return nil
}

func (s *Store) DeleteSelection(_ context.Context, userID, repoID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.selections[userID], repoID)
	return nil
}

func (s *Store) BatchDeleteSelections(_ context.Context, userID int64, repoIDs []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, chunk := range repository.Chunk(repoIDs, repository.MaxBatchSize) {
		s.BatchCalls = append(s.BatchCalls, len(chunk))
		for _, id := range chunk {
			delete(s.selections[userID], id)
		}
	}
	return nil
}
