package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sakif/repo-insights/internal/model"
	"github.com/sakif/repo-insights/internal/repository"
)

// AccountService covers the signed-in user's own account.
type AccountService struct {
	identities repository.IdentityRepository
	selections repository.SelectionRepository
	github     GitHub
	logger     *slog.Logger
}

func NewAccountService(
	identities repository.IdentityRepository,
	selections repository.SelectionRepository,
	gh GitHub,
	logger *slog.Logger,
) *AccountService {
	return &AccountService{identities: identities, selections: selections, github: gh, logger: logger}
}

// Profile is the live GitHub profile joined with local onboarding state.
type Profile struct {
	GitHubID  int64  `json:"githubId"`
	Login     string `json:"username"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	AvatarURL string `json:"avatar"`
	HTMLURL   string `json:"profileUrl"`
	IsNewUser bool   `json:"isNewUser"`
}

// Profile fetches the user's GitHub profile with their cached token.
func (s *AccountService) Profile(ctx context.Context, externalID int64) (*Profile, error) {
	identity, err := identityWithToken(ctx, s.identities, externalID)
	if err != nil {
		return nil, err
	}

	u, err := s.github.AuthenticatedUser(ctx, identity.CachedAccessToken)
	if err != nil {
		return nil, fmt.Errorf("service/account: fetching GitHub profile for %d: %w", externalID, err)
	}

	return &Profile{
		GitHubID:  externalID,
		Login:     u.Login,
		Name:      u.Name,
		Email:     u.Email,
		AvatarURL: u.AvatarURL,
		HTMLURL:   u.HTMLURL,
		IsNewUser: !identity.OnboardingComplete,
	}, nil
}

// CompleteOnboarding marks the onboarding steps as done.
func (s *AccountService) CompleteOnboarding(ctx context.Context, externalID int64) (*model.Identity, error) {
	done := true
	identity, err := s.identities.UpdateIdentity(ctx, externalID, model.IdentityPatch{OnboardingComplete: &done})
	if err != nil {
		return nil, fmt.Errorf("service/account: completing onboarding for %d: %w", externalID, err)
	}
	return identity, nil
}

// DeleteAccount removes every selection and then the identity.
//
// ORCHESTRATION:
// The two stores know nothing about each other; this method calls both
// directly. Selections go first so a failure leaves the identity in place
// and the user can retry. Both steps are idempotent.
func (s *AccountService) DeleteAccount(ctx context.Context, externalID int64) error {
	selected, err := s.selections.ListByUser(ctx, externalID)
	if err != nil {
		return fmt.Errorf("service/account: listing selections for %d: %w", externalID, err)
	}

	ids := make([]int64, 0, len(selected))
	for _, sel := range selected {
		ids = append(ids, sel.RepoID)
	}
	if err := s.selections.BatchDeleteSelections(ctx, externalID, ids); err != nil {
		return fmt.Errorf("service/account: deleting selections for %d: %w", externalID, err)
	}

	if err := s.identities.DeleteIdentity(ctx, externalID); err != nil {
		return fmt.Errorf("service/account: deleting identity %d: %w", externalID, err)
	}

	s.logger.Info("account deleted",
		slog.Int64("githubId", externalID),
		slog.Int("selections", len(ids)),
	)
	return nil
}
