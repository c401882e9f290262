package service

import (
	"context"
	"fmt"

	"github.com/sakif/repo-insights/internal/apperror"
	"github.com/sakif/repo-insights/internal/github"
	"github.com/sakif/repo-insights/internal/model"
	"github.com/sakif/repo-insights/internal/repository"
)

// GitHub is the part of *github.Client the services call. Tests substitute a fake.
type GitHub interface {
	AuthenticatedUser(ctx context.Context, token string) (*github.User, error)
	ListOwnedRepos(ctx context.Context, token string) ([]github.Repo, error)
	Repo(ctx context.Context, token, fullName string) (*github.Repo, error)
	Languages(ctx context.Context, token, fullName string) (map[string]int64, error)
	Contributors(ctx context.Context, token, fullName string) (*github.Page[github.Contributor], error)
	ContributorCount(ctx context.Context, token, fullName string) (int, error)
	Commits(ctx context.Context, token, fullName string, q github.CommitQuery) (*github.Page[github.Commit], error)
	Issues(ctx context.Context, token, fullName string, q github.IssueQuery) (*github.Page[github.Issue], error)
	PullRequests(ctx context.Context, token, fullName string, q github.PullQuery) (*github.Page[github.PullRequest], error)
	Branches(ctx context.Context, token, fullName string) ([]github.Branch, error)
}

var _ GitHub = (*github.Client)(nil)

// identityWithToken loads an identity that carries a delegated GitHub token.
//
// A missing identity is NotFound (the account was deleted while a session
// was still alive). An identity without a token asks for a new login.
func identityWithToken(ctx context.Context, identities repository.IdentityRepository, externalID int64) (*model.Identity, error) {
	identity, err := identities.FindByExternalID(ctx, externalID)
	if err != nil {
		return nil, fmt.Errorf("service: loading identity %d: %w", externalID, err)
	}
	if identity == nil {
		return nil, apperror.NotFound("identity", externalID)
	}
	if identity.CachedAccessToken == "" {
		return nil, apperror.Unauthorized(apperror.CodeSessionExpired, "GitHub authorization missing, please sign in again")
	}
	return identity, nil
}
