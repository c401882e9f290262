// Package service holds the business rules. Handlers call services; services
// call the repositories and the GitHub client and never see HTTP.
//
//	Handler (HTTP) → Service (rules) → Repository (storage)
//	                                  ↘ GitHub client
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sakif/repo-insights/internal/apperror"
	"github.com/sakif/repo-insights/internal/auth"
	"github.com/sakif/repo-insights/internal/model"
	"github.com/sakif/repo-insights/internal/repository"
)

// AuthService turns a verified GitHub login into a session and rotates it.
type AuthService struct {
	identities repository.IdentityRepository
	tokens     *auth.TokenService
	logger     *slog.Logger
}

func NewAuthService(identities repository.IdentityRepository, tokens *auth.TokenService, logger *slog.Logger) *AuthService {
	return &AuthService{identities: identities, tokens: tokens, logger: logger}
}

// LoginResult is what the callback handler needs to answer the browser.
type LoginResult struct {
	Identity  *model.Identity
	Tokens    auth.TokenPair
	IsNewUser bool
}

// CompleteLogin upserts the identity for a verified assertion and mints a
// token pair.
//
// Two first logins for the same id may both miss FindByExternalID. The store
// then refuses the second create with repository.ErrIdentityExists and that
// login falls back to an update, so the last write wins.
//
// ORDERING:
// Tokens are minted only after the identity write succeeded. A store failure
// returns an error and no tokens, so no session ever points at a record that
// was never written.
func (s *AuthService) CompleteLogin(ctx context.Context, a *auth.Assertion) (*LoginResult, error) {
	if a == nil || a.ExternalID <= 0 {
		return nil, apperror.ValidationFailed("githubId", "GitHub did not return a user id")
	}

	existing, err := s.identities.FindByExternalID(ctx, a.ExternalID)
	if err != nil {
		return nil, fmt.Errorf("service/auth: finding identity %d: %w", a.ExternalID, err)
	}

	var identity *model.Identity
	if existing == nil {
		identity, err = s.identities.CreateIdentity(ctx, model.Identity{
			ExternalID:        a.ExternalID,
			CachedAccessToken: a.AccessToken,
		})
		switch {
		case errors.Is(err, repository.ErrIdentityExists):
			// A concurrent first login won the create; the later login's token wins.
			s.logger.Debug("identity created concurrently, updating instead", slog.Int64("githubId", a.ExternalID))
			identity, err = s.refreshCachedToken(ctx, a)
			if err != nil {
				return nil, err
			}
		case err != nil:
			return nil, fmt.Errorf("service/auth: creating identity %d: %w", a.ExternalID, err)
		default:
			s.logger.Info("identity created", slog.Int64("githubId", a.ExternalID), slog.String("login", a.Login))
		}
	} else {
		identity, err = s.refreshCachedToken(ctx, a)
		if err != nil {
			return nil, err
		}
	}

	pair, err := s.tokens.IssueTokenPair(identity.ExternalID)
	if err != nil {
		return nil, fmt.Errorf("service/auth: issuing tokens for %d: %w", identity.ExternalID, err)
	}

	s.logger.Info("user authenticated via GitHub",
		slog.Int64("githubId", identity.ExternalID),
		slog.String("login", a.Login),
	)
	return &LoginResult{
		Identity:  identity,
		Tokens:    pair,
		IsNewUser: !identity.OnboardingComplete,
	}, nil
}

func (s *AuthService) refreshCachedToken(ctx context.Context, a *auth.Assertion) (*model.Identity, error) {
	identity, err := s.identities.UpdateIdentity(ctx, a.ExternalID, model.IdentityPatch{
		CachedAccessToken: &a.AccessToken,
	})
	if err != nil {
		return nil, fmt.Errorf("service/auth: updating identity %d: %w", a.ExternalID, err)
	}
	return identity, nil
}

// Refresh issues a new pair for a verified refresh token. The identity has
// to still exist; a deleted account cannot keep refreshing.
//
// The old refresh token stays valid until it expires. There is no
// server-side revocation list.
func (s *AuthService) Refresh(ctx context.Context, externalID int64) (auth.TokenPair, error) {
	identity, err := s.identities.FindByExternalID(ctx, externalID)
	if err != nil {
		return auth.TokenPair{}, fmt.Errorf("service/auth: finding identity %d: %w", externalID, err)
	}
	if identity == nil {
		return auth.TokenPair{}, apperror.NotFound("identity", externalID)
	}

	pair, err := s.tokens.IssueTokenPair(externalID)
	if err != nil {
		return auth.TokenPair{}, fmt.Errorf("service/auth: issuing tokens for %d: %w", externalID, err)
	}
	return pair, nil
}
