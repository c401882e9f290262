package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/repo-insights/internal/apperror"
	"github.com/sakif/repo-insights/internal/auth"
	"github.com/sakif/repo-insights/internal/model"
	"github.com/sakif/repo-insights/internal/repository/memory"
)

// =========================================================================
// CompleteLogin TESTS
// =========================================================================

func TestCompleteLogin_NewUser(t *testing.T) {
	store := memory.New()
	ts := testTokenService(t)
	svc := NewAuthService(store, ts, testLogger())

	result, err := svc.CompleteLogin(context.Background(), &auth.Assertion{ExternalID: 42, AccessToken: "gho_first", Login: "octocat"})
	require.NoError(t, err)

	assert.True(t, result.IsNewUser)
	assert.Equal(t, int64(42), result.Identity.ExternalID)
	require.NotEmpty(t, result.Tokens.AccessToken)
	require.NotEmpty(t, result.Tokens.RefreshToken)

	claims, err := ts.Verify(result.Tokens.AccessToken, auth.KindAccess)
	require.NoError(t, err)
	assert.Equal(t, int64(42), claims.ExternalID)

	stored, err := store.FindByExternalID(context.Background(), 42)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "gho_first", stored.CachedAccessToken)
	assert.False(t, stored.OnboardingComplete)
}

func TestCompleteLogin_ExistingUserRefreshesTokenOnly(t *testing.T) {
	store := memory.New()
	tick := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	store.SetClock(func() time.Time { tick = tick.Add(time.Minute); return tick })
	svc := NewAuthService(store, testTokenService(t), testLogger())
	ctx := context.Background()

	first, err := svc.CompleteLogin(ctx, &auth.Assertion{ExternalID: 7, AccessToken: "gho_old"})
	require.NoError(t, err)
	done := true
	_, err = store.UpdateIdentity(ctx, 7, model.IdentityPatch{OnboardingComplete: &done})
	require.NoError(t, err)

	result, err := svc.CompleteLogin(ctx, &auth.Assertion{ExternalID: 7, AccessToken: "gho_new"})
	require.NoError(t, err)

	assert.False(t, result.IsNewUser, "onboarding state survives a second login")
	assert.Equal(t, "gho_new", result.Identity.CachedAccessToken)
	assert.True(t, result.Identity.CreatedAt.Equal(first.Identity.CreatedAt), "createdAt is unchanged")
	assert.True(t, result.Identity.UpdatedAt.After(first.Identity.UpdatedAt), "updatedAt advances")

	stored, err := store.FindByExternalID(ctx, 7)
	require.NoError(t, err)
	assert.True(t, stored.CreatedAt.Equal(first.Identity.CreatedAt))
	assert.True(t, stored.UpdatedAt.Equal(result.Identity.UpdatedAt))
}

func TestCompleteLogin_ConcurrentFirstLoginLastWriteWins(t *testing.T) {
	inner := memory.New()
	ctx := context.Background()
	_, err := inner.CreateIdentity(ctx, model.Identity{ExternalID: 9, CachedAccessToken: "gho_a"})
	require.NoError(t, err)

	// The lookup misses the record the other login just wrote.
	svc := NewAuthService(staleReads{Store: inner}, testTokenService(t), testLogger())

	result, err := svc.CompleteLogin(ctx, &auth.Assertion{ExternalID: 9, AccessToken: "gho_b"})
	require.NoError(t, err)
	assert.NotEmpty(t, result.Tokens.AccessToken)
	assert.Equal(t, "gho_b", result.Identity.CachedAccessToken)

	stored, err := inner.FindByExternalID(ctx, 9)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "gho_b", stored.CachedAccessToken)
}

func TestCompleteLogin_StoreFailureMintsNoTokens(t *testing.T) {
	store := &failingIdentities{Store: memory.New(), createErr: errors.New("table unavailable")}
	svc := NewAuthService(store, testTokenService(t), testLogger())

	result, err := svc.CompleteLogin(context.Background(), &auth.Assertion{ExternalID: 1, AccessToken: "gho"})
	require.Error(t, err)
	assert.Nil(t, result)

	missing, err := store.FindByExternalID(context.Background(), 1)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestCompleteLogin_UpdateFailureMintsNoTokens(t *testing.T) {
	inner := memory.New()
	seedIdentity(t, inner, 1)
	store := &failingIdentities{Store: inner, updateErr: errors.New("throttled")}
	svc := NewAuthService(store, testTokenService(t), testLogger())

	result, err := svc.CompleteLogin(context.Background(), &auth.Assertion{ExternalID: 1, AccessToken: "gho"})
	require.Error(t, err)
	assert.Nil(t, result)
}

func TestCompleteLogin_RejectsMissingID(t *testing.T) {
	svc := NewAuthService(memory.New(), testTokenService(t), testLogger())

	for _, a := range []*auth.Assertion{nil, {ExternalID: 0}, {ExternalID: -3}} {
		_, err := svc.CompleteLogin(context.Background(), a)
		assert.ErrorIs(t, err, apperror.ErrValidation)
	}
}

// =========================================================================
// Refresh TESTS
// =========================================================================

func TestRefresh_IssuesNewPair(t *testing.T) {
	store := memory.New()
	seedIdentity(t, store, 9)
	ts := testTokenService(t)
	svc := NewAuthService(store, ts, testLogger())

	pair, err := svc.Refresh(context.Background(), 9)
	require.NoError(t, err)

	claims, err := ts.Verify(pair.RefreshToken, auth.KindRefresh)
	require.NoError(t, err)
	assert.Equal(t, int64(9), claims.ExternalID)
}

func TestRefresh_DeletedAccount(t *testing.T) {
	svc := NewAuthService(memory.New(), testTokenService(t), testLogger())

	_, err := svc.Refresh(context.Background(), 9)
	assert.ErrorIs(t, err, apperror.ErrNotFound)
}
