// Package model defines the data structures used throughout the application.
package model

import "time"

// Identity is the per-user record, one per GitHub account.
//
// WHY ExternalID AS THE PRIMARY KEY?
// GitHub user IDs are stable integers and the only identity this system has,
// so there is no separate internal id. Tokens carry this value as "githubId".
//
// CachedAccessToken is the delegated GitHub OAuth token. GitHub issues a new
// one on every authorization, so it is overwritten on every login.
type Identity struct {
	ExternalID         int64     `json:"githubId"`
	CachedAccessToken  string    `json:"-"`
	OnboardingComplete bool      `json:"onboardingComplete"`
	CreatedAt          time.Time `json:"createdAt"`
	UpdatedAt          time.Time `json:"updatedAt"`
}

// IdentityPatch lists the fields Update may change. Nil means "leave as is".
type IdentityPatch struct {
	CachedAccessToken  *string
	OnboardingComplete *bool
}

// Empty reports whether the patch changes nothing besides updatedAt.
func (p IdentityPatch) Empty() bool {
	return p.CachedAccessToken == nil && p.OnboardingComplete == nil
}

// Apply merges the set fields of p into id.
func (p IdentityPatch) Apply(id *Identity) {
	if p.CachedAccessToken != nil {
		id.CachedAccessToken = *p.CachedAccessToken
	}
	if p.OnboardingComplete != nil {
		id.OnboardingComplete = *p.OnboardingComplete
	}
}
