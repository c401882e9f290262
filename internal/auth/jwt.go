// Package auth issues and verifies this service's own session tokens, guards
// routes with them, and wraps the GitHub OAuth handshake.
//
// AUTHENTICATION FLOW OVERVIEW:
//  1. User visits /auth/github → redirected to GitHub
//  2. GitHub calls back /auth/github/callback with a code
//  3. Server exchanges the code for a GitHub token + user id, upserts the identity
//  4. Server mints an access/refresh pair: the refresh token goes into an
//     HttpOnly cookie, the access token into the response body
//  5. The client sends the access token as a bearer header; when it expires
//     (401 with code REFRESH_TOKEN) the client calls /auth/refresh, which
//     reads the cookie and rotates both tokens
//
// TWO TOKEN KINDS:
// Both are HS256 JWTs carrying the GitHub user id and a "type" claim. The
// type claim stops a long-lived refresh token from being replayed as an
// access token, and the two kinds may be signed with different secrets.
//
// No token is stored server-side. A token stays valid until it expires, even
// after logout; logout only removes the client's cookie.
package auth

import (
	"crypto/rand"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"
)

// Kind discriminates access tokens from refresh tokens.
type Kind string

const (
	KindAccess  Kind = "access"
	KindRefresh Kind = "refresh"
)

const (
	DefaultAccessTTL  = 15 * time.Minute
	DefaultRefreshTTL = 7 * 24 * time.Hour
	DefaultIssuer     = "repo-insights"

	minSecretLen = 16
)

// ErrInvalidToken is the single failure kind for every verification error.
// The concrete *TokenError says why.
var ErrInvalidToken = errors.New("auth: invalid token")

// Reasons carried by TokenError. They are for logs; callers only see the
// Unauthorized code derived from them.
const (
	ReasonMissing   = "missing"
	ReasonMalformed = "malformed"
	ReasonSignature = "signature"
	ReasonExpired   = "expired"
	ReasonWrongType = "wrong_type"
)

// TokenError describes why a token failed verification.
type TokenError struct {
	Kind   Kind   // kind the caller expected
	Reason string // one of the Reason* constants
	Err    error  // underlying jwt error, if any
}

func (e *TokenError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("auth: %s token %s: %v", e.Kind, e.Reason, e.Err)
	}
	return fmt.Sprintf("auth: %s token %s", e.Kind, e.Reason)
}

func (e *TokenError) Is(target error) bool {
	return target == ErrInvalidToken
}

func (e *TokenError) Unwrap() error {
	return e.Err
}

// Expired reports whether the token was well-formed but past its expiry.
func (e *TokenError) Expired() bool {
	return e.Reason == ReasonExpired
}

// Claims is the JWT payload for both token kinds.
type Claims struct {
	ExternalID int64 `json:"githubId"`
	Type       Kind  `json:"type"`
	jwt.RegisteredClaims
}

// TokenPair is what login and refresh hand back.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// TokenConfig holds the signing configuration. An empty RefreshSecret falls
// back to AccessSecret; zero TTLs fall back to the defaults.
type TokenConfig struct {
	AccessSecret  string
	RefreshSecret string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	Issuer        string
}

// TokenService mints and verifies tokens. It holds no per-user state and is
// safe for concurrent use.
type TokenService struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
	issuer        string

	now func() time.Time

	// ulid.Monotonic is not safe for concurrent use on its own.
	entropyMu sync.Mutex
	entropy   *ulid.MonotonicEntropy
}

// NewTokenService validates cfg and builds a TokenService.
// Example: JWT_SECRET=$(openssl rand -hex 32)
func NewTokenService(cfg TokenConfig) (*TokenService, error) {
	if len(cfg.AccessSecret) < minSecretLen {
		return nil, fmt.Errorf("auth: JWT secret must be at least %d characters", minSecretLen)
	}
	refresh := cfg.RefreshSecret
	if refresh == "" {
		refresh = cfg.AccessSecret
	}
	if len(refresh) < minSecretLen {
		return nil, fmt.Errorf("auth: JWT refresh secret must be at least %d characters", minSecretLen)
	}
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = DefaultAccessTTL
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = DefaultRefreshTTL
	}
	if cfg.Issuer == "" {
		cfg.Issuer = DefaultIssuer
	}

	return &TokenService{
		accessSecret:  []byte(cfg.AccessSecret),
		refreshSecret: []byte(refresh),
		accessTTL:     cfg.AccessTTL,
		refreshTTL:    cfg.RefreshTTL,
		issuer:        cfg.Issuer,
		now:           time.Now,
		entropy:       ulid.Monotonic(rand.Reader, 0),
	}, nil
}

// AccessTTL is the lifetime of access tokens.
func (s *TokenService) AccessTTL() time.Duration { return s.accessTTL }

// RefreshTTL is the lifetime of refresh tokens; the refresh cookie uses it too.
func (s *TokenService) RefreshTTL() time.Duration { return s.refreshTTL }

// IssueAccessToken mints a short-lived access token for externalID.
func (s *TokenService) IssueAccessToken(externalID int64) (string, time.Time, error) {
	return s.issue(externalID, KindAccess)
}

// IssueRefreshToken mints a long-lived refresh token for externalID.
func (s *TokenService) IssueRefreshToken(externalID int64) (string, time.Time, error) {
	return s.issue(externalID, KindRefresh)
}

// IssueTokenPair mints both tokens.
func (s *TokenService) IssueTokenPair(externalID int64) (TokenPair, error) {
	access, accessExp, err := s.IssueAccessToken(externalID)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, refreshExp, err := s.IssueRefreshToken(externalID)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

func (s *TokenService) issue(externalID int64, kind Kind) (string, time.Time, error) {
	if externalID <= 0 {
		return "", time.Time{}, fmt.Errorf("auth: cannot issue %s token for id %d", kind, externalID)
	}

	secret, ttl := s.paramsFor(kind)
	now := s.now()
	expiresAt := now.Add(ttl)

	c := Claims{
		ExternalID: externalID,
		Type:       kind,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        s.newTokenID(now),
			Subject:   strconv.FormatInt(externalID, 10),
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("auth: signing %s token: %w", kind, err)
	}
	// NumericDate drops sub-second precision; report what is actually in the token.
	return signed, c.ExpiresAt.Time, nil
}

// Verify checks signature, issuer, expiry and the type claim.
//
// ALGORITHM CONFUSION ATTACK:
// Without checking the algorithm, an attacker could send a token signed with
// "none" and the library might accept it. jwt.WithValidMethods prevents this.
func (s *TokenService) Verify(raw string, expected Kind) (*Claims, error) {
	if raw == "" {
		return nil, &TokenError{Kind: expected, Reason: ReasonMissing}
	}

	secret, _ := s.paramsFor(expected)
	c := &Claims{}
	_, err := jwt.ParseWithClaims(
		raw,
		c,
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, &TokenError{Kind: expected, Reason: classify(err), Err: err}
	}

	// Tokens without a type claim predate the refresh flow and are accepted
	// for the kind they were verified against.
	if c.Type != "" && c.Type != expected {
		return nil, &TokenError{Kind: expected, Reason: ReasonWrongType}
	}
	if c.ExternalID <= 0 {
		return nil, &TokenError{Kind: expected, Reason: ReasonMalformed}
	}
	return c, nil
}

func (s *TokenService) paramsFor(kind Kind) ([]byte, time.Duration) {
	if kind == KindRefresh {
		return s.refreshSecret, s.refreshTTL
	}
	return s.accessSecret, s.accessTTL
}

func (s *TokenService) newTokenID(now time.Time) string {
	s.entropyMu.Lock()
	defer s.entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(now), s.entropy).String()
}

func classify(err error) string {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return ReasonExpired
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return ReasonSignature
	default:
		return ReasonMalformed
	}
}
