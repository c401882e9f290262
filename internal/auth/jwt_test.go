package auth

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret-at-least-16-chars!!"

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// fixedClock returns a clock the test can move.
type fixedClock struct{ t time.Time }

func (c *fixedClock) Now() time.Time            { return c.t }
func (c *fixedClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

// newTestTokenService creates a TokenService with a fixed secret and a
// controllable clock so expiry tests are deterministic.
func newTestTokenService(t *testing.T) (*TokenService, *fixedClock) {
	t.Helper()
	ts, err := NewTokenService(TokenConfig{AccessSecret: testSecret})
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}
	clock := &fixedClock{t: epoch}
	ts.now = clock.Now
	return ts, clock
}

func reasonOf(t *testing.T, err error) string {
	t.Helper()
	var te *TokenError
	if !errors.As(err, &te) {
		t.Fatalf("error %v is not a *TokenError", err)
	}
	return te.Reason
}

// =========================================================================
// CONSTRUCTION
// =========================================================================

func TestNewTokenService_ShortSecret(t *testing.T) {
	if _, err := NewTokenService(TokenConfig{AccessSecret: "short"}); err == nil {
		t.Fatal("NewTokenService() should reject secrets shorter than 16 chars")
	}
}

func TestNewTokenService_ShortRefreshSecret(t *testing.T) {
	_, err := NewTokenService(TokenConfig{AccessSecret: testSecret, RefreshSecret: "short"})
	if err == nil {
		t.Fatal("NewTokenService() should reject a short refresh secret")
	}
}

func TestNewTokenService_Defaults(t *testing.T) {
	ts, _ := newTestTokenService(t)
	if ts.AccessTTL() != 15*time.Minute {
		t.Errorf("AccessTTL() = %v, want 15m", ts.AccessTTL())
	}
	if ts.RefreshTTL() != 7*24*time.Hour {
		t.Errorf("RefreshTTL() = %v, want 168h", ts.RefreshTTL())
	}
}

// =========================================================================
// ROUND TRIP + TYPE DISCRIMINATION
// =========================================================================

func TestVerify_RoundTrip(t *testing.T) {
	ts, _ := newTestTokenService(t)

	for _, kind := range []Kind{KindAccess, KindRefresh} {
		for _, id := range []int64{1, 583231, 1<<53 + 7} {
			token, _, err := ts.issue(id, kind)
			if err != nil {
				t.Fatalf("issue(%d, %s) error = %v", id, kind, err)
			}
			c, err := ts.Verify(token, kind)
			if err != nil {
				t.Fatalf("Verify(%s) error = %v", kind, err)
			}
			if c.ExternalID != id {
				t.Errorf("ExternalID = %d, want %d", c.ExternalID, id)
			}
			if c.Type != kind {
				t.Errorf("Type = %q, want %q", c.Type, kind)
			}
			if c.ID == "" {
				t.Error("token id (jti) should be set")
			}
		}
	}
}

func TestVerify_TypeDiscrimination(t *testing.T) {
	ts, _ := newTestTokenService(t)
	pair, err := ts.IssueTokenPair(42)
	if err != nil {
		t.Fatalf("IssueTokenPair() error = %v", err)
	}

	_, err = ts.Verify(pair.RefreshToken, KindAccess)
	if !errors.Is(err, ErrInvalidToken) || reasonOf(t, err) != ReasonWrongType {
		t.Errorf("refresh token as access: err = %v, want wrong_type", err)
	}

	_, err = ts.Verify(pair.AccessToken, KindRefresh)
	if !errors.Is(err, ErrInvalidToken) || reasonOf(t, err) != ReasonWrongType {
		t.Errorf("access token as refresh: err = %v, want wrong_type", err)
	}
}

func TestVerify_DistinctRefreshSecret(t *testing.T) {
	ts, err := NewTokenService(TokenConfig{
		AccessSecret:  testSecret,
		RefreshSecret: "another-refresh-secret-value",
	})
	if err != nil {
		t.Fatalf("NewTokenService() error = %v", err)
	}

	pair, err := ts.IssueTokenPair(42)
	if err != nil {
		t.Fatalf("IssueTokenPair() error = %v", err)
	}
	if _, err := ts.Verify(pair.RefreshToken, KindRefresh); err != nil {
		t.Fatalf("Verify(refresh) error = %v", err)
	}
	if _, err := ts.Verify(pair.RefreshToken, KindAccess); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("refresh token signed with refresh secret must not verify as access")
	}
}

func TestVerify_UntypedTokenAccepted(t *testing.T) {
	ts, _ := newTestTokenService(t)

	c := Claims{
		ExternalID: 9,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    DefaultIssuer,
			ExpiresAt: jwt.NewNumericDate(epoch.Add(time.Minute)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("signing: %v", err)
	}

	if _, err := ts.Verify(token, KindAccess); err != nil {
		t.Errorf("Verify() untyped token error = %v", err)
	}
}

// =========================================================================
// EXPIRY BOUNDARY
// =========================================================================

func TestVerify_ExpiryBoundary(t *testing.T) {
	tests := []struct {
		kind Kind
		ttl  time.Duration
	}{
		{KindAccess, DefaultAccessTTL},
		{KindRefresh, DefaultRefreshTTL},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			ts, clock := newTestTokenService(t)
			token, exp, err := ts.issue(7, tt.kind)
			if err != nil {
				t.Fatalf("issue() error = %v", err)
			}
			if !exp.Equal(epoch.Add(tt.ttl)) {
				t.Errorf("expiresAt = %v, want %v", exp, epoch.Add(tt.ttl))
			}

			clock.Advance(tt.ttl - time.Second)
			if _, err := ts.Verify(token, tt.kind); err != nil {
				t.Errorf("Verify() just before expiry error = %v", err)
			}

			clock.Advance(2 * time.Second)
			_, err = ts.Verify(token, tt.kind)
			if !errors.Is(err, ErrInvalidToken) {
				t.Fatalf("Verify() just after expiry should fail, got %v", err)
			}
			if reasonOf(t, err) != ReasonExpired {
				t.Errorf("reason = %q, want %q", reasonOf(t, err), ReasonExpired)
			}
			if !errors.Is(err, jwt.ErrTokenExpired) {
				t.Error("expired error should unwrap to jwt.ErrTokenExpired")
			}
		})
	}
}

// =========================================================================
// REJECTIONS
// =========================================================================

func TestVerify_Rejections(t *testing.T) {
	ts, _ := newTestTokenService(t)
	valid, _, err := ts.IssueAccessToken(42)
	if err != nil {
		t.Fatalf("IssueAccessToken() error = %v", err)
	}

	other, err := NewTokenService(TokenConfig{AccessSecret: "a-totally-different-secret"})
	if err != nil {
		t.Fatalf("NewTokenService() error = %v", err)
	}
	other.now = ts.now
	foreign, _, _ := other.IssueAccessToken(42)

	parts := strings.Split(valid, ".")
	tampered := parts[0] + "." + parts[1] + "x." + parts[2]

	tests := []struct {
		name   string
		token  string
		reason string
	}{
		{"empty", "", ReasonMissing},
		{"garbage", "not-a-jwt", ReasonMalformed},
		{"wrong secret", foreign, ReasonSignature},
		{"tampered payload", tampered, ReasonMalformed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ts.Verify(tt.token, KindAccess)
			if !errors.Is(err, ErrInvalidToken) {
				t.Fatalf("Verify() error = %v, want ErrInvalidToken", err)
			}
			if got := reasonOf(t, err); got != tt.reason {
				t.Errorf("reason = %q, want %q", got, tt.reason)
			}
		})
	}
}

func TestIssue_RejectsNonPositiveID(t *testing.T) {
	ts, _ := newTestTokenService(t)
	if _, err := ts.IssueTokenPair(0); err == nil {
		t.Error("IssueTokenPair(0) should fail")
	}
}
