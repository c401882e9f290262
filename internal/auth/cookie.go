package auth

import (
	"net/http"
	"time"
)

// Cookie names used by the service.
const (
	RefreshCookieName = "refresh_token"
	StateCookieName   = "oauth_state"
)

// CookiePolicy is the single source of cookie attributes for one cookie.
//
// WHY ONE OBJECT FOR SET AND CLEAR?
// Browsers only delete a cookie when the clearing Set-Cookie matches the
// original's name, path and domain. If the login handler sets Domain and the
// logout handler forgets it, logout "succeeds" but the cookie survives.
// Every write of the refresh cookie goes through Set or Clear on the same
// policy value, so the attributes cannot drift apart.
//
// SAMESITE:
// In production the frontend lives on another site, so the cookie must be
// SameSite=None, which browsers only accept together with Secure. Local
// development runs over plain http on localhost, where Lax works.
type CookiePolicy struct {
	Name     string
	Path     string
	Domain   string
	Secure   bool
	SameSite http.SameSite
}

// NewCookiePolicy returns the policy for name in the given environment.
func NewCookiePolicy(name, domain string, production bool) CookiePolicy {
	p := CookiePolicy{
		Name:     name,
		Path:     "/",
		Domain:   domain,
		Secure:   false,
		SameSite: http.SameSiteLaxMode,
	}
	if production {
		p.Secure = true
		p.SameSite = http.SameSiteNoneMode
	}
	return p
}

// Set writes the cookie with value, expiring at expires.
func (p CookiePolicy) Set(w http.ResponseWriter, value string, expires time.Time) {
	c := p.base()
	c.Value = value
	c.Expires = expires
	c.MaxAge = max(int(time.Until(expires).Seconds()), 1)
	http.SetCookie(w, c)
}

// Clear tells the browser to delete the cookie. Calling it when no cookie
// exists is harmless.
func (p CookiePolicy) Clear(w http.ResponseWriter) {
	c := p.base()
	c.Expires = time.Unix(0, 0)
	c.MaxAge = -1
	http.SetCookie(w, c)
}

// Read returns the cookie value from r, or "" if absent.
func (p CookiePolicy) Read(r *http.Request) string {
	c, err := r.Cookie(p.Name)
	if err != nil {
		return ""
	}
	return c.Value
}

func (p CookiePolicy) base() *http.Cookie {
	return &http.Cookie{
		Name:     p.Name,
		Path:     p.Path,
		Domain:   p.Domain,
		Secure:   p.Secure,
		HttpOnly: true,
		SameSite: p.SameSite,
	}
}
