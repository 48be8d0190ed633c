// Package cookie provides cookie helpers for the guest session.
// Cookies set through Config share one domain and security policy so the
// guest cart survives across the storefront and the API host.
package cookie

import (
	"net/http"
	"time"
)

// Config holds cookie configuration for domain-aware cookie operations.
type Config struct {
	// BaseDomain is the root domain for cookie scoping (e.g., "kaupa.shop").
	// Empty means a host-only cookie, which is what local development wants.
	BaseDomain string

	// Secure determines whether cookies require HTTPS.
	// Should be true in production, false in development.
	Secure bool
}

// NewConfig creates a new cookie configuration.
//
// Example:
//
//	cfg := cookie.NewConfig("kaupa.shop", true)  // production
//	cfg := cookie.NewConfig("", false)           // development
func NewConfig(baseDomain string, secure bool) *Config {
	return &Config{
		BaseDomain: baseDomain,
		Secure:     secure,
	}
}

func (c *Config) domain() string {
	if c.BaseDomain == "" {
		return ""
	}
	return "." + c.BaseDomain
}

// SetSession sets an HttpOnly, SameSite=Lax cookie valid for maxAge seconds.
func (c *Config) SetSession(w http.ResponseWriter, name, value string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Domain:   c.domain(),
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearSession removes a session cookie by setting MaxAge to -1.
// Domain must match the original cookie's domain or the browser keeps it.
func (c *Config) ClearSession(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Domain:   c.domain(),
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// SetSessionWithExpiry sets a session cookie with an explicit expiration time.
func (c *Config) SetSessionWithExpiry(w http.ResponseWriter, name, value string, expires time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Domain:   c.domain(),
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// Get retrieves a cookie value from the request.
// Returns empty string if cookie not found.
func Get(r *http.Request, name string) string {
	cookie, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return cookie.Value
}

const (
	// GuestCookieName carries the anonymous guest session id.
	GuestCookieName = "kaupa_guest"

	// GuestMaxAge keeps a guest cart addressable for 30 days.
	GuestMaxAge = 30 * 24 * 60 * 60
)
