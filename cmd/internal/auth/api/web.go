package authapi

import (
	"net/http"
	"strings"
	"time"

	"latch/cmd/internal/auth/session"
)

// setSessionCookie writes the session token cookie. Only remember-me sessions
// get Expires/Max-Age; others end with the browser session (and still expire
// server-side).
func (h *Handler) setSessionCookie(w http.ResponseWriter, issued session.Issued) {
	if h == nil || w == nil {
		return
	}
	c := &http.Cookie{
		Name:     h.cfg.CookieName,
		Value:    issued.Token,
		Path:     h.cfg.CookiePath,
		Domain:   h.cfg.CookieDomain,
		HttpOnly: true,
		Secure:   h.cfg.CookieSecure,
		SameSite: h.cfg.CookieSameSite,
	}
	if issued.Remember {
		c.Expires = issued.ExpiresAt.UTC()
		if maxAge := int(time.Until(issued.ExpiresAt).Seconds()); maxAge > 0 {
			c.MaxAge = maxAge
		}
	}
	http.SetCookie(w, c)
}

func (h *Handler) clearSessionCookie(w http.ResponseWriter) {
	if h == nil || w == nil {
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     h.cfg.CookieName,
		Value:    "",
		Path:     h.cfg.CookiePath,
		Domain:   h.cfg.CookieDomain,
		Expires:  time.Unix(0, 0).UTC(),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cfg.CookieSecure,
		SameSite: h.cfg.CookieSameSite,
	})
}

// sessionToken returns the raw cookie value, or "" when absent. Validation is
// left to the resolver so that malformed values resolve like missing ones.
func (h *Handler) sessionToken(r *http.Request) string {
	if h == nil || r == nil {
		return ""
	}
	c, err := r.Cookie(h.cfg.CookieName)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(c.Value)
}
