package session

import (
	"net/http"
	"strings"
	"time"
)

// ParseSameSite mapea "lax" | "strict" | "none"; cualquier otro valor es Lax.
func ParseSameSite(s string) http.SameSite {
	switch strings.TrimSpace(strings.ToLower(s)) {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteLaxMode
	}
}

func (m *Manager) cookie(value string, expires time.Time) *http.Cookie {
	ck := &http.Cookie{
		Name:     m.opts.CookieName,
		Value:    value,
		Path:     m.opts.Path,
		HttpOnly: true,
		Secure:   m.opts.Secure,
		SameSite: ParseSameSite(m.opts.SameSite),
	}
	if strings.TrimSpace(m.opts.Domain) != "" {
		ck.Domain = m.opts.Domain
	}
	if !expires.IsZero() {
		ck.Expires = expires.UTC()
		ck.MaxAge = int(expires.Sub(m.opts.Now()).Seconds())
		if ck.MaxAge <= 0 {
			ck.MaxAge = -1
		}
	}
	return ck
}
