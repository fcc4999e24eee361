package auth

import (
	"net/http"
	"strings"
)

// SessionCookieName is the cookie the hosted identity provider sets for same-site sessions.
const SessionCookieName = "__session"

// ExtractJWTToken reads the bearer token from the Authorization header, falling back to the session cookie.
// EventSource connections cannot set headers, so the cookie path is what the activation stream relies on.
func ExtractJWTToken(r *http.Request) (string, bool) {
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		const prefix = "Bearer "
		// Case-insensitive prefix match.
		if len(authHeader) < len(prefix) || !strings.EqualFold(authHeader[:len(prefix)], prefix) {
			return "", false
		}
		return strings.TrimSpace(authHeader[len(prefix):]), true
	}

	if c, err := r.Cookie(SessionCookieName); err == nil && c.Value != "" {
		return c.Value, true
	}
	return "", false
}
