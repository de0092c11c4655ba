package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/jmcleod/clubhouse/guard"
)

const sessionCookieName = "clubhouse_session"

// sessionToken returns the browser session cookie value, if any.
func sessionToken(r *http.Request) string {
	cookie, err := r.Cookie(sessionCookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}

// entryFor returns the live client entry of the request's browser session.
func (a *API) entryFor(r *http.Request) *clientEntry {
	return a.clients.lookup(sessionToken(r))
}

// SessionSource resolves the session source of a request for the route
// guard. Requests without a live browser session get guard.Anonymous.
func (a *API) SessionSource(r *http.Request) guard.Source {
	return a.clients.source(sessionToken(r))
}

// RequireAdmin guards API routes for administrators. Unauthenticated
// requests get 401 and non-administrators 403, both as JSON. The minimum
// Verifying delay is a display concern and does not apply here.
func (a *API) RequireAdmin(next http.Handler) http.Handler {
	return guard.Require(true, guard.Config{
		Source: a.SessionSource,
		OnRedirect: func(w http.ResponseWriter, r *http.Request, o guard.Outcome) {
			a.audit.logFailure(AuditAccessDenied, r, "not signed in", pathAttr(r))
			writeError(w, http.StatusUnauthorized, "authentication required")
		},
		OnDenied: func(w http.ResponseWriter, r *http.Request, o guard.Outcome) {
			a.audit.logEvent(AuditAccessDenied, r, o.State.Session.UID, pathAttr(r))
			writeError(w, http.StatusForbidden, "administrator access required")
		},
		OnUnavailable: func(w http.ResponseWriter, r *http.Request, err error) {
			writeError(w, http.StatusServiceUnavailable, "session verification unavailable")
		},
	})(next)
}

func writeSessionCookie(w http.ResponseWriter, r *http.Request, token string, expiresAt time.Time) {
	secure := requestIsSecure(r)
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
		Expires:  expiresAt,
	})
}

func clearSessionCookie(w http.ResponseWriter, r *http.Request) {
	secure := requestIsSecure(r)
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
	})
}

func requestIsSecure(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	if strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https") {
		return true
	}
	return strings.Contains(strings.ToLower(r.Header.Get("Forwarded")), "proto=https")
}
