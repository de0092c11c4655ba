package api

import (
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/jmcleod/clubhouse/internal/uuid"
)

const (
	csrfCookieName = "clubhouse_csrf"
	csrfHeaderName = "X-CSRF-Token"
	csrfFormField  = "csrf_token"
)

// CSRFMiddleware enforces double-submit cookie CSRF protection for
// mutating requests that carry a browser session cookie. Safe methods (GET,
// HEAD, OPTIONS) and cookie-less requests are exempt.
func CSRFMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Safe methods do not need CSRF protection.
		if r.Method == http.MethodGet || r.Method == http.MethodHead || r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		// Without a session cookie there is no ambient authority to abuse.
		if sessionToken(r) == "" {
			next.ServeHTTP(w, r)
			return
		}

		// Validate the CSRF token.
		cookie, err := r.Cookie(csrfCookieName)
		if err != nil || cookie.Value == "" {
			writeError(w, http.StatusForbidden, "missing CSRF token")
			return
		}
		header := r.Header.Get(csrfHeaderName)
		if header == "" {
			header = r.PostFormValue(csrfFormField)
		}
		if subtle.ConstantTimeCompare([]byte(cookie.Value), []byte(header)) != 1 {
			writeError(w, http.StatusForbidden, "invalid CSRF token")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// CSRFToken returns the request's CSRF cookie value for embedding in
// server-rendered forms.
func CSRFToken(r *http.Request) string {
	cookie, err := r.Cookie(csrfCookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}

// writeCSRFCookie sets the CSRF double-submit cookie and returns its value.
// It is not HttpOnly: page scripts and forms echo it back in the
// X-CSRF-Token header or the csrf_token form field.
func writeCSRFCookie(w http.ResponseWriter, r *http.Request) string {
	token := uuid.New()
	secure := requestIsSecure(r)
	http.SetCookie(w, &http.Cookie{
		Name:     csrfCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: false,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
	return token
}

// clearCSRFCookie removes the CSRF cookie on logout.
func clearCSRFCookie(w http.ResponseWriter, r *http.Request) {
	secure := requestIsSecure(r)
	http.SetCookie(w, &http.Cookie{
		Name:     csrfCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: false,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
	})
}
