package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/jmcleod/clubhouse/guard"
	"github.com/jmcleod/clubhouse/identity"
	"github.com/jmcleod/clubhouse/internal/util"
	"github.com/jmcleod/clubhouse/session"
)

const (
	readyTimeout    = 5 * time.Second
	streamHeartbeat = 25 * time.Second
)

// authFailure is a rejected sign-in or sign-out attempt.
type authFailure struct {
	status     int
	message    string
	retryAfter time.Duration
}

func (f *authFailure) write(w http.ResponseWriter) {
	if f.retryAfter > 0 {
		writeRateLimited(w, f.retryAfter, f.message)
		return
	}
	writeError(w, f.status, f.message)
}

// Login handles POST /auth/login.
func (a *API) Login(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJSON[LoginRequest](w, r, maxAuthBodySize)
	if !ok {
		return
	}
	st, msg, fail := a.signIn(w, r, req.Email, req.Password)
	if fail != nil {
		fail.write(w)
		return
	}
	writeJSON(w, http.StatusOK, LoginResponse{Message: msg, State: st})
}

// LoginForm handles a form-encoded sign-in from the server-rendered site.
// It redirects to the next field on success and back to the sign-in page
// with an error otherwise.
func (a *API) LoginForm(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxAuthBodySize)
	if err := r.ParseForm(); err != nil {
		http.Redirect(w, r, loginErrorURL(guard.HomePath, "The sign-in form could not be read."), http.StatusSeeOther)
		return
	}
	next := guard.SafeNext(r.PostFormValue(guard.NextParam))
	_, _, fail := a.signIn(w, r, r.PostFormValue("email"), r.PostFormValue("password"))
	if fail != nil {
		if fail.retryAfter > 0 {
			w.Header().Set("Retry-After", retryAfterString(fail.retryAfter))
		}
		http.Redirect(w, r, loginErrorURL(next, fail.message), http.StatusSeeOther)
		return
	}
	http.Redirect(w, r, next, http.StatusSeeOther)
}

func loginErrorURL(next, msg string) string {
	return guard.LoginURL(guard.LoginPath, next) + "&error=" + url.QueryEscape(msg)
}

// signIn runs one rate-limited sign-in attempt and, on success, replaces
// the request's browser session with a new one.
func (a *API) signIn(w http.ResponseWriter, r *http.Request, rawEmail, password string) (session.State, string, *authFailure) {
	email := util.NormalizeEmail(rawEmail)
	if email == "" || password == "" {
		return session.State{}, "", &authFailure{status: http.StatusBadRequest, message: "email and password are required"}
	}
	clientIP := a.extractClientIP(r)

	// Check rate limits before any expensive work: global → IP → per-email.
	limited := func(retryAfter time.Duration) *authFailure {
		return &authFailure{status: http.StatusTooManyRequests, message: "too many sign-in attempts", retryAfter: retryAfter}
	}
	if blocked, retryAfter := a.globalLimiter.check(); blocked {
		a.audit.logFailure(AuditLoginRateLimited, r, "global rate limited")
		return session.State{}, "", limited(retryAfter)
	}
	if blocked, retryAfter := a.ipLimiter.check(clientIP); blocked {
		a.audit.logFailure(AuditLoginRateLimited, r, "ip rate limited",
			slog.String("client_ip", clientIP))
		return session.State{}, "", limited(retryAfter)
	}
	if blocked, retryAfter := a.rateLimiter.check(email); blocked {
		a.audit.logFailure(AuditLoginRateLimited, r, "rate limited")
		return session.State{}, "", limited(retryAfter)
	}

	e := a.clients.begin()
	res := e.bcast.SignIn(r.Context(), email, password)
	if !res.Success {
		a.clients.discard(e)
		if errors.Is(res.Err, identity.ErrInvalidCredentials) || errors.Is(res.Err, identity.ErrAccountDisabled) {
			a.globalLimiter.recordFailure()
			a.ipLimiter.recordFailure(clientIP)
			a.rateLimiter.recordFailure(email)
		}
		a.audit.logFailure(AuditLoginFailure, r, failureReason(res.Err))
		return session.State{}, "", &authFailure{status: resultStatus(res.Err), message: res.Message}
	}

	st := awaitReady(r.Context(), e.bcast)
	rec := a.clients.commit(e)
	a.clients.end(sessionToken(r))

	a.rateLimiter.recordSuccess(email)
	a.ipLimiter.recordSuccess(clientIP)

	writeSessionCookie(w, r, e.token, rec.ExpiresAt)
	writeCSRFCookie(w, r)
	a.audit.logEvent(AuditLoginSuccess, r, rec.UID)
	return st, res.Message, nil
}

// Logout handles POST /auth/logout. Signing out without a live session
// succeeds.
func (a *API) Logout(w http.ResponseWriter, r *http.Request) {
	if fail := a.signOut(w, r); fail != nil {
		fail.write(w)
		return
	}
	writeJSON(w, http.StatusOK, LogoutResponse{Message: "Signed out."})
}

// LogoutForm handles a sign-out form post and redirects home.
func (a *API) LogoutForm(w http.ResponseWriter, r *http.Request) {
	if fail := a.signOut(w, r); fail != nil {
		fail.write(w)
		return
	}
	http.Redirect(w, r, guard.HomePath, http.StatusSeeOther)
}

func (a *API) signOut(w http.ResponseWriter, r *http.Request) *authFailure {
	token := sessionToken(r)
	var uid string
	if e := a.clients.lookup(token); e != nil {
		uid = e.bcast.Snapshot().Session.UID
		res := e.bcast.SignOut(r.Context())
		if !res.Success {
			a.logger.Warn("sign-out failed", "account_id", uid, "error", res.Err)
			return &authFailure{status: resultStatus(res.Err), message: res.Message}
		}
	}
	a.clients.end(token)
	clearSessionCookie(w, r)
	clearCSRFCookie(w, r)
	a.audit.logEvent(AuditLogout, r, uid)
	return nil
}

// Session handles GET /auth/session. It waits briefly for the state to
// settle and otherwise reports the state as it stands.
func (a *API) Session(w http.ResponseWriter, r *http.Request) {
	st := awaitReady(r.Context(), a.SessionSource(r))
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, SessionResponse{State: st})
}

// Guard handles GET /auth/guard?path=...&admin=true. It runs one guard
// navigation attempt for path against the caller's session.
func (a *API) Guard(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	location := q.Get("path")
	if location == "" {
		location = guard.HomePath
	}
	if guard.SafeNext(location) != location {
		writeError(w, http.StatusBadRequest, "path must be a site-relative path")
		return
	}
	adminOnly := false
	if v := q.Get("admin"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "admin must be a boolean")
			return
		}
		adminOnly = b
	}

	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()
	g := guard.New(a.SessionSource(r), adminOnly, guard.WithMinVerify(a.guardMinVerify))
	o, err := g.Check(ctx, location)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "session verification unavailable")
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, GuardResponse{Outcome: o})
}

// Stream handles GET /auth/stream: a server-sent event stream of the
// session state ("state" events) and verification notices ("notice"
// events). The stream ends when the client disconnects or the session is
// closed.
func (a *API) Stream(w http.ResponseWriter, r *http.Request) {
	src := a.SessionSource(r)
	var notices <-chan session.Notice
	if b, ok := src.(*session.Broadcaster); ok {
		notices = b.Notices()
	}
	states, stop := src.Watch()
	defer stop()

	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	heartbeat := time.NewTicker(streamHeartbeat)
	defer heartbeat.Stop()
	for {
		var err error
		select {
		case <-r.Context().Done():
			return
		case st, ok := <-states:
			if !ok {
				return
			}
			err = writeEvent(w, "state", st)
		case n := <-notices:
			err = writeEvent(w, "notice", n)
		case <-heartbeat.C:
			_, err = fmt.Fprint(w, ": keepalive\n\n")
		}
		if err == nil {
			err = rc.Flush()
		}
		if err != nil {
			return
		}
	}
}

func writeEvent(w http.ResponseWriter, name string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data)
	return err
}

// awaitReady returns the first ready state of src, or its current state
// once readyTimeout passes.
func awaitReady(ctx context.Context, src guard.Source) session.State {
	ctx, cancel := context.WithTimeout(ctx, readyTimeout)
	defer cancel()
	states, stop := src.Watch()
	defer stop()
	for {
		select {
		case st, ok := <-states:
			if !ok {
				return src.Snapshot()
			}
			if st.Ready() {
				return st
			}
		case <-ctx.Done():
			return src.Snapshot()
		}
	}
}

func resultStatus(err error) int {
	switch {
	case errors.Is(err, identity.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, identity.ErrAccountDisabled):
		return http.StatusForbidden
	case errors.Is(err, identity.ErrUnavailable),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, session.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, identity.ErrInvalidCredentials):
		return "invalid credentials"
	case errors.Is(err, identity.ErrAccountDisabled):
		return "account disabled"
	case errors.Is(err, identity.ErrUnavailable):
		return "identity provider unavailable"
	default:
		return "unexpected error"
	}
}
