package guard

import (
	"context"
	"net/http"
	"time"

	"github.com/jmcleod/clubhouse/session"
)

const defaultCheckTimeout = 10 * time.Second

type contextKey string

const stateContextKey contextKey = "guard:state"

// StateFromContext returns the session state an allowed request was
// decided on.
func StateFromContext(ctx context.Context) (session.State, bool) {
	st, ok := ctx.Value(stateContextKey).(session.State)
	return st, ok
}

// Config configures Require.
type Config struct {
	// Source resolves the session source of a request. Required.
	Source func(r *http.Request) Source

	// MinVerify is the minimum Verifying duration per request.
	MinVerify time.Duration

	// Timeout bounds how long a request waits for a ready state.
	// Defaults to 10s.
	Timeout time.Duration

	// LoginPath overrides the sign-in path used for redirects.
	LoginPath string

	// OnRedirect handles unauthenticated requests. If nil, responds with
	// 303 See Other to the sign-in view.
	OnRedirect func(w http.ResponseWriter, r *http.Request, o Outcome)

	// OnDenied handles requests lacking administrator capability. If nil,
	// responds with 403 Forbidden.
	OnDenied func(w http.ResponseWriter, r *http.Request, o Outcome)

	// OnUnavailable handles requests whose state never became ready. If
	// nil, responds with 503 Service Unavailable.
	OnUnavailable func(w http.ResponseWriter, r *http.Request, err error)
}

// Require returns middleware that runs one navigation attempt per request
// and only calls next when the outcome is Allowed.
//
//	r.With(guard.Require(true, cfg)).Get("/admin", adminDashboard)
func Require(adminOnly bool, cfg Config) func(http.Handler) http.Handler {
	if cfg.Source == nil {
		panic("guard: Config.Source cannot be nil")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultCheckTimeout
	}
	if cfg.OnRedirect == nil {
		cfg.OnRedirect = func(w http.ResponseWriter, r *http.Request, o Outcome) {
			http.Redirect(w, r, o.Redirect, http.StatusSeeOther)
		}
	}
	if cfg.OnDenied == nil {
		cfg.OnDenied = func(w http.ResponseWriter, r *http.Request, o Outcome) {
			http.Error(w, "access denied", http.StatusForbidden)
		}
	}
	if cfg.OnUnavailable == nil {
		cfg.OnUnavailable = func(w http.ResponseWriter, r *http.Request, err error) {
			http.Error(w, "session verification unavailable", http.StatusServiceUnavailable)
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			g := New(cfg.Source(r), adminOnly, WithMinVerify(cfg.MinVerify), WithLoginPath(cfg.LoginPath))

			ctx, cancel := context.WithTimeout(r.Context(), cfg.Timeout)
			o, err := g.Check(ctx, r.URL.RequestURI())
			cancel()
			if err != nil {
				cfg.OnUnavailable(w, r, err)
				return
			}

			switch o.Phase {
			case PhaseRedirecting:
				cfg.OnRedirect(w, r, o)
			case PhaseDenied:
				cfg.OnDenied(w, r, o)
			case PhaseAllowed:
				next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), stateContextKey, o.State)))
			default:
				cfg.OnUnavailable(w, r, ErrSourceClosed)
			}
		})
	}
}
