// Package guard decides whether a requested view may render for the current
// session state, and which fallback to show when it may not.
//
// One navigation attempt starts in Verifying, holds there for a minimum
// display delay and until the session state is ready, then passes through
// Deciding to exactly one of Redirecting, Denied or Allowed.
package guard

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/jmcleod/clubhouse/session"
)

const (
	// DefaultMinVerify is the minimum time a navigation attempt stays in
	// Verifying.
	DefaultMinVerify = 150 * time.Millisecond
	// LoginPath is the sign-in view unauthenticated visitors are sent to.
	LoginPath = "/login"
	// HomePath is the public home view.
	HomePath = "/"
	// NextParam carries the originally requested location to the sign-in view.
	NextParam = "next"
)

// ErrSourceClosed is returned when the session source stops publishing
// before a decision is reached.
var ErrSourceClosed = errors.New("session source closed")

// Phase is a guard state.
type Phase int

const (
	PhaseVerifying Phase = iota
	PhaseDeciding
	PhaseRedirecting
	PhaseDenied
	PhaseAllowed
)

func (p Phase) String() string {
	switch p {
	case PhaseVerifying:
		return "verifying"
	case PhaseDeciding:
		return "deciding"
	case PhaseRedirecting:
		return "redirecting"
	case PhaseDenied:
		return "denied"
	case PhaseAllowed:
		return "allowed"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Phase) UnmarshalText(text []byte) error {
	for v := PhaseVerifying; v <= PhaseAllowed; v++ {
		if v.String() == string(text) {
			*p = v
			return nil
		}
	}
	return fmt.Errorf("unknown guard phase %q", text)
}

// Action is a user-selectable way out of the access-denied view.
type Action struct {
	Name  string `json:"name"`
	Label string `json:"label"`
	// Href is the navigation target. It is empty for History actions.
	Href string `json:"href,omitempty"`
	// History marks an action that pops the browser history.
	History bool `json:"history,omitempty"`
}

var (
	ActionBack = Action{Name: "back", Label: "Go back", History: true}
	ActionHome = Action{Name: "home", Label: "Return home", Href: HomePath}
)

// Outcome is the result of one guard evaluation.
type Outcome struct {
	Phase    Phase         `json:"phase"`
	Location string        `json:"location"`
	Redirect string        `json:"redirect,omitempty"`
	Actions  []Action      `json:"actions,omitempty"`
	State    session.State `json:"-"`
}

// Source publishes session state. *session.Broadcaster implements it.
type Source interface {
	Snapshot() session.State
	Watch() (states <-chan session.State, stop func())
}

// Decide is the Deciding step: unauthenticated sessions are redirected,
// non-administrators are denied admin-only views, everything else is
// allowed. st must be ready.
func Decide(st session.State, adminOnly bool) Phase {
	switch {
	case !st.Authenticated:
		return PhaseRedirecting
	case adminOnly && !st.Administrator:
		return PhaseDenied
	default:
		return PhaseAllowed
	}
}

// LoginURL returns the sign-in location that returns to next afterwards.
func LoginURL(loginPath, next string) string {
	return loginPath + "?" + NextParam + "=" + url.QueryEscape(next)
}

// SafeNext returns next when it is a site-relative path, and HomePath
// otherwise. Scheme-relative ("//host") and backslash forms are rejected.
func SafeNext(next string) string {
	if !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.HasPrefix(next, "/\\") {
		return HomePath
	}
	return next
}

// Option configures a Guard.
type Option func(*Guard)

// WithMinVerify sets the minimum Verifying duration. Zero disables it.
func WithMinVerify(d time.Duration) Option {
	return func(g *Guard) {
		if d >= 0 {
			g.minVerify = d
		}
	}
}

// WithLoginPath sets the sign-in path used for redirects.
func WithLoginPath(p string) Option {
	return func(g *Guard) {
		if p != "" {
			g.loginPath = p
		}
	}
}

// Guard gates one view.
type Guard struct {
	src       Source
	adminOnly bool
	minVerify time.Duration
	loginPath string
}

// New creates a Guard for a view that requires an authenticated session and,
// when adminOnly is set, administrator capability.
func New(src Source, adminOnly bool, opts ...Option) *Guard {
	g := &Guard{
		src:       src,
		adminOnly: adminOnly,
		minVerify: DefaultMinVerify,
		loginPath: LoginPath,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Resolve runs the Deciding step on st and builds the outcome for location.
func (g *Guard) Resolve(st session.State, location string) Outcome {
	o := Outcome{Phase: Decide(st, g.adminOnly), Location: location, State: st}
	switch o.Phase {
	case PhaseRedirecting:
		o.Redirect = LoginURL(g.loginPath, location)
	case PhaseDenied:
		o.Actions = []Action{ActionBack, ActionHome}
	}
	return o
}

// Check runs one navigation attempt to location and returns its terminal
// outcome. If ctx ends first the attempt is abandoned in Verifying.
func (g *Guard) Check(ctx context.Context, location string) (Outcome, error) {
	states, stop := g.src.Watch()
	defer stop()

	var delay <-chan time.Time
	if g.minVerify > 0 {
		t := time.NewTimer(g.minVerify)
		defer t.Stop()
		delay = t.C
	}

	st := g.src.Snapshot()
	for delay != nil || !st.Ready() {
		select {
		case <-delay:
			delay = nil
		case s, ok := <-states:
			if !ok {
				return Outcome{Phase: PhaseVerifying, Location: location, State: st}, ErrSourceClosed
			}
			st = s
		case <-ctx.Done():
			return Outcome{Phase: PhaseVerifying, Location: location, State: st}, ctx.Err()
		}
	}
	return g.Resolve(st, location), nil
}

// Watch streams the outcomes of a navigation attempt to location. It emits
// Verifying first, then the decided outcome. Redirecting and Denied end the
// stream. While Allowed, any change to the session or its authorization
// re-enters Deciding (passing through Verifying while the new state is not
// ready). The channel is closed when the stream ends or ctx is done.
func (g *Guard) Watch(ctx context.Context, location string) <-chan Outcome {
	out := make(chan Outcome)
	go g.watch(ctx, location, out)
	return out
}

func (g *Guard) watch(ctx context.Context, location string, out chan<- Outcome) {
	defer close(out)
	states, stop := g.src.Watch()
	defer stop()

	emit := func(o Outcome) bool {
		select {
		case out <- o:
			return true
		case <-ctx.Done():
			return false
		}
	}

	var delay <-chan time.Time
	if g.minVerify > 0 {
		t := time.NewTimer(g.minVerify)
		defer t.Stop()
		delay = t.C
	}

	st := g.src.Snapshot()
	phase := PhaseVerifying
	var decided session.State
	if !emit(Outcome{Phase: PhaseVerifying, Location: location, State: st}) {
		return
	}

	for {
		switch {
		case phase == PhaseVerifying && delay == nil && st.Ready():
			o := g.Resolve(st, location)
			if !emit(o) || o.Phase != PhaseAllowed {
				return
			}
			phase, decided = PhaseAllowed, st
		case phase == PhaseAllowed && changed(decided, st):
			if st.Ready() {
				o := g.Resolve(st, location)
				if !emit(o) || o.Phase != PhaseAllowed {
					return
				}
				decided = st
			} else {
				phase = PhaseVerifying
				if !emit(Outcome{Phase: PhaseVerifying, Location: location, State: st}) {
					return
				}
			}
		}

		select {
		case <-delay:
			delay = nil
		case s, ok := <-states:
			if !ok {
				return
			}
			st = s
		case <-ctx.Done():
			return
		}
	}
}

// changed reports whether b differs from a in anything Deciding looks at.
func changed(a, b session.State) bool {
	return !a.Session.Equal(b.Session) ||
		a.Authenticated != b.Authenticated ||
		a.Administrator != b.Administrator ||
		a.AuthorizationPending != b.AuthorizationPending
}
