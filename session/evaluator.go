package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmcleod/clubhouse/identity"
)

const defaultFetchTimeout = 10 * time.Second

// ClaimsFetcher is the part of identity.Provider the Evaluator needs.
type ClaimsFetcher interface {
	FetchClaims(ctx context.Context, p *identity.Principal, forceRefresh bool) (identity.Claims, error)
}

// Notice reports a non-fatal verification problem to the user interface.
type Notice struct {
	UID     string    `json:"uid"`
	Message string    `json:"message"`
	Err     error     `json:"-"`
	At      time.Time `json:"at"`
}

// EvaluatorOption configures an Evaluator.
type EvaluatorOption func(*Evaluator)

// WithForceRefresh controls whether claims are fetched from a freshly minted
// token. It defaults to true.
func WithForceRefresh(force bool) EvaluatorOption {
	return func(e *Evaluator) { e.forceRefresh = force }
}

// WithFetchTimeout bounds a single claim fetch.
func WithFetchTimeout(d time.Duration) EvaluatorOption {
	return func(e *Evaluator) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithNotify sets the function receiving verification notices. It must not
// block.
func WithNotify(fn func(Notice)) EvaluatorOption {
	return func(e *Evaluator) { e.notify = fn }
}

// WithEvaluatorLogger sets the logger for failed fetches.
func WithEvaluatorLogger(l *slog.Logger) EvaluatorOption {
	return func(e *Evaluator) { e.logger = l }
}

// Evaluator derives the administrator flag of a Session from provider claims.
type Evaluator struct {
	fetcher      ClaimsFetcher
	forceRefresh bool
	timeout      time.Duration
	notify       func(Notice)
	logger       *slog.Logger
}

// NewEvaluator creates an Evaluator over f.
func NewEvaluator(f ClaimsFetcher, opts ...EvaluatorOption) *Evaluator {
	e := &Evaluator{
		fetcher:      f,
		forceRefresh: true,
		timeout:      defaultFetchTimeout,
		notify:       func(Notice) {},
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate reports whether s is an administrator. The unauthenticated
// session is never one and costs no fetch. Any fetch failure yields false.
func (e *Evaluator) Evaluate(ctx context.Context, s Session) bool {
	if !s.Authenticated() {
		return false
	}
	fctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	claims, err := e.fetch(fctx, s)
	if err != nil {
		if ctx.Err() != nil {
			// The caller is gone; nobody is left to notify.
			return false
		}
		e.logger.Warn("authorization check failed", "account_id", s.UID, "error", err)
		e.notify(Notice{
			UID:     s.UID,
			Message: "We couldn't verify your permissions. Admin features are unavailable for now.",
			Err:     err,
			At:      time.Now(),
		})
		return false
	}
	return ClaimsToBool(claims)
}

func (e *Evaluator) fetch(ctx context.Context, s Session) (claims identity.Claims, err error) {
	defer func() {
		if r := recover(); r != nil {
			claims, err = nil, fmt.Errorf("%w: claim fetch panicked: %v", ErrUnexpected, r)
		}
	}()
	return e.fetcher.FetchClaims(ctx, s.Principal(), e.forceRefresh)
}
