// Package fake provides a scriptable identity.Provider for tests.
//
// Claims, errors and blocking behaviour are programmable, calls are counted,
// and Emit pushes arbitrary principals to subscribers.
package fake

import (
	"context"
	"maps"
	"sync"

	"github.com/jmcleod/clubhouse/identity"
)

// Option configures the fake provider.
type Option func(*Provider)

type account struct {
	password  string
	principal identity.Principal
}

// WithAccount registers credentials that VerifyCredentials accepts.
func WithAccount(email, password string, p identity.Principal) Option {
	return func(f *Provider) {
		f.accounts[email] = account{password: password, principal: p}
	}
}

// WithInitial sets the principal delivered as the first event.
func WithInitial(p *identity.Principal) Option {
	return func(f *Provider) { f.current = p.Clone() }
}

// WithClaims sets the claims returned for uid.
func WithClaims(uid string, c identity.Claims) Option {
	return func(f *Provider) { f.claims[uid] = maps.Clone(c) }
}

// WithClaimsError makes every FetchClaims call fail with err.
func WithClaimsError(err error) Option {
	return func(f *Provider) { f.claimsErr = err }
}

// Calls counts invocations per provider operation.
type Calls struct {
	Subscribe  int
	Verify     int
	EndSession int
	Fetch      int
}

// Provider is an in-memory identity.Provider.
type Provider struct {
	emitMu sync.Mutex

	mu          sync.Mutex
	accounts    map[string]account
	claims      map[string]identity.Claims
	claimsErr   error
	verifyErr   error
	endErr      error
	panicVerify bool
	gate        chan struct{}
	current     *identity.Principal
	listeners   map[int]identity.Listener
	nextID      int
	calls       Calls
}

var _ identity.Provider = (*Provider)(nil)

// New creates a fake provider.
func New(opts ...Option) *Provider {
	f := &Provider{
		accounts:  make(map[string]account),
		claims:    make(map[string]identity.Claims),
		listeners: make(map[int]identity.Listener),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// SetClaims replaces the claims returned for uid.
func (f *Provider) SetClaims(uid string, c identity.Claims) {
	f.mu.Lock()
	f.claims[uid] = maps.Clone(c)
	f.mu.Unlock()
}

// SetClaimsError makes FetchClaims fail with err; nil restores success.
func (f *Provider) SetClaimsError(err error) {
	f.mu.Lock()
	f.claimsErr = err
	f.mu.Unlock()
}

// SetVerifyError makes VerifyCredentials fail with err; nil restores normal checks.
func (f *Provider) SetVerifyError(err error) {
	f.mu.Lock()
	f.verifyErr = err
	f.mu.Unlock()
}

// SetEndSessionError makes EndSession fail with err.
func (f *Provider) SetEndSessionError(err error) {
	f.mu.Lock()
	f.endErr = err
	f.mu.Unlock()
}

// PanicOnVerify makes VerifyCredentials panic.
func (f *Provider) PanicOnVerify(on bool) {
	f.mu.Lock()
	f.panicVerify = on
	f.mu.Unlock()
}

// BlockClaims makes FetchClaims wait until the returned release function is
// called or the request context ends.
func (f *Provider) BlockClaims() (release func()) {
	gate := make(chan struct{})
	f.mu.Lock()
	f.gate = gate
	f.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			if f.gate == gate {
				f.gate = nil
			}
			f.mu.Unlock()
			close(gate)
		})
	}
}

// Calls returns the invocation counts so far.
func (f *Provider) Calls() Calls {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// Subscribers returns the number of active subscriptions.
func (f *Provider) Subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.listeners)
}

// Emit synchronously pushes p to every subscriber and makes it current.
func (f *Provider) Emit(p *identity.Principal) {
	f.emitMu.Lock()
	defer f.emitMu.Unlock()
	f.mu.Lock()
	f.current = p.Clone()
	fns := make([]identity.Listener, 0, len(f.listeners))
	for _, fn := range f.listeners {
		fns = append(fns, fn)
	}
	f.mu.Unlock()
	for _, fn := range fns {
		fn(p.Clone())
	}
}

func (f *Provider) Subscribe(fn identity.Listener) func() {
	f.mu.Lock()
	f.calls.Subscribe++
	id := f.nextID
	f.nextID++
	f.listeners[id] = fn
	f.mu.Unlock()

	go func() {
		f.emitMu.Lock()
		defer f.emitMu.Unlock()
		f.mu.Lock()
		l, ok := f.listeners[id]
		p := f.current.Clone()
		f.mu.Unlock()
		if ok {
			l(p)
		}
	}()

	return func() {
		f.mu.Lock()
		delete(f.listeners, id)
		f.mu.Unlock()
	}
}

func (f *Provider) VerifyCredentials(ctx context.Context, email, password string) (*identity.Principal, error) {
	f.mu.Lock()
	f.calls.Verify++
	verifyErr, panicVerify := f.verifyErr, f.panicVerify
	acct, ok := f.accounts[email]
	f.mu.Unlock()

	if panicVerify {
		panic("fake: VerifyCredentials")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if verifyErr != nil {
		return nil, verifyErr
	}
	if !ok || acct.password != password {
		return nil, identity.ErrInvalidCredentials
	}
	p := acct.principal
	f.Emit(&p)
	return p.Clone(), nil
}

func (f *Provider) EndSession(ctx context.Context) error {
	f.mu.Lock()
	f.calls.EndSession++
	endErr := f.endErr
	f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	if endErr != nil {
		return endErr
	}
	f.Emit(nil)
	return nil
}

func (f *Provider) FetchClaims(ctx context.Context, p *identity.Principal, forceRefresh bool) (identity.Claims, error) {
	f.mu.Lock()
	f.calls.Fetch++
	gate := f.gate
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if p == nil {
		return nil, identity.ErrNoSession
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.claimsErr != nil {
		return nil, f.claimsErr
	}
	return maps.Clone(f.claims[p.UID]), nil
}
