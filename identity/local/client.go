package local

import (
	"context"
	"errors"
	"sync"

	"github.com/jmcleod/clubhouse/identity"
)

// Client is one browser session's view of the Service. It implements
// identity.Provider. Emissions to listeners are serialized and each listener
// receives its own copy of the principal.
type Client struct {
	svc *Service

	restoreOnce sync.Once
	emitMu      sync.Mutex // held for the whole of one state change and its fan-out

	mu        sync.Mutex
	principal *identity.Principal
	token     string
	uid       string
	listeners map[uint64]identity.Listener
	nextID    uint64
	closed    bool
}

var _ identity.Provider = (*Client)(nil)

// NewClient returns a Client that restores the session behind refreshToken
// on first use. An empty token starts signed out.
func (s *Service) NewClient(refreshToken string) *Client {
	return &Client{
		svc:       s,
		token:     refreshToken,
		listeners: make(map[uint64]identity.Listener),
	}
}

// RefreshToken returns the refresh token of the current session, if any.
func (c *Client) RefreshToken() string {
	c.ensureRestored()
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

func (c *Client) Subscribe(fn identity.Listener) func() {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	if !c.closed {
		c.listeners[id] = fn
	}
	c.mu.Unlock()

	go c.deliverInitial(id)

	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

func (c *Client) deliverInitial(id uint64) {
	c.ensureRestored()
	c.emitMu.Lock()
	defer c.emitMu.Unlock()
	c.mu.Lock()
	fn, ok := c.listeners[id]
	p := c.principal.Clone()
	c.mu.Unlock()
	if ok {
		fn(p)
	}
}

func (c *Client) ensureRestored() {
	c.restoreOnce.Do(func() {
		c.mu.Lock()
		token := c.token
		c.mu.Unlock()
		if token == "" {
			return
		}
		p, err := c.svc.Resume(context.Background(), token)
		c.mu.Lock()
		defer c.mu.Unlock()
		if err != nil {
			c.svc.logger.Debug("session not restored", "error", err)
			c.token = ""
			return
		}
		c.principal = p
		c.uid = p.UID
		c.svc.attach(p.UID, c)
	})
}

func (c *Client) VerifyCredentials(ctx context.Context, email, password string) (*identity.Principal, error) {
	c.ensureRestored()
	p, err := c.svc.SignIn(ctx, email, password)
	if err != nil {
		return nil, err
	}

	c.emitMu.Lock()
	defer c.emitMu.Unlock()
	c.mu.Lock()
	oldUID, oldToken := c.uid, c.token
	c.mu.Unlock()
	if oldToken != "" {
		c.svc.detach(oldUID, c)
		if err := c.svc.Revoke(context.WithoutCancel(ctx), oldToken); err != nil && !errors.Is(err, identity.ErrSessionRevoked) {
			c.svc.logger.Warn("revoking replaced session", "account_id", oldUID, "error", err)
		}
	}
	c.svc.attach(p.UID, c)
	c.publishLocked(p)
	return p.Clone(), nil
}

func (c *Client) EndSession(ctx context.Context) error {
	c.ensureRestored()
	c.emitMu.Lock()
	defer c.emitMu.Unlock()
	c.mu.Lock()
	uid, token := c.uid, c.token
	c.mu.Unlock()
	if token == "" {
		return identity.ErrNoSession
	}

	c.svc.detach(uid, c)
	if err := c.svc.Revoke(ctx, token); err != nil && !errors.Is(err, identity.ErrSessionRevoked) {
		c.svc.attach(uid, c)
		return err
	}
	c.publishLocked(nil)
	return nil
}

func (c *Client) FetchClaims(ctx context.Context, p *identity.Principal, forceRefresh bool) (identity.Claims, error) {
	if p == nil || p.RefreshToken == "" {
		return nil, identity.ErrNoSession
	}
	raw, err := c.svc.IDToken(ctx, p.RefreshToken, forceRefresh)
	if err != nil {
		return nil, err
	}
	return c.svc.VerifyIDToken(ctx, raw)
}

// Close detaches the client from the Service and drops every listener. The
// refresh token stays valid.
func (c *Client) Close() {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()
	c.mu.Lock()
	uid := c.uid
	c.closed = true
	c.listeners = make(map[uint64]identity.Listener)
	c.mu.Unlock()
	if uid != "" {
		c.svc.detach(uid, c)
	}
}

// revoked is called by the Service when token stops being valid.
func (c *Client) revoked(token string) {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()
	c.mu.Lock()
	uid, current := c.uid, c.token
	c.mu.Unlock()
	if current != token {
		return
	}
	c.svc.detach(uid, c)
	c.publishLocked(nil)
}

// refreshed is called by the Service when the account's claims change.
func (c *Client) refreshed(a Account) {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()
	c.mu.Lock()
	uid, token := c.uid, c.token
	c.mu.Unlock()
	if token == "" || uid != a.UID {
		return
	}
	c.publishLocked(principalFor(a, token))
}

// publishLocked replaces the current principal and notifies listeners.
// The caller must hold emitMu.
func (c *Client) publishLocked(p *identity.Principal) {
	c.mu.Lock()
	c.principal = p
	if p == nil {
		c.uid, c.token = "", ""
	} else {
		c.uid, c.token = p.UID, p.RefreshToken
	}
	fns := make([]identity.Listener, 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.mu.Unlock()

	for _, fn := range fns {
		fn(p.Clone())
	}
}
