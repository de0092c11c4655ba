package api

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jmcleod/clubhouse/guard"
	"github.com/jmcleod/clubhouse/identity/local"
	"github.com/jmcleod/clubhouse/internal/uuid"
	"github.com/jmcleod/clubhouse/session"
)

const (
	defaultSessionTTL  = 24 * time.Hour
	defaultIdleTimeout = 30 * time.Minute
	touchInterval      = 30 * time.Second
	sweepInterval      = time.Minute
)

// clientEntry ties one browser session cookie to its identity client and the
// Broadcaster that owns that client's subscription.
type clientEntry struct {
	token  string
	client *local.Client
	bcast  *session.Broadcaster

	mu     sync.Mutex
	record AuthSession
}

func (e *clientEntry) snapshotRecord() AuthSession {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.record
}

// registry keeps one clientEntry per live browser session. Entries are
// rebuilt from the SessionStore on first use after a restart.
type registry struct {
	svc         *local.Service
	store       SessionStore
	bopts       []session.BroadcasterOption
	ttl         time.Duration
	idleTimeout time.Duration
	logger      *slog.Logger
	now         func() time.Time

	mu      sync.Mutex
	entries map[string]*clientEntry

	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

func newRegistry(svc *local.Service, store SessionStore, ttl, idleTimeout time.Duration, logger *slog.Logger, bopts ...session.BroadcasterOption) *registry {
	g := &registry{
		svc:         svc,
		store:       store,
		bopts:       bopts,
		ttl:         ttl,
		idleTimeout: idleTimeout,
		logger:      logger.With("component", "registry"),
		now:         time.Now,
		entries:     make(map[string]*clientEntry),
		stopCh:      make(chan struct{}),
		done:        make(chan struct{}),
	}
	store.OnExpire(g.lapsed)
	go g.sweepLoop()
	return g
}

// source returns the session source behind token, or guard.Anonymous when
// the token names no live session.
func (g *registry) source(token string) guard.Source {
	if e := g.lookup(token); e != nil {
		return e.bcast
	}
	return guard.Anonymous
}

// lookup returns the live entry for token, rebuilding it from the store when
// needed. It returns nil for unknown, expired or idle sessions.
func (g *registry) lookup(token string) *clientEntry {
	if token == "" {
		return nil
	}
	now := g.now()

	g.mu.Lock()
	e, ok := g.entries[token]
	g.mu.Unlock()
	if ok {
		rec := e.snapshotRecord()
		if rec.ExpiresAt.IsZero() {
			return nil // sign-in still in progress
		}
		if rec.expired(now, g.idleTimeout) {
			g.expire(e)
			return nil
		}
		g.touch(e, now)
		return e
	}

	rec, found := g.store.Get(token)
	if !found {
		return nil
	}
	rec.LastAccessedAt = now
	g.store.Put(token, rec)

	g.mu.Lock()
	defer g.mu.Unlock()
	if existing, ok := g.entries[token]; ok {
		return existing
	}
	e = g.openLocked(token, rec)
	g.logger.Debug("session restored", "account_id", rec.UID)
	return e
}

// begin opens an unpersisted entry under a fresh token for a sign-in
// attempt. The caller must commit or discard it.
func (g *registry) begin() *clientEntry {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.openLocked(uuid.New(), AuthSession{})
}

// commit persists e after a successful sign-in.
func (g *registry) commit(e *clientEntry) AuthSession {
	now := g.now()
	st := e.bcast.Snapshot()
	e.mu.Lock()
	e.record = AuthSession{
		UID:            st.Session.UID,
		RefreshToken:   e.client.RefreshToken(),
		ExpiresAt:      now.Add(g.ttl),
		LastAccessedAt: now,
	}
	rec := e.record
	e.mu.Unlock()
	g.store.Put(e.token, rec)
	return rec
}

// discard drops an entry that was never committed.
func (g *registry) discard(e *clientEntry) {
	g.mu.Lock()
	if g.entries[e.token] == e {
		delete(g.entries, e.token)
	}
	g.mu.Unlock()
	closeEntry(e)
}

// remove drops the entry and the stored session for token.
func (g *registry) remove(token string) {
	g.mu.Lock()
	e, ok := g.entries[token]
	delete(g.entries, token)
	g.mu.Unlock()
	g.store.Delete(token)
	if ok {
		closeEntry(e)
	}
}

// expire removes e and revokes its refresh token so the identity session
// ends with the browser session.
func (g *registry) expire(e *clientEntry) {
	rec := e.snapshotRecord()
	g.remove(e.token)
	g.revoke(rec)
	g.logger.Info("session expired", "account_id", rec.UID)
}

// end removes the session behind token, live or stored, and revokes its
// refresh token. Sign-out and a replacing sign-in both end sessions this
// way, so no refresh token outlives its cookie.
func (g *registry) end(token string) {
	if token == "" {
		return
	}
	g.mu.Lock()
	e, ok := g.entries[token]
	g.mu.Unlock()
	var rec AuthSession
	if ok {
		rec = e.snapshotRecord()
	} else if stored, found := g.store.Get(token); found {
		rec = stored
	}
	g.remove(token)
	g.revoke(rec)
}

// lapsed ends the identity session of a stored session the store dropped
// as expired before it was loaded again.
func (g *registry) lapsed(rec AuthSession) {
	g.revoke(rec)
	g.logger.Info("stored session expired", "account_id", rec.UID)
}

func (g *registry) revoke(rec AuthSession) {
	if rec.RefreshToken == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := g.svc.Revoke(ctx, rec.RefreshToken); err != nil {
		g.logger.Debug("revoking session", "account_id", rec.UID, "error", err)
	}
}

// count reports the number of live entries.
func (g *registry) count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.entries)
}

// Close stops the sweeper and closes every entry. Stored sessions are kept.
func (g *registry) Close() {
	g.stopOnce.Do(func() {
		close(g.stopCh)
		<-g.done
		g.mu.Lock()
		entries := g.entries
		g.entries = make(map[string]*clientEntry)
		g.mu.Unlock()
		for _, e := range entries {
			closeEntry(e)
		}
	})
}

func (g *registry) openLocked(token string, rec AuthSession) *clientEntry {
	client := g.svc.NewClient(rec.RefreshToken)
	e := &clientEntry{
		token:  token,
		client: client,
		bcast:  session.NewBroadcaster(client, g.bopts...),
		record: rec,
	}
	e.bcast.Start()
	g.entries[token] = e
	return e
}

func (g *registry) touch(e *clientEntry, now time.Time) {
	e.mu.Lock()
	if e.record.ExpiresAt.IsZero() || now.Sub(e.record.LastAccessedAt) < touchInterval {
		e.mu.Unlock()
		return
	}
	e.record.LastAccessedAt = now
	rec := e.record
	e.mu.Unlock()
	g.store.Put(e.token, rec)
}

func (g *registry) sweepLoop() {
	defer close(g.done)
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-g.stopCh:
			return
		case <-ticker.C:
			g.sweep()
		}
	}
}

// sweep expires idle and timed-out entries. Committed entries only; an
// uncommitted sign-in attempt is owned by its request.
func (g *registry) sweep() {
	now := g.now()
	g.mu.Lock()
	var stale []*clientEntry
	for _, e := range g.entries {
		rec := e.snapshotRecord()
		if !rec.ExpiresAt.IsZero() && rec.expired(now, g.idleTimeout) {
			stale = append(stale, e)
		}
	}
	g.mu.Unlock()
	for _, e := range stale {
		g.expire(e)
	}
	// Stored sessions not loaded since the last restart; Get drops the
	// expired ones and reports them to lapsed.
	for _, token := range g.store.Tokens() {
		g.store.Get(token)
	}
}

func closeEntry(e *clientEntry) {
	e.bcast.Close()
	e.client.Close()
}
