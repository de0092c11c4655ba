package api

import (
	"sync"
	"time"
)

// SessionStore abstracts browser-session persistence so that sessions can be
// kept in memory (default) or in the repository across restarts.
type SessionStore interface {
	// Get retrieves a session by cookie token. Returns false if the session
	// does not exist, has expired, or has exceeded the idle timeout. An
	// expired session is removed and passed to the expiry hook.
	Get(token string) (AuthSession, bool)
	// Put creates or updates the session for the given token.
	Put(token string, session AuthSession)
	// Delete removes a session by token.
	Delete(token string)
	// Tokens lists the tokens of every stored session.
	Tokens() []string
	// OnExpire sets the hook that receives every session the store drops
	// for having expired. It runs outside the store's locks.
	OnExpire(fn func(AuthSession))
}

// AuthSession is the server-side record of one browser session. The refresh
// token lets a restarted server rebuild the identity client behind the
// cookie.
type AuthSession struct {
	UID            string    `json:"uid"`
	RefreshToken   string    `json:"refresh_token"`
	ExpiresAt      time.Time `json:"expires_at"`
	LastAccessedAt time.Time `json:"last_accessed_at"`
}

func (s AuthSession) expired(now time.Time, idleTimeout time.Duration) bool {
	if now.After(s.ExpiresAt) {
		return true
	}
	return idleTimeout > 0 && now.Sub(s.LastAccessedAt) > idleTimeout
}

// expiryHook holds the OnExpire callback of a store.
type expiryHook struct {
	mu sync.RWMutex
	fn func(AuthSession)
}

func (h *expiryHook) OnExpire(fn func(AuthSession)) {
	h.mu.Lock()
	h.fn = fn
	h.mu.Unlock()
}

func (h *expiryHook) report(s AuthSession) {
	h.mu.RLock()
	fn := h.fn
	h.mu.RUnlock()
	if fn != nil {
		fn(s)
	}
}
