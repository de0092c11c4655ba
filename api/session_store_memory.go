package api

import (
	"slices"
	"sync"
	"time"
)

// MemorySessionStore keeps sessions in a map. Sessions are lost on server
// restart; expired ones are dropped when read and reported to the expiry
// hook.
type MemorySessionStore struct {
	expiryHook

	mu          sync.RWMutex
	data        map[string]AuthSession
	idleTimeout time.Duration
	now         func() time.Time
}

var _ SessionStore = (*MemorySessionStore)(nil)

// NewMemorySessionStore creates an in-memory session store.
// idleTimeout of 0 disables idle timeout checking.
func NewMemorySessionStore(idleTimeout time.Duration) *MemorySessionStore {
	return &MemorySessionStore{
		data:        make(map[string]AuthSession),
		idleTimeout: idleTimeout,
		now:         time.Now,
	}
}

func (s *MemorySessionStore) Get(token string) (AuthSession, bool) {
	s.mu.RLock()
	session, ok := s.data[token]
	s.mu.RUnlock()
	if !ok {
		return AuthSession{}, false
	}
	if session.expired(s.now(), s.idleTimeout) {
		s.drop(token)
		return AuthSession{}, false
	}
	return session, true
}

// drop removes token if it is still expired under the write lock, so a
// concurrent Put of a fresh record wins and the hook fires at most once.
func (s *MemorySessionStore) drop(token string) {
	s.mu.Lock()
	session, ok := s.data[token]
	ok = ok && session.expired(s.now(), s.idleTimeout)
	if ok {
		delete(s.data, token)
	}
	s.mu.Unlock()
	if ok {
		s.report(session)
	}
}

func (s *MemorySessionStore) Put(token string, session AuthSession) {
	s.mu.Lock()
	s.data[token] = session
	s.mu.Unlock()
}

func (s *MemorySessionStore) Delete(token string) {
	s.mu.Lock()
	delete(s.data, token)
	s.mu.Unlock()
}

func (s *MemorySessionStore) Tokens() []string {
	s.mu.RLock()
	tokens := make([]string, 0, len(s.data))
	for t := range s.data {
		tokens = append(tokens, t)
	}
	s.mu.RUnlock()
	slices.Sort(tokens)
	return tokens
}
