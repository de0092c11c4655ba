package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jmcleod/clubhouse/internal/util"
	"github.com/jmcleod/clubhouse/storage"
)

const (
	sessionsCollection    = "__sessions"
	sessionKeysCollection = "__session_keys"
	sessionKeyID          = "current"
	sessionAADPrefix      = "session:"
	sessionKeyWrappingAAD = "clubhouse:session_master_key:v1"
	cleanupInterval       = 5 * time.Minute
)

// PersistentSessionStore stores sessions in a storage.Repository, encrypted
// at rest using AES-256-GCM. Sessions survive server restarts.
//
// The session encryption key is itself sealed with an externally-provided
// wrapping key before being stored, so a repository compromise alone cannot
// recover refresh tokens.
type PersistentSessionStore struct {
	expiryHook

	repo        storage.Repository
	key         []byte // 32-byte AES-256 session encryption key
	wrappingKey []byte // 32-byte external wrapping key for sealing the session key
	idleTimeout time.Duration
	logger      *slog.Logger
	stopOnce    sync.Once
	stopCh      chan struct{}
}

var _ SessionStore = (*PersistentSessionStore)(nil)

// NewPersistentSessionStore creates a session store backed by the given
// repository. The wrappingKey (32 bytes) seals the session encryption key
// at rest; it must be provided externally and is never stored in the
// repository. idleTimeout of 0 disables idle timeout checking.
func NewPersistentSessionStore(repo storage.Repository, idleTimeout time.Duration, wrappingKey []byte) (*PersistentSessionStore, error) {
	if len(wrappingKey) != util.AESKeySize {
		return nil, fmt.Errorf("wrapping key must be exactly %d bytes, got %d", util.AESKeySize, len(wrappingKey))
	}
	wk := make([]byte, util.AESKeySize)
	copy(wk, wrappingKey)

	key, err := loadOrCreateSessionKey(repo, wk)
	if err != nil {
		util.WipeBytes(wk)
		return nil, err
	}
	s := &PersistentSessionStore{
		repo:        repo,
		key:         key,
		wrappingKey: wk,
		idleTimeout: idleTimeout,
		logger:      slog.Default().With("component", "sessions"),
		stopCh:      make(chan struct{}),
	}
	go s.cleanupLoop()
	return s, nil
}

// Close stops the background cleanup goroutine and wipes key material.
func (s *PersistentSessionStore) Close() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		util.WipeBytes(s.key)
		util.WipeBytes(s.wrappingKey)
	})
}

func (s *PersistentSessionStore) Get(token string) (AuthSession, bool) {
	session, err := s.load(token)
	if err != nil {
		return AuthSession{}, false
	}
	if session.expired(time.Now(), s.idleTimeout) {
		s.Delete(token)
		s.report(session)
		return AuthSession{}, false
	}
	return session, true
}

func (s *PersistentSessionStore) Put(token string, session AuthSession) {
	data, err := json.Marshal(session)
	if err != nil {
		return
	}
	defer util.WipeBytes(data)
	sealed, err := util.EncryptAESWithAAD(data, s.key, []byte(sessionAADPrefix+token))
	if err != nil {
		s.logger.Error("sealing session failed", "error", err)
		return
	}
	if err := s.repo.Put(sessionsCollection, token, sealed); err != nil {
		s.logger.Error("persisting session failed", "error", err)
	}
}

func (s *PersistentSessionStore) Delete(token string) {
	_ = s.repo.Delete(sessionsCollection, token)
}

func (s *PersistentSessionStore) Tokens() []string {
	tokens, err := s.repo.List(sessionsCollection)
	if err != nil {
		return nil
	}
	return tokens
}

func (s *PersistentSessionStore) load(token string) (AuthSession, error) {
	sealed, err := s.repo.Get(sessionsCollection, token)
	if err != nil {
		return AuthSession{}, err
	}
	data, err := util.DecryptAESWithAAD(sealed, s.key, []byte(sessionAADPrefix+token))
	if err != nil {
		return AuthSession{}, err
	}
	defer util.WipeBytes(data)
	var session AuthSession
	if err := json.Unmarshal(data, &session); err != nil {
		return AuthSession{}, err
	}
	return session, nil
}

// cleanupLoop periodically removes expired sessions from storage and
// reports them to the expiry hook.
func (s *PersistentSessionStore) cleanupLoop() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.sweepExpired()
		}
	}
}

func (s *PersistentSessionStore) sweepExpired() {
	now := time.Now()
	for _, token := range s.Tokens() {
		session, err := s.load(token)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		// Unreadable entries were sealed under a previous key; their refresh
		// tokens lapse on their own.
		if err != nil {
			s.Delete(token)
			continue
		}
		if session.expired(now, s.idleTimeout) {
			s.Delete(token)
			s.report(session)
		}
	}
}

// loadOrCreateSessionKey loads the session encryption key from storage,
// unsealing it with the wrapping key. If no key exists, or the wrapping key
// has changed, a new random key is generated, sealed and persisted. Sessions
// sealed under a previous key become unreadable.
func loadOrCreateSessionKey(repo storage.Repository, wrappingKey []byte) ([]byte, error) {
	aad := []byte(sessionKeyWrappingAAD)

	sealed, err := repo.Get(sessionKeysCollection, sessionKeyID)
	switch {
	case err == nil:
		key, openErr := util.DecryptAESWithAAD(sealed, wrappingKey, aad)
		if openErr == nil && len(key) == util.AESKeySize {
			return key, nil
		}
		util.WipeBytes(key)
	case !errors.Is(err, storage.ErrNotFound):
		return nil, fmt.Errorf("loading session key: %w", err)
	}

	key, err := util.NewAESKey()
	if err != nil {
		return nil, err
	}
	sealed, err = util.EncryptAESWithAAD(key, wrappingKey, aad)
	if err != nil {
		util.WipeBytes(key)
		return nil, fmt.Errorf("sealing new session key: %w", err)
	}
	if err := repo.Put(sessionKeysCollection, sessionKeyID, sealed); err != nil {
		util.WipeBytes(key)
		return nil, fmt.Errorf("persisting session key: %w", err)
	}
	return key, nil
}
