package api

import (
	"bytes"
	"testing"
	"time"

	"github.com/jmcleod/clubhouse/storage/memory"
)

func testWrappingKey() []byte {
	return bytes.Repeat([]byte{0x42}, 32)
}

// sessionStoreTests runs the common suite against any SessionStore implementation.
func sessionStoreTests(t *testing.T, store SessionStore) {
	t.Helper()

	t.Run("PutAndGet", func(t *testing.T) {
		s := AuthSession{
			UID:            "u-1",
			RefreshToken:   "rt-1",
			ExpiresAt:      time.Now().Add(time.Hour),
			LastAccessedAt: time.Now(),
		}
		store.Put("tok-1", s)
		got, ok := store.Get("tok-1")
		if !ok {
			t.Fatal("expected to find session")
		}
		if got.UID != "u-1" {
			t.Fatalf("got UID %q, want %q", got.UID, "u-1")
		}
		if got.RefreshToken != "rt-1" {
			t.Fatalf("got RefreshToken %q, want %q", got.RefreshToken, "rt-1")
		}
	})

	t.Run("GetMissing", func(t *testing.T) {
		_, ok := store.Get("no-such-token")
		if ok {
			t.Fatal("expected not found for missing token")
		}
	})

	t.Run("Delete", func(t *testing.T) {
		store.Put("tok-del", AuthSession{
			UID:            "u-del",
			ExpiresAt:      time.Now().Add(time.Hour),
			LastAccessedAt: time.Now(),
		})
		store.Delete("tok-del")
		_, ok := store.Get("tok-del")
		if ok {
			t.Fatal("expected session to be deleted")
		}
	})

	t.Run("DeleteMissing", func(t *testing.T) {
		// Should not panic.
		store.Delete("never-existed")
	})

	t.Run("Overwrite", func(t *testing.T) {
		store.Put("tok-ow", AuthSession{
			RefreshToken:   "rt-v1",
			ExpiresAt:      time.Now().Add(time.Hour),
			LastAccessedAt: time.Now(),
		})
		store.Put("tok-ow", AuthSession{
			RefreshToken:   "rt-v2",
			ExpiresAt:      time.Now().Add(time.Hour),
			LastAccessedAt: time.Now(),
		})

		got, ok := store.Get("tok-ow")
		if !ok {
			t.Fatal("expected session after overwrite")
		}
		if got.RefreshToken != "rt-v2" {
			t.Fatalf("got RefreshToken %q, want %q", got.RefreshToken, "rt-v2")
		}
	})

	t.Run("ExpiredSession", func(t *testing.T) {
		store.Put("tok-exp", AuthSession{
			UID:            "u-exp",
			ExpiresAt:      time.Now().Add(-time.Second),
			LastAccessedAt: time.Now(),
		})
		_, ok := store.Get("tok-exp")
		if ok {
			t.Fatal("expected expired session to be rejected")
		}
	})

	t.Run("ExpiryHook", func(t *testing.T) {
		var got []AuthSession
		store.OnExpire(func(s AuthSession) { got = append(got, s) })
		defer store.OnExpire(nil)

		store.Put("tok-lapsed", AuthSession{
			UID:            "u-lapsed",
			RefreshToken:   "rt-lapsed",
			ExpiresAt:      time.Now().Add(-time.Minute),
			LastAccessedAt: time.Now().Add(-time.Hour),
		})
		if _, ok := store.Get("tok-lapsed"); ok {
			t.Fatal("expected expired session to be rejected")
		}
		if _, ok := store.Get("tok-lapsed"); ok {
			t.Fatal("expected expired session to stay gone")
		}
		if len(got) != 1 || got[0].RefreshToken != "rt-lapsed" {
			t.Fatalf("expiry hook got %+v, want one rt-lapsed session", got)
		}

		store.Put("tok-deleted", AuthSession{
			RefreshToken:   "rt-deleted",
			ExpiresAt:      time.Now().Add(time.Hour),
			LastAccessedAt: time.Now(),
		})
		store.Delete("tok-deleted")
		if len(got) != 1 {
			t.Fatal("expected Delete not to report an expiry")
		}
	})

	t.Run("Tokens", func(t *testing.T) {
		store.Put("tok-list", AuthSession{
			ExpiresAt:      time.Now().Add(time.Hour),
			LastAccessedAt: time.Now(),
		})
		found := false
		for _, tok := range store.Tokens() {
			if tok == "tok-list" {
				found = true
			}
		}
		if !found {
			t.Fatal("expected tok-list in Tokens()")
		}
	})
}

func TestMemorySessionStore(t *testing.T) {
	store := NewMemorySessionStore(30 * time.Minute)
	sessionStoreTests(t, store)

	t.Run("IdleTimeout", func(t *testing.T) {
		s := NewMemorySessionStore(100 * time.Millisecond)
		s.Put("tok-idle", AuthSession{
			UID:            "u-idle",
			ExpiresAt:      time.Now().Add(time.Hour),
			LastAccessedAt: time.Now().Add(-200 * time.Millisecond),
		})
		_, ok := s.Get("tok-idle")
		if ok {
			t.Fatal("expected idle session to be rejected")
		}
	})

	t.Run("IdleTimeoutDisabled", func(t *testing.T) {
		s := NewMemorySessionStore(0)
		s.Put("tok-no-idle", AuthSession{
			UID:            "u-no-idle",
			ExpiresAt:      time.Now().Add(time.Hour),
			LastAccessedAt: time.Now().Add(-24 * time.Hour),
		})
		_, ok := s.Get("tok-no-idle")
		if !ok {
			t.Fatal("expected session to be valid when idle timeout is disabled")
		}
	})
}

func TestPersistentSessionStore(t *testing.T) {
	repo := memory.NewRepository()
	store, err := NewPersistentSessionStore(repo, 30*time.Minute, testWrappingKey())
	if err != nil {
		t.Fatalf("NewPersistentSessionStore: %v", err)
	}
	defer store.Close()

	sessionStoreTests(t, store)

	t.Run("RejectsShortWrappingKey", func(t *testing.T) {
		if _, err := NewPersistentSessionStore(memory.NewRepository(), 0, []byte("short")); err == nil {
			t.Fatal("expected error for short wrapping key")
		}
	})

	t.Run("EncryptedAtRest", func(t *testing.T) {
		store.Put("tok-raw", AuthSession{
			RefreshToken:   "refresh-secret-value",
			ExpiresAt:      time.Now().Add(time.Hour),
			LastAccessedAt: time.Now(),
		})
		raw, err := repo.Get(sessionsCollection, "tok-raw")
		if err != nil {
			t.Fatalf("repo.Get: %v", err)
		}
		if bytes.Contains(raw, []byte("refresh-secret-value")) {
			t.Fatal("refresh token stored in plaintext")
		}
	})

	t.Run("BoundToToken", func(t *testing.T) {
		store.Put("tok-a", AuthSession{
			RefreshToken:   "rt-a",
			ExpiresAt:      time.Now().Add(time.Hour),
			LastAccessedAt: time.Now(),
		})
		raw, err := repo.Get(sessionsCollection, "tok-a")
		if err != nil {
			t.Fatalf("repo.Get: %v", err)
		}
		if err := repo.Put(sessionsCollection, "tok-b", raw); err != nil {
			t.Fatalf("repo.Put: %v", err)
		}
		if _, ok := store.Get("tok-b"); ok {
			t.Fatal("expected a record copied to another token to be unreadable")
		}
	})

	t.Run("IdleTimeout", func(t *testing.T) {
		s, err := NewPersistentSessionStore(memory.NewRepository(), 100*time.Millisecond, testWrappingKey())
		if err != nil {
			t.Fatalf("NewPersistentSessionStore: %v", err)
		}
		defer s.Close()

		s.Put("tok-idle", AuthSession{
			UID:            "u-idle",
			ExpiresAt:      time.Now().Add(time.Hour),
			LastAccessedAt: time.Now().Add(-200 * time.Millisecond),
		})
		_, ok := s.Get("tok-idle")
		if ok {
			t.Fatal("expected idle session to be rejected")
		}
	})

	t.Run("SurvivesReopen", func(t *testing.T) {
		repo3 := memory.NewRepository()
		s1, err := NewPersistentSessionStore(repo3, 30*time.Minute, testWrappingKey())
		if err != nil {
			t.Fatalf("NewPersistentSessionStore: %v", err)
		}
		s1.Put("tok-persist", AuthSession{
			UID:            "u-persist",
			RefreshToken:   "rt-persist",
			ExpiresAt:      time.Now().Add(time.Hour),
			LastAccessedAt: time.Now(),
		})
		s1.Close()

		s2, err := NewPersistentSessionStore(repo3, 30*time.Minute, testWrappingKey())
		if err != nil {
			t.Fatalf("NewPersistentSessionStore (reopen): %v", err)
		}
		defer s2.Close()

		got, ok := s2.Get("tok-persist")
		if !ok {
			t.Fatal("expected session to survive store reopen")
		}
		if got.RefreshToken != "rt-persist" {
			t.Fatalf("got RefreshToken %q, want %q", got.RefreshToken, "rt-persist")
		}
	})

	t.Run("WrappingKeyChanged", func(t *testing.T) {
		repo4 := memory.NewRepository()
		s1, err := NewPersistentSessionStore(repo4, 30*time.Minute, testWrappingKey())
		if err != nil {
			t.Fatalf("NewPersistentSessionStore: %v", err)
		}
		s1.Put("tok-old", AuthSession{
			UID:            "u-old",
			ExpiresAt:      time.Now().Add(time.Hour),
			LastAccessedAt: time.Now(),
		})
		s1.Close()

		s2, err := NewPersistentSessionStore(repo4, 30*time.Minute, bytes.Repeat([]byte{0x07}, 32))
		if err != nil {
			t.Fatalf("NewPersistentSessionStore (new key): %v", err)
		}
		defer s2.Close()
		if _, ok := s2.Get("tok-old"); ok {
			t.Fatal("expected sessions sealed under the old key to be unreadable")
		}
	})

	t.Run("SweepExpired", func(t *testing.T) {
		repo5 := memory.NewRepository()
		s, err := NewPersistentSessionStore(repo5, 30*time.Minute, testWrappingKey())
		if err != nil {
			t.Fatalf("NewPersistentSessionStore: %v", err)
		}
		defer s.Close()

		s.Put("tok-sweep", AuthSession{
			UID:            "u-sweep",
			ExpiresAt:      time.Now().Add(-time.Hour),
			LastAccessedAt: time.Now(),
		})
		s.Put("tok-keep", AuthSession{
			UID:            "u-keep",
			ExpiresAt:      time.Now().Add(time.Hour),
			LastAccessedAt: time.Now(),
		})

		var swept []string
		s.OnExpire(func(rec AuthSession) { swept = append(swept, rec.UID) })
		s.sweepExpired()

		if len(swept) != 1 || swept[0] != "u-sweep" {
			t.Fatalf("expiry hook got %v, want [u-sweep]", swept)
		}
		if _, err := repo5.Get(sessionsCollection, "tok-sweep"); err == nil {
			t.Fatal("expected expired session to be removed by sweep")
		}
		if _, err := repo5.Get(sessionsCollection, "tok-keep"); err != nil {
			t.Fatalf("expected live session to survive sweep: %v", err)
		}
	})
}
