// Package storagetest holds the conformance suite shared by every
// storage.Repository backend.
package storagetest

import (
	"errors"
	"testing"

	"github.com/jmcleod/clubhouse/storage"
)

// Run exercises repo against the storage.Repository contract. repo must be
// empty.
func Run(t *testing.T, repo storage.Repository) {
	t.Helper()

	t.Run("PutAndGet", func(t *testing.T) {
		if err := repo.Put("events", "e1", []byte(`{"title":"Hack Night"}`)); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		got, err := repo.Get("events", "e1")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if string(got) != `{"title":"Hack Night"}` {
			t.Errorf("Get returned %q", got)
		}

		// Returned slices must not alias stored data.
		got[0] = 'X'
		again, _ := repo.Get("events", "e1")
		if again[0] == 'X' {
			t.Error("repository should return copies of stored values")
		}
	})

	t.Run("GetNotFound", func(t *testing.T) {
		_, err := repo.Get("nonexistent", "e1")
		if !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("expected ErrNotFound for unknown collection, got %v", err)
		}
		_, err = repo.Get("events", "nonexistent")
		if !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("expected ErrNotFound for unknown id, got %v", err)
		}
	})

	t.Run("Overwrite", func(t *testing.T) {
		_ = repo.Put("events", "e1", []byte("v2"))
		got, err := repo.Get("events", "e1")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if string(got) != "v2" {
			t.Errorf("expected overwritten value, got %q", got)
		}
	})

	t.Run("ListSorted", func(t *testing.T) {
		_ = repo.Put("members", "c", []byte("3"))
		_ = repo.Put("members", "a", []byte("1"))
		_ = repo.Put("members", "b", []byte("2"))
		ids, err := repo.List("members")
		if err != nil {
			t.Fatalf("List failed: %v", err)
		}
		want := []string{"a", "b", "c"}
		if len(ids) != len(want) {
			t.Fatalf("expected %v, got %v", want, ids)
		}
		for i := range want {
			if ids[i] != want[i] {
				t.Errorf("ids[%d] = %q, want %q", i, ids[i], want[i])
			}
		}
	})

	t.Run("ListUnknownCollection", func(t *testing.T) {
		ids, err := repo.List("nothing-here")
		if err != nil {
			t.Fatalf("List failed: %v", err)
		}
		if len(ids) != 0 {
			t.Errorf("expected no ids, got %v", ids)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		if err := repo.Delete("members", "a"); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
		if _, err := repo.Get("members", "a"); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("expected deleted record to be gone, got %v", err)
		}
		if err := repo.Delete("members", "a"); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("expected ErrNotFound deleting twice, got %v", err)
		}
		if err := repo.Delete("nothing-here", "a"); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("expected ErrNotFound for unknown collection, got %v", err)
		}
	})
}
