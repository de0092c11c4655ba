// Package storage provides the persistence abstraction for site records,
// identity accounts and browser sessions.
package storage

import "errors"

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("record not found")

// Repository stores opaque JSON values keyed by (collection, id). Collections
// are created on first write; reading or listing an unknown collection behaves
// as if it were empty.
type Repository interface {
	Put(collection string, id string, data []byte) error
	Get(collection string, id string) ([]byte, error)
	// List returns the IDs in a collection in ascending byte order.
	List(collection string) ([]string, error)
	Delete(collection string, id string) error
}
