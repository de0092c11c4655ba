// Package uuid generates random identifiers for session cookies, refresh
// tokens and CSRF tokens.
package uuid

import "github.com/google/uuid"

// New returns a random version 4 UUID in canonical string form.
func New() string {
	return uuid.NewString()
}
