package util

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// NormalizeCredential folds compatibility-equivalent Unicode forms so that
// a password typed on different keyboards hashes identically.
func NormalizeCredential(s string) string {
	return norm.NFKC.String(s)
}

// NormalizeEmail returns the lookup form of an email address.
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(norm.NFKC.String(s)))
}
