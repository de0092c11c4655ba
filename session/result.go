package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmcleod/clubhouse/identity"
)

var (
	// ErrUnexpected wraps failures that are not part of the provider's
	// error vocabulary.
	ErrUnexpected = errors.New("unexpected error")
	// ErrClosed indicates the Broadcaster has been closed.
	ErrClosed = errors.New("session broadcaster closed")
)

// Result is the outcome of a sign-in or sign-out. Failures never escape the
// Broadcaster any other way.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Err     error  `json:"-"`
}

func success(msg string) Result {
	return Result{Success: true, Message: msg}
}

func failure(op Operation, err error) Result {
	if !known(err) {
		err = fmt.Errorf("%w: %w", ErrUnexpected, err)
	}
	return Result{Success: false, Message: messageFor(op, err), Err: err}
}

func known(err error) bool {
	for _, target := range []error{
		identity.ErrInvalidCredentials,
		identity.ErrAccountDisabled,
		identity.ErrNoSession,
		identity.ErrSessionRevoked,
		identity.ErrTokenInvalid,
		identity.ErrUnavailable,
		context.Canceled,
		context.DeadlineExceeded,
		ErrClosed,
		ErrUnexpected,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func messageFor(op Operation, err error) string {
	switch {
	case errors.Is(err, identity.ErrInvalidCredentials):
		return "Invalid email or password."
	case errors.Is(err, identity.ErrAccountDisabled):
		return "This account has been disabled. Contact a club officer."
	case errors.Is(err, identity.ErrUnavailable):
		return "The sign-in service is unavailable. Please try again later."
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return "The request did not complete. Please try again."
	case errors.Is(err, ErrClosed):
		return "This session has ended. Reload the page."
	}
	if op == OpSignOut {
		return "Sign-out failed. Please try again."
	}
	return "Sign-in failed. Please try again."
}
