package records

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmcleod/clubhouse/storage"
)

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source used for timestamps and IDs.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Store groups the site's record collections.
type Store struct {
	Events       *Collection[Event, *Event]
	Members      *Collection[Member, *Member]
	Users        *Collection[User, *User]
	Applications *Collection[Application, *Application]

	now func() time.Time
}

// New creates a Store over repo.
func New(repo storage.Repository, opts ...Option) *Store {
	s := &Store{now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	ids := newIDSource()
	now := func() time.Time { return s.now() }
	s.Events = newCollection[Event](repo, EventsCollection, ids, now)
	s.Members = newCollection[Member](repo, MembersCollection, ids, now)
	s.Users = newCollection[User](repo, UsersCollection, ids, now)
	s.Applications = newCollection[Application](repo, ApplicationsCollection, ids, now)
	return s
}

// SubmitApplication stores a new pending application.
func (s *Store) SubmitApplication(ctx context.Context, a Application) Result[Application] {
	a.Status = StatusPending
	a.ReviewedBy, a.ReviewNote, a.ReviewedAt = "", "", time.Time{}
	return s.Applications.Create(ctx, a)
}

// ReviewApplication moves a pending application to accepted or rejected.
func (s *Store) ReviewApplication(ctx context.Context, id string, decision Status, reviewer, note string) Result[Application] {
	if decision != StatusAccepted && decision != StatusRejected {
		return fail[Application](fmt.Errorf("%w: decision must be %q or %q", ErrValidation, StatusAccepted, StatusRejected))
	}
	return s.Applications.Modify(ctx, id, func(a *Application) error {
		if a.Status != StatusPending {
			return fmt.Errorf("%w: application is already %s", ErrInvalidTransition, a.Status)
		}
		a.Status = decision
		a.ReviewedBy = reviewer
		a.ReviewNote = strings.TrimSpace(note)
		a.ReviewedAt = s.now().UTC()
		return nil
	})
}

// FindUserByUID returns the user record linked to an identity account.
func (s *Store) FindUserByUID(ctx context.Context, uid string) Result[User] {
	res := s.Users.List(ctx)
	if !res.Success {
		return fail[User](res.Err)
	}
	for _, u := range res.Data {
		if u.UID == uid {
			return ok(u)
		}
	}
	return fail[User](fmt.Errorf("user with uid %q: %w", uid, ErrNotFound))
}
