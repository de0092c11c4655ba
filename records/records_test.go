package records

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/clubhouse/storage/memory"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Millisecond)
	return c.now
}

func newStore(t *testing.T) *Store {
	t.Helper()
	c := &clock{now: time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)}
	return New(memory.NewRepository(), WithClock(c.Now))
}

func TestCollection_CRUD(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	starts := time.Date(2026, 2, 1, 18, 0, 0, 0, time.UTC)

	created := s.Events.Create(ctx, Event{Title: "Intro to Go", StartsAt: starts, Meta: Meta{ID: "ignored"}})
	require.True(t, created.Success, created.Error)
	ev := created.Data
	assert.NotEqual(t, "ignored", ev.ID)
	assert.Len(t, ev.ID, 26)
	assert.False(t, ev.CreatedAt.IsZero())

	got := s.Events.Get(ctx, ev.ID)
	require.True(t, got.Success)
	assert.Equal(t, "Intro to Go", got.Data.Title)

	upd := s.Events.Update(ctx, ev.ID, Event{Title: "Intro to Go, part 1", StartsAt: starts})
	require.True(t, upd.Success, upd.Error)
	assert.Equal(t, ev.ID, upd.Data.ID)
	assert.Equal(t, ev.CreatedAt, upd.Data.CreatedAt)
	assert.True(t, upd.Data.UpdatedAt.After(ev.UpdatedAt))

	del := s.Events.Delete(ctx, ev.ID)
	assert.True(t, del.Success)

	missing := s.Events.Get(ctx, ev.ID)
	assert.False(t, missing.Success)
	assert.ErrorIs(t, missing.Err, ErrNotFound)
	assert.NotEmpty(t, missing.Error)

	again := s.Events.Delete(ctx, ev.ID)
	assert.ErrorIs(t, again.Err, ErrNotFound)

	assert.ErrorIs(t, s.Events.Update(ctx, "nope", Event{Title: "x", StartsAt: starts}).Err, ErrNotFound)
}

func TestCollection_ListInCreationOrder(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	for _, name := range []string{"Zed", "Ada", "Mia"} {
		require.True(t, s.Members.Create(ctx, Member{Name: name, Role: "Member"}).Success)
	}
	res := s.Members.List(ctx)
	require.True(t, res.Success)
	require.Len(t, res.Data, 3)
	assert.Equal(t, []string{"Zed", "Ada", "Mia"}, []string{res.Data[0].Name, res.Data[1].Name, res.Data[2].Name})
}

func TestIDSource_MonotonicWithinMillisecond(t *testing.T) {
	ids := newIDSource()
	at := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	prev := ""
	for range 100 {
		id, err := ids.next(at)
		require.NoError(t, err)
		require.Len(t, id, 26)
		assert.Greater(t, id, prev)
		prev = id
	}
}

func TestValidation(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	starts := time.Date(2026, 2, 1, 18, 0, 0, 0, time.UTC)

	cases := map[string]error{
		"event without title":   s.Events.Create(ctx, Event{StartsAt: starts}).Err,
		"event without start":   s.Events.Create(ctx, Event{Title: "x"}).Err,
		"event ends early":      s.Events.Create(ctx, Event{Title: "x", StartsAt: starts, EndsAt: starts.Add(-time.Hour)}).Err,
		"event bad url":         s.Events.Create(ctx, Event{Title: "x", StartsAt: starts, RegistrationURL: "javascript:alert(1)"}).Err,
		"member without role":   s.Members.Create(ctx, Member{Name: "Ada"}).Err,
		"member bad email":      s.Members.Create(ctx, Member{Name: "Ada", Role: "Lead", Email: "ada"}).Err,
		"user bad role":         s.Users.Create(ctx, User{Email: "a@b.com", Role: "owner"}).Err,
		"application no motive": s.SubmitApplication(ctx, Application{Name: "Ada", Email: "a@b.com"}).Err,
	}
	for name, err := range cases {
		assert.ErrorIs(t, err, ErrValidation, name)
	}
	list := s.Events.List(ctx)
	require.True(t, list.Success)
	assert.Empty(t, list.Data)
}

func TestApplicationReview(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	sub := s.SubmitApplication(ctx, Application{
		Name: "Ada", Email: "a@b.com", Motivation: "robots", Status: StatusAccepted,
	})
	require.True(t, sub.Success, sub.Error)
	assert.Equal(t, StatusPending, sub.Data.Status, "submissions always start pending")

	bad := s.ReviewApplication(ctx, sub.Data.ID, StatusPending, "u-admin", "")
	assert.ErrorIs(t, bad.Err, ErrValidation)

	rev := s.ReviewApplication(ctx, sub.Data.ID, StatusAccepted, "u-admin", "  welcome  ")
	require.True(t, rev.Success, rev.Error)
	assert.Equal(t, StatusAccepted, rev.Data.Status)
	assert.Equal(t, "u-admin", rev.Data.ReviewedBy)
	assert.Equal(t, "welcome", rev.Data.ReviewNote)
	assert.False(t, rev.Data.ReviewedAt.IsZero())

	again := s.ReviewApplication(ctx, sub.Data.ID, StatusRejected, "u-admin", "")
	assert.ErrorIs(t, again.Err, ErrInvalidTransition)
}

func TestFindUserByUID(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	require.True(t, s.Users.Create(ctx, User{UID: "u1", Email: "a@b.com", Role: RoleAdmin}).Success)

	res := s.FindUserByUID(ctx, "u1")
	require.True(t, res.Success)
	assert.Equal(t, RoleAdmin, res.Data.Role)
	assert.ErrorIs(t, s.FindUserByUID(ctx, "u2").Err, ErrNotFound)
}

func TestCanceledContext(t *testing.T) {
	s := newStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := s.Events.List(ctx)
	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Err, context.Canceled)
}
