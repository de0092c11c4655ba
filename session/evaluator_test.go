package session

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jmcleod/clubhouse/identity"
	"github.com/jmcleod/clubhouse/identity/fake"
)

type panickingFetcher struct{}

func (panickingFetcher) FetchClaims(context.Context, *identity.Principal, bool) (identity.Claims, error) {
	panic("boom")
}

func TestEvaluator_UnauthenticatedCostsNothing(t *testing.T) {
	f := fake.New(fake.WithClaims("u1", identity.Claims{"admin": true}))
	e := NewEvaluator(f)
	assert.False(t, e.Evaluate(context.Background(), Unauthenticated))
	assert.Equal(t, 0, f.Calls().Fetch)
}

func TestEvaluator_AdminClaim(t *testing.T) {
	f := fake.New(
		fake.WithClaims("u1", identity.Claims{"admin": true}),
		fake.WithClaims("u2", identity.Claims{"admin": false}),
	)
	e := NewEvaluator(f)
	assert.True(t, e.Evaluate(context.Background(), Session{UID: "u1"}))
	assert.False(t, e.Evaluate(context.Background(), Session{UID: "u2"}))
	assert.False(t, e.Evaluate(context.Background(), Session{UID: "u3"}), "absent claims")
	assert.Equal(t, 3, f.Calls().Fetch)
}

func TestEvaluator_FailsClosed(t *testing.T) {
	f := fake.New(
		fake.WithClaims("u1", identity.Claims{"admin": true}),
		fake.WithClaimsError(errors.New("network unreachable")),
	)
	var notices []Notice
	e := NewEvaluator(f, WithNotify(func(n Notice) { notices = append(notices, n) }))

	assert.NotPanics(t, func() {
		assert.False(t, e.Evaluate(context.Background(), Session{UID: "u1"}))
	})
	if assert.Len(t, notices, 1) {
		assert.Equal(t, "u1", notices[0].UID)
		assert.NotEmpty(t, notices[0].Message)
		assert.Error(t, notices[0].Err)
	}

	p := NewEvaluator(panickingFetcher{})
	assert.NotPanics(t, func() {
		assert.False(t, p.Evaluate(context.Background(), Session{UID: "u1"}))
	})
}

func TestEvaluator_CanceledCallerIsNotNotified(t *testing.T) {
	f := fake.New()
	release := f.BlockClaims()
	defer release()
	notified := false
	e := NewEvaluator(f, WithNotify(func(Notice) { notified = true }))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.False(t, e.Evaluate(ctx, Session{UID: "u1"}))
	assert.False(t, notified)
}
