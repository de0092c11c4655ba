package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/clubhouse/identity"
)

func principal(uid string) ProviderPrincipal {
	return ProviderPrincipal{Principal: &identity.Principal{UID: uid, Email: uid + "@club.test", RefreshToken: "rt-" + uid}}
}

func TestStore_ApplyProjectsPrincipal(t *testing.T) {
	for _, in := range []ProviderPrincipal{principal("u1"), {}, principal("u2"), {}} {
		s := NewStore()
		s.Apply(in)
		st := s.State()
		if in.Principal == nil {
			assert.True(t, Unauthenticated.Equal(st.Session))
			assert.False(t, st.Authenticated)
		} else {
			assert.Equal(t, in.Principal.UID, st.Session.UID)
			assert.True(t, st.Authenticated)
		}
		assert.False(t, st.Administrator)
	}
}

func TestStore_PhaseNeverRegresses(t *testing.T) {
	s := NewStore()
	assert.Equal(t, PhaseInitializing, s.State().Phase)

	gen, replaced := s.Apply(principal("u1"))
	require.True(t, replaced)
	assert.Equal(t, PhaseCheckingAuthorization, s.State().Phase)
	assert.True(t, s.State().AuthorizationPending)

	require.True(t, s.Authorize(gen, true))
	st := s.State()
	assert.Equal(t, PhaseReady, st.Phase)
	assert.True(t, st.Administrator)
	assert.True(t, st.Ready())

	s.Apply(principal("u2"))
	st = s.State()
	assert.Equal(t, PhaseReady, st.Phase, "phase must not regress")
	assert.True(t, st.AuthorizationPending)
	assert.False(t, st.Administrator, "replacement clears authorization")
	assert.False(t, st.Ready())
}

func TestStore_FirstNilEventStillAdvances(t *testing.T) {
	s := NewStore()
	gen, replaced := s.Apply(ProviderPrincipal{})
	assert.True(t, replaced)
	assert.Equal(t, PhaseCheckingAuthorization, s.State().Phase)
	assert.True(t, s.Authorize(gen, false))
	assert.True(t, s.State().Ready())
}

func TestStore_DiscardsStaleAuthorization(t *testing.T) {
	s := NewStore()
	first, _ := s.Apply(principal("u1"))
	second, _ := s.Apply(principal("u2"))

	assert.False(t, s.Authorize(first, true), "result for superseded session")
	assert.False(t, s.State().Administrator)
	assert.True(t, s.Authorize(second, false))
	assert.False(t, s.Authorize(second, true), "already resolved")
	assert.False(t, s.State().Administrator)
}

func TestStore_AdminNeverWithoutIdentity(t *testing.T) {
	s := NewStore()
	gen, _ := s.Apply(ProviderPrincipal{})
	s.Authorize(gen, true)
	assert.False(t, s.State().Administrator)
}

func TestStore_EqualSessionIsNoop(t *testing.T) {
	s := NewStore()
	gen, _ := s.Apply(principal("u1"))
	s.Authorize(gen, true)

	again, replaced := s.Apply(principal("u1"))
	assert.False(t, replaced)
	assert.Equal(t, gen, again)
	assert.True(t, s.State().Administrator)
}

func TestStore_InFlight(t *testing.T) {
	s := NewStore()
	assert.True(t, s.SetInFlight(OpSignIn, true))
	assert.False(t, s.SetInFlight(OpSignIn, true))
	s.Apply(principal("u1"))
	assert.True(t, s.State().InFlight.SignIn, "flags survive session replacement")
	assert.True(t, s.SetInFlight(OpSignOut, true))
	assert.True(t, s.SetInFlight(OpSignIn, false))
	assert.Equal(t, InFlight{SignOut: true}, s.State().InFlight)
}
