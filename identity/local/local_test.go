package local

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/clubhouse/identity"
	"github.com/jmcleod/clubhouse/internal/util"
	"github.com/jmcleod/clubhouse/storage/memory"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestService(t *testing.T) (*Service, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	svc, err := New(memory.NewRepository(),
		WithArgon2idParams(util.TestArgon2idParams()),
		WithClock(clock.Now),
		WithTokenTTL(10*time.Minute),
	)
	require.NoError(t, err)
	return svc, clock
}

func mustCreate(t *testing.T, svc *Service, email, password string, admin bool) Account {
	t.Helper()
	a, err := svc.CreateAccount(context.Background(), AccountInput{Email: email, Password: password, Admin: admin})
	require.NoError(t, err)
	return a
}

func recorder() (identity.Listener, <-chan *identity.Principal) {
	ch := make(chan *identity.Principal, 16)
	return func(p *identity.Principal) { ch <- p }, ch
}

func next(t *testing.T, ch <-chan *identity.Principal) *identity.Principal {
	t.Helper()
	select {
	case p := <-ch:
		return p
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for principal event")
		return nil
	}
}

func TestCreateAccount_Validation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateAccount(ctx, AccountInput{Email: "not-an-email", Password: "secret1"})
	assert.ErrorIs(t, err, ErrInvalidEmail)

	_, err = svc.CreateAccount(ctx, AccountInput{Email: "a@b.com", Password: "123"})
	assert.ErrorIs(t, err, ErrWeakPassword)

	a := mustCreate(t, svc, "A@B.com", "secret1", false)
	assert.Equal(t, "a@b.com", a.Email)
	assert.NotEmpty(t, a.UID)

	_, err = svc.CreateAccount(ctx, AccountInput{Email: " a@B.COM ", Password: "secret2"})
	assert.ErrorIs(t, err, ErrEmailTaken)

	got, err := svc.GetAccountByEmail(ctx, "a@b.com")
	require.NoError(t, err)
	assert.Equal(t, a.UID, got.UID)

	list, err := svc.ListAccounts(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestSignIn(t *testing.T) {
	svc, clock := newTestService(t)
	ctx := context.Background()
	a := mustCreate(t, svc, "a@b.com", "secret1", false)

	_, err := svc.SignIn(ctx, "a@b.com", "wrong-password")
	assert.ErrorIs(t, err, identity.ErrInvalidCredentials)

	_, err = svc.SignIn(ctx, "nobody@b.com", "secret1")
	assert.ErrorIs(t, err, identity.ErrInvalidCredentials)

	clock.Advance(time.Hour)
	p, err := svc.SignIn(ctx, "A@b.com", "secret1")
	require.NoError(t, err)
	assert.Equal(t, a.UID, p.UID)
	assert.NotEmpty(t, p.RefreshToken)
	assert.Equal(t, clock.Now(), p.Metadata.LastSignInTime)
	assert.Equal(t, a.CreatedAt, p.Metadata.CreationTime)

	_, err = svc.SetDisabled(ctx, a.UID, true)
	require.NoError(t, err)
	_, err = svc.SignIn(ctx, "a@b.com", "secret1")
	assert.ErrorIs(t, err, identity.ErrAccountDisabled)

	_, err = svc.Resume(ctx, p.RefreshToken)
	assert.ErrorIs(t, err, identity.ErrSessionRevoked)
}

func TestResume_RefreshTokenLifetime(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	repo := memory.NewRepository()
	svc, err := New(repo,
		WithArgon2idParams(util.TestArgon2idParams()),
		WithClock(clock.Now),
		WithRefreshTTL(24*time.Hour),
	)
	require.NoError(t, err)
	ctx := context.Background()
	mustCreate(t, svc, "a@b.com", "secret1", false)

	p, err := svc.SignIn(ctx, "a@b.com", "secret1")
	require.NoError(t, err)

	clock.Advance(23 * time.Hour)
	_, err = svc.Resume(ctx, p.RefreshToken)
	require.NoError(t, err)

	clock.Advance(2 * time.Hour)
	_, err = svc.Resume(ctx, p.RefreshToken)
	assert.ErrorIs(t, err, identity.ErrSessionRevoked)

	_, err = repo.Get(refreshTokensCollection, p.RefreshToken)
	assert.Error(t, err, "lapsed refresh token is deleted")
}

func TestIDToken_CacheAndClaims(t *testing.T) {
	svc, clock := newTestService(t)
	ctx := context.Background()
	a := mustCreate(t, svc, "a@b.com", "secret1", false)
	p, err := svc.SignIn(ctx, "a@b.com", "secret1")
	require.NoError(t, err)

	tok1, err := svc.IDToken(ctx, p.RefreshToken, false)
	require.NoError(t, err)
	clock.Advance(time.Second)
	tok2, err := svc.IDToken(ctx, p.RefreshToken, false)
	require.NoError(t, err)
	assert.Equal(t, tok1, tok2, "cached token should be reused")

	tok3, err := svc.IDToken(ctx, p.RefreshToken, true)
	require.NoError(t, err)
	assert.NotEqual(t, tok1, tok3, "forced refresh should mint a new token")

	claims, err := svc.VerifyIDToken(ctx, tok3)
	require.NoError(t, err)
	assert.Equal(t, a.UID, claims["sub"])
	assert.Equal(t, "a@b.com", claims["email"])
	assert.Equal(t, false, claims["admin"])

	_, err = svc.SetAdmin(ctx, a.UID, true)
	require.NoError(t, err)
	tok4, err := svc.IDToken(ctx, p.RefreshToken, false)
	require.NoError(t, err)
	claims, err = svc.VerifyIDToken(ctx, tok4)
	require.NoError(t, err)
	assert.Equal(t, true, claims["admin"])
}

func TestVerifyIDToken_Rejects(t *testing.T) {
	svc, clock := newTestService(t)
	ctx := context.Background()
	mustCreate(t, svc, "a@b.com", "secret1", false)
	p, err := svc.SignIn(ctx, "a@b.com", "secret1")
	require.NoError(t, err)
	tok, err := svc.IDToken(ctx, p.RefreshToken, false)
	require.NoError(t, err)

	_, err = svc.VerifyIDToken(ctx, tok[:len(tok)-2]+"xx")
	assert.ErrorIs(t, err, identity.ErrTokenInvalid)

	_, err = svc.VerifyIDToken(ctx, "")
	assert.ErrorIs(t, err, identity.ErrTokenInvalid)

	other, _ := newTestService(t)
	_, err = other.VerifyIDToken(ctx, tok)
	assert.ErrorIs(t, err, identity.ErrTokenInvalid, "token signed with another key")

	clock.Advance(11 * time.Minute)
	_, err = svc.VerifyIDToken(ctx, tok)
	assert.ErrorIs(t, err, identity.ErrTokenInvalid, "expired token")
}

func TestClient_SignInAndOut(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	a := mustCreate(t, svc, "a@b.com", "secret1", false)

	c := svc.NewClient("")
	fn, events := recorder()
	unsubscribe := c.Subscribe(fn)
	defer unsubscribe()

	assert.Nil(t, next(t, events), "first event reports no session")

	p, err := c.VerifyCredentials(ctx, "a@b.com", "secret1")
	require.NoError(t, err)
	assert.Equal(t, a.UID, p.UID)

	// The principal was pushed before VerifyCredentials returned.
	select {
	case got := <-events:
		assert.Equal(t, a.UID, got.UID)
	default:
		t.Fatal("expected principal event before VerifyCredentials returned")
	}

	claims, err := c.FetchClaims(ctx, p, true)
	require.NoError(t, err)
	assert.Equal(t, a.UID, claims["sub"])

	require.NoError(t, c.EndSession(ctx))
	assert.Nil(t, next(t, events))
	assert.ErrorIs(t, c.EndSession(ctx), identity.ErrNoSession)

	_, err = c.FetchClaims(ctx, p, true)
	assert.ErrorIs(t, err, identity.ErrSessionRevoked)
}

func TestClient_RestoresSession(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	a := mustCreate(t, svc, "a@b.com", "secret1", false)
	p, err := svc.SignIn(ctx, "a@b.com", "secret1")
	require.NoError(t, err)

	c := svc.NewClient(p.RefreshToken)
	fn, events := recorder()
	c.Subscribe(fn)
	got := next(t, events)
	require.NotNil(t, got)
	assert.Equal(t, a.UID, got.UID)
	assert.Equal(t, p.RefreshToken, c.RefreshToken())

	stale := svc.NewClient("no-such-token")
	fn2, events2 := recorder()
	stale.Subscribe(fn2)
	assert.Nil(t, next(t, events2))
	assert.Empty(t, stale.RefreshToken())
}

func TestClient_ReceivesClaimChangesAndRevocation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	a := mustCreate(t, svc, "a@b.com", "secret1", false)

	c := svc.NewClient("")
	fn, events := recorder()
	c.Subscribe(fn)
	next(t, events)

	_, err := c.VerifyCredentials(ctx, "a@b.com", "secret1")
	require.NoError(t, err)
	first := next(t, events)

	_, err = svc.SetAdmin(ctx, a.UID, true)
	require.NoError(t, err)
	refreshed := next(t, events)
	require.NotNil(t, refreshed)
	assert.Equal(t, first.RefreshToken, refreshed.RefreshToken)

	claims, err := c.FetchClaims(ctx, refreshed, false)
	require.NoError(t, err)
	assert.Equal(t, true, claims["admin"])

	require.NoError(t, svc.DeleteAccount(ctx, a.UID))
	assert.Nil(t, next(t, events), "deleting the account signs the client out")
}

func TestClient_CloseDropsListeners(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	a := mustCreate(t, svc, "a@b.com", "secret1", false)

	c := svc.NewClient("")
	fn, events := recorder()
	c.Subscribe(fn)
	next(t, events)
	_, err := c.VerifyCredentials(ctx, "a@b.com", "secret1")
	require.NoError(t, err)
	next(t, events)

	c.Close()
	_, err = svc.SetAdmin(ctx, a.UID, true)
	require.NoError(t, err)
	select {
	case p := <-events:
		t.Fatalf("unexpected event after Close: %+v", p)
	case <-time.After(50 * time.Millisecond):
	}
}
