package web

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/clubhouse/guard"
	"github.com/jmcleod/clubhouse/mail"
	"github.com/jmcleod/clubhouse/records"
	"github.com/jmcleod/clubhouse/session"
	"github.com/jmcleod/clubhouse/storage/memory"
)

var discard = slog.New(slog.DiscardHandler)

func signedIn(admin bool) session.State {
	return session.State{
		Session:       session.Session{UID: "u-1", Email: "ada@club.example.edu"},
		Authenticated: true,
		Administrator: admin,
		Phase:         session.PhaseReady,
	}
}

type siteEnv struct {
	handler http.Handler
	store   *records.Store
	signIns int
}

func newSite(t *testing.T, src guard.Source) *siteEnv {
	t.Helper()
	env := &siteEnv{store: records.New(memory.NewRepository())}
	site, err := New(Config{
		Records:   env.store,
		Composer:  mail.NewComposer("officers@club.example.edu"),
		Source:    func(*http.Request) guard.Source { return src },
		CSRFToken: func(*http.Request) string { return "csrf-123" },
		SignIn: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			env.signIns++
			http.Redirect(w, r, "/", http.StatusSeeOther)
		}),
		Logger: discard,
	})
	require.NoError(t, err)
	env.handler = site.Handler()
	return env
}

func (e *siteEnv) do(t *testing.T, req *http.Request) (*http.Response, string) {
	t.Helper()
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	resp := rec.Result()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}

func (e *siteEnv) get(t *testing.T, target string) (*http.Response, string) {
	t.Helper()
	return e.do(t, httptest.NewRequest(http.MethodGet, target, nil))
}

func (e *siteEnv) postForm(t *testing.T, target string, form url.Values) (*http.Response, string) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return e.do(t, req)
}

func TestHomeListsUpcomingEvents(t *testing.T) {
	env := newSite(t, guard.Anonymous)
	ctx := context.Background()
	require.True(t, env.store.Events.Create(ctx, records.Event{Title: "Robotics demo", StartsAt: time.Now().Add(48 * time.Hour)}).Success)
	require.True(t, env.store.Events.Create(ctx, records.Event{Title: "Kickoff", StartsAt: time.Now().Add(-48 * time.Hour)}).Success)

	resp, body := env.get(t, "/")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "Robotics demo")
	assert.NotContains(t, body, "Kickoff")
	assert.Contains(t, body, `href="/login?next=%2F"`)
	assert.NotContains(t, body, `href="/admin"`)
}

func TestEventsPageSplitsUpcomingAndPast(t *testing.T) {
	env := newSite(t, guard.Anonymous)
	ctx := context.Background()
	require.True(t, env.store.Events.Create(ctx, records.Event{Title: "Robotics demo", StartsAt: time.Now().Add(48 * time.Hour)}).Success)
	require.True(t, env.store.Events.Create(ctx, records.Event{Title: "Kickoff", StartsAt: time.Now().Add(-48 * time.Hour)}).Success)

	resp, body := env.get(t, "/events")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	upcoming := strings.Index(body, "Robotics demo")
	past := strings.Index(body, "Kickoff")
	require.NotEqual(t, -1, upcoming)
	require.NotEqual(t, -1, past)
	assert.Less(t, upcoming, past)
}

func TestMembersSearch(t *testing.T) {
	env := newSite(t, guard.Anonymous)
	ctx := context.Background()
	require.True(t, env.store.Members.Create(ctx, records.Member{Name: "Ada Lovelace", Role: "President"}).Success)
	require.True(t, env.store.Members.Create(ctx, records.Member{Name: "Alan Turing", Role: "Treasurer"}).Success)

	_, body := env.get(t, "/members?q=ada")
	assert.Contains(t, body, "Ada Lovelace")
	assert.NotContains(t, body, "Alan Turing")
}

func TestNavigationReflectsSession(t *testing.T) {
	env := newSite(t, guard.Static(signedIn(true)))
	_, body := env.get(t, "/")
	assert.Contains(t, body, `href="/admin"`)
	assert.Contains(t, body, "Sign out")
	assert.Contains(t, body, `value="csrf-123"`)
	assert.Contains(t, body, "ada@club.example.edu")
}

func TestAdminRequiresSignIn(t *testing.T) {
	env := newSite(t, guard.Anonymous)
	resp, _ := env.get(t, "/admin")
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/login?next=%2Fadmin", resp.Header.Get("Location"))
}

func TestAdminDeniesMembers(t *testing.T) {
	env := newSite(t, guard.Static(signedIn(false)))

	resp, body := env.get(t, "/admin")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Contains(t, body, "Access denied")
	assert.Contains(t, body, `<a class="button" href="/">Return home</a>`)
	assert.NotContains(t, body, "Go back")

	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set("Referer", "/events")
	_, body = env.do(t, req)
	assert.Contains(t, body, `<a class="button" href="/events">Go back</a>`)
}

func TestAdminDashboard(t *testing.T) {
	env := newSite(t, guard.Static(signedIn(true)))
	ctx := context.Background()
	require.True(t, env.store.SubmitApplication(ctx, records.Application{
		Name: "Grace Hopper", Email: "grace@example.edu", Motivation: "Compilers",
	}).Success)

	resp, body := env.get(t, "/admin")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "<strong>1</strong> pending applications")
	assert.Contains(t, body, "Grace Hopper")
}

func TestAdminUnavailableRendersRecovery(t *testing.T) {
	closed := guard.Static(session.State{Phase: session.PhaseInitializing})
	site, err := New(Config{
		Records:  records.New(memory.NewRepository()),
		Composer: mail.NewComposer("officers@club.example.edu"),
		Source:   func(*http.Request) guard.Source { return closed },
		Logger:   discard,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/admin", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	site.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "Try again")
}

func TestJoinSubmitsApplication(t *testing.T) {
	env := newSite(t, guard.Anonymous)
	resp, body := env.postForm(t, "/join", url.Values{
		"name":       {"Grace Hopper"},
		"email":      {"grace@example.edu"},
		"interests":  {"compilers, , navy"},
		"motivation": {"I like debugging."},
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "Thanks for applying!")

	apps := env.store.Applications.List(context.Background())
	require.True(t, apps.Success)
	require.Len(t, apps.Data, 1)
	assert.Equal(t, records.StatusPending, apps.Data[0].Status)
	assert.Equal(t, []string{"compilers", "navy"}, apps.Data[0].Interests)
}

func TestJoinValidationKeepsInput(t *testing.T) {
	env := newSite(t, guard.Anonymous)
	resp, body := env.postForm(t, "/join", url.Values{
		"name":  {"Grace Hopper"},
		"email": {"grace@example.edu"},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body, "motivation is required")
	assert.Contains(t, body, `value="Grace Hopper"`)

	apps := env.store.Applications.List(context.Background())
	assert.Empty(t, apps.Data)
}

func TestContactComposesMailto(t *testing.T) {
	env := newSite(t, guard.Anonymous)
	resp, body := env.postForm(t, "/contact", url.Values{
		"name":    {"Ada"},
		"email":   {"ada@example.edu"},
		"subject": {"Sponsorship"},
		"message": {"We'd love to sponsor a hack night."},
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, `href="mailto:officers@club.example.edu?`)

	resp, _ = env.postForm(t, "/contact", url.Values{"name": {"Ada"}})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestLoginPage(t *testing.T) {
	env := newSite(t, guard.Anonymous)
	resp, body := env.get(t, "/login?next=%2Fadmin&error=Invalid+email+or+password.")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "Invalid email or password.")
	assert.Contains(t, body, `name="next" value="/admin"`)

	_, body = env.get(t, "/login?next=%2F%2Fevil.example")
	assert.Contains(t, body, `name="next" value="/"`)
}

func TestLoginPageRedirectsSignedInVisitors(t *testing.T) {
	env := newSite(t, guard.Static(signedIn(false)))
	resp, _ := env.get(t, "/login?next=%2Fevents")
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/events", resp.Header.Get("Location"))
}

func TestLoginFormPostDelegates(t *testing.T) {
	env := newSite(t, guard.Anonymous)
	resp, _ := env.postForm(t, "/login", url.Values{"email": {"ada@example.edu"}, "password": {"x"}})
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, 1, env.signIns)

	// No sign-out handler configured.
	resp, _ = env.postForm(t, "/logout", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStaticAndNotFound(t *testing.T) {
	env := newSite(t, guard.Anonymous)
	resp, body := env.get(t, "/static/style.css")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "font-family")

	resp, body = env.get(t, "/no-such-page")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, body, "Page not found")
}

func TestRecoveryBoundary(t *testing.T) {
	h := RecoveryBoundary(discard)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("template exploded")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/events?when=past", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `href="/events?when=past">Try again</a>`)
	assert.Contains(t, body, `href="/">Reload</a>`)
}

func TestRecoveryBoundaryReraisesAbort(t *testing.T) {
	h := RecoveryBoundary(discard)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic(http.ErrAbortHandler)
	}))
	assert.PanicsWithValue(t, http.ErrAbortHandler, func() {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	})
}

func TestNewRequiresDependencies(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, splitList(" a ,, b ,"))
	assert.Nil(t, splitList(""))
}
