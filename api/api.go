package api

import (
	_ "embed"
	"log/slog"
	"net/http"
	"net/netip"
	"os"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-openapi/runtime/middleware"

	"github.com/jmcleod/clubhouse/identity/local"
	"github.com/jmcleod/clubhouse/mail"
	"github.com/jmcleod/clubhouse/records"
	"github.com/jmcleod/clubhouse/session"
	"github.com/jmcleod/clubhouse/storage"
)

const (
	defaultContactAddress = "officers@clubhouse.example"
	limiterSweepInterval  = 5 * time.Minute
)

// API holds the dependencies needed by the REST handlers.
type API struct {
	svc      *local.Service
	records  *records.Store
	composer *mail.Composer
	sessions SessionStore
	clients  *registry
	audit    *auditLogger
	activity *activityLog
	logger   *slog.Logger

	rateLimiter   *backoffLimiter
	ipLimiter     *backoffLimiter
	submitLimiter *backoffLimiter
	globalLimiter *globalRateLimiter

	trustedProxies []netip.Prefix
	guardMinVerify time.Duration
	sessionTTL     time.Duration
	idleTimeout    time.Duration
	bopts          []session.BroadcasterOption
	alertFn        AlertFunc
	webhookURL     string
	webhookHeader  string

	closeOnce sync.Once
	stopCh    chan struct{}
}

//go:embed openapi.yaml
var openapiSpec []byte

// Option configures the API instance.
type Option func(*API)

// WithLogger sets the structured logger for audit events and handlers.
// If not set, a default JSON logger writing to stderr is used.
func WithLogger(logger *slog.Logger) Option {
	return func(a *API) { a.logger = logger }
}

// WithSessionStore overrides the browser-session store. The default keeps
// sessions in memory.
func WithSessionStore(s SessionStore) Option {
	return func(a *API) { a.sessions = s }
}

// WithRecords sets the record store. The default is built over the API's
// repository.
func WithRecords(s *records.Store) Option {
	return func(a *API) { a.records = s }
}

// WithComposer sets the mail composer used for contact and review links.
func WithComposer(c *mail.Composer) Option {
	return func(a *API) { a.composer = c }
}

// WithMinVerify sets the minimum verification delay of guarded routes.
func WithMinVerify(d time.Duration) Option {
	return func(a *API) { a.guardMinVerify = d }
}

// WithSessionTTL sets the absolute lifetime of a browser session.
func WithSessionTTL(d time.Duration) Option {
	return func(a *API) {
		if d > 0 {
			a.sessionTTL = d
		}
	}
}

// WithIdleTimeout sets how long a browser session may go unused. Zero
// disables the idle timeout.
func WithIdleTimeout(d time.Duration) Option {
	return func(a *API) { a.idleTimeout = d }
}

// WithBroadcasterOptions passes options to every per-session Broadcaster.
func WithBroadcasterOptions(opts ...session.BroadcasterOption) Option {
	return func(a *API) { a.bopts = append(a.bopts, opts...) }
}

// WithTrustedProxies sets the proxies whose forwarding headers are honored
// when determining the client IP. Entries are CIDRs or bare addresses.
func WithTrustedProxies(cidrs []string) (Option, error) {
	prefixes, err := parseTrustedProxies(cidrs)
	if err != nil {
		return nil, err
	}
	return func(a *API) { a.trustedProxies = prefixes }, nil
}

// WithAlertFunc sets the callback invoked when an audit anomaly is detected.
func WithAlertFunc(fn AlertFunc) Option {
	return func(a *API) { a.alertFn = fn }
}

// WithAuditWebhook forwards every audit event to url. header, when set, is
// sent as "Name: value" on each request.
func WithAuditWebhook(url, header string) Option {
	return func(a *API) {
		a.webhookURL = url
		a.webhookHeader = header
	}
}

// New creates a new API instance over repo, authenticating against svc.
func New(repo storage.Repository, svc *local.Service, opts ...Option) *API {
	a := &API{
		svc:           svc,
		sessionTTL:    defaultSessionTTL,
		idleTimeout:   defaultIdleTimeout,
		rateLimiter:   newLoginRateLimiter(),
		ipLimiter:     newIPRateLimiter(),
		submitLimiter: newSubmitRateLimiter(),
		globalLimiter: newGlobalRateLimiter(),
		stopCh:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = slog.New(slog.NewJSONHandler(os.Stderr, nil))
	}
	if a.records == nil {
		a.records = records.New(repo)
	}
	if a.composer == nil {
		a.composer = mail.NewComposer(defaultContactAddress)
	}
	if a.sessions == nil {
		a.sessions = NewMemorySessionStore(a.idleTimeout)
	}

	a.audit = newAuditLogger(a.logger)
	if a.alertFn != nil {
		a.audit.metrics = newMetricsCollector(a.alertFn)
	}
	if a.webhookURL != "" {
		a.audit.webhook = newAuditWebhook(a.webhookURL, a.webhookHeader, a.logger)
	}
	a.activity = newActivityLog(repo, defaultActivityMaxEntries)

	bopts := append([]session.BroadcasterOption{session.WithLogger(a.logger)}, a.bopts...)
	a.clients = newRegistry(svc, a.sessions, a.sessionTTL, a.idleTimeout, a.logger, bopts...)

	go a.sweepLimiters()
	return a
}

// Close releases every live browser session and flushes pending audit
// deliveries. Stored sessions survive for the next start.
func (a *API) Close() {
	a.closeOnce.Do(func() {
		close(a.stopCh)
		a.clients.Close()
		a.audit.close()
	})
}

func (a *API) sweepLimiters() {
	ticker := time.NewTicker(limiterSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-a.stopCh:
			return
		case <-ticker.C:
			a.rateLimiter.sweep()
			a.ipLimiter.sweep()
			a.submitLimiter.sweep()
		}
	}
}

// Router returns a chi.Router with all API routes mounted. It is meant to
// be mounted at /api/v1.
func (a *API) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(SecurityHeaders)
	r.Use(CSRFMiddleware)

	r.Get("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/yaml")
		w.Write(openapiSpec)
	})

	r.Handle("/docs*", middleware.SwaggerUI(middleware.SwaggerUIOpts{
		SpecURL: "/api/v1/openapi.yaml",
		Path:    "api/v1/docs",
	}, nil))

	r.Handle("/redoc*", middleware.Redoc(middleware.RedocOpts{
		SpecURL: "/api/v1/openapi.yaml",
		Path:    "api/v1/redoc",
	}, nil))

	r.Post("/auth/login", a.Login)
	r.Post("/auth/logout", a.Logout)
	r.Get("/auth/session", a.Session)
	r.Get("/auth/stream", a.Stream)
	r.Get("/auth/guard", a.Guard)

	r.Get("/events", a.ListEvents)
	r.Get("/events/{id}", a.GetEvent)
	r.Get("/members", a.ListMembers)
	r.Get("/members/{id}", a.GetMember)
	r.Post("/applications", a.SubmitApplication)
	r.Post("/contact", a.Contact)

	r.Route("/admin", func(r chi.Router) {
		r.Use(a.RequireAdmin)

		r.Get("/events", a.AdminListEvents)
		r.Post("/events", a.CreateEvent)
		r.Put("/events/{id}", a.UpdateEvent)
		r.Delete("/events/{id}", a.DeleteEvent)

		r.Post("/members", a.CreateMember)
		r.Put("/members/{id}", a.UpdateMember)
		r.Delete("/members/{id}", a.DeleteMember)

		r.Get("/users", a.ListUsers)
		r.Post("/users", a.CreateUser)
		r.Get("/users/{id}", a.GetUser)
		r.Patch("/users/{id}", a.UpdateUser)
		r.Delete("/users/{id}", a.DeleteUser)

		r.Get("/applications", a.ListApplications)
		r.Get("/applications/{id}", a.GetApplication)
		r.Post("/applications/{id}/review", a.ReviewApplication)
		r.Delete("/applications/{id}", a.DeleteApplication)

		r.Get("/activity", a.ListActivity)
	})

	return r
}
