// Package web renders the club's public site and admin dashboard as
// server-side HTML.
package web

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/jmcleod/clubhouse/guard"
	"github.com/jmcleod/clubhouse/mail"
	"github.com/jmcleod/clubhouse/records"
	"github.com/jmcleod/clubhouse/session"
)

//go:embed templates/*.html static/*
var content embed.FS

const (
	maxFormSize     = 64 << 10
	homeEventsLimit = 3
	dashboardLimit  = 5
)

// Config wires the site to the rest of the server.
type Config struct {
	// Records serves events, members and applications. Required.
	Records *records.Store
	// Composer builds mailto links for the contact form. Required.
	Composer *mail.Composer
	// Source resolves the session source of a request. Required.
	Source func(r *http.Request) guard.Source
	// CSRFToken returns the token forms must echo back in csrf_token.
	CSRFToken func(r *http.Request) string
	// SignIn and SignOut handle the form posts to /login and /logout.
	SignIn  http.Handler
	SignOut http.Handler
	// LimitSubmissions, if set, wraps the join and contact form posts.
	LimitSubmissions func(http.Handler) http.Handler
	// MinVerify is passed to the admin route guard.
	MinVerify time.Duration
	Logger    *slog.Logger
}

// Site is the server-rendered web frontend.
type Site struct {
	cfg    Config
	pages  map[string]*template.Template
	static fs.FS
	logger *slog.Logger
}

// New parses the embedded templates.
func New(cfg Config) (*Site, error) {
	if cfg.Records == nil || cfg.Composer == nil || cfg.Source == nil {
		return nil, fmt.Errorf("web: Records, Composer and Source are required")
	}
	if cfg.CSRFToken == nil {
		cfg.CSRFToken = func(*http.Request) string { return "" }
	}
	if cfg.SignIn == nil {
		cfg.SignIn = http.NotFoundHandler()
	}
	if cfg.SignOut == nil {
		cfg.SignOut = http.NotFoundHandler()
	}
	if cfg.LimitSubmissions == nil {
		cfg.LimitSubmissions = func(next http.Handler) http.Handler { return next }
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	pages, err := parsePages()
	if err != nil {
		return nil, err
	}
	static, err := fs.Sub(content, "static")
	if err != nil {
		return nil, fmt.Errorf("loading embedded static assets: %w", err)
	}
	return &Site{
		cfg:    cfg,
		pages:  pages,
		static: static,
		logger: logger.With("component", "web"),
	}, nil
}

var pageNames = []string{
	"home", "events", "members", "join", "contact", "login",
	"dashboard", "denied", "notfound",
}

var funcs = template.FuncMap{
	"date": func(t time.Time) string {
		if t.IsZero() {
			return ""
		}
		return t.Format("Mon Jan 2, 2006 3:04 PM")
	},
	"loginURL": func(next string) string {
		return guard.LoginURL(guard.LoginPath, next)
	},
}

func parsePages() (map[string]*template.Template, error) {
	layout, err := template.New("layout.html").Funcs(funcs).ParseFS(content, "templates/layout.html")
	if err != nil {
		return nil, fmt.Errorf("parsing layout: %w", err)
	}
	pages := make(map[string]*template.Template, len(pageNames))
	for _, name := range pageNames {
		t, err := template.Must(layout.Clone()).ParseFS(content, "templates/"+name+".html")
		if err != nil {
			return nil, fmt.Errorf("parsing %s page: %w", name, err)
		}
		pages[name] = t
	}
	return pages, nil
}

// Handler returns the site's router.
func (s *Site) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(RecoveryBoundary(s.logger))
	r.NotFound(s.notFound)

	r.Get("/", s.home)
	r.Get("/events", s.events)
	r.Get("/members", s.members)
	r.Get("/join", s.joinForm)
	r.With(s.cfg.LimitSubmissions).Post("/join", s.join)
	r.Get("/contact", s.contactForm)
	r.With(s.cfg.LimitSubmissions).Post("/contact", s.contact)
	r.Get(guard.LoginPath, s.loginForm)
	r.Method(http.MethodPost, guard.LoginPath, s.cfg.SignIn)
	r.Method(http.MethodPost, "/logout", s.cfg.SignOut)
	r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.FS(s.static))))

	r.Route("/admin", func(r chi.Router) {
		r.Use(guard.Require(true, guard.Config{
			Source:        s.cfg.Source,
			MinVerify:     s.cfg.MinVerify,
			OnDenied:      s.denied,
			OnUnavailable: s.unavailable,
		}))
		r.Get("/", s.dashboard)
	})
	return r
}

// page is the data every template receives.
type page struct {
	Title     string
	Path      string
	Session   session.State
	CSRFToken string
	Data      any
}

func (s *Site) render(w http.ResponseWriter, r *http.Request, status int, name, title string, data any) {
	st, ok := guard.StateFromContext(r.Context())
	if !ok {
		st = s.cfg.Source(r).Snapshot()
	}
	p := page{
		Title:     title,
		Path:      r.URL.RequestURI(),
		Session:   st,
		CSRFToken: s.cfg.CSRFToken(r),
		Data:      data,
	}
	var buf bytes.Buffer
	if err := s.pages[name].ExecuteTemplate(&buf, "layout", p); err != nil {
		s.logger.Error("rendering page", "page", name, "error", err)
		writeRecovery(w, r, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

func (s *Site) notFound(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, http.StatusNotFound, "notfound", "Page not found", nil)
}

// denied renders the access-denied screen with the guard's actions.
func (s *Site) denied(w http.ResponseWriter, r *http.Request, o guard.Outcome) {
	s.render(w, r, http.StatusForbidden, "denied", "Access denied", deniedView{
		Actions: o.Actions,
		Back:    r.Referer(),
	})
}

func (s *Site) unavailable(w http.ResponseWriter, r *http.Request, err error) {
	s.logger.Warn("session verification unavailable", "path", r.URL.Path, "error", err)
	writeRecovery(w, r, http.StatusServiceUnavailable)
}

type deniedView struct {
	Actions []guard.Action
	Back    string
}
