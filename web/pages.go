package web

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/jmcleod/clubhouse/guard"
	"github.com/jmcleod/clubhouse/mail"
	"github.com/jmcleod/clubhouse/records"
)

type homeView struct {
	Upcoming []records.Event
}

func (s *Site) home(w http.ResponseWriter, r *http.Request) {
	res := s.cfg.Records.Events.List(r.Context())
	if !res.Success {
		s.failed(w, r, res.Err)
		return
	}
	upcoming := records.UpcomingEvents(res.Data, time.Now())
	s.render(w, r, http.StatusOK, "home", "Welcome", homeView{Upcoming: upcoming[:min(len(upcoming), homeEventsLimit)]})
}

type eventsView struct {
	Upcoming []records.Event
	Past     []records.Event
}

func (s *Site) events(w http.ResponseWriter, r *http.Request) {
	res := s.cfg.Records.Events.List(r.Context())
	if !res.Success {
		s.failed(w, r, res.Err)
		return
	}
	now := time.Now()
	s.render(w, r, http.StatusOK, "events", "Events", eventsView{
		Upcoming: records.UpcomingEvents(res.Data, now),
		Past:     records.PastEvents(res.Data, now),
	})
}

type membersView struct {
	Query   string
	Role    string
	Members []records.Member
}

func (s *Site) members(w http.ResponseWriter, r *http.Request) {
	res := s.cfg.Records.Members.List(r.Context())
	if !res.Success {
		s.failed(w, r, res.Err)
		return
	}
	q := r.URL.Query()
	v := membersView{Query: q.Get("q"), Role: q.Get("role")}
	v.Members = records.SearchMembers(res.Data, v.Query, v.Role)
	s.render(w, r, http.StatusOK, "members", "Members", v)
}

type joinView struct {
	Form      records.Application
	Interests string
	Error     string
	Submitted bool
}

func (s *Site) joinForm(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, http.StatusOK, "join", "Join the club", joinView{})
}

func (s *Site) join(w http.ResponseWriter, r *http.Request) {
	if !s.parseForm(w, r) {
		return
	}
	v := joinView{
		Form: records.Application{
			Name:       strings.TrimSpace(r.PostFormValue("name")),
			Email:      strings.TrimSpace(r.PostFormValue("email")),
			Major:      strings.TrimSpace(r.PostFormValue("major")),
			Year:       strings.TrimSpace(r.PostFormValue("year")),
			Motivation: strings.TrimSpace(r.PostFormValue("motivation")),
		},
		Interests: r.PostFormValue("interests"),
	}
	v.Form.Interests = splitList(v.Interests)

	res := s.cfg.Records.SubmitApplication(r.Context(), v.Form)
	if !res.Success {
		if !errors.Is(res.Err, records.ErrValidation) {
			s.failed(w, r, res.Err)
			return
		}
		v.Error = res.Error
		s.render(w, r, http.StatusBadRequest, "join", "Join the club", v)
		return
	}
	s.render(w, r, http.StatusOK, "join", "Join the club", joinView{Submitted: true})
}

type contactView struct {
	Form   mail.ContactForm
	Error  string
	Mailto string
}

func (s *Site) contactForm(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, http.StatusOK, "contact", "Contact us", contactView{})
}

func (s *Site) contact(w http.ResponseWriter, r *http.Request) {
	if !s.parseForm(w, r) {
		return
	}
	v := contactView{Form: mail.ContactForm{
		Name:    r.PostFormValue("name"),
		Email:   r.PostFormValue("email"),
		Subject: r.PostFormValue("subject"),
		Message: r.PostFormValue("message"),
	}}
	link, err := s.cfg.Composer.Contact(v.Form)
	if err != nil {
		if !errors.Is(err, mail.ErrInvalidMessage) {
			s.failed(w, r, err)
			return
		}
		v.Error = err.Error()
		s.render(w, r, http.StatusBadRequest, "contact", "Contact us", v)
		return
	}
	v.Mailto = link
	s.render(w, r, http.StatusOK, "contact", "Contact us", v)
}

type loginView struct {
	Next  string
	Error string
}

// loginForm renders the sign-in page. Visitors who are already signed in
// continue to next.
func (s *Site) loginForm(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	next := guard.SafeNext(q.Get(guard.NextParam))
	if s.cfg.Source(r).Snapshot().Authenticated {
		http.Redirect(w, r, next, http.StatusSeeOther)
		return
	}
	s.render(w, r, http.StatusOK, "login", "Sign in", loginView{Next: next, Error: q.Get("error")})
}

type dashboardView struct {
	Events       int
	Members      int
	Users        int
	Pending      []records.Application
	PendingCount int
	Upcoming     []records.Event
}

func (s *Site) dashboard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	events := s.cfg.Records.Events.List(ctx)
	members := s.cfg.Records.Members.List(ctx)
	users := s.cfg.Records.Users.List(ctx)
	apps := s.cfg.Records.Applications.List(ctx)
	for _, err := range []error{events.Err, members.Err, users.Err, apps.Err} {
		if err != nil {
			s.failed(w, r, err)
			return
		}
	}

	pending := records.ApplicationsByStatus(apps.Data, records.StatusPending)
	upcoming := records.UpcomingEvents(events.Data, time.Now())
	s.render(w, r, http.StatusOK, "dashboard", "Dashboard", dashboardView{
		Events:       len(events.Data),
		Members:      len(members.Data),
		Users:        len(users.Data),
		Pending:      pending[:min(len(pending), dashboardLimit)],
		PendingCount: len(pending),
		Upcoming:     upcoming[:min(len(upcoming), dashboardLimit)],
	})
}

func (s *Site) parseForm(w http.ResponseWriter, r *http.Request) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxFormSize)
	if err := r.ParseForm(); err != nil {
		http.Error(w, "the form could not be read", http.StatusBadRequest)
		return false
	}
	return true
}

func (s *Site) failed(w http.ResponseWriter, r *http.Request, err error) {
	s.logger.Error("loading page data", "path", r.URL.Path, "error", err)
	writeRecovery(w, r, http.StatusInternalServerError)
}

// splitList splits a comma-separated form field, dropping blanks.
func splitList(s string) []string {
	var out []string
	for part := range strings.SplitSeq(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
