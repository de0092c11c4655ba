package api

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/jmcleod/clubhouse/mail"
	"github.com/jmcleod/clubhouse/records"
)

// ListEvents handles GET /events?when=upcoming|past|all.
func (a *API) ListEvents(w http.ResponseWriter, r *http.Request) {
	res := a.records.Events.List(r.Context())
	if !res.Success {
		mapError(w, res.Err)
		return
	}
	events := res.Data
	now := time.Now()
	switch when := r.URL.Query().Get("when"); when {
	case "", "upcoming":
		events = records.UpcomingEvents(events, now)
	case "past":
		events = records.PastEvents(events, now)
	case "all":
	default:
		writeError(w, http.StatusBadRequest, "when must be upcoming, past or all")
		return
	}
	page, meta := paginate(r, events)
	writeJSON(w, http.StatusOK, ListEventsResponse{Events: page, PaginationMeta: meta})
}

// GetEvent handles GET /events/{id}.
func (a *API) GetEvent(w http.ResponseWriter, r *http.Request) {
	writeResult(w, http.StatusOK, a.records.Events.Get(r.Context(), chi.URLParam(r, "id")))
}

// ListMembers handles GET /members?q=...&role=....
func (a *API) ListMembers(w http.ResponseWriter, r *http.Request) {
	res := a.records.Members.List(r.Context())
	if !res.Success {
		mapError(w, res.Err)
		return
	}
	q := r.URL.Query()
	members := records.SearchMembers(res.Data, q.Get("q"), q.Get("role"))
	page, meta := paginate(r, members)
	writeJSON(w, http.StatusOK, ListMembersResponse{Members: page, PaginationMeta: meta})
}

// GetMember handles GET /members/{id}.
func (a *API) GetMember(w http.ResponseWriter, r *http.Request) {
	writeResult(w, http.StatusOK, a.records.Members.Get(r.Context(), chi.URLParam(r, "id")))
}

// SubmitApplication handles POST /applications.
func (a *API) SubmitApplication(w http.ResponseWriter, r *http.Request) {
	if !a.allowSubmission(w, r) {
		return
	}
	req, ok := decodeJSON[ApplicationRequest](w, r, maxRecordBodySize)
	if !ok {
		return
	}
	res := a.records.SubmitApplication(r.Context(), records.Application{
		Name:       strings.TrimSpace(req.Name),
		Email:      strings.TrimSpace(req.Email),
		Major:      strings.TrimSpace(req.Major),
		Year:       strings.TrimSpace(req.Year),
		Interests:  req.Interests,
		Motivation: strings.TrimSpace(req.Motivation),
	})
	if !res.Success {
		mapError(w, res.Err)
		return
	}
	a.audit.logEvent(AuditApplicationCreated, r, "", slog.String("application_id", res.Data.ID))
	writeJSON(w, http.StatusCreated, ApplicationResponse{
		ID:      res.Data.ID,
		Message: "Thanks for applying! A club officer will be in touch.",
	})
}

// Contact handles POST /contact. Nothing is sent; the response carries a
// mailto link for the visitor's mail client.
func (a *API) Contact(w http.ResponseWriter, r *http.Request) {
	if !a.allowSubmission(w, r) {
		return
	}
	form, ok := decodeJSON[mail.ContactForm](w, r, maxRecordBodySize)
	if !ok {
		return
	}
	link, err := a.composer.Contact(form)
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ContactResponse{Mailto: link})
}

// allowSubmission counts one public form submission against the client IP.
func (a *API) allowSubmission(w http.ResponseWriter, r *http.Request) bool {
	clientIP := a.extractClientIP(r)
	if blocked, retryAfter := a.submitLimiter.check(clientIP); blocked {
		a.audit.logFailure(AuditSubmitRateLimited, r, "submission rate limited",
			slog.String("client_ip", clientIP), pathAttr(r))
		writeRateLimited(w, retryAfter, "too many submissions, try again later")
		return false
	}
	a.submitLimiter.recordFailure(clientIP)
	return true
}

// LimitSubmissions applies the public submission rate limit to next. The
// server-rendered join and contact forms use it.
func (a *API) LimitSubmissions(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.allowSubmission(w, r) {
			next.ServeHTTP(w, r)
		}
	})
}
