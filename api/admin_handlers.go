package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/jmcleod/clubhouse/guard"
	"github.com/jmcleod/clubhouse/identity/local"
	"github.com/jmcleod/clubhouse/records"
)

// actor returns the UID of the administrator the guard admitted.
func actor(r *http.Request) string {
	st, _ := guard.StateFromContext(r.Context())
	return st.Session.UID
}

// recordChange audits an administrative change and appends it to the
// activity log.
func (a *API) recordChange(r *http.Request, action AuditEvent, collection, id, summary string) {
	uid := actor(r)
	a.audit.logEvent(action, r, uid,
		slog.String("collection", collection),
		slog.String("record_id", id))
	if err := a.activity.append(action, uid, collection, id, summary); err != nil {
		a.logger.Warn("recording activity", "action", action, "error", err)
	}
}

// ---------------------------------------------------------------------------
// Events
// ---------------------------------------------------------------------------

// AdminListEvents handles GET /admin/events. Unlike the public listing it
// defaults to every event.
func (a *API) AdminListEvents(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("when") == "" {
		q := r.URL.Query()
		q.Set("when", "all")
		r.URL.RawQuery = q.Encode()
	}
	a.ListEvents(w, r)
}

// CreateEvent handles POST /admin/events.
func (a *API) CreateEvent(w http.ResponseWriter, r *http.Request) {
	ev, ok := decodeJSON[records.Event](w, r, maxRecordBodySize)
	if !ok {
		return
	}
	res := a.records.Events.Create(r.Context(), ev)
	if writeResult(w, http.StatusCreated, res) {
		a.recordChange(r, AuditEventCreated, records.EventsCollection, res.Data.ID, res.Data.Title)
	}
}

// UpdateEvent handles PUT /admin/events/{id}.
func (a *API) UpdateEvent(w http.ResponseWriter, r *http.Request) {
	ev, ok := decodeJSON[records.Event](w, r, maxRecordBodySize)
	if !ok {
		return
	}
	res := a.records.Events.Update(r.Context(), chi.URLParam(r, "id"), ev)
	if writeResult(w, http.StatusOK, res) {
		a.recordChange(r, AuditEventUpdated, records.EventsCollection, res.Data.ID, res.Data.Title)
	}
}

// DeleteEvent handles DELETE /admin/events/{id}.
func (a *API) DeleteEvent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if res := a.records.Events.Delete(r.Context(), id); !res.Success {
		mapError(w, res.Err)
		return
	}
	a.recordChange(r, AuditEventDeleted, records.EventsCollection, id, "")
	w.WriteHeader(http.StatusNoContent)
}

// ---------------------------------------------------------------------------
// Members
// ---------------------------------------------------------------------------

// CreateMember handles POST /admin/members.
func (a *API) CreateMember(w http.ResponseWriter, r *http.Request) {
	m, ok := decodeJSON[records.Member](w, r, maxRecordBodySize)
	if !ok {
		return
	}
	res := a.records.Members.Create(r.Context(), m)
	if writeResult(w, http.StatusCreated, res) {
		a.recordChange(r, AuditMemberCreated, records.MembersCollection, res.Data.ID, res.Data.Name)
	}
}

// UpdateMember handles PUT /admin/members/{id}.
func (a *API) UpdateMember(w http.ResponseWriter, r *http.Request) {
	m, ok := decodeJSON[records.Member](w, r, maxRecordBodySize)
	if !ok {
		return
	}
	res := a.records.Members.Update(r.Context(), chi.URLParam(r, "id"), m)
	if writeResult(w, http.StatusOK, res) {
		a.recordChange(r, AuditMemberUpdated, records.MembersCollection, res.Data.ID, res.Data.Name)
	}
}

// DeleteMember handles DELETE /admin/members/{id}.
func (a *API) DeleteMember(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if res := a.records.Members.Delete(r.Context(), id); !res.Success {
		mapError(w, res.Err)
		return
	}
	a.recordChange(r, AuditMemberDeleted, records.MembersCollection, id, "")
	w.WriteHeader(http.StatusNoContent)
}

// ---------------------------------------------------------------------------
// Users
// ---------------------------------------------------------------------------

// accountOf returns the identity account linked to u, or nil when there is
// none.
func (a *API) accountOf(r *http.Request, u records.User) *local.Account {
	if u.UID == "" {
		return nil
	}
	acct, err := a.svc.GetAccount(r.Context(), u.UID)
	if err != nil {
		if !errors.Is(err, local.ErrAccountNotFound) {
			a.logger.Warn("loading account", "account_id", u.UID, "error", err)
		}
		return nil
	}
	return &acct
}

// ListUsers handles GET /admin/users?role=admin|member.
func (a *API) ListUsers(w http.ResponseWriter, r *http.Request) {
	res := a.records.Users.List(r.Context())
	if !res.Success {
		mapError(w, res.Err)
		return
	}
	users := res.Data
	if role := records.Role(r.URL.Query().Get("role")); role != "" {
		if !role.Valid() {
			writeError(w, http.StatusBadRequest, "unknown role")
			return
		}
		users = records.UsersByRole(users, role)
	}
	page, meta := paginate(r, users)
	out := make([]UserResponse, 0, len(page))
	for _, u := range page {
		out = append(out, userResponse(u, a.accountOf(r, u)))
	}
	writeJSON(w, http.StatusOK, ListUsersResponse{Users: out, PaginationMeta: meta})
}

// GetUser handles GET /admin/users/{id}.
func (a *API) GetUser(w http.ResponseWriter, r *http.Request) {
	res := a.records.Users.Get(r.Context(), chi.URLParam(r, "id"))
	if !res.Success {
		mapError(w, res.Err)
		return
	}
	writeJSON(w, http.StatusOK, userResponse(res.Data, a.accountOf(r, res.Data)))
}

// CreateUser handles POST /admin/users. It provisions the identity account
// and the user record together; the account is rolled back when the record
// cannot be stored.
func (a *API) CreateUser(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJSON[CreateUserRequest](w, r, maxAuthBodySize)
	if !ok {
		return
	}
	if req.Role == "" {
		req.Role = records.RoleMember
	}
	if !req.Role.Valid() {
		writeError(w, http.StatusBadRequest, "unknown role")
		return
	}

	acct, err := a.svc.CreateAccount(r.Context(), local.AccountInput{
		Email:       req.Email,
		Password:    req.Password,
		DisplayName: strings.TrimSpace(req.DisplayName),
		Admin:       req.Role == records.RoleAdmin,
	})
	if err != nil {
		mapError(w, err)
		return
	}
	res := a.records.Users.Create(r.Context(), records.User{
		UID:         acct.UID,
		Email:       acct.Email,
		DisplayName: acct.DisplayName,
		Role:        req.Role,
	})
	if !res.Success {
		if derr := a.svc.DeleteAccount(r.Context(), acct.UID); derr != nil {
			a.logger.Error("rolling back account", "account_id", acct.UID, "error", derr)
		}
		mapError(w, res.Err)
		return
	}
	a.recordChange(r, AuditUserCreated, records.UsersCollection, res.Data.ID, res.Data.Email)
	writeJSON(w, http.StatusCreated, userResponse(res.Data, &acct))
}

// UpdateUser handles PATCH /admin/users/{id}: display name, role and
// disabled flag. Administrators cannot demote, disable or delete
// themselves.
func (a *API) UpdateUser(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJSON[UpdateUserRequest](w, r, maxAuthBodySize)
	if !ok {
		return
	}
	if req.Role != nil && !req.Role.Valid() {
		writeError(w, http.StatusBadRequest, "unknown role")
		return
	}
	id := chi.URLParam(r, "id")
	cur := a.records.Users.Get(r.Context(), id)
	if !cur.Success {
		mapError(w, cur.Err)
		return
	}
	u := cur.Data
	self := u.UID != "" && u.UID == actor(r)
	if self && ((req.Role != nil && *req.Role != records.RoleAdmin) || (req.Disabled != nil && *req.Disabled)) {
		writeError(w, http.StatusConflict, "you cannot remove your own administrator access")
		return
	}
	roleChanged := req.Role != nil && *req.Role != u.Role

	if u.UID != "" {
		if roleChanged {
			if _, err := a.svc.SetAdmin(r.Context(), u.UID, *req.Role == records.RoleAdmin); err != nil {
				mapError(w, err)
				return
			}
		}
		if req.Disabled != nil && *req.Disabled != u.Disabled {
			if _, err := a.svc.SetDisabled(r.Context(), u.UID, *req.Disabled); err != nil {
				mapError(w, err)
				return
			}
		}
	}

	res := a.records.Users.Modify(r.Context(), id, func(u *records.User) error {
		if req.DisplayName != nil {
			u.DisplayName = strings.TrimSpace(*req.DisplayName)
		}
		if req.Role != nil {
			u.Role = *req.Role
		}
		if req.Disabled != nil {
			u.Disabled = *req.Disabled
		}
		return nil
	})
	if !res.Success {
		mapError(w, res.Err)
		return
	}
	if roleChanged {
		a.recordChange(r, AuditRoleChanged, records.UsersCollection, id, string(res.Data.Role))
	}
	a.recordChange(r, AuditUserUpdated, records.UsersCollection, id, res.Data.Email)
	writeJSON(w, http.StatusOK, userResponse(res.Data, a.accountOf(r, res.Data)))
}

// DeleteUser handles DELETE /admin/users/{id}. The identity account is
// deleted too, which ends every session it holds.
func (a *API) DeleteUser(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	cur := a.records.Users.Get(r.Context(), id)
	if !cur.Success {
		mapError(w, cur.Err)
		return
	}
	u := cur.Data
	if u.UID != "" && u.UID == actor(r) {
		writeError(w, http.StatusConflict, "you cannot delete your own account")
		return
	}
	if u.UID != "" {
		if err := a.svc.DeleteAccount(r.Context(), u.UID); err != nil && !errors.Is(err, local.ErrAccountNotFound) {
			mapError(w, err)
			return
		}
	}
	if res := a.records.Users.Delete(r.Context(), id); !res.Success {
		mapError(w, res.Err)
		return
	}
	a.recordChange(r, AuditUserDeleted, records.UsersCollection, id, u.Email)
	w.WriteHeader(http.StatusNoContent)
}

// ---------------------------------------------------------------------------
// Applications
// ---------------------------------------------------------------------------

// ListApplications handles GET /admin/applications?status=....
func (a *API) ListApplications(w http.ResponseWriter, r *http.Request) {
	res := a.records.Applications.List(r.Context())
	if !res.Success {
		mapError(w, res.Err)
		return
	}
	apps := res.Data
	if status := records.Status(r.URL.Query().Get("status")); status != "" {
		if !status.Valid() {
			writeError(w, http.StatusBadRequest, "unknown status")
			return
		}
		apps = records.ApplicationsByStatus(apps, status)
	}
	page, meta := paginate(r, apps)
	writeJSON(w, http.StatusOK, ListApplicationsResponse{Applications: page, PaginationMeta: meta})
}

// GetApplication handles GET /admin/applications/{id}.
func (a *API) GetApplication(w http.ResponseWriter, r *http.Request) {
	writeResult(w, http.StatusOK, a.records.Applications.Get(r.Context(), chi.URLParam(r, "id")))
}

// ReviewApplication handles POST /admin/applications/{id}/review. The
// response carries a mailto link that notifies the applicant.
func (a *API) ReviewApplication(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJSON[ReviewRequest](w, r, maxRecordBodySize)
	if !ok {
		return
	}
	res := a.records.ReviewApplication(r.Context(), chi.URLParam(r, "id"), req.Decision, actor(r), req.Note)
	if !res.Success {
		mapError(w, res.Err)
		return
	}
	link, err := a.composer.Decision(res.Data)
	if err != nil {
		a.logger.Warn("composing decision mail", "application_id", res.Data.ID, "error", err)
	}
	a.recordChange(r, AuditApplicationReview, records.ApplicationsCollection, res.Data.ID, string(res.Data.Status))
	writeJSON(w, http.StatusOK, ReviewResponse{Application: res.Data, Mailto: link})
}

// DeleteApplication handles DELETE /admin/applications/{id}.
func (a *API) DeleteApplication(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if res := a.records.Applications.Delete(r.Context(), id); !res.Success {
		mapError(w, res.Err)
		return
	}
	a.recordChange(r, AuditApplicationDeleted, records.ApplicationsCollection, id, "")
	w.WriteHeader(http.StatusNoContent)
}

// ListActivity handles GET /admin/activity, newest first.
func (a *API) ListActivity(w http.ResponseWriter, r *http.Request) {
	entries, err := a.activity.list()
	if err != nil {
		writeInternalError(w, "failed to load activity", err)
		return
	}
	page, meta := paginate(r, entries)
	writeJSON(w, http.StatusOK, ListActivityResponse{Entries: page, PaginationMeta: meta})
}
