package api

import (
	"github.com/jmcleod/clubhouse/guard"
	"github.com/jmcleod/clubhouse/identity/local"
	"github.com/jmcleod/clubhouse/records"
	"github.com/jmcleod/clubhouse/session"
)

// ErrorResponse is the body of every non-2xx JSON response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// LoginRequest is the JSON body for POST /auth/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResponse is returned from POST /auth/login.
type LoginResponse struct {
	Message string        `json:"message"`
	State   session.State `json:"state"`
}

// LogoutResponse is returned from POST /auth/logout.
type LogoutResponse struct {
	Message string `json:"message"`
}

// SessionResponse is returned from GET /auth/session.
type SessionResponse struct {
	session.State
}

// GuardResponse is returned from GET /auth/guard.
type GuardResponse struct {
	guard.Outcome
}

// ListEventsResponse is returned from GET /events and GET /admin/events.
type ListEventsResponse struct {
	Events []records.Event `json:"events"`
	PaginationMeta
}

// ListMembersResponse is returned from GET /members.
type ListMembersResponse struct {
	Members []records.Member `json:"members"`
	PaginationMeta
}

// ApplicationRequest is the JSON body for POST /applications.
type ApplicationRequest struct {
	Name       string   `json:"name"`
	Email      string   `json:"email"`
	Major      string   `json:"major,omitempty"`
	Year       string   `json:"year,omitempty"`
	Interests  []string `json:"interests,omitempty"`
	Motivation string   `json:"motivation"`
}

// ApplicationResponse is returned from POST /applications.
type ApplicationResponse struct {
	ID      string `json:"id"`
	Message string `json:"message"`
}

// ListApplicationsResponse is returned from GET /admin/applications.
type ListApplicationsResponse struct {
	Applications []records.Application `json:"applications"`
	PaginationMeta
}

// ReviewRequest is the JSON body for POST /admin/applications/{id}/review.
type ReviewRequest struct {
	Decision records.Status `json:"decision"`
	Note     string         `json:"note,omitempty"`
}

// ReviewResponse carries the reviewed application and a mailto link that
// notifies the applicant.
type ReviewResponse struct {
	Application records.Application `json:"application"`
	Mailto      string              `json:"mailto"`
}

// ContactResponse is returned from POST /contact.
type ContactResponse struct {
	Mailto string `json:"mailto"`
}

// CreateUserRequest is the JSON body for POST /admin/users.
type CreateUserRequest struct {
	Email       string       `json:"email"`
	DisplayName string       `json:"display_name,omitempty"`
	Password    string       `json:"password"`
	Role        records.Role `json:"role"`
}

// UpdateUserRequest is the JSON body for PATCH /admin/users/{id}. Omitted
// fields are left unchanged.
type UpdateUserRequest struct {
	DisplayName *string       `json:"display_name,omitempty"`
	Role        *records.Role `json:"role,omitempty"`
	Disabled    *bool         `json:"disabled,omitempty"`
}

// UserResponse is a user record together with its identity account as a
// session snapshot.
type UserResponse struct {
	records.User
	Account *session.Session `json:"account,omitempty"`
}

// ListUsersResponse is returned from GET /admin/users.
type ListUsersResponse struct {
	Users []UserResponse `json:"users"`
	PaginationMeta
}

// ListActivityResponse is returned from GET /admin/activity.
type ListActivityResponse struct {
	Entries []ActivityEntry `json:"entries"`
	PaginationMeta
}

func userResponse(u records.User, acct *local.Account) UserResponse {
	resp := UserResponse{User: u}
	if acct != nil {
		s := session.Project(session.StoredRecord{
			ID:          acct.UID,
			Email:       acct.Email,
			Name:        acct.DisplayName,
			Verified:    acct.EmailVerified,
			CreatedAt:   acct.CreatedAt,
			LastLoginAt: acct.LastSignInAt,
			RefreshedAt: acct.LastRefreshAt,
		})
		resp.Account = &s
	}
	return resp
}
