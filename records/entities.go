package records

import (
	"fmt"
	"net/mail"
	"net/url"
	"strings"
	"time"
)

// Collection names.
const (
	EventsCollection       = "events"
	MembersCollection      = "members"
	UsersCollection        = "users"
	ApplicationsCollection = "applications"
)

// Event is a club event.
type Event struct {
	Meta
	Title           string    `json:"title"`
	Description     string    `json:"description,omitempty"`
	Location        string    `json:"location,omitempty"`
	Category        string    `json:"category,omitempty"`
	StartsAt        time.Time `json:"starts_at"`
	EndsAt          time.Time `json:"ends_at,omitzero"`
	ImageURL        string    `json:"image_url,omitempty"`
	RegistrationURL string    `json:"registration_url,omitempty"`
}

func (e *Event) Validate() error {
	if strings.TrimSpace(e.Title) == "" {
		return invalid("title is required")
	}
	if e.StartsAt.IsZero() {
		return invalid("starts_at is required")
	}
	if !e.EndsAt.IsZero() && e.EndsAt.Before(e.StartsAt) {
		return invalid("ends_at must not be before starts_at")
	}
	if err := checkURL("image_url", e.ImageURL); err != nil {
		return err
	}
	return checkURL("registration_url", e.RegistrationURL)
}

// Member is an entry in the public member directory.
type Member struct {
	Meta
	Name      string `json:"name"`
	Role      string `json:"role"`
	Major     string `json:"major,omitempty"`
	Year      string `json:"year,omitempty"`
	Email     string `json:"email,omitempty"`
	Bio       string `json:"bio,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty"`
	GitHub    string `json:"github,omitempty"`
	LinkedIn  string `json:"linkedin,omitempty"`
}

func (m *Member) Validate() error {
	if strings.TrimSpace(m.Name) == "" {
		return invalid("name is required")
	}
	if strings.TrimSpace(m.Role) == "" {
		return invalid("role is required")
	}
	if m.Email != "" {
		if err := checkEmail(m.Email); err != nil {
			return err
		}
	}
	for field, v := range map[string]string{"avatar_url": m.AvatarURL, "github": m.GitHub, "linkedin": m.LinkedIn} {
		if err := checkURL(field, v); err != nil {
			return err
		}
	}
	return nil
}

// Role is a dashboard user role.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool { return r == RoleAdmin || r == RoleMember }

// User is the site's record of an account holder. UID links it to the
// identity account.
type User struct {
	Meta
	UID         string `json:"uid,omitempty"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name,omitempty"`
	Role        Role   `json:"role"`
	Disabled    bool   `json:"disabled"`
}

func (u *User) Validate() error {
	if err := checkEmail(u.Email); err != nil {
		return err
	}
	if !u.Role.Valid() {
		return invalid(fmt.Sprintf("role must be %q or %q", RoleAdmin, RoleMember))
	}
	return nil
}

// Status is the review state of a join application.
type Status string

const (
	StatusPending  Status = "pending"
	StatusAccepted Status = "accepted"
	StatusRejected Status = "rejected"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s == StatusPending || s == StatusAccepted || s == StatusRejected
}

// Application is a request to join the club.
type Application struct {
	Meta
	Name       string    `json:"name"`
	Email      string    `json:"email"`
	Major      string    `json:"major,omitempty"`
	Year       string    `json:"year,omitempty"`
	Interests  []string  `json:"interests,omitempty"`
	Motivation string    `json:"motivation"`
	Status     Status    `json:"status"`
	ReviewedBy string    `json:"reviewed_by,omitempty"`
	ReviewNote string    `json:"review_note,omitempty"`
	ReviewedAt time.Time `json:"reviewed_at,omitzero"`
}

func (a *Application) Validate() error {
	if strings.TrimSpace(a.Name) == "" {
		return invalid("name is required")
	}
	if err := checkEmail(a.Email); err != nil {
		return err
	}
	if strings.TrimSpace(a.Motivation) == "" {
		return invalid("motivation is required")
	}
	if !a.Status.Valid() {
		return invalid(fmt.Sprintf("unknown status %q", a.Status))
	}
	return nil
}

func invalid(msg string) error {
	return fmt.Errorf("%w: %s", ErrValidation, msg)
}

func checkEmail(s string) error {
	if s == "" {
		return invalid("email is required")
	}
	addr, err := mail.ParseAddress(s)
	if err != nil || addr.Address != s {
		return invalid(fmt.Sprintf("invalid email %q", s))
	}
	return nil
}

func checkURL(field, s string) error {
	if s == "" {
		return nil
	}
	u, err := url.ParseRequestURI(s)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return invalid(fmt.Sprintf("%s must be an http(s) URL", field))
	}
	return nil
}
