// Package session holds the signed-in state of one browser session and
// distributes it to every consumer. A Broadcaster owns the only provider
// subscription; a Store inside it applies provider events and authorization
// results one at a time and replaces the published State wholesale.
package session

import (
	"time"

	"github.com/jmcleod/clubhouse/identity"
)

// Session is the canonical shape of the signed-in principal. The zero value
// is the unauthenticated session.
type Session struct {
	UID             string    `json:"uid,omitempty"`
	Email           string    `json:"email,omitempty"`
	DisplayName     string    `json:"display_name,omitempty"`
	EmailVerified   bool      `json:"email_verified"`
	CreationTime    time.Time `json:"creation_time,omitzero"`
	LastSignInTime  time.Time `json:"last_sign_in_time,omitzero"`
	LastRefreshTime time.Time `json:"last_refresh_time,omitzero"`
	RefreshToken    string    `json:"-"`
}

// Unauthenticated is the session reported when nobody is signed in.
var Unauthenticated = Session{}

// Authenticated reports whether s identifies a principal.
func (s Session) Authenticated() bool { return s.UID != "" }

// Equal reports whether s and o describe the same principal state.
func (s Session) Equal(o Session) bool {
	return s.UID == o.UID &&
		s.Email == o.Email &&
		s.DisplayName == o.DisplayName &&
		s.EmailVerified == o.EmailVerified &&
		s.CreationTime.Equal(o.CreationTime) &&
		s.LastSignInTime.Equal(o.LastSignInTime) &&
		s.LastRefreshTime.Equal(o.LastRefreshTime) &&
		s.RefreshToken == o.RefreshToken
}

// Principal converts s back to the provider's shape for claim lookups. The
// unauthenticated session has no principal.
func (s Session) Principal() *identity.Principal {
	if !s.Authenticated() {
		return nil
	}
	return &identity.Principal{
		UID:           s.UID,
		Email:         s.Email,
		DisplayName:   s.DisplayName,
		EmailVerified: s.EmailVerified,
		Metadata: identity.Metadata{
			CreationTime:    s.CreationTime,
			LastSignInTime:  s.LastSignInTime,
			LastRefreshTime: s.LastRefreshTime,
		},
		RefreshToken: s.RefreshToken,
	}
}

// Input is a source shape that Project can map to a Session. It is sealed:
// only ProviderPrincipal and StoredRecord implement it.
type Input interface {
	sessionInput()
}

// ProviderPrincipal wraps a principal pushed by the identity provider. A nil
// Principal means signed out.
type ProviderPrincipal struct {
	Principal *identity.Principal
}

// StoredRecord is a session snapshot as written to persistent records.
type StoredRecord struct {
	ID          string    `json:"id"`
	Email       string    `json:"email,omitempty"`
	Name        string    `json:"name,omitempty"`
	Verified    bool      `json:"verified,omitempty"`
	CreatedAt   time.Time `json:"created_at,omitzero"`
	LastLoginAt time.Time `json:"last_login_at,omitzero"`
	RefreshedAt time.Time `json:"refreshed_at,omitzero"`
}

func (ProviderPrincipal) sessionInput() {}
func (StoredRecord) sessionInput()      {}

// Project maps in to the canonical Session. Missing optional fields take
// their zero value; a nil or empty-identifier input yields Unauthenticated.
func Project(in Input) Session {
	switch v := in.(type) {
	case ProviderPrincipal:
		p := v.Principal
		if p == nil || p.UID == "" {
			return Unauthenticated
		}
		return Session{
			UID:             p.UID,
			Email:           p.Email,
			DisplayName:     p.DisplayName,
			EmailVerified:   p.EmailVerified,
			CreationTime:    p.Metadata.CreationTime,
			LastSignInTime:  p.Metadata.LastSignInTime,
			LastRefreshTime: p.Metadata.LastRefreshTime,
			RefreshToken:    p.RefreshToken,
		}
	case StoredRecord:
		if v.ID == "" {
			return Unauthenticated
		}
		return Session{
			UID:             v.ID,
			Email:           v.Email,
			DisplayName:     v.Name,
			EmailVerified:   v.Verified,
			CreationTime:    v.CreatedAt,
			LastSignInTime:  v.LastLoginAt,
			LastRefreshTime: v.RefreshedAt,
			RefreshToken:    "",
		}
	default:
		return Unauthenticated
	}
}
