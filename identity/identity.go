// Package identity defines the boundary between the site and the identity
// provider that verifies credentials and issues session tokens.
package identity

import (
	"context"
	"time"
)

// Metadata carries provider-issued timestamps for a principal.
type Metadata struct {
	CreationTime    time.Time `json:"creation_time"`
	LastSignInTime  time.Time `json:"last_sign_in_time"`
	LastRefreshTime time.Time `json:"last_refresh_time"`
}

// Principal is the identity object a provider reports for a signed-in user.
type Principal struct {
	UID           string   `json:"uid"`
	Email         string   `json:"email,omitempty"`
	DisplayName   string   `json:"display_name,omitempty"`
	EmailVerified bool     `json:"email_verified"`
	Metadata      Metadata `json:"metadata"`
	RefreshToken  string   `json:"-"`
}

// Clone returns a deep copy of p. A nil receiver yields nil.
func (p *Principal) Clone() *Principal {
	if p == nil {
		return nil
	}
	c := *p
	return &c
}

// Claims are the decoded security claims of a provider-issued token.
type Claims map[string]any

// Listener receives principal changes. A nil principal means signed out.
type Listener func(p *Principal)

// Provider is the identity provider as consumed by the session layer.
type Provider interface {
	// Subscribe registers fn for every principal change and returns a
	// function that removes the registration. The first event (the restored
	// principal, or nil) is delivered asynchronously after Subscribe returns.
	Subscribe(fn Listener) (unsubscribe func())
	// VerifyCredentials performs a one-shot credential check. On success the
	// new principal has already been pushed to every subscriber.
	VerifyCredentials(ctx context.Context, email, password string) (*Principal, error)
	// EndSession invalidates the current session with the provider.
	EndSession(ctx context.Context) error
	// FetchClaims returns the current security claims for p. When
	// forceRefresh is set the provider must not answer from a cached token.
	FetchClaims(ctx context.Context, p *Principal, forceRefresh bool) (Claims, error)
}
