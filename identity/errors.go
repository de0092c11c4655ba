package identity

import "errors"

var (
	// ErrInvalidCredentials indicates the email or password did not match an account.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountDisabled indicates the account exists but may not sign in.
	ErrAccountDisabled = errors.New("account disabled")
	// ErrNoSession indicates an operation requires a signed-in principal.
	ErrNoSession = errors.New("no active session")
	// ErrSessionRevoked indicates the refresh token is no longer valid.
	ErrSessionRevoked = errors.New("session revoked")
	// ErrTokenInvalid indicates a token failed signature or claim validation.
	ErrTokenInvalid = errors.New("invalid token")
	// ErrUnavailable indicates the provider could not complete the request.
	ErrUnavailable = errors.New("identity provider unavailable")
)
