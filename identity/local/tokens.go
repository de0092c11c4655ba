package local

import (
	"context"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/jmcleod/clubhouse/identity"
)

// tokenClaims is the payload of a minted ID token.
type tokenClaims struct {
	jwt.RegisteredClaims
	Email    string `json:"email,omitempty"`
	Name     string `json:"name,omitempty"`
	Admin    bool   `json:"admin"`
	AuthTime int64  `json:"auth_time"`
}

// IDToken returns a signed ID token for the refresh-token session. A cached
// token is reused until it nears expiry unless forceRefresh is set, in which
// case a new token is minted from the current account state.
func (s *Service) IDToken(ctx context.Context, refreshToken string, forceRefresh bool) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	rt, rec, err := s.validRefresh(refreshToken)
	if err != nil {
		return "", err
	}
	now := s.now()
	if !forceRefresh {
		s.cacheMu.Lock()
		c, ok := s.cache[refreshToken]
		s.cacheMu.Unlock()
		if ok && now.Add(tokenRenewWindow).Before(c.expiresAt) {
			return c.raw, nil
		}
	}

	exp := now.Add(s.tokenTTL)
	claims := tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   rec.UID,
			Audience:  jwt.ClaimStrings{s.issuer},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		Email:    rec.Email,
		Name:     rec.DisplayName,
		Admin:    rec.Admin,
		AuthTime: rt.AuthTime.Unix(),
	}

	buf, err := s.signingKey.Open()
	if err != nil {
		return "", fmt.Errorf("opening signing key: %w", err)
	}
	defer buf.Destroy()
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(buf.Bytes())
	if err != nil {
		return "", fmt.Errorf("signing id token: %w", err)
	}

	s.cacheMu.Lock()
	s.cache[refreshToken] = cachedToken{raw: raw, expiresAt: exp}
	s.cacheMu.Unlock()
	return raw, nil
}

// VerifyIDToken validates signature, issuer, audience and lifetime of raw and
// returns its claims.
func (s *Service) VerifyIDToken(ctx context.Context, raw string) (identity.Claims, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if raw == "" {
		return nil, identity.ErrTokenInvalid
	}
	buf, err := s.signingKey.Open()
	if err != nil {
		return nil, fmt.Errorf("opening signing key: %w", err)
	}
	defer buf.Destroy()

	claims := jwt.MapClaims{}
	_, err = jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		return buf.Bytes(), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithAudience(s.issuer),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", identity.ErrTokenInvalid, err)
	}
	return identity.Claims(claims), nil
}

func (s *Service) invalidateTokensFor(uid string) {
	tokens, err := s.repo.List(refreshTokensCollection)
	if err != nil {
		// Fall back to dropping every cached token.
		s.cacheMu.Lock()
		s.cache = make(map[string]cachedToken)
		s.cacheMu.Unlock()
		return
	}
	for _, token := range tokens {
		rt, err := s.loadRefresh(token)
		if err != nil || rt.UID != uid {
			continue
		}
		s.cacheMu.Lock()
		delete(s.cache, token)
		s.cacheMu.Unlock()
	}
}
