// Package local implements the club's identity provider in-process: password
// accounts, refresh-token sessions and signed ID tokens carrying the admin
// claim. Service is the server side; Client adapts one browser session to
// identity.Provider.
package local

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/awnumar/memguard"

	"github.com/jmcleod/clubhouse/identity"
	"github.com/jmcleod/clubhouse/internal/util"
	"github.com/jmcleod/clubhouse/internal/uuid"
	"github.com/jmcleod/clubhouse/storage"
)

const (
	accountsCollection      = "__accounts"
	accountEmailsCollection = "__account_emails"
	refreshTokensCollection = "__refresh_tokens"

	minPasswordLen    = 6
	defaultIssuer     = "clubhouse"
	defaultTokenTTL   = time.Hour
	defaultRefreshTTL = 30 * 24 * time.Hour
	signingKeySize    = 32
	tokenRenewWindow  = time.Minute
)

var (
	// ErrAccountNotFound indicates no account has the requested UID.
	ErrAccountNotFound = errors.New("account not found")
	// ErrEmailTaken indicates another account already uses the email.
	ErrEmailTaken = errors.New("email already in use")
	// ErrInvalidEmail indicates the email address could not be parsed.
	ErrInvalidEmail = errors.New("invalid email address")
	// ErrWeakPassword indicates the password is shorter than the minimum.
	ErrWeakPassword = fmt.Errorf("password must be at least %d characters", minPasswordLen)
)

// Account is the public view of a stored account.
type Account struct {
	UID           string    `json:"uid"`
	Email         string    `json:"email"`
	DisplayName   string    `json:"display_name,omitempty"`
	EmailVerified bool      `json:"email_verified"`
	Admin         bool      `json:"admin"`
	Disabled      bool      `json:"disabled"`
	CreatedAt     time.Time `json:"created_at"`
	LastSignInAt  time.Time `json:"last_sign_in_at,omitempty"`
	LastRefreshAt time.Time `json:"last_refresh_at,omitempty"`
}

// AccountInput describes a new account.
type AccountInput struct {
	Email       string
	Password    string
	DisplayName string
	Admin       bool
}

type accountRecord struct {
	Account
	Password util.PasswordHash `json:"password"`
}

type refreshRecord struct {
	Token    string    `json:"token"`
	UID      string    `json:"uid"`
	AuthTime time.Time `json:"auth_time"`
}

// Option configures a Service.
type Option func(*Service)

// WithIssuer sets the iss claim of minted ID tokens.
func WithIssuer(issuer string) Option {
	return func(s *Service) { s.issuer = issuer }
}

// WithTokenTTL sets how long an ID token stays valid.
func WithTokenTTL(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.tokenTTL = d
		}
	}
}

// WithRefreshTTL sets how long a refresh token stays usable after the
// sign-in that issued it.
func WithRefreshTTL(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.refreshTTL = d
		}
	}
}

// WithArgon2idParams sets the password hashing cost.
func WithArgon2idParams(p util.Argon2idParams) Option {
	return func(s *Service) { s.params = p }
}

// WithSigningKey sets the HS256 signing key. The slice is wiped.
func WithSigningKey(key []byte) Option {
	return func(s *Service) { s.signingKey = memguard.NewEnclave(key) }
}

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// Service owns accounts, refresh tokens and token signing.
type Service struct {
	repo       storage.Repository
	issuer     string
	tokenTTL   time.Duration
	refreshTTL time.Duration
	params     util.Argon2idParams
	signingKey *memguard.Enclave
	logger     *slog.Logger
	now        func() time.Time

	mu sync.Mutex // serializes account and refresh-token writes

	cacheMu sync.Mutex
	cache   map[string]cachedToken // refresh token -> last minted ID token

	clientsMu sync.Mutex
	clients   map[string]map[*Client]struct{} // uid -> attached clients
}

type cachedToken struct {
	raw       string
	expiresAt time.Time
}

// New creates a Service over repo. Without WithSigningKey a random key is
// generated, so ID tokens do not survive a restart; refresh tokens do.
func New(repo storage.Repository, opts ...Option) (*Service, error) {
	s := &Service{
		repo:       repo,
		issuer:     defaultIssuer,
		tokenTTL:   defaultTokenTTL,
		refreshTTL: defaultRefreshTTL,
		params:     util.DefaultArgon2idParams(),
		logger:     slog.Default(),
		now:        time.Now,
		cache:      make(map[string]cachedToken),
		clients:    make(map[string]map[*Client]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := util.ValidateArgon2idParams(s.params); err != nil {
		return nil, err
	}
	if s.signingKey == nil {
		s.signingKey = memguard.NewEnclaveRandom(signingKeySize)
	}
	s.logger = s.logger.With("component", "identity")
	return s, nil
}

// CreateAccount registers a new password account.
func (s *Service) CreateAccount(ctx context.Context, in AccountInput) (Account, error) {
	if err := ctx.Err(); err != nil {
		return Account{}, err
	}
	email := util.NormalizeEmail(in.Email)
	if _, err := mail.ParseAddress(email); err != nil || !strings.Contains(email, "@") {
		return Account{}, ErrInvalidEmail
	}
	if len([]rune(in.Password)) < minPasswordLen {
		return Account{}, ErrWeakPassword
	}
	hash, err := util.HashPassword(in.Password, s.params)
	if err != nil {
		return Account{}, fmt.Errorf("hashing password: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.repo.Get(accountEmailsCollection, email); err == nil {
		return Account{}, ErrEmailTaken
	} else if !errors.Is(err, storage.ErrNotFound) {
		return Account{}, unavailable(err)
	}

	rec := accountRecord{
		Account: Account{
			UID:         uuid.New(),
			Email:       email,
			DisplayName: strings.TrimSpace(in.DisplayName),
			Admin:       in.Admin,
			CreatedAt:   s.now().UTC(),
		},
		Password: hash,
	}
	if err := s.putAccount(rec); err != nil {
		return Account{}, err
	}
	idx, _ := json.Marshal(rec.UID)
	if err := s.repo.Put(accountEmailsCollection, email, idx); err != nil {
		_ = s.repo.Delete(accountsCollection, rec.UID)
		return Account{}, unavailable(err)
	}
	s.logger.Info("account created", "account_id", rec.UID, "admin", rec.Admin)
	return rec.Account, nil
}

// GetAccount returns the account with the given UID.
func (s *Service) GetAccount(ctx context.Context, uid string) (Account, error) {
	if err := ctx.Err(); err != nil {
		return Account{}, err
	}
	rec, err := s.loadAccount(uid)
	if err != nil {
		return Account{}, err
	}
	return rec.Account, nil
}

// GetAccountByEmail returns the account registered under email.
func (s *Service) GetAccountByEmail(ctx context.Context, email string) (Account, error) {
	if err := ctx.Err(); err != nil {
		return Account{}, err
	}
	rec, err := s.loadAccountByEmail(util.NormalizeEmail(email))
	if err != nil {
		return Account{}, err
	}
	return rec.Account, nil
}

// ListAccounts returns every account ordered by email.
func (s *Service) ListAccounts(ctx context.Context) ([]Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ids, err := s.repo.List(accountsCollection)
	if err != nil {
		return nil, unavailable(err)
	}
	out := make([]Account, 0, len(ids))
	for _, id := range ids {
		rec, err := s.loadAccount(id)
		if errors.Is(err, ErrAccountNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, rec.Account)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	return out, nil
}

// SetAdmin sets the admin custom claim. Attached clients are pushed a
// refreshed principal so their sessions re-evaluate authorization.
func (s *Service) SetAdmin(ctx context.Context, uid string, admin bool) (Account, error) {
	if err := ctx.Err(); err != nil {
		return Account{}, err
	}
	s.mu.Lock()
	rec, err := s.loadAccount(uid)
	if err != nil {
		s.mu.Unlock()
		return Account{}, err
	}
	rec.Admin = admin
	rec.LastRefreshAt = s.now().UTC()
	err = s.putAccount(rec)
	s.mu.Unlock()
	if err != nil {
		return Account{}, err
	}

	s.invalidateTokensFor(uid)
	for _, c := range s.attached(uid) {
		c.refreshed(rec.Account)
	}
	s.logger.Info("admin claim updated", "account_id", uid, "admin", admin)
	return rec.Account, nil
}

// SetDisabled enables or disables sign-in. Disabling revokes every session
// of the account.
func (s *Service) SetDisabled(ctx context.Context, uid string, disabled bool) (Account, error) {
	if err := ctx.Err(); err != nil {
		return Account{}, err
	}
	s.mu.Lock()
	rec, err := s.loadAccount(uid)
	if err != nil {
		s.mu.Unlock()
		return Account{}, err
	}
	rec.Disabled = disabled
	err = s.putAccount(rec)
	s.mu.Unlock()
	if err != nil {
		return Account{}, err
	}
	if disabled {
		s.revokeAll(uid)
	}
	s.logger.Info("account disabled state changed", "account_id", uid, "disabled", disabled)
	return rec.Account, nil
}

// SetPassword replaces the account password and revokes its sessions.
func (s *Service) SetPassword(ctx context.Context, uid, password string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len([]rune(password)) < minPasswordLen {
		return ErrWeakPassword
	}
	hash, err := util.HashPassword(password, s.params)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}
	s.mu.Lock()
	rec, err := s.loadAccount(uid)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	rec.Password = hash
	err = s.putAccount(rec)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.revokeAll(uid)
	return nil
}

// DeleteAccount removes the account and revokes its sessions.
func (s *Service) DeleteAccount(ctx context.Context, uid string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	rec, err := s.loadAccount(uid)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if err := s.repo.Delete(accountsCollection, uid); err != nil && !errors.Is(err, storage.ErrNotFound) {
		s.mu.Unlock()
		return unavailable(err)
	}
	_ = s.repo.Delete(accountEmailsCollection, rec.Email)
	s.mu.Unlock()

	s.revokeAll(uid)
	s.logger.Info("account deleted", "account_id", uid)
	return nil
}

// SignIn verifies email and password and opens a new refresh-token session.
func (s *Service) SignIn(ctx context.Context, email, password string) (*identity.Principal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rec, err := s.loadAccountByEmail(util.NormalizeEmail(email))
	if errors.Is(err, ErrAccountNotFound) {
		// Hash anyway so unknown emails cost as much as wrong passwords.
		_, _ = util.HashPassword(password, s.params)
		return nil, identity.ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	ok, err := util.VerifyPassword(password, rec.Password)
	if err != nil || !ok {
		return nil, identity.ErrInvalidCredentials
	}
	if rec.Disabled {
		return nil, identity.ErrAccountDisabled
	}

	now := s.now().UTC()
	s.mu.Lock()
	rec, err = s.loadAccount(rec.UID)
	if err == nil {
		rec.LastSignInAt = now
		rec.LastRefreshAt = now
		err = s.putAccount(rec)
	}
	s.mu.Unlock()
	if errors.Is(err, ErrAccountNotFound) {
		return nil, identity.ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}

	rt := refreshRecord{Token: uuid.New(), UID: rec.UID, AuthTime: now}
	data, _ := json.Marshal(rt)
	if err := s.repo.Put(refreshTokensCollection, rt.Token, data); err != nil {
		return nil, unavailable(err)
	}
	s.logger.Info("signed in", "account_id", rec.UID)
	return principalFor(rec.Account, rt.Token), nil
}

// Resume returns the principal for an existing refresh token.
func (s *Service) Resume(ctx context.Context, refreshToken string) (*identity.Principal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	_, rec, err := s.validRefresh(refreshToken)
	if err != nil {
		return nil, err
	}
	return principalFor(rec.Account, refreshToken), nil
}

// Revoke invalidates a refresh token and signs out every client using it.
func (s *Service) Revoke(ctx context.Context, refreshToken string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	rt, err := s.loadRefresh(refreshToken)
	if err != nil {
		return err
	}
	s.revokeToken(rt)
	return nil
}

func (s *Service) revokeAll(uid string) {
	tokens, err := s.repo.List(refreshTokensCollection)
	if err != nil {
		s.logger.Warn("listing refresh tokens", "account_id", uid, "error", err)
		return
	}
	for _, token := range tokens {
		rt, err := s.loadRefresh(token)
		if err != nil || rt.UID != uid {
			continue
		}
		s.revokeToken(rt)
	}
}

func (s *Service) revokeToken(rt refreshRecord) {
	_ = s.repo.Delete(refreshTokensCollection, rt.Token)
	s.cacheMu.Lock()
	delete(s.cache, rt.Token)
	s.cacheMu.Unlock()
	for _, c := range s.attached(rt.UID) {
		c.revoked(rt.Token)
	}
}

// validRefresh loads a refresh token and its account, revoking the token
// when the account is gone or disabled.
func (s *Service) validRefresh(token string) (refreshRecord, accountRecord, error) {
	rt, err := s.loadRefresh(token)
	if err != nil {
		return refreshRecord{}, accountRecord{}, err
	}
	if s.now().Sub(rt.AuthTime) > s.refreshTTL {
		s.revokeToken(rt)
		return refreshRecord{}, accountRecord{}, identity.ErrSessionRevoked
	}
	rec, err := s.loadAccount(rt.UID)
	if errors.Is(err, ErrAccountNotFound) {
		s.revokeToken(rt)
		return refreshRecord{}, accountRecord{}, identity.ErrSessionRevoked
	}
	if err != nil {
		return refreshRecord{}, accountRecord{}, err
	}
	if rec.Disabled {
		s.revokeToken(rt)
		return refreshRecord{}, accountRecord{}, identity.ErrAccountDisabled
	}
	return rt, rec, nil
}

func (s *Service) loadRefresh(token string) (refreshRecord, error) {
	if token == "" {
		return refreshRecord{}, identity.ErrNoSession
	}
	data, err := s.repo.Get(refreshTokensCollection, token)
	if errors.Is(err, storage.ErrNotFound) {
		return refreshRecord{}, identity.ErrSessionRevoked
	}
	if err != nil {
		return refreshRecord{}, unavailable(err)
	}
	var rt refreshRecord
	if err := json.Unmarshal(data, &rt); err != nil {
		return refreshRecord{}, fmt.Errorf("decoding refresh token: %w", err)
	}
	return rt, nil
}

func (s *Service) loadAccount(uid string) (accountRecord, error) {
	if uid == "" {
		return accountRecord{}, ErrAccountNotFound
	}
	data, err := s.repo.Get(accountsCollection, uid)
	if errors.Is(err, storage.ErrNotFound) {
		return accountRecord{}, ErrAccountNotFound
	}
	if err != nil {
		return accountRecord{}, unavailable(err)
	}
	var rec accountRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return accountRecord{}, fmt.Errorf("decoding account %s: %w", uid, err)
	}
	return rec, nil
}

func (s *Service) loadAccountByEmail(email string) (accountRecord, error) {
	data, err := s.repo.Get(accountEmailsCollection, email)
	if errors.Is(err, storage.ErrNotFound) {
		return accountRecord{}, ErrAccountNotFound
	}
	if err != nil {
		return accountRecord{}, unavailable(err)
	}
	var uid string
	if err := json.Unmarshal(data, &uid); err != nil {
		return accountRecord{}, fmt.Errorf("decoding email index: %w", err)
	}
	return s.loadAccount(uid)
}

func (s *Service) putAccount(rec accountRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding account: %w", err)
	}
	if err := s.repo.Put(accountsCollection, rec.UID, data); err != nil {
		return unavailable(err)
	}
	return nil
}

func (s *Service) attach(uid string, c *Client) {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	set := s.clients[uid]
	if set == nil {
		set = make(map[*Client]struct{})
		s.clients[uid] = set
	}
	set[c] = struct{}{}
}

func (s *Service) detach(uid string, c *Client) {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	set := s.clients[uid]
	delete(set, c)
	if len(set) == 0 {
		delete(s.clients, uid)
	}
}

func (s *Service) attached(uid string) []*Client {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	out := make([]*Client, 0, len(s.clients[uid]))
	for c := range s.clients[uid] {
		out = append(out, c)
	}
	return out
}

func principalFor(a Account, refreshToken string) *identity.Principal {
	return &identity.Principal{
		UID:           a.UID,
		Email:         a.Email,
		DisplayName:   a.DisplayName,
		EmailVerified: a.EmailVerified,
		Metadata: identity.Metadata{
			CreationTime:    a.CreatedAt,
			LastSignInTime:  a.LastSignInAt,
			LastRefreshTime: a.LastRefreshAt,
		},
		RefreshToken: refreshToken,
	}
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %w", identity.ErrUnavailable, err)
}
