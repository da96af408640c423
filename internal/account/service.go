// Package account handles registration, login and per-user watchlists.
// Passwords are stored as bcrypt digests. Sessions are opaque random tokens
// held in Redis with a sliding expiry, so a server restart does not log
// anyone out and tokens carry no decodable claims.
package account

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"stock-sage/internal/domain"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/crypto/bcrypt"
)

const (
	sessionTTL       = 7 * 24 * time.Hour
	sessionKeyPrefix = "session:"
	minPasswordLen   = 8
)

var (
	// ErrEmailTaken is returned when registering an email that already has
	// an account.
	ErrEmailTaken = errors.New("email already registered")
	// ErrInvalidCredentials is returned on login with a wrong email or
	// password. The two cases are deliberately indistinguishable.
	ErrInvalidCredentials = errors.New("invalid email or password")
	// ErrInvalidSession is returned when a token is unknown or expired.
	ErrInvalidSession = errors.New("invalid or expired session")
)

// UserStore is the slice of the repository the service needs.
type UserStore interface {
	CreateUser(ctx context.Context, user *domain.User) (*domain.User, error)
	UserByEmail(ctx context.Context, email string) (*domain.User, error)
	UserByID(ctx context.Context, id int64) (*domain.User, error)
	UpdateWatchlist(ctx context.Context, userID int64, symbols []string) error
}

// SessionStore holds session tokens. Implemented by cache.Store.
type SessionStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

type Service struct {
	tracer   trace.Tracer
	users    UserStore
	sessions SessionStore
}

func NewService(tracer trace.Tracer, users UserStore, sessions SessionStore) *Service {
	return &Service{tracer: tracer, users: users, sessions: sessions}
}

// Register creates a new account. The password is hashed before it reaches
// the repository.
func (s *Service) Register(ctx context.Context, email, username, password string) (*domain.User, error) {
	ctx, span := s.tracer.Start(ctx, "account.register")
	defer span.End()

	if s.users == nil {
		return nil, fmt.Errorf("account service is not fully initialized")
	}

	email = normalizeEmail(email)
	if email == "" || !strings.Contains(email, "@") {
		return nil, fmt.Errorf("invalid email address")
	}
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, fmt.Errorf("username is required")
	}
	if len(password) < minPasswordLen {
		return nil, fmt.Errorf("password must be at least %d characters", minPasswordLen)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	return s.users.CreateUser(ctx, &domain.User{
		Email:        email,
		Username:     username,
		PasswordHash: string(hash),
		Watchlist:    []string{},
	})
}

// Login verifies the credentials and mints a session token.
func (s *Service) Login(ctx context.Context, email, password string) (string, *domain.User, error) {
	ctx, span := s.tracer.Start(ctx, "account.login")
	defer span.End()

	if s.users == nil || s.sessions == nil {
		return "", nil, fmt.Errorf("account service is not fully initialized")
	}

	user, err := s.users.UserByEmail(ctx, normalizeEmail(email))
	if err != nil {
		return "", nil, err
	}
	if user == nil {
		return "", nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return "", nil, ErrInvalidCredentials
	}

	token, err := newSessionToken()
	if err != nil {
		return "", nil, err
	}
	if err := s.sessions.Set(ctx, sessionKeyPrefix+token, strconv.FormatInt(user.ID, 10), sessionTTL); err != nil {
		return "", nil, fmt.Errorf("store session: %w", err)
	}
	return token, user, nil
}

// Authenticate resolves a session token to its user. The token expiry is
// refreshed on every successful lookup.
func (s *Service) Authenticate(ctx context.Context, token string) (*domain.User, error) {
	ctx, span := s.tracer.Start(ctx, "account.authenticate")
	defer span.End()

	if s.users == nil || s.sessions == nil {
		return nil, fmt.Errorf("account service is not fully initialized")
	}

	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidSession
	}

	key := sessionKeyPrefix + token
	value, ok, err := s.sessions.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("read session: %w", err)
	}
	if !ok {
		return nil, ErrInvalidSession
	}
	userID, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return nil, ErrInvalidSession
	}

	user, err := s.users.UserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrInvalidSession
	}

	if err := s.sessions.Set(ctx, key, value, sessionTTL); err != nil {
		return nil, fmt.Errorf("refresh session: %w", err)
	}
	return user, nil
}

// Logout discards a session token. Unknown tokens are not an error.
func (s *Service) Logout(ctx context.Context, token string) error {
	ctx, span := s.tracer.Start(ctx, "account.logout")
	defer span.End()

	if s.sessions == nil {
		return fmt.Errorf("account service is not fully initialized")
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return nil
	}
	return s.sessions.Delete(ctx, sessionKeyPrefix+token)
}

// AddToWatchlist adds a supported symbol to the user's watchlist and returns
// the updated list. Adding a symbol twice is a no-op.
func (s *Service) AddToWatchlist(ctx context.Context, user *domain.User, symbol string) ([]string, error) {
	ctx, span := s.tracer.Start(ctx, "account.watchlist-add")
	defer span.End()

	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if !domain.IsSupportedSymbol(symbol) {
		return nil, fmt.Errorf("unsupported symbol: %s", symbol)
	}
	for _, have := range user.Watchlist {
		if have == symbol {
			return user.Watchlist, nil
		}
	}

	updated := append(append([]string{}, user.Watchlist...), symbol)
	if err := s.users.UpdateWatchlist(ctx, user.ID, updated); err != nil {
		return nil, err
	}
	user.Watchlist = updated
	return updated, nil
}

// RemoveFromWatchlist drops a symbol from the user's watchlist and returns
// the updated list. Removing an absent symbol is a no-op.
func (s *Service) RemoveFromWatchlist(ctx context.Context, user *domain.User, symbol string) ([]string, error) {
	ctx, span := s.tracer.Start(ctx, "account.watchlist-remove")
	defer span.End()

	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	updated := make([]string, 0, len(user.Watchlist))
	for _, have := range user.Watchlist {
		if have != symbol {
			updated = append(updated, have)
		}
	}
	if len(updated) == len(user.Watchlist) {
		return user.Watchlist, nil
	}

	if err := s.users.UpdateWatchlist(ctx, user.ID, updated); err != nil {
		return nil, err
	}
	user.Watchlist = updated
	return updated, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func newSessionToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate session token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
