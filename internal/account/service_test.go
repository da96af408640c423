package account

import (
	"context"
	"errors"
	"testing"
	"time"

	"stock-sage/internal/domain"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/crypto/bcrypt"
)

var testTracer = trace.NewNoopTracerProvider().Tracer("test")

func newTestService() (*Service, *fakeUserStore, *fakeSessions) {
	users := newFakeUserStore()
	sessions := newFakeSessions()
	return NewService(testTracer, users, sessions), users, sessions
}

func TestRegisterHashesPassword(t *testing.T) {
	t.Parallel()

	svc, users, _ := newTestService()

	user, err := svc.Register(context.Background(), " Alice@Example.COM ", "alice", "s3cret-pass")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if user.Email != "alice@example.com" {
		t.Fatalf("email not normalized: %q", user.Email)
	}
	if user.PasswordHash == "s3cret-pass" || user.PasswordHash == "" {
		t.Fatalf("password stored in the clear")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte("s3cret-pass")); err != nil {
		t.Fatalf("stored hash does not verify: %v", err)
	}
	if len(user.Watchlist) != 0 {
		t.Fatalf("new user has watchlist %v", user.Watchlist)
	}
	if users.created != 1 {
		t.Fatalf("expected one insert, got %d", users.created)
	}
}

func TestRegisterValidatesInput(t *testing.T) {
	t.Parallel()

	svc, _, _ := newTestService()

	if _, err := svc.Register(context.Background(), "not-an-email", "bob", "long-enough"); err == nil {
		t.Fatal("expected error for invalid email")
	}
	if _, err := svc.Register(context.Background(), "bob@example.com", "", "long-enough"); err == nil {
		t.Fatal("expected error for empty username")
	}
	if _, err := svc.Register(context.Background(), "bob@example.com", "bob", "short"); err == nil {
		t.Fatal("expected error for short password")
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	t.Parallel()

	svc, _, _ := newTestService()

	if _, err := svc.Register(context.Background(), "carol@example.com", "carol", "first-pass-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, err := svc.Register(context.Background(), "carol@example.com", "carol2", "second-pass")
	if !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}
}

func TestLoginMintsSession(t *testing.T) {
	t.Parallel()

	svc, _, sessions := newTestService()

	if _, err := svc.Register(context.Background(), "dave@example.com", "dave", "hunter2hunter2"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	token, user, err := svc.Login(context.Background(), "dave@example.com", "hunter2hunter2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(token) != 64 {
		t.Fatalf("expected a 32-byte hex token, got %q", token)
	}
	if user == nil || user.Email != "dave@example.com" {
		t.Fatalf("unexpected user: %+v", user)
	}
	if _, ok := sessions.data["session:"+token]; !ok {
		t.Fatalf("session not stored")
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	t.Parallel()

	svc, _, _ := newTestService()

	if _, err := svc.Register(context.Background(), "erin@example.com", "erin", "correct-horse"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, _, err := svc.Login(context.Background(), "erin@example.com", "wrong-horse-1"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, _, err := svc.Login(context.Background(), "nobody@example.com", "correct-horse"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestAuthenticateRoundTrip(t *testing.T) {
	t.Parallel()

	svc, _, _ := newTestService()

	registered, err := svc.Register(context.Background(), "frank@example.com", "frank", "open-sesame-9")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	token, _, err := svc.Login(context.Background(), "frank@example.com", "open-sesame-9")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	user, err := svc.Authenticate(context.Background(), token)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if user.ID != registered.ID {
		t.Fatalf("authenticated user %d, want %d", user.ID, registered.ID)
	}

	if _, err := svc.Authenticate(context.Background(), "deadbeef"); !errors.Is(err, ErrInvalidSession) {
		t.Fatalf("expected ErrInvalidSession, got %v", err)
	}
}

func TestLogoutDiscardsSession(t *testing.T) {
	t.Parallel()

	svc, _, _ := newTestService()

	if _, err := svc.Register(context.Background(), "gina@example.com", "gina", "pass-word-12"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	token, _, err := svc.Login(context.Background(), "gina@example.com", "pass-word-12")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := svc.Logout(context.Background(), token); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := svc.Authenticate(context.Background(), token); !errors.Is(err, ErrInvalidSession) {
		t.Fatalf("expected ErrInvalidSession after logout, got %v", err)
	}
}

func TestWatchlistAddRemove(t *testing.T) {
	t.Parallel()

	svc, users, _ := newTestService()

	user, err := svc.Register(context.Background(), "hank@example.com", "hank", "watch-these-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	list, err := svc.AddToWatchlist(context.Background(), user, "spy")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(list) != 1 || list[0] != "SPY" {
		t.Fatalf("unexpected watchlist: %v", list)
	}

	list, err = svc.AddToWatchlist(context.Background(), user, "SPY")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("duplicate add changed the list: %v", list)
	}
	if users.updates != 1 {
		t.Fatalf("duplicate add hit the store, updates=%d", users.updates)
	}

	if _, err := svc.AddToWatchlist(context.Background(), user, "DOGE"); err == nil {
		t.Fatal("expected error for unsupported symbol")
	}

	list, err = svc.RemoveFromWatchlist(context.Background(), user, "spy")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("watchlist not emptied: %v", list)
	}

	if _, err := svc.RemoveFromWatchlist(context.Background(), user, "GLD"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if users.updates != 2 {
		t.Fatalf("absent remove hit the store, updates=%d", users.updates)
	}
}

type fakeUserStore struct {
	nextID  int64
	byEmail map[string]*domain.User
	byID    map[int64]*domain.User
	created int
	updates int
}

func newFakeUserStore() *fakeUserStore {
	return &fakeUserStore{byEmail: map[string]*domain.User{}, byID: map[int64]*domain.User{}}
}

func (f *fakeUserStore) CreateUser(ctx context.Context, user *domain.User) (*domain.User, error) {
	if _, ok := f.byEmail[user.Email]; ok {
		return nil, ErrEmailTaken
	}
	f.created++
	f.nextID++
	saved := *user
	saved.ID = f.nextID
	saved.CreatedAt = time.Now().UTC()
	f.byEmail[saved.Email] = &saved
	f.byID[saved.ID] = &saved
	return &saved, nil
}

func (f *fakeUserStore) UserByEmail(ctx context.Context, email string) (*domain.User, error) {
	return f.byEmail[email], nil
}

func (f *fakeUserStore) UserByID(ctx context.Context, id int64) (*domain.User, error) {
	return f.byID[id], nil
}

func (f *fakeUserStore) UpdateWatchlist(ctx context.Context, userID int64, symbols []string) error {
	f.updates++
	user, ok := f.byID[userID]
	if !ok {
		return errors.New("user not found")
	}
	user.Watchlist = symbols
	return nil
}

type fakeSessions struct {
	data map[string]string
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{data: map[string]string{}}
}

func (f *fakeSessions) Get(ctx context.Context, key string) (string, bool, error) {
	v, ok := f.data[key]
	return v, ok, nil
}

func (f *fakeSessions) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	f.data[key] = value
	return nil
}

func (f *fakeSessions) Delete(ctx context.Context, key string) error {
	delete(f.data, key)
	return nil
}
