package handler

import (
	"net/http"
	"testing"

	"stock-sage/internal/account"
	"stock-sage/internal/domain"
)

func TestRegisterEndpoint(t *testing.T) {
	h, deps := newTestHandler()
	deps.accounts.user = &domain.User{ID: 1, Email: "alice@example.com", Username: "alice", Watchlist: []string{}}
	r := newTestRouter(h, "")

	w, body := doJSON(t, r, http.MethodPost, "/api/auth/register",
		map[string]string{"email": "alice@example.com", "username": "alice", "password": "s3cret-pass"}, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", w.Code)
	}
	user := body["user"].(map[string]any)
	if user["email"] != "alice@example.com" {
		t.Fatalf("unexpected user payload: %v", user)
	}
	if _, exposed := user["password_hash"]; exposed {
		t.Fatalf("password hash leaked in response")
	}
}

func TestRegisterConflict(t *testing.T) {
	h, deps := newTestHandler()
	deps.accounts.registerErr = account.ErrEmailTaken
	r := newTestRouter(h, "")

	w, _ := doJSON(t, r, http.MethodPost, "/api/auth/register",
		map[string]string{"email": "alice@example.com", "username": "alice", "password": "s3cret-pass"}, nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}
}

func TestLoginEndpoint(t *testing.T) {
	h, deps := newTestHandler()
	deps.accounts.user = &domain.User{ID: 1, Email: "alice@example.com"}
	deps.accounts.token = "tok123"
	r := newTestRouter(h, "")

	w, body := doJSON(t, r, http.MethodPost, "/api/auth/login",
		map[string]string{"email": "alice@example.com", "password": "s3cret-pass"}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if body["token"] != "tok123" {
		t.Fatalf("unexpected token: %v", body["token"])
	}
}

func TestLoginRejected(t *testing.T) {
	h, deps := newTestHandler()
	deps.accounts.loginErr = account.ErrInvalidCredentials
	r := newTestRouter(h, "")

	w, _ := doJSON(t, r, http.MethodPost, "/api/auth/login",
		map[string]string{"email": "alice@example.com", "password": "wrong"}, nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestMeRequiresSession(t *testing.T) {
	h, deps := newTestHandler()
	deps.accounts.authErr = account.ErrInvalidSession
	r := newTestRouter(h, "")

	w, _ := doJSON(t, r, http.MethodGet, "/api/auth/me", nil, nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without a token, got %d", w.Code)
	}

	w, _ = doJSON(t, r, http.MethodGet, "/api/auth/me", nil, map[string]string{"Authorization": "Bearer stale"})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with a stale token, got %d", w.Code)
	}
}

func TestMeReturnsUser(t *testing.T) {
	h, deps := newTestHandler()
	deps.accounts.user = &domain.User{ID: 7, Email: "bob@example.com", Watchlist: []string{"SPY"}}
	r := newTestRouter(h, "")

	w, body := doJSON(t, r, http.MethodGet, "/api/auth/me", nil, map[string]string{"Authorization": "Bearer tok"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	user := body["user"].(map[string]any)
	if user["id"].(float64) != 7 {
		t.Fatalf("unexpected user: %v", user)
	}
}

func TestUpdateWatchlist(t *testing.T) {
	h, deps := newTestHandler()
	deps.accounts.user = &domain.User{ID: 7, Email: "bob@example.com"}
	deps.accounts.watchlist = []string{"SPY", "GLD"}
	r := newTestRouter(h, "")

	w, body := doJSON(t, r, http.MethodPut, "/api/auth/watchlist",
		map[string]string{"action": "add", "symbol": "GLD"},
		map[string]string{"Authorization": "Bearer tok"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if deps.accounts.lastAction != "add:GLD" {
		t.Fatalf("unexpected action: %q", deps.accounts.lastAction)
	}
	list := body["watchlist"].([]any)
	if len(list) != 2 {
		t.Fatalf("unexpected watchlist: %v", list)
	}

	w, _ = doJSON(t, r, http.MethodPut, "/api/auth/watchlist",
		map[string]string{"action": "archive", "symbol": "GLD"},
		map[string]string{"Authorization": "Bearer tok"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for an unknown action, got %d", w.Code)
	}
}

func TestLogoutEndpoint(t *testing.T) {
	h, deps := newTestHandler()
	r := newTestRouter(h, "")

	w, body := doJSON(t, r, http.MethodPost, "/api/auth/logout", nil, map[string]string{"Authorization": "Bearer tok"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if body["success"] != true || deps.accounts.logoutCalls != 1 {
		t.Fatalf("logout not forwarded: %v calls=%d", body, deps.accounts.logoutCalls)
	}
}
