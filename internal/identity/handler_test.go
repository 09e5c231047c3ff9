package identity

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/doubleAgent-ohtu/doubleAgent/internal/config"
	"github.com/doubleAgent-ohtu/doubleAgent/internal/domain"
	"github.com/doubleAgent-ohtu/doubleAgent/internal/store"
)

type fakeExchanger struct {
	info *Userinfo
	err  error
}

func (f *fakeExchanger) AuthorizeURL(state string) string {
	return "https://idp.example.com/authorize?state=" + state
}

func (f *fakeExchanger) Exchange(_ context.Context, _ string) (*Userinfo, error) {
	return f.info, f.err
}

func newTestStore(t *testing.T) store.Repository {
	t.Helper()
	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"), 20)
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func testConfig() *config.Config {
	return &config.Config{
		FrontendURL: "http://localhost:5173",
		SessionTTL:  time.Hour,
		Auth: config.AuthConfig{
			AllowedEmails:    []string{"user@example.com"},
			EnforceMailCheck: true,
		},
	}
}

func sessionCookie(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == SessionCookieName && c.Value != "" {
			return c
		}
	}
	return nil
}

func completeLogin(t *testing.T, h *Handler) *http.Cookie {
	t.Helper()

	rec := httptest.NewRecorder()
	h.HandleLogin(rec, httptest.NewRequest(http.MethodGet, "/auth/login", nil))
	if rec.Code != http.StatusFound {
		t.Fatalf("expected login redirect, got %d", rec.Code)
	}
	var state *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == stateCookieName {
			state = c
		}
	}
	if state == nil {
		t.Fatal("login did not set a state cookie")
	}
	if !strings.Contains(rec.Header().Get("Location"), "state="+state.Value) {
		t.Fatalf("authorize URL does not carry the state: %q", rec.Header().Get("Location"))
	}

	req := httptest.NewRequest(http.MethodGet, "/auth/callback?code=c1&state="+state.Value, nil)
	req.AddCookie(state)
	rec = httptest.NewRecorder()
	h.HandleCallback(rec, req)
	if rec.Code != http.StatusFound {
		t.Fatalf("expected callback redirect, got %d", rec.Code)
	}
	return sessionCookie(t, rec)
}

func TestLoginCallbackCreatesSession(t *testing.T) {
	t.Parallel()

	repo := newTestStore(t)
	h := NewHandler(repo, &fakeExchanger{info: &Userinfo{Sub: "sub-1", Email: "user@example.com"}}, testConfig())

	cookie := completeLogin(t, h)
	if cookie == nil {
		t.Fatal("callback did not set a session cookie")
	}

	session, err := repo.GetSession(context.Background(), cookie.Value)
	if err != nil {
		t.Fatalf("session not persisted: %v", err)
	}
	if session.UserID != "sub-1" || session.Email != "user@example.com" {
		t.Fatalf("unexpected session: %+v", session)
	}
}

func TestCallbackRejectsDisallowedEmail(t *testing.T) {
	t.Parallel()

	repo := newTestStore(t)
	h := NewHandler(repo, &fakeExchanger{info: &Userinfo{Sub: "sub-2", Email: "intruder@example.com"}}, testConfig())

	if cookie := completeLogin(t, h); cookie != nil {
		t.Fatal("disallowed email must not receive a session")
	}
}

func TestCallbackRejectsBadState(t *testing.T) {
	t.Parallel()

	repo := newTestStore(t)
	h := NewHandler(repo, &fakeExchanger{info: &Userinfo{Sub: "sub-1", Email: "user@example.com"}}, testConfig())

	req := httptest.NewRequest(http.MethodGet, "/auth/callback?code=c1&state=forged", nil)
	req.AddCookie(&http.Cookie{Name: stateCookieName, Value: "expected"})
	rec := httptest.NewRecorder()
	h.HandleCallback(rec, req)
	if rec.Code != http.StatusFound {
		t.Fatalf("expected redirect, got %d", rec.Code)
	}
	if sessionCookie(t, rec) != nil {
		t.Fatal("state mismatch must not mint a session")
	}
}

func TestMiddleware(t *testing.T) {
	t.Parallel()

	repo := newTestStore(t)
	now := time.Now()
	if err := repo.CreateSession(context.Background(), &domain.Session{
		Token: "tok-live", UserID: "sub-1", Email: "user@example.com",
		CreatedAt: now, ExpiresAt: now.Add(time.Hour),
	}); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	if err := repo.CreateSession(context.Background(), &domain.Session{
		Token: "tok-stale", UserID: "sub-1", Email: "user@example.com",
		CreatedAt: now.Add(-2 * time.Hour), ExpiresAt: now.Add(-time.Hour),
	}); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	r := chi.NewRouter()
	r.Use(Middleware(repo))
	r.Get("/api/me", func(w http.ResponseWriter, req *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"user": UserIDFromContext(req.Context())})
	})

	// No cookie.
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/me", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without cookie, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("rejections must be JSON, got content type %q", ct)
	}
	var rejection map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&rejection); err != nil {
		t.Fatalf("failed to decode rejection body: %v", err)
	}
	if rejection["error"] != "not authenticated" {
		t.Fatalf("unexpected rejection: %v", rejection)
	}

	// Unknown token.
	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "tok-unknown"})
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for unknown token, got %d", rec.Code)
	}

	// Expired session is rejected and removed.
	req = httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "tok-stale"})
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for expired session, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("rejections must be JSON, got content type %q", ct)
	}
	if _, err := repo.GetSession(context.Background(), "tok-stale"); err == nil {
		t.Fatal("expired session should be deleted on use")
	}

	// Valid session passes identity through.
	req = httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "tok-live"})
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body["user"] != "sub-1" {
		t.Fatalf("unexpected user: %q", body["user"])
	}
}

func TestLogoutDestroysSession(t *testing.T) {
	t.Parallel()

	repo := newTestStore(t)
	now := time.Now()
	if err := repo.CreateSession(context.Background(), &domain.Session{
		Token: "tok-1", UserID: "sub-1", Email: "user@example.com",
		CreatedAt: now, ExpiresAt: now.Add(time.Hour),
	}); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	h := NewHandler(repo, &fakeExchanger{}, testConfig())
	req := httptest.NewRequest(http.MethodPost, "/api/logout", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "tok-1"})
	rec := httptest.NewRecorder()
	h.HandleLogout(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	if _, err := repo.GetSession(context.Background(), "tok-1"); err == nil {
		t.Fatal("logout should delete the session")
	}
}
