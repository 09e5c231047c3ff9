package identity

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/doubleAgent-ohtu/doubleAgent/internal/config"
	"github.com/doubleAgent-ohtu/doubleAgent/internal/domain"
	"github.com/doubleAgent-ohtu/doubleAgent/internal/store"
	"github.com/go-chi/chi/v5"
)

// Handler serves the login flow and session endpoints.
type Handler struct {
	repo      store.Repository
	exchanger Exchanger
	cfg       *config.Config
}

// NewHandler creates an identity handler.
func NewHandler(repo store.Repository, exchanger Exchanger, cfg *config.Config) *Handler {
	return &Handler{repo: repo, exchanger: exchanger, cfg: cfg}
}

// RegisterPublicRoutes registers the unauthenticated login endpoints.
func (h *Handler) RegisterPublicRoutes(r chi.Router) {
	r.Get("/auth/login", h.HandleLogin)
	r.Get("/auth/callback", h.HandleCallback)
}

// RegisterSessionRoutes registers endpoints that require a session.
func (h *Handler) RegisterSessionRoutes(r chi.Router) {
	r.Post("/api/logout", h.HandleLogout)
	r.Get("/api/me", h.HandleMe)
}

// HandleLogin redirects the browser to the identity provider.
func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	state, err := generateToken()
	if err != nil {
		slog.Error("failed to generate oauth state", "error", err)
		writeError(w, http.StatusInternalServerError, "login unavailable")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     stateCookieName,
		Value:    state,
		Path:     "/",
		MaxAge:   int(stateCookieMaxAge.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   !h.cfg.IsDevelopment(),
	})

	http.Redirect(w, r, h.exchanger.AuthorizeURL(state), http.StatusFound)
}

// HandleCallback completes the login: verifies state, exchanges the code,
// enforces the email allow-list, and mints a session. All failure paths
// redirect back to the frontend rather than stranding the browser on an
// error page.
func (h *Handler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	frontendURL := h.cfg.FrontendURL
	if frontendURL == "" {
		frontendURL = "/"
	}

	stateCookie, err := r.Cookie(stateCookieName)
	if err != nil || stateCookie.Value == "" || stateCookie.Value != r.URL.Query().Get("state") {
		slog.Warn("oidc callback with bad state", "ip", r.RemoteAddr)
		http.Redirect(w, r, frontendURL, http.StatusFound)
		return
	}
	clearCookie(w, stateCookieName)

	code := r.URL.Query().Get("code")
	if code == "" {
		slog.Warn("oidc callback without code", "error_param", r.URL.Query().Get("error"))
		http.Redirect(w, r, frontendURL, http.StatusFound)
		return
	}

	info, err := h.exchanger.Exchange(r.Context(), code)
	if err != nil {
		slog.Error("oidc code exchange failed", "error", err)
		http.Redirect(w, r, frontendURL, http.StatusFound)
		return
	}

	if !h.cfg.EmailAllowed(info.Email) {
		slog.Warn("unauthorized login attempt", "email", info.Email)
		http.Redirect(w, r, frontendURL, http.StatusFound)
		return
	}

	token, err := generateToken()
	if err != nil {
		slog.Error("failed to generate session token", "error", err)
		http.Redirect(w, r, frontendURL, http.StatusFound)
		return
	}

	now := time.Now()
	session := &domain.Session{
		Token:     token,
		UserID:    info.Sub,
		Email:     info.Email,
		CreatedAt: now,
		ExpiresAt: now.Add(h.cfg.SessionTTL),
	}
	if err := h.repo.CreateSession(r.Context(), session); err != nil {
		slog.Error("failed to persist session", "error", err)
		http.Redirect(w, r, frontendURL, http.StatusFound)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(h.cfg.SessionTTL.Seconds()),
		Expires:  session.ExpiresAt,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   !h.cfg.IsDevelopment(),
	})

	slog.Info("login succeeded", "user_id", info.Sub)
	http.Redirect(w, r, frontendURL, http.StatusFound)
}

// HandleLogout destroys the caller's session.
func (h *Handler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(SessionCookieName); err == nil && cookie.Value != "" {
		if err := h.repo.DeleteSession(r.Context(), cookie.Value); err != nil {
			slog.Warn("failed to delete session on logout", "error", err)
		}
	}
	clearCookie(w, SessionCookieName)
	writeJSON(w, http.StatusOK, map[string]string{"message": "logged out"})
}

// HandleMe returns the authenticated caller identity.
func (h *Handler) HandleMe(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"user":  UserIDFromContext(r.Context()),
		"email": EmailFromContext(r.Context()),
	})
}

func clearCookie(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}
