// Package identity provides OIDC session authentication.
package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/doubleAgent-ohtu/doubleAgent/internal/domain"
	"github.com/doubleAgent-ohtu/doubleAgent/internal/store"
)

const (
	// SessionCookieName carries the opaque session token.
	SessionCookieName = "da_session"
	stateCookieName   = "da_oauth_state"
	stateCookieMaxAge = 10 * time.Minute
)

type contextKey int

const (
	userIDKey contextKey = iota
	emailKey
)

// UserIDFromContext extracts the authenticated subject id from the
// request context.
func UserIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(userIDKey).(string); ok {
		return v
	}
	return ""
}

// EmailFromContext extracts the authenticated email from the request
// context.
func EmailFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(emailKey).(string); ok {
		return v
	}
	return ""
}

// WithUser injects an identity into a context. Exported for handler
// tests.
func WithUser(ctx context.Context, userID, email string) context.Context {
	ctx = context.WithValue(ctx, userIDKey, userID)
	return context.WithValue(ctx, emailKey, email)
}

// writeJSON is a local response helper; this package sits below
// internal/api in the import graph and cannot use its helpers.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func generateToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate session token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// Middleware rejects requests without a valid, unexpired session and
// injects the caller identity into the request context.
func Middleware(repo store.Repository) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cookie, err := r.Cookie(SessionCookieName)
			if err != nil || cookie.Value == "" {
				writeError(w, http.StatusUnauthorized, "not authenticated")
				return
			}

			session, err := repo.GetSession(r.Context(), cookie.Value)
			if err != nil {
				if !errors.Is(err, domain.ErrNotFound) {
					slog.Error("session lookup failed", "error", err)
				}
				writeError(w, http.StatusUnauthorized, "not authenticated")
				return
			}
			if session.Expired(time.Now()) {
				if delErr := repo.DeleteSession(r.Context(), session.Token); delErr != nil {
					slog.Warn("failed to delete expired session", "error", delErr)
				}
				writeError(w, http.StatusUnauthorized, "session expired")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), session.UserID, session.Email)))
		})
	}
}
