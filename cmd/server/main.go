// doubleAgent - Dual-Chatbot Conversation Server
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"

	"github.com/doubleAgent-ohtu/doubleAgent/internal/api"
	"github.com/doubleAgent-ohtu/doubleAgent/internal/chat"
	"github.com/doubleAgent-ohtu/doubleAgent/internal/config"
	"github.com/doubleAgent-ohtu/doubleAgent/internal/identity"
	"github.com/doubleAgent-ohtu/doubleAgent/internal/llm"
	"github.com/doubleAgent-ohtu/doubleAgent/internal/middleware"
	"github.com/doubleAgent-ohtu/doubleAgent/internal/store"
	"github.com/doubleAgent-ohtu/doubleAgent/web"
)

const sessionCleanupInterval = 15 * time.Minute

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment())

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath, cfg.MaxTurns)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	// Initialize the two chatbots against a shared completion client.
	completer := llm.NewOpenAIClient(cfg.OpenAIKey, cfg.OpenAIBaseURL)
	defaults := chat.AgentConfig{Model: cfg.DefaultModel}

	agentA, err := chat.NewAgent("a", defaults, cfg.Models, completer)
	if err != nil {
		slog.Error("Failed to initialize chatbot A", "error", err)
		os.Exit(1)
	}
	agentB, err := chat.NewAgent("b", defaults, cfg.Models, completer)
	if err != nil {
		slog.Error("Failed to initialize chatbot B", "error", err)
		os.Exit(1)
	}
	scheduler := chat.NewScheduler(agentA, agentB, cfg.MaxTurns)
	slog.Info("Chatbots initialized", "default_model", cfg.DefaultModel, "max_turns", cfg.MaxTurns)

	// Initialize handlers.
	chatHandler := chat.NewHandler(agentA, agentB, scheduler)
	wsHandler := chat.NewWebSocketHandler(scheduler, cfg.IsDevelopment())
	authHandler := identity.NewHandler(repo, identity.NewOIDCExchanger(cfg.Auth), cfg)
	conversationHandler := api.NewConversationHandler(repo)
	promptHandler := api.NewPromptHandler(repo)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/api/health"))
	corsOrigins := []string{"*"}
	if cfg.FrontendURL != "" {
		corsOrigins = []string{cfg.FrontendURL}
	}
	r.Use(middleware.CORS(corsOrigins))

	// Public routes.
	authHandler.RegisterPublicRoutes(r)

	// Authenticated routes.
	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware(repo))
		authHandler.RegisterSessionRoutes(r)
		chatHandler.RegisterRoutes(r)
		conversationHandler.RegisterRoutes(r)
		promptHandler.RegisterRoutes(r)
		r.Get("/ws/conversation", wsHandler.ServeHTTP)
	})

	// Serve embedded frontend (SPA catch-all).
	r.Handle("/*", web.SPAHandler())

	// SSE and WebSocket connections stay open for whole conversations,
	// so the write timeout must be disabled.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	startSessionCleanup(ctx, repo)
	slog.Info("Session cleanup worker started", "interval", sessionCleanupInterval, "session_ttl", cfg.SessionTTL)

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}

// startSessionCleanup periodically deletes expired login sessions.
func startSessionCleanup(ctx context.Context, repo store.Repository) {
	go func() {
		ticker := time.NewTicker(sessionCleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				removed, err := repo.CleanupExpiredSessions(ctx, time.Now())
				if err != nil {
					slog.Error("Session cleanup failed", "error", err)
					continue
				}
				if removed > 0 {
					slog.Info("Expired sessions removed", "count", removed)
				}
			}
		}
	}()
}
