package chat

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/doubleAgent-ohtu/doubleAgent/internal/api"
	"github.com/doubleAgent-ohtu/doubleAgent/internal/domain"
	"github.com/doubleAgent-ohtu/doubleAgent/internal/identity"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// maxRequestBodySize is the maximum allowed request body size (1MB).
const maxRequestBodySize = 1 << 20

// Handler serves the one-shot chat, conversation stream, and history
// download endpoints.
type Handler struct {
	agentA    *Agent
	agentB    *Agent
	scheduler *Scheduler
}

// NewHandler creates a chat handler over the two shared agents.
func NewHandler(agentA, agentB *Agent, scheduler *Scheduler) *Handler {
	return &Handler{agentA: agentA, agentB: agentB, scheduler: scheduler}
}

// RegisterRoutes registers chat routes (authentication required upstream).
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/api/chat", h.HandleChat)
	r.Post("/api/conversation", h.HandleConversation)
	r.Get("/api/download-chat/{threadID}", h.HandleDownloadChat)
}

// ChatRequest is a one-shot exchange with a single agent.
type ChatRequest struct {
	Message      string `json:"message"`
	ThreadID     string `json:"thread_id"`
	Chatbot      string `json:"chatbot"`
	SystemPrompt string `json:"system_prompt,omitempty"`
	Model        string `json:"model,omitempty"`
}

// ChatResponse mirrors the exchange back to the client.
type ChatResponse struct {
	UserMessage string `json:"user_message"`
	AIResponse  string `json:"ai_response"`
	ThreadID    string `json:"thread_id"`
	Chatbot     string `json:"chatbot"`
}

func (h *Handler) agentByName(name string) *Agent {
	switch name {
	case "", "a":
		return h.agentA
	case "b":
		return h.agentB
	default:
		return nil
	}
}

// HandleChat handles POST /api/chat: one generate-and-append exchange
// with the selected agent, no alternation.
func (h *Handler) HandleChat(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Message == "" {
		api.DomainError(w, domain.ValidationError("message", "must not be blank"))
		return
	}
	if req.ThreadID == "" {
		req.ThreadID = uuid.NewString()
	}

	agent := h.agentByName(req.Chatbot)
	if agent == nil {
		api.DomainError(w, domain.ValidationError("chatbot", "must be \"a\" or \"b\""))
		return
	}

	cfg, err := agent.ResolveConfig(req.SystemPrompt, req.Model)
	if err != nil {
		api.DomainError(w, err)
		return
	}

	slog.Info("chat request",
		"user_id", userID,
		"thread_id", req.ThreadID,
		"chatbot", agent.Name(),
		"model", cfg.Model,
		"message_length", len(req.Message),
	)

	reply, err := agent.Answer(r.Context(), req.ThreadID, req.Message, cfg)
	if err != nil {
		// The chat UI expects an unbroken stream of replies, so an
		// upstream failure is rendered as readable text here at the
		// boundary. The domain itself returned a typed error and the
		// failed turn touched no memory.
		if errors.Is(err, domain.ErrUpstream) {
			slog.Error("chat generation failed", "user_id", userID, "thread_id", req.ThreadID, "error", err)
			api.JSON(w, http.StatusOK, ChatResponse{
				UserMessage: req.Message,
				AIResponse:  "Error: " + err.Error(),
				ThreadID:    req.ThreadID,
				Chatbot:     agent.Name(),
			})
			return
		}
		api.DomainError(w, err)
		return
	}

	api.JSON(w, http.StatusOK, ChatResponse{
		UserMessage: req.Message,
		AIResponse:  reply,
		ThreadID:    req.ThreadID,
		Chatbot:     agent.Name(),
	})
}

// HandleConversation handles POST /api/conversation: runs an alternating
// two-agent conversation and streams its events over SSE.
func (h *Handler) HandleConversation(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	var plan domain.Plan
	if err := json.NewDecoder(r.Body).Decode(&plan); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if plan.ThreadID == "" {
		plan.ThreadID = uuid.NewString()
	}

	events, err := h.scheduler.Run(r.Context(), plan)
	if err != nil {
		api.DomainError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		api.Error(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	slog.Info("conversation started",
		"user_id", userID,
		"thread_id", plan.ThreadID,
		"turns", plan.Turns,
		"model", plan.Model,
	)

	for event := range events {
		if err := writeSSE(w, event); err != nil {
			slog.Warn("failed to write conversation event",
				"user_id", userID, "thread_id", plan.ThreadID, "error", err)
			return
		}
		flusher.Flush()
	}
}

// HandleDownloadChat handles GET /api/download-chat/{threadID}: renders
// an agent's accumulated memory for the thread as a plain-text
// attachment.
func (h *Handler) HandleDownloadChat(w http.ResponseWriter, r *http.Request) {
	threadID := chi.URLParam(r, "threadID")
	if threadID == "" {
		api.DomainError(w, domain.ValidationError("thread_id", "must not be blank"))
		return
	}

	agent := h.agentByName(r.URL.Query().Get("chatbot"))
	if agent == nil {
		api.DomainError(w, domain.ValidationError("chatbot", "must be \"a\" or \"b\""))
		return
	}

	history := agent.History(threadID)

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", "attachment; filename=conversation_"+threadID+".txt")
	if _, err := io.WriteString(w, history); err != nil {
		slog.Warn("failed to write chat download", "thread_id", threadID, "error", err)
	}
}

func writeSSE(w io.Writer, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}
