package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/doubleAgent-ohtu/doubleAgent/internal/domain"
	"github.com/doubleAgent-ohtu/doubleAgent/internal/identity"
	"github.com/doubleAgent-ohtu/doubleAgent/internal/store"
)

// ConversationHandler serves the transcript archive.
type ConversationHandler struct {
	repo store.Repository
}

func NewConversationHandler(repo store.Repository) *ConversationHandler {
	return &ConversationHandler{repo: repo}
}

// RegisterRoutes mounts the archive endpoints on the router.
func (h *ConversationHandler) RegisterRoutes(r chi.Router) {
	r.Post("/api/conversations", h.HandleSave)
	r.Get("/api/conversations", h.HandleList)
	r.Get("/api/conversations/{id}", h.HandleGet)
	r.Delete("/api/conversations/{id}", h.HandleDelete)
}

type saveConversationRequest struct {
	ConversationStarter string                       `json:"conversation_starter"`
	ThreadID            string                       `json:"thread_id"`
	Model               string                       `json:"model"`
	SystemPromptA       string                       `json:"system_prompt_a"`
	SystemPromptB       string                       `json:"system_prompt_b"`
	Turns               int                          `json:"turns"`
	Messages            []domain.ConversationMessage `json:"messages"`
}

// HandleSave archives a finished conversation together with the run
// settings it was produced with.
func (h *ConversationHandler) HandleSave(w http.ResponseWriter, r *http.Request) {
	var req saveConversationRequest
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	conv := &domain.Conversation{
		User:                identity.UserIDFromContext(r.Context()),
		ConversationStarter: req.ConversationStarter,
		ThreadID:            req.ThreadID,
		Model:               req.Model,
		SystemPromptA:       req.SystemPromptA,
		SystemPromptB:       req.SystemPromptB,
		Turns:               req.Turns,
		Messages:            req.Messages,
	}

	saved, err := h.repo.SaveConversation(r.Context(), conv)
	if err != nil {
		slog.Warn("failed to save conversation", "error", err)
		DomainError(w, err)
		return
	}
	JSON(w, http.StatusCreated, saved)
}

// HandleList returns the caller's archived conversations without their
// messages, newest first.
func (h *ConversationHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	convs, err := h.repo.ListConversations(r.Context(), identity.UserIDFromContext(r.Context()))
	if err != nil {
		slog.Error("failed to list conversations", "error", err)
		DomainError(w, err)
		return
	}
	if convs == nil {
		convs = []*domain.Conversation{}
	}
	JSON(w, http.StatusOK, convs)
}

// HandleGet returns one archived conversation with its full transcript.
func (h *ConversationHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		Error(w, http.StatusBadRequest, "invalid conversation id")
		return
	}

	conv, err := h.repo.GetConversation(r.Context(), identity.UserIDFromContext(r.Context()), id)
	if err != nil {
		DomainError(w, err)
		return
	}
	JSON(w, http.StatusOK, conv)
}

// HandleDelete removes an archived conversation and its messages.
func (h *ConversationHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		Error(w, http.StatusBadRequest, "invalid conversation id")
		return
	}

	if err := h.repo.DeleteConversation(r.Context(), identity.UserIDFromContext(r.Context()), id); err != nil {
		DomainError(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]string{"message": "Conversation deleted successfully"})
}
