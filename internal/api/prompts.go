package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/doubleAgent-ohtu/doubleAgent/internal/domain"
	"github.com/doubleAgent-ohtu/doubleAgent/internal/identity"
	"github.com/doubleAgent-ohtu/doubleAgent/internal/store"
)

// PromptHandler serves the reusable system prompt library.
type PromptHandler struct {
	repo store.Repository
}

func NewPromptHandler(repo store.Repository) *PromptHandler {
	return &PromptHandler{repo: repo}
}

// RegisterRoutes mounts the prompt library endpoints on the router.
func (h *PromptHandler) RegisterRoutes(r chi.Router) {
	r.Post("/api/save_prompt", h.HandleSave)
	r.Get("/api/get_prompts", h.HandleList)
	r.Put("/api/update_prompt/{id}", h.HandleUpdate)
	r.Delete("/api/delete_prompt/{id}", h.HandleDelete)
}

type promptRequest struct {
	AgentName string `json:"agent_name"`
	Prompt    string `json:"prompt"`
}

func (h *PromptHandler) HandleSave(w http.ResponseWriter, r *http.Request) {
	var req promptRequest
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	prompt, err := h.repo.CreatePrompt(r.Context(), identity.UserIDFromContext(r.Context()), req.AgentName, req.Prompt)
	if err != nil {
		DomainError(w, err)
		return
	}
	JSON(w, http.StatusCreated, prompt)
}

// HandleList returns the caller's prompt templates, newest first. The q
// parameter filters by substring, offset and limit paginate.
func (h *PromptHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	offset := queryInt(r, "offset", 0)
	limit := queryInt(r, "limit", 0)

	prompts, err := h.repo.ListPrompts(r.Context(), identity.UserIDFromContext(r.Context()), query, offset, limit)
	if err != nil {
		DomainError(w, err)
		return
	}
	if prompts == nil {
		prompts = []*domain.Prompt{}
	}
	JSON(w, http.StatusOK, prompts)
}

func (h *PromptHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		Error(w, http.StatusBadRequest, "invalid prompt id")
		return
	}

	var req promptRequest
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	prompt, err := h.repo.UpdatePrompt(r.Context(), identity.UserIDFromContext(r.Context()), id, req.AgentName, req.Prompt)
	if err != nil {
		DomainError(w, err)
		return
	}
	JSON(w, http.StatusOK, prompt)
}

func (h *PromptHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		Error(w, http.StatusBadRequest, "invalid prompt id")
		return
	}

	if err := h.repo.DeletePrompt(r.Context(), identity.UserIDFromContext(r.Context()), id); err != nil {
		DomainError(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]string{"message": "Prompt deleted successfully"})
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
