package domain

import (
	"strconv"
	"strings"
	"time"
)

// Conversation is a persisted transcript with its configuration. Records
// are written once and never mutated in place.
type Conversation struct {
	ID                  int64                 `json:"id"`
	User                string                `json:"user"`
	ConversationStarter string                `json:"conversation_starter"`
	ThreadID            string                `json:"thread_id"`
	Model               string                `json:"model,omitempty"`
	SystemPromptA       string                `json:"system_prompt_a,omitempty"`
	SystemPromptB       string                `json:"system_prompt_b,omitempty"`
	Turns               int                   `json:"turns"`
	CreatedAt           time.Time             `json:"created_at"`
	Messages            []ConversationMessage `json:"messages"`
}

// ConversationMessage is one speaker-tagged line of a persisted
// conversation. Order starts at 0 and follows insertion order.
type ConversationMessage struct {
	ID      int64  `json:"id"`
	Chatbot Role   `json:"chatbot"`
	Message string `json:"message"`
	Order   int    `json:"order"`
}

// Plan describes one alternating conversation run.
type Plan struct {
	InitialMessage string `json:"initial_message"`
	SystemPromptA  string `json:"system_prompt_a,omitempty"`
	SystemPromptB  string `json:"system_prompt_b,omitempty"`
	ThreadID       string `json:"thread_id"`
	Turns          int    `json:"turns"`
	Model          string `json:"model,omitempty"`
}

// Validate rejects a plan before any agent is invoked. maxTurns is the
// configured ceiling (inclusive).
func (p Plan) Validate(maxTurns int) error {
	if strings.TrimSpace(p.InitialMessage) == "" {
		return ValidationError("initial_message", "must not be blank")
	}
	if p.Turns < 1 || p.Turns > maxTurns {
		return ValidationError("turns", "must be between 1 and "+strconv.Itoa(maxTurns))
	}
	return nil
}
