package domain

import (
	"strings"
	"time"
)

// MaxPromptLength caps a stored system-instruction body.
const MaxPromptLength = 15000

// Prompt is a saved, named, reusable system instruction. AgentName is
// unique per owner.
type Prompt struct {
	ID        int64     `json:"id"`
	User      string    `json:"user"`
	AgentName string    `json:"agent_name"`
	Prompt    string    `json:"prompt"`
	CreatedAt time.Time `json:"created_at"`
}

// ValidatePrompt trims name and body and rejects blank or oversized
// values, returning the trimmed pair on success.
func ValidatePrompt(name, body string) (string, string, error) {
	name = strings.TrimSpace(name)
	body = strings.TrimSpace(body)
	if name == "" {
		return "", "", ValidationError("agent_name", "must not be blank")
	}
	if body == "" {
		return "", "", ValidationError("prompt", "must not be blank")
	}
	if len(body) > MaxPromptLength {
		return "", "", ValidationError("prompt", "exceeds maximum length")
	}
	return name, body, nil
}
