// Package domain contains core domain types for the doubleAgent application.
package domain

// Role tags a message with its speaker. It is a closed set; rendering
// dispatches on the tag, never on dynamic type inspection.
type Role string

const (
	// RoleHuman is a message sent into an agent (by the user, or by the
	// other agent during an alternating conversation).
	RoleHuman Role = "user"
	// RoleAgentA is a reply produced by agent A.
	RoleAgentA Role = "a"
	// RoleAgentB is a reply produced by agent B.
	RoleAgentB Role = "b"
	// RoleSystem is instruction text, never shown in transcripts.
	RoleSystem Role = "system"
)

// Valid reports whether r is a member of the closed role set.
func (r Role) Valid() bool {
	switch r {
	case RoleHuman, RoleAgentA, RoleAgentB, RoleSystem:
		return true
	}
	return false
}

// Label returns the display name used in rendered transcripts.
func (r Role) Label() string {
	switch r {
	case RoleAgentA:
		return "Bot A"
	case RoleAgentB:
		return "Bot B"
	case RoleHuman:
		return "You"
	default:
		return string(r)
	}
}

// Message is one entry in a thread's history. Seq is unique and strictly
// increasing within the thread.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
	Seq     int    `json:"seq"`
}
