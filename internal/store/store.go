// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/doubleAgent-ohtu/doubleAgent/internal/domain"
)

// Repository defines the interface for persisting conversations, prompt
// templates, and login sessions. All record operations are scoped to an
// owner; rows that are absent and rows owned by someone else are both
// reported as domain.ErrNotFound.
type Repository interface {
	// SaveConversation persists a conversation and its messages in one
	// transaction and returns the stored record with generated ids.
	SaveConversation(ctx context.Context, conv *domain.Conversation) (*domain.Conversation, error)

	// GetConversation retrieves a conversation with its messages in
	// stored order.
	GetConversation(ctx context.Context, user string, id int64) (*domain.Conversation, error)

	// ListConversations returns the owner's conversations, most recent
	// first, without their messages.
	ListConversations(ctx context.Context, user string) ([]*domain.Conversation, error)

	// DeleteConversation removes a conversation and all its messages.
	DeleteConversation(ctx context.Context, user string, id int64) error

	// CreatePrompt validates and persists a prompt template. A name
	// already used by the owner fails with domain.ErrDuplicateName.
	CreatePrompt(ctx context.Context, user, agentName, body string) (*domain.Prompt, error)

	// UpdatePrompt validates and rewrites a template. The record itself
	// is exempt from the name collision check.
	UpdatePrompt(ctx context.Context, user string, id int64, agentName, body string) (*domain.Prompt, error)

	// DeletePrompt removes a template.
	DeletePrompt(ctx context.Context, user string, id int64) error

	// ListPrompts returns the owner's templates, newest first. A
	// non-empty query filters by case-insensitive substring match over
	// name and body. limit <= 0 means no limit.
	ListPrompts(ctx context.Context, user, query string, offset, limit int) ([]*domain.Prompt, error)

	// CreateSession persists a login session.
	CreateSession(ctx context.Context, session *domain.Session) error

	// GetSession retrieves a session by token.
	GetSession(ctx context.Context, token string) (*domain.Session, error)

	// DeleteSession removes a session.
	DeleteSession(ctx context.Context, token string) error

	// CleanupExpiredSessions removes sessions that expired before now.
	CleanupExpiredSessions(ctx context.Context, now time.Time) (int64, error)

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
