package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/doubleAgent-ohtu/doubleAgent/internal/domain"
	"github.com/doubleAgent-ohtu/doubleAgent/internal/shared"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db       *sql.DB
	maxTurns int
}

// NewSQLite creates a new SQLite-backed repository. maxTurns is the
// inclusive bound enforced on persisted conversations.
func NewSQLite(dbPath string, maxTurns int) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db, maxTurns: maxTurns}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS conversation (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id TEXT NOT NULL,
		conversation_starter TEXT NOT NULL,
		thread_id TEXT NOT NULL,
		model TEXT,
		system_prompt_a TEXT,
		system_prompt_b TEXT,
		turns INTEGER NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_conversation_user ON conversation(user_id, created_at);

	CREATE TABLE IF NOT EXISTS message (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		conversation_id INTEGER NOT NULL REFERENCES conversation(id) ON DELETE CASCADE,
		chatbot TEXT NOT NULL,
		message TEXT NOT NULL,
		msg_order INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_message_conversation ON message(conversation_id, msg_order);

	CREATE TABLE IF NOT EXISTS prompt (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id TEXT NOT NULL,
		agent_name TEXT NOT NULL,
		prompt TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_prompt_user_name ON prompt(user_id, agent_name);

	CREATE TABLE IF NOT EXISTS sessions (
		token TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		email TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		expires_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_expires ON sessions(expires_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// writeRetries bounds how often a write is retried when another
// connection holds the database lock past the busy timeout.
const writeRetries = 3

func withConflictRetry(fn func() error) error {
	var err error
	for attempt := 0; attempt < writeRetries; attempt++ {
		err = fn()
		if err == nil || !shared.IsSQLiteConflictError(err) {
			return err
		}
		time.Sleep(time.Duration(attempt+1) * 50 * time.Millisecond)
	}
	return err
}

// SaveConversation persists a conversation and its messages atomically.
func (s *SQLiteStore) SaveConversation(ctx context.Context, conv *domain.Conversation) (*domain.Conversation, error) {
	var stored *domain.Conversation
	err := withConflictRetry(func() error {
		var saveErr error
		stored, saveErr = s.saveConversation(ctx, conv)
		return saveErr
	})
	return stored, err
}

func (s *SQLiteStore) saveConversation(ctx context.Context, conv *domain.Conversation) (*domain.Conversation, error) {
	if conv.Turns < 1 || conv.Turns > s.maxTurns {
		return nil, domain.ValidationError("turns", "must be between 1 and "+strconv.Itoa(s.maxTurns))
	}
	if len(conv.Messages) == 0 {
		return nil, domain.ValidationError("messages", "must not be empty")
	}
	for _, m := range conv.Messages {
		if !m.Chatbot.Valid() {
			return nil, domain.ValidationError("chatbot", "unknown speaker tag "+strconv.Quote(string(m.Chatbot)))
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(); rollbackErr != nil && !errors.Is(rollbackErr, sql.ErrTxDone) {
			slog.Warn("failed to roll back conversation save", "error", rollbackErr)
		}
	}()

	createdAt := time.Now()
	res, err := tx.ExecContext(ctx, `
		INSERT INTO conversation (user_id, conversation_starter, thread_id, model,
			system_prompt_a, system_prompt_b, turns, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		conv.User, conv.ConversationStarter, conv.ThreadID, conv.Model,
		conv.SystemPromptA, conv.SystemPromptB, conv.Turns, createdAt.Unix(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert conversation: %w", err)
	}
	convID, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("conversation insert id: %w", err)
	}

	stored := &domain.Conversation{
		ID:                  convID,
		User:                conv.User,
		ConversationStarter: conv.ConversationStarter,
		ThreadID:            conv.ThreadID,
		Model:               conv.Model,
		SystemPromptA:       conv.SystemPromptA,
		SystemPromptB:       conv.SystemPromptB,
		Turns:               conv.Turns,
		CreatedAt:           time.Unix(createdAt.Unix(), 0),
		Messages:            make([]domain.ConversationMessage, 0, len(conv.Messages)),
	}

	for i, m := range conv.Messages {
		msgRes, err := tx.ExecContext(ctx, `
			INSERT INTO message (conversation_id, chatbot, message, msg_order)
			VALUES (?, ?, ?, ?)`,
			convID, string(m.Chatbot), m.Message, i,
		)
		if err != nil {
			return nil, fmt.Errorf("insert message %d: %w", i, err)
		}
		msgID, err := msgRes.LastInsertId()
		if err != nil {
			return nil, fmt.Errorf("message insert id: %w", err)
		}
		stored.Messages = append(stored.Messages, domain.ConversationMessage{
			ID:      msgID,
			Chatbot: m.Chatbot,
			Message: m.Message,
			Order:   i,
		})
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit conversation save: %w", err)
	}
	return stored, nil
}

// GetConversation retrieves a conversation with its ordered messages.
func (s *SQLiteStore) GetConversation(ctx context.Context, user string, id int64) (*domain.Conversation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, conversation_starter, thread_id, model,
		       system_prompt_a, system_prompt_b, turns, created_at
		FROM conversation WHERE id = ? AND user_id = ?`, id, user)

	conv, err := scanConversation(row)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, chatbot, message, msg_order
		FROM message WHERE conversation_id = ? ORDER BY msg_order`, id)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close message rows", "error", closeErr)
		}
	}()

	for rows.Next() {
		var m domain.ConversationMessage
		var chatbot string
		if err := rows.Scan(&m.ID, &chatbot, &m.Message, &m.Order); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		m.Chatbot = domain.Role(chatbot)
		conv.Messages = append(conv.Messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}

	return conv, nil
}

// ListConversations returns the owner's conversations, most recent first.
func (s *SQLiteStore) ListConversations(ctx context.Context, user string) ([]*domain.Conversation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, conversation_starter, thread_id, model,
		       system_prompt_a, system_prompt_b, turns, created_at
		FROM conversation WHERE user_id = ?
		ORDER BY created_at DESC, id DESC`, user)
	if err != nil {
		return nil, fmt.Errorf("query conversations: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close conversation rows", "error", closeErr)
		}
	}()

	var convs []*domain.Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		convs = append(convs, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversations: %w", err)
	}
	return convs, nil
}

// DeleteConversation removes a conversation and cascades to its messages.
func (s *SQLiteStore) DeleteConversation(ctx context.Context, user string, id int64) error {
	return withConflictRetry(func() error {
		return s.deleteConversation(ctx, user, id)
	})
}

func (s *SQLiteStore) deleteConversation(ctx context.Context, user string, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(); rollbackErr != nil && !errors.Is(rollbackErr, sql.ErrTxDone) {
			slog.Warn("failed to roll back conversation delete", "error", rollbackErr)
		}
	}()

	res, err := tx.ExecContext(ctx, `DELETE FROM conversation WHERE id = ? AND user_id = ?`, id, user)
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("conversation delete rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("conversation %d: %w", id, domain.ErrNotFound)
	}

	// Cascade explicitly so deletion does not depend on the connection's
	// foreign_keys pragma.
	if _, err := tx.ExecContext(ctx, `DELETE FROM message WHERE conversation_id = ?`, id); err != nil {
		return fmt.Errorf("delete conversation messages: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit conversation delete: %w", err)
	}
	return nil
}

// CreatePrompt validates and persists a prompt template.
func (s *SQLiteStore) CreatePrompt(ctx context.Context, user, agentName, body string) (*domain.Prompt, error) {
	agentName, body, err := domain.ValidatePrompt(agentName, body)
	if err != nil {
		return nil, err
	}

	createdAt := time.Now()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO prompt (user_id, agent_name, prompt, created_at)
		VALUES (?, ?, ?, ?)`,
		user, agentName, body, createdAt.Unix(),
	)
	if err != nil {
		if shared.IsSQLiteUniqueConstraintError(err) {
			return nil, fmt.Errorf("prompt %q: %w", agentName, domain.ErrDuplicateName)
		}
		return nil, fmt.Errorf("insert prompt: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("prompt insert id: %w", err)
	}

	return &domain.Prompt{
		ID:        id,
		User:      user,
		AgentName: agentName,
		Prompt:    body,
		CreatedAt: time.Unix(createdAt.Unix(), 0),
	}, nil
}

// UpdatePrompt validates and rewrites a template; the record itself is
// exempt from the name collision check.
func (s *SQLiteStore) UpdatePrompt(ctx context.Context, user string, id int64, agentName, body string) (*domain.Prompt, error) {
	agentName, body, err := domain.ValidatePrompt(agentName, body)
	if err != nil {
		return nil, err
	}

	var collidingID int64
	err = s.db.QueryRowContext(ctx, `
		SELECT id FROM prompt WHERE user_id = ? AND agent_name = ? AND id <> ?`,
		user, agentName, id).Scan(&collidingID)
	switch {
	case err == nil:
		return nil, fmt.Errorf("prompt %q: %w", agentName, domain.ErrDuplicateName)
	case errors.Is(err, sql.ErrNoRows):
		// No collision.
	default:
		return nil, fmt.Errorf("check prompt name collision: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE prompt SET agent_name = ?, prompt = ? WHERE id = ? AND user_id = ?`,
		agentName, body, id, user,
	)
	if err != nil {
		if shared.IsSQLiteUniqueConstraintError(err) {
			return nil, fmt.Errorf("prompt %q: %w", agentName, domain.ErrDuplicateName)
		}
		return nil, fmt.Errorf("update prompt: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("prompt update rows affected: %w", err)
	}
	if affected == 0 {
		return nil, fmt.Errorf("prompt %d: %w", id, domain.ErrNotFound)
	}

	return s.getPrompt(ctx, user, id)
}

// DeletePrompt removes a template.
func (s *SQLiteStore) DeletePrompt(ctx context.Context, user string, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM prompt WHERE id = ? AND user_id = ?`, id, user)
	if err != nil {
		return fmt.Errorf("delete prompt: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("prompt delete rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("prompt %d: %w", id, domain.ErrNotFound)
	}
	return nil
}

// ListPrompts returns the owner's templates, newest first, optionally
// filtered and paginated.
func (s *SQLiteStore) ListPrompts(ctx context.Context, user, query string, offset, limit int) ([]*domain.Prompt, error) {
	sqlQuery := `
		SELECT id, user_id, agent_name, prompt, created_at
		FROM prompt WHERE user_id = ?`
	args := []interface{}{user}

	if query != "" {
		sqlQuery += ` AND (LOWER(agent_name) LIKE ? ESCAPE '\' OR LOWER(prompt) LIKE ? ESCAPE '\')`
		pattern := "%" + escapeLike(strings.ToLower(query)) + "%"
		args = append(args, pattern, pattern)
	}

	sqlQuery += ` ORDER BY created_at DESC, id DESC`
	if limit > 0 {
		sqlQuery += ` LIMIT ? OFFSET ?`
		args = append(args, limit, max(offset, 0))
	} else if offset > 0 {
		sqlQuery += ` LIMIT -1 OFFSET ?`
		args = append(args, offset)
	}

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("query prompts: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close prompt rows", "error", closeErr)
		}
	}()

	var prompts []*domain.Prompt
	for rows.Next() {
		var p domain.Prompt
		var createdAt int64
		if err := rows.Scan(&p.ID, &p.User, &p.AgentName, &p.Prompt, &createdAt); err != nil {
			return nil, fmt.Errorf("scan prompt row: %w", err)
		}
		p.CreatedAt = time.Unix(createdAt, 0)
		prompts = append(prompts, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate prompts: %w", err)
	}
	return prompts, nil
}

// CreateSession persists a login session.
func (s *SQLiteStore) CreateSession(ctx context.Context, session *domain.Session) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (token, user_id, email, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?)`,
		session.Token, session.UserID, session.Email,
		session.CreatedAt.Unix(), session.ExpiresAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// GetSession retrieves a session by token.
func (s *SQLiteStore) GetSession(ctx context.Context, token string) (*domain.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT token, user_id, email, created_at, expires_at
		FROM sessions WHERE token = ?`, token)

	var session domain.Session
	var createdAt, expiresAt int64
	err := row.Scan(&session.Token, &session.UserID, &session.Email, &createdAt, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session: %w", domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scan session row: %w", err)
	}

	session.CreatedAt = time.Unix(createdAt, 0)
	session.ExpiresAt = time.Unix(expiresAt, 0)
	return &session, nil
}

// DeleteSession removes a session.
func (s *SQLiteStore) DeleteSession(ctx context.Context, token string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE token = ?`, token); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// CleanupExpiredSessions removes sessions that expired before now.
func (s *SQLiteStore) CleanupExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at < ?`, now.Unix())
	if err != nil {
		return 0, fmt.Errorf("cleanup expired sessions: %w", err)
	}
	return res.RowsAffected()
}

func (s *SQLiteStore) getPrompt(ctx context.Context, user string, id int64) (*domain.Prompt, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, agent_name, prompt, created_at
		FROM prompt WHERE id = ? AND user_id = ?`, id, user)

	var p domain.Prompt
	var createdAt int64
	err := row.Scan(&p.ID, &p.User, &p.AgentName, &p.Prompt, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("prompt %d: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scan prompt row: %w", err)
	}
	p.CreatedAt = time.Unix(createdAt, 0)
	return &p, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanConversation(row rowScanner) (*domain.Conversation, error) {
	var conv domain.Conversation
	var model, promptA, promptB sql.NullString
	var createdAt int64

	err := row.Scan(
		&conv.ID, &conv.User, &conv.ConversationStarter, &conv.ThreadID,
		&model, &promptA, &promptB, &conv.Turns, &createdAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("conversation: %w", domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scan conversation row: %w", err)
	}

	conv.Model = model.String
	conv.SystemPromptA = promptA.String
	conv.SystemPromptB = promptB.String
	conv.CreatedAt = time.Unix(createdAt, 0)
	return &conv, nil
}

// escapeLike neutralizes LIKE metacharacters in a user-supplied query so
// the match stays a literal substring search.
func escapeLike(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '%', '_', '\\':
			out = append(out, '\\')
		}
		out = append(out, s[i])
	}
	return string(out)
}
