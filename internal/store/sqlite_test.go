package store

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/doubleAgent-ohtu/doubleAgent/internal/domain"
)

func newTestStore(t *testing.T) Repository {
	t.Helper()
	repo, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"), 20)
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func testConversation(user string) *domain.Conversation {
	return &domain.Conversation{
		User:                user,
		ConversationStarter: "Tell me a story",
		ThreadID:            "thread-1",
		Model:               "gpt-4o-mini",
		SystemPromptA:       "You are a pirate",
		SystemPromptB:       "You are a librarian",
		Turns:               2,
		Messages: []domain.ConversationMessage{
			{Chatbot: domain.RoleAgentA, Message: "Arr, once upon a time"},
			{Chatbot: domain.RoleAgentB, Message: "Indeed, in the archives"},
			{Chatbot: domain.RoleAgentA, Message: "The map was lost"},
		},
	}
}

func TestSaveAndGetConversation(t *testing.T) {
	t.Parallel()
	repo := newTestStore(t)
	ctx := context.Background()

	saved, err := repo.SaveConversation(ctx, testConversation("user-1"))
	if err != nil {
		t.Fatalf("SaveConversation failed: %v", err)
	}
	if saved.ID == 0 {
		t.Fatal("expected a generated conversation id")
	}

	got, err := repo.GetConversation(ctx, "user-1", saved.ID)
	if err != nil {
		t.Fatalf("GetConversation failed: %v", err)
	}
	if got.ConversationStarter != "Tell me a story" {
		t.Fatalf("unexpected starter: %q", got.ConversationStarter)
	}
	if got.Model != "gpt-4o-mini" || got.Turns != 2 {
		t.Fatalf("unexpected settings: model=%q turns=%d", got.Model, got.Turns)
	}
	if len(got.Messages) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(got.Messages))
	}
	for i, m := range got.Messages {
		if m.Order != i {
			t.Fatalf("message %d has order %d", i, m.Order)
		}
	}
	if got.Messages[0].Chatbot != domain.RoleAgentA || got.Messages[1].Chatbot != domain.RoleAgentB {
		t.Fatalf("unexpected speaker tags: %q, %q", got.Messages[0].Chatbot, got.Messages[1].Chatbot)
	}
}

func TestGetConversationWrongOwner(t *testing.T) {
	t.Parallel()
	repo := newTestStore(t)
	ctx := context.Background()

	saved, err := repo.SaveConversation(ctx, testConversation("user-1"))
	if err != nil {
		t.Fatalf("SaveConversation failed: %v", err)
	}

	if _, err := repo.GetConversation(ctx, "user-2", saved.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for foreign owner, got %v", err)
	}
}

func TestSaveConversationRejectsBadInput(t *testing.T) {
	t.Parallel()
	repo := newTestStore(t)
	ctx := context.Background()

	conv := testConversation("user-1")
	conv.Turns = 0
	if _, err := repo.SaveConversation(ctx, conv); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error for turns=0, got %v", err)
	}

	conv = testConversation("user-1")
	conv.Turns = 21
	if _, err := repo.SaveConversation(ctx, conv); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error for turns=21, got %v", err)
	}

	conv = testConversation("user-1")
	conv.Messages = nil
	if _, err := repo.SaveConversation(ctx, conv); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error for empty messages, got %v", err)
	}

	conv = testConversation("user-1")
	conv.Messages[1].Chatbot = "c"
	if _, err := repo.SaveConversation(ctx, conv); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error for unknown speaker, got %v", err)
	}
}

func TestListConversationsNewestFirst(t *testing.T) {
	t.Parallel()
	repo := newTestStore(t)
	ctx := context.Background()

	first, err := repo.SaveConversation(ctx, testConversation("user-1"))
	if err != nil {
		t.Fatalf("SaveConversation failed: %v", err)
	}
	second := testConversation("user-1")
	second.ConversationStarter = "Another opener"
	savedSecond, err := repo.SaveConversation(ctx, second)
	if err != nil {
		t.Fatalf("SaveConversation failed: %v", err)
	}
	if _, err := repo.SaveConversation(ctx, testConversation("user-2")); err != nil {
		t.Fatalf("SaveConversation failed: %v", err)
	}

	convs, err := repo.ListConversations(ctx, "user-1")
	if err != nil {
		t.Fatalf("ListConversations failed: %v", err)
	}
	if len(convs) != 2 {
		t.Fatalf("expected 2 conversations, got %d", len(convs))
	}
	if convs[0].ID != savedSecond.ID || convs[1].ID != first.ID {
		t.Fatalf("expected newest first, got ids %d, %d", convs[0].ID, convs[1].ID)
	}
	if len(convs[0].Messages) != 0 {
		t.Fatal("list should not load messages")
	}
}

func TestDeleteConversation(t *testing.T) {
	t.Parallel()
	repo := newTestStore(t)
	ctx := context.Background()

	saved, err := repo.SaveConversation(ctx, testConversation("user-1"))
	if err != nil {
		t.Fatalf("SaveConversation failed: %v", err)
	}

	if err := repo.DeleteConversation(ctx, "user-2", saved.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for foreign owner, got %v", err)
	}
	if err := repo.DeleteConversation(ctx, "user-1", saved.ID); err != nil {
		t.Fatalf("DeleteConversation failed: %v", err)
	}
	if _, err := repo.GetConversation(ctx, "user-1", saved.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected conversation to be gone, got %v", err)
	}
	if err := repo.DeleteConversation(ctx, "user-1", saved.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestCreatePromptDuplicateName(t *testing.T) {
	t.Parallel()
	repo := newTestStore(t)
	ctx := context.Background()

	if _, err := repo.CreatePrompt(ctx, "user-1", "Pirate", "You are a pirate"); err != nil {
		t.Fatalf("CreatePrompt failed: %v", err)
	}
	if _, err := repo.CreatePrompt(ctx, "user-1", "Pirate", "Different body"); !errors.Is(err, domain.ErrDuplicateName) {
		t.Fatalf("expected ErrDuplicateName, got %v", err)
	}
	// Same name under a different owner is fine.
	if _, err := repo.CreatePrompt(ctx, "user-2", "Pirate", "You are a pirate"); err != nil {
		t.Fatalf("CreatePrompt for other user failed: %v", err)
	}
}

func TestCreatePromptValidation(t *testing.T) {
	t.Parallel()
	repo := newTestStore(t)
	ctx := context.Background()

	if _, err := repo.CreatePrompt(ctx, "user-1", "  ", "body"); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error for blank name, got %v", err)
	}
	if _, err := repo.CreatePrompt(ctx, "user-1", "Pirate", "   "); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error for blank body, got %v", err)
	}
	long := strings.Repeat("x", domain.MaxPromptLength+1)
	if _, err := repo.CreatePrompt(ctx, "user-1", "Pirate", long); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error for oversized body, got %v", err)
	}
}

func TestUpdatePrompt(t *testing.T) {
	t.Parallel()
	repo := newTestStore(t)
	ctx := context.Background()

	pirate, err := repo.CreatePrompt(ctx, "user-1", "Pirate", "You are a pirate")
	if err != nil {
		t.Fatalf("CreatePrompt failed: %v", err)
	}
	if _, err := repo.CreatePrompt(ctx, "user-1", "Librarian", "You are a librarian"); err != nil {
		t.Fatalf("CreatePrompt failed: %v", err)
	}

	// Keeping its own name is not a collision.
	updated, err := repo.UpdatePrompt(ctx, "user-1", pirate.ID, "Pirate", "You are a grumpy pirate")
	if err != nil {
		t.Fatalf("UpdatePrompt failed: %v", err)
	}
	if updated.Prompt != "You are a grumpy pirate" {
		t.Fatalf("unexpected body after update: %q", updated.Prompt)
	}

	if _, err := repo.UpdatePrompt(ctx, "user-1", pirate.ID, "Librarian", "body"); !errors.Is(err, domain.ErrDuplicateName) {
		t.Fatalf("expected ErrDuplicateName, got %v", err)
	}
	if _, err := repo.UpdatePrompt(ctx, "user-1", 9999, "Captain", "body"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing id, got %v", err)
	}
	if _, err := repo.UpdatePrompt(ctx, "user-2", pirate.ID, "Captain", "body"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for foreign owner, got %v", err)
	}
}

func TestDeletePrompt(t *testing.T) {
	t.Parallel()
	repo := newTestStore(t)
	ctx := context.Background()

	p, err := repo.CreatePrompt(ctx, "user-1", "Pirate", "You are a pirate")
	if err != nil {
		t.Fatalf("CreatePrompt failed: %v", err)
	}
	if err := repo.DeletePrompt(ctx, "user-1", p.ID); err != nil {
		t.Fatalf("DeletePrompt failed: %v", err)
	}
	if err := repo.DeletePrompt(ctx, "user-1", p.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestListPromptsFilterAndPagination(t *testing.T) {
	t.Parallel()
	repo := newTestStore(t)
	ctx := context.Background()

	names := []string{"Pirate", "Librarian", "Pirate Captain"}
	for _, name := range names {
		if _, err := repo.CreatePrompt(ctx, "user-1", name, "You are "+name); err != nil {
			t.Fatalf("CreatePrompt %q failed: %v", name, err)
		}
	}

	all, err := repo.ListPrompts(ctx, "user-1", "", 0, 0)
	if err != nil {
		t.Fatalf("ListPrompts failed: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 prompts, got %d", len(all))
	}

	pirates, err := repo.ListPrompts(ctx, "user-1", "pirate", 0, 0)
	if err != nil {
		t.Fatalf("ListPrompts with query failed: %v", err)
	}
	if len(pirates) != 2 {
		t.Fatalf("expected 2 matches for %q, got %d", "pirate", len(pirates))
	}

	page, err := repo.ListPrompts(ctx, "user-1", "", 1, 1)
	if err != nil {
		t.Fatalf("ListPrompts with pagination failed: %v", err)
	}
	if len(page) != 1 {
		t.Fatalf("expected 1 prompt on page, got %d", len(page))
	}

	none, err := repo.ListPrompts(ctx, "user-1", "100%_guaranteed", 0, 0)
	if err != nil {
		t.Fatalf("ListPrompts failed: %v", err)
	}
	if len(none) != 0 {
		t.Fatalf("LIKE metacharacters should match literally, got %d results", len(none))
	}
}

func TestSessionLifecycle(t *testing.T) {
	t.Parallel()
	repo := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	session := &domain.Session{
		Token:     "tok-1",
		UserID:    "user-1",
		Email:     "user@example.com",
		CreatedAt: now,
		ExpiresAt: now.Add(time.Hour),
	}
	if err := repo.CreateSession(ctx, session); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	got, err := repo.GetSession(ctx, "tok-1")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if got.UserID != "user-1" || got.Email != "user@example.com" {
		t.Fatalf("unexpected session: %+v", got)
	}

	if err := repo.DeleteSession(ctx, "tok-1"); err != nil {
		t.Fatalf("DeleteSession failed: %v", err)
	}
	if _, err := repo.GetSession(ctx, "tok-1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestCleanupExpiredSessions(t *testing.T) {
	t.Parallel()
	repo := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	expired := &domain.Session{
		Token: "tok-old", UserID: "user-1", Email: "user@example.com",
		CreatedAt: now.Add(-2 * time.Hour), ExpiresAt: now.Add(-time.Hour),
	}
	live := &domain.Session{
		Token: "tok-new", UserID: "user-1", Email: "user@example.com",
		CreatedAt: now, ExpiresAt: now.Add(time.Hour),
	}
	for _, sess := range []*domain.Session{expired, live} {
		if err := repo.CreateSession(ctx, sess); err != nil {
			t.Fatalf("CreateSession failed: %v", err)
		}
	}

	removed, err := repo.CleanupExpiredSessions(ctx, now)
	if err != nil {
		t.Fatalf("CleanupExpiredSessions failed: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 removed session, got %d", removed)
	}
	if _, err := repo.GetSession(ctx, "tok-new"); err != nil {
		t.Fatalf("live session should survive cleanup: %v", err)
	}
}
