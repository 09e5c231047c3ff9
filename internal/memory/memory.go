// Package memory provides per-thread ordered message history.
package memory

import (
	"sync"

	"github.com/doubleAgent-ohtu/doubleAgent/internal/domain"
)

// Store keeps an ordered message sequence per thread id. Each agent owns
// its own Store, so the same thread id on two agents never merges.
type Store struct {
	mu      sync.RWMutex
	threads map[string][]domain.Message
}

// NewStore creates an empty memory store.
func NewStore() *Store {
	return &Store{threads: make(map[string][]domain.Message)}
}

// Append records a message at the next sequence position of the thread.
// It is the only mutator.
func (s *Store) Append(threadID string, role domain.Role, content string) domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg := domain.Message{
		Role:    role,
		Content: content,
		Seq:     len(s.threads[threadID]),
	}
	s.threads[threadID] = append(s.threads[threadID], msg)
	return msg
}

// Export returns a snapshot copy of the thread's history, so iteration
// never observes a partial append. Unknown threads yield nil.
func (s *Store) Export(threadID string) []domain.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := s.threads[threadID]
	if len(msgs) == 0 {
		return nil
	}
	out := make([]domain.Message, len(msgs))
	copy(out, msgs)
	return out
}

// Len returns the number of messages stored for the thread.
func (s *Store) Len(threadID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.threads[threadID])
}
