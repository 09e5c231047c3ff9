// Package llm provides the upstream language-model completion capability.
package llm

import (
	"context"
	"iter"

	"github.com/doubleAgent-ohtu/doubleAgent/internal/domain"
)

// Request carries one completion call: the effective configuration plus
// the ordered history, whose last entry is the message being answered.
type Request struct {
	Model        string
	SystemPrompt string
	History      []domain.Message
}

// Completer defines the interface for generating replies. Implemented by
// the OpenAI client; tests substitute fakes.
type Completer interface {
	// Complete returns the full reply text, or an error wrapping
	// domain.ErrUpstream on failure.
	Complete(ctx context.Context, req Request) (string, error)

	// Stream yields reply fragments as they are produced. The sequence
	// is finite and not restartable: it ends either after the last
	// fragment or with a single terminal ("", err) pair.
	Stream(ctx context.Context, req Request) iter.Seq2[string, error]
}
