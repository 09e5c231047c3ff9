// Package chat implements the conversational agents and the alternating
// turn scheduler.
package chat

import (
	"context"
	"fmt"
	"iter"
	"strings"
	"sync"

	"github.com/doubleAgent-ohtu/doubleAgent/internal/domain"
	"github.com/doubleAgent-ohtu/doubleAgent/internal/llm"
	"github.com/doubleAgent-ohtu/doubleAgent/internal/memory"
)

// AgentConfig is the effective configuration for one generation call.
// Values are resolved up front per session, so a reconfiguration from a
// concurrent session cannot change an in-flight run.
type AgentConfig struct {
	Model        string
	SystemPrompt string
}

// Agent is one conversational identity (A or B) with its own model
// selection, system instruction, and per-thread memory.
type Agent struct {
	name      string
	replyRole domain.Role
	models    []string
	completer llm.Completer
	mem       *memory.Store

	mu       sync.RWMutex
	defaults AgentConfig
}

// NewAgent creates an agent named "a" or "b". The default model must be a
// member of the allow-list.
func NewAgent(name string, defaults AgentConfig, models []string, completer llm.Completer) (*Agent, error) {
	var replyRole domain.Role
	switch name {
	case "a":
		replyRole = domain.RoleAgentA
	case "b":
		replyRole = domain.RoleAgentB
	default:
		return nil, fmt.Errorf("agent name must be \"a\" or \"b\", got %q", name)
	}
	if !modelAllowed(models, defaults.Model) {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnsupportedModel, defaults.Model)
	}

	return &Agent{
		name:      name,
		replyRole: replyRole,
		models:    models,
		completer: completer,
		mem:       memory.NewStore(),
		defaults:  defaults,
	}, nil
}

// Name returns the agent's identity, "a" or "b".
func (a *Agent) Name() string { return a.name }

// Configure updates the agent's default model and instruction. A model
// outside the allow-list fails with domain.ErrUnsupportedModel and leaves
// the previous configuration active. An empty model keeps the current one;
// the instruction update always succeeds and applies from the next reply.
func (a *Agent) Configure(model, systemPrompt string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if model != "" {
		if !modelAllowed(a.models, model) {
			return fmt.Errorf("%w: %q", domain.ErrUnsupportedModel, model)
		}
		a.defaults.Model = model
	}
	a.defaults.SystemPrompt = systemPrompt
	return nil
}

// Defaults returns the agent's last-configured configuration.
func (a *Agent) Defaults() AgentConfig {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.defaults
}

// ResolveConfig snapshots an effective per-call configuration. A blank
// instruction or model falls back to the agent's defaults; a non-member
// model fails with domain.ErrUnsupportedModel before any generation.
func (a *Agent) ResolveConfig(systemPrompt, model string) (AgentConfig, error) {
	cfg := a.Defaults()
	if strings.TrimSpace(systemPrompt) != "" {
		cfg.SystemPrompt = systemPrompt
	}
	if model != "" {
		if !modelAllowed(a.models, model) {
			return AgentConfig{}, fmt.Errorf("%w: %q", domain.ErrUnsupportedModel, model)
		}
		cfg.Model = model
	}
	return cfg, nil
}

// Answer generates a reply to message within the thread. On success the
// incoming message and the reply are appended to the thread's memory; on
// failure nothing is appended and the error wraps domain.ErrUpstream.
func (a *Agent) Answer(ctx context.Context, threadID, message string, cfg AgentConfig) (string, error) {
	reply, err := a.completer.Complete(ctx, a.request(threadID, message, cfg))
	if err != nil {
		return "", err
	}

	a.mem.Append(threadID, domain.RoleHuman, message)
	a.mem.Append(threadID, a.replyRole, reply)
	return reply, nil
}

// AnswerStream generates a reply incrementally. The sequence ends either
// after the last fragment or with a single terminal ("", err) pair. On
// natural completion the exchange is appended to memory as one unit; a
// failed or abandoned stream appends nothing.
func (a *Agent) AnswerStream(ctx context.Context, threadID, message string, cfg AgentConfig) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		var reply strings.Builder

		for fragment, err := range a.completer.Stream(ctx, a.request(threadID, message, cfg)) {
			if err != nil {
				yield("", err)
				return
			}
			reply.WriteString(fragment)
			if !yield(fragment, nil) {
				return
			}
		}

		a.mem.Append(threadID, domain.RoleHuman, message)
		a.mem.Append(threadID, a.replyRole, reply.String())
	}
}

// History renders the thread's memory as labeled blocks for display.
// System entries are skipped; an unknown thread renders as the empty
// string. Incoming messages carry the partner's label, since in an
// alternating conversation they are the other bot's replies.
func (a *Agent) History(threadID string) string {
	msgs := a.mem.Export(threadID)
	if len(msgs) == 0 {
		return ""
	}

	var b strings.Builder
	for _, m := range msgs {
		if m.Role == domain.RoleSystem {
			continue
		}
		label := m.Role.Label()
		if m.Role == domain.RoleHuman {
			label = a.partnerLabel()
		}
		b.WriteString(label)
		b.WriteString(":\n")
		b.WriteString(m.Content)
		b.WriteString("\n\n")
	}
	return b.String()
}

// Memory exposes the agent's message store for direct inspection.
func (a *Agent) Memory() *memory.Store { return a.mem }

func (a *Agent) partnerLabel() string {
	if a.replyRole == domain.RoleAgentA {
		return domain.RoleAgentB.Label()
	}
	return domain.RoleAgentA.Label()
}

func (a *Agent) request(threadID, message string, cfg AgentConfig) llm.Request {
	history := a.mem.Export(threadID)
	history = append(history, domain.Message{
		Role:    domain.RoleHuman,
		Content: message,
		Seq:     len(history),
	})
	return llm.Request{
		Model:        cfg.Model,
		SystemPrompt: cfg.SystemPrompt,
		History:      history,
	}
}

func modelAllowed(models []string, model string) bool {
	for _, m := range models {
		if m == model {
			return true
		}
	}
	return false
}
