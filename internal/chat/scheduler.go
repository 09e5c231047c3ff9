package chat

import (
	"context"
	"iter"
	"log/slog"
	"strings"

	"github.com/doubleAgent-ohtu/doubleAgent/internal/domain"
)

// EventType tags a scheduler lifecycle event.
type EventType string

const (
	// EventStart opens a turn and names the active speaker.
	EventStart EventType = "start"
	// EventToken carries one reply fragment.
	EventToken EventType = "token"
	// EventEnd closes a turn.
	EventEnd EventType = "end"
	// EventError is terminal: the run failed and no further turns run.
	EventError EventType = "error"
	// EventDone is terminal: all requested turns completed.
	EventDone EventType = "done"
)

// Event is one entry of a conversation run's event stream.
type Event struct {
	Type    EventType `json:"type"`
	Chatbot string    `json:"chatbot,omitempty"`
	Content string    `json:"content,omitempty"`
	Turn    int       `json:"turn"`
}

// Scheduler drives an alternating two-agent conversation.
type Scheduler struct {
	agentA   *Agent
	agentB   *Agent
	maxTurns int
}

// NewScheduler creates a scheduler over the two shared agents. maxTurns
// is the inclusive upper bound on a plan's requested turn count.
func NewScheduler(agentA, agentB *Agent, maxTurns int) *Scheduler {
	return &Scheduler{agentA: agentA, agentB: agentB, maxTurns: maxTurns}
}

// Run validates the plan and returns the run's event stream. Validation
// and configuration errors are returned before any event exists, so an
// invalid request has no side effects. The stream emits start/token*/end
// per turn and terminates with exactly one of: a done event after the
// final turn, an error event on the first failed turn, or silence when
// ctx is cancelled at a turn boundary. A turn already in progress is not
// aborted mid-stream; cancellation is observed between turns only.
func (s *Scheduler) Run(ctx context.Context, plan domain.Plan) (iter.Seq[Event], error) {
	if err := plan.Validate(s.maxTurns); err != nil {
		return nil, err
	}

	// Resolve both configurations up front. A blank instruction resets
	// the agent to its own configured default rather than reusing
	// whatever a previous run happened to leave active.
	cfgA, err := s.agentA.ResolveConfig(plan.SystemPromptA, plan.Model)
	if err != nil {
		return nil, err
	}
	cfgB, err := s.agentB.ResolveConfig(plan.SystemPromptB, plan.Model)
	if err != nil {
		return nil, err
	}

	return func(yield func(Event) bool) {
		current := plan.InitialMessage
		active, activeCfg := s.agentA, cfgA
		next, nextCfg := s.agentB, cfgB

		for turn := 0; turn < plan.Turns; turn++ {
			if ctx.Err() != nil {
				slog.Info("conversation cancelled",
					"thread_id", plan.ThreadID, "completed_turns", turn)
				return
			}

			if !yield(Event{Type: EventStart, Chatbot: active.Name(), Turn: turn}) {
				return
			}

			var reply strings.Builder
			for fragment, err := range active.AnswerStream(ctx, plan.ThreadID, current, activeCfg) {
				if err != nil {
					slog.Error("conversation turn failed",
						"thread_id", plan.ThreadID, "turn", turn,
						"chatbot", active.Name(), "error", err)
					yield(Event{Type: EventError, Content: err.Error(), Turn: turn})
					return
				}
				reply.WriteString(fragment)
				if !yield(Event{Type: EventToken, Content: fragment, Turn: turn}) {
					return
				}
			}

			if !yield(Event{Type: EventEnd, Chatbot: active.Name(), Turn: turn}) {
				return
			}

			current = reply.String()
			active, next = next, active
			activeCfg, nextCfg = nextCfg, activeCfg
		}

		yield(Event{Type: EventDone, Turn: plan.Turns})
	}, nil
}
