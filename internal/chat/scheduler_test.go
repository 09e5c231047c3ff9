package chat

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/doubleAgent-ohtu/doubleAgent/internal/domain"
)

func newTestScheduler(t *testing.T, completer *fakeCompleter) (*Scheduler, *Agent, *Agent) {
	t.Helper()
	agentA := newTestAgent(t, "a", completer)
	agentB := newTestAgent(t, "b", completer)
	return NewScheduler(agentA, agentB, 20), agentA, agentB
}

func testPlan(turns int) domain.Plan {
	return domain.Plan{
		InitialMessage: "Tell me a story",
		ThreadID:       "t1",
		Turns:          turns,
	}
}

func collectEvents(t *testing.T, s *Scheduler, plan domain.Plan) []Event {
	t.Helper()
	events, err := s.Run(context.Background(), plan)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	var got []Event
	for event := range events {
		got = append(got, event)
	}
	return got
}

func repliesOf(events []Event) []string {
	var replies []string
	var current strings.Builder
	for _, e := range events {
		switch e.Type {
		case EventToken:
			current.WriteString(e.Content)
		case EventEnd:
			replies = append(replies, current.String())
			current.Reset()
		}
	}
	return replies
}

func TestRunAlternatesSpeakers(t *testing.T) {
	t.Parallel()

	completer := &fakeCompleter{replies: []string{"first reply", "second reply", "third reply"}}
	s, _, _ := newTestScheduler(t, completer)

	events := collectEvents(t, s, testPlan(3))

	var starts, ends []Event
	for _, e := range events {
		switch e.Type {
		case EventStart:
			starts = append(starts, e)
		case EventEnd:
			ends = append(ends, e)
		}
	}
	if len(starts) != 3 || len(ends) != 3 {
		t.Fatalf("expected 3 start/end pairs, got %d/%d", len(starts), len(ends))
	}
	for i, want := range []string{"a", "b", "a"} {
		if starts[i].Chatbot != want {
			t.Fatalf("turn %d started by %q, want %q", i, starts[i].Chatbot, want)
		}
		if starts[i].Turn != i || ends[i].Turn != i {
			t.Fatalf("turn %d carries indices %d/%d", i, starts[i].Turn, ends[i].Turn)
		}
	}

	if got := repliesOf(events); len(got) != 3 || got[0] != "first reply" || got[2] != "third reply" {
		t.Fatalf("unexpected assembled replies: %q", got)
	}

	last := events[len(events)-1]
	if last.Type != EventDone || last.Turn != 3 {
		t.Fatalf("expected terminal done event, got %+v", last)
	}
}

func TestRunFeedsRepliesForward(t *testing.T) {
	t.Parallel()

	completer := &fakeCompleter{replies: []string{"first reply", "second reply"}}
	s, _, _ := newTestScheduler(t, completer)

	collectEvents(t, s, testPlan(2))

	if len(completer.requests) != 2 {
		t.Fatalf("expected 2 generation calls, got %d", len(completer.requests))
	}
	first := completer.requests[0].History
	if first[len(first)-1].Content != "Tell me a story" {
		t.Fatalf("turn 0 should answer the opener, got %q", first[len(first)-1].Content)
	}
	second := completer.requests[1].History
	if second[len(second)-1].Content != "first reply" {
		t.Fatalf("turn 1 should answer turn 0's reply, got %q", second[len(second)-1].Content)
	}
}

func TestRunWritesEachAgentsMemory(t *testing.T) {
	t.Parallel()

	completer := &fakeCompleter{replies: []string{"first reply", "second reply", "third reply"}}
	s, agentA, agentB := newTestScheduler(t, completer)

	collectEvents(t, s, testPlan(3))

	// A answered turns 0 and 2, B answered turn 1; each answered turn is
	// one incoming/reply pair in that agent's own memory.
	if n := agentA.Memory().Len("t1"); n != 4 {
		t.Fatalf("agent A memory has %d entries, want 4", n)
	}
	if n := agentB.Memory().Len("t1"); n != 2 {
		t.Fatalf("agent B memory has %d entries, want 2", n)
	}
}

func TestRunRejectsInvalidPlans(t *testing.T) {
	t.Parallel()

	s, _, _ := newTestScheduler(t, &fakeCompleter{})

	if _, err := s.Run(context.Background(), testPlan(0)); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error for 0 turns, got %v", err)
	}
	if _, err := s.Run(context.Background(), testPlan(21)); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error for 21 turns, got %v", err)
	}

	blank := testPlan(2)
	blank.InitialMessage = "   "
	if _, err := s.Run(context.Background(), blank); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error for blank opener, got %v", err)
	}

	badModel := testPlan(2)
	badModel.Model = "gpt-9"
	if _, err := s.Run(context.Background(), badModel); !errors.Is(err, domain.ErrUnsupportedModel) {
		t.Fatalf("expected ErrUnsupportedModel, got %v", err)
	}
}

func TestRunEmitsSingleErrorEventOnFailure(t *testing.T) {
	t.Parallel()

	completer := &fakeCompleter{replies: []string{"first reply"}, failAt: 2}
	s, _, agentB := newTestScheduler(t, completer)

	events := collectEvents(t, s, testPlan(5))

	last := events[len(events)-1]
	if last.Type != EventError || last.Turn != 1 {
		t.Fatalf("expected terminal error event on turn 1, got %+v", last)
	}
	var errorCount, startCount int
	for _, e := range events {
		if e.Type == EventError {
			errorCount++
		}
		if e.Type == EventStart {
			startCount++
		}
	}
	if errorCount != 1 {
		t.Fatalf("expected exactly one error event, got %d", errorCount)
	}
	if startCount != 2 {
		t.Fatalf("expected no turns after the failure, got %d starts", startCount)
	}
	if n := agentB.Memory().Len("t1"); n != 0 {
		t.Fatalf("failed turn must not touch memory, found %d entries", n)
	}
}

func TestRunStopsAtTurnBoundaryOnCancel(t *testing.T) {
	t.Parallel()

	completer := &fakeCompleter{replies: []string{"first reply", "second reply"}}
	s, _, _ := newTestScheduler(t, completer)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := s.Run(ctx, testPlan(5))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	var got []Event
	for event := range events {
		got = append(got, event)
		if event.Type == EventEnd {
			cancel()
		}
	}

	for _, e := range got {
		if e.Type == EventStart && e.Turn > 0 {
			t.Fatalf("turn %d started after cancellation", e.Turn)
		}
		if e.Type == EventDone || e.Type == EventError {
			t.Fatalf("cancelled run must end silently, got %+v", e)
		}
	}
	if got[len(got)-1].Type != EventEnd {
		t.Fatalf("expected the in-flight turn to finish, last event %+v", got[len(got)-1])
	}
}
