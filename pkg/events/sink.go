package events

import (
	"sync"
	"time"
)

// Sink receives run events from the execution engine for delivery to one
// client. The session implements Sink by queueing events onto its outbound
// writer; tests implement it with a CollectingSink.
//
// Implementations must tolerate being called after the session has started
// closing — late events are dropped, never an error.
type Sink interface {
	AgentStarted(p AgentStartedPayload)
	StepStatus(p StepStatusPayload)
	AgentThinking(p AgentThinkingPayload)
	ToolExecuting(p ToolExecutingPayload)
	FinalReport(p FinalReportPayload)
	AgentCompleted(p AgentCompletedPayload)
	Error(p ErrorPayload)
}

// Now returns the canonical event timestamp format.
func Now() string {
	return time.Now().Format(time.RFC3339Nano)
}

// Base builds a BasePayload for a run-scoped event.
func Base(eventType, runID, threadID string) BasePayload {
	return BasePayload{
		Type:      eventType,
		RunID:     runID,
		ThreadID:  threadID,
		Timestamp: Now(),
	}
}

// CollectingSink is a Sink that records every event in order. Used by tests
// to assert on the emitted stream without a live WebSocket.
type CollectingSink struct {
	mu     sync.Mutex
	events []any
}

// NewCollectingSink creates an empty CollectingSink.
func NewCollectingSink() *CollectingSink {
	return &CollectingSink{}
}

func (s *CollectingSink) record(e any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

func (s *CollectingSink) AgentStarted(p AgentStartedPayload)     { s.record(p) }
func (s *CollectingSink) StepStatus(p StepStatusPayload)         { s.record(p) }
func (s *CollectingSink) AgentThinking(p AgentThinkingPayload)   { s.record(p) }
func (s *CollectingSink) ToolExecuting(p ToolExecutingPayload)   { s.record(p) }
func (s *CollectingSink) FinalReport(p FinalReportPayload)       { s.record(p) }
func (s *CollectingSink) AgentCompleted(p AgentCompletedPayload) { s.record(p) }
func (s *CollectingSink) Error(p ErrorPayload)                   { s.record(p) }

// Events returns a snapshot of recorded events in emission order.
func (s *CollectingSink) Events() []any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]any, len(s.events))
	copy(out, s.events)
	return out
}

// StepStatuses returns the recorded step.status payloads in order.
func (s *CollectingSink) StepStatuses() []StepStatusPayload {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []StepStatusPayload
	for _, e := range s.events {
		if p, ok := e.(StepStatusPayload); ok {
			out = append(out, p)
		}
	}
	return out
}

// Terminal returns the agent_completed payload, if one was recorded.
func (s *CollectingSink) Terminal() (AgentCompletedPayload, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.events {
		if p, ok := e.(AgentCompletedPayload); ok {
			return p, true
		}
	}
	return AgentCompletedPayload{}, false
}
