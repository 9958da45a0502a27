// Package events defines the WebSocket wire protocol: inbound client
// commands, outbound event payloads, and the Sink through which the
// execution engine streams events to a connected client.
//
// Every outbound event is fully self-describing — a receiver needs no
// server-side state beyond run_id/thread_id to interpret it. Events for
// one run are delivered in the order steps complete; there is no ordering
// guarantee across sessions.
package events

import "encoding/json"

// Outbound event types.
const (
	// Session lifecycle
	EventTypeConnectionEstablished = "connection.established"
	EventTypePong                  = "pong"

	// Run lifecycle
	EventTypeAgentStarted   = "agent_started"
	EventTypeAgentThinking  = "agent_thinking"
	EventTypeToolExecuting  = "tool_executing"
	EventTypeAgentCompleted = "agent_completed"
	EventTypeFinalReport    = "final_report"
	EventTypeError          = "error"

	// Step lifecycle — single event type for all step status transitions
	EventTypeStepStatus = "step.status"

	// Thread lifecycle
	EventTypeThreadCreated = "thread.created"
	EventTypeThreadRenamed = "thread.renamed"
	EventTypeThreadDeleted = "thread.deleted"
	EventTypeThreadList    = "thread.list"
	EventTypeThreadSwitch  = "thread.switched"
	EventTypeUserMessage   = "user_message.ack"
)

// Step lifecycle status values (used in StepStatusPayload.Status).
const (
	StepStatusStarted   = "started"
	StepStatusCompleted = "completed"
	StepStatusFailed    = "failed"
	StepStatusTimedOut  = "timed_out"
	StepStatusCancelled = "cancelled"
	StepStatusSkipped   = "skipped"
)

// Run terminal status values (used in AgentCompletedPayload.Status).
const (
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
	RunStatusCancelled = "cancelled"
	RunStatusTimedOut  = "timed_out"
)

// Error codes carried by ErrorPayload.Code.
const (
	ErrCodeMalformedMessage = "malformed_message"
	ErrCodeUnknownType      = "unknown_message_type"
	ErrCodeStepExecution    = "step_execution_error"
	ErrCodeRunNotFound      = "run_not_found"
	ErrCodeThreadNotFound   = "thread_not_found"
)

// Inbound message types.
const (
	MessageTypeStartAgent   = "start_agent"
	MessageTypeStopAgent    = "stop_agent"
	MessageTypeUserMessage  = "user_message"
	MessageTypePing         = "ping"
	MessageTypeCreateThread = "create_thread"
	MessageTypeRenameThread = "rename_thread"
	MessageTypeDeleteThread = "delete_thread"
	MessageTypeSwitchThread = "switch_thread"
	MessageTypeListThreads  = "list_threads"
)

// ClientMessage is the JSON envelope for client → server WebSocket messages.
type ClientMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// StartAgentPayload starts a pipeline run on the session's thread.
type StartAgentPayload struct {
	Query    string         `json:"query,omitempty"`
	ThreadID string         `json:"thread_id,omitempty"`
	Context  map[string]any `json:"context,omitempty"`
}

// StopAgentPayload cancels an in-flight run owned by this session.
type StopAgentPayload struct {
	RunID string `json:"run_id"`
}

// UserMessagePayload appends a message to a thread.
type UserMessagePayload struct {
	Content  string         `json:"content"`
	ThreadID string         `json:"thread_id"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// CreateThreadPayload creates a new thread for the session's user.
type CreateThreadPayload struct {
	Title string `json:"title,omitempty"`
}

// RenameThreadPayload renames an existing thread.
type RenameThreadPayload struct {
	ThreadID string `json:"thread_id"`
	Title    string `json:"title"`
}

// DeleteThreadPayload deletes a thread.
type DeleteThreadPayload struct {
	ThreadID string `json:"thread_id"`
}

// SwitchThreadPayload binds the session to a different thread.
type SwitchThreadPayload struct {
	ThreadID string `json:"thread_id"`
}
