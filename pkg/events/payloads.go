package events

// BasePayload carries the fields common to all run-scoped outbound events.
type BasePayload struct {
	Type      string `json:"type"`
	RunID     string `json:"run_id"`
	ThreadID  string `json:"thread_id,omitempty"`
	Timestamp string `json:"timestamp"` // RFC3339Nano
}

// AgentStartedPayload is published when a pipeline run begins.
// Steps lists the planned step names in execution order so the client can
// render progress without server-side state.
type AgentStartedPayload struct {
	BasePayload
	Steps []string `json:"steps"`
}

// StepStatusPayload is published for every step lifecycle transition.
// Single event type for all transitions (started, completed, failed,
// timed_out, cancelled, skipped).
type StepStatusPayload struct {
	BasePayload
	Step   string `json:"step"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"` // set for failed/timed_out
}

// AgentThinkingPayload is published when a capability reports reasoning
// progress mid-step. Transient — not replayed.
type AgentThinkingPayload struct {
	BasePayload
	Step    string `json:"step"`
	Content string `json:"content"`
}

// ToolExecutingPayload is published when a capability invokes a named tool.
type ToolExecutingPayload struct {
	BasePayload
	Step string `json:"step"`
	Tool string `json:"tool"`
}

// FinalReportPayload carries the reporting step's output. It is published
// for every run that reaches the reporting step, including runs with
// upstream failures (the report then covers whatever partial context exists).
type FinalReportPayload struct {
	BasePayload
	Report map[string]any `json:"report"`
}

// AgentCompletedPayload is the terminal event for a run. Exactly one is
// published per started run, whatever happened in between.
type AgentCompletedPayload struct {
	BasePayload
	Status     string `json:"status"` // completed, failed, cancelled, timed_out
	DurationMS int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}

// ErrorPayload is a structured error event. For step-scoped errors Step is
// set; session-scoped errors (malformed messages) leave RunID and Step empty.
type ErrorPayload struct {
	BasePayload
	Code    string `json:"code"`
	Step    string `json:"step,omitempty"`
	Message string `json:"message"`
}

// ThreadPayload acknowledges thread lifecycle operations.
type ThreadPayload struct {
	Type      string `json:"type"`
	ThreadID  string `json:"thread_id"`
	Title     string `json:"title,omitempty"`
	Timestamp string `json:"timestamp"`
}

// ThreadListPayload is the reply to list_threads.
type ThreadListPayload struct {
	Type      string          `json:"type"`
	Threads   []ThreadSummary `json:"threads"`
	Timestamp string          `json:"timestamp"`
}

// ThreadSummary is one thread in a ThreadListPayload.
type ThreadSummary struct {
	ThreadID  string `json:"thread_id"`
	Title     string `json:"title"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
	Messages  int    `json:"messages"`
}
