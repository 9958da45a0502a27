package session

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/codeready-toolchain/conductor/pkg/config"
	"github.com/codeready-toolchain/conductor/pkg/events"
	"github.com/codeready-toolchain/conductor/pkg/metrics"
	"github.com/codeready-toolchain/conductor/pkg/pipeline"
	"github.com/codeready-toolchain/conductor/pkg/registry"
	"github.com/codeready-toolchain/conductor/pkg/thread"
	"github.com/codeready-toolchain/conductor/pkg/workflow"
)

// establishedPayload is the handshake message sent once a connection is
// admitted. It tells the client its session ID and the limits in force.
type establishedPayload struct {
	Type        string `json:"type"`
	SessionID   string `json:"session_id"`
	UserID      string `json:"user_id"`
	MaxPerUser  int    `json:"max_connections_per_user"`
	ActiveCount int    `json:"active_connections"`
	Timestamp   string `json:"timestamp"`
}

// Manager owns every live session in this process. Each Go process has one
// Manager instance.
type Manager struct {
	cfg      *config.Config
	registry *registry.Registry
	threads  *thread.Store
	engine   *pipeline.Engine
	metrics  *metrics.Metrics

	sessions map[string]*Session
	mu       sync.RWMutex
}

// NewManager creates a session manager. metrics may be nil.
func NewManager(
	cfg *config.Config,
	reg *registry.Registry,
	threads *thread.Store,
	engine *pipeline.Engine,
	m *metrics.Metrics,
) *Manager {
	return &Manager{
		cfg:      cfg,
		registry: reg,
		threads:  threads,
		engine:   engine,
		metrics:  m,
		sessions: make(map[string]*Session),
	}
}

// ActiveSessions returns the count of live sessions in this process.
func (m *Manager) ActiveSessions() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// HandleConnection manages the lifecycle of a single WebSocket connection
// for the authenticated user. Called by the WebSocket HTTP handler after
// upgrade. Blocks until the connection closes. Cleanup is guaranteed on
// every exit path: in-flight runs cancelled, registry slot released,
// transport closed.
func (m *Manager) HandleConnection(parentCtx context.Context, conn *websocket.Conn, userID string) {
	tr := &transport{}

	res := m.registry.TryAdmit(userID, tr)
	m.metrics.ZombieReclaimed(res.Reclaimed)
	if !res.Admitted {
		m.metrics.ConnectionRejected(res.Reason)
		// Policy close, not an application error: the client is over its
		// connection budget and must close another session first.
		_ = conn.Close(websocket.StatusPolicyViolation, res.Reason)
		return
	}
	m.metrics.ConnectionAdmitted()

	ctx, cancel := context.WithCancel(parentCtx)
	s := &Session{
		ID:           res.Connection.ID,
		UserID:       userID,
		conn:         conn,
		transport:    tr,
		slot:         res.Connection,
		state:        StateConnecting,
		send:         make(chan []byte, m.cfg.Server.SendBufferSize),
		ctx:          ctx,
		cancel:       cancel,
		runs:         make(map[string]context.CancelFunc),
		writeTimeout: m.cfg.Server.WriteTimeout,
		registry:     m.registry,
		metrics:      m.metrics,
	}
	s.setState(StateAdmitted)

	m.register(s)
	defer m.unregister(s)
	defer s.close(websocket.StatusNormalClosure, "")

	go s.writer()

	s.sendJSON(establishedPayload{
		Type:        events.EventTypeConnectionEstablished,
		SessionID:   s.ID,
		UserID:      userID,
		MaxPerUser:  res.Limit,
		ActiveCount: res.Active,
		Timestamp:   events.Now(),
	})
	s.setState(StateActive)
	slog.Info("Session established",
		"session_id", s.ID, "user_id", userID, "active", res.Active)

	// Read loop — process client messages until the connection closes.
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			tr.kill()
			return
		}
		s.slot.Touch()

		var msg events.ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Warn("Malformed WebSocket message",
				"session_id", s.ID, "error", err)
			s.sendError(events.ErrCodeMalformedMessage, "", "message is not valid JSON")
			continue
		}
		m.dispatch(s, &msg)
	}
}

func (m *Manager) register(s *Session) {
	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()
}

func (m *Manager) unregister(s *Session) {
	m.mu.Lock()
	delete(m.sessions, s.ID)
	m.mu.Unlock()
}

// Shutdown closes every live session and waits up to ctx for their read
// loops to observe the close.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	for _, s := range sessions {
		s.close(websocket.StatusGoingAway, "server shutting down")
	}

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for m.ActiveSessions() > 0 {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Session) sendError(code, step, message string) {
	s.sendJSON(events.ErrorPayload{
		BasePayload: events.BasePayload{
			Type:      events.EventTypeError,
			Timestamp: events.Now(),
		},
		Code:    code,
		Step:    step,
		Message: message,
	})
}

// dispatch routes one inbound message. A bad message produces an error
// event; the session itself stays open.
func (m *Manager) dispatch(s *Session, msg *events.ClientMessage) {
	switch msg.Type {
	case events.MessageTypePing:
		s.sendJSON(map[string]string{"type": events.EventTypePong, "timestamp": events.Now()})

	case events.MessageTypeStartAgent:
		var p events.StartAgentPayload
		if !decodePayload(s, msg.Payload, &p) {
			return
		}
		m.startAgent(s, p)

	case events.MessageTypeStopAgent:
		var p events.StopAgentPayload
		if !decodePayload(s, msg.Payload, &p) {
			return
		}
		if !s.cancelRun(p.RunID) {
			s.sendError(events.ErrCodeRunNotFound, "", "no in-flight run with id "+p.RunID)
		}

	case events.MessageTypeUserMessage:
		var p events.UserMessagePayload
		if !decodePayload(s, msg.Payload, &p) {
			return
		}
		m.userMessage(s, p)

	case events.MessageTypeCreateThread:
		var p events.CreateThreadPayload
		if !decodePayload(s, msg.Payload, &p) {
			return
		}
		t := m.threads.Create(s.UserID, p.Title)
		s.setThread(t.ID)
		s.sendJSON(events.ThreadPayload{
			Type:      events.EventTypeThreadCreated,
			ThreadID:  t.ID,
			Title:     t.Title,
			Timestamp: events.Now(),
		})

	case events.MessageTypeRenameThread:
		var p events.RenameThreadPayload
		if !decodePayload(s, msg.Payload, &p) {
			return
		}
		if err := m.threads.Rename(s.UserID, p.ThreadID, p.Title); err != nil {
			s.sendError(events.ErrCodeThreadNotFound, "", err.Error())
			return
		}
		s.sendJSON(events.ThreadPayload{
			Type:      events.EventTypeThreadRenamed,
			ThreadID:  p.ThreadID,
			Title:     p.Title,
			Timestamp: events.Now(),
		})

	case events.MessageTypeDeleteThread:
		var p events.DeleteThreadPayload
		if !decodePayload(s, msg.Payload, &p) {
			return
		}
		if err := m.threads.Delete(s.UserID, p.ThreadID); err != nil {
			s.sendError(events.ErrCodeThreadNotFound, "", err.Error())
			return
		}
		if s.currentThread() == p.ThreadID {
			s.setThread("")
		}
		s.sendJSON(events.ThreadPayload{
			Type:      events.EventTypeThreadDeleted,
			ThreadID:  p.ThreadID,
			Timestamp: events.Now(),
		})

	case events.MessageTypeSwitchThread:
		var p events.SwitchThreadPayload
		if !decodePayload(s, msg.Payload, &p) {
			return
		}
		if _, err := m.threads.Get(s.UserID, p.ThreadID); err != nil {
			s.sendError(events.ErrCodeThreadNotFound, "", err.Error())
			return
		}
		s.setThread(p.ThreadID)
		s.sendJSON(events.ThreadPayload{
			Type:      events.EventTypeThreadSwitch,
			ThreadID:  p.ThreadID,
			Timestamp: events.Now(),
		})

	case events.MessageTypeListThreads:
		threads := m.threads.List(s.UserID)
		summaries := make([]events.ThreadSummary, 0, len(threads))
		for i := range threads {
			t := &threads[i]
			summaries = append(summaries, events.ThreadSummary{
				ThreadID:  t.ID,
				Title:     t.Title,
				CreatedAt: t.CreatedAt.Format(time.RFC3339Nano),
				UpdatedAt: t.UpdatedAt.Format(time.RFC3339Nano),
				Messages:  len(t.Messages),
			})
		}
		s.sendJSON(events.ThreadListPayload{
			Type:      events.EventTypeThreadList,
			Threads:   summaries,
			Timestamp: events.Now(),
		})

	default:
		s.sendError(events.ErrCodeUnknownType, "", "unknown message type: "+msg.Type)
	}
}

// decodePayload unmarshals an inbound payload, reporting malformed input to
// the client. A nil payload decodes to the zero value.
func decodePayload(s *Session, raw json.RawMessage, v any) bool {
	if len(raw) == 0 {
		return true
	}
	if err := json.Unmarshal(raw, v); err != nil {
		s.sendError(events.ErrCodeMalformedMessage, "", "invalid payload: "+err.Error())
		return false
	}
	return true
}

// userMessage appends a client message to a thread and acknowledges it.
func (m *Manager) userMessage(s *Session, p events.UserMessagePayload) {
	threadID := p.ThreadID
	if threadID == "" {
		threadID = s.currentThread()
	}
	if threadID == "" {
		t := m.threads.Create(s.UserID, "")
		threadID = t.ID
		s.setThread(threadID)
	}
	if err := m.threads.AddMessage(s.UserID, threadID, thread.RoleUser, p.Content, p.Metadata); err != nil {
		s.sendError(events.ErrCodeThreadNotFound, "", err.Error())
		return
	}
	s.sendJSON(events.ThreadPayload{
		Type:      events.EventTypeUserMessage,
		ThreadID:  threadID,
		Timestamp: events.Now(),
	})
}

// startAgent launches a pipeline run on its own goroutine. The run is bound
// to the session context, so closing the session cancels it.
func (m *Manager) startAgent(s *Session, p events.StartAgentPayload) {
	if err := pipeline.Sanitize(p.Context); err != nil {
		s.sendError(events.ErrCodeMalformedMessage, "", "context: "+err.Error())
		return
	}

	threadID := p.ThreadID
	if threadID == "" {
		threadID = s.currentThread()
	}
	if threadID == "" {
		t := m.threads.Create(s.UserID, p.Query)
		threadID = t.ID
		s.setThread(threadID)
		s.sendJSON(events.ThreadPayload{
			Type:      events.EventTypeThreadCreated,
			ThreadID:  t.ID,
			Title:     t.Title,
			Timestamp: events.Now(),
		})
	} else if _, err := m.threads.Get(s.UserID, threadID); err != nil {
		s.sendError(events.ErrCodeThreadNotFound, "", err.Error())
		return
	}

	if p.Query != "" {
		_ = m.threads.AddMessage(s.UserID, threadID, thread.RoleUser, p.Query, nil)
	}

	runID := uuid.NewString()
	plan := workflow.BuildPlan(workflow.ParseTriageResult(p.Context))
	execCtx := &pipeline.ExecutionContext{
		UserID:     s.UserID,
		ThreadID:   threadID,
		RunID:      runID,
		RequestID:  uuid.NewString(),
		Additional: map[string]any{"request": buildRequestContext(p)},
	}

	runCtx, timeoutCancel := context.WithTimeout(s.ctx, m.cfg.Pipeline.RunTimeout)
	runCtx, cancel := context.WithCancel(runCtx)
	s.registerRun(runID, cancel)

	go func() {
		defer s.unregisterRun(runID)
		defer timeoutCancel()
		defer cancel()

		result, err := m.engine.Execute(runCtx, plan, execCtx, s)
		if err != nil {
			slog.Error("Pipeline run rejected", "run_id", runID, "error", err)
			s.sendError(events.ErrCodeStepExecution, "", err.Error())
			return
		}
		m.metrics.RunFinished(result.Status, result.Duration.Seconds())
		m.recordOutcome(s.UserID, threadID, result)
	}()
}

// buildRequestContext projects the start_agent payload into the run context.
func buildRequestContext(p events.StartAgentPayload) map[string]any {
	req := map[string]any{}
	if p.Query != "" {
		req["query"] = p.Query
	}
	for k, v := range p.Context {
		req[k] = v
	}
	return req
}

// recordOutcome appends the run's report (or failure note) to the thread.
func (m *Manager) recordOutcome(userID, threadID string, result *pipeline.RunResult) {
	content := "Run " + result.RunID + " finished: " + result.Status
	if summary, ok := result.Report["summary"].(string); ok && summary != "" {
		content = summary
	}
	metadata := map[string]any{
		"run_id": result.RunID,
		"status": result.Status,
	}
	if result.Report != nil {
		metadata["report"] = result.Report
	}
	if err := m.threads.AddMessage(userID, threadID, thread.RoleAssistant, content, metadata); err != nil {
		slog.Warn("Could not record run outcome",
			"run_id", result.RunID, "thread_id", threadID, "error", err)
	}
}
