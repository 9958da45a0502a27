// Package session manages WebSocket sessions: admission against the
// per-user connection registry, the session state machine, inbound message
// dispatch, and streaming pipeline events back to the client.
package session

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/codeready-toolchain/conductor/pkg/events"
	"github.com/codeready-toolchain/conductor/pkg/metrics"
	"github.com/codeready-toolchain/conductor/pkg/registry"
)

// transport adapts a websocket connection to the registry's liveness probe.
// The owning session flags it dead on any read or write failure, so the
// registry can reclaim the slot even if graceful release never ran.
type transport struct {
	dead atomic.Bool
}

func (t *transport) Closed() bool { return t.dead.Load() }

func (t *transport) kill() { t.dead.Store(true) }

// Session is one admitted WebSocket connection. It implements events.Sink:
// the execution engine streams run events straight onto the session's
// outbound queue.
type Session struct {
	ID     string
	UserID string

	conn      *websocket.Conn
	transport *transport
	slot      *registry.Connection

	stateMu sync.Mutex
	state   State

	// Outbound queue drained by the writer goroutine. All writes to the
	// socket go through here so event producers never block on the network.
	send chan []byte

	ctx    context.Context
	cancel context.CancelFunc

	// In-flight pipeline runs started by this session: run_id → cancel.
	runsMu sync.Mutex
	runs   map[string]context.CancelFunc

	// Thread the session is currently bound to. Guarded by threadMu because
	// run goroutines read it while the read loop may switch it.
	threadMu sync.Mutex
	threadID string

	writeTimeout time.Duration
	closeOnce    sync.Once
	registry     *registry.Registry
	metrics      *metrics.Metrics
}

// State returns the session's current lifecycle state.
func (s *Session) State() State {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.state
}

// setState applies a state transition, logging and ignoring illegal ones.
func (s *Session) setState(to State) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	if !canTransition(s.state, to) {
		slog.Warn("Ignoring invalid session state transition",
			"session_id", s.ID, "from", s.state, "to", to)
		return
	}
	s.state = to
}

func (s *Session) setThread(threadID string) {
	s.threadMu.Lock()
	s.threadID = threadID
	s.threadMu.Unlock()
}

func (s *Session) currentThread() string {
	s.threadMu.Lock()
	defer s.threadMu.Unlock()
	return s.threadID
}

// registerRun tracks a run's cancel func so stop_agent and close can reach it.
func (s *Session) registerRun(runID string, cancel context.CancelFunc) {
	s.runsMu.Lock()
	s.runs[runID] = cancel
	s.runsMu.Unlock()
}

func (s *Session) unregisterRun(runID string) {
	s.runsMu.Lock()
	delete(s.runs, runID)
	s.runsMu.Unlock()
}

// cancelRun cancels one in-flight run. Reports whether the run was found.
func (s *Session) cancelRun(runID string) bool {
	s.runsMu.Lock()
	cancel, ok := s.runs[runID]
	s.runsMu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// cancelAllRuns cancels every in-flight run owned by this session.
func (s *Session) cancelAllRuns() {
	s.runsMu.Lock()
	cancels := make([]context.CancelFunc, 0, len(s.runs))
	for _, c := range s.runs {
		cancels = append(cancels, c)
	}
	s.runsMu.Unlock()
	for _, c := range cancels {
		c()
	}
}

// writer drains the outbound queue onto the socket. Sole goroutine that
// writes to the connection. A write failure kills the transport and the
// session context, which unblocks the read loop.
func (s *Session) writer() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case data := <-s.send:
			writeCtx, cancel := context.WithTimeout(s.ctx, s.writeTimeout)
			err := s.conn.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				slog.Warn("WebSocket write failed, closing session",
					"session_id", s.ID, "error", err)
				s.transport.kill()
				s.cancel()
				return
			}
		}
	}
}

// sendJSON queues a message for delivery. Non-terminal events are dropped
// when the client cannot drain its queue; the session itself stays up.
func (s *Session) sendJSON(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Warn("Failed to marshal outbound message",
			"session_id", s.ID, "error", err)
		return
	}
	select {
	case s.send <- data:
	case <-s.ctx.Done():
	default:
		slog.Warn("Outbound queue full, dropping event", "session_id", s.ID)
	}
}

// sendJSONBlocking queues a message, waiting for queue space. Used for
// terminal events that must not be lost to backpressure.
func (s *Session) sendJSONBlocking(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Warn("Failed to marshal outbound message",
			"session_id", s.ID, "error", err)
		return
	}
	select {
	case s.send <- data:
	case <-s.ctx.Done():
	}
}

// events.Sink implementation. Called from run goroutines.

func (s *Session) AgentStarted(p events.AgentStartedPayload) { s.sendJSON(p) }

func (s *Session) StepStatus(p events.StepStatusPayload) {
	if p.Status != events.StepStatusStarted {
		s.metrics.StepFinished(p.Status)
	}
	s.sendJSON(p)
}

func (s *Session) AgentThinking(p events.AgentThinkingPayload) { s.sendJSON(p) }

func (s *Session) ToolExecuting(p events.ToolExecutingPayload) { s.sendJSON(p) }

func (s *Session) FinalReport(p events.FinalReportPayload) { s.sendJSONBlocking(p) }

func (s *Session) AgentCompleted(p events.AgentCompletedPayload) { s.sendJSONBlocking(p) }

func (s *Session) Error(p events.ErrorPayload) { s.sendJSON(p) }

// close tears the session down exactly once: cancel in-flight runs, release
// the registry slot, close the transport. Safe to call from any goroutine
// and from multiple paths (read error, write error, shutdown, policy).
func (s *Session) close(code websocket.StatusCode, reason string) {
	s.closeOnce.Do(func() {
		s.setState(StateClosing)

		s.cancelAllRuns()
		s.cancel()
		s.transport.kill()
		_ = s.conn.Close(code, reason)

		if s.registry.Release(s.slot.ID) {
			s.metrics.ConnectionReleased()
		}
		s.setState(StateClosed)
		slog.Info("Session closed",
			"session_id", s.ID, "user_id", s.UserID, "reason", reason)
	})
}
