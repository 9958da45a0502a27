package session

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/conductor/pkg/config"
	"github.com/codeready-toolchain/conductor/pkg/pipeline"
	"github.com/codeready-toolchain/conductor/pkg/registry"
	"github.com/codeready-toolchain/conductor/pkg/thread"
)

func testConfig(maxPerUser int) *config.Config {
	cfg := &config.Config{
		Server:   config.DefaultServerConfig(),
		Limits:   config.DefaultLimitsConfig(),
		Pipeline: config.DefaultPipelineConfig(),
		Cleanup:  config.DefaultCleanupConfig(),
	}
	cfg.Limits.MaxConnectionsPerUser = maxPerUser
	return cfg
}

// setupTestManager starts a WebSocket server whose handler authenticates via
// the "user" query parameter and hands connections to the manager.
func setupTestManager(t *testing.T, maxPerUser int) (*Manager, *registry.Registry, *httptest.Server) {
	t.Helper()

	cfg := testConfig(maxPerUser)
	reg := registry.New(maxPerUser)
	engine := pipeline.NewEngine(pipeline.NewStubRegistry(), cfg.Pipeline)
	manager := NewManager(cfg, reg, thread.NewStore(), engine, nil)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			t.Logf("WebSocket accept error: %v", err)
			return
		}
		manager.HandleConnection(r.Context(), conn, r.URL.Query().Get("user"))
	}))

	t.Cleanup(func() { server.Close() })
	return manager, reg, server
}

func connectWS(t *testing.T, server *httptest.Server, userID string) *websocket.Conn {
	t.Helper()
	url := "ws" + server.URL[len("http"):] + "?user=" + userID
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func writeJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	data, err := json.Marshal(v)
	require.NoError(t, err)
	require.NoError(t, conn.Write(ctx, websocket.MessageText, data))
}

func readJSON(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)

	var msg map[string]any
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

// readUntil reads events until one of the given type arrives, returning it
// and everything read along the way.
func readUntil(t *testing.T, conn *websocket.Conn, eventType string) (map[string]any, []map[string]any) {
	t.Helper()
	var seen []map[string]any
	for i := 0; i < 100; i++ {
		msg := readJSON(t, conn)
		seen = append(seen, msg)
		if msg["type"] == eventType {
			return msg, seen
		}
	}
	t.Fatalf("never received %q; saw %d events", eventType, len(seen))
	return nil, nil
}

func TestConnectionEstablished(t *testing.T) {
	_, _, server := setupTestManager(t, 3)
	conn := connectWS(t, server, "user-1")

	msg := readJSON(t, conn)
	assert.Equal(t, "connection.established", msg["type"])
	assert.NotEmpty(t, msg["session_id"])
	assert.Equal(t, "user-1", msg["user_id"])
	assert.Equal(t, float64(3), msg["max_connections_per_user"])
	assert.Equal(t, float64(1), msg["active_connections"])
}

func TestPingPong(t *testing.T) {
	_, _, server := setupTestManager(t, 3)
	conn := connectWS(t, server, "user-1")
	readJSON(t, conn)

	writeJSON(t, conn, map[string]any{"type": "ping"})
	msg := readJSON(t, conn)
	assert.Equal(t, "pong", msg["type"])
}

// The connection over the limit gets a policy close, not an error event.
func TestConnectionLimitPolicyClose(t *testing.T) {
	_, _, server := setupTestManager(t, 1)

	conn1 := connectWS(t, server, "user-1")
	readJSON(t, conn1)

	conn2 := connectWS(t, server, "user-1")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, _, err := conn2.Read(ctx)
	require.Error(t, err)
	assert.Equal(t, websocket.StatusPolicyViolation, websocket.CloseStatus(err))

	// A different user is unaffected.
	conn3 := connectWS(t, server, "user-2")
	msg := readJSON(t, conn3)
	assert.Equal(t, "connection.established", msg["type"])
}

// Closing a connection frees its slot for the same user.
func TestSlotFreedAfterClose(t *testing.T) {
	_, reg, server := setupTestManager(t, 1)

	conn1 := connectWS(t, server, "user-1")
	readJSON(t, conn1)
	require.NoError(t, conn1.Close(websocket.StatusNormalClosure, ""))

	require.Eventually(t, func() bool {
		return reg.TotalActive() == 0
	}, 2*time.Second, 10*time.Millisecond)

	conn2 := connectWS(t, server, "user-1")
	msg := readJSON(t, conn2)
	assert.Equal(t, "connection.established", msg["type"])
}

// An abruptly dropped transport is reclaimed on the user's next attempt even
// if the server-side cleanup has not finished yet.
func TestAbruptDisconnectDoesNotLeakSlot(t *testing.T) {
	manager, _, server := setupTestManager(t, 1)

	conn1 := connectWS(t, server, "user-1")
	readJSON(t, conn1)
	// Drop the TCP side without a close frame.
	conn1.CloseNow()

	require.Eventually(t, func() bool {
		conn2, _, err := websocket.Dial(context.Background(), "ws"+server.URL[len("http"):]+"?user=user-1", nil)
		if err != nil {
			return false
		}
		defer conn2.Close(websocket.StatusNormalClosure, "")
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_, data, err := conn2.Read(ctx)
		if err != nil {
			return false
		}
		var msg map[string]any
		if json.Unmarshal(data, &msg) != nil {
			return false
		}
		return msg["type"] == "connection.established"
	}, 5*time.Second, 50*time.Millisecond)

	_ = manager
}

func TestMalformedMessageKeepsSessionOpen(t *testing.T) {
	_, _, server := setupTestManager(t, 3)
	conn := connectWS(t, server, "user-1")
	readJSON(t, conn)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte("{not json")))

	msg := readJSON(t, conn)
	assert.Equal(t, "error", msg["type"])
	assert.Equal(t, "malformed_message", msg["code"])

	// Session still works.
	writeJSON(t, conn, map[string]any{"type": "ping"})
	assert.Equal(t, "pong", readJSON(t, conn)["type"])
}

func TestUnknownMessageType(t *testing.T) {
	_, _, server := setupTestManager(t, 3)
	conn := connectWS(t, server, "user-1")
	readJSON(t, conn)

	writeJSON(t, conn, map[string]any{"type": "reboot_server"})
	msg := readJSON(t, conn)
	assert.Equal(t, "error", msg["type"])
	assert.Equal(t, "unknown_message_type", msg["code"])
}

func TestStopAgentUnknownRun(t *testing.T) {
	_, _, server := setupTestManager(t, 3)
	conn := connectWS(t, server, "user-1")
	readJSON(t, conn)

	writeJSON(t, conn, map[string]any{
		"type":    "stop_agent",
		"payload": map[string]any{"run_id": "missing"},
	})
	msg := readJSON(t, conn)
	assert.Equal(t, "error", msg["type"])
	assert.Equal(t, "run_not_found", msg["code"])
}

// A start_agent run streams agent_started through final_report to the
// terminal agent_completed, in order.
func TestStartAgentEventStream(t *testing.T) {
	_, _, server := setupTestManager(t, 3)
	conn := connectWS(t, server, "user-1")
	readJSON(t, conn)

	writeJSON(t, conn, map[string]any{
		"type": "start_agent",
		"payload": map[string]any{
			"query":   "why is checkout slow",
			"context": map[string]any{"data_sufficiency": "insufficient"},
		},
	})

	terminal, seen := readUntil(t, conn, "agent_completed")
	assert.Equal(t, "completed", terminal["status"])
	require.NotEmpty(t, terminal["run_id"])

	types := make([]string, 0, len(seen))
	for _, e := range seen {
		types = append(types, e["type"].(string))
	}
	assert.Equal(t, "thread.created", types[0], "no thread given, one is created")
	assert.Contains(t, types, "agent_started")
	assert.Contains(t, types, "step.status")
	assert.Contains(t, types, "final_report")

	var started map[string]any
	for _, e := range seen {
		if e["type"] == "agent_started" {
			started = e
		}
	}
	require.NotNil(t, started)
	steps := started["steps"].([]any)
	assert.Equal(t, []any{"triage", "data_helper", "reporting"}, steps)

	// final_report arrives before agent_completed and carries the report.
	var reportIdx, completedIdx int
	for i, e := range seen {
		switch e["type"] {
		case "final_report":
			reportIdx = i
		case "agent_completed":
			completedIdx = i
		}
	}
	assert.Less(t, reportIdx, completedIdx)
}

func TestStartAgentUnknownThread(t *testing.T) {
	_, _, server := setupTestManager(t, 3)
	conn := connectWS(t, server, "user-1")
	readJSON(t, conn)

	writeJSON(t, conn, map[string]any{
		"type": "start_agent",
		"payload": map[string]any{
			"thread_id": "no-such-thread",
		},
	})
	msg := readJSON(t, conn)
	assert.Equal(t, "error", msg["type"])
	assert.Equal(t, "thread_not_found", msg["code"])
}

// stop_agent cancels an in-flight run; the terminal event reports cancelled.
func TestStopAgentCancelsRun(t *testing.T) {
	cfg := testConfig(3)
	reg := registry.New(3)

	// The data_helper step blocks until its context is cancelled, keeping
	// the run in flight long enough to stop it.
	caps := pipeline.NewStubRegistry()
	caps.Register("data_helper", pipeline.CapabilityFunc(
		func(ctx context.Context, execCtx *pipeline.ExecutionContext) (map[string]any, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}))
	engine := pipeline.NewEngine(caps, cfg.Pipeline)
	manager := NewManager(cfg, reg, thread.NewStore(), engine, nil)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
		if err != nil {
			return
		}
		manager.HandleConnection(r.Context(), conn, r.URL.Query().Get("user"))
	}))
	t.Cleanup(server.Close)

	conn := connectWS(t, server, "user-1")
	readJSON(t, conn)

	writeJSON(t, conn, map[string]any{
		"type": "start_agent",
		"payload": map[string]any{
			"query":   "stop me",
			"context": map[string]any{"data_sufficiency": "insufficient"},
		},
	})

	started, _ := readUntil(t, conn, "agent_started")
	runID := started["run_id"].(string)
	require.NotEmpty(t, runID)

	writeJSON(t, conn, map[string]any{
		"type":    "stop_agent",
		"payload": map[string]any{"run_id": runID},
	})

	terminal, _ := readUntil(t, conn, "agent_completed")
	assert.Equal(t, "cancelled", terminal["status"])
	assert.Equal(t, runID, terminal["run_id"])
}

func TestThreadLifecycle(t *testing.T) {
	_, _, server := setupTestManager(t, 3)
	conn := connectWS(t, server, "user-1")
	readJSON(t, conn)

	writeJSON(t, conn, map[string]any{
		"type":    "create_thread",
		"payload": map[string]any{"title": "triage notes"},
	})
	created := readJSON(t, conn)
	require.Equal(t, "thread.created", created["type"])
	threadID := created["thread_id"].(string)
	require.NotEmpty(t, threadID)

	writeJSON(t, conn, map[string]any{
		"type":    "user_message",
		"payload": map[string]any{"content": "hello", "thread_id": threadID},
	})
	assert.Equal(t, "user_message.ack", readJSON(t, conn)["type"])

	writeJSON(t, conn, map[string]any{
		"type":    "rename_thread",
		"payload": map[string]any{"thread_id": threadID, "title": "renamed"},
	})
	renamed := readJSON(t, conn)
	assert.Equal(t, "thread.renamed", renamed["type"])
	assert.Equal(t, "renamed", renamed["title"])

	writeJSON(t, conn, map[string]any{"type": "list_threads"})
	list := readJSON(t, conn)
	require.Equal(t, "thread.list", list["type"])
	threads := list["threads"].([]any)
	require.Len(t, threads, 1)
	first := threads[0].(map[string]any)
	assert.Equal(t, "renamed", first["title"])
	assert.Equal(t, float64(1), first["messages"])

	writeJSON(t, conn, map[string]any{
		"type":    "delete_thread",
		"payload": map[string]any{"thread_id": threadID},
	})
	assert.Equal(t, "thread.deleted", readJSON(t, conn)["type"])

	writeJSON(t, conn, map[string]any{
		"type":    "switch_thread",
		"payload": map[string]any{"thread_id": threadID},
	})
	notFound := readJSON(t, conn)
	assert.Equal(t, "error", notFound["type"])
	assert.Equal(t, "thread_not_found", notFound["code"])
}

func TestShutdownClosesSessions(t *testing.T) {
	manager, reg, server := setupTestManager(t, 3)
	conn := connectWS(t, server, "user-1")
	readJSON(t, conn)
	require.Equal(t, 1, manager.ActiveSessions())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	manager.Shutdown(ctx)

	assert.Equal(t, 0, manager.ActiveSessions())
	assert.Equal(t, 0, reg.TotalActive())

	readCtx, readCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer readCancel()
	_, _, err := conn.Read(readCtx)
	assert.Error(t, err)
}
