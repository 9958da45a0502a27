// Package registry enforces the per-user ceiling on concurrently admitted
// WebSocket connections.
//
// Admission is atomic per user: reclaiming dead slots and admitting the new
// connection happen under one per-user critical section, so two racing
// connects can never both squeeze through the last free slot. Transports
// that died without a graceful close (zombies) are reclaimed lazily on the
// next admission attempt for that user and periodically by the background
// sweeper.
package registry

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// ReasonConnectionLimitExceeded is the rejection reason when a user already
// holds the maximum number of live connections.
const ReasonConnectionLimitExceeded = "connection_limit_exceeded"

// Transport is the registry's liveness probe into the underlying WebSocket
// connection. Closed must be safe to call from any goroutine and must return
// true once the transport is unusable, however it died.
type Transport interface {
	Closed() bool
}

// Connection is one admitted connection slot.
type Connection struct {
	ID         string
	UserID     string
	AdmittedAt time.Time

	transport Transport
	closed    atomic.Bool
	lastSeen  atomic.Int64 // unix nanos
}

// MarkClosed flags the connection as dead. The slot is reclaimed by the next
// sweep for this user; callers that want the slot back immediately use
// Registry.Release instead. Safe to call repeatedly.
func (c *Connection) MarkClosed() {
	c.closed.Store(true)
}

// Dead reports whether the slot no longer represents a live connection,
// either because it was marked closed or because the transport itself died.
func (c *Connection) Dead() bool {
	return c.closed.Load() || c.transport.Closed()
}

// Touch records client activity (any inbound message).
func (c *Connection) Touch() {
	c.lastSeen.Store(time.Now().UnixNano())
}

// LastSeen returns the time of the most recent Touch.
func (c *Connection) LastSeen() time.Time {
	return time.Unix(0, c.lastSeen.Load())
}

// AdmissionResult describes the outcome of TryAdmit.
type AdmissionResult struct {
	Admitted   bool
	Reason     string      // set when not admitted
	Connection *Connection // set when admitted
	Active     int         // user's live connection count after the attempt
	Limit      int
	Reclaimed  int // zombie slots swept during this attempt
}

// Registry tracks admitted connections per user.
//
// Lock order: Registry.mu before userEntry.mu before Registry.idmu. Never
// the reverse.
type Registry struct {
	mu    sync.RWMutex
	users map[string]*userEntry

	idmu sync.RWMutex
	byID map[string]*Connection

	limit int
}

type userEntry struct {
	mu    sync.Mutex
	conns map[string]*Connection
}

// New creates a registry with the given per-user connection limit.
func New(maxPerUser int) *Registry {
	return &Registry{
		users: make(map[string]*userEntry),
		byID:  make(map[string]*Connection),
		limit: maxPerUser,
	}
}

// Limit returns the per-user connection ceiling.
func (r *Registry) Limit() int {
	return r.limit
}

func (r *Registry) entry(userID string) *userEntry {
	r.mu.RLock()
	e, ok := r.users[userID]
	r.mu.RUnlock()
	if ok {
		return e
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.users[userID]; ok {
		return e
	}
	e = &userEntry{conns: make(map[string]*Connection)}
	r.users[userID] = e
	return e
}

// TryAdmit attempts to admit a new connection for userID. Dead slots are
// reclaimed first, then the limit is checked, then the connection is
// registered. All three happen atomically with respect to other admissions
// for the same user.
func (r *Registry) TryAdmit(userID string, transport Transport) AdmissionResult {
	e := r.entry(userID)
	e.mu.Lock()
	defer e.mu.Unlock()

	reclaimed := r.reclaimLocked(e)

	if len(e.conns) >= r.limit {
		slog.Info("Connection rejected: per-user limit reached",
			"user_id", userID, "active", len(e.conns), "limit", r.limit)
		return AdmissionResult{
			Reason:    ReasonConnectionLimitExceeded,
			Active:    len(e.conns),
			Limit:     r.limit,
			Reclaimed: reclaimed,
		}
	}

	conn := &Connection{
		ID:         uuid.NewString(),
		UserID:     userID,
		AdmittedAt: time.Now(),
		transport:  transport,
	}
	conn.Touch()
	e.conns[conn.ID] = conn

	r.idmu.Lock()
	r.byID[conn.ID] = conn
	r.idmu.Unlock()

	slog.Debug("Connection admitted",
		"user_id", userID, "connection_id", conn.ID, "active", len(e.conns))
	return AdmissionResult{
		Admitted:   true,
		Connection: conn,
		Active:     len(e.conns),
		Limit:      r.limit,
		Reclaimed:  reclaimed,
	}
}

// Release frees the connection's slot immediately. Idempotent: releasing an
// unknown or already-released ID reports false.
func (r *Registry) Release(connID string) bool {
	r.idmu.RLock()
	conn, ok := r.byID[connID]
	r.idmu.RUnlock()
	if !ok {
		return false
	}
	conn.MarkClosed()

	e := r.entry(conn.UserID)
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.conns[connID]; !ok {
		return false
	}
	delete(e.conns, connID)

	r.idmu.Lock()
	delete(r.byID, connID)
	r.idmu.Unlock()

	slog.Debug("Connection released",
		"user_id", conn.UserID, "connection_id", connID, "active", len(e.conns))
	return true
}

// Get returns the connection for an ID, if still registered.
func (r *Registry) Get(connID string) (*Connection, bool) {
	r.idmu.RLock()
	defer r.idmu.RUnlock()
	conn, ok := r.byID[connID]
	return conn, ok
}

// SweepZombies reclaims dead slots for one user and returns how many were
// freed.
func (r *Registry) SweepZombies(userID string) int {
	r.mu.RLock()
	e, ok := r.users[userID]
	r.mu.RUnlock()
	if !ok {
		return 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return r.reclaimLocked(e)
}

// SweepAll reclaims dead slots across every user. Called periodically by the
// cleanup service so zombie slots are freed even for users who never
// reconnect.
func (r *Registry) SweepAll() int {
	r.mu.RLock()
	users := make(map[string]*userEntry, len(r.users))
	for id, e := range r.users {
		users[id] = e
	}
	r.mu.RUnlock()

	total := 0
	for _, e := range users {
		e.mu.Lock()
		total += r.reclaimLocked(e)
		e.mu.Unlock()
	}
	if total > 0 {
		slog.Info("Swept zombie connections", "reclaimed", total)
	}
	return total
}

// reclaimLocked removes dead connections from e. Caller holds e.mu.
func (r *Registry) reclaimLocked(e *userEntry) int {
	reclaimed := 0
	for id, conn := range e.conns {
		if !conn.Dead() {
			continue
		}
		delete(e.conns, id)
		r.idmu.Lock()
		delete(r.byID, id)
		r.idmu.Unlock()
		reclaimed++
	}
	return reclaimed
}

// UserCount returns the user's currently registered connection count,
// including zombies not yet swept.
func (r *Registry) UserCount(userID string) int {
	r.mu.RLock()
	e, ok := r.users[userID]
	r.mu.RUnlock()
	if !ok {
		return 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.conns)
}

// TotalActive returns the number of registered connections across all users.
func (r *Registry) TotalActive() int {
	r.idmu.RLock()
	defer r.idmu.RUnlock()
	return len(r.byID)
}
