package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrCapabilityNotFound indicates a step's agent name has no registered capability.
var ErrCapabilityNotFound = errors.New("capability not found")

// Capability is one pluggable agent behind a step name. Implementations
// receive a clone of the run context and return a plain-data output map that
// the engine merges into the context for downstream steps.
type Capability interface {
	Invoke(ctx context.Context, execCtx *ExecutionContext) (map[string]any, error)
}

// CapabilityFunc adapts a function to the Capability interface.
type CapabilityFunc func(ctx context.Context, execCtx *ExecutionContext) (map[string]any, error)

// Invoke implements Capability.
func (f CapabilityFunc) Invoke(ctx context.Context, execCtx *ExecutionContext) (map[string]any, error) {
	return f(ctx, execCtx)
}

// ProgressFunc reports mid-step progress (agent_thinking, tool_executing).
// Payloads must be plain data — they go straight onto the wire.
type ProgressFunc func(eventType string, payload map[string]any)

// StreamingCapability is an optional extension for capabilities that emit
// progress while running. The engine prefers InvokeStream when available.
// Progress flows through the engine's sink, never through the execution
// context, so contexts stay free of live references.
type StreamingCapability interface {
	Capability
	InvokeStream(ctx context.Context, execCtx *ExecutionContext, progress ProgressFunc) (map[string]any, error)
}

// Registry resolves step names to capabilities. The step name set is open:
// the planner emits the known six, but callers may register more.
type Registry interface {
	Resolve(agentName string) (Capability, error)
}

// StaticRegistry is a concurrency-safe in-memory Registry.
type StaticRegistry struct {
	mu           sync.RWMutex
	capabilities map[string]Capability
}

// NewStaticRegistry creates a registry with the given initial capabilities.
func NewStaticRegistry(capabilities map[string]Capability) *StaticRegistry {
	caps := make(map[string]Capability, len(capabilities))
	for name, c := range capabilities {
		caps[name] = c
	}
	return &StaticRegistry{capabilities: caps}
}

// Register adds or replaces a capability.
func (r *StaticRegistry) Register(name string, c Capability) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.capabilities[name] = c
}

// Resolve implements Registry.
func (r *StaticRegistry) Resolve(agentName string) (Capability, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.capabilities[agentName]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCapabilityNotFound, agentName)
	}
	return c, nil
}

// Names returns the registered capability names (unordered).
func (r *StaticRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.capabilities))
	for name := range r.capabilities {
		names = append(names, name)
	}
	return names
}
