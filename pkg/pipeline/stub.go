package pipeline

import (
	"context"
	"log/slog"

	"github.com/codeready-toolchain/conductor/pkg/events"
	"github.com/codeready-toolchain/conductor/pkg/workflow"
)

// StubCapability is a placeholder capability that performs no agent work.
// It reports a single thinking event and returns a minimal plain-data
// output. Used as the default registry content until real capabilities are
// plugged in, and by tests that only care about pipeline mechanics.
type StubCapability struct {
	name string
}

// NewStubCapability creates a stub for the given step name.
func NewStubCapability(name string) *StubCapability {
	return &StubCapability{name: name}
}

// Invoke implements Capability.
func (s *StubCapability) Invoke(ctx context.Context, execCtx *ExecutionContext) (map[string]any, error) {
	return s.InvokeStream(ctx, execCtx, nil)
}

// InvokeStream implements StreamingCapability.
func (s *StubCapability) InvokeStream(ctx context.Context, execCtx *ExecutionContext, progress ProgressFunc) (map[string]any, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	slog.Debug("Stub capability: no agent work performed",
		"step", s.name, "run_id", execCtx.RunID)

	if progress != nil {
		progress(events.EventTypeAgentThinking, map[string]any{
			"content": "stub capability " + s.name + ": no-op",
		})
	}

	out := map[string]any{
		"agent":  s.name,
		"status": "stubbed",
	}
	if s.name == workflow.StepTriage {
		// Without a real triage agent the pipeline stays on the minimal plan.
		out["data_sufficiency"] = string(workflow.SufficiencyUnknown)
	}
	return out, nil
}

// NewStubRegistry returns a registry serving stubs for the planner's known
// step names.
func NewStubRegistry() *StaticRegistry {
	names := []string{
		workflow.StepTriage,
		workflow.StepData,
		workflow.StepDataHelper,
		workflow.StepOptimization,
		workflow.StepActions,
		workflow.StepReporting,
	}
	caps := make(map[string]Capability, len(names))
	for _, name := range names {
		caps[name] = NewStubCapability(name)
	}
	return NewStaticRegistry(caps)
}
