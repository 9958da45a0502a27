package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/codeready-toolchain/conductor/pkg/config"
	"github.com/codeready-toolchain/conductor/pkg/events"
	"github.com/codeready-toolchain/conductor/pkg/workflow"
)

// StepOutcome records how a single step ended.
type StepOutcome struct {
	Step     string
	Status   string // events.StepStatus* value
	Output   map[string]any
	Error    string
	Duration time.Duration
}

// RunResult is the terminal state of one pipeline run. All intermediate
// state was already streamed to the sink during execution.
type RunResult struct {
	RunID    string
	Status   string // events.RunStatus* value
	Outcomes []StepOutcome
	Report   map[string]any // reporting step output, if it ran
	Duration time.Duration
}

// Engine executes step plans sequentially against a per-run context.
//
// Failure semantics: a single step's failure is converted into events, not
// an error — downstream steps whose dependencies are intact (at minimum the
// dependency-free reporting step) still execute, so a started run always
// reaches a terminal agent_completed event. Execute returns an error only
// for an invalid plan, before any step runs.
type Engine struct {
	registry    Registry
	stepTimeout time.Duration
}

// NewEngine creates an execution engine.
func NewEngine(registry Registry, cfg *config.PipelineConfig) *Engine {
	return &Engine{
		registry:    registry,
		stepTimeout: cfg.StepTimeout,
	}
}

// Execute runs the plan in order, emitting events to sink as steps progress.
// The caller bounds the whole run via ctx (run timeout, stop_agent, session
// close). execCtx is cloned up front: the engine owns its copy exclusively.
func (e *Engine) Execute(ctx context.Context, steps []workflow.Step, execCtx *ExecutionContext, sink events.Sink) (*RunResult, error) {
	if !workflow.Validate(steps) {
		return nil, fmt.Errorf("invalid step plan: %v", workflow.StepNames(steps))
	}

	start := time.Now()
	local := execCtx.Clone()
	log := slog.With("run_id", local.RunID, "user_id", local.UserID)

	sink.AgentStarted(events.AgentStartedPayload{
		BasePayload: events.Base(events.EventTypeAgentStarted, local.RunID, local.ThreadID),
		Steps:       workflow.StepNames(steps),
	})

	result := &RunResult{RunID: local.RunID}
	succeeded := make(map[string]bool, len(steps))
	interrupted := false

	for _, step := range steps {
		if ctx.Err() != nil {
			interrupted = true
			break
		}

		outcome := e.executeStep(ctx, step, local, succeeded, sink, log)
		result.Outcomes = append(result.Outcomes, outcome)

		if outcome.Status == events.StepStatusCompleted {
			succeeded[step.AgentName] = true
			local.Merge(step.AgentName, outcome.Output)
			if step.AgentName == workflow.StepReporting {
				result.Report = outcome.Output
			}
		}
		if outcome.Status == events.StepStatusCancelled {
			interrupted = true
			break
		}
	}

	result.Status = runStatus(ctx, len(result.Outcomes), succeeded, interrupted)
	result.Duration = time.Since(start)

	if result.Report != nil {
		sink.FinalReport(events.FinalReportPayload{
			BasePayload: events.Base(events.EventTypeFinalReport, local.RunID, local.ThreadID),
			Report:      result.Report,
		})
	}

	terminal := events.AgentCompletedPayload{
		BasePayload: events.Base(events.EventTypeAgentCompleted, local.RunID, local.ThreadID),
		Status:      result.Status,
		DurationMS:  result.Duration.Milliseconds(),
	}
	if result.Status != events.RunStatusCompleted {
		terminal.Error = firstStepError(result.Outcomes)
	}
	sink.AgentCompleted(terminal)

	log.Info("Pipeline run finished",
		"status", result.Status,
		"steps", len(result.Outcomes),
		"duration", result.Duration)
	return result, nil
}

// executeStep runs one step: dependency check, capability resolution,
// bounded invocation, output sanitation. Every exit path emits exactly one
// terminal step.status event for the step.
func (e *Engine) executeStep(
	ctx context.Context,
	step workflow.Step,
	local *ExecutionContext,
	succeeded map[string]bool,
	sink events.Sink,
	log *slog.Logger,
) StepOutcome {
	stepStart := time.Now()

	// All listed dependencies must have completed successfully. reporting
	// declares no dependencies, so it is never skipped on upstream failure.
	for _, dep := range step.Dependencies {
		if !succeeded[dep] {
			log.Info("Skipping step with unmet dependency", "step", step.AgentName, "dependency", dep)
			sink.StepStatus(events.StepStatusPayload{
				BasePayload: events.Base(events.EventTypeStepStatus, local.RunID, local.ThreadID),
				Step:        step.AgentName,
				Status:      events.StepStatusSkipped,
				Error:       "dependency not satisfied: " + dep,
			})
			return StepOutcome{Step: step.AgentName, Status: events.StepStatusSkipped}
		}
	}

	capability, err := e.registry.Resolve(step.AgentName)
	if err != nil {
		return e.failStep(step.AgentName, local, sink, log, err, stepStart, events.StepStatusFailed)
	}

	sink.StepStatus(events.StepStatusPayload{
		BasePayload: events.Base(events.EventTypeStepStatus, local.RunID, local.ThreadID),
		Step:        step.AgentName,
		Status:      events.StepStatusStarted,
	})

	stepCtx, cancel := context.WithTimeout(ctx, e.stepTimeout)
	defer cancel()

	output, err := e.invoke(stepCtx, capability, step.AgentName, local, sink)
	if err != nil {
		status := events.StepStatusFailed
		switch {
		case errors.Is(stepCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
			status = events.StepStatusTimedOut
		case ctx.Err() != nil:
			status = events.StepStatusCancelled
		}
		return e.failStep(step.AgentName, local, sink, log, err, stepStart, status)
	}

	// Outputs must be transferable plain data. A capability leaking a live
	// reference fails its step here, before the output can reach the
	// context, the event stream, or a cache.
	if err := SanitizeOutput(output); err != nil {
		return e.failStep(step.AgentName, local, sink, log, err, stepStart, events.StepStatusFailed)
	}

	sink.StepStatus(events.StepStatusPayload{
		BasePayload: events.Base(events.EventTypeStepStatus, local.RunID, local.ThreadID),
		Step:        step.AgentName,
		Status:      events.StepStatusCompleted,
	})
	return StepOutcome{
		Step:     step.AgentName,
		Status:   events.StepStatusCompleted,
		Output:   output,
		Duration: time.Since(stepStart),
	}
}

// invoke calls the capability, preferring the streaming interface with
// progress mapped onto the sink.
func (e *Engine) invoke(ctx context.Context, capability Capability, stepName string, local *ExecutionContext, sink events.Sink) (map[string]any, error) {
	streaming, ok := capability.(StreamingCapability)
	if !ok {
		return capability.Invoke(ctx, local.Clone())
	}

	progress := func(eventType string, payload map[string]any) {
		switch eventType {
		case events.EventTypeAgentThinking:
			content, _ := payload["content"].(string)
			sink.AgentThinking(events.AgentThinkingPayload{
				BasePayload: events.Base(events.EventTypeAgentThinking, local.RunID, local.ThreadID),
				Step:        stepName,
				Content:     content,
			})
		case events.EventTypeToolExecuting:
			tool, _ := payload["tool"].(string)
			sink.ToolExecuting(events.ToolExecutingPayload{
				BasePayload: events.Base(events.EventTypeToolExecuting, local.RunID, local.ThreadID),
				Step:        stepName,
				Tool:        tool,
			})
		default:
			slog.Warn("Capability emitted unknown progress event type",
				"step", stepName, "event_type", eventType)
		}
	}
	return streaming.InvokeStream(ctx, local.Clone(), progress)
}

// failStep emits the failure events and returns the outcome.
func (e *Engine) failStep(stepName string, local *ExecutionContext, sink events.Sink, log *slog.Logger, err error, stepStart time.Time, status string) StepOutcome {
	log.Warn("Pipeline step did not complete", "step", stepName, "status", status, "error", err)

	sink.StepStatus(events.StepStatusPayload{
		BasePayload: events.Base(events.EventTypeStepStatus, local.RunID, local.ThreadID),
		Step:        stepName,
		Status:      status,
		Error:       err.Error(),
	})
	sink.Error(events.ErrorPayload{
		BasePayload: events.Base(events.EventTypeError, local.RunID, local.ThreadID),
		Code:        events.ErrCodeStepExecution,
		Step:        stepName,
		Message:     err.Error(),
	})
	return StepOutcome{
		Step:     stepName,
		Status:   status,
		Error:    err.Error(),
		Duration: time.Since(stepStart),
	}
}

// runStatus derives the run's terminal status.
func runStatus(ctx context.Context, executed int, succeeded map[string]bool, interrupted bool) string {
	if interrupted || ctx.Err() != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return events.RunStatusTimedOut
		}
		return events.RunStatusCancelled
	}
	if len(succeeded) == executed {
		return events.RunStatusCompleted
	}
	return events.RunStatusFailed
}

// firstStepError returns the first recorded step error, for the terminal event.
func firstStepError(outcomes []StepOutcome) string {
	for _, o := range outcomes {
		if o.Error != "" {
			return o.Error
		}
	}
	return ""
}
