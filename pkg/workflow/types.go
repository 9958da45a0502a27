// Package workflow computes dependency-ordered step plans from a triage
// classification. The planner is a pure function: no I/O, deterministic,
// and it always produces a valid plan, whatever it is handed.
package workflow

// ExecutionStrategy controls how the engine schedules steps within one plan.
type ExecutionStrategy string

// StrategySequential is the only strategy this gateway uses: steps within
// one workflow never run in parallel.
const StrategySequential ExecutionStrategy = "sequential"

// Known pipeline step names. The set is open — the capability registry may
// serve additional names — but these are the ones the planner emits.
const (
	StepTriage       = "triage"
	StepData         = "data"
	StepDataHelper   = "data_helper"
	StepOptimization = "optimization"
	StepActions      = "actions"
	StepReporting    = "reporting"
)

// DataSufficiency classifies how much usable data is available upstream.
type DataSufficiency string

// Recognized data sufficiency values. Anything else normalizes to unknown.
const (
	SufficiencySufficient   DataSufficiency = "sufficient"
	SufficiencyPartial      DataSufficiency = "partial"
	SufficiencyInsufficient DataSufficiency = "insufficient"
	SufficiencyUnknown      DataSufficiency = "unknown"
)

// TriageResult is the upstream classification driving plan selection.
type TriageResult struct {
	DataSufficiency DataSufficiency `json:"data_sufficiency"`
}

// Step is one named unit of work in a dependency-ordered plan.
// A plan is a valid topological order: every dependency of step i appears
// among steps 0..i-1. Plans are immutable once computed — the engine
// consumes and discards them per run.
type Step struct {
	AgentName    string            `json:"agent_name"`
	Dependencies []string          `json:"dependencies"`
	Strategy     ExecutionStrategy `json:"strategy"`
	Metadata     map[string]any    `json:"metadata,omitempty"`
}
