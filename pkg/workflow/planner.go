package workflow

// ParseTriageResult normalizes a raw triage output map into a TriageResult.
// Unrecognized, missing, or wrongly-typed values normalize to unknown —
// the planner must never be left without a usable classification.
func ParseTriageResult(raw map[string]any) TriageResult {
	v, ok := raw["data_sufficiency"].(string)
	if !ok {
		return TriageResult{DataSufficiency: SufficiencyUnknown}
	}
	switch DataSufficiency(v) {
	case SufficiencySufficient, SufficiencyPartial, SufficiencyInsufficient:
		return TriageResult{DataSufficiency: DataSufficiency(v)}
	default:
		return TriageResult{DataSufficiency: SufficiencyUnknown}
	}
}

// BuildPlan maps a triage classification to an ordered step plan.
//
// Plan invariants, for every input:
//   - reporting is always the last step and always has zero dependencies,
//     so the pipeline can produce a final output regardless of upstream
//     failure
//   - data precedes optimization whenever both are present, and
//     optimization depends on data
//   - every step is sequential and carries requires_sequential metadata
func BuildPlan(triage TriageResult) []Step {
	switch triage.DataSufficiency {
	case SufficiencySufficient:
		return []Step{
			newStep(StepTriage),
			newStep(StepData, StepTriage),
			newStep(StepOptimization, StepData),
			newStep(StepActions, StepOptimization),
			newStep(StepReporting),
		}
	case SufficiencyPartial:
		// data_helper runs right after triage to identify gaps before the
		// main data step; data still precedes optimization.
		return []Step{
			newStep(StepTriage),
			newStep(StepDataHelper, StepTriage),
			newStep(StepData, StepDataHelper),
			newStep(StepOptimization, StepData),
			newStep(StepActions, StepOptimization),
			newStep(StepReporting),
		}
	default:
		// insufficient, unknown, missing, or malformed: minimal best-effort
		// plan — triage and data_helper, then straight to reporting.
		return []Step{
			newStep(StepTriage),
			newStep(StepDataHelper, StepTriage),
			newStep(StepReporting),
		}
	}
}

func newStep(name string, deps ...string) Step {
	if deps == nil {
		deps = []string{}
	}
	return Step{
		AgentName:    name,
		Dependencies: deps,
		Strategy:     StrategySequential,
		Metadata: map[string]any{
			"requires_sequential": true,
		},
	}
}

// StepNames returns the plan's step names in execution order.
func StepNames(steps []Step) []string {
	names := make([]string, len(steps))
	for i, s := range steps {
		names[i] = s.AgentName
	}
	return names
}

// Validate checks that a plan is a valid topological order with a
// dependency-free reporting step at the end. The planner's own output
// always passes; this guards plans supplied by external callers.
func Validate(steps []Step) bool {
	if len(steps) == 0 {
		return false
	}
	last := steps[len(steps)-1]
	if last.AgentName != StepReporting || len(last.Dependencies) != 0 {
		return false
	}
	seen := make(map[string]bool, len(steps))
	for _, s := range steps {
		for _, dep := range s.Dependencies {
			if !seen[dep] {
				return false
			}
		}
		seen[s.AgentName] = true
	}
	return true
}
