// Package pipeline executes dependency-ordered step plans against a
// per-run execution context, streaming step-level events to a Sink.
//
// Contexts and step outputs are restricted by construction to plain JSON
// value types (maps, slices, strings, numbers, booleans, nil). Capabilities
// wanting to pass richer objects must project them into this shape before
// returning — an output holding a live reference, handle, or callable is a
// step failure, never a latent serialization bug downstream.
package pipeline

import (
	"fmt"
	"reflect"
)

// ExecutionContext is the per-run, per-user bag of state threaded through
// pipeline steps. Never shared by identity across concurrent runs: each run
// owns its context exclusively.
type ExecutionContext struct {
	UserID     string         `json:"user_id"`
	ThreadID   string         `json:"thread_id"`
	RunID      string         `json:"run_id"`
	RequestID  string         `json:"request_id"`
	Additional map[string]any `json:"additional_context,omitempty"`
}

// Clone returns a deep copy. Step outputs are merged into the copy held by
// the engine, so a capability mutating the context it was handed cannot
// affect sibling steps retroactively.
func (c *ExecutionContext) Clone() *ExecutionContext {
	if c == nil {
		return nil
	}
	out := *c
	out.Additional = cloneMap(c.Additional)
	return &out
}

// Merge folds a sanitized step output into Additional under the step's name.
func (c *ExecutionContext) Merge(step string, output map[string]any) {
	if c.Additional == nil {
		c.Additional = make(map[string]any)
	}
	c.Additional[step] = output
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

// Sanitize verifies that a value consists only of transferable plain data.
// Returns an error naming the offending path for anything else — funcs,
// channels, pointers, structs, open handles.
func Sanitize(v any) error {
	return sanitizeValue("$", v)
}

// SanitizeOutput validates a whole step output map.
func SanitizeOutput(output map[string]any) error {
	for k, v := range output {
		if err := sanitizeValue("$."+k, v); err != nil {
			return err
		}
	}
	return nil
}

func sanitizeValue(path string, v any) error {
	switch t := v.(type) {
	case nil, bool, string,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return nil
	case map[string]any:
		for k, e := range t {
			if err := sanitizeValue(path+"."+k, e); err != nil {
				return err
			}
		}
		return nil
	case []any:
		for i, e := range t {
			if err := sanitizeValue(fmt.Sprintf("%s[%d]", path, i), e); err != nil {
				return err
			}
		}
		return nil
	case []string:
		return nil
	default:
		return fmt.Errorf("non-transferable value at %s: %s", path, reflect.TypeOf(v))
	}
}
