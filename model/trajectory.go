package model

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"
)

// ============================================================================
// TRAJECTORY MODEL
// ============================================================================

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
	RoleApproval  = "approval"
)

// Step is one executed entry in a trajectory. Exactly which fields are
// populated depends on the role: user/assistant steps carry Content, tool
// steps carry Tool, Arguments and Response, approval steps carry Content
// with the decision.
type Step struct {
	Role      string                 `json:"role"`
	Content   string                 `json:"content,omitempty"`
	Tool      string                 `json:"tool,omitempty"`
	Arguments map[string]interface{} `json:"arguments,omitempty"`
	Response  string                 `json:"response,omitempty"`
	CallID    string                 `json:"callId,omitempty"`
	Timestamp time.Time              `json:"timestamp,omitempty"`
}

// Trajectory is the ordered, append-only record of one scenario execution.
type Trajectory struct {
	ScenarioID string `json:"scenarioId"`
	Steps      []Step `json:"steps"`
}

func (t *Trajectory) Append(s Step) {
	t.Steps = append(t.Steps, s)
}

// ToolNames returns the tool names invoked, in execution order.
func (t *Trajectory) ToolNames() []string {
	var names []string
	for _, s := range t.Steps {
		if s.Role == RoleTool && s.Tool != "" {
			names = append(names, s.Tool)
		}
	}
	return names
}

// ToolSteps returns the tool-call steps in execution order.
func (t *Trajectory) ToolSteps() []Step {
	var steps []Step
	for _, s := range t.Steps {
		if s.Role == RoleTool {
			steps = append(steps, s)
		}
	}
	return steps
}

// FinalOutput returns the content of the last assistant step, or "".
func (t *Trajectory) FinalOutput() string {
	for i := len(t.Steps) - 1; i >= 0; i-- {
		if t.Steps[i].Role == RoleAssistant {
			return t.Steps[i].Content
		}
	}
	return ""
}

// ============================================================================
// FIELD-IGNORE NORMALIZATION
// ============================================================================

// DefaultIgnoreFields are stripped before every comparison regardless of
// mode: call identifiers and timestamps are never behavior-defining.
var DefaultIgnoreFields = []string{"callId", "timestamp"}

// Normalize returns a copy of the trajectory with the named fields removed
// from every step. "callId" and "timestamp" address the step fields of the
// same name; any other entry removes a top-level argument key.
func (t Trajectory) Normalize(ignore []string) Trajectory {
	if ignore == nil {
		ignore = DefaultIgnoreFields
	}

	dropCallID := false
	dropTimestamp := false
	dropArgs := make(map[string]bool)
	for _, f := range ignore {
		switch f {
		case "callId":
			dropCallID = true
		case "timestamp":
			dropTimestamp = true
		default:
			dropArgs[f] = true
		}
	}

	out := Trajectory{ScenarioID: t.ScenarioID, Steps: make([]Step, len(t.Steps))}
	for i, s := range t.Steps {
		if dropCallID {
			s.CallID = ""
		}
		if dropTimestamp {
			s.Timestamp = time.Time{}
		}
		if s.Arguments != nil {
			args := make(map[string]interface{}, len(s.Arguments))
			for k, v := range s.Arguments {
				if !dropArgs[k] {
					args[k] = v
				}
			}
			s.Arguments = args
		}
		out.Steps[i] = s
	}
	return out
}

// ============================================================================
// VALUE NORMALIZATION
// ============================================================================

// DeepEqual compares two values by normalized string form, so 2, 2.0 and
// "2" compare equal. YAML and JSON decoding disagree on number types and
// argument values cross both boundaries.
func DeepEqual(a, b interface{}) bool {
	return NormalizeValue(a) == NormalizeValue(b)
}

func NormalizeValue(v interface{}) string {
	if v == nil {
		return "null"
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		parts := make([]string, 0, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			parts = append(parts, NormalizeValue(rv.Index(i).Interface()))
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case reflect.Map:
		parts := make([]string, 0, rv.Len())
		for _, k := range rv.MapKeys() {
			key := fmt.Sprint(k.Interface())
			parts = append(parts, key+": "+NormalizeValue(rv.MapIndex(k).Interface()))
		}
		sort.Strings(parts)
		return "{" + strings.Join(parts, ", ") + "}"
	case reflect.Float32, reflect.Float64:
		f := rv.Float()
		if f == float64(int64(f)) {
			return fmt.Sprintf("%d", int64(f))
		}
		return fmt.Sprintf("%g", f)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return fmt.Sprintf("%d", rv.Int())
	case reflect.String:
		return rv.String()
	default:
		return fmt.Sprint(v)
	}
}

// ArgumentKeys returns the sorted argument key set of a step.
func (s Step) ArgumentKeys() []string {
	keys := make([]string, 0, len(s.Arguments))
	for k := range s.Arguments {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
