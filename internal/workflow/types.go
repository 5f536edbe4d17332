// Package workflow defines the learned-workflow data model: action steps,
// workflows, and the lifecycle status machine.
package workflow

import (
	"encoding/json"
	"time"
)

// Status is the workflow lifecycle state. DEPRECATED is terminal.
type Status string

const (
	StatusDraft      Status = "draft"      // freshly extracted
	StatusTested     Status = "tested"     // >=1 execution with >=1 success
	StatusActive     Status = "active"     // >=5 executions, success rate >=0.7
	StatusDeprecated Status = "deprecated" // >=3 executions, success rate <0.2
)

// Promotion/demotion thresholds. Transition evaluation runs during
// refinement, never during execution.
const (
	TestedMinExecutions     = 1
	ActiveMinExecutions     = 5
	ActiveMinSuccessRate    = 0.7
	DeprecatedMinExecutions = 3
	DeprecatedMaxRate       = 0.2
)

// NextStatus evaluates the lifecycle machine for a workflow with the given
// execution count and success rate. Demotion wins over promotion. Returns
// the current status unchanged when no transition applies.
func NextStatus(current Status, executions int, successRate float64) Status {
	if current == StatusDeprecated {
		return current
	}
	switch {
	case executions >= DeprecatedMinExecutions && successRate < DeprecatedMaxRate:
		return StatusDeprecated
	case executions >= ActiveMinExecutions && successRate >= ActiveMinSuccessRate:
		return StatusActive
	case executions >= TestedMinExecutions && successRate > 0 && current == StatusDraft:
		return StatusTested
	}
	return current
}

// ActionKind tags the operation an ActionStep performs.
type ActionKind string

const (
	ActionClick         ActionKind = "click"
	ActionRightClick    ActionKind = "right_click"
	ActionTypeText      ActionKind = "text_input"
	ActionPressShortcut ActionKind = "key_shortcut"
	ActionKeyInput      ActionKind = "key_input"
	ActionActivateApp   ActionKind = "activate_app"
	ActionWait          ActionKind = "wait"
)

// IsKeyKind reports whether the kind is keyboard-driven and therefore
// bypasses on-screen target resolution.
func (k ActionKind) IsKeyKind() bool {
	switch k {
	case ActionTypeText, ActionKeyInput, ActionPressShortcut:
		return true
	}
	return false
}

// Point is a screen coordinate.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Target describes the recorded UI element a step acts on. Every attribute
// is optional; an empty string means the attribute was absent at capture
// time. Steps with no attributes at all resolve through the coordinate or
// vision fallbacks.
type Target struct {
	Role        string `json:"role,omitempty"`
	Title       string `json:"title,omitempty"`
	Value       string `json:"value,omitempty"`
	Description string `json:"description,omitempty"`
	Identifier  string `json:"identifier,omitempty"`
}

// IsEmpty reports whether no identifying attribute was recorded.
func (t Target) IsEmpty() bool {
	return t == Target{}
}

// KeyEvent is one low-level keystroke inside a text_input step.
type KeyEvent struct {
	KeyCode int   `json:"keycode"`
	Flags   int64 `json:"flags,omitempty"`
}

// AppRef identifies the application a step belongs to.
type AppRef struct {
	Name     string `json:"name,omitempty"`
	BundleID string `json:"bundle_id,omitempty"`
}

// ActionStep is one normalized operation inside a Workflow. A step is owned
// by exactly one workflow; variants get modified copies, never shared
// pointers.
type ActionStep struct {
	Kind ActionKind `json:"kind"`
	App  AppRef     `json:"app,omitempty"`

	// Click targets
	Target Target `json:"target,omitempty"`
	Point  Point  `json:"point,omitempty"` // last-resort coordinates

	// Keyboard input
	KeyCode   int        `json:"keycode,omitempty"`
	Flags     int64      `json:"flags,omitempty"`
	KeyEvents []KeyEvent `json:"key_events,omitempty"`
	Text      string     `json:"text,omitempty"`
	Modifiers []string   `json:"modifiers,omitempty"`

	// Wait steps and refiner-applied timing adjustments
	WaitSeconds   float64 `json:"wait_seconds,omitempty"`
	TimeoutFactor float64 `json:"timeout_factor,omitempty"`

	// Parameterization: values substituted at execution time
	Parameterized bool   `json:"parameterized,omitempty"`
	ParamName     string `json:"param_name,omitempty"`

	Description    string `json:"description,omitempty"`
	ScreenshotPath string `json:"screenshot_path,omitempty"`
}

// Clone returns a deep copy of the step.
func (s ActionStep) Clone() ActionStep {
	out := s
	if s.KeyEvents != nil {
		out.KeyEvents = make([]KeyEvent, len(s.KeyEvents))
		copy(out.KeyEvents, s.KeyEvents)
	}
	if s.Modifiers != nil {
		out.Modifiers = make([]string, len(s.Modifiers))
		copy(out.Modifiers, s.Modifiers)
	}
	return out
}

// Parameter names a substitutable value inside a workflow.
type Parameter struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Workflow is a persisted, named, ordered list of action steps with
// confidence and lifecycle status. Identity (ID) is immutable for the
// workflow's lifetime; the refiner mutates confidence, status and steps.
type Workflow struct {
	ID               string       `json:"workflow_id"`
	Name             string       `json:"name"`
	Description      string       `json:"description"`
	Steps            []ActionStep `json:"steps"`
	AppName          string       `json:"app_name"`
	Tags             []string     `json:"tags,omitempty"`
	Parameters       []Parameter  `json:"parameters,omitempty"`
	Confidence       float64      `json:"confidence"`
	SourceSessionIDs []string     `json:"source_session_ids,omitempty"`
	CreatedAt        time.Time    `json:"created_at"`
	Status           Status       `json:"status"`
	ExecutionCount   int          `json:"execution_count"`
	RefinedFeedback  int          `json:"refined_feedback,omitempty"` // feedback rows consumed by the last refinement pass
	ParentID         string       `json:"parent_id,omitempty"`        // set on generated variants
}

// Clone returns a deep copy, used when spawning variants.
func (w *Workflow) Clone() *Workflow {
	out := *w
	out.Steps = make([]ActionStep, len(w.Steps))
	for i, s := range w.Steps {
		out.Steps[i] = s.Clone()
	}
	out.Tags = append([]string(nil), w.Tags...)
	out.Parameters = append([]Parameter(nil), w.Parameters...)
	out.SourceSessionIDs = append([]string(nil), w.SourceSessionIDs...)
	return &out
}

// MarshalSteps serializes the step list for storage.
func MarshalSteps(steps []ActionStep) ([]byte, error) {
	return json.Marshal(steps)
}

// UnmarshalSteps deserializes a stored step list.
func UnmarshalSteps(data []byte) ([]ActionStep, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var steps []ActionStep
	if err := json.Unmarshal(data, &steps); err != nil {
		return nil, err
	}
	return steps, nil
}
