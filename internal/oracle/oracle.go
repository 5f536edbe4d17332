// Package oracle defines the decision and vision oracle contracts the core
// reasons through, plus the vendor clients implementing them. Every call
// site must handle absence of a result: an oracle that cannot answer
// returns an Unavailable outcome, never a fabricated judgment.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Unavailable marks a call where no judgment could be obtained: missing
// credentials, timeout, malformed response. It is a first-class outcome,
// not an exceptional condition; callers branch on IsUnavailable and fall
// back to whatever raw signal they already hold.
type Unavailable struct {
	Reason string
}

func (u *Unavailable) Error() string {
	return "oracle unavailable: " + u.Reason
}

// Unavailablef builds an Unavailable outcome.
func Unavailablef(format string, args ...any) error {
	return &Unavailable{Reason: fmt.Sprintf(format, args...)}
}

// IsUnavailable reports whether err is an Unavailable outcome.
func IsUnavailable(err error) bool {
	var u *Unavailable
	return errors.As(err, &u)
}

// SessionSummary is the decision oracle's analysis of one session: whether
// the recorded actions form a reusable workflow, and the candidate's
// metadata when they do.
type SessionSummary struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
	Parameters  []struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	} `json:"parameters"`
	Confidence float64 `json:"confidence"`
	IsWorkflow bool    `json:"is_workflow"`
}

// NextAction is the decision oracle's choice of the next free-form action.
// Done and Wait are control signals rather than desktop actions.
type NextAction struct {
	Kind              string   `json:"action_type"`
	X                 float64  `json:"x"`
	Y                 float64  `json:"y"`
	Text              string   `json:"text"`
	KeyCode           int      `json:"keycode"`
	Flags             int64    `json:"flags"`
	Modifiers         []string `json:"modifiers"`
	TargetDescription string   `json:"target_description"`
	Reasoning         string   `json:"reasoning"`
	Confidence        float64  `json:"confidence"`
}

// StepJudgment is the oracle's verdict on a single executed step.
type StepJudgment struct {
	Success    bool    `json:"success"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

// GoalJudgment is the oracle's verdict on whole-goal completion.
type GoalJudgment struct {
	Achieved   bool    `json:"achieved"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

// Estimate is the vision oracle's guess at a target's screen position.
type Estimate struct {
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Confidence float64 `json:"confidence"`
}

// Decision is the narrow reasoning contract consumed by the extractor,
// selector and verifier. Implementations return an Unavailable error when
// they cannot judge; no method may coerce "could not answer" into a result.
type Decision interface {
	// SummarizeSession analyzes a formatted action log and decides whether
	// it contains a reusable workflow.
	SummarizeSession(ctx context.Context, appName, actionLog string) (*SessionSummary, error)

	// SelectNextAction chooses the next free-form action toward a goal.
	SelectNextAction(ctx context.Context, goal, stateDesc, history string) (*NextAction, error)

	// VerifyStep compares before/after screenshots against an expected
	// change.
	VerifyStep(ctx context.Context, beforePath, afterPath, expectedChange string) (*StepJudgment, error)

	// CheckGoalAchieved judges whole-goal completion from the current state
	// and recent history.
	CheckGoalAchieved(ctx context.Context, goal, stateDesc, history string) (*GoalJudgment, error)
}

// Vision estimates a target's position from a screenshot and a textual
// description of the element.
type Vision interface {
	EstimateTarget(ctx context.Context, screenshotPath, description string) (*Estimate, error)
}

// extractJSON pulls the first JSON object out of a model response that may
// be wrapped in prose or a fenced code block.
func extractJSON(s string) string {
	if idx := strings.Index(s, "```json"); idx >= 0 {
		rest := s[idx+len("```json"):]
		if end := strings.Index(rest, "```"); end >= 0 {
			return strings.TrimSpace(rest[:end])
		}
	}
	if idx := strings.Index(s, "```"); idx >= 0 {
		rest := s[idx+3:]
		if end := strings.Index(rest, "```"); end >= 0 {
			return strings.TrimSpace(rest[:end])
		}
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start >= 0 && end > start {
		return s[start : end+1]
	}
	return strings.TrimSpace(s)
}
