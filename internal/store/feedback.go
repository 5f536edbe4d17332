package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Execution modes a feedback entry is recorded under.
const (
	ModeWorkflow   = "workflow"
	ModeAutonomous = "autonomous"
)

// ErrorDetail is one step-level failure inside an execution.
type ErrorDetail struct {
	StepIndex int    `json:"step_index"`
	Code      string `json:"error_code"`
	Message   string `json:"error_msg,omitempty"`
}

// ExecutionFeedback is one append-only record of an execution outcome:
// a workflow replay (Mode "workflow", WorkflowID set) or a free-form goal
// attempt (Mode "autonomous", WorkflowID may be empty).
type ExecutionFeedback struct {
	ID             int64
	WorkflowID     string
	Goal           string
	Success        bool
	StepsExecuted  int
	StepsSucceeded int
	FailedSteps    []int
	Errors         []ErrorDetail
	Mode           string
	AppName        string
	Duration       time.Duration
	CreatedAt      time.Time
}

// FirstError returns the earliest step failure, or nil.
func (fb *ExecutionFeedback) FirstError() *ErrorDetail {
	if len(fb.Errors) == 0 {
		return nil
	}
	return &fb.Errors[0]
}

// RecordFeedback appends an execution outcome. Feedback rows are never
// updated or deleted; they outlive their workflow.
func (s *LocalStore) RecordFeedback(fb *ExecutionFeedback) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	failedSteps, err := json.Marshal(fb.FailedSteps)
	if err != nil {
		return fmt.Errorf("failed to encode failed steps: %w", err)
	}
	errorDetails, err := json.Marshal(fb.Errors)
	if err != nil {
		return fmt.Errorf("failed to encode error details: %w", err)
	}

	mode := fb.Mode
	if mode == "" {
		mode = ModeWorkflow
	}
	createdAt := fb.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	res, err := s.db.Exec(`
		INSERT INTO feedback (workflow_id, goal, success, steps_executed, steps_succeeded,
			failed_steps, error_details, mode, app_name, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		fb.WorkflowID, fb.Goal, boolToInt(fb.Success), fb.StepsExecuted, fb.StepsSucceeded,
		string(failedSteps), string(errorDetails), mode, fb.AppName,
		fb.Duration.Milliseconds(), createdAt)
	if err != nil {
		return fmt.Errorf("failed to record feedback: %w", err)
	}
	fb.ID, _ = res.LastInsertId()
	return nil
}

const feedbackColumns = `id, workflow_id, goal, success, steps_executed, steps_succeeded,
	failed_steps, error_details, mode, app_name, duration_ms, created_at`

// FeedbackForWorkflow returns all feedback for a workflow, oldest first.
func (s *LocalStore) FeedbackForWorkflow(workflowID string) ([]*ExecutionFeedback, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`SELECT `+feedbackColumns+`
		FROM feedback WHERE workflow_id = ? ORDER BY id ASC`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to query feedback: %w", err)
	}
	defer rows.Close()
	return scanFeedback(rows)
}

// ListFeedback returns the most recent feedback across all workflows.
func (s *LocalStore) ListFeedback(limit int) ([]*ExecutionFeedback, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`SELECT `+feedbackColumns+`
		FROM feedback ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query feedback: %w", err)
	}
	defer rows.Close()
	return scanFeedback(rows)
}

// FeedbackSince returns feedback recorded at or after the cutoff, oldest
// first, used by report generation.
func (s *LocalStore) FeedbackSince(cutoff time.Time) ([]*ExecutionFeedback, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`SELECT `+feedbackColumns+`
		FROM feedback WHERE created_at >= ? ORDER BY id ASC`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to query feedback: %w", err)
	}
	defer rows.Close()
	return scanFeedback(rows)
}

// SuccessRate computes the fraction of successful executions for a
// workflow. Returns 0 when no feedback exists.
func (s *LocalStore) SuccessRate(workflowID string) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var rate sql.NullFloat64
	err := s.db.QueryRow(`SELECT AVG(success) FROM feedback WHERE workflow_id = ?`,
		workflowID).Scan(&rate)
	if err != nil {
		return 0, fmt.Errorf("failed to compute success rate: %w", err)
	}
	return rate.Float64, nil
}

// CountFeedback returns the number of feedback rows for a workflow.
func (s *LocalStore) CountFeedback(workflowID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM feedback WHERE workflow_id = ?`,
		workflowID).Scan(&n)
	return n, err
}

// StepFailureRates maps step index to the fraction of all executions that
// failed at that step. Steps that never failed are absent from the map.
func (s *LocalStore) StepFailureRates(workflowID string) (map[int]float64, error) {
	feedback, err := s.FeedbackForWorkflow(workflowID)
	if err != nil || len(feedback) == 0 {
		return nil, err
	}

	counts := make(map[int]int)
	for _, fb := range feedback {
		for _, step := range fb.FailedSteps {
			counts[step]++
		}
	}

	rates := make(map[int]float64, len(counts))
	for step, count := range counts {
		rates[step] = float64(count) / float64(len(feedback))
	}
	return rates, nil
}

func scanFeedback(rows *sql.Rows) ([]*ExecutionFeedback, error) {
	var out []*ExecutionFeedback
	for rows.Next() {
		var (
			fb                        ExecutionFeedback
			success                   int
			failedSteps, errorDetails sql.NullString
			appName                   sql.NullString
			durationMS                int64
		)
		err := rows.Scan(&fb.ID, &fb.WorkflowID, &fb.Goal, &success,
			&fb.StepsExecuted, &fb.StepsSucceeded, &failedSteps, &errorDetails,
			&fb.Mode, &appName, &durationMS, &fb.CreatedAt)
		if err != nil {
			return nil, err
		}
		fb.Success = success != 0
		fb.AppName = appName.String
		fb.Duration = time.Duration(durationMS) * time.Millisecond
		if failedSteps.String != "" {
			if err := json.Unmarshal([]byte(failedSteps.String), &fb.FailedSteps); err != nil {
				return nil, fmt.Errorf("corrupt failed steps for feedback %d: %w", fb.ID, err)
			}
		}
		if errorDetails.String != "" {
			if err := json.Unmarshal([]byte(errorDetails.String), &fb.Errors); err != nil {
				return nil, fmt.Errorf("corrupt error details for feedback %d: %w", fb.ID, err)
			}
		}
		out = append(out, &fb)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
