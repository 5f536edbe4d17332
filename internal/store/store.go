// Package store persists workflows, execution feedback and recovery
// patterns in a local SQLite database.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"deskflow/internal/workflow"
)

// LocalStore is the SQLite-backed persistence layer. Safe for concurrent
// use; writes are serialized through a mutex because modernc sqlite allows
// a single writer.
type LocalStore struct {
	db *sql.DB
	mu sync.RWMutex
}

// NewLocalStore opens (creating if necessary) the SQLite database at path.
// Pass ":memory:" for an ephemeral store.
func NewLocalStore(path string) (*LocalStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &LocalStore{db: db}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// initialize creates the required tables.
func (s *LocalStore) initialize() error {
	workflowTable := `
	CREATE TABLE IF NOT EXISTS workflows (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT,
		app_name TEXT,
		steps TEXT NOT NULL,
		tags TEXT,
		parameters TEXT,
		confidence REAL DEFAULT 0,
		source_sessions TEXT,
		status TEXT NOT NULL DEFAULT 'draft',
		execution_count INTEGER DEFAULT 0,
		refined_feedback INTEGER DEFAULT 0,
		parent_id TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_workflows_name ON workflows(name);
	CREATE INDEX IF NOT EXISTS idx_workflows_app ON workflows(app_name);
	CREATE INDEX IF NOT EXISTS idx_workflows_status ON workflows(status);
	`

	feedbackTable := `
	CREATE TABLE IF NOT EXISTS feedback (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		workflow_id TEXT NOT NULL DEFAULT '',
		goal TEXT NOT NULL DEFAULT '',
		success INTEGER NOT NULL,
		steps_executed INTEGER DEFAULT 0,
		steps_succeeded INTEGER DEFAULT 0,
		failed_steps TEXT,
		error_details TEXT,
		mode TEXT NOT NULL DEFAULT 'workflow',
		app_name TEXT,
		duration_ms INTEGER DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_feedback_workflow ON feedback(workflow_id);
	`

	recoveryTable := `
	CREATE TABLE IF NOT EXISTS recovery_patterns (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		error_code TEXT NOT NULL,
		app_name TEXT NOT NULL,
		failed_action TEXT NOT NULL,
		strategy TEXT NOT NULL,
		attempts INTEGER DEFAULT 0,
		successes INTEGER DEFAULT 0,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(error_code, app_name, failed_action, strategy)
	);
	CREATE INDEX IF NOT EXISTS idx_recovery_code ON recovery_patterns(error_code);
	`

	for _, ddl := range []string{workflowTable, feedbackTable, recoveryTable} {
		if _, err := s.db.Exec(ddl); err != nil {
			return fmt.Errorf("failed to initialize schema: %w", err)
		}
	}
	return nil
}

// Close closes the underlying database.
func (s *LocalStore) Close() error {
	return s.db.Close()
}

// SaveWorkflow inserts or replaces a workflow by ID.
func (s *LocalStore) SaveWorkflow(w *workflow.Workflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	steps, err := workflow.MarshalSteps(w.Steps)
	if err != nil {
		return fmt.Errorf("failed to marshal steps: %w", err)
	}
	tags, _ := json.Marshal(w.Tags)
	params, _ := json.Marshal(w.Parameters)
	sessions, _ := json.Marshal(w.SourceSessionIDs)

	createdAt := w.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err = s.db.Exec(`
		INSERT OR REPLACE INTO workflows
		(id, name, description, app_name, steps, tags, parameters, confidence,
		 source_sessions, status, execution_count, refined_feedback, parent_id,
		 created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		w.ID, w.Name, w.Description, w.AppName, string(steps), string(tags),
		string(params), w.Confidence, string(sessions), string(w.Status),
		w.ExecutionCount, w.RefinedFeedback, w.ParentID, createdAt)
	if err != nil {
		return fmt.Errorf("failed to save workflow: %w", err)
	}
	return nil
}

// GetWorkflow fetches a workflow by ID. Returns (nil, nil) when absent.
func (s *LocalStore) GetWorkflow(id string) (*workflow.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(selectWorkflowColumns+` FROM workflows WHERE id = ?`, id)
	w, err := scanWorkflow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return w, err
}

// FindDuplicate looks up an existing workflow by case-insensitive name and
// app. Returns (nil, nil) when no duplicate exists.
func (s *LocalStore) FindDuplicate(name, appName string) (*workflow.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(selectWorkflowColumns+
		` FROM workflows WHERE lower(name) = lower(?) AND app_name = ?`,
		name, appName)
	w, err := scanWorkflow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return w, err
}

// ListWorkflows returns all workflows, newest first.
func (s *LocalStore) ListWorkflows() ([]*workflow.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(selectWorkflowColumns + ` FROM workflows ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}
	defer rows.Close()
	return scanWorkflows(rows)
}

// DeleteWorkflow removes a workflow. Its feedback rows are kept; feedback
// outlives its workflow for historical analysis.
func (s *LocalStore) DeleteWorkflow(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec(`DELETE FROM workflows WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete workflow: %w", err)
	}
	return nil
}

// CountWorkflows returns the number of stored workflows.
func (s *LocalStore) CountWorkflows() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM workflows`).Scan(&n)
	return n, err
}

// ScoredWorkflow pairs a search hit with its relevance score.
type ScoredWorkflow struct {
	Workflow *workflow.Workflow
	Score    float64
}

// SearchWorkflows ranks non-deprecated workflows against a query. The score
// weighs text match against the recorded success rate and a log-damped
// execution count, so a proven workflow outranks an untested one with the
// same name.
func (s *LocalStore) SearchWorkflows(query string) ([]ScoredWorkflow, error) {
	all, err := s.ListWorkflows()
	if err != nil {
		return nil, err
	}

	q := strings.ToLower(strings.TrimSpace(query))
	var hits []ScoredWorkflow
	for _, w := range all {
		if w.Status == workflow.StatusDeprecated {
			continue
		}
		match := matchScore(w, q)
		if match == 0 {
			continue
		}
		rate, err := s.SuccessRate(w.ID)
		if err != nil {
			return nil, err
		}
		score := 3.0*match + 2.0*rate + 0.3*math.Log(float64(w.ExecutionCount)+1)
		hits = append(hits, ScoredWorkflow{Workflow: w, Score: score})
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	return hits, nil
}

// matchScore grades how well a query matches a workflow's text fields.
// A name hit counts full, description and tag hits progressively less.
func matchScore(w *workflow.Workflow, q string) float64 {
	if q == "" {
		return 1.0
	}
	if strings.Contains(strings.ToLower(w.Name), q) {
		return 1.0
	}
	if strings.Contains(strings.ToLower(w.Description), q) {
		return 0.6
	}
	for _, tag := range w.Tags {
		if strings.Contains(strings.ToLower(tag), q) {
			return 0.4
		}
	}
	return 0
}

const selectWorkflowColumns = `SELECT id, name, description, app_name, steps,
	tags, parameters, confidence, source_sessions, status, execution_count,
	refined_feedback, parent_id, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWorkflow(row rowScanner) (*workflow.Workflow, error) {
	var (
		w                              workflow.Workflow
		steps, tags, params, sessions  string
		description, appName, parentID sql.NullString
		status                         string
	)
	err := row.Scan(&w.ID, &w.Name, &description, &appName, &steps, &tags,
		&params, &w.Confidence, &sessions, &status, &w.ExecutionCount,
		&w.RefinedFeedback, &parentID, &w.CreatedAt)
	if err != nil {
		return nil, err
	}
	w.Description = description.String
	w.AppName = appName.String
	w.ParentID = parentID.String
	w.Status = workflow.Status(status)

	if w.Steps, err = workflow.UnmarshalSteps([]byte(steps)); err != nil {
		return nil, fmt.Errorf("failed to unmarshal steps for %s: %w", w.ID, err)
	}
	if tags != "" && tags != "null" {
		if err := json.Unmarshal([]byte(tags), &w.Tags); err != nil {
			return nil, fmt.Errorf("failed to unmarshal tags for %s: %w", w.ID, err)
		}
	}
	if params != "" && params != "null" {
		if err := json.Unmarshal([]byte(params), &w.Parameters); err != nil {
			return nil, fmt.Errorf("failed to unmarshal parameters for %s: %w", w.ID, err)
		}
	}
	if sessions != "" && sessions != "null" {
		if err := json.Unmarshal([]byte(sessions), &w.SourceSessionIDs); err != nil {
			return nil, fmt.Errorf("failed to unmarshal sessions for %s: %w", w.ID, err)
		}
	}
	return &w, nil
}

func scanWorkflows(rows *sql.Rows) ([]*workflow.Workflow, error) {
	var out []*workflow.Workflow
	for rows.Next() {
		w, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}
