package extract

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"deskflow/internal/capture"
	"deskflow/internal/oracle"
	"deskflow/internal/segment"
	"deskflow/internal/store"
	"deskflow/internal/workflow"
)

// fakeOracle returns a canned summary and records calls.
type fakeOracle struct {
	summary *oracle.SessionSummary
	err     error
	calls   int
}

func (f *fakeOracle) SummarizeSession(context.Context, string, string) (*oracle.SessionSummary, error) {
	f.calls++
	return f.summary, f.err
}

func (f *fakeOracle) SelectNextAction(context.Context, string, string, string) (*oracle.NextAction, error) {
	return nil, oracle.Unavailablef("not used")
}

func (f *fakeOracle) VerifyStep(context.Context, string, string, string) (*oracle.StepJudgment, error) {
	return nil, oracle.Unavailablef("not used")
}

func (f *fakeOracle) CheckGoalAchieved(context.Context, string, string, string) (*oracle.GoalJudgment, error) {
	return nil, oracle.Unavailablef("not used")
}

func workflowSummary(confidence float64) *oracle.SessionSummary {
	return &oracle.SessionSummary{
		Name:        "Export As PDF",
		Description: "exports the open document as PDF",
		Tags:        []string{"export"},
		Confidence:  confidence,
		IsWorkflow:  true,
	}
}

func sampleSession() *segment.Session {
	return &segment.Session{
		ID:      "sess-1",
		AppName: "Pages",
		Records: []*capture.InteractionRecord{
			{
				Kind:      "click",
				Timestamp: "2026-08-27T10:00:00",
				App:       capture.AppInfo{Name: "Pages", BundleID: "com.apple.Pages"},
				Target:    capture.TargetInfo{Name: "Export", Role: "AXMenuItem"},
				X:         120, Y: 40,
			},
			{
				Kind:      "text_input",
				Timestamp: "2026-08-27T10:00:05",
				App:       capture.AppInfo{Name: "Pages"},
				Text:      "report.pdf",
				KeyEvents: []capture.KeyEvent{{KeyCode: 15}, {KeyCode: 14}},
			},
			{
				Kind:      "key_shortcut",
				Timestamp: "2026-08-27T10:00:08",
				App:       capture.AppInfo{Name: "Pages"},
				KeyCode:   36,
				Modifiers: []string{"cmd"},
				Key:       "return",
			},
		},
	}
}

func newTestStore(t *testing.T) *store.LocalStore {
	t.Helper()
	s, err := store.NewLocalStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestExtractBuildsDraft(t *testing.T) {
	e := NewExtractor(&fakeOracle{summary: workflowSummary(0.9)}, newTestStore(t), 0.5, zap.NewNop())

	w, err := e.Extract(context.Background(), sampleSession())
	require.NoError(t, err)
	require.NotNil(t, w)

	assert.Equal(t, "export as pdf", w.Name)
	assert.Equal(t, "Pages", w.AppName)
	assert.Equal(t, workflow.StatusDraft, w.Status)
	assert.Equal(t, []string{"sess-1"}, w.SourceSessionIDs)
	require.Len(t, w.Steps, 3)
	assert.Equal(t, workflow.ActionClick, w.Steps[0].Kind)
	assert.Equal(t, "Export", w.Steps[0].Target.Title)
	assert.Equal(t, workflow.ActionTypeText, w.Steps[1].Kind)
	assert.Len(t, w.Steps[1].KeyEvents, 2)
	assert.Equal(t, workflow.ActionPressShortcut, w.Steps[2].Kind)
	assert.Equal(t, 36, w.Steps[2].KeyCode)
}

func TestExtractSkipsQuietly(t *testing.T) {
	tests := []struct {
		name string
		o    *fakeOracle
		sess *segment.Session
	}{
		{"empty session", &fakeOracle{summary: workflowSummary(0.9)}, &segment.Session{ID: "empty"}},
		{"not a workflow", &fakeOracle{summary: &oracle.SessionSummary{IsWorkflow: false}}, sampleSession()},
		{"below confidence floor", &fakeOracle{summary: workflowSummary(0.3)}, sampleSession()},
		{"oracle unavailable", &fakeOracle{err: oracle.Unavailablef("down")}, sampleSession()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewExtractor(tt.o, newTestStore(t), 0.5, zap.NewNop())
			w, err := e.Extract(context.Background(), tt.sess)
			require.NoError(t, err)
			assert.Nil(t, w)
		})
	}
}

func TestSaveDeduplicatesByConfidence(t *testing.T) {
	s := newTestStore(t)
	e := NewExtractor(&fakeOracle{}, s, 0.5, zap.NewNop())

	first := &workflow.Workflow{
		ID: "id-1", Name: "export as pdf", AppName: "Pages",
		Steps:            []workflow.ActionStep{{Kind: workflow.ActionClick}},
		Confidence:       0.7,
		Status:           workflow.StatusTested,
		ExecutionCount:   4,
		SourceSessionIDs: []string{"old"},
		CreatedAt:        time.Now().Add(-time.Hour),
	}
	require.NoError(t, s.SaveWorkflow(first))

	// Lower confidence: discarded.
	weaker := &workflow.Workflow{
		ID: "id-2", Name: "Export As PDF", AppName: "Pages",
		Steps:      []workflow.ActionStep{{Kind: workflow.ActionClick}},
		Confidence: 0.6, Status: workflow.StatusDraft,
	}
	saved, err := e.Save(weaker)
	require.NoError(t, err)
	assert.False(t, saved)

	// Higher confidence: replaces content but keeps identity and history.
	stronger := &workflow.Workflow{
		ID: "id-3", Name: "export as pdf", AppName: "Pages",
		Steps: []workflow.ActionStep{
			{Kind: workflow.ActionClick}, {Kind: workflow.ActionPressShortcut},
		},
		Confidence: 0.9, Status: workflow.StatusDraft,
		SourceSessionIDs: []string{"new"},
	}
	saved, err = e.Save(stronger)
	require.NoError(t, err)
	assert.True(t, saved)

	got, err := s.GetWorkflow("id-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.InDelta(t, 0.9, got.Confidence, 1e-9)
	assert.Equal(t, workflow.StatusTested, got.Status)
	assert.Equal(t, 4, got.ExecutionCount)
	assert.Equal(t, []string{"old", "new"}, got.SourceSessionIDs)
	assert.Len(t, got.Steps, 2)

	n, err := s.CountWorkflows()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func writeCaptureFile(t *testing.T, dir, name, ts string) {
	t.Helper()
	body := fmt.Sprintf(`{
		"timestamp": %q,
		"user_action": {"type": "click", "x": 10, "y": 20},
		"target": {"name": "Export", "role": "AXMenuItem"},
		"app": {"name": "Pages", "bundle_id": "com.apple.Pages"}
	}`, ts)
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0644))
}

func TestExtractIncrementalLedger(t *testing.T) {
	dir := t.TempDir()
	writeCaptureFile(t, dir, "click_cap_001.json", "2026-08-27T10:00:00")
	writeCaptureFile(t, dir, "click_cap_002.json", "2026-08-27T10:00:05")

	o := &fakeOracle{summary: workflowSummary(0.9)}
	e := NewExtractor(o, newTestStore(t), 0.5, zap.NewNop())

	saved, err := e.ExtractIncremental(context.Background(), dir, 30*time.Second, 100)
	require.NoError(t, err)
	assert.Equal(t, 1, saved)
	firstCalls := o.calls
	assert.Positive(t, firstCalls)

	// Second pass: nothing new, oracle untouched.
	saved, err = e.ExtractIncremental(context.Background(), dir, 30*time.Second, 100)
	require.NoError(t, err)
	assert.Zero(t, saved)
	assert.Equal(t, firstCalls, o.calls)

	// A new capture file is picked up; already-processed ones are not.
	writeCaptureFile(t, dir, "click_cap_003.json", "2026-08-27T11:00:00")
	_, err = e.ExtractIncremental(context.Background(), dir, 30*time.Second, 100)
	require.NoError(t, err)
	assert.Greater(t, o.calls, firstCalls)

	ledger, err := LoadLedger(dir)
	require.NoError(t, err)
	assert.True(t, ledger.Processed("click_cap_001.json"))
	assert.True(t, ledger.Processed("click_cap_003.json"))
}

func TestFormatActionLog(t *testing.T) {
	log := FormatActionLog(sampleSession())
	assert.Contains(t, log, `click "Export" (AXMenuItem) at (120, 40)`)
	assert.Contains(t, log, `typed "report.pdf"`)
	assert.Contains(t, log, "shortcut cmd+return")
}

func TestConvertRecordDropsTicks(t *testing.T) {
	_, ok := convertRecord(&capture.InteractionRecord{Kind: "tick"})
	assert.False(t, ok)
}
