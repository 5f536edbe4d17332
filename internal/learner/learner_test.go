package learner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"deskflow/internal/analyze"
	"deskflow/internal/config"
	"deskflow/internal/extract"
	"deskflow/internal/oracle"
	"deskflow/internal/refine"
	"deskflow/internal/store"
)

func TestMain(m *testing.M) {
	// opencensus (pulled in via the genai client) starts a worker from init.
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))
}

// fakeOracle answers every summarization with the same workflow summary.
type fakeOracle struct {
	calls int
}

func (f *fakeOracle) SummarizeSession(context.Context, string, string) (*oracle.SessionSummary, error) {
	f.calls++
	return &oracle.SessionSummary{
		Name:       fmt.Sprintf("learned workflow %d", f.calls),
		Tags:       []string{"export"},
		Confidence: 0.9,
		IsWorkflow: true,
	}, nil
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

func writeCapture(t *testing.T, dir, name, ts string) {
	t.Helper()
	body := fmt.Sprintf(`{
		"timestamp": %q,
		"user_action": {"type": "click", "x": 10, "y": 20},
		"target": {"name": "Export", "role": "AXMenuItem"},
		"app": {"name": "Pages", "bundle_id": "com.apple.Pages"}
	}`, ts)
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0644))
}

func newLearner(t *testing.T, o *fakeOracle) (*Learner, *store.LocalStore, *config.Config) {
	t.Helper()
	s, err := store.NewLocalStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	cfg := config.DefaultConfig()
	cfg.Storage.CaptureDir = t.TempDir()
	cfg.Storage.ReportDir = filepath.Join(t.TempDir(), "reports")
	cfg.Learning.PollInterval = "10ms"
	cfg.Learning.RefineInterval = 2
	cfg.Learning.ReportInterval = "24h"

	logger := zap.NewNop()
	l := NewLearner(cfg,
		extract.NewExtractor(o, s, cfg.Learning.MinConfidence, logger),
		refine.NewRefiner(s, logger),
		analyze.NewAnalyzer(s, logger),
		logger,
	)
	return l, s, cfg
}

func TestRunOnceExtractsAndReports(t *testing.T) {
	o := &fakeOracle{}
	l, s, cfg := newLearner(t, o)
	writeCapture(t, cfg.Storage.CaptureDir, "cap_001.json", "2026-08-27T10:00:00")
	writeCapture(t, cfg.Storage.CaptureDir, "cap_002.json", "2026-08-27T10:00:05")

	saved, err := l.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, saved)

	n, err := s.CountWorkflows()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// The first cycle also writes the initial report.
	entries, err := os.ReadDir(cfg.Storage.ReportDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].Name(), "report-")

	// Second cycle: nothing new on disk, nothing extracted, no fresh report.
	saved, err = l.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, saved)
	entries, err = os.ReadDir(cfg.Storage.ReportDir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestRunOnceRefinesOnInterval(t *testing.T) {
	o := &fakeOracle{}
	l, s, cfg := newLearner(t, o)
	writeCapture(t, cfg.Storage.CaptureDir, "cap_001.json", "2026-08-27T10:00:00")

	_, err := l.RunOnce(context.Background())
	require.NoError(t, err)

	workflows, err := s.ListWorkflows()
	require.NoError(t, err)
	require.Len(t, workflows, 1)
	w := workflows[0]

	// Feedback arrives between cycles; the second cycle (RefineInterval=2)
	// runs the refiner, which smooths confidence toward the success rate.
	require.NoError(t, s.RecordFeedback(&store.ExecutionFeedback{
		WorkflowID: w.ID, Success: true,
	}))

	_, err = l.RunOnce(context.Background())
	require.NoError(t, err)

	refined, err := s.GetWorkflow(w.ID)
	require.NoError(t, err)
	require.NotNil(t, refined)
	assert.InDelta(t, w.Confidence*0.7+0.3, refined.Confidence, 1e-9)
}

func TestRunOnceReportCadence(t *testing.T) {
	o := &fakeOracle{}
	l, _, cfg := newLearner(t, o)

	now := time.Date(2026, 8, 27, 9, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	_, err := l.RunOnce(context.Background())
	require.NoError(t, err)
	entries, err := os.ReadDir(cfg.Storage.ReportDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	// An hour later is within the 24h cadence.
	now = now.Add(time.Hour)
	_, err = l.RunOnce(context.Background())
	require.NoError(t, err)
	entries, err = os.ReadDir(cfg.Storage.ReportDir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	// A day later a fresh report lands under the new date.
	now = now.Add(24 * time.Hour)
	_, err = l.RunOnce(context.Background())
	require.NoError(t, err)
	entries, err = os.ReadDir(cfg.Storage.ReportDir)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestRunStopsOnCancel(t *testing.T) {
	o := &fakeOracle{}
	l, s, cfg := newLearner(t, o)
	writeCapture(t, cfg.Storage.CaptureDir, "cap_001.json", "2026-08-27T10:00:00")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	// Let at least the immediate first cycle complete.
	require.Eventually(t, func() bool {
		n, err := s.CountWorkflows()
		return err == nil && n == 1
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("learner did not stop after cancel")
	}
}
