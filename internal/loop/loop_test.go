package loop

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"deskflow/internal/config"
	"deskflow/internal/desktop"
	"deskflow/internal/oracle"
	"deskflow/internal/recovery"
	"deskflow/internal/resolve"
	"deskflow/internal/store"
	"deskflow/internal/verify"
	"deskflow/internal/workflow"
)

// fakeInput records physical actions and can fail on demand.
type fakeInput struct {
	clicks      []desktop.Point
	keys        []int
	texts       []string
	activations []string

	failClicks int // fail this many clicks before succeeding
	failAll    bool
}

func (f *fakeInput) Click(p desktop.Point, _ desktop.MouseButton) error {
	if f.failAll {
		return errors.New("click rejected")
	}
	if f.failClicks > 0 {
		f.failClicks--
		return errors.New("click rejected")
	}
	f.clicks = append(f.clicks, p)
	return nil
}

func (f *fakeInput) TypeKey(keycode int, _ int64) error {
	if f.failAll {
		return errors.New("key rejected")
	}
	f.keys = append(f.keys, keycode)
	return nil
}

func (f *fakeInput) TypeText(text string) error {
	if f.failAll {
		return errors.New("text rejected")
	}
	f.texts = append(f.texts, text)
	return nil
}

func (f *fakeInput) ActivateApp(bundleID string) error {
	f.activations = append(f.activations, bundleID)
	return nil
}

type fakeObserver struct {
	state desktop.State
}

func (f *fakeObserver) Observe(context.Context) (desktop.State, error) {
	return f.state, nil
}

// fakeDecision scripts next actions and canned judgments.
type fakeDecision struct {
	actions      []*oracle.NextAction
	stepJudgment *oracle.StepJudgment
	goalJudgment *oracle.GoalJudgment
	unavailable  bool
}

func (f *fakeDecision) SummarizeSession(context.Context, string, string) (*oracle.SessionSummary, error) {
	return nil, oracle.Unavailablef("not used")
}

func (f *fakeDecision) SelectNextAction(context.Context, string, string, string) (*oracle.NextAction, error) {
	if f.unavailable {
		return nil, oracle.Unavailablef("down")
	}
	if len(f.actions) == 0 {
		return &oracle.NextAction{Kind: "wait"}, nil
	}
	a := f.actions[0]
	if len(f.actions) > 1 {
		f.actions = f.actions[1:]
	}
	return a, nil
}

func (f *fakeDecision) VerifyStep(context.Context, string, string, string) (*oracle.StepJudgment, error) {
	if f.stepJudgment == nil {
		return nil, oracle.Unavailablef("no judgment")
	}
	return f.stepJudgment, nil
}

func (f *fakeDecision) CheckGoalAchieved(context.Context, string, string, string) (*oracle.GoalJudgment, error) {
	if f.goalJudgment == nil {
		return nil, oracle.Unavailablef("no judgment")
	}
	return f.goalJudgment, nil
}

type fixture struct {
	cfg      *config.Config
	store    *store.LocalStore
	input    *fakeInput
	observer *fakeObserver
	decision *fakeDecision
	exec     *Executor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	s, err := store.NewLocalStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	cfg := config.DefaultConfig()
	cfg.Execution.StepDelay = "0s"

	f := &fixture{
		cfg:      cfg,
		store:    s,
		input:    &fakeInput{},
		observer: &fakeObserver{state: desktop.State{AppName: "Pages"}},
		decision: &fakeDecision{},
	}
	logger := zap.NewNop()
	f.exec = NewExecutor(Deps{
		Config:   cfg,
		Store:    s,
		Resolver: resolve.NewResolver(nil, nil, 0.5, logger),
		Verifier: verify.NewVerifier(f.decision, logger),
		Decision: f.decision,
		Input:    f.input,
		Observer: f.observer,
		Recovery: recovery.NewManager(s, logger),
		Confirm:  ConfirmFunc(func(string) bool { return true }),
		Logger:   logger,
	})
	f.exec.sleep = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
	return f
}

func testWorkflow() *workflow.Workflow {
	return &workflow.Workflow{
		ID:      "wf-1",
		Name:    "export as pdf",
		AppName: "Pages",
		Steps: []workflow.ActionStep{
			{
				Kind:   workflow.ActionClick,
				App:    workflow.AppRef{Name: "Pages", BundleID: "com.apple.Pages"},
				Target: workflow.Target{Role: "AXMenuItem", Title: "Export"},
				Point:  workflow.Point{X: 120, Y: 40},
			},
			{
				Kind:    workflow.ActionPressShortcut,
				App:     workflow.AppRef{Name: "Pages"},
				KeyCode: 36,
			},
		},
		Status:     workflow.StatusDraft,
		Confidence: 0.8,
	}
}

func TestReplayRecordsFeedbackAndCount(t *testing.T) {
	f := newFixture(t)
	w := testWorkflow()
	require.NoError(t, f.store.SaveWorkflow(w))

	res, err := f.exec.Replay(context.Background(), w, Request{})
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, 2, res.StepsExecuted)
	assert.Equal(t, -1, res.FailedStep)
	assert.Len(t, f.input.clicks, 1)
	assert.Equal(t, []int{36}, f.input.keys)

	fb, err := f.store.FeedbackForWorkflow(w.ID)
	require.NoError(t, err)
	require.Len(t, fb, 1)
	assert.True(t, fb[0].Success)
	assert.Equal(t, store.ModeWorkflow, fb[0].Mode)
	assert.Equal(t, "Pages", fb[0].AppName)
	assert.Equal(t, 2, fb[0].StepsExecuted)
	assert.Equal(t, 2, fb[0].StepsSucceeded)
	assert.Empty(t, fb[0].FailedSteps)

	saved, err := f.store.GetWorkflow(w.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, saved.ExecutionCount)
}

func TestReplayDryRunTouchesNothing(t *testing.T) {
	f := newFixture(t)
	w := testWorkflow()
	require.NoError(t, f.store.SaveWorkflow(w))

	res, err := f.exec.Replay(context.Background(), w, Request{DryRun: true})
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Empty(t, f.input.clicks)
	assert.Empty(t, f.input.keys)
	for _, s := range res.Steps {
		assert.False(t, s.Verified)
	}

	fb, err := f.store.FeedbackForWorkflow(w.ID)
	require.NoError(t, err)
	assert.Empty(t, fb)

	saved, err := f.store.GetWorkflow(w.ID)
	require.NoError(t, err)
	assert.Zero(t, saved.ExecutionCount)
}

func TestReplayTargetNotFound(t *testing.T) {
	f := newFixture(t)
	w := testWorkflow()
	// No coordinates and no accessibility match: resolution is impossible.
	w.Steps[0].Point = workflow.Point{}
	require.NoError(t, f.store.SaveWorkflow(w))

	res, err := f.exec.Replay(context.Background(), w, Request{})
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.Equal(t, 0, res.FailedStep)
	assert.Equal(t, recovery.CodeTargetNotFound, res.ErrorCode)

	fb, err := f.store.FeedbackForWorkflow(w.ID)
	require.NoError(t, err)
	require.Len(t, fb, 1)
	assert.False(t, fb[0].Success)
	assert.Equal(t, []int{0}, fb[0].FailedSteps)
	require.NotNil(t, fb[0].FirstError())
	assert.Equal(t, recovery.CodeTargetNotFound, fb[0].FirstError().Code)
}

func TestReplayRecoversFromTransientInputFailure(t *testing.T) {
	f := newFixture(t)
	f.input.failClicks = 1
	w := testWorkflow()
	require.NoError(t, f.store.SaveWorkflow(w))

	res, err := f.exec.Replay(context.Background(), w, Request{})
	require.NoError(t, err)

	// The first click fails, the recovery retry succeeds.
	assert.True(t, res.Success)
	assert.Len(t, f.input.clicks, 1)

	patterns, err := f.store.AllRecoveryPatterns()
	require.NoError(t, err)
	require.Len(t, patterns, 1)
	assert.Equal(t, recovery.CodeInputFailed, patterns[0].ErrorCode)
	assert.Equal(t, 1, patterns[0].Successes)
}

func TestVerifiedVerdictOverridesRawSuccess(t *testing.T) {
	f := newFixture(t)
	f.observer.state.ScreenshotPath = "shot.png"
	f.decision.stepJudgment = &oracle.StepJudgment{Success: false, Confidence: 0.9, Reasoning: "nothing changed"}

	w := testWorkflow()
	require.NoError(t, f.store.SaveWorkflow(w))

	res, err := f.exec.Replay(context.Background(), w, Request{})
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.Equal(t, 0, res.FailedStep)
	require.NotEmpty(t, res.Steps)
	assert.True(t, res.Steps[0].Verified)
	assert.False(t, res.Steps[0].Success)
}

func TestConsequentialGateSkipsStep(t *testing.T) {
	f := newFixture(t)
	f.cfg.Execution.ConfirmConsequential = true
	f.cfg.Execution.ConsequentialApps = []string{"Mail"}
	declined := 0
	f.exec.confirm = ConfirmFunc(func(string) bool { declined++; return false })

	w := testWorkflow()
	w.AppName = "Mail"
	w.Steps[0].App = workflow.AppRef{Name: "Mail", BundleID: "com.apple.mail"}
	w.Steps[1].App = workflow.AppRef{Name: "Pages"}
	require.NoError(t, f.store.SaveWorkflow(w))

	res, err := f.exec.Replay(context.Background(), w, Request{})
	require.NoError(t, err)

	assert.Equal(t, 1, declined)
	require.Len(t, res.Steps, 2)
	assert.True(t, res.Steps[0].Skipped)
	assert.False(t, res.Steps[1].Skipped)
	assert.Empty(t, f.input.clicks)
	assert.Equal(t, []int{36}, f.input.keys)
}

func TestAutoConfirmBypassesGate(t *testing.T) {
	f := newFixture(t)
	f.cfg.Execution.ConfirmConsequential = true
	f.cfg.Execution.ConsequentialApps = []string{"Pages"}
	f.exec.confirm = ConfirmFunc(func(string) bool { return false })

	w := testWorkflow()
	require.NoError(t, f.store.SaveWorkflow(w))

	res, err := f.exec.Replay(context.Background(), w, Request{AutoConfirm: true})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Len(t, f.input.clicks, 1)
}

func TestParameterSubstitution(t *testing.T) {
	f := newFixture(t)
	w := testWorkflow()
	w.Steps = append(w.Steps, workflow.ActionStep{
		Kind:          workflow.ActionTypeText,
		App:           workflow.AppRef{Name: "Pages"},
		Text:          "old-name.pdf",
		KeyEvents:     []workflow.KeyEvent{{KeyCode: 1}},
		Parameterized: true,
		ParamName:     "filename",
	})
	require.NoError(t, f.store.SaveWorkflow(w))

	_, err := f.exec.Replay(context.Background(), w, Request{
		Params: map[string]string{"filename": "q3-report.pdf"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"q3-report.pdf"}, f.input.texts)
	// Key 36 belongs to the shortcut step; the substituted text step's
	// recorded keystrokes must not replay on top of the new value.
	assert.Equal(t, []int{36}, f.input.keys)
}

func TestRunDispatchesToStoredWorkflow(t *testing.T) {
	f := newFixture(t)
	w := testWorkflow()
	require.NoError(t, f.store.SaveWorkflow(w))

	res, err := f.exec.Run(context.Background(), Request{Goal: "export as pdf"})
	require.NoError(t, err)
	assert.Equal(t, w.ID, res.WorkflowID)
	assert.False(t, res.Improvised)
}

func TestRunUnknownWorkflowID(t *testing.T) {
	f := newFixture(t)
	_, err := f.exec.Run(context.Background(), Request{WorkflowID: "missing"})
	assert.Error(t, err)
}

func TestRunImprovisesWhenNoMatch(t *testing.T) {
	f := newFixture(t)
	f.decision.actions = []*oracle.NextAction{
		{Kind: "click", X: 10, Y: 20},
		{Kind: "done"},
	}
	f.decision.goalJudgment = &oracle.GoalJudgment{Achieved: true, Confidence: 0.9}

	res, err := f.exec.Run(context.Background(), Request{Goal: "do something unheard of"})
	require.NoError(t, err)
	assert.True(t, res.Improvised)
	assert.True(t, res.Success)
	assert.True(t, res.GoalAchieved)
	assert.Len(t, f.input.clicks, 1)
}

func TestImproviseDoneUnconfirmedIsFailure(t *testing.T) {
	f := newFixture(t)
	f.decision.actions = []*oracle.NextAction{{Kind: "done"}}
	f.decision.goalJudgment = &oracle.GoalJudgment{Achieved: false, Confidence: 0.9}

	res, err := f.exec.Improvise(context.Background(), Request{Goal: "open settings"})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.False(t, res.GoalAchieved)
}

func TestImproviseMaxSteps(t *testing.T) {
	f := newFixture(t)
	f.decision.actions = []*oracle.NextAction{{Kind: "click", X: 1, Y: 1}}
	f.decision.goalJudgment = &oracle.GoalJudgment{Achieved: false, Confidence: 0.9}

	res, err := f.exec.Improvise(context.Background(), Request{Goal: "unreachable", MaxSteps: 7})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, CodeMaxSteps, res.ErrorCode)
	assert.Equal(t, 7, res.StepsExecuted)
}

func TestImproviseAbortsOnConsecutiveFailures(t *testing.T) {
	f := newFixture(t)
	f.input.failAll = true
	f.decision.actions = []*oracle.NextAction{{Kind: "click", X: 1, Y: 1}}

	res, err := f.exec.Improvise(context.Background(), Request{Goal: "doomed"})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, CodeTooManyFailures, res.ErrorCode)
	assert.Equal(t, f.cfg.Execution.MaxConsecutiveFailures, res.StepsExecuted)
}

func TestImproviseRecordsAutonomousFeedback(t *testing.T) {
	f := newFixture(t)
	f.decision.actions = []*oracle.NextAction{
		{Kind: "click", X: 10, Y: 20},
		{Kind: "done"},
	}
	f.decision.goalJudgment = &oracle.GoalJudgment{Achieved: true, Confidence: 0.9}

	_, err := f.exec.Improvise(context.Background(), Request{Goal: "archive old mail"})
	require.NoError(t, err)

	all, err := f.store.ListFeedback(10)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, store.ModeAutonomous, all[0].Mode)
	assert.Empty(t, all[0].WorkflowID)
	assert.Equal(t, "archive old mail", all[0].Goal)
	assert.Equal(t, "Pages", all[0].AppName)
	assert.True(t, all[0].Success)
}

func TestImproviseDryRunRecordsNoFeedback(t *testing.T) {
	f := newFixture(t)
	f.decision.actions = []*oracle.NextAction{{Kind: "done"}}
	f.decision.goalJudgment = &oracle.GoalJudgment{Achieved: true, Confidence: 0.9}

	_, err := f.exec.Improvise(context.Background(), Request{Goal: "anything", DryRun: true})
	require.NoError(t, err)

	all, err := f.store.ListFeedback(10)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestImproviseOracleUnavailable(t *testing.T) {
	f := newFixture(t)
	f.decision.unavailable = true

	res, err := f.exec.Improvise(context.Background(), Request{Goal: "anything"})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, CodeOracleUnavailable, res.ErrorCode)
}

func TestImproviseCancellation(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.exec.Improvise(ctx, Request{Goal: "anything"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDescribeStep(t *testing.T) {
	step := workflow.ActionStep{
		Kind:   workflow.ActionClick,
		Target: workflow.Target{Title: "Export"},
	}
	assert.Equal(t, `click "Export"`, describeStep(step))

	step = workflow.ActionStep{Kind: workflow.ActionWait, WaitSeconds: 2}
	assert.Equal(t, "wait 2.0s", describeStep(step))

	step = workflow.ActionStep{Kind: workflow.ActionClick, Point: workflow.Point{X: 5, Y: 6}}
	assert.Equal(t, "click at (5, 6)", describeStep(step))
}

