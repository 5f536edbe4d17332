package verify

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"deskflow/internal/oracle"
)

// fakeOracle returns canned judgments.
type fakeOracle struct {
	step  *oracle.StepJudgment
	goal  *oracle.GoalJudgment
	err   error
	calls int
}

func (f *fakeOracle) SummarizeSession(context.Context, string, string) (*oracle.SessionSummary, error) {
	return nil, oracle.Unavailablef("not used")
}

func (f *fakeOracle) SelectNextAction(context.Context, string, string, string) (*oracle.NextAction, error) {
	return nil, oracle.Unavailablef("not used")
}

func (f *fakeOracle) VerifyStep(context.Context, string, string, string) (*oracle.StepJudgment, error) {
	f.calls++
	return f.step, f.err
}

func (f *fakeOracle) CheckGoalAchieved(context.Context, string, string, string) (*oracle.GoalJudgment, error) {
	f.calls++
	return f.goal, f.err
}

func TestVerifyStepConfirmed(t *testing.T) {
	o := &fakeOracle{step: &oracle.StepJudgment{Success: true, Confidence: 0.92, Reasoning: "dialog opened"}}
	v := NewVerifier(o, zap.NewNop())

	verdict, err := v.VerifyStep(context.Background(), "before.png", "after.png", "export dialog opens", false)
	require.NoError(t, err)
	assert.True(t, verdict.Verified)
	assert.True(t, verdict.Success)
	assert.InDelta(t, 0.92, verdict.Confidence, 1e-9)
}

func TestVerifyStepConfirmedFailure(t *testing.T) {
	o := &fakeOracle{step: &oracle.StepJudgment{Success: false, Confidence: 0.85, Reasoning: "screen unchanged"}}
	v := NewVerifier(o, zap.NewNop())

	verdict, err := v.VerifyStep(context.Background(), "before.png", "after.png", "dialog opens", false)
	require.NoError(t, err)
	assert.True(t, verdict.Verified)
	assert.False(t, verdict.Success)
}

// Degraded paths must never report success: dry run, missing screenshots,
// nil oracle and unavailable oracle all yield unverified failures.
func TestNoDegradedPathReportsSuccess(t *testing.T) {
	ctx := context.Background()
	confident := &fakeOracle{step: &oracle.StepJudgment{Success: true, Confidence: 1.0}}

	tests := []struct {
		name    string
		verdict func(t *testing.T) StepVerdict
	}{
		{
			name: "dry run",
			verdict: func(t *testing.T) StepVerdict {
				v := NewVerifier(confident, zap.NewNop())
				got, err := v.VerifyStep(ctx, "b.png", "a.png", "change", true)
				require.NoError(t, err)
				return got
			},
		},
		{
			name: "missing screenshots",
			verdict: func(t *testing.T) StepVerdict {
				v := NewVerifier(confident, zap.NewNop())
				got, err := v.VerifyStep(ctx, "", "a.png", "change", false)
				require.NoError(t, err)
				return got
			},
		},
		{
			name: "nil oracle",
			verdict: func(t *testing.T) StepVerdict {
				v := NewVerifier(nil, zap.NewNop())
				got, err := v.VerifyStep(ctx, "b.png", "a.png", "change", false)
				require.NoError(t, err)
				return got
			},
		},
		{
			name: "oracle unavailable",
			verdict: func(t *testing.T) StepVerdict {
				v := NewVerifier(&fakeOracle{err: oracle.Unavailablef("rate limited")}, zap.NewNop())
				got, err := v.VerifyStep(ctx, "b.png", "a.png", "change", false)
				require.NoError(t, err)
				return got
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verdict := tt.verdict(t)
			assert.False(t, verdict.Verified)
			assert.False(t, verdict.Success)
			assert.Zero(t, verdict.Confidence)
			assert.NotEmpty(t, verdict.Reasoning)
		})
	}
}

func TestDryRunSkipsOracleCall(t *testing.T) {
	o := &fakeOracle{step: &oracle.StepJudgment{Success: true, Confidence: 1.0}}
	v := NewVerifier(o, zap.NewNop())

	_, err := v.VerifyStep(context.Background(), "b.png", "a.png", "change", true)
	require.NoError(t, err)
	assert.Zero(t, o.calls)

	_, err = v.CheckGoal(context.Background(), "goal", "state", "", true)
	require.NoError(t, err)
	assert.Zero(t, o.calls)
}

func TestVerifyStepPropagatesHardErrors(t *testing.T) {
	o := &fakeOracle{err: errors.New("context canceled")}
	v := NewVerifier(o, zap.NewNop())

	_, err := v.VerifyStep(context.Background(), "b.png", "a.png", "change", false)
	assert.Error(t, err)
}

func TestCheckGoal(t *testing.T) {
	o := &fakeOracle{goal: &oracle.GoalJudgment{Achieved: true, Confidence: 0.8, Reasoning: "document visible"}}
	v := NewVerifier(o, zap.NewNop())

	verdict, err := v.CheckGoal(context.Background(), "open the report", "Pages frontmost", "", false)
	require.NoError(t, err)
	assert.True(t, verdict.Verified)
	assert.True(t, verdict.Achieved)

	unavail := NewVerifier(&fakeOracle{err: oracle.Unavailablef("down")}, zap.NewNop())
	verdict, err = unavail.CheckGoal(context.Background(), "open the report", "state", "", false)
	require.NoError(t, err)
	assert.False(t, verdict.Verified)
	assert.False(t, verdict.Achieved)
}
