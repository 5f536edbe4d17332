// Package verify turns oracle judgments into honest verdicts. A verdict is
// only ever positive when a real oracle call confirmed it against real
// screenshots; every degraded path (dry run, missing artifacts, oracle
// unavailable) reports unverified failure rather than optimistic success.
package verify

import (
	"context"

	"go.uber.org/zap"

	"deskflow/internal/oracle"
)

// StepVerdict is the outcome of verifying one executed step. Verified=false
// always implies Success=false and Confidence=0.
type StepVerdict struct {
	Success    bool
	Confidence float64
	Verified   bool
	Reasoning  string
}

// GoalVerdict is the outcome of a goal-achievement check.
type GoalVerdict struct {
	Achieved   bool
	Confidence float64
	Verified   bool
	Reasoning  string
}

// Verifier judges step and goal outcomes through the decision oracle.
type Verifier struct {
	oracle oracle.Decision
	logger *zap.Logger
}

// NewVerifier creates a Verifier. The oracle may be nil, in which case
// every verdict is unverified.
func NewVerifier(o oracle.Decision, logger *zap.Logger) *Verifier {
	return &Verifier{oracle: o, logger: logger}
}

// unverifiedStep is the single constructor for degraded step verdicts, so
// no code path can pair Verified=false with Success=true.
func unverifiedStep(reason string) StepVerdict {
	return StepVerdict{Success: false, Confidence: 0, Verified: false, Reasoning: reason}
}

func unverifiedGoal(reason string) GoalVerdict {
	return GoalVerdict{Achieved: false, Confidence: 0, Verified: false, Reasoning: reason}
}

// VerifyStep compares before/after screenshots against the expected change.
// Dry runs never reach the oracle.
func (v *Verifier) VerifyStep(ctx context.Context, beforePath, afterPath, expectedChange string, dryRun bool) (StepVerdict, error) {
	if dryRun {
		return unverifiedStep("dry run: no oracle verification"), nil
	}
	if beforePath == "" || afterPath == "" {
		return unverifiedStep("missing screenshots"), nil
	}
	if v.oracle == nil {
		return unverifiedStep("no oracle configured"), nil
	}

	judgment, err := v.oracle.VerifyStep(ctx, beforePath, afterPath, expectedChange)
	if err != nil {
		if oracle.IsUnavailable(err) {
			v.logger.Warn("Step verification skipped, oracle unavailable", zap.Error(err))
			return unverifiedStep("oracle unavailable: " + err.Error()), nil
		}
		return StepVerdict{}, err
	}

	return StepVerdict{
		Success:    judgment.Success,
		Confidence: judgment.Confidence,
		Verified:   true,
		Reasoning:  judgment.Reasoning,
	}, nil
}

// CheckGoal asks the oracle whether the stated goal is achieved given the
// current desktop state and the action history.
func (v *Verifier) CheckGoal(ctx context.Context, goal, stateDesc, history string, dryRun bool) (GoalVerdict, error) {
	if dryRun {
		return unverifiedGoal("dry run: no oracle verification"), nil
	}
	if v.oracle == nil {
		return unverifiedGoal("no oracle configured"), nil
	}

	judgment, err := v.oracle.CheckGoalAchieved(ctx, goal, stateDesc, history)
	if err != nil {
		if oracle.IsUnavailable(err) {
			v.logger.Warn("Goal check skipped, oracle unavailable", zap.Error(err))
			return unverifiedGoal("oracle unavailable: " + err.Error()), nil
		}
		return GoalVerdict{}, err
	}

	return GoalVerdict{
		Achieved:   judgment.Achieved,
		Confidence: judgment.Confidence,
		Verified:   true,
		Reasoning:  judgment.Reasoning,
	}, nil
}
