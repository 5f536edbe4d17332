package loop

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"deskflow/internal/desktop"
	"deskflow/internal/oracle"
	"deskflow/internal/recovery"
	"deskflow/internal/store"
	"deskflow/internal/workflow"
)

// Improvise works toward a goal one oracle-selected action at a time.
// Non-dry runs record autonomous-mode feedback even without a workflow;
// failed attempts are evidence the analyzer reports on.
func (e *Executor) Improvise(ctx context.Context, req Request) (*Result, error) {
	res, err := e.improvise(ctx, req)
	if err == nil && !req.DryRun {
		fb := feedbackFromResult(req, res)
		fb.Mode = store.ModeAutonomous
		fb.AppName = res.AppName
		if rerr := e.store.RecordFeedback(fb); rerr != nil {
			e.logger.Error("Failed to record feedback", zap.Error(rerr))
		}
	}
	return res, err
}

func (e *Executor) improvise(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	res := &Result{Improvised: true, FailedStep: -1}

	maxSteps := req.MaxSteps
	if maxSteps <= 0 {
		maxSteps = e.cfg.Execution.MaxSteps
	}
	interval := e.cfg.Execution.GoalCheckInterval
	maxConsecutive := e.cfg.Execution.MaxConsecutiveFailures

	var history []string
	consecutive := 0

	for stepNum := 1; stepNum <= maxSteps; stepNum++ {
		if err := ctx.Err(); err != nil {
			res.Duration = time.Since(start)
			return res, err
		}

		state, err := e.observer.Observe(ctx)
		if err != nil {
			res.Duration = time.Since(start)
			return res, fmt.Errorf("failed to observe desktop: %w", err)
		}
		if state.AppName != "" {
			res.AppName = state.AppName
		}
		stateDesc := describeState(state)

		// Periodic goal check; a verified, confident "achieved" ends the run.
		if interval > 0 && stepNum > 1 && (stepNum-1)%interval == 0 {
			if e.goalAchieved(ctx, req, stateDesc, history) {
				res.Success, res.GoalAchieved = true, true
				res.Duration = time.Since(start)
				return res, nil
			}
		}

		action, err := e.decision.SelectNextAction(ctx, req.Goal, stateDesc, strings.Join(history, "\n"))
		if err != nil {
			res.Duration = time.Since(start)
			if oracle.IsUnavailable(err) {
				e.logger.Warn("Improvisation halted, oracle unavailable", zap.Error(err))
				res.ErrorCode = CodeOracleUnavailable
				res.Message = err.Error()
				return res, nil
			}
			return res, err
		}

		e.logger.Info("Next action selected",
			zap.Int("step", stepNum),
			zap.String("kind", action.Kind),
			zap.String("reasoning", action.Reasoning))

		switch action.Kind {
		case "done":
			res.GoalAchieved = e.goalAchieved(ctx, req, stateDesc, history)
			res.Success = res.GoalAchieved
			if !res.Success {
				res.Message = "oracle signaled done but the goal check did not confirm"
			}
			res.Duration = time.Since(start)
			return res, nil

		case "wait":
			e.sleep(ctx, time.Second)
			history = append(history, fmt.Sprintf("%d. waited", stepNum))
			continue
		}

		if e.consequentialBlocked(state.AppName, action.Kind, req) {
			res.ErrorCode = CodeDeclined
			res.Message = fmt.Sprintf("confirmation declined for %s in %s", action.Kind, state.AppName)
			res.Duration = time.Since(start)
			return res, nil
		}

		actErr := e.performFreeform(action, req)
		res.StepsExecuted++

		outcome := StepOutcome{Index: stepNum - 1, Kind: workflow.ActionKind(action.Kind), Success: actErr == nil}
		if actErr != nil {
			consecutive++
			outcome.ErrorCode = recovery.CodeInputFailed
			outcome.Reasoning = actErr.Error()
			e.logger.Warn("Free-form action failed",
				zap.Int("step", stepNum),
				zap.Int("consecutive", consecutive),
				zap.Error(actErr))
			history = append(history, fmt.Sprintf("%d. %s FAILED: %v", stepNum, action.Kind, actErr))
		} else {
			consecutive = 0
			history = append(history, fmt.Sprintf("%d. %s %s", stepNum, action.Kind, actionDetail(action)))
		}
		res.Steps = append(res.Steps, outcome)

		if consecutive >= maxConsecutive {
			res.ErrorCode = CodeTooManyFailures
			res.Message = fmt.Sprintf("%d consecutive action failures", consecutive)
			res.Duration = time.Since(start)
			return res, nil
		}

		e.sleep(ctx, e.cfg.StepDelay())
	}

	res.ErrorCode = CodeMaxSteps
	res.Message = fmt.Sprintf("goal not reached within %d steps", maxSteps)
	res.Duration = time.Since(start)
	return res, nil
}

func (e *Executor) goalAchieved(ctx context.Context, req Request, stateDesc string, history []string) bool {
	verdict, err := e.verifier.CheckGoal(ctx, req.Goal, stateDesc, strings.Join(history, "\n"), req.DryRun)
	if err != nil {
		e.logger.Warn("Goal check errored", zap.Error(err))
		return false
	}
	return verdict.Verified && verdict.Achieved &&
		verdict.Confidence >= e.cfg.Execution.GoalConfidence
}

// performFreeform applies one oracle-selected action through the input
// layer. Dry runs skip input entirely.
func (e *Executor) performFreeform(action *oracle.NextAction, req Request) error {
	if req.DryRun {
		return nil
	}

	switch action.Kind {
	case "click":
		return e.input.Click(desktop.Point{X: action.X, Y: action.Y}, desktop.LeftButton)
	case "right_click":
		return e.input.Click(desktop.Point{X: action.X, Y: action.Y}, desktop.RightButton)
	case "text_input":
		return e.input.TypeText(action.Text)
	case "key_shortcut", "key_input":
		return e.input.TypeKey(action.KeyCode, action.Flags)
	}
	return fmt.Errorf("oracle selected unknown action kind %q", action.Kind)
}

func actionDetail(action *oracle.NextAction) string {
	switch action.Kind {
	case "click", "right_click":
		if action.TargetDescription != "" {
			return fmt.Sprintf("on %s at (%.0f, %.0f)", action.TargetDescription, action.X, action.Y)
		}
		return fmt.Sprintf("at (%.0f, %.0f)", action.X, action.Y)
	case "text_input":
		return fmt.Sprintf("%q", action.Text)
	case "key_shortcut", "key_input":
		return fmt.Sprintf("keycode %d", action.KeyCode)
	}
	return ""
}

func describeState(state desktop.State) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Frontmost application: %s", state.AppName)
	if state.WindowTitle != "" {
		fmt.Fprintf(&b, ", window: %q", state.WindowTitle)
	}
	if state.ScreenshotPath != "" {
		fmt.Fprintf(&b, " (screenshot: %s)", state.ScreenshotPath)
	}
	return b.String()
}
