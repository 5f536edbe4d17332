package loop

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"deskflow/internal/desktop"
	"deskflow/internal/recovery"
	"deskflow/internal/resolve"
	"deskflow/internal/store"
	"deskflow/internal/workflow"
)

// Replay executes a stored workflow step by step. Feedback is recorded on
// every non-dry run regardless of outcome; the refiner needs failures as
// much as successes.
func (e *Executor) Replay(ctx context.Context, w *workflow.Workflow, req Request) (*Result, error) {
	start := time.Now()
	res := &Result{
		WorkflowID:   w.ID,
		WorkflowName: w.Name,
		FailedStep:   -1,
	}

	e.logger.Info("Replaying workflow",
		zap.String("id", w.ID),
		zap.String("name", w.Name),
		zap.Int("steps", len(w.Steps)),
		zap.Bool("dry_run", req.DryRun))

	steps := applyParams(w, req.Params)
	consecutive := 0
	maxConsecutive := e.cfg.Execution.MaxConsecutiveFailures

	for i, step := range steps {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		appName := step.App.Name
		if appName == "" {
			appName = w.AppName
		}

		if e.consequentialBlocked(appName, describeStep(step), req) {
			e.logger.Warn("Step skipped by confirmation gate",
				zap.Int("step", i), zap.String("app", appName))
			res.Steps = append(res.Steps, StepOutcome{
				Index: i, Kind: step.Kind, Skipped: true, Reasoning: "confirmation declined",
			})
			continue
		}

		outcome := e.runStep(ctx, i, step, appName, req)
		res.Steps = append(res.Steps, outcome)
		res.StepsExecuted++

		if outcome.Success {
			consecutive = 0
			continue
		}

		consecutive++
		if res.FailedStep < 0 {
			res.FailedStep = i
			res.ErrorCode = outcome.ErrorCode
			res.Message = outcome.Reasoning
		}
		if consecutive >= maxConsecutive {
			e.logger.Warn("Aborting replay after consecutive failures",
				zap.Int("failures", consecutive))
			res.ErrorCode = CodeTooManyFailures
			break
		}
	}

	res.Success = res.FailedStep < 0 && res.StepsExecuted > 0
	res.Duration = time.Since(start)

	if !req.DryRun {
		e.recordReplayFeedback(w, req, res)
	}
	return res, nil
}

// recordReplayFeedback appends the execution outcome and bumps the
// workflow's execution count. Status transitions stay with the refiner.
func (e *Executor) recordReplayFeedback(w *workflow.Workflow, req Request, res *Result) {
	fb := feedbackFromResult(req, res)
	fb.WorkflowID = w.ID
	fb.Mode = store.ModeWorkflow
	fb.AppName = w.AppName

	if err := e.store.RecordFeedback(fb); err != nil {
		e.logger.Error("Failed to record feedback", zap.Error(err))
	}

	w.ExecutionCount++
	if err := e.store.SaveWorkflow(w); err != nil {
		e.logger.Error("Failed to update execution count", zap.Error(err))
	}
}

// feedbackFromResult converts per-step outcomes into the stored feedback
// shape: counts plus step-level failure detail.
func feedbackFromResult(req Request, res *Result) *store.ExecutionFeedback {
	fb := &store.ExecutionFeedback{
		Goal:          req.Goal,
		Success:       res.Success,
		StepsExecuted: res.StepsExecuted,
		Duration:      res.Duration,
	}
	for _, step := range res.Steps {
		switch {
		case step.Skipped:
		case step.Success:
			fb.StepsSucceeded++
		default:
			fb.FailedSteps = append(fb.FailedSteps, step.Index)
			fb.Errors = append(fb.Errors, store.ErrorDetail{
				StepIndex: step.Index,
				Code:      step.ErrorCode,
				Message:   step.Reasoning,
			})
		}
	}
	return fb
}

// runStep executes one step: observe, act (with one recovery attempt on
// failure), settle, observe again, verify. A verified verdict overrides the
// raw action result; an unverified one never upgrades a failure.
func (e *Executor) runStep(ctx context.Context, index int, step workflow.ActionStep, appName string, req Request) StepOutcome {
	outcome := StepOutcome{Index: index, Kind: step.Kind}

	beforeShot := e.observeShot(ctx, req.DryRun)

	method, errCode, err := e.act(ctx, step, beforeShot, req)
	outcome.Method = method

	if err != nil && !req.DryRun {
		strategy := e.recovery.LearnedRecovery(errCode, appName, string(step.Kind))
		e.logger.Info("Attempting recovery",
			zap.Int("step", index),
			zap.String("error", errCode),
			zap.String("strategy", string(strategy)))

		recErr := e.applyStrategy(ctx, strategy, step, beforeShot, req)
		e.recovery.RecordRecovery(errCode, appName, string(step.Kind), strategy, recErr == nil)
		if recErr == nil {
			err, errCode = nil, ""
		}
	}

	rawSuccess := err == nil
	if err != nil {
		outcome.ErrorCode = errCode
		outcome.Reasoning = err.Error()
	}

	e.sleep(ctx, e.settleDelay(step))

	afterShot := e.observeShot(ctx, req.DryRun)
	verdict, verr := e.verifier.VerifyStep(ctx, beforeShot, afterShot, describeStep(step), req.DryRun)
	if verr != nil {
		e.logger.Warn("Step verification errored", zap.Int("step", index), zap.Error(verr))
	}

	outcome.Success = rawSuccess
	if verdict.Verified {
		outcome.Verified = true
		outcome.Success = verdict.Success
		outcome.Reasoning = verdict.Reasoning
		if !verdict.Success && outcome.ErrorCode == "" {
			outcome.ErrorCode = recovery.CodeTimeout
		}
	}
	return outcome
}

// act performs a step's physical action and reports the error code class on
// failure. Dry runs still resolve targets but never touch input.
func (e *Executor) act(ctx context.Context, step workflow.ActionStep, screenshot string, req Request) (resolve.Method, string, error) {
	switch step.Kind {
	case workflow.ActionWait:
		e.sleep(ctx, scaledWait(step))
		return "", "", nil

	case workflow.ActionActivateApp:
		if req.DryRun {
			return "", "", nil
		}
		if err := e.input.ActivateApp(step.App.BundleID); err != nil {
			return "", recovery.CodeInputFailed, fmt.Errorf("activate %s: %w", step.App.Name, err)
		}
		return "", "", nil

	case workflow.ActionTypeText, workflow.ActionKeyInput, workflow.ActionPressShortcut:
		if req.DryRun {
			return "", "", nil
		}
		if err := e.typeStep(step); err != nil {
			return "", recovery.CodeInputFailed, err
		}
		return "", "", nil

	case workflow.ActionClick, workflow.ActionRightClick:
		resolution, err := e.resolver.Resolve(ctx, step, resolve.Options{
			BundleID:       step.App.BundleID,
			ScreenshotPath: screenshot,
			DryRun:         req.DryRun,
		})
		if err != nil {
			return "", recovery.CodeTargetNotFound, err
		}
		if req.DryRun {
			return resolution.Method, "", nil
		}
		button := desktop.LeftButton
		if step.Kind == workflow.ActionRightClick {
			button = desktop.RightButton
		}
		if err := e.input.Click(resolution.Point, button); err != nil {
			return resolution.Method, recovery.CodeInputFailed, fmt.Errorf("click failed: %w", err)
		}
		return resolution.Method, "", nil
	}

	return "", recovery.CodeInputFailed, fmt.Errorf("unknown action kind %q", step.Kind)
}

// typeStep replays keyboard input: recorded key events when present,
// keycode for shortcuts, synthesized text otherwise.
func (e *Executor) typeStep(step workflow.ActionStep) error {
	if len(step.KeyEvents) > 0 {
		for _, ev := range step.KeyEvents {
			if err := e.input.TypeKey(ev.KeyCode, ev.Flags); err != nil {
				return fmt.Errorf("key event failed: %w", err)
			}
		}
		return nil
	}
	if step.Kind == workflow.ActionTypeText && step.Text != "" {
		if err := e.input.TypeText(step.Text); err != nil {
			return fmt.Errorf("text input failed: %w", err)
		}
		return nil
	}
	if err := e.input.TypeKey(step.KeyCode, step.Flags); err != nil {
		return fmt.Errorf("keystroke failed: %w", err)
	}
	return nil
}

// applyStrategy runs one recovery attempt for a failed step.
func (e *Executor) applyStrategy(ctx context.Context, strategy recovery.Strategy, step workflow.ActionStep, screenshot string, req Request) error {
	switch strategy {
	case recovery.StrategyCoordinateClick:
		if (step.Point == workflow.Point{}) {
			return fmt.Errorf("no recorded coordinates to fall back to")
		}
		button := desktop.LeftButton
		if step.Kind == workflow.ActionRightClick {
			button = desktop.RightButton
		}
		return e.input.Click(desktop.Point{X: step.Point.X, Y: step.Point.Y}, button)

	case recovery.StrategyWaitAndRetry:
		if err := e.sleep(ctx, 500*time.Millisecond); err != nil {
			return err
		}

	case recovery.StrategyExtendTimeout:
		if err := e.sleep(ctx, e.cfg.StepDelay()*3/2); err != nil {
			return err
		}

	case recovery.StrategyRefocusWindow:
		if step.App.BundleID != "" {
			if err := e.input.ActivateApp(step.App.BundleID); err != nil {
				return err
			}
		}
	}

	_, _, err := e.act(ctx, step, screenshot, req)
	return err
}

// settleDelay is the pause after a step before verification, stretched by
// refiner-applied timeout factors.
func (e *Executor) settleDelay(step workflow.ActionStep) time.Duration {
	delay := e.cfg.StepDelay()
	if step.TimeoutFactor > 0 {
		delay = time.Duration(float64(delay) * step.TimeoutFactor)
	}
	return delay
}

func scaledWait(step workflow.ActionStep) time.Duration {
	d := time.Duration(step.WaitSeconds * float64(time.Second))
	if step.TimeoutFactor > 0 {
		d = time.Duration(float64(d) * step.TimeoutFactor)
	}
	return d
}

// applyParams deep-copies the workflow's steps and substitutes runtime
// parameter values into parameterized text steps.
func applyParams(w *workflow.Workflow, params map[string]string) []workflow.ActionStep {
	steps := make([]workflow.ActionStep, len(w.Steps))
	for i, s := range w.Steps {
		steps[i] = s.Clone()
		if s.Parameterized && s.ParamName != "" {
			if v, ok := params[s.ParamName]; ok {
				steps[i].Text = v
				// Recorded keystrokes spell the old value.
				steps[i].KeyEvents = nil
			}
		}
	}
	return steps
}

// describeStep is the expected-change description handed to verification.
func describeStep(step workflow.ActionStep) string {
	if step.Description != "" {
		return step.Description
	}
	switch step.Kind {
	case workflow.ActionClick, workflow.ActionRightClick:
		label := step.Target.Title
		if label == "" {
			label = step.Target.Description
		}
		if label == "" {
			return fmt.Sprintf("%s at (%.0f, %.0f)", step.Kind, step.Point.X, step.Point.Y)
		}
		return fmt.Sprintf("%s %q", step.Kind, label)
	case workflow.ActionTypeText:
		return fmt.Sprintf("type %q", step.Text)
	case workflow.ActionPressShortcut, workflow.ActionKeyInput:
		return fmt.Sprintf("press keycode %d", step.KeyCode)
	case workflow.ActionActivateApp:
		return "activate " + step.App.Name
	case workflow.ActionWait:
		return fmt.Sprintf("wait %.1fs", step.WaitSeconds)
	}
	return string(step.Kind)
}
