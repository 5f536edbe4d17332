// Package loop executes workflows. A run either replays a stored workflow
// step by step or improvises toward a goal with oracle-selected actions.
// Every physical action flows through the desktop.Input contract; every
// judgment about whether an action worked flows through the verifier.
package loop

import (
	"context"
	"fmt"
	"time"

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

// Confirmer gates steps inside consequential applications. Returning false
// skips the step.
type Confirmer interface {
	Confirm(prompt string) bool
}

// ConfirmFunc adapts a function to the Confirmer interface.
type ConfirmFunc func(prompt string) bool

func (f ConfirmFunc) Confirm(prompt string) bool { return f(prompt) }

// Request describes one execution.
type Request struct {
	// Goal drives workflow search and free-form improvisation.
	Goal string

	// WorkflowID forces replay of a specific workflow.
	WorkflowID string

	// Params substitute parameterized step values at execution time.
	Params map[string]string

	// DryRun resolves and walks steps without touching input, the vision
	// tier, or the feedback tables.
	DryRun bool

	// MaxSteps caps free-form execution; 0 uses the configured default.
	MaxSteps int

	// AutoConfirm disables the consequential-app confirmation gate.
	AutoConfirm bool
}

// StepOutcome reports one executed (or skipped) step.
type StepOutcome struct {
	Index     int
	Kind      workflow.ActionKind
	Method    resolve.Method
	Success   bool
	Verified  bool
	Skipped   bool
	ErrorCode string
	Reasoning string
}

// Result is the outcome of one Run.
type Result struct {
	Success       bool
	WorkflowID    string
	WorkflowName  string
	Improvised    bool
	GoalAchieved  bool
	AppName       string // frontmost app, as last observed
	StepsExecuted int
	FailedStep    int // -1 when no step is attributable
	ErrorCode     string
	Message       string
	Steps         []StepOutcome
	Duration      time.Duration
}

// Result error codes beyond the per-step resolver/input codes.
const (
	CodeMaxSteps          = "MAX_STEPS"
	CodeTooManyFailures   = "TOO_MANY_FAILURES"
	CodeOracleUnavailable = "ORACLE_UNAVAILABLE"
	CodeDeclined          = "DECLINED"
)

// Deps wires an Executor.
type Deps struct {
	Config   *config.Config
	Store    *store.LocalStore
	Resolver *resolve.Resolver
	Verifier *verify.Verifier
	Decision oracle.Decision
	Input    desktop.Input
	Observer desktop.Observer
	Recovery *recovery.Manager
	Confirm  Confirmer
	Logger   *zap.Logger
}

// Executor runs workflows and free-form goals.
type Executor struct {
	cfg      *config.Config
	store    *store.LocalStore
	resolver *resolve.Resolver
	verifier *verify.Verifier
	decision oracle.Decision
	input    desktop.Input
	observer desktop.Observer
	recovery *recovery.Manager
	confirm  Confirmer
	logger   *zap.Logger

	// sleep is swappable in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewExecutor creates an executor from its dependencies.
func NewExecutor(d Deps) *Executor {
	return &Executor{
		cfg:      d.Config,
		store:    d.Store,
		resolver: d.Resolver,
		verifier: d.Verifier,
		decision: d.Decision,
		input:    d.Input,
		observer: d.Observer,
		recovery: d.Recovery,
		confirm:  d.Confirm,
		logger:   d.Logger,
		sleep:    sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Run dispatches a request: explicit workflow ID wins, then the best search
// hit for the goal, then free-form improvisation.
func (e *Executor) Run(ctx context.Context, req Request) (*Result, error) {
	if req.WorkflowID != "" {
		w, err := e.store.GetWorkflow(req.WorkflowID)
		if err != nil {
			return nil, err
		}
		if w == nil {
			return nil, fmt.Errorf("workflow %s not found", req.WorkflowID)
		}
		return e.Replay(ctx, w, req)
	}

	if req.Goal == "" {
		return nil, fmt.Errorf("nothing to execute: no goal and no workflow ID")
	}

	hits, err := e.store.SearchWorkflows(req.Goal)
	if err != nil {
		return nil, err
	}
	if len(hits) > 0 {
		best := hits[0]
		e.logger.Info("Goal matched a stored workflow",
			zap.String("workflow", best.Workflow.Name),
			zap.Float64("score", best.Score))
		return e.Replay(ctx, best.Workflow, req)
	}

	e.logger.Info("No stored workflow matches, improvising", zap.String("goal", req.Goal))
	return e.Improvise(ctx, req)
}

// consequentialBlocked runs the confirmation gate for an app. True means
// the step must be skipped.
func (e *Executor) consequentialBlocked(appName, what string, req Request) bool {
	if req.AutoConfirm || !e.cfg.Execution.ConfirmConsequential {
		return false
	}
	if !e.cfg.IsConsequentialApp(appName) {
		return false
	}
	if e.confirm == nil {
		return true
	}
	return !e.confirm.Confirm(fmt.Sprintf("About to %s in %s. Proceed?", what, appName))
}

// observeShot grabs the current screenshot path, empty when observation is
// suppressed or fails.
func (e *Executor) observeShot(ctx context.Context, dryRun bool) string {
	if dryRun || e.observer == nil {
		return ""
	}
	state, err := e.observer.Observe(ctx)
	if err != nil {
		e.logger.Debug("Observation failed", zap.Error(err))
		return ""
	}
	return state.ScreenshotPath
}
