package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"deskflow/internal/loop"
)

var (
	runDryRun   bool
	runMaxSteps int
	runWorkflow string
	runYes      bool
	runParams   []string
)

// runCmd executes a goal: replay a matching stored workflow, or improvise.
var runCmd = &cobra.Command{
	Use:   "run [goal]",
	Short: "Execute a goal, replaying a known workflow when one matches",
	Long: `Searches the workflow store for the goal and replays the best match.
When nothing matches, improvises: the decision oracle picks one action at a
time against the observed desktop state until the goal is verified achieved
or a safety limit trips.

Steps inside consequential applications (mail, messaging) ask for
confirmation unless --yes is given. --dry-run walks the workflow without
touching input and reports how each step would resolve.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runGoal,
}

// playCmd replays one workflow by id, no search involved.
var playCmd = &cobra.Command{
	Use:   "play <workflow-id>",
	Short: "Replay a specific workflow by id",
	Args:  cobra.ExactArgs(1),
	RunE:  playWorkflow,
}

func runGoal(cmd *cobra.Command, args []string) error {
	req := loop.Request{
		Goal:        strings.Join(args, " "),
		WorkflowID:  runWorkflow,
		DryRun:      runDryRun,
		MaxSteps:    runMaxSteps,
		AutoConfirm: runYes,
	}
	var err error
	req.Params, err = parseParams(runParams)
	if err != nil {
		return err
	}
	return execute(req)
}

func playWorkflow(cmd *cobra.Command, args []string) error {
	req := loop.Request{
		WorkflowID:  args[0],
		DryRun:      runDryRun,
		AutoConfirm: runYes,
	}
	var err error
	req.Params, err = parseParams(runParams)
	if err != nil {
		return err
	}
	return execute(req)
}

func execute(req loop.Request) error {
	s, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	ctx, cancel := signalContext()
	defer cancel()

	executor, err := newExecutor(ctx, s, req.AutoConfirm)
	if err != nil {
		return err
	}

	result, err := executor.Run(ctx, req)
	if err != nil {
		return err
	}
	printResult(result)
	if !result.Success && !req.DryRun {
		return fmt.Errorf("execution failed: %s", result.Message)
	}
	return nil
}

func parseParams(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	params := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid parameter %q, expected name=value", pair)
		}
		params[key] = value
	}
	return params, nil
}

func printResult(r *loop.Result) {
	mode := "replayed"
	if r.Improvised {
		mode = "improvised"
	}
	verdict := "FAILED"
	if r.Success {
		verdict = "OK"
	}

	fmt.Printf("%s (%s, %d step(s), %s)\n", verdict, mode, r.StepsExecuted, r.Duration.Round(1e7))
	if r.WorkflowName != "" {
		fmt.Printf("  workflow: %s (%s)\n", r.WorkflowName, r.WorkflowID)
	}
	for _, step := range r.Steps {
		status := "ok"
		switch {
		case step.Skipped:
			status = "skipped"
		case !step.Success:
			status = "failed"
		}
		if step.ErrorCode != "" {
			status += " " + step.ErrorCode
		}
		method := ""
		if step.Method != "" {
			method = fmt.Sprintf(" via %s", step.Method)
		}
		fmt.Printf("  step %d: %s%s: %s\n", step.Index, step.Kind, method, status)
	}
	if r.Message != "" {
		fmt.Printf("  %s\n", r.Message)
	}
}

func init() {
	for _, c := range []*cobra.Command{runCmd, playCmd} {
		c.Flags().BoolVar(&runDryRun, "dry-run", false, "Resolve and walk steps without touching input")
		c.Flags().BoolVarP(&runYes, "yes", "y", false, "Skip confirmation for consequential applications")
		c.Flags().StringSliceVarP(&runParams, "param", "p", nil, "Parameter override as name=value (repeatable)")
	}
	runCmd.Flags().IntVar(&runMaxSteps, "max-steps", 0, "Cap improvised steps (0 = configured default)")
	runCmd.Flags().StringVar(&runWorkflow, "workflow", "", "Force replay of a specific workflow id")
}
