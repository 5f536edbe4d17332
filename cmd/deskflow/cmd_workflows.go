package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"deskflow/internal/workflow"
)

// workflowsCmd manages the stored workflow corpus.
var workflowsCmd = &cobra.Command{
	Use:   "workflows",
	Short: "Inspect and manage stored workflows",
	RunE:  runWorkflowsList,
}

var workflowsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all stored workflows",
	RunE:  runWorkflowsList,
}

var workflowsSearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Rank workflows against a query",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runWorkflowsSearch,
}

var workflowsShowCmd = &cobra.Command{
	Use:   "show <workflow-id>",
	Short: "Show one workflow in full",
	Args:  cobra.ExactArgs(1),
	RunE:  runWorkflowsShow,
}

var workflowsDeleteCmd = &cobra.Command{
	Use:   "delete <workflow-id>",
	Short: "Delete a workflow (its feedback history is kept)",
	Args:  cobra.ExactArgs(1),
	RunE:  runWorkflowsDelete,
}

func runWorkflowsList(cmd *cobra.Command, args []string) error {
	s, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	workflows, err := s.ListWorkflows()
	if err != nil {
		return err
	}
	if len(workflows) == 0 {
		fmt.Println("No workflows stored. Run `deskflow learn` first.")
		return nil
	}

	for _, w := range workflows {
		fmt.Println(summarizeWorkflow(w))
	}
	return nil
}

func runWorkflowsSearch(cmd *cobra.Command, args []string) error {
	s, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	hits, err := s.SearchWorkflows(strings.Join(args, " "))
	if err != nil {
		return err
	}
	if len(hits) == 0 {
		fmt.Println("No matching workflows.")
		return nil
	}

	for _, hit := range hits {
		fmt.Printf("%.2f  %s\n", hit.Score, summarizeWorkflow(hit.Workflow))
	}
	return nil
}

func runWorkflowsShow(cmd *cobra.Command, args []string) error {
	s, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	w, err := s.GetWorkflow(args[0])
	if err != nil {
		return err
	}
	if w == nil {
		return fmt.Errorf("workflow %s not found", args[0])
	}

	fmt.Printf("%s (%s)\n", w.Name, w.ID)
	if w.Description != "" {
		fmt.Printf("  %s\n", w.Description)
	}
	fmt.Printf("  app: %s, status: %s, confidence: %.2f, executions: %d\n",
		w.AppName, w.Status, w.Confidence, w.ExecutionCount)
	if len(w.Tags) > 0 {
		fmt.Printf("  tags: %s\n", strings.Join(w.Tags, ", "))
	}
	if w.ParentID != "" {
		fmt.Printf("  variant of: %s\n", w.ParentID)
	}
	for _, p := range w.Parameters {
		fmt.Printf("  parameter: %s (%s)\n", p.Name, p.Description)
	}

	rate, err := s.SuccessRate(w.ID)
	if err != nil {
		return err
	}
	count, err := s.CountFeedback(w.ID)
	if err != nil {
		return err
	}
	if count > 0 {
		fmt.Printf("  success rate: %.0f%% over %d run(s)\n", rate*100, count)
	}

	fmt.Println("  steps:")
	for i, step := range w.Steps {
		fmt.Printf("    %d. %s\n", i, describeActionStep(step))
	}
	return nil
}

func runWorkflowsDelete(cmd *cobra.Command, args []string) error {
	s, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	w, err := s.GetWorkflow(args[0])
	if err != nil {
		return err
	}
	if w == nil {
		return fmt.Errorf("workflow %s not found", args[0])
	}
	if err := s.DeleteWorkflow(w.ID); err != nil {
		return err
	}
	fmt.Printf("Deleted %s (%s)\n", w.Name, w.ID)
	return nil
}

func summarizeWorkflow(w *workflow.Workflow) string {
	return fmt.Sprintf("%s  %-28s  %-12s  %s  conf=%.2f  runs=%d",
		w.ID, w.Name, w.AppName, w.Status, w.Confidence, w.ExecutionCount)
}

func describeActionStep(step workflow.ActionStep) string {
	var b strings.Builder
	b.WriteString(string(step.Kind))
	if step.Target.Title != "" || step.Target.Role != "" {
		fmt.Fprintf(&b, " %q (%s)", step.Target.Title, step.Target.Role)
	}
	if step.Text != "" {
		fmt.Fprintf(&b, " text=%q", step.Text)
	}
	if step.Point.X != 0 || step.Point.Y != 0 {
		fmt.Fprintf(&b, " @(%.0f,%.0f)", step.Point.X, step.Point.Y)
	}
	if step.Parameterized {
		b.WriteString(" [parameterized]")
	}
	return b.String()
}
