package analyze

import (
	"fmt"
	"strings"

	"deskflow/internal/workflow"
)

// RenderMarkdown formats a report for humans. The learner daemon writes this
// to the report directory on its reporting interval.
func RenderMarkdown(r *Report) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Workflow Report (last %d days)\n\n", r.Days)
	fmt.Fprintf(&b, "Generated: %s\n\n", r.GeneratedAt.Format("2006-01-02 15:04"))

	b.WriteString("## Summary\n\n")
	fmt.Fprintf(&b, "- Executions: %d\n", r.TotalExecutions)
	fmt.Fprintf(&b, "- Success rate: %.0f%%\n", r.OverallSuccessRate*100)
	if r.TotalExecutions > 0 {
		fmt.Fprintf(&b, "- Average duration: %s\n", r.AvgDuration.Round(1e8))
	}
	b.WriteString("\n")

	if len(r.StatusDistribution) > 0 {
		b.WriteString("## Workflow status\n\n")
		for _, st := range []workflow.Status{
			workflow.StatusDraft, workflow.StatusTested,
			workflow.StatusActive, workflow.StatusDeprecated,
		} {
			if n := r.StatusDistribution[st]; n > 0 {
				fmt.Fprintf(&b, "- %s: %d\n", st, n)
			}
		}
		b.WriteString("\n")
	}

	if len(r.PerApp) > 0 {
		b.WriteString("## Per application\n\n")
		b.WriteString("| Application | Executions | Success |\n")
		b.WriteString("|---|---|---|\n")
		for _, app := range r.PerApp {
			fmt.Fprintf(&b, "| %s | %d | %.0f%% |\n", app.AppName, app.Executions, app.SuccessRate*100)
		}
		b.WriteString("\n")
	}

	if len(r.TopFailures) > 0 {
		b.WriteString("## Most failing workflows\n\n")
		for i, s := range r.TopFailures {
			fmt.Fprintf(&b, "%d. %s: %d failures of %d runs (%.0f%% success)\n",
				i+1, s.Name, s.Failures, s.Executions, s.SuccessRate*100)
		}
		b.WriteString("\n")
	}

	if len(r.TopUsed) > 0 {
		b.WriteString("## Most used workflows\n\n")
		for i, s := range r.TopUsed {
			fmt.Fprintf(&b, "%d. %s: %d runs (%.0f%% success)\n",
				i+1, s.Name, s.Executions, s.SuccessRate*100)
		}
		b.WriteString("\n")
	}

	b.WriteString("## Suggestions\n\n")
	if len(r.Suggestions) == 0 {
		b.WriteString("Nothing to report.\n")
	} else {
		for _, s := range r.Suggestions {
			target := s.WorkflowName
			if target == "" {
				target = s.AppName
			}
			auto := ""
			if s.AutoApplicable {
				auto = " (auto-applicable)"
			}
			fmt.Fprintf(&b, "- **%s**%s %s: %s\n", s.Priority, auto, target, s.Message)
		}
	}

	return b.String()
}
