// Package analyze aggregates execution feedback into reports, regression
// signals and prioritized improvement suggestions. It only reads; acting on
// the findings is the refiner's job.
package analyze

import (
	"sort"
	"time"

	"go.uber.org/zap"

	"deskflow/internal/store"
	"deskflow/internal/workflow"
)

// Regression detection window sizes and threshold.
const (
	regressionWindow    = 10
	regressionMinTotal  = 2 * regressionWindow
	regressionThreshold = 0.2
)

// Suggestion thresholds.
const (
	lowSuccessMinRuns = 3
	lowSuccessMaxRate = 0.5
	lowAppMinRuns     = 5
	lowAppMaxRate     = 0.3
)

// Priority ranks a suggestion.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
)

// Suggestion is one prioritized improvement recommendation.
type Suggestion struct {
	Kind           string // low_success_rate, regression, low_app_success, deprecated
	WorkflowID     string
	WorkflowName   string
	AppName        string
	Priority       Priority
	AutoApplicable bool
	Message        string
}

// WorkflowStat is one row of a usage or failure ranking.
type WorkflowStat struct {
	WorkflowID  string
	Name        string
	Executions  int
	Failures    int
	SuccessRate float64
}

// AppStat aggregates feedback per application.
type AppStat struct {
	AppName     string
	Executions  int
	SuccessRate float64
}

// Report is the aggregate view over a trailing window of feedback.
type Report struct {
	Days               int
	GeneratedAt        time.Time
	TotalExecutions    int
	OverallSuccessRate float64
	AvgDuration        time.Duration
	PerApp             []AppStat
	TopFailures        []WorkflowStat
	TopUsed            []WorkflowStat
	StatusDistribution map[workflow.Status]int
	Suggestions        []Suggestion
}

// Analyzer computes reports and suggestions from the store.
type Analyzer struct {
	store  *store.LocalStore
	logger *zap.Logger
}

// NewAnalyzer creates an analyzer.
func NewAnalyzer(s *store.LocalStore, logger *zap.Logger) *Analyzer {
	return &Analyzer{store: s, logger: logger}
}

// GenerateReport aggregates the trailing window. Feedback whose workflow
// has since been deleted still counts; its rows fall back to the raw ID.
func (a *Analyzer) GenerateReport(days int) (*Report, error) {
	cutoff := time.Now().AddDate(0, 0, -days)
	feedback, err := a.store.FeedbackSince(cutoff)
	if err != nil {
		return nil, err
	}

	workflows, err := a.store.ListWorkflows()
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*workflow.Workflow, len(workflows))
	for _, w := range workflows {
		byID[w.ID] = w
	}

	report := &Report{
		Days:               days,
		GeneratedAt:        time.Now(),
		TotalExecutions:    len(feedback),
		StatusDistribution: make(map[workflow.Status]int),
	}
	for _, w := range workflows {
		report.StatusDistribution[w.Status]++
	}

	successes := 0
	var totalDuration time.Duration
	perWorkflow := make(map[string]*WorkflowStat)
	type appAgg struct{ total, ok int }
	perApp := make(map[string]*appAgg)

	for _, fb := range feedback {
		if fb.Success {
			successes++
		}
		totalDuration += fb.Duration

		// Autonomous attempts have no workflow to rank; they still count
		// toward the overall and per-app rates.
		if fb.WorkflowID != "" {
			stat, ok := perWorkflow[fb.WorkflowID]
			if !ok {
				stat = &WorkflowStat{WorkflowID: fb.WorkflowID, Name: fb.WorkflowID}
				if w := byID[fb.WorkflowID]; w != nil {
					stat.Name = w.Name
				}
				perWorkflow[fb.WorkflowID] = stat
			}
			stat.Executions++
			if !fb.Success {
				stat.Failures++
			}
		}

		appName := fb.AppName
		if appName == "" {
			if w := byID[fb.WorkflowID]; w != nil {
				appName = w.AppName
			} else {
				appName = "(unknown)"
			}
		}
		agg, ok := perApp[appName]
		if !ok {
			agg = &appAgg{}
			perApp[appName] = agg
		}
		agg.total++
		if fb.Success {
			agg.ok++
		}
	}

	if len(feedback) > 0 {
		report.OverallSuccessRate = float64(successes) / float64(len(feedback))
		report.AvgDuration = totalDuration / time.Duration(len(feedback))
	}

	stats := make([]WorkflowStat, 0, len(perWorkflow))
	for _, s := range perWorkflow {
		s.SuccessRate = float64(s.Executions-s.Failures) / float64(s.Executions)
		stats = append(stats, *s)
	}

	report.TopFailures = topBy(stats, func(a, b WorkflowStat) bool {
		if a.Failures != b.Failures {
			return a.Failures > b.Failures
		}
		return a.Name < b.Name
	}, func(s WorkflowStat) bool { return s.Failures > 0 })

	report.TopUsed = topBy(stats, func(a, b WorkflowStat) bool {
		if a.Executions != b.Executions {
			return a.Executions > b.Executions
		}
		return a.Name < b.Name
	}, func(s WorkflowStat) bool { return s.Executions > 0 })

	for app, agg := range perApp {
		report.PerApp = append(report.PerApp, AppStat{
			AppName:     app,
			Executions:  agg.total,
			SuccessRate: float64(agg.ok) / float64(agg.total),
		})
	}
	sort.Slice(report.PerApp, func(i, j int) bool {
		return report.PerApp[i].AppName < report.PerApp[j].AppName
	})

	report.Suggestions, err = a.SuggestImprovements()
	if err != nil {
		return nil, err
	}
	return report, nil
}

func topBy(stats []WorkflowStat, less func(a, b WorkflowStat) bool, keep func(WorkflowStat) bool) []WorkflowStat {
	var out []WorkflowStat
	for _, s := range stats {
		if keep(s) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
	if len(out) > 5 {
		out = out[:5]
	}
	return out
}

// DetectRegression compares the most recent ten executions against the ten
// before them. Fewer than twenty feedbacks is insufficient evidence and
// never a regression.
func (a *Analyzer) DetectRegression(workflowID string) (bool, error) {
	feedback, err := a.store.FeedbackForWorkflow(workflowID)
	if err != nil {
		return false, err
	}
	if len(feedback) < regressionMinTotal {
		return false, nil
	}

	recent := feedback[len(feedback)-regressionWindow:]
	prior := feedback[len(feedback)-regressionMinTotal : len(feedback)-regressionWindow]

	drop := rateOf(prior) - rateOf(recent)
	return drop >= regressionThreshold, nil
}

func rateOf(feedback []*store.ExecutionFeedback) float64 {
	if len(feedback) == 0 {
		return 0
	}
	ok := 0
	for _, fb := range feedback {
		if fb.Success {
			ok++
		}
	}
	return float64(ok) / float64(len(feedback))
}

// SuggestImprovements applies the four suggestion rules across the corpus:
// high-failure workflows (auto-applicable by the refiner), regressions,
// low per-app success, and deprecated workflows.
func (a *Analyzer) SuggestImprovements() ([]Suggestion, error) {
	workflows, err := a.store.ListWorkflows()
	if err != nil {
		return nil, err
	}

	var suggestions []Suggestion
	type appAgg struct{ total, ok int }
	perApp := make(map[string]*appAgg)

	for _, w := range workflows {
		count, err := a.store.CountFeedback(w.ID)
		if err != nil {
			return nil, err
		}
		rate, err := a.store.SuccessRate(w.ID)
		if err != nil {
			return nil, err
		}

		agg, ok := perApp[w.AppName]
		if !ok {
			agg = &appAgg{}
			perApp[w.AppName] = agg
		}
		agg.total += count
		agg.ok += int(rate*float64(count) + 0.5)

		if count >= lowSuccessMinRuns && rate <= lowSuccessMaxRate {
			suggestions = append(suggestions, Suggestion{
				Kind:           "low_success_rate",
				WorkflowID:     w.ID,
				WorkflowName:   w.Name,
				AppName:        w.AppName,
				Priority:       PriorityHigh,
				AutoApplicable: true,
				Message:        "fails at least half the time; refinement can prune or variant the failing step",
			})
		}

		regressed, err := a.DetectRegression(w.ID)
		if err != nil {
			return nil, err
		}
		if regressed {
			suggestions = append(suggestions, Suggestion{
				Kind:         "regression",
				WorkflowID:   w.ID,
				WorkflowName: w.Name,
				AppName:      w.AppName,
				Priority:     PriorityHigh,
				Message:      "success rate dropped sharply in the last ten executions; the target application may have changed",
			})
		}

		if w.Status == workflow.StatusDeprecated {
			suggestions = append(suggestions, Suggestion{
				Kind:         "deprecated",
				WorkflowID:   w.ID,
				WorkflowName: w.Name,
				AppName:      w.AppName,
				Priority:     PriorityMedium,
				Message:      "deprecated; re-record the workflow or delete it",
			})
		}
	}

	appNames := make([]string, 0, len(perApp))
	for app := range perApp {
		appNames = append(appNames, app)
	}
	sort.Strings(appNames)
	for _, app := range appNames {
		agg := perApp[app]
		if agg.total >= lowAppMinRuns && float64(agg.ok)/float64(agg.total) < lowAppMaxRate {
			suggestions = append(suggestions, Suggestion{
				Kind:     "low_app_success",
				AppName:  app,
				Priority: PriorityHigh,
				Message:  "most executions in this application fail; its UI may have changed broadly",
			})
		}
	}

	sort.SliceStable(suggestions, func(i, j int) bool {
		return priorityRank(suggestions[i].Priority) < priorityRank(suggestions[j].Priority)
	})
	return suggestions, nil
}

func priorityRank(p Priority) int {
	if p == PriorityHigh {
		return 0
	}
	return 1
}
