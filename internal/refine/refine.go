// Package refine is the feedback-driven improvement pass: confidence
// smoothing, lifecycle transitions, failing-step pruning, variant
// generation, and duplicate merging. It is the only place workflow status
// ever changes.
package refine

import (
	"context"
	"math"

	"go.uber.org/zap"

	"deskflow/internal/store"
	"deskflow/internal/workflow"
)

// Smoothing weights and thresholds.
const (
	confidenceMemory    = 0.7  // weight of the previous confidence
	confidenceTolerance = 0.01 // smaller changes are not persisted
	pruneFailureRate    = 0.8
	pruneMinFeedback    = 3
)

// Stats summarizes one refinement pass.
type Stats struct {
	Updated  int // confidence changes persisted
	Promoted int
	Demoted  int
	Pruned   int // steps removed
	Variants int // variants generated
	Merged   int // workflows merged away
}

// Refiner runs the improvement pass over the stored corpus.
type Refiner struct {
	store  *store.LocalStore
	logger *zap.Logger
}

// NewRefiner creates a refiner.
func NewRefiner(s *store.LocalStore, logger *zap.Logger) *Refiner {
	return &Refiner{store: s, logger: logger}
}

// RefineAll processes every workflow: per-workflow smoothing, lifecycle,
// pruning and variants, then a merge pass over the survivors. Workflows
// with no feedback are untouched, which makes the pass idempotent between
// executions.
func (r *Refiner) RefineAll(ctx context.Context) (Stats, error) {
	var stats Stats

	workflows, err := r.store.ListWorkflows()
	if err != nil {
		return stats, err
	}

	for _, w := range workflows {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		if err := r.refineOne(w, workflows, &stats); err != nil {
			return stats, err
		}
	}

	merged, err := r.mergePass(ctx)
	if err != nil {
		return stats, err
	}
	stats.Merged = merged
	return stats, nil
}

func (r *Refiner) refineOne(w *workflow.Workflow, all []*workflow.Workflow, stats *Stats) error {
	// Deprecation is terminal; deprecated workflows are never refined.
	if w.Status == workflow.StatusDeprecated {
		return nil
	}

	count, err := r.store.CountFeedback(w.ID)
	if err != nil {
		return err
	}
	if count == 0 {
		return nil
	}
	rate, err := r.store.SuccessRate(w.ID)
	if err != nil {
		return err
	}

	dirty := false

	// Confidence smoothing, applied once per feedback batch: the workflow
	// remembers how many feedback rows the last pass consumed, so re-running
	// the pass with no new feedback leaves confidence untouched.
	if count > w.RefinedFeedback {
		smoothed := w.Confidence*confidenceMemory + rate*(1-confidenceMemory)
		if math.Abs(smoothed-w.Confidence) > confidenceTolerance {
			r.logger.Debug("Confidence updated",
				zap.String("workflow", w.Name),
				zap.Float64("old", w.Confidence),
				zap.Float64("new", smoothed))
			w.Confidence = smoothed
			stats.Updated++
		}
		w.RefinedFeedback = count
		dirty = true
	}

	// Lifecycle transition: demotion is checked first and is terminal.
	next := workflow.NextStatus(w.Status, count, rate)
	if next != w.Status {
		if next == workflow.StatusDeprecated {
			stats.Demoted++
			r.logger.Info("Workflow deprecated",
				zap.String("workflow", w.Name),
				zap.Float64("success_rate", rate))
		} else {
			stats.Promoted++
			r.logger.Info("Workflow promoted",
				zap.String("workflow", w.Name),
				zap.String("status", string(next)))
		}
		w.Status = next
		dirty = true
	}

	pruned, err := r.pruneFailingSteps(w)
	if err != nil {
		return err
	}
	if pruned > 0 {
		stats.Pruned += pruned
		dirty = true
	}

	if w.Status != workflow.StatusDeprecated {
		made, err := r.generateVariant(w, all, count, rate)
		if err != nil {
			return err
		}
		stats.Variants += made
	}

	if dirty {
		return r.store.SaveWorkflow(w)
	}
	return nil
}

// pruneFailingSteps drops steps that fail in at least 80% of executions
// once three or more feedbacks exist. A workflow is never pruned to zero
// steps.
func (r *Refiner) pruneFailingSteps(w *workflow.Workflow) (int, error) {
	count, err := r.store.CountFeedback(w.ID)
	if err != nil || count < pruneMinFeedback {
		return 0, err
	}
	rates, err := r.store.StepFailureRates(w.ID)
	if err != nil || len(rates) == 0 {
		return 0, err
	}

	kept := w.Steps[:0]
	pruned := 0
	for i, s := range w.Steps {
		if rates[i] >= pruneFailureRate && len(w.Steps)-pruned > 1 {
			r.logger.Info("Pruning failing step",
				zap.String("workflow", w.Name),
				zap.Int("step", i),
				zap.Float64("failure_rate", rates[i]))
			pruned++
			continue
		}
		kept = append(kept, s)
	}
	w.Steps = kept
	return pruned, nil
}
