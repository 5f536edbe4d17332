package refine

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"deskflow/internal/recovery"
	"deskflow/internal/store"
	"deskflow/internal/workflow"
)

const (
	variantMinFailures     = 3
	maxVariantsPerWorkflow = 3
	variantConfidenceScale = 0.8

	// A coordinate-click variant only makes sense once the target has
	// repeatedly failed to resolve.
	coordinateVariantFailures = 5
)

// generateVariant spawns at most one experimental variant per pass when a
// workflow keeps failing the same way. Returns how many variants were
// created (0 or 1).
func (r *Refiner) generateVariant(w *workflow.Workflow, all []*workflow.Workflow, feedbackCount int, rate float64) (int, error) {
	if w.ParentID != "" {
		return 0, nil // variants do not spawn variants
	}

	feedback, err := r.store.FeedbackForWorkflow(w.ID)
	if err != nil {
		return 0, err
	}

	var failures []*store.ExecutionFeedback
	for _, fb := range feedback {
		if !fb.Success {
			failures = append(failures, fb)
		}
	}
	if len(failures) < variantMinFailures {
		return 0, nil
	}

	existing := countVariants(w.ID, all)
	if existing >= maxVariantsPerWorkflow {
		return 0, nil
	}

	step, code, codeCount := dominantFailure(failures)
	if code == "" {
		return 0, nil
	}

	variant := buildVariant(w, step, code, codeCount)
	if variant == nil {
		return 0, nil
	}
	variant.Name = fmt.Sprintf("%s_v%d", w.Name, existing+1)

	r.logger.Info("Variant generated",
		zap.String("base", w.Name),
		zap.String("variant", variant.Name),
		zap.String("error_code", code),
		zap.Int("failed_step", step))

	if err := r.store.SaveWorkflow(variant); err != nil {
		return 0, err
	}
	return 1, nil
}

func countVariants(parentID string, all []*workflow.Workflow) int {
	n := 0
	for _, w := range all {
		if w.ParentID == parentID {
			n++
		}
	}
	return n
}

// dominantFailure finds the most frequent failing step and, among that
// step's failures, the error code claiming at least half of them.
func dominantFailure(failures []*store.ExecutionFeedback) (step int, code string, count int) {
	stepCounts := make(map[int]int)
	for _, fb := range failures {
		for _, s := range fb.FailedSteps {
			stepCounts[s]++
		}
	}
	step, best := -1, 0
	for s, n := range stepCounts {
		if n > best || (n == best && (step < 0 || s < step)) {
			step, best = s, n
		}
	}
	if step < 0 {
		return -1, "", 0
	}

	codeCounts := make(map[string]int)
	total := 0
	for _, fb := range failures {
		for _, detail := range fb.Errors {
			if detail.StepIndex == step {
				codeCounts[detail.Code]++
				total++
			}
		}
	}
	for c, n := range codeCounts {
		if n*2 >= total && n > count {
			code, count = c, n
		}
	}
	return step, code, count
}

// buildVariant applies the repair strategy for the dominant error code to a
// clone of the workflow. Nil when the step index no longer exists.
func buildVariant(w *workflow.Workflow, step int, code string, codeCount int) *workflow.Workflow {
	if step >= len(w.Steps) {
		return nil
	}

	v := w.Clone()
	v.ID = uuid.NewString()
	v.ParentID = w.ID
	v.Status = workflow.StatusDraft
	v.Confidence = w.Confidence * variantConfidenceScale
	v.ExecutionCount = 0
	v.RefinedFeedback = 0

	switch code {
	case recovery.CodeTargetNotFound:
		if codeCount >= coordinateVariantFailures {
			// Persistent resolution failure: fall back to a bare
			// coordinate click.
			v.Steps[step].Target = workflow.Target{}
		} else {
			v.Steps = insertStep(v.Steps, step, workflow.ActionStep{
				Kind:        workflow.ActionWait,
				WaitSeconds: 0.5,
				Description: "settle before " + strings.TrimSpace(string(w.Steps[step].Kind)),
			})
		}

	case recovery.CodeTimeout:
		factor := v.Steps[step].TimeoutFactor
		if factor <= 0 {
			factor = 1.0
		}
		v.Steps[step].TimeoutFactor = factor * 1.5

	case recovery.CodeInputFailed:
		v.Steps = insertStep(v.Steps, step, workflow.ActionStep{
			Kind:        workflow.ActionActivateApp,
			App:         w.Steps[step].App,
			Description: "refocus before input",
		})

	default:
		return nil
	}
	return v
}

func insertStep(steps []workflow.ActionStep, at int, step workflow.ActionStep) []workflow.ActionStep {
	out := make([]workflow.ActionStep, 0, len(steps)+1)
	out = append(out, steps[:at]...)
	out = append(out, step)
	out = append(out, steps[at:]...)
	return out
}

// SelectBestVariant returns the workflow with the highest success rate
// among an original and its variants, considering only candidates with at
// least three feedbacks. The original wins ties and is returned when no
// candidate qualifies.
func (r *Refiner) SelectBestVariant(originalID string) (*workflow.Workflow, error) {
	original, err := r.store.GetWorkflow(originalID)
	if err != nil {
		return nil, err
	}
	if original == nil {
		return nil, fmt.Errorf("workflow %s not found", originalID)
	}

	all, err := r.store.ListWorkflows()
	if err != nil {
		return nil, err
	}

	candidates := []*workflow.Workflow{original}
	for _, w := range all {
		if w.ParentID == originalID {
			candidates = append(candidates, w)
		}
	}

	best := original
	bestRate := -1.0
	for _, c := range candidates {
		count, err := r.store.CountFeedback(c.ID)
		if err != nil {
			return nil, err
		}
		if count < variantMinFailures {
			continue
		}
		rate, err := r.store.SuccessRate(c.ID)
		if err != nil {
			return nil, err
		}
		if rate > bestRate {
			best, bestRate = c, rate
		}
	}
	return best, nil
}
