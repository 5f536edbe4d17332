package refine

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"deskflow/internal/workflow"
)

const (
	mergeMaxEditDistance = 3
	mergeMinJaccard      = 0.5
)

// mergePass collapses near-duplicate workflows: same app, name edit
// distance within 3 and tag overlap (Jaccard) of at least 0.5. The version
// with more steps survives, absorbing the other's tags, execution history
// and averaged confidence.
func (r *Refiner) mergePass(ctx context.Context) (int, error) {
	workflows, err := r.store.ListWorkflows()
	if err != nil {
		return 0, err
	}

	merged := 0
	removed := make(map[string]bool)

	for i := 0; i < len(workflows); i++ {
		if err := ctx.Err(); err != nil {
			return merged, err
		}
		a := workflows[i]
		if removed[a.ID] || a.ParentID != "" {
			continue
		}
		for j := i + 1; j < len(workflows); j++ {
			b := workflows[j]
			if removed[b.ID] || b.ParentID != "" {
				continue
			}
			if !mergeable(a, b) {
				continue
			}

			survivor, absorbed := a, b
			if len(b.Steps) > len(a.Steps) {
				survivor, absorbed = b, a
			}

			r.logger.Info("Merging duplicate workflows",
				zap.String("kept", survivor.Name),
				zap.String("absorbed", absorbed.Name))

			survivor.Confidence = (survivor.Confidence + absorbed.Confidence) / 2
			survivor.Tags = unionTags(survivor.Tags, absorbed.Tags)
			survivor.ExecutionCount += absorbed.ExecutionCount
			survivor.SourceSessionIDs = append(survivor.SourceSessionIDs, absorbed.SourceSessionIDs...)

			if err := r.store.SaveWorkflow(survivor); err != nil {
				return merged, err
			}
			if err := r.store.DeleteWorkflow(absorbed.ID); err != nil {
				return merged, err
			}
			removed[absorbed.ID] = true
			merged++

			if survivor == b {
				// a was absorbed; stop comparing against it.
				removed[a.ID] = true
				break
			}
		}
	}
	return merged, nil
}

func mergeable(a, b *workflow.Workflow) bool {
	if a.AppName != b.AppName {
		return false
	}
	if editDistance(strings.ToLower(a.Name), strings.ToLower(b.Name)) > mergeMaxEditDistance {
		return false
	}
	return jaccard(a.Tags, b.Tags) >= mergeMinJaccard
}

// editDistance is the Levenshtein distance between two strings.
func editDistance(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}

	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min3(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}

// jaccard computes tag-set overlap, case-insensitively. Two empty sets
// count as identical.
func jaccard(a, b []string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1.0
	}
	setA := make(map[string]bool, len(a))
	for _, t := range a {
		setA[strings.ToLower(t)] = true
	}
	setB := make(map[string]bool, len(b))
	for _, t := range b {
		setB[strings.ToLower(t)] = true
	}

	intersection := 0
	for t := range setA {
		if setB[t] {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 1.0
	}
	return float64(intersection) / float64(union)
}

func unionTags(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, t := range append(append([]string(nil), a...), b...) {
		key := strings.ToLower(t)
		if !seen[key] {
			seen[key] = true
			out = append(out, t)
		}
	}
	return out
}
