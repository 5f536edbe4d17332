// Package resolve locates the on-screen element a recorded action step
// refers to. Resolution degrades through a fixed tier order: attribute
// matches against the element under the recorded coordinates, an app-wide
// rescan of the accessibility tree, the raw recorded coordinates, and
// finally a vision estimate from the current screenshot.
package resolve

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"deskflow/internal/desktop"
	"deskflow/internal/oracle"
	"deskflow/internal/workflow"
)

// Method names how a target was resolved, recorded for diagnostics and
// recovery-pattern learning.
type Method string

const (
	MethodIdentifier         Method = "identifier"
	MethodValue              Method = "value"
	MethodDescription        Method = "description"
	MethodTitleRole          Method = "title_role"
	MethodRole               Method = "role"
	MethodAppScan            Method = "app_scan"
	MethodCoordinateFallback Method = "coordinate_fallback"
	MethodVision             Method = "vision"
)

// Resolution is where to act and how the location was found.
type Resolution struct {
	Point  desktop.Point
	Method Method
}

// Options tune a single Resolve call.
type Options struct {
	BundleID       string
	ScreenshotPath string

	// DryRun suppresses the vision tier so no oracle calls happen.
	DryRun bool
}

// Resolver locates step targets. Vision may be nil, which disables the
// last tier.
type Resolver struct {
	ax            desktop.Accessibility
	vision        oracle.Vision
	minConfidence float64
	logger        *zap.Logger
}

// NewResolver creates a resolver. minConfidence gates vision estimates.
func NewResolver(ax desktop.Accessibility, vision oracle.Vision, minConfidence float64, logger *zap.Logger) *Resolver {
	return &Resolver{ax: ax, vision: vision, minConfidence: minConfidence, logger: logger}
}

// Resolve finds the current screen position for a step's target. Keyboard
// steps never reach here; callers dispatch them directly.
//
// A coordinate fallback is still returned when a later vision attempt
// fails, so callers only see an error when every tier is exhausted.
func (r *Resolver) Resolve(ctx context.Context, step workflow.ActionStep, opts Options) (Resolution, error) {
	recorded := desktop.Point{X: step.Point.X, Y: step.Point.Y}
	hasPoint := step.Point != workflow.Point{}

	// Tiers 1-5: the element currently under the recorded coordinates.
	if hasPoint && r.ax != nil {
		if el, ok := r.ax.ElementAt(recorded); ok {
			if method, ok := matchTier(el, step.Target, 5); ok {
				return Resolution{Point: clickPoint(el, recorded), Method: method}, nil
			}
		}
	}

	// Tier 6: rescan the application tree for the strongest attribute
	// match. Bare-role matches are excluded here; a role-only scan across
	// a whole app window hits the wrong element too often.
	if r.ax != nil && opts.BundleID != "" && !step.Target.IsEmpty() {
		if root, ok := r.ax.AppRoot(opts.BundleID); ok {
			if el, ok := scanTree(root, step.Target); ok {
				if frame, ok := el.Frame(); ok {
					r.logger.Debug("Target relocated by app scan",
						zap.String("role", el.Role()), zap.String("title", el.Title()))
					return Resolution{Point: frame.Center(), Method: MethodAppScan}, nil
				}
			}
		}
	}

	// Tier 7: trust the recorded coordinates.
	fallback := Resolution{}
	if hasPoint {
		fallback = Resolution{Point: recorded, Method: MethodCoordinateFallback}
	}

	// Tier 8: vision estimate, promoted over the coordinate fallback when
	// confident enough.
	if r.vision != nil && !opts.DryRun && opts.ScreenshotPath != "" {
		desc := describeTarget(step)
		if desc != "" {
			est, err := r.vision.EstimateTarget(ctx, opts.ScreenshotPath, desc)
			switch {
			case err != nil:
				r.logger.Debug("Vision estimate unavailable", zap.Error(err))
			case est.Confidence >= r.minConfidence:
				return Resolution{Point: desktop.Point{X: est.X, Y: est.Y}, Method: MethodVision}, nil
			default:
				r.logger.Debug("Vision estimate below confidence floor",
					zap.Float64("confidence", est.Confidence))
			}
		}
	}

	if fallback.Method == "" {
		return Resolution{}, fmt.Errorf("no resolution for target %+v", step.Target)
	}
	return fallback, nil
}

// matchTier checks an element against the recorded target, strongest
// attribute first. maxTier limits how weak a match is accepted.
func matchTier(el desktop.Element, t workflow.Target, maxTier int) (Method, bool) {
	if t.Identifier != "" && el.Identifier() == t.Identifier {
		return MethodIdentifier, true
	}
	if maxTier >= 2 && t.Value != "" && el.Value() == t.Value {
		return MethodValue, true
	}
	if maxTier >= 3 && t.Description != "" && el.Description() == t.Description {
		return MethodDescription, true
	}
	if maxTier >= 4 && t.Title != "" && t.Role != "" &&
		el.Title() == t.Title && el.Role() == t.Role {
		return MethodTitleRole, true
	}
	if maxTier >= 5 && t.Role != "" && el.Role() == t.Role {
		return MethodRole, true
	}
	return "", false
}

// scanTree walks the tree breadth-first and returns the element with the
// strongest attribute match (tiers 1-4), preferring stronger tiers over
// tree order.
func scanTree(root desktop.Element, t workflow.Target) (desktop.Element, bool) {
	var best desktop.Element
	bestTier := 5

	queue := []desktop.Element{root}
	for len(queue) > 0 {
		el := queue[0]
		queue = queue[1:]

		if method, ok := matchTier(el, t, 4); ok {
			tier := tierOf(method)
			if tier < bestTier {
				best, bestTier = el, tier
				if tier == 1 {
					break
				}
			}
		}
		queue = append(queue, el.Children()...)
	}
	return best, best != nil
}

func tierOf(m Method) int {
	switch m {
	case MethodIdentifier:
		return 1
	case MethodValue:
		return 2
	case MethodDescription:
		return 3
	case MethodTitleRole:
		return 4
	case MethodRole:
		return 5
	}
	return 6
}

// clickPoint prefers the matched element's current center over the
// recorded coordinates, which may point at the element's old location.
func clickPoint(el desktop.Element, recorded desktop.Point) desktop.Point {
	if frame, ok := el.Frame(); ok {
		return frame.Center()
	}
	return recorded
}

// describeTarget builds the natural-language description the vision tier
// sends to the oracle.
func describeTarget(step workflow.ActionStep) string {
	if step.Description != "" {
		return step.Description
	}
	t := step.Target
	var parts []string
	if t.Title != "" {
		parts = append(parts, fmt.Sprintf("%q", t.Title))
	}
	if t.Description != "" {
		parts = append(parts, t.Description)
	}
	if t.Role != "" {
		parts = append(parts, "with role "+t.Role)
	}
	if t.Value != "" {
		parts = append(parts, "showing value "+fmt.Sprintf("%q", t.Value))
	}
	if len(parts) == 0 {
		return ""
	}
	return "UI element " + strings.Join(parts, " ")
}
