// Package extract runs the learning pipeline's back half: it asks the
// decision oracle whether a segmented session contains a reusable workflow
// and, when it does, converts the session's records into a persisted draft.
package extract

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"deskflow/internal/capture"
	"deskflow/internal/oracle"
	"deskflow/internal/segment"
	"deskflow/internal/store"
	"deskflow/internal/workflow"
)

// Extractor turns sessions into stored draft workflows.
type Extractor struct {
	oracle        oracle.Decision
	store         *store.LocalStore
	minConfidence float64
	logger        *zap.Logger
}

// NewExtractor creates an extractor. Candidates whose oracle confidence
// falls below minConfidence are discarded.
func NewExtractor(o oracle.Decision, s *store.LocalStore, minConfidence float64, logger *zap.Logger) *Extractor {
	return &Extractor{oracle: o, store: s, minConfidence: minConfidence, logger: logger}
}

// Extract judges one session. Returns (nil, nil) when the session is empty,
// the oracle sees no workflow, the confidence is too low, or the oracle is
// unavailable; extraction never invents a workflow the oracle did not
// confirm. The returned workflow is built but not yet saved.
func (e *Extractor) Extract(ctx context.Context, sess *segment.Session) (*workflow.Workflow, error) {
	if sess == nil || len(sess.Records) == 0 {
		return nil, nil
	}

	summary, err := e.oracle.SummarizeSession(ctx, sess.AppName, FormatActionLog(sess))
	if err != nil {
		if oracle.IsUnavailable(err) {
			e.logger.Warn("Session skipped, oracle unavailable",
				zap.String("session", sess.ID), zap.Error(err))
			return nil, nil
		}
		return nil, fmt.Errorf("failed to summarize session %s: %w", sess.ID, err)
	}

	if !summary.IsWorkflow {
		e.logger.Debug("Session is not a workflow", zap.String("session", sess.ID))
		return nil, nil
	}
	if summary.Confidence < e.minConfidence {
		e.logger.Info("Workflow candidate below confidence floor",
			zap.String("name", summary.Name),
			zap.Float64("confidence", summary.Confidence),
			zap.Float64("floor", e.minConfidence))
		return nil, nil
	}

	steps := convertRecords(sess.Records)
	if len(steps) == 0 {
		return nil, nil
	}

	params := make([]workflow.Parameter, 0, len(summary.Parameters))
	for _, p := range summary.Parameters {
		params = append(params, workflow.Parameter{Name: p.Name, Description: p.Description})
	}

	return &workflow.Workflow{
		ID:               uuid.NewString(),
		Name:             strings.ToLower(strings.TrimSpace(summary.Name)),
		Description:      summary.Description,
		Steps:            steps,
		AppName:          sess.AppName,
		Tags:             summary.Tags,
		Parameters:       params,
		Confidence:       summary.Confidence,
		SourceSessionIDs: []string{sess.ID},
		CreatedAt:        time.Now(),
		Status:           workflow.StatusDraft,
	}, nil
}

// Save persists a candidate, deduplicating by name and app. When a
// duplicate exists the higher-confidence version wins; the survivor keeps
// the established identity, status and execution history.
func (e *Extractor) Save(w *workflow.Workflow) (bool, error) {
	dup, err := e.store.FindDuplicate(w.Name, w.AppName)
	if err != nil {
		return false, err
	}
	if dup != nil {
		if w.Confidence <= dup.Confidence {
			e.logger.Debug("Duplicate candidate discarded",
				zap.String("name", w.Name),
				zap.Float64("existing_confidence", dup.Confidence))
			return false, nil
		}
		w.ID = dup.ID
		w.Status = dup.Status
		w.ExecutionCount = dup.ExecutionCount
		w.CreatedAt = dup.CreatedAt
		w.SourceSessionIDs = append(dup.SourceSessionIDs, w.SourceSessionIDs...)
	}
	if err := e.store.SaveWorkflow(w); err != nil {
		return false, err
	}
	e.logger.Info("Workflow saved",
		zap.String("id", w.ID),
		zap.String("name", w.Name),
		zap.String("app", w.AppName),
		zap.Float64("confidence", w.Confidence))
	return true, nil
}

// ExtractSessions runs Extract+Save over a batch of sessions and returns
// how many workflows were stored.
func (e *Extractor) ExtractSessions(ctx context.Context, sessions []*segment.Session) (int, error) {
	saved := 0
	for _, sess := range sessions {
		if err := ctx.Err(); err != nil {
			return saved, err
		}
		w, err := e.Extract(ctx, sess)
		if err != nil {
			return saved, err
		}
		if w == nil {
			continue
		}
		ok, err := e.Save(w)
		if err != nil {
			return saved, err
		}
		if ok {
			saved++
		}
	}
	return saved, nil
}

// ExtractArchive processes every capture file in dir in one pass.
func (e *Extractor) ExtractArchive(ctx context.Context, dir string, gap time.Duration, maxRecords int) (int, error) {
	records, err := capture.ScanDir(dir, e.logger)
	if err != nil {
		return 0, err
	}
	capture.SortByTimestamp(records)
	sessions := segment.SegmentAll(records, gap, maxRecords, e.logger)
	return e.ExtractSessions(ctx, sessions)
}

// ExtractIncremental processes only capture files not yet listed in the
// directory's processing ledger, then records them as processed. Files are
// marked processed even when their session yields no workflow, so a quiet
// session is not re-judged every cycle.
func (e *Extractor) ExtractIncremental(ctx context.Context, dir string, gap time.Duration, maxRecords int) (int, error) {
	ledger, err := LoadLedger(dir)
	if err != nil {
		return 0, err
	}

	records, err := capture.ScanDir(dir, e.logger)
	if err != nil {
		return 0, err
	}

	fresh := records[:0]
	for _, r := range records {
		if !ledger.Processed(r.SourcePath) {
			fresh = append(fresh, r)
		}
	}
	if len(fresh) == 0 {
		return 0, nil
	}
	capture.SortByTimestamp(fresh)

	sessions := segment.SegmentAll(fresh, gap, maxRecords, e.logger)
	saved, err := e.ExtractSessions(ctx, sessions)
	if err != nil {
		return saved, err
	}

	for _, r := range fresh {
		if err := ledger.Mark(r.SourcePath); err != nil {
			return saved, err
		}
	}
	return saved, nil
}

// convertRecords maps capture records onto workflow steps, dropping record
// kinds that carry no replayable action.
func convertRecords(records []*capture.InteractionRecord) []workflow.ActionStep {
	steps := make([]workflow.ActionStep, 0, len(records))
	for _, r := range records {
		if step, ok := convertRecord(r); ok {
			steps = append(steps, step)
		}
	}
	return steps
}

func convertRecord(r *capture.InteractionRecord) (workflow.ActionStep, bool) {
	step := workflow.ActionStep{
		App: workflow.AppRef{Name: r.App.Name, BundleID: r.App.BundleID},
		Target: workflow.Target{
			Role:        r.Target.Role,
			Title:       r.Target.Name,
			Value:       r.Target.Value,
			Description: r.Target.Description,
			Identifier:  r.Target.Identifier,
		},
		Point:          workflow.Point{X: r.X, Y: r.Y},
		ScreenshotPath: r.ScreenshotPath,
	}

	switch r.Kind {
	case "click":
		step.Kind = workflow.ActionClick
	case "right_click":
		step.Kind = workflow.ActionRightClick
	case "text_input":
		step.Kind = workflow.ActionTypeText
		step.Text = r.Text
		step.KeyEvents = make([]workflow.KeyEvent, len(r.KeyEvents))
		for i, ev := range r.KeyEvents {
			step.KeyEvents[i] = workflow.KeyEvent{KeyCode: ev.KeyCode, Flags: ev.Flags}
		}
	case "key_shortcut":
		step.Kind = workflow.ActionPressShortcut
		step.KeyCode = r.KeyCode
		step.Flags = r.Flags
		step.Modifiers = r.Modifiers
	case "key_input":
		step.Kind = workflow.ActionKeyInput
		step.KeyCode = r.KeyCode
		step.Flags = r.Flags
	default:
		return workflow.ActionStep{}, false
	}
	return step, true
}

// FormatActionLog renders a session as the human-readable action log the
// summarize prompt consumes.
func FormatActionLog(sess *segment.Session) string {
	var b strings.Builder
	for _, r := range sess.Records {
		ts := r.Timestamp
		if t, ok := r.Time(); ok {
			ts = t.Format("15:04:05")
		}

		switch r.Kind {
		case "click", "right_click":
			target := r.Target.Name
			if target == "" {
				target = r.Target.Description
			}
			if target == "" {
				target = "(unnamed)"
			}
			fmt.Fprintf(&b, "[%s] %s %q", ts, r.Kind, target)
			if r.Target.Role != "" {
				fmt.Fprintf(&b, " (%s)", r.Target.Role)
			}
			fmt.Fprintf(&b, " at (%.0f, %.0f)", r.X, r.Y)
		case "text_input":
			fmt.Fprintf(&b, "[%s] typed %q", ts, r.Text)
		case "key_shortcut":
			fmt.Fprintf(&b, "[%s] shortcut %s", ts, shortcutLabel(r))
		case "key_input":
			fmt.Fprintf(&b, "[%s] key %d", ts, r.KeyCode)
		default:
			continue
		}
		if r.WindowName != "" {
			fmt.Fprintf(&b, " in window %q", r.WindowName)
		}
		b.WriteByte('\n')
	}
	return b.String()
}

func shortcutLabel(r *capture.InteractionRecord) string {
	parts := append([]string(nil), r.Modifiers...)
	if r.Key != "" {
		parts = append(parts, r.Key)
	} else {
		parts = append(parts, fmt.Sprintf("keycode %d", r.KeyCode))
	}
	return strings.Join(parts, "+")
}
