// Package learner runs the continuous learning daemon: poll the capture
// directory for fresh interaction data, extract workflows from it, refine
// the corpus on a slower cadence and write periodic markdown reports.
package learner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"deskflow/internal/analyze"
	"deskflow/internal/config"
	"deskflow/internal/extract"
	"deskflow/internal/refine"
)

// reportWindowDays is the trailing window the periodic report covers.
const reportWindowDays = 7

// Learner polls capture data into the extraction pipeline and schedules
// refinement and reporting.
type Learner struct {
	cfg       *config.Config
	extractor *extract.Extractor
	refiner   *refine.Refiner
	analyzer  *analyze.Analyzer
	logger    *zap.Logger

	cycles     int
	lastReport time.Time

	// now is swappable for tests.
	now func() time.Time
}

// NewLearner assembles the daemon from already-constructed components.
func NewLearner(cfg *config.Config, ex *extract.Extractor, rf *refine.Refiner, an *analyze.Analyzer, logger *zap.Logger) *Learner {
	return &Learner{
		cfg:       cfg,
		extractor: ex,
		refiner:   rf,
		analyzer:  an,
		logger:    logger,
		now:       time.Now,
	}
}

// RunOnce performs a single learning cycle: incremental extraction over the
// capture directory, refinement every RefineInterval cycles, and a markdown
// report once per ReportInterval. It returns the number of workflows saved.
func (l *Learner) RunOnce(ctx context.Context) (int, error) {
	l.cycles++

	saved, err := l.extractor.ExtractIncremental(
		ctx,
		l.cfg.Storage.CaptureDir,
		l.cfg.SegmentGap(),
		l.cfg.Learning.SegmentMaxRecords,
	)
	if err != nil {
		return 0, fmt.Errorf("incremental extraction failed: %w", err)
	}
	if saved > 0 {
		l.logger.Info("learned new workflows", zap.Int("count", saved))
	}

	if interval := l.cfg.Learning.RefineInterval; interval > 0 && l.cycles%interval == 0 {
		stats, err := l.refiner.RefineAll(ctx)
		if err != nil {
			return saved, fmt.Errorf("refinement failed: %w", err)
		}
		l.logger.Info("refinement pass complete",
			zap.Int("updated", stats.Updated),
			zap.Int("promoted", stats.Promoted),
			zap.Int("demoted", stats.Demoted),
			zap.Int("variants", stats.Variants),
			zap.Int("merged", stats.Merged))
	}

	if l.now().Sub(l.lastReport) >= l.cfg.ReportInterval() {
		if err := l.WriteReport(); err != nil {
			// Reporting is best-effort; a failed write must not stall learning.
			l.logger.Warn("report write failed", zap.Error(err))
		} else {
			l.lastReport = l.now()
		}
	}

	return saved, nil
}

// WriteReport renders the trailing-window report into the report directory,
// named by date, and returns the write error if any.
func (l *Learner) WriteReport() error {
	report, err := l.analyzer.GenerateReport(reportWindowDays)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(l.cfg.Storage.ReportDir, 0755); err != nil {
		return err
	}

	path := filepath.Join(l.cfg.Storage.ReportDir,
		fmt.Sprintf("report-%s.md", l.now().Format("2006-01-02")))
	if err := os.WriteFile(path, []byte(analyze.RenderMarkdown(report)), 0644); err != nil {
		return err
	}
	l.logger.Info("wrote report", zap.String("path", path))
	return nil
}

// Run polls until the context is cancelled. The first cycle runs immediately
// so a short-lived daemon still learns from whatever is already on disk.
func (l *Learner) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		ticker := time.NewTicker(l.cfg.PollInterval())
		defer ticker.Stop()

		for {
			if _, err := l.RunOnce(ctx); err != nil {
				// Oracle outages and transient IO errors resolve themselves;
				// log and keep polling.
				l.logger.Warn("learning cycle failed", zap.Error(err))
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
			}
		}
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
