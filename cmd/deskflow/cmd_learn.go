package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"deskflow/internal/analyze"
	"deskflow/internal/capture"
	"deskflow/internal/extract"
	"deskflow/internal/learner"
	"deskflow/internal/oracle"
	"deskflow/internal/refine"
)

var (
	learnWatch bool
	learnAll   bool
)

// learnCmd extracts workflows from captured interaction data.
var learnCmd = &cobra.Command{
	Use:   "learn",
	Short: "Extract workflows from captured desktop interactions",
	Long: `Reads capture JSON from the configured capture directory, segments it
into sessions and asks the decision oracle whether each session is a
repeatable workflow. Already-processed capture files are skipped unless
--all forces a full re-scan.

With --watch, keeps running: new capture files trigger a learning cycle,
refinement runs on its configured cadence and reports are written daily.`,
	RunE: runLearn,
}

func runLearn(cmd *cobra.Command, args []string) error {
	s, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	ctx, cancel := signalContext()
	defer cancel()

	client, err := oracle.NewFromConfig(ctx, cfg, logger)
	if err != nil {
		return err
	}
	extractor := extract.NewExtractor(client, s, cfg.Learning.MinConfidence, logger)

	if !learnWatch {
		var saved int
		if learnAll {
			saved, err = extractor.ExtractArchive(ctx, cfg.Storage.CaptureDir,
				cfg.SegmentGap(), cfg.Learning.SegmentMaxRecords)
		} else {
			saved, err = extractor.ExtractIncremental(ctx, cfg.Storage.CaptureDir,
				cfg.SegmentGap(), cfg.Learning.SegmentMaxRecords)
		}
		if err != nil {
			return err
		}
		fmt.Printf("Learned %d workflow(s)\n", saved)
		return nil
	}

	l := learner.NewLearner(cfg, extractor,
		refine.NewRefiner(s, logger),
		analyze.NewAnalyzer(s, logger),
		logger)

	watcher, err := capture.NewWatcher(cfg.Storage.CaptureDir, 0, logger)
	if err != nil {
		return fmt.Errorf("failed to watch capture directory: %w", err)
	}
	if err := watcher.Start(ctx); err != nil {
		return err
	}
	logger.Info("learning daemon started",
		zap.String("capture_dir", cfg.Storage.CaptureDir),
		zap.Duration("poll_interval", cfg.PollInterval()))

	g, ctx := errgroup.WithContext(ctx)

	// Poll loop: extraction, refinement cadence, report cadence.
	g.Go(func() error { return l.Run(ctx) })

	// Watch loop: a freshly written capture file triggers an immediate
	// cycle instead of waiting out the poll interval.
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case _, ok := <-watcher.Records():
				if !ok {
					return nil
				}
				if _, err := l.RunOnce(ctx); err != nil {
					logger.Warn("learning cycle failed", zap.Error(err))
				}
			}
		}
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func init() {
	learnCmd.Flags().BoolVar(&learnWatch, "watch", false, "Keep running and learn as captures arrive")
	learnCmd.Flags().BoolVar(&learnAll, "all", false, "Re-scan every capture file, not just unprocessed ones")
}
