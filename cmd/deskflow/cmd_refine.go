package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"deskflow/internal/analyze"
	"deskflow/internal/recovery"
	"deskflow/internal/refine"
)

var reportDays int

// refineCmd runs one improvement pass over the stored corpus.
var refineCmd = &cobra.Command{
	Use:   "refine",
	Short: "Run one refinement pass over the workflow corpus",
	Long: `Re-scores confidence from execution feedback, moves workflows through
their lifecycle, prunes consistently failing steps, generates repair
variants for failure patterns and merges near-duplicates.`,
	RunE: runRefine,
}

// reportCmd prints the analysis report for a trailing window.
var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Print the execution report for the trailing window",
	RunE:  runReport,
}

// recoveryCmd lists learned recovery patterns.
var recoveryCmd = &cobra.Command{
	Use:   "recovery",
	Short: "List learned error-recovery patterns",
	RunE:  runRecovery,
}

func runRefine(cmd *cobra.Command, args []string) error {
	s, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	ctx, cancel := signalContext()
	defer cancel()

	stats, err := refine.NewRefiner(s, logger).RefineAll(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Refined: %d updated, %d promoted, %d demoted, %d step(s) pruned, %d variant(s), %d merged\n",
		stats.Updated, stats.Promoted, stats.Demoted, stats.Pruned, stats.Variants, stats.Merged)
	return nil
}

func runReport(cmd *cobra.Command, args []string) error {
	s, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	report, err := analyze.NewAnalyzer(s, logger).GenerateReport(reportDays)
	if err != nil {
		return err
	}
	_, err = os.Stdout.WriteString(analyze.RenderMarkdown(report))
	return err
}

func runRecovery(cmd *cobra.Command, args []string) error {
	s, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	patterns, err := recovery.NewManager(s, logger).ReliablePatterns()
	if err != nil {
		return err
	}
	if len(patterns) == 0 {
		fmt.Println("No reliable recovery patterns learned yet.")
		return nil
	}

	for _, p := range patterns {
		scope := p.AppName
		if scope == "" {
			scope = "(any app)"
		}
		fmt.Printf("%s in %s after %s: %s (%.0f%% over %d attempt(s))\n",
			p.ErrorCode, scope, p.FailedAction, p.Strategy, p.SuccessRate()*100, p.Attempts)
	}
	return nil
}

func init() {
	reportCmd.Flags().IntVar(&reportDays, "days", 7, "Trailing window in days")
}
