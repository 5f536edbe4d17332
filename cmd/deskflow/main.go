// Command deskflow is the workflow lifecycle engine CLI: learn workflows
// from captured desktop interactions, replay or improvise them against a
// goal, and refine the corpus from execution feedback.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"deskflow/internal/config"
	"deskflow/internal/desktop"
	"deskflow/internal/loop"
	"deskflow/internal/oracle"
	"deskflow/internal/recovery"
	"deskflow/internal/resolve"
	"deskflow/internal/store"
	"deskflow/internal/verify"
)

var (
	// Global flags
	cfgPath string
	verbose bool

	cfg    *config.Config
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "deskflow",
	Short: "deskflow - workflow lifecycle and autonomous execution engine",
	Long: `deskflow learns repeatable workflows from recorded desktop interactions,
replays them with element-based target resolution and honest verification,
improvises toward free-form goals, and refines its corpus from feedback.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgPath)
		if err != nil {
			return err
		}

		logger, err = buildLogger(cfg.Logging)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func buildLogger(lc config.LoggingConfig) (*zap.Logger, error) {
	var zc zap.Config
	if lc.Format == "text" {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
	}

	level := zapcore.InfoLevel
	if err := level.Set(lc.Level); err != nil {
		level = zapcore.InfoLevel
	}
	if verbose {
		level = zapcore.DebugLevel
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

// openStore opens the configured SQLite store; the caller closes it.
func openStore() (*store.LocalStore, error) {
	s, err := store.NewLocalStore(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	return s, nil
}

// newExecutor assembles the execution loop over the configured oracle and
// whatever desktop bridge the platform provides.
func newExecutor(ctx context.Context, s *store.LocalStore, autoConfirm bool) (*loop.Executor, error) {
	client, err := oracle.NewFromConfig(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	platform := desktop.Unsupported{}
	var confirm loop.Confirmer
	if !autoConfirm {
		confirm = loop.ConfirmFunc(promptYesNo)
	}

	return loop.NewExecutor(loop.Deps{
		Config:   cfg,
		Store:    s,
		Resolver: resolve.NewResolver(platform, client, cfg.Oracle.MinVisionConfidence, logger),
		Verifier: verify.NewVerifier(client, logger),
		Decision: client,
		Input:    platform,
		Observer: platform,
		Recovery: recovery.NewManager(s, logger),
		Confirm:  confirm,
		Logger:   logger,
	}), nil
}

// promptYesNo asks on the terminal; anything but y/yes declines.
func promptYesNo(prompt string) bool {
	fmt.Printf("%s [y/N]: ", prompt)
	var answer string
	if _, err := fmt.Scanln(&answer); err != nil {
		return false
	}
	return answer == "y" || answer == "Y" || answer == "yes"
}

// signalContext cancels on SIGINT/SIGTERM so daemons shut down cleanly.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "deskflow.yaml", "Config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")

	workflowsCmd.AddCommand(workflowsListCmd)
	workflowsCmd.AddCommand(workflowsSearchCmd)
	workflowsCmd.AddCommand(workflowsShowCmd)
	workflowsCmd.AddCommand(workflowsDeleteCmd)

	rootCmd.AddCommand(learnCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(playCmd)
	rootCmd.AddCommand(workflowsCmd)
	rootCmd.AddCommand(refineCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(recoveryCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
