package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"tcwright/internal/config"
	"tcwright/internal/generate"
	"tcwright/internal/server"
	"tcwright/internal/store"
	"tcwright/internal/trace"
)

var (
	// Global flags
	verbose    bool
	configPath string

	// trace flags
	traceCases    string
	traceOut      string
	traceWatch    bool
	traceStrict   bool
	traceDebounce time.Duration

	// Logger
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "tcwright",
	Short: "tcwright - test case authoring backend and traceability builder",
	Long: `tcwright serves the QA test-case authoring API (generate, lint,
id suggestion, publish-to-merge-request) and builds the traceability
matrix from a tree of case files.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		config := zap.NewProductionConfig()
		if verbose {
			config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = config.Build()
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

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the authoring API",
	Long: `Starts the HTTP backend. With GitLab credentials configured the
publish flow opens real merge requests; without them it writes to a local
scratch directory so the UI keeps working offline.`,
	RunE: runServe,
}

var traceCmd = &cobra.Command{
	Use:   "trace",
	Short: "Build the traceability matrix",
	Long: `Scans the case tree and writes the traceability matrix as CSV,
XLSX, HTML, stats and warnings. With --watch it stays running and
rebuilds whenever the tree changes.`,
	RunE: runTrace,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "tcwright.yaml", "Config file path")

	traceCmd.Flags().StringVar(&traceCases, "cases", "", "Case tree root (default from config)")
	traceCmd.Flags().StringVar(&traceOut, "out", "", "Output directory (default from config)")
	traceCmd.Flags().BoolVar(&traceWatch, "watch", false, "Rebuild on file changes")
	traceCmd.Flags().BoolVar(&traceStrict, "strict", false, "Exit non-zero when warnings exist")
	traceCmd.Flags().DurationVar(&traceDebounce, "debounce", 500*time.Millisecond, "Watch rebuild debounce window")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(traceCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var st store.Store
	if cfg.GitLab.Configured() {
		gc := store.DefaultGitLabConfig(cfg.GitLab.BaseURL, cfg.GitLab.ProjectID, cfg.GitLab.Token)
		if cfg.GitLab.DefaultBranch != "" {
			gc.DefaultBranch = cfg.GitLab.DefaultBranch
		}
		if d, err := time.ParseDuration(cfg.GitLab.Timeout); err == nil && d > 0 {
			gc.Timeout = d
		}
		st = store.NewGitLab(gc, logger)
		logger.Info("using GitLab store",
			zap.String("base_url", cfg.GitLab.BaseURL),
			zap.String("project", cfg.GitLab.ProjectID))
	} else {
		st = store.NewLocal(cfg.Server.ScratchDir, logger)
		logger.Info("GitLab not configured, using local scratch store",
			zap.String("dir", cfg.Server.ScratchDir))
	}

	completer, err := generate.NewCompleter(ctx, cfg.LLM, logger)
	if err != nil {
		return err
	}
	gen := generate.NewGenerator(completer, logger)

	srv := server.New(cfg.Server, st, gen, cfg.LLM.Provider, cfg.LLM.Model, logger)
	return srv.Run(ctx)
}

func runTrace(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if traceCases != "" {
		cfg.Trace.CasesDir = traceCases
	}
	if traceOut != "" {
		cfg.Trace.OutDir = traceOut
	}

	b := trace.NewBuilder(cfg.Trace, logger)

	if traceWatch {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		if err := b.Watch(ctx, traceDebounce); err != nil && ctx.Err() == nil {
			return err
		}
		return nil
	}

	m, err := b.Build(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Printf("Built matrix with %d cases\n", len(m.Rows))
	if traceStrict && len(m.Warnings) > 0 {
		for _, w := range m.Warnings {
			fmt.Fprintln(os.Stderr, "[WARN]", w)
		}
		return fmt.Errorf("%d warnings in strict mode", len(m.Warnings))
	}
	return nil
}
