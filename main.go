package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/felo/reportmaster/internal/classify"
	"github.com/felo/reportmaster/internal/config"
	"github.com/felo/reportmaster/internal/jobs"
	"github.com/felo/reportmaster/internal/logging"
	"github.com/felo/reportmaster/internal/threading"
)

var (
	// Global flags
	configPath string
	verbose    bool

	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "reportmaster",
	Short: "Group e-mail into conversation threads and report sections",
	Long: `reportmaster parses .eml files, groups them into conversation threads by
participant overlap and time proximity, classifies each thread and merges
threads sharing a category into numbered report sections.

Run "reportmaster serve" for the HTTP API or "reportmaster build <dir>" to
process a directory once.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}

		level := cfg.Log.Level
		if verbose {
			level = "debug"
		}
		logger, err = logging.New(level, cfg.Log.Format)
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

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.reportmaster/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(serveCmd, buildCmd)
}

// newPipeline wires the processing stages from configuration.
func newPipeline(cfg *config.Config, logger *zap.Logger) (*jobs.Pipeline, error) {
	builder, err := threading.NewBuilder(cfg.Threading.MaxGap,
		threading.WithBridge(cfg.Threading.Bridge),
		threading.WithLogger(logger.Named("threading")))
	if err != nil {
		return nil, err
	}
	classifier, err := classify.New(cfg.Classifier, logger.Named("classify"))
	if err != nil {
		return nil, err
	}
	return &jobs.Pipeline{
		Builder:             builder,
		Classifier:          classifier,
		ParseWorkers:        cfg.Jobs.ParseWorkers,
		ClassifyConcurrency: cfg.Classifier.Concurrency,
		Logger:              logger,
	}, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
