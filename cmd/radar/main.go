package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kapu/outlier-radar-go/internal/app"
	"github.com/kapu/outlier-radar-go/internal/config"
	"github.com/kapu/outlier-radar-go/internal/util"
)

var version = "dev"

var (
	logLevel string
	cfg      *config.Config
	logger   *zap.Logger
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "radar",
	Short:        "Competitor YouTube outlier radar",
	Long:         "radar watches competitor channels, scores their latest uploads and flags breakout videos.",
	Version:      version,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" {
			return nil
		}

		var err error
		cfg, err = config.Load()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		if logLevel != "" {
			cfg.Logging.Level = logLevel
		}

		logger, err = util.NewLogger(cfg.Logging.Level, cfg.Logging.File)
		if err != nil {
			return fmt.Errorf("initializing logger: %w", err)
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
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "", "Override LOG_LEVEL (debug, info, warn, error)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(scrapeCmd)
	rootCmd.AddCommand(seedCmd)
	rootCmd.AddCommand(quotaCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(velocityCmd)
	rootCmd.AddCommand(outliersCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(authCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("radar", version)
	},
}

// buildContainer assembles the infrastructure with a bounded startup time.
func buildContainer(ctx context.Context) (*app.Container, error) {
	buildCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	container, err := app.Build(buildCtx, cfg, logger)
	if err != nil {
		logger.Error("Failed to assemble application services", zap.Error(err))
		return nil, err
	}
	return container, nil
}
