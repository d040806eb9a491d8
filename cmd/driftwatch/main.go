// Package main implements the driftwatch CLI: session management, drift
// checks, context compression, and the long-running monitor loop.
package main

import (
	"fmt"
	"os"

	"driftwatch/internal/config"
	"driftwatch/internal/logging"
	"driftwatch/internal/store"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// Global flags
	configPath string
	verbose    bool

	// Loaded once in PersistentPreRunE, shared by every command.
	cfg    *config.Config
	logger *zap.Logger
)

// rootCmd represents the base command.
var rootCmd = &cobra.Command{
	Use:   "driftwatch",
	Short: "driftwatch - consistency monitoring for autonomous agent sessions",
	Long: `driftwatch tracks long-running agent sessions, detects drift from their
declared schedules, compresses session context into tiered summaries, and
runs a bounded recovery loop that escalates to an operator when re-injecting
instructions does not bring a session back on track.

Quick start:
  driftwatch init                     # write config and create the database
  driftwatch session create -i 5m     # register a session
  driftwatch monitor                  # run the sweep loop`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if verbose {
			cfg.Logging.DebugMode = true
			cfg.Logging.Level = "debug"
		}
		if err := logging.Initialize(logging.Settings{
			Dir:        cfg.Logging.Dir,
			Level:      cfg.Logging.Level,
			DebugMode:  cfg.Logging.DebugMode,
			Categories: cfg.Logging.Categories,
		}); err != nil {
			return fmt.Errorf("failed to initialize logging: %w", err)
		}

		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		if logger, err = zcfg.Build(); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
		logging.Close()
	},
}

// openStore opens the configured session database. Callers own Close.
func openStore() (*store.SessionStore, error) {
	s, err := store.New(cfg.Storage.DatabasePath, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to open session store: %w", err)
	}
	return s, nil
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "driftwatch.yaml", "Path to config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
