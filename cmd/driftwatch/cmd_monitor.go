package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"driftwatch/internal/monitor"
	"driftwatch/internal/recovery"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var monitorOnce bool

// monitorCmd runs the periodic sweep loop until interrupted.
var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Run the drift monitor loop",
	Long: `Sweep every live session on the configured interval: detect drift,
record events, drive the recovery state machine, and compress histories
that outgrow the token budget. Runs until SIGINT or SIGTERM.

With watch_config enabled, edits to the config file are picked up
without a restart.`,
	RunE: runMonitor,
}

func runMonitor(cmd *cobra.Command, args []string) error {
	s, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	controller := recovery.New(s, recovery.NewFileAlerter(cfg.Recovery.AlertPath), cfg.Recovery)
	m := monitor.New(s, controller, cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if monitorOnce {
		return m.Sweep(ctx)
	}

	if cfg.Monitor.WatchConfig {
		reloader, err := m.WatchConfig(configPath)
		if err != nil {
			logger.Warn("config watch unavailable", zap.Error(err))
		} else {
			defer reloader.Close()
		}
	}

	m.Start(ctx)
	logger.Info("monitor started",
		zap.String("db", s.Path()),
		zap.String("sweep_interval", cfg.Monitor.SweepInterval))
	fmt.Printf("Monitoring %s every %s (Ctrl+C to stop)\n", s.Path(), cfg.Monitor.SweepInterval)

	<-ctx.Done()
	fmt.Println("\nShutting down...")
	m.Stop()
	return nil
}

func init() {
	monitorCmd.Flags().BoolVar(&monitorOnce, "once", false, "Run a single sweep and exit")
	rootCmd.AddCommand(monitorCmd)
}
