package main

import (
	"fmt"

	"driftwatch/internal/drift"
	"driftwatch/internal/types"

	"github.com/spf13/cobra"
)

var (
	checkDryRun bool
	eventsLimit int
)

// checkCmd runs drift detection against one session right now.
var checkCmd = &cobra.Command{
	Use:   "check <session-id>",
	Short: "Run drift detection against a session",
	Long: `Take a snapshot of the session and evaluate it against its schedule.
Detected deviations are recorded to the drift event audit trail unless
--dry-run is given. Recovery is driven by the monitor loop, not by check.`,
	Args: cobra.ExactArgs(1),
	RunE: runCheck,
}

var eventsCmd = &cobra.Command{
	Use:   "events <session-id>",
	Short: "Show a session's recorded drift events, oldest first",
	Args:  cobra.ExactArgs(1),
	RunE:  runEvents,
}

func severityLabel(sev types.Severity) string {
	if sev == types.SeverityCritical {
		return escalatedStyle.Render(string(sev))
	}
	return flaggedStyle.Render(string(sev))
}

func runCheck(cmd *cobra.Command, args []string) error {
	s, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	snap, err := s.Snapshot(args[0])
	if err != nil {
		return err
	}

	detector := drift.New(drift.SettingsFromConfig(cfg.Detector))
	events := detector.Check(snap)
	if len(events) == 0 {
		fmt.Printf("%s is compliant\n", idStyle.Render(args[0]))
		return nil
	}

	for _, e := range events {
		fmt.Printf("%s %s\n", severityLabel(e.Severity), headerStyle.Render(string(e.Type)))
		fmt.Printf("  expected: %s\n", e.Expected)
		fmt.Printf("  observed: %s\n", e.Observed)
		if !checkDryRun {
			if err := s.RecordDriftEvent(e); err != nil {
				return fmt.Errorf("failed to record drift event: %w", err)
			}
		}
	}
	if checkDryRun {
		fmt.Printf("\n%d deviations (not recorded)\n", len(events))
	} else {
		fmt.Printf("\n%d deviations recorded\n", len(events))
	}
	return nil
}

func runEvents(cmd *cobra.Command, args []string) error {
	s, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	events, err := s.ListDriftEvents(args[0], eventsLimit)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		fmt.Println("No drift events recorded.")
		return nil
	}
	for _, e := range events {
		fmt.Printf("%s  %s %s\n", dateStyle.Render(e.Timestamp.Local().Format("2006-01-02 15:04:05")),
			severityLabel(e.Severity), e.Type)
		fmt.Printf("    expected: %s\n", e.Expected)
		fmt.Printf("    observed: %s\n", e.Observed)
	}
	return nil
}

func init() {
	checkCmd.Flags().BoolVar(&checkDryRun, "dry-run", false, "Report deviations without recording them")
	eventsCmd.Flags().IntVarP(&eventsLimit, "limit", "n", 50, "Maximum events to show")
	rootCmd.AddCommand(checkCmd, eventsCmd)
}
