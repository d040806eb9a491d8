package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"driftwatch/internal/recovery"
	"driftwatch/internal/store"

	"github.com/spf13/cobra"
)

// statusCmd summarizes session health: one session in detail when an id
// is given, otherwise every live session at a glance.
var statusCmd = &cobra.Command{
	Use:   "status [session-id]",
	Short: "Summarize the health of live sessions",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runStatus,
}

// resetCmd returns an escalated session to operator-acknowledged nominal.
var resetCmd = &cobra.Command{
	Use:   "reset <session-id>",
	Short: "Acknowledge an escalated session and return it to nominal",
	Args:  cobra.ExactArgs(1),
	RunE:  runReset,
}

func runStatus(cmd *cobra.Command, args []string) error {
	s, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	if len(args) == 1 {
		return sessionStatus(s, args[0])
	}

	sessions, err := s.ListSessions()
	if err != nil {
		return err
	}

	counts := map[string]int{}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, headerStyle.Render("ID\tSTATE\tATTEMPTS\tEVENTS\tACTIONS"))
	live := 0
	for _, session := range sessions {
		if session.Terminated {
			continue
		}
		live++
		counts[string(session.State)]++
		events, err := s.ListDriftEvents(session.ID, 0)
		if err != nil {
			return err
		}
		actions, err := s.GetHistory(session.ID)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\n",
			idStyle.Render(session.ID), stateLabel(session.State),
			session.Attempts, len(events), len(actions))
	}
	if live == 0 {
		fmt.Println("No live sessions.")
		return nil
	}
	w.Flush()

	fmt.Printf("\n%d live:", live)
	for _, state := range []string{"nominal", "flagged", "recovering", "escalated"} {
		if counts[state] > 0 {
			fmt.Printf(" %d %s", counts[state], state)
		}
	}
	fmt.Println()
	return nil
}

// sessionStatus prints one session's recovery state, drift history, and
// how long ago the agent last acted.
func sessionStatus(s *store.SessionStore, sessionID string) error {
	snap, err := s.Snapshot(sessionID)
	if err != nil {
		return err
	}

	session := snap.Session
	fmt.Printf("%s %s\n", headerStyle.Render("Session"), idStyle.Render(session.ID))
	fmt.Printf("  state:       %s\n", stateLabel(session.State))
	fmt.Printf("  attempts:    %d of %d\n", session.Attempts, cfg.Recovery.RetryBudget)
	if last, ok := snap.LastAgentAction(); ok {
		fmt.Printf("  last action: %s ago (seq %d)\n",
			time.Since(last.Timestamp).Round(time.Second), last.Seq)
	} else {
		fmt.Printf("  last action: none (created %s ago)\n",
			time.Since(session.CreatedAt).Round(time.Second))
	}

	events, err := s.ListDriftEvents(sessionID, 0)
	if err != nil {
		return err
	}
	fmt.Printf("  drift events: %d", len(events))
	if len(events) > 0 {
		last := events[len(events)-1]
		fmt.Printf(" (latest: %s %s at %s)", last.Severity, last.Type,
			last.Timestamp.Local().Format("15:04:05"))
	}
	fmt.Println()
	return nil
}

func runReset(cmd *cobra.Command, args []string) error {
	s, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	controller := recovery.New(s, recovery.NewFileAlerter(cfg.Recovery.AlertPath), cfg.Recovery)
	if err := controller.Reset(args[0]); err != nil {
		return err
	}
	fmt.Printf("Session %s reset to nominal\n", idStyle.Render(args[0]))
	return nil
}

func init() {
	rootCmd.AddCommand(statusCmd, resetCmd)
}
