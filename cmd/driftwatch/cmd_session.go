package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"driftwatch/internal/types"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("62"))

	idStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("240")).
		Italic(true)

	nominalStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	flaggedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	escalatedStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
	dateStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("243"))
)

// stateLabel colors a session state for terminal output.
func stateLabel(s types.SessionState) string {
	switch s {
	case types.StateNominal:
		return nominalStyle.Render(string(s))
	case types.StateFlagged, types.StateRecovering:
		return flaggedStyle.Render(string(s))
	case types.StateEscalated:
		return escalatedStyle.Render(string(s))
	default:
		return string(s)
	}
}

var (
	createInterval  time.Duration
	createTolerance time.Duration
	createPattern   string
	listAll         bool
)

// sessionCmd manages monitored sessions.
var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage monitored agent sessions",
	Long: `Create, inspect, and terminate monitored sessions.

Subcommands:
  create    - Register a session with a check-in schedule
  list      - List sessions (live first)
  show      - Show one session with its recent history
  terminate - Permanently terminate a session`,
	RunE: runSessionList,
}

var sessionCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Register a new session with a check-in schedule",
	RunE:  runSessionCreate,
}

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sessions (live first)",
	RunE:  runSessionList,
}

var sessionShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Show a session with its recent history",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionShow,
}

var sessionTerminateCmd = &cobra.Command{
	Use:   "terminate <session-id>",
	Short: "Terminate a session (irreversible)",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionTerminate,
}

func runSessionCreate(cmd *cobra.Command, args []string) error {
	s, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	session, err := s.CreateSession(types.Schedule{
		Interval:  createInterval,
		Tolerance: createTolerance,
		Pattern:   createPattern,
	})
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}

	fmt.Printf("Created session %s\n", idStyle.Render(session.ID))
	fmt.Printf("  interval=%s tolerance=%s", session.Schedule.Interval, session.Schedule.Tolerance)
	if session.Schedule.Pattern != "" {
		fmt.Printf(" pattern=%q", session.Schedule.Pattern)
	}
	fmt.Println()
	return nil
}

func runSessionList(cmd *cobra.Command, args []string) error {
	s, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	sessions, err := s.ListSessions()
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}
	if !listAll {
		live := sessions[:0]
		for _, session := range sessions {
			if !session.Terminated {
				live = append(live, session)
			}
		}
		sessions = live
	}
	if len(sessions) == 0 {
		fmt.Println("No sessions found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, headerStyle.Render("ID\tSTATE\tATTEMPTS\tINTERVAL\tCREATED"))
	for _, session := range sessions {
		state := stateLabel(session.State)
		if session.Terminated {
			state = dateStyle.Render("terminated")
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
			idStyle.Render(session.ID),
			state,
			session.Attempts,
			session.Schedule.Interval,
			dateStyle.Render(session.CreatedAt.Local().Format("2006-01-02 15:04")),
		)
	}
	w.Flush()
	fmt.Printf("\nTotal: %d sessions\n", len(sessions))
	return nil
}

func runSessionShow(cmd *cobra.Command, args []string) error {
	s, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	snap, err := s.Snapshot(args[0])
	if err != nil {
		return err
	}

	session := snap.Session
	fmt.Printf("%s %s\n", headerStyle.Render("Session"), idStyle.Render(session.ID))
	fmt.Printf("  state:     %s (attempts %d)\n", stateLabel(session.State), session.Attempts)
	fmt.Printf("  schedule:  every %s, tolerance %s\n", session.Schedule.Interval, session.Schedule.Tolerance)
	if session.Schedule.Pattern != "" {
		fmt.Printf("  pattern:   %q\n", session.Schedule.Pattern)
	}
	fmt.Printf("  created:   %s\n", session.CreatedAt.Local().Format(time.RFC1123))
	if session.Terminated {
		fmt.Printf("  terminated: %s\n", session.TerminatedAt.Local().Format(time.RFC1123))
	}
	fmt.Printf("  actions:   %d\n", len(snap.Actions))
	if len(snap.Tiers) > 0 {
		fmt.Printf("  tiers:     ")
		for i, tier := range snap.Tiers {
			if i > 0 {
				fmt.Print(", ")
			}
			fmt.Printf("%s (%d tokens)", tier.Tier, tier.TokenCount)
		}
		fmt.Println()
	}

	tail := snap.Actions
	if len(tail) > 10 {
		tail = tail[len(tail)-10:]
	}
	if len(tail) > 0 {
		fmt.Printf("\n%s\n", headerStyle.Render("Recent actions"))
		for _, a := range tail {
			marker := " "
			if a.IsInstruction() {
				marker = "*"
			}
			fmt.Printf("  %s %4d  %s  %s\n", marker, a.Seq,
				dateStyle.Render(a.Timestamp.Local().Format("15:04:05")), a.Payload)
		}
	}
	return nil
}

func runSessionTerminate(cmd *cobra.Command, args []string) error {
	s, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.Terminate(args[0]); err != nil {
		return err
	}
	fmt.Printf("Terminated session %s\n", idStyle.Render(args[0]))
	return nil
}

func init() {
	sessionCreateCmd.Flags().DurationVarP(&createInterval, "interval", "i", 5*time.Minute, "Expected check-in interval")
	sessionCreateCmd.Flags().DurationVarP(&createTolerance, "tolerance", "t", time.Minute, "Allowed slack past the interval")
	sessionCreateCmd.Flags().StringVarP(&createPattern, "pattern", "p", "", "Expected content pattern for agent actions")
	sessionListCmd.Flags().BoolVarP(&listAll, "all", "a", false, "Include terminated sessions")
	sessionCmd.AddCommand(sessionCreateCmd, sessionListCmd, sessionShowCmd, sessionTerminateCmd)
	rootCmd.AddCommand(sessionCmd)
}
