package main

import (
	"fmt"
	"strings"

	"driftwatch/internal/types"

	"github.com/spf13/cobra"
)

var appendSource string

// appendCmd records an action against a session.
var appendCmd = &cobra.Command{
	Use:   "append <session-id> <payload>...",
	Short: "Append an action to a session's history",
	Long: `Record an action against a live session. Actions from --source
operator are instructions: they are preserved verbatim through compression
and re-injected during recovery.`,
	Args: cobra.MinimumNArgs(2),
	RunE: runAppend,
}

var historyCmd = &cobra.Command{
	Use:   "history <session-id>",
	Short: "Print a session's full action history in insertion order",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistory,
}

func runAppend(cmd *cobra.Command, args []string) error {
	s, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	var source types.ActionSource
	switch appendSource {
	case "agent":
		source = types.SourceAgent
	case "operator":
		source = types.SourceOperator
	default:
		return fmt.Errorf("invalid source %q: must be agent or operator", appendSource)
	}
	action, err := s.Append(args[0], strings.Join(args[1:], " "), source)
	if err != nil {
		return err
	}
	fmt.Printf("Appended action %d to %s\n", action.Seq, idStyle.Render(action.SessionID))
	return nil
}

func runHistory(cmd *cobra.Command, args []string) error {
	s, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	actions, err := s.GetHistory(args[0])
	if err != nil {
		return err
	}
	if len(actions) == 0 {
		fmt.Println("No actions recorded.")
		return nil
	}
	for _, a := range actions {
		marker := " "
		if a.IsInstruction() {
			marker = "*"
		}
		fmt.Printf("%s %4d  %s  [%s]  %s\n", marker, a.Seq,
			dateStyle.Render(a.Timestamp.Local().Format("2006-01-02 15:04:05")),
			a.Source, a.Payload)
	}
	fmt.Printf("\nTotal: %d actions (* = operator instruction)\n", len(actions))
	return nil
}

func init() {
	appendCmd.Flags().StringVarP(&appendSource, "source", "s", "agent", "Action source: agent or operator")
	rootCmd.AddCommand(appendCmd, historyCmd)
}
