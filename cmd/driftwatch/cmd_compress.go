package main

import (
	"fmt"

	"driftwatch/internal/compress"

	"github.com/spf13/cobra"
)

var (
	compressForce bool
	compressShow  bool
)

// compressCmd rebuilds a session's tiered summaries on demand. The
// monitor loop does this automatically when the history grows past the
// trigger threshold.
var compressCmd = &cobra.Command{
	Use:   "compress <session-id>",
	Short: "Rebuild a session's tiered context summaries",
	Args:  cobra.ExactArgs(1),
	RunE:  runCompress,
}

func runCompress(cmd *cobra.Command, args []string) error {
	s, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	snap, err := s.Snapshot(args[0])
	if err != nil {
		return err
	}

	compressor := compress.New(compress.SettingsFromConfig(cfg.Compression))
	if !compressForce && !compressor.ShouldCompress(snap) {
		fmt.Println("History is under the trigger threshold; use --force to compress anyway.")
		return nil
	}

	tiers, err := compressor.Compress(snap)
	if err != nil {
		return fmt.Errorf("compression failed: %w", err)
	}
	if !compress.CoversInstructions(snap, tiers) {
		return fmt.Errorf("refusing to save tiers: operator instructions not fully covered")
	}
	if err := s.SaveTiers(args[0], tiers); err != nil {
		return err
	}

	total := 0
	for _, tier := range tiers {
		total += tier.TokenCount
		fmt.Printf("%s  seq %d-%d  %d tokens\n",
			headerStyle.Render(string(tier.Tier)), tier.StartSeq, tier.EndSeq, tier.TokenCount)
		if compressShow {
			fmt.Println(tier.Content)
			fmt.Println()
		}
	}
	fmt.Printf("\n%d actions -> %d tokens (budget %d)\n", len(snap.Actions), total, cfg.Compression.TokenBudget)
	return nil
}

func init() {
	compressCmd.Flags().BoolVarP(&compressForce, "force", "f", false, "Compress even under the trigger threshold")
	compressCmd.Flags().BoolVar(&compressShow, "show", false, "Print tier contents")
	rootCmd.AddCommand(compressCmd)
}
