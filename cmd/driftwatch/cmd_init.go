package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

// initCmd writes a default config file and creates the database schema.
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default config file and create the session database",
	RunE:  runInit,
}

func runInit(cmd *cobra.Command, args []string) error {
	if _, err := os.Stat(configPath); err == nil {
		fmt.Printf("Config already exists: %s\n", configPath)
	} else {
		if err := cfg.Save(configPath); err != nil {
			return fmt.Errorf("failed to write config: %w", err)
		}
		fmt.Printf("Wrote config: %s\n", configPath)
	}

	if dir := filepath.Dir(cfg.Storage.DatabasePath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	s, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	version, err := s.SchemaVersion()
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	fmt.Printf("Database ready: %s (schema v%d)\n", s.Path(), version)
	return nil
}

func init() {
	rootCmd.AddCommand(initCmd)
}
