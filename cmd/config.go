package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Display the active configuration",
	Long:  `Show the current active configuration merged from file, environment variables, and command-line flags.`,
	Args:  cobra.NoArgs,
	RunE:  runConfig,
}

func init() {
	rootCmd.AddCommand(configCmd)
}

func runConfig(_ *cobra.Command, _ []string) error {
	fmt.Println("Active Configuration:")

	fmt.Println("\nDatabase:")
	fmt.Printf("  Path: %s\n", cfg.Database.Path)
	fmt.Printf("  Query Timeout: %s\n", cfg.Database.QueryTimeout)
	fmt.Printf("  Max Rows: %d\n", cfg.Database.MaxRows)

	fmt.Println("\nSchema:")
	fmt.Printf("  Snapshot: %s\n", cfg.Schema.SnapshotPath)

	fmt.Println("\nGeneration:")
	fmt.Printf("  Provider: %s\n", cfg.Generation.Provider)
	fmt.Printf("  Model: %s\n", cfg.Generation.Model)
	fmt.Printf("  API Key Set: %t\n", cfg.Generation.APIKey != "")

	if cfg.Generation.BaseURL != "" {
		fmt.Printf("  Base URL: %s\n", cfg.Generation.BaseURL)
	}

	fmt.Printf("  Timeout: %s\n", cfg.Generation.Timeout)

	fmt.Println("\nPrompt:")
	fmt.Printf("  Max Context Bytes: %d\n", cfg.Prompt.MaxContextBytes)
	fmt.Printf("  Window: %d\n", cfg.Prompt.Window)

	fmt.Println("\nMemory:")
	fmt.Printf("  Turn Cap: %d\n", cfg.Memory.TurnCap)
	fmt.Printf("  Entity Cap: %d\n", cfg.Memory.EntityCap)

	fmt.Println("\nPipeline:")
	fmt.Printf("  Retries: %d\n", cfg.Pipeline.Retries)

	fmt.Println("\nLogging:")
	fmt.Printf("  Level: %s\n", cfg.Logging.Level)
	fmt.Printf("  Format: %s\n", cfg.Logging.Format)
	fmt.Printf("  Output: %s\n", cfg.Logging.Output)

	if cfg.Logging.Output == "file" {
		fmt.Printf("  File: %s\n", cfg.Logging.File)
	}

	return nil
}
