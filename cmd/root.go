package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/jmd-jude/db-chat/internal/config"
	"github.com/jmd-jude/db-chat/internal/logging"
)

var (
	flagDB       string
	flagSchema   string
	flagLogLevel string

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "db-chat",
	Short: "Ask questions about your database in plain language",
	Long: `db-chat turns natural language questions into SQL against a local DuckDB
database. It keeps a conversation going: follow-up questions like "what
countries are they from?" are resolved against the results of the previous
answer. Generated queries are validated against a schema snapshot before
anything touches the database.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		loaded, err := config.LoadConfigWithOverrides(map[string]interface{}{
			"db":        flagDB,
			"schema":    flagSchema,
			"log-level": flagLogLevel,
		})
		if err != nil {
			return err
		}

		loaded.ExpandAllPaths()
		cfg = loaded

		if err := logging.InitializeLogger(cfg.Logging); err != nil {
			logging.SetupFallbackLogger()
		}

		return nil
	},
}

func Execute() error {
	ctx := context.Background()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagDB, "db", "", "Path to the DuckDB database file")
	rootCmd.PersistentFlags().StringVar(&flagSchema, "schema", "", "Path to the schema snapshot JSON file")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "Log level: debug, info, warn, error")
}
