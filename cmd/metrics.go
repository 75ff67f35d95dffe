package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jmd-jude/db-chat/internal/errors"
	"github.com/jmd-jude/db-chat/internal/runner"
	"github.com/jmd-jude/db-chat/internal/schema"
	"github.com/jmd-jude/db-chat/internal/validate"
)

var metricsCmd = &cobra.Command{
	Use:   "metrics [name]",
	Short: "Run a canned report without going through generation",
	Long: `Run one of the built-in reports directly against the database. Without an
argument the available reports are listed. The report's query is checked
against the loaded schema snapshot before it runs.

Examples:
  db-chat metrics
  db-chat metrics revenue-by-month`,
	Args: cobra.MaximumNArgs(1),
	RunE: runMetrics,
}

func init() {
	rootCmd.AddCommand(metricsCmd)
}

func runMetrics(cmd *cobra.Command, args []string) error {
	catalog := runner.StandardMetrics()

	if len(args) == 0 {
		for _, name := range runner.MetricNames() {
			fmt.Printf("  %-26s %s\n", name, catalog[name].Description)
		}

		return nil
	}

	metric, ok := catalog[args[0]]
	if !ok {
		return errors.Newf(errors.ErrTypeDatabase, "unknown metric: %s", args[0]).
			WithSuggestion("Run 'db-chat metrics' with no arguments to list available reports")
	}

	version, err := schema.LoadFile(cfg.Schema.SnapshotPath)
	if err != nil {
		return errors.Wrap(err, errors.ErrTypeSchemaIntegrity, "failed to load schema snapshot").
			WithSuggestion("Point --schema at a valid snapshot JSON file")
	}

	result := validate.Validate(metric.SQL, version)
	if blocking := result.Blocking(); len(blocking) > 0 {
		details := make([]string, len(blocking))
		for i, v := range blocking {
			details[i] = v.Detail
		}

		return errors.Newf(errors.ErrTypeValidation,
			"metric %s does not match the loaded schema: %s", metric.Name, strings.Join(details, "; "))
	}

	exec, err := runner.New(cfg.Database.Path, runner.WithMaxRows(cfg.Database.MaxRows))
	if err != nil {
		return err
	}
	defer exec.Close()

	set, err := exec.RunMetric(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	printResultSet(set)

	return nil
}
