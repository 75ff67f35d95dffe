package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jmd-jude/db-chat/internal/errors"
	"github.com/jmd-jude/db-chat/internal/schema"
)

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Inspect and compare schema snapshots",
}

var schemaShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Display the active schema snapshot",
	Args:  cobra.NoArgs,
	RunE:  runSchemaShow,
}

var schemaDiffCmd = &cobra.Command{
	Use:   "diff <older.json> <newer.json>",
	Short: "Compare two schema snapshots",
	Long: `Compare two schema snapshot files and list the table and field level
changes. Removals are marked breaking: queries generated against the older
snapshot may no longer validate.`,
	Args: cobra.ExactArgs(2),
	RunE: runSchemaDiff,
}

func init() {
	schemaCmd.AddCommand(schemaShowCmd)
	schemaCmd.AddCommand(schemaDiffCmd)
	rootCmd.AddCommand(schemaCmd)
}

func runSchemaShow(_ *cobra.Command, _ []string) error {
	version, err := schema.LoadFile(cfg.Schema.SnapshotPath)
	if err != nil {
		return errors.Wrap(err, errors.ErrTypeSchemaIntegrity, "failed to load schema snapshot")
	}

	business := version.Business()
	if business.Description != "" {
		fmt.Printf("%s\n\n", business.Description)
	}

	for _, name := range version.TableNames() {
		table, err := version.Lookup(name)
		if err != nil {
			continue
		}

		fmt.Printf("%s (%d columns)\n", table.Name, len(table.Fields))

		for _, field := range table.Fields {
			line := fmt.Sprintf("  %-24s %s", field.Name, field.Type)
			if field.IsKey {
				line += "  key"
			}

			if field.ForeignKey != nil {
				line += "  -> " + field.ForeignKey.String()
			}

			fmt.Println(line)
		}

		fmt.Println()
	}

	fmt.Printf("%d tables, generated %s\n", version.TableCount(),
		version.GeneratedAt().Format("2006-01-02 15:04:05"))

	return nil
}

func runSchemaDiff(_ *cobra.Command, args []string) error {
	older, err := schema.LoadFile(args[0])
	if err != nil {
		return errors.Wrapf(err, errors.ErrTypeSchemaIntegrity, "failed to load %s", args[0])
	}

	newer, err := schema.LoadFile(args[1])
	if err != nil {
		return errors.Wrapf(err, errors.ErrTypeSchemaIntegrity, "failed to load %s", args[1])
	}

	changes := schema.Diff(older, newer)
	if len(changes) == 0 {
		fmt.Println("No changes.")
		return nil
	}

	breaking := 0

	for _, change := range changes {
		marker := " "
		if change.Kind.Breaking() {
			marker = "!"
			breaking++
		}

		if change.Field == "" {
			fmt.Printf("%s %-14s %s\n", marker, change.Kind, change.Table)
		} else {
			fmt.Printf("%s %-14s %s.%s\n", marker, change.Kind, change.Table, change.Field)
		}
	}

	fmt.Printf("\n%d change(s), %d breaking\n", len(changes), breaking)

	return nil
}
