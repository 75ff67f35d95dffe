package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/spf13/cobra"

	"github.com/jmd-jude/db-chat/internal/errors"
	"github.com/jmd-jude/db-chat/internal/genai"
	"github.com/jmd-jude/db-chat/internal/logging"
	"github.com/jmd-jude/db-chat/internal/pipeline"
	"github.com/jmd-jude/db-chat/internal/prompt"
	"github.com/jmd-jude/db-chat/internal/runner"
	"github.com/jmd-jude/db-chat/internal/schema"
)

var (
	askWindow    int
	askRetries   int
	askProvider  string
	askModel     string
	askShowSQL   bool
	askNoExecute bool
)

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask a question about your data",
	Long: `Ask a question in plain language. With a question argument the answer is
printed and the command exits; without one an interactive session starts
where follow-up questions can refer back to previous results.

Examples:
  db-chat ask "Who are our top 10 customers by revenue?"
  db-chat ask --show-sql "How many orders shipped last month?"
  db-chat ask`,
	Args: cobra.MaximumNArgs(1),
	RunE: runAsk,
}

func init() {
	askCmd.Flags().IntVar(&askWindow, "window", 0, "Prior turns to include in the prompt (default from config)")
	askCmd.Flags().IntVar(&askRetries, "retries", -1, "Corrective retry budget (default from config)")
	askCmd.Flags().StringVar(&askProvider, "provider", "", "Generation provider: openai, anthropic, ollama")
	askCmd.Flags().StringVar(&askModel, "model", "", "Model name for the generation provider")
	askCmd.Flags().BoolVar(&askShowSQL, "show-sql", false, "Print the generated SQL before the results")
	askCmd.Flags().BoolVar(&askNoExecute, "no-execute", false, "Generate and validate only, skip execution")

	rootCmd.AddCommand(askCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	version, err := schema.LoadFile(cfg.Schema.SnapshotPath)
	if err != nil {
		return errors.Wrap(err, errors.ErrTypeSchemaIntegrity, "failed to load schema snapshot").
			WithSuggestion("Point --schema at a snapshot produced by 'db-chat schema show --json' or your introspection tooling")
	}

	if askProvider != "" {
		cfg.Generation.Provider = askProvider
	}

	if askModel != "" {
		cfg.Generation.Model = askModel
	}

	client, err := genai.NewClient(genai.Config{
		Provider: cfg.Generation.Provider,
		Model:    cfg.Generation.Model,
		APIKey:   cfg.Generation.APIKey,
		BaseURL:  cfg.Generation.BaseURL,
		Timeout:  cfg.GenerationTimeout(),
	})
	if err != nil {
		return errors.Wrap(err, errors.ErrTypeConfig, "failed to configure generation backend").
			WithSuggestion("Set DB_CHAT_API_KEY or choose --provider ollama for a local model")
	}

	window := cfg.Prompt.Window
	if askWindow > 0 {
		window = askWindow
	}

	retries := cfg.Pipeline.Retries
	if askRetries >= 0 {
		retries = askRetries
	}

	orch := pipeline.NewOrchestrator(client,
		pipeline.WithAssembler(prompt.NewAssembler(
			prompt.WithMaxContextBytes(cfg.Prompt.MaxContextBytes),
			prompt.WithWindow(window),
		)),
		pipeline.WithRetries(retries),
		pipeline.WithLogger(logging.GetLogger()),
	)

	var exec *runner.Runner
	if !askNoExecute {
		exec, err = runner.New(cfg.Database.Path, runner.WithMaxRows(cfg.Database.MaxRows))
		if err != nil {
			return err
		}
		defer exec.Close()
	}

	session := pipeline.NewSession(version)

	if len(args) == 1 {
		return askOnce(ctx, orch, exec, session, args[0])
	}

	return askInteractive(ctx, orch, exec, session)
}

func askOnce(ctx context.Context, orch *pipeline.Orchestrator, exec *runner.Runner,
	session *pipeline.Session, question string,
) error {
	outcome, err := generateWithSpinner(ctx, orch, session, question)
	if err != nil {
		return err
	}

	printOutcome(outcome)

	if exec == nil {
		return nil
	}

	return executeAndRecord(ctx, exec, session, outcome)
}

func askInteractive(ctx context.Context, orch *pipeline.Orchestrator, exec *runner.Runner,
	session *pipeline.Session,
) error {
	fmt.Println("Ask questions about your data. Type 'history' to review the session, 'exit' to leave.")

	scanner := bufio.NewScanner(os.Stdin)

	for {
		fmt.Print("\n> ")

		if !scanner.Scan() {
			break
		}

		question := strings.TrimSpace(scanner.Text())

		switch strings.ToLower(question) {
		case "":
			continue
		case "exit", "quit":
			return nil
		case "history":
			printHistory(session)
			continue
		}

		outcome, err := generateWithSpinner(ctx, orch, session, question)
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			continue
		}

		printOutcome(outcome)

		if exec == nil {
			continue
		}

		if err := executeAndRecord(ctx, exec, session, outcome); err != nil {
			fmt.Printf("Error: %v\n", err)
		}
	}

	return scanner.Err()
}

func generateWithSpinner(ctx context.Context, orch *pipeline.Orchestrator,
	session *pipeline.Session, question string,
) (*pipeline.Outcome, error) {
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	s.Suffix = " Generating query..."
	s.Start()

	outcome, err := orch.Ask(ctx, session, question)
	s.Stop()

	return outcome, err
}

func executeAndRecord(ctx context.Context, exec *runner.Runner,
	session *pipeline.Session, outcome *pipeline.Outcome,
) error {
	result, err := exec.Execute(ctx, outcome.SQL)
	if err != nil {
		return err
	}

	printResultSet(result)
	session.RecordResults(result.Columns, result.Rows)

	return nil
}

func printOutcome(outcome *pipeline.Outcome) {
	if askShowSQL {
		fmt.Printf("\n%s\n\n", outcome.SQL)
	}

	for _, warning := range outcome.Warnings {
		fmt.Printf("Warning: %s\n", warning)
	}
}

func printHistory(session *pipeline.Session) {
	history := session.Memory().History()
	if len(history) == 0 {
		fmt.Println("No questions asked yet.")
		return
	}

	for _, turn := range history {
		fmt.Printf("\n[%s] %s\n", turn.Timestamp.Format("15:04:05"), turn.Question)
		fmt.Printf("    %s\n", turn.GeneratedQuery)
	}
}

func printResultSet(result *runner.ResultSet) {
	if len(result.Rows) == 0 {
		fmt.Println("No rows returned.")
		return
	}

	widths := make([]int, len(result.Columns))
	for i, col := range result.Columns {
		widths[i] = len(col)
	}

	for _, row := range result.Rows {
		for i, cell := range row {
			if i < len(widths) && len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	printRow(result.Columns, widths)

	sep := make([]string, len(result.Columns))
	for i := range sep {
		sep[i] = strings.Repeat("-", widths[i])
	}
	printRow(sep, widths)

	for _, row := range result.Rows {
		printRow(row, widths)
	}

	if result.Truncated {
		fmt.Println("(result truncated)")
	}

	fmt.Printf("%d row(s) in %s\n", len(result.Rows), result.Duration.Round(time.Millisecond))
}

func printRow(cells []string, widths []int) {
	parts := make([]string, len(cells))
	for i, cell := range cells {
		parts[i] = fmt.Sprintf("%-*s", widths[i], cell)
	}

	fmt.Println(strings.Join(parts, "  "))
}
