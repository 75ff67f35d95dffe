// Package prompt turns schema context, business rules, and conversation
// state into the structured request sent to the generation backend.
// Assembly is pure and deterministic: identical inputs always render to
// byte-identical request text, which keeps generation reproducible and
// cacheable.
package prompt

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/jmd-jude/db-chat/internal/conversation"
	"github.com/jmd-jude/db-chat/internal/schema"
)

const (
	// DefaultMaxContextBytes bounds the serialized schema context.
	DefaultMaxContextBytes = 8192

	// DefaultWindow is how many prior turns are included by default.
	DefaultWindow = 3

	instruction = `You are an expert SQL query generator. Given the schema, the business context, and a natural language question, generate a single SQL query that answers the question.`
)

// AssemblyError indicates the request could not be built from the given
// inputs. It is fatal for the turn.
type AssemblyError struct {
	Reason string
}

func (e *AssemblyError) Error() string {
	return "cannot assemble generation request: " + e.Reason
}

// TurnContext is the slice of a prior turn included in the prompt.
type TurnContext struct {
	Question string
	Query    string
}

// Request is the structured generation request for one turn. It is transient:
// built fresh per turn and never persisted.
type Request struct {
	Instruction   string
	SchemaContext string
	Rules         []Rule
	Conversation  []TurnContext
	HintEntities  []string
	HintExpr      string
	Question      string
	Corrections   []string
}

// WithCorrections returns a copy of the request carrying validator feedback
// for a corrective retry. The conversation context and schema context are
// preserved unchanged.
func (r *Request) WithCorrections(corrections []string) *Request {
	clone := *r
	clone.Corrections = make([]string, len(corrections))
	copy(clone.Corrections, corrections)

	return &clone
}

// Render serializes the request into the prompt text sent to the backend.
func (r *Request) Render() string {
	var sb strings.Builder

	sb.WriteString(r.Instruction)
	sb.WriteString("\n\nSchema:\n")
	sb.WriteString(r.SchemaContext)

	if len(r.Rules) > 0 {
		sb.WriteString("\nRules:\n")

		for i, rule := range r.Rules {
			fmt.Fprintf(&sb, "%d. %s\n", i+1, rule.Text)
		}
	}

	if len(r.Conversation) > 0 {
		sb.WriteString("\nRecent conversation:\n")

		for _, turn := range r.Conversation {
			fmt.Fprintf(&sb, "Q: %s\n", turn.Question)

			if turn.Query != "" {
				fmt.Fprintf(&sb, "SQL: %s\n", turn.Query)
			}
		}
	}

	if len(r.HintEntities) > 0 {
		fmt.Fprintf(&sb,
			"\nThe question refers to %q from the previous result. Restrict to these values: %s\n",
			r.HintExpr, strings.Join(r.HintEntities, ", "))
	}

	if len(r.Corrections) > 0 {
		sb.WriteString("\nYour previous query had problems. Fix all of them:\n")

		for _, c := range r.Corrections {
			fmt.Fprintf(&sb, "- %s\n", c)
		}
	}

	fmt.Fprintf(&sb, "\nQuestion: %s\n\nSQL Query:", r.Question)

	return sb.String()
}

// Assembler builds generation requests.
type Assembler struct {
	maxContextBytes int
	window          int
}

// AssemblerOption configures an Assembler.
type AssemblerOption func(*Assembler)

// WithMaxContextBytes overrides the schema context size budget.
func WithMaxContextBytes(n int) AssemblerOption {
	return func(a *Assembler) {
		if n > 0 {
			a.maxContextBytes = n
		}
	}
}

// WithWindow overrides the prior-turn window size.
func WithWindow(k int) AssemblerOption {
	return func(a *Assembler) {
		if k >= 0 {
			a.window = k
		}
	}
}

// NewAssembler creates a prompt assembler.
func NewAssembler(opts ...AssemblerOption) *Assembler {
	a := &Assembler{
		maxContextBytes: DefaultMaxContextBytes,
		window:          DefaultWindow,
	}

	for _, opt := range opts {
		opt(a)
	}

	return a
}

// Window returns the configured prior-turn window size.
func (a *Assembler) Window() int {
	return a.window
}

// Assemble builds the generation request for one turn.
func (a *Assembler) Assemble(
	version *schema.Version,
	rules []Rule,
	window []conversation.Turn,
	hint conversation.ResolvedContext,
	question string,
) (*Request, error) {
	if strings.TrimSpace(question) == "" {
		return nil, &AssemblyError{Reason: "question is empty"}
	}

	if version == nil || version.TableCount() == 0 {
		return nil, &AssemblyError{Reason: "schema snapshot has no tables"}
	}

	turns := window
	if len(turns) > a.window {
		turns = turns[len(turns)-a.window:]
	}

	questions := make([]string, 0, len(turns)+1)
	questions = append(questions, question)

	for _, t := range turns {
		questions = append(questions, t.Question)
	}

	req := &Request{
		Instruction:   instruction,
		SchemaContext: a.serializeSchema(version, questions),
		Rules:         rules,
		Question:      strings.TrimSpace(question),
	}

	for _, t := range turns {
		req.Conversation = append(req.Conversation, TurnContext{
			Question: t.Question,
			Query:    t.GeneratedQuery,
		})
	}

	if hint.Referring && len(hint.Entities) > 0 {
		req.HintEntities = make([]string, len(hint.Entities))
		copy(req.HintEntities, hint.Entities)
		req.HintExpr = hint.Expression
	}

	return req, nil
}

// table priorities for truncation; lower is kept longer
const (
	priorityMentioned = 0
	priorityRelated   = 1
	priorityUnrelated = 2
)

var wordSplit = regexp.MustCompile(`[^a-zA-Z0-9_]+`)

// serializeSchema renders the schema context, dropping lowest-priority
// tables first when the rendered text would exceed the size budget. Tables
// mentioned in the current or recent questions are kept longest, then
// tables related to a mentioned one, then the rest.
func (a *Assembler) serializeSchema(version *schema.Version, questions []string) string {
	names := version.TableNames()

	mentioned := make(map[string]bool, len(names))

	for _, q := range questions {
		for _, word := range wordSplit.Split(strings.ToLower(q), -1) {
			for _, name := range names {
				if matchesTable(word, name) {
					mentioned[name] = true
				}
			}
		}
	}

	priority := make(map[string]int, len(names))

	for _, name := range names {
		switch {
		case len(mentioned) == 0:
			// No table referenced anywhere: everything is equally relevant.
			priority[name] = priorityMentioned
		case mentioned[name]:
			priority[name] = priorityMentioned
		case relatedToAny(version, name, mentioned):
			priority[name] = priorityRelated
		default:
			priority[name] = priorityUnrelated
		}
	}

	var (
		sb      strings.Builder
		dropped []string
	)

	header := businessHeader(version)
	sb.WriteString(header)

	size := len(header)

	// Once the budget forces a drop in a tier, every lower-priority tier is
	// dropped wholesale: a small unrelated table must not outlive a large
	// mentioned one.
	droppedAt := priorityUnrelated + 1

	for tier := priorityMentioned; tier <= priorityUnrelated; tier++ {
		for _, name := range names {
			if priority[name] != tier {
				continue
			}

			table, _ := version.Lookup(name)
			block := serializeTable(table)

			overflow := size+len(block) > a.maxContextBytes && sb.Len() > len(header)
			if tier > droppedAt || overflow {
				if tier < droppedAt {
					droppedAt = tier
				}

				dropped = append(dropped, name)

				continue
			}

			sb.WriteString(block)
			size += len(block)
		}
	}

	if len(dropped) > 0 {
		fmt.Fprintf(&sb, "(omitted tables: %s)\n", strings.Join(dropped, ", "))
	}

	return sb.String()
}

// matchesTable compares a question word against a table name, tolerating the
// singular form ("customer" matches "customers").
func matchesTable(word, table string) bool {
	if word == "" {
		return false
	}

	table = strings.ToLower(table)

	return word == table || word+"s" == table || word == table+"s"
}

func relatedToAny(version *schema.Version, name string, mentioned map[string]bool) bool {
	table, err := version.Lookup(name)
	if err != nil {
		return false
	}

	for _, rel := range table.Relationships {
		if mentioned[rel.Table] {
			return true
		}
	}

	// Relationships declared in the other direction count too.
	for other := range mentioned {
		otherTable, err := version.Lookup(other)
		if err != nil {
			continue
		}

		for _, rel := range otherTable.Relationships {
			if rel.Table == name {
				return true
			}
		}
	}

	return false
}

func businessHeader(version *schema.Version) string {
	business := version.Business()
	dialect := version.Dialect()

	var sb strings.Builder

	if business.Description != "" {
		fmt.Fprintf(&sb, "Business context: %s\n", business.Description)
	}

	for _, concept := range business.KeyConcepts {
		fmt.Fprintf(&sb, "- %s\n", concept)
	}

	if dialect.Type != "" {
		fmt.Fprintf(&sb, "Target database: %s\n", dialect.Type)
	}

	for _, pattern := range dialect.DatePatterns {
		fmt.Fprintf(&sb, "- %s: %s\n", pattern.Description, pattern.Pattern)
	}

	if sb.Len() > 0 {
		sb.WriteString("\n")
	}

	return sb.String()
}

func serializeTable(table schema.TableDef) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "Table: %s\n", table.Name)

	if table.Description != "" {
		fmt.Fprintf(&sb, "  %s\n", table.Description)
	}

	sb.WriteString("  Columns:\n")

	for _, field := range table.Fields {
		fmt.Fprintf(&sb, "    - %s (%s", field.Name, field.Type)

		if field.IsKey {
			sb.WriteString(", key")
		}

		if field.Nullable {
			sb.WriteString(", nullable")
		}

		sb.WriteString(")")

		if field.Description != "" {
			fmt.Fprintf(&sb, " - %s", field.Description)
		}

		if field.ForeignKey != nil {
			fmt.Fprintf(&sb, " -> %s", field.ForeignKey)
		}

		sb.WriteString("\n")
	}

	if len(table.Relationships) > 0 {
		sb.WriteString("  Relationships:\n")

		for _, rel := range table.Relationships {
			pairs := make([]string, len(rel.Joins))
			for i, join := range rel.Joins {
				pairs[i] = fmt.Sprintf("%s.%s = %s.%s", table.Name, join.Local, rel.Table, join.Remote)
			}

			fmt.Fprintf(&sb, "    - %s %s ON %s\n", rel.Cardinality, rel.Table, strings.Join(pairs, " AND "))
		}
	}

	sb.WriteString("\n")

	return sb.String()
}
