package prompt_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmd-jude/db-chat/internal/conversation"
	"github.com/jmd-jude/db-chat/internal/prompt"
	"github.com/jmd-jude/db-chat/internal/schema"
	"github.com/jmd-jude/db-chat/internal/testutil"
)

func TestMergeRulesOverridesOnKeyCollision(t *testing.T) {
	base := []prompt.Rule{
		{Key: "limit", Text: "base limit rule"},
		{Key: "joins", Text: "base join rule"},
	}
	overrides := []prompt.Rule{
		{Key: "limit", Text: "snowflake limit rule"},
		{Key: "dates", Text: "snowflake date rule"},
	}

	merged := prompt.MergeRules(base, overrides)

	require.Len(t, merged, 3)
	// Replaced in place, base order preserved, new keys appended.
	assert.Equal(t, "snowflake limit rule", merged[0].Text)
	assert.Equal(t, "base join rule", merged[1].Text)
	assert.Equal(t, "snowflake date rule", merged[2].Text)
}

func TestMergeRulesDoesNotMutateBase(t *testing.T) {
	base := []prompt.Rule{{Key: "limit", Text: "base"}}

	prompt.MergeRules(base, []prompt.Rule{{Key: "limit", Text: "override"}})

	assert.Equal(t, "base", base[0].Text)
}

func TestAssembleFirstTurn(t *testing.T) {
	version := testutil.MustLoad(t, testutil.SampleSnapshot())
	assembler := prompt.NewAssembler()

	req, err := assembler.Assemble(
		version,
		prompt.DefaultRules(),
		nil,
		conversation.ResolvedContext{},
		"Who are my 10 best customers?",
	)

	require.NoError(t, err)
	assert.Empty(t, req.Conversation)
	assert.Empty(t, req.HintEntities)
	assert.Contains(t, req.SchemaContext, "Table: customers")
	assert.Contains(t, req.Render(), "Question: Who are my 10 best customers?")
}

func TestAssembleIncludesHintAndWindow(t *testing.T) {
	version := testutil.MustLoad(t, testutil.SampleSnapshot())
	assembler := prompt.NewAssembler(prompt.WithWindow(2))

	turns := []conversation.Turn{
		{Question: "first", GeneratedQuery: "SELECT 1"},
		{Question: "second", GeneratedQuery: "SELECT 2"},
		{Question: "third", GeneratedQuery: "SELECT 3"},
	}
	hint := conversation.ResolvedContext{
		Referring:  true,
		Expression: "they",
		Entities:   []string{"101", "103"},
	}

	req, err := assembler.Assemble(version, nil, turns, hint, "What countries are they from?")
	require.NoError(t, err)

	// Only the most recent 2 turns survive the window.
	require.Len(t, req.Conversation, 2)
	assert.Equal(t, "second", req.Conversation[0].Question)
	assert.Equal(t, "third", req.Conversation[1].Question)

	rendered := req.Render()
	assert.Contains(t, rendered, `"they"`)
	assert.Contains(t, rendered, "101, 103")
}

func TestAssembleErrors(t *testing.T) {
	version := testutil.MustLoad(t, testutil.SampleSnapshot())
	empty := testutil.MustLoad(t, schema.Snapshot{})
	assembler := prompt.NewAssembler()

	tests := []struct {
		name     string
		version  *schema.Version
		question string
	}{
		{"blank question", version, "   \t"},
		{"empty schema", empty, "how many customers?"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := assembler.Assemble(tt.version, nil, nil, conversation.ResolvedContext{}, tt.question)

			var assemblyErr *prompt.AssemblyError
			require.ErrorAs(t, err, &assemblyErr)
		})
	}
}

func TestAssembleIsDeterministic(t *testing.T) {
	version := testutil.MustLoad(t, testutil.SampleSnapshot())
	assembler := prompt.NewAssembler()

	turns := []conversation.Turn{{Question: "prior", GeneratedQuery: "SELECT 1"}}
	hint := conversation.ResolvedContext{Referring: true, Expression: "those", Entities: []string{"7"}}

	first, err := assembler.Assemble(version, prompt.DefaultRules(), turns, hint, "total revenue by nation?")
	require.NoError(t, err)

	second, err := assembler.Assemble(version, prompt.DefaultRules(), turns, hint, "total revenue by nation?")
	require.NoError(t, err)

	assert.Equal(t, first.Render(), second.Render())
}

func TestSchemaTruncationDropsUnrelatedTablesFirst(t *testing.T) {
	snapshot := testutil.SampleSnapshot()
	snapshot.Tables["audit_log"] = testutil.Table("audit_log",
		testutil.WithDescription("Unrelated operational log"),
		testutil.WithFields(
			testutil.Field("id", schema.FieldTypeNumber, testutil.Key()),
			testutil.Field("event", schema.FieldTypeText),
			testutil.Field("payload", schema.FieldTypeText),
		),
	)
	version := testutil.MustLoad(t, snapshot)

	question := "revenue by customer and order category"

	// Measure the untruncated context, then set the budget one byte short of
	// it: exactly one table has to go, and it must be the lowest-priority one.
	full, err := prompt.NewAssembler().Assemble(version, nil, nil, conversation.ResolvedContext{}, question)
	require.NoError(t, err)
	require.Contains(t, full.SchemaContext, "Table: audit_log")

	assembler := prompt.NewAssembler(prompt.WithMaxContextBytes(len(full.SchemaContext) - 1))

	req, err := assembler.Assemble(version, nil, nil, conversation.ResolvedContext{}, question)
	require.NoError(t, err)

	assert.Contains(t, req.SchemaContext, "Table: customers")
	assert.Contains(t, req.SchemaContext, "Table: orders")
	assert.Contains(t, req.SchemaContext, "Table: nations")
	assert.NotContains(t, req.SchemaContext, "Table: audit_log")
	assert.Contains(t, req.SchemaContext, "omitted tables: audit_log")
}

func TestSchemaTruncationSkipsLowerTiersAfterDrop(t *testing.T) {
	snapshot := testutil.Snapshot(
		testutil.Table("customers",
			testutil.WithFields(
				testutil.Field("id", schema.FieldTypeNumber, testutil.Key()),
				testutil.Field("name", schema.FieldTypeText),
			),
		),
		testutil.Table("orders",
			testutil.WithDescription(strings.Repeat("transaction detail ", 120)),
			testutil.WithFields(
				testutil.Field("id", schema.FieldTypeNumber, testutil.Key()),
				testutil.Field("customer_id", schema.FieldTypeNumber, testutil.References("customers", "id")),
			),
		),
		testutil.Table("audit_log",
			testutil.WithFields(
				testutil.Field("id", schema.FieldTypeNumber, testutil.Key()),
				testutil.Field("event", schema.FieldTypeText),
			),
		),
	)
	version := testutil.MustLoad(t, snapshot)

	// Both customers and orders are named in the question. The oversized
	// orders table blows the budget, and once it is gone the unrelated
	// audit_log must not sneak in just because it happens to fit.
	assembler := prompt.NewAssembler(prompt.WithMaxContextBytes(700))

	req, err := assembler.Assemble(version, nil, nil, conversation.ResolvedContext{}, "customers and their orders")
	require.NoError(t, err)

	assert.Contains(t, req.SchemaContext, "Table: customers")
	assert.NotContains(t, req.SchemaContext, "Table: orders")
	assert.NotContains(t, req.SchemaContext, "Table: audit_log")
	assert.Contains(t, req.SchemaContext, "omitted tables: orders, audit_log")
}

func TestWithCorrectionsAugmentsPrompt(t *testing.T) {
	version := testutil.MustLoad(t, testutil.SampleSnapshot())
	assembler := prompt.NewAssembler()

	req, err := assembler.Assemble(version, nil, nil, conversation.ResolvedContext{}, "orders by month")
	require.NoError(t, err)

	retry := req.WithCorrections([]string{
		"unknown column orders.month",
		"column category must appear in GROUP BY",
	})

	rendered := retry.Render()
	assert.Contains(t, rendered, "Fix all of them")
	assert.Contains(t, rendered, "unknown column orders.month")

	// The original request is untouched.
	assert.NotContains(t, req.Render(), "Fix all of them")
	// Conversation context is preserved on the retry request.
	assert.Equal(t, req.SchemaContext, retry.SchemaContext)
}
