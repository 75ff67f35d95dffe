package conversation_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmd-jude/db-chat/internal/conversation"
	"github.com/jmd-jude/db-chat/internal/testutil"
)

func TestAppendAssignsMonotonicIDs(t *testing.T) {
	memory := conversation.NewMemory()

	first := memory.Append(conversation.Turn{Question: "how many customers?"})
	second := memory.Append(conversation.Turn{Question: "and orders?"})

	assert.Equal(t, int64(1), first.ID)
	assert.Equal(t, int64(2), second.ID)
	assert.False(t, first.Timestamp.IsZero())
}

func TestAppendEvictsOldestPastCap(t *testing.T) {
	cap := 5
	memory := conversation.NewMemory(conversation.WithTurnCap(cap))

	for i := 0; i <= cap; i++ {
		memory.Append(conversation.Turn{Question: fmt.Sprintf("question %d", i)})
	}

	history := memory.History()
	require.Len(t, history, cap)

	// Turn 1 (question 0) is gone; the log starts at question 1.
	assert.Equal(t, "question 1", history[0].Question)
	assert.Equal(t, int64(2), history[0].ID)
	assert.Equal(t, int64(6), history[cap-1].ID)
}

func TestExtractEntitiesFromKeyColumns(t *testing.T) {
	version := testutil.MustLoad(t, testutil.SampleSnapshot())
	memory := conversation.NewMemory()

	columns := []string{"id", "name", "total_price"}
	rows := [][]string{
		{"103", "Acme Corp", "120.00"},
		{"101", "Widget Co", "88.50"},
		{"103", "Acme Corp", "45.00"}, // duplicate id
	}

	entities := memory.ExtractEntities(columns, rows, version)

	assert.Equal(t, []string{"101", "103"}, entities)
}

func TestExtractEntitiesMatchesIdentifierPattern(t *testing.T) {
	memory := conversation.NewMemory()

	// No schema version: the column name pattern alone decides.
	entities := memory.ExtractEntities(
		[]string{"customer_id", "revenue"},
		[][]string{{"42", "100"}, {"7", "250"}},
		nil,
	)

	assert.Equal(t, []string{"42", "7"}, entities)
}

func TestExtractEntitiesIgnoresNonIdentifierColumns(t *testing.T) {
	memory := conversation.NewMemory()

	entities := memory.ExtractEntities(
		[]string{"category", "revenue"},
		[][]string{{"Electronics", "100"}},
		nil,
	)

	assert.Empty(t, entities)
}

func TestExtractEntitiesRespectsCap(t *testing.T) {
	memory := conversation.NewMemory(conversation.WithEntityCap(10))

	rows := make([][]string, 100)
	for i := range rows {
		rows[i] = []string{fmt.Sprintf("%03d", i)}
	}

	entities := memory.ExtractEntities([]string{"id"}, rows, nil)

	assert.Len(t, entities, 10)
}

func TestResolveReferencesWithPriorEntities(t *testing.T) {
	version := testutil.MustLoad(t, testutil.SampleSnapshot())
	memory := conversation.NewMemory()

	rows := make([][]string, 10)
	for i := range rows {
		rows[i] = []string{fmt.Sprintf("%d", 100+i)}
	}

	memory.Commit(
		"Who are my 10 best customers?",
		"SELECT id FROM customers ORDER BY lifetime_value DESC LIMIT 10",
		[]string{"id"},
		rows,
		version,
	)

	resolved := memory.ResolveReferences("What countries are they from?")

	assert.True(t, resolved.Referring)
	assert.Equal(t, "they", resolved.Expression)
	assert.Len(t, resolved.Entities, 10)
}

func TestResolveReferencesWithoutReferringExpression(t *testing.T) {
	memory := conversation.NewMemory()
	memory.Append(conversation.Turn{
		Question: "top customers",
		Entities: []string{"1", "2"},
	})

	resolved := memory.ResolveReferences("Who are my 10 best customers?")

	assert.False(t, resolved.Referring)
	assert.Empty(t, resolved.Entities)
}

func TestResolveReferencesDetectsDemonstrativePhrases(t *testing.T) {
	memory := conversation.NewMemory()
	memory.Append(conversation.Turn{Question: "q", Entities: []string{"9"}})

	tests := []struct {
		question   string
		expression string
	}{
		{"What regions are those in?", "those"},
		{"Break that group down by state", "that group"},
		{"Show their average order value", "their"},
	}

	for _, tt := range tests {
		t.Run(tt.question, func(t *testing.T) {
			resolved := memory.ResolveReferences(tt.question)

			assert.True(t, resolved.Referring)
			assert.Equal(t, tt.expression, resolved.Expression)
			assert.Equal(t, []string{"9"}, resolved.Entities)
		})
	}
}

func TestActiveEntitiesSkipsTurnsWithoutResults(t *testing.T) {
	memory := conversation.NewMemory()
	memory.Append(conversation.Turn{Question: "first", Entities: []string{"5", "6"}})
	memory.Append(conversation.Turn{Question: "second"})

	assert.Equal(t, []string{"5", "6"}, memory.ActiveEntities())
}

func TestWindow(t *testing.T) {
	memory := conversation.NewMemory()
	for i := range 5 {
		memory.Append(conversation.Turn{Question: fmt.Sprintf("question %d", i)})
	}

	window := memory.Window(3)

	require.Len(t, window, 3)
	assert.Equal(t, "question 2", window[0].Question)
	assert.Equal(t, "question 4", window[2].Question)

	assert.Nil(t, memory.Window(0))
	assert.Len(t, memory.Window(10), 5)
}
