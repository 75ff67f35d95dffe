package genai

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractSQL(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    string
		wantErr bool
	}{
		{
			name: "fenced sql block",
			raw:  "Here is the query:\n```sql\nSELECT * FROM orders\n```",
			want: "SELECT * FROM orders",
		},
		{
			name: "fenced block without language tag",
			raw:  "```\nSELECT name FROM customers\n```",
			want: "SELECT name FROM customers",
		},
		{
			name: "first of multiple fences wins",
			raw:  "```sql\nSELECT 1\n```\nOr alternatively:\n```sql\nSELECT 2\n```",
			want: "SELECT 1",
		},
		{
			name: "bare statement",
			raw:  "  SELECT COUNT(*) FROM orders  ",
			want: "SELECT COUNT(*) FROM orders",
		},
		{
			name: "cte statement",
			raw:  "WITH recent AS (SELECT * FROM orders) SELECT * FROM recent",
			want: "WITH recent AS (SELECT * FROM orders) SELECT * FROM recent",
		},
		{
			name: "lowercase keyword",
			raw:  "select id from nations",
			want: "select id from nations",
		},
		{
			name: "unfenced statement after prose line",
			raw:  "Here is the query:\nSELECT id FROM orders",
			want: "SELECT id FROM orders",
		},
		{
			name:    "prose without sql",
			raw:     "I cannot answer that question from the available tables.",
			wantErr: true,
		},
		{
			name:    "refusal containing the word with",
			raw:     "I am unable to help with that.",
			wantErr: true,
		},
		{
			name:    "prose mentioning select mid-sentence",
			raw:     "You could select a table first and try again.",
			wantErr: true,
		},
		{
			name:    "empty response",
			raw:     "   ",
			wantErr: true,
		},
		{
			name:    "fenced block without sql",
			raw:     "```\nno query here\n```",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractSQL(tt.raw)
			if tt.wantErr {
				require.Error(t, err)

				var malformedErr *MalformedResponseError
				assert.ErrorAs(t, err, &malformedErr)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
