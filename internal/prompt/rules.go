package prompt

// Rule is one generation guideline. Key identifies the rule for merging;
// Text is what the backend sees.
type Rule struct {
	Key  string `json:"key"`
	Text string `json:"text"`
}

// DefaultRules is the base rule list applied to every database type.
func DefaultRules() []Rule {
	return []Rule{
		{Key: "schema-only", Text: "Use only tables and columns that exist in the schema."},
		{Key: "joins", Text: "Include appropriate JOIN conditions when combining tables, using the declared join fields."},
		{Key: "aliases", Text: "Use proper table aliases in joins and qualify column references (alias.column)."},
		{Key: "money", Text: "Format monetary values using ROUND(..., 2)."},
		{Key: "nulls", Text: "Use COALESCE for handling NULL values in calculations."},
		{Key: "limit", Text: "Only add a LIMIT clause if specifically requested or for non-aggregated results."},
		{Key: "output", Text: "Return only the SQL query, nothing else."},
	}
}

// MergeRules applies database-type-specific overrides to the base list.
// An override whose key collides with a base rule replaces that rule in
// place; overrides with new keys are appended in their given order. Textual
// replacement only, never concatenation.
func MergeRules(base, overrides []Rule) []Rule {
	merged := make([]Rule, len(base))
	copy(merged, base)

	index := make(map[string]int, len(base))
	for i, r := range base {
		index[r.Key] = i
	}

	for _, override := range overrides {
		if i, ok := index[override.Key]; ok {
			merged[i] = override
			continue
		}

		index[override.Key] = len(merged)
		merged = append(merged, override)
	}

	return merged
}
