// Package validate checks generated SQL against a schema version before it
// is handed back to the caller. Checks accumulate: every violation in the
// statement is reported in one pass rather than stopping at the first.
package validate

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/jmd-jude/db-chat/internal/schema"
)

// Severity classifies how a violation affects the statement.
type Severity string

const (
	// SeverityBlocking violations make the statement unusable.
	SeverityBlocking Severity = "blocking"
	// SeverityAdvisory violations flag likely mistakes that still execute.
	SeverityAdvisory Severity = "advisory"
)

// Violation kinds
const (
	KindSyntax         = "syntax"
	KindUnknownTable   = "unknown-table"
	KindUnknownColumn  = "unknown-column"
	KindUnverifiedJoin = "unverified-join"
	KindAggregation    = "aggregation-consistency"
)

// Violation is a single problem found in a statement.
type Violation struct {
	Kind     string
	Severity Severity
	Detail   string
}

func (v Violation) String() string {
	return fmt.Sprintf("[%s] %s: %s", v.Severity, v.Kind, v.Detail)
}

// Result holds all violations found in a statement.
type Result struct {
	Violations []Violation
}

// IsValid reports whether the statement has no blocking violations.
// Advisory violations do not invalidate a statement.
func (r Result) IsValid() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityBlocking {
			return false
		}
	}

	return true
}

// Blocking returns only the blocking violations.
func (r Result) Blocking() []Violation {
	var out []Violation
	for _, v := range r.Violations {
		if v.Severity == SeverityBlocking {
			out = append(out, v)
		}
	}

	return out
}

// Advisory returns only the advisory violations.
func (r Result) Advisory() []Violation {
	var out []Violation
	for _, v := range r.Violations {
		if v.Severity == SeverityAdvisory {
			out = append(out, v)
		}
	}

	return out
}

var (
	startKeyword = regexp.MustCompile(`(?i)^\s*(SELECT|WITH)\b`)
	cteName      = regexp.MustCompile(`(?i)\b([a-zA-Z_]\w*)\s+AS\s*\(`)
	tableRef     = regexp.MustCompile(`(?i)\b(?:FROM|JOIN)\s+([a-zA-Z_]\w*)(?:\s+(?:AS\s+)?([a-zA-Z_]\w*))?`)
	qualifiedCol = regexp.MustCompile(`\b([a-zA-Z_]\w*)\.([a-zA-Z_]\w*)`)
	joinCond     = regexp.MustCompile(`(?i)\bON\s+([a-zA-Z_]\w*)\.([a-zA-Z_]\w*)\s*=\s*([a-zA-Z_]\w*)\.([a-zA-Z_]\w*)`)
	aggregateFn  = regexp.MustCompile(`(?i)\b(COUNT|SUM|AVG|MIN|MAX)\s*\(`)
	identifier   = regexp.MustCompile(`[a-zA-Z_]\w*(?:\.[a-zA-Z_]\w*)?`)
	stringLit    = regexp.MustCompile(`'(?:[^']|'')*'`)
	withPrefix   = regexp.MustCompile(`(?i)^\s*WITH\b`)
	extractExpr  = regexp.MustCompile(`(?i)\bEXTRACT\s*\([^)]*\)`)
	groupByList  = regexp.MustCompile(`(?is)\bGROUP\s+BY\s+(.*?)(?:\bHAVING\b|\bORDER\b|\bLIMIT\b|$)`)
)

// reserved words that must not be mistaken for a table alias
var reservedAlias = map[string]bool{
	"on": true, "where": true, "group": true, "order": true, "having": true,
	"limit": true, "join": true, "left": true, "right": true, "inner": true,
	"outer": true, "full": true, "cross": true, "union": true, "using": true,
	"select": true, "with": true, "as": true,
}

// tableBinding maps an alias (or the bare table name) to a resolved table.
type tableBinding struct {
	alias string
	table string // empty when the table is unknown or a CTE
	known bool
}

// Validate runs all checks against the statement and accumulates every
// violation found. A typed nil version is rejected.
func Validate(sql string, version *schema.Version) Result {
	var result Result

	if version == nil {
		result.add(KindSyntax, SeverityBlocking, "no schema version to validate against")
		return result
	}

	trimmed := strings.TrimSpace(sql)
	if trimmed == "" {
		result.add(KindSyntax, SeverityBlocking, "statement is empty")
		return result
	}

	checkSyntax(trimmed, &result)

	// string literals and EXTRACT(... FROM ...) expressions would otherwise
	// produce spurious identifier and table matches
	scrubbed := stringLit.ReplaceAllString(trimmed, "''")
	scrubbed = extractExpr.ReplaceAllString(scrubbed, "extract_expr()")

	ctes := cteNames(scrubbed)
	bindings := resolveTables(scrubbed, version, ctes, &result)
	checkColumns(scrubbed, version, bindings, ctes, &result)
	checkJoins(scrubbed, version, bindings, &result)
	checkAggregation(scrubbed, &result)

	return result
}

func (r *Result) add(kind string, severity Severity, detail string) {
	r.Violations = append(r.Violations, Violation{Kind: kind, Severity: severity, Detail: detail})
}

func checkSyntax(sql string, result *Result) {
	if !startKeyword.MatchString(sql) {
		result.add(KindSyntax, SeverityBlocking, "statement must start with SELECT or WITH")
	}

	depth := 0
	for _, r := range sql {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
			if depth < 0 {
				result.add(KindSyntax, SeverityBlocking, "unbalanced closing parenthesis")
				return
			}
		}
	}
	if depth > 0 {
		result.add(KindSyntax, SeverityBlocking, fmt.Sprintf("%d unclosed parenthesis(es)", depth))
	}

	if strings.Count(sql, "'")%2 != 0 {
		result.add(KindSyntax, SeverityBlocking, "unterminated string literal")
	}
}

func cteNames(sql string) map[string]bool {
	names := map[string]bool{}
	if !withPrefix.MatchString(sql) {
		return names
	}

	for _, match := range cteName.FindAllStringSubmatch(sql, -1) {
		names[strings.ToLower(match[1])] = true
	}

	return names
}

// resolveTables finds every FROM/JOIN reference and binds aliases to schema
// tables. Unknown tables are reported once each.
func resolveTables(sql string, version *schema.Version, ctes map[string]bool, result *Result) []tableBinding {
	var bindings []tableBinding
	reported := map[string]bool{}

	for _, match := range tableRef.FindAllStringSubmatch(sql, -1) {
		name := match[1]
		alias := match[2]
		if reservedAlias[strings.ToLower(alias)] {
			alias = ""
		}
		if alias == "" {
			alias = name
		}

		lower := strings.ToLower(name)
		if ctes[lower] {
			bindings = append(bindings, tableBinding{alias: strings.ToLower(alias)})
			continue
		}

		table, err := version.Lookup(name)
		if err != nil {
			if !reported[lower] {
				reported[lower] = true
				result.add(KindUnknownTable, SeverityBlocking,
					fmt.Sprintf("table %q is not in the schema", name))
			}
			bindings = append(bindings, tableBinding{alias: strings.ToLower(alias)})
			continue
		}

		bindings = append(bindings, tableBinding{
			alias: strings.ToLower(alias),
			table: table.Name,
			known: true,
		})
	}

	return bindings
}

func lookupBinding(bindings []tableBinding, alias string) (tableBinding, bool) {
	lower := strings.ToLower(alias)
	for _, b := range bindings {
		if b.alias == lower {
			return b, true
		}
	}

	return tableBinding{}, false
}

// checkColumns verifies every qualified column reference against the table
// its alias resolves to. Columns on unknown tables or CTEs are skipped: the
// unknown-table violation already covers the former, and CTE output columns
// are not in the schema.
func checkColumns(sql string, version *schema.Version, bindings []tableBinding, ctes map[string]bool, result *Result) {
	reported := map[string]bool{}

	for _, match := range qualifiedCol.FindAllStringSubmatch(sql, -1) {
		alias, column := match[1], match[2]

		binding, ok := lookupBinding(bindings, alias)
		if !ok || !binding.known {
			continue
		}

		table, err := version.Lookup(binding.table)
		if err != nil {
			continue
		}

		if table.Field(column) == nil {
			key := strings.ToLower(binding.table + "." + column)
			if !reported[key] {
				reported[key] = true
				result.add(KindUnknownColumn, SeverityBlocking,
					fmt.Sprintf("column %q does not exist on table %q", column, table.Name))
			}
		}
	}
}

// checkJoins flags ON equality conditions that match no declared foreign key
// or relationship in either direction.
func checkJoins(sql string, version *schema.Version, bindings []tableBinding, result *Result) {
	for _, match := range joinCond.FindAllStringSubmatch(sql, -1) {
		left, ok1 := lookupBinding(bindings, match[1])
		right, ok2 := lookupBinding(bindings, match[3])
		if !ok1 || !ok2 || !left.known || !right.known {
			continue
		}

		leftCol, rightCol := match[2], match[4]
		if joinDeclared(version, left.table, leftCol, right.table, rightCol) {
			continue
		}

		result.add(KindUnverifiedJoin, SeverityAdvisory,
			fmt.Sprintf("join %s.%s = %s.%s matches no declared relationship",
				left.table, leftCol, right.table, rightCol))
	}
}

func joinDeclared(version *schema.Version, leftTable, leftCol, rightTable, rightCol string) bool {
	return joinDeclaredOneWay(version, leftTable, leftCol, rightTable, rightCol) ||
		joinDeclaredOneWay(version, rightTable, rightCol, leftTable, leftCol)
}

func joinDeclaredOneWay(version *schema.Version, localTable, localCol, remoteTable, remoteCol string) bool {
	table, err := version.Lookup(localTable)
	if err != nil {
		return false
	}

	if field := table.Field(localCol); field != nil && field.ForeignKey != nil {
		if strings.EqualFold(field.ForeignKey.Table, remoteTable) &&
			strings.EqualFold(field.ForeignKey.Field, remoteCol) {
			return true
		}
	}

	for _, rel := range table.Relationships {
		if !strings.EqualFold(rel.Table, remoteTable) {
			continue
		}
		for _, join := range rel.Joins {
			if strings.EqualFold(join.Local, localCol) && strings.EqualFold(join.Remote, remoteCol) {
				return true
			}
		}
	}

	return false
}

// checkAggregation verifies that a select list mixing aggregate functions
// with bare columns lists every bare column in GROUP BY.
func checkAggregation(sql string, result *Result) {
	selectList := selectListOf(sql)
	if selectList == "" {
		return
	}

	selectList = strings.TrimSpace(selectList)
	if len(selectList) > 9 && strings.EqualFold(selectList[:9], "DISTINCT ") {
		selectList = selectList[9:]
	}

	exprs := splitTopLevel(selectList)

	var bare []string
	hasAggregate := false
	for _, expr := range exprs {
		if aggregateFn.MatchString(expr) {
			hasAggregate = true
			continue
		}
		if col := bareColumnOf(expr); col != "" {
			bare = append(bare, col)
		}
	}

	if !hasAggregate || len(bare) == 0 {
		return
	}

	grouped := groupByColumns(sql)

	var missing []string
	for _, col := range bare {
		if !grouped[strings.ToLower(col)] && !grouped[unqualify(col)] {
			missing = append(missing, col)
		}
	}

	if len(missing) > 0 {
		sort.Strings(missing)
		result.add(KindAggregation, SeverityAdvisory,
			fmt.Sprintf("non-aggregated column(s) %s missing from GROUP BY", strings.Join(missing, ", ")))
	}
}

// selectListOf returns the text between the outermost SELECT and its FROM.
func selectListOf(sql string) string {
	upper := strings.ToUpper(sql)

	start := indexAtDepthZero(upper, "SELECT")
	if start < 0 {
		return ""
	}
	start += len("SELECT")

	rest := upper[start:]
	end := indexAtDepthZero(rest, "FROM")
	if end < 0 {
		return ""
	}

	return sql[start : start+end]
}

// indexAtDepthZero finds a keyword occurrence outside any parentheses.
func indexAtDepthZero(upper, keyword string) int {
	depth := 0
	for i := 0; i+len(keyword) <= len(upper); i++ {
		switch upper[i] {
		case '(':
			depth++
		case ')':
			depth--
		}
		if depth != 0 {
			continue
		}
		if strings.HasPrefix(upper[i:], keyword) && isWordBoundary(upper, i, len(keyword)) {
			return i
		}
	}

	return -1
}

func isWordBoundary(s string, start, length int) bool {
	before := start == 0 || !isWordChar(s[start-1])
	after := start+length >= len(s) || !isWordChar(s[start+length])
	return before && after
}

func isWordChar(b byte) bool {
	return b == '_' || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}

func splitTopLevel(list string) []string {
	var parts []string
	depth := 0
	start := 0
	for i, r := range list {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
		case ',':
			if depth == 0 {
				parts = append(parts, strings.TrimSpace(list[start:i]))
				start = i + 1
			}
		}
	}
	parts = append(parts, strings.TrimSpace(list[start:]))

	return parts
}

// bareColumnOf extracts the column reference from a plain select expression.
// Expressions with operators or function calls are left alone.
func bareColumnOf(expr string) string {
	// strip a trailing alias
	fields := strings.Fields(expr)
	switch len(fields) {
	case 1, 2:
	case 3:
		if !strings.EqualFold(fields[1], "as") {
			return ""
		}
	default:
		return ""
	}
	head := fields[0]

	if head == "*" || strings.ContainsAny(head, "()+-*/") {
		return ""
	}

	if identifier.FindString(head) != head {
		return ""
	}

	return head
}

func groupByColumns(sql string) map[string]bool {
	grouped := map[string]bool{}

	match := groupByList.FindStringSubmatch(sql)
	if match == nil {
		return grouped
	}

	for _, part := range splitTopLevel(match[1]) {
		col := strings.ToLower(strings.TrimSpace(part))
		if col == "" {
			continue
		}
		grouped[col] = true
		grouped[unqualify(col)] = true
	}

	return grouped
}

func unqualify(col string) string {
	col = strings.ToLower(col)
	if i := strings.LastIndex(col, "."); i >= 0 {
		return col[i+1:]
	}

	return col
}
