// Package runner executes accepted queries against DuckDB and returns
// results in the string form the conversation memory consumes.
package runner

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/marcboeker/go-duckdb" // DuckDB driver

	apperrors "github.com/jmd-jude/db-chat/internal/errors"
)

// DefaultMaxRows caps how many result rows a single query returns.
const DefaultMaxRows = 1000

// ResultSet holds the rows a query produced. Values are stringified so the
// result can feed entity extraction and terminal display directly.
type ResultSet struct {
	Columns   []string
	Rows      [][]string
	Truncated bool
	Duration  time.Duration
}

// Runner executes read-only queries against a DuckDB database.
type Runner struct {
	db      *sql.DB
	maxRows int
}

// Option configures a Runner.
type Option func(*Runner)

// WithMaxRows overrides the result row cap.
func WithMaxRows(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.maxRows = n
		}
	}
}

// New opens the DuckDB database at the given path.
func New(dbPath string, opts ...Option) (*Runner, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrTypeDatabase, "failed to create database directory")
	}

	db, err := sql.Open("duckdb", dbPath)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrTypeDatabase, "failed to open database")
	}

	if err := db.Ping(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrTypeDatabase, "failed to ping database").
			WithSuggestion("Check that the database file is not locked by another process")
	}

	return NewWithDB(db, opts...), nil
}

// NewWithDB wraps an existing database handle.
func NewWithDB(db *sql.DB, opts ...Option) *Runner {
	r := &Runner{
		db:      db,
		maxRows: DefaultMaxRows,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Execute runs a SELECT or WITH query and collects the stringified rows.
// Anything else is rejected before touching the database.
func (r *Runner) Execute(ctx context.Context, query string) (*ResultSet, error) {
	trimmed := strings.TrimSpace(query)
	upper := strings.ToUpper(trimmed)

	if !strings.HasPrefix(upper, "SELECT") && !strings.HasPrefix(upper, "WITH") {
		return nil, apperrors.Newf(apperrors.ErrTypeDatabase,
			"only SELECT and WITH statements can be executed, got %q", firstWord(trimmed))
	}

	start := time.Now()

	rows, err := r.db.QueryContext(ctx, trimmed)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrTypeDatabase, "query execution failed")
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrTypeDatabase, "failed to read result columns")
	}

	result := &ResultSet{Columns: columns}

	for rows.Next() {
		if len(result.Rows) >= r.maxRows {
			result.Truncated = true
			break
		}

		values := make([]interface{}, len(columns))
		valuePtrs := make([]interface{}, len(columns))

		for i := range values {
			valuePtrs[i] = &values[i]
		}

		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrTypeDatabase, "failed to scan row")
		}

		row := make([]string, len(values))
		for i, v := range values {
			row[i] = formatValue(v)
		}

		result.Rows = append(result.Rows, row)
	}

	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrTypeDatabase, "error while reading rows")
	}

	result.Duration = time.Since(start)

	return result, nil
}

// Close closes the underlying database handle.
func (r *Runner) Close() error {
	return r.db.Close()
}

func firstWord(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}

	return fields[0]
}

// formatValue renders a scanned driver value as display text. NULL becomes
// the empty string.
func formatValue(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case []byte:
		return string(val)
	case string:
		return val
	case time.Time:
		if val.Hour() == 0 && val.Minute() == 0 && val.Second() == 0 {
			return val.Format("2006-01-02")
		}

		return val.Format("2006-01-02 15:04:05")
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case int64:
		return strconv.FormatInt(val, 10)
	case int32:
		return strconv.FormatInt(int64(val), 10)
	case int:
		return strconv.Itoa(val)
	case bool:
		return strconv.FormatBool(val)
	default:
		return fmt.Sprintf("%v", val)
	}
}
