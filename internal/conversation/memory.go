// Package conversation tracks the turn-by-turn state of one chat session so
// that follow-up questions ("what countries are they from?") can be resolved
// against entities established by earlier results. A Memory is exclusively
// owned by its session; it is not safe for concurrent use and does not need
// to be, since turns within a session are strictly sequential.
package conversation

import (
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/jmd-jude/db-chat/internal/schema"
)

const (
	// DefaultTurnCap bounds the number of retained turns per session.
	DefaultTurnCap = 50

	// DefaultEntityCap bounds the distinct entity values recorded per turn,
	// so a large result set cannot grow memory without bound.
	DefaultEntityCap = 50
)

// Turn is one question/answer exchange. Turns are immutable once appended; a
// correction is a new turn, never an edit.
type Turn struct {
	ID             int64
	Question       string
	GeneratedQuery string
	Entities       []string
	Timestamp      time.Time
}

// ResolvedContext is the outcome of referring-expression detection. When
// Referring is false the hint is empty and the question stands on its own.
type ResolvedContext struct {
	Referring  bool
	Expression string
	Entities   []string
}

// Memory is the ordered log of turns for a single session.
type Memory struct {
	turnCap   int
	entityCap int
	nextID    int64
	turns     []Turn
}

// Option configures a Memory.
type Option func(*Memory)

// WithTurnCap overrides the retained-turn limit.
func WithTurnCap(cap int) Option {
	return func(m *Memory) {
		if cap > 0 {
			m.turnCap = cap
		}
	}
}

// WithEntityCap overrides the per-turn entity limit.
func WithEntityCap(cap int) Option {
	return func(m *Memory) {
		if cap > 0 {
			m.entityCap = cap
		}
	}
}

// NewMemory creates an empty session memory.
func NewMemory(opts ...Option) *Memory {
	m := &Memory{
		turnCap:   DefaultTurnCap,
		entityCap: DefaultEntityCap,
		nextID:    1,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Append adds a turn to the log, assigning it the next monotonic ID. When
// the session exceeds the turn cap the oldest turn is evicted (FIFO); that
// is a bounded-memory policy, not an error.
func (m *Memory) Append(turn Turn) Turn {
	turn.ID = m.nextID
	m.nextID++

	if turn.Timestamp.IsZero() {
		turn.Timestamp = time.Now().UTC()
	}

	m.turns = append(m.turns, turn)
	if len(m.turns) > m.turnCap {
		m.turns = m.turns[len(m.turns)-m.turnCap:]
	}

	return turn
}

// Commit extracts entities from the turn's result rows and appends the
// completed turn in one step, so extraction for turn N always finishes
// before turn N+1 resolves against it.
func (m *Memory) Commit(
	question, query string,
	columns []string,
	rows [][]string,
	version *schema.Version,
) Turn {
	return m.Append(Turn{
		Question:       question,
		GeneratedQuery: query,
		Entities:       m.ExtractEntities(columns, rows, version),
	})
}

// identifierColumn matches projected column names that conventionally carry
// identifiers: "id", "customer_id", "c_custkey", and the like.
var identifierColumn = regexp.MustCompile(`(?i)^(id|.*_id|.*_?key)$`)

// ExtractEntities records the literal values of identifier-like projected
// columns: columns flagged as keys in the schema, or whose name matches the
// identifier pattern. Values are deduplicated, sorted, and capped.
func (m *Memory) ExtractEntities(
	columns []string,
	rows [][]string,
	version *schema.Version,
) []string {
	var keyIdx []int

	for i, col := range columns {
		if identifierColumn.MatchString(col) || (version != nil && version.IsKeyColumn(col)) {
			keyIdx = append(keyIdx, i)
		}
	}

	if len(keyIdx) == 0 {
		return nil
	}

	seen := make(map[string]struct{})

	var entities []string

	for _, row := range rows {
		for _, i := range keyIdx {
			if i >= len(row) {
				continue
			}

			value := strings.TrimSpace(row[i])
			if value == "" {
				continue
			}

			if _, ok := seen[value]; ok {
				continue
			}

			seen[value] = struct{}{}
			entities = append(entities, value)

			if len(entities) >= m.entityCap {
				sort.Strings(entities)
				return entities
			}
		}
	}

	sort.Strings(entities)

	return entities
}

// Referring-expression detection is a mechanical pattern match; ambiguous
// phrasing beyond pronouns and demonstratives is never guessed at.
var referringExpression = regexp.MustCompile(
	`(?i)\b(they|them|their|theirs|those|these|that group|this group|that set|that list)\b`,
)

// ResolveReferences detects a referring expression in the question and, if
// one is found, attaches the active entity set as an explicit filter hint.
// Without a referring expression the hint is empty.
func (m *Memory) ResolveReferences(question string) ResolvedContext {
	match := referringExpression.FindString(question)
	if match == "" {
		return ResolvedContext{}
	}

	return ResolvedContext{
		Referring:  true,
		Expression: strings.ToLower(match),
		Entities:   m.ActiveEntities(),
	}
}

// ActiveEntities returns the entity set of the most recent turn that
// produced one.
func (m *Memory) ActiveEntities() []string {
	for i := len(m.turns) - 1; i >= 0; i-- {
		if len(m.turns[i].Entities) > 0 {
			out := make([]string, len(m.turns[i].Entities))
			copy(out, m.turns[i].Entities)

			return out
		}
	}

	return nil
}

// Window returns the most recent k turns in chronological order.
func (m *Memory) Window(k int) []Turn {
	if k <= 0 || len(m.turns) == 0 {
		return nil
	}

	if k > len(m.turns) {
		k = len(m.turns)
	}

	out := make([]Turn, k)
	copy(out, m.turns[len(m.turns)-k:])

	return out
}

// History returns a copy of all retained turns in chronological order.
func (m *Memory) History() []Turn {
	out := make([]Turn, len(m.turns))
	copy(out, m.turns)

	return out
}

// Len returns the number of retained turns.
func (m *Memory) Len() int {
	return len(m.turns)
}
