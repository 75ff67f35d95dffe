// Package schema holds the versioned description of the relational schema
// that queries are generated against. A Version is built once by Load and is
// immutable afterwards, so it can be shared by any number of concurrent
// sessions without locking. Updating the schema means loading a new Version,
// never mutating an existing one.
package schema

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// FieldType is the semantic type of a field as seen by the prompt and the
// validator. It is deliberately coarser than SQL column types.
type FieldType string

const (
	FieldTypeNumber FieldType = "NUMBER"
	FieldTypeText   FieldType = "TEXT"
	FieldTypeDate   FieldType = "DATE"
)

// Cardinality describes the direction of a relationship.
type Cardinality string

const (
	ManyToOne  Cardinality = "many_to_one"
	OneToMany  Cardinality = "one_to_many"
	OneToOne   Cardinality = "one_to_one"
	ManyToMany Cardinality = "many_to_many"
)

// FieldRef identifies a (table, field) pair.
type FieldRef struct {
	Table string `json:"table"`
	Field string `json:"field"`
}

func (r FieldRef) String() string {
	return r.Table + "." + r.Field
}

// FieldDef describes one column of a table.
type FieldDef struct {
	Name        string    `json:"name"`
	Type        FieldType `json:"type"`
	Description string    `json:"description,omitempty"`
	Nullable    bool      `json:"nullable,omitempty"`
	IsKey       bool      `json:"is_key,omitempty"`
	ForeignKey  *FieldRef `json:"foreign_key,omitempty"`
}

// JoinPair names the local and remote fields of one join condition.
type JoinPair struct {
	Local  string `json:"local"`
	Remote string `json:"remote"`
}

// Relationship declares a join path from the owning table to Table.
type Relationship struct {
	Table       string      `json:"table"`
	Cardinality Cardinality `json:"cardinality"`
	Joins       []JoinPair  `json:"joins"`
}

// TableDef describes a table, its fields in declaration order, and its
// declared relationships.
type TableDef struct {
	Name          string         `json:"name"`
	Description   string         `json:"description,omitempty"`
	Fields        []FieldDef     `json:"fields"`
	Relationships []Relationship `json:"relationships,omitempty"`
}

// Field returns the field with the given name, nil if absent. Matching is
// case-insensitive since generated SQL rarely preserves case.
func (t TableDef) Field(name string) *FieldDef {
	for i := range t.Fields {
		if strings.EqualFold(t.Fields[i].Name, name) {
			return &t.Fields[i]
		}
	}

	return nil
}

// BusinessContext is free-text domain knowledge included in every prompt.
type BusinessContext struct {
	Description string   `json:"description,omitempty"`
	KeyConcepts []string `json:"key_concepts,omitempty"`
}

// DatePattern is a reusable SQL fragment for a common date operation on the
// target database (e.g. monthly truncation).
type DatePattern struct {
	Description string `json:"description"`
	Pattern     string `json:"pattern"`
}

// DialectInfo carries per-database-type SQL conventions that the prompt
// assembler renders into rule text.
type DialectInfo struct {
	Type          string            `json:"type,omitempty"`
	DateFunctions map[string]string `json:"date_functions,omitempty"`
	DatePatterns  []DatePattern     `json:"date_patterns,omitempty"`
}

// Snapshot is the already-parsed schema document handed in by the caller.
// How it got parsed (YAML, introspection, hand-written JSON) is not this
// package's concern.
type Snapshot struct {
	Tables      map[string]TableDef `json:"tables"`
	Business    BusinessContext     `json:"business_context,omitempty"`
	Dialect     DialectInfo         `json:"database_config,omitempty"`
	GeneratedAt time.Time           `json:"generated_at,omitempty"`
}

// Version is a validated, immutable schema snapshot.
type Version struct {
	tables      map[string]TableDef
	names       []string
	business    BusinessContext
	dialect     DialectInfo
	generatedAt time.Time
}

// BrokenRef records one foreign-key or relationship reference that does not
// resolve within the snapshot.
type BrokenRef struct {
	Source FieldRef // where the reference was declared
	Target FieldRef // what it points at
	Reason string
}

func (b BrokenRef) String() string {
	return fmt.Sprintf("%s -> %s: %s", b.Source, b.Target, b.Reason)
}

// IntegrityError reports every unresolved reference found during Load, not
// just the first.
type IntegrityError struct {
	Unresolved []BrokenRef
}

func (e *IntegrityError) Error() string {
	refs := make([]string, len(e.Unresolved))
	for i, b := range e.Unresolved {
		refs[i] = b.String()
	}

	return fmt.Sprintf("schema snapshot has %d unresolved reference(s): %s",
		len(e.Unresolved), strings.Join(refs, "; "))
}

// UnknownTableError indicates a lookup for a table the version does not have.
type UnknownTableError struct {
	Table string
}

func (e *UnknownTableError) Error() string {
	return fmt.Sprintf("unknown table: %s", e.Table)
}

// Load validates a snapshot and returns an immutable Version. Every
// foreign-key reference and declared relationship must resolve to an
// existing (table, field) pair within the same snapshot; all violations are
// accumulated into a single IntegrityError.
func Load(snapshot Snapshot) (*Version, error) {
	tables := make(map[string]TableDef, len(snapshot.Tables))
	names := make([]string, 0, len(snapshot.Tables))

	for name, def := range snapshot.Tables {
		if def.Name == "" {
			def.Name = name
		}

		tables[name] = def
		names = append(names, name)
	}

	sort.Strings(names)

	var broken []BrokenRef

	for _, name := range names {
		def := tables[name]

		for _, field := range def.Fields {
			if field.ForeignKey == nil {
				continue
			}

			source := FieldRef{Table: name, Field: field.Name}
			target := *field.ForeignKey

			targetTable, ok := tables[target.Table]
			if !ok {
				broken = append(broken, BrokenRef{
					Source: source,
					Target: target,
					Reason: "referenced table does not exist",
				})

				continue
			}

			if targetTable.Field(target.Field) == nil {
				broken = append(broken, BrokenRef{
					Source: source,
					Target: target,
					Reason: "referenced field does not exist",
				})
			}
		}

		for _, rel := range def.Relationships {
			relTable, ok := tables[rel.Table]
			if !ok {
				broken = append(broken, BrokenRef{
					Source: FieldRef{Table: name},
					Target: FieldRef{Table: rel.Table},
					Reason: "relationship target does not exist",
				})

				continue
			}

			for _, join := range rel.Joins {
				if def.Field(join.Local) == nil {
					broken = append(broken, BrokenRef{
						Source: FieldRef{Table: name, Field: join.Local},
						Target: FieldRef{Table: rel.Table, Field: join.Remote},
						Reason: "local join field does not exist",
					})
				}

				if relTable.Field(join.Remote) == nil {
					broken = append(broken, BrokenRef{
						Source: FieldRef{Table: name, Field: join.Local},
						Target: FieldRef{Table: rel.Table, Field: join.Remote},
						Reason: "remote join field does not exist",
					})
				}
			}
		}
	}

	if len(broken) > 0 {
		return nil, &IntegrityError{Unresolved: broken}
	}

	generatedAt := snapshot.GeneratedAt
	if generatedAt.IsZero() {
		generatedAt = time.Now().UTC()
	}

	return &Version{
		tables:      tables,
		names:       names,
		business:    snapshot.Business,
		dialect:     snapshot.Dialect,
		generatedAt: generatedAt,
	}, nil
}

// Lookup returns the definition for the named table.
func (v *Version) Lookup(table string) (TableDef, error) {
	if def, ok := v.tables[table]; ok {
		return def, nil
	}

	// Generated SQL does not always preserve table-name casing.
	for name, def := range v.tables {
		if strings.EqualFold(name, table) {
			return def, nil
		}
	}

	return TableDef{}, &UnknownTableError{Table: table}
}

// TableNames returns the table names in sorted order.
func (v *Version) TableNames() []string {
	out := make([]string, len(v.names))
	copy(out, v.names)

	return out
}

// TableCount returns the number of tables in the version.
func (v *Version) TableCount() int {
	return len(v.names)
}

// Business returns the business context attached to the snapshot.
func (v *Version) Business() BusinessContext {
	return v.business
}

// Dialect returns the database-type conventions attached to the snapshot.
func (v *Version) Dialect() DialectInfo {
	return v.dialect
}

// GeneratedAt returns the snapshot timestamp.
func (v *Version) GeneratedAt() time.Time {
	return v.generatedAt
}

// IsKeyColumn reports whether any table declares a key field with this name.
// Used by entity extraction to decide whether a projected column carries
// identifier values.
func (v *Version) IsKeyColumn(column string) bool {
	for _, name := range v.names {
		if f := v.tables[name].Field(column); f != nil && f.IsKey {
			return true
		}
	}

	return false
}
