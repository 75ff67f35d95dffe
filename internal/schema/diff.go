package schema

import "sort"

// ChangeKind classifies one difference between two schema versions.
type ChangeKind string

const (
	TableAdded   ChangeKind = "table_added"
	TableRemoved ChangeKind = "table_removed"
	FieldAdded   ChangeKind = "field_added"
	FieldRemoved ChangeKind = "field_removed"
)

// Breaking reports whether the change can invalidate queries generated
// against the older version.
func (k ChangeKind) Breaking() bool {
	return k == TableRemoved || k == FieldRemoved
}

// Change records a single difference found by Diff.
type Change struct {
	Table string
	Field string // empty for table-level changes
	Kind  ChangeKind
}

// Diff compares two versions and returns the table and field level changes,
// ordered by table name then field name. Removals come from older, additions
// from newer.
func Diff(older, newer *Version) []Change {
	var changes []Change

	for _, name := range older.TableNames() {
		oldTable := older.tables[name]

		newTable, ok := newer.tables[name]
		if !ok {
			changes = append(changes, Change{Table: name, Kind: TableRemoved})
			continue
		}

		for _, f := range oldTable.Fields {
			if newTable.Field(f.Name) == nil {
				changes = append(changes, Change{Table: name, Field: f.Name, Kind: FieldRemoved})
			}
		}

		for _, f := range newTable.Fields {
			if oldTable.Field(f.Name) == nil {
				changes = append(changes, Change{Table: name, Field: f.Name, Kind: FieldAdded})
			}
		}
	}

	for _, name := range newer.TableNames() {
		if _, ok := older.tables[name]; !ok {
			changes = append(changes, Change{Table: name, Kind: TableAdded})
		}
	}

	sort.Slice(changes, func(i, j int) bool {
		if changes[i].Table != changes[j].Table {
			return changes[i].Table < changes[j].Table
		}

		return changes[i].Field < changes[j].Field
	})

	return changes
}
