// Package testutil provides builders shared by tests across packages.
package testutil

import (
	"testing"

	"github.com/jmd-jude/db-chat/internal/schema"
)

// FieldOption is a functional option for configuring test fields
type FieldOption func(*schema.FieldDef)

// Key marks the field as a key column
func Key() FieldOption {
	return func(f *schema.FieldDef) {
		f.IsKey = true
	}
}

// Nullable marks the field as nullable
func Nullable() FieldOption {
	return func(f *schema.FieldDef) {
		f.Nullable = true
	}
}

// References sets a foreign-key reference on the field
func References(table, field string) FieldOption {
	return func(f *schema.FieldDef) {
		f.ForeignKey = &schema.FieldRef{Table: table, Field: field}
	}
}

// Describe sets the field description
func Describe(desc string) FieldOption {
	return func(f *schema.FieldDef) {
		f.Description = desc
	}
}

// Field builds a field definition with the given options
func Field(name string, fieldType schema.FieldType, opts ...FieldOption) schema.FieldDef {
	f := schema.FieldDef{Name: name, Type: fieldType}
	for _, opt := range opts {
		opt(&f)
	}

	return f
}

// TableOption is a functional option for configuring test tables
type TableOption func(*schema.TableDef)

// WithFields sets the table fields
func WithFields(fields ...schema.FieldDef) TableOption {
	return func(t *schema.TableDef) {
		t.Fields = fields
	}
}

// WithDescription sets the table description
func WithDescription(desc string) TableOption {
	return func(t *schema.TableDef) {
		t.Description = desc
	}
}

// WithRelationship adds a many-to-one relationship to the table
func WithRelationship(target string, local, remote string) TableOption {
	return func(t *schema.TableDef) {
		t.Relationships = append(t.Relationships, schema.Relationship{
			Table:       target,
			Cardinality: schema.ManyToOne,
			Joins:       []schema.JoinPair{{Local: local, Remote: remote}},
		})
	}
}

// Table builds a table definition with the given options
func Table(name string, opts ...TableOption) schema.TableDef {
	t := schema.TableDef{Name: name}
	for _, opt := range opts {
		opt(&t)
	}

	return t
}

// Snapshot builds a snapshot from the given tables
func Snapshot(tables ...schema.TableDef) schema.Snapshot {
	s := schema.Snapshot{Tables: make(map[string]schema.TableDef, len(tables))}
	for _, t := range tables {
		s.Tables[t.Name] = t
	}

	return s
}

// SampleSnapshot returns the e-commerce schema used throughout the tests:
// customers referencing nations, orders referencing customers.
func SampleSnapshot() schema.Snapshot {
	s := Snapshot(
		Table("nations",
			WithDescription("Reference list of nations"),
			WithFields(
				Field("id", schema.FieldTypeNumber, Key()),
				Field("name", schema.FieldTypeText),
				Field("region", schema.FieldTypeText),
			),
		),
		Table("customers",
			WithDescription("Customer demographics and registration data"),
			WithFields(
				Field("id", schema.FieldTypeNumber, Key()),
				Field("name", schema.FieldTypeText),
				Field("state", schema.FieldTypeText, Nullable()),
				Field("nation_id", schema.FieldTypeNumber, References("nations", "id")),
				Field("created_at", schema.FieldTypeDate),
			),
			WithRelationship("nations", "nation_id", "id"),
		),
		Table("orders",
			WithDescription("Transaction details including products, prices, and delivery info"),
			WithFields(
				Field("id", schema.FieldTypeNumber, Key()),
				Field("customer_id", schema.FieldTypeNumber, References("customers", "id")),
				Field("order_date", schema.FieldTypeDate),
				Field("delivery_date", schema.FieldTypeDate, Nullable()),
				Field("product_name", schema.FieldTypeText),
				Field("category", schema.FieldTypeText),
				Field("quantity", schema.FieldTypeNumber),
				Field("total_price", schema.FieldTypeNumber, Describe("Final order amount including quantity * price")),
				Field("payment_method", schema.FieldTypeText),
			),
			WithRelationship("customers", "customer_id", "id"),
		),
	)

	s.Business = schema.BusinessContext{
		Description: "E-commerce order history spanning customers, orders, and nations.",
		KeyConcepts: []string{
			"Total_price is the final order amount including quantity * price",
			"Dates are in standard YYYY-MM-DD format",
		},
	}
	s.Dialect = schema.DialectInfo{
		Type: "duckdb",
		DateFunctions: map[string]string{
			"month": "strftime('%Y-%m', {column})",
			"year":  "strftime('%Y', {column})",
		},
	}

	return s
}

// MustLoad loads a snapshot into a Version, failing the test on error
func MustLoad(t *testing.T, snapshot schema.Snapshot) *schema.Version {
	t.Helper()

	version, err := schema.Load(snapshot)
	if err != nil {
		t.Fatalf("failed to load test snapshot: %v", err)
	}

	return version
}
