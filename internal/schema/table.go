// Package schema holds the plain description of a destination table: its
// name, ordered columns with semantic types, and primary key. Storage
// backends translate a TableDescriptor into their own DDL and DML; nothing in
// this package talks to a database.
package schema

import (
	"fmt"
	"strings"
)

// Type is the semantic type of a column. Backends map it onto a concrete SQL
// type (see the MapType functions under internal/storage/*/ddl).
type Type string

const (
	Text      Type = "text"
	Integer   Type = "integer"
	Real      Type = "real"
	Bool      Type = "bool"
	Timestamp Type = "timestamp"
	JSON      Type = "json"
)

// Valid reports whether t is one of the known semantic types.
func (t Type) Valid() bool {
	switch t {
	case Text, Integer, Real, Bool, Timestamp, JSON:
		return true
	}
	return false
}

// Column is a single declared column.
type Column struct {
	Name     string
	Type     Type
	Nullable bool
}

// TableDescriptor describes a target table. It is supplied by the caller on
// every load call and never persisted as an entity.
type TableDescriptor struct {
	// Name is the table name, optionally schema-qualified ("public.flights").
	Name string

	// Columns are the declared columns in DDL/insert order.
	Columns []Column

	// PrimaryKey lists the key column names. It must be non-empty and every
	// entry must be a declared column.
	PrimaryKey []string
}

// Validate checks the descriptor's invariants.
func (td TableDescriptor) Validate() error {
	if strings.TrimSpace(td.Name) == "" {
		return fmt.Errorf("schema: table name must not be empty")
	}
	if len(td.Columns) == 0 {
		return fmt.Errorf("schema: table %s: at least one column is required", td.Name)
	}
	seen := make(map[string]struct{}, len(td.Columns))
	for _, c := range td.Columns {
		if strings.TrimSpace(c.Name) == "" {
			return fmt.Errorf("schema: table %s: column with empty name", td.Name)
		}
		if _, dup := seen[c.Name]; dup {
			return fmt.Errorf("schema: table %s: duplicate column %q", td.Name, c.Name)
		}
		if !c.Type.Valid() {
			return fmt.Errorf("schema: table %s: column %s has unknown type %q", td.Name, c.Name, c.Type)
		}
		seen[c.Name] = struct{}{}
	}
	if len(td.PrimaryKey) == 0 {
		return fmt.Errorf("schema: table %s: primary key must not be empty", td.Name)
	}
	for _, k := range td.PrimaryKey {
		if _, ok := seen[k]; !ok {
			return fmt.Errorf("schema: table %s: primary key column %q is not declared", td.Name, k)
		}
	}
	return nil
}

// ColumnNames returns the declared column names in order.
func (td TableDescriptor) ColumnNames() []string {
	out := make([]string, len(td.Columns))
	for i, c := range td.Columns {
		out[i] = c.Name
	}
	return out
}

// Column looks up a declared column by name.
func (td TableDescriptor) Column(name string) (Column, bool) {
	for _, c := range td.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// IsKey reports whether name is part of the primary key.
func (td TableDescriptor) IsKey(name string) bool {
	for _, k := range td.PrimaryKey {
		if k == name {
			return true
		}
	}
	return false
}

// NonKeyColumns returns the declared columns that are not part of the
// primary key, in declaration order.
func (td TableDescriptor) NonKeyColumns() []string {
	out := make([]string, 0, len(td.Columns))
	for _, c := range td.Columns {
		if !td.IsKey(c.Name) {
			out = append(out, c.Name)
		}
	}
	return out
}

// WithName returns a copy of td targeting a different table.
func (td TableDescriptor) WithName(name string) TableDescriptor {
	td.Name = name
	return td
}
