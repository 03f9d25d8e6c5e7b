// Package ddl contains SQLite-specific helpers for generating DDL.
//
// SQLite types are affinities, so the mapping is coarse: timestamps are
// stored as RFC 3339 text, booleans as 0/1 integers, JSON as text.
package ddl

import "skyetl/internal/schema"

// MapType maps a semantic column type onto a SQLite column type. SQLite
// indexes TEXT keys without a length bound, so key is ignored.
func MapType(t schema.Type, _ bool) string {
	switch t {
	case schema.Integer, schema.Bool:
		return "INTEGER"
	case schema.Real:
		return "REAL"
	default:
		return "TEXT"
	}
}
