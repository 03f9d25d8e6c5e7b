// Package ddl contains MySQL-specific helpers for generating DDL.
package ddl

import "skyetl/internal/schema"

// MapType maps a semantic column type onto a MySQL column type. InnoDB
// cannot index TEXT without a prefix length, so text key columns become
// VARCHAR(255).
func MapType(t schema.Type, key bool) string {
	switch t {
	case schema.Integer:
		return "BIGINT"
	case schema.Real:
		return "DOUBLE"
	case schema.Bool:
		return "BOOLEAN"
	case schema.Timestamp:
		return "DATETIME(6)"
	case schema.JSON:
		return "JSON"
	default:
		if key {
			return "VARCHAR(255)"
		}
		return "TEXT"
	}
}
