// Package ddl contains Postgres-specific helpers for generating DDL.
package ddl

import "skyetl/internal/schema"

// MapType maps a semantic column type onto a Postgres SQL type.
//
//	integer   -> BIGINT
//	real      -> DOUBLE PRECISION
//	bool      -> BOOLEAN
//	timestamp -> TIMESTAMPTZ
//	json      -> JSONB
//	text      -> TEXT
func MapType(t schema.Type, _ bool) string {
	switch t {
	case schema.Integer:
		return "BIGINT"
	case schema.Real:
		return "DOUBLE PRECISION"
	case schema.Bool:
		return "BOOLEAN"
	case schema.Timestamp:
		return "TIMESTAMPTZ"
	case schema.JSON:
		return "JSONB"
	default:
		return "TEXT"
	}
}
