// Package ddl contains MSSQL-specific helpers for generating DDL.
//
// The type mapping is conservative and biased toward safe, widely-supported
// SQL Server types.
package ddl

import "skyetl/internal/schema"

// MapType maps a semantic column type into a SQL Server column type.
// NVARCHAR(MAX) cannot be part of an index, so text key columns are bounded
// to NVARCHAR(450), the widest that fits the 900-byte key limit.
func MapType(t schema.Type, key bool) string {
	switch t {
	case schema.Integer:
		return "BIGINT"
	case schema.Real:
		return "FLOAT"
	case schema.Bool:
		return "BIT"
	case schema.Timestamp:
		return "DATETIME2(7)"
	default:
		if key {
			return "NVARCHAR(450)"
		}
		// Default to a flexible Unicode string type.
		return "NVARCHAR(MAX)"
	}
}
