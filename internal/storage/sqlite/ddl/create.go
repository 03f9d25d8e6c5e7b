// Package ddl provides SQLite-specific helpers for generating CREATE TABLE
// statements from a schema.TableDescriptor.
//
// The builder here:
//   - Uses double-quoted identifiers: "table", "col".
//   - Emits CREATE TABLE IF NOT EXISTS.
//   - Renders PRIMARY KEY as a separate table constraint.
package ddl

import (
	"strings"

	gddl "skyetl/internal/ddl"
	"skyetl/internal/schema"
)

// Style is the SQLite rendering style for the generic builder.
var Style = gddl.Style{Quote: QuoteIdent, IfNotExists: true}

// BuildCreateTableSQL returns a SQLite CREATE TABLE statement for td:
//
//	CREATE TABLE IF NOT EXISTS "table" (
//	  "col1" TYPE NOT NULL,
//	  "col2" TYPE,
//	  PRIMARY KEY ("pk1", "pk2")
//	);
func BuildCreateTableSQL(td schema.TableDescriptor) (string, error) {
	def, err := gddl.FromDescriptor(td, MapType)
	if err != nil {
		return "", err
	}
	return gddl.BuildCreateTableSQL(def, Style)
}

// QuoteIdent quotes an identifier, escaping embedded double quotes.
func QuoteIdent(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

// QuoteFQN quotes each non-empty segment of a dotted table name.
func QuoteFQN(fqn string) string { return Style.QuoteFQN(fqn) }
