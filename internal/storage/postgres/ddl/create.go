package ddl

import (
	"strings"

	gddl "skyetl/internal/ddl"
	"skyetl/internal/schema"
)

// Style renders double-quoted identifiers and CREATE TABLE IF NOT EXISTS.
var Style = gddl.Style{Quote: QuoteIdent, IfNotExists: true}

// BuildCreateTableSQL returns a Postgres CREATE TABLE IF NOT EXISTS statement
// for td. It is a thin wrapper over the generic builder, which already uses
// Postgres-compatible syntax.
func BuildCreateTableSQL(td schema.TableDescriptor) (string, error) {
	def, err := gddl.FromDescriptor(td, MapType)
	if err != nil {
		return "", err
	}
	return gddl.BuildCreateTableSQL(def, Style)
}

// QuoteIdent quotes a single identifier segment for Postgres, e.g.:
//
//	QuoteIdent(`icao24`)     => `"icao24"`
//	QuoteIdent(`weird"name`) => `"weird""name"`
func QuoteIdent(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

// QuoteFQN quotes a possibly schema-qualified name like "public.flights" to
// `"public"."flights"`. Empty segments are ignored.
func QuoteFQN(fqn string) string { return Style.QuoteFQN(fqn) }
