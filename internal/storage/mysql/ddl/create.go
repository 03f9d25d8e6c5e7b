package ddl

import (
	"strings"

	gddl "skyetl/internal/ddl"
	"skyetl/internal/schema"
)

// Style renders backtick-quoted identifiers and CREATE TABLE IF NOT EXISTS.
var Style = gddl.Style{Quote: QuoteIdent, IfNotExists: true}

// BuildCreateTableSQL returns a MySQL CREATE TABLE IF NOT EXISTS statement
// for td.
func BuildCreateTableSQL(td schema.TableDescriptor) (string, error) {
	def, err := gddl.FromDescriptor(td, MapType)
	if err != nil {
		return "", err
	}
	return gddl.BuildCreateTableSQL(def, Style)
}

// QuoteIdent quotes an identifier with backticks, doubling embedded ones.
func QuoteIdent(id string) string {
	return "`" + strings.ReplaceAll(id, "`", "``") + "`"
}

// QuoteFQN quotes a possibly database-qualified table name.
func QuoteFQN(fqn string) string { return Style.QuoteFQN(fqn) }
