// Package ddl provides MSSQL-specific helpers for generating CREATE TABLE
// statements from a schema.TableDescriptor.
//
// The builder here:
//   - Uses SQL Server-style identifier quoting: [schema].[table], [col].
//   - Wraps CREATE TABLE in an IF OBJECT_ID(...) IS NULL guard since T-SQL
//     does not support CREATE TABLE IF NOT EXISTS.
//   - Renders PRIMARY KEY constraints as a separate clause.
package ddl

import (
	"fmt"
	"strings"

	gddl "skyetl/internal/ddl"
	"skyetl/internal/schema"
)

// Style renders bracket-quoted identifiers; the existence guard is added by
// BuildCreateTableSQL.
var Style = gddl.Style{Quote: QuoteIdent}

// BuildCreateTableSQL returns a T-SQL script that creates td if it does not
// already exist:
//
//	IF OBJECT_ID(N'[schema].[table]', N'U') IS NULL
//	BEGIN
//	  CREATE TABLE [schema].[table] (
//	    [col1] TYPE NOT NULL,
//	    [col2] TYPE,
//	    PRIMARY KEY ([pk1], [pk2])
//	  );
//	END;
func BuildCreateTableSQL(td schema.TableDescriptor) (string, error) {
	def, err := gddl.FromDescriptor(td, MapType)
	if err != nil {
		return "", err
	}
	create, err := gddl.BuildCreateTableSQL(def, Style)
	if err != nil {
		return "", err
	}
	// Indent inner CREATE TABLE for readability.
	return fmt.Sprintf(
		"IF OBJECT_ID(N'%s', N'U') IS NULL\nBEGIN\n  %s\nEND;",
		objectName(td.Name),
		strings.ReplaceAll(create, "\n", "\n  "),
	), nil
}

// BuildDropTableSQL returns a guarded DROP TABLE that is a no-op when the
// table is absent.
func BuildDropTableSQL(table string) string {
	return fmt.Sprintf("IF OBJECT_ID(N'%s', N'U') IS NOT NULL DROP TABLE %s;", objectName(table), QuoteFQN(table))
}

// objectName renders the quoted name as the body of an N'...' literal.
func objectName(table string) string {
	return strings.ReplaceAll(QuoteFQN(table), "'", "''")
}

// QuoteIdent quotes a single identifier segment for SQL Server using
// bracket syntax, escaping any closing brackets.
//
//	name      -> [name]
//	weird]id  -> [weird]]id]
func QuoteIdent(id string) string {
	return "[" + strings.ReplaceAll(id, "]", "]]") + "]"
}

// QuoteFQN quotes a possibly schema-qualified table name, e.g.:
//
//	"dbo.Users"   -> [dbo].[Users]
//	"Users"       -> [Users]
func QuoteFQN(fqn string) string { return Style.QuoteFQN(fqn) }
