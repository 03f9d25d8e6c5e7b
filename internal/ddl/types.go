package ddl

// ColumnDef describes a single column in a table definition. It intentionally
// uses simple, database-agnostic fields.
//
// Fields:
//   - Name: logical column name (unquoted; quoting happens at render time)
//   - SQLType: target SQL type (e.g., TEXT, BIGINT, TIMESTAMPTZ)
//   - Nullable: whether NULL is allowed
//   - PrimaryKey: whether the column is part of the primary key
//   - Default: raw default expression (e.g., 'anon', CURRENT_TIMESTAMP)
type ColumnDef struct {
	Name       string
	SQLType    string
	Nullable   bool
	PrimaryKey bool
	Default    string
}

// TableDef holds the fully-qualified table name (FQN) and an ordered list of
// columns. The FQN is expected in dotted form (e.g., "schema.table").
type TableDef struct {
	FQN     string
	Columns []ColumnDef
}

// Style carries the dialect-specific rendering choices used by
// BuildCreateTableSQL. The zero Style emits identifiers verbatim and a plain
// CREATE TABLE.
type Style struct {
	// Quote quotes a single identifier segment. Nil means no quoting.
	Quote func(string) string

	// IfNotExists adds IF NOT EXISTS after CREATE TABLE.
	IfNotExists bool
}

func (s Style) ident(id string) string {
	if s.Quote == nil {
		return id
	}
	return s.Quote(id)
}

// QuoteFQN quotes every non-empty segment of a dotted name with s.Quote.
func (s Style) QuoteFQN(fqn string) string {
	if s.Quote == nil {
		return fqn
	}
	parts := splitFQN(fqn)
	for i, p := range parts {
		parts[i] = s.Quote(p)
	}
	return joinFQN(parts)
}
