package ddl

import (
	"fmt"

	"skyetl/internal/schema"
)

// TypeMapper maps a semantic column type onto a backend SQL type. The key
// flag is set for primary-key columns so backends that cannot index
// unbounded text (MySQL, MSSQL) can pick a bounded type.
type TypeMapper func(t schema.Type, key bool) string

// FromDescriptor derives a TableDef from a validated TableDescriptor using
// the backend's type mapping. Column order follows the descriptor.
func FromDescriptor(td schema.TableDescriptor, mapType TypeMapper) (TableDef, error) {
	if err := td.Validate(); err != nil {
		return TableDef{}, err
	}
	if mapType == nil {
		return TableDef{}, fmt.Errorf("ddl: type mapper must not be nil")
	}
	def := TableDef{FQN: td.Name, Columns: make([]ColumnDef, 0, len(td.Columns))}
	for _, c := range td.Columns {
		key := td.IsKey(c.Name)
		def.Columns = append(def.Columns, ColumnDef{
			Name:       c.Name,
			SQLType:    mapType(c.Type, key),
			Nullable:   c.Nullable && !key,
			PrimaryKey: key,
		})
	}
	return def, nil
}
