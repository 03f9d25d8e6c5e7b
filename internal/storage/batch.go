package storage

import (
	"fmt"

	"skyetl/internal/schema"
	"skyetl/pkg/records"
)

// CheckRecords validates a batch against td: every key must be a declared
// column, non-nullable columns must be present and non-nil, and primary-key
// values must be non-nil. Violations wrap ErrSchemaMismatch and name the
// offending record (0-based).
func CheckRecords(td schema.TableDescriptor, recs []records.Record) error {
	if err := td.Validate(); err != nil {
		return Classify(ErrSchemaMismatch, err)
	}
	for i, rec := range recs {
		for k := range rec {
			if _, ok := td.Column(k); !ok {
				return Classify(ErrSchemaMismatch,
					fmt.Errorf("record %d: column %q not declared in %s", i, k, td.Name))
			}
		}
		for _, c := range td.Columns {
			v, present := rec[c.Name]
			switch {
			case td.IsKey(c.Name) && v == nil:
				return Classify(ErrSchemaMismatch,
					fmt.Errorf("record %d: primary key column %q is null or absent", i, c.Name))
			case !c.Nullable && (!present || v == nil):
				return Classify(ErrSchemaMismatch,
					fmt.Errorf("record %d: non-nullable column %q is null or absent", i, c.Name))
			}
		}
	}
	return nil
}

// Rows aligns record values to td's column order. Absent nullable columns
// become nil. bind, when non-nil, converts each value for the driver.
func Rows(td schema.TableDescriptor, recs []records.Record, bind func(schema.Column, any) any) [][]any {
	out := make([][]any, len(recs))
	for i, rec := range recs {
		row := make([]any, len(td.Columns))
		for j, c := range td.Columns {
			v := rec[c.Name]
			if bind != nil && v != nil {
				v = bind(c, v)
			}
			row[j] = v
		}
		out[i] = row
	}
	return out
}
