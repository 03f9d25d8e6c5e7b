// Package records defines the row type shared by the source, transform and
// storage layers.
package records

import "sort"

// Record is a single row keyed by column name. Values are scalars: nil,
// string, bool, int64, float64, time.Time or []byte.
type Record map[string]any

// Clone returns a shallow copy of r.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Keys returns the record's column names in sorted order.
func (r Record) Keys() []string {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
