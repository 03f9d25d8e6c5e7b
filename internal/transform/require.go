package transform

import "skyetl/pkg/records"

// Require removes any record missing a value for one of Fields.
type Require struct {
	Fields []string

	// Dropped, when set, is incremented once per removed record.
	Dropped *int
}

// Apply returns a filtered slice containing only records that have all
// required fields present and non-empty. The input slice is reused.
func (r Require) Apply(in []records.Record) []records.Record {
	out := in[:0]
	for _, rec := range in {
		ok := true
		for _, f := range r.Fields {
			v, exists := rec[f]
			if !exists || v == nil || v == "" {
				ok = false
				break
			}
		}
		if ok {
			out = append(out, rec)
		} else if r.Dropped != nil {
			*r.Dropped++
		}
	}
	return out
}
