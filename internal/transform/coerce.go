package transform

import (
	"strconv"
	"strings"

	"skyetl/pkg/records"
)

// Coerce converts string fields to typed values. Types maps field name to
// "int" or "float". Values that do not parse become nil.
type Coerce struct {
	Types map[string]string
}

func (c Coerce) Apply(in []records.Record) []records.Record {
	if len(c.Types) == 0 {
		return in
	}
	for _, r := range in {
		for field, typ := range c.Types {
			s, ok := r[field].(string)
			if !ok {
				continue
			}
			s = strings.TrimSpace(s)
			switch typ {
			case "int":
				if i, err := strconv.ParseInt(s, 10, 64); err == nil {
					r[field] = i
				} else if f, err := strconv.ParseFloat(s, 64); err == nil {
					r[field] = int64(f)
				} else {
					r[field] = nil
				}
			case "float":
				if f, err := strconv.ParseFloat(s, 64); err == nil {
					r[field] = f
				} else {
					r[field] = nil
				}
			}
		}
	}
	return in
}
