package transform

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	xtransform "golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"skyetl/pkg/records"
)

// Normalize cleans text fields: control characters are removed, the text is
// NFC-composed, runs of whitespace (including NBSP) collapse to one space,
// and the result is trimmed. Empty results become nil.
type Normalize struct {
	// Fields limits normalisation to these keys; empty means every string.
	Fields []string

	// Upper upper-cases the cleaned value (callsigns, airport codes).
	Upper bool
}

func (n Normalize) Apply(in []records.Record) []records.Record {
	for _, r := range in {
		if len(n.Fields) == 0 {
			for k, v := range r {
				if s, ok := v.(string); ok {
					r[k] = n.clean(s)
				}
			}
			continue
		}
		for _, k := range n.Fields {
			if s, ok := r[k].(string); ok {
				r[k] = n.clean(s)
			}
		}
	}
	return in
}

func (n Normalize) clean(s string) any {
	out := CleanText(s)
	if out == "" {
		return nil
	}
	if n.Upper {
		out = strings.ToUpper(out)
	}
	return out
}

// CleanText applies the Normalize rules to one string.
func CleanText(s string) string {
	t := xtransform.Chain(runes.Remove(runes.Predicate(isStrayControl)), norm.NFC)
	composed, _, err := xtransform.String(t, s)
	if err != nil {
		composed = s
	}
	return strings.Join(strings.FieldsFunc(composed, unicode.IsSpace), " ")
}

// isStrayControl matches control characters other than whitespace, which
// FieldsFunc handles.
func isStrayControl(r rune) bool {
	return unicode.IsControl(r) && !unicode.IsSpace(r)
}
