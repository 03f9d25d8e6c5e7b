// Package transform reshapes raw OpenSky flights into load-ready records and
// optionally enriches them with airport reference data. Every step is a
// Transformer over a record slice so steps compose with Chain.
package transform

import (
	"errors"

	"skyetl/pkg/records"
)

// ErrTransform reports a source row that cannot be reshaped.
var ErrTransform = errors.New("transform: invalid source row")

// Transformer rewrites a batch of records. Implementations may mutate the
// records and reuse the input slice.
type Transformer interface {
	Apply([]records.Record) []records.Record
}

// Chain is an ordered list of transformers.
type Chain []Transformer

func (c Chain) Apply(in []records.Record) []records.Record {
	out := in
	for _, t := range c {
		out = t.Apply(out)
	}
	return out
}
