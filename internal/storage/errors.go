package storage

import (
	"errors"
	"fmt"
)

var (
	// ErrConnection reports that the store could not be reached.
	ErrConnection = errors.New("storage: connection error")

	// ErrSchemaMismatch reports records that do not fit the descriptor.
	ErrSchemaMismatch = errors.New("storage: schema mismatch")

	// ErrConstraintViolation reports a primary-key collision on insert.
	ErrConstraintViolation = errors.New("storage: constraint violation")
)

// wrapped keeps both the taxonomy sentinel and the driver error reachable
// through errors.Is / errors.As.
type wrapped struct {
	kind  error
	cause error
}

func (w *wrapped) Error() string   { return fmt.Sprintf("%v: %v", w.kind, w.cause) }
func (w *wrapped) Unwrap() []error { return []error{w.kind, w.cause} }

// Classify wraps cause with the sentinel kind. A nil cause returns nil.
func Classify(kind, cause error) error {
	if cause == nil {
		return nil
	}
	if errors.Is(cause, kind) {
		return cause
	}
	return &wrapped{kind: kind, cause: cause}
}
