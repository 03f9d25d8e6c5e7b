package storage

import (
	"context"
	"fmt"
	"log"
	"time"
)

// CopyFn abstracts a backend's bulk write for one batch of rows aligned to
// columns. It returns the number of rows written.
type CopyFn func(ctx context.Context, columns []string, rows [][]any) (int64, error)

// LoadBatches splits rows into batches of batchSize and calls copyFn for
// each. It returns the total reported by copyFn and the first error. Backends
// call it inside their own transaction so a failing batch rolls back the
// whole load.
//
// Progress is logged per flush when more than one batch is needed.
func LoadBatches(
	ctx context.Context,
	columns []string,
	rows [][]any,
	batchSize int,
	copyFn CopyFn,
) (int64, error) {
	if batchSize <= 0 {
		return 0, fmt.Errorf("batchSize must be > 0")
	}
	if copyFn == nil {
		return 0, fmt.Errorf("copyFn must not be nil")
	}

	var (
		total   int64
		batches int64
		start   = time.Now()
		multi   = len(rows) > batchSize
	)

	for lo := 0; lo < len(rows); lo += batchSize {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		hi := lo + batchSize
		if hi > len(rows) {
			hi = len(rows)
		}

		n, err := copyFn(ctx, columns, rows[lo:hi])
		total += n
		if err != nil {
			log.Printf("loader: batch failed after=%d total=%d err=%v", n, total, err)
			return total, err
		}

		batches++
		if multi {
			log.Printf("loader: batch #%d inserted=%d total_inserted=%d elapsed=%s",
				batches, n, total, time.Since(start).Truncate(time.Millisecond))
		}
	}
	return total, nil
}
