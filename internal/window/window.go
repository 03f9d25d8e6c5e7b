// Package window splits a time range into fixed-size, half-open windows and
// drives a per-window body over them, isolating each window's failure from
// the rest of the run.
package window

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log"
	"strings"
	"time"
)

// DefaultSize is the window length used when Executor.Size is zero.
const DefaultSize = time.Hour

// ErrInvalidRange reports a malformed boundary or an empty range.
var ErrInvalidRange = errors.New("window: invalid range")

// TimeWindow is the half-open interval [Start, End).
type TimeWindow struct {
	Start time.Time
	End   time.Time
}

func (w TimeWindow) String() string {
	return fmt.Sprintf("[%s, %s)", w.Start.Format(time.RFC3339), w.End.Format(time.RFC3339))
}

// Duration returns End - Start.
func (w TimeWindow) Duration() time.Duration { return w.End.Sub(w.Start) }

var layouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
}

// ParseBoundary parses a range boundary. Values without a zone are UTC.
func ParseBoundary(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, l := range layouts {
		if t, err := time.ParseInLocation(l, s, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: cannot parse boundary %q", ErrInvalidRange, s)
}

// ParseRange parses both boundaries and checks end > start.
func ParseRange(startStr, endStr string) (time.Time, time.Time, error) {
	start, err := ParseBoundary(startStr)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	end, err := ParseBoundary(endStr)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if !end.After(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: end %s is not after start %s",
			ErrInvalidRange, end.Format(time.RFC3339), start.Format(time.RFC3339))
	}
	return start, end, nil
}

// Windows returns the windows covering [start, end) in order. Every window
// is size long except the last, which ends at end when the range is not a
// multiple of size. The sequence is lazy and can be ranged over repeatedly.
func Windows(start, end time.Time, size time.Duration) (iter.Seq[TimeWindow], error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: window size %s must be positive", ErrInvalidRange, size)
	}
	if !end.After(start) {
		return nil, fmt.Errorf("%w: end %s is not after start %s",
			ErrInvalidRange, end.Format(time.RFC3339), start.Format(time.RFC3339))
	}
	return func(yield func(TimeWindow) bool) {
		for lo := start; lo.Before(end); lo = lo.Add(size) {
			hi := lo.Add(size)
			if hi.After(end) {
				hi = end
			}
			if !yield(TimeWindow{Start: lo, End: hi}) {
				return
			}
		}
	}, nil
}

// Count returns the number of windows Windows yields for the range.
func Count(start, end time.Time, size time.Duration) int {
	if size <= 0 || !end.After(start) {
		return 0
	}
	d := end.Sub(start)
	n := int(d / size)
	if d%size != 0 {
		n++
	}
	return n
}

// Body processes one window.
type Body func(ctx context.Context, w TimeWindow) error

// Failure is a window whose body returned an error.
type Failure struct {
	Window TimeWindow
	Err    error
}

// Summary describes one executor pass.
type Summary struct {
	Windows   int
	Succeeded int
	Failures  []Failure
}

// Failed returns the number of windows whose body failed.
func (s Summary) Failed() int { return len(s.Failures) }

// Executor runs a Body over every window of a range, strictly in order.
type Executor struct {
	// Size is the window length; zero means DefaultSize.
	Size time.Duration

	// Logger receives per-window progress and failures; nil uses the
	// standard logger.
	Logger *log.Logger

	// OnWindow, when set, is called after each window with its outcome.
	OnWindow func(w TimeWindow, elapsed time.Duration, err error)
}

func (e Executor) logf(format string, args ...any) {
	if e.Logger != nil {
		e.Logger.Printf(format, args...)
		return
	}
	log.Printf(format, args...)
}

// Run calls body once per window of [start, end). A body error is logged
// and recorded in the Summary and the next window runs anyway; failed
// windows are not retried. Run returns an error only for an invalid range
// or when ctx is done before a window starts.
func (e Executor) Run(ctx context.Context, start, end time.Time, body Body) (Summary, error) {
	size := e.Size
	if size == 0 {
		size = DefaultSize
	}
	seq, err := Windows(start, end, size)
	if err != nil {
		return Summary{}, err
	}

	total := Count(start, end, size)
	var sum Summary
	e.logf("window: start range=[%s, %s) windows=%d size=%s",
		start.Format(time.RFC3339), end.Format(time.RFC3339), total, size)

	for w := range seq {
		if err := ctx.Err(); err != nil {
			e.logf("window: stopped before %s: %v", w, err)
			return sum, fmt.Errorf("window: stopped after %d/%d windows: %w", sum.Windows, total, err)
		}
		sum.Windows++
		t0 := time.Now()
		werr := body(ctx, w)
		elapsed := time.Since(t0)
		if werr != nil {
			sum.Failures = append(sum.Failures, Failure{Window: w, Err: werr})
			e.logf("window: %d/%d %s failed after %s: %v", sum.Windows, total, w, elapsed.Truncate(time.Millisecond), werr)
		} else {
			sum.Succeeded++
			e.logf("window: %d/%d %s done in %s", sum.Windows, total, w, elapsed.Truncate(time.Millisecond))
		}
		if e.OnWindow != nil {
			e.OnWindow(w, elapsed, werr)
		}
	}

	e.logf("window: finished windows=%d succeeded=%d failed=%d", sum.Windows, sum.Succeeded, sum.Failed())
	return sum, nil
}
