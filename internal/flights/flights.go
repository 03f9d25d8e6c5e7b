// Package flights is the OpenSky flights pipeline body: for every hour of the
// configured range it extracts flights, reshapes and optionally enriches
// them, and loads them with the configured load method. A failing window is
// logged and skipped; the run goes on with the next one.
package flights

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"skyetl/internal/metrics"
	"skyetl/internal/pipeline"
	"skyetl/internal/schema"
	"skyetl/internal/source/opensky"
	"skyetl/internal/storage"
	"skyetl/internal/transform"
	"skyetl/internal/window"
	"skyetl/pkg/records"
)

// LoadMethod selects how each batch reaches the flights table.
type LoadMethod string

const (
	Insert    LoadMethod = "insert"
	Upsert    LoadMethod = "upsert"
	Overwrite LoadMethod = "overwrite"
)

// ErrUnknownLoadMethod is returned for a load method other than insert,
// upsert or overwrite.
var ErrUnknownLoadMethod = errors.New("flights: unknown load method")

// ParseLoadMethod accepts insert, upsert and overwrite, case-insensitively.
// The empty string selects Upsert.
func ParseLoadMethod(s string) (LoadMethod, error) {
	switch m := LoadMethod(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return Upsert, nil
	case Insert, Upsert, Overwrite:
		return m, nil
	}
	return "", fmt.Errorf("%w %q: want one of [insert, upsert, overwrite]", ErrUnknownLoadMethod, s)
}

// Source returns the flights seen in [begin, end).
type Source interface {
	Flights(ctx context.Context, begin, end time.Time) ([]opensky.Flight, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, begin, end time.Time) ([]opensky.Flight, error)

func (f SourceFunc) Flights(ctx context.Context, begin, end time.Time) ([]opensky.Flight, error) {
	return f(ctx, begin, end)
}

// Job holds everything one flights run needs.
type Job struct {
	Source Source
	Repo   storage.Repository

	// Table is the destination table name; empty uses
	// transform.DefaultFlightsTable.
	Table  string
	Method LoadMethod

	// Airports, when non-empty, adds departure_ and arrival_ columns.
	Airports transform.Airports

	Start, End time.Time
	WindowSize time.Duration
}

// Stats summarises one Job.Run.
type Stats struct {
	window.Summary
	Extracted int
	Dropped   int
	Loaded    int64
}

// Descriptor returns the destination table for this job.
func (j *Job) Descriptor() schema.TableDescriptor {
	return transform.FlightsTable(j.Table, len(j.Airports) > 0)
}

// Body adapts Run to a pipeline.Body.
func (j *Job) Body() pipeline.Body {
	return func(ctx context.Context, run pipeline.Run) error {
		_, err := j.Run(ctx, run)
		return err
	}
}

// Run processes every window of [Start, End). It fails only for a bad job,
// an invalid range, an unreachable destination table, cancellation, or a
// failed overwrite; per-window errors end up in Stats.Failures.
func (j *Job) Run(ctx context.Context, run pipeline.Run) (Stats, error) {
	var st Stats
	if j.Source == nil || j.Repo == nil {
		return st, errors.New("flights: job needs a source and a repository")
	}
	method, err := ParseLoadMethod(string(j.Method))
	if err != nil {
		return st, err
	}
	logger := run.Logger
	if logger == nil {
		logger = log.Default()
	}

	td := j.Descriptor()
	if err := j.Repo.CreateTableIfAbsent(ctx, td); err != nil {
		return st, fmt.Errorf("flights: prepare %s: %w", td.Name, err)
	}
	logger.Printf("flights: table=%s method=%s enrich=%t", td.Name, method, len(j.Airports) > 0)

	// Overwrite replaces the table once with every window's flights, so
	// extraction stays windowed but the load is deferred.
	var staged []records.Record

	ex := window.Executor{
		Size:   j.WindowSize,
		Logger: logger,
		OnWindow: func(_ window.TimeWindow, elapsed time.Duration, err error) {
			metrics.RecordWindow(run.Pipeline, err, elapsed)
		},
	}
	sum, err := ex.Run(ctx, j.Start, j.End, func(ctx context.Context, w window.TimeWindow) error {
		recs, err := j.extractTransform(ctx, run.Pipeline, logger, w, &st)
		if err != nil {
			return err
		}
		if method == Overwrite {
			staged = append(staged, recs...)
			logger.Printf("flights: %s staged %d", w, len(recs))
			return nil
		}
		n, err := j.load(ctx, run.Pipeline, method, td, recs)
		if err != nil {
			return err
		}
		st.Loaded += n
		logger.Printf("flights: %s loaded %d", w, n)
		return nil
	})
	st.Summary = sum
	if err != nil {
		return st, err
	}

	if method == Overwrite {
		n, err := j.load(ctx, run.Pipeline, method, td, staged)
		if err != nil {
			return st, fmt.Errorf("flights: overwrite %s: %w", td.Name, err)
		}
		st.Loaded = n
		logger.Printf("flights: overwrote %s with %d rows", td.Name, n)
	}

	logger.Printf("flights: extracted=%d dropped=%d loaded=%d failed_windows=%d",
		st.Extracted, st.Dropped, st.Loaded, sum.Failed())
	return st, nil
}

func (j *Job) extractTransform(ctx context.Context, pipe string, logger *log.Logger, w window.TimeWindow, st *Stats) ([]records.Record, error) {
	t0 := time.Now()
	raw, err := j.Source.Flights(ctx, w.Start, w.End)
	metrics.RecordStep(pipe, "extract", err, time.Since(t0))
	if err != nil {
		return nil, err
	}
	st.Extracted += len(raw)
	metrics.RecordRow(pipe, "extracted", int64(len(raw)))

	t0 = time.Now()
	recs, dropped, err := transform.Flights(raw)
	if err == nil && len(j.Airports) > 0 {
		recs = transform.Enrich{Airports: j.Airports}.Apply(recs)
	}
	metrics.RecordStep(pipe, "transform", err, time.Since(t0))
	if err != nil {
		return nil, err
	}
	st.Dropped += dropped
	metrics.RecordRow(pipe, "transformed", int64(len(recs)))
	if dropped > 0 {
		logger.Printf("flights: %s dropped %d flights without icao24 or firstSeen", w, dropped)
	}
	return recs, nil
}

func (j *Job) load(ctx context.Context, pipe string, method LoadMethod, td schema.TableDescriptor, recs []records.Record) (int64, error) {
	if method != Insert {
		before := len(recs)
		recs = storage.DedupByKey(td, recs)
		if d := before - len(recs); d > 0 {
			metrics.RecordRow(pipe, "deduplicated", int64(d))
		}
	}

	t0 := time.Now()
	var n int64
	var err error
	switch method {
	case Insert:
		n, err = j.Repo.Insert(ctx, td, recs)
	case Upsert:
		n, err = j.Repo.Upsert(ctx, td, recs)
	case Overwrite:
		n, err = j.Repo.Overwrite(ctx, td, recs)
	}
	metrics.RecordStep(pipe, "load", err, time.Since(t0))
	if err != nil {
		return 0, err
	}
	metrics.RecordRow(pipe, "loaded", n)
	metrics.RecordBatches(pipe, 1)
	return n, nil
}
