package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"strings"
	"text/tabwriter"
	"time"

	"skyetl/internal/config"
	"skyetl/internal/datasource"
	"skyetl/internal/flights"
	"skyetl/internal/metrics"
	"skyetl/internal/pipeline"
	"skyetl/internal/runlog"
	"skyetl/internal/source/opensky"
	"skyetl/internal/storage"
	"skyetl/internal/transform"
)

// Test seams. In production these point to the real implementations.
var (
	newRepositoryFn = func(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
		return storage.New(ctx, cfg)
	}
	newSourceFn = func(cfg opensky.Config) (flights.Source, error) {
		c, err := opensky.New(cfg)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
)

// app holds a loaded pipeline and what every run shares.
type app struct {
	p        config.Pipeline
	airports transform.Airports
	console  io.Writer
	now      func() time.Time
}

func newApp(ctx context.Context, p config.Pipeline, console io.Writer) (*app, error) {
	a := &app{p: p, console: console, now: time.Now}
	if p.Run.AirportsFile != "" {
		ap, err := transform.LoadAirportsFrom(ctx, datasource.ForLocation(p.Run.AirportsFile, nil))
		if err != nil {
			return nil, &config.ConfigurationError{Err: err}
		}
		a.airports = ap
		log.Printf("skyetl: loaded %d airports from %s", len(ap), p.Run.AirportsFile)
	}
	return a, nil
}

// openRepos opens the flights store and, when it differs, the run-log store.
func (a *app) openRepos(ctx context.Context) (data, runs storage.Repository, closeFn func(), err error) {
	data, err = newRepositoryFn(ctx, storage.Config{Kind: a.p.Storage.Kind, DSN: a.p.Storage.DSN, BatchSize: a.p.Storage.BatchSize})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open %s storage: %w", a.p.Storage.Kind, err)
	}
	if a.p.RunLog.Kind == a.p.Storage.Kind && a.p.RunLog.DSN == a.p.Storage.DSN {
		return data, data, data.Close, nil
	}
	runs, err = newRepositoryFn(ctx, storage.Config{Kind: a.p.RunLog.Kind, DSN: a.p.RunLog.DSN})
	if err != nil {
		data.Close()
		return nil, nil, nil, fmt.Errorf("open %s run log: %w", a.p.RunLog.Kind, err)
	}
	return data, runs, func() { runs.Close(); data.Close() }, nil
}

// runOnce executes one tracked run. An error means the run could not be
// set up (no run id was assigned); a failed run is reported through the
// Result.
func (a *app) runOnce(ctx context.Context) (pipeline.Result, error) {
	data, runs, closeFn, err := a.openRepos(ctx)
	if err != nil {
		return pipeline.Result{}, err
	}
	defer closeFn()

	s := a.p.Source
	src, err := newSourceFn(opensky.Config{
		BaseURL:         s.BaseURL,
		Username:        s.Username,
		Password:        s.Password,
		Timeout:         s.Timeout,
		MaxRetries:      s.MaxRetries,
		InitialBackoff:  s.InitialBackoff,
		MaxBackoff:      s.MaxBackoff,
		BreakerFailures: s.BreakerFailures,
		BreakerCooldown: s.BreakerCooldown,
	})
	if err != nil {
		return pipeline.Result{}, &config.ConfigurationError{Err: err}
	}

	method, err := flights.ParseLoadMethod(a.p.Run.LoadMethod)
	if err != nil {
		return pipeline.Result{}, &config.ConfigurationError{Err: err}
	}

	o := &pipeline.Orchestrator{
		Pipeline:    a.p.Name,
		Repo:        runs,
		Snapshot:    a.p.Snapshot(),
		RunLogTable: a.p.RunLog.Table,
		LogFolder:   a.p.Run.LogFolder,
		Console:     a.console,
	}
	res := o.Run(ctx, func(ctx context.Context, run pipeline.Run) error {
		start, end, err := a.p.Range(a.now())
		if err != nil {
			return err
		}
		job := &flights.Job{
			Source:     src,
			Repo:       data,
			Table:      a.p.Storage.Table,
			Method:     method,
			Airports:   a.airports,
			Start:      start,
			End:        end,
			WindowSize: a.p.Run.WindowSize,
		}
		_, err = job.Run(ctx, run)
		return err
	})

	if err := metrics.Flush(); err != nil {
		log.Printf("metrics: flush error: %v", err)
	}
	return res, nil
}

// job adapts runOnce to the scheduler: both setup errors and failed runs
// count as failures.
func (a *app) job(ctx context.Context) error {
	res, err := a.runOnce(ctx)
	if err != nil {
		return err
	}
	return res.Err()
}

// printHistory writes the last n runs of the pipeline, newest last.
func (a *app) printHistory(ctx context.Context, w io.Writer, n int) error {
	_, runs, closeFn, err := a.openRepos(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	rows, err := runlog.History(ctx, runs, a.p.RunLog.Table, a.p.Name)
	if err != nil {
		return err
	}
	type run struct {
		id       int64
		started  time.Time
		finished time.Time
		status   runlog.Status
		lines    int
	}
	var order []int64
	byID := map[int64]*run{}
	for _, e := range rows {
		r, ok := byID[e.RunID]
		if !ok {
			r = &run{id: e.RunID, started: e.Timestamp, status: runlog.Running}
			byID[e.RunID] = r
			order = append(order, e.RunID)
		}
		if e.Status == runlog.Success || e.Status == runlog.Failure {
			r.status, r.finished = e.Status, e.Timestamp
			r.lines = strings.Count(e.Logs, "\n")
		}
	}
	if n > 0 && len(order) > n {
		order = order[len(order)-n:]
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tSTARTED\tSTATUS\tDURATION\tLOG LINES")
	for _, id := range order {
		r := byID[id]
		dur := "-"
		if !r.finished.IsZero() {
			dur = r.finished.Sub(r.started).Truncate(time.Millisecond).String()
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d\n", r.id, r.started.Format(time.RFC3339), r.status, dur, r.lines)
	}
	return tw.Flush()
}
