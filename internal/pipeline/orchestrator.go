// Package pipeline runs one pipeline body inside a tracked run: it assigns
// the run id, records the start checkpoint, captures everything the body
// logs, and appends the terminal SUCCESS or FAILURE row. The outcome is
// returned as a Result value; the caller decides whether a failed run is
// fatal.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"runtime/debug"
	"sync/atomic"
	"time"

	"skyetl/internal/logging"
	"skyetl/internal/metrics"
	"skyetl/internal/runlog"
	"skyetl/internal/storage"
)

// State is the lifecycle state of the orchestrator's current run.
type State int32

const (
	NotStarted State = iota
	Running
	Succeeded
	Failed
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "NOT_STARTED"
	case Running:
		return "RUNNING"
	case Succeeded:
		return "SUCCESS"
	case Failed:
		return "FAILURE"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Run is what a body gets to know about the run it executes in.
type Run struct {
	Pipeline string
	RunID    int64
	Logger   *log.Logger
}

// Body is the pipeline work. Returning an error fails the run; errors a
// body absorbs itself (such as per-window failures) do not.
type Body func(ctx context.Context, run Run) error

// Result is the outcome of one Orchestrator.Run.
type Result struct {
	Pipeline string
	RunID    int64 // 0 when the run failed before an id was assigned
	Status   runlog.Status
	Logs     string
	LogFile  string
	Started  time.Time
	Finished time.Time

	err error
}

// Err returns the body's error, or an error recording the run, or nil.
func (r Result) Err() error { return r.err }

// Duration is Finished - Started.
func (r Result) Duration() time.Duration { return r.Finished.Sub(r.Started) }

// Orchestrator wires a run tracker and a run logger around a Body.
type Orchestrator struct {
	Pipeline string
	Repo     storage.Repository

	// Snapshot is stored as JSON on every run-log row.
	Snapshot any

	// RunLogTable overrides runlog.DefaultTable.
	RunLogTable string

	// LogFolder receives one log file per run; empty keeps logs in memory
	// and on the console only.
	LogFolder string

	// Console mirrors run logs; nil means stderr.
	Console io.Writer

	// Now is the clock for run-log rows and Result timestamps.
	Now func() time.Time

	state atomic.Int32
}

// State reports the state of the current or most recent run.
func (o *Orchestrator) State() State { return State(o.state.Load()) }

func (o *Orchestrator) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

// Run executes body as one tracked run. Failures before the run id is
// assigned (logger, table creation, Begin) are returned without a run-log
// row. After that, a body error or panic is recorded as FAILURE with the
// captured logs and returned through Result.Err. If the terminal row cannot
// be written the Result is FAILURE even when the body succeeded.
func (o *Orchestrator) Run(ctx context.Context, body Body) Result {
	res := Result{Pipeline: o.Pipeline, Started: o.now().UTC(), Status: runlog.Failure}
	finish := func(err error) Result {
		res.err = err
		res.Finished = o.now().UTC()
		if res.Status == runlog.Success {
			o.state.Store(int32(Succeeded))
		} else {
			o.state.Store(int32(Failed))
		}
		metrics.RecordRun(o.Pipeline, string(res.Status), res.Duration())
		return res
	}

	o.state.Store(int32(Running))

	rl, err := logging.New(o.Pipeline, logging.Options{Folder: o.LogFolder, Console: o.Console, Now: o.Now})
	if err != nil {
		return finish(fmt.Errorf("pipeline %s: %w", o.Pipeline, err))
	}
	defer rl.Close()
	res.LogFile = rl.Path()

	opts := []runlog.Option{runlog.WithTable(o.RunLogTable)}
	if o.Now != nil {
		opts = append(opts, runlog.WithClock(o.Now))
	}
	tr, err := runlog.New(ctx, o.Repo, o.Pipeline, o.Snapshot, opts...)
	if err != nil {
		rl.Printf("pipeline: tracker: %v", err)
		res.Logs = rl.Logs()
		return finish(fmt.Errorf("pipeline %s: %w", o.Pipeline, err))
	}
	if err := tr.Begin(ctx); err != nil {
		rl.Printf("pipeline: begin: %v", err)
		res.Logs = rl.Logs()
		return finish(fmt.Errorf("pipeline %s: %w", o.Pipeline, err))
	}
	res.RunID = tr.RunID()
	rl.Printf("pipeline: run_id=%d started", res.RunID)

	bodyErr := call(ctx, body, Run{Pipeline: o.Pipeline, RunID: res.RunID, Logger: rl.Logger})

	if bodyErr != nil {
		rl.Printf("pipeline: run_id=%d failed after %s: %v", res.RunID, time.Since(res.Started).Truncate(time.Millisecond), bodyErr)
	} else {
		res.Status = runlog.Success
		rl.Printf("pipeline: run_id=%d succeeded in %s", res.RunID, time.Since(res.Started).Truncate(time.Millisecond))
	}
	res.Logs = rl.Logs()

	// The terminal row is written even when ctx was cancelled mid-run. A run
	// whose terminal row is lost is reported as FAILURE.
	if logErr := tr.Log(context.WithoutCancel(ctx), res.Status, res.Logs); logErr != nil {
		log.Printf("pipeline: %s run_id=%d: record %s: %v", o.Pipeline, res.RunID, res.Status, logErr)
		res.Status = runlog.Failure
		return finish(errors.Join(bodyErr, logErr))
	}
	return finish(bodyErr)
}

// call runs body and turns a panic into an error.
func call(ctx context.Context, body Body, run Run) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pipeline: panic: %v\n%s", r, debug.Stack())
		}
	}()
	return body(ctx, run)
}
