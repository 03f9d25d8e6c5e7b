// Package runlog records the outcome of pipeline runs. Each run gets an id
// that is one past the largest id already stored for the pipeline, and every
// status transition appends a new row; rows are never updated or deleted.
package runlog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"skyetl/internal/schema"
	"skyetl/internal/storage"
	"skyetl/pkg/records"
)

// Status is the state recorded on a run-log row.
type Status string

const (
	Unset   Status = ""
	Running Status = "RUNNING"
	Success Status = "SUCCESS"
	Failure Status = "FAILURE"
)

// DefaultTable is the run-log table used when no other name is configured.
const DefaultTable = "opensky_pipeline_logs"

// Column names of the run-log table.
const (
	ColPipeline  = "pipeline_name"
	ColRunID     = "run_id"
	ColTimestamp = "timestamp"
	ColStatus    = "status"
	ColConfig    = "config"
	ColLogs      = "logs"
)

// Descriptor returns the run-log table layout. status is part of the
// primary key, so an unset status is stored as the empty string. timestamp
// is RFC 3339 text in UTC with nanoseconds.
func Descriptor(table string) schema.TableDescriptor {
	return schema.TableDescriptor{
		Name: table,
		Columns: []schema.Column{
			{Name: ColPipeline, Type: schema.Text},
			{Name: ColRunID, Type: schema.Integer},
			{Name: ColTimestamp, Type: schema.Text},
			{Name: ColStatus, Type: schema.Text},
			{Name: ColConfig, Type: schema.JSON, Nullable: true},
			{Name: ColLogs, Type: schema.Text, Nullable: true},
		},
		PrimaryKey: []string{ColPipeline, ColRunID, ColTimestamp, ColStatus},
	}
}

// Entry is one run-log row as read back from the store.
type Entry struct {
	PipelineName string
	RunID        int64
	Timestamp    time.Time
	Status       Status
	Config       string // JSON text; empty when NULL
	Logs         string
	HasLogs      bool
}

// Option customises a Tracker.
type Option func(*Tracker)

// WithTable stores rows in table instead of DefaultTable.
func WithTable(table string) Option {
	return func(t *Tracker) {
		if table != "" {
			t.td = Descriptor(table)
		}
	}
}

// WithClock replaces time.Now for row timestamps.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		if now != nil {
			t.now = now
		}
	}
}

// Tracker assigns the run id of one pipeline execution and appends its
// status rows.
type Tracker struct {
	repo     storage.Repository
	td       schema.TableDescriptor
	pipeline string
	config   any
	runID    int64
	begun    bool
	now      func() time.Time
}

// New ensures the run-log table exists and computes the next run id for
// pipeline. snapshot is marshalled to JSON and stored on every row.
func New(ctx context.Context, repo storage.Repository, pipeline string, snapshot any, opts ...Option) (*Tracker, error) {
	if repo == nil {
		return nil, errors.New("runlog: nil repository")
	}
	if pipeline == "" {
		return nil, errors.New("runlog: pipeline name must not be empty")
	}
	t := &Tracker{
		repo:     repo,
		td:       Descriptor(DefaultTable),
		pipeline: pipeline,
		now:      time.Now,
	}
	for _, o := range opts {
		o(t)
	}

	if snapshot != nil {
		b, err := json.Marshal(snapshot)
		if err != nil {
			return nil, fmt.Errorf("runlog: marshal config snapshot: %w", err)
		}
		t.config = string(b)
	}

	if err := repo.CreateTableIfAbsent(ctx, t.td); err != nil {
		return nil, fmt.Errorf("runlog: create %s: %w", t.td.Name, err)
	}
	last, ok, err := repo.MaxInt(ctx, t.td, ColRunID, records.Record{ColPipeline: pipeline})
	if err != nil {
		return nil, fmt.Errorf("runlog: max run_id: %w", err)
	}
	t.runID = 1
	if ok {
		t.runID = last + 1
	}
	return t, nil
}

// RunID is the id rows of this run are written with.
func (t *Tracker) RunID() int64 { return t.runID }

// Pipeline returns the tracked pipeline name.
func (t *Tracker) Pipeline() string { return t.pipeline }

// Table returns the run-log table name.
func (t *Tracker) Table() string { return t.td.Name }

// Begin appends the start checkpoint: no status, no logs. The id is
// re-checked under a store lock, so a run that claimed the same id after New
// pushes this one to the next free id, which the tracker adopts.
func (t *Tracker) Begin(ctx context.Context) error {
	if t.begun {
		return errors.New("runlog: run already begun")
	}
	rec := t.row(Unset, "")
	id, err := t.repo.InsertSequenced(ctx, t.td, ColRunID, []string{ColPipeline}, rec)
	if err != nil {
		return fmt.Errorf("runlog: begin %s: %w", t.pipeline, err)
	}
	if id != t.runID {
		log.Printf("runlog: pipeline=%s run_id %d taken, using %d", t.pipeline, t.runID, id)
	}
	t.runID = id
	t.begun = true
	return nil
}

// Log appends one row with the current time. Empty logs are stored as NULL.
func (t *Tracker) Log(ctx context.Context, status Status, logs string) error {
	if _, err := t.repo.Insert(ctx, t.td, []records.Record{t.row(status, logs)}); err != nil {
		return fmt.Errorf("runlog: log %s run_id=%d status=%q: %w", t.pipeline, t.runID, status, err)
	}
	return nil
}

func (t *Tracker) row(status Status, logs string) records.Record {
	rec := records.Record{
		ColPipeline:  t.pipeline,
		ColRunID:     t.runID,
		ColTimestamp: t.now().UTC().Format(time.RFC3339Nano),
		ColStatus:    string(status),
		ColConfig:    t.config,
		ColLogs:      nil,
	}
	if logs != "" {
		rec[ColLogs] = logs
	}
	return rec
}

// History returns every row of this tracker's pipeline ordered by run id
// then timestamp.
func (t *Tracker) History(ctx context.Context) ([]Entry, error) {
	return History(ctx, t.repo, t.td.Name, t.pipeline)
}

// History reads the rows of pipeline from table ordered by run id then
// timestamp.
func History(ctx context.Context, repo storage.Repository, table, pipeline string) ([]Entry, error) {
	rows, err := repo.SelectAll(ctx, Descriptor(table))
	if err != nil {
		return nil, fmt.Errorf("runlog: read %s: %w", table, err)
	}
	out := make([]Entry, 0, len(rows))
	for _, r := range rows {
		name, _ := r[ColPipeline].(string)
		if name != pipeline {
			continue
		}
		e := Entry{PipelineName: name}
		e.RunID, _ = r[ColRunID].(int64)
		if s, ok := r[ColTimestamp].(string); ok {
			ts, err := time.Parse(time.RFC3339Nano, s)
			if err != nil {
				return nil, fmt.Errorf("runlog: read %s: run_id=%d timestamp %q: %w", table, e.RunID, s, err)
			}
			e.Timestamp = ts
		}
		if s, ok := r[ColStatus].(string); ok {
			e.Status = Status(s)
		}
		if s, ok := r[ColConfig].(string); ok {
			e.Config = s
		}
		if s, ok := r[ColLogs].(string); ok {
			e.Logs, e.HasLogs = s, true
		}
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].RunID != out[j].RunID {
			return out[i].RunID < out[j].RunID
		}
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out, nil
}
