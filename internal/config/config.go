// Package config defines the typed configuration of a flights pipeline and
// loads it from YAML (JSON is valid YAML, so JSON files load too).
//
// Example:
//
//	name: opensky_flights
//	config:
//	  log_folder_path: ./logs
//	  start_time: "2025-01-01 00:00"
//	  end_time: "2025-01-01 05:00"
//	  load_method: upsert
//	  airports_file: data/airport-codes.csv
//	schedule:
//	  run_seconds: 3600
//	source:
//	  username: ${OPENSKY_USERNAME}
//	  password: ${OPENSKY_PASSWORD}
//	storage:
//	  kind: postgres
//	  dsn: ${DATABASE_DSN}
//	  table: opensky_flights
package config

import (
	"fmt"
	"time"

	"skyetl/internal/window"
)

// Pipeline is the top-level object of a pipeline file.
type Pipeline struct {
	// Name identifies the pipeline in the run log, log file names and metrics.
	Name string `yaml:"name" json:"name"`

	Run      Run      `yaml:"config" json:"config"`
	Schedule Schedule `yaml:"schedule" json:"schedule"`
	Source   Source   `yaml:"source" json:"source"`
	Storage  Storage  `yaml:"storage" json:"storage"`

	// RunLog is where run rows go. Kind and DSN default to Storage's.
	RunLog  RunLog  `yaml:"run_log" json:"run_log"`
	Metrics Metrics `yaml:"metrics" json:"metrics"`
}

// Run holds per-run settings.
type Run struct {
	LogFolder string `yaml:"log_folder_path" json:"log_folder_path"`

	// StartTime and EndTime bound the extraction. When both are empty the
	// range is the Lookback span ending at the current hour.
	StartTime string        `yaml:"start_time" json:"start_time"`
	EndTime   string        `yaml:"end_time" json:"end_time"`
	Lookback  time.Duration `yaml:"lookback" json:"lookback"`

	WindowSize   time.Duration `yaml:"window_size" json:"window_size"`
	LoadMethod   string        `yaml:"load_method" json:"load_method"`
	AirportsFile string        `yaml:"airports_file" json:"airports_file"`
}

// Schedule mirrors the schedule block: run every RunSeconds.
type Schedule struct {
	RunSeconds int `yaml:"run_seconds" json:"run_seconds"`

	// PollSeconds is accepted for compatibility with older pipeline files;
	// the cron scheduler does not poll.
	PollSeconds int `yaml:"poll_seconds" json:"poll_seconds"`
}

// Source configures the OpenSky client.
type Source struct {
	BaseURL  string `yaml:"base_url" json:"base_url"`
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`

	Timeout         time.Duration `yaml:"timeout" json:"timeout"`
	MaxRetries      int           `yaml:"max_retries" json:"max_retries"`
	InitialBackoff  time.Duration `yaml:"initial_backoff" json:"initial_backoff"`
	MaxBackoff      time.Duration `yaml:"max_backoff" json:"max_backoff"`
	BreakerFailures uint32        `yaml:"breaker_failures" json:"breaker_failures"`
	BreakerCooldown time.Duration `yaml:"breaker_cooldown" json:"breaker_cooldown"`
}

// Storage selects the destination database.
type Storage struct {
	// Kind is a registered storage backend: postgres, mysql, mssql, sqlite.
	Kind      string `yaml:"kind" json:"kind"`
	DSN       string `yaml:"dsn" json:"dsn"`
	Table     string `yaml:"table" json:"table"`
	BatchSize int    `yaml:"batch_size" json:"batch_size"`
}

// RunLog configures the run-log table.
type RunLog struct {
	Kind  string `yaml:"kind" json:"kind"`
	DSN   string `yaml:"dsn" json:"dsn"`
	Table string `yaml:"table" json:"table"`
}

// Metrics selects a metrics backend: "" or "none", "pushgateway",
// "datadog".
type Metrics struct {
	Backend        string   `yaml:"backend" json:"backend"`
	PushgatewayURL string   `yaml:"pushgateway_url" json:"pushgateway_url"`
	DogStatsDAddr  string   `yaml:"dogstatsd_addr" json:"dogstatsd_addr"`
	Namespace      string   `yaml:"namespace" json:"namespace"`
	Tags           []string `yaml:"tags" json:"tags"`
}

// Defaults.
const (
	DefaultLookback    = 2 * time.Hour
	DefaultRunLogTable = "opensky_pipeline_logs"
	DefaultFlightTable = "opensky_flights"
)

// ApplyDefaults fills zero values that have a natural default.
func (p *Pipeline) ApplyDefaults() {
	if p.Run.WindowSize == 0 {
		p.Run.WindowSize = window.DefaultSize
	}
	if p.Run.Lookback == 0 {
		p.Run.Lookback = DefaultLookback
	}
	if p.Run.LoadMethod == "" {
		p.Run.LoadMethod = "upsert"
	}
	if p.Storage.Table == "" {
		p.Storage.Table = DefaultFlightTable
	}
	if p.RunLog.Kind == "" {
		p.RunLog.Kind = p.Storage.Kind
		if p.RunLog.DSN == "" {
			p.RunLog.DSN = p.Storage.DSN
		}
	}
	if p.RunLog.Table == "" {
		p.RunLog.Table = DefaultRunLogTable
	}
}

// Range resolves the extraction range. Explicit start and end times win;
// otherwise the range is [hour(now)-Lookback, hour(now)).
func (p Pipeline) Range(now time.Time) (time.Time, time.Time, error) {
	if p.Run.StartTime != "" || p.Run.EndTime != "" {
		return window.ParseRange(p.Run.StartTime, p.Run.EndTime)
	}
	end := now.UTC().Truncate(time.Hour)
	return end.Add(-p.Run.Lookback), end, nil
}

// Interval is the schedule period, zero when the pipeline runs once.
func (p Pipeline) Interval() time.Duration {
	return time.Duration(p.Schedule.RunSeconds) * time.Second
}

const redacted = "***"

// Snapshot returns a copy with credentials replaced, suitable for storing in
// the run log.
func (p Pipeline) Snapshot() Pipeline {
	s := p
	if s.Source.Password != "" {
		s.Source.Password = redacted
	}
	s.Storage.DSN = redactDSN(s.Storage.DSN)
	s.RunLog.DSN = redactDSN(s.RunLog.DSN)
	s.Metrics.Tags = append([]string(nil), p.Metrics.Tags...)
	return s
}

// String renders the pipeline for logs, with credentials redacted.
func (p Pipeline) String() string {
	s := p.Snapshot()
	return fmt.Sprintf("pipeline %s storage=%s table=%s method=%s range=[%s, %s) every=%ds",
		s.Name, s.Storage.Kind, s.Storage.Table, s.Run.LoadMethod, s.Run.StartTime, s.Run.EndTime, s.Schedule.RunSeconds)
}
