package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"skyetl/internal/source/opensky"
	"skyetl/internal/storage"
)

// IssueSeverity represents the severity of a configuration issue.
type IssueSeverity string

const (
	// SeverityError indicates a configuration error that should block execution.
	SeverityError IssueSeverity = "error"
	// SeverityWarning indicates a configuration warning that should be surfaced
	// to users but may not necessarily block execution.
	SeverityWarning IssueSeverity = "warning"
)

// Issue describes a single validation finding for a Pipeline.
//
// Path is a dotted path into the config (e.g. "storage.kind",
// "config.load_method"). Message is human-readable.
type Issue struct {
	Severity IssueSeverity
	Path     string
	Message  string
}

// Error implements the error interface so an Issue can be treated as a single
// error in contexts that expect error.
func (i Issue) Error() string {
	return fmt.Sprintf("%s at %s: %s", i.Severity, i.Path, i.Message)
}

// HasErrors reports whether any issue has error severity.
func HasErrors(issues []Issue) bool {
	for _, iss := range issues {
		if iss.Severity == SeverityError {
			return true
		}
	}
	return false
}

// ValidatePipeline performs static validation of a Pipeline. It does not
// mutate the pipeline; callers decide whether warnings are fatal.
func ValidatePipeline(p Pipeline) []Issue {
	var issues []Issue

	if strings.TrimSpace(p.Name) == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "name",
			Message:  "name must not be empty; it identifies runs in the run log",
		})
	}
	issues = append(issues, validateRun(p.Run)...)
	issues = append(issues, validateSchedule(p.Schedule)...)
	issues = append(issues, validateSource(p.Source)...)
	issues = append(issues, validateStorage("storage", p.Storage.Kind, p.Storage.DSN)...)
	if p.RunLog.Kind != p.Storage.Kind || p.RunLog.DSN != p.Storage.DSN {
		issues = append(issues, validateStorage("run_log", p.RunLog.Kind, p.RunLog.DSN)...)
	}
	issues = append(issues, validateMetrics(p.Metrics)...)

	return issues
}

func validateRun(r Run) []Issue {
	var issues []Issue

	switch strings.ToLower(strings.TrimSpace(r.LoadMethod)) {
	case "", "insert", "upsert", "overwrite":
	default:
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "config.load_method",
			Message:  fmt.Sprintf("load_method %q must be one of [insert, upsert, overwrite]", r.LoadMethod),
		})
	}

	if (r.StartTime == "") != (r.EndTime == "") {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "config.start_time",
			Message:  "start_time and end_time must be set together",
		})
	} else if r.StartTime != "" {
		if _, _, err := (Pipeline{Run: r}).Range(time.Time{}); err != nil {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     "config.start_time",
				Message:  err.Error(),
			})
		}
	}
	if r.Lookback < 0 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "config.lookback",
			Message:  "lookback must not be negative",
		})
	}

	switch {
	case r.WindowSize < 0:
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "config.window_size",
			Message:  "window_size must not be negative",
		})
	case r.WindowSize > opensky.MaxInterval:
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "config.window_size",
			Message:  fmt.Sprintf("window_size %s exceeds the %s OpenSky allows per request", r.WindowSize, opensky.MaxInterval),
		})
	case r.WindowSize != 0 && r.WindowSize != time.Hour:
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "config.window_size",
			Message:  fmt.Sprintf("window_size %s differs from the usual 1h", r.WindowSize),
		})
	}

	if r.LogFolder == "" {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "config.log_folder_path",
			Message:  "no log folder; run logs are kept in the run log only",
		})
	}
	return issues
}

func validateSchedule(s Schedule) []Issue {
	var issues []Issue
	if s.RunSeconds < 0 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "schedule.run_seconds",
			Message:  "run_seconds must not be negative",
		})
	}
	if s.PollSeconds != 0 {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "schedule.poll_seconds",
			Message:  "poll_seconds is ignored; runs are triggered every run_seconds",
		})
	}
	return issues
}

func validateSource(s Source) []Issue {
	var issues []Issue
	if s.BaseURL != "" {
		if _, err := url.ParseRequestURI(s.BaseURL); err != nil {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     "source.base_url",
				Message:  fmt.Sprintf("invalid url: %v", err),
			})
		}
	}
	if s.Username == "" {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "source.username",
			Message:  "anonymous OpenSky access is heavily rate limited",
		})
	} else if s.Password == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "source.password",
			Message:  "username is set but password is empty",
		})
	}
	if s.MaxRetries < 0 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "source.max_retries",
			Message:  "max_retries must not be negative",
		})
	}
	return issues
}

// validateStorage checks a kind/dsn pair against the registered backends.
func validateStorage(path, kind, dsn string) []Issue {
	var issues []Issue

	if strings.TrimSpace(kind) == "" {
		return append(issues, Issue{
			Severity: SeverityError,
			Path:     path + ".kind",
			Message:  path + ".kind must not be empty",
		})
	}
	known := false
	for _, k := range storage.ListKinds() {
		if k == kind {
			known = true
			break
		}
	}
	if !known {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     path + ".kind",
			Message:  fmt.Sprintf("unknown storage kind %q; registered: %s", kind, strings.Join(storage.ListKinds(), ", ")),
		})
	}
	if strings.TrimSpace(dsn) == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     path + ".dsn",
			Message:  path + ".dsn must not be empty",
		})
	}
	return issues
}

func validateMetrics(m Metrics) []Issue {
	var issues []Issue
	switch m.Backend {
	case "", "none":
	case "pushgateway":
		if m.PushgatewayURL == "" {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     "metrics.pushgateway_url",
				Message:  "pushgateway backend requires pushgateway_url",
			})
		}
	case "datadog":
		if m.DogStatsDAddr == "" {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     "metrics.dogstatsd_addr",
				Message:  "datadog backend requires dogstatsd_addr",
			})
		}
	default:
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "metrics.backend",
			Message:  fmt.Sprintf("unknown metrics backend %q", m.Backend),
		})
	}
	return issues
}
