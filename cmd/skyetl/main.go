// Command skyetl loads OpenSky flights into a relational store on a
// schedule and records every run in a run-log table.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"skyetl/internal/config"
	"skyetl/internal/metrics"
	"skyetl/internal/metrics/datadog"
	"skyetl/internal/metrics/prompush"
	"skyetl/internal/schedule"

	// register all backends with the storage factory.
	// config specifies which to use but we need to build in support for all of them.
	_ "skyetl/internal/storage/all"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("skyetl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		cfgPath        = fs.String("config", "configs/opensky_flights.yaml", "pipeline config path (YAML or JSON)")
		once           = fs.Bool("once", false, "run the pipeline once and exit, ignoring the schedule")
		validate       = fs.Bool("validate", false, "validate the configuration and exit")
		history        = fs.Int("history", 0, "print the last N runs from the run log and exit")
		metricsBackend = fs.String("metrics-backend", "", "metrics backend: none, pushgateway, datadog (overrides config and METRICS_BACKEND)")
		pushgatewayURL = fs.String("pushgateway-url", "", "Pushgateway base URL (overrides config and PUSHGATEWAY_URL)")
		dogstatsdAddr  = fs.String("dogstatsd-addr", "", "DogStatsD address (overrides config and DD_DOGSTATSD_ADDR)")
		verbose        = fs.Bool("v", false, "enable verbose logs")
	)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	log.SetOutput(stderr)
	if *verbose {
		log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	}

	p, issues, err := config.Load(*cfgPath)
	for _, iss := range issues {
		fmt.Fprintf(stderr, "%s: %s: %s\n", iss.Severity, iss.Path, iss.Message)
	}
	if err != nil {
		log.Printf("Configuration is invalid: %v", err)
		return 1
	}
	if *validate {
		log.Printf("Configuration is valid: %v", *cfgPath)
		return 0
	}
	if *verbose {
		log.Printf("%s", p)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, p, stderr)
	if err != nil {
		log.Printf("%v", err)
		return 1
	}

	if *history > 0 {
		if err := a.printHistory(ctx, stdout, *history); err != nil {
			log.Printf("history: %v", err)
			return 1
		}
		return 0
	}

	closeMetrics := setupMetrics(p, *metricsBackend, *pushgatewayURL, *dogstatsdAddr, *verbose)
	defer closeMetrics()

	if *once || p.Interval() == 0 {
		res, err := a.runOnce(ctx)
		if err != nil {
			log.Printf("%v", err)
			return 1
		}
		if res.Err() != nil {
			log.Printf("run %d %s: %v", res.RunID, res.Status, firstLine(res.Err()))
			return 1
		}
		log.Printf("run %d %s in %s", res.RunID, res.Status, res.Duration())
		return 0
	}

	s, err := schedule.New(p.Name, p.Interval(), a.job)
	if err != nil {
		log.Printf("%v", err)
		return 1
	}
	if err := s.Run(ctx, true); err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("%v", err)
		return 1
	}
	st := s.Stats()
	log.Printf("skyetl: stopped after %d runs (%d failed, %d skipped)", st.Runs, st.Failed, st.Skipped)
	return 0
}

// setupMetrics installs the backend chosen by flag, then config, then env.
// It returns a func that flushes and releases the backend.
func setupMetrics(p config.Pipeline, backendFlag, gwFlag, ddFlag string, verbose bool) func() {
	pick := func(vals ...string) string {
		for _, v := range vals {
			if v != "" {
				return v
			}
		}
		return ""
	}
	backend := pick(backendFlag, p.Metrics.Backend, os.Getenv("METRICS_BACKEND"))

	switch backend {
	case "pushgateway":
		gwURL := pick(gwFlag, p.Metrics.PushgatewayURL, os.Getenv("PUSHGATEWAY_URL"), "http://localhost:9091")
		b, err := prompush.NewBackend(p.Name, gwURL)
		if err != nil {
			log.Printf("metrics: failed to init prom push backend: %v; using nop", err)
			return func() {}
		}
		log.Printf("metrics: url=%v, backend=%v, job_name=%v", gwURL, backend, p.Name)
		metrics.SetBackend(b)
		return func() {
			if err := metrics.Flush(); err != nil {
				log.Printf("metrics: flush error: %v", err)
			}
		}

	case "datadog":
		addr := pick(ddFlag, p.Metrics.DogStatsDAddr, os.Getenv("DD_DOGSTATSD_ADDR"), "127.0.0.1:8125")
		b, err := datadog.NewBackend(datadog.Config{
			Addr:       addr,
			Namespace:  p.Metrics.Namespace,
			GlobalTags: append([]string{"pipeline:" + p.Name}, p.Metrics.Tags...),
		})
		if err != nil {
			log.Printf("metrics: failed to init datadog backend: %v; using nop", err)
			return func() {}
		}
		log.Printf("metrics: addr=%v, backend=%v", addr, backend)
		metrics.SetBackend(b)
		return func() {
			if err := b.Close(); err != nil {
				log.Printf("metrics: close error: %v", err)
			}
		}

	case "", "none":
		if verbose {
			log.Printf("metrics: disabled (backend=%q)", backend)
		}
	default:
		log.Printf("metrics: unknown backend %q; metrics disabled", backend)
	}
	return func() {}
}

// firstLine trims a panic stack from a run error for the summary line; the
// full text is in the run log.
func firstLine(err error) string {
	line, _, _ := strings.Cut(err.Error(), "\n")
	return line
}
