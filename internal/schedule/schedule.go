// Package schedule invokes a job on a fixed interval through robfig/cron.
// At most one invocation runs at a time: a tick that fires while the
// previous run is still going is skipped and logged.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/semaphore"
)

// Job is one scheduled invocation.
type Job func(ctx context.Context) error

// Stats counts invocations since the scheduler was built.
type Stats struct {
	Runs    int64
	Failed  int64
	Skipped int64
}

// Scheduler runs Job every Interval.
type Scheduler struct {
	name     string
	interval time.Duration
	job      Job
	logger   *log.Logger

	sem *semaphore.Weighted
	wg  sync.WaitGroup

	runs, failed, skipped atomic.Int64
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger; the default is the standard logger.
func WithLogger(l *log.Logger) Option { return func(s *Scheduler) { s.logger = l } }

// New builds a scheduler. Cron resolution is one second, so shorter
// intervals are rejected.
func New(name string, interval time.Duration, job Job, opts ...Option) (*Scheduler, error) {
	if job == nil {
		return nil, errors.New("schedule: nil job")
	}
	if interval < time.Second {
		return nil, fmt.Errorf("schedule: interval %s is below one second", interval)
	}
	s := &Scheduler{
		name:     name,
		interval: interval,
		job:      job,
		logger:   log.Default(),
		sem:      semaphore.NewWeighted(1),
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Spec is the cron spec the scheduler registers.
func (s *Scheduler) Spec() string { return "@every " + s.interval.String() }

// Stats returns a snapshot of the counters.
func (s *Scheduler) Stats() Stats {
	return Stats{Runs: s.runs.Load(), Failed: s.failed.Load(), Skipped: s.skipped.Load()}
}

// Trigger runs the job now unless a run is in progress. It reports whether
// the job ran.
func (s *Scheduler) Trigger(ctx context.Context) bool {
	if !s.sem.TryAcquire(1) {
		s.skipped.Add(1)
		s.logger.Printf("schedule: %s still running, skipping tick", s.name)
		return false
	}
	s.wg.Add(1)
	defer func() {
		s.sem.Release(1)
		s.wg.Done()
	}()

	s.runs.Add(1)
	t0 := time.Now()
	if err := s.job(ctx); err != nil {
		s.failed.Add(1)
		s.logger.Printf("schedule: %s run failed after %s: %v", s.name, time.Since(t0).Truncate(time.Millisecond), err)
		return true
	}
	s.logger.Printf("schedule: %s run finished in %s", s.name, time.Since(t0).Truncate(time.Millisecond))
	return true
}

// Run triggers the job every interval until ctx is done, then waits for an
// in-flight run to return. With immediate set, the first run starts right
// away instead of one interval from now.
func (s *Scheduler) Run(ctx context.Context, immediate bool) error {
	c := cron.New(cron.WithLogger(cron.PrintfLogger(s.logger)))
	if _, err := c.AddFunc(s.Spec(), func() { s.Trigger(ctx) }); err != nil {
		return fmt.Errorf("schedule: %s: %w", s.Spec(), err)
	}
	s.logger.Printf("schedule: %s every %s", s.name, s.interval)

	if immediate {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.Trigger(ctx)
		}()
	}
	c.Start()

	<-ctx.Done()
	<-c.Stop().Done()
	s.wg.Wait()
	s.logger.Printf("schedule: %s stopped: %v", s.name, ctx.Err())
	return nil
}
