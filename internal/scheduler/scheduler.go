// Package scheduler drives the tracker's periodic jobs and daily UTC jobs.
package scheduler

import (
	"context"
	"log"
	"sync"
	"time"

	"dlmm-tracker/internal/observability"
)

// shutdownGrace bounds how long Stop waits for running jobs.
const shutdownGrace = 10 * time.Second

// Job is one periodic task.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context)
}

// DailyJob runs once per day at a fixed UTC time.
type DailyJob struct {
	Name   string
	Hour   int // 0..23 UTC
	Minute int // 0..59
	Run    func(ctx context.Context)
}

// Scheduler owns all job goroutines.
type Scheduler struct {
	jobs    []Job
	daily   []DailyJob
	metrics *observability.Metrics
	logger  *log.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
	now    func() time.Time
}

// Options configures a Scheduler.
type Options struct {
	Metrics *observability.Metrics
	Logger  *log.Logger
}

// New creates an empty scheduler.
func New(opts Options) *Scheduler {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Scheduler{
		metrics: opts.Metrics,
		logger:  logger,
		now:     time.Now,
	}
}

// Add registers a periodic job. Must be called before Start.
func (s *Scheduler) Add(name string, interval time.Duration, run func(ctx context.Context)) {
	s.jobs = append(s.jobs, Job{Name: name, Interval: interval, Run: run})
}

// AddDaily registers a daily UTC job. Must be called before Start.
func (s *Scheduler) AddDaily(name string, hour, minute int, run func(ctx context.Context)) {
	s.daily = append(s.daily, DailyJob{Name: name, Hour: hour, Minute: minute, Run: run})
}

// Start launches every job goroutine.
func (s *Scheduler) Start(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	s.cancel = cancel

	for _, job := range s.jobs {
		s.wg.Add(1)
		go s.runPeriodic(ctx, job)
	}
	for _, job := range s.daily {
		s.wg.Add(1)
		go s.runDaily(ctx, job)
	}
	s.logger.Printf("scheduler started: %d periodic, %d daily jobs", len(s.jobs), len(s.daily))
}

// Stop cancels all jobs and waits up to the shutdown grace period.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(shutdownGrace):
		s.logger.Printf("scheduler stop timed out; abandoning running jobs")
	}
}

// runPeriodic ticks a job until cancellation. A panicking run terminates
// only that tick; the job fires again on the next one.
func (s *Scheduler) runPeriodic(ctx context.Context, job Job) {
	defer s.wg.Done()

	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(ctx, job.Name, job.Run)
		}
	}
}

// runDaily sleeps until the next hh:mm UTC and fires.
func (s *Scheduler) runDaily(ctx context.Context, job DailyJob) {
	defer s.wg.Done()

	for {
		wait := s.untilNext(job.Hour, job.Minute)
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
			s.runOnce(ctx, job.Name, job.Run)
		}
	}
}

// untilNext returns the duration to the next occurrence of hh:mm UTC.
func (s *Scheduler) untilNext(hour, minute int) time.Duration {
	now := s.now().UTC()
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, time.UTC)
	if !next.After(now) {
		next = next.Add(24 * time.Hour)
	}
	return next.Sub(now)
}

func (s *Scheduler) runOnce(ctx context.Context, name string, run func(ctx context.Context)) {
	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Printf("job %s panicked: %v", name, rec)
			if s.metrics != nil {
				s.metrics.JobErrors.WithLabelValues(name).Inc()
			}
		}
	}()
	if s.metrics != nil {
		s.metrics.JobRuns.WithLabelValues(name).Inc()
	}
	run(ctx)
}
