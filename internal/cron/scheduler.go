// Package cron provides a periodic scheduler that fires named jobs on
// standard 5-field cron expressions. The gateway uses it to revalidate
// the bot credential on a schedule instead of waiting for the next
// reconnect to discover an expired token.
package cron

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"
)

// cronParser parses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow,
)

// Config holds the dependencies for the cron scheduler.
type Config struct {
	Logger   *slog.Logger
	Interval time.Duration // tick interval; defaults to 1 minute if zero
}

type job struct {
	name    string
	expr    string
	sched   cronlib.Schedule
	fn      func(context.Context)
	nextRun time.Time
}

// Scheduler ticks at a fixed interval and runs every registered job whose
// next scheduled time has passed. Jobs run sequentially on the scheduler
// goroutine; a job that is due more than once per tick still fires once.
type Scheduler struct {
	logger   *slog.Logger
	interval time.Duration
	clock    func() time.Time

	mu   sync.Mutex
	jobs []*job

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a new Scheduler with the given config.
func NewScheduler(cfg Config) *Scheduler {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 1 * time.Minute
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		logger:   logger,
		interval: interval,
		clock:    time.Now,
	}
}

// AddJob registers fn to run on the given cron expression. The first run
// is the next time the expression matches; nothing fires at registration.
func (s *Scheduler) AddJob(name, expr string, fn func(context.Context)) error {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return fmt.Errorf("parse cron expr %q: %w", expr, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, &job{
		name:    name,
		expr:    expr,
		sched:   sched,
		fn:      fn,
		nextRun: sched.Next(s.clock()),
	})
	return nil
}

// Start begins the scheduler loop. It runs in a background goroutine
// and respects the provided context for shutdown.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.loop(ctx)
	s.logger.Info("cron scheduler started", "interval", s.interval)
}

// Stop cancels the scheduler loop and waits for it to exit.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info("cron scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick runs every job whose next run time has passed and advances it.
func (s *Scheduler) tick(ctx context.Context) {
	now := s.clock()
	for _, j := range s.due(now) {
		s.fire(ctx, j, now)
	}
}

func (s *Scheduler) due(now time.Time) []*job {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []*job
	for _, j := range s.jobs {
		if !j.nextRun.After(now) {
			due = append(due, j)
		}
	}
	return due
}

func (s *Scheduler) fire(ctx context.Context, j *job, now time.Time) {
	next := j.sched.Next(now)

	s.mu.Lock()
	j.nextRun = next
	s.mu.Unlock()

	s.logger.Info("cron: job fired", "job", j.name, "next_run_at", next)
	j.fn(ctx)
}

// NextRunTime parses the cron expression and returns the next run time after the given time.
func NextRunTime(cronExpr string, after time.Time) (time.Time, error) {
	sched, err := cronParser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(after), nil
}
