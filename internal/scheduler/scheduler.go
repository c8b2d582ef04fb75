// Package scheduler opens the daily round and settles it on cron schedules
// evaluated in the market timezone.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// Job is one scheduled task.
type Job struct {
	Name     string
	Schedule Schedule
	Run      func(ctx context.Context) error
}

// Scheduler runs each registered job on its own cron loop until the context
// is cancelled. A failing run is logged and the job waits for its next slot.
type Scheduler struct {
	loc    *time.Location
	jobs   []Job
	logger *slog.Logger
	now    func() time.Time
}

func New(loc *time.Location, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		loc:    loc,
		logger: logger.With(slog.String("component", "scheduler")),
		now:    time.Now,
	}
}

// Add registers run under name on the cron expression expr.
func (s *Scheduler) Add(name, expr string, run func(ctx context.Context) error) error {
	sched, err := ParseCron(expr)
	if err != nil {
		return fmt.Errorf("scheduler: job %s: %w", name, err)
	}
	s.jobs = append(s.jobs, Job{Name: name, Schedule: sched, Run: run})
	return nil
}

// Jobs returns the registered jobs.
func (s *Scheduler) Jobs() []Job { return s.jobs }

// NextRuns reports the next fire time of every job.
func (s *Scheduler) NextRuns() map[string]time.Time {
	out := make(map[string]time.Time, len(s.jobs))
	now := s.now()
	for _, j := range s.jobs {
		out[j.Name] = j.Schedule.Next(now, s.loc)
	}
	return out
}

// Run blocks until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, j := range s.jobs {
		g.Go(func() error { return s.loop(ctx, j) })
	}
	err := g.Wait()
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func (s *Scheduler) loop(ctx context.Context, j Job) error {
	log := s.logger.With(slog.String("job", j.Name))
	log.InfoContext(ctx, "scheduler: job registered", slog.String("cron", j.Schedule.String()))

	for {
		next := j.Schedule.Next(s.now(), s.loc)
		if next.IsZero() {
			return fmt.Errorf("scheduler: job %s: no upcoming run for %q", j.Name, j.Schedule)
		}
		wait := next.Sub(s.now())
		log.DebugContext(ctx, "scheduler: waiting", slog.Time("next_run", next), slog.Duration("wait", wait))

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		start := s.now()
		if err := j.Run(ctx); err != nil {
			log.ErrorContext(ctx, "scheduler: job failed", slog.String("error", err.Error()))
			continue
		}
		log.InfoContext(ctx, "scheduler: job complete", slog.Duration("took", s.now().Sub(start)))
	}
}
