// Package scheduler runs a job on a cron schedule until its context is cancelled.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Job is one scheduled run. It receives the scheduler's context.
type Job func(ctx context.Context)

type Scheduler struct {
	Cron       *cron.Cron
	Logger     *slog.Logger
	RunOnStart bool
	spec       string
	job        Job
}

// New parses spec, a six field cron expression with a leading seconds field.
// Overlapping runs are skipped rather than queued.
func New(spec string, job Job, logger *slog.Logger) (*Scheduler, error) {
	if _, err := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor).Parse(spec); err != nil {
		return nil, fmt.Errorf("invalid cron spec %q: %w", spec, err)
	}

	return &Scheduler{
		Cron: cron.New(
			cron.WithSeconds(),
			cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
		),
		Logger: logger,
		spec:   spec,
		job:    job,
	}, nil
}

// Start registers the job and blocks until ctx is done. The running job, if any,
// is waited for before Start returns.
func (s *Scheduler) Start(ctx context.Context) error {
	if _, err := s.Cron.AddFunc(s.spec, func() { s.run(ctx) }); err != nil {
		return fmt.Errorf("register job: %w", err)
	}

	if s.RunOnStart {
		s.run(ctx)
	}

	s.Cron.Start()
	s.Logger.Info("Scheduler started", "cron", s.spec, "next", s.Cron.Entries()[0].Next)

	<-ctx.Done()

	stopped := s.Cron.Stop()
	<-stopped.Done()
	s.Logger.Info("Scheduler stopped")
	return nil
}

func (s *Scheduler) run(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	s.Logger.Info("Running scheduled job")
	s.job(ctx)
}
