package usecase

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"BillsAnalyzer/internal/ports"
)

// Job is one recurring unit of work bound to its own driver.
type Job struct {
	Name   string
	Driver ports.Scheduler
	Run    func(ctx context.Context) error
}

// Scheduler wires interval drivers with the sync, analysis and maintenance use cases.
type Scheduler struct {
	jobs   []Job
	logger *slog.Logger
}

// NewScheduler returns a helper to start/stop recurring jobs.
func NewScheduler(logger *slog.Logger, jobs ...Job) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{jobs: jobs, logger: logger}
}

// Start registers every job with its driver. Job errors are logged, never fatal.
func (s *Scheduler) Start(ctx context.Context) error {
	for _, job := range s.jobs {
		if job.Driver == nil || job.Run == nil {
			continue
		}
		job := job
		logger := s.logger.With("job", job.Name)
		run := func(trigger time.Time) {
			started := time.Now()
			if err := job.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Warn("job failed", "trigger", trigger, "err", err)
				return
			}
			logger.Debug("job finished", "elapsed", time.Since(started))
		}
		if err := job.Driver.Start(ctx, run); err != nil {
			return errors.Join(err, s.Stop(ctx))
		}
	}
	return nil
}

// Stop tears down every driver, waiting for in-flight runs.
func (s *Scheduler) Stop(ctx context.Context) error {
	var errs []error
	for _, job := range s.jobs {
		if job.Driver == nil {
			continue
		}
		errs = append(errs, job.Driver.Stop(ctx))
	}
	return errors.Join(errs...)
}
