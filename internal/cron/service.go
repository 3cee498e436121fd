package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/angelmondragon/stockhold-backend/pkg/logger"
	"github.com/angelmondragon/stockhold-backend/pkg/metrics"
	"golang.org/x/sync/errgroup"
)

const defaultInterval = 24 * time.Hour

// ServiceParams configure the cron service.
type ServiceParams struct {
	Logger     *logger.Logger
	Registry   *Registry
	Locks      LockFactory
	Metrics    *metrics.CronJobMetrics
	RunOnStart bool
	Now        func() time.Time
}

// Service executes registered cron jobs, each on its own schedule.
type Service struct {
	logg       *logger.Logger
	registry   *Registry
	locks      map[string]Lock
	metrics    *metrics.CronJobMetrics
	runOnStart bool
	now        func() time.Time
}

// NewService builds a cron service with one lock per registered job.
func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Locks == nil {
		return nil, fmt.Errorf("lock factory required")
	}
	registry := params.Registry
	if registry == nil {
		registry = NewRegistry()
	}
	locks := make(map[string]Lock)
	for _, entry := range registry.Entries() {
		name := entry.Job.Name()
		if _, dup := locks[name]; dup {
			return nil, fmt.Errorf("duplicate cron job %q", name)
		}
		lock, err := params.Locks(name)
		if err != nil {
			return nil, fmt.Errorf("lock for %s: %w", name, err)
		}
		locks[name] = lock
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		logg:       params.Logger,
		registry:   registry,
		locks:      locks,
		metrics:    params.Metrics,
		runOnStart: params.RunOnStart,
		now:        now,
	}, nil
}

// Run schedules every job until the context is canceled.
func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	group, groupCtx := errgroup.WithContext(ctx)
	for _, entry := range s.registry.Entries() {
		entry := entry
		group.Go(func() error {
			return s.loop(groupCtx, entry)
		})
	}
	err := group.Wait()
	s.logg.Info(ctx, "cron service stopped")
	if errors.Is(err, context.Canceled) {
		return ctx.Err()
	}
	return err
}

func (s *Service) loop(ctx context.Context, entry Entry) error {
	logCtx := s.logg.WithFields(ctx, map[string]any{
		"job":      entry.Job.Name(),
		"schedule": entry.Schedule.String(),
	})
	if s.runOnStart {
		s.RunJob(ctx, entry.Job)
	}
	for {
		next := entry.Schedule.Next(s.now())
		wait := next.Sub(s.now())
		if wait < 0 {
			wait = 0
		}
		s.logg.Info(s.logg.WithField(logCtx, "next_run", next), "job scheduled")

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			s.RunJob(ctx, entry.Job)
		}
	}
}

// RunJob runs one job under its lock. A job whose lock is held elsewhere is
// skipped. Job failures are logged and counted, never returned.
func (s *Service) RunJob(ctx context.Context, job Job) {
	jobCtx := s.logg.WithField(ctx, "job", job.Name())
	jobCtx = s.logg.WithField(jobCtx, "event", "cron.job")

	lock, ok := s.locks[job.Name()]
	if !ok {
		s.logg.Warn(jobCtx, "job not registered; skipping")
		return
	}
	locked, err := lock.Acquire(ctx)
	if err != nil {
		s.logg.Error(jobCtx, "lock acquire failed", err)
		s.metrics.RecordLockError(job.Name())
		return
	}
	if !locked {
		s.logg.Info(jobCtx, "another cron instance is running this job; skipping")
		s.metrics.RecordSkip(job.Name())
		return
	}
	defer func() {
		if relErr := lock.Release(ctx); relErr != nil {
			s.logg.Error(jobCtx, "failed to release cron lock", relErr)
		}
	}()

	s.logg.Info(jobCtx, "job start")
	start := time.Now()
	err = job.Run(jobCtx)
	duration := time.Since(start)
	s.metrics.RecordRun(job.Name(), err, duration)
	jobCtx = s.logg.WithField(jobCtx, "duration_ms", duration.Milliseconds())
	if err != nil {
		s.logg.Error(jobCtx, "job failed", err)
		return
	}
	s.logg.Info(jobCtx, "job completed")
}

// RunNamed runs the registered job with the given name once.
func (s *Service) RunNamed(ctx context.Context, name string) error {
	job, ok := s.registry.Lookup(name)
	if !ok {
		return fmt.Errorf("unknown cron job %q", name)
	}
	s.RunJob(ctx, job)
	return nil
}
