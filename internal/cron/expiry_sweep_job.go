package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/stockhold-backend/internal/reservations"
	"github.com/angelmondragon/stockhold-backend/pkg/logger"
	"go.uber.org/multierr"
)

const (
	ExpirySweepJobName     = "reservation-expiry-sweep"
	defaultExpiredLookback = time.Hour
)

type reservationExpirer interface {
	ExpireBatch(ctx context.Context) (reservations.ExpireResult, error)
	EnqueueExpiredNotices(ctx context.Context, since time.Time) (reservations.NoticeResult, error)
}

// ExpirySweepJobParams configure the reservation expiry sweep.
type ExpirySweepJobParams struct {
	Logger       *logger.Logger
	Reservations reservationExpirer
	Lookback     time.Duration
}

// NewExpirySweepJob builds the job that expires overdue holds and then queues
// the expired notice for everything that expired within the lookback window.
func NewExpirySweepJob(params ExpirySweepJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Reservations == nil {
		return nil, fmt.Errorf("reservations service required")
	}
	lookback := params.Lookback
	if lookback <= 0 {
		lookback = defaultExpiredLookback
	}
	return &expirySweepJob{
		logg:         params.Logger,
		reservations: params.Reservations,
		lookback:     lookback,
		now:          time.Now,
	}, nil
}

type expirySweepJob struct {
	logg         *logger.Logger
	reservations reservationExpirer
	lookback     time.Duration
	now          func() time.Time
}

func (j *expirySweepJob) Name() string { return ExpirySweepJobName }

func (j *expirySweepJob) Run(ctx context.Context) error {
	var errs error

	result, err := j.reservations.ExpireBatch(ctx)
	if err != nil {
		errs = multierr.Append(errs, fmt.Errorf("expire reservations: %w", err))
	} else if result.Errors > 0 {
		errs = multierr.Append(errs, fmt.Errorf("expire reservations: %d of %d failed", result.Errors, result.Processed+result.Errors+result.Skipped))
	}

	since := j.now().UTC().Add(-j.lookback)
	notices, err := j.reservations.EnqueueExpiredNotices(ctx, since)
	if err != nil {
		j.logg.Error(ctx, "expired notice pass failed", err)
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"processed":          result.Processed,
		"skipped":            result.Skipped,
		"errors":             result.Errors,
		"notices_considered": notices.Considered,
		"notices_enqueued":   notices.Enqueued,
		"notice_errors":      notices.Errors,
	})
	j.logg.Info(logCtx, "expiry sweep complete")
	return errs
}
