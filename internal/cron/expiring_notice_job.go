package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/stockhold-backend/internal/reservations"
	"github.com/angelmondragon/stockhold-backend/pkg/logger"
)

const ExpiringNoticeJobName = "reservation-expiring-notice"

type expiringNotifier interface {
	EnqueueExpiringSoonNotices(ctx context.Context, windowStart, windowEnd time.Time) (reservations.NoticeResult, error)
}

// ExpiringNoticeJobParams configure the same-day notice sweep.
type ExpiringNoticeJobParams struct {
	Logger       *logger.Logger
	Reservations expiringNotifier
	Location     *time.Location
}

// NewExpiringNoticeJob builds the job that reminds users of holds expiring
// later the same calendar day.
func NewExpiringNoticeJob(params ExpiringNoticeJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Reservations == nil {
		return nil, fmt.Errorf("reservations service required")
	}
	loc := params.Location
	if loc == nil {
		loc = time.Local
	}
	return &expiringNoticeJob{
		logg:         params.Logger,
		reservations: params.Reservations,
		loc:          loc,
		now:          time.Now,
	}, nil
}

type expiringNoticeJob struct {
	logg         *logger.Logger
	reservations expiringNotifier
	loc          *time.Location
	now          func() time.Time
}

func (j *expiringNoticeJob) Name() string { return ExpiringNoticeJobName }

func (j *expiringNoticeJob) Run(ctx context.Context) error {
	now := j.now()
	_, endOfDay := DayBounds(now, j.loc)

	result, err := j.reservations.EnqueueExpiringSoonNotices(ctx, now.UTC(), endOfDay.UTC())
	if err != nil {
		return fmt.Errorf("expiring notices: %w", err)
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"window_end": endOfDay,
		"considered": result.Considered,
		"enqueued":   result.Enqueued,
		"errors":     result.Errors,
	})
	j.logg.Info(logCtx, "expiring notice sweep complete")
	if result.Errors > 0 {
		return fmt.Errorf("expiring notices: %d of %d failed", result.Errors, result.Considered)
	}
	return nil
}
