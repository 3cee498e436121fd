package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/stockhold-backend/pkg/logger"
)

const (
	NotificationRetentionJobName = "notification-retention"
	notificationRetentionDays    = 30
)

type sentNotificationPurger interface {
	PurgeSent(ctx context.Context, retention time.Duration) (int64, error)
}

// NotificationRetentionJobParams configure the sent notification cleanup.
type NotificationRetentionJobParams struct {
	Logger    *logger.Logger
	Purger    sentNotificationPurger
	Retention int
}

// NewNotificationRetentionJob builds the job deleting sent notifications
// older than the retention window.
func NewNotificationRetentionJob(params NotificationRetentionJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Purger == nil {
		return nil, fmt.Errorf("notification purger required")
	}
	retention := params.Retention
	if retention <= 0 {
		retention = notificationRetentionDays
	}
	return &notificationRetentionJob{
		logg:      params.Logger,
		purger:    params.Purger,
		retention: retention,
	}, nil
}

type notificationRetentionJob struct {
	logg      *logger.Logger
	purger    sentNotificationPurger
	retention int
}

func (j *notificationRetentionJob) Name() string { return NotificationRetentionJobName }

func (j *notificationRetentionJob) Run(ctx context.Context) error {
	window := time.Duration(j.retention) * 24 * time.Hour
	deleted, err := j.purger.PurgeSent(ctx, window)
	if err != nil {
		return fmt.Errorf("notification retention: %w", err)
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"retention_days": j.retention,
		"rows_deleted":   deleted,
	})
	j.logg.Info(logCtx, "notification retention complete")
	return nil
}
