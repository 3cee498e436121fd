package notifications

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/stockhold-backend/pkg/db"
	"github.com/angelmondragon/stockhold-backend/pkg/db/models"
	"github.com/angelmondragon/stockhold-backend/pkg/email"
	"github.com/angelmondragon/stockhold-backend/pkg/enums"
	"github.com/angelmondragon/stockhold-backend/pkg/logger"
	"github.com/angelmondragon/stockhold-backend/pkg/metrics"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	DefaultMaxRetries = 3
	defaultBatchSize  = 50
	defaultRetryDelay = time.Minute

	sentKeyConstraint = "ux_notification_records_sent_key"
	duplicateMessage  = "duplicate of an already sent notification"
	markSentSavepoint = "mark_sent"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// DeliveryResult aggregates one ProcessPending pass. Failed counts failed
// attempts, Exhausted the subset that reached the retry limit. Errors counts
// records whose outcome could not be stored; they stay pending.
type DeliveryResult struct {
	Sent      int
	Failed    int
	Exhausted int
	Skipped   int
	Errors    int
	Total     int
}

func (r *DeliveryResult) add(o DeliveryResult) {
	r.Sent += o.Sent
	r.Failed += o.Failed
	r.Exhausted += o.Exhausted
	r.Skipped += o.Skipped
}

// DispatcherParams groups the delivery worker dependencies.
type DispatcherParams struct {
	Repo       Repository
	TX         txRunner
	Sender     email.Sender
	Logg       *logger.Logger
	Metrics    *metrics.NotificationMetrics
	From       string
	BatchSize  int
	RetryDelay time.Duration
	Now        func() time.Time
}

// Dispatcher drains pending notifications through the email transport.
type Dispatcher struct {
	repo       Repository
	tx         txRunner
	sender     email.Sender
	logg       *logger.Logger
	metrics    *metrics.NotificationMetrics
	from       string
	batchSize  int
	retryDelay time.Duration
	now        func() time.Time
}

func NewDispatcher(params DispatcherParams) (*Dispatcher, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("notifications repository required")
	}
	if params.TX == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Sender == nil {
		return nil, fmt.Errorf("email sender required")
	}
	if params.Logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	delay := params.RetryDelay
	if delay < 0 {
		delay = defaultRetryDelay
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Dispatcher{
		repo:       params.Repo,
		tx:         params.TX,
		sender:     params.Sender,
		logg:       params.Logg,
		metrics:    params.Metrics,
		from:       params.From,
		batchSize:  batch,
		retryDelay: delay,
		now:        now,
	}, nil
}

// ProcessPending attempts one batch of pending notifications. The batch is
// claimed in a short transaction and each record is then settled in its own,
// so a storage failure on one record is counted in Errors and the rest of the
// batch still commits. Transport failures stay on the record: retry_count
// grows and the record turns failed once it reaches maxRetries. Only a failed
// claim is returned as an error.
func (d *Dispatcher) ProcessPending(ctx context.Context, maxRetries int) (DeliveryResult, error) {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}

	rows, err := d.claim(ctx)
	if err != nil {
		return DeliveryResult{}, err
	}
	result := DeliveryResult{Total: len(rows)}

	for i := range rows {
		record := rows[i]
		var step DeliveryResult
		err := d.tx.WithTx(ctx, func(tx *gorm.DB) error {
			step = DeliveryResult{}
			return d.deliver(ctx, tx, d.repo.WithTx(tx), record, maxRetries, &step)
		})
		if err != nil {
			result.Errors++
			d.metrics.ObserveDelivery("error")
			d.logg.Error(d.logg.WithField(ctx, "notification_id", record.ID.String()), "notification outcome not stored", err)
			continue
		}
		result.add(step)
		d.observe(step)
	}

	if result.Total > 0 {
		logCtx := d.logg.WithFields(ctx, map[string]any{
			"total":     result.Total,
			"sent":      result.Sent,
			"failed":    result.Failed,
			"exhausted": result.Exhausted,
			"skipped":   result.Skipped,
			"errors":    result.Errors,
		})
		d.logg.Info(logCtx, "notification batch processed")
	}
	return result, nil
}

// claim locks a batch of due rows and stamps last_attempt_at as a lease.
func (d *Dispatcher) claim(ctx context.Context) ([]models.NotificationRecord, error) {
	var rows []models.NotificationRecord
	err := d.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := d.repo.WithTx(tx)
		now := d.now().UTC()

		var err error
		rows, err = repo.ListPendingForDelivery(ctx, d.batchSize, now.Add(-d.retryDelay))
		if err != nil {
			return fmt.Errorf("list pending notifications: %w", err)
		}
		ids := make([]uuid.UUID, 0, len(rows))
		for _, row := range rows {
			ids = append(ids, row.ID)
		}
		if err := repo.MarkAttempted(ctx, ids, now); err != nil {
			return fmt.Errorf("claim pending notifications: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (d *Dispatcher) observe(step DeliveryResult) {
	switch {
	case step.Sent > 0:
		d.metrics.ObserveDelivery("sent")
	case step.Exhausted > 0:
		d.metrics.ObserveDelivery("failed")
	case step.Failed > 0:
		d.metrics.ObserveDelivery("retry")
	case step.Skipped > 0:
		d.metrics.ObserveDelivery("duplicate")
	}
}

func (d *Dispatcher) deliver(ctx context.Context, tx *gorm.DB, repo Repository, record models.NotificationRecord, maxRetries int, result *DeliveryResult) error {
	logCtx := d.logg.WithFields(ctx, map[string]any{
		"notification_id": record.ID.String(),
		"notification":    string(record.NotificationType),
		"retry_count":     record.RetryCount,
	})
	now := d.now().UTC()

	if record.RelatedEntityID != nil {
		sent, err := repo.ExistsForKey(ctx, *record.RelatedEntityID, record.NotificationType, enums.NotificationStatusSent)
		if err != nil {
			return fmt.Errorf("check sent notification %s: %w", record.ID, err)
		}
		if sent {
			result.Skipped++
			d.logg.Warn(logCtx, "notification already delivered for key; marking duplicate")
			return repo.RecordFailure(ctx, record.ID, record.RetryCount, enums.NotificationStatusFailed, duplicateMessage, now)
		}
	}

	sendErr := d.sender.Send(ctx, email.Message{
		NotificationID: record.ID.String(),
		Type:           string(record.NotificationType),
		From:           d.from,
		To:             record.EmailTo,
		Subject:        record.Subject,
		Body:           record.Body,
	})
	if sendErr != nil {
		result.Failed++
		retries := record.RetryCount + 1
		status := enums.NotificationStatusPending
		if retries >= maxRetries {
			status = enums.NotificationStatusFailed
			result.Exhausted++
		}
		d.logg.Warn(d.logg.WithField(logCtx, "error", sendErr.Error()), "notification delivery failed")
		if err := repo.RecordFailure(ctx, record.ID, retries, status, sendErr.Error(), now); err != nil {
			return fmt.Errorf("record notification failure %s: %w", record.ID, err)
		}
		return nil
	}

	// A sent row for the same key may have committed since the check above;
	// the savepoint keeps the transaction usable after the unique violation.
	savepointErr := tx.SavePoint(markSentSavepoint).Error
	if savepointErr != nil {
		d.logg.Warn(d.logg.WithField(logCtx, "error", savepointErr.Error()), "mark_sent savepoint unavailable")
	}
	if err := repo.MarkSent(ctx, record.ID, now); err != nil {
		if savepointErr != nil || !db.IsUniqueViolation(err, sentKeyConstraint) {
			return fmt.Errorf("mark notification sent %s: %w", record.ID, err)
		}
		if err := tx.RollbackTo(markSentSavepoint).Error; err != nil {
			return fmt.Errorf("rollback to %s: %w", markSentSavepoint, err)
		}
		result.Skipped++
		return repo.RecordFailure(ctx, record.ID, record.RetryCount, enums.NotificationStatusFailed, duplicateMessage, now)
	}
	result.Sent++
	d.logg.Info(logCtx, "notification sent")
	return nil
}

// PurgeSent deletes sent records older than the retention window.
func (d *Dispatcher) PurgeSent(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, fmt.Errorf("retention must be positive")
	}
	cutoff := d.now().UTC().Add(-retention)
	return d.repo.DeleteSentBefore(ctx, cutoff)
}
