package notifications

import (
	"context"
	"time"

	"github.com/angelmondragon/stockhold-backend/pkg/db/models"
	"github.com/angelmondragon/stockhold-backend/pkg/enums"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository exposes persistence helpers for the notification outbox.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, record *models.NotificationRecord) error
	ExistsForKey(ctx context.Context, relatedEntityID uuid.UUID, notificationType enums.NotificationType, statuses ...enums.NotificationStatus) (bool, error)
	ListPendingForDelivery(ctx context.Context, limit int, retryBefore time.Time) ([]models.NotificationRecord, error)
	MarkAttempted(ctx context.Context, ids []uuid.UUID, now time.Time) error
	MarkSent(ctx context.Context, id uuid.UUID, now time.Time) error
	RecordFailure(ctx context.Context, id uuid.UUID, retryCount int, status enums.NotificationStatus, message string, now time.Time) error
	DeleteSentBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type repositoryImpl struct {
	db *gorm.DB
}

// NewRepository returns a notifications repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repositoryImpl{db: db}
}

func (r *repositoryImpl) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repositoryImpl{db: tx}
}

func (r *repositoryImpl) Create(ctx context.Context, record *models.NotificationRecord) error {
	return r.db.WithContext(ctx).Create(record).Error
}

func (r *repositoryImpl) ExistsForKey(ctx context.Context, relatedEntityID uuid.UUID, notificationType enums.NotificationType, statuses ...enums.NotificationStatus) (bool, error) {
	query := r.db.WithContext(ctx).
		Model(&models.NotificationRecord{}).
		Where("related_entity_id = ? AND notification_type = ?", relatedEntityID, notificationType)
	if len(statuses) > 0 {
		query = query.Where("status IN ?", statuses)
	}
	var count int64
	if err := query.Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// ListPendingForDelivery returns pending rows that were never attempted or whose
// last attempt is older than retryBefore. Rows are locked with SKIP LOCKED on
// Postgres so parallel workers claim disjoint batches.
func (r *repositoryImpl) ListPendingForDelivery(ctx context.Context, limit int, retryBefore time.Time) ([]models.NotificationRecord, error) {
	var rows []models.NotificationRecord
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
		Where("status = ?", enums.NotificationStatusPending).
		Where("last_attempt_at IS NULL OR last_attempt_at <= ?", retryBefore).
		Order("created_at ASC").
		Order("id ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// MarkAttempted stamps last_attempt_at on claimed rows so other workers skip
// them until the retry delay passes.
func (r *repositoryImpl) MarkAttempted(ctx context.Context, ids []uuid.UUID, now time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Model(&models.NotificationRecord{}).
		Where("id IN ? AND status = ?", ids, enums.NotificationStatusPending).
		Update("last_attempt_at", now).Error
}

func (r *repositoryImpl) MarkSent(ctx context.Context, id uuid.UUID, now time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.NotificationRecord{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":          enums.NotificationStatusSent,
			"sent_at":         now,
			"last_attempt_at": now,
			"error_message":   nil,
		}).Error
}

func (r *repositoryImpl) RecordFailure(ctx context.Context, id uuid.UUID, retryCount int, status enums.NotificationStatus, message string, now time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.NotificationRecord{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":          status,
			"retry_count":     retryCount,
			"error_message":   message,
			"last_attempt_at": now,
		}).Error
}

func (r *repositoryImpl) DeleteSentBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("status = ? AND sent_at < ?", enums.NotificationStatusSent, cutoff).
		Delete(&models.NotificationRecord{})
	return res.RowsAffected, res.Error
}
