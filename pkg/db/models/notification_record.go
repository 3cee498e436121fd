package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/stockhold-backend/pkg/enums"
)

// NotificationRecord is an outbox row awaiting email delivery.
type NotificationRecord struct {
	ID               uuid.UUID                `gorm:"column:id;type:uuid;primaryKey"`
	UserID           uuid.UUID                `gorm:"column:user_id;type:uuid;not null"`
	EmailTo          string                   `gorm:"column:email_to;type:text;not null"`
	NotificationType enums.NotificationType   `gorm:"column:notification_type;type:text;not null"`
	Subject          string                   `gorm:"column:subject;type:text;not null"`
	Body             string                   `gorm:"column:body;type:text;not null"`
	RelatedEntityID  *uuid.UUID               `gorm:"column:related_entity_id;type:uuid"`
	Status           enums.NotificationStatus `gorm:"column:status;type:text;not null;index"`
	RetryCount       int                      `gorm:"column:retry_count;not null;default:0"`
	LastAttemptAt    *time.Time               `gorm:"column:last_attempt_at"`
	SentAt           *time.Time               `gorm:"column:sent_at"`
	ErrorMessage     *string                  `gorm:"column:error_message;type:text"`
	CreatedAt        time.Time                `gorm:"column:created_at;autoCreateTime"`
}

func (NotificationRecord) TableName() string { return "notification_records" }

func (n *NotificationRecord) BeforeCreate(tx *gorm.DB) error {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	return nil
}
