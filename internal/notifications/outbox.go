package notifications

import (
	"context"
	"fmt"
	"strings"

	"github.com/angelmondragon/stockhold-backend/pkg/db/models"
	"github.com/angelmondragon/stockhold-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/stockhold-backend/pkg/errors"
	"github.com/angelmondragon/stockhold-backend/pkg/logger"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// EnqueueInput describes one notification intent.
type EnqueueInput struct {
	UserID          uuid.UUID
	EmailTo         string
	Type            enums.NotificationType
	Subject         string
	Body            string
	RelatedEntityID *uuid.UUID
}

// Outbox records notification intents. Writes join the caller's transaction
// when one is given so the intent commits or rolls back with the change that
// produced it.
type Outbox struct {
	repo Repository
	logg *logger.Logger
}

// NewOutbox wires the notification outbox.
func NewOutbox(repo Repository, logg *logger.Logger) (*Outbox, error) {
	if repo == nil {
		return nil, fmt.Errorf("notifications repository required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Outbox{repo: repo, logg: logg}, nil
}

// Enqueue inserts a pending record. It returns nil without error when a sent
// record already exists for (RelatedEntityID, Type), and also when a pending
// one does, so repeated sweeps do not stack intents for the same key before
// delivery.
func (o *Outbox) Enqueue(ctx context.Context, tx *gorm.DB, input EnqueueInput) (*models.NotificationRecord, error) {
	if input.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	if strings.TrimSpace(input.EmailTo) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "recipient email is required")
	}
	if !input.Type.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid notification type %q", input.Type))
	}

	repo := o.repo.WithTx(tx)
	if input.RelatedEntityID != nil {
		exists, err := repo.ExistsForKey(ctx, *input.RelatedEntityID, input.Type,
			enums.NotificationStatusPending, enums.NotificationStatusSent)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check notification dedupe key")
		}
		if exists {
			o.logg.Info(o.logFields(ctx, input), "notification already queued or sent")
			return nil, nil
		}
	}

	record := &models.NotificationRecord{
		UserID:           input.UserID,
		EmailTo:          strings.TrimSpace(input.EmailTo),
		NotificationType: input.Type,
		Subject:          input.Subject,
		Body:             input.Body,
		RelatedEntityID:  input.RelatedEntityID,
		Status:           enums.NotificationStatusPending,
	}
	if err := repo.Create(ctx, record); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "enqueue notification")
	}

	o.logg.Info(o.logg.WithField(o.logFields(ctx, input), "notification_id", record.ID.String()), "notification queued")
	return record, nil
}

// EnqueueReservationNotice renders and enqueues the message for a reservation
// event. Reservations without a contact email are skipped.
func (o *Outbox) EnqueueReservationNotice(ctx context.Context, tx *gorm.DB, notificationType enums.NotificationType, notice ReservationNotice) (*models.NotificationRecord, error) {
	if strings.TrimSpace(notice.EmailTo) == "" {
		o.logg.Warn(o.logg.WithReservationID(ctx, notice.ReservationID.String()), "reservation has no contact email; notification skipped")
		return nil, nil
	}
	subject, body, err := Render(notificationType, notice)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "render notification")
	}
	related := notice.ReservationID
	return o.Enqueue(ctx, tx, EnqueueInput{
		UserID:          notice.UserID,
		EmailTo:         notice.EmailTo,
		Type:            notificationType,
		Subject:         subject,
		Body:            body,
		RelatedEntityID: &related,
	})
}

// HasSent reports whether a sent record exists for the key.
func (o *Outbox) HasSent(ctx context.Context, relatedEntityID uuid.UUID, notificationType enums.NotificationType) (bool, error) {
	exists, err := o.repo.ExistsForKey(ctx, relatedEntityID, notificationType, enums.NotificationStatusSent)
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check sent notification")
	}
	return exists, nil
}

func (o *Outbox) logFields(ctx context.Context, input EnqueueInput) context.Context {
	fields := map[string]any{
		"notification": string(input.Type),
		"user_id":      input.UserID.String(),
	}
	if input.RelatedEntityID != nil {
		fields["related_entity_id"] = input.RelatedEntityID.String()
	}
	return o.logg.WithFields(ctx, fields)
}
