package reservations

import (
	"context"
	"time"

	"github.com/angelmondragon/stockhold-backend/internal/ledger"
	"github.com/angelmondragon/stockhold-backend/internal/notifications"
	"github.com/angelmondragon/stockhold-backend/pkg/db/models"
	"github.com/angelmondragon/stockhold-backend/pkg/enums"
	"github.com/angelmondragon/stockhold-backend/pkg/pagination"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Repository defines persistence operations for reservations and their items.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, reservation *models.Reservation) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Reservation, error)
	List(ctx context.Context, params listParams) ([]models.Reservation, *pagination.Cursor, error)
	Transition(ctx context.Context, id uuid.UUID, target enums.ReservationState, from []enums.ReservationState, updates map[string]any) (int64, error)
	FindDue(ctx context.Context, now time.Time) ([]models.Reservation, error)
	FindExpiredSince(ctx context.Context, since time.Time) ([]models.Reservation, error)
	FindActiveExpiringBetween(ctx context.Context, from, to time.Time) ([]models.Reservation, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// InventoryLedger is the subset of the ledger the state machine drives.
type InventoryLedger interface {
	Retain(ctx context.Context, tx *gorm.DB, input ledger.MovementInput) (int, error)
	Release(ctx context.Context, tx *gorm.DB, input ledger.MovementInput) (bool, error)
}

// Notifier queues reservation emails.
type Notifier interface {
	EnqueueReservationNotice(ctx context.Context, tx *gorm.DB, notificationType enums.NotificationType, notice notifications.ReservationNotice) (*models.NotificationRecord, error)
	HasSent(ctx context.Context, relatedEntityID uuid.UUID, notificationType enums.NotificationType) (bool, error)
}

// Service is the reservation state machine. It is the only caller that
// retains or releases stock on behalf of reservations.
type Service interface {
	Create(ctx context.Context, input CreateInput) (*models.Reservation, error)
	Approve(ctx context.Context, id, adminID uuid.UUID, adminNotes *string) (*models.Reservation, error)
	Reject(ctx context.Context, id, adminID uuid.UUID, adminNotes *string) (*models.Reservation, error)
	Cancel(ctx context.Context, id, actorID uuid.UUID, forced bool) (*models.Reservation, error)
	ExpireBatch(ctx context.Context) (ExpireResult, error)

	Get(ctx context.Context, id uuid.UUID) (*models.Reservation, error)
	ListByUser(ctx context.Context, userID uuid.UUID, state *enums.ReservationState, params pagination.Params) (*ReservationList, error)
	List(ctx context.Context, filter ListFilter, params pagination.Params) (*ReservationList, error)

	EnqueueExpiredNotices(ctx context.Context, since time.Time) (NoticeResult, error)
	EnqueueExpiringSoonNotices(ctx context.Context, windowStart, windowEnd time.Time) (NoticeResult, error)
}
