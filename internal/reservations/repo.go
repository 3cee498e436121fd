package reservations

import (
	"context"
	"time"

	"github.com/angelmondragon/stockhold-backend/pkg/db/models"
	"github.com/angelmondragon/stockhold-backend/pkg/enums"
	"github.com/angelmondragon/stockhold-backend/pkg/pagination"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

var activeStates = []enums.ReservationState{
	enums.ReservationStatePending,
	enums.ReservationStateApproved,
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a reservations repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, reservation *models.Reservation) error {
	return r.db.WithContext(ctx).Create(reservation).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Reservation, error) {
	var reservation models.Reservation
	err := r.withItems(r.db.WithContext(ctx)).
		Where("id = ?", id).
		First(&reservation).Error
	if err != nil {
		return nil, err
	}
	return &reservation, nil
}

func (r *repository) List(ctx context.Context, params listParams) ([]models.Reservation, *pagination.Cursor, error) {
	query := r.withItems(r.db.WithContext(ctx).Model(&models.Reservation{}))
	if params.Filter.UserID != nil {
		query = query.Where("user_id = ?", *params.Filter.UserID)
	}
	if params.Filter.State != nil {
		query = query.Where("state = ?", *params.Filter.State)
	}

	var rows []models.Reservation
	if err := pagination.Keyset(query, params.Cursor).Limit(pagination.LimitWithBuffer(params.Limit)).Find(&rows).Error; err != nil {
		return nil, nil, err
	}
	rows, next := pagination.Trim(rows, params.Limit, func(row models.Reservation) pagination.Cursor {
		return pagination.Cursor{CreatedAt: row.CreatedAt, ID: row.ID}
	})
	return rows, next, nil
}

// Transition moves a reservation into target only if it is still in one of
// the from states. A zero row count means the guard failed.
func (r *repository) Transition(ctx context.Context, id uuid.UUID, target enums.ReservationState, from []enums.ReservationState, updates map[string]any) (int64, error) {
	values := map[string]any{"state": target}
	for k, v := range updates {
		values[k] = v
	}
	res := r.db.WithContext(ctx).
		Model(&models.Reservation{}).
		Where("id = ? AND state IN ?", id, from).
		Updates(values)
	return res.RowsAffected, res.Error
}

func (r *repository) FindDue(ctx context.Context, now time.Time) ([]models.Reservation, error) {
	var rows []models.Reservation
	err := r.db.WithContext(ctx).
		Where("state IN ? AND expires_at <= ?", activeStates, now).
		Order("expires_at ASC").
		Find(&rows).Error
	return rows, err
}

func (r *repository) FindExpiredSince(ctx context.Context, since time.Time) ([]models.Reservation, error) {
	var rows []models.Reservation
	err := r.withItems(r.db.WithContext(ctx)).
		Where("state = ? AND expired_at >= ?", enums.ReservationStateExpired, since).
		Order("expired_at ASC").
		Find(&rows).Error
	return rows, err
}

func (r *repository) FindActiveExpiringBetween(ctx context.Context, from, to time.Time) ([]models.Reservation, error) {
	var rows []models.Reservation
	err := r.withItems(r.db.WithContext(ctx)).
		Where("state IN ? AND expires_at > ? AND expires_at < ?", activeStates, from, to).
		Order("expires_at ASC").
		Find(&rows).Error
	return rows, err
}

func (r *repository) withItems(db *gorm.DB) *gorm.DB {
	return db.Preload("Items", func(tx *gorm.DB) *gorm.DB {
		return tx.Order("position ASC")
	})
}
