package ledger

import (
	"context"

	"github.com/angelmondragon/stockhold-backend/pkg/db/models"
	"github.com/angelmondragon/stockhold-backend/pkg/pagination"
	"gorm.io/gorm"
)

// Repository manages persistence for inventory records and their movements.
// Every counter mutation is a single conditional UPDATE; callers inspect the
// affected row count to decide between success and a business failure.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	CreateRecord(ctx context.Context, record *models.InventoryRecord) error
	FindByVariant(ctx context.Context, variantID string) (*models.InventoryRecord, error)
	IncrementRetained(ctx context.Context, variantID string, qty int) (int64, error)
	DecrementRetained(ctx context.Context, variantID string, qty int) (int64, error)
	SwapRetained(ctx context.Context, variantID string, expected, next int) (int64, error)
	AdjustTotal(ctx context.Context, variantID string, delta int) (int64, error)
	CreateMovement(ctx context.Context, movement *models.InventoryMovement) error
	ListMovements(ctx context.Context, params listMovementsParams) ([]models.InventoryMovement, *pagination.Cursor, error)
}

type listMovementsParams struct {
	VariantID string
	Limit     int
	Cursor    *pagination.Cursor
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a ledger repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) CreateRecord(ctx context.Context, record *models.InventoryRecord) error {
	return r.db.WithContext(ctx).Create(record).Error
}

func (r *repository) FindByVariant(ctx context.Context, variantID string) (*models.InventoryRecord, error) {
	var record models.InventoryRecord
	if err := r.db.WithContext(ctx).
		Where("variant_id = ?", variantID).
		First(&record).Error; err != nil {
		return nil, err
	}
	return &record, nil
}

func (r *repository) IncrementRetained(ctx context.Context, variantID string, qty int) (int64, error) {
	res := r.db.WithContext(ctx).Exec(`
		UPDATE inventory_records
		SET stock_retained = stock_retained + ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE variant_id = ? AND stock_total - stock_retained >= ?
	`, qty, variantID, qty)
	return res.RowsAffected, res.Error
}

func (r *repository) DecrementRetained(ctx context.Context, variantID string, qty int) (int64, error) {
	res := r.db.WithContext(ctx).Exec(`
		UPDATE inventory_records
		SET stock_retained = stock_retained - ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE variant_id = ? AND stock_retained >= ?
	`, qty, variantID, qty)
	return res.RowsAffected, res.Error
}

func (r *repository) SwapRetained(ctx context.Context, variantID string, expected, next int) (int64, error) {
	res := r.db.WithContext(ctx).Exec(`
		UPDATE inventory_records
		SET stock_retained = ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE variant_id = ? AND stock_retained = ?
	`, next, variantID, expected)
	return res.RowsAffected, res.Error
}

func (r *repository) AdjustTotal(ctx context.Context, variantID string, delta int) (int64, error) {
	res := r.db.WithContext(ctx).Exec(`
		UPDATE inventory_records
		SET stock_total = stock_total + ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE variant_id = ?
			AND stock_total + ? >= 0
			AND stock_total + ? >= stock_retained
	`, delta, variantID, delta, delta)
	return res.RowsAffected, res.Error
}

func (r *repository) CreateMovement(ctx context.Context, movement *models.InventoryMovement) error {
	return r.db.WithContext(ctx).Create(movement).Error
}

func (r *repository) ListMovements(ctx context.Context, params listMovementsParams) ([]models.InventoryMovement, *pagination.Cursor, error) {
	query := r.db.WithContext(ctx).Model(&models.InventoryMovement{}).Where("variant_id = ?", params.VariantID)

	var movements []models.InventoryMovement
	if err := pagination.Keyset(query, params.Cursor).Limit(pagination.LimitWithBuffer(params.Limit)).Find(&movements).Error; err != nil {
		return nil, nil, err
	}
	movements, next := pagination.Trim(movements, params.Limit, func(m models.InventoryMovement) pagination.Cursor {
		return pagination.Cursor{CreatedAt: m.CreatedAt, ID: m.ID}
	})
	return movements, next, nil
}
