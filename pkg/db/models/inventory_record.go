package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// InventoryRecord holds the stock counters for a single variant.
type InventoryRecord struct {
	ID            uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	VariantID     string    `gorm:"column:variant_id;type:text;not null;uniqueIndex:inventory_records_variant_id_key"`
	StockTotal    int       `gorm:"column:stock_total;not null;default:0"`
	StockRetained int       `gorm:"column:stock_retained;not null;default:0"`
	CreatedAt     time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (InventoryRecord) TableName() string { return "inventory_records" }

func (r *InventoryRecord) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}

// Available is stock_total minus stock_retained, floored at zero.
func (r InventoryRecord) Available() int {
	if avail := r.StockTotal - r.StockRetained; avail > 0 {
		return avail
	}
	return 0
}
