package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/stockhold-backend/pkg/enums"
)

// InventoryMovement is an append-only audit row written with every counter change.
type InventoryMovement struct {
	ID              uuid.UUID          `gorm:"column:id;type:uuid;primaryKey"`
	VariantID       string             `gorm:"column:variant_id;type:text;not null;index:inventory_movements_variant_created_idx,priority:1"`
	Quantity        int                `gorm:"column:quantity;not null"`
	MovementType    enums.MovementType `gorm:"column:movement_type;type:text;not null"`
	Reason          string             `gorm:"column:reason;type:text;not null"`
	ActorID         *uuid.UUID         `gorm:"column:actor_id;type:uuid"`
	TotalBefore     int                `gorm:"column:total_before;not null"`
	RetainedBefore  int                `gorm:"column:retained_before;not null"`
	AvailableBefore int                `gorm:"column:available_before;not null"`
	TotalAfter      int                `gorm:"column:total_after;not null"`
	RetainedAfter   int                `gorm:"column:retained_after;not null"`
	AvailableAfter  int                `gorm:"column:available_after;not null"`
	CreatedAt       time.Time          `gorm:"column:created_at;autoCreateTime;index:inventory_movements_variant_created_idx,priority:2"`
}

func (InventoryMovement) TableName() string { return "inventory_movements" }

func (m *InventoryMovement) BeforeCreate(tx *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}
