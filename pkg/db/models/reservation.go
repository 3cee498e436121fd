package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/stockhold-backend/pkg/enums"
)

// Reservation is a time-bounded hold on one or more variants.
type Reservation struct {
	ID           uuid.UUID              `gorm:"column:id;type:uuid;primaryKey"`
	UserID       uuid.UUID              `gorm:"column:user_id;type:uuid;not null;index"`
	ContactEmail string                 `gorm:"column:contact_email;type:text;not null;default:''"`
	State        enums.ReservationState `gorm:"column:state;type:text;not null;index:reservations_state_expires_idx,priority:1"`
	Notes        *string                `gorm:"column:notes;type:text"`
	AdminNotes   *string                `gorm:"column:admin_notes;type:text"`
	ExpiresAt    time.Time              `gorm:"column:expires_at;not null;index:reservations_state_expires_idx,priority:2"`
	ApprovedAt   *time.Time             `gorm:"column:approved_at"`
	RejectedAt   *time.Time             `gorm:"column:rejected_at"`
	CancelledAt  *time.Time             `gorm:"column:cancelled_at"`
	ExpiredAt    *time.Time             `gorm:"column:expired_at"`
	DecidedBy    *uuid.UUID             `gorm:"column:decided_by;type:uuid"`
	CreatedAt    time.Time              `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time              `gorm:"column:updated_at;autoUpdateTime"`

	Items []ReservationItem `gorm:"foreignKey:ReservationID;references:ID"`
}

func (Reservation) TableName() string { return "reservations" }

func (r *Reservation) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}

// ReservationItem is an immutable line of a reservation.
type ReservationItem struct {
	ID            uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	ReservationID uuid.UUID       `gorm:"column:reservation_id;type:uuid;not null;index"`
	Position      int             `gorm:"column:position;not null"`
	VariantID     string          `gorm:"column:variant_id;type:text;not null"`
	Quantity      int             `gorm:"column:quantity;not null"`
	ProductName   string          `gorm:"column:product_name;type:text;not null"`
	UnitPrice     decimal.Decimal `gorm:"column:unit_price;type:numeric(12,2);not null"`
	CreatedAt     time.Time       `gorm:"column:created_at;autoCreateTime"`
}

func (ReservationItem) TableName() string { return "reservation_items" }

func (i *ReservationItem) BeforeCreate(tx *gorm.DB) error {
	if i.ID == uuid.Nil {
		i.ID = uuid.New()
	}
	return nil
}
