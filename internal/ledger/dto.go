package ledger

import (
	"strings"

	"github.com/angelmondragon/stockhold-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/stockhold-backend/pkg/errors"
	"github.com/google/uuid"
)

// Snapshot is the counter state of a variant at one point in time.
type Snapshot struct {
	Total     int `json:"stock_total"`
	Retained  int `json:"stock_retained"`
	Available int `json:"available"`
}

// CreateRecordInput seeds a new inventory record.
type CreateRecordInput struct {
	VariantID    string
	InitialTotal int
	Reason       string
	ActorID      *uuid.UUID
}

// MovementInput describes a retain or release. ActorID is nil for system-triggered calls.
type MovementInput struct {
	VariantID string
	Quantity  int
	Reason    string
	ActorID   *uuid.UUID
}

func (m MovementInput) validate() error {
	if strings.TrimSpace(m.VariantID) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "variant id is required")
	}
	if m.Quantity <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive")
	}
	return nil
}

// AdjustInput changes stock_total by Delta. Adjustments are always human-triggered.
type AdjustInput struct {
	VariantID string
	Delta     int
	Reason    string
	ActorID   uuid.UUID
}

// MovementList is one page of movement history, newest first.
type MovementList struct {
	Items  []models.InventoryMovement `json:"items"`
	Cursor string                     `json:"cursor"`
}

func snapshotOf(record *models.InventoryRecord) Snapshot {
	return Snapshot{
		Total:     record.StockTotal,
		Retained:  record.StockRetained,
		Available: record.Available(),
	}
}

func availableFor(total, retained int) int {
	if avail := total - retained; avail > 0 {
		return avail
	}
	return 0
}
