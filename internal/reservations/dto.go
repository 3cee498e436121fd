package reservations

import (
	"strings"

	"github.com/angelmondragon/stockhold-backend/pkg/db/models"
	"github.com/angelmondragon/stockhold-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/stockhold-backend/pkg/errors"
	"github.com/angelmondragon/stockhold-backend/pkg/pagination"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const maxNotesLength = 1000

// CreateInput carries a client's hold request.
type CreateInput struct {
	UserID       uuid.UUID
	ContactEmail string
	Items        []ItemInput
	Notes        *string
}

// ItemInput is one requested line. Product name and price are snapshots taken
// by the caller from the catalog.
type ItemInput struct {
	VariantID   string
	Quantity    int
	ProductName string
	UnitPrice   decimal.Decimal
}

func (in CreateInput) validate() error {
	if in.UserID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	if len(in.Items) == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "at least one item is required")
	}
	if in.Notes != nil && len([]rune(*in.Notes)) > maxNotesLength {
		return pkgerrors.New(pkgerrors.CodeValidation, "notes must be at most 1000 characters")
	}

	seen := make(map[string]struct{}, len(in.Items))
	for i, item := range in.Items {
		variant := strings.TrimSpace(item.VariantID)
		details := map[string]any{"index": i, "variant_id": item.VariantID}
		switch {
		case variant == "":
			return pkgerrors.New(pkgerrors.CodeValidation, "variant id is required").WithDetails(details)
		case item.Quantity < 1:
			return pkgerrors.New(pkgerrors.CodeValidation, "quantity must be at least 1").WithDetails(details)
		case strings.TrimSpace(item.ProductName) == "":
			return pkgerrors.New(pkgerrors.CodeValidation, "product name is required").WithDetails(details)
		case item.UnitPrice.IsNegative():
			return pkgerrors.New(pkgerrors.CodeValidation, "unit price must be non-negative").WithDetails(details)
		}
		if _, dup := seen[variant]; dup {
			return pkgerrors.New(pkgerrors.CodeValidation, "duplicate variant in request").WithDetails(details)
		}
		seen[variant] = struct{}{}
	}
	return nil
}

// ListFilter narrows administrative listings.
type ListFilter struct {
	State  *enums.ReservationState
	UserID *uuid.UUID
}

type listParams struct {
	Filter ListFilter
	Limit  int
	Cursor *pagination.Cursor
}

// ReservationList is one page of reservations, newest first.
type ReservationList struct {
	Items  []models.Reservation `json:"items"`
	Cursor string               `json:"cursor"`
}

// ExpireResult summarises one expiry sweep.
type ExpireResult struct {
	Processed  int
	Skipped    int
	Errors     int
	ExpiredIDs []uuid.UUID
}

// NoticeResult summarises a notice pass.
type NoticeResult struct {
	Considered int
	Enqueued   int
	Errors     int
}
