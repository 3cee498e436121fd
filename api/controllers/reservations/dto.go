package reservations

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	internalreservations "github.com/angelmondragon/stockhold-backend/internal/reservations"
	"github.com/angelmondragon/stockhold-backend/pkg/db/models"
	"github.com/angelmondragon/stockhold-backend/pkg/enums"
)

type createItemRequest struct {
	VariantID   string          `json:"variant_id" validate:"required,max=128"`
	Quantity    int             `json:"quantity" validate:"required,gte=1"`
	ProductName string          `json:"product_name" validate:"required,max=255"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
}

type createRequest struct {
	ContactEmail string              `json:"contact_email" validate:"omitempty,email"`
	Notes        *string             `json:"notes" validate:"omitempty,max=1000"`
	Items        []createItemRequest `json:"items" validate:"required,min=1,dive"`
}

func (r createRequest) toInput(userID uuid.UUID, fallbackEmail string) internalreservations.CreateInput {
	email := r.ContactEmail
	if email == "" {
		email = fallbackEmail
	}
	input := internalreservations.CreateInput{
		UserID:       userID,
		ContactEmail: email,
		Notes:        r.Notes,
		Items:        make([]internalreservations.ItemInput, 0, len(r.Items)),
	}
	for _, item := range r.Items {
		input.Items = append(input.Items, internalreservations.ItemInput{
			VariantID:   item.VariantID,
			Quantity:    item.Quantity,
			ProductName: item.ProductName,
			UnitPrice:   item.UnitPrice,
		})
	}
	return input
}

type decisionRequest struct {
	AdminNotes *string `json:"admin_notes" validate:"omitempty,max=1000"`
}

type itemView struct {
	Position    int             `json:"position"`
	VariantID   string          `json:"variant_id"`
	Quantity    int             `json:"quantity"`
	ProductName string          `json:"product_name"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	LineTotal   decimal.Decimal `json:"line_total"`
}

type reservationView struct {
	ID           uuid.UUID              `json:"id"`
	UserID       uuid.UUID              `json:"user_id"`
	ContactEmail string                 `json:"contact_email,omitempty"`
	State        enums.ReservationState `json:"state"`
	Notes        *string                `json:"notes,omitempty"`
	AdminNotes   *string                `json:"admin_notes,omitempty"`
	ExpiresAt    time.Time              `json:"expires_at"`
	ApprovedAt   *time.Time             `json:"approved_at,omitempty"`
	RejectedAt   *time.Time             `json:"rejected_at,omitempty"`
	CancelledAt  *time.Time             `json:"cancelled_at,omitempty"`
	ExpiredAt    *time.Time             `json:"expired_at,omitempty"`
	DecidedBy    *uuid.UUID             `json:"decided_by,omitempty"`
	Total        decimal.Decimal        `json:"total"`
	Items        []itemView             `json:"items"`
	CreatedAt    time.Time              `json:"created_at"`
	UpdatedAt    time.Time              `json:"updated_at"`
}

type listView struct {
	Items  []reservationView `json:"items"`
	Cursor string            `json:"cursor,omitempty"`
}

func viewOf(r *models.Reservation) reservationView {
	view := reservationView{
		ID:           r.ID,
		UserID:       r.UserID,
		ContactEmail: r.ContactEmail,
		State:        r.State,
		Notes:        r.Notes,
		AdminNotes:   r.AdminNotes,
		ExpiresAt:    r.ExpiresAt,
		ApprovedAt:   r.ApprovedAt,
		RejectedAt:   r.RejectedAt,
		CancelledAt:  r.CancelledAt,
		ExpiredAt:    r.ExpiredAt,
		DecidedBy:    r.DecidedBy,
		Total:        decimal.Zero,
		Items:        make([]itemView, 0, len(r.Items)),
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
	for _, item := range r.Items {
		line := item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity)))
		view.Total = view.Total.Add(line)
		view.Items = append(view.Items, itemView{
			Position:    item.Position,
			VariantID:   item.VariantID,
			Quantity:    item.Quantity,
			ProductName: item.ProductName,
			UnitPrice:   item.UnitPrice,
			LineTotal:   line,
		})
	}
	return view
}

func listViewOf(list *internalreservations.ReservationList) listView {
	view := listView{Items: make([]reservationView, 0, len(list.Items)), Cursor: list.Cursor}
	for i := range list.Items {
		view.Items = append(view.Items, viewOf(&list.Items[i]))
	}
	return view
}
