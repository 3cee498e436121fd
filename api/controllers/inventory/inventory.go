package inventory

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/stockhold-backend/api/middleware"
	"github.com/angelmondragon/stockhold-backend/api/responses"
	"github.com/angelmondragon/stockhold-backend/api/validators"
	"github.com/angelmondragon/stockhold-backend/internal/ledger"
	"github.com/angelmondragon/stockhold-backend/pkg/db/models"
	"github.com/angelmondragon/stockhold-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/stockhold-backend/pkg/errors"
	"github.com/angelmondragon/stockhold-backend/pkg/logger"
)

type createRecordRequest struct {
	VariantID    string `json:"variant_id" validate:"required,max=128"`
	InitialTotal int    `json:"initial_total" validate:"gte=0"`
	Reason       string `json:"reason" validate:"omitempty,max=255"`
}

type adjustRequest struct {
	Delta  int    `json:"delta" validate:"required"`
	Reason string `json:"reason" validate:"required,max=255"`
}

type snapshotView struct {
	VariantID string `json:"variant_id"`
	ledger.Snapshot
}

type movementView struct {
	ID              uuid.UUID          `json:"id"`
	VariantID       string             `json:"variant_id"`
	Quantity        int                `json:"quantity"`
	MovementType    enums.MovementType `json:"movement_type"`
	Reason          string             `json:"reason"`
	ActorID         *uuid.UUID         `json:"actor_id,omitempty"`
	TotalBefore     int                `json:"total_before"`
	RetainedBefore  int                `json:"retained_before"`
	AvailableBefore int                `json:"available_before"`
	TotalAfter      int                `json:"total_after"`
	RetainedAfter   int                `json:"retained_after"`
	AvailableAfter  int                `json:"available_after"`
	CreatedAt       time.Time          `json:"created_at"`
}

type movementListView struct {
	Items  []movementView `json:"items"`
	Cursor string         `json:"cursor,omitempty"`
}

func movementViewOf(m models.InventoryMovement) movementView {
	return movementView{
		ID:              m.ID,
		VariantID:       m.VariantID,
		Quantity:        m.Quantity,
		MovementType:    m.MovementType,
		Reason:          m.Reason,
		ActorID:         m.ActorID,
		TotalBefore:     m.TotalBefore,
		RetainedBefore:  m.RetainedBefore,
		AvailableBefore: m.AvailableBefore,
		TotalAfter:      m.TotalAfter,
		RetainedAfter:   m.RetainedAfter,
		AvailableAfter:  m.AvailableAfter,
		CreatedAt:       m.CreatedAt,
	}
}

// Snapshot returns the current counters for a variant.
func Snapshot(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "inventory service unavailable"))
			return
		}
		variantID, err := variantParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		snap, err := svc.Snapshot(r.Context(), variantID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, snapshotView{VariantID: variantID, Snapshot: snap})
	}
}

// CreateRecord registers a variant with its opening stock.
func CreateRecord(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "inventory service unavailable"))
			return
		}
		actor, err := actorID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req createRecordRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		record, err := svc.CreateRecord(r.Context(), ledger.CreateRecordInput{
			VariantID:    req.VariantID,
			InitialTotal: req.InitialTotal,
			Reason:       validators.SanitizeString(req.Reason, 255),
			ActorID:      &actor,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, snapshotView{
			VariantID: record.VariantID,
			Snapshot: ledger.Snapshot{
				Total:     record.StockTotal,
				Retained:  record.StockRetained,
				Available: record.Available(),
			},
		})
	}
}

// Adjust applies a signed correction to stock_total.
func Adjust(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "inventory service unavailable"))
			return
		}
		actor, err := actorID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		variantID, err := variantParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req adjustRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if _, err := svc.AdjustTotal(r.Context(), ledger.AdjustInput{
			VariantID: variantID,
			Delta:     req.Delta,
			Reason:    validators.SanitizeString(req.Reason, 255),
			ActorID:   actor,
		}); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		snap, err := svc.Snapshot(r.Context(), variantID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, snapshotView{VariantID: variantID, Snapshot: snap})
	}
}

// Movements pages through a variant's audit trail, newest first.
func Movements(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "inventory service unavailable"))
			return
		}
		variantID, err := variantParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		params, err := validators.ParsePage(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		list, err := svc.ListMovements(r.Context(), variantID, params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		view := movementListView{Items: make([]movementView, 0, len(list.Items)), Cursor: list.Cursor}
		for _, m := range list.Items {
			view.Items = append(view.Items, movementViewOf(m))
		}
		responses.WriteSuccess(w, view)
	}
}

func variantParam(r *http.Request) (string, error) {
	raw := strings.TrimSpace(chi.URLParam(r, "variantId"))
	if raw == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "variant id is required")
	}
	return raw, nil
}

func actorID(r *http.Request) (uuid.UUID, error) {
	return middleware.ActorIDFromContext(r.Context())
}
