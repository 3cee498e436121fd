package reservations

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/stockhold-backend/api/responses"
	"github.com/angelmondragon/stockhold-backend/api/validators"
	internalreservations "github.com/angelmondragon/stockhold-backend/internal/reservations"
	"github.com/angelmondragon/stockhold-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/stockhold-backend/pkg/errors"
	"github.com/angelmondragon/stockhold-backend/pkg/logger"
)

// AdminList pages through all reservations with optional state and user filters.
func AdminList(svc internalreservations.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "reservation service unavailable"))
			return
		}
		state, err := parseStateFilter(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		params, err := validators.ParsePage(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		userID, err := validators.ParseQueryUUID(r, "user_id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		filter := internalreservations.ListFilter{State: state, UserID: userID}

		list, err := svc.List(r.Context(), filter, params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, listViewOf(list))
	}
}

type decisionFunc func(svc internalreservations.Service, r *http.Request, id, adminID uuid.UUID, notes *string) (*models.Reservation, error)

// AdminApprove confirms a pending reservation. Stock stays retained.
func AdminApprove(svc internalreservations.Service, logg *logger.Logger) http.HandlerFunc {
	return decide(svc, logg, func(svc internalreservations.Service, r *http.Request, id, adminID uuid.UUID, notes *string) (*models.Reservation, error) {
		return svc.Approve(r.Context(), id, adminID, notes)
	})
}

// AdminReject declines a pending reservation and releases its stock.
func AdminReject(svc internalreservations.Service, logg *logger.Logger) http.HandlerFunc {
	return decide(svc, logg, func(svc internalreservations.Service, r *http.Request, id, adminID uuid.UUID, notes *string) (*models.Reservation, error) {
		return svc.Reject(r.Context(), id, adminID, notes)
	})
}

// AdminCancel force-cancels any active reservation regardless of owner.
func AdminCancel(svc internalreservations.Service, logg *logger.Logger) http.HandlerFunc {
	return decide(svc, logg, func(svc internalreservations.Service, r *http.Request, id, adminID uuid.UUID, _ *string) (*models.Reservation, error) {
		return svc.Cancel(r.Context(), id, adminID, true)
	})
}

func decide(svc internalreservations.Service, logg *logger.Logger, fn decisionFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "reservation service unavailable"))
			return
		}
		adminID, err := actorID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		id, err := reservationID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req decisionRequest
		if r.ContentLength != 0 {
			if err := validators.DecodeJSONBody(r, &req); err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
		}

		reservation, err := fn(svc, r, id, adminID, validators.SanitizeOptional(req.AdminNotes, 0))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, viewOf(reservation))
	}
}
