package reservations

import (
	"context"

	"github.com/angelmondragon/stockhold-backend/pkg/db/models"
	"github.com/angelmondragon/stockhold-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/stockhold-backend/pkg/errors"
	"go.uber.org/multierr"
	"gorm.io/gorm"
)

// createSaga retains each line in its own transaction and inserts the
// reservation last. Any failure releases what was already retained.
func (s *service) createSaga(ctx context.Context, reservation *models.Reservation) error {
	retained := make([]models.ReservationItem, 0, len(reservation.Items))
	for _, item := range reservation.Items {
		if _, err := s.ledger.Retain(ctx, nil, s.holdMovement(reservation, item)); err != nil {
			s.compensate(ctx, reservation, retained)
			return err
		}
		retained = append(retained, item)
	}

	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).Create(ctx, reservation); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create reservation")
		}
		s.notify(ctx, tx, enums.NotificationTypeReservationCreated, reservation)
		return nil
	})
	if err != nil {
		s.compensate(ctx, reservation, retained)
		return err
	}
	return nil
}

// compensate releases retained lines in reverse order. It keeps going past
// individual failures so one bad variant does not strand the others.
func (s *service) compensate(ctx context.Context, reservation *models.Reservation, retained []models.ReservationItem) {
	var errs error
	for i := len(retained) - 1; i >= 0; i-- {
		input := s.holdMovement(reservation, retained[i])
		input.Reason = "reservation compensation"
		if _, err := s.ledger.Release(ctx, nil, input); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	if errs != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"user_id": reservation.UserID.String(),
			"lines":   len(retained),
		})
		s.logg.Error(logCtx, "reservation compensation incomplete", errs)
	}
}
