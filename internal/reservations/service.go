package reservations

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/angelmondragon/stockhold-backend/internal/ledger"
	"github.com/angelmondragon/stockhold-backend/internal/notifications"
	"github.com/angelmondragon/stockhold-backend/pkg/config"
	"github.com/angelmondragon/stockhold-backend/pkg/db/models"
	"github.com/angelmondragon/stockhold-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/stockhold-backend/pkg/errors"
	"github.com/angelmondragon/stockhold-backend/pkg/logger"
	"github.com/angelmondragon/stockhold-backend/pkg/pagination"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const notifySavepoint = "reservation_notice"

// ServiceParams groups the reservation service dependencies.
type ServiceParams struct {
	Repo         Repository
	TX           txRunner
	Ledger       InventoryLedger
	Notifier     Notifier
	Logg         *logger.Logger
	HoldDuration time.Duration
	CreateMode   string
	Now          func() time.Time
}

type service struct {
	repo         Repository
	tx           txRunner
	ledger       InventoryLedger
	notifier     Notifier
	logg         *logger.Logger
	holdDuration time.Duration
	saga         bool
	now          func() time.Time
}

// NewService wires the reservation state machine.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("reservations repository required")
	}
	if params.TX == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("inventory ledger required")
	}
	if params.Notifier == nil {
		return nil, fmt.Errorf("notifier required")
	}
	if params.Logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.HoldDuration <= 0 {
		return nil, fmt.Errorf("hold duration must be positive")
	}
	mode := strings.ToLower(strings.TrimSpace(params.CreateMode))
	switch mode {
	case "", config.CreateModeTransaction, config.CreateModeSaga:
	default:
		return nil, fmt.Errorf("unknown create mode %q", params.CreateMode)
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &service{
		repo:         params.Repo,
		tx:           params.TX,
		ledger:       params.Ledger,
		notifier:     params.Notifier,
		logg:         params.Logg,
		holdDuration: params.HoldDuration,
		saga:         mode == config.CreateModeSaga,
		now:          now,
	}, nil
}

// Create retains every requested line and persists a pending reservation.
// Either every line is retained and the reservation exists, or nothing changed.
func (s *service) Create(ctx context.Context, input CreateInput) (*models.Reservation, error) {
	if err := input.validate(); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	reservation := &models.Reservation{
		UserID:       input.UserID,
		ContactEmail: strings.TrimSpace(input.ContactEmail),
		State:        enums.ReservationStatePending,
		Notes:        input.Notes,
		ExpiresAt:    now.Add(s.holdDuration),
		CreatedAt:    now,
		UpdatedAt:    now,
		Items:        make([]models.ReservationItem, 0, len(input.Items)),
	}
	for i, item := range input.Items {
		reservation.Items = append(reservation.Items, models.ReservationItem{
			Position:    i,
			VariantID:   strings.TrimSpace(item.VariantID),
			Quantity:    item.Quantity,
			ProductName: strings.TrimSpace(item.ProductName),
			UnitPrice:   item.UnitPrice,
		})
	}

	var err error
	if s.saga {
		err = s.createSaga(ctx, reservation)
	} else {
		err = s.createTransactional(ctx, reservation)
	}
	if err != nil {
		return nil, err
	}

	logCtx := s.logg.WithFields(s.logg.WithReservationID(ctx, reservation.ID.String()), map[string]any{
		"user_id":    reservation.UserID.String(),
		"items":      len(reservation.Items),
		"expires_at": reservation.ExpiresAt,
	})
	s.logg.Info(logCtx, "reservation created")
	return reservation, nil
}

func (s *service) createTransactional(ctx context.Context, reservation *models.Reservation) error {
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		for _, item := range reservation.Items {
			if _, err := s.ledger.Retain(ctx, tx, s.holdMovement(reservation, item)); err != nil {
				return err
			}
		}
		if err := s.repo.WithTx(tx).Create(ctx, reservation); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create reservation")
		}
		s.notify(ctx, tx, enums.NotificationTypeReservationCreated, reservation)
		return nil
	})
}

func (s *service) holdMovement(reservation *models.Reservation, item models.ReservationItem) ledger.MovementInput {
	actor := reservation.UserID
	return ledger.MovementInput{
		VariantID: item.VariantID,
		Quantity:  item.Quantity,
		Reason:    "reservation hold",
		ActorID:   &actor,
	}
}

func (s *service) Approve(ctx context.Context, id, adminID uuid.UUID, adminNotes *string) (*models.Reservation, error) {
	return s.transition(ctx, transitionRequest{
		id:         id,
		target:     enums.ReservationStateApproved,
		actorID:    &adminID,
		decided:    true,
		adminNotes: adminNotes,
	})
}

func (s *service) Reject(ctx context.Context, id, adminID uuid.UUID, adminNotes *string) (*models.Reservation, error) {
	return s.transition(ctx, transitionRequest{
		id:         id,
		target:     enums.ReservationStateRejected,
		actorID:    &adminID,
		decided:    true,
		adminNotes: adminNotes,
	})
}

// Cancel withdraws a reservation. Without forced only the owner may cancel.
func (s *service) Cancel(ctx context.Context, id, actorID uuid.UUID, forced bool) (*models.Reservation, error) {
	req := transitionRequest{
		id:      id,
		target:  enums.ReservationStateCancelled,
		actorID: &actorID,
		decided: forced,
	}
	if !forced {
		req.authorize = func(current *models.Reservation) error {
			if current.UserID != actorID {
				return pkgerrors.New(pkgerrors.CodeForbidden, "reservation belongs to another user")
			}
			return nil
		}
	}
	return s.transition(ctx, req)
}

// ExpireBatch expires every active reservation past its expiry. Each one runs
// in its own transaction; a failure is counted and the sweep moves on.
func (s *service) ExpireBatch(ctx context.Context) (ExpireResult, error) {
	now := s.now().UTC()
	due, err := s.repo.FindDue(ctx, now)
	if err != nil {
		return ExpireResult{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "find due reservations")
	}

	var result ExpireResult
	for _, reservation := range due {
		_, err := s.transition(ctx, transitionRequest{
			id:       reservation.ID,
			target:   enums.ReservationStateExpired,
			at:       now,
			silenced: true,
		})
		switch {
		case err == nil:
			result.Processed++
			result.ExpiredIDs = append(result.ExpiredIDs, reservation.ID)
		case pkgerrors.IsCode(err, pkgerrors.CodeInvalidTransition), pkgerrors.IsCode(err, pkgerrors.CodeNotFound):
			result.Skipped++
		default:
			result.Errors++
			s.logg.Error(s.logg.WithReservationID(ctx, reservation.ID.String()), "reservation expiry failed", err)
		}
	}
	return result, nil
}

type transitionRequest struct {
	id         uuid.UUID
	target     enums.ReservationState
	actorID    *uuid.UUID
	decided    bool
	adminNotes *string
	authorize  func(current *models.Reservation) error
	at         time.Time
	silenced   bool
}

// transition applies one state change: a guarded state update, stock release
// for every line when the target no longer holds stock, and the user notice,
// all inside one transaction.
func (s *service) transition(ctx context.Context, req transitionRequest) (*models.Reservation, error) {
	now := req.at
	if now.IsZero() {
		now = s.now().UTC()
	}

	var out *models.Reservation
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		current, err := s.load(ctx, repo, req.id)
		if err != nil {
			return err
		}
		if req.authorize != nil {
			if err := req.authorize(current); err != nil {
				return err
			}
		}
		if !current.State.CanTransitionTo(req.target) {
			return invalidTransition(current.ID, current.State, req.target)
		}

		updates := map[string]any{
			stampColumn(req.target): now,
			"updated_at":            now,
		}
		// Exactly one stamp survives once the reservation is terminal.
		if req.target.IsTerminal() {
			updates["approved_at"] = nil
		}
		if req.adminNotes != nil {
			updates["admin_notes"] = strings.TrimSpace(*req.adminNotes)
		}
		if req.decided && req.actorID != nil {
			updates["decided_by"] = *req.actorID
		}

		affected, err := repo.Transition(ctx, req.id, req.target, enums.SourcesFor(req.target), updates)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update reservation state")
		}
		if affected == 0 {
			latest, err := s.load(ctx, repo, req.id)
			if err != nil {
				return err
			}
			return invalidTransition(latest.ID, latest.State, req.target)
		}

		if current.State.HoldsStock() && !req.target.HoldsStock() {
			for _, item := range current.Items {
				input := ledger.MovementInput{
					VariantID: item.VariantID,
					Quantity:  item.Quantity,
					Reason:    "reservation " + string(req.target),
					ActorID:   req.actorID,
				}
				if _, err := s.ledger.Release(ctx, tx, input); err != nil {
					return err
				}
			}
		}

		out, err = s.load(ctx, repo, req.id)
		if err != nil {
			return err
		}
		if !req.silenced {
			if notificationType, ok := enums.NotificationTypeForState(req.target); ok {
				s.notify(ctx, tx, notificationType, out)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logCtx := s.logg.WithFields(s.logg.WithReservationID(ctx, req.id.String()), map[string]any{
		"state": string(req.target),
	})
	if req.actorID != nil {
		logCtx = s.logg.WithUserID(logCtx, req.actorID.String())
	}
	s.logg.Info(logCtx, "reservation state changed")
	return out, nil
}

// notify queues a user notice inside tx. A notice failure is logged and
// rolled back to a savepoint so the state change still commits. Without a
// savepoint the notice is skipped, since a failed insert would abort tx.
func (s *service) notify(ctx context.Context, tx *gorm.DB, notificationType enums.NotificationType, reservation *models.Reservation) {
	logCtx := s.logg.WithField(s.logg.WithReservationID(ctx, reservation.ID.String()), "notification", string(notificationType))
	if err := tx.SavePoint(notifySavepoint).Error; err != nil {
		s.logg.Error(logCtx, "reservation notice savepoint failed; notice skipped", err)
		return
	}
	if _, err := s.notifier.EnqueueReservationNotice(ctx, tx, notificationType, noticeFor(reservation)); err != nil {
		s.logg.Error(logCtx, "failed to queue reservation notification", err)
		if err := tx.RollbackTo(notifySavepoint).Error; err != nil {
			s.logg.Error(logCtx, "rollback to reservation notice savepoint failed", err)
		}
	}
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*models.Reservation, error) {
	return s.load(ctx, s.repo, id)
}

func (s *service) ListByUser(ctx context.Context, userID uuid.UUID, state *enums.ReservationState, params pagination.Params) (*ReservationList, error) {
	return s.List(ctx, ListFilter{State: state, UserID: &userID}, params)
}

func (s *service) List(ctx context.Context, filter ListFilter, params pagination.Params) (*ReservationList, error) {
	if filter.State != nil && !filter.State.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid state %q", *filter.State))
	}
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	rows, next, err := s.repo.List(ctx, listParams{Filter: filter, Limit: params.Limit, Cursor: cursor})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list reservations")
	}
	list := &ReservationList{Items: rows}
	if list.Items == nil {
		list.Items = []models.Reservation{}
	}
	if next != nil {
		list.Cursor = pagination.EncodeCursor(*next)
	}
	return list, nil
}

func (s *service) load(ctx context.Context, repo Repository, id uuid.UUID) (*models.Reservation, error) {
	reservation, err := repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "reservation not found").
				WithDetails(map[string]any{"reservation_id": id.String()})
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load reservation")
	}
	return reservation, nil
}

func invalidTransition(id uuid.UUID, from, to enums.ReservationState) error {
	return pkgerrors.New(pkgerrors.CodeInvalidTransition,
		fmt.Sprintf("cannot move reservation from %s to %s", from, to)).
		WithDetails(map[string]any{
			"reservation_id": id.String(),
			"from":           string(from),
			"to":             string(to),
		})
}

func stampColumn(state enums.ReservationState) string {
	switch state {
	case enums.ReservationStateApproved:
		return "approved_at"
	case enums.ReservationStateRejected:
		return "rejected_at"
	case enums.ReservationStateCancelled:
		return "cancelled_at"
	case enums.ReservationStateExpired:
		return "expired_at"
	default:
		return "updated_at"
	}
}

func noticeFor(reservation *models.Reservation) notifications.ReservationNotice {
	items := make([]notifications.NoticeItem, 0, len(reservation.Items))
	for _, item := range reservation.Items {
		items = append(items, notifications.NoticeItem{
			ProductName: item.ProductName,
			Quantity:    item.Quantity,
		})
	}
	return notifications.ReservationNotice{
		ReservationID: reservation.ID,
		UserID:        reservation.UserID,
		EmailTo:       reservation.ContactEmail,
		ExpiresAt:     reservation.ExpiresAt,
		AdminNotes:    reservation.AdminNotes,
		Items:         items,
	}
}
