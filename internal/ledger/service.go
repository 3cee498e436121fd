package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/angelmondragon/stockhold-backend/pkg/db"
	"github.com/angelmondragon/stockhold-backend/pkg/db/models"
	"github.com/angelmondragon/stockhold-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/stockhold-backend/pkg/errors"
	"github.com/angelmondragon/stockhold-backend/pkg/logger"
	"github.com/angelmondragon/stockhold-backend/pkg/metrics"
	"github.com/angelmondragon/stockhold-backend/pkg/pagination"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Service is the inventory ledger. Mutating calls accept an optional
// transaction so callers can fold ledger writes into a larger unit of work;
// a nil tx makes the ledger open its own.
type Service interface {
	CreateRecord(ctx context.Context, input CreateRecordInput) (*models.InventoryRecord, error)
	Retain(ctx context.Context, tx *gorm.DB, input MovementInput) (int, error)
	Release(ctx context.Context, tx *gorm.DB, input MovementInput) (bool, error)
	AdjustTotal(ctx context.Context, input AdjustInput) (int, error)
	Availability(ctx context.Context, variantID string) (int, error)
	Snapshot(ctx context.Context, variantID string) (Snapshot, error)
	ListMovements(ctx context.Context, variantID string, params pagination.Params) (*MovementList, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// ServiceParams groups the ledger dependencies.
type ServiceParams struct {
	Repo    Repository
	TX      txRunner
	Logg    *logger.Logger
	Metrics *metrics.LedgerMetrics
}

type service struct {
	repo    Repository
	tx      txRunner
	logg    *logger.Logger
	metrics *metrics.LedgerMetrics
}

// NewService wires the ledger service.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	if params.TX == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		repo:    params.Repo,
		tx:      params.TX,
		logg:    params.Logg,
		metrics: params.Metrics,
	}, nil
}

func (s *service) CreateRecord(ctx context.Context, input CreateRecordInput) (*models.InventoryRecord, error) {
	variantID := strings.TrimSpace(input.VariantID)
	if variantID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "variant id is required")
	}
	if input.InitialTotal < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "initial total must be non-negative")
	}

	record := &models.InventoryRecord{
		VariantID:  variantID,
		StockTotal: input.InitialTotal,
	}
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if err := repo.CreateRecord(ctx, record); err != nil {
			if db.IsUniqueViolation(err, "inventory_records_variant_id_key") {
				return pkgerrors.New(pkgerrors.CodeConflict, "inventory record already exists").
					WithDetails(map[string]any{"variant_id": variantID})
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create inventory record")
		}
		after := snapshotOf(record)
		return s.writeMovement(ctx, repo, movementWrite{
			variantID: variantID,
			quantity:  input.InitialTotal,
			kind:      enums.MovementTypeInitial,
			reason:    defaultReason(input.Reason, "initial stock"),
			actorID:   input.ActorID,
			after:     after,
		})
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

func (s *service) Retain(ctx context.Context, tx *gorm.DB, input MovementInput) (int, error) {
	if err := input.validate(); err != nil {
		return 0, err
	}

	var available int
	err := s.run(ctx, tx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		affected, err := repo.IncrementRetained(ctx, input.VariantID, input.Quantity)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "retain inventory")
		}
		if affected == 0 {
			current, err := s.load(ctx, repo, input.VariantID)
			if err != nil {
				return err
			}
			return insufficientStock(input.VariantID, input.Quantity, current.Available())
		}

		record, err := s.load(ctx, repo, input.VariantID)
		if err != nil {
			return err
		}
		after := snapshotOf(record)
		before := Snapshot{Total: after.Total, Retained: after.Retained - input.Quantity}
		before.Available = availableFor(before.Total, before.Retained)
		available = after.Available

		return s.writeMovement(ctx, repo, movementWrite{
			variantID: input.VariantID,
			quantity:  input.Quantity,
			kind:      enums.MovementTypeRetain,
			reason:    defaultReason(input.Reason, "reservation hold"),
			actorID:   input.ActorID,
			before:    &before,
			after:     after,
		})
	})
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeInsufficientStock) {
			s.metrics.ObserveRetain("insufficient")
		} else {
			s.metrics.ObserveRetain("error")
		}
		return 0, err
	}
	s.metrics.ObserveRetain("ok")
	return available, nil
}

// Release gives back up to input.Quantity retained units. It reports true when
// the full quantity was released and false when the release was clamped to
// what was actually retained.
func (s *service) Release(ctx context.Context, tx *gorm.DB, input MovementInput) (bool, error) {
	if err := input.validate(); err != nil {
		return false, err
	}

	var released int
	err := s.run(ctx, tx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		affected, err := repo.DecrementRetained(ctx, input.VariantID, input.Quantity)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "release inventory")
		}

		var before Snapshot
		var after Snapshot
		if affected > 0 {
			record, err := s.load(ctx, repo, input.VariantID)
			if err != nil {
				return err
			}
			released = input.Quantity
			after = snapshotOf(record)
			before = Snapshot{Total: after.Total, Retained: after.Retained + released}
		} else {
			before, after, released, err = s.clampRelease(ctx, repo, input)
			if err != nil {
				return err
			}
		}
		before.Available = availableFor(before.Total, before.Retained)

		return s.writeMovement(ctx, repo, movementWrite{
			variantID: input.VariantID,
			quantity:  -released,
			kind:      enums.MovementTypeRelease,
			reason:    defaultReason(input.Reason, "reservation release"),
			actorID:   input.ActorID,
			before:    &before,
			after:     after,
		})
	})
	if err != nil {
		return false, err
	}

	clamped := released < input.Quantity
	s.metrics.ObserveRelease(clamped)
	if clamped {
		logCtx := s.logg.WithFields(s.logg.WithVariantID(ctx, input.VariantID), map[string]any{
			"requested": input.Quantity,
			"released":  released,
			"reason":    input.Reason,
		})
		s.logg.Warn(logCtx, "release exceeded retained stock; clamped")
	}
	return !clamped, nil
}

// clampRelease handles a release asking for more than is retained. The
// retained counter is swapped from its observed value to the clamped value so
// a concurrent writer forces a re-read instead of a lost update.
func (s *service) clampRelease(ctx context.Context, repo Repository, input MovementInput) (Snapshot, Snapshot, int, error) {
	for attempt := 0; attempt < 2; attempt++ {
		record, err := s.load(ctx, repo, input.VariantID)
		if err != nil {
			return Snapshot{}, Snapshot{}, 0, err
		}
		released := min(input.Quantity, record.StockRetained)
		before := snapshotOf(record)
		if released == 0 {
			return before, before, 0, nil
		}

		affected, err := repo.SwapRetained(ctx, input.VariantID, record.StockRetained, record.StockRetained-released)
		if err != nil {
			return Snapshot{}, Snapshot{}, 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "release inventory")
		}
		if affected == 1 {
			after := Snapshot{Total: record.StockTotal, Retained: record.StockRetained - released}
			after.Available = availableFor(after.Total, after.Retained)
			return before, after, released, nil
		}
	}
	return Snapshot{}, Snapshot{}, 0, pkgerrors.New(pkgerrors.CodeConcurrentModification, "inventory record changed during release").
		WithDetails(map[string]any{"variant_id": input.VariantID})
}

func (s *service) AdjustTotal(ctx context.Context, input AdjustInput) (int, error) {
	variantID := strings.TrimSpace(input.VariantID)
	if variantID == "" {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "variant id is required")
	}
	if input.Delta == 0 {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "delta must be non-zero")
	}
	if strings.TrimSpace(input.Reason) == "" {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "reason is required")
	}

	var total int
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		affected, err := repo.AdjustTotal(ctx, variantID, input.Delta)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "adjust inventory total")
		}
		if affected == 0 {
			current, err := s.load(ctx, repo, variantID)
			if err != nil {
				return err
			}
			return pkgerrors.New(pkgerrors.CodeInvalidAdjustment, "adjustment would break stock bounds").
				WithDetails(map[string]any{
					"variant_id":     variantID,
					"delta":          input.Delta,
					"stock_total":    current.StockTotal,
					"stock_retained": current.StockRetained,
				})
		}

		record, err := s.load(ctx, repo, variantID)
		if err != nil {
			return err
		}
		after := snapshotOf(record)
		before := Snapshot{Total: after.Total - input.Delta, Retained: after.Retained}
		before.Available = availableFor(before.Total, before.Retained)
		total = after.Total

		actor := input.ActorID
		return s.writeMovement(ctx, repo, movementWrite{
			variantID: variantID,
			quantity:  input.Delta,
			kind:      enums.MovementTypeAdjustment,
			reason:    input.Reason,
			actorID:   &actor,
			before:    &before,
			after:     after,
		})
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}

func (s *service) Availability(ctx context.Context, variantID string) (int, error) {
	snap, err := s.Snapshot(ctx, variantID)
	if err != nil {
		return 0, err
	}
	return snap.Available, nil
}

func (s *service) Snapshot(ctx context.Context, variantID string) (Snapshot, error) {
	if strings.TrimSpace(variantID) == "" {
		return Snapshot{}, pkgerrors.New(pkgerrors.CodeValidation, "variant id is required")
	}
	record, err := s.load(ctx, s.repo, variantID)
	if err != nil {
		return Snapshot{}, err
	}
	return snapshotOf(record), nil
}

func (s *service) ListMovements(ctx context.Context, variantID string, params pagination.Params) (*MovementList, error) {
	if strings.TrimSpace(variantID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "variant id is required")
	}

	query := listMovementsParams{VariantID: variantID, Limit: params.Limit}
	if params.Cursor != "" {
		cursor, err := pagination.ParseCursor(params.Cursor)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
		}
		query.Cursor = cursor
	}

	rows, next, err := s.repo.ListMovements(ctx, query)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list inventory movements")
	}

	result := &MovementList{Items: rows}
	if next != nil {
		result.Cursor = pagination.EncodeCursor(*next)
	}
	return result, nil
}

func (s *service) run(ctx context.Context, tx *gorm.DB, fn func(tx *gorm.DB) error) error {
	if tx != nil {
		return fn(tx)
	}
	return s.tx.WithTx(ctx, fn)
}

func (s *service) load(ctx context.Context, repo Repository, variantID string) (*models.InventoryRecord, error) {
	record, err := repo.FindByVariant(ctx, variantID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "inventory record not found").
				WithDetails(map[string]any{"variant_id": variantID})
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load inventory record")
	}
	return record, nil
}

type movementWrite struct {
	variantID string
	quantity  int
	kind      enums.MovementType
	reason    string
	actorID   *uuid.UUID
	before    *Snapshot
	after     Snapshot
}

func (s *service) writeMovement(ctx context.Context, repo Repository, w movementWrite) error {
	before := Snapshot{}
	if w.before != nil {
		before = *w.before
	}
	movement := &models.InventoryMovement{
		VariantID:       w.variantID,
		Quantity:        w.quantity,
		MovementType:    w.kind,
		Reason:          w.reason,
		ActorID:         w.actorID,
		TotalBefore:     before.Total,
		RetainedBefore:  before.Retained,
		AvailableBefore: before.Available,
		TotalAfter:      w.after.Total,
		RetainedAfter:   w.after.Retained,
		AvailableAfter:  w.after.Available,
	}
	if err := repo.CreateMovement(ctx, movement); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "write inventory movement")
	}

	logCtx := s.logg.WithFields(s.logg.WithVariantID(ctx, w.variantID), map[string]any{
		"movement_type":   string(w.kind),
		"quantity":        w.quantity,
		"total_before":    before.Total,
		"retained_before": before.Retained,
		"total_after":     w.after.Total,
		"retained_after":  w.after.Retained,
	})
	s.logg.Info(logCtx, "inventory movement recorded")
	return nil
}

func insufficientStock(variantID string, requested, available int) error {
	return pkgerrors.New(pkgerrors.CodeInsufficientStock, fmt.Sprintf("insufficient stock for variant %s", variantID)).
		WithDetails(map[string]any{
			"variant_id": variantID,
			"requested":  requested,
			"available":  available,
		})
}

func defaultReason(reason, fallback string) string {
	if trimmed := strings.TrimSpace(reason); trimmed != "" {
		return trimmed
	}
	return fallback
}
