package reservations

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/angelmondragon/stockhold-backend/internal/ledger"
	"github.com/angelmondragon/stockhold-backend/internal/notifications"
	"github.com/angelmondragon/stockhold-backend/pkg/config"
	"github.com/angelmondragon/stockhold-backend/pkg/db"
	"github.com/angelmondragon/stockhold-backend/pkg/db/models"
	"github.com/angelmondragon/stockhold-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/stockhold-backend/pkg/errors"
	"github.com/angelmondragon/stockhold-backend/pkg/logger"
	"github.com/angelmondragon/stockhold-backend/pkg/pagination"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const holdDuration = 24 * time.Hour

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	client *db.Client
	ledger ledger.Service
	outbox *notifications.Outbox
	clock  *clock
	logg   *logger.Logger
}

type harnessOptions struct {
	mode     string
	repo     func(Repository) Repository
	ledger   func(InventoryLedger) InventoryLedger
	notifier Notifier
}

func newHarness(t *testing.T) harness {
	t.Helper()
	dsn := fmt.Sprintf("file:reservations_%s?mode=memory&cache=shared", uuid.NewString())
	client, err := db.NewSQLite(context.Background(), dsn, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.DB().AutoMigrate(
		&models.InventoryRecord{},
		&models.InventoryMovement{},
		&models.Reservation{},
		&models.ReservationItem{},
		&models.NotificationRecord{},
	))

	logg := logger.New(logger.Options{ServiceName: "reservations-test", Output: io.Discard})
	ledgerSvc, err := ledger.NewService(ledger.ServiceParams{
		Repo: ledger.NewRepository(client.DB()),
		TX:   client,
		Logg: logg,
	})
	require.NoError(t, err)
	outbox, err := notifications.NewOutbox(notifications.NewRepository(client.DB()), logg)
	require.NoError(t, err)

	return harness{
		client: client,
		ledger: ledgerSvc,
		outbox: outbox,
		clock:  &clock{now: time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)},
		logg:   logg,
	}
}

func (h harness) service(t *testing.T, opts harnessOptions) Service {
	t.Helper()
	var repo Repository = NewRepository(h.client.DB())
	if opts.repo != nil {
		repo = opts.repo(repo)
	}
	var inventory InventoryLedger = h.ledger
	if opts.ledger != nil {
		inventory = opts.ledger(inventory)
	}
	var notifier Notifier = h.outbox
	if opts.notifier != nil {
		notifier = opts.notifier
	}
	svc, err := NewService(ServiceParams{
		Repo:         repo,
		TX:           h.client,
		Ledger:       inventory,
		Notifier:     notifier,
		Logg:         h.logg,
		HoldDuration: holdDuration,
		CreateMode:   opts.mode,
		Now:          h.clock.Now,
	})
	require.NoError(t, err)
	return svc
}

func (h harness) seed(t *testing.T, variantID string, total int) {
	t.Helper()
	_, err := h.ledger.CreateRecord(context.Background(), ledger.CreateRecordInput{VariantID: variantID, InitialTotal: total})
	require.NoError(t, err)
}

func (h harness) snapshot(t *testing.T, variantID string) ledger.Snapshot {
	t.Helper()
	snap, err := h.ledger.Snapshot(context.Background(), variantID)
	require.NoError(t, err)
	return snap
}

func (h harness) notices(t *testing.T, reservationID uuid.UUID) []models.NotificationRecord {
	t.Helper()
	var rows []models.NotificationRecord
	require.NoError(t, h.client.DB().
		Where("related_entity_id = ?", reservationID).
		Order("created_at ASC").
		Find(&rows).Error)
	return rows
}

func (h harness) reservationCount(t *testing.T) int64 {
	t.Helper()
	var count int64
	require.NoError(t, h.client.DB().Model(&models.Reservation{}).Count(&count).Error)
	return count
}

func item(variantID string, qty int) ItemInput {
	return ItemInput{
		VariantID:   variantID,
		Quantity:    qty,
		ProductName: "Product " + variantID,
		UnitPrice:   decimal.RequireFromString("12.50"),
	}
}

func createInput(userID uuid.UUID, items ...ItemInput) CreateInput {
	return CreateInput{UserID: userID, ContactEmail: "client@example.com", Items: items}
}

func noticeTypes(rows []models.NotificationRecord) []enums.NotificationType {
	out := make([]enums.NotificationType, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.NotificationType)
	}
	return out
}

func TestNewServiceRequiresDependencies(t *testing.T) {
	if _, err := NewService(ServiceParams{}); err == nil {
		t.Fatal("expected missing repository to fail")
	}
	h := newHarness(t)
	_, err := NewService(ServiceParams{
		Repo:         NewRepository(h.client.DB()),
		TX:           h.client,
		Ledger:       h.ledger,
		Notifier:     h.outbox,
		Logg:         h.logg,
		HoldDuration: holdDuration,
		CreateMode:   "eventual",
	})
	require.Error(t, err)
}

func TestCreateValidatesInput(t *testing.T) {
	h := newHarness(t)
	svc := h.service(t, harnessOptions{})
	user := uuid.New()
	longNotes := string(make([]rune, maxNotesLength+1))

	cases := map[string]CreateInput{
		"no items":          createInput(user),
		"zero quantity":     createInput(user, item("v-1", 0)),
		"blank variant":     createInput(user, item(" ", 1)),
		"duplicate variant": createInput(user, item("v-1", 1), item("v-1", 2)),
		"negative price": createInput(user, ItemInput{
			VariantID: "v-1", Quantity: 1, ProductName: "P", UnitPrice: decimal.NewFromInt(-1),
		}),
		"missing user": createInput(uuid.Nil, item("v-1", 1)),
		"notes too long": func() CreateInput {
			in := createInput(user, item("v-1", 1))
			in.Notes = &longNotes
			return in
		}(),
	}
	for name, input := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := svc.Create(context.Background(), input)
			require.Error(t, err)
			assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
		})
	}
	assert.Zero(t, h.reservationCount(t))
}

func TestCreateRetainsStockAndQueuesNotice(t *testing.T) {
	for _, mode := range []string{config.CreateModeTransaction, config.CreateModeSaga} {
		t.Run(mode, func(t *testing.T) {
			h := newHarness(t)
			svc := h.service(t, harnessOptions{mode: mode})
			h.seed(t, "v-1", 10)
			h.seed(t, "v-2", 4)
			ctx := context.Background()

			res, err := svc.Create(ctx, createInput(uuid.New(), item("v-1", 3), item("v-2", 4)))
			require.NoError(t, err)
			assert.Equal(t, enums.ReservationStatePending, res.State)
			assert.Equal(t, h.clock.Now().Add(holdDuration), res.ExpiresAt.UTC())

			assert.Equal(t, ledger.Snapshot{Total: 10, Retained: 3, Available: 7}, h.snapshot(t, "v-1"))
			assert.Equal(t, ledger.Snapshot{Total: 4, Retained: 4, Available: 0}, h.snapshot(t, "v-2"))

			loaded, err := svc.Get(ctx, res.ID)
			require.NoError(t, err)
			require.Len(t, loaded.Items, 2)
			assert.Equal(t, "v-1", loaded.Items[0].VariantID)
			assert.Equal(t, "v-2", loaded.Items[1].VariantID)
			assert.True(t, loaded.Items[0].UnitPrice.Equal(decimal.RequireFromString("12.50")))

			assert.Equal(t, []enums.NotificationType{enums.NotificationTypeReservationCreated}, noticeTypes(h.notices(t, res.ID)))
		})
	}
}

func TestCreateInsufficientStockChangesNothing(t *testing.T) {
	for _, mode := range []string{config.CreateModeTransaction, config.CreateModeSaga} {
		t.Run(mode, func(t *testing.T) {
			h := newHarness(t)
			svc := h.service(t, harnessOptions{mode: mode})
			h.seed(t, "v-1", 10)
			h.seed(t, "v-2", 2)

			_, err := svc.Create(context.Background(), createInput(uuid.New(), item("v-1", 5), item("v-2", 3)))
			require.Error(t, err)
			assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInsufficientStock))
			assert.Contains(t, fmt.Sprint(pkgerrors.As(err).Details()), "v-2")

			assert.Equal(t, 0, h.snapshot(t, "v-1").Retained)
			assert.Equal(t, 0, h.snapshot(t, "v-2").Retained)
			assert.Zero(t, h.reservationCount(t))
		})
	}
}

type failingCreateRepo struct {
	Repository
}

func (r failingCreateRepo) WithTx(tx *gorm.DB) Repository {
	return failingCreateRepo{Repository: r.Repository.WithTx(tx)}
}

func (r failingCreateRepo) Create(ctx context.Context, reservation *models.Reservation) error {
	return errors.New("insert failed")
}

func TestSagaCompensatesWhenInsertFails(t *testing.T) {
	h := newHarness(t)
	svc := h.service(t, harnessOptions{
		mode: config.CreateModeSaga,
		repo: func(r Repository) Repository { return failingCreateRepo{Repository: r} },
	})
	h.seed(t, "v-1", 10)
	h.seed(t, "v-2", 10)

	_, err := svc.Create(context.Background(), createInput(uuid.New(), item("v-1", 2), item("v-2", 5)))
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDependency))

	assert.Equal(t, 0, h.snapshot(t, "v-1").Retained)
	assert.Equal(t, 0, h.snapshot(t, "v-2").Retained)

	var releases int64
	require.NoError(t, h.client.DB().Model(&models.InventoryMovement{}).
		Where("movement_type = ?", enums.MovementTypeRelease).
		Count(&releases).Error)
	assert.Equal(t, int64(2), releases)
}

func TestTransactionalCreateRollsBackRetainsWhenInsertFails(t *testing.T) {
	h := newHarness(t)
	svc := h.service(t, harnessOptions{
		repo: func(r Repository) Repository { return failingCreateRepo{Repository: r} },
	})
	h.seed(t, "v-1", 10)

	_, err := svc.Create(context.Background(), createInput(uuid.New(), item("v-1", 2)))
	require.Error(t, err)
	assert.Equal(t, 0, h.snapshot(t, "v-1").Retained)

	var movements int64
	require.NoError(t, h.client.DB().Model(&models.InventoryMovement{}).
		Where("movement_type = ?", enums.MovementTypeRetain).
		Count(&movements).Error)
	assert.Zero(t, movements)
}

func TestApproveKeepsStockAndRecordsDecision(t *testing.T) {
	h := newHarness(t)
	svc := h.service(t, harnessOptions{})
	h.seed(t, "v-1", 5)
	ctx := context.Background()

	res, err := svc.Create(ctx, createInput(uuid.New(), item("v-1", 2)))
	require.NoError(t, err)

	admin := uuid.New()
	notes := "  pick up at the front desk "
	approved, err := svc.Approve(ctx, res.ID, admin, &notes)
	require.NoError(t, err)
	assert.Equal(t, enums.ReservationStateApproved, approved.State)
	require.NotNil(t, approved.ApprovedAt)
	require.NotNil(t, approved.DecidedBy)
	assert.Equal(t, admin, *approved.DecidedBy)
	require.NotNil(t, approved.AdminNotes)
	assert.Equal(t, "pick up at the front desk", *approved.AdminNotes)

	assert.Equal(t, 2, h.snapshot(t, "v-1").Retained)
	assert.Equal(t, []enums.NotificationType{
		enums.NotificationTypeReservationCreated,
		enums.NotificationTypeReservationApproved,
	}, noticeTypes(h.notices(t, res.ID)))
}

func TestRejectAndCancelReleaseStock(t *testing.T) {
	h := newHarness(t)
	svc := h.service(t, harnessOptions{})
	h.seed(t, "v-1", 5)
	ctx := context.Background()
	owner := uuid.New()

	first, err := svc.Create(ctx, createInput(owner, item("v-1", 2)))
	require.NoError(t, err)
	second, err := svc.Create(ctx, createInput(owner, item("v-1", 3)))
	require.NoError(t, err)
	assert.Equal(t, 0, h.snapshot(t, "v-1").Available)

	rejected, err := svc.Reject(ctx, first.ID, uuid.New(), nil)
	require.NoError(t, err)
	assert.Equal(t, enums.ReservationStateRejected, rejected.State)
	require.NotNil(t, rejected.RejectedAt)
	assert.Equal(t, 3, h.snapshot(t, "v-1").Retained)

	_, err = svc.Approve(ctx, second.ID, uuid.New(), nil)
	require.NoError(t, err)
	cancelled, err := svc.Cancel(ctx, second.ID, owner, false)
	require.NoError(t, err)
	assert.Equal(t, enums.ReservationStateCancelled, cancelled.State)
	assert.Nil(t, cancelled.DecidedBy)
	require.NotNil(t, cancelled.CancelledAt)
	assert.Nil(t, cancelled.ApprovedAt, "terminal reservations keep a single stamp")
	assert.Equal(t, ledger.Snapshot{Total: 5, Retained: 0, Available: 5}, h.snapshot(t, "v-1"))

	assert.Contains(t, noticeTypes(h.notices(t, first.ID)), enums.NotificationTypeReservationRejected)
	assert.Contains(t, noticeTypes(h.notices(t, second.ID)), enums.NotificationTypeReservationCancelled)
}

func TestCancelChecksOwnership(t *testing.T) {
	h := newHarness(t)
	svc := h.service(t, harnessOptions{})
	h.seed(t, "v-1", 5)
	ctx := context.Background()

	res, err := svc.Create(ctx, createInput(uuid.New(), item("v-1", 1)))
	require.NoError(t, err)

	_, err = svc.Cancel(ctx, res.ID, uuid.New(), false)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden))
	assert.Equal(t, 1, h.snapshot(t, "v-1").Retained)

	admin := uuid.New()
	cancelled, err := svc.Cancel(ctx, res.ID, admin, true)
	require.NoError(t, err)
	require.NotNil(t, cancelled.DecidedBy)
	assert.Equal(t, admin, *cancelled.DecidedBy)
	assert.Equal(t, 0, h.snapshot(t, "v-1").Retained)
}

func TestTransitionUnknownReservation(t *testing.T) {
	h := newHarness(t)
	svc := h.service(t, harnessOptions{})
	_, err := svc.Approve(context.Background(), uuid.New(), uuid.New(), nil)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestTransitionsFollowStateTable(t *testing.T) {
	type op struct {
		name   string
		target enums.ReservationState
		run    func(Service, uuid.UUID, uuid.UUID) error
	}
	ops := []op{
		{"approve", enums.ReservationStateApproved, func(s Service, id, owner uuid.UUID) error {
			_, err := s.Approve(context.Background(), id, uuid.New(), nil)
			return err
		}},
		{"reject", enums.ReservationStateRejected, func(s Service, id, owner uuid.UUID) error {
			_, err := s.Reject(context.Background(), id, uuid.New(), nil)
			return err
		}},
		{"cancel", enums.ReservationStateCancelled, func(s Service, id, owner uuid.UUID) error {
			_, err := s.Cancel(context.Background(), id, owner, false)
			return err
		}},
	}
	reach := map[enums.ReservationState]func(*testing.T, harness, Service, uuid.UUID, uuid.UUID){
		enums.ReservationStatePending: func(*testing.T, harness, Service, uuid.UUID, uuid.UUID) {},
		enums.ReservationStateApproved: func(t *testing.T, _ harness, s Service, id, _ uuid.UUID) {
			_, err := s.Approve(context.Background(), id, uuid.New(), nil)
			require.NoError(t, err)
		},
		enums.ReservationStateRejected: func(t *testing.T, _ harness, s Service, id, _ uuid.UUID) {
			_, err := s.Reject(context.Background(), id, uuid.New(), nil)
			require.NoError(t, err)
		},
		enums.ReservationStateCancelled: func(t *testing.T, _ harness, s Service, id, owner uuid.UUID) {
			_, err := s.Cancel(context.Background(), id, owner, false)
			require.NoError(t, err)
		},
		enums.ReservationStateExpired: func(t *testing.T, h harness, s Service, _ uuid.UUID, _ uuid.UUID) {
			h.clock.Advance(holdDuration + time.Minute)
			result, err := s.ExpireBatch(context.Background())
			require.NoError(t, err)
			require.Equal(t, 1, result.Processed)
		},
	}

	for from, setup := range reach {
		for _, o := range ops {
			t.Run(fmt.Sprintf("%s_%s", from, o.name), func(t *testing.T) {
				h := newHarness(t)
				svc := h.service(t, harnessOptions{})
				h.seed(t, "v-1", 5)
				owner := uuid.New()
				res, err := svc.Create(context.Background(), createInput(owner, item("v-1", 2)))
				require.NoError(t, err)
				setup(t, h, svc, res.ID, owner)
				before := h.snapshot(t, "v-1")

				err = o.run(svc, res.ID, owner)
				if from.CanTransitionTo(o.target) {
					require.NoError(t, err)
					return
				}
				require.Error(t, err)
				assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInvalidTransition))
				assert.Equal(t, before, h.snapshot(t, "v-1"))
			})
		}
	}
}

func TestConcurrentDecisionsApplyOnce(t *testing.T) {
	h := newHarness(t)
	svc := h.service(t, harnessOptions{})
	h.seed(t, "v-1", 5)
	ctx := context.Background()
	owner := uuid.New()
	res, err := svc.Create(ctx, createInput(owner, item("v-1", 2)))
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, errs[0] = svc.Reject(ctx, res.ID, uuid.New(), nil)
	}()
	go func() {
		defer wg.Done()
		_, errs[1] = svc.Cancel(ctx, res.ID, owner, false)
	}()
	wg.Wait()

	failures := 0
	for _, err := range errs {
		if err != nil {
			failures++
			assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInvalidTransition))
		}
	}
	assert.Equal(t, 1, failures)
	assert.Equal(t, ledger.Snapshot{Total: 5, Retained: 0, Available: 5}, h.snapshot(t, "v-1"))

	var releases int64
	require.NoError(t, h.client.DB().Model(&models.InventoryMovement{}).
		Where("movement_type = ?", enums.MovementTypeRelease).
		Count(&releases).Error)
	assert.Equal(t, int64(1), releases)
}

func TestExpireBatchIsIdempotent(t *testing.T) {
	h := newHarness(t)
	svc := h.service(t, harnessOptions{})
	h.seed(t, "v-1", 5)
	ctx := context.Background()
	start := h.clock.Now()

	due, err := svc.Create(ctx, createInput(uuid.New(), item("v-1", 2)))
	require.NoError(t, err)
	_, err = svc.Approve(ctx, due.ID, uuid.New(), nil)
	require.NoError(t, err)

	h.clock.Advance(2 * time.Hour)
	fresh, err := svc.Create(ctx, createInput(uuid.New(), item("v-1", 1)))
	require.NoError(t, err)

	h.clock.Advance(holdDuration - time.Hour)
	result, err := svc.ExpireBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Processed)
	assert.Zero(t, result.Errors)
	assert.Equal(t, []uuid.UUID{due.ID}, result.ExpiredIDs)

	expired, err := svc.Get(ctx, due.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.ReservationStateExpired, expired.State)
	require.NotNil(t, expired.ExpiredAt)
	assert.Nil(t, expired.ApprovedAt)
	assert.Equal(t, 1, h.snapshot(t, "v-1").Retained)

	still, err := svc.Get(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.ReservationStatePending, still.State)

	again, err := svc.ExpireBatch(ctx)
	require.NoError(t, err)
	assert.Zero(t, again.Processed)
	assert.Equal(t, 1, h.snapshot(t, "v-1").Retained)

	assert.NotContains(t, noticeTypes(h.notices(t, due.ID)), enums.NotificationTypeReservationExpired)
	notices, err := svc.EnqueueExpiredNotices(ctx, start)
	require.NoError(t, err)
	assert.Equal(t, NoticeResult{Considered: 1, Enqueued: 1}, notices)

	notices, err = svc.EnqueueExpiredNotices(ctx, start)
	require.NoError(t, err)
	assert.Equal(t, NoticeResult{Considered: 1, Enqueued: 0}, notices)
	assert.Contains(t, noticeTypes(h.notices(t, due.ID)), enums.NotificationTypeReservationExpired)
}

// releaseFailsFor passes retains through and fails releases of one variant.
type releaseFailsFor struct {
	InventoryLedger
	variantID string
}

func (l releaseFailsFor) Release(ctx context.Context, tx *gorm.DB, input ledger.MovementInput) (bool, error) {
	if input.VariantID == l.variantID {
		return false, pkgerrors.New(pkgerrors.CodeDependency, "ledger unavailable")
	}
	return l.InventoryLedger.Release(ctx, tx, input)
}

func TestExpireBatchContinuesPastFailedReservation(t *testing.T) {
	h := newHarness(t)
	svc := h.service(t, harnessOptions{ledger: func(inner InventoryLedger) InventoryLedger {
		return releaseFailsFor{InventoryLedger: inner, variantID: "v-bad"}
	}})
	for _, v := range []string{"v-1", "v-bad", "v-3"} {
		h.seed(t, v, 5)
	}
	ctx := context.Background()

	first, err := svc.Create(ctx, createInput(uuid.New(), item("v-1", 2)))
	require.NoError(t, err)
	h.clock.Advance(time.Minute)
	broken, err := svc.Create(ctx, createInput(uuid.New(), item("v-bad", 3)))
	require.NoError(t, err)
	h.clock.Advance(time.Minute)
	third, err := svc.Create(ctx, createInput(uuid.New(), item("v-3", 1)))
	require.NoError(t, err)

	h.clock.Advance(holdDuration + time.Hour)
	result, err := svc.ExpireBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Processed)
	assert.Equal(t, 1, result.Errors)
	assert.ElementsMatch(t, []uuid.UUID{first.ID, third.ID}, result.ExpiredIDs)

	for _, id := range []uuid.UUID{first.ID, third.ID} {
		got, err := svc.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, enums.ReservationStateExpired, got.State)
	}
	assert.Equal(t, 0, h.snapshot(t, "v-1").Retained)
	assert.Equal(t, 0, h.snapshot(t, "v-3").Retained)

	stuck, err := svc.Get(ctx, broken.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.ReservationStatePending, stuck.State)
	assert.Nil(t, stuck.ExpiredAt)
	assert.Equal(t, 3, h.snapshot(t, "v-bad").Retained)
}

func TestExpiringSoonNoticesUseWindow(t *testing.T) {
	h := newHarness(t)
	svc := h.service(t, harnessOptions{})
	h.seed(t, "v-1", 5)
	ctx := context.Background()
	start := h.clock.Now()

	inside, err := svc.Create(ctx, createInput(uuid.New(), item("v-1", 1)))
	require.NoError(t, err)
	h.clock.Advance(6 * time.Hour)
	outside, err := svc.Create(ctx, createInput(uuid.New(), item("v-1", 1)))
	require.NoError(t, err)

	windowStart := start.Add(holdDuration - time.Hour)
	windowEnd := start.Add(holdDuration + time.Hour)
	result, err := svc.EnqueueExpiringSoonNotices(ctx, windowStart, windowEnd)
	require.NoError(t, err)
	assert.Equal(t, NoticeResult{Considered: 1, Enqueued: 1}, result)

	result, err = svc.EnqueueExpiringSoonNotices(ctx, windowStart, windowEnd)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Enqueued)

	assert.Contains(t, noticeTypes(h.notices(t, inside.ID)), enums.NotificationTypeExpiringSoon)
	assert.NotContains(t, noticeTypes(h.notices(t, outside.ID)), enums.NotificationTypeExpiringSoon)

	_, err = svc.EnqueueExpiringSoonNotices(ctx, windowEnd, windowStart)
	require.Error(t, err)
}

type failingNotifier struct{}

func (failingNotifier) EnqueueReservationNotice(context.Context, *gorm.DB, enums.NotificationType, notifications.ReservationNotice) (*models.NotificationRecord, error) {
	return nil, errors.New("outbox unavailable")
}

func (failingNotifier) HasSent(context.Context, uuid.UUID, enums.NotificationType) (bool, error) {
	return false, errors.New("outbox unavailable")
}

func TestNotificationFailureDoesNotBlockTransitions(t *testing.T) {
	h := newHarness(t)
	svc := h.service(t, harnessOptions{notifier: failingNotifier{}})
	h.seed(t, "v-1", 5)
	ctx := context.Background()

	res, err := svc.Create(ctx, createInput(uuid.New(), item("v-1", 2)))
	require.NoError(t, err)
	rejected, err := svc.Reject(ctx, res.ID, uuid.New(), nil)
	require.NoError(t, err)
	assert.Equal(t, enums.ReservationStateRejected, rejected.State)
	assert.Equal(t, 0, h.snapshot(t, "v-1").Retained)
	assert.Empty(t, h.notices(t, res.ID))
}

type countingNotifier struct {
	calls int
}

func (n *countingNotifier) EnqueueReservationNotice(context.Context, *gorm.DB, enums.NotificationType, notifications.ReservationNotice) (*models.NotificationRecord, error) {
	n.calls++
	return nil, nil
}

func (n *countingNotifier) HasSent(context.Context, uuid.UUID, enums.NotificationType) (bool, error) {
	return false, nil
}

func TestNotifySkipsNoticeWhenSavepointFails(t *testing.T) {
	h := newHarness(t)
	notifier := &countingNotifier{}
	svc := h.service(t, harnessOptions{notifier: notifier}).(*service)

	dsn := fmt.Sprintf("file:closed_%s?mode=memory&cache=shared", uuid.NewString())
	closed, err := db.NewSQLite(context.Background(), dsn, nil)
	require.NoError(t, err)
	require.NoError(t, closed.Close())

	svc.notify(context.Background(), closed.DB(), enums.NotificationTypeReservationApproved, &models.Reservation{ID: uuid.New()})
	assert.Zero(t, notifier.calls)

	tx := h.client.DB().Begin()
	require.NoError(t, tx.Error)
	defer tx.Rollback()
	svc.notify(context.Background(), tx, enums.NotificationTypeReservationApproved, &models.Reservation{ID: uuid.New()})
	assert.Equal(t, 1, notifier.calls)
}

func TestListByUserPaginatesAndFilters(t *testing.T) {
	h := newHarness(t)
	svc := h.service(t, harnessOptions{})
	h.seed(t, "v-1", 50)
	ctx := context.Background()
	owner := uuid.New()

	var ids []uuid.UUID
	for i := 0; i < 3; i++ {
		res, err := svc.Create(ctx, createInput(owner, item("v-1", 1)))
		require.NoError(t, err)
		ids = append(ids, res.ID)
		h.clock.Advance(time.Minute)
	}
	_, err := svc.Create(ctx, createInput(uuid.New(), item("v-1", 1)))
	require.NoError(t, err)
	_, err = svc.Approve(ctx, ids[0], uuid.New(), nil)
	require.NoError(t, err)

	page, err := svc.ListByUser(ctx, owner, nil, pagination.Params{Limit: 2})
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	assert.Equal(t, ids[2], page.Items[0].ID)
	assert.Equal(t, ids[1], page.Items[1].ID)
	require.NotEmpty(t, page.Cursor)

	next, err := svc.ListByUser(ctx, owner, nil, pagination.Params{Limit: 2, Cursor: page.Cursor})
	require.NoError(t, err)
	require.Len(t, next.Items, 1)
	assert.Equal(t, ids[0], next.Items[0].ID)
	assert.Empty(t, next.Cursor)

	approved := enums.ReservationStateApproved
	filtered, err := svc.List(ctx, ListFilter{State: &approved}, pagination.Params{})
	require.NoError(t, err)
	require.Len(t, filtered.Items, 1)
	assert.Equal(t, ids[0], filtered.Items[0].ID)

	bogus := enums.ReservationState("archived")
	_, err = svc.List(ctx, ListFilter{State: &bogus}, pagination.Params{})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}
