package notifications

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/angelmondragon/stockhold-backend/pkg/db"
	"github.com/angelmondragon/stockhold-backend/pkg/db/models"
	"github.com/angelmondragon/stockhold-backend/pkg/email"
	"github.com/angelmondragon/stockhold-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/stockhold-backend/pkg/errors"
	"github.com/angelmondragon/stockhold-backend/pkg/logger"
	"github.com/angelmondragon/stockhold-backend/pkg/migrate"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type recordingSender struct {
	mu       sync.Mutex
	messages []email.Message
	failFor  map[string]bool
	failAll  bool
}

func (s *recordingSender) Send(ctx context.Context, msg email.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAll || s.failFor[msg.To] {
		return errors.New("smtp unavailable")
	}
	s.messages = append(s.messages, msg)
	return nil
}

// failingMarkSent fails MarkSent for chosen records, in and out of transactions.
type failingMarkSent struct {
	Repository
	fail map[uuid.UUID]bool
}

func (r failingMarkSent) WithTx(tx *gorm.DB) Repository {
	return failingMarkSent{Repository: r.Repository.WithTx(tx), fail: r.fail}
}

func (r failingMarkSent) MarkSent(ctx context.Context, id uuid.UUID, now time.Time) error {
	if r.fail[id] {
		return errors.New("storage hiccup")
	}
	return r.Repository.MarkSent(ctx, id, now)
}

// sentCheckMisses hides sent rows from the pre-send check, as when another
// worker commits a send between the check and MarkSent.
type sentCheckMisses struct {
	Repository
}

func (r sentCheckMisses) WithTx(tx *gorm.DB) Repository {
	return sentCheckMisses{Repository: r.Repository.WithTx(tx)}
}

func (sentCheckMisses) ExistsForKey(context.Context, uuid.UUID, enums.NotificationType, ...enums.NotificationStatus) (bool, error) {
	return false, nil
}

type outboxHarness struct {
	client *db.Client
	outbox *Outbox
	logg   *logger.Logger
}

func newOutboxHarness(t *testing.T) outboxHarness {
	t.Helper()
	dsn := fmt.Sprintf("file:outbox_%s?mode=memory&cache=shared", uuid.NewString())
	client, err := db.NewSQLite(context.Background(), dsn, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.DB().AutoMigrate(&models.NotificationRecord{}))

	logg := logger.New(logger.Options{ServiceName: "notifications-test", Output: io.Discard})
	outbox, err := NewOutbox(NewRepository(client.DB()), logg)
	require.NoError(t, err)
	return outboxHarness{client: client, outbox: outbox, logg: logg}
}

func (h outboxHarness) dispatcher(t *testing.T, sender email.Sender, now func() time.Time) *Dispatcher {
	t.Helper()
	d, err := NewDispatcher(DispatcherParams{
		Repo:   NewRepository(h.client.DB()),
		TX:     h.client,
		Sender: sender,
		Logg:   h.logg,
		From:   "no-reply@stockhold.local",
		Now:    now,
	})
	require.NoError(t, err)
	return d
}

func (h outboxHarness) records(t *testing.T) []models.NotificationRecord {
	t.Helper()
	var rows []models.NotificationRecord
	require.NoError(t, h.client.DB().Order("created_at ASC").Find(&rows).Error)
	return rows
}

func expiringSoon(reservationID uuid.UUID) EnqueueInput {
	return EnqueueInput{
		UserID:          uuid.New(),
		EmailTo:         "buyer@example.com",
		Type:            enums.NotificationTypeExpiringSoon,
		Subject:         "Your reservation expires today",
		Body:            "body",
		RelatedEntityID: &reservationID,
	}
}

func TestEnqueueValidatesInput(t *testing.T) {
	h := newOutboxHarness(t)
	ctx := context.Background()

	_, err := h.outbox.Enqueue(ctx, nil, EnqueueInput{EmailTo: "a@b.c", Type: enums.NotificationTypeExpiringSoon})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = h.outbox.Enqueue(ctx, nil, EnqueueInput{UserID: uuid.New(), Type: enums.NotificationTypeExpiringSoon})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = h.outbox.Enqueue(ctx, nil, EnqueueInput{UserID: uuid.New(), EmailTo: "a@b.c", Type: "weekly_digest"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestEnqueueDedupesPendingAndSent(t *testing.T) {
	h := newOutboxHarness(t)
	ctx := context.Background()
	reservationID := uuid.New()

	first, err := h.outbox.Enqueue(ctx, nil, expiringSoon(reservationID))
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, enums.NotificationStatusPending, first.Status)

	dup, err := h.outbox.Enqueue(ctx, nil, expiringSoon(reservationID))
	require.NoError(t, err)
	assert.Nil(t, dup)

	other, err := h.outbox.Enqueue(ctx, nil, EnqueueInput{
		UserID: uuid.New(), EmailTo: "buyer@example.com", Type: enums.NotificationTypeReservationExpired, RelatedEntityID: &reservationID,
	})
	require.NoError(t, err)
	assert.NotNil(t, other, "a different type for the same reservation is a different key")

	assert.Len(t, h.records(t), 2)
}

func TestExpiringSoonEnqueuedTwiceIsSentOnce(t *testing.T) {
	h := newOutboxHarness(t)
	ctx := context.Background()
	reservationID := uuid.New()
	sender := &recordingSender{}
	d := h.dispatcher(t, sender, nil)

	_, err := h.outbox.Enqueue(ctx, nil, expiringSoon(reservationID))
	require.NoError(t, err)
	result, err := d.ProcessPending(ctx, DefaultMaxRetries)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Sent)

	again, err := h.outbox.Enqueue(ctx, nil, expiringSoon(reservationID))
	require.NoError(t, err)
	assert.Nil(t, again)

	result, err = d.ProcessPending(ctx, DefaultMaxRetries)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Total)

	sent, err := h.outbox.HasSent(ctx, reservationID, enums.NotificationTypeExpiringSoon)
	require.NoError(t, err)
	assert.True(t, sent)

	var count int64
	require.NoError(t, h.client.DB().Model(&models.NotificationRecord{}).
		Where("related_entity_id = ? AND notification_type = ? AND status = ?", reservationID, enums.NotificationTypeExpiringSoon, enums.NotificationStatusSent).
		Count(&count).Error)
	assert.Equal(t, int64(1), count)
	assert.Len(t, sender.messages, 1)
}

func TestProcessPendingMarksSent(t *testing.T) {
	h := newOutboxHarness(t)
	ctx := context.Background()
	sender := &recordingSender{}
	d := h.dispatcher(t, sender, nil)

	for i := 0; i < 3; i++ {
		_, err := h.outbox.Enqueue(ctx, nil, expiringSoon(uuid.New()))
		require.NoError(t, err)
	}

	result, err := d.ProcessPending(ctx, DefaultMaxRetries)
	require.NoError(t, err)
	assert.Equal(t, DeliveryResult{Sent: 3, Total: 3}, result)

	for _, rec := range h.records(t) {
		assert.Equal(t, enums.NotificationStatusSent, rec.Status)
		assert.NotNil(t, rec.SentAt)
	}
	require.Len(t, sender.messages, 3)
	assert.Equal(t, "no-reply@stockhold.local", sender.messages[0].From)
}

func TestProcessPendingRetriesThenFails(t *testing.T) {
	h := newOutboxHarness(t)
	ctx := context.Background()
	sender := &recordingSender{failAll: true}
	d := h.dispatcher(t, sender, nil)

	rec, err := h.outbox.Enqueue(ctx, nil, expiringSoon(uuid.New()))
	require.NoError(t, err)

	for attempt := 1; attempt <= 3; attempt++ {
		result, err := d.ProcessPending(ctx, 3)
		require.NoError(t, err)
		assert.Equal(t, 1, result.Failed, "attempt %d", attempt)

		var stored models.NotificationRecord
		require.NoError(t, h.client.DB().First(&stored, "id = ?", rec.ID).Error)
		assert.Equal(t, attempt, stored.RetryCount)
		if attempt < 3 {
			assert.Equal(t, enums.NotificationStatusPending, stored.Status)
		} else {
			assert.Equal(t, enums.NotificationStatusFailed, stored.Status)
			assert.Equal(t, 1, result.Exhausted)
			require.NotNil(t, stored.ErrorMessage)
			assert.Contains(t, *stored.ErrorMessage, "smtp unavailable")
		}
	}

	result, err := d.ProcessPending(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Total, "failed records are not retried")
}

func TestProcessPendingIsolatesFailures(t *testing.T) {
	h := newOutboxHarness(t)
	ctx := context.Background()
	sender := &recordingSender{failFor: map[string]bool{"bounce@example.com": true}}
	d := h.dispatcher(t, sender, nil)

	good := expiringSoon(uuid.New())
	bad := expiringSoon(uuid.New())
	bad.EmailTo = "bounce@example.com"
	_, err := h.outbox.Enqueue(ctx, nil, bad)
	require.NoError(t, err)
	_, err = h.outbox.Enqueue(ctx, nil, good)
	require.NoError(t, err)

	result, err := d.ProcessPending(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Total)
	assert.Equal(t, 1, result.Sent)
	assert.Equal(t, 1, result.Failed)
}

func TestProcessPendingStorageFailureDoesNotResendDelivered(t *testing.T) {
	h := newOutboxHarness(t)
	ctx := context.Background()
	sender := &recordingSender{}

	first, err := h.outbox.Enqueue(ctx, nil, expiringSoon(uuid.New()))
	require.NoError(t, err)
	second, err := h.outbox.Enqueue(ctx, nil, expiringSoon(uuid.New()))
	require.NoError(t, err)

	repo := failingMarkSent{Repository: NewRepository(h.client.DB()), fail: map[uuid.UUID]bool{second.ID: true}}
	d, err := NewDispatcher(DispatcherParams{
		Repo:   repo,
		TX:     h.client,
		Sender: sender,
		Logg:   h.logg,
	})
	require.NoError(t, err)

	result, err := d.ProcessPending(ctx, DefaultMaxRetries)
	require.NoError(t, err)
	assert.Equal(t, DeliveryResult{Sent: 1, Errors: 1, Total: 2}, result)

	var stored models.NotificationRecord
	require.NoError(t, h.client.DB().First(&stored, "id = ?", first.ID).Error)
	assert.Equal(t, enums.NotificationStatusSent, stored.Status)
	require.NoError(t, h.client.DB().First(&stored, "id = ?", second.ID).Error)
	assert.Equal(t, enums.NotificationStatusPending, stored.Status)

	delete(repo.fail, second.ID)
	result, err = d.ProcessPending(ctx, DefaultMaxRetries)
	require.NoError(t, err)
	assert.Equal(t, DeliveryResult{Sent: 1, Total: 1}, result)

	deliveries := map[string]int{}
	for _, msg := range sender.messages {
		deliveries[msg.NotificationID]++
	}
	assert.Equal(t, 1, deliveries[first.ID.String()], "delivered record must not be sent again")
	assert.Equal(t, 2, deliveries[second.ID.String()])
}

func TestProcessPendingConcurrentSendBecomesDuplicate(t *testing.T) {
	h := newOutboxHarness(t)
	require.NoError(t, migrate.AutoMigrateModels(h.client.DB()))
	ctx := context.Background()
	sender := &recordingSender{}
	reservationID := uuid.New()

	var ids []uuid.UUID
	for i := 0; i < 2; i++ {
		in := expiringSoon(reservationID)
		rec := &models.NotificationRecord{
			UserID:           in.UserID,
			EmailTo:          in.EmailTo,
			NotificationType: in.Type,
			Subject:          in.Subject,
			Body:             in.Body,
			RelatedEntityID:  in.RelatedEntityID,
			Status:           enums.NotificationStatusPending,
		}
		require.NoError(t, h.client.DB().Create(rec).Error)
		ids = append(ids, rec.ID)
	}

	d, err := NewDispatcher(DispatcherParams{
		Repo:   sentCheckMisses{Repository: NewRepository(h.client.DB())},
		TX:     h.client,
		Sender: sender,
		Logg:   h.logg,
	})
	require.NoError(t, err)

	result, err := d.ProcessPending(ctx, DefaultMaxRetries)
	require.NoError(t, err)
	assert.Equal(t, DeliveryResult{Sent: 1, Skipped: 1, Total: 2}, result)

	statuses := map[enums.NotificationStatus]int{}
	for _, rec := range h.records(t) {
		statuses[rec.Status]++
		if rec.Status == enums.NotificationStatusFailed {
			require.NotNil(t, rec.ErrorMessage)
			assert.Equal(t, duplicateMessage, *rec.ErrorMessage)
		}
	}
	assert.Equal(t, map[enums.NotificationStatus]int{
		enums.NotificationStatusSent:   1,
		enums.NotificationStatusFailed: 1,
	}, statuses)
}

func TestProcessPendingWaitsForRetryDelay(t *testing.T) {
	h := newOutboxHarness(t)
	ctx := context.Background()
	now := time.Now().UTC()
	clock := func() time.Time { return now }
	sender := &recordingSender{failAll: true}

	d, err := NewDispatcher(DispatcherParams{
		Repo:       NewRepository(h.client.DB()),
		TX:         h.client,
		Sender:     sender,
		Logg:       h.logg,
		RetryDelay: time.Minute,
		Now:        clock,
	})
	require.NoError(t, err)

	_, err = h.outbox.Enqueue(ctx, nil, expiringSoon(uuid.New()))
	require.NoError(t, err)

	result, err := d.ProcessPending(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)

	result, err = d.ProcessPending(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Total)

	now = now.Add(2 * time.Minute)
	result, err = d.ProcessPending(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Total)
}

func TestPurgeSentRemovesOldRecords(t *testing.T) {
	h := newOutboxHarness(t)
	ctx := context.Background()
	d := h.dispatcher(t, &recordingSender{}, nil)

	rec, err := h.outbox.Enqueue(ctx, nil, expiringSoon(uuid.New()))
	require.NoError(t, err)
	_, err = d.ProcessPending(ctx, 3)
	require.NoError(t, err)
	old := time.Now().UTC().Add(-40 * 24 * time.Hour)
	require.NoError(t, h.client.DB().Model(&models.NotificationRecord{}).Where("id = ?", rec.ID).Update("sent_at", old).Error)

	_, err = h.outbox.Enqueue(ctx, nil, expiringSoon(uuid.New()))
	require.NoError(t, err)

	deleted, err := d.PurgeSent(ctx, 30*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
	assert.Len(t, h.records(t), 1)
}

func TestEnqueueReservationNoticeRendersAndSkipsMissingEmail(t *testing.T) {
	h := newOutboxHarness(t)
	ctx := context.Background()
	notes := "pick up at counter 3"
	notice := ReservationNotice{
		ReservationID: uuid.New(),
		UserID:        uuid.New(),
		EmailTo:       "buyer@example.com",
		ExpiresAt:     time.Date(2026, 3, 1, 17, 0, 0, 0, time.UTC),
		AdminNotes:    &notes,
		Items:         []NoticeItem{{ProductName: "Blue Widget", Quantity: 2}},
	}

	rec, err := h.outbox.EnqueueReservationNotice(ctx, nil, enums.NotificationTypeReservationApproved, notice)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "Your reservation was approved", rec.Subject)
	assert.True(t, strings.Contains(rec.Body, "2 x Blue Widget"))
	assert.True(t, strings.Contains(rec.Body, notes))

	notice.EmailTo = ""
	notice.ReservationID = uuid.New()
	rec, err = h.outbox.EnqueueReservationNotice(ctx, nil, enums.NotificationTypeReservationApproved, notice)
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestRenderCoversEveryType(t *testing.T) {
	for _, typ := range []enums.NotificationType{
		enums.NotificationTypeReservationCreated,
		enums.NotificationTypeReservationApproved,
		enums.NotificationTypeReservationRejected,
		enums.NotificationTypeReservationCancelled,
		enums.NotificationTypeReservationExpired,
		enums.NotificationTypeExpiringSoon,
	} {
		subject, body, err := Render(typ, ReservationNotice{ReservationID: uuid.New()})
		if err != nil || subject == "" || body == "" {
			t.Fatalf("render %s: subject=%q err=%v", typ, subject, err)
		}
	}
	if _, _, err := Render("unknown", ReservationNotice{}); err == nil {
		t.Fatal("expected unknown type to fail")
	}
}
