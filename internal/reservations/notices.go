package reservations

import (
	"context"
	"time"

	"github.com/angelmondragon/stockhold-backend/pkg/db/models"
	"github.com/angelmondragon/stockhold-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/stockhold-backend/pkg/errors"
)

// EnqueueExpiredNotices queues the expired notice for reservations that
// expired at or after since. The outbox dedupe makes repeated passes safe.
func (s *service) EnqueueExpiredNotices(ctx context.Context, since time.Time) (NoticeResult, error) {
	rows, err := s.repo.FindExpiredSince(ctx, since.UTC())
	if err != nil {
		return NoticeResult{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "find expired reservations")
	}
	return s.enqueueNotices(ctx, rows, enums.NotificationTypeReservationExpired, false), nil
}

// EnqueueExpiringSoonNotices queues one reminder per active reservation
// expiring strictly inside the window, skipping those already reminded.
func (s *service) EnqueueExpiringSoonNotices(ctx context.Context, windowStart, windowEnd time.Time) (NoticeResult, error) {
	if !windowEnd.After(windowStart) {
		return NoticeResult{}, pkgerrors.New(pkgerrors.CodeValidation, "notice window end must follow start")
	}
	rows, err := s.repo.FindActiveExpiringBetween(ctx, windowStart.UTC(), windowEnd.UTC())
	if err != nil {
		return NoticeResult{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "find expiring reservations")
	}
	return s.enqueueNotices(ctx, rows, enums.NotificationTypeExpiringSoon, true), nil
}

func (s *service) enqueueNotices(ctx context.Context, rows []models.Reservation, notificationType enums.NotificationType, checkSent bool) NoticeResult {
	result := NoticeResult{Considered: len(rows)}
	for i := range rows {
		reservation := &rows[i]
		logCtx := s.logg.WithField(s.logg.WithReservationID(ctx, reservation.ID.String()), "notification", string(notificationType))

		if checkSent {
			sent, err := s.notifier.HasSent(ctx, reservation.ID, notificationType)
			if err != nil {
				result.Errors++
				s.logg.Error(logCtx, "failed to check sent notification", err)
				continue
			}
			if sent {
				continue
			}
		}

		record, err := s.notifier.EnqueueReservationNotice(ctx, nil, notificationType, noticeFor(reservation))
		if err != nil {
			result.Errors++
			s.logg.Error(logCtx, "failed to queue reservation notification", err)
			continue
		}
		if record != nil {
			result.Enqueued++
		}
	}
	return result
}
