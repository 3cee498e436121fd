package notifications

import (
	"fmt"
	"strings"
	"time"

	"github.com/angelmondragon/stockhold-backend/pkg/enums"
	"github.com/google/uuid"
)

// ReservationNotice carries the reservation fields rendered into emails.
type ReservationNotice struct {
	ReservationID uuid.UUID
	UserID        uuid.UUID
	EmailTo       string
	ExpiresAt     time.Time
	AdminNotes    *string
	Items         []NoticeItem
}

type NoticeItem struct {
	ProductName string
	Quantity    int
}

var subjects = map[enums.NotificationType]string{
	enums.NotificationTypeReservationCreated:   "Your reservation has been received",
	enums.NotificationTypeReservationApproved:  "Your reservation was approved",
	enums.NotificationTypeReservationRejected:  "Your reservation was declined",
	enums.NotificationTypeReservationCancelled: "Your reservation was cancelled",
	enums.NotificationTypeReservationExpired:   "Your reservation has expired",
	enums.NotificationTypeExpiringSoon:         "Your reservation expires today",
}

var leads = map[enums.NotificationType]string{
	enums.NotificationTypeReservationCreated:   "We are holding the following items for you until %s:",
	enums.NotificationTypeReservationApproved:  "Your hold was approved. The items stay reserved until %s:",
	enums.NotificationTypeReservationRejected:  "Your hold could not be approved and the items were released. It was due to expire %s:",
	enums.NotificationTypeReservationCancelled: "Your hold was cancelled and the items were released. It was due to expire %s:",
	enums.NotificationTypeReservationExpired:   "Your hold reached its expiry at %s and the items were released:",
	enums.NotificationTypeExpiringSoon:         "Your hold expires today at %s:",
}

// Render builds the subject and plain-text body for a reservation notification.
func Render(notificationType enums.NotificationType, notice ReservationNotice) (string, string, error) {
	subject, ok := subjects[notificationType]
	if !ok {
		return "", "", fmt.Errorf("no template for notification type %q", notificationType)
	}

	var b strings.Builder
	fmt.Fprintf(&b, leads[notificationType], notice.ExpiresAt.UTC().Format(time.RFC1123))
	b.WriteString("\n\n")
	for _, item := range notice.Items {
		fmt.Fprintf(&b, "  - %d x %s\n", item.Quantity, item.ProductName)
	}
	if notice.AdminNotes != nil && strings.TrimSpace(*notice.AdminNotes) != "" {
		fmt.Fprintf(&b, "\nNote from our team: %s\n", strings.TrimSpace(*notice.AdminNotes))
	}
	fmt.Fprintf(&b, "\nReservation reference: %s\n", notice.ReservationID)
	return subject, b.String(), nil
}
