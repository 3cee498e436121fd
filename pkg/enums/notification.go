package enums

import "fmt"

// NotificationType identifies the reservation event a notification describes.
type NotificationType string

const (
	NotificationTypeReservationCreated   NotificationType = "reservation_created"
	NotificationTypeReservationApproved  NotificationType = "reservation_approved"
	NotificationTypeReservationRejected  NotificationType = "reservation_rejected"
	NotificationTypeReservationCancelled NotificationType = "reservation_cancelled"
	NotificationTypeReservationExpired   NotificationType = "reservation_expired"
	NotificationTypeExpiringSoon         NotificationType = "reservation_expiring_soon"
)

var validNotificationTypes = []NotificationType{
	NotificationTypeReservationCreated,
	NotificationTypeReservationApproved,
	NotificationTypeReservationRejected,
	NotificationTypeReservationCancelled,
	NotificationTypeReservationExpired,
	NotificationTypeExpiringSoon,
}

// IsValid checks whether the given type matches the canonical enum.
func (n NotificationType) IsValid() bool {
	for _, candidate := range validNotificationTypes {
		if candidate == n {
			return true
		}
	}
	return false
}

// ParseNotificationType converts raw strings into NotificationType.
func ParseNotificationType(value string) (NotificationType, error) {
	for _, candidate := range validNotificationTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid notification type %q", value)
}

// NotificationTypeForState returns the notification emitted when a reservation enters state.
func NotificationTypeForState(state ReservationState) (NotificationType, bool) {
	switch state {
	case ReservationStatePending:
		return NotificationTypeReservationCreated, true
	case ReservationStateApproved:
		return NotificationTypeReservationApproved, true
	case ReservationStateRejected:
		return NotificationTypeReservationRejected, true
	case ReservationStateCancelled:
		return NotificationTypeReservationCancelled, true
	case ReservationStateExpired:
		return NotificationTypeReservationExpired, true
	}
	return "", false
}

// NotificationStatus tracks delivery progress of a notification row.
type NotificationStatus string

const (
	NotificationStatusPending NotificationStatus = "pending"
	NotificationStatusSent    NotificationStatus = "sent"
	NotificationStatusFailed  NotificationStatus = "failed"
)

// IsValid reports whether the value matches a known notification status.
func (s NotificationStatus) IsValid() bool {
	switch s {
	case NotificationStatusPending, NotificationStatusSent, NotificationStatusFailed:
		return true
	}
	return false
}
