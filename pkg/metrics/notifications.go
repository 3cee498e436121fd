package metrics

import "github.com/prometheus/client_golang/prometheus"

// NotificationMetrics counts outbox delivery attempts.
type NotificationMetrics struct {
	delivery *prometheus.CounterVec
}

// NewNotificationMetrics registers the delivery counter on the provided registerer.
func NewNotificationMetrics(reg prometheus.Registerer) *NotificationMetrics {
	if reg == nil {
		return &NotificationMetrics{}
	}
	delivery := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "notification_delivery_total",
		Help: "Notification delivery attempts by result.",
	}, []string{"result"})
	reg.MustRegister(delivery)
	return &NotificationMetrics{delivery: delivery}
}

// ObserveDelivery records one attempt. result is "sent", "retry", "failed",
// "duplicate" or "error".
func (n *NotificationMetrics) ObserveDelivery(result string) {
	if n == nil || n.delivery == nil {
		return
	}
	n.delivery.WithLabelValues(normalizeLabel(result)).Inc()
}
