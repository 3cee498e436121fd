package metrics

import "github.com/prometheus/client_golang/prometheus"

// LedgerMetrics counts inventory retain and release outcomes.
type LedgerMetrics struct {
	retain  *prometheus.CounterVec
	release *prometheus.CounterVec
}

// NewLedgerMetrics registers the ledger counters on the provided registerer.
func NewLedgerMetrics(reg prometheus.Registerer) *LedgerMetrics {
	if reg == nil {
		return &LedgerMetrics{}
	}
	retain := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "inventory_retain_total",
		Help: "Inventory retain attempts by result.",
	}, []string{"result"})
	release := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "inventory_release_total",
		Help: "Inventory releases, labelled by whether the quantity was clamped.",
	}, []string{"clamped"})
	reg.MustRegister(retain, release)
	return &LedgerMetrics{retain: retain, release: release}
}

// ObserveRetain records a retain attempt. result is "ok", "insufficient" or "error".
func (l *LedgerMetrics) ObserveRetain(result string) {
	if l == nil || l.retain == nil {
		return
	}
	l.retain.WithLabelValues(normalizeLabel(result)).Inc()
}

// ObserveRelease records a completed release.
func (l *LedgerMetrics) ObserveRelease(clamped bool) {
	if l == nil || l.release == nil {
		return
	}
	label := "false"
	if clamped {
		label = "true"
	}
	l.release.WithLabelValues(label).Inc()
}
