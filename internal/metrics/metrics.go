// Package metrics holds the Prometheus collectors of the sync core.
//
// All methods are safe to call on a nil *Metrics, which records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "tripsync"

// Metrics groups the collectors registered by New.
type Metrics struct {
	subscriptionsLive  *prometheus.GaugeVec
	snapshotsDelivered *prometheus.CounterVec
	subscriptionErrors *prometheus.CounterVec
	writeFailures      *prometheus.CounterVec
	overlayRecoveries  prometheus.Counter
}

// New registers the collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		subscriptionsLive: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "subscriptions_live",
			Help:      "Remote subscriptions currently open, by entity kind.",
		}, []string{"kind"}),
		snapshotsDelivered: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshots_delivered_total",
			Help:      "Snapshots delivered to subscribers, by entity kind.",
		}, []string{"kind"}),
		subscriptionErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscription_errors_total",
			Help:      "Failure notifications delivered to subscribers, by entity kind.",
		}, []string{"kind"}),
		writeFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "write_failures_total",
			Help:      "Remote writes that returned an error, by operation.",
		}, []string{"op"}),
		overlayRecoveries: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "overlay_recoveries_total",
			Help:      "Archive overlay payloads that could not be parsed and were reset.",
		}),
	}
}

func (m *Metrics) SubscriptionOpened(kind string) {
	if m == nil {
		return
	}
	m.subscriptionsLive.WithLabelValues(kind).Inc()
}

func (m *Metrics) SubscriptionClosed(kind string) {
	if m == nil {
		return
	}
	m.subscriptionsLive.WithLabelValues(kind).Dec()
}

func (m *Metrics) SnapshotDelivered(kind string) {
	if m == nil {
		return
	}
	m.snapshotsDelivered.WithLabelValues(kind).Inc()
}

func (m *Metrics) SubscriptionFailed(kind string) {
	if m == nil {
		return
	}
	m.subscriptionErrors.WithLabelValues(kind).Inc()
}

func (m *Metrics) WriteFailed(op string) {
	if m == nil {
		return
	}
	m.writeFailures.WithLabelValues(op).Inc()
}

func (m *Metrics) OverlayRecovered() {
	if m == nil {
		return
	}
	m.overlayRecoveries.Inc()
}
