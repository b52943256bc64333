package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marmos91/dittocifs/pkg/metrics"
)

// netbiosMetrics is the Prometheus implementation of metrics.NetBIOSMetrics.
type netbiosMetrics struct {
	events     *prometheus.CounterVec
	registered prometheus.Gauge
}

// NewNetBIOSMetrics creates Prometheus-backed name service metrics.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewNetBIOSMetrics() metrics.NetBIOSMetrics {
	if !metrics.IsEnabled() {
		return nil
	}
	return newNetBIOSMetrics(metrics.Registerer())
}

func newNetBIOSMetrics(reg prometheus.Registerer) *netbiosMetrics {
	return &netbiosMetrics{
		events: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "netbios",
				Name:      "name_events_total",
				Help:      "Total number of name table events by status and name kind",
			},
			[]string{"status", "kind"}, // kind: "unique", "group"
		),
		registered: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "netbios",
				Name:      "names",
				Help:      "Number of names in the name table",
			},
		),
	}
}

func (m *netbiosMetrics) RecordNameEvent(status string, group bool) {
	kind := "unique"
	if group {
		kind = "group"
	}
	m.events.WithLabelValues(status, kind).Inc()
}

func (m *netbiosMetrics) SetRegisteredNames(count int) { m.registered.Set(float64(count)) }
