// Package prometheus implements the pkg/metrics interfaces with Prometheus
// collectors registered on the process-wide registry.
package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marmos91/dittocifs/pkg/metrics"
)

const namespace = "dittocifs"

// smbMetrics is the Prometheus implementation of metrics.SMBMetrics.
type smbMetrics struct {
	requestsTotal       *prometheus.CounterVec
	requestDuration     *prometheus.HistogramVec
	connectionsAccepted prometheus.Counter
	connectionsClosed   prometheus.Counter
	activeSessions      prometheus.Gauge
	treeConnects        *prometheus.CounterVec
	activeTrees         *prometheus.GaugeVec
}

// NewSMBMetrics creates Prometheus-backed SMB metrics.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewSMBMetrics() metrics.SMBMetrics {
	if !metrics.IsEnabled() {
		return nil
	}
	return newSMBMetrics(metrics.Registerer())
}

func newSMBMetrics(reg prometheus.Registerer) *smbMetrics {
	return &smbMetrics{
		requestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "smb",
				Name:      "requests_total",
				Help:      "Total number of SMB2 requests by command and status",
			},
			[]string{"command", "status"},
		),
		requestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "smb",
				Name:      "request_duration_milliseconds",
				Help:      "Duration of SMB2 requests in milliseconds",
				Buckets: []float64{
					0.1, // in-memory commands
					1,
					5,
					25,
					100, // backend round trips
					500,
					2500,
				},
			},
			[]string{"command"},
		),
		connectionsAccepted: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "smb",
				Name:      "connections_accepted_total",
				Help:      "Total number of accepted SMB connections",
			},
		),
		connectionsClosed: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "smb",
				Name:      "connections_closed_total",
				Help:      "Total number of closed SMB connections",
			},
		),
		activeSessions: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "smb",
				Name:      "sessions_active",
				Help:      "Number of established SMB sessions",
			},
		),
		treeConnects: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "smb",
				Name:      "tree_connects_total",
				Help:      "Total number of tree connect attempts by share and result",
			},
			[]string{"share", "result"},
		),
		activeTrees: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "smb",
				Name:      "trees_active",
				Help:      "Number of open trees by share",
			},
			[]string{"share"},
		),
	}
}

func (m *smbMetrics) RecordRequest(command string, duration time.Duration, status string) {
	m.requestsTotal.WithLabelValues(command, status).Inc()
	m.requestDuration.WithLabelValues(command).Observe(float64(duration.Microseconds()) / 1000)
}

func (m *smbMetrics) RecordConnectionAccepted() { m.connectionsAccepted.Inc() }

func (m *smbMetrics) RecordConnectionClosed() { m.connectionsClosed.Inc() }

func (m *smbMetrics) SetActiveSessions(count int) { m.activeSessions.Set(float64(count)) }

func (m *smbMetrics) RecordTreeConnect(share string, ok bool) {
	result := "ok"
	if !ok {
		result = "failed"
	}
	m.treeConnects.WithLabelValues(share, result).Inc()
}

func (m *smbMetrics) SetActiveTrees(share string, count int) {
	m.activeTrees.WithLabelValues(share).Set(float64(count))
}
