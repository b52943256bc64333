package prometheus

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marmos91/dittocifs/pkg/metrics"
)

// rpcMetrics is the Prometheus implementation of metrics.RPCMetrics.
type rpcMetrics struct {
	calls    *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewRPCMetrics creates Prometheus-backed RPC metrics.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewRPCMetrics() metrics.RPCMetrics {
	if !metrics.IsEnabled() {
		return nil
	}
	return newRPCMetrics(metrics.Registerer())
}

func newRPCMetrics(reg prometheus.Registerer) *rpcMetrics {
	return &rpcMetrics{
		calls: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "rpc",
				Name:      "calls_total",
				Help:      "Total number of DCE/RPC calls by interface, opnum and outcome",
			},
			[]string{"interface", "opnum", "outcome"},
		),
		duration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "rpc",
				Name:      "call_duration_milliseconds",
				Help:      "Duration of DCE/RPC calls in milliseconds",
				Buckets:   []float64{0.05, 0.25, 1, 5, 25},
			},
			[]string{"interface"},
		),
	}
}

func (m *rpcMetrics) RecordCall(iface string, opnum uint16, duration time.Duration, outcome string) {
	m.calls.WithLabelValues(iface, strconv.Itoa(int(opnum)), outcome).Inc()
	m.duration.WithLabelValues(iface).Observe(float64(duration.Microseconds()) / 1000)
}
