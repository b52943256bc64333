package locking

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Label constants for metrics.
const (
	LabelShare  = "share"
	LabelStatus = "status"
	LabelReason = "reason"
)

// Status values for acquire attempts.
const (
	StatusGranted  = "granted"
	StatusConflict = "conflict"
	StatusInvalid  = "invalid"
)

// Release reasons.
const (
	ReasonExplicit   = "explicit"
	ReasonDisconnect = "disconnect"
	ReasonProcess    = "process"
	ReasonClose      = "close"
)

// Metrics records lock activity. A nil *Metrics is valid and records nothing.
type Metrics struct {
	acquireTotal *prometheus.CounterVec
	releaseTotal *prometheus.CounterVec
	active       *prometheus.GaugeVec
}

// NewMetrics creates lock metrics registered with reg. A nil reg creates
// unregistered collectors, which is what tests want.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		acquireTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "dittocifs",
				Subsystem: "locks",
				Name:      "acquire_total",
				Help:      "Total number of byte-range lock requests",
			},
			[]string{LabelShare, LabelStatus},
		),
		releaseTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "dittocifs",
				Subsystem: "locks",
				Name:      "release_total",
				Help:      "Total number of byte-range locks released",
			},
			[]string{LabelShare, LabelReason},
		),
		active: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "dittocifs",
				Subsystem: "locks",
				Name:      "active",
				Help:      "Number of currently held byte-range locks",
			},
			[]string{LabelShare},
		),
	}
}

func (m *Metrics) acquire(share, status string) {
	if m == nil {
		return
	}
	m.acquireTotal.WithLabelValues(share, status).Inc()
}

func (m *Metrics) release(share, reason string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.releaseTotal.WithLabelValues(share, reason).Add(float64(n))
}

func (m *Metrics) setActive(share string, delta int) {
	if m == nil || delta == 0 {
		return
	}
	m.active.WithLabelValues(share).Add(float64(delta))
}
