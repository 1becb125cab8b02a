package progress

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is the Prometheus counterpart of the Event stream, mirroring
// each phase transition for operators who run purge/compact unattended
// (spec.md §4.7), grounded on the teacher's
// pkg/metrics/prometheus.s3Metrics shape.
type Metrics struct {
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	phaseFraction     *prometheus.GaugeVec
	blocksReclaimed   prometheus.Counter
	bytesReclaimed    prometheus.Counter
}

// NewMetrics registers progress metrics against reg. Pass a fresh
// *prometheus.Registry per process, or prometheus.DefaultRegisterer's
// registry when running embedded in a larger process.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		operationsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "coldvault_operations_total",
				Help: "Total number of purge/compact/verify operations by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		operationDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "coldvault_operation_duration_seconds",
				Help:    "Duration of purge/compact/verify operations",
				Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
			},
			[]string{"kind"},
		),
		phaseFraction: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "coldvault_operation_phase_fraction",
				Help: "Fractional completion of the current operation phase",
			},
			[]string{"kind", "phase"},
		),
		blocksReclaimed: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "coldvault_compact_blocks_reclaimed_total",
				Help: "Total number of blocks reclaimed by the compact engine",
			},
		),
		bytesReclaimed: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "coldvault_compact_bytes_reclaimed_total",
				Help: "Total number of bytes reclaimed by the compact engine",
			},
		),
	}
}

// ObserveOperation records the outcome and duration of a completed
// operation.
func (m *Metrics) ObserveOperation(kind string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.operationsTotal.WithLabelValues(kind, outcome).Inc()
	m.operationDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// ObservePhase records the fraction of the named phase within kind.
func (m *Metrics) ObservePhase(kind, phase string, fraction float64) {
	if m == nil {
		return
	}
	m.phaseFraction.WithLabelValues(kind, phase).Set(fraction)
}

// RecordReclamation adds to the compact engine's cumulative reclaimed
// blocks/bytes counters.
func (m *Metrics) RecordReclamation(blocks int, bytes int64) {
	if m == nil {
		return
	}
	if blocks > 0 {
		m.blocksReclaimed.Add(float64(blocks))
	}
	if bytes > 0 {
		m.bytesReclaimed.Add(float64(bytes))
	}
}
