package objpack

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	LabelSuccess = "success"
	LabelError   = "error"
)

// Metrics holds counters describing payload builds.
type Metrics struct {
	Builds        *prometheus.CounterVec
	Objects       prometheus.Counter
	PayloadBytes  prometheus.Gauge
	SavedBytes    prometheus.Gauge
	Relocations   *prometheus.CounterVec
	StageDuration *prometheus.HistogramVec
}

func NewMetrics() *Metrics {
	const (
		namespace = "objpack"
		subsystem = "builder"
	)

	return &Metrics{
		Builds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "builds_total",
			Help:      "Count of payload builds",
		}, []string{"result"}),

		Objects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "objects_total",
			Help:      "Count of objects collected across builds",
		}),

		PayloadBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "payload_bytes",
			Help:      "Size of the last payload built",
		}),

		SavedBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "saved_bytes",
			Help:      "Bytes saved by stacking in the last payload built",
		}),

		Relocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "relocations_total",
			Help:      "Count of relocation entries written",
		}, []string{"table"}),

		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "stage_duration_seconds",
			Help:      "Histogram of time spent in each build stage",
			Buckets:   prometheus.ExponentialBuckets(1e-4, 4, 8),
		}, []string{"stage"}),
	}
}

func (m *Metrics) PrometheusCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.Builds,
		m.Objects,
		m.PayloadBytes,
		m.SavedBytes,
		m.Relocations,
		m.StageDuration,
	}
}
