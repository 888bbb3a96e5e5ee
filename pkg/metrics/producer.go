package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// ProducerMetrics contains Prometheus metrics for the measurement generator.
type ProducerMetrics struct {
	MeasurementsPublished prometheus.Counter
	PublishFailures       *prometheus.CounterVec
	PublishDuration       prometheus.Histogram
	ActiveProducers       prometheus.Gauge
	ProfilesGenerated     prometheus.Counter
}

// NewProducerMetrics creates producer metrics and registers them with reg.
func NewProducerMetrics(namespace string, reg prometheus.Registerer) *ProducerMetrics {
	m := &ProducerMetrics{
		MeasurementsPublished: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "producer",
				Name:      "measurements_published_total",
				Help:      "Total number of synthetic measurements published",
			},
		),
		PublishFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "producer",
				Name:      "publish_failures_total",
				Help:      "Total number of measurement publish failures",
			},
			[]string{"reason"}, // reason: encode_error, push_error
		),
		PublishDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "producer",
				Name:      "publish_duration_seconds",
				Help:      "Duration of measurement generation and publish",
				Buckets:   prometheus.DefBuckets,
			},
		),
		ActiveProducers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "producer",
				Name:      "active_producers",
				Help:      "Number of currently active producers",
			},
		),
		ProfilesGenerated: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "producer",
				Name:      "profiles_generated_total",
				Help:      "Total number of synthetic user profiles generated",
			},
		),
	}

	reg.MustRegister(
		m.MeasurementsPublished,
		m.PublishFailures,
		m.PublishDuration,
		m.ActiveProducers,
		m.ProfilesGenerated,
	)

	return m
}
