package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// MQMetrics tracks how measurement messages travel through RabbitMQ.
type MQMetrics struct {
	MeasurementsPublished *prometheus.CounterVec
	PublishFailures       *prometheus.CounterVec
	PublishDuration       *prometheus.HistogramVec
	BrokerNacks           *prometheus.CounterVec
	Reconnects            prometheus.Counter
	Connected             prometheus.Gauge
}

// confirmBuckets spans a local broker confirm up to a full back-off sequence.
var confirmBuckets = []float64{.001, .005, .01, .05, .1, .5, 1, 5, 15, 30}

// NewMQMetrics creates the measurement queue metrics and registers them with reg.
func NewMQMetrics(namespace string, reg prometheus.Registerer) *MQMetrics {
	m := &MQMetrics{
		MeasurementsPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "queue",
				Name:      "measurements_published_total",
				Help:      "Measurement messages confirmed by the broker",
			},
			[]string{"queue"},
		),
		PublishFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "queue",
				Name:      "publish_failures_total",
				Help:      "Measurement messages given up on, by reason",
			},
			[]string{"queue", "reason"}, // reason: max_retries_exceeded, context_canceled
		),
		PublishDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "queue",
				Name:      "publish_confirm_seconds",
				Help:      "Time from first publish attempt to broker confirmation, retries included",
				Buckets:   confirmBuckets,
			},
			[]string{"queue"},
		),
		BrokerNacks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "queue",
				Name:      "broker_nacks_total",
				Help:      "Measurement publishes negatively acknowledged by the broker",
			},
			[]string{"queue"},
		),
		Reconnects: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "queue",
				Name:      "reconnects_total",
				Help:      "Connection attempts made to the measurement broker",
			},
		),
		Connected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "queue",
				Name:      "connected",
				Help:      "1 while a channel to the measurement queue is open, 0 otherwise",
			},
		),
	}

	reg.MustRegister(
		m.MeasurementsPublished,
		m.PublishFailures,
		m.PublishDuration,
		m.BrokerNacks,
		m.Reconnects,
		m.Connected,
	)

	return m
}
