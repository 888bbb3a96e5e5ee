// Package producer publishes synthetic measurements to RabbitMQ.
package producer

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"procodus.dev/bmi-tracker/pkg/generator"
	"procodus.dev/bmi-tracker/pkg/metrics"
	"procodus.dev/bmi-tracker/pkg/mq"
)

// ProducerConfig holds the configuration for a Producer.
type ProducerConfig struct {
	ID        string
	Publisher mq.Publisher
	Generator *generator.Generator

	// ProfileCount is the number of simulated people. Zero picks 1 to 5.
	ProfileCount int

	// Metrics is optional.
	Metrics *metrics.ProducerMetrics
	// Now is the clock. Defaults to time.Now.
	Now func() time.Time
}

// Producer owns a set of simulated people and publishes their measurements.
type Producer struct {
	id        string
	publisher mq.Publisher
	gen       *generator.Generator
	profiles  []*generator.Profile
	metrics   *metrics.ProducerMetrics
	now       func() time.Time
}

// NewProducer creates a Producer and its profiles.
func NewProducer(cfg *ProducerConfig) (*Producer, error) {
	if cfg == nil {
		return nil, errors.New("producer config cannot be nil")
	}

	if cfg.Publisher == nil {
		return nil, errors.New("publisher cannot be nil")
	}

	if cfg.Generator == nil {
		return nil, errors.New("generator cannot be nil")
	}

	count := cfg.ProfileCount
	if count < 0 {
		return nil, errors.New("profile count cannot be negative")
	}
	if count == 0 {
		count = rand.IntN(5) + 1 // #nosec G404 - simulation data
	}

	p := &Producer{
		id:        cfg.ID,
		publisher: cfg.Publisher,
		gen:       cfg.Generator,
		profiles:  make([]*generator.Profile, 0, count),
		metrics:   cfg.Metrics,
		now:       cfg.Now,
	}
	if p.now == nil {
		p.now = time.Now
	}

	for range count {
		profile, err := p.gen.NewProfile()
		if err != nil {
			return nil, fmt.Errorf("failed to generate profile: %w", err)
		}
		p.profiles = append(p.profiles, profile)
	}

	if p.metrics != nil {
		p.metrics.ProfilesGenerated.Add(float64(count))
	}

	return p, nil
}

// ID returns the producer identifier stamped on its messages.
func (p *Producer) ID() string {
	return p.id
}

// Profiles returns the simulated people owned by the producer.
func (p *Producer) Profiles() []*generator.Profile {
	return p.profiles
}

// PublishMeasurement publishes one measurement for a random profile.
func (p *Producer) PublishMeasurement(ctx context.Context) error {
	if p.metrics != nil {
		timer := prometheus.NewTimer(p.metrics.PublishDuration)
		defer timer.ObserveDuration()
	}

	profile := p.profiles[rand.IntN(len(p.profiles))] // #nosec G404 - simulation data

	data, err := mq.EncodeMeasurement(mq.MeasurementMessage{
		ProducerID: p.id,
		ProducedAt: p.now(),
		Input:      p.gen.Measurement(profile),
	})
	if err != nil {
		p.failed("encode_error")
		return err
	}

	if err := p.publisher.Push(ctx, data); err != nil {
		p.failed("push_error")
		return fmt.Errorf("failed to publish measurement: %w", err)
	}

	if p.metrics != nil {
		p.metrics.MeasurementsPublished.Inc()
	}
	return nil
}

func (p *Producer) failed(reason string) {
	if p.metrics != nil {
		p.metrics.PublishFailures.WithLabelValues(reason).Inc()
	}
}
