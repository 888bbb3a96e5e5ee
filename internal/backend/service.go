// Package backend implements the measurement API and the queue consumer
// that feed the measurements table.
package backend

import (
	"context"
	"errors"
	"fmt"
	"time"

	"procodus.dev/bmi-tracker/internal/store"
	"procodus.dev/bmi-tracker/pkg/bmi"
	"procodus.dev/bmi-tracker/pkg/metrics"
)

// MeasurementStore is the persistence used by the backend.
type MeasurementStore interface {
	CreateMeasurement(ctx context.Context, m *store.Measurement) error
	ListMeasurements(ctx context.Context, limit int) ([]store.Measurement, error)
	DailyTrends(ctx context.Context, days int) ([]store.TrendPoint, error)
	Ping(ctx context.Context) error
}

// ValidationError reports input rejected before reaching the database.
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string {
	return e.Err.Error()
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// Service computes derived values and persists measurements.
type Service struct {
	store   MeasurementStore
	metrics *metrics.BackendMetrics
}

// NewService creates a Service. m may be nil.
func NewService(st MeasurementStore, m *metrics.BackendMetrics) (*Service, error) {
	if st == nil {
		return nil, errors.New("store cannot be nil")
	}
	return &Service{store: st, metrics: m}, nil
}

// Record validates in, computes BMI, BMR and calories and stores the result.
func (s *Service) Record(ctx context.Context, in bmi.Input) (*store.Measurement, error) {
	in.Normalize()
	res, err := bmi.Compute(in)
	if err != nil {
		return nil, &ValidationError{Err: err}
	}

	m := store.NewMeasurement(in, res)
	err = s.observe("insert", func() error {
		return s.store.CreateMeasurement(ctx, m)
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

// Recent returns the newest measurements.
func (s *Service) Recent(ctx context.Context, limit int) ([]store.Measurement, error) {
	var out []store.Measurement
	err := s.observe("list", func() error {
		var err error
		out, err = s.store.ListMeasurements(ctx, limit)
		return err
	})
	return out, err
}

// Trends returns daily average BMI over the trailing days.
func (s *Service) Trends(ctx context.Context, days int) ([]store.TrendPoint, error) {
	var out []store.TrendPoint
	err := s.observe("trends", func() error {
		var err error
		out, err = s.store.DailyTrends(ctx, days)
		return err
	})
	return out, err
}

func (s *Service) observe(op string, fn func() error) error {
	start := time.Now()
	err := fn()
	if s.metrics != nil {
		status := "success"
		if err != nil {
			status = "error"
		}
		s.metrics.DBOperationsTotal.WithLabelValues(op, status).Inc()
		s.metrics.DBOperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
