package store

import (
	"context"
	"fmt"

	"gorm.io/gorm"
)

// CreateMeasurement inserts m and fills its ID and CreatedAt.
func (s *Store) CreateMeasurement(ctx context.Context, m *Measurement) error {
	err := s.Do(ctx, func(db *gorm.DB) error {
		return db.Create(m).Error
	})
	if err != nil {
		return fmt.Errorf("failed to create measurement: %w", err)
	}
	return nil
}

// ListMeasurements returns up to limit measurements, newest first.
func (s *Store) ListMeasurements(ctx context.Context, limit int) ([]Measurement, error) {
	var out []Measurement
	err := s.Do(ctx, func(db *gorm.DB) error {
		return db.Order("created_at DESC").Order("id DESC").Limit(limit).Find(&out).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list measurements: %w", err)
	}
	return out, nil
}

// DailyTrends returns the average BMI per day over the trailing days.
func (s *Store) DailyTrends(ctx context.Context, days int) ([]TrendPoint, error) {
	var out []TrendPoint
	err := s.Do(ctx, func(db *gorm.DB) error {
		return db.Raw(`SELECT date_trunc('day', created_at) AS day,
       AVG(bmi)::float8 AS average_bmi,
       COUNT(*) AS count
  FROM measurements
 WHERE created_at > NOW() - make_interval(days => ?)
 GROUP BY 1
 ORDER BY 1`, days).Scan(&out).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to compute daily trends: %w", err)
	}
	return out, nil
}
