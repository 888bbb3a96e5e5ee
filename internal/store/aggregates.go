package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// Column names a measurements column that aggregates may run on.
type Column string

// Aggregatable columns.
const (
	ColumnBMI           Column = "bmi"
	ColumnAge           Column = "age"
	ColumnDailyCalories Column = "daily_calories"
	ColumnBMICategory   Column = "bmi_category"
	ColumnActivityLevel Column = "activity_level"
	ColumnSex           Column = "sex"
)

// ErrUnsupportedColumn guards the column names interpolated into SQL.
var ErrUnsupportedColumn = errors.New("column not supported for this aggregate")

var (
	numericColumns = map[Column]bool{ColumnBMI: true, ColumnAge: true, ColumnDailyCalories: true}
	groupColumns   = map[Column]bool{ColumnBMICategory: true, ColumnActivityLevel: true, ColumnSex: true}
)

// GroupCount is one row of a grouped count. Label is invalid for NULL keys.
type GroupCount struct {
	Label sql.NullString `gorm:"column:label"`
	Count int64          `gorm:"column:count"`
}

// CountMeasurements returns the total row count.
func (s *Store) CountMeasurements(ctx context.Context) (int64, error) {
	var n int64
	err := s.Do(ctx, func(db *gorm.DB) error {
		return db.Model(&Measurement{}).Count(&n).Error
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count measurements: %w", err)
	}
	return n, nil
}

// CountMeasurementsSince counts rows created within the trailing window,
// measured against the database clock.
func (s *Store) CountMeasurementsSince(ctx context.Context, window time.Duration) (int64, error) {
	var n int64
	err := s.Do(ctx, func(db *gorm.DB) error {
		return db.Model(&Measurement{}).
			Where("created_at > NOW() - make_interval(secs => ?)", window.Seconds()).
			Count(&n).Error
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count measurements in last %s: %w", window, err)
	}
	return n, nil
}

// Average returns AVG(column). ok is false when the table is empty or every
// value is NULL.
func (s *Store) Average(ctx context.Context, col Column) (avg float64, ok bool, err error) {
	if !numericColumns[col] {
		return 0, false, fmt.Errorf("%w: %s", ErrUnsupportedColumn, col)
	}

	var v sql.NullFloat64
	err = s.Do(ctx, func(db *gorm.DB) error {
		return db.Model(&Measurement{}).
			Select(fmt.Sprintf("AVG(%s)::float8", col)).
			Row().
			Scan(&v)
	})
	if err != nil {
		return 0, false, fmt.Errorf("failed to average %s: %w", col, err)
	}
	return v.Float64, v.Valid, nil
}

// CountBy returns row counts grouped by a categorical column.
func (s *Store) CountBy(ctx context.Context, col Column) ([]GroupCount, error) {
	if !groupColumns[col] {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedColumn, col)
	}

	var rows []GroupCount
	err := s.Do(ctx, func(db *gorm.DB) error {
		return db.Model(&Measurement{}).
			Select(fmt.Sprintf("%s AS label, COUNT(*) AS count", col)).
			Group(string(col)).
			Order(string(col)).
			Scan(&rows).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to count measurements by %s: %w", col, err)
	}
	return rows, nil
}

// DatabaseSize returns the size of the current database in bytes.
func (s *Store) DatabaseSize(ctx context.Context) (int64, error) {
	var size int64
	err := s.Do(ctx, func(db *gorm.DB) error {
		return db.Raw("SELECT pg_database_size(current_database())").Row().Scan(&size)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to read database size: %w", err)
	}
	return size, nil
}

// TableSize returns the total size of the measurements table, indexes
// included, in bytes.
func (s *Store) TableSize(ctx context.Context) (int64, error) {
	var size int64
	err := s.Do(ctx, func(db *gorm.DB) error {
		return db.Raw("SELECT pg_total_relation_size(?::regclass)", Measurement{}.TableName()).Row().Scan(&size)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to read table size: %w", err)
	}
	return size, nil
}
