// Package exporter polls the measurements database for aggregate facts and
// republishes them as Prometheus metrics.
package exporter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"procodus.dev/bmi-tracker/internal/store"
	"procodus.dev/bmi-tracker/pkg/metrics"
)

// DefaultInterval is the pause between two collection cycles.
const DefaultInterval = 15 * time.Second

// ErrCycleInProgress is returned when a cycle is requested while another
// one is still running.
var ErrCycleInProgress = errors.New("collection cycle already in progress")

// Source is the read side of the store used by the collection cycle.
type Source interface {
	CountMeasurements(ctx context.Context) (int64, error)
	CountMeasurementsSince(ctx context.Context, window time.Duration) (int64, error)
	Average(ctx context.Context, col store.Column) (float64, bool, error)
	CountBy(ctx context.Context, col store.Column) ([]store.GroupCount, error)
	DatabaseSize(ctx context.Context) (int64, error)
	TableSize(ctx context.Context) (int64, error)
	PoolStats() store.PoolStats
}

// Outcome describes one collection cycle. It is never persisted.
type Outcome struct {
	Started        time.Time
	Finished       time.Time
	Err            error
	ErrorType      string
	FailedStep     string
	StepsCompleted int
}

// Healthy reports whether every step of the cycle succeeded.
func (o Outcome) Healthy() bool {
	return o.Err == nil
}

// CollectorConfig holds the configuration for the Collector.
type CollectorConfig struct {
	Logger   *slog.Logger
	Source   Source
	Registry *metrics.Registry

	// Interval between cycles. Defaults to DefaultInterval.
	Interval time.Duration
	// Timeout bounds a single cycle. Defaults to Interval.
	Timeout time.Duration
	// Classify labels a failed step. Defaults to store.ClassifyError.
	Classify func(error) string
	// Now is the clock. Defaults to time.Now.
	Now func() time.Time
	// OnCycle, when set, observes every completed cycle.
	OnCycle func(Outcome)
}

type step struct {
	name string
	run  func(ctx context.Context) error
}

// Collector runs the collection cycle on a fixed interval.
type Collector struct {
	logger   *slog.Logger
	source   Source
	registry *metrics.Registry
	interval time.Duration
	timeout  time.Duration
	classify func(error) string
	now      func() time.Time
	onCycle  func(Outcome)
	steps    []step

	running       atomic.Bool
	lastSuccessMs atomic.Int64
}

// NewCollector creates a Collector writing into an already populated
// registry (see metrics.RegisterExporterInstruments).
func NewCollector(cfg *CollectorConfig) (*Collector, error) {
	if cfg == nil {
		return nil, errors.New("collector config cannot be nil")
	}

	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	if cfg.Source == nil {
		return nil, errors.New("source cannot be nil")
	}

	if cfg.Registry == nil {
		return nil, errors.New("registry cannot be nil")
	}

	c := &Collector{
		logger:   cfg.Logger,
		source:   cfg.Source,
		registry: cfg.Registry,
		interval: cfg.Interval,
		timeout:  cfg.Timeout,
		classify: cfg.Classify,
		now:      cfg.Now,
		onCycle:  cfg.OnCycle,
	}

	if c.interval <= 0 {
		c.interval = DefaultInterval
	}
	if c.timeout <= 0 {
		c.timeout = c.interval
	}
	if c.classify == nil {
		c.classify = store.ClassifyError
	}
	if c.now == nil {
		c.now = time.Now
	}

	c.steps = []step{
		{"total", c.countTotal},
		{"created_24h", c.countSince(24*time.Hour, metrics.MeasurementsCreated24h)},
		{"created_1h", c.countSince(time.Hour, metrics.MeasurementsCreated1h)},
		{"average_bmi", c.average(store.ColumnBMI, metrics.AverageBMI)},
		{"category_counts", c.countBy(store.ColumnBMICategory, metrics.CategoryCount, metrics.LabelCategory)},
		{"activity_level_counts", c.countBy(store.ColumnActivityLevel, metrics.ActivityLevelCount, metrics.LabelActivityLevel)},
		{"sex_counts", c.countBy(store.ColumnSex, metrics.GenderCount, metrics.LabelSex)},
		{"database_size", c.size(c.source.DatabaseSize, metrics.DatabaseSizeBytes)},
		{"table_size", c.size(c.source.TableSize, metrics.TableSizeBytes)},
		{"average_age", c.average(store.ColumnAge, metrics.AverageAge)},
		{"average_daily_calories", c.average(store.ColumnDailyCalories, metrics.AverageDailyCalories)},
		{"pool", c.pool},
	}

	return c, nil
}

// Interval returns the configured pause between cycles.
func (c *Collector) Interval() time.Duration {
	return c.interval
}

// Run collects once immediately and then on every tick until ctx is done.
// Ticks that fire while a cycle is still running are dropped.
func (c *Collector) Run(ctx context.Context) {
	c.logger.Info("starting metrics collection loop", "interval", c.interval)

	c.tick(ctx)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("metrics collection loop stopped")
			return
		case <-ticker.C:
			c.tick(ctx)
		}
	}
}

func (c *Collector) tick(ctx context.Context) {
	if _, err := c.Collect(ctx); errors.Is(err, ErrCycleInProgress) {
		c.logger.Warn("skipping collection tick, previous cycle still running")
	}
}

// Collect runs one full cycle. The first failing step aborts the cycle,
// increments the error counter and marks the exporter unhealthy. The
// returned error is the cycle error, or ErrCycleInProgress when another
// cycle holds the guard.
func (c *Collector) Collect(ctx context.Context) (Outcome, error) {
	if !c.running.CompareAndSwap(false, true) {
		return Outcome{}, ErrCycleInProgress
	}
	defer c.running.Store(false)

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	out := Outcome{Started: c.now()}
	c.logger.Debug("starting metrics collection")

	for _, st := range c.steps {
		if err := st.run(ctx); err != nil {
			out.Err = fmt.Errorf("%s: %w", st.name, err)
			out.FailedStep = st.name
			out.ErrorType = c.classify(err)
			if out.ErrorType == "" {
				out.ErrorType = store.ErrorTypeUnknown
			}
			break
		}
		out.StepsCompleted++
	}

	out.Finished = c.now()
	if out.Err != nil {
		c.recordFailure(out)
	} else {
		c.recordSuccess(out)
	}

	if c.onCycle != nil {
		c.onCycle(out)
	}

	return out, out.Err
}

func (c *Collector) recordFailure(out Outcome) {
	c.logger.Error("error collecting metrics",
		"step", out.FailedStep,
		"error_type", out.ErrorType,
		"error", out.Err,
	)

	if err := c.registry.Inc(metrics.CollectionErrorsTotal, prometheus.Labels{metrics.LabelErrorType: out.ErrorType}); err != nil {
		c.logger.Error("failed to record collection error", "error", err)
	}
	if err := c.registry.Set(metrics.AppHealthy, 0, nil); err != nil {
		c.logger.Error("failed to mark exporter unhealthy", "error", err)
	}
}

func (c *Collector) recordSuccess(out Outcome) {
	// Completion timestamps never move backwards, even if the wall clock does.
	ms := out.Finished.UnixMilli()
	if prev := c.lastSuccessMs.Load(); ms < prev {
		ms = prev
	}
	c.lastSuccessMs.Store(ms)

	if err := c.registry.Set(metrics.AppHealthy, 1, nil); err != nil {
		c.logger.Error("failed to mark exporter healthy", "error", err)
	}
	if err := c.registry.Set(metrics.LastSuccessfulCollectionTS, float64(ms), nil); err != nil {
		c.logger.Error("failed to record collection timestamp", "error", err)
	}

	c.logger.Info("metrics collection completed successfully",
		"steps", out.StepsCompleted,
		"duration", out.Finished.Sub(out.Started),
	)
}

// LastSuccess returns the completion time of the latest successful cycle.
func (c *Collector) LastSuccess() (time.Time, bool) {
	ms := c.lastSuccessMs.Load()
	if ms == 0 {
		return time.Time{}, false
	}
	return time.UnixMilli(ms).UTC(), true
}

func (c *Collector) countTotal(ctx context.Context) error {
	n, err := c.source.CountMeasurements(ctx)
	if err != nil {
		return err
	}
	c.logger.Debug("collected total measurements", "total", n)
	return c.registry.Set(metrics.MeasurementsTotal, float64(n), nil)
}

func (c *Collector) countSince(window time.Duration, name string) func(context.Context) error {
	return func(ctx context.Context) error {
		n, err := c.source.CountMeasurementsSince(ctx, window)
		if err != nil {
			return err
		}
		return c.registry.Set(name, float64(n), nil)
	}
}

// average leaves the gauge untouched when the aggregate is NULL.
func (c *Collector) average(col store.Column, name string) func(context.Context) error {
	return func(ctx context.Context) error {
		v, ok, err := c.source.Average(ctx, col)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		return c.registry.Set(name, v, nil)
	}
}

// countBy writes one series per distinct value; NULL and empty keys are skipped.
func (c *Collector) countBy(col store.Column, name, label string) func(context.Context) error {
	return func(ctx context.Context) error {
		rows, err := c.source.CountBy(ctx, col)
		if err != nil {
			return err
		}
		for _, row := range rows {
			if !row.Label.Valid || row.Label.String == "" {
				continue
			}
			if err := c.registry.Set(name, float64(row.Count), prometheus.Labels{label: row.Label.String}); err != nil {
				return err
			}
		}
		return nil
	}
}

func (c *Collector) size(read func(context.Context) (int64, error), name string) func(context.Context) error {
	return func(ctx context.Context) error {
		n, err := read(ctx)
		if err != nil {
			return err
		}
		return c.registry.Set(name, float64(n), nil)
	}
}

func (c *Collector) pool(context.Context) error {
	st := c.source.PoolStats()
	if err := c.registry.Set(metrics.DBPoolTotal, float64(st.Total), nil); err != nil {
		return err
	}
	if err := c.registry.Set(metrics.DBPoolIdle, float64(st.Idle), nil); err != nil {
		return err
	}
	return c.registry.Set(metrics.DBPoolWaiting, float64(st.Waiting), nil)
}
