// Package store is the PostgreSQL accessor shared by the backend and the
// exporter. Every query goes through a bounded acquisition step so that the
// periodic collector and concurrent HTTP requests cannot starve each other.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Pool defaults.
const (
	DefaultMaxConns       = 5
	DefaultAcquireTimeout = 2 * time.Second
	DefaultIdleTimeout    = 30 * time.Second
	DefaultConnLifetime   = time.Hour

	startupPingTimeout = 10 * time.Second
)

var (
	// ErrAcquireTimeout is returned when no connection slot frees up in time.
	ErrAcquireTimeout = errors.New("timed out acquiring a database connection")
	// ErrClosed is returned by every query once Close has been called.
	ErrClosed = errors.New("store is closed")
)

// Config holds the database configuration.
type Config struct {
	Logger *slog.Logger

	// URL is a postgres:// connection string. When set it takes precedence
	// over the individual connection fields below.
	URL string

	Host     string
	User     string
	Password string
	DBName   string
	SSLMode  string
	Port     int

	// MaxConns caps both concurrent queries and open connections.
	MaxConns int
	// AcquireTimeout bounds the wait for a free connection slot.
	AcquireTimeout time.Duration
	// IdleTimeout closes connections idle for longer than this.
	IdleTimeout time.Duration
	// ConnMaxLifetime recycles connections older than this.
	ConnMaxLifetime time.Duration
}

// DSN returns the connection string handed to the driver. Dialing is bounded
// by connect_timeout, derived from AcquireTimeout unless the URL sets its own.
func (c *Config) DSN() string {
	timeout := strconv.Itoa(c.connectTimeoutSeconds())

	if c.URL != "" {
		u, err := url.Parse(c.URL)
		if err != nil {
			return c.URL
		}
		q := u.Query()
		if q.Has("connect_timeout") {
			return c.URL
		}
		q.Set("connect_timeout", timeout)
		u.RawQuery = q.Encode()
		return u.String()
	}

	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}

	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s connect_timeout=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, sslMode, timeout)
}

// connectTimeoutSeconds rounds AcquireTimeout up to whole seconds, the
// resolution libpq accepts.
func (c *Config) connectTimeoutSeconds() int {
	timeout := c.AcquireTimeout
	if timeout <= 0 {
		timeout = DefaultAcquireTimeout
	}
	return max(int(math.Ceil(timeout.Seconds())), 1)
}

// Target describes where the store connects, without credentials.
func (c *Config) Target() string {
	if c.URL == "" {
		return fmt.Sprintf("%s:%d/%s", c.Host, c.Port, c.DBName)
	}
	u, err := url.Parse(c.URL)
	if err != nil {
		return "invalid-url"
	}
	return u.Host + u.Path
}

// DatabaseName returns the name of the database the store connects to.
func (c *Config) DatabaseName() string {
	if c.URL == "" {
		return c.DBName
	}
	u, err := url.Parse(c.URL)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(u.Path, "/")
}

func (c *Config) validate() error {
	if c.URL != "" {
		if !strings.HasPrefix(c.URL, "postgres://") && !strings.HasPrefix(c.URL, "postgresql://") {
			return errors.New("database URL must use the postgres:// scheme")
		}
		return nil
	}
	if c.Host == "" {
		return errors.New("database host cannot be empty")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return errors.New("database port must be between 1 and 65535")
	}
	if c.User == "" {
		return errors.New("database user cannot be empty")
	}
	if c.DBName == "" {
		return errors.New("database name cannot be empty")
	}
	return nil
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.MaxConns <= 0 {
		out.MaxConns = DefaultMaxConns
	}
	if out.AcquireTimeout <= 0 {
		out.AcquireTimeout = DefaultAcquireTimeout
	}
	if out.IdleTimeout <= 0 {
		out.IdleTimeout = DefaultIdleTimeout
	}
	if out.ConnMaxLifetime <= 0 {
		out.ConnMaxLifetime = DefaultConnLifetime
	}
	return out
}

// PoolStats is the occupancy of the connection pool as seen by the accessor.
type PoolStats struct {
	Total   int `json:"total"`
	Idle    int `json:"idle"`
	Waiting int `json:"waiting"`
}

// Store is a pooled PostgreSQL handle.
type Store struct {
	logger         *slog.Logger
	db             *gorm.DB
	sqlDB          *sql.DB
	sem            *semaphore.Weighted
	acquireTimeout time.Duration
	waiting        atomic.Int64
	closed         atomic.Bool
}

// Open creates the pool and verifies connectivity. A failure here is fatal
// for the calling service.
func Open(ctx context.Context, cfg *Config) (*Store, error) {
	if cfg == nil {
		return nil, errors.New("database config cannot be nil")
	}

	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	c := cfg.withDefaults()

	c.Logger.Info("connecting to database",
		"target", c.Target(),
		"max_conns", c.MaxConns,
		"acquire_timeout", c.AcquireTimeout,
	)

	gormConfig := &gorm.Config{
		Logger:               logger.Default.LogMode(logger.Silent), // slog is used instead
		DisableAutomaticPing: true,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}

	db, err := gorm.Open(postgres.Open(c.DSN()), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}

	sqlDB.SetMaxOpenConns(c.MaxConns)
	sqlDB.SetMaxIdleConns(c.MaxConns)
	sqlDB.SetConnMaxIdleTime(c.IdleTimeout)
	sqlDB.SetConnMaxLifetime(c.ConnMaxLifetime)

	s := &Store{
		logger:         c.Logger,
		db:             db,
		sqlDB:          sqlDB,
		sem:            semaphore.NewWeighted(int64(c.MaxConns)),
		acquireTimeout: c.AcquireTimeout,
	}

	pingCtx, cancel := context.WithTimeout(ctx, startupPingTimeout)
	defer cancel()

	if err := sqlDB.PingContext(pingCtx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	c.Logger.Info("database connection established")
	return s, nil
}

// Migrate creates or updates the measurements table.
func (s *Store) Migrate(ctx context.Context) error {
	s.logger.Info("running database migrations")

	err := s.Do(ctx, func(db *gorm.DB) error {
		return db.AutoMigrate(&Measurement{})
	})
	if err != nil {
		return fmt.Errorf("auto-migration failed: %w", err)
	}

	s.logger.Info("database migrations completed successfully")
	return nil
}

// Do runs fn with a context-bound handle once a connection slot is free.
func (s *Store) Do(ctx context.Context, fn func(db *gorm.DB) error) error {
	release, err := s.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	return fn(s.db.WithContext(ctx))
}

func (s *Store) acquire(ctx context.Context) (func(), error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	if !s.sem.TryAcquire(1) {
		s.waiting.Add(1)
		actx, cancel := context.WithTimeout(ctx, s.acquireTimeout)
		err := s.sem.Acquire(actx, 1)
		cancel()
		s.waiting.Add(-1)

		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, fmt.Errorf("%w after %s", ErrAcquireTimeout, s.acquireTimeout)
		}
	}

	return func() { s.sem.Release(1) }, nil
}

// Ping issues a trivial liveness query.
func (s *Store) Ping(ctx context.Context) error {
	return s.Do(ctx, func(db *gorm.DB) error {
		return db.Exec("SELECT 1").Error
	})
}

// Version returns the server version string.
func (s *Store) Version(ctx context.Context) (string, error) {
	var version string
	err := s.Do(ctx, func(db *gorm.DB) error {
		return db.Raw("SELECT version()").Row().Scan(&version)
	})
	if err != nil {
		return "", fmt.Errorf("failed to read server version: %w", err)
	}
	return version, nil
}

// PoolStats reads pool occupancy from the accessor, not the database.
func (s *Store) PoolStats() PoolStats {
	st := s.sqlDB.Stats()
	return PoolStats{
		Total:   st.OpenConnections,
		Idle:    st.Idle,
		Waiting: int(s.waiting.Load()),
	}
}

// SQLDB exposes the underlying pool for the database/sql stats collector.
func (s *Store) SQLDB() *sql.DB {
	return s.sqlDB
}

// Close stops new queries and closes the pool once in-flight ones finish.
func (s *Store) Close() error {
	if s == nil || !s.closed.CompareAndSwap(false, true) {
		return nil
	}

	s.logger.Info("closing database connection")
	if err := s.sqlDB.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	s.logger.Info("database connection closed")
	return nil
}
