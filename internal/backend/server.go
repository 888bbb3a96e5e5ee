package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"procodus.dev/bmi-tracker/internal/store"
	"procodus.dev/bmi-tracker/pkg/logger"
	"procodus.dev/bmi-tracker/pkg/metrics"
	"procodus.dev/bmi-tracker/pkg/mq"
)

// Server represents the backend: database, HTTP API and optional consumer.
type Server struct {
	logger     *slog.Logger
	config     *ServerConfig
	store      *store.Store
	consumer   *Consumer
	httpServer *http.Server
}

// ServerConfig holds the configuration for the Server.
type ServerConfig struct {
	Logger *slog.Logger

	// Database configuration
	Store *store.Config

	// HTTP configuration
	HTTPPort    int
	Environment string
	FrontendURL string
	StaticDir   string

	// RabbitMQ configuration; the consumer is disabled when RabbitMQURL is empty
	RabbitMQURL string
	QueueName   string
}

// NewServer creates a new Server instance.
func NewServer(cfg *ServerConfig) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("server config cannot be nil")
	}

	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	if cfg.Store == nil {
		return nil, errors.New("database config cannot be nil")
	}

	if cfg.HTTPPort <= 0 || cfg.HTTPPort > 65535 {
		return nil, errors.New("HTTP port must be between 1 and 65535")
	}

	if cfg.RabbitMQURL != "" && cfg.QueueName == "" {
		return nil, errors.New("queue name cannot be empty")
	}

	return &Server{
		logger: cfg.Logger,
		config: cfg,
	}, nil
}

// Run starts the backend and blocks until shutdown.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting backend server", "environment", s.config.Environment)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigChan)

	storeCfg := *s.config.Store
	if storeCfg.Logger == nil {
		storeCfg.Logger = logger.ForComponent(s.logger, "store")
	}

	st, err := store.Open(ctx, &storeCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	s.store = st

	if err := st.Migrate(ctx); err != nil {
		_ = s.Shutdown()
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	s.logger.Info("database initialized successfully", "database", storeCfg.Target())

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewDBStatsCollector(st.SQLDB(), storeCfg.DatabaseName()),
	)
	backendMetrics := metrics.NewBackendMetrics("bmi_backend", reg)

	service, err := NewService(st, backendMetrics)
	if err != nil {
		_ = s.Shutdown()
		return fmt.Errorf("failed to initialize service: %w", err)
	}

	if s.config.RabbitMQURL != "" {
		if err := s.startConsumer(ctx, service, backendMetrics, reg); err != nil {
			_ = s.Shutdown()
			return err
		}
	}

	handler, err := NewAPI(&APIConfig{
		Logger:         logger.ForComponent(s.logger, "http"),
		Service:        service,
		Environment:    s.config.Environment,
		FrontendURL:    s.config.FrontendURL,
		StaticDir:      s.config.StaticDir,
		Metrics:        backendMetrics,
		MetricsHandler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
	})
	if err != nil {
		_ = s.Shutdown()
		return fmt.Errorf("failed to initialize API: %w", err)
	}

	addr := fmt.Sprintf(":%d", s.config.HTTPPort)
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		_ = s.Shutdown()
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s.httpServer = &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	httpErr := make(chan error, 1)
	go func() {
		if err := s.httpServer.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			httpErr <- fmt.Errorf("HTTP server error: %w", err)
		}
		close(httpErr)
	}()

	s.logger.Info("backend server started successfully", "address", addr)

	select {
	case sig := <-sigChan:
		s.logger.Info("received shutdown signal", "signal", sig.String())
		cancel()
	case <-ctx.Done():
		s.logger.Info("context canceled")
	case err := <-httpErr:
		if err != nil {
			s.logger.Error("HTTP server error", "error", err)
			cancel()
			_ = s.Shutdown()
			return err
		}
	}

	return s.Shutdown()
}

func (s *Server) startConsumer(ctx context.Context, service *Service, m *metrics.BackendMetrics, reg prometheus.Registerer) error {
	client, err := mq.NewClient(&mq.Config{
		Logger:      logger.ForComponent(s.logger, "mq-client"),
		URL:         s.config.RabbitMQURL,
		Queue:       s.config.QueueName,
		Durable:     true,
		ContentType: mq.MeasurementContentType,
		Metrics:     metrics.NewMQMetrics("bmi_backend", reg),
	})
	if err != nil {
		return fmt.Errorf("failed to initialize mq client: %w", err)
	}

	consumer, err := NewConsumer(&ConsumerConfig{
		Logger:  logger.ForComponent(s.logger, "consumer"),
		Service: service,
		Client:  client,
		Metrics: m,
	})
	if err != nil {
		_ = client.Close()
		return fmt.Errorf("failed to initialize consumer: %w", err)
	}

	consumer.Start(ctx)
	s.consumer = consumer
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown() error {
	s.logger.Info("shutting down backend server")

	var shutdownErr error

	if s.httpServer != nil {
		s.logger.Info("stopping HTTP server")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.logger.Error("failed to shutdown HTTP server", "error", err)
			shutdownErr = fmt.Errorf("HTTP server shutdown error: %w", err)
		}
		s.httpServer = nil
	}

	if s.consumer != nil {
		if err := s.consumer.Stop(); err != nil {
			s.logger.Error("failed to stop consumer", "error", err)
			shutdownErr = errors.Join(shutdownErr, fmt.Errorf("consumer shutdown error: %w", err))
		}
		s.consumer = nil
	}

	if s.store != nil {
		s.logger.Info("closing database connection")
		if err := s.store.Close(); err != nil {
			s.logger.Error("failed to close database", "error", err)
			shutdownErr = errors.Join(shutdownErr, fmt.Errorf("database close error: %w", err))
		}
		s.store = nil
	}

	if shutdownErr != nil {
		s.logger.Error("backend server shutdown completed with errors", "error", shutdownErr)
		return shutdownErr
	}

	s.logger.Info("backend server shutdown completed successfully")
	return nil
}
