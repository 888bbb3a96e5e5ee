package exporter

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

	"github.com/prometheus/client_golang/prometheus/collectors"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"procodus.dev/bmi-tracker/internal/store"
	"procodus.dev/bmi-tracker/pkg/logger"
	"procodus.dev/bmi-tracker/pkg/metrics"
)

// Server represents the metrics exporter: database pool, collection loop,
// HTTP surface and optional gRPC health service.
type Server struct {
	logger     *slog.Logger
	config     *ServerConfig
	store      *store.Store
	httpServer *http.Server
	grpcServer *grpc.Server
	health     *healthReporter

	stopCollector context.CancelFunc
	collectorDone chan struct{}
}

// ServerConfig holds the configuration for the Server.
type ServerConfig struct {
	Logger *slog.Logger

	// Database configuration
	Store *store.Config

	// HTTP server configuration
	HTTPPort int

	// GRPCPort serves grpc.health.v1 when positive; zero disables it.
	GRPCPort int

	// Interval between collection cycles
	Interval time.Duration

	// Version reported by /status
	Version string
}

// NewServer creates a new exporter Server instance.
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

	if cfg.GRPCPort < 0 || cfg.GRPCPort > 65535 {
		return nil, errors.New("gRPC port must be between 0 and 65535")
	}

	if cfg.Interval < 0 {
		return nil, errors.New("collection interval cannot be negative")
	}

	return &Server{
		logger: cfg.Logger,
		config: cfg,
	}, nil
}

// Run starts the exporter and blocks until shutdown.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting metrics exporter")
	startedAt := time.Now()

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

	registry, err := s.buildRegistry()
	if err != nil {
		_ = s.Shutdown()
		return err
	}

	collectorCfg := &CollectorConfig{
		Logger:   logger.ForComponent(s.logger, "collector"),
		Source:   st,
		Registry: registry,
		Interval: s.config.Interval,
	}
	if s.config.GRPCPort > 0 {
		s.health = newHealthReporter()
		collectorCfg.OnCycle = s.health.observe
	}

	collector, err := NewCollector(collectorCfg)
	if err != nil {
		_ = s.Shutdown()
		return fmt.Errorf("failed to initialize collector: %w", err)
	}

	handler, err := NewHandler(&HandlerConfig{
		Logger:    logger.ForComponent(s.logger, "http"),
		Store:     st,
		Registry:  registry,
		Interval:  collector.Interval(),
		Version:   s.config.Version,
		StartedAt: startedAt,
	})
	if err != nil {
		_ = s.Shutdown()
		return fmt.Errorf("failed to initialize handlers: %w", err)
	}

	httpAddr := fmt.Sprintf(":%d", s.config.HTTPPort)
	httpLis, err := net.Listen("tcp", httpAddr)
	if err != nil {
		_ = s.Shutdown()
		return fmt.Errorf("failed to listen on %s: %w", httpAddr, err)
	}

	s.httpServer = &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serveErr := make(chan error, 2)

	if s.config.GRPCPort > 0 {
		grpcAddr := fmt.Sprintf(":%d", s.config.GRPCPort)
		grpcLis, err := net.Listen("tcp", grpcAddr)
		if err != nil {
			_ = httpLis.Close()
			_ = s.Shutdown()
			return fmt.Errorf("failed to listen on %s: %w", grpcAddr, err)
		}

		s.grpcServer = grpc.NewServer()
		healthpb.RegisterHealthServer(s.grpcServer, s.health.server)

		s.logger.Info("starting gRPC health server", "address", grpcAddr)
		go func() {
			if err := s.grpcServer.Serve(grpcLis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				serveErr <- fmt.Errorf("gRPC server error: %w", err)
			}
		}()
	}

	s.logger.Info("starting HTTP server", "address", httpAddr)
	go func() {
		if err := s.httpServer.Serve(httpLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	collectCtx, stopCollector := context.WithCancel(ctx)
	s.stopCollector = stopCollector
	s.collectorDone = make(chan struct{})
	go func() {
		defer close(s.collectorDone)
		collector.Run(collectCtx)
	}()

	s.logger.Info("metrics exporter started successfully",
		"database", storeCfg.Target(),
		"interval", collector.Interval(),
	)

	select {
	case sig := <-sigChan:
		s.logger.Info("received shutdown signal", "signal", sig.String())
		cancel()
	case <-ctx.Done():
		s.logger.Info("context canceled")
	case err := <-serveErr:
		s.logger.Error("server error", "error", err)
		cancel()
		if shutdownErr := s.Shutdown(); shutdownErr != nil {
			return fmt.Errorf("%w; %w", err, shutdownErr)
		}
		return err
	}

	return s.Shutdown()
}

func (s *Server) buildRegistry() (*metrics.Registry, error) {
	registry := metrics.NewRegistry()

	if err := metrics.RegisterExporterInstruments(registry); err != nil {
		return nil, fmt.Errorf("failed to register exporter instruments: %w", err)
	}

	if err := registry.RegisterRuntimeCollectors(metrics.RuntimePrefix); err != nil {
		return nil, fmt.Errorf("failed to register runtime collectors: %w", err)
	}

	dbName := s.config.Store.DatabaseName()
	if dbName == "" {
		dbName = "bmidb"
	}
	if err := registry.RegisterCollector(collectors.NewDBStatsCollector(s.store.SQLDB(), dbName)); err != nil {
		return nil, fmt.Errorf("failed to register database stats collector: %w", err)
	}

	return registry, nil
}

// Shutdown stops the collection loop, the servers and closes the pool,
// in that order.
func (s *Server) Shutdown() error {
	s.logger.Info("shutting down metrics exporter")

	var shutdownErr error

	if s.stopCollector != nil {
		s.logger.Info("stopping collection loop")
		s.stopCollector()
		<-s.collectorDone
		s.stopCollector = nil
	}

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

	if s.health != nil {
		s.health.shutdown()
	}

	if s.grpcServer != nil {
		s.logger.Info("stopping gRPC server")
		s.grpcServer.GracefulStop()
		s.grpcServer = nil
	}

	if s.store != nil {
		s.logger.Info("closing database pool")
		if err := s.store.Close(); err != nil {
			s.logger.Error("failed to close database", "error", err)
			if shutdownErr != nil {
				shutdownErr = fmt.Errorf("%w; database close error: %w", shutdownErr, err)
			} else {
				shutdownErr = fmt.Errorf("database close error: %w", err)
			}
		}
		s.store = nil
	}

	if shutdownErr != nil {
		s.logger.Error("metrics exporter shutdown completed with errors", "error", shutdownErr)
		return shutdownErr
	}

	s.logger.Info("metrics exporter shutdown completed successfully")
	return nil
}
