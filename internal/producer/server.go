package producer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"procodus.dev/bmi-tracker/pkg/generator"
	"procodus.dev/bmi-tracker/pkg/metrics"
	"procodus.dev/bmi-tracker/pkg/mq"
)

// ServerConfig holds the configuration for the producer server.
type ServerConfig struct {
	// Logger is the structured logger
	Logger *slog.Logger
	// RabbitMQURL is the connection string for RabbitMQ
	RabbitMQURL string
	// QueueName is the queue measurements are published to
	QueueName string
	// Interval is the time between two measurements of one producer
	Interval time.Duration
	// ProducerCount is the number of concurrent producers
	ProducerCount int
	// ProfilesPerProducer is the number of simulated people per producer; zero picks 1 to 5
	ProfilesPerProducer int
	// Seed makes generated data reproducible; zero picks a random seed
	Seed uint64
	// Metrics is the optional Prometheus metrics collector
	Metrics *metrics.ProducerMetrics
	// MQMetrics is the optional Prometheus metrics collector for MQ operations
	MQMetrics *metrics.MQMetrics
	// NewPublisher overrides the RabbitMQ client, mainly for tests
	NewPublisher func(id int) (mq.Publisher, error)
}

// Server runs a set of producers until shutdown.
type Server struct {
	logger     *slog.Logger
	config     *ServerConfig
	producers  []*Producer
	publishers []mq.Publisher
	wg         sync.WaitGroup
	metrics    *metrics.ProducerMetrics
}

var (
	errInvalidProducerCount = errors.New("producer count must be greater than 0")
	errInvalidInterval      = errors.New("interval must be greater than 0")
	errLoggerRequired       = errors.New("logger is required")
	errQueueRequired        = errors.New("queue name cannot be empty")
	errURLRequired          = errors.New("rabbitmq URL cannot be empty")
)

// NewServer validates the configuration. Connections are opened by Run.
func NewServer(cfg *ServerConfig) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("server config cannot be nil")
	}

	if cfg.ProducerCount <= 0 {
		return nil, errInvalidProducerCount
	}

	if cfg.Interval <= 0 {
		return nil, errInvalidInterval
	}

	if cfg.Logger == nil {
		return nil, errLoggerRequired
	}

	if cfg.QueueName == "" {
		return nil, errQueueRequired
	}

	if cfg.RabbitMQURL == "" && cfg.NewPublisher == nil {
		return nil, errURLRequired
	}

	return &Server{
		config:  cfg,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
	}, nil
}

func (s *Server) newPublisher(id int) (mq.Publisher, error) {
	if s.config.NewPublisher != nil {
		return s.config.NewPublisher(id)
	}
	return mq.NewClient(&mq.Config{
		Logger: s.logger.With(
			slog.String("component", "mq-client"),
			slog.Int("producer_id", id),
		),
		URL:         s.config.RabbitMQURL,
		Queue:       s.config.QueueName,
		Durable:     true,
		ContentType: mq.MeasurementContentType,
		Metrics:     s.config.MQMetrics,
	})
}

func (s *Server) setup() error {
	gen := generator.New(s.config.Seed)

	for i := range s.config.ProducerCount {
		pub, err := s.newPublisher(i)
		if err != nil {
			return fmt.Errorf("failed to create publisher %d: %w", i, err)
		}
		s.publishers = append(s.publishers, pub)

		producer, err := NewProducer(&ProducerConfig{
			ID:           fmt.Sprintf("producer-%d", i),
			Publisher:    pub,
			Generator:    gen,
			ProfileCount: s.config.ProfilesPerProducer,
			Metrics:      s.metrics,
		})
		if err != nil {
			return fmt.Errorf("failed to create producer %d: %w", i, err)
		}
		s.producers = append(s.producers, producer)

		s.logger.Info("created producer instance",
			"producer_id", producer.ID(),
			"queue", s.config.QueueName,
			"profile_count", len(producer.Profiles()),
		)
	}
	return nil
}

// Run starts all producers and blocks until a shutdown signal or ctx is done.
func (s *Server) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigChan)

	if err := s.setup(); err != nil {
		s.closePublishers()
		return err
	}

	for _, producer := range s.producers {
		s.wg.Add(1)
		go s.runProducer(ctx, producer)
	}

	s.logger.Info("producer server started",
		"producer_count", len(s.producers),
		"interval", s.config.Interval,
	)

	select {
	case sig := <-sigChan:
		s.logger.Info("received shutdown signal", "signal", sig.String())
		cancel()
	case <-ctx.Done():
		s.logger.Info("context canceled, shutting down")
	}

	s.logger.Info("waiting for producers to shut down")
	s.wg.Wait()

	s.closePublishers()

	s.logger.Info("producer server stopped")
	return nil
}

// runProducer publishes one measurement per interval until ctx is done.
func (s *Server) runProducer(ctx context.Context, producer *Producer) {
	defer s.wg.Done()

	if s.metrics != nil {
		s.metrics.ActiveProducers.Inc()
		defer s.metrics.ActiveProducers.Dec()
	}

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	log := s.logger.With(slog.String("producer_id", producer.ID()))
	log.Info("producer started")

	for {
		select {
		case <-ctx.Done():
			log.Info("producer shutting down")
			return

		case <-ticker.C:
			if err := producer.PublishMeasurement(ctx); err != nil {
				if ctx.Err() != nil {
					return
				}
				log.Error("failed to publish measurement", "error", err)
				continue
			}
			log.Debug("measurement published")
		}
	}
}

func (s *Server) closePublishers() {
	var wg sync.WaitGroup
	for i, pub := range s.publishers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := pub.Close(); err != nil {
				s.logger.Error("failed to close MQ client", "producer_id", i, "error", err)
				return
			}
			s.logger.Info("MQ client closed", "producer_id", i)
		}()
	}
	wg.Wait()
	s.publishers = nil
}
