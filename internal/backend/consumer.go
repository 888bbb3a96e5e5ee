package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"procodus.dev/bmi-tracker/pkg/metrics"
	"procodus.dev/bmi-tracker/pkg/mq"
)

// Consumer ingests measurement messages from RabbitMQ. Malformed or invalid
// messages are acked and dropped; storage failures are requeued.
type Consumer struct {
	logger    *slog.Logger
	service   *Service
	client    mq.Consumer
	metrics   *metrics.BackendMetrics
	readyPoll time.Duration

	wg   sync.WaitGroup
	stop context.CancelFunc
}

// ConsumerConfig holds the configuration for the Consumer.
type ConsumerConfig struct {
	Logger  *slog.Logger
	Service *Service
	Client  mq.Consumer

	// Metrics is optional.
	Metrics *metrics.BackendMetrics
	// ReadyPoll is how often Start checks whether the client connected.
	ReadyPoll time.Duration
}

// NewConsumer creates a new Consumer instance.
func NewConsumer(cfg *ConsumerConfig) (*Consumer, error) {
	if cfg == nil {
		return nil, errors.New("consumer config cannot be nil")
	}

	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	if cfg.Service == nil {
		return nil, errors.New("service cannot be nil")
	}

	if cfg.Client == nil {
		return nil, errors.New("mq client cannot be nil")
	}

	poll := cfg.ReadyPoll
	if poll <= 0 {
		poll = 250 * time.Millisecond
	}

	return &Consumer{
		logger:    cfg.Logger,
		service:   cfg.Service,
		client:    cfg.Client,
		metrics:   cfg.Metrics,
		readyPoll: poll,
	}, nil
}

// Start runs the consume loop in the background. It keeps resubscribing
// whenever the delivery channel closes, until ctx is done or Stop is called.
func (c *Consumer) Start(ctx context.Context) {
	ctx, c.stop = context.WithCancel(ctx)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.loop(ctx)
	}()
}

func (c *Consumer) loop(ctx context.Context) {
	c.logger.Info("starting consumer")

	for {
		deliveries, err := c.subscribe(ctx)
		if err != nil {
			c.logger.Info("consumer stopped", "reason", err)
			return
		}

		c.logger.Info("consumer subscribed, waiting for messages")
		if !c.drain(ctx, deliveries) {
			return
		}
		c.logger.Warn("deliveries channel closed, resubscribing")
	}
}

// subscribe waits until the client is connected and starts consuming.
func (c *Consumer) subscribe(ctx context.Context) (<-chan amqp.Delivery, error) {
	ticker := time.NewTicker(c.readyPoll)
	defer ticker.Stop()

	for {
		if c.client.Ready() {
			deliveries, err := c.client.Consume(ctx)
			if err == nil {
				return deliveries, nil
			}
			c.logger.Warn("failed to start consuming, retrying", "error", err)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// drain handles deliveries until the channel closes (true) or ctx is done
// (false).
func (c *Consumer) drain(ctx context.Context, deliveries <-chan amqp.Delivery) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case d, ok := <-deliveries:
			if !ok {
				return true
			}
			c.handleDelivery(ctx, d)
		}
	}
}

func (c *Consumer) handleDelivery(ctx context.Context, d amqp.Delivery) {
	start := time.Now()
	status := c.process(ctx, d)

	if c.metrics != nil {
		c.metrics.ConsumerMessagesTotal.WithLabelValues(status).Inc()
		c.metrics.ProcessingDuration.Observe(time.Since(start).Seconds())
	}
}

// process stores one delivery and returns its outcome label.
func (c *Consumer) process(ctx context.Context, d amqp.Delivery) string {
	msg, err := mq.DecodeMeasurement(d.Body)
	if err != nil {
		c.logger.Error("dropping malformed message", "error", err, "delivery_tag", d.DeliveryTag)
		c.consumerError("decode")
		c.ack(d)
		return "malformed"
	}

	m, err := c.service.Record(ctx, msg.Input)
	if err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			c.logger.Warn("dropping invalid measurement",
				"error", err,
				"producer_id", msg.ProducerID,
			)
			c.consumerError("validation")
			c.ack(d)
			return "malformed"
		}

		c.logger.Error("failed to store measurement, requeueing",
			"error", err,
			"producer_id", msg.ProducerID,
		)
		c.consumerError("database")
		if nackErr := d.Nack(false, true); nackErr != nil {
			c.logger.Error("failed to nack message", "error", nackErr)
		}
		return "error"
	}

	c.ack(d)
	c.logger.Debug("measurement stored",
		"id", m.ID,
		"producer_id", msg.ProducerID,
		"bmi", m.BMI,
	)
	return "success"
}

func (c *Consumer) ack(d amqp.Delivery) {
	if err := d.Ack(false); err != nil {
		c.logger.Error("failed to ack message", "error", err)
	}
}

func (c *Consumer) consumerError(kind string) {
	if c.metrics != nil {
		c.metrics.ConsumerErrors.WithLabelValues(kind).Inc()
	}
}

// Stop ends the consume loop, waits for the in-flight message and closes
// the MQ client.
func (c *Consumer) Stop() error {
	c.logger.Info("stopping consumer")

	if c.stop != nil {
		c.stop()
	}
	c.wg.Wait()

	if err := c.client.Close(); err != nil && !errors.Is(err, mq.ErrAlreadyClosed) {
		return fmt.Errorf("failed to close mq client: %w", err)
	}

	c.logger.Info("consumer stopped")
	return nil
}
