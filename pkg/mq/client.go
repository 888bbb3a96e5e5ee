// Package mq provides a RabbitMQ client with automatic reconnection,
// confirmed publishing and manual-ack consumption.
package mq

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	amqp "github.com/rabbitmq/amqp091-go"

	"procodus.dev/bmi-tracker/pkg/metrics"
)

// Defaults applied by NewClient.
const (
	DefaultReconnectDelay = 5 * time.Second
	DefaultReInitDelay    = 2 * time.Second
	DefaultPrefetch       = 1
)

var (
	// ErrNotConnected is returned when the channel is not ready.
	ErrNotConnected = errors.New("not connected to a server")
	// ErrAlreadyClosed is returned by a second Close.
	ErrAlreadyClosed = errors.New("client already closed")
	// ErrShutdown is returned by calls interrupted by Close.
	ErrShutdown = errors.New("client is shutting down")
	// ErrMaxRetriesExceeded is returned when Push runs out of attempts.
	ErrMaxRetriesExceeded = errors.New("maximum retry attempts exceeded")
	// ErrNacked is returned by a publish the broker refused.
	ErrNacked = errors.New("publish not acknowledged by broker")
)

// RetryPolicy is the exponential back-off used by Push.
type RetryPolicy struct {
	Initial     time.Duration
	Max         time.Duration
	Multiplier  float64
	MaxAttempts int
}

// DefaultRetryPolicy waits 100ms, 200ms, ... up to 10s, five times.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Initial:     100 * time.Millisecond,
		Max:         10 * time.Second,
		Multiplier:  2,
		MaxAttempts: 5,
	}
}

func (p RetryPolicy) next(d time.Duration) time.Duration {
	d = time.Duration(float64(d) * p.Multiplier)
	if d > p.Max {
		return p.Max
	}
	return d
}

// Config holds the configuration for a Client.
type Config struct {
	Logger *slog.Logger
	URL    string
	Queue  string

	// Durable declares the queue durable and publishes persistent messages.
	Durable bool
	// ContentType is stamped on every published message.
	ContentType string
	// Prefetch bounds unacknowledged deliveries per consumer.
	Prefetch int

	ReconnectDelay time.Duration
	ReInitDelay    time.Duration
	Retry          RetryPolicy

	// Metrics is optional.
	Metrics *metrics.MQMetrics
}

// Client is a RabbitMQ client bound to a single queue.
type Client struct {
	mu      sync.Mutex
	logger  *slog.Logger
	cfg     Config
	metrics *metrics.MQMetrics

	connection      *amqp.Connection
	channel         *amqp.Channel
	notifyConnClose chan *amqp.Error
	notifyChanClose chan *amqp.Error
	notifyConfirm   chan amqp.Confirmation

	ready  bool
	closed bool
	done   chan struct{}
}

// NewClient validates cfg and starts connecting in the background.
func NewClient(cfg *Config) (*Client, error) {
	if cfg == nil {
		return nil, errors.New("mq config cannot be nil")
	}

	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	if cfg.URL == "" {
		return nil, errors.New("rabbitmq URL cannot be empty")
	}

	if cfg.Queue == "" {
		return nil, errors.New("queue name cannot be empty")
	}

	c := &Client{
		logger:  cfg.Logger.With("queue", cfg.Queue),
		cfg:     *cfg,
		metrics: cfg.Metrics,
		done:    make(chan struct{}),
	}
	if c.cfg.ContentType == "" {
		c.cfg.ContentType = "application/octet-stream"
	}
	if c.cfg.Prefetch <= 0 {
		c.cfg.Prefetch = DefaultPrefetch
	}
	if c.cfg.ReconnectDelay <= 0 {
		c.cfg.ReconnectDelay = DefaultReconnectDelay
	}
	if c.cfg.ReInitDelay <= 0 {
		c.cfg.ReInitDelay = DefaultReInitDelay
	}
	if c.cfg.Retry.MaxAttempts <= 0 {
		c.cfg.Retry = DefaultRetryPolicy()
	}

	go c.handleReconnect()
	return c, nil
}

// Queue returns the queue the client is bound to.
func (c *Client) Queue() string {
	return c.cfg.Queue
}

// Ready reports whether the channel is usable.
func (c *Client) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready
}

func (c *Client) setReady(ready bool) {
	c.mu.Lock()
	c.ready = ready
	c.mu.Unlock()
}

// handleReconnect dials until it succeeds, then hands the connection to
// handleReInit and starts over when the connection drops.
func (c *Client) handleReconnect() {
	for {
		c.setReady(false)
		c.logger.Info("connecting to rabbitmq")
		if c.metrics != nil {
			c.metrics.Reconnects.Inc()
		}

		conn, err := amqp.Dial(c.cfg.URL)
		if err != nil {
			c.logger.Error("failed to connect, retrying", "error", err, "delay", c.cfg.ReconnectDelay)
			if c.metrics != nil {
				c.metrics.Connected.Set(0)
			}

			select {
			case <-c.done:
				return
			case <-time.After(c.cfg.ReconnectDelay):
			}
			continue
		}

		c.mu.Lock()
		c.connection = conn
		c.notifyConnClose = conn.NotifyClose(make(chan *amqp.Error, 1))
		c.mu.Unlock()

		c.logger.Info("connected to rabbitmq")
		if c.metrics != nil {
			c.metrics.Connected.Set(1)
		}

		if stop := c.handleReInit(conn); stop {
			return
		}
	}
}

// handleReInit opens channels on conn until the connection closes. It
// returns true when the client is shutting down.
func (c *Client) handleReInit(conn *amqp.Connection) bool {
	for {
		c.setReady(false)

		if err := c.init(conn); err != nil {
			c.logger.Error("failed to initialize channel, retrying", "error", err)

			select {
			case <-c.done:
				return true
			case <-c.notifyConnClose:
				c.logger.Info("connection closed, reconnecting")
				return false
			case <-time.After(c.cfg.ReInitDelay):
			}
			continue
		}

		select {
		case <-c.done:
			return true
		case <-c.notifyConnClose:
			c.logger.Info("connection closed, reconnecting")
			return false
		case <-c.notifyChanClose:
			c.logger.Info("channel closed, reinitializing")
		}
	}
}

// init opens a confirm-mode channel and declares the queue.
func (c *Client) init(conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return err
	}

	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		return err
	}

	if _, err := ch.QueueDeclare(
		c.cfg.Queue,
		c.cfg.Durable, // durable
		false,         // delete when unused
		false,         // exclusive
		false,         // no-wait
		nil,           // arguments
	); err != nil {
		_ = ch.Close()
		return err
	}

	c.mu.Lock()
	c.channel = ch
	c.notifyChanClose = ch.NotifyClose(make(chan *amqp.Error, 1))
	c.notifyConfirm = ch.NotifyPublish(make(chan amqp.Confirmation, 1))
	c.ready = true
	c.mu.Unlock()

	c.logger.Info("channel ready")
	return nil
}

// Push publishes data and waits for the broker confirmation. While the
// client is disconnected, or the broker nacks, it retries with exponential
// back-off until the retry policy is exhausted or ctx is done.
func (c *Client) Push(ctx context.Context, data []byte) error {
	if c.metrics != nil {
		timer := prometheus.NewTimer(c.metrics.PublishDuration.WithLabelValues(c.cfg.Queue))
		defer timer.ObserveDuration()
	}

	policy := c.cfg.Retry
	backoff := policy.Initial

	for attempt := 0; ; attempt++ {
		if attempt >= policy.MaxAttempts {
			c.logger.Error("giving up on push", "attempts", attempt)
			c.pushFailed("max_retries_exceeded")
			return ErrMaxRetriesExceeded
		}

		err := c.publishConfirmed(ctx, data)
		switch {
		case err == nil:
			if c.metrics != nil {
				c.metrics.MeasurementsPublished.WithLabelValues(c.cfg.Queue).Inc()
			}
			if attempt > 0 {
				c.logger.Info("push confirmed after retries", "attempts", attempt+1)
			}
			return nil
		case ctx.Err() != nil:
			c.pushFailed("context_canceled")
			return ctx.Err()
		case errors.Is(err, ErrShutdown):
			return err
		}

		c.logger.Warn("push failed, backing off", "error", err, "backoff", backoff, "attempt", attempt+1)

		select {
		case <-ctx.Done():
			c.pushFailed("context_canceled")
			return ctx.Err()
		case <-c.done:
			return ErrShutdown
		case <-time.After(backoff):
			backoff = policy.next(backoff)
		}
	}
}

func (c *Client) publishConfirmed(ctx context.Context, data []byte) error {
	c.mu.Lock()
	confirms := c.notifyConfirm
	c.mu.Unlock()

	if err := c.UnsafePush(ctx, data); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrShutdown
	case confirm, ok := <-confirms:
		if !ok {
			return ErrNotConnected
		}
		if !confirm.Ack {
			if c.metrics != nil {
				c.metrics.BrokerNacks.WithLabelValues(c.cfg.Queue).Inc()
			}
			return ErrNacked
		}
		return nil
	}
}

func (c *Client) pushFailed(reason string) {
	if c.metrics != nil {
		c.metrics.PublishFailures.WithLabelValues(c.cfg.Queue, reason).Inc()
	}
}

// UnsafePush publishes without waiting for a confirmation.
func (c *Client) UnsafePush(ctx context.Context, data []byte) error {
	c.mu.Lock()
	if !c.ready {
		c.mu.Unlock()
		return ErrNotConnected
	}
	ch := c.channel
	c.mu.Unlock()

	mode := amqp.Transient
	if c.cfg.Durable {
		mode = amqp.Persistent
	}

	return ch.PublishWithContext(
		ctx,
		"",          // exchange
		c.cfg.Queue, // routing key
		false,       // mandatory
		false,       // immediate
		amqp.Publishing{
			ContentType:  c.cfg.ContentType,
			DeliveryMode: mode,
			Timestamp:    time.Now(),
			Body:         data,
		},
	)
}

// Consume starts delivering messages with manual acknowledgement. Each
// delivery must be acked or nacked by the caller.
func (c *Client) Consume(ctx context.Context) (<-chan amqp.Delivery, error) {
	c.mu.Lock()
	if !c.ready {
		c.mu.Unlock()
		return nil, ErrNotConnected
	}
	ch := c.channel
	c.mu.Unlock()

	if err := ch.Qos(c.cfg.Prefetch, 0, false); err != nil {
		return nil, err
	}

	return ch.ConsumeWithContext(
		ctx,
		c.cfg.Queue,
		"",    // consumer
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // args
	)
}

// Close stops reconnecting and closes the channel and connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrAlreadyClosed
	}
	c.closed = true
	close(c.done)

	if c.metrics != nil {
		c.metrics.Connected.Set(0)
	}

	if !c.ready {
		if c.connection != nil && !c.connection.IsClosed() {
			return c.connection.Close()
		}
		return nil
	}
	c.ready = false

	var errs []error
	if err := c.channel.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := c.connection.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
