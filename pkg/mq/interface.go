package mq

import (
	"context"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher publishes messages to a queue.
type Publisher interface {
	// Push publishes data and blocks until the broker confirms it.
	Push(ctx context.Context, data []byte) error
	Close() error
}

// Consumer receives messages from a queue.
type Consumer interface {
	// Consume returns deliveries that must be acked or nacked.
	Consume(ctx context.Context) (<-chan amqp.Delivery, error)
	Ready() bool
	Close() error
}

var (
	_ Publisher = (*Client)(nil)
	_ Consumer  = (*Client)(nil)
)
