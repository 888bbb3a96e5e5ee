// Package mock provides test doubles for the mq package interfaces.
package mock

import (
	"context"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"procodus.dev/bmi-tracker/pkg/mq"
)

// Client is an in-memory Publisher and Consumer. It records every call and
// returns the configured errors.
type Client struct {
	mu sync.Mutex

	// PushFunc overrides Push when set.
	PushFunc func(ctx context.Context, data []byte) error
	// PushError is returned by Push when PushFunc is nil.
	PushError error
	// Pushed holds the payloads of successful pushes.
	Pushed [][]byte
	// PushCalls counts Push invocations.
	PushCalls int

	// Deliveries is returned by Consume when ConsumeError is nil.
	Deliveries chan amqp.Delivery
	// ConsumeError is returned by Consume.
	ConsumeError error
	// ConsumeCalls counts Consume invocations.
	ConsumeCalls int

	// NotReady makes Ready report false.
	NotReady bool

	// CloseError is returned by Close.
	CloseError error
	// CloseCalls counts Close invocations.
	CloseCalls int
}

var (
	_ mq.Publisher = (*Client)(nil)
	_ mq.Consumer  = (*Client)(nil)
)

// NewClient returns a mock with a buffered delivery channel.
func NewClient() *Client {
	return &Client{Deliveries: make(chan amqp.Delivery, 16)}
}

// Push implements mq.Publisher.
func (c *Client) Push(ctx context.Context, data []byte) error {
	c.mu.Lock()
	c.PushCalls++
	fn := c.PushFunc
	pushErr := c.PushError
	c.mu.Unlock()

	var err error
	if fn != nil {
		err = fn(ctx, data)
	} else {
		err = pushErr
	}
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.Pushed = append(c.Pushed, append([]byte(nil), data...))
	c.mu.Unlock()
	return nil
}

// Consume implements mq.Consumer.
func (c *Client) Consume(context.Context) (<-chan amqp.Delivery, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ConsumeCalls++
	if c.ConsumeError != nil {
		return nil, c.ConsumeError
	}
	return c.Deliveries, nil
}

// Ready implements mq.Consumer.
func (c *Client) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.NotReady
}

// Close implements mq.Publisher and mq.Consumer.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CloseCalls++
	return c.CloseError
}

// PushedCount returns the number of successful pushes.
func (c *Client) PushedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.Pushed)
}

// PushedPayloads returns a copy of the successful push payloads.
func (c *Client) PushedPayloads() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.Pushed...)
}

// Acknowledger records the outcome of deliveries built by Delivery.
type Acknowledger struct {
	mu       sync.Mutex
	Acked    []uint64
	Nacked   []uint64
	Requeued []uint64
}

// Ack implements amqp.Acknowledger.
func (a *Acknowledger) Ack(tag uint64, _ bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Acked = append(a.Acked, tag)
	return nil
}

// Nack implements amqp.Acknowledger.
func (a *Acknowledger) Nack(tag uint64, _ bool, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Nacked = append(a.Nacked, tag)
	if requeue {
		a.Requeued = append(a.Requeued, tag)
	}
	return nil
}

// Reject implements amqp.Acknowledger.
func (a *Acknowledger) Reject(tag uint64, requeue bool) error {
	return a.Nack(tag, false, requeue)
}

// Counts returns the number of acked, nacked and requeued deliveries.
func (a *Acknowledger) Counts() (acked, nacked, requeued int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.Acked), len(a.Nacked), len(a.Requeued)
}

// Delivery builds a delivery whose acknowledgements land in ack.
func Delivery(ack *Acknowledger, tag uint64, body []byte) amqp.Delivery {
	return amqp.Delivery{
		Acknowledger: ack,
		DeliveryTag:  tag,
		Body:         body,
	}
}

// ConsumeCount returns the number of Consume calls.
func (c *Client) ConsumeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ConsumeCalls
}
