package broker

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/jmehdipour/booking-saga/internal/logger"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Config holds broker connection parameters.
type Config struct {
	URL                string
	MaxConnectAttempts int           // default 10
	ConnectBaseBackoff time.Duration // default 500ms
	ConnectMaxBackoff  time.Duration // default 30s
	PublishTimeout     time.Duration // default 5s
}

func (c *Config) applyDefaults() {
	if c.MaxConnectAttempts <= 0 {
		c.MaxConnectAttempts = 10
	}
	if c.ConnectBaseBackoff <= 0 {
		c.ConnectBaseBackoff = 500 * time.Millisecond
	}
	if c.ConnectMaxBackoff <= 0 {
		c.ConnectMaxBackoff = 30 * time.Second
	}
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = 5 * time.Second
	}
}

// ErrNotConnected is returned when an operation is attempted before a
// connection could be established.
var ErrNotConnected = errors.New("broker: not connected")

// Client owns the process-wide AMQP connection and channel. The raw connection
// never leaves this package; (re)establishment is serialized behind the mutex
// so concurrent first use cannot open duplicate connections.
type Client struct {
	cfg Config

	mu   chan struct{} // buffered-1 semaphore, usable with ctx
	conn *amqp.Connection
	ch   *amqp.Channel

	dial func(url string) (*amqp.Connection, error)
}

// NewClient builds a Client. No network I/O happens until Connect or the first
// Publish/Consume.
func NewClient(cfg Config) *Client {
	cfg.applyDefaults()
	c := &Client{
		cfg:  cfg,
		mu:   make(chan struct{}, 1),
		dial: amqp.Dial,
	}
	return c
}

func (c *Client) lock(ctx context.Context) error {
	select {
	case c.mu <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) unlock() { <-c.mu }

// Connect establishes the connection, retrying with exponential backoff and
// full jitter up to the configured attempt budget. The broker may simply not
// be up yet when the service starts; cold-start ordering across the fleet is
// not guaranteed.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.lock(ctx); err != nil {
		return err
	}
	defer c.unlock()

	return c.connectLocked(ctx)
}

func (c *Client) connectLocked(ctx context.Context) error {
	if c.healthyLocked() {
		return nil
	}

	var lastErr error
	for attempt := 0; attempt < c.cfg.MaxConnectAttempts; attempt++ {
		if attempt > 0 {
			delay := jitteredBackoff(c.cfg.ConnectBaseBackoff, c.cfg.ConnectMaxBackoff, attempt)
			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			}
		}

		conn, err := c.dial(c.cfg.URL)
		if err != nil {
			lastErr = err
			logger.Log.Warn("broker connect failed",
				zap.Int("attempt", attempt+1),
				zap.Error(err),
			)
			continue
		}

		ch, err := conn.Channel()
		if err != nil {
			lastErr = err
			_ = conn.Close()
			continue
		}

		c.conn = conn
		c.ch = ch
		logger.Log.Info("broker connected", zap.Int("attempts", attempt+1))
		return nil
	}

	return fmt.Errorf("broker: connect gave up after %d attempts: %w", c.cfg.MaxConnectAttempts, lastErr)
}

func (c *Client) healthyLocked() bool {
	return c.conn != nil && !c.conn.IsClosed() && c.ch != nil && !c.ch.IsClosed()
}

// channel returns a healthy channel, transparently reconnecting after a
// transient partition. Callers must not retain the returned channel.
func (c *Client) channel(ctx context.Context) (*amqp.Channel, error) {
	if err := c.lock(ctx); err != nil {
		return nil, err
	}
	defer c.unlock()

	if c.healthyLocked() {
		return c.ch, nil
	}

	c.teardownLocked()
	if err := c.connectLocked(ctx); err != nil {
		return nil, err
	}
	return c.ch, nil
}

func (c *Client) teardownLocked() {
	if c.ch != nil {
		_ = c.ch.Close()
		c.ch = nil
	}
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
}

// Publish declares the destination exchange (idempotent) and sends the
// already-encoded body marked persistent so it survives a broker restart. Any
// connectivity or protocol error propagates to the caller as a plain publish
// failure; retry policy lives in the outbox publisher, not here.
func (c *Client) Publish(ctx context.Context, exchange, routingKey string, body []byte, headers amqp.Table) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.PublishTimeout)
	defer cancel()

	ch, err := c.channel(ctx)
	if err != nil {
		return err
	}

	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", exchange, err)
	}

	return ch.PublishWithContext(ctx, exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
		Headers:      headers,
	})
}

// Consume declares a durable queue bound to the given routing keys on the
// events exchange and starts delivering with manual acknowledgements. The
// returned channel closes when the underlying AMQP channel dies; callers
// re-invoke Consume to resume.
func (c *Client) Consume(ctx context.Context, exchange, queue string, routingKeys []string) (<-chan amqp.Delivery, error) {
	ch, err := c.channel(ctx)
	if err != nil {
		return nil, err
	}

	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}

	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("declare queue %s: %w", queue, err)
	}

	for _, key := range routingKeys {
		if err := ch.QueueBind(queue, key, exchange, false, nil); err != nil {
			return nil, fmt.Errorf("bind %s to %s/%s: %w", queue, exchange, key, err)
		}
	}

	deliveries, err := ch.Consume(queue, "", false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("consume %s: %w", queue, err)
	}
	return deliveries, nil
}

// Close tears down the channel and connection.
func (c *Client) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.lock(ctx); err != nil {
		return err
	}
	defer c.unlock()

	c.teardownLocked()
	return nil
}

// jitteredBackoff returns a random delay in [0, min(base*2^attempt, ceiling)).
// Full jitter keeps a fleet of cold-starting services from reconnecting in
// lockstep.
func jitteredBackoff(base, ceiling time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	if attempt > 30 {
		attempt = 30
	}

	delay := base << uint(attempt)
	if delay <= 0 || delay > ceiling {
		delay = ceiling
	}
	return time.Duration(rand.Int63n(int64(delay)))
}
