package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sethvargo/go-retry"
	"go.uber.org/atomic"
)

var (
	// ErrNotConnected is returned when no usable channel is available.
	ErrNotConnected = errors.New("rabbitmq: not connected")

	// ErrPublishNacked is returned when the broker refuses a published message.
	ErrPublishNacked = errors.New("rabbitmq: publish not confirmed by broker")
)

// Config holds RabbitMQ connection configuration
type Config struct {
	URL               string
	Topology          Topology
	RetryAttempts     int
	RetryInterval     time.Duration
	MaxRetryInterval  time.Duration
	Heartbeat         time.Duration
	ConnectionTimeout time.Duration
	ConfirmTimeout    time.Duration
}

// Client owns one long-lived connection and channel. The channel runs in
// confirm mode so Publish returns only after the broker has taken
// responsibility for the message.
type Client struct {
	config *Config
	logger *slog.Logger

	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel

	connected  *atomic.Bool
	closed     *atomic.Bool
	generation *atomic.Uint64
}

// NewClient connects with retry and declares the topology
func NewClient(ctx context.Context, config *Config, logger *slog.Logger) (*Client, error) {
	client := &Client{
		config:     config,
		logger:     logger,
		connected:  atomic.NewBool(false),
		closed:     atomic.NewBool(false),
		generation: atomic.NewUint64(0),
	}

	if err := client.connect(ctx); err != nil {
		return nil, fmt.Errorf("failed to create RabbitMQ client: %w", err)
	}

	return client, nil
}

// connect retries open with exponential backoff. Topology errors are not retried.
// Callers must hold c.mu or own c exclusively.
func (c *Client) connect(ctx context.Context) error {
	attempts := max(c.config.RetryAttempts, 1)
	interval := c.config.RetryInterval
	if interval <= 0 {
		interval = time.Second
	}
	maxInterval := c.config.MaxRetryInterval
	if maxInterval <= 0 {
		maxInterval = 30 * time.Second
	}

	b := retry.NewExponential(interval)
	b = retry.WithCappedDuration(maxInterval, b)
	b = retry.WithMaxRetries(uint64(attempts-1), b)

	attempt := 0
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		attempt++
		c.logger.Info("Connecting to RabbitMQ",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", attempts),
		)

		err := c.open()
		if err == nil {
			return nil
		}

		c.logger.Error("Failed to connect to RabbitMQ",
			slog.String("error", err.Error()),
			slog.Int("attempt", attempt),
		)

		if errors.Is(err, ErrTopology) {
			return err
		}
		return retry.RetryableError(err)
	})
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ after %d attempts: %w", attempt, err)
	}

	return nil
}

// open dials, declares the topology and enables publisher confirms
func (c *Client) open() error {
	amqpConfig := amqp.Config{
		Heartbeat: c.config.Heartbeat,
		Locale:    "en_US",
	}
	if c.config.ConnectionTimeout > 0 {
		amqpConfig.Dial = amqp.DefaultDial(c.config.ConnectionTimeout)
	}

	conn, err := amqp.DialConfig(c.config.URL, amqpConfig)
	if err != nil {
		return fmt.Errorf("failed to dial: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("failed to create channel: %w", err)
	}

	if err := Ensure(channel, c.config.Topology); err != nil {
		_ = conn.Close()
		return err
	}

	if err := channel.Confirm(false); err != nil {
		_ = conn.Close()
		return fmt.Errorf("failed to enable publisher confirms: %w", err)
	}

	// Bump the generation before publishing the new state so a watcher of
	// the previous connection can no longer flip it.
	gen := c.generation.Inc()
	connClosed := conn.NotifyClose(make(chan *amqp.Error, 1))
	chanClosed := channel.NotifyClose(make(chan *amqp.Error, 1))

	c.conn = conn
	c.channel = channel
	c.connected.Store(true)

	go c.watch(gen, connClosed, chanClosed)

	c.logger.Info("RabbitMQ client initialized",
		slog.String("exchange", c.config.Topology.ExchangeName),
		slog.String("queue", c.config.Topology.QueueName),
	)

	return nil
}

// watch flips the connected flag when the connection or channel of
// generation gen goes away. Stale watchers from replaced connections are ignored.
func (c *Client) watch(gen uint64, connClosed, chanClosed <-chan *amqp.Error) {
	var reason *amqp.Error
	select {
	case reason = <-connClosed:
	case reason = <-chanClosed:
	}

	if c.closed.Load() || c.generation.Load() != gen {
		return
	}
	c.connected.Store(false)

	attrs := []any{slog.String("exchange", c.config.Topology.ExchangeName)}
	if reason != nil {
		attrs = append(attrs, slog.String("reason", reason.Error()))
	}
	c.logger.Warn("RabbitMQ connection lost", attrs...)
}

// Reconnect tears down the current connection and connects again with retry
func (c *Client) Reconnect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return ErrNotConnected
	}

	c.teardown()
	return c.connect(ctx)
}

// Publish sends msg and waits for the broker confirm. A lost connection is
// re-opened once before publishing.
func (c *Client) Publish(ctx context.Context, exchange, routingKey string, msg amqp.Publishing) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return ErrNotConnected
	}

	if !c.connected.Load() {
		c.logger.Warn("RabbitMQ channel unavailable, reconnecting before publish")
		c.teardown()
		if err := c.open(); err != nil {
			return fmt.Errorf("%w: %w", ErrNotConnected, err)
		}
	}

	dc, err := c.channel.PublishWithDeferredConfirmWithContext(
		ctx,
		exchange,   // exchange
		routingKey, // routing key
		false,      // mandatory
		false,      // immediate
		msg,
	)
	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}

	if dc != nil {
		waitCtx := ctx
		if c.config.ConfirmTimeout > 0 {
			var cancel context.CancelFunc
			waitCtx, cancel = context.WithTimeout(ctx, c.config.ConfirmTimeout)
			defer cancel()
		}

		acked, err := dc.WaitContext(waitCtx)
		if err != nil {
			return fmt.Errorf("failed to confirm publish: %w", err)
		}
		if !acked {
			return ErrPublishNacked
		}
	}

	c.logger.Debug("Message published to RabbitMQ",
		slog.String("exchange", exchange),
		slog.String("routing_key", routingKey),
		slog.Int("body_size", len(msg.Body)),
	)

	return nil
}

// Consume sets the prefetch window and starts a manual-ack consumer on the work queue
func (c *Client) Consume(consumerTag string, prefetch int) (<-chan amqp.Delivery, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected.Load() || c.channel == nil {
		return nil, ErrNotConnected
	}

	// prefetch size 0 means no byte limit; global false scopes it to this consumer
	if err := c.channel.Qos(prefetch, 0, false); err != nil {
		return nil, fmt.Errorf("failed to set QoS: %w", err)
	}

	messages, err := c.channel.Consume(
		c.config.Topology.QueueName, // queue
		consumerTag,                 // consumer tag
		false,                       // auto-ack
		false,                       // exclusive
		false,                       // no-local
		false,                       // no-wait
		nil,                         // args
	)
	if err != nil {
		return nil, fmt.Errorf("failed to consume messages: %w", err)
	}

	c.logger.Info("Started consuming messages from RabbitMQ",
		slog.String("queue", c.config.Topology.QueueName),
		slog.String("consumer_tag", consumerTag),
		slog.Int("prefetch_count", prefetch),
	)

	return messages, nil
}

// Close closes the RabbitMQ connection
func (c *Client) Close() error {
	c.logger.Info("Closing RabbitMQ connection")

	c.closed.Store(true)

	c.mu.Lock()
	defer c.mu.Unlock()

	err := c.teardown()
	if err != nil {
		c.logger.Error("Failed to close RabbitMQ connection",
			slog.String("error", err.Error()),
		)
		return err
	}

	c.logger.Info("RabbitMQ connection closed successfully")
	return nil
}

// teardown closes the current channel and connection. Callers hold c.mu.
func (c *Client) teardown() error {
	c.connected.Store(false)

	if c.channel != nil {
		_ = c.channel.Close()
		c.channel = nil
	}

	var err error
	if c.conn != nil {
		if !c.conn.IsClosed() {
			err = c.conn.Close()
		}
		c.conn = nil
	}

	return err
}

// IsConnected returns the connection status
func (c *Client) IsConnected() bool {
	return c.connected.Load()
}
