// Package publisher turns OTP requests into persistent broker messages.
package publisher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/otp-delivery/internal/domain"
	"github.com/cuongbtq/otp-delivery/internal/metrics"
	"github.com/cuongbtq/otp-delivery/shared/rabbitmq"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Broker publishes a single message and returns once the broker confirmed it.
type Broker interface {
	Publish(ctx context.Context, exchange, routingKey string, msg amqp.Publishing) error
}

// Config selects the destination of published jobs
type Config struct {
	Exchange   string
	RoutingKey string
	Timeout    time.Duration
}

// Publisher enqueues OTP jobs
type Publisher struct {
	broker     Broker
	exchange   string
	routingKey string
	timeout    time.Duration
	logger     *slog.Logger
}

// New creates a publisher. Empty destinations fall back to the OTP topology.
func New(broker Broker, cfg Config, logger *slog.Logger) *Publisher {
	p := &Publisher{
		broker:     broker,
		exchange:   cfg.Exchange,
		routingKey: cfg.RoutingKey,
		timeout:    cfg.Timeout,
		logger:     logger,
	}
	if p.exchange == "" {
		p.exchange = domain.ExchangeName
	}
	if p.routingKey == "" {
		p.routingKey = domain.RoutingKey
	}
	return p
}

// Publish validates job and hands it to the broker as a persistent JSON message.
// Every failure wraps domain.ErrPublish.
func (p *Publisher) Publish(ctx context.Context, job domain.OTPJob) error {
	if err := job.Validate(); err != nil {
		metrics.JobsPublished.WithLabelValues(metrics.ResultRejected).Inc()
		return fmt.Errorf("%w: %w", domain.ErrPublish, err)
	}

	if job.Version == 0 {
		job.Version = domain.JobVersion
	}
	if job.QueueName == "" {
		job.QueueName = p.routingKey
	}

	body, err := domain.Encode(job)
	if err != nil {
		metrics.JobsPublished.WithLabelValues(metrics.ResultRejected).Inc()
		return fmt.Errorf("%w: %w", domain.ErrPublish, err)
	}

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	messageID := uuid.NewString()
	err = p.broker.Publish(ctx, p.exchange, p.routingKey, amqp.Publishing{
		ContentType:  domain.ContentTypeJSON,
		DeliveryMode: amqp.Persistent,
		MessageId:    messageID,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
	if err != nil {
		metrics.JobsPublished.WithLabelValues(metrics.ResultFailure).Inc()
		p.logger.Error("Failed to publish OTP job",
			slog.String("email", job.Email),
			slog.String("message_id", messageID),
			slog.String("error", err.Error()),
		)
		if errors.Is(err, rabbitmq.ErrTopology) {
			return fmt.Errorf("%w: %w: %w", domain.ErrPublish, domain.ErrTopology, err)
		}
		return fmt.Errorf("%w: %w", domain.ErrPublish, err)
	}

	metrics.JobsPublished.WithLabelValues(metrics.ResultSuccess).Inc()
	p.logger.Info("OTP job published",
		slog.String("email", job.Email),
		slog.String("message_id", messageID),
		slog.String("exchange", p.exchange),
		slog.String("routing_key", p.routingKey),
	)

	return nil
}
