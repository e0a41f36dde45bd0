package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cuongbtq/otp-delivery/internal/domain"
	"github.com/cuongbtq/otp-delivery/internal/worker/storage"
	"github.com/cuongbtq/otp-delivery/shared/mail"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sethvargo/go-retry"
)

const maxReconnectInterval = 30 * time.Second

// Broker is the consumer side of the RabbitMQ client
type Broker interface {
	Consume(consumerTag string, prefetch int) (<-chan amqp.Delivery, error)
	Publish(ctx context.Context, exchange, routingKey string, msg amqp.Publishing) error
	Reconnect(ctx context.Context) error
	IsConnected() bool
}

// Cache stores the latest OTP per email
type Cache interface {
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

// Mailer delivers a composed email
type Mailer interface {
	Send(ctx context.Context, msg mail.Message) error
}

// Renderer produces the HTML body for an OTP
type Renderer interface {
	Render(otp string) (string, error)
}

// OutcomeRecorder persists settled deliveries
type OutcomeRecorder interface {
	RecordOutcome(ctx context.Context, o storage.Outcome) error
}

// Config holds worker configuration
type Config struct {
	Logger      *slog.Logger
	Broker      Broker
	Cache       Cache
	Mailer      Mailer
	Renderer    Renderer
	Recorder    OutcomeRecorder // optional
	Policy      Policy
	WorkerID    string
	Concurrency int
	JobTimeout  time.Duration
	MailFrom    string
	MailHost    string

	// OTPLength is the exact OTP length accepted from the queue
	OTPLength int

	// ReconnectInterval is the first backoff step after the delivery
	// channel closes. Reconnects continue until ctx is canceled.
	ReconnectInterval time.Duration

	// Exchange and DeadLetterKey address the dead-letter queue. An empty
	// DeadLetterKey turns dead-lettering into a broker-side discard.
	Exchange      string
	DeadLetterKey string
}

// Worker consumes OTP jobs, caches the code and sends the email
type Worker struct {
	logger        *slog.Logger
	broker        Broker
	cache         Cache
	mailer        Mailer
	renderer      Renderer
	recorder      OutcomeRecorder
	policy        Policy
	workerID      string
	concurrency   int
	jobTimeout    time.Duration
	mailFrom      string
	mailHost      string
	exchange      string
	deadLetterKey string
	otpLength     int
	reconnectWait time.Duration

	jobsChan chan *jobMessage
	wg       sync.WaitGroup
	stopChan chan struct{}
	stopOnce sync.Once
}

type jobMessage struct {
	delivery   amqp.Delivery
	receivedAt time.Time
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) *Worker {
	w := &Worker{
		logger:        cfg.Logger,
		broker:        cfg.Broker,
		cache:         cfg.Cache,
		mailer:        cfg.Mailer,
		renderer:      cfg.Renderer,
		recorder:      cfg.Recorder,
		policy:        cfg.Policy,
		workerID:      cfg.WorkerID,
		concurrency:   max(cfg.Concurrency, 1),
		jobTimeout:    cfg.JobTimeout,
		mailFrom:      cfg.MailFrom,
		mailHost:      cfg.MailHost,
		exchange:      cfg.Exchange,
		deadLetterKey: cfg.DeadLetterKey,
		otpLength:     cfg.OTPLength,
		reconnectWait: cfg.ReconnectInterval,
		jobsChan:      make(chan *jobMessage),
		stopChan:      make(chan struct{}),
	}
	if w.jobTimeout <= 0 {
		w.jobTimeout = 30 * time.Second
	}
	if w.exchange == "" {
		w.exchange = domain.ExchangeName
	}
	if w.otpLength == 0 {
		w.otpLength = domain.DefaultOTPLength
	}
	if w.reconnectWait <= 0 {
		w.reconnectWait = time.Second
	}
	return w
}

// Start spawns the pool and consumes until ctx is canceled. When the
// delivery channel closes the broker is reconnected with backoff, without a
// retry limit, and consumption resumes. Only a failure to start the very
// first consumer is returned.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting worker",
		slog.String("worker_id", w.workerID),
		slog.Int("concurrency", w.concurrency),
		slog.Duration("job_timeout", w.jobTimeout),
	)

	w.spawnWorkerPool(ctx)

	deliveries, err := w.setupConsumer()
	if err != nil {
		return err
	}

	for {
		w.startMessageDispatcher(ctx, deliveries)

		if ctx.Err() != nil {
			w.logger.Info("Worker context canceled, stopping...")
			return nil
		}

		w.logger.Warn("Delivery channel closed, reconnecting to RabbitMQ")
		deliveries, err = w.resume(ctx)
		if err != nil {
			w.logger.Info("Worker context canceled while reconnecting, stopping...")
			return nil
		}
	}
}

// resume reconnects and restarts the consumer, retrying until it succeeds or
// ctx is canceled.
func (w *Worker) resume(ctx context.Context) (<-chan amqp.Delivery, error) {
	b := retry.NewExponential(w.reconnectWait)
	b = retry.WithCappedDuration(maxReconnectInterval, b)

	var deliveries <-chan amqp.Delivery
	attempt := 0
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		attempt++

		err := w.broker.Reconnect(ctx)
		if err == nil {
			deliveries, err = w.setupConsumer()
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.logger.Error("Failed to resume consumer",
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()),
			)
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to resume consumer: %w", err)
	}

	return deliveries, nil
}

// Stop signals the pool and waits for in-flight jobs to settle
func (w *Worker) Stop() {
	w.logger.Info("Stopping worker...")
	w.stopOnce.Do(func() { close(w.stopChan) })
	w.wg.Wait()
	w.logger.Info("Worker stopped")
}
