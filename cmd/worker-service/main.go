package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuongbtq/otp-delivery/internal/config"
	"github.com/cuongbtq/otp-delivery/internal/mailtemplate"
	"github.com/cuongbtq/otp-delivery/internal/worker"
	"github.com/cuongbtq/otp-delivery/internal/worker/storage"
	"github.com/cuongbtq/otp-delivery/shared/logger"
	"github.com/cuongbtq/otp-delivery/shared/mail"
	"github.com/cuongbtq/otp-delivery/shared/postgresql"
	"github.com/cuongbtq/otp-delivery/shared/rabbitmq"
	"github.com/cuongbtq/otp-delivery/shared/redis"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

const serviceName = "otp-worker-service"

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	// Parse command-line flags
	defaultConfigPath := os.Getenv("WORKER_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/worker-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file (empty for defaults and environment only)")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateWorkerConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	policy, err := buildPolicy(cfg.Worker.FailurePolicy)
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting worker service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	// Load the template before connecting to anything
	renderer, err := mailtemplate.Load(cfg.Template.Path, mailtemplate.WithOTPLength(cfg.Template.OTPLength))
	if err != nil {
		return fmt.Errorf("failed to load email template: %w", err)
	}

	mailer, err := mail.NewSender(mail.Config{
		Host:               cfg.Mail.Host,
		Port:               cfg.Mail.Port,
		Username:           cfg.Mail.User,
		Password:           cfg.Mail.Password,
		From:               cfg.Mail.From,
		RequireTLS:         cfg.Mail.RequireTLS,
		InsecureSkipVerify: cfg.Mail.InsecureSkipVerify,
		LocalName:          cfg.Mail.LocalName,
		DialTimeout:        cfg.Mail.DialTimeout,
		SendTimeout:        cfg.Mail.SendTimeout,
	}, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize mail sender: %w", err)
	}

	startCtx := context.Background()

	// Initialize Redis client
	redisClient, err := redis.NewClient(startCtx, &redis.Config{
		URL:           cfg.Redis.URL,
		DialTimeout:   cfg.Redis.DialTimeout,
		ReadTimeout:   cfg.Redis.ReadTimeout,
		WriteTimeout:  cfg.Redis.WriteTimeout,
		PoolSize:      cfg.Redis.PoolSize,
		RetryAttempts: cfg.Redis.RetryAttempts,
	}, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize Redis: %w", err)
	}
	defer redisClient.Close()

	appLogger.Info("Redis connection established")

	// Initialize the optional PostgreSQL audit store
	var (
		dbClient   *postgresql.Client
		recorder   worker.OutcomeRecorder
		auditStore *storage.Storage
	)
	if cfg.Database.URL != "" {
		dbClient, err = initPostgreSQL(startCtx, &cfg.Database, appLogger.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize database: %w", err)
		}
		defer dbClient.Close()

		auditStore = storage.NewStorage(dbClient.GetDB(), appLogger.Logger)
		if err := auditStore.EnsureSchema(startCtx); err != nil {
			return fmt.Errorf("failed to prepare audit schema: %w", err)
		}
		recorder = auditStore

		appLogger.Info("Database connection established")
	}

	// Initialize RabbitMQ client
	rabbitClient, err := initRabbitMQ(startCtx, &cfg.RabbitMQ, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}
	defer rabbitClient.Close()

	appLogger.Info("RabbitMQ connection established")

	// Health and metrics endpoint
	checks := map[string]worker.Check{
		"rabbitmq": func(context.Context) error {
			if !rabbitClient.IsConnected() {
				return rabbitmq.ErrNotConnected
			}
			return nil
		},
		"redis": redisClient.Ping,
	}
	if dbClient != nil {
		checks["postgres"] = dbClient.HealthCheck
	}

	healthAddr := fmt.Sprintf(":%d", cfg.Worker.HTTPPort)
	healthServer, _, err := worker.StartHealthServer(healthAddr, worker.HealthRouter(checks, deliveryLister(auditStore)))
	if err != nil {
		return fmt.Errorf("failed to start health server: %w", err)
	}

	appLogger.Info("Health server listening", slog.String("address", healthAddr))

	// Create worker instance
	workerInstance := worker.NewWorker(&worker.Config{
		Logger:        appLogger.Logger,
		Broker:        rabbitClient,
		Cache:         redisClient,
		Mailer:        mailer,
		Renderer:      renderer,
		Recorder:      recorder,
		Policy:        policy,
		WorkerID:      workerID(),
		Concurrency:   cfg.Worker.Concurrency,
		JobTimeout:    cfg.Worker.JobTimeout,
		MailFrom:      cfg.Mail.From,
		MailHost:      mailer.Host(),
		Exchange:      cfg.RabbitMQ.Exchange.Name,
		DeadLetterKey: cfg.RabbitMQ.Queue.DeadLetter,

		OTPLength:         cfg.Template.OTPLength,
		ReconnectInterval: cfg.RabbitMQ.Connection.RetryInterval,
	})

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Start worker in a goroutine
	errChan := make(chan error, 1)
	go func() {
		if err := workerInstance.Start(ctx); err != nil {
			errChan <- err
		}
	}()

	appLogger.Info("Worker service started successfully")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-quit:
		appLogger.Info("Received signal, shutting down gracefully",
			slog.String("signal", sig.String()),
		)
	case runErr = <-errChan:
		appLogger.Error("Worker error",
			slog.Any("error", runErr),
		)
	}

	// Cancel context to stop consuming
	cancel()

	// Give in-flight jobs time to settle
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Worker.ShutdownTimeout)
	defer shutdownCancel()

	done := make(chan struct{})
	go func() {
		workerInstance.Stop()
		close(done)
	}()

	select {
	case <-done:
		appLogger.Info("Worker stopped gracefully")
	case <-shutdownCtx.Done():
		appLogger.Warn("Worker shutdown timeout exceeded, forcing exit")
	}

	if err := healthServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		appLogger.Warn("Health server shutdown failed", slog.Any("error", err))
	}

	appLogger.Info("Worker service shutdown complete")
	return runErr
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	loggerCfg := &logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
		Service:      serviceName,
	}

	return logger.New(loggerCfg)
}

// initPostgreSQL initializes the PostgreSQL database client
func initPostgreSQL(ctx context.Context, cfg *config.DatabaseConfig, logger *slog.Logger) (*postgresql.Client, error) {
	dbConfig := &postgresql.Config{
		URL:             cfg.URL,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
	}

	return postgresql.NewClient(ctx, dbConfig, logger)
}

// initRabbitMQ initializes the RabbitMQ client with the work and dead-letter queues
func initRabbitMQ(ctx context.Context, cfg *config.RabbitMQConfig, logger *slog.Logger) (*rabbitmq.Client, error) {
	rabbitConfig := &rabbitmq.Config{
		URL: cfg.URL,
		Topology: rabbitmq.Topology{
			ExchangeName:    cfg.Exchange.Name,
			ExchangeType:    cfg.Exchange.Type,
			ExchangeDurable: cfg.Exchange.Durable,
			QueueName:       cfg.Queue.Name,
			QueueDurable:    cfg.Queue.Durable,
			RoutingKey:      cfg.RoutingKey,
			DeadLetterQueue: cfg.Queue.DeadLetter,
		},
		RetryAttempts:     cfg.Connection.RetryAttempts,
		RetryInterval:     cfg.Connection.RetryInterval,
		MaxRetryInterval:  cfg.Connection.MaxRetryInterval,
		Heartbeat:         cfg.Connection.Heartbeat,
		ConnectionTimeout: cfg.Connection.ConnectionTimeout,
		ConfirmTimeout:    cfg.Publish.ConfirmTimeout,
	}

	return rabbitmq.NewClient(ctx, rabbitConfig, logger)
}

// buildPolicy converts the configured action names into a worker.Policy
func buildPolicy(cfg config.FailurePolicyConfig) (worker.Policy, error) {
	var policy worker.Policy
	fields := []struct {
		name  string
		value string
		dst   *worker.Action
	}{
		{"deserialization", cfg.Deserialization, &policy.Deserialization},
		{"cache", cfg.Cache, &policy.Cache},
		{"template", cfg.Template, &policy.Template},
		{"send", cfg.Send, &policy.Send},
		{"unknown", cfg.Unknown, &policy.Unknown},
	}
	for _, f := range fields {
		action, err := worker.ParseAction(f.value)
		if err != nil {
			return worker.Policy{}, fmt.Errorf("failure_policy.%s: %w", f.name, err)
		}
		*f.dst = action
	}
	return policy, nil
}

func workerID() string {
	host, err := os.Hostname()
	if err != nil {
		host = "worker"
	}
	return fmt.Sprintf("%s-%s", host, uuid.NewString()[:8])
}

// deliveryLister keeps a nil store from becoming a non-nil interface
func deliveryLister(s *storage.Storage) worker.DeliveryLister {
	if s == nil {
		return nil
	}
	return s
}
