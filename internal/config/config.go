package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/samber/lo"
	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535

	exchangeType = "direct"
	minOTPLength = 4
	maxOTPLength = 10
)

var failureActions = []string{"ack", "requeue", "dead_letter"}

// Config represents the complete application configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
	Redis    RedisConfig    `yaml:"redis"`
	Mail     MailConfig     `yaml:"mail"`
	Template TemplateConfig `yaml:"template"`
	Database DatabaseConfig `yaml:"database"`
	Logging  LoggingConfig  `yaml:"logging"`
	App      AppConfig      `yaml:"app"`
	Worker   WorkerConfig   `yaml:"worker"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	PublishTimeout  time.Duration `yaml:"publish_timeout"`
}

// RabbitMQConfig holds RabbitMQ connection and exchange/queue configuration
type RabbitMQConfig struct {
	URL        string           `yaml:"url"`
	Exchange   ExchangeConfig   `yaml:"exchange"`
	Queue      QueueConfig      `yaml:"queue"`
	RoutingKey string           `yaml:"routing_key"`
	Connection ConnectionConfig `yaml:"connection"`
	Publish    PublishConfig    `yaml:"publish"`
}

// ExchangeConfig holds RabbitMQ exchange configuration
type ExchangeConfig struct {
	Name    string `yaml:"name"`
	Type    string `yaml:"type"`
	Durable bool   `yaml:"durable"`
}

// QueueConfig holds RabbitMQ queue configuration
type QueueConfig struct {
	Name       string `yaml:"name"`
	Durable    bool   `yaml:"durable"`
	DeadLetter string `yaml:"dead_letter"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	MaxRetryInterval  time.Duration `yaml:"max_retry_interval"`
	Heartbeat         time.Duration `yaml:"heartbeat"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
}

// PublishConfig holds publisher confirm settings
type PublishConfig struct {
	ConfirmTimeout time.Duration `yaml:"confirm_timeout"`
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	URL           string        `yaml:"url"`
	DialTimeout   time.Duration `yaml:"dial_timeout"`
	ReadTimeout   time.Duration `yaml:"read_timeout"`
	WriteTimeout  time.Duration `yaml:"write_timeout"`
	PoolSize      int           `yaml:"pool_size"`
	RetryAttempts int           `yaml:"retry_attempts"`
}

// MailConfig holds SMTP relay configuration
type MailConfig struct {
	Host               string        `yaml:"host"`
	Port               int           `yaml:"port"`
	User               string        `yaml:"user"`
	Password           string        `yaml:"password"`
	From               string        `yaml:"from"`
	RequireTLS         bool          `yaml:"require_tls"`
	InsecureSkipVerify bool          `yaml:"insecure_skip_verify"`
	LocalName          string        `yaml:"local_name"`
	DialTimeout        time.Duration `yaml:"dial_timeout"`
	SendTimeout        time.Duration `yaml:"send_timeout"`
}

// TemplateConfig selects the email template and the OTP format it accepts
type TemplateConfig struct {
	Path      string `yaml:"path"`
	OTPLength int    `yaml:"otp_length"`
}

// DatabaseConfig holds the optional PostgreSQL audit store configuration.
// An empty URL disables the store.
type DatabaseConfig struct {
	URL             string        `yaml:"url"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	Output       string `yaml:"output"`
	EnableCaller bool   `yaml:"enable_caller"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// WorkerConfig holds worker service configuration
type WorkerConfig struct {
	Concurrency     int                 `yaml:"concurrency"`
	JobTimeout      time.Duration       `yaml:"job_timeout"`
	ShutdownTimeout time.Duration       `yaml:"shutdown_timeout"`
	HTTPPort        int                 `yaml:"http_port"`
	FailurePolicy   FailurePolicyConfig `yaml:"failure_policy"`
}

// FailurePolicyConfig maps failure kinds to ack, requeue or dead_letter
type FailurePolicyConfig struct {
	Deserialization string `yaml:"deserialization"`
	Cache           string `yaml:"cache"`
	Template        string `yaml:"template"`
	Send            string `yaml:"send"`
	Unknown         string `yaml:"unknown"`
}

// Default returns the configuration used when neither file nor environment set a value.
// The broker and cache URLs have no default and must be supplied.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8000,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			PublishTimeout:  5 * time.Second,
		},
		RabbitMQ: RabbitMQConfig{
			Exchange: ExchangeConfig{
				Name:    "otp_exchange",
				Type:    "direct",
				Durable: true,
			},
			Queue: QueueConfig{
				Name:       "otp_queue",
				Durable:    true,
				DeadLetter: "otp_queue.dlq",
			},
			RoutingKey: "otp_queue",
			Connection: ConnectionConfig{
				RetryAttempts:     5,
				RetryInterval:     time.Second,
				MaxRetryInterval:  30 * time.Second,
				Heartbeat:         10 * time.Second,
				ConnectionTimeout: 10 * time.Second,
			},
			Publish: PublishConfig{
				ConfirmTimeout: 5 * time.Second,
			},
		},
		Redis: RedisConfig{
			DialTimeout:   5 * time.Second,
			ReadTimeout:   3 * time.Second,
			WriteTimeout:  3 * time.Second,
			RetryAttempts: 5,
		},
		Mail: MailConfig{
			Port:        587,
			RequireTLS:  true,
			LocalName:   "localhost",
			DialTimeout: 10 * time.Second,
			SendTimeout: 30 * time.Second,
		},
		Template: TemplateConfig{
			OTPLength: 6,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    5,
			MaxIdleConns:    2,
			ConnMaxLifetime: 30 * time.Minute,
			ConnMaxIdleTime: 5 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
			Output: "stderr",
		},
		App: AppConfig{
			Name:        "otp-delivery",
			Environment: "development",
		},
		Worker: WorkerConfig{
			Concurrency:     1,
			JobTimeout:      30 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			HTTPPort:        9090,
			FailurePolicy: FailurePolicyConfig{
				Deserialization: "dead_letter",
				Cache:           "requeue",
				Template:        "dead_letter",
				Send:            "requeue",
				Unknown:         "requeue",
			},
		},
	}
}

// Load builds the configuration from defaults, the optional YAML file at
// configPath and finally the environment.
func Load(configPath string) (*Config, error) {
	config := Default()

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := config.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	config.Mail.From = lo.CoalesceOrEmpty(config.Mail.From, config.Mail.User)

	return config, nil
}

type lookupFunc func(key string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) error {
	strs := map[string]*string{
		"RABBITMQ_URL":      &c.RabbitMQ.URL,
		"REDIS_URL":         &c.Redis.URL,
		"SMTP_HOST":         &c.Mail.Host,
		"SMTP_USER":         &c.Mail.User,
		"SMTP_PASS":         &c.Mail.Password,
		"SMTP_FROM":         &c.Mail.From,
		"OTP_TEMPLATE_PATH": &c.Template.Path,
		"DATABASE_URL":      &c.Database.URL,
		"LOG_LEVEL":         &c.Logging.Level,
		"LOG_FORMAT":        &c.Logging.Format,
	}
	for key, dst := range strs {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"SMTP_PORT":          &c.Mail.Port,
		"API_PORT":           &c.Server.Port,
		"WORKER_CONCURRENCY": &c.Worker.Concurrency,
		"WORKER_HTTP_PORT":   &c.Worker.HTTPPort,
		"OTP_LENGTH":         &c.Template.OTPLength,
	}
	for key, dst := range ints {
		v, ok := lookup(key)
		if !ok || v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: must be an integer", key, v)
		}
		*dst = n
	}

	if v, ok := lookup("SMTP_REQUIRE_TLS"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid SMTP_REQUIRE_TLS %q: must be a boolean", v)
		}
		c.Mail.RequireTLS = b
	}

	return nil
}

// ValidateAPIConfig checks the settings the producer API depends on
func (c *Config) ValidateAPIConfig() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	if err := c.validateRabbitMQ(); err != nil {
		return err
	}

	return c.validateOTPLength()
}

// ValidateWorkerConfig checks the settings the consumer depends on
func (c *Config) ValidateWorkerConfig() error {
	if err := c.validateRabbitMQ(); err != nil {
		return err
	}

	if err := validateURL("redis url", c.Redis.URL, "redis", "rediss", "unix"); err != nil {
		return err
	}

	if c.Mail.Host == "" {
		return fmt.Errorf("smtp host is required")
	}

	if c.Mail.Port < MinPort || c.Mail.Port > MaxPort {
		return fmt.Errorf("invalid smtp port: %d (must be between %d and %d)", c.Mail.Port, MinPort, MaxPort)
	}

	if c.Mail.From == "" {
		return fmt.Errorf("smtp from address is required (set SMTP_FROM or SMTP_USER)")
	}

	if err := c.validateOTPLength(); err != nil {
		return err
	}

	if c.Database.URL != "" {
		if err := validateURL("database url", c.Database.URL, "postgres", "postgresql"); err != nil {
			return err
		}
	}

	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker concurrency must be greater than 0")
	}

	if c.Worker.JobTimeout <= 0 {
		return fmt.Errorf("worker job_timeout must be greater than 0")
	}

	if c.Worker.ShutdownTimeout <= 0 {
		return fmt.Errorf("worker shutdown_timeout must be greater than 0")
	}

	if c.Worker.HTTPPort < MinPort || c.Worker.HTTPPort > MaxPort {
		return fmt.Errorf("invalid worker http port: %d (must be between %d and %d)", c.Worker.HTTPPort, MinPort, MaxPort)
	}

	policy := map[string]string{
		"deserialization": c.Worker.FailurePolicy.Deserialization,
		"cache":           c.Worker.FailurePolicy.Cache,
		"template":        c.Worker.FailurePolicy.Template,
		"send":            c.Worker.FailurePolicy.Send,
		"unknown":         c.Worker.FailurePolicy.Unknown,
	}
	for kind, action := range policy {
		if !lo.Contains(failureActions, action) {
			return fmt.Errorf("invalid failure_policy.%s %q (must be one of %v)", kind, action, failureActions)
		}
	}

	return nil
}

func (c *Config) validateRabbitMQ() error {
	if err := validateURL("rabbitmq url", c.RabbitMQ.URL, "amqp", "amqps"); err != nil {
		return err
	}

	if c.RabbitMQ.Exchange.Name == "" {
		return fmt.Errorf("rabbitmq exchange name is required")
	}

	if c.RabbitMQ.Exchange.Type != exchangeType {
		return fmt.Errorf("invalid rabbitmq exchange type %q (must be %q)", c.RabbitMQ.Exchange.Type, exchangeType)
	}

	if !c.RabbitMQ.Exchange.Durable {
		return fmt.Errorf("rabbitmq exchange must be durable")
	}

	if c.RabbitMQ.Queue.Name == "" {
		return fmt.Errorf("rabbitmq queue name is required")
	}

	if !c.RabbitMQ.Queue.Durable {
		return fmt.Errorf("rabbitmq queue must be durable")
	}

	if c.RabbitMQ.RoutingKey == "" {
		return fmt.Errorf("rabbitmq routing key is required")
	}

	return nil
}

func (c *Config) validateOTPLength() error {
	if c.Template.OTPLength < minOTPLength || c.Template.OTPLength > maxOTPLength {
		return fmt.Errorf("invalid otp length: %d (must be between %d and %d)", c.Template.OTPLength, minOTPLength, maxOTPLength)
	}
	return nil
}

func validateURL(name, raw string, schemes ...string) error {
	if raw == "" {
		return fmt.Errorf("%s is required", name)
	}

	// url.Parse errors echo the input, which may carry credentials
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid %s: malformed url", name)
	}

	if !lo.Contains(schemes, u.Scheme) {
		return fmt.Errorf("invalid %s scheme %q (must be one of %v)", name, u.Scheme, schemes)
	}

	return nil
}
