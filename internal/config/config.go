package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/wms-platform/channel-sync-service/internal/application"
	"github.com/wms-platform/channel-sync-service/internal/infrastructure/transport"
	apperrors "github.com/wms-platform/channel-sync-service/pkg/errors"
	"github.com/wms-platform/channel-sync-service/pkg/kafka"
	"github.com/wms-platform/channel-sync-service/pkg/logging"
	"github.com/wms-platform/channel-sync-service/pkg/tracing"
)

// ServiceName identifies the process in logs, metrics and traces
const ServiceName = "channel-sync-service"

// Config holds runtime configuration for the worker.
type Config struct {
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
	Version     string `envconfig:"VERSION" default:"unknown"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	ServerAddr      string        `envconfig:"SERVER_ADDR" default:":8080"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"15s"`

	KafkaBrokers       []string `envconfig:"KAFKA_BROKERS" default:"localhost:9092"`
	KafkaTopic         string   `envconfig:"KAFKA_TOPIC" default:"inventory-updates"`
	KafkaConsumerGroup string   `envconfig:"KAFKA_CONSUMER_GROUP" default:"channel-sync-service"`
	// Set KAFKA_DLQ_TOPIC to an empty string to disable dead-lettering.
	KafkaDLQTopic string `envconfig:"KAFKA_DLQ_TOPIC" default:"inventory-updates.dlq"`

	VendorBaseURL               string        `envconfig:"VENDOR_BASE_URL" required:"true"`
	VendorAccessToken           string        `envconfig:"VENDOR_ACCESS_TOKEN"`
	VendorWaitBound             time.Duration `envconfig:"VENDOR_WAIT_BOUND" default:"5s"`
	VendorHTTPTimeout           time.Duration `envconfig:"VENDOR_HTTP_TIMEOUT" default:"30s"`
	VendorCircuitBreakerEnabled bool          `envconfig:"VENDOR_CIRCUIT_BREAKER_ENABLED" default:"false"`

	SyncFailurePolicy string `envconfig:"SYNC_FAILURE_POLICY" default:"absorb"`

	TracingEnabled bool    `envconfig:"TRACING_ENABLED" default:"false"`
	OTLPEndpoint   string  `envconfig:"OTEL_EXPORTER_OTLP_ENDPOINT" default:"localhost:4317"`
	OTELSampleRate float64 `envconfig:"OTEL_SAMPLE_RATE" default:"1.0"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, apperrors.ErrConfig("failed to read environment").Wrap(err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values envconfig cannot check on its own
func (c *Config) Validate() error {
	if c.VendorBaseURL == "" {
		return apperrors.ErrConfig("VENDOR_BASE_URL must be set")
	}
	if len(c.KafkaBrokers) == 0 {
		return apperrors.ErrConfig("KAFKA_BROKERS must list at least one broker")
	}
	if c.KafkaTopic == "" {
		return apperrors.ErrConfig("KAFKA_TOPIC must not be empty")
	}
	if c.KafkaConsumerGroup == "" {
		return apperrors.ErrConfig("KAFKA_CONSUMER_GROUP must not be empty")
	}
	if c.VendorWaitBound <= 0 {
		return apperrors.ErrConfig("VENDOR_WAIT_BOUND must be positive").WithDetail("value", c.VendorWaitBound.String())
	}

	policy, err := application.ParseOutcomePolicy(c.SyncFailurePolicy)
	if err != nil {
		return apperrors.ErrConfig("invalid SYNC_FAILURE_POLICY").Wrap(err)
	}
	if _, ok := policy.(application.DeadLetterFailuresPolicy); ok && c.KafkaDLQTopic == "" {
		return apperrors.ErrConfig("SYNC_FAILURE_POLICY=%s requires KAFKA_DLQ_TOPIC", application.PolicyDeadLetter)
	}
	return nil
}

// IsProduction returns true when the worker runs in production.
func (c *Config) IsProduction() bool {
	return c != nil && c.Environment == "production"
}

// OutcomePolicy returns the configured policy. Validate has already accepted the name.
func (c *Config) OutcomePolicy() application.OutcomePolicy {
	policy, err := application.ParseOutcomePolicy(c.SyncFailurePolicy)
	if err != nil {
		return application.AbsorbPolicy{}
	}
	return policy
}

// Kafka returns the consumer and dead-letter producer settings
func (c *Config) Kafka() *kafka.Config {
	cfg := kafka.DefaultConfig()
	cfg.Brokers = c.KafkaBrokers
	cfg.Topic = c.KafkaTopic
	cfg.ConsumerGroup = c.KafkaConsumerGroup
	cfg.ClientID = ServiceName
	cfg.DLQTopic = c.KafkaDLQTopic
	return cfg
}

// Vendor returns the storefront client settings
func (c *Config) Vendor() transport.Config {
	cfg := transport.DefaultConfig()
	cfg.BaseURL = c.VendorBaseURL
	cfg.AccessToken = c.VendorAccessToken
	cfg.UserAgent = fmt.Sprintf("%s/%s", ServiceName, c.Version)
	cfg.Timeout = c.VendorHTTPTimeout
	return cfg
}

// Logging returns the logger settings
func (c *Config) Logging() *logging.Config {
	cfg := logging.DefaultConfig(ServiceName)
	cfg.Level = logging.LogLevel(c.LogLevel)
	cfg.Environment = c.Environment
	cfg.Version = c.Version
	return cfg
}

// Tracing returns the OpenTelemetry settings
func (c *Config) Tracing() *tracing.Config {
	cfg := tracing.DefaultConfig(ServiceName)
	cfg.ServiceVersion = c.Version
	cfg.Environment = c.Environment
	cfg.OTLPEndpoint = c.OTLPEndpoint
	cfg.SampleRate = c.OTELSampleRate
	cfg.Enabled = c.TracingEnabled
	return cfg
}
