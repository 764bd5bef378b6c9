package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sony/gobreaker"

	"github.com/wms-platform/channel-sync-service/internal/api"
	"github.com/wms-platform/channel-sync-service/internal/application"
	"github.com/wms-platform/channel-sync-service/internal/config"
	"github.com/wms-platform/channel-sync-service/internal/infrastructure/contracts"
	"github.com/wms-platform/channel-sync-service/internal/infrastructure/messaging"
	"github.com/wms-platform/channel-sync-service/internal/infrastructure/transport"
	"github.com/wms-platform/channel-sync-service/pkg/cloudevents"
	"github.com/wms-platform/channel-sync-service/pkg/kafka"
	"github.com/wms-platform/channel-sync-service/pkg/logging"
	"github.com/wms-platform/channel-sync-service/pkg/metrics"
	"github.com/wms-platform/channel-sync-service/pkg/resilience"
	"github.com/wms-platform/channel-sync-service/pkg/tracing"
)

const vendorChannel = "shopify"

type server interface {
	ListenAndServe() error
	Shutdown(context.Context) error
}

type tracerProvider interface {
	Shutdown(context.Context) error
}

type consumer interface {
	Start(context.Context) error
	Running() bool
	Close() error
}

var (
	loadConfig        func() (*config.Config, error)                                 = config.Load
	newLogger         func(*logging.Config) *logging.Logger                          = logging.New
	initializeTracing func(context.Context, *tracing.Config) (tracerProvider, error) = func(ctx context.Context, config *tracing.Config) (tracerProvider, error) {
		return tracing.Initialize(ctx, config)
	}
	newVendorClient func(transport.Config, *logging.Logger, ...transport.Option) (application.Transport, error) = func(config transport.Config, logger *logging.Logger, opts ...transport.Option) (application.Transport, error) {
		return transport.NewVendorClient(config, logger, opts...)
	}
	newContractValidator func() (*contracts.Validator, error) = contracts.NewValidator
	newDeadLetterWriter func(*kafka.Config) kafka.MessageWriter = func(config *kafka.Config) kafka.MessageWriter {
		return kafka.NewWriter(config, config.DLQTopic)
	}
	newConsumer func(*kafka.Config, kafka.MessageHandler, *logging.Logger, ...kafka.ConsumerOption) consumer = func(config *kafka.Config, handler kafka.MessageHandler, logger *logging.Logger, opts ...kafka.ConsumerOption) consumer {
		return kafka.NewConsumer(config, handler, logger, opts...)
	}
	newServer func(addr string, handler http.Handler) server = func(addr string, handler http.Handler) server {
		return &http.Server{
			Addr:         addr,
			Handler:      handler,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		}
	}
)

func main() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	if err := run(context.Background(), quit); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, quit <-chan os.Signal) error {
	cfg, err := loadConfig()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		return err
	}

	logger := newLogger(cfg.Logging())
	logger.SetDefault()
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	logger.Info("Starting channel-sync-service worker",
		"topic", cfg.KafkaTopic,
		"group", cfg.KafkaConsumerGroup,
		"waitBound", cfg.VendorWaitBound.String(),
		"policy", cfg.SyncFailurePolicy,
	)

	tp, err := initializeTracing(ctx, cfg.Tracing())
	if err != nil {
		logger.WithError(err).Error("Failed to initialize tracing")
	} else if tp != nil {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tp.Shutdown(shutdownCtx); err != nil {
				logger.WithError(err).Error("Failed to shutdown tracer")
			}
		}()
		if cfg.TracingEnabled {
			logger.Info("Tracing initialized", "endpoint", cfg.OTLPEndpoint)
		}
	}

	m := metrics.New(metrics.DefaultConfig(config.ServiceName))

	clientOpts := []transport.Option{transport.WithMetrics(m)}
	if cfg.VendorCircuitBreakerEnabled {
		clientOpts = append(clientOpts, transport.WithCircuitBreaker(newVendorBreaker(m, logger)))
	}
	vendor, err := newVendorClient(cfg.Vendor(), logger, clientOpts...)
	if err != nil {
		logger.WithError(err).Error("Failed to create vendor client")
		return err
	}

	syncHandler := application.NewSyncHandler(vendor, logger,
		application.WithWaitBound(cfg.VendorWaitBound),
		application.WithSyncMetrics(m),
	)

	validator, err := newContractValidator()
	if err != nil {
		logger.WithError(err).Error("Failed to load message contracts")
		return err
	}

	kafkaConfig := cfg.Kafka()
	checkContractTopics(logger, validator, kafkaConfig)

	consumerOpts := []kafka.ConsumerOption{kafka.WithMetrics(m)}
	if kafkaConfig.DeadLetterEnabled() {
		dlq := kafka.NewProducer(
			newDeadLetterWriter(kafkaConfig),
			kafkaConfig.DLQTopic,
			cloudevents.NewEventFactory(cloudevents.SourceChannelSync),
			logger,
		)
		defer func() {
			if err := dlq.Close(); err != nil {
				logger.WithError(err).Error("Failed to close dead-letter producer")
			}
		}()
		consumerOpts = append(consumerOpts, kafka.WithDeadLetterPublisher(dlq))
		logger.Info("Dead-letter topic enabled", "topic", kafkaConfig.DLQTopic)
	}

	handler := messaging.NewInventoryConsumer(syncHandler, logger,
		messaging.WithPolicy(cfg.OutcomePolicy()),
		messaging.WithContractValidator(validator),
		messaging.WithDeadLetter(kafkaConfig.DeadLetterEnabled()),
		messaging.WithMetrics(m),
	)
	inventoryConsumer := newConsumer(kafkaConfig, handler, logger, consumerOpts...)

	consumerCtx, cancelConsumer := context.WithCancel(ctx)
	defer cancelConsumer()
	consumerDone := make(chan error, 1)
	go func() {
		consumerDone <- inventoryConsumer.Start(consumerCtx)
	}()

	srv := newServer(cfg.ServerAddr, api.NewRouter(config.ServiceName, logger, m, inventoryConsumer))
	go func() {
		logger.Info("Server started", "addr", cfg.ServerAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("Server error")
		}
	}()

	var runErr error
	select {
	case <-quit:
		logger.Info("Shutting down worker...")
	case <-ctx.Done():
		logger.Info("Context cancelled, shutting down worker...")
	case err := <-consumerDone:
		consumerDone = nil
		if err != nil {
			logger.WithError(err).Error("Consumer stopped unexpectedly")
			runErr = err
		} else {
			logger.Warn("Consumer stopped")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	// In-flight syncs finish within the wait bound before the reader is closed.
	cancelConsumer()
	if consumerDone != nil {
		select {
		case <-consumerDone:
		case <-shutdownCtx.Done():
			logger.Warn("Consumer did not stop before shutdown timeout")
		}
	}
	if err := inventoryConsumer.Close(); err != nil {
		logger.WithError(err).Error("Failed to close consumer")
	}

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}

	logger.Info("Worker stopped")
	return runErr
}

// checkContractTopics logs the loaded contract and warns when a configured topic
// differs from the address the contract documents for it.
func checkContractTopics(logger *logging.Logger, validator *contracts.Validator, k *kafka.Config) {
	logger.Info("Message contracts loaded", "version", validator.Version(), "schemas", validator.SchemaNames())

	topics := []struct{ channel, topic string }{
		{contracts.ChannelInventoryUpdates, k.Topic},
		{contracts.ChannelInventoryDeadLetter, k.DLQTopic},
	}
	for _, t := range topics {
		if t.topic == "" {
			continue
		}
		if address, ok := validator.ChannelAddress(t.channel); ok && address != t.topic {
			logger.Warn("Configured topic differs from contract channel address",
				"channel", t.channel,
				"address", address,
				"topic", t.topic,
			)
		}
	}
}

// newVendorBreaker builds the storefront circuit breaker and reports its state to metrics
func newVendorBreaker(m *metrics.Metrics, logger *logging.Logger) *resilience.Breaker {
	breakerConfig := resilience.DefaultBreakerConfig(vendorChannel)
	breakerConfig.Counts = transport.CountsAgainstBreaker
	breakerConfig.OnStateChange = func(name string, _, to gobreaker.State) {
		m.SetCircuitBreakerState(name, resilience.StateValue(to))
		if to == gobreaker.StateOpen {
			m.RecordCircuitBreakerTrip(name)
		}
	}
	return resilience.NewBreaker(breakerConfig, logger.Logger)
}
