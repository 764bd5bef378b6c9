package kafka

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/wms-platform/channel-sync-service/pkg/logging"
	"github.com/wms-platform/channel-sync-service/pkg/metrics"
	"github.com/wms-platform/channel-sync-service/pkg/tracing"
)

// Reader is the subset of *kafka.Reader the consumer needs
type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// MessageHandler handles one message and says what to do with it.
// HandleMessage is called once per fetched message, sequentially per partition.
type MessageHandler interface {
	HandleMessage(ctx context.Context, msg kafka.Message) Disposition
}

// MessageHandlerFunc adapts a function to MessageHandler
type MessageHandlerFunc func(ctx context.Context, msg kafka.Message) Disposition

// HandleMessage calls f(ctx, msg)
func (f MessageHandlerFunc) HandleMessage(ctx context.Context, msg kafka.Message) Disposition {
	return f(ctx, msg)
}

// DeadLetterPublisher publishes a message that could not be handled
type DeadLetterPublisher interface {
	PublishDeadLetter(ctx context.Context, msg kafka.Message, reason string, cause error) error
}

// Consumer reads a single topic with a consumer group and dispatches each message
// to a MessageHandler. Offsets are committed explicitly, giving at-least-once delivery.
type Consumer struct {
	config     *Config
	reader     Reader
	handler    MessageHandler
	deadLetter DeadLetterPublisher
	logger     *logging.Logger
	metrics    *metrics.Metrics
	tracer     trace.Tracer
	running    atomic.Bool
}

// ConsumerOption configures a Consumer
type ConsumerOption func(*Consumer)

// WithReader replaces the kafka-go reader, mainly for tests
func WithReader(reader Reader) ConsumerOption {
	return func(c *Consumer) {
		c.reader = reader
	}
}

// WithDeadLetterPublisher enables DispositionDeadLetter
func WithDeadLetterPublisher(publisher DeadLetterPublisher) ConsumerOption {
	return func(c *Consumer) {
		c.deadLetter = publisher
	}
}

// WithMetrics records consume and dead-letter metrics
func WithMetrics(m *metrics.Metrics) ConsumerOption {
	return func(c *Consumer) {
		c.metrics = m
	}
}

// NewConsumer creates a new Kafka consumer
func NewConsumer(config *Config, handler MessageHandler, logger *logging.Logger, opts ...ConsumerOption) *Consumer {
	if logger == nil {
		logger = logging.Nop()
	}
	c := &Consumer{
		config:  config,
		handler: handler,
		logger:  logger.WithComponent("kafka-consumer"),
		tracer:  otel.Tracer("kafka-consumer"),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.reader == nil {
		c.reader = NewReader(config)
	}
	return c
}

// NewReader builds a kafka-go reader for config.Topic in config.ConsumerGroup
func NewReader(config *Config) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  config.Brokers,
		GroupID:  config.ConsumerGroup,
		Topic:    config.Topic,
		MinBytes: config.MinBytes,
		MaxBytes: config.MaxBytes,
		MaxWait:  config.MaxWait,
		Dialer: &kafka.Dialer{
			ClientID:  config.ClientID,
			Timeout:   10 * time.Second,
			DualStack: true,
		},
		// Commits are synchronous so a Nack is never flushed by a background committer.
		CommitInterval: 0,
	})
}

// Running reports whether the fetch loop is active
func (c *Consumer) Running() bool {
	return c.running.Load()
}

// Start runs the fetch loop until ctx is cancelled or the reader is closed.
// It returns nil on a clean stop.
func (c *Consumer) Start(ctx context.Context) error {
	c.running.Store(true)
	defer c.running.Store(false)

	c.logger.Info("Starting consumer for topic", "topic", c.config.Topic, "group", c.config.ConsumerGroup)

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				c.logger.Info("Stopping consumer for topic", "topic", c.config.Topic)
				return nil
			}
			c.logger.Error("Error fetching message", "topic", c.config.Topic, "error", err)
			continue
		}

		c.process(ctx, msg)
	}
}

// process runs the handler for one message and applies its disposition
func (c *Consumer) process(ctx context.Context, msg kafka.Message) {
	correlationID := CorrelationID(msg)
	ctx = logging.ContextWithCorrelationID(ctx, correlationID)
	ctx = logging.ContextWithMessage(ctx, msg.Topic, msg.Partition, msg.Offset)
	ctx = tracing.Extract(ctx, headerCarrier(msg.Headers))

	ctx, span := c.tracer.Start(ctx, "kafka.consume",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(tracing.MessageAttributes(msg.Topic, msg.Partition, msg.Offset, correlationID)...),
	)

	// The handler outlives a shutdown signal; it bounds its own work.
	disposition := c.dispatch(context.WithoutCancel(ctx), msg)
	span.SetAttributes(attribute.String("messaging.disposition", disposition.Kind.String()))

	var err error
	switch disposition.Kind {
	case DispositionAck:
		err = c.commit(ctx, msg)
	case DispositionDeadLetter:
		err = c.publishDeadLetter(ctx, msg, disposition)
		if err == nil {
			err = c.commit(ctx, msg)
		}
	case DispositionNack:
		c.logger.WithContext(ctx).Warn("Message left uncommitted", "reason", disposition.Reason, "error", errString(disposition.Err))
	}

	tracing.EndSpan(span, err)
	c.logger.KafkaConsume(ctx, msg.Topic, msg.Partition, msg.Offset, disposition.Kind.String())
	if c.metrics != nil {
		c.metrics.RecordKafkaConsume(msg.Topic, disposition.Kind.String())
	}
}

// dispatch calls the handler, turning a panic into a Nack
func (c *Consumer) dispatch(ctx context.Context, msg kafka.Message) (d Disposition) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Panic(ctx, r)
			d = Nack(fmt.Errorf("handler panic: %v", r))
		}
	}()
	return c.handler.HandleMessage(ctx, msg)
}

func (c *Consumer) publishDeadLetter(ctx context.Context, msg kafka.Message, d Disposition) error {
	if c.deadLetter == nil {
		err := errors.New("dead-letter requested but no dead-letter topic is configured")
		c.logger.WithContext(ctx).Error("Message left uncommitted", "reason", d.Reason, "error", err)
		return err
	}

	start := time.Now()
	err := c.deadLetter.PublishDeadLetter(ctx, msg, d.Reason, d.Err)
	if c.metrics != nil {
		c.metrics.RecordDeadLetter(msg.Topic, d.Reason, err == nil, time.Since(start))
	}
	if err != nil {
		c.logger.WithContext(ctx).Error("Dead-letter publish failed, message left uncommitted",
			"reason", d.Reason,
			"error", err,
		)
	}
	return err
}

// commit uses a context detached from ctx so a shutdown in progress does not drop the offset
func (c *Consumer) commit(ctx context.Context, msg kafka.Message) error {
	commitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.config.CommitTimeout)
	defer cancel()

	if err := c.reader.CommitMessages(commitCtx, msg); err != nil {
		c.logger.WithContext(ctx).Error("Error committing message", "topic", msg.Topic, "error", err)
		return err
	}
	return nil
}

// Close closes the underlying reader
func (c *Consumer) Close() error {
	if err := c.reader.Close(); err != nil {
		return fmt.Errorf("failed to close reader for topic %s: %w", c.config.Topic, err)
	}
	return nil
}

// CorrelationID returns the correlation id carried by msg, or a new one
func CorrelationID(msg kafka.Message) string {
	for _, key := range []string{HeaderCorrelationID, HeaderXCorrelationID} {
		if v := Header(msg, key); v != "" {
			return v
		}
	}
	return uuid.New().String()
}

// Header returns the value of the first header matching key, case-insensitively
func Header(msg kafka.Message, key string) string {
	for _, h := range msg.Headers {
		if strings.EqualFold(h.Key, key) {
			return string(h.Value)
		}
	}
	return ""
}

// headerCarrier exposes W3C trace headers, with or without the ce- prefix
func headerCarrier(headers []kafka.Header) propagation.MapCarrier {
	carrier := propagation.MapCarrier{}
	for _, h := range headers {
		key := strings.TrimPrefix(strings.ToLower(h.Key), "ce-")
		if key == "traceparent" || key == "tracestate" {
			carrier[key] = string(h.Value)
		}
	}
	return carrier
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
