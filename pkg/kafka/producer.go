package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/wms-platform/channel-sync-service/pkg/cloudevents"
	"github.com/wms-platform/channel-sync-service/pkg/logging"
	"github.com/wms-platform/channel-sync-service/pkg/tracing"
)

// MessageWriter is the subset of *kafka.Writer the producer needs
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewWriter builds a synchronous kafka-go writer for topic
func NewWriter(config *Config, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(config.Brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    config.BatchSize,
		BatchTimeout: config.BatchTimeout,
		RequiredAcks: kafka.RequiredAcks(config.RequiredAcks),
		Transport:    &kafka.Transport{ClientID: config.ClientID},
	}
}

// Producer publishes CloudEvents to one topic
type Producer struct {
	writer  MessageWriter
	topic   string
	factory *cloudevents.EventFactory
	logger  *logging.Logger
	tracer  trace.Tracer
}

// NewProducer creates a producer writing to topic through writer
func NewProducer(writer MessageWriter, topic string, factory *cloudevents.EventFactory, logger *logging.Logger) *Producer {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Producer{
		writer:  writer,
		topic:   topic,
		factory: factory,
		logger:  logger.WithComponent("kafka-producer"),
		tracer:  otel.Tracer("kafka-producer"),
	}
}

// PublishEvent publishes a CloudEvent, keyed by its subject
func (p *Producer) PublishEvent(ctx context.Context, event *cloudevents.CloudEvent) error {
	start := time.Now()

	ctx, span := p.tracer.Start(ctx, "kafka.publish",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(tracing.PublishAttributes(p.topic, event.Type, event.ID)...),
	)

	msg, err := eventMessage(event)
	if err == nil {
		err = p.writer.WriteMessages(ctx, msg)
		if err != nil {
			err = fmt.Errorf("failed to publish event to topic %s: %w", p.topic, err)
		}
	}

	tracing.EndSpan(span, err)
	p.logger.KafkaPublish(ctx, p.topic, event.Type, err == nil, time.Since(start))
	return err
}

// PublishDeadLetter wraps msg in a dead-letter CloudEvent and publishes it.
// The original value is carried verbatim in the event data.
func (p *Producer) PublishDeadLetter(ctx context.Context, msg kafka.Message, reason string, cause error) error {
	data := cloudevents.DeadLetterData{
		Reason:    reason,
		Error:     errString(cause),
		Topic:     msg.Topic,
		Partition: msg.Partition,
		Offset:    msg.Offset,
		Key:       string(msg.Key),
		Payload:   msg.Value,
	}

	correlationID := logging.CorrelationIDFromContext(ctx)
	if correlationID == "" {
		correlationID = CorrelationID(msg)
	}

	return p.PublishEvent(ctx, p.factory.CreateDeadLetterEvent(ctx, correlationID, data))
}

// Close closes the underlying writer
func (p *Producer) Close() error {
	return p.writer.Close()
}

// eventMessage renders a CloudEvent as a structured-mode Kafka message with ce-* headers
func eventMessage(event *cloudevents.CloudEvent) (kafka.Message, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(event.Subject),
		Value: data,
		Headers: []kafka.Header{
			{Key: HeaderSpecVersion, Value: []byte(event.SpecVersion)},
			{Key: HeaderType, Value: []byte(event.Type)},
			{Key: HeaderSource, Value: []byte(event.Source)},
			{Key: HeaderID, Value: []byte(event.ID)},
			{Key: HeaderTime, Value: []byte(event.Time.Format(time.RFC3339))},
			{Key: HeaderContentType, Value: []byte(event.DataContentType)},
		},
		Time: event.Time,
	}

	if event.CorrelationID != "" {
		msg.Headers = append(msg.Headers, kafka.Header{Key: HeaderCorrelationID, Value: []byte(event.CorrelationID)})
	}
	if event.TraceParent != "" {
		msg.Headers = append(msg.Headers, kafka.Header{Key: HeaderTraceParent, Value: []byte(event.TraceParent)})
	}
	if event.TraceState != "" {
		msg.Headers = append(msg.Headers, kafka.Header{Key: HeaderTraceState, Value: []byte(event.TraceState)})
	}

	return msg, nil
}
