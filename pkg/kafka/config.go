package kafka

import (
	"time"
)

const (
	DefaultTopic    = "inventory-updates"
	DefaultDLQTopic = DefaultTopic + ".dlq"
)

// Config describes one consumer group subscription and its optional dead-letter topic.
type Config struct {
	Brokers       []string
	ConsumerGroup string
	// ClientID identifies this process to the brokers on both reader and writer connections.
	ClientID string

	Topic string
	// Empty disables dead-lettering.
	DLQTopic string

	// Dead-letter writes are synchronous and single-message.
	BatchSize    int
	BatchTimeout time.Duration
	RequiredAcks int

	MinBytes      int
	MaxBytes      int
	MaxWait       time.Duration
	CommitTimeout time.Duration
}

func DefaultConfig() *Config {
	return &Config{
		Brokers:       []string{"localhost:9092"},
		ConsumerGroup: "channel-sync-service",
		ClientID:      "channel-sync-service",
		Topic:         DefaultTopic,
		DLQTopic:      DefaultDLQTopic,
		BatchSize:     1,
		BatchTimeout:  10 * time.Millisecond,
		RequiredAcks:  -1,
		MinBytes:      1,
		MaxBytes:      10 << 20,
		MaxWait:       500 * time.Millisecond,
		CommitTimeout: 5 * time.Second,
	}
}

// DeadLetterEnabled reports whether a dead-letter topic is configured
func (c *Config) DeadLetterEnabled() bool {
	return c.DLQTopic != ""
}

// CloudEvents binary-mode headers plus the plain correlation header some producers send.
const (
	HeaderSpecVersion    = "ce-specversion"
	HeaderType           = "ce-type"
	HeaderSource         = "ce-source"
	HeaderID             = "ce-id"
	HeaderTime           = "ce-time"
	HeaderContentType    = "content-type"
	HeaderCorrelationID  = "ce-correlationid"
	HeaderTraceParent    = "ce-traceparent"
	HeaderTraceState     = "ce-tracestate"
	HeaderXCorrelationID = "x-correlation-id"
)
