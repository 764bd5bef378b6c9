package cloudevents

import (
	"time"
)

// Event types emitted by the channel sync service
const (
	InventoryDeadLettered = "channelsync.inventory.dead-lettered"
)

// Source constants for event sources
const (
	SourceChannelSync = "/channel-sync-service"
)

// Extension attribute names, carried as ce-<name> Kafka headers
const (
	ExtCorrelationID = "correlationid"
	ExtTraceParent   = "traceparent"
	ExtTraceState    = "tracestate"
)

// CloudEvent represents a CloudEvents v1.0 compliant event
type CloudEvent struct {
	SpecVersion     string      `json:"specversion"`
	Type            string      `json:"type"`
	Source          string      `json:"source"`
	Subject         string      `json:"subject,omitempty"`
	ID              string      `json:"id"`
	Time            time.Time   `json:"time"`
	DataContentType string      `json:"datacontenttype"`
	Data            interface{} `json:"data"`

	CorrelationID string `json:"correlationid,omitempty"`
	TraceParent   string `json:"traceparent,omitempty"`
	TraceState    string `json:"tracestate,omitempty"`
}

// DeadLetterData is the payload of an InventoryDeadLettered event.
// Payload keeps the original message bytes verbatim so the message can be replayed.
type DeadLetterData struct {
	Reason    string `json:"reason"`
	Error     string `json:"error"`
	Topic     string `json:"topic"`
	Partition int    `json:"partition"`
	Offset    int64  `json:"offset"`
	Key       string `json:"key,omitempty"`
	Payload   []byte `json:"payload"`
}
