package cloudevents

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/propagation"

	"github.com/wms-platform/channel-sync-service/pkg/tracing"
)

// EventFactory creates CloudEvents for a single source
type EventFactory struct {
	source string
	now    func() time.Time
}

// NewEventFactory creates a new EventFactory for a specific source
func NewEventFactory(source string) *EventFactory {
	return &EventFactory{source: source, now: time.Now}
}

// CreateEvent creates a new CloudEvent with the given parameters.
// W3C trace context from ctx is copied onto the event.
func (f *EventFactory) CreateEvent(ctx context.Context, eventType, subject string, data interface{}) *CloudEvent {
	event := &CloudEvent{
		SpecVersion:     "1.0",
		Type:            eventType,
		Source:          f.source,
		Subject:         subject,
		ID:              uuid.New().String(),
		Time:            f.now().UTC(),
		DataContentType: "application/json",
		Data:            data,
	}

	carrier := propagation.MapCarrier{}
	tracing.Inject(ctx, carrier)
	event.TraceParent = carrier[ExtTraceParent]
	event.TraceState = carrier[ExtTraceState]

	return event
}

// CreateDeadLetterEvent wraps a message that could not be handled
func (f *EventFactory) CreateDeadLetterEvent(ctx context.Context, correlationID string, data DeadLetterData) *CloudEvent {
	event := f.CreateEvent(ctx, InventoryDeadLettered, data.Topic+"/"+data.Key, data)
	event.CorrelationID = correlationID
	return event
}
