package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/wms-platform/channel-sync-service/internal/application"
	"github.com/wms-platform/channel-sync-service/internal/domain"
	"github.com/wms-platform/channel-sync-service/internal/infrastructure/contracts"
	"github.com/wms-platform/channel-sync-service/pkg/kafka"
	"github.com/wms-platform/channel-sync-service/pkg/logging"
	"github.com/wms-platform/channel-sync-service/pkg/metrics"
)

// EventHandler syncs one decoded event
type EventHandler interface {
	Handle(ctx context.Context, event domain.InventoryChangeEvent) domain.SyncOutcome
}

// ContractValidator checks a raw payload before it is decoded
type ContractValidator interface {
	ValidateInventoryChange(payload []byte) error
}

// inventoryChangeMessage is the wire shape of an inventory-updates payload.
// Pointers tell an absent field from a zero value.
type inventoryChangeMessage struct {
	OrderID           *string `json:"orderId"`
	SKU               *string `json:"sku"`
	AvailableQuantity *int64  `json:"availableQuantity"`
	LocationID        *int64  `json:"locationId"`
}

func (m inventoryChangeMessage) missing() []string {
	var fields []string
	if m.OrderID == nil {
		fields = append(fields, "orderId")
	}
	if m.SKU == nil {
		fields = append(fields, "sku")
	}
	if m.AvailableQuantity == nil {
		fields = append(fields, "availableQuantity")
	}
	if m.LocationID == nil {
		fields = append(fields, "locationId")
	}
	return fields
}

// InventoryConsumer turns inventory-updates messages into sync attempts.
// It implements kafka.MessageHandler.
type InventoryConsumer struct {
	handler           EventHandler
	policy            application.OutcomePolicy
	validator         ContractValidator
	deadLetterEnabled bool
	logger            *logging.Logger
	metrics           *metrics.Metrics
}

// Option configures an InventoryConsumer
type Option func(*InventoryConsumer)

// WithPolicy sets the outcome policy. The default is application.AbsorbPolicy.
func WithPolicy(policy application.OutcomePolicy) Option {
	return func(c *InventoryConsumer) {
		c.policy = policy
	}
}

// WithContractValidator checks payloads against the AsyncAPI contract before decoding
func WithContractValidator(validator ContractValidator) Option {
	return func(c *InventoryConsumer) {
		c.validator = validator
	}
}

// WithDeadLetter makes undecodable messages go to the dead-letter topic instead of being skipped
func WithDeadLetter(enabled bool) Option {
	return func(c *InventoryConsumer) {
		c.deadLetterEnabled = enabled
	}
}

// WithMetrics records decode failures
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *InventoryConsumer) {
		c.metrics = m
	}
}

// NewInventoryConsumer creates a new inventory consumer
func NewInventoryConsumer(handler EventHandler, logger *logging.Logger, opts ...Option) *InventoryConsumer {
	if logger == nil {
		logger = logging.Nop()
	}
	c := &InventoryConsumer{
		handler: handler,
		policy:  application.AbsorbPolicy{},
		logger:  logger.WithComponent("inventory-consumer"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// HandleMessage decodes msg, runs one sync and returns the policy's disposition.
// Undecodable messages are logged and then dead-lettered or skipped; they never
// reach the sync handler.
func (c *InventoryConsumer) HandleMessage(ctx context.Context, msg kafkago.Message) kafka.Disposition {
	logger := c.logger.WithContext(ctx)

	event, err := c.Decode(msg.Value)
	if err != nil {
		reason := domain.DecodeReasonMalformed
		if de, ok := domain.AsDecodeError(err); ok {
			reason = de.Reason
		}
		if c.metrics != nil {
			c.metrics.RecordDecodeFailure(msg.Topic, reason)
		}

		action := "skipped"
		if c.deadLetterEnabled {
			action = "dead-lettered"
		}
		logger.Error("Rejected inventory change message",
			"reason", reason,
			"action", action,
			"key", string(msg.Key),
			"error", err.Error(),
		)

		if c.deadLetterEnabled {
			return kafka.DeadLetter(reason, err)
		}
		return kafka.Ack()
	}

	logger.Debug("Received inventory update event", event.LogAttrs()...)

	outcome := c.handler.Handle(ctx, event)
	return c.policy.Disposition(outcome)
}

// Decode validates and decodes an inventory-updates payload.
// Every failure is a *domain.DecodeError.
func (c *InventoryConsumer) Decode(payload []byte) (domain.InventoryChangeEvent, error) {
	if c.validator != nil {
		if err := c.validator.ValidateInventoryChange(payload); err != nil {
			if errors.Is(err, contracts.ErrMalformedJSON) {
				return domain.InventoryChangeEvent{}, domain.NewDecodeError(domain.DecodeReasonMalformed, err)
			}
			return domain.InventoryChangeEvent{}, domain.NewDecodeError(domain.DecodeReasonContract, err)
		}
	}

	var m inventoryChangeMessage
	if err := json.Unmarshal(payload, &m); err != nil {
		return domain.InventoryChangeEvent{}, domain.NewDecodeError(domain.DecodeReasonMalformed, err)
	}

	if missing := m.missing(); len(missing) > 0 {
		return domain.InventoryChangeEvent{}, domain.NewDecodeError(domain.DecodeReasonInvalidEvent,
			fmt.Errorf("missing fields: %s", strings.Join(missing, ", ")))
	}

	return domain.NewInventoryChangeEvent(*m.OrderID, *m.SKU, *m.AvailableQuantity, *m.LocationID)
}
