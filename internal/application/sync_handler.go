package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/wms-platform/channel-sync-service/internal/domain"
	apperrors "github.com/wms-platform/channel-sync-service/pkg/errors"
	"github.com/wms-platform/channel-sync-service/pkg/logging"
	"github.com/wms-platform/channel-sync-service/pkg/metrics"
	"github.com/wms-platform/channel-sync-service/pkg/tracing"
)

const (
	// InventoryLevelsSetPath is the vendor endpoint that sets an absolute stock level.
	InventoryLevelsSetPath = "/admin/api/latest/inventory_levels/set.json"

	// DefaultWaitBound is how long a sync waits for the vendor before failing.
	DefaultWaitBound = 5 * time.Second

	channelShopify = "shopify"
)

// Transport issues one JSON POST to the vendor and returns the decoded response object.
// Implementations must be safe for concurrent use.
type Transport interface {
	PostJSON(ctx context.Context, path string, body any) (map[string]any, error)
}

// SyncHandler propagates one inventory change to the vendor. Every failure is
// absorbed into the returned outcome; Handle never returns an error or panics.
type SyncHandler struct {
	transport Transport
	waitBound time.Duration
	logger    *logging.Logger
	metrics   *metrics.Metrics
	tracer    trace.Tracer
	now       func() time.Time
}

// SyncHandlerOption configures a SyncHandler
type SyncHandlerOption func(*SyncHandler)

// WithWaitBound overrides DefaultWaitBound
func WithWaitBound(d time.Duration) SyncHandlerOption {
	return func(h *SyncHandler) {
		if d > 0 {
			h.waitBound = d
		}
	}
}

// WithSyncMetrics records sync outcome metrics
func WithSyncMetrics(m *metrics.Metrics) SyncHandlerOption {
	return func(h *SyncHandler) {
		h.metrics = m
	}
}

// NewSyncHandler creates a new sync handler
func NewSyncHandler(transport Transport, logger *logging.Logger, opts ...SyncHandlerOption) *SyncHandler {
	if logger == nil {
		logger = logging.Nop()
	}
	h := &SyncHandler{
		transport: transport,
		waitBound: DefaultWaitBound,
		logger:    logger.WithComponent("sync-handler"),
		tracer:    otel.Tracer("channel-sync"),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// WaitBound returns the configured wait bound
func (h *SyncHandler) WaitBound() time.Duration {
	return h.waitBound
}

type postResult struct {
	response map[string]any
	err      error
}

// Handle performs exactly one vendor call for event and logs exactly one outcome line.
// If the vendor does not answer within the wait bound the outcome is Failed even though
// the request may still complete on the vendor side.
func (h *SyncHandler) Handle(ctx context.Context, event domain.InventoryChangeEvent) domain.SyncOutcome {
	start := h.now()

	ctx, span := h.tracer.Start(ctx, "channelsync.inventory.sync",
		trace.WithAttributes(
			attribute.String("channel", channelShopify),
			attribute.String("inventory.sku", event.SKU()),
			attribute.String("inventory.item_reference", event.ItemReference()),
			attribute.Int64("inventory.location_id", event.LocationID()),
			attribute.Int64("inventory.available", event.AvailableQuantity()),
		),
	)

	progress := domain.StartSync()
	advance := func(next domain.SyncState) {
		if err := progress.Advance(next); err != nil {
			h.logger.WithContext(ctx).Warn("Unexpected sync state", "error", err.Error())
		}
		span.AddEvent(string(next))
	}
	span.AddEvent(string(domain.SyncStateReceived))

	request := event.SyncRequest()
	advance(domain.SyncStateMapped)
	advance(domain.SyncStateSent)
	response, err := h.post(ctx, request)
	duration := h.now().Sub(start)

	var outcome domain.SyncOutcome
	var transitionErr error
	if err != nil {
		outcome, transitionErr = progress.Failed(event, err, duration)
	} else {
		outcome, transitionErr = progress.Succeeded(event, response, duration)
	}
	if transitionErr != nil {
		h.logger.WithContext(ctx).Warn("Unexpected sync state", "error", transitionErr.Error())
	}
	span.AddEvent(string(outcome.State()))

	tracing.EndSpan(span, outcome.Err())
	h.record(ctx, outcome)
	return outcome
}

// post runs the transport call in its own goroutine so the wait bound holds even
// when a transport ignores its context.
func (h *SyncHandler) post(ctx context.Context, request domain.SyncRequest) (map[string]any, error) {
	callCtx, cancel := context.WithTimeout(ctx, h.waitBound)
	defer cancel()

	results := make(chan postResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				results <- postResult{err: fmt.Errorf("transport panic: %v", r)}
			}
		}()
		response, err := h.transport.PostJSON(callCtx, InventoryLevelsSetPath, request)
		results <- postResult{response: response, err: err}
	}()

	select {
	case r := <-results:
		if r.err != nil && isTimeout(r.err) && ctx.Err() == nil {
			return nil, h.timeoutError(r.err)
		}
		return r.response, r.err
	case <-callCtx.Done():
		if ctx.Err() != nil {
			return nil, fmt.Errorf("inventory sync abandoned: %w", ctx.Err())
		}
		return nil, h.timeoutError(callCtx.Err())
	}
}

// isTimeout matches deadline errors and any error in the chain reporting Timeout(),
// such as a transport error from an expired http.Client timeout.
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}

func (h *SyncHandler) timeoutError(cause error) error {
	return apperrors.ErrTimeout("shopify inventory_levels/set").
		WithDetail("waitBound", h.waitBound.String()).
		Wrap(fmt.Errorf("%w after %s: %w", domain.ErrSyncTimeout, h.waitBound, cause))
}

// record writes the single outcome log line and the sync metrics
func (h *SyncHandler) record(ctx context.Context, outcome domain.SyncOutcome) {
	event := outcome.Event()
	logger := h.logger.WithContext(ctx)
	attrs := append(event.LogAttrs(), "durationMs", outcome.Duration().Milliseconds())

	if outcome.Succeeded() {
		logger.Info("Shopify stock update response", append(attrs, "response", outcome.Response())...)
	} else {
		logger.Error("Failed to sync inventory to Shopify", append(attrs, "error", outcome.Err().Error())...)
	}

	if h.metrics != nil {
		h.metrics.RecordSync(channelShopify, outcome.Succeeded(), outcome.Duration())
	}
}
