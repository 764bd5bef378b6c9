package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	apperrors "github.com/wms-platform/channel-sync-service/pkg/errors"
	"github.com/wms-platform/channel-sync-service/pkg/logging"
	"github.com/wms-platform/channel-sync-service/pkg/metrics"
	"github.com/wms-platform/channel-sync-service/pkg/resilience"
	"github.com/wms-platform/channel-sync-service/pkg/tracing"
)

const (
	channelShopify  = "shopify"
	maxResponseBody = 1 << 20
	rawBodySnippet  = 512
)

// Config holds vendor client configuration
type Config struct {
	BaseURL     string
	AccessToken string
	UserAgent   string
	// Timeout caps the whole HTTP exchange. It is a safety net above the sync wait bound.
	Timeout time.Duration
}

// DefaultConfig returns default vendor client configuration
func DefaultConfig() Config {
	return Config{
		UserAgent: "channel-sync-service",
		Timeout:   30 * time.Second,
	}
}

// VendorClient posts JSON to the storefront's admin API. It holds no per-call
// state and is safe for concurrent use.
type VendorClient struct {
	baseURL     string
	accessToken string
	userAgent   string
	httpClient  *http.Client
	breaker     *resilience.Breaker
	logger      *logging.Logger
	metrics     *metrics.Metrics
	tracer      trace.Tracer
}

// Option configures a VendorClient
type Option func(*VendorClient)

// WithHTTPClient replaces the default *http.Client
func WithHTTPClient(client *http.Client) Option {
	return func(c *VendorClient) {
		c.httpClient = client
	}
}

// WithCircuitBreaker routes every call through breaker. Build it with
// CountsAgainstBreaker as its Counts filter so vendor rejections do not trip it.
func WithCircuitBreaker(breaker *resilience.Breaker) Option {
	return func(c *VendorClient) {
		c.breaker = breaker
	}
}

// WithMetrics records vendor response status codes
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *VendorClient) {
		c.metrics = m
	}
}

// NewVendorClient creates a client for config.BaseURL
func NewVendorClient(config Config, logger *logging.Logger, opts ...Option) (*VendorClient, error) {
	base, err := url.Parse(strings.TrimSpace(config.BaseURL))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, apperrors.ErrConfig("vendor base URL must be an absolute http(s) URL").
			WithDetail("baseUrl", config.BaseURL).
			Wrap(err)
	}
	if logger == nil {
		logger = logging.Nop()
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultConfig().Timeout
	}

	c := &VendorClient{
		baseURL:     strings.TrimRight(base.String(), "/"),
		accessToken: config.AccessToken,
		userAgent:   config.UserAgent,
		httpClient:  &http.Client{Timeout: config.Timeout},
		logger:      logger.WithComponent("vendor-client"),
		tracer:      otel.Tracer("channel-sync/transport/shopify"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// PostJSON sends body as JSON to path and decodes the response object.
// Exactly one request is issued per call; there is no retry.
func (c *VendorClient) PostJSON(ctx context.Context, path string, body any) (map[string]any, error) {
	if c.breaker == nil {
		return c.post(ctx, path, body)
	}

	response, err := resilience.Call(ctx, c.breaker, func(ctx context.Context) (map[string]any, error) {
		return c.post(ctx, path, body)
	})
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return nil, &TransportError{Method: http.MethodPost, URL: c.baseURL + path, Err: err}
	}
	return response, err
}

func (c *VendorClient) post(ctx context.Context, path string, body any) (map[string]any, error) {
	endpoint := c.baseURL + path
	start := time.Now()

	ctx, span := c.tracer.Start(ctx, "shopify.inventory_levels.set",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(tracing.VendorCallAttributes(channelShopify, http.MethodPost, endpoint)...),
	)

	status, response, err := c.do(ctx, endpoint, body)
	if status != 0 {
		span.SetAttributes(attribute.Int("http.status_code", status))
		if c.metrics != nil {
			c.metrics.RecordVendorResponse(channelShopify, status)
		}
	}
	tracing.EndSpan(span, err)
	c.logger.VendorCall(ctx, channelShopify, http.MethodPost, path, status, time.Since(start), err)

	return response, err
}

func (c *VendorClient) do(ctx context.Context, endpoint string, body any) (int, map[string]any, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return 0, nil, fmt.Errorf("encode vendor request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return 0, nil, &TransportError{Method: http.MethodPost, URL: endpoint, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.accessToken != "" {
		req.Header.Set("X-Shopify-Access-Token", c.accessToken)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	tracing.Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, &TransportError{Method: http.MethodPost, URL: endpoint, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return resp.StatusCode, nil, &TransportError{Method: http.MethodPost, URL: endpoint, Err: fmt.Errorf("read response body: %w", err)}
	}

	var decoded map[string]any
	decodeErr := json.Unmarshal(raw, &decoded)
	if decodeErr == nil && decoded == nil {
		decodeErr = errors.New("response body is not a JSON object")
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		statusErr := &VendorStatusError{StatusCode: resp.StatusCode, RawBody: snippet(raw)}
		if decodeErr == nil {
			statusErr.Body = decoded
		}
		return resp.StatusCode, nil, statusErr
	}

	if decodeErr != nil {
		return resp.StatusCode, nil, &DecodeResponseError{StatusCode: resp.StatusCode, RawBody: snippet(raw), Err: decodeErr}
	}
	return resp.StatusCode, decoded, nil
}

func snippet(raw []byte) string {
	if len(raw) > rawBodySnippet {
		return string(raw[:rawBodySnippet]) + "..."
	}
	return string(raw)
}
