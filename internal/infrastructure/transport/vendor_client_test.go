package transport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/wms-platform/channel-sync-service/pkg/errors"
	"github.com/wms-platform/channel-sync-service/pkg/metrics"
	"github.com/wms-platform/channel-sync-service/pkg/resilience"
)

const setPath = "/admin/api/latest/inventory_levels/set.json"

type inventoryLevelsSetRequest struct {
	InventoryItemID string `json:"inventory_item_id"`
	LocationID      int64  `json:"location_id"`
	Available       int64  `json:"available"`
}

func newTestClient(t *testing.T, server *httptest.Server, opts ...Option) *VendorClient {
	t.Helper()
	opts = append([]Option{WithHTTPClient(server.Client())}, opts...)
	client, err := NewVendorClient(Config{
		BaseURL:     server.URL,
		AccessToken: "shpat_test",
		UserAgent:   "channel-sync-test",
	}, nil, opts...)
	require.NoError(t, err)
	return client
}

func TestPostJSON_Success(t *testing.T) {
	var gotBody map[string]any
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, setPath, r.URL.Path)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.Equal(t, "shpat_test", r.Header.Get("X-Shopify-Access-Token"))
		require.Equal(t, "channel-sync-test", r.Header.Get("User-Agent"))

		raw, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(raw, &gotBody))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"inventory_level":{"inventory_item_id":1001,"location_id":12345,"available":50}}`))
	}))
	defer server.Close()

	client := newTestClient(t, server)
	resp, err := client.PostJSON(context.Background(), setPath, inventoryLevelsSetRequest{
		InventoryItemID: "1001",
		LocationID:      12345,
		Available:       50,
	})
	require.NoError(t, err)

	level, ok := resp["inventory_level"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(50), level["available"])
	assert.Equal(t, map[string]any{
		"inventory_item_id": "1001",
		"location_id":       float64(12345),
		"available":         float64(50),
	}, gotBody)
}

func TestPostJSON_NonSuccessStatusIsVendorError(t *testing.T) {
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"errors":["Inventory item does not have inventory tracking enabled"]}`))
	}))
	defer server.Close()

	m := metrics.New(metrics.DefaultConfig("channel-sync-test"))
	client := newTestClient(t, server, WithMetrics(m))
	_, err := client.PostJSON(context.Background(), setPath, map[string]any{})
	require.Error(t, err)

	var statusErr *VendorStatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusUnprocessableEntity, statusErr.StatusCode)
	assert.Contains(t, statusErr.Error(), "inventory tracking")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ChannelVendorResponses.WithLabelValues("channel-sync-test", "shopify", "422")))
}

func TestPostJSON_MalformedResponse(t *testing.T) {
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>maintenance</html>`))
	}))
	defer server.Close()

	client := newTestClient(t, server)
	_, err := client.PostJSON(context.Background(), setPath, map[string]any{})

	var decodeErr *DecodeResponseError
	require.ErrorAs(t, err, &decodeErr)
	assert.Equal(t, http.StatusOK, decodeErr.StatusCode)
	assert.Contains(t, decodeErr.RawBody, "maintenance")
}

func TestPostJSON_NonObjectResponse(t *testing.T) {
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`null`))
	}))
	defer server.Close()

	client := newTestClient(t, server)
	_, err := client.PostJSON(context.Background(), setPath, map[string]any{})

	var decodeErr *DecodeResponseError
	require.ErrorAs(t, err, &decodeErr)
}

func TestPostJSON_TransportError(t *testing.T) {
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	client := newTestClient(t, server)
	server.Close()

	_, err := client.PostJSON(context.Background(), setPath, map[string]any{})

	var transportErr *TransportError
	require.ErrorAs(t, err, &transportErr)
	assert.Equal(t, http.MethodPost, transportErr.Method)
	assert.False(t, transportErr.Timeout())
}

func TestPostJSON_HTTPClientTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	httpClient := server.Client()
	httpClient.Timeout = 50 * time.Millisecond
	client := newTestClient(t, server, WithHTTPClient(httpClient))

	_, err := client.PostJSON(context.Background(), setPath, map[string]any{})

	var transportErr *TransportError
	require.ErrorAs(t, err, &transportErr)
	assert.True(t, transportErr.Timeout())
}

func TestPostJSON_ContextDeadline(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	client := newTestClient(t, server)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := client.PostJSON(ctx, setPath, map[string]any{})

	var transportErr *TransportError
	require.ErrorAs(t, err, &transportErr)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPostJSON_CircuitBreakerOpens(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"errors":"unavailable"}`))
	}))
	defer server.Close()

	config := resilience.DefaultBreakerConfig("shopify")
	config.ConsecutiveFailures = 2
	config.Counts = CountsAgainstBreaker
	breaker := resilience.NewBreaker(config, nil)
	client := newTestClient(t, server, WithCircuitBreaker(breaker))

	for i := 0; i < 2; i++ {
		_, err := client.PostJSON(context.Background(), setPath, map[string]any{})
		var statusErr *VendorStatusError
		require.ErrorAs(t, err, &statusErr)
	}

	_, err := client.PostJSON(context.Background(), setPath, map[string]any{})
	var transportErr *TransportError
	require.ErrorAs(t, err, &transportErr)
	assert.True(t, errors.Is(err, resilience.ErrCircuitOpen))
	assert.Equal(t, int32(2), hits.Load())
}

func TestPostJSON_VendorRejectionsDoNotTripBreaker(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"errors":{"inventory_item_id":["is invalid"]}}`))
	}))
	defer server.Close()

	config := resilience.DefaultBreakerConfig("shopify")
	config.ConsecutiveFailures = 2
	config.Counts = CountsAgainstBreaker
	client := newTestClient(t, server, WithCircuitBreaker(resilience.NewBreaker(config, nil)))

	for i := 0; i < 4; i++ {
		_, err := client.PostJSON(context.Background(), setPath, map[string]any{})
		var statusErr *VendorStatusError
		require.ErrorAs(t, err, &statusErr)
	}
	assert.Equal(t, int32(4), hits.Load())
}

func TestCountsAgainstBreaker(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"network", &TransportError{Method: http.MethodPost, URL: "u", Err: io.ErrUnexpectedEOF}, true},
		{"server error", &VendorStatusError{StatusCode: http.StatusBadGateway}, true},
		{"rate limited", &VendorStatusError{StatusCode: http.StatusTooManyRequests}, true},
		{"unprocessable", &VendorStatusError{StatusCode: http.StatusUnprocessableEntity}, false},
		{"not found", &VendorStatusError{StatusCode: http.StatusNotFound}, false},
		{"bad body", &DecodeResponseError{StatusCode: http.StatusOK, Err: io.ErrUnexpectedEOF}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CountsAgainstBreaker(tt.err))
		})
	}
}

func TestNewVendorClient_InvalidBaseURL(t *testing.T) {
	for _, raw := range []string{"", "not a url", "/relative/path"} {
		_, err := NewVendorClient(Config{BaseURL: raw}, nil)
		require.Error(t, err, raw)

		appErr, ok := apperrors.AsAppError(err)
		require.True(t, ok)
		assert.Equal(t, apperrors.CodeConfigError, appErr.Code)
	}
}

func TestNewVendorClient_TrimsTrailingSlash(t *testing.T) {
	var path string
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client, err := NewVendorClient(Config{BaseURL: server.URL + "/"}, nil, WithHTTPClient(server.Client()))
	require.NoError(t, err)

	_, err = client.PostJSON(context.Background(), setPath, map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, setPath, path)
}
