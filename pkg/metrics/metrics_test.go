package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorders(t *testing.T) {
	m := New(DefaultConfig("channel-sync-test"))

	m.RecordSync("shopify", true, 40*time.Millisecond)
	m.RecordSync("shopify", false, 5*time.Second)
	m.RecordSync("shopify", false, time.Second)
	m.RecordVendorResponse("shopify", 422)
	m.RecordKafkaConsume("inventory-updates", "ack")
	m.RecordDecodeFailure("inventory-updates", "contract")
	m.RecordDeadLetter("inventory-updates", "contract", false, time.Millisecond)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.ChannelSyncsTotal.WithLabelValues("channel-sync-test", "shopify", "succeeded")))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.ChannelSyncsTotal.WithLabelValues("channel-sync-test", "shopify", "failed")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ChannelVendorResponses.WithLabelValues("channel-sync-test", "shopify", "422")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.KafkaMessagesConsumed.WithLabelValues("channel-sync-test", "inventory-updates", "ack")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.KafkaDecodeFailures.WithLabelValues("channel-sync-test", "inventory-updates", "contract")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.KafkaMessagesDeadLetter.WithLabelValues("channel-sync-test", "inventory-updates", "contract", "error")))
}

func TestCircuitBreakerGauge(t *testing.T) {
	m := New(DefaultConfig("channel-sync-test"))
	m.SetCircuitBreakerState("shopify", 2)
	m.RecordCircuitBreakerTrip("shopify")

	assert.Equal(t, float64(2), testutil.ToFloat64(m.CircuitBreakerState.WithLabelValues("channel-sync-test", "shopify")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.CircuitBreakerTrips.WithLabelValues("channel-sync-test", "shopify")))
}

func TestHandlerServesRegistry(t *testing.T) {
	m := New(DefaultConfig("channel-sync-test"))
	m.RecordHTTPRequest("GET", "/ready", 200, time.Millisecond)

	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `channel_sync_http_requests_total{method="GET",path="/ready",service="channel-sync-test",status="200"} 1`)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}

func TestRegistriesAreIndependent(t *testing.T) {
	a := New(DefaultConfig("a"))
	b := New(DefaultConfig("b"))
	a.RecordSync("shopify", true, 0)

	assert.NotSame(t, a.Registry(), b.Registry())
	assert.Equal(t, 0, testutil.CollectAndCount(b.ChannelSyncsTotal))
}
