package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	fastBuckets = []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1}
	syncBuckets = []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}
)

// Metrics is the set of collectors exported on /metrics.
// Every series carries a "service" label as its first label.
type Metrics struct {
	serviceName string
	registry    *prometheus.Registry

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	KafkaMessagesConsumed   *prometheus.CounterVec
	KafkaMessagesDeadLetter *prometheus.CounterVec
	KafkaPublishDuration    *prometheus.HistogramVec
	KafkaDecodeFailures     *prometheus.CounterVec

	ChannelSyncsTotal      *prometheus.CounterVec
	ChannelSyncDuration    *prometheus.HistogramVec
	ChannelVendorResponses *prometheus.CounterVec

	// 0=closed, 1=half-open, 2=open
	CircuitBreakerState *prometheus.GaugeVec
	CircuitBreakerTrips *prometheus.CounterVec
}

// Config holds metrics configuration
type Config struct {
	ServiceName string
	Namespace   string
}

func DefaultConfig(serviceName string) *Config {
	return &Config{
		ServiceName: serviceName,
		Namespace:   "channel_sync",
	}
}

// New registers all collectors on a fresh registry, so instances never collide.
func New(config *Config) *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	f := factory{auto: promauto.With(registry), namespace: config.Namespace}

	return &Metrics{
		serviceName: config.ServiceName,
		registry:    registry,

		HTTPRequestsTotal:   f.counter("http_requests_total", "Ops API requests served", "method", "path", "status"),
		HTTPRequestDuration: f.histogram("http_request_duration_seconds", "Ops API request latency", fastBuckets, "method", "path"),

		KafkaMessagesConsumed:   f.counter("kafka_messages_consumed_total", "Inbound messages by disposition", "topic", "disposition"),
		KafkaMessagesDeadLetter: f.counter("kafka_messages_dead_lettered_total", "Dead-letter publish attempts", "topic", "reason", "status"),
		KafkaPublishDuration:    f.histogram("kafka_publish_duration_seconds", "Dead-letter publish latency", fastBuckets, "topic"),
		KafkaDecodeFailures:     f.counter("kafka_decode_failures_total", "Inbound messages that could not be decoded", "topic", "reason"),

		ChannelSyncsTotal:      f.counter("syncs_total", "Inventory sync attempts by outcome", "channel", "outcome"),
		ChannelSyncDuration:    f.histogram("sync_duration_seconds", "Inventory sync attempt latency", syncBuckets, "channel"),
		ChannelVendorResponses: f.counter("vendor_responses_total", "Storefront API responses by status code", "channel", "status"),

		CircuitBreakerState: f.gauge("circuit_breaker_state", "Circuit breaker state (0=closed, 1=half-open, 2=open)", "name"),
		CircuitBreakerTrips: f.counter("circuit_breaker_trips_total", "Transitions into the open state", "name"),
	}
}

type factory struct {
	auto      promauto.Factory
	namespace string
}

func serviceLabels(labels []string) []string {
	return append([]string{"service"}, labels...)
}

func (f factory) counter(name, help string, labels ...string) *prometheus.CounterVec {
	return f.auto.NewCounterVec(prometheus.CounterOpts{Namespace: f.namespace, Name: name, Help: help}, serviceLabels(labels))
}

func (f factory) gauge(name, help string, labels ...string) *prometheus.GaugeVec {
	return f.auto.NewGaugeVec(prometheus.GaugeOpts{Namespace: f.namespace, Name: name, Help: help}, serviceLabels(labels))
}

func (f factory) histogram(name, help string, buckets []float64, labels ...string) *prometheus.HistogramVec {
	return f.auto.NewHistogramVec(prometheus.HistogramOpts{Namespace: f.namespace, Name: name, Help: help, Buckets: buckets}, serviceLabels(labels))
}

// Handler serves the registry in Prometheus or OpenMetrics format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(m.serviceName, method, path, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(m.serviceName, method, path).Observe(duration.Seconds())
}

// RecordKafkaConsume counts a message by what the consumer did with it (ack, nack, dead-letter)
func (m *Metrics) RecordKafkaConsume(topic, disposition string) {
	m.KafkaMessagesConsumed.WithLabelValues(m.serviceName, topic, disposition).Inc()
}

func (m *Metrics) RecordDeadLetter(topic, reason string, success bool, duration time.Duration) {
	status := "success"
	if !success {
		status = "error"
	}
	m.KafkaMessagesDeadLetter.WithLabelValues(m.serviceName, topic, reason, status).Inc()
	m.KafkaPublishDuration.WithLabelValues(m.serviceName, topic).Observe(duration.Seconds())
}

func (m *Metrics) RecordDecodeFailure(topic, reason string) {
	m.KafkaDecodeFailures.WithLabelValues(m.serviceName, topic, reason).Inc()
}

// RecordSync counts one sync attempt as succeeded or failed and observes its latency
func (m *Metrics) RecordSync(channel string, success bool, duration time.Duration) {
	outcome := "succeeded"
	if !success {
		outcome = "failed"
	}
	m.ChannelSyncsTotal.WithLabelValues(m.serviceName, channel, outcome).Inc()
	m.ChannelSyncDuration.WithLabelValues(m.serviceName, channel).Observe(duration.Seconds())
}

func (m *Metrics) RecordVendorResponse(channel string, status int) {
	m.ChannelVendorResponses.WithLabelValues(m.serviceName, channel, strconv.Itoa(status)).Inc()
}

func (m *Metrics) SetCircuitBreakerState(name string, state int) {
	m.CircuitBreakerState.WithLabelValues(m.serviceName, name).Set(float64(state))
}

func (m *Metrics) RecordCircuitBreakerTrip(name string) {
	m.CircuitBreakerTrips.WithLabelValues(m.serviceName, name).Inc()
}
