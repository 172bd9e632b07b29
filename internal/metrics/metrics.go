// Package metrics provides Prometheus metrics for riftstore.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the event store.
type Metrics struct {
	// Request metrics
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	// Event pipeline metrics
	EventsPublishedTotal *prometheus.CounterVec
	PublishErrorsTotal   *prometheus.CounterVec
	EventsReadTotal      *prometheus.CounterVec
	TopicsTotal          prometheus.Gauge

	// Dispatcher metrics
	DeliveryAttemptsTotal  *prometheus.CounterVec
	DeliverySuccessesTotal *prometheus.CounterVec
	DeliveryEvictionsTotal *prometheus.CounterVec
	DeliveryLatency        *prometheus.HistogramVec
	RunningDispatchers     prometheus.Gauge
	ConsumersTotal         prometheus.Gauge

	registry *prometheus.Registry
}

// New creates a new Metrics instance with all collectors registered.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}

	m.RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "riftstore_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	m.RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "riftstore_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	m.RequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "riftstore_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)

	m.EventsPublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "riftstore_events_published_total",
			Help: "Total number of events successfully persisted",
		},
		[]string{"topic"},
	)

	m.PublishErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "riftstore_publish_errors_total",
			Help: "Total number of publishBatch calls that failed",
		},
		[]string{"reason"},
	)

	m.EventsReadTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "riftstore_events_read_total",
			Help: "Total number of events returned by getEvents",
		},
		[]string{"topic"},
	)

	m.TopicsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "riftstore_topics_total",
			Help: "Total number of registered topics across all scopes",
		},
	)

	m.DeliveryAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "riftstore_delivery_attempts_total",
			Help: "Total number of dispatcher delivery POSTs attempted",
		},
		[]string{"topic"},
	)

	m.DeliverySuccessesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "riftstore_delivery_successes_total",
			Help: "Total number of dispatcher deliveries that succeeded",
		},
		[]string{"topic"},
	)

	m.DeliveryEvictionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "riftstore_delivery_evictions_total",
			Help: "Total number of consumers evicted after a failed delivery",
		},
		[]string{"topic"},
	)

	m.DeliveryLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "riftstore_delivery_latency_seconds",
			Help:    "Delivery POST latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"topic"},
	)

	m.RunningDispatchers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "riftstore_running_dispatchers",
			Help: "Number of currently running Topic Dispatchers",
		},
	)

	m.ConsumersTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "riftstore_consumers_total",
			Help: "Number of currently registered consumers",
		},
	)

	m.registry.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.RequestsInFlight,
		m.EventsPublishedTotal,
		m.PublishErrorsTotal,
		m.EventsReadTotal,
		m.TopicsTotal,
		m.DeliveryAttemptsTotal,
		m.DeliverySuccessesTotal,
		m.DeliveryEvictionsTotal,
		m.DeliveryLatency,
		m.RunningDispatchers,
		m.ConsumersTotal,
	)

	m.registry.MustRegister(prometheus.NewGoCollector())
	m.registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	return m
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Middleware returns HTTP middleware that records request metrics.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		m.RequestsInFlight.Inc()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		m.RequestsInFlight.Dec()
		duration := time.Since(start).Seconds()

		path := normalizePath(r.URL.Path)

		m.RequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.statusCode)).Inc()
		m.RequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// normalizePath normalizes a URL path to reduce cardinality, collapsing the
// variable topic/consumer-id segments of the event-store routes.
func normalizePath(path string) string {
	switch {
	case startsWith(path, "/topics/") && endsWith(path, "/events"):
		return "/topics/{topic}/events"
	case startsWith(path, "/topics/"):
		return "/topics/{topic}"
	case startsWith(path, "/consumers/"):
		return "/consumers/{id}"
	case contains(path, "/namespaces/") && endsWith(path, "/events"):
		return "/tenants/{tenant}/namespaces/{namespace}/topics/{topic}/events"
	case contains(path, "/namespaces/") && contains(path, "/topics/"):
		return "/tenants/{tenant}/namespaces/{namespace}/topics/{topic}"
	}
	return path
}

func startsWith(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

func endsWith(s, suffix string) bool {
	return len(s) >= len(suffix) && s[len(s)-len(suffix):] == suffix
}

func contains(s, substr string) bool {
	for i := 0; i <= len(s)-len(substr); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}

// RecordPublish records a batch of successful publishes for topic.
func (m *Metrics) RecordPublish(topic string, count int) {
	m.EventsPublishedTotal.WithLabelValues(topic).Add(float64(count))
}

// RecordPublishError records a rejected publishBatch call.
func (m *Metrics) RecordPublishError(reason string) {
	m.PublishErrorsTotal.WithLabelValues(reason).Inc()
}

// RecordRead records events returned from a getEvents call.
func (m *Metrics) RecordRead(topic string, count int) {
	m.EventsReadTotal.WithLabelValues(topic).Add(float64(count))
}

// RecordDelivery records one dispatcher delivery attempt and its outcome.
func (m *Metrics) RecordDelivery(topic string, success bool, duration time.Duration) {
	m.DeliveryAttemptsTotal.WithLabelValues(topic).Inc()
	m.DeliveryLatency.WithLabelValues(topic).Observe(duration.Seconds())
	if success {
		m.DeliverySuccessesTotal.WithLabelValues(topic).Inc()
	}
}

// RecordEviction records a consumer eviction after a failed delivery.
func (m *Metrics) RecordEviction(topic string) {
	m.DeliveryEvictionsTotal.WithLabelValues(topic).Inc()
}

// UpdateTopicsTotal sets the current topic count gauge.
func (m *Metrics) UpdateTopicsTotal(count float64) {
	m.TopicsTotal.Set(count)
}

// UpdateRunningDispatchers sets the current running-dispatcher gauge.
func (m *Metrics) UpdateRunningDispatchers(count float64) {
	m.RunningDispatchers.Set(count)
}

// UpdateConsumersTotal sets the current consumer-count gauge.
func (m *Metrics) UpdateConsumersTotal(count float64) {
	m.ConsumersTotal.Set(count)
}
