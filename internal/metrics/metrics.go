package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	// Registry is the dedicated Prometheus registry for the API
	Registry = prometheus.NewRegistry()
	// HTTPRequests counts requests by method, route pattern, and status
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests."},
		[]string{"method", "path", "status"},
	)
	// HTTPDuration records request durations in seconds
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets},
		[]string{"method", "path", "status"},
	)

	// WebhookDeliveries counts deliveries reaching a recorded state by event type and status (success, retry, failed)
	WebhookDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "webhook_deliveries_total", Help: "Webhook delivery outcomes by event type and status."},
		[]string{"event_type", "status"},
	)
	// WebhookLatency tracks single-attempt latencies in milliseconds
	WebhookLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "webhook_delivery_latency_ms", Help: "Webhook delivery latency in ms.", Buckets: []float64{10, 50, 100, 200, 500, 1000, 2000, 5000, 10000}},
		[]string{"event_type", "status"},
	)
	// WebhookAttempts counts HTTP attempts by outcome class (2xx, 4xx, 5xx, error)
	WebhookAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "webhook_attempts_total", Help: "Webhook HTTP attempts by outcome class."},
		[]string{"outcome"},
	)
	// WebhooksDisabled counts webhooks moved to failed after reaching the failure threshold
	WebhooksDisabled = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "webhooks_disabled_total", Help: "Webhooks disabled by the failure threshold."},
	)
	// SweepProcessed counts attempts started by pending-delivery sweeps
	SweepProcessed = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "webhook_sweep_processed_total", Help: "Deliveries attempted by pending sweeps."},
	)
)

// RegisterDefault registers collectors to the dedicated registry.
func RegisterDefault() {
	regOnce.Do(func() {
		Registry.MustRegister(HTTPRequests)
		Registry.MustRegister(HTTPDuration)
		Registry.MustRegister(WebhookDeliveries)
		Registry.MustRegister(WebhookLatency)
		Registry.MustRegister(WebhookAttempts)
		Registry.MustRegister(WebhooksDisabled)
		Registry.MustRegister(SweepProcessed)
		// Go/process collectors on our registry
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

var regOnce sync.Once

// ObserveAttempt records one HTTP attempt. code is 0 for transport errors.
func ObserveAttempt(eventType string, code int, latency time.Duration) {
	status := "failure"
	if code >= 200 && code < 300 {
		status = "success"
	}
	WebhookLatency.WithLabelValues(eventType, status).Observe(float64(latency.Milliseconds()))
	WebhookAttempts.WithLabelValues(OutcomeClass(code)).Inc()
}

// OutcomeClass buckets a response code: 0 -> "error", 204 -> "2xx".
func OutcomeClass(code int) string {
	if code <= 0 {
		return "error"
	}
	return strconv.Itoa(code/100) + "xx"
}
