// Package metrics provides Prometheus metrics for the relay gateway.
package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Default histogram buckets for request latency.
var defaultBuckets = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}

// Relay event outcomes.
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

// Values of the "via" label: requests replayed for the relay host, or
// requests that reached the local listener directly.
const (
	ViaRelay  = "relay"
	ViaDirect = "direct"
)

// Metrics holds all Prometheus metric collectors for the gateway.
type Metrics struct {
	Registry *prometheus.Registry

	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	LocalDuration  *prometheus.HistogramVec
	LocalResponses *prometheus.CounterVec

	RelayEvents        *prometheus.CounterVec
	RelayEventDuration *prometheus.HistogramVec
	RelayConnected     prometheus.Gauge
	RelaySessions      prometheus.Counter
	CompressedBytes    prometheus.Counter
	UncompressedBytes  prometheus.Counter
}

// New creates a Metrics instance with a custom registry and all collectors registered.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		Registry: reg,

		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "onair_http_requests_total",
			Help: "Total HTTP requests served by the local app.",
		}, []string{"method", "status_code", "path_prefix", "via"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "onair_http_request_duration_seconds",
			Help:    "Local app request latency in seconds.",
			Buckets: defaultBuckets,
		}, []string{"method", "status_code", "path_prefix", "via"}),

		RequestsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "onair_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed.",
		}),

		LocalDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "onair_local_call_duration_seconds",
			Help:    "In-process call latency for forwarded requests in seconds.",
			Buckets: defaultBuckets,
		}, []string{"method"}),

		LocalResponses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "onair_local_responses_total",
			Help: "Total in-process responses by method and status code.",
		}, []string{"method", "status_code"}),

		RelayEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "onair_relay_events_total",
			Help: "Relay events handled, by event name and outcome.",
		}, []string{"event", "outcome"}),

		RelayEventDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "onair_relay_event_duration_seconds",
			Help:    "Time from receiving a relay event to writing its ack, in seconds.",
			Buckets: defaultBuckets,
		}, []string{"event"}),

		RelayConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "onair_relay_connected",
			Help: "1 while an outbound relay session is established.",
		}),

		RelaySessions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "onair_relay_sessions_total",
			Help: "Total relay sessions established.",
		}),

		CompressedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "onair_relay_compressed_bytes_total",
			Help: "Gzip bytes sent back to the relay host.",
		}),

		UncompressedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "onair_relay_uncompressed_bytes_total",
			Help: "Local response body bytes before compression.",
		}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.RequestsInFlight,
		m.LocalDuration,
		m.LocalResponses,
		m.RelayEvents,
		m.RelayEventDuration,
		m.RelayConnected,
		m.RelaySessions,
		m.CompressedBytes,
		m.UncompressedBytes,
	)

	return m
}

// knownMethods lists the allowed HTTP method label values (bounded cardinality).
var knownMethods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "DELETE": true,
	"PATCH": true, "HEAD": true, "OPTIONS": true,
}

// NormalizeMethod returns a bounded HTTP method label for Prometheus metrics.
// Non-standard methods are mapped to "other" to prevent cardinality explosion.
func NormalizeMethod(method string) string {
	if knownMethods[method] {
		return method
	}
	return "other"
}

// knownPrefixes lists the allowed path label values (bounded cardinality).
var knownPrefixes = []string{"/healthz", "/relay/status", "/metrics"}

// NormalizePath returns a bounded path label for Prometheus metrics.
func NormalizePath(path string) string {
	if path == "/" || path == "" {
		return "/"
	}
	for _, prefix := range knownPrefixes {
		if path == prefix || strings.HasPrefix(path, prefix+"/") || strings.HasPrefix(path, prefix+"?") {
			return prefix
		}
	}
	return "other"
}

// knownEvents lists the allowed relay event label values.
var knownEvents = map[string]bool{"get": true}

// NormalizeEvent returns a bounded relay event label.
func NormalizeEvent(event string) string {
	if knownEvents[event] {
		return event
	}
	return "other"
}
