// Package metrics provides Prometheus metrics for the chat server
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 对话轮次结果
const (
	OutcomeCompleted   = "completed"
	OutcomeStreamError = "stream_error"
	OutcomeUnavailable = "unavailable"
	OutcomeTruncated   = "truncated"
	OutcomeAborted     = "aborted"
	OutcomeSaveError   = "save_error"
)

// Metrics holds all Prometheus metrics for the server.
// Each instance owns its registry so tests can create as many as they need.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP request metrics
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	// Chat relay metrics
	ChatTurnsTotal      *prometheus.CounterVec
	ChatChunksTotal     prometheus.Counter
	ChatTurnDuration    prometheus.Histogram
	ContextTokens       prometheus.Histogram
	ProviderErrorsTotal *prometheus.CounterVec

	// Cache metrics
	CacheRequestsTotal *prometheus.CounterVec

	// Live event metrics
	WebsocketClients prometheus.Gauge
}

// New creates and registers all metrics on a fresh registry
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	m := &Metrics{registry: reg}

	m.HTTPRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jensengpt_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	m.HTTPRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "jensengpt_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	m.HTTPRequestsInFlight = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "jensengpt_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)

	m.ChatTurnsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jensengpt_chat_turns_total",
			Help: "Total number of chat turns by outcome",
		},
		[]string{"outcome"},
	)

	m.ChatChunksTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "jensengpt_chat_chunks_total",
			Help: "Total number of streamed chunks relayed to clients",
		},
	)

	m.ChatTurnDuration = factory.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "jensengpt_chat_turn_duration_seconds",
			Help:    "Duration of a chat turn from provider call to final record",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
	)

	m.ContextTokens = factory.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "jensengpt_context_tokens",
			Help:    "Estimated tokens of history sent upstream per turn",
			Buckets: prometheus.ExponentialBuckets(64, 2, 10),
		},
	)

	m.ProviderErrorsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jensengpt_provider_errors_total",
			Help: "Total number of provider failures by phase",
		},
		[]string{"phase"},
	)

	m.CacheRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jensengpt_cache_requests_total",
			Help: "Total number of cache lookups by pool and result",
		},
		[]string{"pool", "result"},
	)

	m.WebsocketClients = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "jensengpt_websocket_clients",
			Help: "Number of connected live event clients",
		},
	)

	return m
}

// Registry returns the registry backing these metrics
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RecordHTTPRequest records a finished HTTP request
func (m *Metrics) RecordHTTPRequest(method, route, status string, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, route, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordTurn records a finished chat turn
func (m *Metrics) RecordTurn(outcome string, duration time.Duration) {
	m.ChatTurnsTotal.WithLabelValues(outcome).Inc()
	m.ChatTurnDuration.Observe(duration.Seconds())
}

// RecordCache records a cache lookup
func (m *Metrics) RecordCache(pool string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheRequestsTotal.WithLabelValues(pool, result).Inc()
}
