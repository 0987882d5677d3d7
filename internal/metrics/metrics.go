// Package metrics exposes Prometheus metrics for the chat routes.
//
// Metrics:
//   - friday_requests_total: requests by route and terminal state
//   - friday_request_duration_seconds: time from request to stream close
//   - friday_steps_total: model steps by route
//   - friday_tool_calls_total: tool invocations by tool and outcome
//   - friday_stream_chunks_total: UI chunks written by chunk type
//   - friday_tokens_total: backend tokens by provider and direction
//
// All methods are safe to call on a nil *Metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "friday"

type Metrics struct {
	registry *prometheus.Registry

	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	steps           *prometheus.CounterVec
	toolCalls       *prometheus.CounterVec
	chunks          *prometheus.CounterVec
	tokens          *prometheus.CounterVec
}

// New registers all metrics on registry, or on a fresh registry when nil.
func New(registry *prometheus.Registry) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	m := &Metrics{
		registry: registry,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Chat requests by route and terminal state.",
		}, []string{"route", "state"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Time from request receipt to stream close.",
			// LLM streams run from sub-second to minutes.
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"route"}),
		steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "steps_total",
			Help:      "Model reasoning steps started.",
		}, []string{"route"}),
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Tool invocations by tool and outcome.",
		}, []string{"tool", "outcome"}),
		chunks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_chunks_total",
			Help:      "UI message stream chunks written.",
		}, []string{"type"}),
		tokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_total",
			Help:      "Tokens reported by the backend.",
		}, []string{"provider", "direction"}),
	}

	registry.MustRegister(m.requests, m.requestDuration, m.steps, m.toolCalls, m.chunks, m.tokens)
	return m
}

func (m *Metrics) ObserveRequest(route, state string, d time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(route, state).Inc()
	m.requestDuration.WithLabelValues(route).Observe(d.Seconds())
}

func (m *Metrics) IncStep(route string) {
	if m == nil {
		return
	}
	m.steps.WithLabelValues(route).Inc()
}

func (m *Metrics) IncToolCall(tool string, ok bool) {
	if m == nil {
		return
	}
	outcome := "ok"
	if !ok {
		outcome = "error"
	}
	m.toolCalls.WithLabelValues(tool, outcome).Inc()
}

func (m *Metrics) IncChunk(chunkType string) {
	if m == nil {
		return
	}
	m.chunks.WithLabelValues(chunkType).Inc()
}

func (m *Metrics) AddTokens(provider string, input, output int64) {
	if m == nil {
		return
	}
	if input > 0 {
		m.tokens.WithLabelValues(provider, "input").Add(float64(input))
	}
	if output > 0 {
		m.tokens.WithLabelValues(provider, "output").Add(float64(output))
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	})
}
