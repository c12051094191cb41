package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects operational metrics for the engine. Each instance owns
// its registry so parallel clients and tests never collide on registration.
type Metrics struct {
	registry *prometheus.Registry

	requests *prometheus.CounterVec
	tokens   *prometheus.CounterVec
	turns    prometheus.Histogram
	latency  *prometheus.HistogramVec
}

// NewMetrics creates a metrics collector with its own registry.
func NewMetrics() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.requests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "omnillm_requests_total",
		Help: "Completed engine calls by provider, model and outcome.",
	}, []string{"provider", "model", "outcome"})

	m.tokens = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "omnillm_tokens_total",
		Help: "Tokens consumed by provider, model and direction.",
	}, []string{"provider", "model", "direction"})

	m.turns = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "omnillm_tool_turns",
		Help:    "Tool-loop turns per completed call.",
		Buckets: []float64{1, 2, 3, 5, 8, 10, 15},
	})

	m.latency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "omnillm_call_duration_seconds",
		Help:    "End-to-end call duration in seconds.",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"provider", "model"})

	m.registry.MustRegister(m.requests, m.tokens, m.turns, m.latency)
	return m
}

// RecordCall records a completed engine call.
func (m *Metrics) RecordCall(provider, model, outcome string, turns int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(provider, model, outcome).Inc()
	m.turns.Observe(float64(turns))
	m.latency.WithLabelValues(provider, model).Observe(elapsed.Seconds())
}

// RecordTokens records token consumption for a call.
func (m *Metrics) RecordTokens(provider, model string, input, output int) {
	if m == nil {
		return
	}
	if input > 0 {
		m.tokens.WithLabelValues(provider, model, "input").Add(float64(input))
	}
	if output > 0 {
		m.tokens.WithLabelValues(provider, model, "output").Add(float64(output))
	}
}

// Handler exposes the collectors in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
