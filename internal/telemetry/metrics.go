// Package telemetry exposes Prometheus metrics for roundtables and context
// optimization, and sets up OpenTelemetry tracing.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/flemzord/roundtable/internal/ctxengine"
	"github.com/flemzord/roundtable/internal/roundtable"
)

const namespace = "roundtable"

// Metrics holds every collector on a private registry. It implements
// roundtable.Observer.
type Metrics struct {
	registry *prometheus.Registry

	calls        *prometheus.CounterVec
	callLatency  *prometheus.HistogramVec
	tokens       *prometheus.CounterVec
	cost         *prometheus.CounterVec
	executions   *prometheus.CounterVec
	execDuration prometheus.Histogram
	consensus    prometheus.Histogram

	optimizations *prometheus.CounterVec
	tokensSaved   prometheus.Counter
	projectTokens *prometheus.GaugeVec

	httpRequests *prometheus.CounterVec
}

// NewMetrics registers all collectors, plus the Go runtime and process
// collectors, on a fresh registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_calls_total",
			Help:      "Backend calls by outcome.",
		}, []string{"backend", "outcome"}),
		callLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "backend_call_duration_seconds",
			Help:      "Latency of backend calls.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		}, []string{"backend"}),
		tokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_tokens_total",
			Help:      "Tokens consumed per backend.",
		}, []string{"backend"}),
		cost: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_cost_usd_total",
			Help:      "Estimated spend per backend in USD.",
		}, []string{"backend"}),
		executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "executions_total",
			Help:      "Roundtable executions by result.",
		}, []string{"result"}),
		execDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "execution_duration_seconds",
			Help:      "Wall time of roundtable executions.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
		consensus: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "consensus_level",
			Help:      "Consensus level of completed executions.",
			Buckets:   prometheus.LinearBuckets(10, 10, 10),
		}),
		optimizations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "context_optimizations_total",
			Help:      "Context optimization runs by result.",
		}, []string{"result"}),
		tokensSaved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "context_tokens_saved_total",
			Help:      "Tokens removed from stored context by optimization.",
		}),
		projectTokens: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "context_project_tokens",
			Help:      "Running token total per project.",
		}, []string{"project"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Gateway requests by route, method and status.",
		}, []string{"route", "method", "status"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.calls, m.callLatency, m.tokens, m.cost,
		m.executions, m.execDuration, m.consensus,
		m.optimizations, m.tokensSaved, m.projectTokens,
		m.httpRequests,
	)
	return m
}

// ObserveCall implements roundtable.Observer.
func (m *Metrics) ObserveCall(backend, outcome string, latency time.Duration, tokens int, cost float64) {
	m.calls.WithLabelValues(backend, outcome).Inc()
	if outcome == roundtable.OutcomeSkipped {
		return
	}
	m.callLatency.WithLabelValues(backend).Observe(latency.Seconds())
	if tokens > 0 {
		m.tokens.WithLabelValues(backend).Add(float64(tokens))
	}
	if cost > 0 {
		m.cost.WithLabelValues(backend).Add(cost)
	}
}

// ObserveExecution implements roundtable.Observer.
func (m *Metrics) ObserveExecution(exec *roundtable.Execution, elapsed time.Duration) {
	result := "ok"
	switch {
	case !exec.Succeeded():
		result = "failed"
	case exec.Meta.Failed > 0:
		result = "partial"
	}
	m.executions.WithLabelValues(result).Inc()
	m.execDuration.Observe(elapsed.Seconds())
	if exec.Succeeded() {
		m.consensus.Observe(float64(exec.Meta.Consensus.Level))
	}
}

// ObserveOptimize records one optimization run over a project.
func (m *Metrics) ObserveOptimize(project string, res ctxengine.Result) {
	result := "noop"
	switch {
	case len(res.Applied) > 0 && res.TargetReached:
		result = "reached"
	case len(res.Applied) > 0:
		result = "partial"
	case !res.TargetReached:
		result = "infeasible"
	}
	m.optimizations.WithLabelValues(result).Inc()
	if saved := res.BeforeTokens - res.AfterTokens; saved > 0 {
		m.tokensSaved.Add(float64(saved))
	}
	m.projectTokens.WithLabelValues(project).Set(float64(res.AfterTokens))
}

// SetProjectTokens records a project's running total after a write.
func (m *Metrics) SetProjectTokens(project string, total int) {
	m.projectTokens.WithLabelValues(project).Set(float64(total))
}

// ObserveRequest counts one gateway request.
func (m *Metrics) ObserveRequest(route, method string, status int) {
	m.httpRequests.WithLabelValues(route, method, http.StatusText(status)).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

var _ roundtable.Observer = (*Metrics)(nil)
