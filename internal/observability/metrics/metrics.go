// Package metrics exposes agent, tool, task and HTTP metrics in Prometheus
// format.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"AutoAgent/internal/agent"
	"AutoAgent/internal/task"
)

const namespace = "autoagent"

// Metrics owns a private registry so several instances can coexist in tests.
type Metrics struct {
	registry *prometheus.Registry

	runs          *prometheus.CounterVec
	runIterations *prometheus.HistogramVec
	runDuration   *prometheus.HistogramVec
	toolCalls     *prometheus.CounterVec
	toolDuration  *prometheus.HistogramVec
	tasks         *prometheus.CounterVec
	httpRequests  *prometheus.CounterVec
	httpErrors    *prometheus.CounterVec
	httpLatency   *prometheus.HistogramVec
}

// New registers every collector on a fresh registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Total number of agent runs by final status.",
		}, []string{"status"}),
		runIterations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_iterations",
			Help:      "Iterations consumed by each agent run.",
			Buckets:   []float64{1, 2, 3, 5, 8, 10, 15, 20, 25},
		}, []string{"status"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall-clock duration of agent runs.",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
		}, []string{"status"}),
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_dispatch_total",
			Help:      "Tool dispatches by tool and outcome.",
		}, []string{"tool", "outcome"}),
		toolDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tool_duration_seconds",
			Help:      "Tool execution duration in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"tool"}),
		tasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_finished_total",
			Help:      "Background tasks that reached a terminal state.",
		}, []string{"status", "source"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests processed.",
		}, []string{"handler", "method", "code"}),
		httpErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_request_errors_total",
			Help:      "Total number of HTTP requests that resulted in a server error.",
		}, []string{"handler", "method"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"handler", "method"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.runs, m.runIterations, m.runDuration,
		m.toolCalls, m.toolDuration,
		m.tasks,
		m.httpRequests, m.httpErrors, m.httpLatency,
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// RunFinished implements agent.Observer.
func (m *Metrics) RunFinished(status agent.Status, iterations int, elapsed time.Duration) {
	label := string(status)
	m.runs.WithLabelValues(label).Inc()
	m.runIterations.WithLabelValues(label).Observe(float64(iterations))
	m.runDuration.WithLabelValues(label).Observe(elapsed.Seconds())
}

// ToolDispatched implements agent.Observer.
func (m *Metrics) ToolDispatched(name string, failed bool, elapsed time.Duration) {
	outcome := "ok"
	if failed {
		outcome = "failed"
	}
	m.toolCalls.WithLabelValues(name, outcome).Inc()
	m.toolDuration.WithLabelValues(name).Observe(elapsed.Seconds())
}

// TaskFinished records a task that reached a terminal state. It matches the
// processor's completion hook.
func (m *Metrics) TaskFinished(t *task.Task) {
	if t == nil {
		return
	}
	source := t.Source
	if source == "" {
		source = "unknown"
	}
	m.tasks.WithLabelValues(string(t.Status), source).Inc()
}

// ObserveHTTPRequest records metrics about an HTTP request lifecycle.
func (m *Metrics) ObserveHTTPRequest(handler, method string, status int, duration time.Duration) {
	m.httpRequests.WithLabelValues(handler, method, strconv.Itoa(status)).Inc()
	if status >= http.StatusInternalServerError {
		m.httpErrors.WithLabelValues(handler, method).Inc()
	}
	m.httpLatency.WithLabelValues(handler, method).Observe(duration.Seconds())
}

// Handler exposes the metrics in Prometheus text exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

var _ agent.Observer = (*Metrics)(nil)
