package graph

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics provides Prometheus-compatible metrics for orchestration
// run outcomes and step execution, namespaced "attackgraph_".
//
// Grounded on the teacher project's PrometheusMetrics (same promauto
// registration pattern), with the concurrency-scheduler metrics
// (inflight_nodes, queue_depth, merge_conflicts, backpressure) replaced by
// the linear CAMRO engine's metrics: run outcome by dispatch path, step
// throughput by kind, repair frequency, and compilation token-budget usage
// (SPEC_FULL.md §4.14).
type PrometheusMetrics struct {
	runs          *prometheus.CounterVec
	stepsExecuted *prometheus.CounterVec
	repairs       prometheus.Counter
	stepDuration  *prometheus.HistogramVec
	tokenBudget   *prometheus.HistogramVec

	mu      sync.RWMutex
	enabled bool
}

// NewPrometheusMetrics creates and registers all orchestration metrics with
// registry. Pass prometheus.DefaultRegisterer for the global registry, or a
// fresh prometheus.NewRegistry() for test isolation.
func NewPrometheusMetrics(registry prometheus.Registerer) *PrometheusMetrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	pm := &PrometheusMetrics{enabled: true}

	pm.runs = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "attackgraph",
		Name:      "runs_total",
		Help:      "Completed dispatcher runs by dispatch path and outcome",
	}, []string{"path", "success"}) // path: cold_start, warm_start; success: true, false

	pm.stepsExecuted = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "attackgraph",
		Name:      "steps_executed_total",
		Help:      "Steps dispatched by handler kind",
	}, []string{"kind"}) // kind: HTTP_REQUEST, SHELL_COMMAND, REGEX_MATCH

	pm.repairs = factory.NewCounter(prometheus.CounterOpts{
		Namespace: "attackgraph",
		Name:      "repairs_total",
		Help:      "Repair Coordinator invocations triggered by a SYSTEMIC failure",
	})

	pm.stepDuration = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "attackgraph",
		Name:      "step_duration_seconds",
		Help:      "Step handler execution duration in seconds",
		Buckets:   prometheus.DefBuckets,
	}, []string{"kind", "phase"})

	pm.tokenBudget = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "attackgraph",
		Name:      "compile_token_budget_used",
		Help:      "Cumulative compilation tokens spent per fingerprint by the time a graph is produced or abandoned",
		Buckets:   []float64{500, 1000, 2000, 4000, 8000, 16000, 32000},
	}, []string{"outcome"}) // outcome: compiled, budget_exceeded

	return pm
}

// RecordRun records one dispatcher run's terminal outcome.
func (pm *PrometheusMetrics) RecordRun(path string, success bool) {
	if !pm.enabled {
		return
	}
	pm.runs.WithLabelValues(path, boolLabel(success)).Inc()
}

// RecordStepExecuted increments the per-kind step throughput counter.
func (pm *PrometheusMetrics) RecordStepExecuted(kind StepKind) {
	if !pm.enabled {
		return
	}
	pm.stepsExecuted.WithLabelValues(string(kind)).Inc()
}

// RecordStepDuration observes a step handler's wall-clock duration.
func (pm *PrometheusMetrics) RecordStepDuration(kind StepKind, phase Phase, d time.Duration) {
	if !pm.enabled {
		return
	}
	pm.stepDuration.WithLabelValues(string(kind), string(phase)).Observe(d.Seconds())
}

// IncrementRepairs records one Repair Coordinator invocation.
func (pm *PrometheusMetrics) IncrementRepairs() {
	if !pm.enabled {
		return
	}
	pm.repairs.Inc()
}

// RecordTokenBudgetUsed observes the cumulative compilation tokens spent on
// a fingerprint, labeled by whether compilation succeeded or the budget was
// exceeded first.
func (pm *PrometheusMetrics) RecordTokenBudgetUsed(tokensSpent int, exceeded bool) {
	if !pm.enabled {
		return
	}
	outcome := "compiled"
	if exceeded {
		outcome = "budget_exceeded"
	}
	pm.tokenBudget.WithLabelValues(outcome).Observe(float64(tokensSpent))
}

// Disable temporarily stops metric recording (useful for tests sharing a
// registry across cases).
func (pm *PrometheusMetrics) Disable() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.enabled = false
}

// Enable re-enables metric recording after Disable.
func (pm *PrometheusMetrics) Enable() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.enabled = true
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
