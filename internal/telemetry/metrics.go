package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics collects the run-level counters/histograms named in
// SPEC_FULL.md's Ambient Stack: steps executed, checkpoint writes, agent
// pool utilization, DLQ depth. Grounded on kadirpekel-hector's
// pkg/observability/metrics.go CounterVec/HistogramVec/GaugeVec
// construction-plus-nil-receiver-no-op pattern, generalized from Hector's
// agent/LLM/tool domains to Prodigy's step/checkpoint/agent/DLQ domain.
type Metrics struct {
	registry *prometheus.Registry

	stepsTotal       *prometheus.CounterVec
	stepDuration     *prometheus.HistogramVec
	checkpointWrites *prometheus.CounterVec
	agentPoolActive  prometheus.Gauge
	agentResults     *prometheus.CounterVec
	dlqDepth         *prometheus.GaugeVec
}

// NewMetrics constructs a Metrics bound to its own registry. A nil Metrics
// receiver no-ops every recording method, so callers may pass (*Metrics)(nil)
// when metrics are disabled without branching at every call site.
func NewMetrics() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.stepsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "prodigy",
		Subsystem: "engine",
		Name:      "steps_total",
		Help:      "Total number of workflow steps executed, by outcome.",
	}, []string{"outcome"})

	m.stepDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "prodigy",
		Subsystem: "engine",
		Name:      "step_duration_seconds",
		Help:      "Step execution duration in seconds.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 14), // 50ms to ~410s
	}, []string{"kind"})

	m.checkpointWrites = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "prodigy",
		Subsystem: "checkpoint",
		Name:      "writes_total",
		Help:      "Total number of checkpoint writes, by store and outcome.",
	}, []string{"store", "outcome"})

	m.agentPoolActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "prodigy",
		Subsystem: "agentpool",
		Name:      "active_agents",
		Help:      "Number of agents currently holding a pool permit.",
	})

	m.agentResults = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "prodigy",
		Subsystem: "agentpool",
		Name:      "results_total",
		Help:      "Total number of agent results, by outcome.",
	}, []string{"outcome"})

	m.dlqDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "prodigy",
		Subsystem: "dlq",
		Name:      "depth",
		Help:      "Number of dead-lettered items currently held per job.",
	}, []string{"job_id"})

	m.registry.MustRegister(m.stepsTotal, m.stepDuration, m.checkpointWrites,
		m.agentPoolActive, m.agentResults, m.dlqDepth)
	return m
}

// Registry exposes the underlying Prometheus registry for an in-process
// scrape (no HTTP server is wired; SPEC_FULL.md's Non-goals exclude
// dashboards, not instrumentation).
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// RecordStep records one step's outcome and duration.
func (m *Metrics) RecordStep(kind, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.stepsTotal.WithLabelValues(outcome).Inc()
	m.stepDuration.WithLabelValues(kind).Observe(d.Seconds())
}

// RecordCheckpointWrite records one checkpoint write attempt.
func (m *Metrics) RecordCheckpointWrite(store string, success bool) {
	if m == nil {
		return
	}
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	m.checkpointWrites.WithLabelValues(store, outcome).Inc()
}

// SetActiveAgents sets the current agent pool occupancy.
func (m *Metrics) SetActiveAgents(n int) {
	if m == nil {
		return
	}
	m.agentPoolActive.Set(float64(n))
}

// RecordAgentResult records one agent's terminal outcome.
func (m *Metrics) RecordAgentResult(success bool) {
	if m == nil {
		return
	}
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	m.agentResults.WithLabelValues(outcome).Inc()
}

// SetDLQDepth sets the current dead-letter count for jobID.
func (m *Metrics) SetDLQDepth(jobID string, depth int) {
	if m == nil {
		return
	}
	m.dlqDepth.WithLabelValues(jobID).Set(float64(depth))
}
