// Package metrics exposes the process's Prometheus collectors and the
// dedicated /metrics listener.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is the central collector set. One instance per process.
//
// The collectors cover the conversational core end to end: event
// classification, execution lifecycle, mid-flight injections, provider
// calls, tool calls, roundtable fan-out, approvals, and background
// workers.
type Metrics struct {
	// EventCounter counts classified Slack events.
	// Labels: kind (summon|regenerate|cancel|file_share|roundtable|
	// directed|follow_up|default|mention|ignored)
	EventCounter *prometheus.CounterVec

	// ExecutionCounter counts finished executions.
	// Labels: instance, outcome (completed|cancelled|error)
	ExecutionCounter *prometheus.CounterVec

	// ExecutionDuration measures execution wall time in seconds.
	// Labels: instance
	// Buckets: 1s to 10m
	ExecutionDuration *prometheus.HistogramVec

	// ActiveExecutions gauges in-flight executions.
	// Labels: instance
	ActiveExecutions *prometheus.GaugeVec

	// InjectionCounter counts mid-flight message injections applied.
	// Labels: instance
	InjectionCounter *prometheus.CounterVec

	// ProviderRequestCounter counts provider calls.
	// Labels: provider, model, status (success|error|cancelled)
	ProviderRequestCounter *prometheus.CounterVec

	// ProviderRequestDuration measures provider call latency in seconds.
	// Labels: provider, model
	ProviderRequestDuration *prometheus.HistogramVec

	// ProviderTokens counts tokens by direction.
	// Labels: provider, model, type (prompt|completion)
	ProviderTokens *prometheus.CounterVec

	// ToolCounter counts tool executions.
	// Labels: tool, status (success|error)
	ToolCounter *prometheus.CounterVec

	// ToolDuration measures tool execution time in seconds.
	// Labels: tool
	ToolDuration *prometheus.HistogramVec

	// RoundtableCounter counts per-instance roundtable outcomes.
	// Labels: instance, outcome (posted|passed|error)
	RoundtableCounter *prometheus.CounterVec

	// ApprovalCounter counts approval resolutions.
	// Labels: outcome (answered|timeout)
	ApprovalCounter *prometheus.CounterVec

	// WorkerCounter counts background worker outcomes.
	// Labels: outcome (dispatched|completed|failed|cancelled)
	WorkerCounter *prometheus.CounterVec

	// ReconnectCounter counts forced Socket Mode reconnects. Reasons are
	// free-form (clock jumps, failed health probes) so they stay in logs,
	// not labels.
	ReconnectCounter prometheus.Counter
}

// New creates and registers all collectors with the default registry.
// Call once at startup.
func New() *Metrics {
	return NewWith(prometheus.DefaultRegisterer)
}

// NewWith registers the collectors with a caller-supplied registerer.
// Tests use isolated registries so parallel suites never collide.
func NewWith(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		EventCounter: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "troupe_events_total",
				Help: "Total classified Slack events by kind",
			},
			[]string{"kind"},
		),

		ExecutionCounter: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "troupe_executions_total",
				Help: "Total finished executions by instance and outcome",
			},
			[]string{"instance", "outcome"},
		),

		ExecutionDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "troupe_execution_duration_seconds",
				Help:    "Execution wall time in seconds",
				Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
			},
			[]string{"instance"},
		),

		ActiveExecutions: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "troupe_active_executions",
				Help: "Executions currently in flight by instance",
			},
			[]string{"instance"},
		),

		InjectionCounter: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "troupe_injections_total",
				Help: "Mid-flight message injections applied by instance",
			},
			[]string{"instance"},
		),

		ProviderRequestCounter: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "troupe_provider_requests_total",
				Help: "Total provider requests by provider, model, and status",
			},
			[]string{"provider", "model", "status"},
		),

		ProviderRequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "troupe_provider_request_duration_seconds",
				Help:    "Provider request latency in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),

		ProviderTokens: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "troupe_provider_tokens_total",
				Help: "Total tokens by provider, model, and type",
			},
			[]string{"provider", "model", "type"},
		),

		ToolCounter: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "troupe_tool_executions_total",
				Help: "Total tool executions by tool and status",
			},
			[]string{"tool", "status"},
		),

		ToolDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "troupe_tool_execution_duration_seconds",
				Help:    "Tool execution time in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool"},
		),

		RoundtableCounter: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "troupe_roundtable_responses_total",
				Help: "Roundtable responses by instance and outcome",
			},
			[]string{"instance", "outcome"},
		),

		ApprovalCounter: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "troupe_approvals_total",
				Help: "Approval resolutions by outcome",
			},
			[]string{"outcome"},
		),

		WorkerCounter: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "troupe_workers_total",
				Help: "Background worker outcomes",
			},
			[]string{"outcome"},
		),

		ReconnectCounter: f.NewCounter(
			prometheus.CounterOpts{
				Name: "troupe_reconnects_total",
				Help: "Forced Socket Mode reconnects",
			},
		),
	}
}

// EventClassified counts one routed event.
func (m *Metrics) EventClassified(kind string) {
	m.EventCounter.WithLabelValues(kind).Inc()
}

// ExecutionStarted bumps the in-flight gauge.
func (m *Metrics) ExecutionStarted(instance string) {
	m.ActiveExecutions.WithLabelValues(instance).Inc()
}

// ExecutionFinished records the outcome and drops the in-flight gauge.
func (m *Metrics) ExecutionFinished(instance, outcome string, durationSeconds float64) {
	m.ActiveExecutions.WithLabelValues(instance).Dec()
	m.ExecutionCounter.WithLabelValues(instance, outcome).Inc()
	m.ExecutionDuration.WithLabelValues(instance).Observe(durationSeconds)
}

// InjectionApplied counts messages injected into a live execution.
func (m *Metrics) InjectionApplied(instance string, count int) {
	if count <= 0 {
		return
	}
	m.InjectionCounter.WithLabelValues(instance).Add(float64(count))
}

// RecordProviderRequest records one provider call.
func (m *Metrics) RecordProviderRequest(provider, model, status string, durationSeconds float64, promptTokens, completionTokens int) {
	m.ProviderRequestCounter.WithLabelValues(provider, model, status).Inc()
	m.ProviderRequestDuration.WithLabelValues(provider, model).Observe(durationSeconds)
	if promptTokens > 0 {
		m.ProviderTokens.WithLabelValues(provider, model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		m.ProviderTokens.WithLabelValues(provider, model, "completion").Add(float64(completionTokens))
	}
}

// RecordToolExecution records one tool call.
func (m *Metrics) RecordToolExecution(tool, status string, durationSeconds float64) {
	m.ToolCounter.WithLabelValues(tool, status).Inc()
	m.ToolDuration.WithLabelValues(tool).Observe(durationSeconds)
}

// RoundtableResponse records one instance's roundtable outcome.
func (m *Metrics) RoundtableResponse(instance, outcome string) {
	m.RoundtableCounter.WithLabelValues(instance, outcome).Inc()
}

// ApprovalResolved records how an approval ended.
func (m *Metrics) ApprovalResolved(outcome string) {
	m.ApprovalCounter.WithLabelValues(outcome).Inc()
}

// WorkerOutcome records a background worker lifecycle step.
func (m *Metrics) WorkerOutcome(outcome string) {
	m.WorkerCounter.WithLabelValues(outcome).Inc()
}

// Reconnected counts one forced Socket Mode reconnect.
func (m *Metrics) Reconnected() {
	m.ReconnectCounter.Inc()
}
