package metrics

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/harun/warden/pkg/gate"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the authorization engine.
// It implements gate.AuditSink and toolexecutor.ExecutionObserver.
type Metrics struct {
	registry *prometheus.Registry

	// Gate metrics
	DecisionsTotal   *prometheus.CounterVec
	TierTotal        *prometheus.CounterVec
	ContentFindings  *prometheus.CounterVec
	ContentRiskTotal *prometheus.CounterVec

	// Tool metrics
	ToolExecutionsTotal   *prometheus.CounterVec
	ToolExecutionDuration *prometheus.HistogramVec
	ApprovalsTotal        *prometheus.CounterVec

	// Config metrics
	PolicyReloadsTotal *prometheus.CounterVec
	PolicyRules        prometheus.Gauge
}

// NewMetrics creates and registers all metrics on a private registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,

		DecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_authorization_decisions_total",
				Help: "Total number of authorization decisions by deciding stage",
			},
			[]string{"stage", "allowed"},
		),
		TierTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_danger_tier_total",
				Help: "Total number of authorizations by danger tier",
			},
			[]string{"tier"},
		),
		ContentFindings: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_content_findings_total",
				Help: "Total number of content scanner findings",
			},
			[]string{"category", "severity"},
		),
		ContentRiskTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_content_risk_total",
				Help: "Total number of scanned payloads by aggregate risk level",
			},
			[]string{"risk_level"},
		),

		ToolExecutionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_tool_executions_total",
				Help: "Total number of tool executions",
			},
			[]string{"tool_name", "status"},
		),
		ToolExecutionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "warden_tool_execution_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"tool_name"},
		),
		ApprovalsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_approvals_total",
				Help: "Total number of approval escalations by outcome",
			},
			[]string{"outcome"},
		),

		PolicyReloadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_policy_reloads_total",
				Help: "Total number of policy reload attempts",
			},
			[]string{"result"},
		),
		PolicyRules: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "warden_policy_rules",
				Help: "Number of policy rules currently loaded",
			},
		),
	}

	m.registry.MustRegister(
		m.DecisionsTotal,
		m.TierTotal,
		m.ContentFindings,
		m.ContentRiskTotal,
		m.ToolExecutionsTotal,
		m.ToolExecutionDuration,
		m.ApprovalsTotal,
		m.PolicyReloadsTotal,
		m.PolicyRules,
	)

	return m
}

// Record implements gate.AuditSink.
func (m *Metrics) Record(rec gate.AuditRecord) {
	m.DecisionsTotal.WithLabelValues(string(rec.Stage), strconv.FormatBool(rec.Allowed)).Inc()
	m.TierTotal.WithLabelValues(rec.Tier.String()).Inc()

	// tier denials never reach the scanner
	if rec.Stage == gate.StageTier {
		return
	}
	m.ContentRiskTotal.WithLabelValues(rec.RiskLevel.String()).Inc()
	for _, f := range rec.Findings {
		m.ContentFindings.WithLabelValues(f.Category, f.Severity.String()).Inc()
	}
}

// ObserveExecution records one tool execution outcome.
func (m *Metrics) ObserveExecution(tool, status string, duration time.Duration) {
	m.ToolExecutionsTotal.WithLabelValues(tool, status).Inc()
	if status != "denied" {
		m.ToolExecutionDuration.WithLabelValues(tool).Observe(duration.Seconds())
	}
}

// ObserveApproval records the outcome of an approval escalation.
func (m *Metrics) ObserveApproval(tool string, approved bool) {
	outcome := "denied"
	if approved {
		outcome = "approved"
	}
	m.ApprovalsTotal.WithLabelValues(outcome).Inc()
}

// ObserveReload records a policy reload attempt and, on success, the rule count.
func (m *Metrics) ObserveReload(rules int, err error) {
	if err != nil {
		m.PolicyReloadsTotal.WithLabelValues("error").Inc()
		return
	}
	m.PolicyReloadsTotal.WithLabelValues("success").Inc()
	m.PolicyRules.Set(float64(rules))
}

// TrackAuditDrops exposes a running count of audit records that were never
// persisted. It can be registered once per Metrics.
func (m *Metrics) TrackAuditDrops(dropped func() uint64) error {
	c := prometheus.NewCounterFunc(
		prometheus.CounterOpts{
			Name: "warden_audit_records_dropped_total",
			Help: "Total number of audit records dropped before reaching persistent sinks",
		},
		func() float64 { return float64(dropped()) },
	)
	if err := m.registry.Register(c); err != nil {
		return fmt.Errorf("failed to register audit drop counter: %w", err)
	}
	return nil
}

// Handler returns an HTTP handler for the metrics endpoint
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
