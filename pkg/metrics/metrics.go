// Package metrics exports Prometheus gauges/counters for the
// orchestration server's pool health, grounded on 88lin-divinesense's
// ai/metrics prometheus exporter: a registry-holding struct, DefaultConfig,
// and a Handler() that serves /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry exports the orchestration server's process-wide gauges/counters
// (SPEC_FULL.md §11): active workers, job queue depth, open escalations,
// and dispatcher/agent invocation counts. The collectors are registered and
// served at /metrics, but no other package sets or increments them, so
// every value stays at zero.
type Registry struct {
	registry *prometheus.Registry

	ActiveWorkers    prometheus.Gauge
	OpenEscalations  prometheus.Gauge
	JobQueueDepth    prometheus.Gauge
	ActiveAlerts     prometheus.Gauge
	AgentInvocations *prometheus.CounterVec
	AgentCostUSD     prometheus.Counter
	DispatchRequests *prometheus.CounterVec
}

// Config configures the Registry.
type Config struct {
	// Registry to register collectors against. A fresh one is created
	// when nil, so tests never collide with prometheus's global registry.
	Registry *prometheus.Registry
}

// New builds a Registry and registers all of its collectors.
func New(cfg Config) *Registry {
	reg := cfg.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	r := &Registry{
		registry: reg,
		ActiveWorkers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "dtwind",
			Name:      "active_workers",
			Help:      "Number of Worker goroutines currently running or paused.",
		}),
		OpenEscalations: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "dtwind",
			Name:      "open_escalations",
			Help:      "Number of pending Escalations awaiting a human answer.",
		}),
		JobQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "dtwind",
			Name:      "job_queue_depth",
			Help:      "Number of pending background Jobs (retro_analyze, proposal_generate).",
		}),
		ActiveAlerts: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "dtwind",
			Name:      "active_alerts",
			Help:      "Number of unresolved Supervisor alerts.",
		}),
		AgentInvocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dtwind",
			Name:      "agent_invocations_total",
			Help:      "Total agent invocations by terminal status (done, needs_more, failed).",
		}, []string{"status"}),
		AgentCostUSD: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dtwind",
			Name:      "agent_cost_usd_total",
			Help:      "Cumulative reported agent invocation cost in USD.",
		}),
		DispatchRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dtwind",
			Name:      "dispatch_requests_total",
			Help:      "Total /dispatch requests by resulting mode (quick, research, deep, clarification, outcome, match_found).",
		}, []string{"mode"}),
	}

	reg.MustRegister(
		r.ActiveWorkers, r.OpenEscalations, r.JobQueueDepth, r.ActiveAlerts,
		r.AgentInvocations, r.AgentCostUSD, r.DispatchRequests,
	)
	return r
}

// Handler serves the registry's collected metrics in Prometheus exposition
// format, mounted at GET /metrics.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
