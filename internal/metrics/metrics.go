// Package metrics exposes the orchestrator's Prometheus collectors. Each
// process owns one Metrics value with its own registry so tests never
// collide on the default registry.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles every collector the orchestrator and gateway report to.
type Metrics struct {
	registry *prometheus.Registry

	RunsTotal     prometheus.Counter
	AccountRuns   *prometheus.CounterVec
	PointsEarned  *prometheus.CounterVec
	UnitsFailed   prometheus.Counter
	Incidents     *prometheus.CounterVec
	Standby       prometheus.Gauge
	ActiveWorkers prometheus.Gauge
}

// New builds and registers all collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		RunsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rewards_runs_total",
			Help: "Completed orchestrator runs.",
		}),
		AccountRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rewards_account_runs_total",
			Help: "Per-account pipeline executions by outcome.",
		}, []string{"outcome"}),
		PointsEarned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rewards_points_earned_total",
			Help: "Points earned by surface.",
		}, []string{"surface"}),
		UnitsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rewards_units_failed_total",
			Help: "Work units that ended in failure.",
		}),
		Incidents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rewards_security_incidents_total",
			Help: "Security incidents by kind.",
		}, []string{"kind"}),
		Standby: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rewards_standby_engaged",
			Help: "1 while the global standby latch is engaged.",
		}),
		ActiveWorkers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rewards_active_workers",
			Help: "Pipeline workers currently processing an account.",
		}),
	}
	reg.MustRegister(m.RunsTotal, m.AccountRuns, m.PointsEarned,
		m.UnitsFailed, m.Incidents, m.Standby, m.ActiveWorkers)
	return m
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
