// Package metrics exposes the interceptor's loop timing and tracking counters to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "interceptor"

// Metrics is the set of collectors updated by the loops. The zero value is not usable; call New.
type Metrics struct {
	registry *prometheus.Registry

	LoopDuration      *prometheus.HistogramVec
	LoopOverruns      *prometheus.CounterVec
	Tracked           prometheus.Gauge
	Mode              prometheus.Gauge
	Measurements      prometheus.Counter
	Rejected          prometheus.Counter
	Dropped           prometheus.Counter
	ActuatorFailures  prometheus.Counter
	ControlErrors     prometheus.Counter
	Intercepts        prometheus.Counter
	TorqueSaturations *prometheus.CounterVec
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		LoopDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "loop_duration_seconds",
			Help:      "Time spent in one iteration of each loop.",
			Buckets:   prometheus.ExponentialBuckets(25e-6, 2, 12),
		}, []string{"loop"}),
		LoopOverruns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "loop_overruns_total",
			Help:      "Iterations that took longer than the loop period.",
		}, []string{"loop"}),
		Tracked: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tracked_projectiles",
			Help:      "Projectiles currently held by the estimator.",
		}),
		Mode: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "interception_mode",
			Help:      "Interception mode: 0 ready, 1 tracking, 2 intercepting, 3 recovering.",
		}),
		Measurements: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "measurements_total",
			Help:      "Measurements ingested by the estimator.",
		}),
		Rejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "measurements_rejected_total",
			Help:      "Measurements the estimator refused.",
		}),
		Dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "measurements_dropped_total",
			Help:      "Measurements discarded because the vision queue was full.",
		}),
		ActuatorFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "actuator_failures_total",
			Help:      "Failed actuator reads and writes.",
		}),
		ControlErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "control_errors_total",
			Help:      "Control cycles that could not compute a torque.",
		}),
		Intercepts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "intercepts_total",
			Help:      "Engagements that reached their intercept time.",
		}),
		TorqueSaturations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "torque_saturations_total",
			Help:      "Control cycles in which a joint torque was clamped to its limit.",
		}, []string{"joint"}),
	}
	m.registry.MustRegister(
		m.LoopDuration,
		m.LoopOverruns,
		m.Tracked,
		m.Mode,
		m.Measurements,
		m.Rejected,
		m.Dropped,
		m.ActuatorFailures,
		m.ControlErrors,
		m.Intercepts,
		m.TorqueSaturations,
	)
	return m
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
