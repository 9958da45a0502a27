// Package metrics exposes Prometheus instrumentation for the connection
// registry and the execution pipeline. A Metrics value is injected where
// needed; a nil *Metrics disables recording, so tests and embedders that do
// not scrape can pass nil.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all collectors registered by the service.
type Metrics struct {
	ActiveConnections prometheus.Gauge
	Admissions        *prometheus.CounterVec
	ZombiesReclaimed  prometheus.Counter
	Runs              *prometheus.CounterVec
	Steps             *prometheus.CounterVec
	RunDuration       prometheus.Histogram
}

// New registers all collectors with reg and returns them.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ActiveConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "conductor_active_connections",
			Help: "Currently admitted WebSocket connections across all users.",
		}),
		Admissions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "conductor_admissions_total",
			Help: "Connection admission attempts by outcome.",
		}, []string{"outcome"}),
		ZombiesReclaimed: factory.NewCounter(prometheus.CounterOpts{
			Name: "conductor_zombie_slots_reclaimed_total",
			Help: "Connection slots reclaimed from dead transports.",
		}),
		Runs: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "conductor_pipeline_runs_total",
			Help: "Finished pipeline runs by terminal status.",
		}, []string{"status"}),
		Steps: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "conductor_pipeline_steps_total",
			Help: "Finished pipeline steps by terminal status.",
		}, []string{"status"}),
		RunDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "conductor_pipeline_run_duration_seconds",
			Help:    "Wall-clock duration of finished pipeline runs.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 14),
		}),
	}
}

// ConnectionAdmitted records a successful admission.
func (m *Metrics) ConnectionAdmitted() {
	if m == nil {
		return
	}
	m.ActiveConnections.Inc()
	m.Admissions.WithLabelValues("admitted").Inc()
}

// ConnectionRejected records a rejected admission attempt.
func (m *Metrics) ConnectionRejected(reason string) {
	if m == nil {
		return
	}
	m.Admissions.WithLabelValues(reason).Inc()
}

// ConnectionReleased records a freed connection slot.
func (m *Metrics) ConnectionReleased() {
	if m == nil {
		return
	}
	m.ActiveConnections.Dec()
}

// ZombieReclaimed records n slots reclaimed from dead transports.
func (m *Metrics) ZombieReclaimed(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.ZombiesReclaimed.Add(float64(n))
	m.ActiveConnections.Sub(float64(n))
}

// RunFinished records a finished pipeline run.
func (m *Metrics) RunFinished(status string, seconds float64) {
	if m == nil {
		return
	}
	m.Runs.WithLabelValues(status).Inc()
	m.RunDuration.Observe(seconds)
}

// StepFinished records a finished pipeline step.
func (m *Metrics) StepFinished(status string) {
	if m == nil {
		return
	}
	m.Steps.WithLabelValues(status).Inc()
}
