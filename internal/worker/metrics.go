package worker

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metrics struct {
	registry             *prometheus.Registry
	verificationsTotal   *prometheus.CounterVec
	verificationDuration *prometheus.HistogramVec
	activeJobs           prometheus.Gauge
	pointsAwardedTotal   prometheus.Counter
	staleVerdictsTotal   prometheus.Counter
	deadLetteredTotal    prometheus.Counter
}

func newMetrics() *metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &metrics{
		registry: registry,
		verificationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "choresprint_worker_verifications_total",
			Help: "Total verification jobs by outcome.",
		}, []string{"outcome"}),
		verificationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "choresprint_worker_verification_duration_seconds",
			Help:    "Total processing duration for each verification job.",
			Buckets: prometheus.DefBuckets,
		}, []string{"outcome"}),
		activeJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "choresprint_worker_active_jobs",
			Help: "Current number of in-flight verification jobs in the worker.",
		}),
		pointsAwardedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "choresprint_worker_points_awarded_total",
			Help: "Total chore points credited by positive verdicts.",
		}),
		staleVerdictsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "choresprint_worker_stale_verdicts_total",
			Help: "Total verdicts discarded because a newer proof superseded the job.",
		}),
		deadLetteredTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "choresprint_worker_dead_lettered_total",
			Help: "Total verification jobs archived after exhausting retries.",
		}),
	}

	registry.MustRegister(
		m.verificationsTotal,
		m.verificationDuration,
		m.activeJobs,
		m.pointsAwardedTotal,
		m.staleVerdictsTotal,
		m.deadLetteredTotal,
	)
	return m
}

func (m *metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
