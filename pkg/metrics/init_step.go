package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initStepMetrics() {
	r.StepsTotal = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "ddsim_steps_total",
			Help: "Total number of accepted time steps",
		},
	)

	r.StepDuration = promauto.With(r.registry).NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ddsim_step_duration_seconds",
			Help:    "Wall time of a full step in seconds",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
		},
	)

	r.PhaseDuration = promauto.With(r.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ddsim_phase_duration_seconds",
			Help:    "Wall time of a step sub-phase in seconds",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 16),
		},
		[]string{"phase"},
	)

	r.AcceptedDt = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "ddsim_accepted_dt",
			Help: "Time step accepted by the last step",
		},
	)

	r.RejectedStepsTotal = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "ddsim_rejected_steps_total",
			Help: "Total number of rejected trial steps",
		},
	)

	r.StepFailuresTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "ddsim_step_failures_total",
			Help: "Total number of fatal step failures",
		},
		[]string{"reason"},
	)

	r.SimulatedTime = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "ddsim_simulated_time",
			Help: "Simulated time reached",
		},
	)
}
