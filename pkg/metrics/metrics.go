package metrics

import (
	"runtime"
	"time"
)

// RecordHTTPRequest records an HTTP request with its duration
func (r *Registry) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	r.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	r.HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

// RecordStep records an accepted step
func (r *Registry) RecordStep(duration time.Duration, dt, simTime float64, rejections int) {
	r.StepsTotal.Inc()
	r.StepDuration.Observe(duration.Seconds())
	r.AcceptedDt.Set(dt)
	r.SimulatedTime.Set(simTime)
	if rejections > 0 {
		r.RejectedStepsTotal.Add(float64(rejections))
	}
}

// RecordPhase records the duration of a step sub-phase
func (r *Registry) RecordPhase(phase string, duration time.Duration) {
	r.PhaseDuration.WithLabelValues(phase).Observe(duration.Seconds())
}

// RecordFailure counts a step that ended the run
func (r *Registry) RecordFailure(reason string) {
	r.StepFailuresTotal.WithLabelValues(reason).Inc()
}

// RecordTopology adds n events of a kind with the given outcome
// (detected, applied, deferred, skipped). Zero counts are not recorded.
func (r *Registry) RecordTopology(kind, outcome string, n int) {
	if n <= 0 {
		return
	}
	r.TopologyEventsTotal.WithLabelValues(kind, outcome).Add(float64(n))
}

// RecordRemesh adds n remeshing operations (refine, coarsen, remove)
func (r *Registry) RecordRemesh(operation string, n int) {
	if n <= 0 {
		return
	}
	r.RemeshTotal.WithLabelValues(operation).Add(float64(n))
}

// UpdateNetworkMetrics sets the network gauges
func (r *Registry) UpdateNetworkMetrics(nodes, segments int, length, density, plasticStrain float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.NetworkNodes.Set(float64(nodes))
	r.NetworkSegments.Set(float64(segments))
	r.LineLength.Set(length)
	r.Density.Set(density)
	r.PlasticStrain.Set(plasticStrain)
}

// UpdateSystemMetrics samples uptime, goroutines and memory
func (r *Registry) UpdateSystemMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.UptimeSeconds.Set(time.Since(r.started).Seconds())
	r.GoRoutines.Set(float64(runtime.NumGoroutine()))
	r.MemoryAllocBytes.Set(float64(m.Alloc))
	r.MemorySysBytes.Set(float64(m.Sys))
}
