package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds all metrics for the application
type Registry struct {
	// Step Metrics
	StepsTotal         prometheus.Counter
	StepDuration       prometheus.Histogram
	PhaseDuration      *prometheus.HistogramVec
	AcceptedDt         prometheus.Gauge
	RejectedStepsTotal prometheus.Counter
	StepFailuresTotal  *prometheus.CounterVec
	SimulatedTime      prometheus.Gauge

	// Network Metrics
	NetworkNodes    prometheus.Gauge
	NetworkSegments prometheus.Gauge
	LineLength      prometheus.Gauge
	Density         prometheus.Gauge
	PlasticStrain   prometheus.Gauge

	// Topology Metrics
	TopologyEventsTotal *prometheus.CounterVec
	RemeshTotal         *prometheus.CounterVec

	// HTTP Metrics (metrics endpoint)
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// System Metrics
	UptimeSeconds    prometheus.Gauge
	GoRoutines       prometheus.Gauge
	MemoryAllocBytes prometheus.Gauge
	MemorySysBytes   prometheus.Gauge

	registry *prometheus.Registry
	started  time.Time
	mu       sync.RWMutex
}

// NewRegistry creates a new metrics registry with all metrics initialized
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		registry: reg,
		started:  time.Now(),
	}

	r.initStepMetrics()
	r.initNetworkMetrics()
	r.initTopologyMetrics()
	r.initProcessMetrics()

	return r
}

// GetPrometheusRegistry returns the underlying Prometheus registry
func (r *Registry) GetPrometheusRegistry() *prometheus.Registry {
	return r.registry
}
