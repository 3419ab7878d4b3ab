package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var endpointLabels = []string{"method", "path", "status"}

// initProcessMetrics registers the metrics endpoint and process gauges.
func (r *Registry) initProcessMetrics() {
	f := promauto.With(r.registry)

	r.HTTPRequestsTotal = f.NewCounterVec(prometheus.CounterOpts{
		Name: "ddsim_http_requests_total",
		Help: "Requests served by the metrics endpoint",
	}, endpointLabels)
	r.HTTPRequestDuration = f.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ddsim_http_request_duration_seconds",
		Help:    "Metrics endpoint request latency in seconds",
		Buckets: prometheus.ExponentialBuckets(0.0005, 4, 8),
	}, endpointLabels)

	gauge := func(name, help string) prometheus.Gauge {
		return f.NewGauge(prometheus.GaugeOpts{Name: "ddsim_" + name, Help: help})
	}
	r.UptimeSeconds = gauge("uptime_seconds", "Seconds since the registry was created")
	r.GoRoutines = gauge("goroutines", "Number of goroutines")
	r.MemoryAllocBytes = gauge("memory_alloc_bytes", "Bytes of allocated heap objects")
	r.MemorySysBytes = gauge("memory_sys_bytes", "Bytes of memory obtained from the OS")
}
