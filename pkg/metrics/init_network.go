package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initNetworkMetrics() {
	r.NetworkNodes = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "ddsim_network_nodes",
			Help: "Number of nodes in the dislocation network",
		},
	)

	r.NetworkSegments = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "ddsim_network_segments",
			Help: "Number of segments in the dislocation network",
		},
	)

	r.LineLength = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "ddsim_line_length",
			Help: "Total dislocation line length",
		},
	)

	r.Density = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "ddsim_dislocation_density",
			Help: "Dislocation density L/(V b^2)",
		},
	)

	r.PlasticStrain = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "ddsim_plastic_strain_norm",
			Help: "Frobenius norm of the accumulated plastic strain",
		},
	)
}

func (r *Registry) initTopologyMetrics() {
	r.TopologyEventsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "ddsim_topology_events_total",
			Help: "Topological events by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	r.RemeshTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "ddsim_remesh_total",
			Help: "Remeshing operations by kind",
		},
		[]string{"operation"},
	)
}
