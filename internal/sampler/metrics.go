package sampler

import "github.com/prometheus/client_golang/prometheus"

var (
	divergencesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hierfit",
			Subsystem: "sampler",
			Name:      "divergences_total",
			Help:      "Total divergent trajectories observed after warm-up",
		},
		[]string{"model"},
	)

	drawsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hierfit",
			Subsystem: "sampler",
			Name:      "draws_total",
			Help:      "Total retained posterior draws",
		},
		[]string{"model"},
	)
)

func init() {
	prometheus.MustRegister(divergencesTotal, drawsTotal)
}
