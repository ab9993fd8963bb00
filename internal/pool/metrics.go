package pool

import "github.com/prometheus/client_golang/prometheus"

var (
	idleResources = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "chat_pool_idle",
		Help: "Idle resources per pool",
	}, []string{"pool"})

	probeFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_pool_probe_failures_total",
		Help: "Failed liveness probes per pool",
	}, []string{"pool"})
)

func init() {
	prometheus.MustRegister(idleResources)
	prometheus.MustRegister(probeFailures)
}
