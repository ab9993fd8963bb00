package router

import "github.com/prometheus/client_golang/prometheus"

var routedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "chat_routed_total",
		Help: "Notifications routed, by outcome",
	},
	[]string{"outcome"},
)

func init() {
	prometheus.MustRegister(routedTotal)
}
