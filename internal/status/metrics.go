package status

import "github.com/prometheus/client_golang/prometheus"

var assignmentsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "chat_status_assignments_total",
	Help: "Logins assigned to each chat server",
}, []string{"server"})

func init() {
	prometheus.MustRegister(assignmentsTotal)
}
