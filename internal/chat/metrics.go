package chat

import "github.com/prometheus/client_golang/prometheus"

var (
	ConnectedSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chat_connected_sessions",
		Help: "Number of currently open client sessions",
	})

	LoggedInUsers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chat_logged_in_users",
		Help: "Number of users bound to a session on this server",
	})

	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_messages_total",
		Help: "Total inbound messages handled by msg_id",
	}, []string{"msg_id"})

	FramesDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_frames_dropped_total",
		Help: "Frames dropped without being sent or handled",
	}, []string{"reason"})

	DispatchDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "chat_dispatch_seconds",
		Help:    "Time spent in each handler",
		Buckets: prometheus.DefBuckets,
	}, []string{"msg_id"})
)

func init() {
	prometheus.MustRegister(ConnectedSessions)
	prometheus.MustRegister(LoggedInUsers)
	prometheus.MustRegister(MessagesTotal)
	prometheus.MustRegister(FramesDropped)
	prometheus.MustRegister(DispatchDuration)
}
