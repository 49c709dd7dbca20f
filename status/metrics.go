package status

import "github.com/prometheus/client_golang/prometheus"

const (
	namespace = "panda_desk"
	subsystem = "status"
)

var (
	messagesDecoded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "messages_total",
			Help:      "Number of status messages applied to desk state",
		},
		[]string{"topic"},
	)
	messagesDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "dropped_total",
			Help:      "Number of malformed status messages dropped",
		},
		[]string{"topic"},
	)
	pendingWaiters = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "waiters",
			Help:      "Number of callers blocked waiting for a status condition",
		},
	)
	openChannels = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "open_channels",
			Help:      "Number of open status channels",
		},
		[]string{"topic"},
	)
)

func init() {
	prometheus.MustRegister(messagesDecoded, messagesDropped, pendingWaiters, openChannels)
}
