package desk

import "github.com/prometheus/client_golang/prometheus"

var requestsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "panda_desk",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Number of desk API requests by path and response code",
	},
	[]string{"method", "path", "code"},
)

func init() {
	prometheus.MustRegister(requestsTotal)
}
