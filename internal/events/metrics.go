package events

import "github.com/prometheus/client_golang/prometheus"

var (
	deliveredCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "points_poller",
		Subsystem: "events",
		Name:      "delivered_total",
		Help:      "Number of events successfully published to Kafka.",
	}, []string{"topic"})

	failedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "points_poller",
		Subsystem: "events",
		Name:      "failed_total",
		Help:      "Number of events that failed to publish.",
	}, []string{"topic"})
)

func init() {
	prometheus.MustRegister(deliveredCounter, failedCounter)
}
