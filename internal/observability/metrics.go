// Package observability registers the Prometheus collectors shared across the poller.
package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "points_poller"

var (
	fetchOutcomeCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "fetch",
		Name:      "outcomes_total",
		Help:      "Number of per-user fetch outcomes grouped by kind.",
	}, []string{"username", "outcome"})

	pointsGainedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ledger",
		Name:      "points_gained_total",
		Help:      "Points recorded into history per user.",
	}, []string{"username"})

	lastUpdatedGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "ledger",
		Name:      "last_updated_timestamp_seconds",
		Help:      "Unix timestamp of the most recent reconciliation that changed a user's record.",
	}, []string{"username"})

	cycleDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "fetch",
		Name:      "cycle_duration_seconds",
		Help:      "Wall time of a full fetch cycle over all configured users.",
		Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
	})

	upstreamDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "upstream",
		Name:      "request_duration_seconds",
		Help:      "Latency of profile API requests by response code.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"code"})

	storeDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "store",
		Name:      "operation_duration_seconds",
		Help:      "Latency of record store operations.",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
	}, []string{"backend", "op", "result"})
)

func init() {
	prometheus.MustRegister(fetchOutcomeCounter, pointsGainedCounter, lastUpdatedGauge, cycleDuration, upstreamDuration, storeDuration)
}

// RecordFetchOutcome counts one per-user outcome of a fetch cycle.
func RecordFetchOutcome(username, outcome string) {
	fetchOutcomeCounter.WithLabelValues(username, outcome).Inc()
}

// RecordPointsGained adds a recorded gain and moves the last-updated watermark.
func RecordPointsGained(username string, gained int64, ts time.Time) {
	if gained > 0 {
		pointsGainedCounter.WithLabelValues(username).Add(float64(gained))
	}
	if !ts.IsZero() {
		lastUpdatedGauge.WithLabelValues(username).Set(float64(ts.Unix()))
	}
}

// RecordCycle observes the duration of a completed fetch cycle.
func RecordCycle(start time.Time) {
	cycleDuration.Observe(time.Since(start).Seconds())
}

// RecordUpstreamRequest observes one profile API round trip. status is 0 for transport errors.
func RecordUpstreamRequest(status int, start time.Time) {
	code := "error"
	if status > 0 {
		code = strconv.Itoa(status)
	}
	upstreamDuration.WithLabelValues(code).Observe(time.Since(start).Seconds())
}

// RecordStoreOperation observes a store read or write.
func RecordStoreOperation(backend, op string, start time.Time, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	storeDuration.WithLabelValues(backend, op, result).Observe(time.Since(start).Seconds())
}
