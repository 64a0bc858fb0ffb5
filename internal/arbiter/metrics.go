package arbiter

import "github.com/prometheus/client_golang/prometheus"

var (
	prepareTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vramd",
			Subsystem: "arbiter",
			Name:      "prepare_total",
			Help:      "Prepare calls by outcome",
		},
		[]string{"result"},
	)

	prepareDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "vramd",
			Subsystem: "arbiter",
			Name:      "prepare_duration_seconds",
			Help:      "Time spent in prepare including queue wait",
			Buckets:   []float64{0.01, 0.05, 0.25, 1, 2.5, 5, 10, 30, 60, 120},
		},
	)

	unloadRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vramd",
			Subsystem: "arbiter",
			Name:      "unload_requests_total",
			Help:      "Unload requests issued to backends",
		},
		[]string{"backend"},
	)

	queueWaiting = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "vramd",
			Subsystem: "arbiter",
			Name:      "queue_waiting",
			Help:      "Arbiter operations waiting for the GPU lock",
		},
	)
)

func init() {
	prometheus.MustRegister(prepareTotal, prepareDuration, unloadRequestsTotal, queueWaiting)
}
