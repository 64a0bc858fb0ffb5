package session

import "github.com/prometheus/client_golang/prometheus"

var (
	sessionSegments = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "vramd",
			Subsystem: "session",
			Name:      "segments",
			Help:      "Generation calls per session",
			Buckets:   []float64{1, 2, 3, 4, 6, 8},
		},
	)

	sessionTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vramd",
			Subsystem: "session",
			Name:      "total",
			Help:      "Sessions by outcome",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(sessionSegments, sessionTotal)
}
