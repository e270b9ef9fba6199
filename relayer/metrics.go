package relayer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	metricsNamespace = "shieldpay"
	subsystem        = "relayer"
)

var (
	submissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: subsystem,
			Name:      "submissions_total",
			Help:      "Total number of relay submissions by outcome",
		},
		[]string{"outcome"},
	)

	inFlightGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: subsystem,
			Name:      "in_flight",
			Help:      "Submissions currently pending or submitted",
		},
	)

	verificationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: subsystem,
			Name:      "verification_duration_seconds",
			Help:      "Time taken to verify a spend proof",
			Buckets:   prometheus.DefBuckets,
		},
	)

	submissionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: subsystem,
			Name:      "submission_duration_seconds",
			Help:      "Time from admission to chain confirmation",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 40, 80},
		},
	)
)
