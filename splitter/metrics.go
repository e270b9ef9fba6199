package splitter

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	splitsPrepared = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "shieldpay",
		Subsystem: "splitter",
		Name:      "splits_prepared_total",
		Help:      "Split transactions prepared.",
	})

	partsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "shieldpay",
		Subsystem: "splitter",
		Name:      "parts_total",
		Help:      "Split parts by resulting status.",
	}, []string{"status"})

	fundingDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "shieldpay",
		Subsystem: "splitter",
		Name:      "funding_duration_seconds",
		Help:      "Time to fund every temporary wallet of a split, pauses included.",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
	})
)
