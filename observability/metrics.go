// Package observability holds the prometheus metrics of the halo exchange.
package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	axisExchanges = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rthalo",
			Subsystem: "exchange",
			Name:      "axis_total",
			Help:      "Per-axis halo exchange passes.",
		},
		[]string{"rank", "axis"},
	)
	axisDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "rthalo",
			Subsystem: "exchange",
			Name:      "axis_duration_seconds",
			Help:      "Per-axis halo exchange duration in seconds, barrier included.",
			Buckets:   prometheus.ExponentialBuckets(1e-5, 4, 10),
		},
		[]string{"rank", "axis"},
	)
	messages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rthalo",
			Subsystem: "exchange",
			Name:      "messages_total",
			Help:      "Halo messages posted, by direction.",
		},
		[]string{"rank", "axis", "direction"},
	)
	values = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rthalo",
			Subsystem: "exchange",
			Name:      "values_total",
			Help:      "Field values moved by halo messages, by direction.",
		},
		[]string{"rank", "axis", "direction"},
	)
	wraps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rthalo",
			Subsystem: "exchange",
			Name:      "periodic_wraps_total",
			Help:      "Local periodic wraps applied.",
		},
		[]string{"rank", "axis"},
	)
	barrierWait = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "rthalo",
			Subsystem: "exchange",
			Name:      "barrier_wait_seconds",
			Help:      "Time spent in the inter-axis barrier.",
			Buckets:   prometheus.ExponentialBuckets(1e-6, 4, 10),
		},
		[]string{"rank"},
	)
	failures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rthalo",
			Subsystem: "exchange",
			Name:      "failures_total",
			Help:      "Failed halo exchanges.",
		},
		[]string{"rank"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(axisExchanges, axisDuration, messages, values, wraps, barrierWait, failures)
	})
}

func RecordAxis(rank int, axis string, duration time.Duration) {
	RegisterMetrics()
	r := strconv.Itoa(rank)
	axisExchanges.WithLabelValues(r, axis).Inc()
	axisDuration.WithLabelValues(r, axis).Observe(duration.Seconds())
}

// RecordMessage counts one posted message; direction is "send" or "recv"
func RecordMessage(rank int, axis, direction string, n int) {
	RegisterMetrics()
	r := strconv.Itoa(rank)
	messages.WithLabelValues(r, axis, direction).Inc()
	values.WithLabelValues(r, axis, direction).Add(float64(n))
}

func RecordWrap(rank int, axis string) {
	RegisterMetrics()
	wraps.WithLabelValues(strconv.Itoa(rank), axis).Inc()
}

func RecordBarrier(rank int, duration time.Duration) {
	RegisterMetrics()
	barrierWait.WithLabelValues(strconv.Itoa(rank)).Observe(duration.Seconds())
}

func RecordFailure(rank int) {
	RegisterMetrics()
	failures.WithLabelValues(strconv.Itoa(rank)).Inc()
}
