package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	sourceFetches  *prometheus.CounterVec
	indicatorCount *prometheus.GaugeVec
	cacheEvents    *prometheus.CounterVec
	latency        *prometheus.HistogramVec
}

// New creates a new Prometheus metrics recorder.
func New() *Recorder {
	return &Recorder{
		sourceFetches: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "copperwatch_source_fetches_total",
				Help: "Total number of source fetch attempts by outcome",
			},
			[]string{"source", "outcome"},
		),
		indicatorCount: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "copperwatch_indicators",
				Help: "Number of indicators in the last built bundle per source",
			},
			[]string{"source"},
		),
		cacheEvents: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "copperwatch_cache_events_total",
				Help: "Bundle cache events (hit, miss, stale, write)",
			},
			[]string{"event"},
		),
		latency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "copperwatch_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

// RecordSourceFetch records one source fetch attempt and its outcome.
func (r *Recorder) RecordSourceFetch(source, outcome string) {
	r.sourceFetches.WithLabelValues(source, outcome).Inc()
}

// RecordIndicatorCount records the indicator count of the latest bundle.
func (r *Recorder) RecordIndicatorCount(source string, count int) {
	r.indicatorCount.WithLabelValues(source).Set(float64(count))
}

// RecordCacheEvent records a bundle cache event.
func (r *Recorder) RecordCacheEvent(event string) {
	r.cacheEvents.WithLabelValues(event).Inc()
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}
