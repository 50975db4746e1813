package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"vesrates-service/internal/application"
)

var _ application.Metrics = (*RateMetrics)(nil)

// RateMetrics exports ingestion and cache counters through the default
// Prometheus registry, scraped via /metrics. Construct it once per process;
// promauto panics on duplicate registration.
type RateMetrics struct {
	RunsTotal         prometheus.CounterVec
	RunDuration       prometheus.HistogramVec
	SignificantTotal  prometheus.CounterVec
	CacheHitsTotal    prometheus.CounterVec
	CacheMissesTotal  prometheus.CounterVec
	TicksSkippedTotal prometheus.Counter
}

func NewRateMetrics() *RateMetrics {
	return &RateMetrics{
		RunsTotal: *promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rate_runs_total",
				Help: "Ingestion runs by exchange and outcome",
			},
			[]string{"exchange", "outcome"},
		),
		RunDuration: *promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rate_run_duration_seconds",
				Help:    "Ingestion run duration in seconds",
				Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
			},
			[]string{"exchange"},
		),
		SignificantTotal: *promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rate_significant_changes_total",
				Help: "History records appended after a significant price change",
			},
			[]string{"exchange", "pair"},
		),
		CacheHitsTotal: *promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rate_cache_hits_total",
				Help: "Cache hits by read scope",
			},
			[]string{"scope"},
		),
		CacheMissesTotal: *promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rate_cache_misses_total",
				Help: "Cache misses by read scope",
			},
			[]string{"scope"},
		),
		TicksSkippedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "scheduler_ticks_skipped_total",
			Help: "Scheduler ticks dropped because the previous cycle was still running",
		}),
	}
}

func (m *RateMetrics) ObserveRun(exchange string, outcome application.RunOutcome, elapsed time.Duration) {
	m.RunsTotal.WithLabelValues(exchange, string(outcome)).Inc()
	m.RunDuration.WithLabelValues(exchange).Observe(elapsed.Seconds())
}

func (m *RateMetrics) AddSignificant(exchange, pair string) {
	m.SignificantTotal.WithLabelValues(exchange, pair).Inc()
}

func (m *RateMetrics) CacheHit(scope string) { m.CacheHitsTotal.WithLabelValues(scope).Inc() }

func (m *RateMetrics) CacheMiss(scope string) { m.CacheMissesTotal.WithLabelValues(scope).Inc() }

func (m *RateMetrics) TickSkipped() { m.TicksSkippedTotal.Inc() }
