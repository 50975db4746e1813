package application

import "time"

// Metrics receives ingestion and cache signals. The pipeline reports through
// this port so the collector implementation stays an infrastructure concern.
type Metrics interface {
	ObserveRun(exchange string, outcome RunOutcome, elapsed time.Duration)
	AddSignificant(exchange, pair string)
	CacheHit(scope string)
	CacheMiss(scope string)
	TickSkipped()
}

// NoopMetrics drops every signal; useful for tests and when no collector is wired.
type NoopMetrics struct{}

func (NoopMetrics) ObserveRun(string, RunOutcome, time.Duration) {}
func (NoopMetrics) AddSignificant(string, string) {}
func (NoopMetrics) CacheHit(string) {}
func (NoopMetrics) CacheMiss(string) {}
func (NoopMetrics) TickSkipped() {}
