package application

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"vesrates-service/internal/domain"
)

// RateService owns the ingestion pipeline and the derived read views. One
// instance is constructed at startup and shared by the HTTP layer and the
// scheduler; all state that must survive across runs lives here.
type RateService struct {
	store    RateStore
	cache    Cache
	uow      UnitOfWork
	fetchers map[string]SourceFetcher
	clock    Clock
	metrics  Metrics

	tolerance    decimal.Decimal
	freshness    time.Duration
	fetchTimeout time.Duration
	currentTTL   time.Duration
	historyTTL   time.Duration

	// flight guarantees at most one in-flight run per exchange key.
	flight singleflight.Group

	mu   sync.Mutex
	runs map[string]RunState
}

// RunState is the per-exchange bookkeeping surfaced by the status view.
type RunState struct {
	LastRun     time.Time
	LastSuccess time.Time
	LastError   string
}

type Option func(*RateService)

func WithClock(c Clock) Option { return func(s *RateService) { s.clock = c } }

func WithMetrics(m Metrics) Option { return func(s *RateService) { s.metrics = m } }

func WithTolerance(tol decimal.Decimal) Option {
	return func(s *RateService) { s.tolerance = tol }
}

func WithFreshness(d time.Duration) Option {
	return func(s *RateService) {
		if d > 0 {
			s.freshness = d
		}
	}
}

func WithFetchTimeout(d time.Duration) Option {
	return func(s *RateService) {
		if d > 0 {
			s.fetchTimeout = d
		}
	}
}

func WithCacheTTLs(current, history time.Duration) Option {
	return func(s *RateService) {
		if current > 0 {
			s.currentTTL = current
		}
		if history > 0 {
			s.historyTTL = history
		}
	}
}

func NewRateService(store RateStore, cache Cache, uow UnitOfWork, fetchers []SourceFetcher, opts ...Option) *RateService {
	s := &RateService{
		store:        store,
		cache:        cache,
		uow:          uow,
		fetchers:     make(map[string]SourceFetcher, len(fetchers)),
		runs:         make(map[string]RunState),
		tolerance:    domain.DefaultChangeTolerance,
		freshness:    30 * time.Minute,
		fetchTimeout: 30 * time.Second,
		currentTTL:   10 * time.Minute,
		historyTTL:   5 * time.Minute,
	}
	for _, f := range fetchers {
		s.fetchers[f.ExchangeCode()] = f
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.clock == nil {
		s.clock = realClock{}
	}
	if s.metrics == nil {
		s.metrics = NoopMetrics{}
	}
	if s.cache == nil {
		s.cache = NoopCache{}
	}
	if s.uow == nil {
		s.uow = NoopUoW{}
	}
	return s
}

// freshnessFor prefers the per-exchange window from the registry and falls
// back to the service-wide default.
func (s *RateService) freshnessFor(ex domain.Exchange) time.Duration {
	if ex.Freshness > 0 {
		return ex.Freshness
	}
	return s.freshness
}

func (s *RateService) recordRun(code string, res RunResult, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.runs[code]
	st.LastRun = at
	switch res.Outcome {
	case RunFetched:
		st.LastSuccess = at
		st.LastError = ""
	case RunFailed:
		st.LastError = res.Error
	}
	s.runs[code] = st
}

func (s *RateService) runState(code string) RunState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs[code]
}
