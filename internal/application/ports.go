package application

import (
	"context"
	"time"

	"vesrates-service/internal/domain"
)

// CurrentFilter narrows ReadCurrent results. Zero-valued fields match
// everything; set fields are combined as a conjunction.
type CurrentFilter struct {
	ExchangeCode string
	Pair         string
}

// RateStore owns the persisted current-state and history collections.
type RateStore interface {
	// UpsertCurrent overwrites the row for (exchange, pair). Writes whose
	// ObservedAt predates the stored last_update fail with ErrStaleWrite.
	UpsertCurrent(ctx context.Context, q domain.Quote) error
	AppendHistory(ctx context.Context, q domain.Quote) error
	ReadCurrent(ctx context.Context, f CurrentFilter) ([]domain.CurrentRate, error)
	// ReadHistory returns most-recent-first records. limit=0 means empty,
	// never unlimited.
	ReadHistory(ctx context.Context, limit int) ([]domain.HistoryRecord, error)
	// LastKnown returns nil when the key has no current row.
	LastKnown(ctx context.Context, exchangeCode string, pair domain.Pair) (*domain.Quote, error)
	DeleteHistoryBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Cache is a best-effort TTL projection of store reads. Implementations must
// swallow backend failures: Get reports a miss, Set and InvalidatePrefix
// become no-ops, and the adapter logs degraded mode.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration)
	InvalidatePrefix(ctx context.Context, prefix string)
}

// NoopCache misses everything; used when the cache backend is disabled.
type NoopCache struct{}

func (NoopCache) Get(context.Context, string) ([]byte, bool) { return nil, false }
func (NoopCache) Set(context.Context, string, []byte, time.Duration) {}
func (NoopCache) InvalidatePrefix(context.Context, string) {}

// SourceFetcher pulls raw quotes from one external source. A single call may
// return several quotes (BCV publishes USD/VES and EUR/VES together).
type SourceFetcher interface {
	ExchangeCode() string
	Fetch(ctx context.Context) ([]domain.Quote, error)
}

// UnitOfWork provides a minimal transaction boundary using context propagation.
type UnitOfWork interface {
	Do(ctx context.Context, fn func(ctx context.Context) error) error
}

// NoopUoW executes the function without starting a transaction.
type NoopUoW struct{}

func (NoopUoW) Do(ctx context.Context, fn func(ctx context.Context) error) error { return fn(ctx) }

// Worker represents a background processor.
// Implementations must run until the context is canceled.
type Worker interface {
	Start(ctx context.Context)
}

type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now().UTC() }
