package application

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"vesrates-service/internal/domain"
)

var ErrStore = errors.New("store error")

type fakeClock struct{ t time.Time }

func (c fakeClock) Now() time.Time { return c.t }

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func storeKey(ex string, pair domain.Pair) string { return ex + "|" + string(pair) }

// quoteAt builds a flat quote (buy = sell = rate) so the average equals the
// given rate.
func quoteAt(ex string, pair domain.Pair, rate string, at time.Time) domain.Quote {
	r := d(rate)
	return domain.Quote{
		ExchangeCode: ex,
		Pair:         pair,
		Buy:          r,
		Sell:         r,
		Source:       "test",
		APIMethod:    "test",
		TradeType:    "general",
		ObservedAt:   at,
	}
}

// memStore implements RateStore in memory with the same out-of-order guard
// the SQL implementation enforces.
type memStore struct {
	mu      sync.Mutex
	current map[string]domain.CurrentRate
	history []domain.HistoryRecord
	nextID  int64

	failUpsert error
	failAppend error
	failRead   error
}

func newMemStore() *memStore {
	return &memStore{current: map[string]domain.CurrentRate{}}
}

func (m *memStore) seed(qs ...domain.Quote) {
	for _, q := range qs {
		if err := m.UpsertCurrent(context.Background(), q); err != nil {
			panic(err)
		}
		if err := m.AppendHistory(context.Background(), q); err != nil {
			panic(err)
		}
	}
}

func (m *memStore) UpsertCurrent(_ context.Context, q domain.Quote) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failUpsert != nil {
		return m.failUpsert
	}
	k := storeKey(q.ExchangeCode, q.Pair)
	if prev, ok := m.current[k]; ok && q.ObservedAt.Before(prev.LastUpdate) {
		return ErrStaleWrite
	}
	m.current[k] = domain.CurrentRate{
		ExchangeCode: q.ExchangeCode,
		Pair:         q.Pair,
		Buy:          q.Buy,
		Sell:         q.Sell,
		Avg:          q.Avg(),
		Volume24h:    q.Volume24h,
		Source:       q.Source,
		APIMethod:    q.APIMethod,
		TradeType:    q.TradeType,
		MarketStatus: "active",
		LastUpdate:   q.ObservedAt,
	}
	return nil
}

func (m *memStore) AppendHistory(_ context.Context, q domain.Quote) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAppend != nil {
		return m.failAppend
	}
	m.nextID++
	m.history = append(m.history, domain.HistoryRecord{
		ID:           m.nextID,
		ExchangeCode: q.ExchangeCode,
		Pair:         q.Pair,
		Buy:          q.Buy,
		Sell:         q.Sell,
		Avg:          q.Avg(),
		Volume24h:    q.Volume24h,
		Source:       q.Source,
		APIMethod:    q.APIMethod,
		TradeType:    q.TradeType,
		ObservedAt:   q.ObservedAt,
		InsertedAt:   q.ObservedAt,
	})
	return nil
}

func (m *memStore) ReadCurrent(_ context.Context, f CurrentFilter) ([]domain.CurrentRate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failRead != nil {
		return nil, m.failRead
	}
	out := []domain.CurrentRate{}
	for _, r := range m.current {
		if f.ExchangeCode != "" && r.ExchangeCode != f.ExchangeCode {
			continue
		}
		if f.Pair != "" && string(r.Pair) != f.Pair {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ExchangeCode != out[j].ExchangeCode {
			return out[i].ExchangeCode < out[j].ExchangeCode
		}
		return out[i].Pair < out[j].Pair
	})
	return out, nil
}

func (m *memStore) ReadHistory(_ context.Context, limit int) ([]domain.HistoryRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failRead != nil {
		return nil, m.failRead
	}
	out := []domain.HistoryRecord{}
	for i := len(m.history) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.history[i])
	}
	return out, nil
}

func (m *memStore) LastKnown(_ context.Context, ex string, pair domain.Pair) (*domain.Quote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failRead != nil {
		return nil, m.failRead
	}
	r, ok := m.current[storeKey(ex, pair)]
	if !ok {
		return nil, nil
	}
	q := r.AsQuote()
	return &q, nil
}

func (m *memStore) DeleteHistoryBefore(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.history[:0]
	var deleted int64
	for _, h := range m.history {
		if h.InsertedAt.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, h)
	}
	m.history = kept
	return deleted, nil
}

func (m *memStore) historyLen() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.history)
}

func (m *memStore) currentRow(ex string, pair domain.Pair) (domain.CurrentRate, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.current[storeKey(ex, pair)]
	return r, ok
}

// memCache records every key it holds; TTLs are ignored.
type memCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemCache() *memCache { return &memCache{data: map[string][]byte{}} }

func (c *memCache) Get(_ context.Context, key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.data[key]
	return b, ok
}

func (c *memCache) Set(_ context.Context, key string, val []byte, _ time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = val
}

func (c *memCache) InvalidatePrefix(_ context.Context, prefix string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.data {
		if strings.HasPrefix(k, prefix) {
			delete(c.data, k)
		}
	}
}

func (c *memCache) has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.data[key]
	return ok
}

// scriptedFetcher returns canned quotes or a canned error and counts calls.
// A non-nil gate blocks the fetch until the channel closes.
type scriptedFetcher struct {
	code   string
	quotes []domain.Quote
	err    error
	delay  time.Duration
	gate   chan struct{}
	calls  atomic.Int32
}

func (f *scriptedFetcher) ExchangeCode() string { return f.code }

func (f *scriptedFetcher) Fetch(ctx context.Context) ([]domain.Quote, error) {
	f.calls.Add(1)
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	out := make([]domain.Quote, len(f.quotes))
	copy(out, f.quotes)
	return out, nil
}
