package httpserver

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"vesrates-service/internal/application"
	"vesrates-service/internal/domain"
)

var _ application.RateStore = (*fakeRateStore)(nil)
var _ application.SourceFetcher = (*fakeFetcher)(nil)

type fakeRateStore struct {
	mu       sync.Mutex
	rows     map[string]domain.CurrentRate
	history  []domain.HistoryRecord
	failRead bool
}

func storeKey(ex string, pair domain.Pair) string { return ex + "|" + string(pair) }

func (f *fakeRateStore) UpsertCurrent(_ context.Context, q domain.Quote) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rows == nil {
		f.rows = map[string]domain.CurrentRate{}
	}
	key := storeKey(q.ExchangeCode, q.Pair)
	if cur, ok := f.rows[key]; ok && q.ObservedAt.Before(cur.LastUpdate) {
		return application.ErrStaleWrite
	}
	f.rows[key] = domain.CurrentRate{
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

func (f *fakeRateStore) AppendHistory(_ context.Context, q domain.Quote) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.history = append(f.history, domain.HistoryRecord{
		ID:           int64(len(f.history) + 1),
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
		InsertedAt:   time.Now().UTC(),
	})
	return nil
}

func (f *fakeRateStore) ReadCurrent(_ context.Context, flt application.CurrentFilter) ([]domain.CurrentRate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failRead {
		return nil, errors.New("store down")
	}
	out := make([]domain.CurrentRate, 0, len(f.rows))
	for _, r := range f.rows {
		if flt.ExchangeCode != "" && r.ExchangeCode != flt.ExchangeCode {
			continue
		}
		if flt.Pair != "" && string(r.Pair) != flt.Pair {
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

func (f *fakeRateStore) ReadHistory(_ context.Context, limit int) ([]domain.HistoryRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.HistoryRecord, len(f.history))
	copy(out, f.history)
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeRateStore) LastKnown(_ context.Context, ex string, pair domain.Pair) (*domain.Quote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rows[storeKey(ex, pair)]
	if !ok {
		return nil, nil
	}
	q := r.AsQuote()
	return &q, nil
}

func (f *fakeRateStore) DeleteHistoryBefore(_ context.Context, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	kept := f.history[:0]
	var deleted int64
	for _, rec := range f.history {
		if rec.ObservedAt.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, rec)
	}
	f.history = kept
	return deleted, nil
}

type fakeFetcher struct {
	code string

	mu     sync.Mutex
	quotes []domain.Quote
	err    error
	calls  int
}

func (f *fakeFetcher) ExchangeCode() string { return f.code }

func (f *fakeFetcher) Fetch(context.Context) ([]domain.Quote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make([]domain.Quote, len(f.quotes))
	copy(out, f.quotes)
	return out, nil
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func fq(ex, pair, buy, sell string) domain.Quote {
	return domain.Quote{
		ExchangeCode: ex,
		Pair:         domain.Pair(pair),
		Buy:          decimal.RequireFromString(buy),
		Sell:         decimal.RequireFromString(sell),
		Source:       "fake",
		APIMethod:    "web_scraping",
		TradeType:    "official",
		ObservedAt:   time.Now().UTC(),
	}
}

// NewInMemoryService wires a RateService onto in-memory fakes with one
// fetcher per registered exchange, seeded with plausible quotes.
func NewInMemoryService() (*application.RateService, *fakeRateStore, map[string]*fakeFetcher) {
	binance := fq(domain.ExchangeBinanceP2P, "USDT/VES", "36.10", "36.30")
	binance.Source = "binance_p2p"
	binance.APIMethod = "official_api"
	binance.TradeType = "general"
	binance.Volume24h = decimal.NewNullDecimal(decimal.RequireFromString("125000.50"))

	fetchers := map[string]*fakeFetcher{
		domain.ExchangeBCV: {code: domain.ExchangeBCV, quotes: []domain.Quote{
			fq(domain.ExchangeBCV, "USD/VES", "36.50", "36.50"),
			fq(domain.ExchangeBCV, "EUR/VES", "39.80", "39.80"),
		}},
		domain.ExchangeBinanceP2P:  {code: domain.ExchangeBinanceP2P, quotes: []domain.Quote{binance}},
		domain.ExchangeItalcambios: {code: domain.ExchangeItalcambios, quotes: []domain.Quote{
			fq(domain.ExchangeItalcambios, "USD/VES", "36.45", "36.80"),
		}},
	}

	store := &fakeRateStore{rows: map[string]domain.CurrentRate{}}
	sfs := make([]application.SourceFetcher, 0, len(fetchers))
	for _, f := range fetchers {
		sfs = append(sfs, f)
	}
	return application.NewRateService(store, nil, nil, sfs), store, fetchers
}
