package application

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"vesrates-service/internal/domain"
)

var t0 = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func Test_RunForExchange_FirstObservation(t *testing.T) {
	t.Parallel()
	store := newMemStore()
	fetcher := &scriptedFetcher{code: domain.ExchangeBCV, quotes: []domain.Quote{
		quoteAt(domain.ExchangeBCV, "USD/VES", "36.50", t0),
		quoteAt(domain.ExchangeBCV, "EUR/VES", "39.80", t0),
	}}
	svc := NewRateService(store, nil, nil, []SourceFetcher{fetcher}, WithClock(fakeClock{t: t0}))

	res, err := svc.RunForExchange(context.Background(), domain.ExchangeBCV, true)
	require.NoError(t, err)
	require.Equal(t, RunFetched, res.Outcome)
	require.Equal(t, 2, res.Quotes)
	require.Equal(t, 2, res.Significant)
	require.Empty(t, res.Error)

	row, ok := store.currentRow(domain.ExchangeBCV, "USD/VES")
	require.True(t, ok)
	require.True(t, row.Avg.Equal(d("36.50")), "avg %s", row.Avg)
	require.Equal(t, t0, row.LastUpdate)
	require.Equal(t, 2, store.historyLen())
}

func Test_RunForExchange_InsignificantChange_RefreshesCurrentOnly(t *testing.T) {
	t.Parallel()
	store := newMemStore()
	store.seed(quoteAt(domain.ExchangeBCV, "USD/VES", "36.50", t0))

	later := t0.Add(5 * time.Minute)
	fetcher := &scriptedFetcher{code: domain.ExchangeBCV, quotes: []domain.Quote{
		quoteAt(domain.ExchangeBCV, "USD/VES", "36.50005", later),
	}}
	svc := NewRateService(store, nil, nil, []SourceFetcher{fetcher}, WithClock(fakeClock{t: later}))

	res, err := svc.RunForExchange(context.Background(), domain.ExchangeBCV, true)
	require.NoError(t, err)
	require.Equal(t, RunFetched, res.Outcome)
	require.Equal(t, 1, res.Quotes)
	require.Equal(t, 0, res.Significant)

	row, _ := store.currentRow(domain.ExchangeBCV, "USD/VES")
	require.True(t, row.Avg.Equal(d("36.50005")), "avg %s", row.Avg)
	require.Equal(t, later, row.LastUpdate)
	require.Equal(t, 1, store.historyLen(), "no history for a sub-tolerance move")
}

func Test_RunForExchange_SignificantChange_AppendsHistory(t *testing.T) {
	t.Parallel()
	store := newMemStore()
	store.seed(quoteAt(domain.ExchangeBCV, "USD/VES", "36.50", t0))

	later := t0.Add(5 * time.Minute)
	fetcher := &scriptedFetcher{code: domain.ExchangeBCV, quotes: []domain.Quote{
		quoteAt(domain.ExchangeBCV, "USD/VES", "36.80", later),
	}}
	svc := NewRateService(store, nil, nil, []SourceFetcher{fetcher}, WithClock(fakeClock{t: later}))

	res, err := svc.RunForExchange(context.Background(), domain.ExchangeBCV, true)
	require.NoError(t, err)
	require.Equal(t, 1, res.Significant)

	row, _ := store.currentRow(domain.ExchangeBCV, "USD/VES")
	require.True(t, row.Avg.Equal(d("36.80")), "avg %s", row.Avg)
	require.Equal(t, 2, store.historyLen())
}

func Test_RunForExchange_FetchFailure_KeepsStoredData(t *testing.T) {
	t.Parallel()
	store := newMemStore()
	store.seed(quoteAt(domain.ExchangeBCV, "USD/VES", "36.50", t0))

	fetcher := &scriptedFetcher{
		code: domain.ExchangeBCV,
		err:  NewFetchError(domain.ExchangeBCV, FetchUnreachable, errors.New("connection refused")),
	}
	svc := NewRateService(store, nil, nil, []SourceFetcher{fetcher}, WithClock(fakeClock{t: t0.Add(2 * time.Hour)}))

	res, err := svc.RunForExchange(context.Background(), domain.ExchangeBCV, true)
	require.NoError(t, err, "source failures travel inside the result")
	require.Equal(t, RunFailed, res.Outcome)
	require.Contains(t, res.Error, "unreachable")

	row, ok := store.currentRow(domain.ExchangeBCV, "USD/VES")
	require.True(t, ok)
	require.True(t, row.Avg.Equal(d("36.50")), "avg %s", row.Avg)
	require.Equal(t, t0, row.LastUpdate)
	require.Equal(t, 1, store.historyLen())
}

func Test_RunForExchange_FetchTimeout(t *testing.T) {
	t.Parallel()
	store := newMemStore()
	fetcher := &scriptedFetcher{code: domain.ExchangeBCV, delay: 200 * time.Millisecond}
	svc := NewRateService(store, nil, nil, []SourceFetcher{fetcher},
		WithClock(fakeClock{t: t0}),
		WithFetchTimeout(20*time.Millisecond),
	)

	res, err := svc.RunForExchange(context.Background(), domain.ExchangeBCV, true)
	require.NoError(t, err)
	require.Equal(t, RunFailed, res.Outcome)
	require.Contains(t, res.Error, "deadline")
}

func Test_RunAll_IsolatesFailures(t *testing.T) {
	t.Parallel()
	store := newMemStore()
	fetchers := []SourceFetcher{
		&scriptedFetcher{code: domain.ExchangeBCV, quotes: []domain.Quote{
			quoteAt(domain.ExchangeBCV, "USD/VES", "36.50", t0),
		}},
		&scriptedFetcher{code: domain.ExchangeBinanceP2P, err: errors.New("boom")},
		&scriptedFetcher{code: domain.ExchangeItalcambios, quotes: []domain.Quote{
			quoteAt(domain.ExchangeItalcambios, "USD/VES", "37.00", t0),
		}},
	}
	svc := NewRateService(store, nil, nil, fetchers, WithClock(fakeClock{t: t0}))

	results := svc.RunAll(context.Background(), true)
	require.Len(t, results, 3)

	byCode := map[string]RunResult{}
	for _, r := range results {
		byCode[r.ExchangeCode] = r
	}
	require.Equal(t, RunFetched, byCode[domain.ExchangeBCV].Outcome)
	require.Equal(t, RunFailed, byCode[domain.ExchangeBinanceP2P].Outcome)
	require.Equal(t, RunFetched, byCode[domain.ExchangeItalcambios].Outcome)

	_, ok := store.currentRow(domain.ExchangeBCV, "USD/VES")
	require.True(t, ok)
	_, ok = store.currentRow(domain.ExchangeBinanceP2P, "USDT/VES")
	require.False(t, ok)
	_, ok = store.currentRow(domain.ExchangeItalcambios, "USD/VES")
	require.True(t, ok)
}

func Test_RunForExchange_FreshnessWindow(t *testing.T) {
	t.Parallel()
	store := newMemStore()
	store.seed(quoteAt(domain.ExchangeItalcambios, "USD/VES", "37.00", t0))
	fetcher := &scriptedFetcher{code: domain.ExchangeItalcambios, quotes: []domain.Quote{
		quoteAt(domain.ExchangeItalcambios, "USD/VES", "37.10", t0),
	}}

	// Italcambios carries a 30 minute freshness window.
	svcFresh := NewRateService(store, nil, nil, []SourceFetcher{fetcher}, WithClock(fakeClock{t: t0.Add(10 * time.Minute)}))
	svcStale := NewRateService(store, nil, nil, []SourceFetcher{fetcher}, WithClock(fakeClock{t: t0.Add(31 * time.Minute)}))

	res, err := svcFresh.RunForExchange(context.Background(), domain.ExchangeItalcambios, false)
	require.NoError(t, err)
	require.Equal(t, RunSkippedFresh, res.Outcome)
	require.Equal(t, 1, res.Quotes)
	require.EqualValues(t, 0, fetcher.calls.Load())

	res, err = svcStale.RunForExchange(context.Background(), domain.ExchangeItalcambios, false)
	require.NoError(t, err)
	require.Equal(t, RunFetched, res.Outcome)
	require.EqualValues(t, 1, fetcher.calls.Load())

	res, err = svcFresh.RunForExchange(context.Background(), domain.ExchangeItalcambios, true)
	require.NoError(t, err)
	require.Equal(t, RunFetched, res.Outcome, "force bypasses the freshness check")
	require.EqualValues(t, 2, fetcher.calls.Load())
}

func Test_RunForExchange_OutOfOrderObservationIgnored(t *testing.T) {
	t.Parallel()
	store := newMemStore()
	newer := t0.Add(10 * time.Minute)
	store.seed(quoteAt(domain.ExchangeBCV, "USD/VES", "36.50", newer))

	fetcher := &scriptedFetcher{code: domain.ExchangeBCV, quotes: []domain.Quote{
		quoteAt(domain.ExchangeBCV, "USD/VES", "99.00", t0),
	}}
	svc := NewRateService(store, nil, nil, []SourceFetcher{fetcher}, WithClock(fakeClock{t: newer}))

	res, err := svc.RunForExchange(context.Background(), domain.ExchangeBCV, true)
	require.NoError(t, err)
	require.Equal(t, RunFetched, res.Outcome)
	require.Equal(t, 0, res.Quotes)
	require.Empty(t, res.Error)

	row, _ := store.currentRow(domain.ExchangeBCV, "USD/VES")
	require.True(t, row.Avg.Equal(d("36.50")), "stored row stays, avg %s", row.Avg)
	require.Equal(t, newer, row.LastUpdate)
	require.Equal(t, 1, store.historyLen())
}

func Test_RunForExchange_InvalidQuoteDropped_BatchContinues(t *testing.T) {
	t.Parallel()
	store := newMemStore()
	bad := quoteAt(domain.ExchangeBCV, "USD/VES", "36.50", t0)
	bad.Buy = d("0")
	good := quoteAt(domain.ExchangeBCV, "EUR/VES", "39.80", t0)

	fetcher := &scriptedFetcher{code: domain.ExchangeBCV, quotes: []domain.Quote{bad, good}}
	svc := NewRateService(store, nil, nil, []SourceFetcher{fetcher}, WithClock(fakeClock{t: t0}))

	res, err := svc.RunForExchange(context.Background(), domain.ExchangeBCV, true)
	require.NoError(t, err)
	require.Equal(t, RunFetched, res.Outcome)
	require.Equal(t, 1, res.Quotes)
	require.Equal(t, 1, res.Significant)
	require.Contains(t, res.Error, "constraint")

	_, ok := store.currentRow(domain.ExchangeBCV, "USD/VES")
	require.False(t, ok)
	_, ok = store.currentRow(domain.ExchangeBCV, "EUR/VES")
	require.True(t, ok)
	require.Equal(t, 1, store.historyLen())
}

func Test_RunForExchange_ConcurrentCallsShareOneFetch(t *testing.T) {
	t.Parallel()
	store := newMemStore()
	gate := make(chan struct{})
	fetcher := &scriptedFetcher{
		code: domain.ExchangeBCV,
		quotes: []domain.Quote{
			quoteAt(domain.ExchangeBCV, "USD/VES", "36.50", t0),
		},
		gate: gate,
	}
	svc := NewRateService(store, nil, nil, []SourceFetcher{fetcher}, WithClock(fakeClock{t: t0}))

	const callers = 5
	var ready, done sync.WaitGroup
	results := make([]RunResult, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		ready.Add(1)
		done.Add(1)
		go func(i int) {
			defer done.Done()
			ready.Done()
			results[i], errs[i] = svc.RunForExchange(context.Background(), domain.ExchangeBCV, true)
		}(i)
	}
	ready.Wait()
	time.Sleep(50 * time.Millisecond)
	close(gate)
	done.Wait()

	require.EqualValues(t, 1, fetcher.calls.Load())
	shared := 0
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		require.Equal(t, RunFetched, results[i].Outcome)
		if results[i].Shared {
			shared++
		}
	}
	require.GreaterOrEqual(t, shared, callers-1)
	require.Equal(t, 1, store.historyLen())
}

func Test_RunForExchange_UnknownExchange(t *testing.T) {
	t.Parallel()
	svc := NewRateService(newMemStore(), nil, nil, nil, WithClock(fakeClock{t: t0}))

	_, err := svc.RunForExchange(context.Background(), "KRAKEN", true)
	require.Error(t, err)
	require.ErrorIs(t, err, ErrBadRequest)
}

func Test_RunForExchange_RefreshesCaches(t *testing.T) {
	t.Parallel()
	store := newMemStore()
	cache := newMemCache()
	cache.Set(context.Background(), "current:all:all", []byte("x"), 0)
	cache.Set(context.Background(), "summary", []byte("x"), 0)
	cache.Set(context.Background(), "compare:BCV:BINANCE_P2P", []byte("x"), 0)
	cache.Set(context.Background(), "history:50", []byte("x"), 0)

	fetcher := &scriptedFetcher{code: domain.ExchangeBCV, quotes: []domain.Quote{
		quoteAt(domain.ExchangeBCV, "USD/VES", "36.50", t0),
	}}
	svc := NewRateService(store, cache, nil, []SourceFetcher{fetcher}, WithClock(fakeClock{t: t0}))

	_, err := svc.RunForExchange(context.Background(), domain.ExchangeBCV, true)
	require.NoError(t, err)

	require.False(t, cache.has("current:all:all"))
	require.False(t, cache.has("summary"))
	require.False(t, cache.has("compare:BCV:BINANCE_P2P"))
	require.False(t, cache.has("history:50"), "history entries drop when history changed")
	require.True(t, cache.has("current:BCV:all"), "per-exchange snapshot repopulated")

	// A sub-tolerance follow-up touches current entries but keeps history.
	cache.Set(context.Background(), "history:50", []byte("x"), 0)
	later := t0.Add(time.Minute)
	fetcher2 := &scriptedFetcher{code: domain.ExchangeBCV, quotes: []domain.Quote{
		quoteAt(domain.ExchangeBCV, "USD/VES", "36.50005", later),
	}}
	svc2 := NewRateService(store, cache, nil, []SourceFetcher{fetcher2}, WithClock(fakeClock{t: later}))

	_, err = svc2.RunForExchange(context.Background(), domain.ExchangeBCV, true)
	require.NoError(t, err)
	require.True(t, cache.has("history:50"))
}
