package application

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"vesrates-service/internal/domain"
)

type RunOutcome string

const (
	RunFetched      RunOutcome = "fetched"
	RunSkippedFresh RunOutcome = "skipped_fresh"
	RunFailed       RunOutcome = "failed"
)

// RunResult summarizes one ingestion attempt for one exchange. Shared marks a
// result received from a run that was already in flight when the caller asked.
type RunResult struct {
	ExchangeCode string     `json:"exchange_code"`
	Outcome      RunOutcome `json:"outcome"`
	Quotes       int        `json:"quotes"`
	Significant  int        `json:"significant"`
	Shared       bool       `json:"shared,omitempty"`
	Error        string     `json:"error,omitempty"`
	DurationMS   int64      `json:"duration_ms"`
}

// RunForExchange executes one ingestion run: fetch, change detection,
// persistence and cache maintenance. With force=false the fetch is skipped
// while stored data is younger than the exchange's freshness window.
//
// Concurrent calls for the same exchange collapse onto a single in-flight
// run; late callers receive that run's result with Shared set. Source
// failures come back inside the RunResult, never as the error return, so
// stale data keeps being served. The error return is reserved for invalid
// input.
func (s *RateService) RunForExchange(ctx context.Context, exchangeCode string, force bool) (RunResult, error) {
	ex, ok := domain.ExchangeByCode(exchangeCode)
	if !ok {
		return RunResult{}, fmt.Errorf("%w: unknown exchange %q", ErrBadRequest, exchangeCode)
	}

	v, _, shared := s.flight.Do(ex.Code, func() (any, error) {
		return s.run(ctx, ex, force), nil
	})
	res := v.(RunResult)
	res.Shared = shared
	return res, nil
}

// RunAll runs ingestion for every registered exchange concurrently. One
// exchange's failure never blocks another's; failures are carried inside the
// corresponding RunResult.
func (s *RateService) RunAll(ctx context.Context, force bool) []RunResult {
	exs := domain.Exchanges()
	out := make([]RunResult, len(exs))

	var wg sync.WaitGroup
	for i, ex := range exs {
		wg.Add(1)
		go func(i int, code string) {
			defer wg.Done()
			res, err := s.RunForExchange(ctx, code, force)
			if err != nil {
				res = RunResult{ExchangeCode: code, Outcome: RunFailed, Error: err.Error()}
			}
			out[i] = res
		}(i, ex.Code)
	}
	wg.Wait()
	return out
}

func (s *RateService) run(ctx context.Context, ex domain.Exchange, force bool) RunResult {
	start := s.clock.Now()
	res := RunResult{ExchangeCode: ex.Code}

	finish := func(r RunResult) RunResult {
		r.DurationMS = s.clock.Now().Sub(start).Milliseconds()
		s.metrics.ObserveRun(ex.Code, r.Outcome, s.clock.Now().Sub(start))
		s.recordRun(ex.Code, r, start)
		return r
	}

	if !force {
		rows, err := s.store.ReadCurrent(ctx, CurrentFilter{ExchangeCode: ex.Code})
		if err == nil && len(rows) > 0 && !s.exchangeStale(rows, ex, start) {
			res.Outcome = RunSkippedFresh
			res.Quotes = len(rows)
			return finish(res)
		}
	}

	fetcher, ok := s.fetchers[ex.Code]
	if !ok {
		res.Outcome = RunFailed
		res.Error = fmt.Sprintf("no fetcher configured for %s", ex.Code)
		return finish(res)
	}

	fctx, cancel := context.WithTimeout(ctx, s.fetchTimeout)
	defer cancel()

	quotes, err := fetcher.Fetch(fctx)
	if err != nil {
		res.Outcome = RunFailed
		res.Error = err.Error()
		return finish(res)
	}

	res.Outcome = RunFetched
	for _, q := range quotes {
		if err := s.persistQuote(ctx, q, &res); err != nil {
			res.Error = err.Error()
		}
	}

	s.refreshCaches(ctx, ex, res.Significant > 0)
	return finish(res)
}

// persistQuote applies one fetched quote. Current state is refreshed on every
// valid quote; a history record is appended only on significant change, and
// both writes then run inside one unit of work. A constraint violation or an
// out-of-order observation drops the single quote without aborting the batch.
func (s *RateService) persistQuote(ctx context.Context, q domain.Quote, res *RunResult) error {
	if err := q.Validate(); err != nil {
		return fmt.Errorf("%w: %s %s: %v", ErrConstraint, q.ExchangeCode, q.Pair, err)
	}

	prev, err := s.store.LastKnown(ctx, q.ExchangeCode, q.Pair)
	if err != nil {
		return err
	}

	significant := domain.SignificantChange(prev, q, s.tolerance)
	if significant {
		err = s.uow.Do(ctx, func(ctx context.Context) error {
			// Current state first: it is the correctness-critical write.
			if err := s.store.UpsertCurrent(ctx, q); err != nil {
				return err
			}
			return s.store.AppendHistory(ctx, q)
		})
	} else {
		err = s.store.UpsertCurrent(ctx, q)
	}

	switch {
	case err == nil:
		res.Quotes++
		if significant {
			res.Significant++
			s.metrics.AddSignificant(q.ExchangeCode, string(q.Pair))
		}
		return nil
	case errors.Is(err, ErrStaleWrite):
		// Out-of-order delivery: the stored record is newer, keep it.
		return nil
	case errors.Is(err, ErrConstraint):
		return err
	default:
		return err
	}
}

// refreshCaches drops derived entries touched by a run and repopulates the
// per-exchange current snapshot so the next read is warm.
func (s *RateService) refreshCaches(ctx context.Context, ex domain.Exchange, historyChanged bool) {
	s.cache.InvalidatePrefix(ctx, "current:")
	s.cache.InvalidatePrefix(ctx, "summary")
	s.cache.InvalidatePrefix(ctx, "compare:")
	if historyChanged {
		s.cache.InvalidatePrefix(ctx, "history:")
	}

	f := CurrentFilter{ExchangeCode: ex.Code}
	rows, err := s.store.ReadCurrent(ctx, f)
	if err != nil {
		return
	}
	s.cacheCurrent(ctx, f, rows)
}

// exchangeStale reports whether the newest stored row for the exchange is
// older than its freshness window.
func (s *RateService) exchangeStale(rows []domain.CurrentRate, ex domain.Exchange, now time.Time) bool {
	newest := rows[0].LastUpdate
	for _, r := range rows[1:] {
		if r.LastUpdate.After(newest) {
			newest = r.LastUpdate
		}
	}
	return now.Sub(newest) > s.freshnessFor(ex)
}
