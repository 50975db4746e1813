package application

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"vesrates-service/internal/domain"
)

var hundred = decimal.NewFromInt(100)

// SummaryView groups current rates per exchange and carries the official
// versus parallel market analysis for the primary dollar rate.
type SummaryView struct {
	Exchanges      []ExchangeSummary `json:"exchanges"`
	MarketAnalysis *MarketAnalysis   `json:"market_analysis,omitempty"`
	GeneratedAt    time.Time         `json:"generated_at"`
}

type ExchangeSummary struct {
	ExchangeCode string              `json:"exchange_code"`
	Name         string              `json:"name"`
	Kind         domain.ExchangeKind `json:"kind"`
	RatesCount   int                 `json:"rates_count"`
	Pairs        []PairSummary       `json:"pairs"`
	LastUpdate   time.Time           `json:"last_update"`
	Stale        bool                `json:"stale"`
}

type PairSummary struct {
	Pair string          `json:"currency_pair"`
	Buy  decimal.Decimal `json:"buy_price"`
	Sell decimal.Decimal `json:"sell_price"`
	Avg  decimal.Decimal `json:"avg_price"`
}

type MarketAnalysis struct {
	Official         string          `json:"official"`
	Market           string          `json:"market"`
	OfficialAvg      decimal.Decimal `json:"official_avg"`
	MarketAvg        decimal.Decimal `json:"market_avg"`
	Spread           decimal.Decimal `json:"spread"`
	SpreadPercentage decimal.Decimal `json:"spread_percentage"`
	Label            string          `json:"label"`
	ZeroOfficial     bool            `json:"zero_official,omitempty"`
}

// CompareView pairs a named official source against a named market source.
type CompareView struct {
	Official         CompareSide     `json:"official"`
	Market           CompareSide     `json:"market"`
	Spread           decimal.Decimal `json:"spread"`
	SpreadPercentage decimal.Decimal `json:"spread_percentage"`
	ZeroOfficial     bool            `json:"zero_official,omitempty"`
	GeneratedAt      time.Time       `json:"generated_at"`
}

type CompareSide struct {
	ExchangeCode string          `json:"exchange_code"`
	Pair         string          `json:"currency_pair"`
	Avg          decimal.Decimal `json:"avg_price"`
	LastUpdate   time.Time       `json:"last_update"`
	Stale        bool            `json:"stale"`
}

// StatusView reports per-source health without touching external sources.
type StatusView struct {
	Exchanges   []ExchangeStatus `json:"exchanges"`
	TotalRates  int              `json:"total_rates"`
	GeneratedAt time.Time        `json:"generated_at"`
}

type ExchangeStatus struct {
	ExchangeCode string              `json:"exchange_code"`
	Name         string              `json:"name"`
	Kind         domain.ExchangeKind `json:"kind"`
	RatesCount   int                 `json:"rates_count"`
	Pairs        []string            `json:"currency_pairs"`
	LastUpdate   time.Time           `json:"last_update"`
	Stale        bool                `json:"stale"`
	LastRun      time.Time           `json:"last_run"`
	LastSuccess  time.Time           `json:"last_success"`
	LastError    string              `json:"last_error,omitempty"`
}

func currentKey(f CurrentFilter) string {
	ex, pair := "all", "all"
	if f.ExchangeCode != "" {
		ex = strings.ToUpper(f.ExchangeCode)
	}
	if f.Pair != "" {
		pair = strings.ToUpper(f.Pair)
	}
	return "current:" + ex + ":" + pair
}

func historyKey(limit int) string { return fmt.Sprintf("history:%d", limit) }

func compareKey(official, market string) string {
	return "compare:" + strings.ToUpper(official) + ":" + strings.ToUpper(market)
}

const summaryKey = "summary"

func (s *RateService) validateFilter(f *CurrentFilter) error {
	if f.ExchangeCode != "" {
		ex, ok := domain.ExchangeByCode(f.ExchangeCode)
		if !ok {
			return fmt.Errorf("%w: unknown exchange %q", ErrBadRequest, f.ExchangeCode)
		}
		f.ExchangeCode = ex.Code
	}
	if f.Pair != "" {
		f.Pair = strings.ToUpper(f.Pair)
		if !domain.ValidatePair(f.Pair) {
			return fmt.Errorf("%w: unsupported pair %q", ErrBadRequest, f.Pair)
		}
	}
	return nil
}

// GetCurrent serves current rates, cache first. On a cache miss it runs the
// conditional (force=false) ingestion for the exchanges in scope before
// reading, so stale stored data gets refreshed on the read path; a failed
// refresh degrades to serving whatever the store holds.
func (s *RateService) GetCurrent(ctx context.Context, f CurrentFilter) ([]domain.CurrentRate, error) {
	if err := s.validateFilter(&f); err != nil {
		return nil, err
	}

	key := currentKey(f)
	if b, ok := s.cache.Get(ctx, key); ok {
		var rows []domain.CurrentRate
		if err := json.Unmarshal(b, &rows); err == nil {
			s.metrics.CacheHit("current")
			return rows, nil
		}
	}
	s.metrics.CacheMiss("current")

	if f.ExchangeCode != "" {
		_, _ = s.RunForExchange(ctx, f.ExchangeCode, false)
	} else {
		s.RunAll(ctx, false)
	}

	rows, err := s.store.ReadCurrent(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("read current rates: %w", err)
	}
	s.cacheCurrent(ctx, f, rows)
	return rows, nil
}

// GetHistory serves recent history records, most recent first. limit=0 is an
// explicit empty result.
func (s *RateService) GetHistory(ctx context.Context, limit int) ([]domain.HistoryRecord, error) {
	if limit < 0 {
		return nil, fmt.Errorf("%w: negative limit", ErrBadRequest)
	}
	if limit == 0 {
		return []domain.HistoryRecord{}, nil
	}

	key := historyKey(limit)
	if b, ok := s.cache.Get(ctx, key); ok {
		var recs []domain.HistoryRecord
		if err := json.Unmarshal(b, &recs); err == nil {
			s.metrics.CacheHit("history")
			return recs, nil
		}
	}
	s.metrics.CacheMiss("history")

	recs, err := s.store.ReadHistory(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("read rate history: %w", err)
	}
	if b, err := json.Marshal(recs); err == nil {
		s.cache.Set(ctx, key, b, s.historyTTL)
	}
	return recs, nil
}

// GetSummary aggregates current rates per exchange and, when both sides are
// present, the official/parallel dollar analysis.
func (s *RateService) GetSummary(ctx context.Context) (SummaryView, error) {
	if b, ok := s.cache.Get(ctx, summaryKey); ok {
		var v SummaryView
		if err := json.Unmarshal(b, &v); err == nil {
			s.metrics.CacheHit("summary")
			return v, nil
		}
	}
	s.metrics.CacheMiss("summary")

	rows, err := s.GetCurrent(ctx, CurrentFilter{})
	if err != nil {
		return SummaryView{}, err
	}

	now := s.clock.Now()
	view := SummaryView{GeneratedAt: now}
	for _, ex := range domain.Exchanges() {
		sum := ExchangeSummary{
			ExchangeCode: ex.Code,
			Name:         ex.Name,
			Kind:         ex.Kind,
			Pairs:        []PairSummary{},
		}
		for _, r := range rows {
			if r.ExchangeCode != ex.Code {
				continue
			}
			sum.RatesCount++
			sum.Pairs = append(sum.Pairs, PairSummary{
				Pair: string(r.Pair),
				Buy:  r.Buy,
				Sell: r.Sell,
				Avg:  r.Avg,
			})
			if r.LastUpdate.After(sum.LastUpdate) {
				sum.LastUpdate = r.LastUpdate
			}
		}
		sum.Stale = sum.RatesCount == 0 || now.Sub(sum.LastUpdate) > s.freshnessFor(ex)
		view.Exchanges = append(view.Exchanges, sum)
	}
	view.MarketAnalysis = marketAnalysis(rows, domain.ExchangeBCV, domain.ExchangeBinanceP2P)

	if b, err := json.Marshal(view); err == nil {
		s.cache.Set(ctx, summaryKey, b, s.historyTTL)
	}
	return view, nil
}

// GetCompare computes the spread between a named official source and a named
// market source over their primary dollar rates.
func (s *RateService) GetCompare(ctx context.Context, officialID, marketID string) (CompareView, error) {
	official, ok := domain.ExchangeByCode(officialID)
	if !ok {
		return CompareView{}, fmt.Errorf("%w: unknown exchange %q", ErrBadRequest, officialID)
	}
	market, ok := domain.ExchangeByCode(marketID)
	if !ok {
		return CompareView{}, fmt.Errorf("%w: unknown exchange %q", ErrBadRequest, marketID)
	}

	key := compareKey(official.Code, market.Code)
	if b, ok := s.cache.Get(ctx, key); ok {
		var v CompareView
		if err := json.Unmarshal(b, &v); err == nil {
			s.metrics.CacheHit("compare")
			return v, nil
		}
	}
	s.metrics.CacheMiss("compare")

	officialRows, err := s.GetCurrent(ctx, CurrentFilter{ExchangeCode: official.Code})
	if err != nil {
		return CompareView{}, err
	}
	marketRows, err := s.GetCurrent(ctx, CurrentFilter{ExchangeCode: market.Code})
	if err != nil {
		return CompareView{}, err
	}

	officialRate := primaryDollarRate(officialRows)
	marketRate := primaryDollarRate(marketRows)
	if officialRate == nil || marketRate == nil {
		return CompareView{}, fmt.Errorf("%w: no comparable dollar rates for %s vs %s", ErrNotFound, official.Code, market.Code)
	}

	now := s.clock.Now()
	spread := marketRate.Avg.Sub(officialRate.Avg)
	view := CompareView{
		Official: CompareSide{
			ExchangeCode: official.Code,
			Pair:         string(officialRate.Pair),
			Avg:          officialRate.Avg,
			LastUpdate:   officialRate.LastUpdate,
			Stale:        officialRate.Stale(now, s.freshnessFor(official)),
		},
		Market: CompareSide{
			ExchangeCode: market.Code,
			Pair:         string(marketRate.Pair),
			Avg:          marketRate.Avg,
			LastUpdate:   marketRate.LastUpdate,
			Stale:        marketRate.Stale(now, s.freshnessFor(market)),
		},
		Spread:      spread,
		GeneratedAt: now,
	}
	if officialRate.Avg.IsZero() {
		view.ZeroOfficial = true
		view.SpreadPercentage = decimal.Zero
	} else {
		view.SpreadPercentage = spread.Div(officialRate.Avg).Mul(hundred)
	}

	if b, err := json.Marshal(view); err == nil {
		s.cache.Set(ctx, key, b, s.historyTTL)
	}
	return view, nil
}

// GetStatus reports stored-data coverage and run bookkeeping per exchange. It
// reads the store directly and never triggers a fetch.
func (s *RateService) GetStatus(ctx context.Context) (StatusView, error) {
	rows, err := s.store.ReadCurrent(ctx, CurrentFilter{})
	if err != nil {
		return StatusView{}, fmt.Errorf("read current rates: %w", err)
	}

	now := s.clock.Now()
	view := StatusView{GeneratedAt: now}
	for _, ex := range domain.Exchanges() {
		st := ExchangeStatus{
			ExchangeCode: ex.Code,
			Name:         ex.Name,
			Kind:         ex.Kind,
			Pairs:        []string{},
		}
		for _, r := range rows {
			if r.ExchangeCode != ex.Code {
				continue
			}
			st.RatesCount++
			st.Pairs = append(st.Pairs, string(r.Pair))
			if r.LastUpdate.After(st.LastUpdate) {
				st.LastUpdate = r.LastUpdate
			}
		}
		st.Stale = st.RatesCount == 0 || now.Sub(st.LastUpdate) > s.freshnessFor(ex)
		run := s.runState(ex.Code)
		st.LastRun = run.LastRun
		st.LastSuccess = run.LastSuccess
		st.LastError = run.LastError
		view.TotalRates += st.RatesCount
		view.Exchanges = append(view.Exchanges, st)
	}
	return view, nil
}

// ForceRefresh triggers an unconditional ingestion run for one exchange, or
// for all registered exchanges when the code is empty.
func (s *RateService) ForceRefresh(ctx context.Context, exchangeCode string) ([]RunResult, error) {
	if exchangeCode == "" {
		return s.RunAll(ctx, true), nil
	}
	res, err := s.RunForExchange(ctx, exchangeCode, true)
	if err != nil {
		return nil, err
	}
	return []RunResult{res}, nil
}

func (s *RateService) cacheCurrent(ctx context.Context, f CurrentFilter, rows []domain.CurrentRate) {
	if b, err := json.Marshal(rows); err == nil {
		s.cache.Set(ctx, currentKey(f), b, s.currentTTL)
	}
}

// primaryDollarRate picks the USD or USDT quoted-in-VES row the comparison
// views work with.
func primaryDollarRate(rows []domain.CurrentRate) *domain.CurrentRate {
	for i := range rows {
		base := rows[i].Pair.Base()
		if base == "USD" || base == "USDT" {
			return &rows[i]
		}
	}
	return nil
}

func marketAnalysis(rows []domain.CurrentRate, officialCode, marketCode string) *MarketAnalysis {
	var officialRows, marketRows []domain.CurrentRate
	for _, r := range rows {
		switch r.ExchangeCode {
		case officialCode:
			officialRows = append(officialRows, r)
		case marketCode:
			marketRows = append(marketRows, r)
		}
	}
	official := primaryDollarRate(officialRows)
	market := primaryDollarRate(marketRows)
	if official == nil || market == nil {
		return nil
	}

	spread := market.Avg.Sub(official.Avg)
	ma := &MarketAnalysis{
		Official:    officialCode,
		Market:      marketCode,
		OfficialAvg: official.Avg,
		MarketAvg:   market.Avg,
		Spread:      spread,
	}
	if official.Avg.IsZero() {
		ma.ZeroOfficial = true
		ma.SpreadPercentage = decimal.Zero
	} else {
		ma.SpreadPercentage = spread.Div(official.Avg).Mul(hundred)
	}
	if spread.IsNegative() {
		ma.Label = "discount"
	} else {
		ma.Label = "premium"
	}
	return ma
}
