package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Quote is one observed exchange-rate data point from a source.
// Immutable once constructed; AvgPrice is always derived from Buy and Sell.
type Quote struct {
	ExchangeCode string
	Pair         Pair
	Buy          decimal.Decimal
	Sell         decimal.Decimal
	Volume24h    decimal.NullDecimal
	Source       string
	APIMethod    string
	TradeType    string
	ObservedAt   time.Time
}

var two = decimal.NewFromInt(2)

func (q Quote) Avg() decimal.Decimal {
	return q.Buy.Add(q.Sell).Div(two)
}

// Validate checks the price invariants: Buy and Sell strictly positive,
// Volume24h non-negative when present.
func (q Quote) Validate() error {
	if q.ExchangeCode == "" {
		return ErrUnknownExchange
	}
	if !ValidatePair(string(q.Pair)) {
		return ErrUnsupportedPair
	}
	if !q.Buy.IsPositive() || !q.Sell.IsPositive() {
		return ErrInvalidPrice
	}
	if q.Volume24h.Valid && q.Volume24h.Decimal.IsNegative() {
		return ErrInvalidPrice
	}
	return nil
}

// CurrentRate is the latest accepted Quote for an (exchange, pair) key,
// overwritten in place on every accepted update.
type CurrentRate struct {
	ExchangeCode string
	Pair         Pair
	Buy          decimal.Decimal
	Sell         decimal.Decimal
	Avg          decimal.Decimal
	Volume24h    decimal.NullDecimal
	Source       string
	APIMethod    string
	TradeType    string
	MarketStatus string
	LastUpdate   time.Time
}

// AsQuote converts the stored row back into the Quote it was written from.
func (r CurrentRate) AsQuote() Quote {
	return Quote{
		ExchangeCode: r.ExchangeCode,
		Pair:         r.Pair,
		Buy:          r.Buy,
		Sell:         r.Sell,
		Volume24h:    r.Volume24h,
		Source:       r.Source,
		APIMethod:    r.APIMethod,
		TradeType:    r.TradeType,
		ObservedAt:   r.LastUpdate,
	}
}

// Stale reports whether the row is older than the given freshness window.
func (r CurrentRate) Stale(now time.Time, freshness time.Duration) bool {
	return now.Sub(r.LastUpdate) > freshness
}
