package provider

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"vesrates-service/internal/application"
	"vesrates-service/internal/domain"
)

// Ensure Fake implements application.SourceFetcher.
var _ application.SourceFetcher = (*Fake)(nil)

// Fake serves static quotes shaped like the live source for one exchange.
// Used in development when the live sources are unreachable.
type Fake struct {
	exchange string
	rate     decimal.Decimal
}

func NewFake(exchange string, rate decimal.Decimal) *Fake {
	return &Fake{exchange: exchange, rate: rate}
}

func (f *Fake) ExchangeCode() string { return f.exchange }

func (f *Fake) Fetch(_ context.Context) ([]domain.Quote, error) {
	now := time.Now().UTC()
	spread := f.rate.Mul(decimal.RequireFromString("0.01"))

	switch f.exchange {
	case domain.ExchangeBinanceP2P:
		return []domain.Quote{{
			ExchangeCode: f.exchange,
			Pair:         "USDT/VES",
			Buy:          f.rate,
			Sell:         f.rate.Add(spread),
			Volume24h:    decimal.NewNullDecimal(decimal.NewFromInt(250000)),
			Source:       "fake",
			APIMethod:    "official_api",
			TradeType:    "general",
			ObservedAt:   now,
		}}, nil
	case domain.ExchangeItalcambios:
		return []domain.Quote{{
			ExchangeCode: f.exchange,
			Pair:         "USD/VES",
			Buy:          f.rate.Sub(spread),
			Sell:         f.rate.Add(spread),
			Source:       "fake",
			APIMethod:    "web_scraping",
			TradeType:    "official",
			ObservedAt:   now,
		}}, nil
	default:
		eur := f.rate.Mul(decimal.RequireFromString("1.09"))
		return []domain.Quote{
			{
				ExchangeCode: f.exchange,
				Pair:         "USD/VES",
				Buy:          f.rate,
				Sell:         f.rate,
				Source:       "fake",
				APIMethod:    "web_scraping",
				TradeType:    "official",
				ObservedAt:   now,
			},
			{
				ExchangeCode: f.exchange,
				Pair:         "EUR/VES",
				Buy:          eur,
				Sell:         eur,
				Source:       "fake",
				APIMethod:    "web_scraping",
				TradeType:    "official",
				ObservedAt:   now,
			},
		}, nil
	}
}
