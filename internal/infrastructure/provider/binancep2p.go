package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"vesrates-service/internal/application"
	"vesrates-service/internal/domain"
	"vesrates-service/internal/infrastructure/httpx"
	"vesrates-service/internal/infrastructure/logx"
)

// BinanceP2PProvider reads the USDT/VES parallel rate from the Binance P2P
// advertisement search. Two queries are made per fetch: SELL ads give the
// price a buyer pays (buy side), BUY ads give the price a seller receives
// (sell side).
type BinanceP2PProvider struct {
	URL    string
	Client *httpx.Client
}

var _ application.SourceFetcher = (*BinanceP2PProvider)(nil)

func NewBinanceP2P(rawURL string) *BinanceP2PProvider {
	return &BinanceP2PProvider{
		URL: rawURL,
		Client: &httpx.Client{
			HTTP:      &http.Client{Timeout: defaultFetchTimeout},
			UserAgent: browserUA,
		},
	}
}

type p2pSearchReq struct {
	Fiat                      string   `json:"fiat"`
	Page                      int      `json:"page"`
	Rows                      int      `json:"rows"`
	TransAmount               int      `json:"transAmount"`
	TradeType                 string   `json:"tradeType"`
	Asset                     string   `json:"asset"`
	Countries                 []string `json:"countries"`
	ProMerchantAds            bool     `json:"proMerchantAds"`
	ShieldMerchantAds         bool     `json:"shieldMerchantAds"`
	FilterType                string   `json:"filterType"`
	Periods                   []int    `json:"periods"`
	AdditionalKycVerifyFilter int      `json:"additionalKycVerifyFilter"`
	PublisherType             string   `json:"publisherType"`
	PayTypes                  []string `json:"payTypes"`
	Classifies                []string `json:"classifies"`
	TradedWith                bool     `json:"tradedWith"`
	Followed                  bool     `json:"followed"`
}

type p2pSearchResp struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Data    []struct {
		Adv struct {
			Price         string `json:"price"`
			SurplusAmount string `json:"surplusAmount"`
		} `json:"adv"`
		Advertiser struct {
			NickName string `json:"nickName"`
			UserType string `json:"userType"`
		} `json:"advertiser"`
	} `json:"data"`
}

func searchReq(side string) p2pSearchReq {
	return p2pSearchReq{
		Fiat:          "VES",
		Page:          1,
		Rows:          10,
		TransAmount:   500,
		TradeType:     side,
		Asset:         "USDT",
		Countries:     []string{},
		FilterType:    "all",
		Periods:       []int{},
		PublisherType: "merchant",
		PayTypes:      []string{"PagoMovil"},
		Classifies:    []string{"mass", "profession", "fiat_trade"},
	}
}

// query runs one advertisement search and returns the best price on that
// side (lowest for SELL, highest for BUY) plus the summed ad liquidity.
func (p *BinanceP2PProvider) query(ctx context.Context, side string) (decimal.Decimal, decimal.Decimal, error) {
	var res p2pSearchResp
	if err := p.Client.PostJSON(ctx, p.URL, searchReq(side), &res); err != nil {
		return decimal.Decimal{}, decimal.Decimal{}, classify(domain.ExchangeBinanceP2P,
			fmt.Errorf("binance_p2p: search %s: %w", side, err))
	}
	if res.Code != "000000" {
		return decimal.Decimal{}, decimal.Decimal{}, application.NewFetchError(domain.ExchangeBinanceP2P,
			application.FetchMalformed, fmt.Errorf("binance_p2p: search %s: code %s %s", side, res.Code, res.Message))
	}
	if len(res.Data) == 0 {
		return decimal.Decimal{}, decimal.Decimal{}, application.NewFetchError(domain.ExchangeBinanceP2P,
			application.FetchMalformed, fmt.Errorf("binance_p2p: search %s: no advertisements", side))
	}

	var best, volume decimal.Decimal
	for _, entry := range res.Data {
		price, err := decimal.NewFromString(entry.Adv.Price)
		if err != nil {
			continue
		}
		if surplus, err := decimal.NewFromString(entry.Adv.SurplusAmount); err == nil {
			volume = volume.Add(surplus)
		}
		if best.IsZero() {
			best = price
			continue
		}
		if side == "SELL" && price.LessThan(best) {
			best = price
		}
		if side == "BUY" && price.GreaterThan(best) {
			best = price
		}
	}
	if best.IsZero() {
		return decimal.Decimal{}, decimal.Decimal{}, application.NewFetchError(domain.ExchangeBinanceP2P,
			application.FetchMalformed, fmt.Errorf("binance_p2p: search %s: no parseable prices", side))
	}
	return best, volume, nil
}

func (p *BinanceP2PProvider) ExchangeCode() string { return domain.ExchangeBinanceP2P }

func (p *BinanceP2PProvider) Fetch(ctx context.Context) ([]domain.Quote, error) {
	sellBest, sellVol, sellErr := p.query(ctx, "SELL")
	buyBest, buyVol, buyErr := p.query(ctx, "BUY")
	if sellErr != nil && buyErr != nil {
		return nil, errors.Join(sellErr, buyErr)
	}

	// One side down is survivable: quote the working side for both prices.
	buy, sell := sellBest, buyBest
	switch {
	case sellErr != nil:
		logx.L().Warn("binance_p2p.side_failed", zap.String("side", "SELL"), zap.Error(sellErr))
		buy = buyBest
	case buyErr != nil:
		logx.L().Warn("binance_p2p.side_failed", zap.String("side", "BUY"), zap.Error(buyErr))
		sell = sellBest
	}

	quote := domain.Quote{
		ExchangeCode: domain.ExchangeBinanceP2P,
		Pair:         "USDT/VES",
		Buy:          buy,
		Sell:         sell,
		Volume24h:    decimal.NewNullDecimal(sellVol.Add(buyVol)),
		Source:       "binance_p2p",
		APIMethod:    "official_api",
		TradeType:    "general",
		ObservedAt:   time.Now().UTC(),
	}
	logx.L().Info("binance_p2p.fetch_success",
		zap.String("buy", buy.String()),
		zap.String("sell", sell.String()),
	)
	return []domain.Quote{quote}, nil
}
