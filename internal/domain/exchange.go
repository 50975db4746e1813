package domain

import (
	"strings"
	"time"
)

type ExchangeKind string

const (
	ExchangeKindFiat   ExchangeKind = "fiat"
	ExchangeKindCrypto ExchangeKind = "crypto"
)

// Exchange describes one configured rate source. Freshness is the per-source
// window after which stored data is considered stale and worth refetching.
type Exchange struct {
	Code      string
	Name      string
	Kind      ExchangeKind
	Freshness time.Duration
}

const (
	ExchangeBCV         = "BCV"
	ExchangeBinanceP2P  = "BINANCE_P2P"
	ExchangeItalcambios = "ITALCAMBIOS"
)

var exchanges = []Exchange{
	{Code: ExchangeBCV, Name: "Banco Central de Venezuela", Kind: ExchangeKindFiat, Freshness: 60 * time.Minute},
	{Code: ExchangeBinanceP2P, Name: "Binance P2P", Kind: ExchangeKindCrypto, Freshness: 15 * time.Minute},
	{Code: ExchangeItalcambios, Name: "Italcambios", Kind: ExchangeKindFiat, Freshness: 30 * time.Minute},
}

// Exchanges returns the registered sources in stable order.
func Exchanges() []Exchange {
	out := make([]Exchange, len(exchanges))
	copy(out, exchanges)
	return out
}

func ExchangeByCode(code string) (Exchange, bool) {
	code = strings.ToUpper(code)
	for _, ex := range exchanges {
		if ex.Code == code {
			return ex, true
		}
	}
	return Exchange{}, false
}
