package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// HistoryRecord is an immutable archival copy of a Quote. Records are
// append-only and eligible for age-based retention deletion only.
type HistoryRecord struct {
	ID           int64
	ExchangeCode string
	Pair         Pair
	Buy          decimal.Decimal
	Sell         decimal.Decimal
	Avg          decimal.Decimal
	Volume24h    decimal.NullDecimal
	Source       string
	APIMethod    string
	TradeType    string
	ObservedAt   time.Time
	InsertedAt   time.Time
}
