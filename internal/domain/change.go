package domain

import "github.com/shopspring/decimal"

// DefaultChangeTolerance is the absolute average-price movement below which
// an update is not worth a history entry.
var DefaultChangeTolerance = decimal.RequireFromString("0.0001")

// SignificantChange reports whether candidate differs enough from previous to
// deserve a history record. A nil previous (first observation for the key) is
// always significant; otherwise the absolute difference of the average prices
// must exceed tolerance.
func SignificantChange(previous *Quote, candidate Quote, tolerance decimal.Decimal) bool {
	if previous == nil {
		return true
	}
	return candidate.Avg().Sub(previous.Avg()).Abs().GreaterThan(tolerance)
}
