package provider

import (
	"context"
	"errors"
	"net"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"vesrates-service/internal/application"
)

// browserUA is sent on scraping requests; both bank sites reject the default
// Go user agent.
const browserUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"

const defaultFetchTimeout = 30 * time.Second

// rateRe matches a decimal number with either separator, e.g. 36,50 or 36.50.
var rateRe = regexp.MustCompile(`(\d+[.,]\d+)`)

// Scraped numbers outside this band are parse artifacts, not market moves.
var (
	minPlausibleRate = decimal.RequireFromString("0.1")
	maxPlausibleRate = decimal.NewFromInt(1000)
)

func plausibleRate(d decimal.Decimal) bool {
	return d.GreaterThanOrEqual(minPlausibleRate) && d.LessThanOrEqual(maxPlausibleRate)
}

// parseRate normalizes the Venezuelan comma decimal separator and parses.
func parseRate(s string) (decimal.Decimal, error) {
	return decimal.NewFromString(strings.ReplaceAll(s, ",", "."))
}

// window returns up to size bytes of html following the first occurrence of
// marker.
func window(html, marker string, size int) (string, bool) {
	i := strings.Index(html, marker)
	if i < 0 {
		return "", false
	}
	rest := html[i:]
	if len(rest) > size {
		rest = rest[:size]
	}
	return rest, true
}

// firstRate extracts the first decimal number after marker.
func firstRate(html, marker string) (decimal.Decimal, bool) {
	w, ok := window(html, marker, 600)
	if !ok {
		return decimal.Decimal{}, false
	}
	m := rateRe.FindString(strings.ReplaceAll(w, ",", "."))
	if m == "" {
		return decimal.Decimal{}, false
	}
	d, err := parseRate(m)
	if err != nil {
		return decimal.Decimal{}, false
	}
	return d, true
}

// classify maps a transport error onto the fetch taxonomy. Malformed
// responses are classified where they are detected.
func classify(exchange string, err error) error {
	var fe *application.FetchError
	if errors.As(err, &fe) {
		return err
	}
	var ne net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return application.NewFetchError(exchange, application.FetchTimeout, err)
	case errors.As(err, &ne) && ne.Timeout():
		return application.NewFetchError(exchange, application.FetchTimeout, err)
	default:
		return application.NewFetchError(exchange, application.FetchUnreachable, err)
	}
}
