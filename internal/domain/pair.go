package domain

import (
	"regexp"
	"strings"
)

// Pair is a currency pair in "BASE/QUOTE" form, e.g. "USD/VES".
type Pair string

var SupportedCurrency = map[string]bool{
	"USD":  true,
	"EUR":  true,
	"VES":  true,
	"USDT": true,
}

var pairRe = regexp.MustCompile(`^[A-Z]{3,4}/[A-Z]{3,4}$`)

func ValidatePair(p string) bool {
	if !pairRe.MatchString(p) {
		return false
	}
	base, quote, ok := strings.Cut(p, "/")
	if !ok {
		return false
	}
	return SupportedCurrency[base] && SupportedCurrency[quote] && base != quote
}

func (p Pair) Base() string {
	base, _, _ := strings.Cut(string(p), "/")
	return base
}

func (p Pair) Quote() string {
	_, quote, _ := strings.Cut(string(p), "/")
	return quote
}
