package provider

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"vesrates-service/internal/application"
	"vesrates-service/internal/domain"
	"vesrates-service/internal/infrastructure/httpx"
	"vesrates-service/internal/infrastructure/logx"
)

// BCVProvider scrapes the official USD and EUR reference rates from the
// Banco Central de Venezuela homepage.
type BCVProvider struct {
	URL    string
	Client *httpx.Client
}

var _ application.SourceFetcher = (*BCVProvider)(nil)

// NewBCV builds a provider for the BCV homepage. Certificate verification is
// disabled: bcv.org.ve serves an incomplete certificate chain.
func NewBCV(rawURL string) *BCVProvider {
	transport := &http.Transport{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
	}
	return &BCVProvider{
		URL: rawURL,
		Client: &httpx.Client{
			HTTP:      &http.Client{Transport: transport, Timeout: defaultFetchTimeout},
			UserAgent: browserUA,
		},
	}
}

func (p *BCVProvider) ExchangeCode() string { return domain.ExchangeBCV }

func (p *BCVProvider) Fetch(ctx context.Context) ([]domain.Quote, error) {
	body, err := p.Client.GetBody(ctx, p.URL)
	if err != nil {
		return nil, classify(domain.ExchangeBCV, fmt.Errorf("bcv: get: %w", err))
	}
	html := string(body)
	now := time.Now().UTC()

	usd, ok := firstRate(html, `id="dolar"`)
	if !ok {
		usd, ok = firstRate(html, "USD")
	}
	if !ok || !plausibleRate(usd) {
		return nil, application.NewFetchError(domain.ExchangeBCV, application.FetchMalformed,
			errors.New("bcv: usd rate not found in page"))
	}

	quotes := []domain.Quote{{
		ExchangeCode: domain.ExchangeBCV,
		Pair:         "USD/VES",
		Buy:          usd,
		Sell:         usd,
		Source:       "bcv",
		APIMethod:    "web_scraping",
		TradeType:    "official",
		ObservedAt:   now,
	}}

	// The EUR reference disappears from the page occasionally. USD is the
	// one callers depend on, so a missing EUR only narrows the batch.
	eur, ok := firstRate(html, `id="euro"`)
	if !ok {
		eur, ok = firstRate(html, "EUR")
	}
	if ok && plausibleRate(eur) {
		quotes = append(quotes, domain.Quote{
			ExchangeCode: domain.ExchangeBCV,
			Pair:         "EUR/VES",
			Buy:          eur,
			Sell:         eur,
			Source:       "bcv",
			APIMethod:    "web_scraping",
			TradeType:    "official",
			ObservedAt:   now,
		})
	} else {
		logx.L().Warn("bcv.eur_missing", zap.String("url", p.URL))
	}

	logx.L().Info("bcv.fetch_success",
		zap.String("usd_ves", usd.String()),
		zap.Int("quotes", len(quotes)),
	)
	return quotes, nil
}
