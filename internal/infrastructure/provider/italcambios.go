package provider

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"vesrates-service/internal/application"
	"vesrates-service/internal/domain"
	"vesrates-service/internal/infrastructure/httpx"
	"vesrates-service/internal/infrastructure/logx"
)

// ItalcambiosProvider scrapes the USD counter rates from the Italcambio
// homepage ticker. The ticker lives in a "container-fluid compra" section
// and prints "Compra: <n>" and "Venta: <n>" next to the USD slide.
type ItalcambiosProvider struct {
	URL    string
	Client *httpx.Client
}

var _ application.SourceFetcher = (*ItalcambiosProvider)(nil)

var (
	compraRe = regexp.MustCompile(`Compra:\s*(\d+[.,]\d+)`)
	ventaRe  = regexp.MustCompile(`Venta:\s*(\d+[.,]\d+)`)
)

func NewItalcambios(rawURL string) *ItalcambiosProvider {
	transport := &http.Transport{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
	}
	return &ItalcambiosProvider{
		URL: rawURL,
		Client: &httpx.Client{
			HTTP:      &http.Client{Transport: transport, Timeout: defaultFetchTimeout},
			UserAgent: browserUA,
		},
	}
}

func (p *ItalcambiosProvider) ExchangeCode() string { return domain.ExchangeItalcambios }

func (p *ItalcambiosProvider) Fetch(ctx context.Context) ([]domain.Quote, error) {
	body, err := p.Client.GetBody(ctx, p.URL)
	if err != nil {
		return nil, classify(domain.ExchangeItalcambios, fmt.Errorf("italcambios: get: %w", err))
	}

	section, ok := window(string(body), "container-fluid compra", 8000)
	if !ok {
		return nil, p.malformed("compra section not found")
	}
	if !strings.Contains(section, "USD") {
		return nil, p.malformed("usd slide not found in compra section")
	}

	compraM := compraRe.FindStringSubmatch(section)
	ventaM := ventaRe.FindStringSubmatch(section)
	if compraM == nil || ventaM == nil {
		return nil, p.malformed("compra/venta prices not found")
	}
	buy, err := parseRate(compraM[1])
	if err != nil {
		return nil, p.malformed("unparseable compra price")
	}
	sell, err := parseRate(ventaM[1])
	if err != nil {
		return nil, p.malformed("unparseable venta price")
	}
	if !plausibleRate(buy) || !plausibleRate(sell) {
		return nil, p.malformed(fmt.Sprintf("prices out of range: compra=%s venta=%s", buy, sell))
	}

	logx.L().Info("italcambios.fetch_success",
		zap.String("compra", buy.String()),
		zap.String("venta", sell.String()),
	)
	return []domain.Quote{{
		ExchangeCode: domain.ExchangeItalcambios,
		Pair:         "USD/VES",
		Buy:          buy,
		Sell:         sell,
		Source:       "italcambios",
		APIMethod:    "web_scraping",
		TradeType:    "official",
		ObservedAt:   time.Now().UTC(),
	}}, nil
}

func (p *ItalcambiosProvider) malformed(msg string) error {
	return application.NewFetchError(domain.ExchangeItalcambios, application.FetchMalformed,
		fmt.Errorf("italcambios: %s", msg))
}
