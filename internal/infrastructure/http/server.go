package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"vesrates-service/internal/application"
	"vesrates-service/internal/domain"
)

const defaultHistoryLimit = 100

// Server carries the handler dependencies. Handlers stay thin: parse input,
// call the service, map errors onto status codes.
type Server struct {
	svc   *application.RateService
	ready func(ctx context.Context) error
}

func NewServer(svc *application.RateService) *Server { return &Server{svc: svc} }

// SetReadyCheck installs the probe /readyz runs, usually a database ping.
func (s *Server) SetReadyCheck(fn func(ctx context.Context) error) { s.ready = fn }

type rateDTO struct {
	ExchangeCode  string           `json:"exchange_code"`
	Pair          string           `json:"currency_pair"`
	BaseCurrency  string           `json:"base_currency"`
	QuoteCurrency string           `json:"quote_currency"`
	Buy           decimal.Decimal  `json:"buy_price"`
	Sell          decimal.Decimal  `json:"sell_price"`
	Avg           decimal.Decimal  `json:"avg_price"`
	Volume24h     *decimal.Decimal `json:"volume_24h,omitempty"`
	Source        string           `json:"source"`
	APIMethod     string           `json:"api_method"`
	TradeType     string           `json:"trade_type"`
	MarketStatus  string           `json:"market_status"`
	LastUpdate    time.Time        `json:"last_update"`
	Stale         bool             `json:"stale"`
}

type ratesResponse struct {
	Rates []rateDTO `json:"rates"`
	Count int       `json:"count"`
}

type historyDTO struct {
	ID           int64            `json:"id"`
	ExchangeCode string           `json:"exchange_code"`
	Pair         string           `json:"currency_pair"`
	Buy          decimal.Decimal  `json:"buy_price"`
	Sell         decimal.Decimal  `json:"sell_price"`
	Avg          decimal.Decimal  `json:"avg_price"`
	Volume24h    *decimal.Decimal `json:"volume_24h,omitempty"`
	Source       string           `json:"source"`
	TradeType    string           `json:"trade_type"`
	ObservedAt   time.Time        `json:"observed_at"`
	InsertedAt   time.Time        `json:"inserted_at"`
}

type historyResponse struct {
	History []historyDTO `json:"history"`
	Count   int          `json:"count"`
}

type refreshResponse struct {
	Results []application.RunResult `json:"results"`
}

func mapRate(now time.Time, r domain.CurrentRate) rateDTO {
	freshness := 30 * time.Minute
	if ex, ok := domain.ExchangeByCode(r.ExchangeCode); ok && ex.Freshness > 0 {
		freshness = ex.Freshness
	}
	dto := rateDTO{
		ExchangeCode:  r.ExchangeCode,
		Pair:          string(r.Pair),
		BaseCurrency:  r.Pair.Base(),
		QuoteCurrency: r.Pair.Quote(),
		Buy:           r.Buy,
		Sell:          r.Sell,
		Avg:           r.Avg,
		Source:        r.Source,
		APIMethod:     r.APIMethod,
		TradeType:     r.TradeType,
		MarketStatus:  r.MarketStatus,
		LastUpdate:    r.LastUpdate,
		Stale:         r.Stale(now, freshness),
	}
	if r.Volume24h.Valid {
		v := r.Volume24h.Decimal
		dto.Volume24h = &v
	}
	return dto
}

func mapHistory(rec domain.HistoryRecord) historyDTO {
	dto := historyDTO{
		ID:           rec.ID,
		ExchangeCode: rec.ExchangeCode,
		Pair:         string(rec.Pair),
		Buy:          rec.Buy,
		Sell:         rec.Sell,
		Avg:          rec.Avg,
		Source:       rec.Source,
		TradeType:    rec.TradeType,
		ObservedAt:   rec.ObservedAt,
		InsertedAt:   rec.InsertedAt,
	}
	if rec.Volume24h.Valid {
		v := rec.Volume24h.Decimal
		dto.Volume24h = &v
	}
	return dto
}

func (s *Server) getRates(w http.ResponseWriter, r *http.Request) {
	f := application.CurrentFilter{
		ExchangeCode: r.URL.Query().Get("exchange_code"),
		Pair:         r.URL.Query().Get("currency_pair"),
	}
	rows, err := s.svc.GetCurrent(r.Context(), f)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	now := time.Now().UTC()
	resp := ratesResponse{Rates: make([]rateDTO, 0, len(rows)), Count: len(rows)}
	for _, row := range rows {
		resp.Rates = append(resp.Rates, mapRate(now, row))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) getHistory(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			badRequest(w, "limit must be an integer")
			return
		}
		limit = n
	}

	recs, err := s.svc.GetHistory(r.Context(), limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	resp := historyResponse{History: make([]historyDTO, 0, len(recs)), Count: len(recs)}
	for _, rec := range recs {
		resp.History = append(resp.History, mapHistory(rec))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) getSummary(w http.ResponseWriter, r *http.Request) {
	view, err := s.svc.GetSummary(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) getCompare(w http.ResponseWriter, r *http.Request) {
	official := r.URL.Query().Get("official")
	if official == "" {
		official = domain.ExchangeBCV
	}
	market := r.URL.Query().Get("market")
	if market == "" {
		market = domain.ExchangeBinanceP2P
	}

	view, err := s.svc.GetCompare(r.Context(), official, market)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	view, err := s.svc.GetStatus(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) postRefresh(w http.ResponseWriter, r *http.Request) {
	results, err := s.svc.ForceRefresh(r.Context(), r.URL.Query().Get("exchange_code"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, refreshResponse{Results: results})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Code: status, Message: msg})
}

func badRequest(w http.ResponseWriter, msg string) { writeError(w, http.StatusBadRequest, msg) }

func notFound(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, http.StatusText(http.StatusNotFound))
}

func internalError(w http.ResponseWriter) {
	writeError(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
}

// writeServiceError maps application errors onto the HTTP error envelope.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, application.ErrBadRequest):
		badRequest(w, err.Error())
	case errors.Is(err, application.ErrNotFound):
		notFound(w)
	default:
		internalError(w)
	}
}
