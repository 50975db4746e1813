package pg

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"vesrates-service/internal/application"
	"vesrates-service/internal/domain"
	"vesrates-service/internal/infrastructure/logx"
)

// RateRepo persists current rates and the append-only history. avg_price is
// a generated column in both tables, so it is never written, only read.
type RateRepo struct{ db *DB }

func NewRateRepo(db *DB) *RateRepo { return &RateRepo{db: db} }

// querier is satisfied by both the pool and an in-flight pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (r *RateRepo) q(ctx context.Context) querier {
	if tx := txFromCtx(ctx); tx != nil {
		return tx
	}
	return r.db.Pool
}

func (r *RateRepo) UpsertCurrent(ctx context.Context, q domain.Quote) error {
	const up = `
        INSERT INTO current_rates(
            exchange_code, currency_pair, buy_price, sell_price, volume_24h,
            source, api_method, trade_type, market_status, last_update)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 'active', $9)
        ON CONFLICT (exchange_code, currency_pair) DO UPDATE SET
            buy_price     = EXCLUDED.buy_price,
            sell_price    = EXCLUDED.sell_price,
            volume_24h    = EXCLUDED.volume_24h,
            source        = EXCLUDED.source,
            api_method    = EXCLUDED.api_method,
            trade_type    = EXCLUDED.trade_type,
            market_status = EXCLUDED.market_status,
            last_update   = EXCLUDED.last_update
        WHERE current_rates.last_update <= EXCLUDED.last_update`
	log := logx.L().With(
		zap.String("repo", "rates"),
		zap.String("operation", "UpsertCurrent"),
		zap.String("exchange", q.ExchangeCode),
		zap.String("pair", string(q.Pair)),
	)
	log.Info("sql.exec_start")
	tag, err := r.q(ctx).Exec(ctx, up,
		q.ExchangeCode, string(q.Pair), q.Buy, q.Sell, q.Volume24h,
		q.Source, q.APIMethod, q.TradeType, q.ObservedAt)
	if err != nil {
		log.Error("sql.exec_failed", zap.Error(err))
		return mapPgError(err)
	}
	if tag.RowsAffected() == 0 {
		// The guarded update rejected an observation older than the stored row.
		log.Warn("sql.exec_no_rows", zap.Time("observed_at", q.ObservedAt))
		return application.ErrStaleWrite
	}
	log.Info("sql.exec_success", zap.Int64("rows_affected", tag.RowsAffected()))
	return nil
}

func (r *RateRepo) AppendHistory(ctx context.Context, q domain.Quote) error {
	const ins = `
        INSERT INTO rate_history(
            exchange_code, currency_pair, buy_price, sell_price, volume_24h,
            source, api_method, trade_type, observed_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := r.q(ctx).Exec(ctx, ins,
		q.ExchangeCode, string(q.Pair), q.Buy, q.Sell, q.Volume24h,
		q.Source, q.APIMethod, q.TradeType, q.ObservedAt)
	if err != nil {
		return mapPgError(err)
	}
	return nil
}

func (r *RateRepo) ReadCurrent(ctx context.Context, f application.CurrentFilter) ([]domain.CurrentRate, error) {
	const sel = `
        SELECT exchange_code, currency_pair, buy_price, sell_price, avg_price,
               volume_24h, source, api_method, trade_type, market_status, last_update
        FROM current_rates
        WHERE ($1 = '' OR exchange_code = $1)
          AND ($2 = '' OR currency_pair = $2)
        ORDER BY exchange_code, currency_pair`
	rows, err := r.q(ctx).Query(ctx, sel, f.ExchangeCode, f.Pair)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []domain.CurrentRate{}
	for rows.Next() {
		var c domain.CurrentRate
		var pair string
		if err := rows.Scan(&c.ExchangeCode, &pair, &c.Buy, &c.Sell, &c.Avg,
			&c.Volume24h, &c.Source, &c.APIMethod, &c.TradeType, &c.MarketStatus, &c.LastUpdate); err != nil {
			return nil, err
		}
		c.Pair = domain.Pair(pair)
		c.LastUpdate = c.LastUpdate.UTC()
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *RateRepo) ReadHistory(ctx context.Context, limit int) ([]domain.HistoryRecord, error) {
	if limit == 0 {
		return []domain.HistoryRecord{}, nil
	}
	const sel = `
        SELECT id, exchange_code, currency_pair, buy_price, sell_price, avg_price,
               volume_24h, source, api_method, trade_type, observed_at, inserted_at
        FROM rate_history
        ORDER BY observed_at DESC, id DESC
        LIMIT $1`
	rows, err := r.q(ctx).Query(ctx, sel, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []domain.HistoryRecord{}
	for rows.Next() {
		var h domain.HistoryRecord
		var pair string
		if err := rows.Scan(&h.ID, &h.ExchangeCode, &pair, &h.Buy, &h.Sell, &h.Avg,
			&h.Volume24h, &h.Source, &h.APIMethod, &h.TradeType, &h.ObservedAt, &h.InsertedAt); err != nil {
			return nil, err
		}
		h.Pair = domain.Pair(pair)
		h.ObservedAt = h.ObservedAt.UTC()
		h.InsertedAt = h.InsertedAt.UTC()
		out = append(out, h)
	}
	return out, rows.Err()
}

func (r *RateRepo) LastKnown(ctx context.Context, exchangeCode string, pair domain.Pair) (*domain.Quote, error) {
	const sel = `
        SELECT buy_price, sell_price, volume_24h, source, api_method, trade_type, last_update
        FROM current_rates
        WHERE exchange_code = $1 AND currency_pair = $2`
	var q domain.Quote
	q.ExchangeCode = exchangeCode
	q.Pair = pair
	err := r.q(ctx).QueryRow(ctx, sel, exchangeCode, string(pair)).Scan(
		&q.Buy, &q.Sell, &q.Volume24h, &q.Source, &q.APIMethod, &q.TradeType, &q.ObservedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	q.ObservedAt = q.ObservedAt.UTC()
	return &q, nil
}

func (r *RateRepo) DeleteHistoryBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	const del = `DELETE FROM rate_history WHERE inserted_at < $1`
	log := logx.L().With(
		zap.String("repo", "rates"),
		zap.String("operation", "DeleteHistoryBefore"),
		zap.Time("cutoff", cutoff),
	)
	log.Info("sql.exec_start")
	tag, err := r.q(ctx).Exec(ctx, del, cutoff)
	if err != nil {
		log.Error("sql.exec_failed", zap.Error(err))
		return 0, err
	}
	log.Info("sql.exec_success", zap.Int64("rows_affected", tag.RowsAffected()))
	return tag.RowsAffected(), nil
}

// mapPgError folds price and volume check violations into the application's
// constraint error so the pipeline can drop the single record.
func mapPgError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23514", "23502":
			return fmt.Errorf("%w: %s", application.ErrConstraint, pgErr.Message)
		}
	}
	return err
}
