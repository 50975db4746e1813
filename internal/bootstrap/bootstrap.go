package bootstrap

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"vesrates-service/internal/application"
	"vesrates-service/internal/config"
	"vesrates-service/internal/domain"
	"vesrates-service/internal/infrastructure/logx"
	"vesrates-service/internal/infrastructure/pg"
	"vesrates-service/internal/infrastructure/provider"
	redisstore "vesrates-service/internal/infrastructure/redis"
)

// Stores bundles the persistence handles built from one pg pool.
type Stores struct {
	Rates application.RateStore
	UoW   application.UnitOfWork
	DB    *pg.DB
}

// BuildStores connects to Postgres, runs migrations and returns the rate
// store with its unit of work. The returned cleanup closes the pool.
func BuildStores(ctx context.Context, cfg config.Config) (Stores, func(), error) {
	log := logx.L()
	if cfg.DatabaseURL == "" {
		return Stores{}, func() {}, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := pg.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return Stores{}, func() {}, err
	}
	if err := pg.RunMigrations(ctx, db); err != nil {
		db.Close()
		return Stores{}, func() {}, err
	}
	cleanup := func() {
		log.Info("closing pg")
		db.Close()
	}
	return Stores{Rates: pg.NewRateRepo(db), UoW: pg.NewUnitOfWork(db), DB: db}, cleanup, nil
}

// BuildCache wires the redis cache adapter, or a noop cache when
// CACHE_BACKEND is anything but "redis".
func BuildCache(cfg config.Config) (application.Cache, func(), error) {
	if cfg.CacheBackend != "redis" {
		return application.NoopCache{}, func() {}, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	return redisstore.NewCache(client), func() { _ = client.Close() }, nil
}

// BuildFetchers returns one fetcher per registered exchange. PROVIDER=fake
// swaps the live scrapers for static quotes, which keeps local compose runs
// off the real sites.
func BuildFetchers(cfg config.Config) []application.SourceFetcher {
	if cfg.Provider == "fake" {
		base := map[string]string{
			domain.ExchangeBCV:         "36.50",
			domain.ExchangeBinanceP2P:  "36.20",
			domain.ExchangeItalcambios: "36.45",
		}
		fs := make([]application.SourceFetcher, 0, len(base))
		for _, ex := range domain.Exchanges() {
			fs = append(fs, provider.NewFake(ex.Code, decimal.RequireFromString(base[ex.Code])))
		}
		return fs
	}
	return []application.SourceFetcher{
		provider.NewBCV(cfg.BCVURL),
		provider.NewBinanceP2P(cfg.BinanceP2PURL),
		provider.NewItalcambios(cfg.ItalcambiosURL),
	}
}

// BuildService assembles the rate service from its parts. An unparsable
// CHANGE_TOLERANCE falls back to the domain default.
func BuildService(cfg config.Config, st Stores, cache application.Cache, m application.Metrics) *application.RateService {
	tol := domain.DefaultChangeTolerance
	if t, err := decimal.NewFromString(cfg.ChangeTolerance); err == nil && t.IsPositive() {
		tol = t
	}
	return application.NewRateService(st.Rates, cache, st.UoW, BuildFetchers(cfg),
		application.WithMetrics(m),
		application.WithTolerance(tol),
		application.WithFreshness(cfg.Freshness),
		application.WithFetchTimeout(cfg.FetchTimeout),
		application.WithCacheTTLs(cfg.CurrentTTL, cfg.HistoryTTL),
	)
}
