package bootstrap

import (
	"context"
	"fmt"

	"vesrates-service/internal/config"
	httpserver "vesrates-service/internal/infrastructure/http"
	"vesrates-service/internal/infrastructure/metrics"
)

// InitAPI assembles the HTTP server with its full dependency chain. The
// returned cleanup releases the pg pool and the redis client.
func InitAPI(ctx context.Context) (*httpserver.Server, func(), error) {
	cfg := config.Load()

	st, closeStores, err := BuildStores(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("build stores: %w", err)
	}
	cache, closeCache, err := BuildCache(cfg)
	if err != nil {
		closeStores()
		return nil, nil, fmt.Errorf("build cache: %w", err)
	}

	svc := BuildService(cfg, st, cache, metrics.NewRateMetrics())
	srv := httpserver.NewServer(svc)
	srv.SetReadyCheck(st.DB.Ping)

	cleanup := func() {
		closeCache()
		closeStores()
	}
	return srv, cleanup, nil
}
