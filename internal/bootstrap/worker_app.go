package bootstrap

import (
	"context"
	"fmt"
	"sync"

	"vesrates-service/internal/config"
	infraconfig "vesrates-service/internal/infrastructure/config"
	"vesrates-service/internal/infrastructure/metrics"
	"vesrates-service/internal/infrastructure/worker"
)

// WorkerApp runs the background processes until the context is canceled.
type WorkerApp func(ctx context.Context) error

// InitWorkerApp wires the fetch scheduler and the history retention sweeper
// over a shared rate service.
func InitWorkerApp(ctx context.Context) (WorkerApp, func(), error) {
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

	m := metrics.NewRateMetrics()
	svc := BuildService(cfg, st, cache, m)

	sched := &worker.Scheduler{Svc: svc, Interval: cfg.UpdateInterval, Metrics: m}
	sweeper := &worker.RetentionSweeper{
		Store: st.Rates,
		Keep:  cfg.HistoryRetention,
		Every: infraconfig.DefaultRetentionSweep,
	}

	run := func(ctx context.Context) error {
		var wg sync.WaitGroup
		wg.Add(2)
		go func() { defer wg.Done(); sched.Start(ctx) }()
		go func() { defer wg.Done(); sweeper.Start(ctx) }()
		wg.Wait()
		return nil
	}
	cleanup := func() {
		closeCache()
		closeStores()
	}
	return run, cleanup, nil
}
