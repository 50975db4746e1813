package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"vesrates-service/internal/application"
	"vesrates-service/internal/infrastructure/logx"
)

var _ application.Worker = (*Scheduler)(nil)

// Scheduler refreshes every registered exchange on a fixed interval. The
// first cycle runs immediately on Start. A tick that lands while the previous
// cycle is still in flight is skipped, never queued.
type Scheduler struct {
	Svc      *application.RateService
	Interval time.Duration
	Metrics  application.Metrics
	Log      *zap.Logger

	busy atomic.Bool
}

func (w *Scheduler) Start(ctx context.Context) {
	log := w.Log
	if log == nil {
		log = logx.L()
	}
	metrics := w.Metrics
	if metrics == nil {
		metrics = application.NoopMetrics{}
	}
	if w.Interval <= 0 {
		w.Interval = 5 * time.Minute
	}

	t := time.NewTicker(w.Interval)
	defer t.Stop()

	var wg sync.WaitGroup
	launch := func() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.cycle(ctx, log, metrics)
		}()
	}

	log.Info("scheduler_started", zap.Duration("interval", w.Interval))
	launch()
	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			log.Info("scheduler_stopped")
			return
		case <-t.C:
			launch()
		}
	}
}

func (w *Scheduler) cycle(ctx context.Context, log *zap.Logger, metrics application.Metrics) {
	if !w.busy.CompareAndSwap(false, true) {
		log.Warn("scheduler_tick_skipped")
		metrics.TickSkipped()
		return
	}
	defer w.busy.Store(false)

	results := w.Svc.RunAll(ctx, false)
	fetched, failed := 0, 0
	for _, r := range results {
		switch r.Outcome {
		case application.RunFailed:
			failed++
			log.Warn("scheduler_exchange_failed",
				zap.String("exchange", r.ExchangeCode),
				zap.String("error", r.Error))
		case application.RunFetched:
			fetched++
		}
	}
	log.Info("scheduler_cycle_done",
		zap.Int("fetched", fetched),
		zap.Int("failed", failed),
		zap.Int("exchanges", len(results)))
}
