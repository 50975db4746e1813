package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"vesrates-service/internal/application"
	"vesrates-service/internal/infrastructure/logx"
)

var _ application.Worker = (*RetentionSweeper)(nil)

// RetentionSweeper prunes history records older than Keep. History is
// append-only otherwise, so one sweep per day is plenty.
type RetentionSweeper struct {
	Store application.RateStore
	Keep  time.Duration
	Every time.Duration
	Log   *zap.Logger
}

func (w *RetentionSweeper) Start(ctx context.Context) {
	log := w.Log
	if log == nil {
		log = logx.L()
	}
	if w.Keep <= 0 {
		w.Keep = 90 * 24 * time.Hour
	}
	if w.Every <= 0 {
		w.Every = 24 * time.Hour
	}

	t := time.NewTicker(w.Every)
	defer t.Stop()

	log.Info("retention_started", zap.Duration("keep", w.Keep))
	w.sweep(ctx, log)
	for {
		select {
		case <-ctx.Done():
			log.Info("retention_stopped")
			return
		case <-t.C:
			w.sweep(ctx, log)
		}
	}
}

func (w *RetentionSweeper) sweep(ctx context.Context, log *zap.Logger) {
	cutoff := time.Now().UTC().Add(-w.Keep)
	n, err := w.Store.DeleteHistoryBefore(ctx, cutoff)
	if err != nil {
		log.Warn("retention_sweep_failed", zap.Error(err))
		return
	}
	if n > 0 {
		log.Info("retention_swept", zap.Int64("deleted", n), zap.Time("cutoff", cutoff))
	}
}
