package service

import (
	"context"
	"fmt"
	"time"

	"chatwave/logger"
	"chatwave/service/metrics"

	"go.uber.org/zap"
)

// Result of one reconciliation run.
type Result struct {
	Flushed  int
	Duration time.Duration
}

// Reconciler copies the presence cache into durable storage.
type Reconciler struct {
	cache   Cache
	durable Durable
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewReconciler(cache Cache, durable Durable, m *metrics.Metrics) *Reconciler {
	return &Reconciler{cache: cache, durable: durable, metrics: m, now: time.Now}
}

// Run snapshots the cache and writes it in one batch. Cache keys are never
// removed, so a failed run loses nothing and the next one starts over.
func (r *Reconciler) Run(ctx context.Context) (Result, error) {
	start := r.now()
	snap, err := r.cache.Snapshot(ctx)
	if err != nil {
		r.done("error", 0)
		return Result{}, fmt.Errorf("snapshot presence cache: %w", err)
	}
	if len(snap) > 0 {
		if err := r.durable.SaveLastOnline(ctx, snap); err != nil {
			r.done("error", 0)
			return Result{}, fmt.Errorf("flush presence: %w", err)
		}
	}
	res := Result{Flushed: len(snap), Duration: r.now().Sub(start)}
	r.done("ok", res.Flushed)
	logger.Info("presence reconciled", zap.Int("flushed", res.Flushed), zap.Duration("took", res.Duration))
	return res, nil
}

// Every runs Run on a fixed interval until ctx is done. Failures are logged
// and left for the next tick.
func (r *Reconciler) Every(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := r.Run(ctx); err != nil {
				logger.Error("presence reconcile failed", zap.Error(err))
			}
		}
	}
}

func (r *Reconciler) done(result string, flushed int) {
	if r.metrics == nil {
		return
	}
	r.metrics.ReconcileRuns.WithLabelValues(result).Inc()
	if result == "ok" {
		r.metrics.ReconcileFlushed.Add(float64(flushed))
		r.metrics.ReconcileLastSuccess.Set(float64(r.now().Unix()))
	}
}
