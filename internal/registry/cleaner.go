package registry

import (
	"context"
	"os"
	"time"

	"go.uber.org/zap"
)

const DefaultCleanupInterval = 10 * time.Minute

// StartCleaner removes expired records and their output directories until ctx
// is done. Lookups never depend on it having run.
func (r *Registry) StartCleaner(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultCleanupInterval
	}
	go r.cleanupLoop(ctx, interval)
}

func (r *Registry) cleanupLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := r.Sweep(ctx); err != nil {
				r.logger.Warn("cleanup expired processes", zap.Error(err))
			} else if n > 0 {
				r.logger.Info("removed expired processes", zap.Int("count", n))
			}
		}
	}
}

// Sweep deletes every process expired at the registry's current time and
// returns how many were removed.
func (r *Registry) Sweep(ctx context.Context) (int, error) {
	expired, err := r.store.Expired(ctx, r.Now())
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, p := range expired {
		if p.OutputDir != "" {
			if err := os.RemoveAll(p.OutputDir); err != nil {
				r.logger.Warn("remove output dir failed", zap.String("process_id", p.ID), zap.Error(err))
				continue
			}
		}
		if err := r.store.Delete(ctx, p.ID); err != nil {
			r.logger.Warn("delete process record failed", zap.String("process_id", p.ID), zap.Error(err))
			continue
		}
		removed++
	}
	return removed, nil
}
