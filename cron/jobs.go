package cron

import (
	"context"

	"go.uber.org/zap"

	"github.com/danribes/mystic-ecom-sub013/types"
)

// RegisterGovernanceJobs wires the periodic observability jobs: an hourly
// cache usage report and a minutely store reachability probe that feeds the
// store_up gauge.
func RegisterGovernanceJobs(manager types.CronManager, logger types.Logger, cache types.ResponseCache, st types.StateStore, metrics types.MetricsManager) error {
	if err := manager.AddJob("cache-stats-report", "0 * * * *", func(ctx context.Context) error {
		stats, err := cache.Stats(ctx)
		if err != nil {
			return err
		}

		logger.Info("Cache usage report",
			zap.Uint64("hits", stats.Hits),
			zap.Uint64("misses", stats.Misses),
			zap.Uint64("store_errors", stats.StoreErrors),
			zap.Int64("total_keys", stats.TotalKeys),
			zap.Any("keys_by_namespace", stats.KeysByNamespace))

		metrics.Gauge("cache_keys_total", nil).Set(float64(stats.TotalKeys))
		return nil
	}); err != nil {
		return err
	}

	return manager.AddJob("store-health-probe", "* * * * *", func(ctx context.Context) error {
		gauge := metrics.Gauge("store_up", nil)
		if err := st.Ping(ctx); err != nil {
			gauge.Set(0)
			logger.Warn("Store health probe failed", zap.Error(err))
			return nil
		}
		gauge.Set(1)
		return nil
	})
}
