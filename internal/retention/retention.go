// Package retention prunes long-idle sessions on a cron schedule. It is
// off by default: the engine's contract is that sessions die only by
// explicit user delete, so pruning must be deliberately enabled.
package retention

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"

	"chatsync/pkg/config"
	"chatsync/pkg/logger"
	"chatsync/pkg/registry"
	"chatsync/pkg/storage"
)

// Start starts the retention scheduler if enabled. Returns a cancel func.
func Start(ctx context.Context, cfg config.Config, reg *registry.Registry, store storage.Store) (context.CancelFunc, error) {
	if !cfg.Retention.Enabled {
		logger.Info("retention_disabled")
		return func() {}, nil
	}
	maxIdle := cfg.MaxIdleAge()
	if maxIdle <= 0 {
		return nil, fmt.Errorf("retention enabled but max_idle_age is unset or invalid")
	}

	cronExpr := cfg.Retention.Cron
	if cronExpr == "" {
		cronExpr = "0 2 * * *"
	}
	if !gronx.IsValid(cronExpr) {
		logger.Error("retention_invalid_cron", "cron", cfg.Retention.Cron)
		return nil, fmt.Errorf("invalid retention cron expression: %s", cfg.Retention.Cron)
	}

	logger.Info("retention_enabled", "cron", cronExpr, "max_idle", maxIdle.String())
	ctx2, cancel := context.WithCancel(ctx)
	go runScheduler(ctx2, cronExpr, maxIdle, reg, store)
	return cancel, nil
}

// runScheduler computes the next cron tick via gronx and sleeps until it.
func runScheduler(ctx context.Context, cronExpr string, maxIdle time.Duration, reg *registry.Registry, store storage.Store) {
	for {
		select {
		case <-ctx.Done():
			logger.Info("retention_scheduler_stopping")
			return
		default:
		}

		now := time.Now().UTC()
		next, err := gronx.NextTickAfter(cronExpr, now, false)
		if err != nil {
			logger.Error("retention_nexttick_failed", "cron", cronExpr, "error", err)
			select {
			case <-time.After(30 * time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}

		select {
		case <-time.After(time.Until(next)):
			removed := reg.PruneIdle(maxIdle)
			if f, ok := store.(interface{ Flush() error }); ok {
				if err := f.Flush(); err != nil {
					logger.Warn("retention_flush_failed", "error", err)
				}
			}
			logger.Info("retention_run_complete", "removed", removed)
		case <-ctx.Done():
			logger.Info("retention_scheduler_stopping")
			return
		}
	}
}
