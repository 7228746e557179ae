package daemon

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper evicts entries idle for longer than maxIdle and reports how many
// were removed. The dashboard client registry implements it.
type Sweeper interface {
	Sweep(ctx context.Context, maxIdle time.Duration) int
}

// IdleSweepTask periodically evicts idle dashboard clients.
func IdleSweepTask(sweeper Sweeper, interval, maxIdle time.Duration, logger *slog.Logger) DaemonFunc {
	return func(ctx context.Context, name string) error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				if n := sweeper.Sweep(ctx, maxIdle); n > 0 {
					logger.InfoContext(ctx, "Evicted idle dashboard clients", "daemon", name, "count", n)
				}
			}
		}
	}
}
