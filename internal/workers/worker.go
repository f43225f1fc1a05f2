// Package workers runs the periodic background jobs of the escrow service.
package workers

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// runEvery calls fn once per interval until ctx is cancelled.
func runEvery(ctx context.Context, logger *zap.Logger, name string, interval time.Duration, fn func(context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logger.Info("worker started", zap.String("worker", name), zap.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			logger.Info("worker stopped", zap.String("worker", name))
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}
