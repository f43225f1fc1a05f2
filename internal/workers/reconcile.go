package workers

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/clutchstake/backend/internal/metrics"
	"github.com/clutchstake/backend/internal/services"
)

// Reconciler periodically checks running balances against entry sums.
// Mismatches are reported, never corrected automatically.
type Reconciler struct {
	ledger  *services.LedgerService
	metrics *metrics.Metrics
	logger  *zap.Logger
}

func NewReconciler(ledger *services.LedgerService, m *metrics.Metrics, logger *zap.Logger) *Reconciler {
	return &Reconciler{ledger: ledger, metrics: m, logger: logger}
}

func (w *Reconciler) Run(ctx context.Context, interval time.Duration) {
	runEvery(ctx, w.logger, "reconcile", interval, func(ctx context.Context) {
		mismatches, err := w.ledger.Reconcile(ctx)
		if err != nil {
			w.metrics.WorkerErrors.WithLabelValues("reconcile").Inc()
			w.logger.Warn("reconcile", zap.Error(err))
			return
		}
		if len(mismatches) > 0 {
			w.logger.Error("reconcile found mismatches", zap.Int("accounts", len(mismatches)))
		}
	})
}
