package workers

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/clutchstake/backend/internal/services"
)

// EscalationSweeper moves matches stuck past their result deadline into
// moderator review.
type EscalationSweeper struct {
	escrow *services.EscrowService
	logger *zap.Logger
	batch  int
}

// NewEscalationSweeper builds the sweeper. Per-match failures are counted by
// the escrow service.
func NewEscalationSweeper(escrow *services.EscrowService, logger *zap.Logger, batch int) *EscalationSweeper {
	if batch <= 0 {
		batch = 100
	}
	return &EscalationSweeper{escrow: escrow, logger: logger, batch: batch}
}

func (w *EscalationSweeper) Run(ctx context.Context, interval time.Duration) {
	runEvery(ctx, w.logger, "escalation", interval, func(ctx context.Context) {
		n, err := w.escrow.EscalationSweep(ctx, w.batch)
		if err != nil {
			w.logger.Warn("escalation sweep incomplete", zap.Int("escalated", n), zap.Error(err))
			return
		}
		if n > 0 {
			w.logger.Info("escalation sweep", zap.Int("escalated", n))
		}
	})
}
