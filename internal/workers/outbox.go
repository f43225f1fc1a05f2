package workers

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/clutchstake/backend/internal/events"
	"github.com/clutchstake/backend/internal/metrics"
	"github.com/clutchstake/backend/internal/models"
	"github.com/clutchstake/backend/internal/store"
)

// OutboxRelay publishes committed outbox events in creation order. An event
// is marked published only after every sink accepted it.
type OutboxRelay struct {
	store   store.Store
	sinks   []events.Publisher
	metrics *metrics.Metrics
	logger  *zap.Logger
	batch   int
}

func NewOutboxRelay(st store.Store, sinks []events.Publisher, m *metrics.Metrics, logger *zap.Logger, batch int) *OutboxRelay {
	if batch <= 0 {
		batch = 100
	}
	return &OutboxRelay{store: st, sinks: sinks, metrics: m, logger: logger, batch: batch}
}

// RelayOnce delivers up to one batch and returns how many events were
// marked published. It stops at the first failed event to keep ordering.
func (r *OutboxRelay) RelayOnce(ctx context.Context) (int, error) {
	pending, err := r.pendingEvents(ctx)
	if err != nil {
		return 0, err
	}

	published := 0
	for _, e := range pending {
		for _, sink := range r.sinks {
			if err := sink.Publish(ctx, e); err != nil {
				r.metrics.PublishErrors.WithLabelValues(sink.Name()).Inc()
				return published, fmt.Errorf("publish %s to %s: %w", e.ID, sink.Name(), err)
			}
		}

		err := r.store.Update(ctx, func(tx store.Tx) error {
			return tx.MarkEventPublished(e.ID, time.Now().UTC())
		})
		if err != nil {
			return published, fmt.Errorf("mark %s published: %w", e.ID, err)
		}
		r.metrics.EventsPublished.Inc()
		published++
	}
	return published, nil
}

func (r *OutboxRelay) pendingEvents(ctx context.Context) ([]models.Event, error) {
	var rows []models.Event
	err := r.store.View(ctx, func(tx store.Tx) error {
		var err error
		rows, err = tx.ListPendingEvents(r.batch)
		return err
	})
	return rows, err
}

func (r *OutboxRelay) Run(ctx context.Context, interval time.Duration) {
	runEvery(ctx, r.logger, "outbox", interval, func(ctx context.Context) {
		n, err := r.RelayOnce(ctx)
		if err != nil {
			r.metrics.WorkerErrors.WithLabelValues("outbox").Inc()
			r.logger.Warn("outbox relay", zap.Int("published", n), zap.Error(err))
			return
		}
		if n > 0 {
			r.logger.Debug("outbox relay", zap.Int("published", n))
		}
	})
}
