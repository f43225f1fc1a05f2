// Package events delivers committed outbox events to downstream sinks.
package events

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/clutchstake/backend/internal/models"
)

const (
	TopicEscrowEvents   = "escrow.events"
	ChannelEscrowEvents = "escrow:events"
)

// Publisher is one delivery sink. Delivery is at-least-once; consumers
// dedupe on the event id.
type Publisher interface {
	Name() string
	Publish(ctx context.Context, e models.Event) error
}

func encode(e models.Event) ([]byte, error) {
	return json.Marshal(e)
}

// LogPublisher writes events to the service log. Used when no broker is
// configured.
type LogPublisher struct {
	logger *zap.Logger
}

func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Name() string { return "log" }

func (p *LogPublisher) Publish(_ context.Context, e models.Event) error {
	p.logger.Info("event",
		zap.String("event_id", e.ID),
		zap.String("type", string(e.Type)),
		zap.String("aggregate_id", e.AggregateID),
		zap.ByteString("payload", e.Payload),
	)
	return nil
}
