package services

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/clutchstake/backend/internal/models"
	"github.com/clutchstake/backend/internal/store"
)

// enqueueEvent records an event in the same transaction as the change.
func enqueueEvent(tx store.Tx, eventType models.EventType, aggregateID string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", eventType, err)
	}
	return tx.EnqueueEvent(&models.Event{
		ID:          newID(),
		Type:        eventType,
		AggregateID: aggregateID,
		Payload:     data,
		CreatedAt:   time.Now().UTC(),
	})
}
