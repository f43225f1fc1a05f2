package models

import (
	"encoding/json"
	"time"
)

type EventType string

const (
	EventMatchCreated         EventType = "match.created"
	EventMatchJoined          EventType = "match.joined"
	EventMatchResultSubmitted EventType = "match.result_submitted"
	EventMatchSettled         EventType = "match.settled"
	EventMatchCancelled       EventType = "match.cancelled"
	EventDisputeOpened        EventType = "dispute.opened"
	EventDisputeResolved      EventType = "dispute.resolved"
	EventWalletDeposited      EventType = "wallet.deposited"
	EventWithdrawalRequested  EventType = "wallet.withdrawal_requested"
	EventWithdrawalReviewed   EventType = "wallet.withdrawal_reviewed"
)

// Event is an outbox row written in the same transaction as the change it
// describes. Consumers dedupe on ID.
type Event struct {
	ID          string          `json:"event_id" db:"event_id"`
	Type        EventType       `json:"type" db:"type"`
	AggregateID string          `json:"aggregate_id" db:"aggregate_id"`
	Payload     json.RawMessage `json:"payload" db:"payload"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
	PublishedAt *time.Time      `json:"published_at,omitempty" db:"published_at"`
}
