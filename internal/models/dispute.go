package models

import "time"

type DisputeState string

const (
	DisputeOpen     DisputeState = "open"
	DisputeResolved DisputeState = "resolved"
)

// SystemActor raises disputes on behalf of the platform.
const SystemActor = "system"

// Decision is a moderator ruling: either a winner or a full refund.
type Decision struct {
	WinnerID string `json:"winner_id,omitempty"`
	Refund   bool   `json:"refund,omitempty"`
}

func (d Decision) Equal(other Decision) bool {
	return d.WinnerID == other.WinnerID && d.Refund == other.Refund
}

type Dispute struct {
	ID             string       `json:"dispute_id" db:"dispute_id"`
	MatchID        string       `json:"match_id" db:"match_id"`
	RaisedBy       string       `json:"raised_by" db:"raised_by"`
	Reason         string       `json:"reason" db:"reason"`
	EvidenceURL    string       `json:"evidence_url,omitempty" db:"evidence_url"`
	State          DisputeState `json:"state" db:"state"`
	Resolution     *Decision    `json:"resolution,omitempty" db:"resolution"`
	ModeratorNotes string       `json:"moderator_notes,omitempty" db:"moderator_notes"`
	ResolvedBy     string       `json:"resolved_by,omitempty" db:"resolved_by"`
	CreatedAt      time.Time    `json:"created_at" db:"created_at"`
	ResolvedAt     *time.Time   `json:"resolved_at,omitempty" db:"resolved_at"`
}
