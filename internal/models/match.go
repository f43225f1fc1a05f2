package models

import "time"

type MatchState string

const (
	MatchPending        MatchState = "pending"
	MatchActive         MatchState = "active"
	MatchAwaitingResult MatchState = "awaiting_result"
	MatchDisputed       MatchState = "disputed"
	MatchSettled        MatchState = "settled"
	MatchCancelled      MatchState = "cancelled"
)

// Terminal reports whether no further transition is possible.
func (s MatchState) Terminal() bool {
	return s == MatchSettled || s == MatchCancelled
}

type Match struct {
	ID          string     `json:"match_id" db:"match_id"`
	HostID      string     `json:"host_id" db:"host_id"`
	OpponentID  string     `json:"opponent_id,omitempty" db:"opponent_id"`
	StakeAmount int64      `json:"stake_amount" db:"stake_amount"`
	State       MatchState `json:"state" db:"state"`
	WinnerID    string     `json:"winner_id,omitempty" db:"winner_id"`
	ResultDueAt *time.Time `json:"result_due_at,omitempty" db:"result_due_at"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
	SettledAt   *time.Time `json:"settled_at,omitempty" db:"settled_at"`
}

// IsParticipant reports whether accountID is the host or the joined opponent.
func (m *Match) IsParticipant(accountID string) bool {
	if accountID == "" {
		return false
	}
	return accountID == m.HostID || accountID == m.OpponentID
}

type EscrowHold struct {
	ID        string    `json:"hold_id" db:"hold_id"`
	MatchID   string    `json:"match_id" db:"match_id"`
	AccountID string    `json:"account_id" db:"account_id"`
	Amount    int64     `json:"amount" db:"amount"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type ResultSubmission struct {
	MatchID     string    `json:"match_id" db:"match_id"`
	SubmitterID string    `json:"submitter_id" db:"submitter_id"`
	WinnerID    string    `json:"winner_id" db:"winner_id"`
	EvidenceURL string    `json:"evidence_url,omitempty" db:"evidence_url"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}
