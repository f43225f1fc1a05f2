package models

import "time"

type WithdrawalState string

const (
	WithdrawalPending  WithdrawalState = "pending"
	WithdrawalApproved WithdrawalState = "approved"
	WithdrawalRejected WithdrawalState = "rejected"
)

// WithdrawalRequest is debited when created; a rejection refunds it.
type WithdrawalRequest struct {
	ID         string          `json:"request_id" db:"request_id"`
	AccountID  string          `json:"account_id" db:"account_id"`
	Amount     int64           `json:"amount" db:"amount"`
	State      WithdrawalState `json:"state" db:"state"`
	ReviewedBy string          `json:"reviewed_by,omitempty" db:"reviewed_by"`
	Note       string          `json:"note,omitempty" db:"note"`
	CreatedAt  time.Time       `json:"created_at" db:"created_at"`
	ReviewedAt *time.Time      `json:"reviewed_at,omitempty" db:"reviewed_at"`
}
