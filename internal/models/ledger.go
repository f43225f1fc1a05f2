package models

import (
	"time"
)

type EntryKind string

const (
	EntryDeposit      EntryKind = "deposit"
	EntryWithdrawal   EntryKind = "withdrawal"
	EntryStakeHold    EntryKind = "stake_hold"
	EntryStakeRelease EntryKind = "stake_release"
	EntryPayout       EntryKind = "payout"
	EntryRefund       EntryKind = "refund"
	EntryFee          EntryKind = "fee"
)

// LedgerEntry is an immutable balance change. (Kind, ReferenceID) is unique.
type LedgerEntry struct {
	ID           string    `json:"entry_id" db:"entry_id"`
	AccountID    string    `json:"account_id" db:"account_id"`
	Delta        int64     `json:"delta" db:"delta"` // minor units
	Kind         EntryKind `json:"kind" db:"kind"`
	ReferenceID  string    `json:"reference_id" db:"reference_id"`
	BalanceAfter int64     `json:"balance_after" db:"balance_after"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

type Account struct {
	ID        string    `json:"account_id" db:"account_id"`
	Balance   int64     `json:"balance" db:"balance"`
	Version   int       `json:"version" db:"version"` // for optimistic locking
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
