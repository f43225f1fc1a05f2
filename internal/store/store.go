// Package store persists accounts, ledger entries, matches and disputes.
//
// Every mutation runs inside Store.Update; a non-nil error returned from the
// callback rolls the whole transaction back.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/clutchstake/backend/internal/models"
)

var (
	ErrNotFound           = errors.New("store: not found")
	ErrDuplicateReference = errors.New("store: duplicate ledger reference")
	ErrAlreadyExists      = errors.New("store: already exists")
	ErrConflict           = errors.New("store: concurrent update")
)

// AccountTotal is an account's running balance next to the sum of its
// entries.
type AccountTotal struct {
	AccountID  string
	Balance    int64
	EntriesSum int64
}

type Store interface {
	Update(ctx context.Context, fn func(tx Tx) error) error
	View(ctx context.Context, fn func(tx Tx) error) error
	Ping(ctx context.Context) error
	Close() error
}

// Tx is the set of operations available inside one transaction.
type Tx interface {
	// AfterCommit registers fn to run once the transaction has committed.
	// It never runs for a transaction that rolls back.
	AfterCommit(fn func())

	// LockAccount returns the account row locked for update, creating a
	// zero-balance account on first use.
	LockAccount(accountID string) (*models.Account, error)
	GetAccount(accountID string) (*models.Account, error)
	// SaveAccountBalance writes balance when the stored version still equals
	// version, otherwise ErrConflict.
	SaveAccountBalance(accountID string, balance int64, version int) error
	// ListAccountTotals pages accounts by id after the given one, each with
	// the sum of its ledger entries read in the same statement.
	ListAccountTotals(after string, limit int) ([]AccountTotal, error)

	InsertEntry(e *models.LedgerEntry) error
	GetEntryByReference(kind models.EntryKind, referenceID string) (*models.LedgerEntry, error)
	ListEntries(accountID string, limit int) ([]models.LedgerEntry, error)

	InsertMatch(m *models.Match) error
	GetMatch(matchID string) (*models.Match, error)
	LockMatch(matchID string) (*models.Match, error)
	// UpdateMatch persists m only if the stored state still equals from.
	UpdateMatch(m *models.Match, from models.MatchState) error
	ListMatchesDue(state models.MatchState, before time.Time, limit int) ([]models.Match, error)

	InsertHold(h *models.EscrowHold) error
	ListHolds(matchID string) ([]models.EscrowHold, error)
	DeleteHold(holdID string) error

	InsertSubmission(s *models.ResultSubmission) error
	ListSubmissions(matchID string) ([]models.ResultSubmission, error)

	InsertDispute(d *models.Dispute) error
	GetDispute(disputeID string) (*models.Dispute, error)
	LockDispute(disputeID string) (*models.Dispute, error)
	GetDisputeByMatch(matchID string) (*models.Dispute, error)
	UpdateDispute(d *models.Dispute) error
	ListOpenDisputes(after string, limit int) ([]models.Dispute, error)

	InsertWithdrawal(w *models.WithdrawalRequest) error
	LockWithdrawal(requestID string) (*models.WithdrawalRequest, error)
	UpdateWithdrawal(w *models.WithdrawalRequest) error
	ListWithdrawals(state models.WithdrawalState, limit int) ([]models.WithdrawalRequest, error)

	EnqueueEvent(e *models.Event) error
	ListPendingEvents(limit int) ([]models.Event, error)
	MarkEventPublished(eventID string, at time.Time) error
}
