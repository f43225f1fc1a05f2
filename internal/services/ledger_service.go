package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/clutchstake/backend/internal/audit"
	"github.com/clutchstake/backend/internal/metrics"
	"github.com/clutchstake/backend/internal/models"
	"github.com/clutchstake/backend/internal/store"
)

const reconcilePageSize = 500

// Mismatch is an account whose running balance disagrees with its entries.
type Mismatch struct {
	AccountID  string `json:"account_id"`
	Balance    int64  `json:"balance"`
	EntriesSum int64  `json:"entries_sum"`
}

// LedgerService owns account balances. Balances only change through
// AppendEntry, inside the caller's transaction.
type LedgerService struct {
	store   store.Store
	audit   *audit.AuditLogger
	metrics *metrics.Metrics
	logger  *zap.Logger
}

func NewLedgerService(st store.Store, auditLogger *audit.AuditLogger, m *metrics.Metrics, logger *zap.Logger) *LedgerService {
	return &LedgerService{
		store:   st,
		audit:   auditLogger,
		metrics: m,
		logger:  logger,
	}
}

func newID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// AppendEntry applies delta to accountID and records it. A debit that would
// take the balance below zero fails with ErrInsufficientFunds. A repeated
// (kind, referenceID) returns the stored entry with ErrDuplicateReference.
func (s *LedgerService) AppendEntry(tx store.Tx, accountID string, delta int64, kind models.EntryKind, referenceID string) (*models.LedgerEntry, error) {
	if accountID == "" || referenceID == "" {
		return nil, validationError("account and reference are required")
	}
	if delta == 0 {
		return nil, validationError("ledger delta must be non-zero")
	}

	existing, err := tx.GetEntryByReference(kind, referenceID)
	if err == nil {
		return existing, ErrDuplicateReference
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	account, err := tx.LockAccount(accountID)
	if err != nil {
		return nil, fmt.Errorf("lock account %s: %w", accountID, err)
	}

	newBalance := account.Balance + delta
	if newBalance < 0 {
		return nil, ErrInsufficientFunds
	}

	entry := &models.LedgerEntry{
		ID:           newID(),
		AccountID:    accountID,
		Delta:        delta,
		Kind:         kind,
		ReferenceID:  referenceID,
		BalanceAfter: newBalance,
		CreatedAt:    time.Now().UTC(),
	}
	if err := tx.InsertEntry(entry); err != nil {
		return nil, storeError(err, nil)
	}

	if err := tx.SaveAccountBalance(accountID, newBalance, account.Version); err != nil {
		return nil, storeError(err, nil)
	}

	tx.AfterCommit(func() {
		s.audit.LogEntry(entry)
		s.metrics.LedgerEntries.WithLabelValues(string(kind)).Inc()
	})
	return entry, nil
}

// LockAccounts locks every distinct id in sorted order so concurrent
// transactions touching the same accounts cannot deadlock.
func (s *LedgerService) LockAccounts(tx store.Tx, accountIDs ...string) error {
	ids := make([]string, 0, len(accountIDs))
	seen := make(map[string]bool, len(accountIDs))
	for _, id := range accountIDs {
		if id != "" && !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	for _, id := range ids {
		if _, err := tx.LockAccount(id); err != nil {
			return fmt.Errorf("lock account %s: %w", id, err)
		}
	}
	return nil
}

// BalanceTx reads the running balance; an unknown account has balance 0.
func (s *LedgerService) BalanceTx(tx store.Tx, accountID string) (int64, error) {
	account, err := tx.GetAccount(accountID)
	if errors.Is(err, store.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return account.Balance, nil
}

func (s *LedgerService) GetBalance(ctx context.Context, accountID string) (int64, error) {
	var balance int64
	err := s.store.View(ctx, func(tx store.Tx) error {
		var err error
		balance, err = s.BalanceTx(tx, accountID)
		return err
	})
	return balance, err
}

func (s *LedgerService) Entries(ctx context.Context, accountID string, limit int) ([]models.LedgerEntry, error) {
	var entries []models.LedgerEntry
	err := s.store.View(ctx, func(tx store.Tx) error {
		var err error
		entries, err = tx.ListEntries(accountID, limit)
		return err
	})
	return entries, err
}

// Reconcile compares every running balance with the sum of its entries.
func (s *LedgerService) Reconcile(ctx context.Context) ([]Mismatch, error) {
	var mismatches []Mismatch
	err := s.store.View(ctx, func(tx store.Tx) error {
		after := ""
		for {
			totals, err := tx.ListAccountTotals(after, reconcilePageSize)
			if err != nil {
				return fmt.Errorf("list account totals: %w", err)
			}
			for _, at := range totals {
				if at.EntriesSum != at.Balance {
					mismatches = append(mismatches, Mismatch{AccountID: at.AccountID, Balance: at.Balance, EntriesSum: at.EntriesSum})
				}
			}
			if len(totals) < reconcilePageSize {
				return nil
			}
			after = totals[len(totals)-1].AccountID
		}
	})
	if err != nil {
		return nil, err
	}

	s.metrics.ReconcileMismatches.Set(float64(len(mismatches)))
	for _, m := range mismatches {
		s.logger.Error("ledger mismatch",
			zap.String("account_id", m.AccountID),
			zap.Int64("balance", m.Balance),
			zap.Int64("entries_sum", m.EntriesSum),
		)
	}
	return mismatches, nil
}
