package services

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/clutchstake/backend/internal/models"
	"github.com/clutchstake/backend/internal/store"
)

func depositReference(externalRef string) string {
	return "deposit:" + externalRef
}

func withdrawalReference(requestID string) string {
	return "withdrawal:" + requestID
}

// KeyedID derives a stable id from a caller's idempotency key, scoped to the
// account. An empty key yields a fresh id.
func KeyedID(accountID, key string) string {
	if key == "" {
		return newID()
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(accountID+"\x00"+key)).String()
}

// WalletService moves money into and out of the platform through the
// ledger.
type WalletService struct {
	store  store.Store
	ledger *LedgerService
	logger *zap.Logger
}

func NewWalletService(st store.Store, ledger *LedgerService, logger *zap.Logger) *WalletService {
	return &WalletService{store: st, ledger: ledger, logger: logger}
}

func (s *WalletService) Balance(ctx context.Context, accountID string) (int64, error) {
	return s.ledger.GetBalance(ctx, accountID)
}

func (s *WalletService) Entries(ctx context.Context, accountID string, limit int) ([]models.LedgerEntry, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.ledger.Entries(ctx, accountID, limit)
}

// Deposit credits accountID once per externalRef. A replay with the same
// account and amount returns the original entry.
func (s *WalletService) Deposit(ctx context.Context, accountID string, amount int64, externalRef string) (*models.LedgerEntry, error) {
	if accountID == "" || externalRef == "" {
		return nil, validationError("account and reference are required")
	}
	if amount <= 0 {
		return nil, validationError("amount must be positive")
	}

	var entry *models.LedgerEntry
	err := s.store.Update(ctx, func(tx store.Tx) error {
		e, err := s.ledger.AppendEntry(tx, accountID, amount, models.EntryDeposit, depositReference(externalRef))
		if errors.Is(err, ErrDuplicateReference) {
			if e == nil || e.AccountID != accountID || e.Delta != amount {
				return ErrDuplicateReference
			}
			entry = e
			return nil
		}
		if err != nil {
			return err
		}
		entry = e
		return enqueueEvent(tx, models.EventWalletDeposited, accountID, e)
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// RequestWithdrawal debits the amount immediately so it cannot be staked
// while the request waits for review. Retrying with the same idempotency key
// and amount returns the stored request without a second debit.
func (s *WalletService) RequestWithdrawal(ctx context.Context, accountID string, amount int64, idempotencyKey string) (*models.WithdrawalRequest, error) {
	if accountID == "" {
		return nil, validationError("account is required")
	}
	if amount <= 0 {
		return nil, validationError("amount must be positive")
	}

	req := &models.WithdrawalRequest{
		ID:        KeyedID(accountID, idempotencyKey),
		AccountID: accountID,
		Amount:    amount,
		State:     models.WithdrawalPending,
		CreatedAt: time.Now().UTC(),
	}
	err := s.store.Update(ctx, func(tx store.Tx) error {
		_, err := s.ledger.AppendEntry(tx, accountID, -amount, models.EntryWithdrawal, withdrawalReference(req.ID))
		if errors.Is(err, ErrDuplicateReference) {
			stored, err := tx.LockWithdrawal(req.ID)
			if err != nil {
				return storeError(err, ErrWithdrawalNotFound)
			}
			if stored.AccountID != accountID || stored.Amount != amount {
				return ErrDuplicateReference
			}
			req = stored
			return nil
		}
		if err != nil {
			return err
		}
		if err := tx.InsertWithdrawal(req); err != nil {
			return err
		}
		return enqueueEvent(tx, models.EventWithdrawalRequested, accountID, req)
	})
	if err != nil {
		return nil, err
	}
	return req, nil
}

// ReviewWithdrawal approves or rejects a pending request. A rejection
// refunds the debited amount. Repeating the same decision is a no-op.
func (s *WalletService) ReviewWithdrawal(ctx context.Context, requestID string, approve bool, moderatorID, note string) (*models.WithdrawalRequest, error) {
	if requestID == "" || moderatorID == "" {
		return nil, validationError("request and moderator are required")
	}

	target := models.WithdrawalRejected
	if approve {
		target = models.WithdrawalApproved
	}

	var req *models.WithdrawalRequest
	err := s.store.Update(ctx, func(tx store.Tx) error {
		w, err := tx.LockWithdrawal(requestID)
		if err != nil {
			return storeError(err, ErrWithdrawalNotFound)
		}
		req = w

		if w.State != models.WithdrawalPending {
			if w.State == target {
				return nil
			}
			return ErrAlreadyReviewed
		}

		if !approve {
			if _, err := s.ledger.AppendEntry(tx, w.AccountID, w.Amount, models.EntryRefund, withdrawalReference(w.ID)); err != nil {
				return err
			}
		}

		reviewedAt := time.Now().UTC()
		w.State = target
		w.ReviewedBy = moderatorID
		w.Note = note
		w.ReviewedAt = &reviewedAt
		if err := tx.UpdateWithdrawal(w); err != nil {
			return storeError(err, ErrWithdrawalNotFound)
		}
		return enqueueEvent(tx, models.EventWithdrawalReviewed, w.AccountID, w)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("withdrawal reviewed",
		zap.String("request_id", req.ID),
		zap.String("state", string(req.State)),
		zap.String("moderator_id", moderatorID),
	)
	return req, nil
}

func (s *WalletService) PendingWithdrawals(ctx context.Context, limit int) ([]models.WithdrawalRequest, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var requests []models.WithdrawalRequest
	err := s.store.View(ctx, func(tx store.Tx) error {
		var err error
		requests, err = tx.ListWithdrawals(models.WithdrawalPending, limit)
		return err
	})
	return requests, err
}
