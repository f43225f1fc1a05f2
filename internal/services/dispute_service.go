package services

import (
	"context"
	"iter"

	"go.uber.org/zap"

	"github.com/clutchstake/backend/internal/audit"
	"github.com/clutchstake/backend/internal/models"
	"github.com/clutchstake/backend/internal/store"
)

const (
	defaultDisputePage = 20
	maxDisputePage     = 100
)

// DisputeService lists open disputes for moderators and applies their
// decisions through the escrow service.
type DisputeService struct {
	store  store.Store
	escrow *EscrowService
	audit  *audit.AuditLogger
	logger *zap.Logger
}

func NewDisputeService(st store.Store, escrow *EscrowService, auditLogger *audit.AuditLogger, logger *zap.Logger) *DisputeService {
	return &DisputeService{
		store:  st,
		escrow: escrow,
		audit:  auditLogger,
		logger: logger,
	}
}

func clampPage(limit int) int {
	if limit <= 0 {
		return defaultDisputePage
	}
	if limit > maxDisputePage {
		return maxDisputePage
	}
	return limit
}

// ListOpen returns one page of open disputes ordered by creation, starting
// after cursor. next is empty when there are no further pages.
func (s *DisputeService) ListOpen(ctx context.Context, cursor string, limit int) (page []models.Dispute, next string, err error) {
	limit = clampPage(limit)
	err = s.store.View(ctx, func(tx store.Tx) error {
		var err error
		page, err = tx.ListOpenDisputes(cursor, limit)
		return err
	})
	if err != nil {
		return nil, "", err
	}
	if len(page) == limit {
		next = page[len(page)-1].ID
	}
	return page, next, nil
}

// OpenDisputes yields every open dispute, fetching pageSize rows at a time
// as the caller advances.
func (s *DisputeService) OpenDisputes(ctx context.Context, pageSize int) iter.Seq2[models.Dispute, error] {
	return func(yield func(models.Dispute, error) bool) {
		cursor := ""
		for {
			page, next, err := s.ListOpen(ctx, cursor, pageSize)
			if err != nil {
				yield(models.Dispute{}, err)
				return
			}
			for _, d := range page {
				if !yield(d, nil) {
					return
				}
			}
			if next == "" {
				return
			}
			cursor = next
		}
	}
}

func (s *DisputeService) Get(ctx context.Context, disputeID string) (*models.Dispute, error) {
	var d *models.Dispute
	err := s.store.View(ctx, func(tx store.Tx) error {
		var err error
		d, err = tx.GetDispute(disputeID)
		return storeError(err, ErrDisputeNotFound)
	})
	return d, err
}

// Resolve applies a moderator decision: a winner settles the match, a
// refund cancels it with refund entries. Repeating the same decision returns
// the stored dispute; a different one returns it with ErrAlreadyResolved.
func (s *DisputeService) Resolve(ctx context.Context, disputeID string, decision models.Decision, notes, moderatorID string) (*models.Dispute, error) {
	if (decision.WinnerID == "") == !decision.Refund {
		return nil, validationError("decision needs exactly one of winner or refund")
	}
	if moderatorID == "" {
		return nil, validationError("moderator is required")
	}

	var (
		dispute     *models.Dispute
		resolvedErr error
	)
	err := s.store.Update(ctx, func(tx store.Tx) error {
		d, err := tx.GetDispute(disputeID)
		if err != nil {
			return storeError(err, ErrDisputeNotFound)
		}

		m, err := s.escrow.registry.Lock(tx, d.MatchID)
		if err != nil {
			return err
		}
		d, err = tx.LockDispute(disputeID)
		if err != nil {
			return storeError(err, ErrDisputeNotFound)
		}

		if d.State == models.DisputeResolved {
			dispute = d
			if d.Resolution != nil && d.Resolution.Equal(decision) {
				return nil
			}
			resolvedErr = ErrAlreadyResolved
			return nil
		}
		if decision.WinnerID != "" && !m.IsParticipant(decision.WinnerID) {
			return ErrInvalidWinner
		}

		resolvedAt := s.escrow.now()
		d.State = models.DisputeResolved
		d.Resolution = &decision
		d.ModeratorNotes = notes
		d.ResolvedBy = moderatorID
		d.ResolvedAt = &resolvedAt
		if err := tx.UpdateDispute(d); err != nil {
			return storeError(err, ErrDisputeNotFound)
		}

		if decision.Refund {
			err = s.escrow.cancelTx(tx, m, models.EntryRefund, moderatorID)
		} else {
			err = s.escrow.settleTx(tx, m, decision.WinnerID, moderatorID)
		}
		if err != nil {
			return err
		}

		dispute = d
		return enqueueEvent(tx, models.EventDisputeResolved, d.MatchID, d)
	})
	if err != nil {
		s.audit.LogError(disputeID, moderatorID, err)
		return nil, err
	}
	if resolvedErr != nil {
		return dispute, resolvedErr
	}

	s.logger.Info("dispute resolved",
		zap.String("dispute_id", dispute.ID),
		zap.String("match_id", dispute.MatchID),
		zap.String("moderator_id", moderatorID),
	)
	return dispute, nil
}
