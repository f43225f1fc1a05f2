package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/clutchstake/backend/internal/audit"
	"github.com/clutchstake/backend/internal/metrics"
	"github.com/clutchstake/backend/internal/models"
	"github.com/clutchstake/backend/internal/store"
)

const basisPoints = 10_000

type EscrowConfig struct {
	FeeBps            int64
	PlatformAccountID string
	ResultDeadline    time.Duration
	MinStake          int64
	MaxStake          int64
}

// SplitPot divides the pot of two stakes into the platform fee and the
// winner payout. fee + payout always equals 2*stake.
func SplitPot(stake, feeBps int64) (fee, payout int64) {
	pot := 2 * stake
	fee = pot * feeBps / basisPoints
	return fee, pot - fee
}

func holdReference(matchID, accountID string) string {
	return "match:" + matchID + ":" + accountID
}

func matchReference(matchID string) string {
	return "match:" + matchID
}

// EscrowService moves stakes in and out of escrow. Every exported method is
// one store transaction covering ledger entries, holds, match state and the
// outbox event.
type EscrowService struct {
	store    store.Store
	ledger   *LedgerService
	registry *MatchRegistry
	audit    *audit.AuditLogger
	metrics  *metrics.Metrics
	logger   *zap.Logger
	cfg      EscrowConfig
	now      func() time.Time
}

func NewEscrowService(st store.Store, ledger *LedgerService, registry *MatchRegistry, auditLogger *audit.AuditLogger,
	m *metrics.Metrics, logger *zap.Logger, cfg EscrowConfig) *EscrowService {
	return &EscrowService{
		store:    st,
		ledger:   ledger,
		registry: registry,
		audit:    auditLogger,
		metrics:  m,
		logger:   logger,
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *EscrowService) Config() EscrowConfig {
	return s.cfg
}

func (s *EscrowService) GetMatch(ctx context.Context, matchID string) (*models.Match, error) {
	return s.registry.Get(ctx, matchID)
}

// CreateMatch opens a match in Pending. Nothing is held until an opponent
// joins. A non-empty matchID makes the call idempotent for the same host and
// stake.
func (s *EscrowService) CreateMatch(ctx context.Context, hostID string, stake int64, matchID string) (*models.Match, error) {
	if hostID == "" {
		return nil, validationError("host is required")
	}
	if stake <= 0 || stake < s.cfg.MinStake || (s.cfg.MaxStake > 0 && stake > s.cfg.MaxStake) {
		return nil, validationError("stake must be between %d and %d", s.cfg.MinStake, s.cfg.MaxStake)
	}
	if matchID == "" {
		matchID = newID()
	}

	var match *models.Match
	err := s.store.Update(ctx, func(tx store.Tx) error {
		existing, err := tx.GetMatch(matchID)
		if err == nil {
			if existing.HostID != hostID || existing.StakeAmount != stake {
				return ErrMatchIDTaken
			}
			match = existing
			return nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return err
		}

		balance, err := s.ledger.BalanceTx(tx, hostID)
		if err != nil {
			return err
		}
		if balance < stake {
			return ErrInsufficientFunds
		}

		match, err = s.registry.CreateMatch(tx, matchID, hostID, stake)
		if err != nil {
			return err
		}
		return enqueueEvent(tx, models.EventMatchCreated, match.ID, match)
	})
	if err != nil {
		return nil, err
	}
	return match, nil
}

// JoinMatch takes the open slot and captures both stakes. Either every
// effect commits or none does.
func (s *EscrowService) JoinMatch(ctx context.Context, matchID, opponentID string) (*models.Match, error) {
	if matchID == "" || opponentID == "" {
		return nil, validationError("match and opponent are required")
	}

	var match *models.Match
	err := s.store.Update(ctx, func(tx store.Tx) error {
		m, err := s.registry.Lock(tx, matchID)
		if err != nil {
			return err
		}
		if m.OpponentID == opponentID && m.State != models.MatchPending && m.State != models.MatchCancelled {
			match = m
			return nil
		}
		if err := s.registry.AttachOpponent(m, opponentID); err != nil {
			return err
		}

		if err := s.ledger.LockAccounts(tx, m.HostID, opponentID); err != nil {
			return err
		}
		if _, err := s.ledger.AppendEntry(tx, opponentID, -m.StakeAmount, models.EntryStakeHold, holdReference(m.ID, opponentID)); err != nil {
			return err
		}
		if _, err := s.ledger.AppendEntry(tx, m.HostID, -m.StakeAmount, models.EntryStakeHold, holdReference(m.ID, m.HostID)); err != nil {
			if errors.Is(err, ErrInsufficientFunds) {
				return ErrHostInsufficientFunds
			}
			return err
		}

		now := s.now()
		for _, accountID := range []string{m.HostID, opponentID} {
			hold := &models.EscrowHold{
				ID:        newID(),
				MatchID:   m.ID,
				AccountID: accountID,
				Amount:    m.StakeAmount,
				CreatedAt: now,
			}
			if err := tx.InsertHold(hold); err != nil {
				return fmt.Errorf("insert hold for %s: %w", accountID, err)
			}
		}

		if err := s.registry.Transition(tx, m, models.MatchPending, models.MatchActive, opponentID); err != nil {
			return err
		}
		match = m
		return enqueueEvent(tx, models.EventMatchJoined, m.ID, m)
	})
	if err != nil {
		return nil, err
	}
	return match, nil
}

// SubmitResult records submitterID's claimed winner. Two agreeing
// submissions settle the match; two conflicting ones open a dispute.
func (s *EscrowService) SubmitResult(ctx context.Context, matchID, submitterID, winnerID, evidenceURL string) (models.MatchState, error) {
	if matchID == "" || submitterID == "" || winnerID == "" {
		return "", validationError("match, submitter and winner are required")
	}

	var state models.MatchState
	err := s.store.Update(ctx, func(tx store.Tx) error {
		m, err := s.registry.Lock(tx, matchID)
		if err != nil {
			return err
		}
		if !m.IsParticipant(submitterID) {
			return ErrNotParticipant
		}
		if !m.IsParticipant(winnerID) {
			return ErrInvalidWinner
		}

		subs, err := tx.ListSubmissions(m.ID)
		if err != nil {
			return err
		}
		var counterpart *models.ResultSubmission
		for i := range subs {
			if subs[i].SubmitterID == submitterID {
				if subs[i].WinnerID != winnerID {
					return ErrResultConflict
				}
				state = m.State
				return nil
			}
			counterpart = &subs[i]
		}

		if m.State != models.MatchActive && m.State != models.MatchAwaitingResult {
			return ErrInvalidTransition
		}

		sub := &models.ResultSubmission{
			MatchID:     m.ID,
			SubmitterID: submitterID,
			WinnerID:    winnerID,
			EvidenceURL: evidenceURL,
			CreatedAt:   s.now(),
		}
		if err := tx.InsertSubmission(sub); err != nil {
			return fmt.Errorf("insert result submission: %w", err)
		}

		if m.State == models.MatchActive {
			due := s.now().Add(s.cfg.ResultDeadline)
			m.ResultDueAt = &due
			if err := s.registry.Transition(tx, m, models.MatchActive, models.MatchAwaitingResult, submitterID); err != nil {
				return err
			}
		}
		if err := enqueueEvent(tx, models.EventMatchResultSubmitted, m.ID, sub); err != nil {
			return err
		}

		switch {
		case counterpart == nil:
		case counterpart.WinnerID == winnerID:
			if err := s.settleTx(tx, m, winnerID, submitterID); err != nil {
				return err
			}
		default:
			if _, err := s.openDisputeTx(tx, m, models.SystemActor, "conflicting result submissions", ""); err != nil {
				return err
			}
		}
		state = m.State
		return nil
	})
	if err != nil {
		return "", err
	}
	return state, nil
}

// Settle pays out a match in AwaitingResult, or in Disputed once its
// dispute carries the same winner. Settling a settled match with the same
// winner returns it unchanged.
func (s *EscrowService) Settle(ctx context.Context, matchID, winnerID string) (*models.Match, error) {
	var match *models.Match
	err := s.store.Update(ctx, func(tx store.Tx) error {
		m, err := s.registry.Lock(tx, matchID)
		if err != nil {
			return err
		}
		if err := s.settleTx(tx, m, winnerID, models.SystemActor); err != nil {
			return err
		}
		match = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	return match, nil
}

func (s *EscrowService) settleTx(tx store.Tx, m *models.Match, winnerID, actorID string) error {
	switch m.State {
	case models.MatchSettled:
		if m.WinnerID == winnerID {
			return nil
		}
		return ErrInvalidTransition
	case models.MatchAwaitingResult:
	case models.MatchDisputed:
		d, err := tx.GetDisputeByMatch(m.ID)
		if err != nil {
			return storeError(err, ErrDisputeUnresolved)
		}
		if d.State != models.DisputeResolved || d.Resolution == nil || d.Resolution.WinnerID != winnerID {
			return ErrDisputeUnresolved
		}
	default:
		return ErrInvalidTransition
	}
	if !m.IsParticipant(winnerID) {
		return ErrInvalidWinner
	}

	fee, payout := SplitPot(m.StakeAmount, s.cfg.FeeBps)
	if err := s.ledger.LockAccounts(tx, winnerID, s.cfg.PlatformAccountID); err != nil {
		return err
	}

	holds, err := tx.ListHolds(m.ID)
	if err != nil {
		return err
	}
	for _, h := range holds {
		if err := tx.DeleteHold(h.ID); err != nil {
			return fmt.Errorf("delete hold %s: %w", h.ID, err)
		}
	}

	ref := matchReference(m.ID)
	if _, err := s.ledger.AppendEntry(tx, winnerID, payout, models.EntryPayout, ref); err != nil {
		return err
	}
	if fee > 0 {
		if _, err := s.ledger.AppendEntry(tx, s.cfg.PlatformAccountID, fee, models.EntryFee, ref); err != nil {
			return err
		}
	}

	from := m.State
	settledAt := s.now()
	m.WinnerID = winnerID
	m.SettledAt = &settledAt
	if err := s.registry.Transition(tx, m, from, models.MatchSettled, actorID); err != nil {
		return err
	}

	tx.AfterCommit(func() {
		s.metrics.PayoutVolume.Add(float64(payout))
		s.metrics.FeeVolume.Add(float64(fee))
	})
	return enqueueEvent(tx, models.EventMatchSettled, m.ID, map[string]any{
		"match_id":  m.ID,
		"winner_id": winnerID,
		"payout":    payout,
		"fee":       fee,
	})
}

// Cancel releases a match that has not produced a result. Only a
// participant may cancel; cancelling twice returns the cancelled match.
func (s *EscrowService) Cancel(ctx context.Context, matchID, actorID string) (*models.Match, error) {
	var match *models.Match
	err := s.store.Update(ctx, func(tx store.Tx) error {
		m, err := s.registry.Lock(tx, matchID)
		if err != nil {
			return err
		}
		if !m.IsParticipant(actorID) {
			return ErrNotParticipant
		}
		match = m

		switch m.State {
		case models.MatchCancelled:
			return nil
		case models.MatchPending:
		case models.MatchActive:
			subs, err := tx.ListSubmissions(m.ID)
			if err != nil {
				return err
			}
			if len(subs) > 0 {
				return ErrInvalidTransition
			}
		default:
			return ErrInvalidTransition
		}
		return s.cancelTx(tx, m, models.EntryStakeRelease, actorID)
	})
	if err != nil {
		return nil, err
	}
	return match, nil
}

// cancelTx returns every hold to its owner with an entry of kind and moves
// the match to Cancelled.
func (s *EscrowService) cancelTx(tx store.Tx, m *models.Match, kind models.EntryKind, actorID string) error {
	holds, err := tx.ListHolds(m.ID)
	if err != nil {
		return err
	}

	ids := make([]string, 0, len(holds))
	for _, h := range holds {
		ids = append(ids, h.AccountID)
	}
	if err := s.ledger.LockAccounts(tx, ids...); err != nil {
		return err
	}

	for _, h := range holds {
		if _, err := s.ledger.AppendEntry(tx, h.AccountID, h.Amount, kind, holdReference(m.ID, h.AccountID)); err != nil {
			return err
		}
		if err := tx.DeleteHold(h.ID); err != nil {
			return fmt.Errorf("delete hold %s: %w", h.ID, err)
		}
	}

	if err := s.registry.Transition(tx, m, m.State, models.MatchCancelled, actorID); err != nil {
		return err
	}
	return enqueueEvent(tx, models.EventMatchCancelled, m.ID, map[string]any{
		"match_id": m.ID,
		"released": len(holds),
		"kind":     kind,
	})
}

// Dispute contests a submitted result. Funds stay held until the dispute
// is resolved. Raising it again returns the existing dispute.
func (s *EscrowService) Dispute(ctx context.Context, matchID, raisedBy, reason, evidenceURL string) (*models.Dispute, error) {
	if reason == "" {
		return nil, validationError("reason is required")
	}

	var dispute *models.Dispute
	err := s.store.Update(ctx, func(tx store.Tx) error {
		m, err := s.registry.Lock(tx, matchID)
		if err != nil {
			return err
		}
		if !m.IsParticipant(raisedBy) {
			return ErrNotParticipant
		}

		if m.State == models.MatchDisputed {
			d, err := tx.GetDisputeByMatch(m.ID)
			if err != nil {
				return storeError(err, ErrDisputeNotFound)
			}
			dispute = d
			return nil
		}
		if m.State != models.MatchAwaitingResult {
			return ErrInvalidTransition
		}

		dispute, err = s.openDisputeTx(tx, m, raisedBy, reason, evidenceURL)
		return err
	})
	if err != nil {
		return nil, err
	}
	return dispute, nil
}

func (s *EscrowService) openDisputeTx(tx store.Tx, m *models.Match, raisedBy, reason, evidenceURL string) (*models.Dispute, error) {
	d := &models.Dispute{
		ID:          newID(),
		MatchID:     m.ID,
		RaisedBy:    raisedBy,
		Reason:      reason,
		EvidenceURL: evidenceURL,
		State:       models.DisputeOpen,
		CreatedAt:   s.now(),
	}
	if err := tx.InsertDispute(d); err != nil {
		return nil, fmt.Errorf("insert dispute: %w", err)
	}
	if err := s.registry.Transition(tx, m, models.MatchAwaitingResult, models.MatchDisputed, raisedBy); err != nil {
		return nil, err
	}

	origin := "participant"
	if raisedBy == models.SystemActor {
		origin = "system"
	}
	tx.AfterCommit(func() {
		s.metrics.DisputesOpened.WithLabelValues(origin).Inc()
	})
	if err := enqueueEvent(tx, models.EventDisputeOpened, m.ID, d); err != nil {
		return nil, err
	}
	return d, nil
}

// EscalateOverdue moves a match whose result deadline passed into Disputed
// for moderator review. It never settles.
func (s *EscrowService) EscalateOverdue(ctx context.Context, matchID string) (*models.Dispute, error) {
	var dispute *models.Dispute
	err := s.store.Update(ctx, func(tx store.Tx) error {
		m, err := s.registry.Lock(tx, matchID)
		if err != nil {
			return err
		}
		if m.State != models.MatchAwaitingResult {
			return ErrInvalidTransition
		}
		if m.ResultDueAt == nil || s.now().Before(*m.ResultDueAt) {
			return ErrNotOverdue
		}

		dispute, err = s.openDisputeTx(tx, m, models.SystemActor, "result deadline exceeded", "")
		return err
	})
	if err != nil {
		return nil, err
	}
	return dispute, nil
}

// EscalationSweep escalates up to limit overdue matches and returns how many
// moved to Disputed. A match that fails is logged and counted, and the sweep
// carries on; the failures come back joined.
func (s *EscrowService) EscalationSweep(ctx context.Context, limit int) (int, error) {
	var due []models.Match
	err := s.store.View(ctx, func(tx store.Tx) error {
		var err error
		due, err = tx.ListMatchesDue(models.MatchAwaitingResult, s.now(), limit)
		return err
	})
	if err != nil {
		s.metrics.WorkerErrors.WithLabelValues("escalation").Inc()
		return 0, fmt.Errorf("list overdue matches: %w", err)
	}

	var (
		escalated int
		failures  []error
	)
	for _, m := range due {
		if err := ctx.Err(); err != nil {
			return escalated, errors.Join(append(failures, err)...)
		}
		if _, err := s.EscalateOverdue(ctx, m.ID); err != nil {
			if errors.Is(err, ErrInvalidTransition) || errors.Is(err, ErrNotOverdue) {
				continue
			}
			s.audit.LogError(m.ID, models.SystemActor, err)
			s.metrics.WorkerErrors.WithLabelValues("escalation").Inc()
			s.logger.Warn("match escalation failed", zap.String("match_id", m.ID), zap.Error(err))
			failures = append(failures, fmt.Errorf("escalate %s: %w", m.ID, err))
			continue
		}
		s.logger.Info("match escalated to dispute", zap.String("match_id", m.ID))
		escalated++
	}
	return escalated, errors.Join(failures...)
}
