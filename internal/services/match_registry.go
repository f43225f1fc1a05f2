package services

import (
	"context"
	"errors"
	"time"

	"github.com/clutchstake/backend/internal/audit"
	"github.com/clutchstake/backend/internal/metrics"
	"github.com/clutchstake/backend/internal/models"
	"github.com/clutchstake/backend/internal/store"
)

var allowedTransitions = map[models.MatchState][]models.MatchState{
	models.MatchPending:        {models.MatchActive, models.MatchCancelled},
	models.MatchActive:         {models.MatchAwaitingResult, models.MatchCancelled},
	models.MatchAwaitingResult: {models.MatchSettled, models.MatchDisputed},
	models.MatchDisputed:       {models.MatchSettled, models.MatchCancelled},
}

// CanTransition reports whether from -> to is an edge of the match lifecycle.
func CanTransition(from, to models.MatchState) bool {
	if from.Terminal() {
		return false
	}
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// MatchRegistry owns match rows and their lifecycle state. It only changes
// state when instructed by the escrow or dispute services.
type MatchRegistry struct {
	store   store.Store
	audit   *audit.AuditLogger
	metrics *metrics.Metrics
}

func NewMatchRegistry(st store.Store, auditLogger *audit.AuditLogger, m *metrics.Metrics) *MatchRegistry {
	return &MatchRegistry{store: st, audit: auditLogger, metrics: m}
}

func (r *MatchRegistry) CreateMatch(tx store.Tx, matchID, hostID string, stake int64) (*models.Match, error) {
	now := time.Now().UTC()
	m := &models.Match{
		ID:          matchID,
		HostID:      hostID,
		StakeAmount: stake,
		State:       models.MatchPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := tx.InsertMatch(m); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return nil, ErrMatchIDTaken
		}
		return nil, err
	}
	tx.AfterCommit(func() {
		r.metrics.MatchTransitions.WithLabelValues(string(models.MatchPending)).Inc()
	})
	return m, nil
}

// AttachOpponent checks that opponentID may take the open slot and sets it
// on m. The change is persisted by the following Transition.
func (r *MatchRegistry) AttachOpponent(m *models.Match, opponentID string) error {
	switch {
	case opponentID == m.HostID:
		return ErrSelfJoin
	case m.OpponentID != "":
		return ErrAlreadyFull
	case m.State != models.MatchPending:
		return ErrNotPending
	}
	m.OpponentID = opponentID
	return nil
}

// Transition persists m in state to, provided its stored state is still
// from. Any other stored state fails with ErrInvalidTransition.
func (r *MatchRegistry) Transition(tx store.Tx, m *models.Match, from, to models.MatchState, actorID string) error {
	if m.State != from || !CanTransition(from, to) {
		return ErrInvalidTransition
	}

	m.State = to
	m.UpdatedAt = time.Now().UTC()
	if err := tx.UpdateMatch(m, from); err != nil {
		m.State = from
		if errors.Is(err, store.ErrConflict) {
			return ErrInvalidTransition
		}
		return err
	}

	matchID := m.ID
	tx.AfterCommit(func() {
		r.audit.LogTransition(matchID, actorID, from, to)
		r.metrics.MatchTransitions.WithLabelValues(string(to)).Inc()
	})
	return nil
}

func (r *MatchRegistry) Lock(tx store.Tx, matchID string) (*models.Match, error) {
	m, err := tx.LockMatch(matchID)
	if err != nil {
		return nil, storeError(err, ErrMatchNotFound)
	}
	return m, nil
}

func (r *MatchRegistry) Get(ctx context.Context, matchID string) (*models.Match, error) {
	var m *models.Match
	err := r.store.View(ctx, func(tx store.Tx) error {
		var err error
		m, err = tx.GetMatch(matchID)
		return storeError(err, ErrMatchNotFound)
	})
	return m, err
}
