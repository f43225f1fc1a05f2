package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clutchstake/backend/internal/models"
	"github.com/clutchstake/backend/internal/store"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to models.MatchState
		want     bool
	}{
		{models.MatchPending, models.MatchActive, true},
		{models.MatchPending, models.MatchCancelled, true},
		{models.MatchPending, models.MatchSettled, false},
		{models.MatchActive, models.MatchAwaitingResult, true},
		{models.MatchActive, models.MatchCancelled, true},
		{models.MatchActive, models.MatchSettled, false},
		{models.MatchAwaitingResult, models.MatchSettled, true},
		{models.MatchAwaitingResult, models.MatchDisputed, true},
		{models.MatchAwaitingResult, models.MatchCancelled, false},
		{models.MatchDisputed, models.MatchSettled, true},
		{models.MatchDisputed, models.MatchCancelled, true},
		{models.MatchSettled, models.MatchCancelled, false},
		{models.MatchCancelled, models.MatchActive, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CanTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}

	for _, terminal := range []models.MatchState{models.MatchSettled, models.MatchCancelled} {
		assert.True(t, terminal.Terminal())
		assert.Empty(t, allowedTransitions[terminal])
	}
}

func TestMatchRegistry(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	var created *models.Match
	err := env.store.Update(ctx, func(tx store.Tx) error {
		var err error
		created, err = env.registry.CreateMatch(tx, "m-1", "host", 500)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, models.MatchPending, created.State)

	t.Run("duplicate id", func(t *testing.T) {
		err := env.store.Update(ctx, func(tx store.Tx) error {
			_, err := env.registry.CreateMatch(tx, "m-1", "other", 900)
			return err
		})
		assert.ErrorIs(t, err, ErrMatchIDTaken)
	})

	t.Run("attach opponent", func(t *testing.T) {
		m := *created
		assert.ErrorIs(t, env.registry.AttachOpponent(&m, "host"), ErrSelfJoin)
		require.NoError(t, env.registry.AttachOpponent(&m, "opp"))
		assert.Equal(t, "opp", m.OpponentID)
		assert.ErrorIs(t, env.registry.AttachOpponent(&m, "late"), ErrAlreadyFull)

		cancelled := models.Match{HostID: "host", State: models.MatchCancelled}
		assert.ErrorIs(t, env.registry.AttachOpponent(&cancelled, "opp"), ErrNotPending)
	})

	t.Run("stale transition", func(t *testing.T) {
		err := env.store.Update(ctx, func(tx store.Tx) error {
			m, err := env.registry.Lock(tx, "m-1")
			if err != nil {
				return err
			}
			return env.registry.Transition(tx, m, models.MatchPending, models.MatchCancelled, "host")
		})
		require.NoError(t, err)

		stale := *created
		err = env.store.Update(ctx, func(tx store.Tx) error {
			return env.registry.Transition(tx, &stale, models.MatchPending, models.MatchActive, "opp")
		})
		assert.ErrorIs(t, err, ErrInvalidTransition)
		assert.Equal(t, models.MatchPending, stale.State)

		stored, err := env.registry.Get(ctx, "m-1")
		require.NoError(t, err)
		assert.Equal(t, models.MatchCancelled, stored.State)
	})

	t.Run("edge outside the lifecycle", func(t *testing.T) {
		m := models.Match{ID: "m-1", State: models.MatchCancelled}
		err := env.store.Update(ctx, func(tx store.Tx) error {
			return env.registry.Transition(tx, &m, models.MatchCancelled, models.MatchSettled, "host")
		})
		assert.ErrorIs(t, err, ErrInvalidTransition)
	})

	_, err = env.registry.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrMatchNotFound)
}
