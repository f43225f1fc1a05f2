package store

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clutchstake/backend/internal/models"
)

var (
	matchRowColumns   = []string{"match_id", "host_id", "opponent_id", "stake_amount", "state", "winner_id", "result_due_at", "created_at", "updated_at", "settled_at"}
	disputeRowColumns = []string{"dispute_id", "match_id", "raised_by", "reason", "evidence_url", "state", "resolution", "moderator_notes", "resolved_by", "created_at", "resolved_at"}
)

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgresStore(db), mock
}

func TestPostgresStore_UpdateCommitsAndRollsBack(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM escrow_holds WHERE hold_id = \\$1").
		WithArgs("hold-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := st.Update(context.Background(), func(tx Tx) error {
		return tx.DeleteHold("hold-1")
	})
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM escrow_holds WHERE hold_id = \\$1").
		WithArgs("hold-2").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err = st.Update(context.Background(), func(tx Tx) error {
		return tx.DeleteHold("hold-2")
	})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_AfterCommit(t *testing.T) {
	st, mock := newMockStore(t)
	var ran []string

	mock.ExpectBegin()
	mock.ExpectCommit()
	err := st.Update(context.Background(), func(tx Tx) error {
		tx.AfterCommit(func() { ran = append(ran, "first") })
		tx.AfterCommit(func() { ran = append(ran, "second") })
		assert.Empty(t, ran)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second"}, ran)

	mock.ExpectBegin()
	mock.ExpectRollback()
	err = st.Update(context.Background(), func(tx Tx) error {
		tx.AfterCommit(func() { ran = append(ran, "rolled back") })
		return ErrConflict
	})
	assert.ErrorIs(t, err, ErrConflict)

	mock.ExpectBegin()
	mock.ExpectCommit().WillReturnError(sql.ErrConnDone)
	err = st.Update(context.Background(), func(tx Tx) error {
		tx.AfterCommit(func() { ran = append(ran, "commit failed") })
		return nil
	})
	assert.ErrorIs(t, err, sql.ErrConnDone)

	assert.Equal(t, []string{"first", "second"}, ran)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Matches(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("lock scans nullable columns", func(t *testing.T) {
		st, mock := newMockStore(t)

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT match_id, .* FROM matches WHERE match_id = \\$1 FOR UPDATE").
			WithArgs("m-1").
			WillReturnRows(sqlmock.NewRows(matchRowColumns).
				AddRow("m-1", "host", nil, 1000, "pending", nil, nil, now, now, nil))
		mock.ExpectCommit()

		var m *models.Match
		err := st.Update(context.Background(), func(tx Tx) error {
			var err error
			m, err = tx.LockMatch("m-1")
			return err
		})
		require.NoError(t, err)
		assert.Equal(t, models.MatchPending, m.State)
		assert.Empty(t, m.OpponentID)
		assert.Nil(t, m.ResultDueAt)
		assert.Nil(t, m.SettledAt)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing match", func(t *testing.T) {
		st, mock := newMockStore(t)

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT match_id, .* FROM matches WHERE match_id = \\$1").
			WithArgs("nope").
			WillReturnError(sql.ErrNoRows)
		mock.ExpectCommit()

		err := st.View(context.Background(), func(tx Tx) error {
			_, err := tx.GetMatch("nope")
			assert.ErrorIs(t, err, ErrNotFound)
			return nil
		})
		require.NoError(t, err)
	})

	t.Run("duplicate id", func(t *testing.T) {
		st, mock := newMockStore(t)

		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO matches").
			WillReturnError(&pq.Error{Code: "23505"})
		mock.ExpectRollback()

		err := st.Update(context.Background(), func(tx Tx) error {
			return tx.InsertMatch(&models.Match{ID: "m-1", HostID: "host", StakeAmount: 1000, State: models.MatchPending})
		})
		assert.ErrorIs(t, err, ErrAlreadyExists)
	})

	t.Run("update guards the previous state", func(t *testing.T) {
		st, mock := newMockStore(t)
		m := &models.Match{ID: "m-1", HostID: "host", OpponentID: "opp", State: models.MatchActive, UpdatedAt: now}

		mock.ExpectBegin()
		mock.ExpectExec("UPDATE matches SET opponent_id = \\$1, state = \\$2, winner_id = \\$3, result_due_at = \\$4, updated_at = \\$5, settled_at = \\$6 WHERE match_id = \\$7 AND state = \\$8").
			WithArgs("opp", "active", nil, nil, now, nil, "m-1", "pending").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		err := st.Update(context.Background(), func(tx Tx) error {
			return tx.UpdateMatch(m, models.MatchPending)
		})
		assert.ErrorIs(t, err, ErrConflict)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresStore_Accounts(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE accounts SET balance = \\$1, version = version \\+ 1, updated_at = \\$2 WHERE account_id = \\$3 AND version = \\$4").
		WithArgs(900, sqlmock.AnyArg(), "acct-1", 2).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := st.Update(context.Background(), func(tx Tx) error {
		return tx.SaveAccountBalance("acct-1", 900, 2)
	})
	assert.ErrorIs(t, err, ErrConflict)
	assert.Contains(t, err.Error(), "acct-1")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Disputes(t *testing.T) {
	st, mock := newMockStore(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT dispute_id, .* FROM disputes WHERE state = \\$1 AND dispute_id > \\$2 ORDER BY dispute_id LIMIT \\$3").
		WithArgs("open", "", 20).
		WillReturnRows(sqlmock.NewRows(disputeRowColumns).
			AddRow("d-1", "m-1", "system", "conflicting result submissions", "", "open", nil, "", "", now, nil))
	mock.ExpectQuery("SELECT dispute_id, .* FROM disputes WHERE match_id = \\$1").
		WithArgs("m-2").
		WillReturnRows(sqlmock.NewRows(disputeRowColumns).
			AddRow("d-2", "m-2", "opp", "lag", "", "resolved", []byte(`{"winner_id":"host"}`), "clip", "mod-1", now, now))
	mock.ExpectCommit()

	err := st.View(context.Background(), func(tx Tx) error {
		open, err := tx.ListOpenDisputes("", 20)
		require.NoError(t, err)
		require.Len(t, open, 1)
		assert.Nil(t, open[0].Resolution)

		resolved, err := tx.GetDisputeByMatch("m-2")
		require.NoError(t, err)
		require.NotNil(t, resolved.Resolution)
		assert.Equal(t, "host", resolved.Resolution.WinnerID)
		assert.NotNil(t, resolved.ResolvedAt)
		return nil
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Outbox(t *testing.T) {
	st, mock := newMockStore(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT event_id, type, aggregate_id, payload, created_at FROM outbox_events WHERE published_at IS NULL ORDER BY event_id LIMIT \\$1").
		WithArgs(10).
		WillReturnRows(sqlmock.NewRows([]string{"event_id", "type", "aggregate_id", "payload", "created_at"}).
			AddRow("e-1", "match.settled", "m-1", []byte(`{"fee":200}`), now))
	mock.ExpectExec("UPDATE outbox_events SET published_at = \\$1 WHERE event_id = \\$2 AND published_at IS NULL").
		WithArgs(now, "e-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := st.Update(context.Background(), func(tx Tx) error {
		pending, err := tx.ListPendingEvents(10)
		if err != nil {
			return err
		}
		require.Len(t, pending, 1)
		assert.Equal(t, models.EventMatchSettled, pending[0].Type)
		assert.JSONEq(t, `{"fee":200}`, string(pending[0].Payload))
		return tx.MarkEventPublished(pending[0].ID, now)
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
