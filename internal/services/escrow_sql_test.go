package services

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/clutchstake/backend/internal/audit"
	"github.com/clutchstake/backend/internal/metrics"
	"github.com/clutchstake/backend/internal/store"
)

var matchRowColumns = []string{
	"match_id", "host_id", "opponent_id", "stake_amount", "state",
	"winner_id", "result_due_at", "created_at", "updated_at", "settled_at",
}

const (
	lockMatchSQL   = "SELECT match_id, host_id, opponent_id, .* FROM matches WHERE match_id = \\$1 FOR UPDATE"
	insertHoldSQL  = "INSERT INTO escrow_holds \\(hold_id, match_id, account_id, amount, created_at\\)"
	updateMatchSQL = "UPDATE matches SET opponent_id = \\$1, state = \\$2, .* WHERE match_id = \\$7 AND state = \\$8"
	enqueueSQL     = "INSERT INTO outbox_events"
)

func newSQLEscrow(t *testing.T) (*EscrowService, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	mock.MatchExpectationsInOrder(true)

	st := store.NewPostgresStore(db)
	logger := zap.NewNop()
	auditLogger := audit.NewAuditLogger(logger)
	m := metrics.New(prometheus.NewRegistry())
	ledger := NewLedgerService(st, auditLogger, m, logger)
	registry := NewMatchRegistry(st, auditLogger, m)
	escrow := NewEscrowService(st, ledger, registry, auditLogger, m, logger, EscrowConfig{
		FeeBps:            testFeeBps,
		PlatformAccountID: testPlatform,
		ResultDeadline:    time.Hour,
		MinStake:          1,
		MaxStake:          1_000_000,
	})
	return escrow, mock
}

func expectHold(mock sqlmock.Sqlmock, accountID, ref string, balance int64, version int) {
	mock.ExpectQuery(refLookupSQL).
		WithArgs("stake_hold", ref).
		WillReturnRows(sqlmock.NewRows(entryRowColumns))
	expectLockedAccount(mock, accountID, balance, version)
	mock.ExpectExec(insertEntrySQL).
		WithArgs(sqlmock.AnyArg(), accountID, -500, "stake_hold", ref, balance-500, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(saveBalanceSQL).
		WithArgs(balance-500, sqlmock.AnyArg(), accountID, version).
		WillReturnResult(sqlmock.NewResult(0, 1))
}

func TestEscrowService_JoinMatchLockOrder(t *testing.T) {
	ctx := context.Background()

	t.Run("match row before accounts in sorted order", func(t *testing.T) {
		escrow, mock := newSQLEscrow(t)
		created := time.Now().UTC()

		mock.ExpectBegin()
		mock.ExpectQuery(lockMatchSQL).
			WithArgs("m-1").
			WillReturnRows(sqlmock.NewRows(matchRowColumns).
				AddRow("m-1", "zed", nil, 500, "pending", nil, nil, created, created, nil))
		// host "zed" sorts after opponent "amy"
		expectLockedAccount(mock, "amy", 1000, 2)
		expectLockedAccount(mock, "zed", 1000, 4)
		expectHold(mock, "amy", "match:m-1:amy", 1000, 2)
		expectHold(mock, "zed", "match:m-1:zed", 1000, 4)
		mock.ExpectExec(insertHoldSQL).
			WithArgs(sqlmock.AnyArg(), "m-1", "zed", 500, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec(insertHoldSQL).
			WithArgs(sqlmock.AnyArg(), "m-1", "amy", 500, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec(updateMatchSQL).
			WithArgs("amy", "active", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), "m-1", "pending").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(enqueueSQL).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		m, err := escrow.JoinMatch(ctx, "m-1", "amy")
		require.NoError(t, err)
		assert.Equal(t, "amy", m.OpponentID)
		assert.Equal(t, "active", string(m.State))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing match takes no account locks", func(t *testing.T) {
		escrow, mock := newSQLEscrow(t)

		mock.ExpectBegin()
		mock.ExpectQuery(lockMatchSQL).
			WithArgs("m-404").
			WillReturnRows(sqlmock.NewRows(matchRowColumns))
		mock.ExpectRollback()

		_, err := escrow.JoinMatch(ctx, "m-404", "amy")
		assert.ErrorIs(t, err, ErrMatchNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
