package services

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/clutchstake/backend/internal/audit"
	"github.com/clutchstake/backend/internal/metrics"
	"github.com/clutchstake/backend/internal/models"
	"github.com/clutchstake/backend/internal/store"
)

const (
	testPlatform = "platform"
	testFeeBps   = 1000
)

type testEnv struct {
	store    *store.BoltStore
	ledger   *LedgerService
	registry *MatchRegistry
	escrow   *EscrowService
	disputes *DisputeService
	wallet   *WalletService
	metrics  *metrics.Metrics
	audit    *observer.ObservedLogs
	clock    time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	st, err := store.OpenBolt(filepath.Join(t.TempDir(), "escrow.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	logger := zap.NewNop()
	core, auditLogs := observer.New(zap.InfoLevel)
	auditLogger := audit.NewAuditLogger(zap.New(core))
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

	env := &testEnv{
		store:    st,
		ledger:   ledger,
		registry: registry,
		escrow:   escrow,
		disputes: NewDisputeService(st, escrow, auditLogger, logger),
		wallet:   NewWalletService(st, ledger, logger),
		metrics:  m,
		audit:    auditLogs,
		clock:    time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	escrow.now = func() time.Time { return env.clock }
	return env
}

func (e *testEnv) fund(t *testing.T, accountID string, amount int64) {
	t.Helper()
	_, err := e.wallet.Deposit(context.Background(), accountID, amount, "seed-"+accountID+"-"+newID())
	require.NoError(t, err)
}

func (e *testEnv) balance(t *testing.T, accountID string) int64 {
	t.Helper()
	b, err := e.ledger.GetBalance(context.Background(), accountID)
	require.NoError(t, err)
	return b
}

func (e *testEnv) holds(t *testing.T, matchID string) []models.EscrowHold {
	t.Helper()
	var holds []models.EscrowHold
	require.NoError(t, e.store.View(context.Background(), func(tx store.Tx) error {
		var err error
		holds, err = tx.ListHolds(matchID)
		return err
	}))
	return holds
}

func (e *testEnv) entries(t *testing.T, accountID string) []models.LedgerEntry {
	t.Helper()
	entries, err := e.ledger.Entries(context.Background(), accountID, 100)
	require.NoError(t, err)
	return entries
}

func (e *testEnv) pendingEvents(t *testing.T) []models.Event {
	t.Helper()
	var evs []models.Event
	require.NoError(t, e.store.View(context.Background(), func(tx store.Tx) error {
		var err error
		evs, err = tx.ListPendingEvents(1000)
		return err
	}))
	return evs
}

// activeMatch funds host and opponent, creates a match of stake and joins it.
func (e *testEnv) activeMatch(t *testing.T, host, opponent string, stake int64) *models.Match {
	t.Helper()
	ctx := context.Background()
	e.fund(t, host, stake)
	e.fund(t, opponent, stake)

	m, err := e.escrow.CreateMatch(ctx, host, stake, "")
	require.NoError(t, err)
	m, err = e.escrow.JoinMatch(ctx, m.ID, opponent)
	require.NoError(t, err)
	require.Equal(t, models.MatchActive, m.State)
	return m
}

func (e *testEnv) requireReconciled(t *testing.T) {
	t.Helper()
	mismatches, err := e.ledger.Reconcile(context.Background())
	require.NoError(t, err)
	require.Empty(t, mismatches)
}
