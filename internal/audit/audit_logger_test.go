package audit

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/clutchstake/backend/internal/models"
)

func newObservedLogger() (*AuditLogger, *observer.ObservedLogs) {
	core, logs := observer.New(zap.InfoLevel)
	return NewAuditLogger(zap.New(core)), logs
}

func TestAuditLogger_LogEntry(t *testing.T) {
	a, logs := newObservedLogger()

	a.LogEntry(&models.LedgerEntry{
		ID:           "entry-1",
		AccountID:    "acct-1",
		Delta:        -1000,
		Kind:         models.EntryStakeHold,
		ReferenceID:  "match:m1:acct-1",
		BalanceAfter: 500,
		CreatedAt:    time.Now(),
	})

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "LEDGER_stake_hold", fields["event_type"])
	assert.Equal(t, "match:m1:acct-1", fields["reference_id"])
	assert.Equal(t, int64(-1000), fields["amount"])
	assert.Equal(t, "SUCCESS", fields["status"])
}

func TestAuditLogger_LogError(t *testing.T) {
	a, logs := newObservedLogger()

	a.LogError("match:m1", "acct-1", errors.New("boom"))

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "AUDIT", entry.Message)
	assert.Equal(t, "FAILED", entry.ContextMap()["status"])
	assert.Equal(t, "audit", entry.LoggerName)
}

func TestAuditLogger_LogTransition(t *testing.T) {
	a, logs := newObservedLogger()

	a.LogTransition("m1", "acct-2", models.MatchPending, models.MatchActive)

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "MATCH_TRANSITION", fields["event_type"])
	assert.Equal(t, map[string]string{"from": "pending", "to": "active"}, fields["details"])
}
