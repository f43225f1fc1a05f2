package audit

import (
	"time"

	"go.uber.org/zap"

	"github.com/clutchstake/backend/internal/models"
)

type event struct {
	Timestamp   time.Time
	EventType   string
	ReferenceID string
	AccountID   string
	Amount      int64
	Status      string
	Details     any
}

// AuditLogger writes one structured record per money movement, match
// transition and failure.
type AuditLogger struct {
	logger *zap.Logger
}

func NewAuditLogger(logger *zap.Logger) *AuditLogger {
	return &AuditLogger{logger: logger.Named("audit")}
}

func (a *AuditLogger) LogEntry(entry *models.LedgerEntry) {
	a.log(event{
		Timestamp:   entry.CreatedAt,
		EventType:   "LEDGER_" + string(entry.Kind),
		ReferenceID: entry.ReferenceID,
		AccountID:   entry.AccountID,
		Amount:      entry.Delta,
		Status:      "SUCCESS",
		Details: map[string]any{
			"entry_id":      entry.ID,
			"balance_after": entry.BalanceAfter,
		},
	})
}

func (a *AuditLogger) LogTransition(matchID, actorID string, from, to models.MatchState) {
	a.log(event{
		Timestamp:   time.Now().UTC(),
		EventType:   "MATCH_TRANSITION",
		ReferenceID: matchID,
		AccountID:   actorID,
		Status:      "SUCCESS",
		Details: map[string]string{
			"from": string(from),
			"to":   string(to),
		},
	})
}

func (a *AuditLogger) LogError(referenceID, accountID string, err error) {
	a.log(event{
		Timestamp:   time.Now().UTC(),
		EventType:   "ERROR",
		ReferenceID: referenceID,
		AccountID:   accountID,
		Status:      "FAILED",
		Details:     map[string]string{"error": err.Error()},
	})
}

func (a *AuditLogger) log(ev event) {
	a.logger.Info("AUDIT",
		zap.Time("timestamp", ev.Timestamp),
		zap.String("event_type", ev.EventType),
		zap.String("reference_id", ev.ReferenceID),
		zap.String("account_id", ev.AccountID),
		zap.Int64("amount", ev.Amount),
		zap.String("status", ev.Status),
		zap.Any("details", ev.Details),
	)
}
