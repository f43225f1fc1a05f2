package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/clutchstake/backend/internal/models"
)

const uniqueViolation = "23505"

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Update(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	ptx := &pgTx{ctx: ctx, tx: tx}
	if err := fn(ptx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	ptx.committed()
	return nil
}

// View runs fn in a read-only REPEATABLE READ transaction so every statement
// sees the same snapshot.
func (s *PostgresStore) View(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true, Isolation: sql.LevelRepeatableRead})
	if err != nil {
		return err
	}
	defer tx.Rollback()

	ptx := &pgTx{ctx: ctx, tx: tx}
	if err := fn(ptx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	ptx.committed()
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

type pgTx struct {
	ctx   context.Context
	tx    *sql.Tx
	hooks []func()
}

func (t *pgTx) AfterCommit(fn func()) {
	t.hooks = append(t.hooks, fn)
}

func (t *pgTx) committed() {
	for _, fn := range t.hooks {
		fn()
	}
}

type scanner interface {
	Scan(dest ...any) error
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func expectOneRow(result sql.Result, err error) error {
	if err != nil {
		return err
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return ErrConflict
	}
	return nil
}

// Accounts

func (t *pgTx) LockAccount(accountID string) (*models.Account, error) {
	_, err := t.tx.ExecContext(t.ctx, `
		INSERT INTO accounts (account_id, balance, version, updated_at)
		VALUES ($1, 0, 0, $2)
		ON CONFLICT (account_id) DO NOTHING`,
		accountID, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("ensure account %s: %w", accountID, err)
	}

	var account models.Account
	err = t.tx.QueryRowContext(t.ctx, `
		SELECT account_id, balance, version, updated_at
		FROM accounts
		WHERE account_id = $1
		FOR UPDATE`, accountID).Scan(&account.ID, &account.Balance, &account.Version, &account.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &account, nil
}

func (t *pgTx) GetAccount(accountID string) (*models.Account, error) {
	var account models.Account
	err := t.tx.QueryRowContext(t.ctx, `
		SELECT account_id, balance, version, updated_at
		FROM accounts
		WHERE account_id = $1`, accountID).Scan(&account.ID, &account.Balance, &account.Version, &account.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &account, nil
}

func (t *pgTx) SaveAccountBalance(accountID string, balance int64, version int) error {
	result, err := t.tx.ExecContext(t.ctx, `
		UPDATE accounts
		SET balance = $1, version = version + 1, updated_at = $2
		WHERE account_id = $3 AND version = $4`,
		balance, time.Now().UTC(), accountID, version)
	if err := expectOneRow(result, err); err != nil {
		if errors.Is(err, ErrConflict) {
			return fmt.Errorf("optimistic lock failed for account %s: %w", accountID, err)
		}
		return err
	}
	return nil
}

func (t *pgTx) ListAccountTotals(after string, limit int) ([]AccountTotal, error) {
	rows, err := t.tx.QueryContext(t.ctx, `
		SELECT a.account_id, a.balance, COALESCE(SUM(e.delta), 0)
		FROM accounts a
		LEFT JOIN ledger_entries e ON e.account_id = a.account_id
		WHERE a.account_id > $1
		GROUP BY a.account_id, a.balance
		ORDER BY a.account_id
		LIMIT $2`, after, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var totals []AccountTotal
	for rows.Next() {
		var at AccountTotal
		if err := rows.Scan(&at.AccountID, &at.Balance, &at.EntriesSum); err != nil {
			return nil, err
		}
		totals = append(totals, at)
	}
	return totals, rows.Err()
}

// Ledger

const entryColumns = `entry_id, account_id, delta, kind, reference_id, balance_after, created_at`

func scanEntry(row scanner) (*models.LedgerEntry, error) {
	var e models.LedgerEntry
	if err := row.Scan(&e.ID, &e.AccountID, &e.Delta, &e.Kind, &e.ReferenceID, &e.BalanceAfter, &e.CreatedAt); err != nil {
		return nil, err
	}
	return &e, nil
}

func (t *pgTx) InsertEntry(e *models.LedgerEntry) error {
	_, err := t.tx.ExecContext(t.ctx, `
		INSERT INTO ledger_entries (entry_id, account_id, delta, kind, reference_id, balance_after, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.ID, e.AccountID, e.Delta, e.Kind, e.ReferenceID, e.BalanceAfter, e.CreatedAt)
	if isUniqueViolation(err) {
		return ErrDuplicateReference
	}
	return err
}

func (t *pgTx) GetEntryByReference(kind models.EntryKind, referenceID string) (*models.LedgerEntry, error) {
	row := t.tx.QueryRowContext(t.ctx, `
		SELECT `+entryColumns+`
		FROM ledger_entries
		WHERE kind = $1 AND reference_id = $2`, kind, referenceID)
	e, err := scanEntry(row)
	if err != nil {
		return nil, notFound(err)
	}
	return e, nil
}

func (t *pgTx) ListEntries(accountID string, limit int) ([]models.LedgerEntry, error) {
	rows, err := t.tx.QueryContext(t.ctx, `
		SELECT `+entryColumns+`
		FROM ledger_entries
		WHERE account_id = $1
		ORDER BY entry_id DESC
		LIMIT $2`, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []models.LedgerEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

// Matches

const matchColumns = `match_id, host_id, opponent_id, stake_amount, state, winner_id, result_due_at, created_at, updated_at, settled_at`

func scanMatch(row scanner) (*models.Match, error) {
	var (
		m                      models.Match
		opponentID, winnerID   sql.NullString
		resultDueAt, settledAt sql.NullTime
	)
	err := row.Scan(&m.ID, &m.HostID, &opponentID, &m.StakeAmount, &m.State, &winnerID,
		&resultDueAt, &m.CreatedAt, &m.UpdatedAt, &settledAt)
	if err != nil {
		return nil, err
	}
	m.OpponentID = opponentID.String
	m.WinnerID = winnerID.String
	m.ResultDueAt = timePtr(resultDueAt)
	m.SettledAt = timePtr(settledAt)
	return &m, nil
}

func (t *pgTx) InsertMatch(m *models.Match) error {
	_, err := t.tx.ExecContext(t.ctx, `
		INSERT INTO matches (`+matchColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		m.ID, m.HostID, nullString(m.OpponentID), m.StakeAmount, m.State, nullString(m.WinnerID),
		nullTime(m.ResultDueAt), m.CreatedAt, m.UpdatedAt, nullTime(m.SettledAt))
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	return err
}

func (t *pgTx) GetMatch(matchID string) (*models.Match, error) {
	row := t.tx.QueryRowContext(t.ctx, `
		SELECT `+matchColumns+`
		FROM matches
		WHERE match_id = $1`, matchID)
	m, err := scanMatch(row)
	if err != nil {
		return nil, notFound(err)
	}
	return m, nil
}

func (t *pgTx) LockMatch(matchID string) (*models.Match, error) {
	row := t.tx.QueryRowContext(t.ctx, `
		SELECT `+matchColumns+`
		FROM matches
		WHERE match_id = $1
		FOR UPDATE`, matchID)
	m, err := scanMatch(row)
	if err != nil {
		return nil, notFound(err)
	}
	return m, nil
}

func (t *pgTx) UpdateMatch(m *models.Match, from models.MatchState) error {
	result, err := t.tx.ExecContext(t.ctx, `
		UPDATE matches
		SET opponent_id = $1, state = $2, winner_id = $3, result_due_at = $4, updated_at = $5, settled_at = $6
		WHERE match_id = $7 AND state = $8`,
		nullString(m.OpponentID), m.State, nullString(m.WinnerID), nullTime(m.ResultDueAt),
		m.UpdatedAt, nullTime(m.SettledAt), m.ID, from)
	return expectOneRow(result, err)
}

func (t *pgTx) ListMatchesDue(state models.MatchState, before time.Time, limit int) ([]models.Match, error) {
	rows, err := t.tx.QueryContext(t.ctx, `
		SELECT `+matchColumns+`
		FROM matches
		WHERE state = $1 AND result_due_at < $2
		ORDER BY result_due_at
		LIMIT $3`, state, before, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var matches []models.Match
	for rows.Next() {
		m, err := scanMatch(rows)
		if err != nil {
			return nil, err
		}
		matches = append(matches, *m)
	}
	return matches, rows.Err()
}

// Holds

func (t *pgTx) InsertHold(h *models.EscrowHold) error {
	_, err := t.tx.ExecContext(t.ctx, `
		INSERT INTO escrow_holds (hold_id, match_id, account_id, amount, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		h.ID, h.MatchID, h.AccountID, h.Amount, h.CreatedAt)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	return err
}

func (t *pgTx) ListHolds(matchID string) ([]models.EscrowHold, error) {
	rows, err := t.tx.QueryContext(t.ctx, `
		SELECT hold_id, match_id, account_id, amount, created_at
		FROM escrow_holds
		WHERE match_id = $1
		ORDER BY account_id`, matchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var holds []models.EscrowHold
	for rows.Next() {
		var h models.EscrowHold
		if err := rows.Scan(&h.ID, &h.MatchID, &h.AccountID, &h.Amount, &h.CreatedAt); err != nil {
			return nil, err
		}
		holds = append(holds, h)
	}
	return holds, rows.Err()
}

func (t *pgTx) DeleteHold(holdID string) error {
	result, err := t.tx.ExecContext(t.ctx, `DELETE FROM escrow_holds WHERE hold_id = $1`, holdID)
	if err := expectOneRow(result, err); err != nil {
		if errors.Is(err, ErrConflict) {
			return ErrNotFound
		}
		return err
	}
	return nil
}

// Result submissions

func (t *pgTx) InsertSubmission(s *models.ResultSubmission) error {
	_, err := t.tx.ExecContext(t.ctx, `
		INSERT INTO result_submissions (match_id, submitter_id, winner_id, evidence_url, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		s.MatchID, s.SubmitterID, s.WinnerID, s.EvidenceURL, s.CreatedAt)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	return err
}

func (t *pgTx) ListSubmissions(matchID string) ([]models.ResultSubmission, error) {
	rows, err := t.tx.QueryContext(t.ctx, `
		SELECT match_id, submitter_id, winner_id, evidence_url, created_at
		FROM result_submissions
		WHERE match_id = $1
		ORDER BY created_at`, matchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []models.ResultSubmission
	for rows.Next() {
		var s models.ResultSubmission
		if err := rows.Scan(&s.MatchID, &s.SubmitterID, &s.WinnerID, &s.EvidenceURL, &s.CreatedAt); err != nil {
			return nil, err
		}
		subs = append(subs, s)
	}
	return subs, rows.Err()
}

// Disputes

const disputeColumns = `dispute_id, match_id, raised_by, reason, evidence_url, state, resolution, moderator_notes, resolved_by, created_at, resolved_at`

func scanDispute(row scanner) (*models.Dispute, error) {
	var (
		d          models.Dispute
		resolution []byte
		resolvedAt sql.NullTime
	)
	err := row.Scan(&d.ID, &d.MatchID, &d.RaisedBy, &d.Reason, &d.EvidenceURL, &d.State, &resolution,
		&d.ModeratorNotes, &d.ResolvedBy, &d.CreatedAt, &resolvedAt)
	if err != nil {
		return nil, err
	}
	if len(resolution) > 0 {
		var decision models.Decision
		if err := json.Unmarshal(resolution, &decision); err != nil {
			return nil, fmt.Errorf("decode resolution for dispute %s: %w", d.ID, err)
		}
		d.Resolution = &decision
	}
	d.ResolvedAt = timePtr(resolvedAt)
	return &d, nil
}

func encodeResolution(d *models.Dispute) ([]byte, error) {
	if d.Resolution == nil {
		return nil, nil
	}
	return json.Marshal(d.Resolution)
}

func (t *pgTx) InsertDispute(d *models.Dispute) error {
	resolution, err := encodeResolution(d)
	if err != nil {
		return err
	}
	_, err = t.tx.ExecContext(t.ctx, `
		INSERT INTO disputes (`+disputeColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		d.ID, d.MatchID, d.RaisedBy, d.Reason, d.EvidenceURL, d.State, resolution,
		d.ModeratorNotes, d.ResolvedBy, d.CreatedAt, nullTime(d.ResolvedAt))
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	return err
}

func (t *pgTx) GetDispute(disputeID string) (*models.Dispute, error) {
	row := t.tx.QueryRowContext(t.ctx, `
		SELECT `+disputeColumns+`
		FROM disputes
		WHERE dispute_id = $1`, disputeID)
	d, err := scanDispute(row)
	if err != nil {
		return nil, notFound(err)
	}
	return d, nil
}

func (t *pgTx) LockDispute(disputeID string) (*models.Dispute, error) {
	row := t.tx.QueryRowContext(t.ctx, `
		SELECT `+disputeColumns+`
		FROM disputes
		WHERE dispute_id = $1
		FOR UPDATE`, disputeID)
	d, err := scanDispute(row)
	if err != nil {
		return nil, notFound(err)
	}
	return d, nil
}

func (t *pgTx) GetDisputeByMatch(matchID string) (*models.Dispute, error) {
	row := t.tx.QueryRowContext(t.ctx, `
		SELECT `+disputeColumns+`
		FROM disputes
		WHERE match_id = $1`, matchID)
	d, err := scanDispute(row)
	if err != nil {
		return nil, notFound(err)
	}
	return d, nil
}

func (t *pgTx) UpdateDispute(d *models.Dispute) error {
	resolution, err := encodeResolution(d)
	if err != nil {
		return err
	}
	result, err := t.tx.ExecContext(t.ctx, `
		UPDATE disputes
		SET state = $1, resolution = $2, moderator_notes = $3, resolved_by = $4, resolved_at = $5
		WHERE dispute_id = $6`,
		d.State, resolution, d.ModeratorNotes, d.ResolvedBy, nullTime(d.ResolvedAt), d.ID)
	if err := expectOneRow(result, err); err != nil {
		if errors.Is(err, ErrConflict) {
			return ErrNotFound
		}
		return err
	}
	return nil
}

func (t *pgTx) ListOpenDisputes(after string, limit int) ([]models.Dispute, error) {
	rows, err := t.tx.QueryContext(t.ctx, `
		SELECT `+disputeColumns+`
		FROM disputes
		WHERE state = $1 AND dispute_id > $2
		ORDER BY dispute_id
		LIMIT $3`, models.DisputeOpen, after, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var disputes []models.Dispute
	for rows.Next() {
		d, err := scanDispute(rows)
		if err != nil {
			return nil, err
		}
		disputes = append(disputes, *d)
	}
	return disputes, rows.Err()
}

// Withdrawals

const withdrawalColumns = `request_id, account_id, amount, state, reviewed_by, note, created_at, reviewed_at`

func scanWithdrawal(row scanner) (*models.WithdrawalRequest, error) {
	var (
		w          models.WithdrawalRequest
		reviewedAt sql.NullTime
	)
	err := row.Scan(&w.ID, &w.AccountID, &w.Amount, &w.State, &w.ReviewedBy, &w.Note, &w.CreatedAt, &reviewedAt)
	if err != nil {
		return nil, err
	}
	w.ReviewedAt = timePtr(reviewedAt)
	return &w, nil
}

func (t *pgTx) InsertWithdrawal(w *models.WithdrawalRequest) error {
	_, err := t.tx.ExecContext(t.ctx, `
		INSERT INTO withdrawal_requests (`+withdrawalColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		w.ID, w.AccountID, w.Amount, w.State, w.ReviewedBy, w.Note, w.CreatedAt, nullTime(w.ReviewedAt))
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	return err
}

func (t *pgTx) LockWithdrawal(requestID string) (*models.WithdrawalRequest, error) {
	row := t.tx.QueryRowContext(t.ctx, `
		SELECT `+withdrawalColumns+`
		FROM withdrawal_requests
		WHERE request_id = $1
		FOR UPDATE`, requestID)
	w, err := scanWithdrawal(row)
	if err != nil {
		return nil, notFound(err)
	}
	return w, nil
}

func (t *pgTx) UpdateWithdrawal(w *models.WithdrawalRequest) error {
	result, err := t.tx.ExecContext(t.ctx, `
		UPDATE withdrawal_requests
		SET state = $1, reviewed_by = $2, note = $3, reviewed_at = $4
		WHERE request_id = $5`,
		w.State, w.ReviewedBy, w.Note, nullTime(w.ReviewedAt), w.ID)
	if err := expectOneRow(result, err); err != nil {
		if errors.Is(err, ErrConflict) {
			return ErrNotFound
		}
		return err
	}
	return nil
}

func (t *pgTx) ListWithdrawals(state models.WithdrawalState, limit int) ([]models.WithdrawalRequest, error) {
	rows, err := t.tx.QueryContext(t.ctx, `
		SELECT `+withdrawalColumns+`
		FROM withdrawal_requests
		WHERE state = $1
		ORDER BY request_id
		LIMIT $2`, state, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var requests []models.WithdrawalRequest
	for rows.Next() {
		w, err := scanWithdrawal(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, *w)
	}
	return requests, rows.Err()
}

// Outbox

func (t *pgTx) EnqueueEvent(e *models.Event) error {
	_, err := t.tx.ExecContext(t.ctx, `
		INSERT INTO outbox_events (event_id, type, aggregate_id, payload, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		e.ID, e.Type, e.AggregateID, []byte(e.Payload), e.CreatedAt)
	return err
}

func (t *pgTx) ListPendingEvents(limit int) ([]models.Event, error) {
	rows, err := t.tx.QueryContext(t.ctx, `
		SELECT event_id, type, aggregate_id, payload, created_at
		FROM outbox_events
		WHERE published_at IS NULL
		ORDER BY event_id
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []models.Event
	for rows.Next() {
		var (
			e       models.Event
			payload []byte
		)
		if err := rows.Scan(&e.ID, &e.Type, &e.AggregateID, &payload, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Payload = json.RawMessage(payload)
		events = append(events, e)
	}
	return events, rows.Err()
}

func (t *pgTx) MarkEventPublished(eventID string, at time.Time) error {
	_, err := t.tx.ExecContext(t.ctx, `
		UPDATE outbox_events
		SET published_at = $1
		WHERE event_id = $2 AND published_at IS NULL`, at, eventID)
	return err
}
