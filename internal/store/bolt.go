package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/clutchstake/backend/internal/models"
)

const (
	accountsBucket       = "accounts"
	entriesBucket        = "ledger:entries"
	entryRefsBucket      = "ledger:refs"
	accountEntriesBucket = "ledger:by_account"
	matchesBucket        = "matches"
	holdsBucket          = "escrow:holds"
	matchHoldsBucket     = "escrow:by_match"
	submissionsBucket    = "matches:submissions"
	disputesBucket       = "disputes"
	matchDisputesBucket  = "disputes:by_match"
	withdrawalsBucket    = "withdrawals"
	outboxBucket         = "outbox"
	outboxPendingBucket  = "outbox:pending"
	keySeparator         = "\x00"
)

var buckets = []string{
	accountsBucket,
	entriesBucket,
	entryRefsBucket,
	accountEntriesBucket,
	matchesBucket,
	holdsBucket,
	matchHoldsBucket,
	submissionsBucket,
	disputesBucket,
	matchDisputesBucket,
	withdrawalsBucket,
	outboxBucket,
	outboxPendingBucket,
}

// BoltStore keeps everything in a single bbolt file. bbolt allows one writer
// at a time, so every Update is serialized.
type BoltStore struct {
	db *bolt.DB
}

// OpenBolt opens (or creates) the database file at path and its buckets.
func OpenBolt(path string) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, fmt.Errorf("failed to create database path: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists([]byte(bucket)); err != nil {
				return fmt.Errorf("failed to create %s bucket: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize database buckets: %w", err)
	}

	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Update(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return fn(&boltTx{tx: tx})
	})
}

func (s *BoltStore) View(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.View(func(tx *bolt.Tx) error {
		return fn(&boltTx{tx: tx})
	})
}

func (s *BoltStore) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.View(func(tx *bolt.Tx) error {
		if tx.Bucket([]byte(accountsBucket)) == nil {
			return fmt.Errorf("bucket %s missing", accountsBucket)
		}
		return nil
	})
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

type boltTx struct {
	tx *bolt.Tx
}

func (t *boltTx) AfterCommit(fn func()) {
	t.tx.OnCommit(fn)
}

func compositeKey(parts ...string) []byte {
	var buf bytes.Buffer
	for i, p := range parts {
		if i > 0 {
			buf.WriteString(keySeparator)
		}
		buf.WriteString(p)
	}
	return buf.Bytes()
}

func prefixKey(part string) []byte {
	return []byte(part + keySeparator)
}

func (t *boltTx) bucket(name string) *bolt.Bucket {
	return t.tx.Bucket([]byte(name))
}

func (t *boltTx) get(bucket string, key []byte, v any) error {
	data := t.bucket(bucket).Get(key)
	if data == nil {
		return ErrNotFound
	}
	return json.Unmarshal(data, v)
}

func (t *boltTx) put(bucket string, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return t.bucket(bucket).Put(key, data)
}

func (t *boltTx) exists(bucket string, key []byte) bool {
	return t.bucket(bucket).Get(key) != nil
}

// Accounts

func (t *boltTx) LockAccount(accountID string) (*models.Account, error) {
	account, err := t.GetAccount(accountID)
	if errors.Is(err, ErrNotFound) {
		account = &models.Account{ID: accountID, UpdatedAt: time.Now().UTC()}
		if err := t.put(accountsBucket, []byte(accountID), account); err != nil {
			return nil, err
		}
		return account, nil
	}
	return account, err
}

func (t *boltTx) GetAccount(accountID string) (*models.Account, error) {
	var account models.Account
	if err := t.get(accountsBucket, []byte(accountID), &account); err != nil {
		return nil, err
	}
	return &account, nil
}

func (t *boltTx) SaveAccountBalance(accountID string, balance int64, version int) error {
	account, err := t.GetAccount(accountID)
	if err != nil {
		return err
	}
	if account.Version != version {
		return fmt.Errorf("optimistic lock failed for account %s: %w", accountID, ErrConflict)
	}
	account.Balance = balance
	account.Version++
	account.UpdatedAt = time.Now().UTC()
	return t.put(accountsBucket, []byte(accountID), account)
}

func (t *boltTx) ListAccountTotals(after string, limit int) ([]AccountTotal, error) {
	var totals []AccountTotal
	c := t.bucket(accountsBucket).Cursor()
	for k, v := c.Seek([]byte(after)); k != nil && len(totals) < limit; k, v = c.Next() {
		if string(k) == after {
			continue
		}
		var a models.Account
		if err := json.Unmarshal(v, &a); err != nil {
			return nil, err
		}
		at := AccountTotal{AccountID: a.ID, Balance: a.Balance}
		for _, id := range t.accountEntryIDs(a.ID) {
			var e models.LedgerEntry
			if err := t.get(entriesBucket, id, &e); err != nil {
				return nil, err
			}
			at.EntriesSum += e.Delta
		}
		totals = append(totals, at)
	}
	return totals, nil
}

// Ledger

func (t *boltTx) InsertEntry(e *models.LedgerEntry) error {
	refKey := compositeKey(string(e.Kind), e.ReferenceID)
	if t.exists(entryRefsBucket, refKey) {
		return ErrDuplicateReference
	}
	if err := t.put(entriesBucket, []byte(e.ID), e); err != nil {
		return err
	}
	if err := t.bucket(entryRefsBucket).Put(refKey, []byte(e.ID)); err != nil {
		return err
	}
	return t.bucket(accountEntriesBucket).Put(compositeKey(e.AccountID, e.ID), []byte{})
}

func (t *boltTx) GetEntryByReference(kind models.EntryKind, referenceID string) (*models.LedgerEntry, error) {
	id := t.bucket(entryRefsBucket).Get(compositeKey(string(kind), referenceID))
	if id == nil {
		return nil, ErrNotFound
	}
	var e models.LedgerEntry
	if err := t.get(entriesBucket, id, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

func (t *boltTx) accountEntryIDs(accountID string) [][]byte {
	prefix := prefixKey(accountID)
	var ids [][]byte
	c := t.bucket(accountEntriesBucket).Cursor()
	for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
		ids = append(ids, append([]byte(nil), k[len(prefix):]...))
	}
	return ids
}

func (t *boltTx) ListEntries(accountID string, limit int) ([]models.LedgerEntry, error) {
	ids := t.accountEntryIDs(accountID)
	var entries []models.LedgerEntry
	for i := len(ids) - 1; i >= 0 && len(entries) < limit; i-- {
		var e models.LedgerEntry
		if err := t.get(entriesBucket, ids[i], &e); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Matches

func (t *boltTx) InsertMatch(m *models.Match) error {
	if t.exists(matchesBucket, []byte(m.ID)) {
		return ErrAlreadyExists
	}
	return t.put(matchesBucket, []byte(m.ID), m)
}

func (t *boltTx) GetMatch(matchID string) (*models.Match, error) {
	var m models.Match
	if err := t.get(matchesBucket, []byte(matchID), &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (t *boltTx) LockMatch(matchID string) (*models.Match, error) {
	return t.GetMatch(matchID)
}

func (t *boltTx) UpdateMatch(m *models.Match, from models.MatchState) error {
	current, err := t.GetMatch(m.ID)
	if err != nil {
		return err
	}
	if current.State != from {
		return ErrConflict
	}
	return t.put(matchesBucket, []byte(m.ID), m)
}

func (t *boltTx) ListMatchesDue(state models.MatchState, before time.Time, limit int) ([]models.Match, error) {
	var matches []models.Match
	err := t.bucket(matchesBucket).ForEach(func(_, v []byte) error {
		if len(matches) >= limit {
			return nil
		}
		var m models.Match
		if err := json.Unmarshal(v, &m); err != nil {
			return err
		}
		if m.State == state && m.ResultDueAt != nil && m.ResultDueAt.Before(before) {
			matches = append(matches, m)
		}
		return nil
	})
	return matches, err
}

// Holds

func (t *boltTx) InsertHold(h *models.EscrowHold) error {
	indexKey := compositeKey(h.MatchID, h.AccountID)
	if t.exists(matchHoldsBucket, indexKey) {
		return ErrAlreadyExists
	}
	if err := t.put(holdsBucket, []byte(h.ID), h); err != nil {
		return err
	}
	return t.bucket(matchHoldsBucket).Put(indexKey, []byte(h.ID))
}

func (t *boltTx) ListHolds(matchID string) ([]models.EscrowHold, error) {
	prefix := prefixKey(matchID)
	var holds []models.EscrowHold
	c := t.bucket(matchHoldsBucket).Cursor()
	for k, id := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, id = c.Next() {
		var h models.EscrowHold
		if err := t.get(holdsBucket, id, &h); err != nil {
			return nil, err
		}
		holds = append(holds, h)
	}
	return holds, nil
}

func (t *boltTx) DeleteHold(holdID string) error {
	var h models.EscrowHold
	if err := t.get(holdsBucket, []byte(holdID), &h); err != nil {
		return err
	}
	if err := t.bucket(matchHoldsBucket).Delete(compositeKey(h.MatchID, h.AccountID)); err != nil {
		return err
	}
	return t.bucket(holdsBucket).Delete([]byte(holdID))
}

// Result submissions

func (t *boltTx) InsertSubmission(s *models.ResultSubmission) error {
	key := compositeKey(s.MatchID, s.SubmitterID)
	if t.exists(submissionsBucket, key) {
		return ErrAlreadyExists
	}
	return t.put(submissionsBucket, key, s)
}

func (t *boltTx) ListSubmissions(matchID string) ([]models.ResultSubmission, error) {
	prefix := prefixKey(matchID)
	var subs []models.ResultSubmission
	c := t.bucket(submissionsBucket).Cursor()
	for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
		var s models.ResultSubmission
		if err := json.Unmarshal(v, &s); err != nil {
			return nil, err
		}
		subs = append(subs, s)
	}
	return subs, nil
}

// Disputes

func (t *boltTx) InsertDispute(d *models.Dispute) error {
	if t.exists(disputesBucket, []byte(d.ID)) || t.exists(matchDisputesBucket, []byte(d.MatchID)) {
		return ErrAlreadyExists
	}
	if err := t.put(disputesBucket, []byte(d.ID), d); err != nil {
		return err
	}
	return t.bucket(matchDisputesBucket).Put([]byte(d.MatchID), []byte(d.ID))
}

func (t *boltTx) GetDispute(disputeID string) (*models.Dispute, error) {
	var d models.Dispute
	if err := t.get(disputesBucket, []byte(disputeID), &d); err != nil {
		return nil, err
	}
	return &d, nil
}

func (t *boltTx) LockDispute(disputeID string) (*models.Dispute, error) {
	return t.GetDispute(disputeID)
}

func (t *boltTx) GetDisputeByMatch(matchID string) (*models.Dispute, error) {
	id := t.bucket(matchDisputesBucket).Get([]byte(matchID))
	if id == nil {
		return nil, ErrNotFound
	}
	return t.GetDispute(string(id))
}

func (t *boltTx) UpdateDispute(d *models.Dispute) error {
	if !t.exists(disputesBucket, []byte(d.ID)) {
		return ErrNotFound
	}
	return t.put(disputesBucket, []byte(d.ID), d)
}

func (t *boltTx) ListOpenDisputes(after string, limit int) ([]models.Dispute, error) {
	var disputes []models.Dispute
	c := t.bucket(disputesBucket).Cursor()
	for k, v := c.Seek([]byte(after)); k != nil && len(disputes) < limit; k, v = c.Next() {
		if string(k) == after {
			continue
		}
		var d models.Dispute
		if err := json.Unmarshal(v, &d); err != nil {
			return nil, err
		}
		if d.State == models.DisputeOpen {
			disputes = append(disputes, d)
		}
	}
	return disputes, nil
}

// Withdrawals

func (t *boltTx) InsertWithdrawal(w *models.WithdrawalRequest) error {
	if t.exists(withdrawalsBucket, []byte(w.ID)) {
		return ErrAlreadyExists
	}
	return t.put(withdrawalsBucket, []byte(w.ID), w)
}

func (t *boltTx) LockWithdrawal(requestID string) (*models.WithdrawalRequest, error) {
	var w models.WithdrawalRequest
	if err := t.get(withdrawalsBucket, []byte(requestID), &w); err != nil {
		return nil, err
	}
	return &w, nil
}

func (t *boltTx) UpdateWithdrawal(w *models.WithdrawalRequest) error {
	if !t.exists(withdrawalsBucket, []byte(w.ID)) {
		return ErrNotFound
	}
	return t.put(withdrawalsBucket, []byte(w.ID), w)
}

func (t *boltTx) ListWithdrawals(state models.WithdrawalState, limit int) ([]models.WithdrawalRequest, error) {
	var requests []models.WithdrawalRequest
	c := t.bucket(withdrawalsBucket).Cursor()
	for k, v := c.First(); k != nil && len(requests) < limit; k, v = c.Next() {
		var w models.WithdrawalRequest
		if err := json.Unmarshal(v, &w); err != nil {
			return nil, err
		}
		if w.State == state {
			requests = append(requests, w)
		}
	}
	return requests, nil
}

// Outbox

func (t *boltTx) EnqueueEvent(e *models.Event) error {
	if err := t.put(outboxBucket, []byte(e.ID), e); err != nil {
		return err
	}
	return t.bucket(outboxPendingBucket).Put([]byte(e.ID), []byte{})
}

func (t *boltTx) ListPendingEvents(limit int) ([]models.Event, error) {
	var events []models.Event
	c := t.bucket(outboxPendingBucket).Cursor()
	for k, _ := c.First(); k != nil && len(events) < limit; k, _ = c.Next() {
		var e models.Event
		if err := t.get(outboxBucket, k, &e); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, nil
}

func (t *boltTx) MarkEventPublished(eventID string, at time.Time) error {
	var e models.Event
	if err := t.get(outboxBucket, []byte(eventID), &e); err != nil {
		return err
	}
	e.PublishedAt = &at
	if err := t.put(outboxBucket, []byte(eventID), &e); err != nil {
		return err
	}
	return t.bucket(outboxPendingBucket).Delete([]byte(eventID))
}
