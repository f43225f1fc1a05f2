package services

import (
	"errors"
	"fmt"

	"github.com/clutchstake/backend/internal/store"
)

// Kind classifies an Error for callers deciding whether to retry.
type Kind string

const (
	KindValidation         Kind = "validation"
	KindPrecondition       Kind = "precondition_failed"
	KindInsufficientFunds  Kind = "insufficient_funds"
	KindDuplicateReference Kind = "duplicate_reference"
	KindNotFound           Kind = "not_found"
	KindInternal           Kind = "internal"
)

// Error is the typed failure returned by the escrow, dispute and wallet
// services. Code is stable and safe to show to clients.
type Error struct {
	Kind    Kind
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

var (
	ErrInsufficientFunds     = &Error{KindInsufficientFunds, "insufficient_funds", "insufficient funds"}
	ErrHostInsufficientFunds = &Error{KindInsufficientFunds, "host_insufficient_funds", "host has insufficient funds for the stake"}
	ErrDuplicateReference    = &Error{KindDuplicateReference, "duplicate_reference", "ledger reference already used"}

	ErrMatchNotFound      = &Error{KindNotFound, "match_not_found", "match not found"}
	ErrDisputeNotFound    = &Error{KindNotFound, "dispute_not_found", "dispute not found"}
	ErrWithdrawalNotFound = &Error{KindNotFound, "withdrawal_not_found", "withdrawal request not found"}

	ErrAlreadyFull       = &Error{KindPrecondition, "already_full", "match already has an opponent"}
	ErrSelfJoin          = &Error{KindPrecondition, "self_join", "host cannot join their own match"}
	ErrNotPending        = &Error{KindPrecondition, "not_pending", "match is no longer open"}
	ErrInvalidTransition = &Error{KindPrecondition, "invalid_transition", "match state does not allow this operation"}
	ErrAlreadyResolved   = &Error{KindPrecondition, "already_resolved", "dispute already resolved with a different decision"}
	ErrResultConflict    = &Error{KindPrecondition, "result_conflict", "a different result was already submitted"}
	ErrDisputeUnresolved = &Error{KindPrecondition, "dispute_unresolved", "disputed match needs a matching resolution"}
	ErrNotOverdue        = &Error{KindPrecondition, "not_overdue", "result deadline has not passed"}
	ErrMatchIDTaken      = &Error{KindPrecondition, "match_id_taken", "match id already used with different terms"}
	ErrAlreadyReviewed   = &Error{KindPrecondition, "already_reviewed", "withdrawal already reviewed"}
	ErrConcurrentUpdate  = &Error{KindPrecondition, "concurrent_update", "record changed concurrently, re-read and retry"}

	ErrNotParticipant = &Error{KindValidation, "not_participant", "account is not a participant of this match"}
	ErrInvalidWinner  = &Error{KindValidation, "invalid_winner", "winner must be a participant of this match"}
)

func validationError(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Code: "validation_failed", Message: fmt.Sprintf(format, args...)}
}

// KindOf returns the Kind of err, or KindInternal for untyped errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// storeError maps persistence sentinels onto service errors. notFound is
// used for store.ErrNotFound so each call site names the missing entity.
func storeError(err error, notFound *Error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrNotFound) && notFound != nil:
		return notFound
	case errors.Is(err, store.ErrConflict):
		return fmt.Errorf("%w: %v", ErrConcurrentUpdate, err)
	case errors.Is(err, store.ErrDuplicateReference):
		return ErrDuplicateReference
	}
	return err
}
