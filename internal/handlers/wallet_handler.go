package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/clutchstake/backend/internal/services"
)

type WalletHandler struct {
	wallet    *services.WalletService
	validator *services.ValidationHelper
}

func NewWalletHandler(wallet *services.WalletService) *WalletHandler {
	return &WalletHandler{
		wallet:    wallet,
		validator: services.NewValidationHelper(),
	}
}

// GetBalance returns the caller's available balance
// @Summary Get Balance
// @Tags Wallet
// @Produce json
// @Security BearerAuth
// @Success 200 {object} object{accountId=string,balance=int64}
// @Router /wallet [get]
func (h *WalletHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	balance, err := h.wallet.Balance(r.Context(), userID)
	if err != nil {
		services.SendServiceError(w, r, err)
		return
	}

	sendJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"accountId": userID,
		"balance":   balance,
	})
}

// ListEntries returns the caller's most recent ledger entries
// @Summary List Ledger Entries
// @Tags Wallet
// @Produce json
// @Security BearerAuth
// @Param limit query int false "Page size"
// @Success 200 {object} object{entries=[]models.LedgerEntry}
// @Router /wallet/entries [get]
func (h *WalletHandler) ListEntries(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	entries, err := h.wallet.Entries(r.Context(), userID, queryInt(r, "limit"))
	if err != nil {
		services.SendServiceError(w, r, err)
		return
	}

	sendJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"entries": entries,
	})
}

// RequestWithdrawal debits the caller and queues a payout for review
// @Summary Request Withdrawal
// @Tags Wallet
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param Idempotency-Key header string false "Retries with the same key return the original request"
// @Param request body object{amount=int64} true "Withdrawal request"
// @Success 201 {object} object{withdrawal=models.WithdrawalRequest}
// @Failure 402 {object} services.ErrorResponse
// @Router /wallet/withdrawals [post]
func (h *WalletHandler) RequestWithdrawal(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	key, ok := idempotencyKey(w, r)
	if !ok {
		return
	}

	var req struct {
		Amount int64 `json:"amount" validate:"required,gt=0"`
	}
	if !decodeBody(w, r, h.validator, &req) {
		return
	}

	withdrawal, err := h.wallet.RequestWithdrawal(r.Context(), userID, req.Amount, key)
	if err != nil {
		services.SendServiceError(w, r, err)
		return
	}

	sendJSON(w, http.StatusCreated, map[string]any{
		"success":    true,
		"withdrawal": withdrawal,
	})
}

// Deposit credits an account from a confirmed external payment
// @Summary Record Deposit
// @Tags Moderation
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body object{accountId=string,amount=int64,reference=string} true "Deposit"
// @Success 201 {object} object{entry=models.LedgerEntry}
// @Failure 409 {object} services.ErrorResponse
// @Router /wallet/deposits [post]
func (h *WalletHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AccountID string `json:"accountId" validate:"required"`
		Amount    int64  `json:"amount" validate:"required,gt=0"`
		Reference string `json:"reference" validate:"required,max=128"`
	}
	if !decodeBody(w, r, h.validator, &req) {
		return
	}

	entry, err := h.wallet.Deposit(r.Context(), req.AccountID, req.Amount, req.Reference)
	if err != nil {
		services.SendServiceError(w, r, err)
		return
	}

	sendJSON(w, http.StatusCreated, map[string]any{
		"success": true,
		"entry":   entry,
	})
}

// PendingWithdrawals lists requests awaiting review
// @Summary Pending Withdrawals
// @Tags Moderation
// @Produce json
// @Security BearerAuth
// @Param limit query int false "Page size"
// @Success 200 {object} object{withdrawals=[]models.WithdrawalRequest}
// @Router /withdrawals/pending [get]
func (h *WalletHandler) PendingWithdrawals(w http.ResponseWriter, r *http.Request) {
	requests, err := h.wallet.PendingWithdrawals(r.Context(), queryInt(r, "limit"))
	if err != nil {
		services.SendServiceError(w, r, err)
		return
	}

	sendJSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"withdrawals": requests,
	})
}

// ReviewWithdrawal approves or rejects a withdrawal request
// @Summary Review Withdrawal
// @Tags Moderation
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param requestId path string true "Withdrawal request ID"
// @Param request body object{approve=bool,note=string} true "Review decision"
// @Success 200 {object} object{withdrawal=models.WithdrawalRequest}
// @Failure 409 {object} services.ErrorResponse
// @Router /withdrawals/{requestId}/review [post]
func (h *WalletHandler) ReviewWithdrawal(w http.ResponseWriter, r *http.Request) {
	moderatorID, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req struct {
		Approve *bool  `json:"approve" validate:"required"`
		Note    string `json:"note" validate:"max=500"`
	}
	if !decodeBody(w, r, h.validator, &req) {
		return
	}

	withdrawal, err := h.wallet.ReviewWithdrawal(r.Context(), chi.URLParam(r, "requestId"), *req.Approve, moderatorID, req.Note)
	if err != nil {
		services.SendServiceError(w, r, err)
		return
	}

	sendJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"withdrawal": withdrawal,
	})
}
