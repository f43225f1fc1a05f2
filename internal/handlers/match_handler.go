package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/clutchstake/backend/internal/services"
)

type MatchHandler struct {
	escrow    *services.EscrowService
	validator *services.ValidationHelper
}

func NewMatchHandler(escrow *services.EscrowService) *MatchHandler {
	return &MatchHandler{
		escrow:    escrow,
		validator: services.NewValidationHelper(),
	}
}

// CreateMatch opens a match hosted by the caller
// @Summary Create Match
// @Description Open a match with a stake. Nothing is held until an opponent joins.
// @Tags Matches
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param Idempotency-Key header string false "Used as the match id source when matchId is omitted"
// @Param request body object{stakeAmount=int64,matchId=string} true "Match creation request"
// @Success 201 {object} object{match=models.Match}
// @Failure 400 {object} services.ErrorResponse
// @Failure 402 {object} services.ErrorResponse
// @Router /matches [post]
func (h *MatchHandler) CreateMatch(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	key, ok := idempotencyKey(w, r)
	if !ok {
		return
	}

	var req struct {
		StakeAmount int64  `json:"stakeAmount" validate:"required,gt=0"`
		MatchID     string `json:"matchId" validate:"omitempty,max=64"`
	}
	if !decodeBody(w, r, h.validator, &req) {
		return
	}

	matchID := req.MatchID
	if matchID == "" && key != "" {
		matchID = services.KeyedID(userID, key)
	}

	match, err := h.escrow.CreateMatch(r.Context(), userID, req.StakeAmount, matchID)
	if err != nil {
		services.SendServiceError(w, r, err)
		return
	}

	sendJSON(w, http.StatusCreated, map[string]any{
		"success": true,
		"match":   match,
	})
}

// GetMatch returns a match by id
// @Summary Get Match
// @Tags Matches
// @Produce json
// @Security BearerAuth
// @Param matchId path string true "Match ID"
// @Success 200 {object} object{match=models.Match}
// @Failure 404 {object} services.ErrorResponse
// @Router /matches/{matchId} [get]
func (h *MatchHandler) GetMatch(w http.ResponseWriter, r *http.Request) {
	match, err := h.escrow.GetMatch(r.Context(), chi.URLParam(r, "matchId"))
	if err != nil {
		services.SendServiceError(w, r, err)
		return
	}

	sendJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"match":   match,
	})
}

// JoinMatch takes the open slot and holds both stakes
// @Summary Join Match
// @Tags Matches
// @Produce json
// @Security BearerAuth
// @Param matchId path string true "Match ID"
// @Success 200 {object} object{match=models.Match}
// @Failure 402 {object} services.ErrorResponse
// @Failure 409 {object} services.ErrorResponse
// @Router /matches/{matchId}/join [post]
func (h *MatchHandler) JoinMatch(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	match, err := h.escrow.JoinMatch(r.Context(), chi.URLParam(r, "matchId"), userID)
	if err != nil {
		services.SendServiceError(w, r, err)
		return
	}

	sendJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"match":   match,
	})
}

// SubmitResult records the caller's reported winner
// @Summary Submit Result
// @Tags Matches
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param matchId path string true "Match ID"
// @Param request body object{winnerId=string,evidenceUrl=string} true "Result submission"
// @Success 200 {object} object{state=string}
// @Failure 400 {object} services.ErrorResponse
// @Failure 409 {object} services.ErrorResponse
// @Router /matches/{matchId}/results [post]
func (h *MatchHandler) SubmitResult(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req struct {
		WinnerID    string `json:"winnerId" validate:"required"`
		EvidenceURL string `json:"evidenceUrl" validate:"omitempty,url"`
	}
	if !decodeBody(w, r, h.validator, &req) {
		return
	}

	state, err := h.escrow.SubmitResult(r.Context(), chi.URLParam(r, "matchId"), userID, req.WinnerID, req.EvidenceURL)
	if err != nil {
		services.SendServiceError(w, r, err)
		return
	}

	sendJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"state":   state,
	})
}

// CancelMatch releases a match that has not produced a result
// @Summary Cancel Match
// @Tags Matches
// @Produce json
// @Security BearerAuth
// @Param matchId path string true "Match ID"
// @Success 200 {object} object{match=models.Match}
// @Failure 409 {object} services.ErrorResponse
// @Router /matches/{matchId}/cancel [post]
func (h *MatchHandler) CancelMatch(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	match, err := h.escrow.Cancel(r.Context(), chi.URLParam(r, "matchId"), userID)
	if err != nil {
		services.SendServiceError(w, r, err)
		return
	}

	sendJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"match":   match,
	})
}

// RaiseDispute contests a submitted result
// @Summary Raise Dispute
// @Tags Matches
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param matchId path string true "Match ID"
// @Param request body object{reason=string,evidenceUrl=string} true "Dispute request"
// @Success 201 {object} object{dispute=models.Dispute}
// @Failure 409 {object} services.ErrorResponse
// @Router /matches/{matchId}/disputes [post]
func (h *MatchHandler) RaiseDispute(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req struct {
		Reason      string `json:"reason" validate:"required,max=1000"`
		EvidenceURL string `json:"evidenceUrl" validate:"omitempty,url"`
	}
	if !decodeBody(w, r, h.validator, &req) {
		return
	}

	dispute, err := h.escrow.Dispute(r.Context(), chi.URLParam(r, "matchId"), userID, req.Reason, req.EvidenceURL)
	if err != nil {
		services.SendServiceError(w, r, err)
		return
	}

	sendJSON(w, http.StatusCreated, map[string]any{
		"success": true,
		"dispute": dispute,
	})
}

// SettleMatch pays out a match on a moderator's instruction
// @Summary Settle Match
// @Tags Moderation
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param matchId path string true "Match ID"
// @Param request body object{winnerId=string} true "Settlement request"
// @Success 200 {object} object{match=models.Match}
// @Failure 409 {object} services.ErrorResponse
// @Router /matches/{matchId}/settle [post]
func (h *MatchHandler) SettleMatch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		WinnerID string `json:"winnerId" validate:"required"`
	}
	if !decodeBody(w, r, h.validator, &req) {
		return
	}

	match, err := h.escrow.Settle(r.Context(), chi.URLParam(r, "matchId"), req.WinnerID)
	if err != nil {
		services.SendServiceError(w, r, err)
		return
	}

	sendJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"match":   match,
	})
}
