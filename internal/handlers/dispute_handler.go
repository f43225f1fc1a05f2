package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/clutchstake/backend/internal/models"
	"github.com/clutchstake/backend/internal/services"
)

type DisputeHandler struct {
	disputes  *services.DisputeService
	validator *services.ValidationHelper
}

func NewDisputeHandler(disputes *services.DisputeService) *DisputeHandler {
	return &DisputeHandler{
		disputes:  disputes,
		validator: services.NewValidationHelper(),
	}
}

// ListOpen returns a page of open disputes
// @Summary List Open Disputes
// @Tags Moderation
// @Produce json
// @Security BearerAuth
// @Param cursor query string false "Last dispute id of the previous page"
// @Param limit query int false "Page size"
// @Success 200 {object} object{disputes=[]models.Dispute,nextCursor=string}
// @Router /disputes [get]
func (h *DisputeHandler) ListOpen(w http.ResponseWriter, r *http.Request) {
	page, next, err := h.disputes.ListOpen(r.Context(), r.URL.Query().Get("cursor"), queryInt(r, "limit"))
	if err != nil {
		services.SendServiceError(w, r, err)
		return
	}
	if page == nil {
		page = []models.Dispute{}
	}

	sendJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"disputes":   page,
		"nextCursor": next,
	})
}

// GetDispute returns a dispute by id
// @Summary Get Dispute
// @Tags Moderation
// @Produce json
// @Security BearerAuth
// @Param disputeId path string true "Dispute ID"
// @Success 200 {object} object{dispute=models.Dispute}
// @Failure 404 {object} services.ErrorResponse
// @Router /disputes/{disputeId} [get]
func (h *DisputeHandler) GetDispute(w http.ResponseWriter, r *http.Request) {
	dispute, err := h.disputes.Get(r.Context(), chi.URLParam(r, "disputeId"))
	if err != nil {
		services.SendServiceError(w, r, err)
		return
	}

	sendJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"dispute": dispute,
	})
}

// Resolve applies a moderator decision to a dispute
// @Summary Resolve Dispute
// @Tags Moderation
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param disputeId path string true "Dispute ID"
// @Param request body object{winnerId=string,refund=bool,notes=string} true "Decision"
// @Success 200 {object} object{dispute=models.Dispute}
// @Failure 409 {object} object{error=string,code=string,dispute=models.Dispute}
// @Router /disputes/{disputeId}/resolve [post]
func (h *DisputeHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	moderatorID, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req struct {
		WinnerID string `json:"winnerId" validate:"required_without=Refund,excluded_with=Refund"`
		Refund   bool   `json:"refund"`
		Notes    string `json:"notes" validate:"max=2000"`
	}
	if !decodeBody(w, r, h.validator, &req) {
		return
	}

	decision := models.Decision{WinnerID: req.WinnerID, Refund: req.Refund}
	dispute, err := h.disputes.Resolve(r.Context(), chi.URLParam(r, "disputeId"), decision, req.Notes, moderatorID)
	if errors.Is(err, services.ErrAlreadyResolved) && dispute != nil {
		sendJSON(w, http.StatusConflict, map[string]any{
			"error":   services.ErrAlreadyResolved.Message,
			"code":    services.ErrAlreadyResolved.Code,
			"dispute": dispute,
		})
		return
	}
	if err != nil {
		services.SendServiceError(w, r, err)
		return
	}

	sendJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"dispute": dispute,
	})
}
