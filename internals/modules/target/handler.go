package target

import (
	"context"
	"encoding/json"
	"net/http"
	"watchpost/pkg/apperror"
	"watchpost/pkg/utils"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// Notifier triggers a forced alert run for one target, used by operators to
// verify the mail path end to end.
type Notifier interface {
	Force(ctx context.Context, targetID uuid.UUID) error
}

type Handler struct {
	repo      *Repository
	notifier  Notifier
	validator *validator.Validate
}

func NewHandler(repo *Repository, notifier Notifier, validator *validator.Validate) *Handler {
	return &Handler{
		repo:      repo,
		notifier:  notifier,
		validator: validator,
	}
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	reqID := middleware.GetReqID(ctx)

	var req CreateTargetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.WriteError(w, http.StatusBadRequest, reqID, apperror.InvalidInput, "")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		utils.WriteError(w, http.StatusBadRequest, reqID, apperror.InvalidInput, "")
		return
	}

	ownerID, err := uuid.Parse(req.OwnerID)
	if err != nil {
		utils.WriteError(w, http.StatusBadRequest, reqID, apperror.InvalidInput, "invalid owner id")
		return
	}

	id, err := h.repo.Create(ctx, CreateTargetCmd{
		OwnerID:     ownerID,
		URL:         req.URL,
		AlertEmail:  req.AlertEmail,
		CooldownMin: req.CooldownMin,
		AlertAfter:  req.AlertAfter,
	})
	if err != nil {
		utils.FromAppError(w, reqID, err)
		return
	}

	utils.WriteJSON(w, http.StatusCreated, reqID, "target created", id)
}

func (h *Handler) SetEnabled(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	reqID := middleware.GetReqID(ctx)

	targetID, err := uuid.Parse(chi.URLParam(r, "targetID"))
	if err != nil {
		utils.WriteError(w, http.StatusBadRequest, reqID, apperror.InvalidInput, "invalid target id")
		return
	}

	var req SetEnabledRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.WriteError(w, http.StatusBadRequest, reqID, apperror.InvalidInput, "")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		utils.WriteError(w, http.StatusBadRequest, reqID, apperror.InvalidInput, "")
		return
	}

	updated, err := h.repo.SetEnabled(ctx, targetID, *req.Enabled)
	if err != nil {
		utils.FromAppError(w, reqID, err)
		return
	}
	if !updated {
		utils.WriteError(w, http.StatusNotFound, reqID, apperror.NotFound, "target not found")
		return
	}

	utils.WriteJSON(w, http.StatusOK, reqID, "target updated", *req.Enabled)
}

// ForceNotify runs the notification throttle for a target regardless of its
// recent tick history.
func (h *Handler) ForceNotify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	reqID := middleware.GetReqID(ctx)

	targetID, err := uuid.Parse(chi.URLParam(r, "targetID"))
	if err != nil {
		utils.WriteError(w, http.StatusBadRequest, reqID, apperror.InvalidInput, "invalid target id")
		return
	}

	if err := h.notifier.Force(ctx, targetID); err != nil {
		utils.FromAppError(w, reqID, err)
		return
	}

	utils.WriteJSON(w, http.StatusOK, reqID, "notification forced", targetID)
}
