package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/optionsd/internal/domain"
	"github.com/alanyoungcy/optionsd/internal/service"
)

// DraftService is the slice of service.CreationService the handlers use.
type DraftService interface {
	CreateDraft(ctx context.Context) service.DraftState
	GetDraft(ctx context.Context, id string) (service.DraftState, error)
	UpdateDraft(ctx context.Context, id string, patch service.DraftPatch) (service.DraftState, error)
	CloseDraft(ctx context.Context, id string) (service.CloseResult, error)
	Submit(ctx context.Context, id string) (domain.CreationRequest, error)
	GetRequest(ctx context.Context, id string) (domain.CreationRequest, error)
	ListRequests(ctx context.Context, opts domain.ListOpts) ([]domain.CreationRequest, error)
}

// DraftHandler serves the market-creation draft endpoints.
type DraftHandler struct {
	drafts DraftService
	logger *slog.Logger
}

// NewDraftHandler creates a DraftHandler.
func NewDraftHandler(drafts DraftService, logger *slog.Logger) *DraftHandler {
	return &DraftHandler{drafts: drafts, logger: logHandler(logger, "drafts")}
}

// Create starts a new draft.
// POST /api/drafts
func (h *DraftHandler) Create(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusCreated, h.drafts.CreateDraft(r.Context()))
}

// Get returns a draft with its preview.
// GET /api/drafts/{id}
func (h *DraftHandler) Get(w http.ResponseWriter, r *http.Request) {
	st, err := h.drafts.GetDraft(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// Update applies field changes.
// PATCH /api/drafts/{id}
func (h *DraftHandler) Update(w http.ResponseWriter, r *http.Request) {
	var patch service.DraftPatch
	if err := decodeJSON(r, &patch); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	st, err := h.drafts.UpdateDraft(r.Context(), r.PathValue("id"), patch)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// Submit turns the draft into a creation request.
// POST /api/drafts/{id}/submit
func (h *DraftHandler) Submit(w http.ResponseWriter, r *http.Request) {
	req, err := h.drafts.Submit(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusAccepted, req)
}

// Close discards the draft and tells the client where to go next.
// DELETE /api/drafts/{id}
func (h *DraftHandler) Close(w http.ResponseWriter, r *http.Request) {
	res, err := h.drafts.CloseDraft(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// GetRequest returns a stored creation request.
// GET /api/creations/{id}
func (h *DraftHandler) GetRequest(w http.ResponseWriter, r *http.Request) {
	req, err := h.drafts.GetRequest(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

// ListRequests returns recent creation requests.
// GET /api/creations
func (h *DraftHandler) ListRequests(w http.ResponseWriter, r *http.Request) {
	reqs, err := h.drafts.ListRequests(r.Context(), parseListOpts(r))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	if reqs == nil {
		reqs = []domain.CreationRequest{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"requests": reqs})
}
