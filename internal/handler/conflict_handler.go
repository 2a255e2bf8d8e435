package handler

import (
	"context"
	"net/http"

	"github.com/freeeve/westmarches-hexmap/internal/auth"
	"github.com/freeeve/westmarches-hexmap/internal/model"
)

type conflictService interface {
	Get(ctx context.Context, conflictID int64) (*model.Conflict, error)
	ListOpen(ctx context.Context) ([]model.Conflict, error)
	Vote(ctx context.Context, conflictID, playerID int64, voteForNew bool, comment string) (*model.ConflictVote, error)
	Tally(ctx context.Context, conflictID int64) (*model.VoteTally, error)
	Resolve(ctx context.Context, conflictID int64, resolution, notes string, resolverID int64) (*model.Conflict, error)
}

// ConflictHandler handles conflict voting and resolution endpoints.
type ConflictHandler struct {
	conflicts conflictService
}

// NewConflictHandler creates a ConflictHandler.
func NewConflictHandler(conflicts conflictService) *ConflictHandler {
	return &ConflictHandler{conflicts: conflicts}
}

func conflictID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid conflict id")
	}
	return id, ok
}

// ListOpen handles GET /api/v1/conflicts
func (h *ConflictHandler) ListOpen(w http.ResponseWriter, r *http.Request) {
	conflicts, err := h.conflicts.ListOpen(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, emptyIfNil(conflicts))
}

// GetConflict handles GET /api/v1/conflicts/{id}
func (h *ConflictHandler) GetConflict(w http.ResponseWriter, r *http.Request) {
	id, ok := conflictID(w, r)
	if !ok {
		return
	}
	c, err := h.conflicts.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// Vote handles POST /api/v1/conflicts/{id}/votes
func (h *ConflictHandler) Vote(w http.ResponseWriter, r *http.Request) {
	id, ok := conflictID(w, r)
	if !ok {
		return
	}
	var req struct {
		VoteForNew *bool  `json:"vote_for_new"`
		Comment    string `json:"comment"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.VoteForNew == nil {
		writeError(w, http.StatusBadRequest, "vote_for_new is required")
		return
	}
	vote, err := h.conflicts.Vote(r.Context(), id, auth.UserIDFromContext(r.Context()), *req.VoteForNew, req.Comment)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, vote)
}

// Tally handles GET /api/v1/conflicts/{id}/tally
func (h *ConflictHandler) Tally(w http.ResponseWriter, r *http.Request) {
	id, ok := conflictID(w, r)
	if !ok {
		return
	}
	tally, err := h.conflicts.Tally(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tally)
}

// Resolve handles POST /api/v1/conflicts/{id}/resolve (GM or admin).
func (h *ConflictHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	id, ok := conflictID(w, r)
	if !ok {
		return
	}
	var req struct {
		Resolution string `json:"resolution"`
		Notes      string `json:"notes"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	c, err := h.conflicts.Resolve(r.Context(), id, req.Resolution, req.Notes, auth.UserIDFromContext(r.Context()))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}
