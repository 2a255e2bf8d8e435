package handler

import (
	"context"
	"net/http"

	"github.com/freeeve/westmarches-hexmap/internal/auth"
	"github.com/freeeve/westmarches-hexmap/internal/model"
	"github.com/freeeve/westmarches-hexmap/pkg/hexmap"
)

type poiService interface {
	Create(ctx context.Context, name, description string, trueCoord hexmap.Coord, playerKnown *hexmap.Coord, creatorID int64) (*model.PointOfInterest, error)
	ListAll(ctx context.Context) ([]model.PointOfInterest, error)
	ListKnown(ctx context.Context) ([]model.KnownPOI, error)
	VerifyLocation(ctx context.Context, id int64) (*model.PointOfInterest, error)
}

// POIHandler handles points of interest.
type POIHandler struct {
	pois poiService
}

// NewPOIHandler creates a POIHandler.
func NewPOIHandler(pois poiService) *POIHandler {
	return &POIHandler{pois: pois}
}

// ListKnown handles GET /api/v1/pois (player view).
func (h *POIHandler) ListKnown(w http.ResponseWriter, r *http.Request) {
	pois, err := h.pois.ListKnown(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, emptyIfNil(pois))
}

// ListAll handles GET /api/v1/pois/all (GM).
func (h *POIHandler) ListAll(w http.ResponseWriter, r *http.Request) {
	pois, err := h.pois.ListAll(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, emptyIfNil(pois))
}

// CreatePOI handles POST /api/v1/pois (GM).
func (h *POIHandler) CreatePOI(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name         string `json:"name"`
		Description  string `json:"description"`
		TrueQ        int    `json:"true_q"`
		TrueR        int    `json:"true_r"`
		PlayerKnownQ *int   `json:"player_known_q,omitempty"`
		PlayerKnownR *int   `json:"player_known_r,omitempty"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if (req.PlayerKnownQ == nil) != (req.PlayerKnownR == nil) {
		writeError(w, http.StatusBadRequest, "player_known_q and player_known_r must be given together")
		return
	}
	var known *hexmap.Coord
	if req.PlayerKnownQ != nil {
		known = &hexmap.Coord{Q: *req.PlayerKnownQ, R: *req.PlayerKnownR}
	}
	poi, err := h.pois.Create(r.Context(), req.Name, req.Description, hexmap.Coord{Q: req.TrueQ, R: req.TrueR}, known, auth.UserIDFromContext(r.Context()))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, poi)
}

// Verify handles POST /api/v1/pois/{id}/verify (GM).
func (h *POIHandler) Verify(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid poi id")
		return
	}
	poi, err := h.pois.VerifyLocation(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, poi)
}
