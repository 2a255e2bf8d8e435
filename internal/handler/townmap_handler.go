package handler

import (
	"context"
	"net/http"

	"github.com/freeeve/westmarches-hexmap/internal/model"
	"github.com/freeeve/westmarches-hexmap/pkg/hexmap"
)

type townMapService interface {
	GetTownMap(ctx context.Context) ([]model.TownMapHex, error)
	GetTownHex(ctx context.Context, c hexmap.Coord) (*model.TownMapHex, error)
	History(ctx context.Context, c hexmap.Coord) ([]model.DiscoveryEntry, error)
	ListDisputed(ctx context.Context) ([]model.TownMapHex, error)
}

// TownMapHandler serves the community Town Map.
type TownMapHandler struct {
	town townMapService
}

// NewTownMapHandler creates a TownMapHandler.
func NewTownMapHandler(town townMapService) *TownMapHandler {
	return &TownMapHandler{town: town}
}

// GetTownMap handles GET /api/v1/town-map
func (h *TownMapHandler) GetTownMap(w http.ResponseWriter, r *http.Request) {
	hexes, err := h.town.GetTownMap(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, emptyIfNil(hexes))
}

// GetTownHex handles GET /api/v1/town-map/{q}/{r}
func (h *TownMapHandler) GetTownHex(w http.ResponseWriter, r *http.Request) {
	c, ok := pathCoord(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid coordinate")
		return
	}
	hex, err := h.town.GetTownHex(r.Context(), c)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, hex)
}

// History handles GET /api/v1/town-map/{q}/{r}/history
func (h *TownMapHandler) History(w http.ResponseWriter, r *http.Request) {
	c, ok := pathCoord(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid coordinate")
		return
	}
	entries, err := h.town.History(r.Context(), c)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, emptyIfNil(entries))
}

// Disputed handles GET /api/v1/town-map/disputed
func (h *TownMapHandler) Disputed(w http.ResponseWriter, r *http.Request) {
	hexes, err := h.town.ListDisputed(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, emptyIfNil(hexes))
}
