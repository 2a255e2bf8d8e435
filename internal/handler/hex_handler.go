package handler

import (
	"context"
	"net/http"

	"github.com/freeeve/westmarches-hexmap/internal/auth"
	"github.com/freeeve/westmarches-hexmap/internal/model"
	"github.com/freeeve/westmarches-hexmap/pkg/hexmap"
)

type hexMapService interface {
	Get(ctx context.Context, c hexmap.Coord) (*model.Hex, error)
	Create(ctx context.Context, c hexmap.Coord, terrain hexmap.Terrain, notes string) (*model.Hex, error)
	Update(ctx context.Context, c hexmap.Coord, terrain hexmap.Terrain, notes string) (*model.Hex, error)
	Delete(ctx context.Context, c hexmap.Coord) error
	MarkPublic(ctx context.Context, c hexmap.Coord) (*model.Hex, error)
	ListGM(ctx context.Context) ([]model.Hex, error)
	ListPublic(ctx context.Context) ([]model.Hex, error)
	Neighbors(ctx context.Context, c hexmap.Coord) ([]model.Hex, error)
	Distance(a, b hexmap.Coord) int
	GenerateBorder(ctx context.Context, center hexmap.Coord, distance int, seed int64) ([]model.Hex, error)
	GenerateHex(ctx context.Context, c hexmap.Coord, seed int64) (*model.Hex, error)
}

// HexHandler handles GM map endpoints. The GM map holds terrain truth, so
// every read is limited to GMs and admins; players see the Town Map instead.
type HexHandler struct {
	hexes hexMapService
}

// NewHexHandler creates a HexHandler.
func NewHexHandler(hexes hexMapService) *HexHandler {
	return &HexHandler{hexes: hexes}
}

func isGM(ctx context.Context) bool {
	return auth.HasRole(ctx, model.RoleGM, model.RoleAdmin)
}

// requireGM writes 403 and reports false unless the caller is a GM or admin.
func requireGM(w http.ResponseWriter, r *http.Request) bool {
	if !isGM(r.Context()) {
		writeError(w, http.StatusForbidden, "insufficient role")
		return false
	}
	return true
}

// GetHex handles GET /api/v1/hexes/{q}/{r}
func (h *HexHandler) GetHex(w http.ResponseWriter, r *http.Request) {
	if !requireGM(w, r) {
		return
	}
	c, ok := pathCoord(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid coordinate")
		return
	}
	hex, err := h.hexes.Get(r.Context(), c)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, hex)
}

// ListHexes handles GET /api/v1/hexes. With ?public=true only hexes revealed
// on the Town Map are listed.
func (h *HexHandler) ListHexes(w http.ResponseWriter, r *http.Request) {
	if !requireGM(w, r) {
		return
	}
	var (
		hexes []model.Hex
		err   error
	)
	if r.URL.Query().Get("public") == "true" {
		hexes, err = h.hexes.ListPublic(r.Context())
	} else {
		hexes, err = h.hexes.ListGM(r.Context())
	}
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, emptyIfNil(hexes))
}

type hexRequest struct {
	Q       int    `json:"q"`
	R       int    `json:"r"`
	Terrain string `json:"terrain"`
	Notes   string `json:"notes"`
}

// CreateHex handles POST /api/v1/hexes
func (h *HexHandler) CreateHex(w http.ResponseWriter, r *http.Request) {
	var req hexRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	terrain, err := hexmap.ParseTerrain(req.Terrain)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	hex, err := h.hexes.Create(r.Context(), hexmap.Coord{Q: req.Q, R: req.R}, terrain, req.Notes)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, hex)
}

// UpdateHex handles PUT /api/v1/hexes/{q}/{r}
func (h *HexHandler) UpdateHex(w http.ResponseWriter, r *http.Request) {
	c, ok := pathCoord(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid coordinate")
		return
	}
	var req hexRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	terrain, err := hexmap.ParseTerrain(req.Terrain)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	hex, err := h.hexes.Update(r.Context(), c, terrain, req.Notes)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, hex)
}

// DeleteHex handles DELETE /api/v1/hexes/{q}/{r}
func (h *HexHandler) DeleteHex(w http.ResponseWriter, r *http.Request) {
	c, ok := pathCoord(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid coordinate")
		return
	}
	if err := h.hexes.Delete(r.Context(), c); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// MarkPublic handles POST /api/v1/hexes/{q}/{r}/public
func (h *HexHandler) MarkPublic(w http.ResponseWriter, r *http.Request) {
	c, ok := pathCoord(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid coordinate")
		return
	}
	hex, err := h.hexes.MarkPublic(r.Context(), c)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, hex)
}

// Neighbors handles GET /api/v1/hexes/{q}/{r}/neighbors
func (h *HexHandler) Neighbors(w http.ResponseWriter, r *http.Request) {
	if !requireGM(w, r) {
		return
	}
	c, ok := pathCoord(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid coordinate")
		return
	}
	hexes, err := h.hexes.Neighbors(r.Context(), c)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, emptyIfNil(hexes))
}

// Distance handles GET /api/v1/hexes/distance?from=q,r&to=q,r
func (h *HexHandler) Distance(w http.ResponseWriter, r *http.Request) {
	from, err := hexmap.ParseCoord(r.URL.Query().Get("from"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "from: "+err.Error())
		return
	}
	to, err := hexmap.ParseCoord(r.URL.Query().Get("to"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "to: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"distance": h.hexes.Distance(from, to)})
}

// GenerateBorder handles POST /api/v1/hexes/generate-border
func (h *HexHandler) GenerateBorder(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Q        int   `json:"q"`
		R        int   `json:"r"`
		Distance int   `json:"distance"`
		Seed     int64 `json:"seed,omitempty"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	created, err := h.hexes.GenerateBorder(r.Context(), hexmap.Coord{Q: req.Q, R: req.R}, req.Distance, req.Seed)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"created": len(created),
		"hexes":   emptyIfNil(created),
	})
}

// GenerateHex handles POST /api/v1/hexes/{q}/{r}/generate. The body is optional.
func (h *HexHandler) GenerateHex(w http.ResponseWriter, r *http.Request) {
	c, ok := pathCoord(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid coordinate")
		return
	}
	var req struct {
		Seed int64 `json:"seed,omitempty"`
	}
	if r.ContentLength > 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	hex, err := h.hexes.GenerateHex(r.Context(), c, req.Seed)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, hex)
}
