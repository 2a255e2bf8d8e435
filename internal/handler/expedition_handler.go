package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/freeeve/westmarches-hexmap/internal/auth"
	"github.com/freeeve/westmarches-hexmap/internal/model"
	"github.com/freeeve/westmarches-hexmap/internal/service"
	"github.com/freeeve/westmarches-hexmap/pkg/hexmap"
)

type expeditionService interface {
	Create(ctx context.Context, name string, leaderID int64, start hexmap.Coord) (*model.Expedition, error)
	Get(ctx context.Context, expeditionID int64) (*model.Expedition, error)
	List(ctx context.Context, status string) ([]model.Expedition, error)
	ListForUser(ctx context.Context, userID int64) ([]model.Expedition, error)
	ActiveForUser(ctx context.Context, userID int64) (*model.Expedition, error)
	Members(ctx context.Context, expeditionID int64) ([]model.ExpeditionMember, error)
	Hexes(ctx context.Context, expeditionID int64) ([]model.ExpeditionHex, error)
	Join(ctx context.Context, expeditionID, userID int64) (*model.ExpeditionMember, error)
	Leave(ctx context.Context, expeditionID, userID int64, push bool) (*model.ExpeditionMember, *model.MergeResult, error)
	PushToTownMap(ctx context.Context, expeditionID, userID int64) (*model.MergeResult, error)
	ReassignLeader(ctx context.Context, expeditionID, newLeaderID, requesterID int64) (*model.Expedition, error)
	RecordExploration(ctx context.Context, expeditionID, userID int64, believed, actual hexmap.Coord, terrain hexmap.Terrain, notes string) (*model.ExpeditionHex, error)
	IsLost(ctx context.Context, expeditionID int64) (bool, error)
	CorrectPosition(ctx context.Context, expeditionID int64, actual hexmap.Coord) (*model.Expedition, error)
	Complete(ctx context.Context, expeditionID, requesterID int64) (*model.Expedition, error)
	End(ctx context.Context, expeditionID int64) (*model.Expedition, error)
	Archive(ctx context.Context, expeditionID int64) (*model.Expedition, error)
}

type submissionService interface {
	Submit(ctx context.Context, expeditionID, submitterID int64) (*model.Submission, error)
	SubmitOnBehalf(ctx context.Context, expeditionID, adminID int64) (*model.Submission, error)
	Get(ctx context.Context, expeditionID int64) (*model.Submission, error)
}

// ExpeditionHandler handles expedition lifecycle and submission endpoints.
type ExpeditionHandler struct {
	expeditions expeditionService
	submissions submissionService
}

// NewExpeditionHandler creates an ExpeditionHandler.
func NewExpeditionHandler(expeditions expeditionService, submissions submissionService) *ExpeditionHandler {
	return &ExpeditionHandler{expeditions: expeditions, submissions: submissions}
}

// expeditionID parses {id}, writing a 400 on failure.
func expeditionID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid expedition id")
	}
	return id, ok
}

// CreateExpedition handles POST /api/v1/expeditions
func (h *ExpeditionHandler) CreateExpedition(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())
	var req struct {
		Name   string `json:"name"`
		StartQ int    `json:"start_q"`
		StartR int    `json:"start_r"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	exp, err := h.expeditions.Create(r.Context(), req.Name, userID, hexmap.Coord{Q: req.StartQ, R: req.StartR})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, exp)
}

// ListExpeditions handles GET /api/v1/expeditions[?status=]
func (h *ExpeditionHandler) ListExpeditions(w http.ResponseWriter, r *http.Request) {
	exps, err := h.expeditions.List(r.Context(), r.URL.Query().Get("status"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, emptyIfNil(exps))
}

// ListMine handles GET /api/v1/expeditions/mine
func (h *ExpeditionHandler) ListMine(w http.ResponseWriter, r *http.Request) {
	exps, err := h.expeditions.ListForUser(r.Context(), auth.UserIDFromContext(r.Context()))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, emptyIfNil(exps))
}

// Active handles GET /api/v1/expeditions/active
func (h *ExpeditionHandler) Active(w http.ResponseWriter, r *http.Request) {
	exp, err := h.expeditions.ActiveForUser(r.Context(), auth.UserIDFromContext(r.Context()))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, exp)
}

// GetExpedition handles GET /api/v1/expeditions/{id}
func (h *ExpeditionHandler) GetExpedition(w http.ResponseWriter, r *http.Request) {
	id, ok := expeditionID(w, r)
	if !ok {
		return
	}
	exp, err := h.expeditions.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, exp)
}

// Members handles GET /api/v1/expeditions/{id}/members
func (h *ExpeditionHandler) Members(w http.ResponseWriter, r *http.Request) {
	id, ok := expeditionID(w, r)
	if !ok {
		return
	}
	members, err := h.expeditions.Members(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, emptyIfNil(members))
}

// Map handles GET /api/v1/expeditions/{id}/map. Only members, past or
// present, and GMs can read a party's private map.
func (h *ExpeditionHandler) Map(w http.ResponseWriter, r *http.Request) {
	id, ok := expeditionID(w, r)
	if !ok {
		return
	}
	if !isGM(r.Context()) {
		members, err := h.expeditions.Members(r.Context(), id)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		if !hasMember(members, auth.UserIDFromContext(r.Context())) {
			writeError(w, http.StatusForbidden, "not a member of this expedition")
			return
		}
	}
	hexes, err := h.expeditions.Hexes(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, emptyIfNil(hexes))
}

func hasMember(members []model.ExpeditionMember, userID int64) bool {
	for _, m := range members {
		if m.UserID == userID {
			return true
		}
	}
	return false
}

// Join handles POST /api/v1/expeditions/{id}/join
func (h *ExpeditionHandler) Join(w http.ResponseWriter, r *http.Request) {
	id, ok := expeditionID(w, r)
	if !ok {
		return
	}
	member, err := h.expeditions.Join(r.Context(), id, auth.UserIDFromContext(r.Context()))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, member)
}

// Leave handles POST /api/v1/expeditions/{id}/leave. The body is optional;
// {"push": true} merges the member's map into the Town Map on the way out.
func (h *ExpeditionHandler) Leave(w http.ResponseWriter, r *http.Request) {
	id, ok := expeditionID(w, r)
	if !ok {
		return
	}
	var req struct {
		Push bool `json:"push"`
	}
	if r.ContentLength > 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	member, result, err := h.expeditions.Leave(r.Context(), id, auth.UserIDFromContext(r.Context()), req.Push)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"member": member,
		"merge":  result,
	})
}

// Push handles POST /api/v1/expeditions/{id}/push
func (h *ExpeditionHandler) Push(w http.ResponseWriter, r *http.Request) {
	id, ok := expeditionID(w, r)
	if !ok {
		return
	}
	result, err := h.expeditions.PushToTownMap(r.Context(), id, auth.UserIDFromContext(r.Context()))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// ReassignLeader handles POST /api/v1/expeditions/{id}/leader
func (h *ExpeditionHandler) ReassignLeader(w http.ResponseWriter, r *http.Request) {
	id, ok := expeditionID(w, r)
	if !ok {
		return
	}
	var req struct {
		UserID int64 `json:"user_id"`
	}
	if err := decodeJSON(r, &req); err != nil || req.UserID <= 0 {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	exp, err := h.expeditions.ReassignLeader(r.Context(), id, req.UserID, auth.UserIDFromContext(r.Context()))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, exp)
}

// Explore handles POST /api/v1/expeditions/{id}/explore. When the actual
// position is omitted the party is taken to be where it believes it is.
func (h *ExpeditionHandler) Explore(w http.ResponseWriter, r *http.Request) {
	id, ok := expeditionID(w, r)
	if !ok {
		return
	}
	var req struct {
		BelievedQ int    `json:"believed_q"`
		BelievedR int    `json:"believed_r"`
		ActualQ   *int   `json:"actual_q,omitempty"`
		ActualR   *int   `json:"actual_r,omitempty"`
		Terrain   string `json:"terrain"`
		Notes     string `json:"notes"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	terrain, err := hexmap.ParseTerrain(req.Terrain)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if (req.ActualQ == nil) != (req.ActualR == nil) {
		writeError(w, http.StatusBadRequest, "actual_q and actual_r must be given together")
		return
	}
	believed := hexmap.Coord{Q: req.BelievedQ, R: req.BelievedR}
	actual := believed
	if req.ActualQ != nil {
		actual = hexmap.Coord{Q: *req.ActualQ, R: *req.ActualR}
	}

	hex, err := h.expeditions.RecordExploration(r.Context(), id, auth.UserIDFromContext(r.Context()), believed, actual, terrain, req.Notes)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, hex)
}

// Lost handles GET /api/v1/expeditions/{id}/lost
func (h *ExpeditionHandler) Lost(w http.ResponseWriter, r *http.Request) {
	id, ok := expeditionID(w, r)
	if !ok {
		return
	}
	lost, err := h.expeditions.IsLost(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"lost": lost})
}

// CorrectPosition handles POST /api/v1/expeditions/{id}/position (GM).
func (h *ExpeditionHandler) CorrectPosition(w http.ResponseWriter, r *http.Request) {
	id, ok := expeditionID(w, r)
	if !ok {
		return
	}
	var req struct {
		Q int `json:"q"`
		R int `json:"r"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	exp, err := h.expeditions.CorrectPosition(r.Context(), id, hexmap.Coord{Q: req.Q, R: req.R})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, exp)
}

// Complete handles POST /api/v1/expeditions/{id}/complete
func (h *ExpeditionHandler) Complete(w http.ResponseWriter, r *http.Request) {
	id, ok := expeditionID(w, r)
	if !ok {
		return
	}
	exp, err := h.expeditions.Complete(r.Context(), id, auth.UserIDFromContext(r.Context()))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, exp)
}

// End handles POST /api/v1/expeditions/{id}/end (admin force-complete).
func (h *ExpeditionHandler) End(w http.ResponseWriter, r *http.Request) {
	id, ok := expeditionID(w, r)
	if !ok {
		return
	}
	exp, err := h.expeditions.End(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, exp)
}

// Archive handles POST /api/v1/expeditions/{id}/archive (admin).
func (h *ExpeditionHandler) Archive(w http.ResponseWriter, r *http.Request) {
	id, ok := expeditionID(w, r)
	if !ok {
		return
	}
	exp, err := h.expeditions.Archive(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, exp)
}

// Submit handles POST /api/v1/expeditions/{id}/submit. Admins may submit on
// the leader's behalf.
func (h *ExpeditionHandler) Submit(w http.ResponseWriter, r *http.Request) {
	id, ok := expeditionID(w, r)
	if !ok {
		return
	}
	userID := auth.UserIDFromContext(r.Context())

	var (
		sub *model.Submission
		err error
	)
	sub, err = h.submissions.Submit(r.Context(), id, userID)
	if errors.Is(err, service.ErrNotLeader) && auth.HasRole(r.Context(), model.RoleAdmin) {
		sub, err = h.submissions.SubmitOnBehalf(r.Context(), id, userID)
	}
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sub)
}

// Submission handles GET /api/v1/expeditions/{id}/submission
func (h *ExpeditionHandler) Submission(w http.ResponseWriter, r *http.Request) {
	id, ok := expeditionID(w, r)
	if !ok {
		return
	}
	sub, err := h.submissions.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}
