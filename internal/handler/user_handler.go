package handler

import (
	"net/http"

	"github.com/freeeve/westmarches-hexmap/internal/auth"
	"github.com/freeeve/westmarches-hexmap/internal/repository"
	"github.com/freeeve/westmarches-hexmap/internal/service"
)

// UserHandler handles user directory lookups.
type UserHandler struct {
	userRepo repository.UserRepository
}

// NewUserHandler creates a UserHandler.
func NewUserHandler(userRepo repository.UserRepository) *UserHandler {
	return &UserHandler{userRepo: userRepo}
}

// GetMe handles GET /api/v1/users/me
func (h *UserHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	h.writeUser(w, r, auth.UserIDFromContext(r.Context()))
}

// GetUser handles GET /api/v1/users/{id}
func (h *UserHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}
	h.writeUser(w, r, id)
}

func (h *UserHandler) writeUser(w http.ResponseWriter, r *http.Request, id int64) {
	user, err := h.userRepo.FindByID(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if user == nil {
		writeServiceError(w, r, service.ErrUserNotFound)
		return
	}
	writeJSON(w, http.StatusOK, user)
}
