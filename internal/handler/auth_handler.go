package handler

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/freeeve/westmarches-hexmap/internal/auth"
	"github.com/freeeve/westmarches-hexmap/internal/model"
	"github.com/freeeve/westmarches-hexmap/internal/repository"
)

const stateCookie = "oauth_state"

// identityProvider is the OAuth2 side of sign-in.
type identityProvider interface {
	LoginURL(state string) string
	Exchange(ctx context.Context, code string) (*auth.Profile, error)
	Name() string
}

// AuthHandler handles OAuth2 login flows and token refresh.
type AuthHandler struct {
	provider identityProvider
	jwtMgr   *auth.JWTManager
	userRepo repository.UserRepository
	devMode  bool
}

// NewAuthHandler creates an AuthHandler. devMode enables the dev login route.
func NewAuthHandler(provider identityProvider, jwtMgr *auth.JWTManager, userRepo repository.UserRepository, devMode bool) *AuthHandler {
	return &AuthHandler{provider: provider, jwtMgr: jwtMgr, userRepo: userRepo, devMode: devMode}
}

// GoogleLogin redirects to the provider's consent screen.
func (h *AuthHandler) GoogleLogin(w http.ResponseWriter, r *http.Request) {
	state := randomState()
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookie,
		Value:    state,
		Path:     "/auth",
		MaxAge:   int((10 * time.Minute).Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   r.TLS != nil,
	})
	http.Redirect(w, r, h.provider.LoginURL(state), http.StatusTemporaryRedirect)
}

// GoogleCallback handles the OAuth2 callback. New accounts start as players;
// existing accounts keep the roles they were granted.
func (h *AuthHandler) GoogleCallback(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(stateCookie)
	if err != nil || cookie.Value == "" || cookie.Value != r.URL.Query().Get("state") {
		writeError(w, http.StatusBadRequest, "invalid oauth state")
		return
	}
	http.SetCookie(w, &http.Cookie{Name: stateCookie, Path: "/auth", MaxAge: -1})

	code := r.URL.Query().Get("code")
	if code == "" {
		writeError(w, http.StatusBadRequest, "missing code parameter")
		return
	}

	info, err := h.provider.Exchange(r.Context(), code)
	if err != nil {
		log.Warn().Err(err).Str("provider", h.provider.Name()).Msg("OAuth exchange failed")
		writeError(w, http.StatusUnauthorized, "oauth exchange failed")
		return
	}

	user, err := h.upsertKeepingRoles(r.Context(), h.provider.Name(), info.ID, info.Name)
	if err != nil {
		log.Error().Err(err).Str("provider", h.provider.Name()).Msg("Failed to upsert user")
		writeError(w, http.StatusInternalServerError, "failed to create user")
		return
	}
	h.writeTokens(w, user)
}

// RefreshToken exchanges a refresh token for a new token pair. Roles are
// reloaded so grants and revocations take effect on refresh.
func (h *AuthHandler) RefreshToken(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	claims, err := h.jwtMgr.ValidateRefreshToken(req.RefreshToken)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid refresh token")
		return
	}

	user, err := h.userRepo.FindByID(r.Context(), claims.UserID)
	if err != nil {
		log.Error().Err(err).Int64("userId", claims.UserID).Msg("Failed to load user for refresh")
		writeError(w, http.StatusInternalServerError, "failed to load user")
		return
	}
	if user == nil {
		writeError(w, http.StatusUnauthorized, "invalid refresh token")
		return
	}
	h.writeTokens(w, user)
}

// DevLogin creates or updates a test user and returns a JWT token pair.
// ?roles=gm,admin sets the user's roles. Only available in dev mode.
func (h *AuthHandler) DevLogin(w http.ResponseWriter, r *http.Request) {
	if !h.devMode {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	name := r.URL.Query().Get("name")
	if name == "" {
		writeError(w, http.StatusBadRequest, "missing name parameter")
		return
	}
	roles, ok := parseRoles(r.URL.Query().Get("roles"))
	if !ok {
		writeError(w, http.StatusBadRequest, "roles must be player, gm or admin")
		return
	}

	user, err := h.userRepo.Upsert(r.Context(), "dev", "dev-"+name, name, roles)
	if err != nil {
		log.Error().Err(err).Str("name", name).Msg("Failed to upsert dev user")
		writeError(w, http.StatusInternalServerError, "failed to create user")
		return
	}
	h.writeTokens(w, user)
}

func (h *AuthHandler) upsertKeepingRoles(ctx context.Context, provider, providerID, name string) (*model.User, error) {
	existing, err := h.userRepo.FindByProviderID(ctx, provider, providerID)
	if err != nil {
		return nil, err
	}
	var roles []string
	if existing != nil {
		roles = existing.Roles
	}
	if len(roles) == 0 {
		roles = []string{model.RolePlayer}
	}
	return h.userRepo.Upsert(ctx, provider, providerID, name, roles)
}

func (h *AuthHandler) writeTokens(w http.ResponseWriter, user *model.User) {
	tokens, err := h.jwtMgr.GenerateTokenPair(user.ID, user.Roles)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to generate tokens")
		return
	}
	writeJSON(w, http.StatusOK, tokens)
}

// parseRoles parses a comma separated role list. Empty means player.
func parseRoles(s string) ([]string, bool) {
	if strings.TrimSpace(s) == "" {
		return []string{model.RolePlayer}, true
	}
	var roles []string
	for _, part := range strings.Split(s, ",") {
		role := strings.ToLower(strings.TrimSpace(part))
		switch role {
		case model.RolePlayer, model.RoleGM, model.RoleAdmin:
			roles = append(roles, role)
		case "":
		default:
			return nil, false
		}
	}
	if len(roles) == 0 {
		return []string{model.RolePlayer}, true
	}
	return roles, true
}

func randomState() string {
	b := make([]byte, 16)
	rand.Read(b)
	return hex.EncodeToString(b)
}
