package auth

import (
	"context"
	"net/http"
	"strings"
)

type contextKey string

const identityKey contextKey = "identity"

// Identity is the authenticated caller attached to a request context.
type Identity struct {
	UserID int64
	Roles  []string
}

// Middleware returns an HTTP middleware that validates JWT access tokens.
// Extracts the token from the Authorization header (Bearer scheme)
// and stores the caller identity in the request context.
func Middleware(jwtMgr *JWTManager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				http.Error(w, `{"error":"missing authorization header"}`, http.StatusUnauthorized)
				return
			}

			parts := strings.SplitN(header, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
				http.Error(w, `{"error":"invalid authorization format"}`, http.StatusUnauthorized)
				return
			}

			claims, err := jwtMgr.ValidateAccessToken(parts[1])
			if err != nil {
				http.Error(w, `{"error":"invalid or expired token"}`, http.StatusUnauthorized)
				return
			}

			ctx := WithIdentity(r.Context(), claims.UserID, claims.Roles...)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole rejects requests whose identity holds none of the given roles.
// It must run after Middleware.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !HasRole(r.Context(), roles...) {
				http.Error(w, `{"error":"insufficient role"}`, http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// WithIdentity returns a context carrying the given caller.
func WithIdentity(ctx context.Context, userID int64, roles ...string) context.Context {
	return context.WithValue(ctx, identityKey, Identity{UserID: userID, Roles: roles})
}

// UserIDFromContext extracts the authenticated user ID from the request context.
// It returns 0 when the request is unauthenticated.
func UserIDFromContext(ctx context.Context) int64 {
	id, _ := ctx.Value(identityKey).(Identity)
	return id.UserID
}

// RolesFromContext returns the roles of the authenticated caller.
func RolesFromContext(ctx context.Context) []string {
	id, _ := ctx.Value(identityKey).(Identity)
	return id.Roles
}

// HasRole reports whether the caller holds any of the given roles.
func HasRole(ctx context.Context, roles ...string) bool {
	return hasAny(RolesFromContext(ctx), roles)
}
