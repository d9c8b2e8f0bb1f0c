package auth

import (
	"context"
	"net/http"

	"github.com/bastionauth/bastion/internal/models"
	pkghttp "github.com/bastionauth/bastion/pkg/http"
)

type contextKey string

const identityContextKey contextKey = "identity"

// Identity is the authenticated caller as established by the fronting
// gateway. Primary authentication happens upstream; this module only trusts
// the forwarded identity headers because the gateway strips them from
// external traffic.
type Identity struct {
	UserID    string
	SessionID string
}

// GatewayIdentity extracts the authenticated identity from the gateway
// headers and stores it in the request context. Requests without an identity
// are rejected.
func GatewayIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get("X-Auth-User-ID")
		sessionID := r.Header.Get("X-Auth-Session-ID")
		if userID == "" || sessionID == "" {
			pkghttp.WriteUnauthorized(w, "Unauthorized")
			return
		}

		identity := &Identity{UserID: userID, SessionID: sessionID}
		ctx := context.WithValue(r.Context(), identityContextKey, identity)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetIdentity returns the identity stored by GatewayIdentity, or nil.
func GetIdentity(r *http.Request) *Identity {
	identity, _ := r.Context().Value(identityContextKey).(*Identity)
	return identity
}

// UserDirectory resolves a user ID to its account record for role checks.
type UserDirectory interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
}

// RequireRole gates a route on the caller's role, resolved from the
// directory rather than a forwarded header.
func RequireRole(directory UserDirectory, roles ...string) func(http.Handler) http.Handler {
	allowed := make(map[string]bool, len(roles))
	for _, role := range roles {
		allowed[role] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity := GetIdentity(r)
			if identity == nil {
				pkghttp.WriteUnauthorized(w, "Unauthorized")
				return
			}

			user, err := directory.GetByID(r.Context(), identity.UserID)
			if err != nil {
				pkghttp.WriteForbidden(w, "Forbidden")
				return
			}
			if !allowed[user.Role] {
				pkghttp.WriteForbidden(w, "Forbidden")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
