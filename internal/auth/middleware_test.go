package auth_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bastionauth/bastion/internal/auth"
	"github.com/bastionauth/bastion/internal/models"
)

type stubDirectory struct {
	users map[string]*models.User
}

func (d *stubDirectory) GetByID(_ context.Context, id string) (*models.User, error) {
	if u, ok := d.users[id]; ok {
		return u, nil
	}
	return nil, models.ErrNotFound
}

func identityRequest(userID, sessionID string) *http.Request {
	req := httptest.NewRequest("GET", "/", nil)
	if userID != "" {
		req.Header.Set("X-Auth-User-ID", userID)
	}
	if sessionID != "" {
		req.Header.Set("X-Auth-Session-ID", sessionID)
	}
	return req
}

func TestGatewayIdentity_RejectsMissingHeaders(t *testing.T) {
	handler := auth.GatewayIdentity(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not run without identity headers")
	}))

	tests := []struct {
		name string
		req  *http.Request
	}{
		{"no headers", identityRequest("", "")},
		{"missing session", identityRequest("user-1", "")},
		{"missing user", identityRequest("", "sess-1")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, tt.req)
			if w.Code != http.StatusUnauthorized {
				t.Errorf("expected 401, got %d", w.Code)
			}
		})
	}
}

func TestGatewayIdentity_StoresIdentityInContext(t *testing.T) {
	var seen *auth.Identity
	handler := auth.GatewayIdentity(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = auth.GetIdentity(r)
		w.WriteHeader(http.StatusOK)
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, identityRequest("user-1", "sess-1"))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if seen == nil {
		t.Fatal("identity missing from request context")
	}
	if seen.UserID != "user-1" || seen.SessionID != "sess-1" {
		t.Errorf("identity: got %+v", seen)
	}
}

func TestGetIdentity_NilWithoutMiddleware(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	if id := auth.GetIdentity(req); id != nil {
		t.Errorf("expected nil identity, got %+v", id)
	}
}

func TestRequireRole_AllowsMatchingRole(t *testing.T) {
	directory := &stubDirectory{users: map[string]*models.User{
		"user-1": {ID: "user-1", Role: "admin"},
	}}

	handler := auth.GatewayIdentity(
		auth.RequireRole(directory, "admin")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})),
	)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, identityRequest("user-1", "sess-1"))
	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
}

func TestRequireRole_ForbidsOtherRoles(t *testing.T) {
	directory := &stubDirectory{users: map[string]*models.User{
		"user-1": {ID: "user-1", Role: "employee"},
	}}

	handler := auth.GatewayIdentity(
		auth.RequireRole(directory, "admin", "manager")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Error("handler should not run for a non-privileged role")
		})),
	)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, identityRequest("user-1", "sess-1"))
	if w.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", w.Code)
	}
}

func TestRequireRole_ForbidsUnknownUser(t *testing.T) {
	directory := &stubDirectory{users: map[string]*models.User{}}

	handler := auth.GatewayIdentity(
		auth.RequireRole(directory, "admin")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Error("handler should not run for an unresolvable user")
		})),
	)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, identityRequest("ghost", "sess-1"))
	if w.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", w.Code)
	}
}

func TestRequireRole_UnauthorizedWithoutIdentity(t *testing.T) {
	directory := &stubDirectory{users: map[string]*models.User{}}

	// RequireRole applied without GatewayIdentity in front.
	handler := auth.RequireRole(directory, "admin")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not run without an identity")
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("GET", "/", nil))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}
