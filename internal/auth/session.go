package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// MarkerClaims is the "2FA satisfied" session marker. The marker is bound to
// one session ID; rotating the session invalidates it without any server-side
// state.
type MarkerClaims struct {
	UserID    string `json:"uid"`
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

// SessionMarkerManager issues and validates session verification markers.
type SessionMarkerManager struct {
	secret []byte
	ttl    time.Duration
}

// NewSessionMarkerManager creates a new session marker manager.
func NewSessionMarkerManager(secret string, ttl time.Duration) *SessionMarkerManager {
	return &SessionMarkerManager{
		secret: []byte(secret),
		ttl:    ttl,
	}
}

// Issue creates a marker for the given user and session after a successful
// second-factor verification.
func (m *SessionMarkerManager) Issue(userID, sessionID string) (string, error) {
	now := time.Now()
	claims := &MarkerClaims{
		UserID:    userID,
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign session marker: %w", err)
	}

	return signed, nil
}

// Verify reports whether the marker is valid for the given user and session.
// A marker issued for a different session (logout, privilege change rotation)
// does not verify.
func (m *SessionMarkerManager) Verify(marker, userID, sessionID string) bool {
	claims := &MarkerClaims{}

	token, err := jwt.ParseWithClaims(marker, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil || !token.Valid {
		return false
	}

	return claims.UserID == userID && claims.SessionID == sessionID
}
