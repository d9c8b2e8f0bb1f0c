package auth_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bastionauth/bastion/internal/auth"
)

func TestSessionMarkerIssueAndVerify(t *testing.T) {
	mgr := auth.NewSessionMarkerManager("marker-secret", time.Hour)

	marker, err := mgr.Issue("user-1", "session-1")
	require.NoError(t, err)
	require.NotEmpty(t, marker)

	assert.True(t, mgr.Verify(marker, "user-1", "session-1"))
}

func TestSessionMarkerVerify_WrongSession(t *testing.T) {
	mgr := auth.NewSessionMarkerManager("marker-secret", time.Hour)

	marker, err := mgr.Issue("user-1", "session-1")
	require.NoError(t, err)

	// Session rotation invalidates the marker without server-side state.
	assert.False(t, mgr.Verify(marker, "user-1", "session-2"))
	assert.False(t, mgr.Verify(marker, "user-2", "session-1"))
}

func TestSessionMarkerVerify_WrongSecret(t *testing.T) {
	issuer := auth.NewSessionMarkerManager("marker-secret", time.Hour)
	verifier := auth.NewSessionMarkerManager("other-secret", time.Hour)

	marker, err := issuer.Issue("user-1", "session-1")
	require.NoError(t, err)

	assert.False(t, verifier.Verify(marker, "user-1", "session-1"))
}

func TestSessionMarkerVerify_Expired(t *testing.T) {
	mgr := auth.NewSessionMarkerManager("marker-secret", -time.Minute)

	marker, err := mgr.Issue("user-1", "session-1")
	require.NoError(t, err)

	assert.False(t, mgr.Verify(marker, "user-1", "session-1"))
}

func TestSessionMarkerVerify_Garbage(t *testing.T) {
	mgr := auth.NewSessionMarkerManager("marker-secret", time.Hour)

	assert.False(t, mgr.Verify("not-a-token", "user-1", "session-1"))
	assert.False(t, mgr.Verify("", "user-1", "session-1"))
}
