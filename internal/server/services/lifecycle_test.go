package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paperdesk/paperdesk/internal/common"
	"github.com/paperdesk/paperdesk/internal/server/ratelimit"
)

// TestPasswordResetEndsSessions walks the full account lifecycle: register,
// log in, request a reset twice, confirm with the newest token, and check
// that the old password and every pre-reset session are dead while the new
// password works.
func TestPasswordResetEndsSessions(t *testing.T) {
	ctx := context.Background()
	m := newFakeRepoManager()
	limiter := ratelimit.New(ratelimit.Config{})
	notifier := &fakeNotifier{}

	authSvc := NewAuthService(newMockDB(t), m, limiter, testLogger(), testConfig())
	tokenSvc := newTokenService(t, m)
	resetSvc := newResetService(t, m, notifier)

	_, err := authSvc.Register(ctx, "alice@example.com", "old password")
	require.NoError(t, err)

	accountID, err := authSvc.Authenticate(ctx, "alice@example.com", "old password")
	require.NoError(t, err)

	pair, err := tokenSvc.Issue(ctx, accountID, SessionMeta{})
	require.NoError(t, err)

	require.NoError(t, resetSvc.RequestReset(ctx, "alice@example.com"))
	require.NoError(t, resetSvc.RequestReset(ctx, "alice@example.com"))
	require.Len(t, notifier.sent, 2)

	// The superseded token lost the race before it started.
	err = resetSvc.ConfirmReset(ctx, notifier.sent[0], "new password")
	require.ErrorIs(t, err, common.ErrAlreadyUsed)

	// Watermark granularity is wall-clock; make sure the confirm lands
	// strictly after the session's IssuedAt.
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, resetSvc.ConfirmReset(ctx, notifier.sent[1], "new password"))

	// Pre-reset session is gone.
	_, err = tokenSvc.Verify(ctx, pair.SessionToken)
	assert.ErrorIs(t, err, common.ErrRevoked)

	// And so is its refresh token: rotation must not resurrect the family.
	_, err = tokenSvc.Refresh(ctx, pair.RefreshToken, SessionMeta{})
	assert.ErrorIs(t, err, common.ErrRevoked)

	// Old password no longer authenticates, new one does.
	_, err = authSvc.Authenticate(ctx, "alice@example.com", "old password")
	assert.ErrorIs(t, err, common.ErrInvalidCredentials)

	newAccountID, err := authSvc.Authenticate(ctx, "alice@example.com", "new password")
	require.NoError(t, err)
	assert.Equal(t, accountID, newAccountID)

	// A session issued after the reset is valid.
	fresh, err := tokenSvc.Issue(ctx, newAccountID, SessionMeta{})
	require.NoError(t, err)
	_, err = tokenSvc.Verify(ctx, fresh.SessionToken)
	assert.NoError(t, err)
}
