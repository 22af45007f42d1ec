package auth_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinelsec/authcore/internal/auth"
	"github.com/sentinelsec/authcore/internal/models"
)

const testPendingSecret = "pending-token-test-secret-0123456789"

func TestPendingToken_GenerateAndValidate(t *testing.T) {
	manager := auth.NewPendingTokenManager(testPendingSecret, 5*time.Minute)

	token, err := manager.Generate("acct-1", "session-1", auth.PendingPurposeTwoFactor)
	require.NoError(t, err)
	assert.NotEmpty(t, token)

	claims, err := manager.Validate(token, auth.PendingPurposeTwoFactor)
	require.NoError(t, err)
	assert.Equal(t, "acct-1", claims.AccountID)
	assert.Equal(t, "session-1", claims.SessionID)
	assert.Equal(t, auth.PendingPurposeTwoFactor, claims.Purpose)
}

func TestPendingToken_WrongPurpose(t *testing.T) {
	manager := auth.NewPendingTokenManager(testPendingSecret, 5*time.Minute)

	// A 2FA hand-off token must not open the forced-change door.
	token, err := manager.Generate("acct-1", "session-1", auth.PendingPurposeTwoFactor)
	require.NoError(t, err)

	_, err = manager.Validate(token, auth.PendingPurposePasswordChange)
	assert.True(t, errors.Is(err, models.ErrUnauthorized))
}

func TestPendingToken_Expired(t *testing.T) {
	manager := auth.NewPendingTokenManager(testPendingSecret, -time.Minute)

	token, err := manager.Generate("acct-1", "session-1", auth.PendingPurposeTwoFactor)
	require.NoError(t, err)

	_, err = manager.Validate(token, auth.PendingPurposeTwoFactor)
	assert.True(t, errors.Is(err, models.ErrUnauthorized))
}

func TestPendingToken_WrongSecret(t *testing.T) {
	manager := auth.NewPendingTokenManager(testPendingSecret, 5*time.Minute)
	other := auth.NewPendingTokenManager("a-different-secret-9876543210", 5*time.Minute)

	token, err := manager.Generate("acct-1", "session-1", auth.PendingPurposeTwoFactor)
	require.NoError(t, err)

	_, err = other.Validate(token, auth.PendingPurposeTwoFactor)
	assert.True(t, errors.Is(err, models.ErrUnauthorized))
}

func TestPendingToken_Tampered(t *testing.T) {
	manager := auth.NewPendingTokenManager(testPendingSecret, 5*time.Minute)

	token, err := manager.Generate("acct-1", "session-1", auth.PendingPurposeTwoFactor)
	require.NoError(t, err)

	parts := strings.Split(token, ".")
	require.Len(t, parts, 3)
	tampered := parts[0] + "." + parts[1] + "x." + parts[2]

	_, err = manager.Validate(tampered, auth.PendingPurposeTwoFactor)
	assert.True(t, errors.Is(err, models.ErrUnauthorized))
}

func TestPendingToken_Garbage(t *testing.T) {
	manager := auth.NewPendingTokenManager(testPendingSecret, 5*time.Minute)

	for _, token := range []string{"", "not-a-jwt", "a.b.c"} {
		_, err := manager.Validate(token, auth.PendingPurposeTwoFactor)
		assert.True(t, errors.Is(err, models.ErrUnauthorized), "token %q", token)
	}
}
