package integration

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type loginResponse struct {
	Token                  string `json:"token"`
	RequiresTwoFactor      bool   `json:"requires_two_factor"`
	RequiresPasswordChange bool   `json:"requires_password_change"`
	TempToken              string `json:"temp_token"`
	Method                 string `json:"method"`
	User                   *struct {
		ID    string `json:"id"`
		Email string `json:"email"`
		Role  string `json:"role"`
	} `json:"user"`
}

func newFlowServer(t *testing.T) *TestServer {
	t.Helper()

	ts, err := NewTestServer(testDB.DB)
	require.NoError(t, err)
	t.Cleanup(ts.Close)
	return ts
}

func TestLoginFlow_PasswordOnly(t *testing.T) {
	ctx := freshDB(t)
	ts := newFlowServer(t)

	acct, err := SeedAccount(ctx, testDB.Pool, "flow@example.com", "SecurePass123!")
	require.NoError(t, err)

	resp, err := ts.Request(http.MethodPost, "/auth/login", map[string]string{
		"email":    "flow@example.com",
		"password": "SecurePass123!",
	}, nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var login loginResponse
	require.NoError(t, ParseJSONResponse(resp, &login))
	require.NotEmpty(t, login.Token)
	require.NotNil(t, login.User)
	assert.Equal(t, acct.ID, login.User.ID)
	assert.Equal(t, "user", login.User.Role)

	// The issued token opens the session-management surface.
	resp, err = ts.RequestWithAuth(http.MethodGet, "/sessions", login.Token, nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var sessions []map[string]interface{}
	require.NoError(t, ParseJSONResponse(resp, &sessions))
	require.Len(t, sessions, 1)
	assert.Equal(t, true, sessions[0]["current"])

	// Logout kills the session; the token no longer authenticates.
	resp, err = ts.RequestWithAuth(http.MethodPost, "/auth/logout", login.Token, nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = ts.RequestWithAuth(http.MethodGet, "/sessions", login.Token, nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestLoginFlow_WrongPassword(t *testing.T) {
	ctx := freshDB(t)
	ts := newFlowServer(t)

	_, err := SeedAccount(ctx, testDB.Pool, "wrongpw@example.com", "SecurePass123!")
	require.NoError(t, err)

	resp, err := ts.Request(http.MethodPost, "/auth/login", map[string]string{
		"email":    "wrongpw@example.com",
		"password": "not-the-password",
	}, nil)
	require.NoError(t, err)

	var body map[string]interface{}
	require.NoError(t, ParseJSONResponse(resp, &body))
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "unauthorized", body["error"], "wrong password and unknown account share one body")
}

func TestLoginFlow_AccountLocksAfterRepeatedFailures(t *testing.T) {
	ctx := freshDB(t)

	// Pin the threshold low enough to stay inside the login rate limit.
	require.NoError(t, SeedSetting(ctx, testDB.Pool, "lockoutMaxAttempts", "3"))
	t.Cleanup(func() {
		_ = SeedSetting(ctx, testDB.Pool, "lockoutMaxAttempts", "5")
	})

	ts := newFlowServer(t)

	_, err := SeedAccount(ctx, testDB.Pool, "locked@example.com", "SecurePass123!")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		resp, err := ts.Request(http.MethodPost, "/auth/login", map[string]string{
			"email":    "locked@example.com",
			"password": "not-the-password",
		}, nil)
		require.NoError(t, err)
		resp.Body.Close()
	}

	// The correct password no longer helps during the lock window.
	resp, err := ts.Request(http.MethodPost, "/auth/login", map[string]string{
		"email":    "locked@example.com",
		"password": "SecurePass123!",
	}, nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusLocked, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))

	var body map[string]interface{}
	require.NoError(t, ParseJSONResponse(resp, &body))
	assert.Equal(t, "locked", body["error"])
	assert.Equal(t, "account", body["scope"])
}

func TestLoginFlow_EmailTwoFactor(t *testing.T) {
	ctx := freshDB(t)
	ts := newFlowServer(t)

	_, err := SeedAccount(ctx, testDB.Pool, "email2fa@example.com", "SecurePass123!")
	require.NoError(t, err)

	// First login, before enrollment, goes straight through.
	resp, err := ts.Request(http.MethodPost, "/auth/login", map[string]string{
		"email":    "email2fa@example.com",
		"password": "SecurePass123!",
	}, nil)
	require.NoError(t, err)
	var login loginResponse
	require.NoError(t, ParseJSONResponse(resp, &login))
	require.NotEmpty(t, login.Token)

	// Enroll in EMAIL 2FA: enable dispatches a challenge, verify confirms it.
	resp, err = ts.RequestWithAuth(http.MethodPost, "/auth/2fa/enable", login.Token, map[string]string{
		"method": "EMAIL",
	})
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	challenge := ts.EmailService.LastChallenge()
	require.NotNil(t, challenge)
	assert.Equal(t, "email2fa@example.com", challenge.To)
	assert.Len(t, challenge.Code, 6)

	resp, err = ts.RequestWithAuth(http.MethodPost, "/auth/2fa/verify", login.Token, map[string]string{
		"code": challenge.Code,
	})
	require.NoError(t, err)
	var confirm struct {
		Success     bool     `json:"success"`
		BackupCodes []string `json:"backup_codes"`
	}
	require.NoError(t, ParseJSONResponse(resp, &confirm))
	assert.True(t, confirm.Success)
	assert.Empty(t, confirm.BackupCodes, "backup codes are a TOTP recovery path, not EMAIL")

	// A new login now pauses at the 2FA gate and dispatches a fresh code.
	resp, err = ts.Request(http.MethodPost, "/auth/login", map[string]string{
		"email":    "email2fa@example.com",
		"password": "SecurePass123!",
	}, nil)
	require.NoError(t, err)
	var gated loginResponse
	require.NoError(t, ParseJSONResponse(resp, &gated))
	assert.Empty(t, gated.Token)
	assert.True(t, gated.RequiresTwoFactor)
	assert.Equal(t, "EMAIL", gated.Method)
	require.NotEmpty(t, gated.TempToken)

	challenge = ts.EmailService.LastChallenge()
	require.NotNil(t, challenge)

	resp, err = ts.Request(http.MethodPost, "/auth/2fa/verify-login", map[string]string{
		"temp_token": gated.TempToken,
		"code":       challenge.Code,
	}, nil)
	require.NoError(t, err)
	var completed loginResponse
	require.NoError(t, ParseJSONResponse(resp, &completed))
	require.NotEmpty(t, completed.Token)

	// The pending token is single purpose and now spent with its session.
	resp, err = ts.Request(http.MethodPost, "/auth/2fa/verify-login", map[string]string{
		"temp_token": gated.TempToken,
		"code":       challenge.Code,
	}, nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestLoginFlow_ForcedPasswordChange(t *testing.T) {
	ctx := freshDB(t)
	ts := newFlowServer(t)

	acct, err := SeedAccount(ctx, testDB.Pool, "mustchange@example.com", "SecurePass123!")
	require.NoError(t, err)

	accountRepo, _, _, _, _, _, _ := InitializeRepositories(testDB.DB)
	require.NoError(t, accountRepo.SetMustChangePassword(ctx, acct.ID, true))

	resp, err := ts.Request(http.MethodPost, "/auth/login", map[string]string{
		"email":    "mustchange@example.com",
		"password": "SecurePass123!",
	}, nil)
	require.NoError(t, err)
	var gated loginResponse
	require.NoError(t, ParseJSONResponse(resp, &gated))
	assert.Empty(t, gated.Token)
	assert.True(t, gated.RequiresPasswordChange)
	require.NotEmpty(t, gated.TempToken)

	// A policy-violating replacement is rejected with the violation list.
	resp, err = ts.Request(http.MethodPost, "/auth/change-password-required", map[string]string{
		"temp_token":       gated.TempToken,
		"current_password": "SecurePass123!",
		"new_password":     "weak",
	}, nil)
	require.NoError(t, err)
	var policyBody map[string]interface{}
	require.NoError(t, ParseJSONResponse(resp, &policyBody))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "password_policy", policyBody["error"])

	resp, err = ts.Request(http.MethodPost, "/auth/change-password-required", map[string]string{
		"temp_token":       gated.TempToken,
		"current_password": "SecurePass123!",
		"new_password":     "BrandNewPass456!",
	}, nil)
	require.NoError(t, err)
	var completed loginResponse
	require.NoError(t, ParseJSONResponse(resp, &completed))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotEmpty(t, completed.Token)

	// The new password authenticates and the forced-change flag is gone.
	resp, err = ts.Request(http.MethodPost, "/auth/login", map[string]string{
		"email":    "mustchange@example.com",
		"password": "BrandNewPass456!",
	}, nil)
	require.NoError(t, err)
	var relogin loginResponse
	require.NoError(t, ParseJSONResponse(resp, &relogin))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, relogin.Token)
	assert.False(t, relogin.RequiresPasswordChange)
}
