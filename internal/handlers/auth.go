package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/sentinelsec/authcore/internal/auth"
	"github.com/sentinelsec/authcore/internal/models"
	"github.com/sentinelsec/authcore/internal/services"
	pkghttp "github.com/sentinelsec/authcore/pkg/http"
)

// SuspiciousActivityHeader carries the advisory suspicion warning on a
// successful login. Never blocks; surfacing is the client's decision.
const SuspiciousActivityHeader = "X-Suspicious-Activity"

// LoginServiceInterface defines the interface for the login orchestrator
type LoginServiceInterface interface {
	Login(ctx context.Context, in services.LoginInput) (*services.LoginResult, error)
	VerifyTwoFactorLogin(ctx context.Context, pendingToken, code string, in services.LoginInput) (*services.LoginResult, error)
	CompleteForcedPasswordChange(ctx context.Context, pendingToken, currentPassword, newPassword string, in services.LoginInput) (*services.LoginResult, error)
	ChangePassword(ctx context.Context, account *models.Account, currentPassword, newPassword string) error
}

// SessionTerminator is the slice of the session service the auth handler
// needs for logout.
type SessionTerminator interface {
	Terminate(ctx context.Context, sessionID, reason string) error
}

// AccountGetter loads accounts for authenticated password changes.
type AccountGetter interface {
	GetByID(ctx context.Context, id string) (*models.Account, error)
}

// AuthHandler handles login, logout, and password-change HTTP requests
type AuthHandler struct {
	login    LoginServiceInterface
	sessions SessionTerminator
	accounts AccountGetter
	audit    services.AuditRecorder
	ipConfig *pkghttp.IPConfig
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(login LoginServiceInterface, sessions SessionTerminator, accounts AccountGetter, audit services.AuditRecorder, ipConfig *pkghttp.IPConfig) *AuthHandler {
	return &AuthHandler{
		login:    login,
		sessions: sessions,
		accounts: accounts,
		audit:    audit,
		ipConfig: ipConfig,
	}
}

// Request DTOs

// LoginRequest represents the request body for login
type LoginRequest struct {
	Email         string `json:"email" validate:"required,email"`
	Password      string `json:"password" validate:"required"`
	TwoFactorCode string `json:"two_factor_code,omitempty"`
	TempToken     string `json:"temp_token,omitempty"`
}

// VerifyLoginRequest represents the mid-login 2FA verification body
type VerifyLoginRequest struct {
	TempToken string `json:"temp_token" validate:"required"`
	Code      string `json:"code" validate:"required"`
}

// ForcedPasswordChangeRequest represents the forced-rotation body
type ForcedPasswordChangeRequest struct {
	TempToken       string `json:"temp_token" validate:"required"`
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required"`
}

// ChangePasswordRequest represents the authenticated password-change body
type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required"`
}

// Response DTOs

// AccountResponse is the safe subset of an account returned to callers
type AccountResponse struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
	Role  string `json:"role"`
}

// LoginResponse covers every 200-family login outcome
type LoginResponse struct {
	Token                  string           `json:"token,omitempty"`
	User                   *AccountResponse `json:"user,omitempty"`
	RequiresTwoFactor      bool             `json:"requires_two_factor,omitempty"`
	RequiresPasswordChange bool             `json:"requires_password_change,omitempty"`
	TempToken              string           `json:"temp_token,omitempty"`
	Method                 string           `json:"method,omitempty"`
}

func accountResponse(account *models.Account) *AccountResponse {
	return &AccountResponse{
		ID:    account.ID,
		Email: account.Email,
		Name:  account.Name,
		Role:  account.Role,
	}
}

func (h *AuthHandler) loginInput(r *http.Request) services.LoginInput {
	in := services.LoginInput{
		IP: pkghttp.ExtractClientIP(r, h.ipConfig),
	}
	if ua := r.Header.Get("User-Agent"); ua != "" {
		in.UserAgent = &ua
	}
	return in
}

// writeLoginResult maps a terminal login outcome onto the wire contract.
// Invalid credentials and invalid 2FA codes share one generic 401 body.
func writeLoginResult(w http.ResponseWriter, result *services.LoginResult) {
	switch result.Outcome {
	case services.LoginOutcomeSuccess:
		if result.Session != nil && result.Session.Suspicious && result.Session.SuspiciousReason != nil {
			w.Header().Set(SuspiciousActivityHeader, *result.Session.SuspiciousReason)
		}
		writeJSON(w, http.StatusOK, LoginResponse{
			Token: result.SessionToken,
			User:  accountResponse(result.Account),
		})

	case services.LoginOutcomeTwoFactorRequired:
		writeJSON(w, http.StatusOK, LoginResponse{
			RequiresTwoFactor: true,
			TempToken:         result.PendingToken,
			Method:            result.TwoFactorMethod,
		})

	case services.LoginOutcomePasswordChangeRequired:
		writeJSON(w, http.StatusOK, LoginResponse{
			RequiresPasswordChange: true,
			TempToken:              result.PendingToken,
		})

	case services.LoginOutcomeTwoFactorSetupRequired:
		// Correct password, so naming the reason leaks nothing. There is no
		// self-service path from here: enrollment needs a full session, which
		// policy is withholding, so an administrator has to step in.
		pkghttp.WriteError(w, http.StatusForbidden, "two_factor_setup_required",
			"Two-factor authentication must be set up before this account can log in")

	case services.LoginOutcomeLocked:
		pkghttp.WriteLocked(w, result.Locked.Scope, result.Locked.RetryAfterSeconds())

	case services.LoginOutcomeInvalidCredentials, services.LoginOutcomeInvalidTwoFactorCode:
		pkghttp.WriteUnauthorized(w, "Authentication failed")

	default:
		pkghttp.WriteInternalError(w, "Internal server error")
	}
}

// writeLoginError maps hard errors shared by the login-family endpoints.
func writeLoginError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrUnauthorized):
		pkghttp.WriteUnauthorized(w, "Authentication failed")
	case errors.Is(err, models.ErrAccountInactive):
		// Only reachable with a correct password, so no enumeration risk.
		pkghttp.WriteForbidden(w, "Account is inactive")
	case errors.Is(err, models.ErrChallengeDispatch):
		pkghttp.WriteError(w, http.StatusServiceUnavailable, "challenge_dispatch_failed",
			"Could not deliver the verification code. Please try again.")
	default:
		pkghttp.WriteInternalError(w, "Internal server error")
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// Login handles a credential presentation, covering the plain, 2FA-resubmit,
// and forced-change entry paths.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	in := h.loginInput(r)
	in.Email = req.Email
	in.Password = req.Password
	in.TwoFactorCode = req.TwoFactorCode
	in.PendingToken = req.TempToken

	result, err := h.login.Login(r.Context(), in)
	if err != nil {
		writeLoginError(w, err)
		return
	}

	writeLoginResult(w, result)
}

// VerifyTwoFactorLogin finishes a login paused at the 2FA gate.
func (h *AuthHandler) VerifyTwoFactorLogin(w http.ResponseWriter, r *http.Request) {
	var req VerifyLoginRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	result, err := h.login.VerifyTwoFactorLogin(r.Context(), req.TempToken, req.Code, h.loginInput(r))
	if err != nil {
		writeLoginError(w, err)
		return
	}

	writeLoginResult(w, result)
}

// ChangePasswordRequired finishes the forced-rotation hand-off.
func (h *AuthHandler) ChangePasswordRequired(w http.ResponseWriter, r *http.Request) {
	var req ForcedPasswordChangeRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	result, err := h.login.CompleteForcedPasswordChange(r.Context(), req.TempToken, req.CurrentPassword, req.NewPassword, h.loginInput(r))
	if err != nil {
		writePasswordChangeError(w, err)
		return
	}

	writeLoginResult(w, result)
}

// ChangePassword is the self-service path for a fully authenticated session.
func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	session := auth.GetSessionFromContext(r)
	if session == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	var req ChangePasswordRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	account, err := h.accounts.GetByID(r.Context(), session.AccountID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			pkghttp.WriteUnauthorized(w, "Authentication required")
			return
		}
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	if err := h.login.ChangePassword(r.Context(), account, req.CurrentPassword, req.NewPassword); err != nil {
		writePasswordChangeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "Password updated"})
}

func writePasswordChangeError(w http.ResponseWriter, err error) {
	var policyErr *models.PolicyViolationError

	switch {
	case errors.As(err, &policyErr):
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"error":      "password_policy",
			"message":    "Password does not meet policy requirements",
			"violations": policyErr.Violations,
		})
	case errors.Is(err, models.ErrPasswordReused):
		pkghttp.WriteBadRequest(w, "Password was used recently. Choose a different one.")
	default:
		writeLoginError(w, err)
	}
}

// Logout terminates the calling session.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	session := auth.GetSessionFromContext(r)
	if session == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	if err := h.sessions.Terminate(r.Context(), session.ID, models.TerminationReasonLogout); err != nil {
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	ip := pkghttp.ExtractClientIP(r, h.ipConfig)
	h.audit.LogLogout(r.Context(), session.AccountID, &ip)

	writeJSON(w, http.StatusOK, map[string]string{"message": "Logged out"})
}
