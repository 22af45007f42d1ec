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

// TwoFactorServiceInterface defines the interface for 2FA business logic
type TwoFactorServiceInterface interface {
	State(ctx context.Context, accountID string) (*models.TwoFactorState, error)
	Enroll(ctx context.Context, account *models.Account, method string) (*services.EnrollmentResult, error)
	ConfirmEnrollment(ctx context.Context, account *models.Account, code string) ([]string, error)
	Disable(ctx context.Context, account *models.Account, password string) error
	RegenerateBackupCodes(ctx context.Context, account *models.Account, password string) ([]string, error)
}

// TwoFactorHandler handles 2FA enrollment HTTP requests
type TwoFactorHandler struct {
	twoFactor TwoFactorServiceInterface
	accounts  AccountGetter
}

// NewTwoFactorHandler creates a new TwoFactorHandler
func NewTwoFactorHandler(twoFactor TwoFactorServiceInterface, accounts AccountGetter) *TwoFactorHandler {
	return &TwoFactorHandler{
		twoFactor: twoFactor,
		accounts:  accounts,
	}
}

// Request DTOs

// EnableTwoFactorRequest selects the enrollment method
type EnableTwoFactorRequest struct {
	Method string `json:"method" validate:"required,oneof=TOTP EMAIL"`
}

// ConfirmTwoFactorRequest carries the first verification code
type ConfirmTwoFactorRequest struct {
	Code string `json:"code" validate:"required"`
}

// DisableTwoFactorRequest requires password re-authentication
type DisableTwoFactorRequest struct {
	Password string `json:"password" validate:"required"`
}

// RegenerateBackupCodesRequest requires password re-authentication
type RegenerateBackupCodesRequest struct {
	Password string `json:"password" validate:"required"`
}

// Response DTOs

// EnrollmentResponse is the provisioning payload for a started enrollment
type EnrollmentResponse struct {
	Method          string `json:"method"`
	ProvisioningURI string `json:"provisioning_uri,omitempty"`
	QRCode          string `json:"qr_code,omitempty"`
	Message         string `json:"message,omitempty"`
}

// ConfirmResponse acknowledges a confirmed enrollment. Backup codes appear
// exactly once, at first TOTP confirmation.
type ConfirmResponse struct {
	Success     bool     `json:"success"`
	BackupCodes []string `json:"backup_codes,omitempty"`
}

// StatusResponse summarizes an account's 2FA state without secrets
type StatusResponse struct {
	Enabled           bool   `json:"enabled"`
	Method            string `json:"method,omitempty"`
	UnusedBackupCodes int    `json:"unused_backup_codes,omitempty"`
}

func (h *TwoFactorHandler) currentAccount(w http.ResponseWriter, r *http.Request) *models.Account {
	session := auth.GetSessionFromContext(r)
	if session == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return nil
	}

	account, err := h.accounts.GetByID(r.Context(), session.AccountID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			pkghttp.WriteUnauthorized(w, "Authentication required")
			return nil
		}
		pkghttp.WriteInternalError(w, "Internal server error")
		return nil
	}

	return account
}

// Status reports the account's current 2FA state.
func (h *TwoFactorHandler) Status(w http.ResponseWriter, r *http.Request) {
	account := h.currentAccount(w, r)
	if account == nil {
		return
	}

	state, err := h.twoFactor.State(r.Context(), account.ID)
	if err != nil {
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	resp := StatusResponse{}
	if state != nil && state.Active() {
		resp.Enabled = state.Enabled
		resp.Method = state.Method
		for _, entry := range state.BackupCodes {
			if entry.UsedAt == nil {
				resp.UnusedBackupCodes++
			}
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// Enable starts enrollment in a method.
func (h *TwoFactorHandler) Enable(w http.ResponseWriter, r *http.Request) {
	account := h.currentAccount(w, r)
	if account == nil {
		return
	}

	var req EnableTwoFactorRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	result, err := h.twoFactor.Enroll(r.Context(), account, req.Method)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrTwoFactorAlreadyActive):
			pkghttp.WriteConflict(w, "A two-factor method is already enabled. Disable it first.")
		case errors.Is(err, models.ErrChallengeDispatch):
			pkghttp.WriteError(w, http.StatusServiceUnavailable, "challenge_dispatch_failed",
				"Could not deliver the verification code. Please try again.")
		case errors.Is(err, models.ErrBadRequest):
			pkghttp.WriteBadRequest(w, "Unsupported two-factor method")
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	resp := EnrollmentResponse{
		Method:          result.Method,
		ProvisioningURI: result.ProvisioningURI,
		QRCode:          result.QRCodeDataURL,
	}
	if result.Method == models.TwoFactorMethodEmail {
		resp.Message = "A verification code has been sent to your email address."
	}

	writeJSON(w, http.StatusOK, resp)
}

// Verify confirms a started enrollment with its first code.
func (h *TwoFactorHandler) Verify(w http.ResponseWriter, r *http.Request) {
	account := h.currentAccount(w, r)
	if account == nil {
		return
	}

	var req ConfirmTwoFactorRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	backupCodes, err := h.twoFactor.ConfirmEnrollment(r.Context(), account, req.Code)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrTwoFactorInvalidCode):
			pkghttp.WriteUnauthorized(w, "Invalid verification code")
		case errors.Is(err, models.ErrTwoFactorNotEnrolled):
			pkghttp.WriteBadRequest(w, "No enrollment in progress")
		case errors.Is(err, models.ErrConflict):
			pkghttp.WriteConflict(w, "Two-factor authentication is already confirmed")
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	writeJSON(w, http.StatusOK, ConfirmResponse{Success: true, BackupCodes: backupCodes})
}

// Disable turns off 2FA after password re-authentication.
func (h *TwoFactorHandler) Disable(w http.ResponseWriter, r *http.Request) {
	account := h.currentAccount(w, r)
	if account == nil {
		return
	}

	var req DisableTwoFactorRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	if err := h.twoFactor.Disable(r.Context(), account, req.Password); err != nil {
		switch {
		case errors.Is(err, models.ErrUnauthorized):
			pkghttp.WriteUnauthorized(w, "Password is incorrect")
		case errors.Is(err, models.ErrTwoFactorNotEnrolled):
			pkghttp.WriteBadRequest(w, "Two-factor authentication is not enabled")
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "Two-factor authentication disabled"})
}

// RegenerateBackupCodes mints a fresh batch, invalidating the old one.
func (h *TwoFactorHandler) RegenerateBackupCodes(w http.ResponseWriter, r *http.Request) {
	account := h.currentAccount(w, r)
	if account == nil {
		return
	}

	var req RegenerateBackupCodesRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	codes, err := h.twoFactor.RegenerateBackupCodes(r.Context(), account, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrUnauthorized):
			pkghttp.WriteUnauthorized(w, "Password is incorrect")
		case errors.Is(err, models.ErrTwoFactorNotEnrolled):
			pkghttp.WriteBadRequest(w, "TOTP is not enabled on this account")
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	writeJSON(w, http.StatusOK, ConfirmResponse{Success: true, BackupCodes: codes})
}
