package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sentinelsec/authcore/internal/auth"
	"github.com/sentinelsec/authcore/internal/models"
	pkghttp "github.com/sentinelsec/authcore/pkg/http"
)

// LockoutAdminInterface defines the administrative lockout operations
type LockoutAdminInterface interface {
	ListLocked(ctx context.Context) ([]*models.AccountLockout, []*models.IPLockout, error)
	AdminUnlockAccount(ctx context.Context, accountID, actorID string) error
	AdminUnlockIP(ctx context.Context, ip, actorID string) error
	ClearAll(ctx context.Context, actorID string) (int64, error)
}

// AdminHandler handles administrative lockout HTTP requests. Routes are
// gated by the admin role middleware.
type AdminHandler struct {
	lockouts LockoutAdminInterface
}

// NewAdminHandler creates a new AdminHandler
func NewAdminHandler(lockouts LockoutAdminInterface) *AdminHandler {
	return &AdminHandler{lockouts: lockouts}
}

// UnlockIPRequest names the IP to release
type UnlockIPRequest struct {
	IP string `json:"ip" validate:"required,ip"`
}

// AccountLockoutResponse is one locked account in the admin view
type AccountLockoutResponse struct {
	AccountID      string     `json:"account_id"`
	FailedAttempts int        `json:"failed_attempts"`
	LastFailedAt   *time.Time `json:"last_failed_at,omitempty"`
	LastFailedIP   *string    `json:"last_failed_ip,omitempty"`
	LockedUntil    *time.Time `json:"locked_until"`
}

// IPLockoutResponse is one locked IP in the admin view
type IPLockoutResponse struct {
	IP             string     `json:"ip"`
	FailedAttempts int        `json:"failed_attempts"`
	LastFailedAt   *time.Time `json:"last_failed_at,omitempty"`
	LockedUntil    *time.Time `json:"locked_until"`
}

// LockoutListResponse is the combined admin lockout view
type LockoutListResponse struct {
	Accounts []AccountLockoutResponse `json:"accounts"`
	IPs      []IPLockoutResponse      `json:"ips"`
}

// ListLockouts returns every active account and IP lock.
func (h *AdminHandler) ListLockouts(w http.ResponseWriter, r *http.Request) {
	accounts, ips, err := h.lockouts.ListLocked(r.Context())
	if err != nil {
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	resp := LockoutListResponse{
		Accounts: make([]AccountLockoutResponse, 0, len(accounts)),
		IPs:      make([]IPLockoutResponse, 0, len(ips)),
	}

	for _, l := range accounts {
		resp.Accounts = append(resp.Accounts, AccountLockoutResponse{
			AccountID:      l.AccountID,
			FailedAttempts: l.FailedAttempts,
			LastFailedAt:   l.LastFailedAt,
			LastFailedIP:   l.LastFailedIP,
			LockedUntil:    l.LockedUntil,
		})
	}
	for _, l := range ips {
		resp.IPs = append(resp.IPs, IPLockoutResponse{
			IP:             l.IP,
			FailedAttempts: l.FailedAttempts,
			LastFailedAt:   l.LastFailedAt,
			LockedUntil:    l.LockedUntil,
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

func adminActorID(r *http.Request) string {
	if session := auth.GetSessionFromContext(r); session != nil {
		return session.AccountID
	}
	return ""
}

// UnlockAccount releases one account lock.
func (h *AdminHandler) UnlockAccount(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "id")
	if accountID == "" {
		pkghttp.WriteBadRequest(w, "Account id is required")
		return
	}

	if err := h.lockouts.AdminUnlockAccount(r.Context(), accountID, adminActorID(r)); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			pkghttp.WriteNotFound(w, "No lockout record for that account")
			return
		}
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "Account unlocked"})
}

// UnlockIP releases one IP lock.
func (h *AdminHandler) UnlockIP(w http.ResponseWriter, r *http.Request) {
	var req UnlockIPRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	if err := h.lockouts.AdminUnlockIP(r.Context(), req.IP, adminActorID(r)); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			pkghttp.WriteNotFound(w, "No lockout record for that IP")
			return
		}
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "IP unlocked"})
}

// ClearLockouts releases every lock and resets every counter.
func (h *AdminHandler) ClearLockouts(w http.ResponseWriter, r *http.Request) {
	cleared, err := h.lockouts.ClearAll(r.Context(), adminActorID(r))
	if err != nil {
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "All lockouts cleared",
		"cleared": cleared,
	})
}
