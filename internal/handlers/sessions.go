package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sentinelsec/authcore/internal/auth"
	"github.com/sentinelsec/authcore/internal/models"
	pkghttp "github.com/sentinelsec/authcore/pkg/http"
)

// SessionServiceInterface defines the interface for session business logic
type SessionServiceInterface interface {
	ListForAccount(ctx context.Context, accountID string) ([]*models.Session, error)
	TerminateForAccount(ctx context.Context, accountID, sessionID, reason string) error
	TerminateAllExcept(ctx context.Context, accountID, keepID, reason string) (int64, error)
	Status(ctx context.Context, session *models.Session) models.SessionStatus
}

// SessionHandler handles self-service session management HTTP requests
type SessionHandler struct {
	sessions SessionServiceInterface
}

// NewSessionHandler creates a new SessionHandler
func NewSessionHandler(sessions SessionServiceInterface) *SessionHandler {
	return &SessionHandler{sessions: sessions}
}

// SessionResponse is one entry in the device list. The token hash never
// leaves the server.
type SessionResponse struct {
	ID               string    `json:"id"`
	DeviceClass      string    `json:"device_class"`
	IP               *string   `json:"ip,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	LastActivity     time.Time `json:"last_activity"`
	ExpiresAt        time.Time `json:"expires_at"`
	Current          bool      `json:"current"`
	Suspicious       bool      `json:"suspicious"`
	SuspiciousReason *string   `json:"suspicious_reason,omitempty"`
}

// List returns the account's live sessions.
func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	session := auth.GetSessionFromContext(r)
	if session == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	sessions, err := h.sessions.ListForAccount(r.Context(), session.AccountID)
	if err != nil {
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	resp := make([]SessionResponse, 0, len(sessions))
	for _, s := range sessions {
		resp = append(resp, SessionResponse{
			ID:               s.ID,
			DeviceClass:      s.DeviceClass,
			IP:               s.IP,
			CreatedAt:        s.CreatedAt,
			LastActivity:     s.LastActivity,
			ExpiresAt:        s.ExpiresAt,
			Current:          s.ID == session.ID,
			Suspicious:       s.Suspicious,
			SuspiciousReason: s.SuspiciousReason,
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

// Terminate closes one of the account's own sessions.
func (h *SessionHandler) Terminate(w http.ResponseWriter, r *http.Request) {
	session := auth.GetSessionFromContext(r)
	if session == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	sessionID := chi.URLParam(r, "id")
	if sessionID == "" {
		pkghttp.WriteBadRequest(w, "Session id is required")
		return
	}

	err := h.sessions.TerminateForAccount(r.Context(), session.AccountID, sessionID, models.TerminationReasonUserRevoked)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrNotFound):
			pkghttp.WriteNotFound(w, "Session not found")
		case errors.Is(err, models.ErrForbidden):
			// Indistinguishable from not-found to avoid confirming other
			// accounts' session ids.
			pkghttp.WriteNotFound(w, "Session not found")
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "Session terminated"})
}

// TerminateOthers closes every session except the calling one.
func (h *SessionHandler) TerminateOthers(w http.ResponseWriter, r *http.Request) {
	session := auth.GetSessionFromContext(r)
	if session == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	count, err := h.sessions.TerminateAllExcept(r.Context(), session.AccountID, session.ID, models.TerminationReasonUserRevoked)
	if err != nil {
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":    "Other sessions terminated",
		"terminated": count,
	})
}

// Current reports the calling session's timeout status so clients can warn
// before hard expiry.
func (h *SessionHandler) Current(w http.ResponseWriter, r *http.Request) {
	session := auth.GetSessionFromContext(r)
	if session == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	writeJSON(w, http.StatusOK, h.sessions.Status(r.Context(), session))
}
