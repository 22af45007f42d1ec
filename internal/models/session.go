package models

import "time"

// Session purposes. Pending sessions represent partial authentication
// (awaiting 2FA or a forced password change) and carry a much shorter TTL.
const (
	SessionPurposeFull            = "full"
	SessionPurposePending2FA      = "pending_2fa"
	SessionPurposePendingPassword = "pending_password_change"
)

// Termination reasons
const (
	TerminationReasonLogout       = "LOGOUT"
	TerminationReasonTimeout      = "SESSION_TIMEOUT"
	TerminationReasonSweep        = "EXPIRED_SWEEP"
	TerminationReasonAdmin        = "ADMIN_TERMINATED"
	TerminationReasonUserRevoked  = "USER_REVOKED"
	TerminationReasonPendingUsed  = "PENDING_COMPLETED"
)

// Session is an issued bearer session. The raw token is returned to the
// caller exactly once at issuance; only its SHA-256 hash is stored.
type Session struct {
	ID               string
	AccountID        string
	TokenHash        string
	Purpose          string
	DeviceClass      string // coarse fingerprint: "browser/os", from the user agent
	IP               *string
	UserAgent        *string
	CreatedAt        time.Time
	LastActivity     time.Time
	ExpiresAt        time.Time
	Suspicious       bool
	SuspiciousReason *string
	TerminatedAt     *time.Time
	TerminatedReason *string
}

// IsLive reports the liveness invariant: not terminated and not past expiry.
func (s *Session) IsLive(now time.Time) bool {
	return s.TerminatedAt == nil && s.ExpiresAt.After(now)
}

// Remaining returns the time left before hard expiry (negative if past).
func (s *Session) Remaining(now time.Time) time.Duration {
	return s.ExpiresAt.Sub(now)
}

// SessionStatus is surfaced to callers polling their timeout state.
type SessionStatus struct {
	SessionID        string        `json:"session_id"`
	ExpiresAt        time.Time     `json:"expires_at"`
	RemainingSeconds int           `json:"remaining_seconds"`
	WarningThreshold time.Duration `json:"-"`
	TimeoutWarning   bool          `json:"timeout_warning"`
}
