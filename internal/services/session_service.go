package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sentinelsec/authcore/internal/auth"
	"github.com/sentinelsec/authcore/internal/models"
	pkgauth "github.com/sentinelsec/authcore/pkg/auth"
)

const (
	// TouchThrottle bounds last-activity write amplification: at most one
	// refresh per session per minute of wall clock.
	TouchThrottle = 60 * time.Second

	// suspicionWindow is how far back issuance-time suspicion detection looks.
	suspicionWindow = 24 * time.Hour

	// suspicionDistinctIPs and suspicionDistinctDevices are the trigger
	// thresholds for the IP-spread and device-change heuristics.
	suspicionDistinctIPs     = 3
	suspicionDistinctDevices = 3
)

// SessionStore is the persistence interface for sessions.
type SessionStore interface {
	Create(ctx context.Context, session *models.Session) (*models.Session, error)
	GetByID(ctx context.Context, id string) (*models.Session, error)
	GetByTokenHash(ctx context.Context, tokenHash string) (*models.Session, error)
	Touch(ctx context.Context, id string, throttle time.Duration) (bool, error)
	ExtendExpiry(ctx context.Context, id string, ttl time.Duration) error
	Terminate(ctx context.Context, id, reason string) error
	TerminateAllForAccount(ctx context.Context, accountID, keepID, reason string) (int64, error)
	ListActiveForAccount(ctx context.Context, accountID string) ([]*models.Session, error)
	ListRecentForAccount(ctx context.Context, accountID string, window time.Duration) ([]*models.Session, error)
	CountActiveForAccount(ctx context.Context, accountID string) (int, error)
	SweepExpired(ctx context.Context) (int64, error)
	DeleteTerminated(ctx context.Context, olderThan time.Duration) (int64, error)
}

// SessionService issues, validates, times out, and terminates bearer
// sessions. Tokens are opaque 256-bit values; only their SHA-256 hash is
// stored, so a database leak does not leak usable credentials.
type SessionService struct {
	repo       SessionStore
	settings   PolicyProvider
	audit      AuditRecorder
	logger     *slog.Logger
	pendingTTL time.Duration
}

// NewSessionService creates a new SessionService. pendingTTL is the lifetime
// of pending (mid-login hand-off) sessions.
func NewSessionService(repo SessionStore, settings PolicyProvider, audit AuditRecorder, logger *slog.Logger, pendingTTL time.Duration) *SessionService {
	return &SessionService{
		repo:       repo,
		settings:   settings,
		audit:      audit,
		logger:     logger,
		pendingTTL: pendingTTL,
	}
}

// HashToken derives the storage form of a bearer token.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// Issue creates a session and returns it with the raw bearer token, the only
// time the token is ever available. Suspicion detection runs here, at
// issuance, and never blocks: it only flags.
//
// When the insert itself fails the session and token are still returned
// alongside the error so the caller can decide whether to fail open.
func (s *SessionService) Issue(ctx context.Context, accountID, purpose string, ip, userAgent *string) (*models.Session, string, error) {
	token, err := pkgauth.GenerateSessionToken()
	if err != nil {
		return nil, "", err
	}

	policy := s.settings.Session(ctx)

	ttl := s.pendingTTL
	if purpose == models.SessionPurposeFull {
		ttl = policy.Timeout
	}

	deviceClass := "other/other"
	if userAgent != nil {
		deviceClass = auth.DeviceFingerprint(*userAgent)
	}

	now := time.Now()
	session := &models.Session{
		AccountID:    accountID,
		TokenHash:    HashToken(token),
		Purpose:      purpose,
		DeviceClass:  deviceClass,
		IP:           ip,
		UserAgent:    userAgent,
		CreatedAt:    now,
		LastActivity: now,
		ExpiresAt:    now.Add(ttl),
	}

	if purpose == models.SessionPurposeFull && policy.SuspiciousEnabled {
		if reason := s.detectSuspicion(ctx, accountID, ip, userAgent, policy); reason != "" {
			session.Suspicious = true
			session.SuspiciousReason = &reason
			s.logger.WarnContext(ctx, "suspicious session issued",
				slog.String("account_id", accountID),
				slog.String("reason", reason),
			)
			s.audit.LogSessionEvent(ctx, accountID, models.AuditActionAttempt, models.AuditMetadata{
				"suspicious": true,
				"reason":     reason,
			})
		}
	}

	created, err := s.repo.Create(ctx, session)
	if err != nil {
		return session, token, err
	}

	return created, token, nil
}

// detectSuspicion runs the issuance-time heuristics over the trailing
// 24 hours of sessions. Any failure here degrades to "not suspicious": the
// detector must never block a legitimate login.
func (s *SessionService) detectSuspicion(ctx context.Context, accountID string, ip, userAgent *string, policy SessionPolicy) string {
	recent, err := s.repo.ListRecentForAccount(ctx, accountID, suspicionWindow)
	if err != nil {
		s.logger.ErrorContext(ctx, "suspicion detection query failed",
			slog.String("account_id", accountID),
			slog.Any("error", err),
		)
		return ""
	}

	// Trigger a: many distinct source IPs, none of them the current one.
	if ip != nil {
		distinctIPs := make(map[string]struct{})
		currentSeen := false
		for _, prior := range recent {
			if prior.IP == nil {
				continue
			}
			distinctIPs[*prior.IP] = struct{}{}
			if *prior.IP == *ip {
				currentSeen = true
			}
		}
		if len(distinctIPs) > suspicionDistinctIPs && !currentSeen {
			return fmt.Sprintf("logins from %d distinct IP addresses in 24h, none matching the current one", len(distinctIPs))
		}
	}

	// Trigger b: the current device fingerprint differs from every one of at
	// least 3 prior sessions that recorded a user agent.
	if userAgent != nil {
		current := auth.DeviceFingerprint(*userAgent)
		priorWithUA := 0
		matched := false
		for _, prior := range recent {
			if prior.UserAgent == nil {
				continue
			}
			priorWithUA++
			if prior.DeviceClass == current {
				matched = true
			}
		}
		if priorWithUA >= suspicionDistinctDevices && !matched {
			return fmt.Sprintf("device %s not seen in the last 24h", current)
		}
	}

	// Trigger c: concurrent active sessions past the ceiling.
	if policy.MaxConcurrent > 0 {
		active, err := s.repo.CountActiveForAccount(ctx, accountID)
		if err != nil {
			s.logger.ErrorContext(ctx, "active session count failed",
				slog.String("account_id", accountID),
				slog.Any("error", err),
			)
			return ""
		}
		if active >= policy.MaxConcurrent {
			return fmt.Sprintf("%d concurrent active sessions exceeds the limit of %d", active+1, policy.MaxConcurrent)
		}
	}

	return ""
}

// Validate resolves a bearer token to a live session. Timeout evaluation is
// pull-based: a session found past expiry is terminated on the spot with
// SESSION_TIMEOUT and the caller is treated as unauthenticated.
func (s *SessionService) Validate(ctx context.Context, token string) (*models.Session, error) {
	session, err := s.repo.GetByTokenHash(ctx, HashToken(token))
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrUnauthorized
		}
		return nil, err
	}

	if session.TerminatedAt != nil {
		return nil, models.ErrSessionTerminated
	}

	if !session.ExpiresAt.After(time.Now()) {
		if s.settings.Session(ctx).AutoLogout {
			if err := s.repo.Terminate(ctx, session.ID, models.TerminationReasonTimeout); err != nil {
				s.logger.ErrorContext(ctx, "failed to terminate timed-out session",
					slog.String("session_id", session.ID),
					slog.Any("error", err),
				)
			}
		}
		return nil, models.ErrSessionExpired
	}

	return session, nil
}

// Touch refreshes last-activity and slides the expiry forward. The repo
// throttles the write; a skipped refresh also skips the expiry extension.
func (s *SessionService) Touch(ctx context.Context, sessionID string) error {
	touched, err := s.repo.Touch(ctx, sessionID, TouchThrottle)
	if err != nil || !touched {
		return err
	}

	return s.repo.ExtendExpiry(ctx, sessionID, s.settings.Session(ctx).Timeout)
}

// Status reports the timeout state callers poll to warn before hard expiry.
func (s *SessionService) Status(ctx context.Context, session *models.Session) models.SessionStatus {
	policy := s.settings.Session(ctx)
	remaining := session.Remaining(time.Now())
	if remaining < 0 {
		remaining = 0
	}

	return models.SessionStatus{
		SessionID:        session.ID,
		ExpiresAt:        session.ExpiresAt,
		RemainingSeconds: int(remaining / time.Second),
		WarningThreshold: policy.TimeoutWarning,
		TimeoutWarning:   remaining <= policy.TimeoutWarning,
	}
}

// Terminate closes one session with a reason.
func (s *SessionService) Terminate(ctx context.Context, sessionID, reason string) error {
	session, err := s.repo.GetByID(ctx, sessionID)
	if err != nil {
		return err
	}

	if err := s.repo.Terminate(ctx, sessionID, reason); err != nil {
		return err
	}

	s.audit.LogSessionEvent(ctx, session.AccountID, models.AuditActionTerminate, models.AuditMetadata{
		"session_id": sessionID,
		"reason":     reason,
	})

	return nil
}

// TerminateForAccount closes a session only if it belongs to the account.
// Backs the self-service "log out that device" endpoint.
func (s *SessionService) TerminateForAccount(ctx context.Context, accountID, sessionID, reason string) error {
	session, err := s.repo.GetByID(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.AccountID != accountID {
		return models.ErrForbidden
	}

	if err := s.repo.Terminate(ctx, sessionID, reason); err != nil {
		return err
	}

	s.audit.LogSessionEvent(ctx, accountID, models.AuditActionTerminate, models.AuditMetadata{
		"session_id": sessionID,
		"reason":     reason,
	})

	return nil
}

// TerminateAllExcept closes every live session of the account except keepID.
func (s *SessionService) TerminateAllExcept(ctx context.Context, accountID, keepID, reason string) (int64, error) {
	count, err := s.repo.TerminateAllForAccount(ctx, accountID, keepID, reason)
	if err != nil {
		return 0, err
	}

	if count > 0 {
		s.audit.LogSessionEvent(ctx, accountID, models.AuditActionTerminate, models.AuditMetadata{
			"terminated": count,
			"kept":       keepID,
			"reason":     reason,
		})
	}

	return count, nil
}

// ListForAccount returns the account's live sessions for the self-service
// device list.
func (s *SessionService) ListForAccount(ctx context.Context, accountID string) ([]*models.Session, error) {
	return s.repo.ListActiveForAccount(ctx, accountID)
}

// SweepExpired is the periodic backstop for sessions nobody revisited.
func (s *SessionService) SweepExpired(ctx context.Context) (int64, error) {
	count, err := s.repo.SweepExpired(ctx)
	if err != nil {
		return 0, err
	}

	if count > 0 {
		s.logger.InfoContext(ctx, "swept expired sessions", slog.Int64("count", count))
	}

	return count, nil
}

// PurgeTerminated deletes terminated rows past the retention window.
func (s *SessionService) PurgeTerminated(ctx context.Context, olderThan time.Duration) (int64, error) {
	return s.repo.DeleteTerminated(ctx, olderThan)
}
