package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sentinelsec/authcore/internal/models"
	"github.com/sentinelsec/authcore/internal/repositories"
)

// AuditRecorder is the write side of the audit trail. Security services log
// through this interface so tests can capture events without a database.
type AuditRecorder interface {
	LogLoginAttempt(ctx context.Context, actorID *string, success bool, failureReason *string, ip, userAgent *string, metadata models.AuditMetadata)
	LogLogout(ctx context.Context, actorID string, ip *string)
	LogTwoFactorEvent(ctx context.Context, actorID, action string, success bool, failureReason *string, metadata models.AuditMetadata)
	LogLockout(ctx context.Context, targetID *string, ip *string, metadata models.AuditMetadata)
	LogAdminUnlock(ctx context.Context, actorID string, targetID *string, metadata models.AuditMetadata)
	LogPasswordChange(ctx context.Context, actorID string, success bool, failureReason *string)
	LogSessionEvent(ctx context.Context, actorID, action string, metadata models.AuditMetadata)
}

// AuditService handles audit logging with dual-write pattern (slog + database).
// Persistence failures are logged and swallowed: an audit write must never
// fail the security operation it describes.
type AuditService struct {
	repo   *repositories.AuditLogRepository
	logger *slog.Logger
}

// NewAuditService creates a new AuditService
func NewAuditService(repo *repositories.AuditLogRepository, logger *slog.Logger) *AuditService {
	return &AuditService{
		repo:   repo,
		logger: logger,
	}
}

func (s *AuditService) write(ctx context.Context, log *models.AuditLog) {
	if log.Success {
		s.logger.InfoContext(ctx, "audit event",
			slog.String("event_type", log.EventType),
			slog.Any("actor_id", log.ActorID),
			slog.String("action", log.Action),
			slog.Any("metadata", log.Metadata),
		)
	} else {
		reason := ""
		if log.FailureReason != nil {
			reason = *log.FailureReason
		}
		s.logger.WarnContext(ctx, "audit event failed",
			slog.String("event_type", log.EventType),
			slog.Any("actor_id", log.ActorID),
			slog.String("action", log.Action),
			slog.String("failure_reason", reason),
			slog.Any("metadata", log.Metadata),
		)
	}

	if _, err := s.repo.Create(ctx, log); err != nil {
		s.logger.ErrorContext(ctx, "failed to persist audit log",
			slog.String("event_type", log.EventType),
			slog.Any("error", err),
		)
	}
}

// LogLoginAttempt records one login attempt, successful or not. The actor is
// nil when the submitted identifier matched no account.
func (s *AuditService) LogLoginAttempt(ctx context.Context, actorID *string, success bool, failureReason *string, ip, userAgent *string, metadata models.AuditMetadata) {
	s.write(ctx, &models.AuditLog{
		EventType:     models.AuditEventTypeLogin,
		ActorID:       actorID,
		Action:        models.AuditActionAttempt,
		Success:       success,
		FailureReason: failureReason,
		IPAddress:     ip,
		UserAgent:     userAgent,
		Metadata:      metadata,
	})
}

// LogLogout records a voluntary logout.
func (s *AuditService) LogLogout(ctx context.Context, actorID string, ip *string) {
	s.write(ctx, &models.AuditLog{
		EventType: models.AuditEventTypeLogout,
		ActorID:   &actorID,
		Action:    models.AuditActionAttempt,
		Success:   true,
		IPAddress: ip,
	})
}

// LogTwoFactorEvent records enrollment, verification, and disable events.
func (s *AuditService) LogTwoFactorEvent(ctx context.Context, actorID, action string, success bool, failureReason *string, metadata models.AuditMetadata) {
	s.write(ctx, &models.AuditLog{
		EventType:     models.AuditEventTypeTwoFactor,
		ActorID:       &actorID,
		Action:        action,
		Success:       success,
		FailureReason: failureReason,
		Metadata:      metadata,
	})
}

// LogLockout records a lock being applied. The target is nil for IP-scope
// locks with no single account involved.
func (s *AuditService) LogLockout(ctx context.Context, targetID *string, ip *string, metadata models.AuditMetadata) {
	s.write(ctx, &models.AuditLog{
		EventType: models.AuditEventTypeLockout,
		TargetID:  targetID,
		Action:    models.AuditActionAttempt,
		Success:   true,
		IPAddress: ip,
		Metadata:  metadata,
	})
}

// LogAdminUnlock records an administrator releasing a lock.
func (s *AuditService) LogAdminUnlock(ctx context.Context, actorID string, targetID *string, metadata models.AuditMetadata) {
	s.write(ctx, &models.AuditLog{
		EventType: models.AuditEventTypeUnlock,
		ActorID:   &actorID,
		TargetID:  targetID,
		Action:    models.AuditActionUnlock,
		Success:   true,
		Metadata:  metadata,
	})
}

// LogPasswordChange records a password change attempt.
func (s *AuditService) LogPasswordChange(ctx context.Context, actorID string, success bool, failureReason *string) {
	s.write(ctx, &models.AuditLog{
		EventType:     models.AuditEventTypePasswordChange,
		ActorID:       &actorID,
		Action:        models.AuditActionAttempt,
		Success:       success,
		FailureReason: failureReason,
	})
}

// LogSessionEvent records session lifecycle events (terminations, flags).
func (s *AuditService) LogSessionEvent(ctx context.Context, actorID, action string, metadata models.AuditMetadata) {
	s.write(ctx, &models.AuditLog{
		EventType: models.AuditEventTypeSession,
		ActorID:   &actorID,
		Action:    action,
		Success:   true,
		Metadata:  metadata,
	})
}

// GetAccountAuditTrail retrieves the audit trail for one account.
func (s *AuditService) GetAccountAuditTrail(ctx context.Context, accountID string, limit int, offset int) ([]*models.AuditLog, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	logs, err := s.repo.GetByAccountID(ctx, accountID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to get account audit trail: %w", err)
	}

	return logs, nil
}
