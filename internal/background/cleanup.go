package background

import (
	"context"
	"log/slog"
	"time"

	"github.com/sentinelsec/authcore/internal/repositories"
	"github.com/sentinelsec/authcore/internal/services"
)

const (
	// How long terminated session rows are kept for the device list and
	// forensics before deletion.
	terminatedSessionRetention = 30 * 24 * time.Hour

	// Lockout counter rows with no activity for this long are dropped.
	staleLockoutRetention = 7 * 24 * time.Hour

	// Audit rows older than this many days are purged.
	auditRetentionDays = 90
)

// CleanupManager periodically sweeps expired sessions and purges stale
// lockout counters, old terminated sessions, and aged audit rows
type CleanupManager struct {
	sessions    *services.SessionService
	lockoutRepo *repositories.LockoutRepository
	auditRepo   *repositories.AuditLogRepository
	logger      *slog.Logger
	interval    time.Duration
	stopCh      chan struct{}
}

// NewCleanupManager creates a new cleanup manager
func NewCleanupManager(
	sessions *services.SessionService,
	lockoutRepo *repositories.LockoutRepository,
	auditRepo *repositories.AuditLogRepository,
	logger *slog.Logger,
	interval time.Duration,
) *CleanupManager {
	return &CleanupManager{
		sessions:    sessions,
		lockoutRepo: lockoutRepo,
		auditRepo:   auditRepo,
		logger:      logger,
		interval:    interval,
		stopCh:      make(chan struct{}),
	}
}

// Start begins the periodic cleanup task
func (cm *CleanupManager) Start(ctx context.Context) {
	ticker := time.NewTicker(cm.interval)
	defer ticker.Stop()

	// Run immediately on startup
	cm.runCleanup(ctx)

	for {
		select {
		case <-ticker.C:
			cm.runCleanup(ctx)
		case <-cm.stopCh:
			cm.logger.Info("cleanup manager stopped")
			return
		case <-ctx.Done():
			cm.logger.Info("cleanup manager context cancelled")
			return
		}
	}
}

func (cm *CleanupManager) runCleanup(ctx context.Context) {
	cleanupCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	swept, err := cm.sessions.SweepExpired(cleanupCtx)
	if err != nil {
		cm.logger.Error("failed to sweep expired sessions", slog.Any("error", err))
	} else if swept > 0 {
		cm.logger.Info("expired sessions swept", slog.Int64("sessions", swept))
	}

	purged, err := cm.sessions.PurgeTerminated(cleanupCtx, terminatedSessionRetention)
	if err != nil {
		cm.logger.Error("failed to purge terminated sessions", slog.Any("error", err))
	} else if purged > 0 {
		cm.logger.Info("terminated sessions purged", slog.Int64("sessions", purged))
	}

	stale, err := cm.lockoutRepo.DeleteStale(cleanupCtx, staleLockoutRetention)
	if err != nil {
		cm.logger.Error("failed to delete stale lockout counters", slog.Any("error", err))
	} else if stale > 0 {
		cm.logger.Info("stale lockout counters deleted", slog.Int64("rows", stale))
	}

	audits, err := cm.auditRepo.Cleanup(cleanupCtx, auditRetentionDays)
	if err != nil {
		cm.logger.Error("failed to cleanup audit logs", slog.Any("error", err))
	} else if audits > 0 {
		cm.logger.Info("aged audit rows deleted", slog.Int64("rows", audits))
	}
}

// Stop signals the cleanup manager to stop
func (cm *CleanupManager) Stop() {
	close(cm.stopCh)
}
