package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sentinelsec/authcore/internal/models"
)

// LockoutStore is the persistence interface the lockout tracker needs.
type LockoutStore interface {
	GetAccountLockout(ctx context.Context, accountID string) (*models.AccountLockout, error)
	GetIPLockout(ctx context.Context, ip string) (*models.IPLockout, error)
	IncrementAccountFailure(ctx context.Context, accountID, ip string) (*models.AccountLockout, error)
	IncrementIPFailure(ctx context.Context, ip string) (*models.IPLockout, error)
	LockAccount(ctx context.Context, accountID string, until time.Time) error
	LockIP(ctx context.Context, ip string, until time.Time) error
	ResetAccount(ctx context.Context, accountID string) error
	ResetIP(ctx context.Context, ip string) error
	UnlockAccount(ctx context.Context, accountID, unlockedBy string) error
	UnlockIP(ctx context.Context, ip, unlockedBy string) error
	CountLockedAccountsByIP(ctx context.Context, ip string) (int, error)
	ListLockedAccounts(ctx context.Context) ([]*models.AccountLockout, error)
	ListLockedIPs(ctx context.Context) ([]*models.IPLockout, error)
	ClearAll(ctx context.Context, unlockedBy string) (int64, error)
}

// PolicyProvider reads the live security settings. Implemented by
// SettingsService; a plain struct in tests.
type PolicyProvider interface {
	Lockout(ctx context.Context) LockoutPolicy
	Session(ctx context.Context) SessionPolicy
	Password(ctx context.Context) PasswordRules
	Require2FA(ctx context.Context) bool
}

// LockoutService is the brute-force defense tracker. It keeps two tiers of
// counters: per account and per source IP. An IP is only locked once enough
// distinct accounts are simultaneously locked from it, so a single user
// fat-fingering a password cannot lock out a shared NAT address.
type LockoutService struct {
	repo     LockoutStore
	settings PolicyProvider
	audit    AuditRecorder
	logger   *slog.Logger
}

// NewLockoutService creates a new LockoutService.
func NewLockoutService(repo LockoutStore, settings PolicyProvider, audit AuditRecorder, logger *slog.Logger) *LockoutService {
	return &LockoutService{
		repo:     repo,
		settings: settings,
		audit:    audit,
		logger:   logger,
	}
}

// CheckAccountLocked reports whether the account is inside a lock window.
func (s *LockoutService) CheckAccountLocked(ctx context.Context, accountID string) (models.LockStatus, error) {
	if !s.settings.Lockout(ctx).Enabled {
		return models.LockStatus{}, nil
	}

	lockout, err := s.repo.GetAccountLockout(ctx, accountID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.LockStatus{}, nil
		}
		return models.LockStatus{}, err
	}

	now := time.Now()
	if lockout.IsLocked(now) {
		return models.LockStatus{Locked: true, RetryAfter: lockout.LockedUntil.Sub(now)}, nil
	}

	return models.LockStatus{}, nil
}

// CheckIPLocked reports whether the source IP is inside a lock window.
func (s *LockoutService) CheckIPLocked(ctx context.Context, ip string) (models.LockStatus, error) {
	if !s.settings.Lockout(ctx).Enabled {
		return models.LockStatus{}, nil
	}

	lockout, err := s.repo.GetIPLockout(ctx, ip)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.LockStatus{}, nil
		}
		return models.LockStatus{}, err
	}

	now := time.Now()
	if lockout.IsLocked(now) {
		return models.LockStatus{Locked: true, RetryAfter: lockout.LockedUntil.Sub(now)}, nil
	}

	return models.LockStatus{}, nil
}

// RecordFailure books one failed authentication attempt. The account id is
// nil when the submitted identifier matched no account; the IP-level counter
// is bumped either way, so unknown-account probing still accumulates.
//
// Counter increments are atomic at the storage layer; concurrent failures
// against the same key never lose updates.
func (s *LockoutService) RecordFailure(ctx context.Context, accountID *string, ip string) error {
	policy := s.settings.Lockout(ctx)
	if !policy.Enabled {
		return nil
	}

	if _, err := s.repo.IncrementIPFailure(ctx, ip); err != nil {
		return err
	}

	if accountID == nil {
		return nil
	}

	lockout, err := s.repo.IncrementAccountFailure(ctx, *accountID, ip)
	if err != nil {
		return err
	}

	if lockout.FailedAttempts < policy.MaxAttempts {
		return nil
	}

	// Threshold reached. Re-locking uses the same duration computed from
	// now, so a burst during an existing lock slides the expiry forward.
	until := time.Now().Add(policy.Duration)
	if err := s.repo.LockAccount(ctx, *accountID, until); err != nil {
		return err
	}

	s.logger.WarnContext(ctx, "account locked after repeated failures",
		slog.String("account_id", *accountID),
		slog.Int("failed_attempts", lockout.FailedAttempts),
		slog.Time("locked_until", until),
	)
	s.audit.LogLockout(ctx, accountID, &ip, models.AuditMetadata{
		"scope":           models.LockScopeAccount,
		"failed_attempts": lockout.FailedAttempts,
	})

	return s.maybeEscalateIP(ctx, ip, policy, until)
}

// maybeEscalateIP locks the IP once enough distinct accounts are locked with
// it as their last failure source. Never triggered by one account alone when
// the threshold is above one.
func (s *LockoutService) maybeEscalateIP(ctx context.Context, ip string, policy LockoutPolicy, until time.Time) error {
	lockedCount, err := s.repo.CountLockedAccountsByIP(ctx, ip)
	if err != nil {
		return err
	}

	if lockedCount < policy.IPLockoutThreshold {
		return nil
	}

	if err := s.repo.LockIP(ctx, ip, until); err != nil {
		return err
	}

	s.logger.WarnContext(ctx, "ip locked after multiple account lockouts",
		slog.String("ip", ip),
		slog.Int("locked_accounts", lockedCount),
		slog.Time("locked_until", until),
	)
	s.audit.LogLockout(ctx, nil, &ip, models.AuditMetadata{
		"scope":           models.LockScopeIP,
		"locked_accounts": lockedCount,
	})

	return nil
}

// RecordSuccess clears the account's counter and lock, and releases the IP
// tied to its most recent failure. A legitimate owner authenticating from
// that IP is strong evidence the IP is not hostile.
func (s *LockoutService) RecordSuccess(ctx context.Context, accountID, ip string) error {
	lockout, err := s.repo.GetAccountLockout(ctx, accountID)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		return err
	}

	if lockout != nil {
		if err := s.repo.ResetAccount(ctx, accountID); err != nil {
			return err
		}
		if lockout.LastFailedIP != nil {
			if err := s.repo.ResetIP(ctx, *lockout.LastFailedIP); err != nil {
				return err
			}
		}
	}

	// The current IP is released as well, even when the last failure came
	// from elsewhere.
	if ip != "" && (lockout == nil || lockout.LastFailedIP == nil || *lockout.LastFailedIP != ip) {
		if err := s.repo.ResetIP(ctx, ip); err != nil {
			return err
		}
	}

	return nil
}

// AdminUnlockAccount releases an account lock on behalf of an administrator.
func (s *LockoutService) AdminUnlockAccount(ctx context.Context, accountID, actorID string) error {
	if err := s.repo.UnlockAccount(ctx, accountID, actorID); err != nil {
		return err
	}

	s.audit.LogAdminUnlock(ctx, actorID, &accountID, models.AuditMetadata{
		"scope": models.LockScopeAccount,
	})

	return nil
}

// AdminUnlockIP releases an IP lock on behalf of an administrator.
func (s *LockoutService) AdminUnlockIP(ctx context.Context, ip, actorID string) error {
	if err := s.repo.UnlockIP(ctx, ip, actorID); err != nil {
		return err
	}

	s.audit.LogAdminUnlock(ctx, actorID, nil, models.AuditMetadata{
		"scope": models.LockScopeIP,
		"ip":    ip,
	})

	return nil
}

// ListLocked returns every active account and IP lock for the admin view.
func (s *LockoutService) ListLocked(ctx context.Context) ([]*models.AccountLockout, []*models.IPLockout, error) {
	accounts, err := s.repo.ListLockedAccounts(ctx)
	if err != nil {
		return nil, nil, err
	}

	ips, err := s.repo.ListLockedIPs(ctx)
	if err != nil {
		return nil, nil, err
	}

	return accounts, ips, nil
}

// ClearAll releases every lock and resets every counter.
func (s *LockoutService) ClearAll(ctx context.Context, actorID string) (int64, error) {
	cleared, err := s.repo.ClearAll(ctx, actorID)
	if err != nil {
		return 0, err
	}

	s.audit.LogAdminUnlock(ctx, actorID, nil, models.AuditMetadata{
		"scope":   "all",
		"cleared": cleared,
	})

	return cleared, nil
}
