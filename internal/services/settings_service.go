package services

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/sentinelsec/authcore/internal/models"
)

// Setting keys. Security policy lives in the database, not the environment,
// so operators can tune it without a restart.
const (
	SettingLockoutEnabled            = "lockoutEnabled"
	SettingLockoutMaxAttempts        = "lockoutMaxAttempts"
	SettingLockoutDuration           = "lockoutDuration" // minutes
	SettingLockoutIPThreshold        = "lockoutIpLockoutThreshold"
	SettingRequire2FA                = "require2FA"
	SettingSessionTimeout            = "sessionTimeout"        // minutes
	SettingSessionTimeoutWarning     = "sessionTimeoutWarning" // minutes
	SettingSessionMaxConcurrent      = "sessionMaxConcurrent"
	SettingSessionSuspiciousEnabled  = "sessionSuspiciousActivityEnabled"
	SettingSessionAutoLogout         = "sessionAutoLogoutOnTimeout"
	SettingMinPasswordLength         = "minPasswordLength"
	SettingPasswordRequireUppercase  = "passwordRequireUppercase"
	SettingPasswordRequireLowercase  = "passwordRequireLowercase"
	SettingPasswordRequireNumber     = "passwordRequireNumber"
	SettingPasswordRequireSpecial    = "passwordRequireSpecial"
	SettingPasswordHistoryCount      = "passwordHistoryCount"
	SettingPasswordExpirationDays    = "passwordExpirationDays"
)

// settingsCacheTTL bounds how stale a policy read can be. Short enough that
// an operator change lands within a minute, long enough to keep the settings
// table off the login hot path.
const settingsCacheTTL = 30 * time.Second

// LockoutPolicy is the lockout tracker's configuration snapshot.
type LockoutPolicy struct {
	Enabled            bool
	MaxAttempts        int
	Duration           time.Duration
	IPLockoutThreshold int
}

// SessionPolicy is the session manager's configuration snapshot.
type SessionPolicy struct {
	Timeout           time.Duration
	TimeoutWarning    time.Duration
	MaxConcurrent     int
	SuspiciousEnabled bool
	AutoLogout        bool
}

// PasswordRules is the password policy engine's configuration snapshot.
type PasswordRules struct {
	MinLength        int
	RequireUppercase bool
	RequireLowercase bool
	RequireNumber    bool
	RequireSpecial   bool
	HistoryCount     int
	ExpirationDays   int
}

// SettingsStore is the persistence interface for named settings.
type SettingsStore interface {
	Get(ctx context.Context, key string) (*models.Setting, error)
	List(ctx context.Context) ([]*models.Setting, error)
	Set(ctx context.Context, key, value string) error
}

// SettingsService reads named security settings through a short TTL cache.
// Unset keys fall back to compiled defaults; unparsable values fall back too,
// with a warning, because a typo in a setting must never disable a control.
type SettingsService struct {
	repo   SettingsStore
	logger *slog.Logger

	mu        sync.RWMutex
	cache     map[string]string
	refreshed time.Time
}

// NewSettingsService creates a new SettingsService.
func NewSettingsService(repo SettingsStore, logger *slog.Logger) *SettingsService {
	return &SettingsService{
		repo:   repo,
		logger: logger,
		cache:  make(map[string]string),
	}
}

func (s *SettingsService) snapshot(ctx context.Context) map[string]string {
	s.mu.RLock()
	if time.Since(s.refreshed) < settingsCacheTTL {
		cached := s.cache
		s.mu.RUnlock()
		return cached
	}
	s.mu.RUnlock()

	settings, err := s.repo.List(ctx)
	if err != nil {
		s.logger.WarnContext(ctx, "settings refresh failed, serving stale cache",
			slog.Any("error", err),
		)
		s.mu.RLock()
		defer s.mu.RUnlock()
		return s.cache
	}

	fresh := make(map[string]string, len(settings))
	for _, setting := range settings {
		fresh[setting.Key] = setting.Value
	}

	s.mu.Lock()
	s.cache = fresh
	s.refreshed = time.Now()
	s.mu.Unlock()

	return fresh
}

// Set writes a setting and invalidates the cache.
func (s *SettingsService) Set(ctx context.Context, key, value string) error {
	if err := s.repo.Set(ctx, key, value); err != nil {
		return err
	}

	s.mu.Lock()
	s.refreshed = time.Time{}
	s.mu.Unlock()

	return nil
}

func (s *SettingsService) getBool(ctx context.Context, key string, def bool) bool {
	raw, ok := s.snapshot(ctx)[key]
	if !ok {
		return def
	}
	val, err := strconv.ParseBool(raw)
	if err != nil {
		s.logger.WarnContext(ctx, "unparsable boolean setting, using default",
			slog.String("key", key), slog.String("value", raw),
		)
		return def
	}
	return val
}

func (s *SettingsService) getInt(ctx context.Context, key string, def int) int {
	raw, ok := s.snapshot(ctx)[key]
	if !ok {
		return def
	}
	val, err := strconv.Atoi(raw)
	if err != nil || val < 0 {
		s.logger.WarnContext(ctx, "unparsable integer setting, using default",
			slog.String("key", key), slog.String("value", raw),
		)
		return def
	}
	return val
}

// getMinutes reads an integer-minutes setting as a duration.
func (s *SettingsService) getMinutes(ctx context.Context, key string, def time.Duration) time.Duration {
	raw, ok := s.snapshot(ctx)[key]
	if !ok {
		return def
	}
	val, err := strconv.Atoi(raw)
	if err != nil || val < 0 {
		s.logger.WarnContext(ctx, "unparsable duration setting, using default",
			slog.String("key", key), slog.String("value", raw),
		)
		return def
	}
	return time.Duration(val) * time.Minute
}

// Lockout returns the current lockout policy.
func (s *SettingsService) Lockout(ctx context.Context) LockoutPolicy {
	return LockoutPolicy{
		Enabled:            s.getBool(ctx, SettingLockoutEnabled, true),
		MaxAttempts:        s.getInt(ctx, SettingLockoutMaxAttempts, 5),
		Duration:           s.getMinutes(ctx, SettingLockoutDuration, 30*time.Minute),
		IPLockoutThreshold: s.getInt(ctx, SettingLockoutIPThreshold, 3),
	}
}

// Session returns the current session policy.
func (s *SettingsService) Session(ctx context.Context) SessionPolicy {
	return SessionPolicy{
		Timeout:           s.getMinutes(ctx, SettingSessionTimeout, 30*time.Minute),
		TimeoutWarning:    s.getMinutes(ctx, SettingSessionTimeoutWarning, 5*time.Minute),
		MaxConcurrent:     s.getInt(ctx, SettingSessionMaxConcurrent, 5),
		SuspiciousEnabled: s.getBool(ctx, SettingSessionSuspiciousEnabled, true),
		AutoLogout:        s.getBool(ctx, SettingSessionAutoLogout, true),
	}
}

// Password returns the current password policy rules.
func (s *SettingsService) Password(ctx context.Context) PasswordRules {
	return PasswordRules{
		MinLength:        s.getInt(ctx, SettingMinPasswordLength, 8),
		RequireUppercase: s.getBool(ctx, SettingPasswordRequireUppercase, true),
		RequireLowercase: s.getBool(ctx, SettingPasswordRequireLowercase, true),
		RequireNumber:    s.getBool(ctx, SettingPasswordRequireNumber, true),
		RequireSpecial:   s.getBool(ctx, SettingPasswordRequireSpecial, false),
		HistoryCount:     s.getInt(ctx, SettingPasswordHistoryCount, 5),
		ExpirationDays:   s.getInt(ctx, SettingPasswordExpirationDays, 0),
	}
}

// Require2FA reports whether every account must complete a second factor.
func (s *SettingsService) Require2FA(ctx context.Context) bool {
	return s.getBool(ctx, SettingRequire2FA, false)
}
