package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinelsec/authcore/internal/models"
)

func settingsFromMap(values map[string]string) *MockSettingsStore {
	return &MockSettingsStore{
		ListFunc: func(ctx context.Context) ([]*models.Setting, error) {
			out := make([]*models.Setting, 0, len(values))
			for k, v := range values {
				out = append(out, &models.Setting{Key: k, Value: v})
			}
			return out, nil
		},
	}
}

func TestSettingsService_DefaultsWhenUnset(t *testing.T) {
	service := NewSettingsService(settingsFromMap(nil), newTestLogger())
	ctx := context.Background()

	lockout := service.Lockout(ctx)
	assert.True(t, lockout.Enabled)
	assert.Equal(t, 5, lockout.MaxAttempts)
	assert.Equal(t, 30*time.Minute, lockout.Duration)
	assert.Equal(t, 3, lockout.IPLockoutThreshold)

	session := service.Session(ctx)
	assert.Equal(t, 30*time.Minute, session.Timeout)
	assert.Equal(t, 5*time.Minute, session.TimeoutWarning)
	assert.Equal(t, 5, session.MaxConcurrent)
	assert.True(t, session.SuspiciousEnabled)
	assert.True(t, session.AutoLogout)

	password := service.Password(ctx)
	assert.Equal(t, 8, password.MinLength)
	assert.True(t, password.RequireUppercase)
	assert.True(t, password.RequireLowercase)
	assert.True(t, password.RequireNumber)
	assert.False(t, password.RequireSpecial)
	assert.Equal(t, 5, password.HistoryCount)
	assert.Equal(t, 0, password.ExpirationDays, "passwords never expire by default")

	assert.False(t, service.Require2FA(ctx))
}

func TestSettingsService_StoredValuesOverrideDefaults(t *testing.T) {
	service := NewSettingsService(settingsFromMap(map[string]string{
		SettingLockoutMaxAttempts: "10",
		SettingLockoutDuration:    "60",
		SettingSessionTimeout:     "15",
		SettingRequire2FA:         "true",
	}), newTestLogger())
	ctx := context.Background()

	assert.Equal(t, 10, service.Lockout(ctx).MaxAttempts)
	assert.Equal(t, time.Hour, service.Lockout(ctx).Duration, "durations are stored as integer minutes")
	assert.Equal(t, 15*time.Minute, service.Session(ctx).Timeout)
	assert.True(t, service.Require2FA(ctx))
}

func TestSettingsService_UnparsableValueFallsBack(t *testing.T) {
	service := NewSettingsService(settingsFromMap(map[string]string{
		SettingLockoutEnabled:     "definitely",
		SettingLockoutMaxAttempts: "many",
		SettingLockoutDuration:    "-5",
	}), newTestLogger())
	ctx := context.Background()

	lockout := service.Lockout(ctx)
	assert.True(t, lockout.Enabled, "a typo must never disable a security control")
	assert.Equal(t, 5, lockout.MaxAttempts)
	assert.Equal(t, 30*time.Minute, lockout.Duration)
}

func TestSettingsService_CachesBetweenReads(t *testing.T) {
	listCalls := 0
	store := &MockSettingsStore{
		ListFunc: func(ctx context.Context) ([]*models.Setting, error) {
			listCalls++
			return []*models.Setting{{Key: SettingLockoutMaxAttempts, Value: "7"}}, nil
		},
	}
	service := NewSettingsService(store, newTestLogger())
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		assert.Equal(t, 7, service.Lockout(ctx).MaxAttempts)
	}

	assert.Equal(t, 1, listCalls, "reads inside the TTL are served from cache")
}

func TestSettingsService_SetInvalidatesCache(t *testing.T) {
	value := "7"
	listCalls := 0
	store := &MockSettingsStore{
		ListFunc: func(ctx context.Context) ([]*models.Setting, error) {
			listCalls++
			return []*models.Setting{{Key: SettingLockoutMaxAttempts, Value: value}}, nil
		},
		SetFunc: func(ctx context.Context, key, val string) error {
			value = val
			return nil
		},
	}
	service := NewSettingsService(store, newTestLogger())
	ctx := context.Background()

	assert.Equal(t, 7, service.Lockout(ctx).MaxAttempts)

	require.NoError(t, service.Set(ctx, SettingLockoutMaxAttempts, "9"))

	assert.Equal(t, 9, service.Lockout(ctx).MaxAttempts, "a write is visible on the next read")
	assert.Equal(t, 2, listCalls)
}

func TestSettingsService_StaleCacheServedOnStoreFailure(t *testing.T) {
	healthy := true
	store := &MockSettingsStore{
		ListFunc: func(ctx context.Context) ([]*models.Setting, error) {
			if !healthy {
				return nil, errors.New("connection refused")
			}
			return []*models.Setting{{Key: SettingLockoutMaxAttempts, Value: "7"}}, nil
		},
		SetFunc: func(ctx context.Context, key, val string) error { return nil },
	}
	service := NewSettingsService(store, newTestLogger())
	ctx := context.Background()

	assert.Equal(t, 7, service.Lockout(ctx).MaxAttempts)

	// Force a refresh attempt against a failing store.
	require.NoError(t, service.Set(ctx, SettingLockoutMaxAttempts, "9"))
	healthy = false

	assert.Equal(t, 7, service.Lockout(ctx).MaxAttempts,
		"policy reads keep working on the last good snapshot")
}
