package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinelsec/authcore/internal/models"
)

func TestLockoutService_RecordFailure_LocksAtThreshold(t *testing.T) {
	attempts := 0
	var lockedUntil *time.Time

	store := &MockLockoutStore{
		IncrementAccountFailureFunc: func(ctx context.Context, accountID, ip string) (*models.AccountLockout, error) {
			attempts++
			return &models.AccountLockout{AccountID: accountID, FailedAttempts: attempts}, nil
		},
		LockAccountFunc: func(ctx context.Context, accountID string, until time.Time) error {
			lockedUntil = &until
			return nil
		},
	}
	audit := &recordingAudit{}
	service := NewLockoutService(store, defaultStubPolicies(), audit, newTestLogger())

	accountID := "acct-1"
	for i := 0; i < 4; i++ {
		require.NoError(t, service.RecordFailure(context.Background(), &accountID, "203.0.113.7"))
		assert.Nil(t, lockedUntil, "no lock before the threshold")
	}

	require.NoError(t, service.RecordFailure(context.Background(), &accountID, "203.0.113.7"))

	require.NotNil(t, lockedUntil, "fifth failure locks the account")
	assert.WithinDuration(t, time.Now().Add(30*time.Minute), *lockedUntil, 2*time.Second)

	events := audit.Events()
	require.Len(t, events, 1)
	assert.Equal(t, models.AuditEventTypeLockout, events[0].EventType)
	assert.Equal(t, accountID, *events[0].TargetID)
}

func TestLockoutService_RecordFailure_UnknownAccountStillCountsIP(t *testing.T) {
	ipIncrements := 0
	accountIncrements := 0

	store := &MockLockoutStore{
		IncrementIPFailureFunc: func(ctx context.Context, ip string) (*models.IPLockout, error) {
			ipIncrements++
			return &models.IPLockout{IP: ip, FailedAttempts: ipIncrements}, nil
		},
		IncrementAccountFailureFunc: func(ctx context.Context, accountID, ip string) (*models.AccountLockout, error) {
			accountIncrements++
			return &models.AccountLockout{AccountID: accountID, FailedAttempts: accountIncrements}, nil
		},
	}
	service := NewLockoutService(store, defaultStubPolicies(), &recordingAudit{}, newTestLogger())

	require.NoError(t, service.RecordFailure(context.Background(), nil, "203.0.113.7"))

	assert.Equal(t, 1, ipIncrements, "probing unknown accounts still accumulates per IP")
	assert.Equal(t, 0, accountIncrements)
}

func TestLockoutService_RecordFailure_Disabled(t *testing.T) {
	store := &MockLockoutStore{
		IncrementIPFailureFunc: func(ctx context.Context, ip string) (*models.IPLockout, error) {
			t.Fatal("no counters should move when lockout is disabled")
			return nil, nil
		},
	}
	policies := defaultStubPolicies()
	policies.lockout.Enabled = false
	service := NewLockoutService(store, policies, &recordingAudit{}, newTestLogger())

	accountID := "acct-1"
	require.NoError(t, service.RecordFailure(context.Background(), &accountID, "203.0.113.7"))
}

func TestLockoutService_SingleAccountNeverLocksSharedIP(t *testing.T) {
	ipLocked := false

	store := &MockLockoutStore{
		IncrementAccountFailureFunc: func(ctx context.Context, accountID, ip string) (*models.AccountLockout, error) {
			return &models.AccountLockout{AccountID: accountID, FailedAttempts: 5}, nil
		},
		CountLockedAccountsByIPFunc: func(ctx context.Context, ip string) (int, error) {
			return 1, nil
		},
		LockIPFunc: func(ctx context.Context, ip string, until time.Time) error {
			ipLocked = true
			return nil
		},
	}
	service := NewLockoutService(store, defaultStubPolicies(), &recordingAudit{}, newTestLogger())

	accountID := "acct-1"
	require.NoError(t, service.RecordFailure(context.Background(), &accountID, "203.0.113.7"))

	assert.False(t, ipLocked, "one locked account is below the IP escalation threshold")
}

func TestLockoutService_IPEscalationAtThreshold(t *testing.T) {
	var ipLockedUntil *time.Time

	store := &MockLockoutStore{
		IncrementAccountFailureFunc: func(ctx context.Context, accountID, ip string) (*models.AccountLockout, error) {
			return &models.AccountLockout{AccountID: accountID, FailedAttempts: 5}, nil
		},
		CountLockedAccountsByIPFunc: func(ctx context.Context, ip string) (int, error) {
			return 3, nil
		},
		LockIPFunc: func(ctx context.Context, ip string, until time.Time) error {
			ipLockedUntil = &until
			return nil
		},
	}
	audit := &recordingAudit{}
	service := NewLockoutService(store, defaultStubPolicies(), audit, newTestLogger())

	accountID := "acct-3"
	require.NoError(t, service.RecordFailure(context.Background(), &accountID, "203.0.113.7"))

	require.NotNil(t, ipLockedUntil, "third locked account escalates to the IP")
	assert.WithinDuration(t, time.Now().Add(30*time.Minute), *ipLockedUntil, 2*time.Second)

	events := audit.Events()
	require.Len(t, events, 2, "account lockout then ip lockout")
	assert.Nil(t, events[1].TargetID, "ip lockouts have no target account")
}

func TestLockoutService_CheckAccountLocked(t *testing.T) {
	until := time.Now().Add(10 * time.Minute)
	store := &MockLockoutStore{
		GetAccountLockoutFunc: func(ctx context.Context, accountID string) (*models.AccountLockout, error) {
			return &models.AccountLockout{AccountID: accountID, FailedAttempts: 5, LockedUntil: &until}, nil
		},
	}
	service := NewLockoutService(store, defaultStubPolicies(), &recordingAudit{}, newTestLogger())

	status, err := service.CheckAccountLocked(context.Background(), "acct-1")
	require.NoError(t, err)

	assert.True(t, status.Locked)
	assert.InDelta(t, (10 * time.Minute).Seconds(), status.RetryAfter.Seconds(), 2)
}

func TestLockoutService_CheckAccountLocked_ExpiredWindow(t *testing.T) {
	until := time.Now().Add(-time.Minute)
	store := &MockLockoutStore{
		GetAccountLockoutFunc: func(ctx context.Context, accountID string) (*models.AccountLockout, error) {
			return &models.AccountLockout{AccountID: accountID, FailedAttempts: 5, LockedUntil: &until}, nil
		},
	}
	service := NewLockoutService(store, defaultStubPolicies(), &recordingAudit{}, newTestLogger())

	status, err := service.CheckAccountLocked(context.Background(), "acct-1")
	require.NoError(t, err)

	assert.False(t, status.Locked, "a lock window in the past is not a lock")
}

func TestLockoutService_CheckAccountLocked_NoRecord(t *testing.T) {
	service := NewLockoutService(&MockLockoutStore{}, defaultStubPolicies(), &recordingAudit{}, newTestLogger())

	status, err := service.CheckAccountLocked(context.Background(), "acct-1")
	require.NoError(t, err)
	assert.False(t, status.Locked)
}

func TestLockoutService_RecordSuccess_ResetsAccountAndIPs(t *testing.T) {
	failedIP := "198.51.100.9"
	resetAccounts := []string{}
	resetIPs := []string{}

	until := time.Now().Add(-time.Minute)
	store := &MockLockoutStore{
		GetAccountLockoutFunc: func(ctx context.Context, accountID string) (*models.AccountLockout, error) {
			return &models.AccountLockout{
				AccountID:      accountID,
				FailedAttempts: 4,
				LastFailedIP:   &failedIP,
				LockedUntil:    &until,
			}, nil
		},
		ResetAccountFunc: func(ctx context.Context, accountID string) error {
			resetAccounts = append(resetAccounts, accountID)
			return nil
		},
		ResetIPFunc: func(ctx context.Context, ip string) error {
			resetIPs = append(resetIPs, ip)
			return nil
		},
	}
	service := NewLockoutService(store, defaultStubPolicies(), &recordingAudit{}, newTestLogger())

	require.NoError(t, service.RecordSuccess(context.Background(), "acct-1", "203.0.113.7"))

	assert.Equal(t, []string{"acct-1"}, resetAccounts)
	assert.Equal(t, []string{failedIP, "203.0.113.7"}, resetIPs,
		"both the last failure source and the current IP are released")
}

func TestLockoutService_RecordSuccess_NoHistory(t *testing.T) {
	resetIPs := []string{}
	store := &MockLockoutStore{
		ResetIPFunc: func(ctx context.Context, ip string) error {
			resetIPs = append(resetIPs, ip)
			return nil
		},
	}
	service := NewLockoutService(store, defaultStubPolicies(), &recordingAudit{}, newTestLogger())

	require.NoError(t, service.RecordSuccess(context.Background(), "acct-1", "203.0.113.7"))

	assert.Equal(t, []string{"203.0.113.7"}, resetIPs)
}

func TestLockoutService_AdminUnlockAccount(t *testing.T) {
	unlocked := false
	store := &MockLockoutStore{
		UnlockAccountFunc: func(ctx context.Context, accountID, unlockedBy string) error {
			unlocked = true
			assert.Equal(t, "admin-1", unlockedBy)
			return nil
		},
	}
	audit := &recordingAudit{}
	service := NewLockoutService(store, defaultStubPolicies(), audit, newTestLogger())

	require.NoError(t, service.AdminUnlockAccount(context.Background(), "acct-1", "admin-1"))

	assert.True(t, unlocked)
	events := audit.Events()
	require.Len(t, events, 1)
	assert.Equal(t, models.AuditEventTypeUnlock, events[0].EventType)
}

func TestLockoutService_AdminUnlockAccount_NotFound(t *testing.T) {
	store := &MockLockoutStore{
		UnlockAccountFunc: func(ctx context.Context, accountID, unlockedBy string) error {
			return models.ErrNotFound
		},
	}
	service := NewLockoutService(store, defaultStubPolicies(), &recordingAudit{}, newTestLogger())

	err := service.AdminUnlockAccount(context.Background(), "acct-missing", "admin-1")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestLockoutService_ClearAll(t *testing.T) {
	store := &MockLockoutStore{
		ClearAllFunc: func(ctx context.Context, unlockedBy string) (int64, error) {
			return 7, nil
		},
	}
	audit := &recordingAudit{}
	service := NewLockoutService(store, defaultStubPolicies(), audit, newTestLogger())

	cleared, err := service.ClearAll(context.Background(), "admin-1")
	require.NoError(t, err)

	assert.Equal(t, int64(7), cleared)
	require.Len(t, audit.Events(), 1)
}
