package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinelsec/authcore/internal/models"
)

func strPtr(s string) *string { return &s }

func newSessionService(store *MockSessionStore, policies *stubPolicyProvider) (*SessionService, *recordingAudit) {
	audit := &recordingAudit{}
	return NewSessionService(store, policies, audit, newTestLogger(), 5*time.Minute), audit
}

func TestSessionService_Issue_FullSession(t *testing.T) {
	var created *models.Session
	store := &MockSessionStore{
		CreateFunc: func(ctx context.Context, session *models.Session) (*models.Session, error) {
			session.ID = "session-1"
			created = session
			return session, nil
		},
	}
	service, _ := newSessionService(store, defaultStubPolicies())

	ua := "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 Chrome/120.0 Safari/537.36"
	session, token, err := service.Issue(context.Background(), "acct-1", models.SessionPurposeFull, strPtr("203.0.113.7"), &ua)
	require.NoError(t, err)

	assert.Len(t, token, 43, "256 bits, URL-safe base64 without padding")
	require.NotNil(t, created)
	assert.Equal(t, HashToken(token), created.TokenHash, "only the hash is stored")
	assert.NotEqual(t, token, created.TokenHash)
	assert.WithinDuration(t, time.Now().Add(30*time.Minute), session.ExpiresAt, 2*time.Second)
	assert.Equal(t, "chrome/windows", created.DeviceClass)
	assert.False(t, session.Suspicious)
}

func TestSessionService_Issue_PendingSessionShortTTL(t *testing.T) {
	store := &MockSessionStore{}
	service, _ := newSessionService(store, defaultStubPolicies())

	session, _, err := service.Issue(context.Background(), "acct-1", models.SessionPurposePending2FA, nil, nil)
	require.NoError(t, err)

	assert.WithinDuration(t, time.Now().Add(5*time.Minute), session.ExpiresAt, 2*time.Second,
		"pending sessions live only as long as the hand-off token")
}

func TestSessionService_Issue_SuspiciousIPSpread(t *testing.T) {
	prior := []*models.Session{
		{IP: strPtr("198.51.100.1")},
		{IP: strPtr("198.51.100.2")},
		{IP: strPtr("198.51.100.3")},
		{IP: strPtr("198.51.100.4")},
	}
	store := &MockSessionStore{
		ListRecentForAccountFunc: func(ctx context.Context, accountID string, window time.Duration) ([]*models.Session, error) {
			return prior, nil
		},
	}
	service, audit := newSessionService(store, defaultStubPolicies())

	session, _, err := service.Issue(context.Background(), "acct-1", models.SessionPurposeFull, strPtr("203.0.113.99"), nil)
	require.NoError(t, err)

	assert.True(t, session.Suspicious, "4 distinct prior IPs, none matching the current one")
	require.NotNil(t, session.SuspiciousReason)
	assert.Contains(t, *session.SuspiciousReason, "distinct IP addresses")

	require.Len(t, audit.Events(), 1)
	assert.Equal(t, models.AuditEventTypeSession, audit.Events()[0].EventType)
}

func TestSessionService_Issue_KnownIPNotSuspicious(t *testing.T) {
	prior := []*models.Session{
		{IP: strPtr("198.51.100.1")},
		{IP: strPtr("198.51.100.2")},
		{IP: strPtr("198.51.100.3")},
		{IP: strPtr("203.0.113.7")},
	}
	store := &MockSessionStore{
		ListRecentForAccountFunc: func(ctx context.Context, accountID string, window time.Duration) ([]*models.Session, error) {
			return prior, nil
		},
	}
	service, _ := newSessionService(store, defaultStubPolicies())

	session, _, err := service.Issue(context.Background(), "acct-1", models.SessionPurposeFull, strPtr("203.0.113.7"), nil)
	require.NoError(t, err)

	assert.False(t, session.Suspicious, "the current IP appearing in history clears the trigger")
}

func TestSessionService_Issue_SuspiciousNewDevice(t *testing.T) {
	firefox := "Mozilla/5.0 (Macintosh; Intel Mac OS X 10.15; rv:120.0) Gecko/20100101 Firefox/120.0"
	prior := []*models.Session{
		{UserAgent: strPtr(firefox), DeviceClass: "firefox/macos"},
		{UserAgent: strPtr(firefox), DeviceClass: "firefox/macos"},
		{UserAgent: strPtr(firefox), DeviceClass: "firefox/macos"},
	}
	store := &MockSessionStore{
		ListRecentForAccountFunc: func(ctx context.Context, accountID string, window time.Duration) ([]*models.Session, error) {
			return prior, nil
		},
	}
	service, _ := newSessionService(store, defaultStubPolicies())

	chrome := "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 Chrome/120.0 Safari/537.36"
	session, _, err := service.Issue(context.Background(), "acct-1", models.SessionPurposeFull, nil, &chrome)
	require.NoError(t, err)

	assert.True(t, session.Suspicious, "a fingerprint unseen across 3 prior sessions flags")
}

func TestSessionService_Issue_SuspiciousConcurrencyCeiling(t *testing.T) {
	store := &MockSessionStore{
		CountActiveForAccountFunc: func(ctx context.Context, accountID string) (int, error) {
			return 5, nil
		},
	}
	service, _ := newSessionService(store, defaultStubPolicies())

	session, token, err := service.Issue(context.Background(), "acct-1", models.SessionPurposeFull, nil, nil)
	require.NoError(t, err)

	assert.True(t, session.Suspicious)
	assert.NotEmpty(t, token, "the ceiling flags but never blocks issuance")
}

func TestSessionService_Issue_DetectionDisabled(t *testing.T) {
	store := &MockSessionStore{
		ListRecentForAccountFunc: func(ctx context.Context, accountID string, window time.Duration) ([]*models.Session, error) {
			t.Fatal("no detection queries when the setting is off")
			return nil, nil
		},
	}
	policies := defaultStubPolicies()
	policies.session.SuspiciousEnabled = false
	service, _ := newSessionService(store, policies)

	session, _, err := service.Issue(context.Background(), "acct-1", models.SessionPurposeFull, strPtr("203.0.113.7"), nil)
	require.NoError(t, err)
	assert.False(t, session.Suspicious)
}

func TestSessionService_Validate_LiveSession(t *testing.T) {
	token := "some-raw-token"
	store := &MockSessionStore{
		GetByTokenHashFunc: func(ctx context.Context, tokenHash string) (*models.Session, error) {
			require.Equal(t, HashToken(token), tokenHash)
			return &models.Session{
				ID:        "session-1",
				AccountID: "acct-1",
				ExpiresAt: time.Now().Add(10 * time.Minute),
			}, nil
		},
	}
	service, _ := newSessionService(store, defaultStubPolicies())

	session, err := service.Validate(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "session-1", session.ID)
}

func TestSessionService_Validate_UnknownToken(t *testing.T) {
	service, _ := newSessionService(&MockSessionStore{}, defaultStubPolicies())

	_, err := service.Validate(context.Background(), "never-issued")
	assert.ErrorIs(t, err, models.ErrUnauthorized)
}

func TestSessionService_Validate_ExpiredTerminatesOnSight(t *testing.T) {
	var terminatedReason string
	store := &MockSessionStore{
		GetByTokenHashFunc: func(ctx context.Context, tokenHash string) (*models.Session, error) {
			return &models.Session{
				ID:        "session-1",
				AccountID: "acct-1",
				ExpiresAt: time.Now().Add(-time.Minute),
			}, nil
		},
		TerminateFunc: func(ctx context.Context, id, reason string) error {
			terminatedReason = reason
			return nil
		},
	}
	service, _ := newSessionService(store, defaultStubPolicies())

	_, err := service.Validate(context.Background(), "stale-token")

	assert.ErrorIs(t, err, models.ErrSessionExpired)
	assert.Equal(t, models.TerminationReasonTimeout, terminatedReason,
		"timeout is evaluated on access, not by a background job")
}

func TestSessionService_Validate_ExpiredWithoutAutoLogout(t *testing.T) {
	terminated := false
	store := &MockSessionStore{
		GetByTokenHashFunc: func(ctx context.Context, tokenHash string) (*models.Session, error) {
			return &models.Session{ID: "session-1", ExpiresAt: time.Now().Add(-time.Minute)}, nil
		},
		TerminateFunc: func(ctx context.Context, id, reason string) error {
			terminated = true
			return nil
		},
	}
	policies := defaultStubPolicies()
	policies.session.AutoLogout = false
	service, _ := newSessionService(store, policies)

	_, err := service.Validate(context.Background(), "stale-token")

	assert.ErrorIs(t, err, models.ErrSessionExpired, "an expired session never validates")
	assert.False(t, terminated, "without auto-logout the row is left for the sweeper")
}

func TestSessionService_Validate_Terminated(t *testing.T) {
	now := time.Now()
	store := &MockSessionStore{
		GetByTokenHashFunc: func(ctx context.Context, tokenHash string) (*models.Session, error) {
			return &models.Session{
				ID:           "session-1",
				ExpiresAt:    now.Add(10 * time.Minute),
				TerminatedAt: &now,
			}, nil
		},
	}
	service, _ := newSessionService(store, defaultStubPolicies())

	_, err := service.Validate(context.Background(), "revoked-token")
	assert.ErrorIs(t, err, models.ErrSessionTerminated)
}

func TestSessionService_Touch_ExtendsOnRefresh(t *testing.T) {
	var extendedTTL time.Duration
	store := &MockSessionStore{
		TouchFunc: func(ctx context.Context, id string, throttle time.Duration) (bool, error) {
			assert.Equal(t, TouchThrottle, throttle)
			return true, nil
		},
		ExtendExpiryFunc: func(ctx context.Context, id string, ttl time.Duration) error {
			extendedTTL = ttl
			return nil
		},
	}
	service, _ := newSessionService(store, defaultStubPolicies())

	require.NoError(t, service.Touch(context.Background(), "session-1"))
	assert.Equal(t, 30*time.Minute, extendedTTL, "activity slides the expiry forward by the timeout")
}

func TestSessionService_Touch_ThrottledSkipsExtend(t *testing.T) {
	store := &MockSessionStore{
		TouchFunc: func(ctx context.Context, id string, throttle time.Duration) (bool, error) {
			return false, nil
		},
		ExtendExpiryFunc: func(ctx context.Context, id string, ttl time.Duration) error {
			t.Fatal("a throttled touch must not extend expiry")
			return nil
		},
	}
	service, _ := newSessionService(store, defaultStubPolicies())

	require.NoError(t, service.Touch(context.Background(), "session-1"))
}

func TestSessionService_Status(t *testing.T) {
	service, _ := newSessionService(&MockSessionStore{}, defaultStubPolicies())

	session := &models.Session{ID: "session-1", ExpiresAt: time.Now().Add(3 * time.Minute)}
	status := service.Status(context.Background(), session)

	assert.True(t, status.TimeoutWarning, "inside the 5-minute warning threshold")
	assert.InDelta(t, 180, status.RemainingSeconds, 2)

	session.ExpiresAt = time.Now().Add(20 * time.Minute)
	status = service.Status(context.Background(), session)
	assert.False(t, status.TimeoutWarning)
}

func TestSessionService_TerminateForAccount_OwnershipEnforced(t *testing.T) {
	store := &MockSessionStore{
		GetByIDFunc: func(ctx context.Context, id string) (*models.Session, error) {
			return &models.Session{ID: id, AccountID: "someone-else"}, nil
		},
		TerminateFunc: func(ctx context.Context, id, reason string) error {
			t.Fatal("must not terminate another account's session")
			return nil
		},
	}
	service, _ := newSessionService(store, defaultStubPolicies())

	err := service.TerminateForAccount(context.Background(), "acct-1", "session-9", models.TerminationReasonUserRevoked)
	assert.ErrorIs(t, err, models.ErrForbidden)
}

func TestSessionService_TerminateAllExcept(t *testing.T) {
	store := &MockSessionStore{
		TerminateAllForAccountFunc: func(ctx context.Context, accountID, keepID, reason string) (int64, error) {
			assert.Equal(t, "session-current", keepID)
			return 3, nil
		},
	}
	service, audit := newSessionService(store, defaultStubPolicies())

	count, err := service.TerminateAllExcept(context.Background(), "acct-1", "session-current", models.TerminationReasonUserRevoked)
	require.NoError(t, err)

	assert.Equal(t, int64(3), count)
	require.Len(t, audit.Events(), 1)
}

func TestSessionService_SweepExpired(t *testing.T) {
	store := &MockSessionStore{
		SweepExpiredFunc: func(ctx context.Context) (int64, error) {
			return 4, nil
		},
	}
	service, _ := newSessionService(store, defaultStubPolicies())

	count, err := service.SweepExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(4), count)
}
